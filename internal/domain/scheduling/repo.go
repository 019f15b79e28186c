package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AppointmentRepository persists appointments. Writes issued with a context
// from db.Transactor.WithinTx join that transaction.
type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	SetQueueNumber(ctx context.Context, id uuid.UUID, n int) error

	// FindByDateTime returns nil when the slot is free.
	FindByDateTime(ctx context.Context, date time.Time, t TimeOfDay) (*Appointment, error)
	// ListByDate returns the day's appointments ordered by time.
	ListByDate(ctx context.Context, date time.Time) ([]*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Appointment, error)
	ListInRange(ctx context.Context, from, to time.Time, limit, offset int) ([]*Appointment, int, error)

	// LockDate serializes queue changes for one clinic day until the
	// surrounding transaction ends.
	LockDate(ctx context.Context, date time.Time) error
}

func dateLockKey(date time.Time) string {
	return "appointments:" + DateKey(date)
}
