package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/apperr"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/db"
)

const apptCols = `id, patient_id, appt_date, appt_time, queue_number, status, type, notes, contact_email, created_at, updated_at`

const slotConstraint = "appointments_date_time_key"

// AppointmentRepoPG stores appointments in postgres.
type AppointmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewAppointmentRepoPG(pool *pgxpool.Pool) *AppointmentRepoPG {
	return &AppointmentRepoPG{pool: pool}
}

func (r *AppointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func pgTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var tm pgtype.Time
	var status, typ string
	err := row.Scan(&a.ID, &a.PatientID, &a.Date, &tm, &a.QueueNumber, &status, &typ,
		&a.Notes, &a.ContactEmail, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Time = TimeOfDay(tm.Microseconds / int64(time.Minute/time.Microsecond))
	a.Status = Status(status)
	a.Type = Type(typ)
	return &a, nil
}

func collect(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func slotError(err error, a *Appointment) error {
	if db.IsUniqueViolation(err, slotConstraint) {
		return apperr.Newf(ErrSlotTaken, "slot %s %s is already booked", DateKey(a.Date), a.Time)
	}
	return err
}

func (r *AppointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointments (`+apptCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.PatientID, a.Date, pgTime(a.Time), a.QueueNumber, string(a.Status), string(a.Type),
		a.Notes, a.ContactEmail, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", slotError(err, a))
	}
	return nil
}

func (r *AppointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(ErrAppointmentNotFound, "appointment %s not found", id)
	}
	return a, err
}

func (r *AppointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	a.UpdatedAt = time.Now().UTC()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET appt_date = $2, appt_time = $3, queue_number = $4, status = $5,
			type = $6, notes = $7, contact_email = $8, updated_at = $9
		WHERE id = $1`,
		a.ID, a.Date, pgTime(a.Time), a.QueueNumber, string(a.Status), string(a.Type),
		a.Notes, a.ContactEmail, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update appointment: %w", slotError(err, a))
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(ErrAppointmentNotFound, "appointment %s not found", a.ID)
	}
	return nil
}

func (r *AppointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(ErrAppointmentNotFound, "appointment %s not found", id)
	}
	return nil
}

func (r *AppointmentRepoPG) SetQueueNumber(ctx context.Context, id uuid.UUID, n int) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointments SET queue_number = $2, updated_at = NOW() WHERE id = $1`, id, n)
	if err != nil {
		return fmt.Errorf("set queue number: %w", err)
	}
	return nil
}

func (r *AppointmentRepoPG) FindByDateTime(ctx context.Context, date time.Time, t TimeOfDay) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE appt_date = $1 AND appt_time = $2`, date, pgTime(t)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *AppointmentRepoPG) ListByDate(ctx context.Context, date time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE appt_date = $1 ORDER BY appt_time`, date)
	if err != nil {
		return nil, fmt.Errorf("list appointments by date: %w", err)
	}
	return collect(rows)
}

func (r *AppointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE patient_id = $1 AND appt_date BETWEEN $2 AND $3
		ORDER BY appt_date, appt_time`, patientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list patient appointments: %w", err)
	}
	return collect(rows)
}

func (r *AppointmentRepoPG) ListInRange(ctx context.Context, from, to time.Time, limit, offset int) ([]*Appointment, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE appt_date BETWEEN $1 AND $2`, from, to).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE appt_date BETWEEN $1 AND $2
		ORDER BY appt_date, appt_time
		LIMIT $3 OFFSET $4`, from, to, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	out, err := collect(rows)
	return out, total, err
}

func (r *AppointmentRepoPG) LockDate(ctx context.Context, date time.Time) error {
	return db.AdvisoryLock(ctx, dateLockKey(date))
}
