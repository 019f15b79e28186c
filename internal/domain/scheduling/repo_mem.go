package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/apperr"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/db"
)

// MemAppointmentRepo keeps appointments in process. It pairs with
// db.MemTransactor: writes register undo steps and LockDate takes a keyed
// lock held until the unit of work ends.
type MemAppointmentRepo struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]Appointment
	now  func() time.Time
}

// NewMemAppointmentRepo creates an empty in-process repository.
func NewMemAppointmentRepo() *MemAppointmentRepo {
	return &MemAppointmentRepo{
		rows: make(map[uuid.UUID]Appointment),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// slotOwner returns the id holding date/t, caller holds mu.
func (r *MemAppointmentRepo) slotOwner(date time.Time, t TimeOfDay) (uuid.UUID, bool) {
	for id, a := range r.rows {
		if a.Date.Equal(date) && a.Time == t {
			return id, true
		}
	}
	return uuid.Nil, false
}

func (r *MemAppointmentRepo) Create(ctx context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.slotOwner(a.Date, a.Time); taken {
		return apperr.Newf(ErrSlotTaken, "slot %s %s is already booked", DateKey(a.Date), a.Time)
	}
	a.ID = uuid.New()
	a.CreatedAt = r.now()
	a.UpdatedAt = a.CreatedAt
	r.rows[a.ID] = *a

	id := a.ID
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.rows, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *MemAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.rows[id]
	if !ok {
		return nil, apperr.Newf(ErrAppointmentNotFound, "appointment %s not found", id)
	}
	return &a, nil
}

func (r *MemAppointmentRepo) Update(ctx context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.rows[a.ID]
	if !ok {
		return apperr.Newf(ErrAppointmentNotFound, "appointment %s not found", a.ID)
	}
	if owner, taken := r.slotOwner(a.Date, a.Time); taken && owner != a.ID {
		return apperr.Newf(ErrSlotTaken, "slot %s %s is already booked", DateKey(a.Date), a.Time)
	}
	a.UpdatedAt = r.now()
	r.rows[a.ID] = *a
	r.undo(ctx, prev)
	return nil
}

func (r *MemAppointmentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.rows[id]
	if !ok {
		return apperr.Newf(ErrAppointmentNotFound, "appointment %s not found", id)
	}
	delete(r.rows, id)
	r.undo(ctx, prev)
	return nil
}

func (r *MemAppointmentRepo) SetQueueNumber(ctx context.Context, id uuid.UUID, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.rows[id]
	if !ok {
		return apperr.Newf(ErrAppointmentNotFound, "appointment %s not found", id)
	}
	next := prev
	next.QueueNumber = n
	next.UpdatedAt = r.now()
	r.rows[id] = next
	r.undo(ctx, prev)
	return nil
}

// undo restores prev if the unit of work in ctx rolls back.
func (r *MemAppointmentRepo) undo(ctx context.Context, prev Appointment) {
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		r.rows[prev.ID] = prev
		r.mu.Unlock()
	})
}

func (r *MemAppointmentRepo) FindByDateTime(_ context.Context, date time.Time, t TimeOfDay) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.slotOwner(date, t)
	if !ok {
		return nil, nil
	}
	a := r.rows[id]
	return &a, nil
}

func (r *MemAppointmentRepo) filter(keep func(Appointment) bool) []*Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Appointment
	for _, a := range r.rows {
		if keep(a) {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Time < out[j].Time
	})
	return out
}

func inRange(d, from, to time.Time) bool {
	return !d.Before(from) && !d.After(to)
}

func (r *MemAppointmentRepo) ListByDate(_ context.Context, date time.Time) ([]*Appointment, error) {
	return r.filter(func(a Appointment) bool { return a.Date.Equal(date) }), nil
}

func (r *MemAppointmentRepo) ListByPatient(_ context.Context, patientID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	return r.filter(func(a Appointment) bool {
		return a.PatientID == patientID && inRange(a.Date, from, to)
	}), nil
}

func (r *MemAppointmentRepo) ListInRange(_ context.Context, from, to time.Time, limit, offset int) ([]*Appointment, int, error) {
	all := r.filter(func(a Appointment) bool { return inRange(a.Date, from, to) })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *MemAppointmentRepo) LockDate(ctx context.Context, date time.Time) error {
	return db.LockKey(ctx, dateLockKey(date))
}
