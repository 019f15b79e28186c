package scheduling

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/apperr"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/db"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/notification"
)

// Notifier delivers patient email. Sends happen after commit and failures are
// logged, never returned to the caller.
type Notifier interface {
	Notify(ctx context.Context, req notification.Request) (bool, error)
}

// BookingInput is a request for one slot.
type BookingInput struct {
	PatientID    uuid.UUID
	Date         time.Time
	Time         TimeOfDay
	Type         string
	Notes        *string
	ContactEmail string
}

// UpdateInput carries a reschedule. Nil fields keep their stored value.
type UpdateInput struct {
	Date  *time.Time
	Time  *TimeOfDay
	Type  *string
	Notes *string
}

// Service books and maintains appointments.
type Service struct {
	tx     db.Transactor
	repo   AppointmentRepository
	queue  *QueueManager
	notify Notifier
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a Service. notify may be nil.
func NewService(tx db.Transactor, repo AppointmentRepository, notify Notifier, logger zerolog.Logger) *Service {
	return &Service{
		tx:     tx,
		repo:   repo,
		queue:  NewQueueManager(repo, logger),
		notify: notify,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) Queue() *QueueManager { return s.queue }

// Book creates a PENDING appointment, placing it in the day's queue by time.
func (s *Service) Book(ctx context.Context, in BookingInput) (*Appointment, error) {
	typ, err := ParseType(in.Type)
	if err != nil {
		return nil, err
	}
	if err := ValidateBookable(in.Time); err != nil {
		return nil, err
	}
	a := &Appointment{
		PatientID: in.PatientID,
		Date:      DateOf(in.Date),
		Time:      in.Time,
		Status:    StatusPending,
		Type:      typ,
		Notes:     in.Notes,
	}
	if in.ContactEmail != "" {
		email := in.ContactEmail
		a.ContactEmail = &email
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		pos, err := s.queue.Assign(ctx, a.Date, a.Time)
		if err != nil {
			return err
		}
		a.QueueNumber = pos
		return s.repo.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment", a.ID.String()).Str("date", DateKey(a.Date)).
		Str("time", a.Time.String()).Int("queue_number", a.QueueNumber).Msg("appointment booked")
	if a.ContactEmail != nil {
		s.send(ctx, notification.Request{
			TemplateID: notification.TemplateAppointmentBooked,
			To:         *a.ContactEmail,
			Data:       appointmentData(a),
		})
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

// GetOwn returns the appointment if it belongs to patientID.
func (s *Service) GetOwn(ctx context.Context, patientID, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.PatientID != patientID {
		return nil, ErrNotOwner
	}
	return a, nil
}

// UpdateOwn reschedules or edits a patient's own appointment. Moving it
// renumbers both the old and the new day.
func (s *Service) UpdateOwn(ctx context.Context, patientID, id uuid.UUID, in UpdateInput) (*Appointment, error) {
	var typ *Type
	if in.Type != nil {
		t, err := ParseType(*in.Type)
		if err != nil {
			return nil, err
		}
		typ = &t
	}
	if in.Time != nil {
		if err := ValidateBookable(*in.Time); err != nil {
			return nil, err
		}
	}

	var out *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.GetOwn(ctx, patientID, id)
		if err != nil {
			return err
		}
		if a.Status.Terminal() {
			return apperr.Newf(ErrTerminalState, "appointment is %s and can no longer be changed", a.Status)
		}

		oldDate := a.Date
		newDate := a.Date
		if in.Date != nil {
			newDate = DateOf(*in.Date)
		}
		if err := s.lockDates(ctx, oldDate, newDate); err != nil {
			return err
		}
		// re-read under the day locks
		a, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !a.Date.Equal(oldDate) || a.Status.Terminal() {
			return ErrConcurrentChange
		}

		newTime := a.Time
		if in.Time != nil {
			newTime = *in.Time
		}
		moved := !newDate.Equal(oldDate) || newTime != a.Time
		if moved {
			holder, err := s.repo.FindByDateTime(ctx, newDate, newTime)
			if err != nil {
				return err
			}
			if holder != nil && holder.ID != a.ID {
				return apperr.Newf(ErrSlotTaken, "slot %s %s is already booked", DateKey(newDate), newTime)
			}
		}

		a.Date, a.Time = newDate, newTime
		if typ != nil {
			a.Type = *typ
		}
		if in.Notes != nil {
			a.Notes = in.Notes
		}
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}

		if moved {
			if _, err := s.queue.Renumber(ctx, newDate); err != nil {
				return err
			}
			if !newDate.Equal(oldDate) {
				if _, err := s.queue.Renumber(ctx, oldDate); err != nil {
					return err
				}
			}
		}
		out, err = s.repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lockDates takes the day locks in calendar order.
func (s *Service) lockDates(ctx context.Context, a, b time.Time) error {
	if b.Before(a) {
		a, b = b, a
	}
	if err := s.repo.LockDate(ctx, a); err != nil {
		return err
	}
	if a.Equal(b) {
		return nil
	}
	return s.repo.LockDate(ctx, b)
}

// DeleteOwn removes a patient's own appointment and closes the gap in that
// day's queue.
func (s *Service) DeleteOwn(ctx context.Context, patientID, id uuid.UUID) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.GetOwn(ctx, patientID, id)
		if err != nil {
			return err
		}
		if err := s.repo.LockDate(ctx, a.Date); err != nil {
			return err
		}
		// re-read under the day lock
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !current.Date.Equal(a.Date) {
			return ErrConcurrentChange
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		_, err = s.queue.Renumber(ctx, a.Date)
		return err
	})
}

// UpdateStatus sets an appointment's status. Any known status may be
// written, including reopening a cancelled appointment.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Appointment, error) {
	next, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	var out *Appointment
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == next {
			out = a
			return nil
		}
		a.Status = next
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelDay cancels every open appointment on date and emails the affected
// patients. Cancelled appointments keep their queue numbers.
func (s *Service) CancelDay(ctx context.Context, date time.Time) ([]*Appointment, error) {
	date = DateOf(date)
	var cancelled []*Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockDate(ctx, date); err != nil {
			return err
		}
		day, err := s.repo.ListByDate(ctx, date)
		if err != nil {
			return err
		}
		for _, a := range day {
			if a.Status.Terminal() {
				continue
			}
			a.Status = StatusCancelled
			if err := s.repo.Update(ctx, a); err != nil {
				return err
			}
			cancelled = append(cancelled, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("date", DateKey(date)).Int("cancelled", len(cancelled)).Msg("clinic day cancelled")
	for _, a := range cancelled {
		if a.ContactEmail == nil {
			continue
		}
		s.send(ctx, notification.Request{
			TemplateID: notification.TemplateAppointmentCancelled,
			To:         *a.ContactEmail,
			Data:       appointmentData(a),
			DedupKey:   a.ID.String() + "-CANCELLED",
		})
	}
	return cancelled, nil
}

// RenumberDay is the staff-facing repair for a whole day.
func (s *Service) RenumberDay(ctx context.Context, date time.Time) (int, error) {
	var changed int
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		changed, err = s.queue.Renumber(ctx, DateOf(date))
		return err
	})
	return changed, err
}

// AvailableSlots lists the unbooked slots of date.
func (s *Service) AvailableSlots(ctx context.Context, date time.Time) ([]TimeOfDay, error) {
	day, err := s.repo.ListByDate(ctx, DateOf(date))
	if err != nil {
		return nil, err
	}
	booked := make(map[TimeOfDay]bool, len(day))
	for _, a := range day {
		booked[a.Time] = true
	}
	free := make([]TimeOfDay, 0, len(AllSlots())-len(booked))
	for _, t := range AllSlots() {
		if !booked[t] {
			free = append(free, t)
		}
	}
	return free, nil
}

func (s *Service) ListByDate(ctx context.Context, date time.Time) ([]*Appointment, error) {
	return s.repo.ListByDate(ctx, DateOf(date))
}

// ListInRange pages through appointments between from and to inclusive. A
// nil bound defaults to the current month.
func (s *Service) ListInRange(ctx context.Context, from, to *time.Time, limit, offset int) ([]*Appointment, int, error) {
	start, end := s.monthBounds()
	if from != nil {
		start = DateOf(*from)
	}
	if to != nil {
		end = DateOf(*to)
	}
	if end.Before(start) {
		return nil, 0, apperr.Newf(ErrInvalidDate, "range end %s is before start %s", DateKey(end), DateKey(start))
	}
	return s.repo.ListInRange(ctx, start, end, limit, offset)
}

// ListOwn returns a patient's appointments in range, repairing any stale
// queue numbers first so the patient sees their true position.
func (s *Service) ListOwn(ctx context.Context, patientID uuid.UUID, from, to *time.Time) ([]*Appointment, error) {
	start, end := s.monthBounds()
	if from != nil {
		start = DateOf(*from)
	}
	if to != nil {
		end = DateOf(*to)
	}
	if end.Before(start) {
		return nil, apperr.Newf(ErrInvalidDate, "range end %s is before start %s", DateKey(end), DateKey(start))
	}

	var out []*Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		own, err := s.repo.ListByPatient(ctx, patientID, start, end)
		if err != nil || len(own) == 0 {
			out = own
			return err
		}
		ids := make([]uuid.UUID, len(own))
		for i, a := range own {
			ids[i] = a.ID
		}
		repaired, err := s.queue.VerifyAndRepair(ctx, ids)
		if err != nil {
			return err
		}
		if repaired == 0 {
			out = own
			return nil
		}
		out, err = s.repo.ListByPatient(ctx, patientID, start, end)
		return err
	})
	return out, err
}

func (s *Service) monthBounds() (time.Time, time.Time) {
	now := s.now().UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first, first.AddDate(0, 1, -1)
}

func (s *Service) send(ctx context.Context, req notification.Request) {
	if s.notify == nil {
		return
	}
	if _, err := s.notify.Notify(context.WithoutCancel(ctx), req); err != nil {
		s.logger.Warn().Err(err).Str("template", req.TemplateID).Msg("appointment notification failed")
	}
}

func appointmentData(a *Appointment) map[string]string {
	return map[string]string{
		"date":         DateKey(a.Date),
		"time":         a.Time.String(),
		"type":         string(a.Type),
		"queue_number": strconv.Itoa(a.QueueNumber),
	}
}
