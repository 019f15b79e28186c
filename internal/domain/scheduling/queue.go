package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/apperr"
)

// QueueManager keeps each day's queue numbers equal to the appointments' rank
// by time. Every method locks the dates it touches and must run inside a
// db.Transactor unit of work.
type QueueManager struct {
	repo   AppointmentRepository
	logger zerolog.Logger
}

// NewQueueManager creates a QueueManager over repo.
func NewQueueManager(repo AppointmentRepository, logger zerolog.Logger) *QueueManager {
	return &QueueManager{repo: repo, logger: logger}
}

// Assign returns the queue position a new appointment at t on date will take
// and moves every later appointment of the day back by one. The caller
// inserts the new appointment in the same unit of work.
func (q *QueueManager) Assign(ctx context.Context, date time.Time, t TimeOfDay) (int, error) {
	if err := ValidateBookable(t); err != nil {
		return 0, err
	}
	if err := q.repo.LockDate(ctx, date); err != nil {
		return 0, err
	}
	day, err := q.repo.ListByDate(ctx, date)
	if err != nil {
		return 0, err
	}

	pos := 1
	for _, a := range day {
		if a.Time == t {
			return 0, apperr.Newf(ErrSlotTaken, "slot %s %s is already booked", DateKey(date), t)
		}
		if a.Time < t {
			pos++
		}
	}

	// latest first so a shifted number never lands on one still in use
	for i := len(day) - 1; i >= 0; i-- {
		a := day[i]
		if a.Time < t {
			break
		}
		if err := q.repo.SetQueueNumber(ctx, a.ID, a.QueueNumber+1); err != nil {
			return 0, fmt.Errorf("shift queue number of %s: %w", a.ID, err)
		}
	}
	return pos, nil
}

// Renumber rewrites the day's queue numbers to 1..N in time order and returns
// how many records changed.
func (q *QueueManager) Renumber(ctx context.Context, date time.Time) (int, error) {
	if err := q.repo.LockDate(ctx, date); err != nil {
		return 0, err
	}
	day, err := q.repo.ListByDate(ctx, date)
	if err != nil {
		return 0, err
	}

	changed := 0
	for i, a := range day {
		if a.QueueNumber == i+1 {
			continue
		}
		if err := q.repo.SetQueueNumber(ctx, a.ID, i+1); err != nil {
			return changed, fmt.Errorf("renumber %s: %w", a.ID, err)
		}
		changed++
	}
	if changed > 0 {
		q.logger.Info().Str("date", DateKey(date)).Int("changed", changed).Msg("queue renumbered")
	}
	return changed, nil
}

// VerifyAndRepair recomputes the rank of each listed appointment within its
// day. A day holding a stale number is renumbered as a whole so the day stays
// free of duplicates. Unknown ids are skipped. The result counts rewritten
// records.
func (q *QueueManager) VerifyAndRepair(ctx context.Context, ids []uuid.UUID) (int, error) {
	dates := make(map[string]time.Time)
	wanted := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		a, err := q.repo.GetByID(ctx, id)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				continue
			}
			return 0, err
		}
		dates[DateKey(a.Date)] = a.Date
		wanted[id] = true
	}

	keys := make([]string, 0, len(dates))
	for k := range dates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	repaired := 0
	for _, k := range keys {
		date := dates[k]
		if err := q.repo.LockDate(ctx, date); err != nil {
			return repaired, err
		}
		day, err := q.repo.ListByDate(ctx, date)
		if err != nil {
			return repaired, err
		}
		stale := false
		for i, a := range day {
			if wanted[a.ID] && a.QueueNumber != i+1 {
				q.logger.Warn().Str("appointment", a.ID.String()).Int("stored", a.QueueNumber).
					Int("expected", i+1).Msg("stale queue number")
				stale = true
			}
		}
		if !stale {
			continue
		}
		n, err := q.Renumber(ctx, date)
		repaired += n
		if err != nil {
			return repaired, err
		}
	}
	return repaired, nil
}
