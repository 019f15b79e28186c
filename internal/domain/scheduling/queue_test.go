package scheduling

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/db"
)

func TestQueueManager_RequiresTransaction(t *testing.T) {
	q := NewQueueManager(NewMemAppointmentRepo(), zerolog.Nop())
	_, err := q.Assign(context.Background(), mustDate(t, "2024-03-15"), mustTime(t, "09:00"))
	assert.ErrorIs(t, err, db.ErrNoTx)
}

func TestQueueManager_RenumberOnlyRewritesChanged(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.book(t, uuid.New(), "2024-03-15", "09:00")
	b := e.book(t, uuid.New(), "2024-03-15", "09:30")
	c := e.book(t, uuid.New(), "2024-03-15", "10:00")
	require.NoError(t, e.repo.SetQueueNumber(ctx, b.ID, 5))
	require.NoError(t, e.repo.SetQueueNumber(ctx, c.ID, 9))

	var changed int
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		changed, err = e.svc.Queue().Renumber(ctx, mustDate(t, "2024-03-15"))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, changed)
	assertDense(t, e, "2024-03-15")

	changed, err = e.svc.RenumberDay(ctx, mustDate(t, "2024-03-15"))
	require.NoError(t, err)
	assert.Zero(t, changed)
}

func TestQueueManager_AssignRollsBackWithTransaction(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.book(t, uuid.New(), "2024-03-15", "10:00")
	e.book(t, uuid.New(), "2024-03-15", "11:00")

	boom := errors.New("insert failed")
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		pos, err := e.svc.Queue().Assign(ctx, mustDate(t, "2024-03-15"), mustTime(t, "09:00"))
		require.NoError(t, err)
		assert.Equal(t, 1, pos)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, map[string]int{"10:00": 1, "11:00": 2}, e.queueOf(t, "2024-03-15"))
}

func TestQueueManager_VerifyAndRepair(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	a := e.book(t, uuid.New(), "2024-03-15", "09:00")
	b := e.book(t, uuid.New(), "2024-03-15", "09:30")
	c := e.book(t, uuid.New(), "2024-03-16", "09:00")
	require.NoError(t, e.repo.SetQueueNumber(ctx, a.ID, 2))
	require.NoError(t, e.repo.SetQueueNumber(ctx, b.ID, 1))

	var repaired int
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		repaired, err = e.svc.Queue().VerifyAndRepair(ctx, []uuid.UUID{b.ID, c.ID, uuid.New()})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)
	assert.Equal(t, map[string]int{"09:00": 1, "09:30": 2}, e.queueOf(t, "2024-03-15"))
	assert.Equal(t, map[string]int{"09:00": 1}, e.queueOf(t, "2024-03-16"))
}

func TestQueueManager_RanksAfterMixedOperations(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := uuid.New()
	var mine []*Appointment
	for _, at := range []string{"12:00", "09:00", "14:55", "10:15", "09:05", "13:40"} {
		mine = append(mine, e.book(t, p, "2024-03-15", at))
	}
	require.NoError(t, e.svc.DeleteOwn(ctx, p, mine[3].ID))
	at := mustTime(t, "09:10")
	_, err := e.svc.UpdateOwn(ctx, p, mine[0].ID, UpdateInput{Time: &at})
	require.NoError(t, err)
	e.book(t, p, "2024-03-15", "11:00")

	assert.Equal(t, map[string]int{
		"09:00": 1, "09:05": 2, "09:10": 3, "11:00": 4, "13:40": 5, "14:55": 6,
	}, e.queueOf(t, "2024-03-15"))
}
