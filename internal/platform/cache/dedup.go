package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Deduper suppresses repeats of the same event key within a window.
type Deduper struct {
	store  Store
	window time.Duration
	now    func() time.Time
}

type dedupRecord struct {
	SentAt time.Time `json:"sent_at"`
}

// NewDeduper creates a Deduper that suppresses repeats of a key for window.
func NewDeduper(store Store, window time.Duration) *Deduper {
	return &Deduper{store: store, window: window, now: time.Now}
}

// Claim reserves key for the window. It returns false when key was already
// claimed and has not expired.
func (d *Deduper) Claim(ctx context.Context, key string) (bool, error) {
	payload, err := json.Marshal(dedupRecord{SentAt: d.now().UTC()})
	if err != nil {
		return false, fmt.Errorf("marshal dedup record: %w", err)
	}
	return d.store.SetNX(ctx, key, payload, d.window)
}

// Release drops a claim so the next Claim succeeds. Used when delivery fails
// after a successful Claim.
func (d *Deduper) Release(ctx context.Context, key string) error {
	return d.store.Delete(ctx, key)
}

// LastSent returns when key was last claimed inside the window.
func (d *Deduper) LastSent(ctx context.Context, key string) (time.Time, bool, error) {
	raw, ok, err := d.store.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	var rec dedupRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return time.Time{}, false, fmt.Errorf("unmarshal dedup record: %w", err)
	}
	return rec.SentAt, true, nil
}
