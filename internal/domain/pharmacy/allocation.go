package pharmacy

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/apperr"
)

// LineInput is a prescription line as written by the prescriber.
type LineInput struct {
	InventoryItemID    uuid.UUID
	Quantity           int
	DosageInstructions string
	DaysSupply         int
}

// Bounds on a single line. With at most four doses a day the largest total
// is well inside a 32-bit column.
const (
	MaxQuantityPerDose = 10000
	MaxDaysSupply      = 365
)

// Validate checks a line before any stock moves.
func (l LineInput) Validate() error {
	if l.InventoryItemID == uuid.Nil {
		return apperr.Newf(ErrInvalidLine, "inventory_item_id is required")
	}
	if l.Quantity < 1 || l.Quantity > MaxQuantityPerDose {
		return apperr.Newf(ErrInvalidLine, "quantity per dose must be between 1 and %d, got %d", MaxQuantityPerDose, l.Quantity)
	}
	if l.DaysSupply < 1 || l.DaysSupply > MaxDaysSupply {
		return apperr.Newf(ErrInvalidLine, "days supply must be between 1 and %d, got %d", MaxDaysSupply, l.DaysSupply)
	}
	return nil
}

// Total is the number of units the line draws from its batch.
func (l LineInput) Total() int {
	return ComputeTotalQuantity(l.Quantity, l.DosageInstructions, l.DaysSupply)
}

// Engine moves stock between batches and prescription lines. Every method
// must run inside a db.Transactor unit of work; batches are write-locked for
// the rest of it.
type Engine struct {
	inv    InventoryRepository
	rx     PrescriptionRepository
	logger zerolog.Logger
	now    func() time.Time
}

// NewEngine creates an Engine over the inventory and prescription stores.
func NewEngine(inv InventoryRepository, rx PrescriptionRepository, logger zerolog.Logger) *Engine {
	return &Engine{inv: inv, rx: rx, logger: logger, now: time.Now}
}

// LockBatches write-locks the given batches in id order. Taking every lock an
// operation needs up front, in one order, keeps concurrent prescriptions from
// deadlocking on each other.
func (e *Engine) LockBatches(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*InventoryItem, error) {
	uniq := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	sort.Slice(uniq, func(i, j int) bool { return bytes.Compare(uniq[i][:], uniq[j][:]) < 0 })

	out := make(map[uuid.UUID]*InventoryItem, len(uniq))
	for _, id := range uniq {
		item, err := e.inv.GetForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = item
	}
	return out, nil
}

func insufficient(batch *InventoryItem, requested int) error {
	return apperr.Newf(ErrInsufficientStock,
		"insufficient stock for %s: available %d, requested %d",
		batch.MedicineName, batch.RemainingQuantity, requested)
}

// debit takes n units from the batch or fails leaving it untouched.
func (e *Engine) debit(ctx context.Context, batchID uuid.UUID, n int) error {
	if n < 0 {
		return apperr.Newf(ErrInvalidLine, "cannot debit %d units", n)
	}
	batch, err := e.inv.GetForUpdate(ctx, batchID)
	if err != nil {
		return err
	}
	if n > batch.RemainingQuantity {
		return insufficient(batch, n)
	}
	if err := e.inv.SetRemaining(ctx, batch.ID, batch.RemainingQuantity-n); err != nil {
		return err
	}
	e.logger.Debug().Str("batch", batch.ID.String()).Str("medicine", batch.MedicineName).
		Int("units", n).Int("remaining", batch.RemainingQuantity-n).Msg("stock debited")
	return nil
}

// credit returns n units to the batch. The result is not capped at the batch
// size; a credit that overshoots it is logged.
func (e *Engine) credit(ctx context.Context, batchID uuid.UUID, n int) error {
	batch, err := e.inv.GetForUpdate(ctx, batchID)
	if err != nil {
		return err
	}
	remaining := batch.RemainingQuantity + n
	if err := e.inv.SetRemaining(ctx, batch.ID, remaining); err != nil {
		return err
	}
	ev := e.logger.Debug()
	if remaining > batch.Quantity {
		ev = e.logger.Warn()
	}
	ev.Str("batch", batch.ID.String()).Str("medicine", batch.MedicineName).
		Int("units", n).Int("remaining", remaining).Int("quantity", batch.Quantity).Msg("stock credited")
	return nil
}

// Allocate creates a line on prescriptionID and debits its total from the
// batch. The whole prescription fails with it when called inside the
// prescription's unit of work.
func (e *Engine) Allocate(ctx context.Context, prescriptionID uuid.UUID, line LineInput) (*PrescriptionItem, error) {
	if err := line.Validate(); err != nil {
		return nil, err
	}
	batch, err := e.inv.GetForUpdate(ctx, line.InventoryItemID)
	if err != nil {
		return nil, err
	}
	if batch.IsExpired(e.now()) {
		return nil, apperr.Newf(ErrBatchExpired, "batch of %s expired on %s",
			batch.MedicineName, batch.ExpiryDate.Format(time.DateOnly))
	}
	total := line.Total()
	if total > batch.RemainingQuantity {
		return nil, insufficient(batch, total)
	}

	item := &PrescriptionItem{
		PrescriptionID:     prescriptionID,
		InventoryItemID:    batch.ID,
		MedicineName:       batch.MedicineName,
		Quantity:           line.Quantity,
		DosageInstructions: line.DosageInstructions,
		DaysSupply:         line.DaysSupply,
		TotalQuantity:      total,
	}
	if err := e.rx.AddItem(ctx, item); err != nil {
		return nil, err
	}
	if err := e.debit(ctx, batch.ID, total); err != nil {
		return nil, err
	}
	return item, nil
}

// AddLine allocates a new line on an existing prescription.
func (e *Engine) AddLine(ctx context.Context, prescriptionID uuid.UUID, line LineInput) (*PrescriptionItem, error) {
	if _, err := e.rx.GetForUpdate(ctx, prescriptionID); err != nil {
		return nil, err
	}
	return e.Allocate(ctx, prescriptionID, line)
}

// ReconcileOnEdit rewrites a line's dosing and moves the difference between
// its stored total and the new total. A failed debit leaves both the line and
// the batch as they were.
func (e *Engine) ReconcileOnEdit(ctx context.Context, item *PrescriptionItem, quantity int, instructions string, daysSupply int) error {
	next := LineInput{
		InventoryItemID:    item.InventoryItemID,
		Quantity:           quantity,
		DosageInstructions: instructions,
		DaysSupply:         daysSupply,
	}
	if err := next.Validate(); err != nil {
		return err
	}

	oldTotal := ComputeTotalQuantity(item.Quantity, item.DosageInstructions, item.DaysSupply)
	newTotal := next.Total()
	switch {
	case newTotal > oldTotal:
		if err := e.debit(ctx, item.InventoryItemID, newTotal-oldTotal); err != nil {
			return err
		}
	case newTotal < oldTotal:
		if err := e.credit(ctx, item.InventoryItemID, oldTotal-newTotal); err != nil {
			return err
		}
	}

	item.Quantity = quantity
	item.DosageInstructions = instructions
	item.DaysSupply = daysSupply
	item.TotalQuantity = newTotal
	return e.rx.UpdateItem(ctx, item)
}

// Rebatch moves a line to another batch: its stored total goes back to the
// old batch and the new dosing is debited from the new one.
func (e *Engine) Rebatch(ctx context.Context, item *PrescriptionItem, batchID uuid.UUID, quantity int, instructions string, daysSupply int) error {
	next := LineInput{
		InventoryItemID:    batchID,
		Quantity:           quantity,
		DosageInstructions: instructions,
		DaysSupply:         daysSupply,
	}
	if err := next.Validate(); err != nil {
		return err
	}
	batch, err := e.inv.GetForUpdate(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.IsExpired(e.now()) {
		return apperr.Newf(ErrBatchExpired, "batch of %s expired on %s",
			batch.MedicineName, batch.ExpiryDate.Format(time.DateOnly))
	}

	oldTotal := ComputeTotalQuantity(item.Quantity, item.DosageInstructions, item.DaysSupply)
	if err := e.credit(ctx, item.InventoryItemID, oldTotal); err != nil {
		return err
	}
	newTotal := next.Total()
	if err := e.debit(ctx, batchID, newTotal); err != nil {
		return err
	}

	item.InventoryItemID = batchID
	item.MedicineName = batch.MedicineName
	item.Quantity = quantity
	item.DosageInstructions = instructions
	item.DaysSupply = daysSupply
	item.TotalQuantity = newTotal
	return e.rx.UpdateItem(ctx, item)
}

// Release credits a line's whole total back to its batch. The caller removes
// the line.
func (e *Engine) Release(ctx context.Context, item *PrescriptionItem) error {
	total := ComputeTotalQuantity(item.Quantity, item.DosageInstructions, item.DaysSupply)
	return e.credit(ctx, item.InventoryItemID, total)
}
