package pharmacy

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/apperr"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/db"
)

// ReceiveInput describes a delivered batch.
type ReceiveInput struct {
	MedicineName string
	BatchNumber  *string
	ExpiryDate   time.Time
	Quantity     int
	BuyPrice     decimal.Decimal
	SellPrice    decimal.Decimal
	// ReceivedDate defaults to today.
	ReceivedDate *time.Time
}

// BatchUpdate edits a batch. AdditionalQuantity restocks: it raises both the
// batch size and the remaining units.
type BatchUpdate struct {
	BatchNumber        *string
	ExpiryDate         *time.Time
	AdditionalQuantity *int
	BuyPrice           *decimal.Decimal
	SellPrice          *decimal.Decimal
}

// InventoryService manages stock batches.
type InventoryService struct {
	tx       db.Transactor
	inv      InventoryRepository
	lowRatio float64
	logger   zerolog.Logger
	now      func() time.Time
}

// NewInventoryService creates an InventoryService. Batches below
// lowStockRatio of their received quantity count as low stock.
func NewInventoryService(tx db.Transactor, inv InventoryRepository, lowStockRatio float64, logger zerolog.Logger) *InventoryService {
	return &InventoryService{tx: tx, inv: inv, lowRatio: lowStockRatio, logger: logger, now: time.Now}
}

func (s *InventoryService) today() time.Time { return dateOf(s.now()) }

func validPrice(name string, p decimal.Decimal) error {
	if p.IsNegative() {
		return apperr.Newf(ErrInvalidBatch, "%s cannot be negative", name)
	}
	return nil
}

// Receive records a newly delivered batch with all its units on hand.
func (s *InventoryService) Receive(ctx context.Context, in ReceiveInput) (*InventoryItem, error) {
	name := strings.TrimSpace(in.MedicineName)
	if name == "" {
		return nil, apperr.Newf(ErrInvalidBatch, "medicine name is required")
	}
	if in.Quantity < 1 {
		return nil, apperr.Newf(ErrInvalidBatch, "quantity must be at least 1, got %d", in.Quantity)
	}
	if err := validPrice("buy price", in.BuyPrice); err != nil {
		return nil, err
	}
	if err := validPrice("sell price", in.SellPrice); err != nil {
		return nil, err
	}
	expiry := dateOf(in.ExpiryDate)
	if expiry.Before(s.today()) {
		return nil, apperr.Newf(ErrBatchExpired, "cannot receive %s: batch expired on %s", name, expiry.Format(time.DateOnly))
	}
	received := s.today()
	if in.ReceivedDate != nil {
		received = dateOf(*in.ReceivedDate)
	}

	item := &InventoryItem{
		BatchNumber:       in.BatchNumber,
		ExpiryDate:        expiry,
		Quantity:          in.Quantity,
		RemainingQuantity: in.Quantity,
		BuyPrice:          in.BuyPrice,
		SellPrice:         in.SellPrice,
		ReceivedDate:      received,
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		med, err := s.inv.FindOrCreateMedicine(ctx, name)
		if err != nil {
			return err
		}
		item.MedicineID = med.ID
		item.MedicineName = med.Name
		return s.inv.Create(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("batch", item.ID.String()).Str("medicine", item.MedicineName).
		Int("quantity", item.Quantity).Msg("batch received")
	return item, nil
}

func (s *InventoryService) UpdateBatch(ctx context.Context, id uuid.UUID, in BatchUpdate) (*InventoryItem, error) {
	if in.AdditionalQuantity != nil && *in.AdditionalQuantity < 1 {
		return nil, apperr.Newf(ErrInvalidBatch, "additional quantity must be at least 1, got %d", *in.AdditionalQuantity)
	}
	if in.ExpiryDate != nil && dateOf(*in.ExpiryDate).Before(s.today()) {
		return nil, apperr.Newf(ErrInvalidBatch, "expiry date cannot be in the past")
	}
	for name, p := range map[string]*decimal.Decimal{"buy price": in.BuyPrice, "sell price": in.SellPrice} {
		if p != nil {
			if err := validPrice(name, *p); err != nil {
				return nil, err
			}
		}
	}

	var out *InventoryItem
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		item, err := s.inv.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if in.BatchNumber != nil {
			item.BatchNumber = in.BatchNumber
		}
		if in.ExpiryDate != nil {
			item.ExpiryDate = dateOf(*in.ExpiryDate)
		}
		if in.AdditionalQuantity != nil {
			item.Quantity += *in.AdditionalQuantity
			item.RemainingQuantity += *in.AdditionalQuantity
		}
		if in.BuyPrice != nil {
			item.BuyPrice = *in.BuyPrice
		}
		if in.SellPrice != nil {
			item.SellPrice = *in.SellPrice
		}
		if err := s.inv.Update(ctx, item); err != nil {
			return err
		}
		out = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	if in.AdditionalQuantity != nil {
		s.logger.Info().Str("batch", id.String()).Str("medicine", out.MedicineName).
			Int("added", *in.AdditionalQuantity).Int("remaining", out.RemainingQuantity).Msg("batch restocked")
	}
	return out, nil
}

// Delete removes a batch no prescription line has ever drawn from.
func (s *InventoryService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		item, err := s.inv.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		referenced, err := s.inv.IsReferenced(ctx, id)
		if err != nil {
			return err
		}
		if referenced {
			return apperr.Newf(ErrItemReferenced, "batch of %s is referenced by prescriptions", item.MedicineName)
		}
		return s.inv.Delete(ctx, id)
	})
}

func (s *InventoryService) Get(ctx context.Context, id uuid.UUID) (*InventoryItem, error) {
	return s.inv.GetByID(ctx, id)
}

func (s *InventoryService) List(ctx context.Context, medicineID *uuid.UUID) ([]*InventoryItem, error) {
	return s.inv.List(ctx, InventoryFilter{MedicineID: medicineID})
}

// Available lists unexpired batches with stock left, soonest expiry first.
func (s *InventoryService) Available(ctx context.Context) ([]*InventoryItem, error) {
	today := s.today()
	return s.inv.List(ctx, InventoryFilter{AvailableOn: &today})
}

func (s *InventoryService) LowStock(ctx context.Context) ([]*InventoryItem, error) {
	return s.inv.List(ctx, InventoryFilter{LowStockRatio: s.lowRatio})
}

// Expiring lists batches expiring within days, including ones already past
// their date.
func (s *InventoryService) Expiring(ctx context.Context, days int) ([]*InventoryItem, error) {
	if days < 0 {
		return nil, apperr.Newf(ErrInvalidBatch, "days must not be negative")
	}
	cutoff := s.today().AddDate(0, 0, days)
	return s.inv.List(ctx, InventoryFilter{ExpiringBefore: &cutoff})
}

// Valuation prices the units still on hand at buy and sell price.
func (s *InventoryService) Valuation(ctx context.Context) (Valuation, error) {
	items, err := s.inv.List(ctx, InventoryFilter{})
	if err != nil {
		return Valuation{}, err
	}
	v := Valuation{Cost: decimal.Zero, Retail: decimal.Zero}
	for _, it := range items {
		if it.RemainingQuantity <= 0 {
			continue
		}
		units := decimal.NewFromInt(int64(it.RemainingQuantity))
		v.Batches++
		v.Units += it.RemainingQuantity
		v.Cost = v.Cost.Add(it.BuyPrice.Mul(units))
		v.Retail = v.Retail.Add(it.SellPrice.Mul(units))
	}
	return v, nil
}
