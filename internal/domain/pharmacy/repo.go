package pharmacy

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InventoryFilter narrows a batch listing. Zero fields do not filter.
type InventoryFilter struct {
	MedicineID *uuid.UUID
	// AvailableOn keeps batches with stock left that are not expired on the
	// given date.
	AvailableOn *time.Time
	// ExpiringBefore keeps batches expiring strictly before the given date.
	ExpiringBefore *time.Time
	// LowStockRatio keeps batches whose remaining units are under
	// ratio * quantity.
	LowStockRatio float64
}

// InventoryRepository persists medicines and batches.
type InventoryRepository interface {
	// FindOrCreateMedicine resolves a medicine by case-insensitive name.
	FindOrCreateMedicine(ctx context.Context, name string) (*Medicine, error)
	Create(ctx context.Context, item *InventoryItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*InventoryItem, error)
	// GetForUpdate reads the batch and holds its write lock until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*InventoryItem, error)
	Update(ctx context.Context, item *InventoryItem) error
	SetRemaining(ctx context.Context, id uuid.UUID, remaining int) error
	Delete(ctx context.Context, id uuid.UUID) error
	IsReferenced(ctx context.Context, id uuid.UUID) (bool, error)
	// List orders by expiry date, soonest first.
	List(ctx context.Context, f InventoryFilter) ([]*InventoryItem, error)
}

// PrescriptionRepository persists prescriptions and their lines.
type PrescriptionRepository interface {
	Create(ctx context.Context, p *Prescription) error
	// GetByID loads the prescription with its items in line order.
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	// GetForUpdate is GetByID holding the prescription's write lock until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Prescription, error)
	Update(ctx context.Context, p *Prescription) error
	// Delete removes the prescription and its items.
	Delete(ctx context.Context, id uuid.UUID) error

	// AddItem assigns the item's id and the next line number.
	AddItem(ctx context.Context, item *PrescriptionItem) error
	UpdateItem(ctx context.Context, item *PrescriptionItem) error
	DeleteItem(ctx context.Context, id uuid.UUID) error

	// ListByPatient returns the patient's prescriptions issued in [from, to),
	// newest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Prescription, error)
	ListInRange(ctx context.Context, from, to time.Time, limit, offset int) ([]*Prescription, int, error)
}
