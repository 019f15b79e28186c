package pharmacy

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Medicine is a catalog entry shared by its batches.
type Medicine struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// InventoryItem is one received batch of a medicine.
type InventoryItem struct {
	ID                uuid.UUID       `db:"id"`
	MedicineID        uuid.UUID       `db:"medicine_id"`
	MedicineName      string          `db:"medicine_name"`
	BatchNumber       *string         `db:"batch_number"`
	ExpiryDate        time.Time       `db:"expiry_date"`
	Quantity          int             `db:"quantity"`
	RemainingQuantity int             `db:"remaining_quantity"`
	BuyPrice          decimal.Decimal `db:"buy_price"`
	SellPrice         decimal.Decimal `db:"sell_price"`
	ReceivedDate      time.Time       `db:"received_date"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

// IsLowStock reports whether the remaining units are under ratio of the
// batch size.
func (i *InventoryItem) IsLowStock(ratio float64) bool {
	return float64(i.RemainingQuantity) < float64(i.Quantity)*ratio
}

// IsExpired reports whether the batch expired before today.
func (i *InventoryItem) IsExpired(today time.Time) bool {
	return i.ExpiryDate.Before(dateOf(today))
}

type inventoryItemJSON struct {
	ID                uuid.UUID       `json:"id"`
	MedicineID        uuid.UUID       `json:"medicine_id"`
	MedicineName      string          `json:"medicine_name"`
	BatchNumber       *string         `json:"batch_number,omitempty"`
	ExpiryDate        string          `json:"expiry_date"`
	Quantity          int             `json:"quantity"`
	RemainingQuantity int             `json:"remaining_quantity"`
	BuyPrice          decimal.Decimal `json:"buy_price"`
	SellPrice         decimal.Decimal `json:"sell_price"`
	ReceivedDate      string          `json:"received_date"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (i InventoryItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(inventoryItemJSON{
		ID:                i.ID,
		MedicineID:        i.MedicineID,
		MedicineName:      i.MedicineName,
		BatchNumber:       i.BatchNumber,
		ExpiryDate:        i.ExpiryDate.Format(time.DateOnly),
		Quantity:          i.Quantity,
		RemainingQuantity: i.RemainingQuantity,
		BuyPrice:          i.BuyPrice,
		SellPrice:         i.SellPrice,
		ReceivedDate:      i.ReceivedDate.Format(time.DateOnly),
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         i.UpdatedAt,
	})
}

// Prescription is a doctor's order for one patient.
type Prescription struct {
	ID            uuid.UUID           `db:"id" json:"id"`
	PatientID     uuid.UUID           `db:"patient_id" json:"patient_id"`
	DoctorID      string              `db:"doctor_id" json:"doctor_id,omitempty"`
	DiseaseID     *uuid.UUID          `db:"disease_id" json:"disease_id,omitempty"`
	CustomDisease *string             `db:"custom_disease" json:"custom_disease,omitempty"`
	IssueDate     time.Time           `db:"issue_date" json:"issue_date"`
	Notes         *string             `db:"notes" json:"notes,omitempty"`
	Items         []*PrescriptionItem `db:"-" json:"items"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at" json:"updated_at"`
}

// Item returns the line with id, or nil.
func (p *Prescription) Item(id uuid.UUID) *PrescriptionItem {
	for _, it := range p.Items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// PrescriptionItem is one dispensed line. TotalQuantity is what the line
// holds against its batch.
type PrescriptionItem struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	PrescriptionID     uuid.UUID `db:"prescription_id" json:"prescription_id"`
	LineNo             int       `db:"line_no" json:"line_no"`
	InventoryItemID    uuid.UUID `db:"inventory_item_id" json:"inventory_item_id"`
	MedicineName       string    `db:"medicine_name" json:"medicine_name,omitempty"`
	Quantity           int       `db:"quantity" json:"quantity"`
	DosageInstructions string    `db:"dosage_instructions" json:"dosage_instructions"`
	DaysSupply         int       `db:"days_supply" json:"days_supply"`
	TotalQuantity      int       `db:"total_quantity" json:"total_quantity"`
}

// Valuation totals the stock still on hand.
type Valuation struct {
	Batches int             `json:"batches"`
	Units   int             `json:"units"`
	Cost    decimal.Decimal `json:"cost"`
	Retail  decimal.Decimal `json:"retail"`
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
