package pharmacy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/apperr"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/db"
)

// Prices travel as text so NUMERIC round-trips through decimal.Decimal
// without float conversion.
const inventoryCols = `i.id, i.medicine_id, m.name, i.batch_number, i.expiry_date, i.quantity,
	i.remaining_quantity, i.buy_price::text, i.sell_price::text, i.received_date, i.created_at, i.updated_at`

const inventoryFrom = ` FROM inventory_items i JOIN medicines m ON m.id = i.medicine_id`

// InventoryRepoPG stores medicines and batches in postgres.
type InventoryRepoPG struct {
	pool *pgxpool.Pool
}

func NewInventoryRepoPG(pool *pgxpool.Pool) *InventoryRepoPG {
	return &InventoryRepoPG{pool: pool}
}

func (r *InventoryRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func scanInventoryItem(row pgx.Row) (*InventoryItem, error) {
	var it InventoryItem
	var buy, sell string
	err := row.Scan(&it.ID, &it.MedicineID, &it.MedicineName, &it.BatchNumber, &it.ExpiryDate,
		&it.Quantity, &it.RemainingQuantity, &buy, &sell, &it.ReceivedDate, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if it.BuyPrice, err = decimal.NewFromString(buy); err != nil {
		return nil, fmt.Errorf("parse buy price: %w", err)
	}
	if it.SellPrice, err = decimal.NewFromString(sell); err != nil {
		return nil, fmt.Errorf("parse sell price: %w", err)
	}
	return &it, nil
}

func (r *InventoryRepoPG) FindOrCreateMedicine(ctx context.Context, name string) (*Medicine, error) {
	var m Medicine
	// the no-op update makes RETURNING yield the existing row on conflict
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medicines (id, name) VALUES ($1, $2)
		ON CONFLICT ((lower(name))) DO UPDATE SET name = medicines.name
		RETURNING id, name, created_at`, uuid.New(), name).Scan(&m.ID, &m.Name, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("find or create medicine: %w", err)
	}
	return &m, nil
}

func (r *InventoryRepoPG) Create(ctx context.Context, item *InventoryItem) error {
	item.ID = uuid.New()
	now := time.Now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO inventory_items (id, medicine_id, batch_number, expiry_date, quantity,
			remaining_quantity, buy_price, sell_price, received_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric, $8::text::numeric, $9, $10, $11)`,
		item.ID, item.MedicineID, item.BatchNumber, item.ExpiryDate, item.Quantity,
		item.RemainingQuantity, item.BuyPrice.String(), item.SellPrice.String(), item.ReceivedDate,
		item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apperr.Newf(ErrInvalidBatch, "medicine %s does not exist", item.MedicineID)
		}
		return fmt.Errorf("insert inventory item: %w", err)
	}
	return nil
}

func (r *InventoryRepoPG) get(ctx context.Context, id uuid.UUID, lock string) (*InventoryItem, error) {
	it, err := scanInventoryItem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+inventoryCols+inventoryFrom+` WHERE i.id = $1`+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(ErrInventoryNotFound, "inventory item %s not found", id)
	}
	return it, err
}

func (r *InventoryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*InventoryItem, error) {
	return r.get(ctx, id, "")
}

func (r *InventoryRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*InventoryItem, error) {
	return r.get(ctx, id, " FOR UPDATE OF i")
}

func (r *InventoryRepoPG) Update(ctx context.Context, item *InventoryItem) error {
	item.UpdatedAt = time.Now().UTC()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE inventory_items SET batch_number = $2, expiry_date = $3, quantity = $4,
			remaining_quantity = $5, buy_price = $6::text::numeric, sell_price = $7::text::numeric,
			updated_at = $8
		WHERE id = $1`,
		item.ID, item.BatchNumber, item.ExpiryDate, item.Quantity, item.RemainingQuantity,
		item.BuyPrice.String(), item.SellPrice.String(), item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update inventory item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(ErrInventoryNotFound, "inventory item %s not found", item.ID)
	}
	return nil
}

func (r *InventoryRepoPG) SetRemaining(ctx context.Context, id uuid.UUID, remaining int) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE inventory_items SET remaining_quantity = $2, updated_at = NOW() WHERE id = $1`, id, remaining)
	if err != nil {
		return fmt.Errorf("set remaining quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(ErrInventoryNotFound, "inventory item %s not found", id)
	}
	return nil
}

func (r *InventoryRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM inventory_items WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apperr.Wrap(ErrItemReferenced, err)
		}
		return fmt.Errorf("delete inventory item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(ErrInventoryNotFound, "inventory item %s not found", id)
	}
	return nil
}

func (r *InventoryRepoPG) IsReferenced(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM prescription_items WHERE inventory_item_id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check inventory references: %w", err)
	}
	return exists, nil
}

func (r *InventoryRepoPG) List(ctx context.Context, f InventoryFilter) ([]*InventoryItem, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.MedicineID != nil {
		where = append(where, "i.medicine_id = "+arg(*f.MedicineID))
	}
	if f.AvailableOn != nil {
		where = append(where, "i.remaining_quantity > 0 AND i.expiry_date >= "+arg(*f.AvailableOn))
	}
	if f.ExpiringBefore != nil {
		where = append(where, "i.expiry_date < "+arg(*f.ExpiringBefore))
	}
	if f.LowStockRatio > 0 {
		where = append(where, "i.remaining_quantity < i.quantity * "+arg(f.LowStockRatio)+"::float8")
	}

	q := `SELECT ` + inventoryCols + inventoryFrom
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY i.expiry_date, i.created_at"

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list inventory items: %w", err)
	}
	defer rows.Close()
	var out []*InventoryItem
	for rows.Next() {
		it, err := scanInventoryItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

const prescriptionCols = `id, patient_id, COALESCE(doctor_id, ''), disease_id, custom_disease, issue_date, notes, created_at, updated_at`

// PrescriptionRepoPG stores prescriptions in postgres.
type PrescriptionRepoPG struct {
	pool *pgxpool.Pool
}

func NewPrescriptionRepoPG(pool *pgxpool.Pool) *PrescriptionRepoPG {
	return &PrescriptionRepoPG{pool: pool}
}

func (r *PrescriptionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PatientID, &p.DoctorID, &p.DiseaseID, &p.CustomDisease,
		&p.IssueDate, &p.Notes, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *PrescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.IssueDate.IsZero() {
		p.IssueDate = now
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO prescriptions (id, patient_id, doctor_id, disease_id, custom_disease, issue_date,
			notes, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)`,
		p.ID, p.PatientID, p.DoctorID, p.DiseaseID, p.CustomDisease, p.IssueDate, p.Notes,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}
	return nil
}

func (r *PrescriptionRepoPG) get(ctx context.Context, id uuid.UUID, lock string) (*Prescription, error) {
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescriptions WHERE id = $1`+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(ErrPrescriptionNotFound, "prescription %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, []*Prescription{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PrescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return r.get(ctx, id, "")
}

func (r *PrescriptionRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

// loadItems fills Items for every prescription in one query.
func (r *PrescriptionRepoPG) loadItems(ctx context.Context, ps []*Prescription) error {
	if len(ps) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(ps))
	byID := make(map[uuid.UUID]*Prescription, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
		byID[p.ID] = p
		p.Items = []*PrescriptionItem{}
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT pi.id, pi.prescription_id, pi.line_no, pi.inventory_item_id, m.name, pi.quantity,
			pi.dosage_instructions, pi.days_supply, pi.total_quantity
		FROM prescription_items pi
		JOIN inventory_items i ON i.id = pi.inventory_item_id
		JOIN medicines m ON m.id = i.medicine_id
		WHERE pi.prescription_id = ANY($1)
		ORDER BY pi.prescription_id, pi.line_no`, ids)
	if err != nil {
		return fmt.Errorf("load prescription items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it PrescriptionItem
		if err := rows.Scan(&it.ID, &it.PrescriptionID, &it.LineNo, &it.InventoryItemID, &it.MedicineName,
			&it.Quantity, &it.DosageInstructions, &it.DaysSupply, &it.TotalQuantity); err != nil {
			return err
		}
		p := byID[it.PrescriptionID]
		p.Items = append(p.Items, &it)
	}
	return rows.Err()
}

func (r *PrescriptionRepoPG) Update(ctx context.Context, p *Prescription) error {
	p.UpdatedAt = time.Now().UTC()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescriptions SET disease_id = $2, custom_disease = $3, notes = $4, updated_at = $5
		WHERE id = $1`, p.ID, p.DiseaseID, p.CustomDisease, p.Notes, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(ErrPrescriptionNotFound, "prescription %s not found", p.ID)
	}
	return nil
}

func (r *PrescriptionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM prescriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(ErrPrescriptionNotFound, "prescription %s not found", id)
	}
	return nil
}

func (r *PrescriptionRepoPG) AddItem(ctx context.Context, item *PrescriptionItem) error {
	item.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescription_items (id, prescription_id, line_no, inventory_item_id, quantity,
			dosage_instructions, days_supply, total_quantity)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(line_no), 0) + 1 FROM prescription_items WHERE prescription_id = $2),
			$3, $4, $5, $6, $7)
		RETURNING line_no`,
		item.ID, item.PrescriptionID, item.InventoryItemID, item.Quantity, item.DosageInstructions,
		item.DaysSupply, item.TotalQuantity).Scan(&item.LineNo)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apperr.Newf(ErrInventoryNotFound, "inventory item %s not found", item.InventoryItemID)
		}
		return fmt.Errorf("insert prescription item: %w", err)
	}
	return nil
}

func (r *PrescriptionRepoPG) UpdateItem(ctx context.Context, item *PrescriptionItem) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescription_items SET inventory_item_id = $2, quantity = $3, dosage_instructions = $4,
			days_supply = $5, total_quantity = $6
		WHERE id = $1`,
		item.ID, item.InventoryItemID, item.Quantity, item.DosageInstructions, item.DaysSupply,
		item.TotalQuantity)
	if err != nil {
		return fmt.Errorf("update prescription item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(ErrLineNotFound, "prescription item %s not found", item.ID)
	}
	return nil
}

func (r *PrescriptionRepoPG) DeleteItem(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM prescription_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete prescription item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(ErrLineNotFound, "prescription item %s not found", id)
	}
	return nil
}

func (r *PrescriptionRepoPG) list(ctx context.Context, q string, args ...any) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	var out []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PrescriptionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Prescription, error) {
	return r.list(ctx, `
		SELECT `+prescriptionCols+` FROM prescriptions
		WHERE patient_id = $1 AND issue_date >= $2 AND issue_date < $3
		ORDER BY issue_date DESC`, patientID, from, to)
}

func (r *PrescriptionRepoPG) ListInRange(ctx context.Context, from, to time.Time, limit, offset int) ([]*Prescription, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM prescriptions WHERE issue_date >= $1 AND issue_date < $2`, from, to).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count prescriptions: %w", err)
	}
	out, err := r.list(ctx, `
		SELECT `+prescriptionCols+` FROM prescriptions
		WHERE issue_date >= $1 AND issue_date < $2
		ORDER BY issue_date DESC
		LIMIT $3 OFFSET $4`, from, to, limit, offset)
	return out, total, err
}
