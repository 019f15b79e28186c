package pharmacy

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/apperr"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/db"
)

// memState backs both in-process repositories so referential checks see one
// consistent view. It pairs with db.MemTransactor: writes register undo steps
// and GetForUpdate takes keyed locks held until the unit of work ends.
type memState struct {
	mu            sync.RWMutex
	medicines     map[uuid.UUID]Medicine
	items         map[uuid.UUID]InventoryItem
	prescriptions map[uuid.UUID]Prescription
	lines         map[uuid.UUID]PrescriptionItem
	now           func() time.Time
}

type MemInventoryRepo struct{ s *memState }

type MemPrescriptionRepo struct{ s *memState }

// NewMemRepos creates in-process repositories sharing one state.
func NewMemRepos() (*MemInventoryRepo, *MemPrescriptionRepo) {
	s := &memState{
		medicines:     make(map[uuid.UUID]Medicine),
		items:         make(map[uuid.UUID]InventoryItem),
		prescriptions: make(map[uuid.UUID]Prescription),
		lines:         make(map[uuid.UUID]PrescriptionItem),
		now:           func() time.Time { return time.Now().UTC() },
	}
	return &MemInventoryRepo{s: s}, &MemPrescriptionRepo{s: s}
}

// put stores v under key and registers its undo. Caller holds mu.
func put[V any](ctx context.Context, mu *sync.RWMutex, m map[uuid.UUID]V, key uuid.UUID, v V) {
	prev, existed := m[key]
	m[key] = v
	db.OnRollback(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		if existed {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
}

// remove deletes key and registers its undo. Caller holds mu.
func remove[V any](ctx context.Context, mu *sync.RWMutex, m map[uuid.UUID]V, key uuid.UUID) {
	prev, existed := m[key]
	if !existed {
		return
	}
	delete(m, key)
	db.OnRollback(ctx, func() {
		mu.Lock()
		m[key] = prev
		mu.Unlock()
	})
}

// inventory

func (r *MemInventoryRepo) FindOrCreateMedicine(ctx context.Context, name string) (*Medicine, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.medicines {
		if strings.EqualFold(m.Name, name) {
			m := m
			return &m, nil
		}
	}
	m := Medicine{ID: uuid.New(), Name: name, CreatedAt: s.now()}
	put(ctx, &s.mu, s.medicines, m.ID, m)
	return &m, nil
}

// withName fills the joined medicine name. Caller holds mu.
func (s *memState) withName(it InventoryItem) *InventoryItem {
	it.MedicineName = s.medicines[it.MedicineID].Name
	return &it
}

func (r *MemInventoryRepo) Create(ctx context.Context, item *InventoryItem) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	med, ok := s.medicines[item.MedicineID]
	if !ok {
		return apperr.Newf(ErrInvalidBatch, "medicine %s does not exist", item.MedicineID)
	}
	item.ID = uuid.New()
	item.MedicineName = med.Name
	item.CreatedAt = s.now()
	item.UpdatedAt = item.CreatedAt
	put(ctx, &s.mu, s.items, item.ID, *item)
	return nil
}

func (r *MemInventoryRepo) GetByID(_ context.Context, id uuid.UUID) (*InventoryItem, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, apperr.Newf(ErrInventoryNotFound, "inventory item %s not found", id)
	}
	return s.withName(it), nil
}

func (r *MemInventoryRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*InventoryItem, error) {
	if err := db.LockKey(ctx, "inventory:"+id.String()); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *MemInventoryRepo) Update(ctx context.Context, item *InventoryItem) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		return apperr.Newf(ErrInventoryNotFound, "inventory item %s not found", item.ID)
	}
	item.UpdatedAt = s.now()
	put(ctx, &s.mu, s.items, item.ID, *item)
	return nil
}

func (r *MemInventoryRepo) SetRemaining(ctx context.Context, id uuid.UUID, remaining int) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return apperr.Newf(ErrInventoryNotFound, "inventory item %s not found", id)
	}
	if remaining < 0 {
		return apperr.Newf(ErrInsufficientStock, "remaining quantity of %s cannot go below zero", id)
	}
	it.RemainingQuantity = remaining
	it.UpdatedAt = s.now()
	put(ctx, &s.mu, s.items, id, it)
	return nil
}

func (r *MemInventoryRepo) Delete(ctx context.Context, id uuid.UUID) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return apperr.Newf(ErrInventoryNotFound, "inventory item %s not found", id)
	}
	remove(ctx, &s.mu, s.items, id)
	return nil
}

func (r *MemInventoryRepo) IsReferenced(_ context.Context, id uuid.UUID) (bool, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.lines {
		if l.InventoryItemID == id {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemInventoryRepo) List(_ context.Context, f InventoryFilter) ([]*InventoryItem, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*InventoryItem
	for _, it := range s.items {
		if f.MedicineID != nil && it.MedicineID != *f.MedicineID {
			continue
		}
		if f.AvailableOn != nil && (it.RemainingQuantity <= 0 || it.ExpiryDate.Before(*f.AvailableOn)) {
			continue
		}
		if f.ExpiringBefore != nil && !it.ExpiryDate.Before(*f.ExpiringBefore) {
			continue
		}
		if f.LowStockRatio > 0 && !it.IsLowStock(f.LowStockRatio) {
			continue
		}
		out = append(out, s.withName(it))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiryDate.Equal(out[j].ExpiryDate) {
			return out[i].ExpiryDate.Before(out[j].ExpiryDate)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// prescriptions

// load assembles a prescription with its lines. Caller holds mu.
func (s *memState) load(id uuid.UUID) (*Prescription, bool) {
	p, ok := s.prescriptions[id]
	if !ok {
		return nil, false
	}
	p.Items = nil
	for _, l := range s.lines {
		if l.PrescriptionID == id {
			l := l
			if it, ok := s.items[l.InventoryItemID]; ok {
				l.MedicineName = s.medicines[it.MedicineID].Name
			}
			p.Items = append(p.Items, &l)
		}
	}
	sort.Slice(p.Items, func(i, j int) bool { return p.Items[i].LineNo < p.Items[j].LineNo })
	return &p, true
}

func (r *MemPrescriptionRepo) Create(ctx context.Context, p *Prescription) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	if p.IssueDate.IsZero() {
		p.IssueDate = p.CreatedAt
	}
	stored := *p
	stored.Items = nil
	put(ctx, &s.mu, s.prescriptions, p.ID, stored)
	return nil
}

func (r *MemPrescriptionRepo) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.load(id)
	if !ok {
		return nil, apperr.Newf(ErrPrescriptionNotFound, "prescription %s not found", id)
	}
	return p, nil
}

func (r *MemPrescriptionRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	if err := db.LockKey(ctx, "prescription:"+id.String()); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *MemPrescriptionRepo) Update(ctx context.Context, p *Prescription) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prescriptions[p.ID]; !ok {
		return apperr.Newf(ErrPrescriptionNotFound, "prescription %s not found", p.ID)
	}
	p.UpdatedAt = s.now()
	stored := *p
	stored.Items = nil
	put(ctx, &s.mu, s.prescriptions, p.ID, stored)
	return nil
}

func (r *MemPrescriptionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prescriptions[id]; !ok {
		return apperr.Newf(ErrPrescriptionNotFound, "prescription %s not found", id)
	}
	for lid, l := range s.lines {
		if l.PrescriptionID == id {
			remove(ctx, &s.mu, s.lines, lid)
		}
	}
	remove(ctx, &s.mu, s.prescriptions, id)
	return nil
}

func (r *MemPrescriptionRepo) AddItem(ctx context.Context, item *PrescriptionItem) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prescriptions[item.PrescriptionID]; !ok {
		return apperr.Newf(ErrPrescriptionNotFound, "prescription %s not found", item.PrescriptionID)
	}
	if _, ok := s.items[item.InventoryItemID]; !ok {
		return apperr.Newf(ErrInventoryNotFound, "inventory item %s not found", item.InventoryItemID)
	}
	next := 1
	for _, l := range s.lines {
		if l.PrescriptionID == item.PrescriptionID && l.LineNo >= next {
			next = l.LineNo + 1
		}
	}
	item.ID = uuid.New()
	item.LineNo = next
	put(ctx, &s.mu, s.lines, item.ID, *item)
	return nil
}

func (r *MemPrescriptionRepo) UpdateItem(ctx context.Context, item *PrescriptionItem) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lines[item.ID]; !ok {
		return apperr.Newf(ErrLineNotFound, "prescription item %s not found", item.ID)
	}
	put(ctx, &s.mu, s.lines, item.ID, *item)
	return nil
}

func (r *MemPrescriptionRepo) DeleteItem(ctx context.Context, id uuid.UUID) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lines[id]; !ok {
		return apperr.Newf(ErrLineNotFound, "prescription item %s not found", id)
	}
	remove(ctx, &s.mu, s.lines, id)
	return nil
}

func (r *MemPrescriptionRepo) filter(keep func(Prescription) bool) []*Prescription {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Prescription
	for id, p := range s.prescriptions {
		if keep(p) {
			full, _ := s.load(id)
			out = append(out, full)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssueDate.After(out[j].IssueDate) })
	return out
}

func issuedIn(p Prescription, from, to time.Time) bool {
	return !p.IssueDate.Before(from) && p.IssueDate.Before(to)
}

func (r *MemPrescriptionRepo) ListByPatient(_ context.Context, patientID uuid.UUID, from, to time.Time) ([]*Prescription, error) {
	return r.filter(func(p Prescription) bool {
		return p.PatientID == patientID && issuedIn(p, from, to)
	}), nil
}

func (r *MemPrescriptionRepo) ListInRange(_ context.Context, from, to time.Time, limit, offset int) ([]*Prescription, int, error) {
	all := r.filter(func(p Prescription) bool { return issuedIn(p, from, to) })
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
