package pharmacy

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/apperr"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/db"
)

// CreatePrescriptionInput is a new prescription with its lines.
type CreatePrescriptionInput struct {
	PatientID     uuid.UUID
	DoctorID      string
	DiseaseID     *uuid.UUID
	CustomDisease *string
	Notes         *string
	Items         []LineInput
}

// LineEdit changes an existing line. A non-nil InventoryItemID different from
// the line's batch moves the line to that batch.
type LineEdit struct {
	ID                 uuid.UUID
	InventoryItemID    *uuid.UUID
	Quantity           int
	DosageInstructions string
	DaysSupply         int
}

// UpdatePrescriptionInput edits the header, changes lines and adds new ones.
type UpdatePrescriptionInput struct {
	Notes         *string
	DiseaseID     *uuid.UUID
	CustomDisease *string
	UpdatedItems  []LineEdit
	NewItems      []LineInput
}

// PrescriptionService issues and edits prescriptions.
type PrescriptionService struct {
	tx      db.Transactor
	rx      PrescriptionRepository
	engine  *Engine
	alerter *Alerter
	logger  zerolog.Logger
	now     func() time.Time
}

// NewPrescriptionService wires prescriptions to the allocation engine.
// alerter may be nil.
func NewPrescriptionService(tx db.Transactor, inv InventoryRepository, rx PrescriptionRepository, alerter *Alerter, logger zerolog.Logger) *PrescriptionService {
	return &PrescriptionService{
		tx:      tx,
		rx:      rx,
		engine:  NewEngine(inv, rx, logger),
		alerter: alerter,
		logger:  logger,
		now:     time.Now,
	}
}

// diagnosis keeps a catalog disease over free text, the way prescribers enter
// it: a picked disease wins and a blank custom entry is dropped.
func diagnosis(diseaseID *uuid.UUID, custom *string) (*uuid.UUID, *string) {
	if diseaseID != nil {
		return diseaseID, nil
	}
	if custom != nil {
		if t := strings.TrimSpace(*custom); t != "" {
			return nil, &t
		}
	}
	return nil, nil
}

// Create issues a prescription and allocates every line. One failing line
// rejects the whole prescription.
func (s *PrescriptionService) Create(ctx context.Context, in CreatePrescriptionInput) (*Prescription, error) {
	if in.PatientID == uuid.Nil {
		return nil, apperr.Newf(ErrInvalidLine, "patient_id is required")
	}
	if len(in.Items) == 0 {
		return nil, apperr.Newf(ErrInvalidLine, "a prescription needs at least one item")
	}
	batchIDs := make([]uuid.UUID, 0, len(in.Items))
	for _, l := range in.Items {
		if err := l.Validate(); err != nil {
			return nil, err
		}
		batchIDs = append(batchIDs, l.InventoryItemID)
	}

	p := &Prescription{
		PatientID: in.PatientID,
		DoctorID:  in.DoctorID,
		IssueDate: s.now().UTC(),
		Notes:     in.Notes,
	}
	p.DiseaseID, p.CustomDisease = diagnosis(in.DiseaseID, in.CustomDisease)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.engine.LockBatches(ctx, batchIDs); err != nil {
			return err
		}
		if err := s.rx.Create(ctx, p); err != nil {
			return err
		}
		p.Items = make([]*PrescriptionItem, 0, len(in.Items))
		for _, l := range in.Items {
			item, err := s.engine.Allocate(ctx, p.ID, l)
			if err != nil {
				return err
			}
			p.Items = append(p.Items, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("prescription", p.ID.String()).Str("patient", p.PatientID.String()).
		Int("items", len(p.Items)).Msg("prescription issued")
	s.alerter.CheckBatches(ctx, batchIDs)
	return p, nil
}

func (s *PrescriptionService) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.rx.GetByID(ctx, id)
}

func (s *PrescriptionService) GetOwn(ctx context.Context, patientID, id uuid.UUID) (*Prescription, error) {
	p, err := s.rx.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.PatientID != patientID {
		return nil, ErrNotOwner
	}
	return p, nil
}

// rangeOf resolves an inclusive date range, defaulting to the last month.
func (s *PrescriptionService) rangeOf(from, to *time.Time) (time.Time, time.Time, error) {
	today := dateOf(s.now())
	start, end := today.AddDate(0, -1, 0), today
	if from != nil {
		start = dateOf(*from)
	}
	if to != nil {
		end = dateOf(*to)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, apperr.Newf(ErrInvalidRange, "range end %s is before start %s",
			end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return start, end.AddDate(0, 0, 1), nil
}

func (s *PrescriptionService) ListByPatient(ctx context.Context, patientID uuid.UUID, from, to *time.Time) ([]*Prescription, error) {
	start, end, err := s.rangeOf(from, to)
	if err != nil {
		return nil, err
	}
	return s.rx.ListByPatient(ctx, patientID, start, end)
}

func (s *PrescriptionService) ListInRange(ctx context.Context, from, to *time.Time, limit, offset int) ([]*Prescription, int, error) {
	start, end, err := s.rangeOf(from, to)
	if err != nil {
		return nil, 0, err
	}
	return s.rx.ListInRange(ctx, start, end, limit, offset)
}

// Update edits the header, reconciles edited lines against stock and
// allocates new lines, all or nothing.
func (s *PrescriptionService) Update(ctx context.Context, id uuid.UUID, in UpdatePrescriptionInput) (*Prescription, error) {
	for _, l := range in.NewItems {
		if err := l.Validate(); err != nil {
			return nil, err
		}
	}

	var debited []uuid.UUID
	var out *Prescription
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.rx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		var batchIDs []uuid.UUID
		for _, e := range in.UpdatedItems {
			item := p.Item(e.ID)
			if item == nil {
				return apperr.Newf(ErrLineNotFound, "prescription item %s not found on prescription %s", e.ID, id)
			}
			batchIDs = append(batchIDs, item.InventoryItemID)
			if e.InventoryItemID != nil {
				batchIDs = append(batchIDs, *e.InventoryItemID)
			}
		}
		for _, l := range in.NewItems {
			batchIDs = append(batchIDs, l.InventoryItemID)
		}
		if _, err := s.engine.LockBatches(ctx, batchIDs); err != nil {
			return err
		}

		if in.Notes != nil {
			p.Notes = in.Notes
		}
		if in.DiseaseID != nil || in.CustomDisease != nil {
			p.DiseaseID, p.CustomDisease = diagnosis(in.DiseaseID, in.CustomDisease)
		}
		if err := s.rx.Update(ctx, p); err != nil {
			return err
		}

		for _, e := range in.UpdatedItems {
			item := p.Item(e.ID)
			if e.InventoryItemID != nil && *e.InventoryItemID != item.InventoryItemID {
				err = s.engine.Rebatch(ctx, item, *e.InventoryItemID, e.Quantity, e.DosageInstructions, e.DaysSupply)
			} else {
				err = s.engine.ReconcileOnEdit(ctx, item, e.Quantity, e.DosageInstructions, e.DaysSupply)
			}
			if err != nil {
				return err
			}
			debited = append(debited, item.InventoryItemID)
		}
		for _, l := range in.NewItems {
			if _, err := s.engine.Allocate(ctx, p.ID, l); err != nil {
				return err
			}
			debited = append(debited, l.InventoryItemID)
		}

		out, err = s.rx.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("prescription", id.String()).Int("updated_items", len(in.UpdatedItems)).
		Int("new_items", len(in.NewItems)).Msg("prescription updated")
	s.alerter.CheckBatches(ctx, debited)
	return out, nil
}

// RemoveLine deletes one line and returns its units to the batch.
func (s *PrescriptionService) RemoveLine(ctx context.Context, id, lineID uuid.UUID) (*Prescription, error) {
	var out *Prescription
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.rx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		item := p.Item(lineID)
		if item == nil {
			return apperr.Newf(ErrLineNotFound, "prescription item %s not found on prescription %s", lineID, id)
		}
		if err := s.engine.Release(ctx, item); err != nil {
			return err
		}
		if err := s.rx.DeleteItem(ctx, lineID); err != nil {
			return err
		}
		out, err = s.rx.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a prescription and returns every line's units.
func (s *PrescriptionService) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.rx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		ids := make([]uuid.UUID, len(p.Items))
		for i, it := range p.Items {
			ids[i] = it.InventoryItemID
		}
		if _, err := s.engine.LockBatches(ctx, ids); err != nil {
			return err
		}
		for _, it := range p.Items {
			if err := s.engine.Release(ctx, it); err != nil {
				return err
			}
		}
		return s.rx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("prescription", id.String()).Msg("prescription deleted")
	return nil
}
