package pharmacy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/apperr"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/notification"
)

func TestCreatePrescription(t *testing.T) {
	e := newTestEnv(t)
	batch := e.receive(t, "Amoxicillin", 100)
	patient := uuid.New()
	custom := "  seasonal flu "

	p, err := e.scripts.Create(context.Background(), CreatePrescriptionInput{
		PatientID:     patient,
		DoctorID:      "dr-7",
		CustomDisease: &custom,
		Items:         []LineInput{line(batch.ID, 2, "BD", 5)},
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, "dr-7", p.DoctorID)
	require.NotNil(t, p.CustomDisease)
	assert.Equal(t, "seasonal flu", *p.CustomDisease)
	require.Len(t, p.Items, 1)
	assert.Equal(t, 20, p.Items[0].TotalQuantity)
	assert.Equal(t, "Amoxicillin", p.Items[0].MedicineName)
	assert.Equal(t, 80, e.remaining(t, batch.ID))
}

func TestCreatePrescription_DiseaseWinsOverCustom(t *testing.T) {
	e := newTestEnv(t)
	batch := e.receive(t, "Amoxicillin", 10)
	disease := uuid.New()
	custom := "something else"

	p, err := e.scripts.Create(context.Background(), CreatePrescriptionInput{
		PatientID:     uuid.New(),
		DiseaseID:     &disease,
		CustomDisease: &custom,
		Items:         []LineInput{line(batch.ID, 1, "OD", 1)},
	})
	require.NoError(t, err)
	assert.Equal(t, &disease, p.DiseaseID)
	assert.Nil(t, p.CustomDisease)
}

func TestCreatePrescription_Validation(t *testing.T) {
	e := newTestEnv(t)
	batch := e.receive(t, "Amoxicillin", 10)

	tests := []struct {
		name string
		in   CreatePrescriptionInput
	}{
		{"no patient", CreatePrescriptionInput{Items: []LineInput{line(batch.ID, 1, "OD", 1)}}},
		{"no items", CreatePrescriptionInput{PatientID: uuid.New()}},
		{"zero quantity", CreatePrescriptionInput{PatientID: uuid.New(), Items: []LineInput{line(batch.ID, 0, "OD", 1)}}},
		{"zero days", CreatePrescriptionInput{PatientID: uuid.New(), Items: []LineInput{line(batch.ID, 1, "OD", 0)}}},
		{"no batch", CreatePrescriptionInput{PatientID: uuid.New(), Items: []LineInput{line(uuid.Nil, 1, "OD", 1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.scripts.Create(context.Background(), tt.in)
			assert.True(t, errors.Is(err, ErrInvalidLine), "got %v", err)
		})
	}
	assert.Equal(t, 10, e.remaining(t, batch.ID))
}

func TestCreatePrescription_UnknownBatch(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.scripts.Create(context.Background(), CreatePrescriptionInput{
		PatientID: uuid.New(),
		Items:     []LineInput{line(uuid.New(), 1, "OD", 1)},
	})
	assert.True(t, errors.Is(err, ErrInventoryNotFound))
}

func TestUpdatePrescription_HeaderAndNewLines(t *testing.T) {
	e := newTestEnv(t)
	a := e.receive(t, "Amoxicillin", 50)
	b := e.receive(t, "Paracetamol", 50)
	p := e.prescribe(t, uuid.New(), line(a.ID, 1, "OD", 5))

	notes := "review in a week"
	p, err := e.scripts.Update(context.Background(), p.ID, UpdatePrescriptionInput{
		Notes:    &notes,
		NewItems: []LineInput{line(b.ID, 2, "TDS", 3)},
	})
	require.NoError(t, err)
	require.NotNil(t, p.Notes)
	assert.Equal(t, notes, *p.Notes)
	require.Len(t, p.Items, 2)
	assert.Equal(t, 2, p.Items[1].LineNo)
	assert.Equal(t, 18, p.Items[1].TotalQuantity)
	assert.Equal(t, 32, e.remaining(t, b.ID))
}

func TestUpdatePrescription_UnknownLine(t *testing.T) {
	e := newTestEnv(t)
	a := e.receive(t, "Amoxicillin", 50)
	p := e.prescribe(t, uuid.New(), line(a.ID, 1, "OD", 5))

	_, err := e.scripts.Update(context.Background(), p.ID, UpdatePrescriptionInput{
		UpdatedItems: []LineEdit{{ID: uuid.New(), Quantity: 1, DosageInstructions: "OD", DaysSupply: 1}},
	})
	assert.True(t, errors.Is(err, ErrLineNotFound))

	_, err = e.scripts.Update(context.Background(), uuid.New(), UpdatePrescriptionInput{})
	assert.True(t, errors.Is(err, ErrPrescriptionNotFound))
}

func TestUpdatePrescription_FailedNewLineRollsBackEdits(t *testing.T) {
	e := newTestEnv(t)
	a := e.receive(t, "Amoxicillin", 50)
	scarce := e.receive(t, "Ibuprofen", 1)
	p := e.prescribe(t, uuid.New(), line(a.ID, 1, "OD", 5))

	notes := "changed"
	_, err := e.scripts.Update(context.Background(), p.ID, UpdatePrescriptionInput{
		Notes:        &notes,
		UpdatedItems: []LineEdit{{ID: p.Items[0].ID, Quantity: 1, DosageInstructions: "BD", DaysSupply: 5}},
		NewItems:     []LineInput{line(scarce.ID, 1, "BD", 1)},
	})
	assert.True(t, errors.Is(err, ErrInsufficientStock))

	got, err := e.scripts.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Notes)
	assert.Len(t, got.Items, 1)
	assert.Equal(t, 5, got.Items[0].TotalQuantity)
	assert.Equal(t, 45, e.remaining(t, a.ID))
	assert.Equal(t, 1, e.remaining(t, scarce.ID))
}

func TestGetOwn(t *testing.T) {
	e := newTestEnv(t)
	batch := e.receive(t, "Amoxicillin", 50)
	owner := uuid.New()
	p := e.prescribe(t, owner, line(batch.ID, 1, "OD", 5))

	got, err := e.scripts.GetOwn(context.Background(), owner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = e.scripts.GetOwn(context.Background(), uuid.New(), p.ID)
	assert.True(t, errors.Is(err, ErrNotOwner))
}

func TestListByPatient_DefaultsToLastMonth(t *testing.T) {
	e := newTestEnv(t)
	batch := e.receive(t, "Amoxicillin", 500)
	patient := uuid.New()

	old := e.prescribe(t, patient, line(batch.ID, 1, "OD", 1))
	recent := e.prescribe(t, patient, line(batch.ID, 1, "OD", 1))
	e.prescribe(t, uuid.New(), line(batch.ID, 1, "OD", 1))

	// backdate the first one past the default window
	err := e.tx.WithinTx(context.Background(), func(ctx context.Context) error {
		p, err := e.rx.GetForUpdate(ctx, old.ID)
		if err != nil {
			return err
		}
		p.IssueDate = testNow.AddDate(0, -2, 0)
		return e.rx.Update(ctx, p)
	})
	require.NoError(t, err)

	list, err := e.scripts.ListByPatient(context.Background(), patient, nil, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, recent.ID, list[0].ID)

	from := testNow.AddDate(0, -3, 0)
	list, err = e.scripts.ListByPatient(context.Background(), patient, &from, nil)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	to := from.AddDate(0, 0, -1)
	_, err = e.scripts.ListByPatient(context.Background(), patient, &from, &to)
	assert.True(t, errors.Is(err, ErrInvalidRange))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestListInRange_Pages(t *testing.T) {
	e := newTestEnv(t)
	batch := e.receive(t, "Amoxicillin", 500)
	for i := 0; i < 5; i++ {
		e.prescribe(t, uuid.New(), line(batch.ID, 1, "OD", 1))
	}

	page, total, err := e.scripts.ListInRange(context.Background(), nil, nil, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 1)
}

func TestCreatePrescription_LowStockAlertOnce(t *testing.T) {
	e := newTestEnv(t)
	batch := e.receive(t, "Insulin", 50)

	e.prescribe(t, uuid.New(), line(batch.ID, 1, "OD", 30))
	assert.Empty(t, e.sender.Sent(), "20 of 50 left is above the threshold")

	e.prescribe(t, uuid.New(), line(batch.ID, 1, "OD", 15))
	sent := e.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notification.TemplateLowStock, sent[0].TemplateID)
	assert.Equal(t, testInbox, sent[0].To)
	assert.Equal(t, "5", sent[0].Data["remaining"])

	// still low, but inside the de-dup window
	e.prescribe(t, uuid.New(), line(batch.ID, 1, "OD", 1))
	assert.Len(t, e.sender.Sent(), 1)
}

func TestCreatePrescription_AlertFailureDoesNotFailIssue(t *testing.T) {
	e := newTestEnv(t)
	e.sender.ShouldFail = true
	batch := e.receive(t, "Insulin", 10)

	p, err := e.scripts.Create(context.Background(), CreatePrescriptionInput{
		PatientID: uuid.New(),
		Items:     []LineInput{line(batch.ID, 1, "OD", 9)},
	})
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Equal(t, 1, e.remaining(t, batch.ID))
}

func TestPrescriptionService_NilAlerter(t *testing.T) {
	e := newTestEnv(t)
	svc := NewPrescriptionService(e.tx, e.inv, e.rx, nil, e.scripts.logger)
	svc.now = func() time.Time { return testNow }
	svc.engine.now = svc.now
	batch := e.receive(t, "Insulin", 10)

	_, err := svc.Create(context.Background(), CreatePrescriptionInput{
		PatientID: uuid.New(),
		Items:     []LineInput{line(batch.ID, 1, "OD", 9)},
	})
	require.NoError(t, err)
	assert.Empty(t, e.sender.Sent())
}
