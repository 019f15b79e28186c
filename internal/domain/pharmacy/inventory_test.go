package pharmacy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceive(t *testing.T) {
	e := newTestEnv(t)
	batchNo := "LOT-42"

	item, err := e.stock.Receive(context.Background(), ReceiveInput{
		MedicineName: " Amoxicillin 500mg ",
		BatchNumber:  &batchNo,
		ExpiryDate:   testNow.AddDate(0, 6, 0),
		Quantity:     200,
		BuyPrice:     decimal.RequireFromString("0.35"),
		SellPrice:    decimal.RequireFromString("0.60"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Amoxicillin 500mg", item.MedicineName)
	assert.Equal(t, 200, item.RemainingQuantity)
	assert.Equal(t, dateOf(testNow), item.ReceivedDate)

	// same medicine, different case: one catalog entry
	again := e.receive(t, "AMOXICILLIN 500MG", 10)
	assert.Equal(t, item.MedicineID, again.MedicineID)

	list, err := e.stock.List(context.Background(), &item.MedicineID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestReceive_Rejects(t *testing.T) {
	e := newTestEnv(t)
	base := ReceiveInput{
		MedicineName: "Paracetamol",
		ExpiryDate:   testNow.AddDate(1, 0, 0),
		Quantity:     10,
	}

	tests := []struct {
		name   string
		mutate func(*ReceiveInput)
		want   error
	}{
		{"blank name", func(in *ReceiveInput) { in.MedicineName = "  " }, ErrInvalidBatch},
		{"zero quantity", func(in *ReceiveInput) { in.Quantity = 0 }, ErrInvalidBatch},
		{"negative price", func(in *ReceiveInput) { in.BuyPrice = decimal.NewFromInt(-1) }, ErrInvalidBatch},
		{"already expired", func(in *ReceiveInput) { in.ExpiryDate = testNow.AddDate(0, 0, -1) }, ErrBatchExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			_, err := e.stock.Receive(context.Background(), in)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	// expiring today is still receivable
	in := base
	in.ExpiryDate = testNow
	_, err := e.stock.Receive(context.Background(), in)
	assert.NoError(t, err)
}

func TestUpdateBatch_Restock(t *testing.T) {
	e := newTestEnv(t)
	batch := e.receive(t, "Paracetamol", 100)
	e.prescribe(t, uuid.New(), line(batch.ID, 1, "OD", 30))

	add := 50
	price := decimal.RequireFromString("2.75")
	item, err := e.stock.UpdateBatch(context.Background(), batch.ID, BatchUpdate{AdditionalQuantity: &add, SellPrice: &price})
	require.NoError(t, err)
	assert.Equal(t, 150, item.Quantity)
	assert.Equal(t, 120, item.RemainingQuantity)
	assert.True(t, price.Equal(item.SellPrice))

	zero := 0
	_, err = e.stock.UpdateBatch(context.Background(), batch.ID, BatchUpdate{AdditionalQuantity: &zero})
	assert.True(t, errors.Is(err, ErrInvalidBatch))

	past := testNow.AddDate(0, 0, -3)
	_, err = e.stock.UpdateBatch(context.Background(), batch.ID, BatchUpdate{ExpiryDate: &past})
	assert.True(t, errors.Is(err, ErrInvalidBatch))

	_, err = e.stock.UpdateBatch(context.Background(), uuid.New(), BatchUpdate{AdditionalQuantity: &add})
	assert.True(t, errors.Is(err, ErrInventoryNotFound))
}

func TestDeleteBatch(t *testing.T) {
	e := newTestEnv(t)
	unused := e.receive(t, "Paracetamol", 10)
	used := e.receive(t, "Ibuprofen", 10)
	p := e.prescribe(t, uuid.New(), line(used.ID, 1, "OD", 1))

	require.NoError(t, e.stock.Delete(context.Background(), unused.ID))
	_, err := e.stock.Get(context.Background(), unused.ID)
	assert.True(t, errors.Is(err, ErrInventoryNotFound))

	err = e.stock.Delete(context.Background(), used.ID)
	assert.True(t, errors.Is(err, ErrItemReferenced))

	// once the prescription is gone the batch can go too
	require.NoError(t, e.scripts.Delete(context.Background(), p.ID))
	assert.NoError(t, e.stock.Delete(context.Background(), used.ID))
}

func TestInventoryQueries(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	healthy := e.receive(t, "Paracetamol", 100)
	low := e.receive(t, "Ibuprofen", 100)
	e.prescribe(t, uuid.New(), line(low.ID, 1, "OD", 85))
	empty := e.receive(t, "Cetirizine", 5)
	e.prescribe(t, uuid.New(), line(empty.ID, 1, "OD", 5))
	soon, err := e.stock.Receive(ctx, ReceiveInput{
		MedicineName: "Insulin",
		ExpiryDate:   testNow.AddDate(0, 0, 10),
		Quantity:     20,
	})
	require.NoError(t, err)

	available, err := e.stock.Available(ctx)
	require.NoError(t, err)
	ids := idsOf(available)
	assert.ElementsMatch(t, []uuid.UUID{healthy.ID, low.ID, soon.ID}, ids)
	assert.Equal(t, soon.ID, available[0].ID, "soonest expiry first")

	lows, err := e.stock.LowStock(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{low.ID, empty.ID}, idsOf(lows))

	expiring, err := e.stock.Expiring(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{soon.ID}, idsOf(expiring))

	expiring, err = e.stock.Expiring(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, expiring)

	_, err = e.stock.Expiring(ctx, -1)
	assert.Error(t, err)
}

func TestValuation(t *testing.T) {
	e := newTestEnv(t)
	a := e.receive(t, "Paracetamol", 10) // 1.50 / 2.25 each
	e.receive(t, "Ibuprofen", 4)
	e.prescribe(t, uuid.New(), line(a.ID, 1, "OD", 6))

	v, err := e.stock.Valuation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v.Batches)
	assert.Equal(t, 8, v.Units)
	assert.Equal(t, "12", v.Cost.String())
	assert.Equal(t, "18", v.Retail.String())
}

func TestInventoryItem_JSONDates(t *testing.T) {
	item := InventoryItem{
		ID:           uuid.New(),
		ExpiryDate:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		ReceivedDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		BuyPrice:     decimal.RequireFromString("1.10"),
	}
	b, err := item.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"expiry_date":"2025-01-31"`)
	assert.Contains(t, string(b), `"received_date":"2024-03-01"`)
}

func idsOf(items []*InventoryItem) []uuid.UUID {
	out := make([]uuid.UUID, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
