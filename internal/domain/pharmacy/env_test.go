package pharmacy

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/cache"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/db"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/notification"
)

var testNow = time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

const testInbox = "pharmacy@example.com"

type testEnv struct {
	tx      *db.MemTransactor
	inv     *MemInventoryRepo
	rx      *MemPrescriptionRepo
	stock   *InventoryService
	scripts *PrescriptionService
	alerter *Alerter
	sender  *notification.MockEmailSender
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tx := db.NewMemTransactor()
	inv, rx := NewMemRepos()
	clock := func() time.Time { return testNow }
	inv.s.now = clock

	sender := &notification.MockEmailSender{}
	dedup := cache.NewDeduper(cache.NewMemoryStore(), time.Hour)
	n := notification.NewNotifier(sender, notification.NewTemplateEngine(), dedup, zerolog.Nop())
	alerter := NewAlerter(inv, n, AlertConfig{Inbox: testInbox, LowStockRatio: 0.2, ExpiryWindow: 30 * 24 * time.Hour}, zerolog.Nop())
	alerter.now = clock

	stock := NewInventoryService(tx, inv, 0.2, zerolog.Nop())
	stock.now = clock
	scripts := NewPrescriptionService(tx, inv, rx, alerter, zerolog.Nop())
	scripts.now = clock
	scripts.engine.now = clock

	return &testEnv{tx: tx, inv: inv, rx: rx, stock: stock, scripts: scripts, alerter: alerter, sender: sender}
}

// receive stocks a batch of quantity units expiring a year out.
func (e *testEnv) receive(t *testing.T, name string, quantity int) *InventoryItem {
	t.Helper()
	item, err := e.stock.Receive(context.Background(), ReceiveInput{
		MedicineName: name,
		ExpiryDate:   testNow.AddDate(1, 0, 0),
		Quantity:     quantity,
		BuyPrice:     decimal.RequireFromString("1.50"),
		SellPrice:    decimal.RequireFromString("2.25"),
	})
	require.NoError(t, err)
	return item
}

func (e *testEnv) remaining(t *testing.T, id uuid.UUID) int {
	t.Helper()
	item, err := e.inv.GetByID(context.Background(), id)
	require.NoError(t, err)
	return item.RemainingQuantity
}

func (e *testEnv) prescribe(t *testing.T, patient uuid.UUID, lines ...LineInput) *Prescription {
	t.Helper()
	p, err := e.scripts.Create(context.Background(), CreatePrescriptionInput{
		PatientID: patient,
		DoctorID:  "dr-1",
		Items:     lines,
	})
	require.NoError(t, err)
	return p
}

func line(batch uuid.UUID, quantity int, instructions string, days int) LineInput {
	return LineInput{InventoryItemID: batch, Quantity: quantity, DosageInstructions: instructions, DaysSupply: days}
}
