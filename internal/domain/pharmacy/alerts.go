package pharmacy

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/notification"
)

// Notifier delivers alert emails.
type Notifier interface {
	Notify(ctx context.Context, req notification.Request) (bool, error)
}

// AlertConfig sets the alert inbox and thresholds.
type AlertConfig struct {
	// Inbox receives stock alerts. Alerts are skipped when empty.
	Inbox         string
	LowStockRatio float64
	ExpiryWindow  time.Duration
}

// ScanResult counts the alerts one scan produced.
type ScanResult struct {
	LowStock   int `json:"low_stock"`
	Expiring   int `json:"expiring"`
	Suppressed int `json:"suppressed"`
	Failed     int `json:"failed"`
}

// Alerter emails the pharmacy inbox about low and expiring stock. Repeats for
// the same batch are suppressed by the Notifier's de-dup window.
type Alerter struct {
	inv    InventoryRepository
	notify Notifier
	cfg    AlertConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewAlerter creates an Alerter over the inventory.
func NewAlerter(inv InventoryRepository, notify Notifier, cfg AlertConfig, logger zerolog.Logger) *Alerter {
	return &Alerter{inv: inv, notify: notify, cfg: cfg, logger: logger, now: time.Now}
}

func lowStockKey(id uuid.UUID) string { return id.String() + "-LOW_STOCK" }
func expiringKey(id uuid.UUID) string { return id.String() + "-EXPIRING" }

// CheckBatches alerts on any of ids now under the low-stock ratio. It runs
// after the debit that caused it has committed.
func (a *Alerter) CheckBatches(ctx context.Context, ids []uuid.UUID) {
	if a == nil || a.cfg.Inbox == "" {
		return
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		item, err := a.inv.GetByID(ctx, id)
		if err != nil {
			a.logger.Warn().Err(err).Str("batch", id.String()).Msg("low stock check")
			continue
		}
		if item.IsLowStock(a.cfg.LowStockRatio) {
			var res ScanResult
			a.lowStock(ctx, item, &res)
		}
	}
}

// Scan checks every batch for low stock and for expiry inside the window.
func (a *Alerter) Scan(ctx context.Context) (ScanResult, error) {
	var res ScanResult
	if a.cfg.Inbox == "" {
		a.logger.Warn().Msg("no pharmacy inbox configured, skipping stock alerts")
		return res, nil
	}

	low, err := a.inv.List(ctx, InventoryFilter{LowStockRatio: a.cfg.LowStockRatio})
	if err != nil {
		return res, err
	}
	for _, item := range low {
		a.lowStock(ctx, item, &res)
	}

	today := dateOf(a.now())
	cutoff := today.Add(a.cfg.ExpiryWindow)
	expiring, err := a.inv.List(ctx, InventoryFilter{AvailableOn: &today, ExpiringBefore: &cutoff})
	if err != nil {
		return res, err
	}
	for _, item := range expiring {
		daysLeft := int(math.Ceil(item.ExpiryDate.Sub(today).Hours() / 24))
		a.send(ctx, notification.Request{
			TemplateID: notification.TemplateExpiringSoon,
			To:         a.cfg.Inbox,
			DedupKey:   expiringKey(item.ID),
			Data: map[string]string{
				"medicine":    item.MedicineName,
				"batch":       batchLabel(item),
				"expiry_date": item.ExpiryDate.Format(time.DateOnly),
				"days_left":   strconv.Itoa(daysLeft),
				"remaining":   strconv.Itoa(item.RemainingQuantity),
			},
		}, &res.Expiring, &res)
	}

	a.logger.Info().Int("low_stock", res.LowStock).Int("expiring", res.Expiring).
		Int("suppressed", res.Suppressed).Int("failed", res.Failed).Msg("stock alert scan finished")
	return res, nil
}

func (a *Alerter) lowStock(ctx context.Context, item *InventoryItem, res *ScanResult) {
	a.send(ctx, notification.Request{
		TemplateID: notification.TemplateLowStock,
		To:         a.cfg.Inbox,
		DedupKey:   lowStockKey(item.ID),
		Data: map[string]string{
			"medicine":  item.MedicineName,
			"batch":     batchLabel(item),
			"remaining": strconv.Itoa(item.RemainingQuantity),
			"quantity":  strconv.Itoa(item.Quantity),
		},
	}, &res.LowStock, res)
}

func (a *Alerter) send(ctx context.Context, req notification.Request, counter *int, res *ScanResult) {
	sent, err := a.notify.Notify(ctx, req)
	switch {
	case err != nil:
		res.Failed++
		a.logger.Warn().Err(err).Str("key", req.DedupKey).Msg("stock alert failed")
	case sent:
		*counter++
	default:
		res.Suppressed++
	}
}

func batchLabel(item *InventoryItem) string {
	if item.BatchNumber != nil && *item.BatchNumber != "" {
		return *item.BatchNumber
	}
	return item.ID.String()
}
