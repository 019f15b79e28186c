package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/codeDulan/Dispensary-Management-System/internal/config"
	"github.com/codeDulan/Dispensary-Management-System/internal/domain/pharmacy"
	"github.com/codeDulan/Dispensary-Management-System/internal/domain/scheduling"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/cache"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/db"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/notification"
)

const scanLockKey = "alerts:scan"

// app holds the wired services shared by the server and the CLI commands.
type app struct {
	logger zerolog.Logger
	// pool is nil on the in-process store.
	pool          *pgxpool.Pool
	cache         cache.Store
	notifier      *notification.Notifier
	appointments  *scheduling.Service
	inventory     *pharmacy.InventoryService
	prescriptions *pharmacy.PrescriptionService
	alerter       *pharmacy.Alerter
	closers       []func()
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{logger: logger}
	if err := a.wire(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cfg *config.Config) error {
	logger := a.logger

	var (
		tx    db.Transactor
		appts scheduling.AppointmentRepository
		inv   pharmacy.InventoryRepository
		rx    pharmacy.PrescriptionRepository
	)
	switch cfg.Store {
	case config.StoreMemory:
		tx = db.NewMemTransactor()
		appts = scheduling.NewMemAppointmentRepo()
		inv, rx = pharmacy.NewMemRepos()
		logger.Warn().Msg("using the in-process store, data is lost on restart")
	default:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		logger.Info().Msg("connected to database")

		tx = db.NewPGTransactor(pool)
		appts = scheduling.NewAppointmentRepoPG(pool)
		inv = pharmacy.NewInventoryRepoPG(pool)
		rx = pharmacy.NewPrescriptionRepoPG(pool)
	}

	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.cache = cache.NewRedisStore(client, "dms:")
		logger.Info().Msg("connected to redis")
	} else {
		mem := cache.NewMemoryStore()
		cleanupCtx, cancel := context.WithCancel(context.Background())
		mem.StartCleanup(cleanupCtx, time.Minute)
		a.closers = append(a.closers, cancel)
		a.cache = mem
	}

	var sender notification.EmailSender
	if cfg.AMQPURL != "" {
		s, err := notification.NewAMQPSender(cfg.AMQPURL, cfg.NotifyQueue)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		sender = s
		logger.Info().Str("queue", cfg.NotifyQueue).Msg("publishing email to rabbitmq")
	} else {
		sender = notification.NewLogSender(logger)
	}

	dedup := cache.NewDeduper(a.cache, cfg.AlertDedupTTL)
	a.notifier = notification.NewNotifier(sender, notification.NewTemplateEngine(), dedup, logger)

	a.alerter = pharmacy.NewAlerter(inv, a.notifier, pharmacy.AlertConfig{
		Inbox:         cfg.PharmacyEmail,
		LowStockRatio: cfg.LowStockRatio,
		ExpiryWindow:  time.Duration(cfg.ExpiryWindowDays) * 24 * time.Hour,
	}, logger)
	a.appointments = scheduling.NewService(tx, appts, a.notifier, logger)
	a.inventory = pharmacy.NewInventoryService(tx, inv, cfg.LowStockRatio, logger)
	a.prescriptions = pharmacy.NewPrescriptionService(tx, inv, rx, a.alerter, logger)
	return nil
}

// scanAlerts runs one stock alert scan unless another instance holds the
// scan lock.
func (a *app) scanAlerts(ctx context.Context) (pharmacy.ScanResult, bool, error) {
	claimed, err := a.cache.SetNX(ctx, scanLockKey, []byte(time.Now().UTC().Format(time.RFC3339)), 5*time.Minute)
	if err != nil {
		return pharmacy.ScanResult{}, false, fmt.Errorf("claim scan lock: %w", err)
	}
	if !claimed {
		return pharmacy.ScanResult{}, false, nil
	}
	defer func() {
		if err := a.cache.Delete(context.WithoutCancel(ctx), scanLockKey); err != nil {
			a.logger.Warn().Err(err).Msg("release scan lock")
		}
	}()

	res, err := a.alerter.Scan(ctx)
	return res, true, err
}

// Close runs the registered closers in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
