// Package clubgate собирает основной процесс: хранилище, кеш, брокер,
// шлюз Telegram, движки жизненного цикла подписок, планировщик их
// суточных запусков и административный HTTP-сервер.
package clubgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/streadway/amqp"

	"github.com/avdeevlv/clubgate/internal/config"
	"github.com/avdeevlv/clubgate/internal/lib/rabbitmq"
	"github.com/avdeevlv/clubgate/internal/migrations"
	"github.com/avdeevlv/clubgate/internal/scheduler"
	approvalservice "github.com/avdeevlv/clubgate/internal/services/approval"
	auditservice "github.com/avdeevlv/clubgate/internal/services/audit"
	broadcastservice "github.com/avdeevlv/clubgate/internal/services/broadcast"
	graceservice "github.com/avdeevlv/clubgate/internal/services/grace"
	inactivityservice "github.com/avdeevlv/clubgate/internal/services/inactivity"
	notifyservice "github.com/avdeevlv/clubgate/internal/services/notify"
	offersservice "github.com/avdeevlv/clubgate/internal/services/offers"
	reconcileservice "github.com/avdeevlv/clubgate/internal/services/reconcile"
	referralservice "github.com/avdeevlv/clubgate/internal/services/referral"
	reminderservice "github.com/avdeevlv/clubgate/internal/services/reminder"
	summaryservice "github.com/avdeevlv/clubgate/internal/services/summary"
	"github.com/avdeevlv/clubgate/internal/storage/cache"
	"github.com/avdeevlv/clubgate/internal/storage/repository"
	"github.com/avdeevlv/clubgate/internal/telegram"
)

// App основной процесс сервиса.
type App struct {
	server    *http.Server
	scheduler *scheduler.Scheduler
	db        *repository.Storage
	conn      *amqp.Connection
	ch        *amqp.Channel
	logger    *slog.Logger
}

func waitForDB(db *repository.Storage) error {
	for range 10 {
		err := repository.CheckDatabaseReady(db)
		if err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр приложения.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err := waitForDB(db); err != nil {
		return nil, err
	}
	if err := migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetAuditQueues())
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	gateway, err := telegram.New(cfg.BotToken, cfg.GroupChatID)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("failed to init telegram gateway: %w", err)
	}

	auditPublisher := auditservice.NewPublisher(ch, logger)
	notify := notifyservice.New(gateway, db, auditPublisher, cfg.LogChannelChatID, logger)
	referral := referralservice.New(db, db, notify, auditPublisher, cfg.ReferralBonusDays, logger)
	approval := approvalservice.New(db, db, db, gateway, notify, referral,
		auditPublisher, cfg.InviteTTL, logger)
	broadcast := broadcastservice.New(db, notify, cfg.BroadcastInterval, logger)

	reminder := reminderservice.New(db, db, notify, logger)
	grace := graceservice.New(db, db, gateway, notify, auditPublisher, cfg.GracePeriodDays, logger)
	reconcile := reconcileservice.New(db, gateway, notify, auditPublisher, cfg.InviteTTL, logger)
	inactivity := inactivityservice.New(db, cfg.InactivityDays, logger)
	summary := summaryservice.New(db, db, notify, logger)
	offers := offersservice.New(db, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	sched := scheduler.New(time.Local, registry, logger)
	jobs := []scheduler.Job{
		{Name: "reminders", At: cfg.RemindersAt, Run: func(ctx context.Context, now time.Time) error {
			reminder.Run(ctx, now)
			return nil
		}},
		{Name: "grace", At: cfg.GraceAt, Run: func(ctx context.Context, now time.Time) error {
			grace.Run(ctx, now)
			return nil
		}},
		{Name: "reconcile", At: cfg.ReconcileAt, Run: func(ctx context.Context, now time.Time) error {
			reconcile.Run(ctx, now)
			return nil
		}},
		{Name: "inactivity", At: cfg.InactivityAt, Run: inactivity.Run},
		{Name: "summary", At: cfg.SummaryAt, Run: summary.Run},
		{Name: "offer_sweep", At: cfg.OfferSweepAt, Run: offers.Run},
	}
	for _, job := range jobs {
		if err := sched.AddJob(ctx, job); err != nil {
			closeResources(ch, conn, logger)
			return nil, fmt.Errorf("failed to schedule job %s: %w", job.Name, err)
		}
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, approval, broadcast, cacheRedis, registry)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:    srv,
		scheduler: sched,
		db:        db,
		conn:      conn,
		ch:        ch,
		logger:    logger,
	}, nil
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", "error", err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", "error", err)
		}
	}
}

// Run запускает планировщик и HTTP-сервер; блокируется до отмены
// контекста, затем останавливает всё корректно.
func (a *App) Run(ctx context.Context) error {
	go a.scheduler.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down gracefully")
		err := a.server.Shutdown(timeoutCtx)
		closeResources(a.ch, a.conn, a.logger)
		if dbErr := a.db.DB.Close(); dbErr != nil {
			a.logger.Error("failed to close storage", "error", dbErr)
		}
		return err
	}
}
