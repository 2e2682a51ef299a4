// Package auditwriter содержит потребитель событий аудита: читает
// записи из брокера и складывает их в журнал аудита в хранилище.
package auditwriter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/avdeevlv/clubgate/internal/config"
	"github.com/avdeevlv/clubgate/internal/lib/rabbitmq"
	"github.com/avdeevlv/clubgate/internal/lib/sl"
	"github.com/avdeevlv/clubgate/internal/models"
	"github.com/avdeevlv/clubgate/internal/storage/repository"
)

// App приложение-потребитель журнала аудита.
type App struct {
	db     *repository.Storage
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
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
func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetAuditQueues())
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err := waitForDB(db); err != nil {
		closeResources(ch, conn, logger)
		return nil, err
	}

	return &App{
		db:     db,
		conn:   conn,
		ch:     ch,
		logger: logger,
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

// Run запускает потребление очереди аудита и блокируется до отмены
// контекста.
func (a *App) Run(ctx context.Context) error {
	go func() {
		err := rabbitmq.ConsumeMessages(ctx, a.ch, rabbitmq.AuditQueue, a.handleMessage(ctx))
		if err != nil {
			a.logger.Error("audit consumer stopped", sl.Err(err))
		}
	}()

	<-ctx.Done()

	a.logger.Info("shutting down audit writer")
	closeResources(a.ch, a.conn, a.logger)
	if err := a.db.DB.Close(); err != nil {
		a.logger.Error("failed to close storage", "error", err)
	}
	return nil
}

func (a *App) handleMessage(ctx context.Context) func([]byte) error {
	return func(body []byte) error {
		var entry models.AuditEntry
		if err := json.Unmarshal(body, &entry); err != nil {
			// Неразбираемое сообщение перепоставкой не лечится.
			a.logger.Error("failed to decode audit entry", sl.Err(err))
			return nil
		}

		id, err := a.db.InsertAuditEntry(ctx, entry)
		if err != nil {
			a.logger.Error("failed to insert audit entry", sl.Err(err))
			return err
		}
		a.logger.Debug("audit entry stored", slog.Int("id", id),
			slog.String("action", entry.Action))
		return nil
	}
}
