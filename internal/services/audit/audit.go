// Package audit публикует записи журнала аудита в очередь событий.
// Сам журнал пишет отдельный потребитель (cmd/audit-writer):
// движок только дописывает события, ничего не читая обратно.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/avdeevlv/clubgate/internal/lib/rabbitmq"
	"github.com/avdeevlv/clubgate/internal/models"
)

// Publisher отправляет записи аудита в exchange "events".
type Publisher struct {
	ch  *amqp.Channel
	log *slog.Logger
	now func() time.Time
}

// NewPublisher создает новый экземпляр Publisher.
func NewPublisher(ch *amqp.Channel, log *slog.Logger) *Publisher {
	return &Publisher{
		ch:  ch,
		log: log,
		now: time.Now,
	}
}

// Record публикует запись аудита. Отметка времени проставляется здесь,
// чтобы порядок событий отражал момент действия, а не момент записи в базу.
func (p *Publisher) Record(_ context.Context, entry models.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = p.now()
	}
	return rabbitmq.PublishMessage(p.ch, rabbitmq.EventsExchange, rabbitmq.AuditRoutingKey, entry)
}
