// Package broadcast реализует массовую рассылку сообщений подписчикам.
//
// Отправка идёт строго последовательно с ограничением темпа, чтобы не
// упираться в лимиты Telegram на исходящие сообщения. Недоступные
// получатели помечаются общей процедурой доставки и не прерывают
// рассылку остальным.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/avdeevlv/clubgate/internal/lib/sl"
	"github.com/avdeevlv/clubgate/internal/telegram"
)

// UserRepository определяет выборку получателей рассылки.
type UserRepository interface {
	ListBroadcastRecipients(ctx context.Context) ([]int64, error)
}

// Messenger описывает доставку сообщения с общей обработкой
// недоступных получателей.
type Messenger interface {
	Send(ctx context.Context, userID int64, text string) (telegram.DeliveryStatus, error)
}

// Report итог одной рассылки.
type Report struct {
	Total     int `json:"total"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Service рассылка сообщений с ограничением темпа.
type Service struct {
	users     UserRepository
	messenger Messenger
	limiter   *rate.Limiter
	log       *slog.Logger
}

// New создает новый экземпляр Service. interval задаёт минимальную
// паузу между отправками соседним получателям.
func New(users UserRepository, messenger Messenger, interval time.Duration, log *slog.Logger) *Service {
	return &Service{
		users:     users,
		messenger: messenger,
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		log:       log,
	}
}

// Send рассылает text всем получателям, не заблокировавшим бота.
// Ошибка возвращается только если список получателей недоступен или
// рассылка прервана отменой контекста; сбои отдельных получателей
// учитываются в отчёте.
func (s *Service) Send(ctx context.Context, text string) (*Report, error) {
	const op = "broadcast.Send"

	recipients, err := s.users.ListBroadcastRecipients(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	report := &Report{Total: len(recipients)}
	for _, userID := range recipients {
		if err := s.limiter.Wait(ctx); err != nil {
			return report, fmt.Errorf("%s: %w", op, err)
		}

		status, err := s.messenger.Send(ctx, userID, text)
		if err != nil {
			s.log.Error("broadcast delivery failed", sl.UID(userID), sl.Err(err))
			report.Failed++
			continue
		}
		if status != telegram.Delivered {
			report.Failed++
			continue
		}
		report.Delivered++
	}

	s.log.Info("broadcast finished",
		slog.Int("total", report.Total),
		slog.Int("delivered", report.Delivered),
		slog.Int("failed", report.Failed))
	return report, nil
}
