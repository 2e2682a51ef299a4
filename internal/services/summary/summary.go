// Package summary формирует ежедневную сводку по состоянию базы
// подписчиков и отправляет её в сервисный канал администраторов.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avdeevlv/clubgate/internal/models"
)

// UserRepository определяет агрегаты по пользователям.
type UserRepository interface {
	CountUsersByStatus(ctx context.Context) (map[string]int, error)
}

// SubscriptionRepository определяет агрегаты по подпискам.
type SubscriptionRepository interface {
	CountSubscriptionsByStatus(ctx context.Context) (map[string]int, error)
	CountExpiringOn(ctx context.Context, day time.Time) (int, error)
}

// Alerter описывает отправку сообщения в сервисный канал.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Service ежедневная сводка для администраторов.
type Service struct {
	users   UserRepository
	subs    SubscriptionRepository
	alerter Alerter
	log     *slog.Logger
}

// New создает новый экземпляр Service.
func New(users UserRepository, subs SubscriptionRepository, alerter Alerter, log *slog.Logger) *Service {
	return &Service{users: users, subs: subs, alerter: alerter, log: log}
}

// Run собирает сводку на момент now и отправляет её в сервисный канал.
func (s *Service) Run(ctx context.Context, now time.Time) error {
	const op = "summary.Run"

	userCounts, err := s.users.CountUsersByStatus(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	subCounts, err := s.subs.CountSubscriptionsByStatus(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	expiringTomorrow, err := s.subs.CountExpiringOn(ctx, now.AddDate(0, 0, 1))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	text := render(now, userCounts, subCounts, expiringTomorrow)
	if err := s.alerter.Alert(ctx, text); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("daily summary sent")
	return nil
}

func render(now time.Time, userCounts, subCounts map[string]int, expiringTomorrow int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Сводка за %s\n\n", now.Format("02.01.2006"))
	fmt.Fprintf(&b, "Пользователи: активных %d, в grace %d, истекших %d, заблокировали бота %d\n",
		userCounts[models.UserStatusActive],
		subCounts[models.SubscriptionStatusGrace],
		userCounts[models.UserStatusExpired],
		userCounts[models.UserStatusBlocked])
	fmt.Fprintf(&b, "Подписки: активных %d, в grace %d, истекших %d\n",
		subCounts[models.SubscriptionStatusActive],
		subCounts[models.SubscriptionStatusGrace],
		subCounts[models.SubscriptionStatusExpired])
	fmt.Fprintf(&b, "Истекает завтра: %d", expiringTomorrow)
	return b.String()
}
