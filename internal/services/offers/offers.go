// Package offers деактивирует акционные планы с истёкшим сроком действия.
package offers

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PlanRepository определяет деактивацию просроченных планов.
type PlanRepository interface {
	DeactivateExpiredOffers(ctx context.Context, now time.Time) (int, error)
}

// Service уборка просроченных акционных планов.
type Service struct {
	plans PlanRepository
	log   *slog.Logger
}

// New создает новый экземпляр Service.
func New(plans PlanRepository, log *slog.Logger) *Service {
	return &Service{plans: plans, log: log}
}

// Run деактивирует все планы, чей срок valid_until прошёл к моменту now.
func (s *Service) Run(ctx context.Context, now time.Time) error {
	const op = "offers.Run"

	deactivated, err := s.plans.DeactivateExpiredOffers(ctx, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if deactivated > 0 {
		s.log.Info("expired offers deactivated", slog.Int("count", deactivated))
	}
	return nil
}
