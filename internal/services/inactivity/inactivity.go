// Package inactivity помечает давно не проявлявшихся пользователей.
//
// Пользователь без взаимодействий дольше настроенного порога и без
// действующей подписки переводится в статус inactive. Статус чисто
// информационный и снимается при следующем взаимодействии.
package inactivity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avdeevlv/clubgate/internal/lib/sl"
	"github.com/avdeevlv/clubgate/internal/models"
)

// UserRepository определяет поиск и пометку неактивных пользователей.
type UserRepository interface {
	FindInactiveCandidates(ctx context.Context, cutoff time.Time) ([]*models.User, error)
	SetUserStatus(ctx context.Context, telegramID int64, status string) error
}

// Service детектор неактивных пользователей.
type Service struct {
	users          UserRepository
	inactivityDays int
	log            *slog.Logger
}

// New создает новый экземпляр Service.
func New(users UserRepository, inactivityDays int, log *slog.Logger) *Service {
	return &Service{users: users, inactivityDays: inactivityDays, log: log}
}

// Run выполняет один проход детектора относительно момента now.
func (s *Service) Run(ctx context.Context, now time.Time) error {
	const op = "inactivity.Run"

	cutoff := now.AddDate(0, 0, -s.inactivityDays)
	candidates, err := s.users.FindInactiveCandidates(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	marked := 0
	for _, user := range candidates {
		if err := s.users.SetUserStatus(ctx, user.TelegramID, models.UserStatusInactive); err != nil {
			s.log.Error("failed to mark user inactive", sl.UID(user.TelegramID), sl.Err(err))
			continue
		}
		marked++
	}

	s.log.Info("inactivity pass finished",
		slog.Int("candidates", len(candidates)), slog.Int("marked", marked))
	return nil
}
