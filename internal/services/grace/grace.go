// Package grace реализует машину состояний льготного периода подписки.
//
// Переходы: active → grace → expired. Прямого перехода active → expired
// нет: истечение всегда проходит через льготный период. Джоб запускается
// раз в сутки; граница с напоминанием "день 0" проведена так: день
// окончания подписки целиком принадлежит джобу напоминаний, льготный
// период начинается со следующего календарного дня.
package grace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avdeevlv/clubgate/internal/lib/sl"
	"github.com/avdeevlv/clubgate/internal/models"
	"github.com/avdeevlv/clubgate/internal/telegram"
)

// SubscriptionRepository определяет переходы жизненного цикла подписки.
type SubscriptionRepository interface {
	FindExpiredActive(ctx context.Context, today time.Time) ([]*models.Subscription, error)
	StartGrace(ctx context.Context, id int) (int, error)
	FindInGrace(ctx context.Context) ([]*models.Subscription, error)
	SetGraceNotified(ctx context.Context, id int, stage int, graceDaysUsed int) error
	ExpireFromGrace(ctx context.Context, id int, graceDaysUsed int) (int, error)
}

// UserRepository определяет зеркалирование статуса на пользователя.
type UserRepository interface {
	SetUserExpired(ctx context.Context, telegramID int64, graceDaysRemaining int) error
}

// Membership описывает удаление участника из группы.
type Membership interface {
	RemoveMember(ctx context.Context, userID int64) error
}

// Messenger описывает доставку сообщения с общей обработкой
// недоступных получателей.
type Messenger interface {
	Send(ctx context.Context, userID int64, text string) (telegram.DeliveryStatus, error)
}

// Auditor описывает запись в журнал аудита.
type Auditor interface {
	Record(ctx context.Context, entry models.AuditEntry) error
}

// Service суточный джоб льготного периода.
type Service struct {
	subs            SubscriptionRepository
	users           UserRepository
	membership      Membership
	messenger       Messenger
	audit           Auditor
	gracePeriodDays int
	log             *slog.Logger
}

// New создает новый экземпляр Service.
func New(subs SubscriptionRepository, users UserRepository, membership Membership,
	messenger Messenger, audit Auditor, gracePeriodDays int, log *slog.Logger) *Service {
	return &Service{
		subs:            subs,
		users:           users,
		membership:      membership,
		messenger:       messenger,
		audit:           audit,
		gracePeriodDays: gracePeriodDays,
		log:             log,
	}
}

// Run выполняет один полный проход: сначала вход в льготный период
// для свежеистёкших подписок, затем обработка всех подписок в grace.
// Ошибка одного кандидата не прерывает обработку остальных.
func (s *Service) Run(ctx context.Context, now time.Time) {
	s.log.Info("starting grace period sweep")

	s.enterGrace(ctx, now)
	s.processInGrace(ctx, now)

	s.log.Info("grace period sweep finished")
}

func (s *Service) enterGrace(ctx context.Context, now time.Time) {
	subs, err := s.subs.FindExpiredActive(ctx, now)
	if err != nil {
		s.log.Error("failed to find expired active subscriptions", sl.Err(err))
		return
	}
	for _, sub := range subs {
		rows, err := s.subs.StartGrace(ctx, sub.ID)
		if err != nil {
			s.log.Error("failed to start grace", sl.Sub(sub.ID), sl.Err(err))
			continue
		}
		if rows == 0 {
			// Запись успели продлить между выборкой и обновлением.
			continue
		}
		s.log.Info("subscription entered grace period", sl.Sub(sub.ID), sl.UID(sub.UserID))

		if err := s.users.SetUserExpired(ctx, sub.UserID, s.gracePeriodDays); err != nil {
			s.log.Error("failed to mirror user status", sl.UID(sub.UserID), sl.Err(err))
		}
		if _, err := s.messenger.Send(ctx, sub.UserID, graceStartedText(s.gracePeriodDays)); err != nil {
			s.log.Error("failed to deliver grace start notice", sl.UID(sub.UserID), sl.Err(err))
		}
	}
}

func (s *Service) processInGrace(ctx context.Context, now time.Time) {
	subs, err := s.subs.FindInGrace(ctx)
	if err != nil {
		s.log.Error("failed to find subscriptions in grace", sl.Err(err))
		return
	}
	for _, sub := range subs {
		s.processCandidate(ctx, sub, now)
	}
}

func (s *Service) processCandidate(ctx context.Context, sub *models.Subscription, now time.Time) {
	days := daysSinceExpiry(sub.ExpiryDate, now)

	switch {
	case days >= s.gracePeriodDays:
		s.expire(ctx, sub, days)
	case days == s.gracePeriodDays-1 && !sub.GraceNotifiedDay2:
		s.warn(ctx, sub, 2, days, finalWarningText())
	case days == 1 && !sub.GraceNotifiedDay1:
		s.warn(ctx, sub, 1, days, earlyWarningText(s.gracePeriodDays-days))
	}
}

// expire выполняет терминальный переход: удаление из группы, статус
// expired, зеркалирование на пользователя, аудит и уведомление.
// Если удаление из группы не удалось, состояние не меняется —
// кандидат останется в выборке следующего запуска.
func (s *Service) expire(ctx context.Context, sub *models.Subscription, overdueDays int) {
	if err := s.membership.RemoveMember(ctx, sub.UserID); err != nil {
		s.log.Error("failed to remove member, will retry next run",
			sl.Sub(sub.ID), sl.UID(sub.UserID), sl.Err(err))
		return
	}

	rows, err := s.subs.ExpireFromGrace(ctx, sub.ID, s.gracePeriodDays)
	if err != nil {
		s.log.Error("failed to expire subscription", sl.Sub(sub.ID), sl.Err(err))
		return
	}
	if rows == 0 {
		return
	}
	s.log.Info("subscription expired after grace period",
		sl.Sub(sub.ID), sl.UID(sub.UserID), slog.Int("overdue_days", overdueDays))

	if err := s.users.SetUserExpired(ctx, sub.UserID, 0); err != nil {
		s.log.Error("failed to mirror user status", sl.UID(sub.UserID), sl.Err(err))
	}

	target := sub.UserID
	entry := models.AuditEntry{
		ActorID:      models.SystemActorID,
		Action:       models.AuditActionGraceExpired,
		TargetUserID: &target,
		Details: map[string]any{
			"reason":       "grace period expired",
			"overdue_days": overdueDays,
		},
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.Error("failed to record audit entry", sl.Sub(sub.ID), sl.Err(err))
	}

	if _, err := s.messenger.Send(ctx, sub.UserID, removedText()); err != nil {
		s.log.Error("failed to deliver removal notice", sl.UID(sub.UserID), sl.Err(err))
	}
}

func (s *Service) warn(ctx context.Context, sub *models.Subscription, stage int, days int, text string) {
	status, err := s.messenger.Send(ctx, sub.UserID, text)
	if err != nil {
		s.log.Error("failed to deliver grace warning",
			sl.Sub(sub.ID), sl.UID(sub.UserID), slog.Int("stage", stage), sl.Err(err))
		return
	}
	if status != telegram.Delivered {
		return
	}
	if err := s.subs.SetGraceNotified(ctx, sub.ID, stage, days); err != nil {
		s.log.Error("failed to set grace warning latch",
			sl.Sub(sub.ID), slog.Int("stage", stage), sl.Err(err))
		return
	}
	if err := s.users.SetUserExpired(ctx, sub.UserID, s.gracePeriodDays-days); err != nil {
		s.log.Error("failed to mirror user status", sl.UID(sub.UserID), sl.Err(err))
	}
}

// daysSinceExpiry считает полные календарные дни с даты окончания.
func daysSinceExpiry(expiry, now time.Time) int {
	expiryDay := time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, expiry.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return int(today.Sub(expiryDay).Hours() / 24)
}

func graceStartedText(graceDays int) string {
	return fmt.Sprintf("Ваша подписка истекла. У вас есть %d дня(ей), чтобы продлить её и сохранить доступ к группе.", graceDays)
}

func earlyWarningText(daysLeft int) string {
	return fmt.Sprintf("Напоминаем: подписка истекла, до удаления из группы осталось %d дня(ей). Продлите подписку, чтобы сохранить доступ.", daysLeft)
}

func finalWarningText() string {
	return "Последнее предупреждение: завтра доступ к группе будет закрыт. Продлите подписку сегодня."
}

func removedText() string {
	return "Льготный период закончился, доступ к группе закрыт. Оформите новую подписку, чтобы вернуться."
}
