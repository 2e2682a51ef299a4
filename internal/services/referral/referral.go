// Package referral начисляет бонус пригласившему за первую оплату приглашённого.
//
// Правило вызывается синхронно из процедуры одобрения заявки, не по таймеру.
// Срабатывает не более одного раза на пользователя: после первого
// срабатывания выставляется односторонняя отметка referral_bonus_applied —
// независимо от того, нашлась ли у пригласившего подписка для продления.
// Если активной подписки у пригласившего нет, бонус пропадает без
// отложенного начисления: это осознанное ограничение.
package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avdeevlv/clubgate/internal/lib/sl"
	"github.com/avdeevlv/clubgate/internal/models"
	"github.com/avdeevlv/clubgate/internal/storage/repository"
	"github.com/avdeevlv/clubgate/internal/telegram"
)

// UserRepository определяет чтение пользователя и отметку о бонусе.
type UserRepository interface {
	GetUser(ctx context.Context, telegramID int64) (*models.User, error)
	SetReferralBonusApplied(ctx context.Context, telegramID int64) error
}

// SubscriptionRepository определяет подсчёт конверсий и продление.
type SubscriptionRepository interface {
	CountByUser(ctx context.Context, userID int64) (int, error)
	FindActiveNotExpiredByUser(ctx context.Context, userID int64, now time.Time) (*models.Subscription, error)
	ExtendExpiry(ctx context.Context, id int, bonusDays int) error
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

// Service начисление реферального бонуса.
type Service struct {
	users     UserRepository
	subs      SubscriptionRepository
	messenger Messenger
	audit     Auditor
	bonusDays int
	log       *slog.Logger
}

// New создает новый экземпляр Service.
func New(users UserRepository, subs SubscriptionRepository, messenger Messenger,
	audit Auditor, bonusDays int, log *slog.Logger) *Service {
	return &Service{
		users:     users,
		subs:      subs,
		messenger: messenger,
		audit:     audit,
		bonusDays: bonusDays,
		log:       log,
	}
}

// Award проверяет реферальное правило для только что одобренного
// пользователя и при выполнении условий продлевает подписку пригласившего.
func (s *Service) Award(ctx context.Context, approvedUserID int64, now time.Time) error {
	const op = "referral.Award"

	user, err := s.users.GetUser(ctx, approvedUserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if user.ReferredBy == nil || user.ReferralBonusApplied {
		return nil
	}

	count, err := s.subs.CountByUser(ctx, approvedUserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if count != 1 {
		// Не первая конверсия, правило не срабатывает.
		return nil
	}

	referrerID := *user.ReferredBy
	awarded := false

	refSub, err := s.subs.FindActiveNotExpiredByUser(ctx, referrerID, now)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		// У пригласившего нет действующей подписки — бонус пропадает.
		s.log.Info("referrer has no active subscription, bonus dropped",
			sl.UID(referrerID))
	case err != nil:
		return fmt.Errorf("%s: %w", op, err)
	default:
		if err := s.subs.ExtendExpiry(ctx, refSub.ID, s.bonusDays); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		awarded = true
		s.log.Info("referral bonus awarded",
			sl.UID(referrerID), slog.Int("bonus_days", s.bonusDays))
		if _, err := s.messenger.Send(ctx, referrerID, bonusText(s.bonusDays)); err != nil {
			s.log.Error("failed to deliver bonus notice", sl.UID(referrerID), sl.Err(err))
		}
	}

	// Отметка выставляется независимо от исхода, чтобы правило
	// не сработало повторно при следующем одобрении.
	if err := s.users.SetReferralBonusApplied(ctx, approvedUserID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	target := approvedUserID
	entry := models.AuditEntry{
		ActorID:      models.SystemActorID,
		Action:       models.AuditActionReferralBonus,
		TargetUserID: &target,
		Details: map[string]any{
			"referrer_id": referrerID,
			"awarded":     awarded,
			"bonus_days":  s.bonusDays,
		},
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.Error("failed to record audit entry", sl.UID(approvedUserID), sl.Err(err))
	}
	return nil
}

func bonusText(bonusDays int) string {
	return fmt.Sprintf("Ваш друг оформил первую подписку — ваша подписка продлена на %d дня(ей). Спасибо за приглашение!", bonusDays)
}
