// Package reconcile реализует суточную сверку состава группы с реестром подписок.
//
// Два прохода. Недообеспеченный: у пользователя действующая подписка,
// но в группе его нет — выпускается свежий одноразовый инвайт.
// Переобеспеченный: подписки закончились, а пользователь всё ещё
// в группе — участник удаляется с записью в аудит. Сверка идемпотентна
// по результату, но не по побочным эффектам: дедупликации ранее
// выданных и ещё действующих инвайтов нет.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avdeevlv/clubgate/internal/lib/sl"
	"github.com/avdeevlv/clubgate/internal/models"
	"github.com/avdeevlv/clubgate/internal/telegram"
)

// SubscriptionRepository определяет выборки кандидатов обоих проходов.
type SubscriptionRepository interface {
	FindActiveNotExpired(ctx context.Context, now time.Time) ([]*models.Subscription, error)
	FindLapsedUserIDs(ctx context.Context) ([]int64, error)
}

// Membership описывает операции с составом группы.
type Membership interface {
	IsMember(ctx context.Context, userID int64) (bool, error)
	CreateInvite(ctx context.Context, userID int64, ttl time.Duration) (string, error)
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

// Service суточный джоб сверки состава группы.
type Service struct {
	subs       SubscriptionRepository
	membership Membership
	messenger  Messenger
	audit      Auditor
	inviteTTL  time.Duration
	log        *slog.Logger
}

// New создает новый экземпляр Service.
func New(subs SubscriptionRepository, membership Membership, messenger Messenger,
	audit Auditor, inviteTTL time.Duration, log *slog.Logger) *Service {
	return &Service{
		subs:       subs,
		membership: membership,
		messenger:  messenger,
		audit:      audit,
		inviteTTL:  inviteTTL,
		log:        log,
	}
}

// Run выполняет оба прохода сверки. Ошибка внешнего вызова по одному
// кандидату логируется и не прерывает остальных: расхождение никуда
// не денется и попадёт в выборку следующего запуска.
func (s *Service) Run(ctx context.Context, now time.Time) {
	s.log.Info("starting membership reconciliation")

	invited := s.reinviteMissing(ctx, now)
	removed := s.removeLapsed(ctx)

	s.log.Info("membership reconciliation finished",
		slog.Int("invited", invited), slog.Int("removed", removed))
}

func (s *Service) reinviteMissing(ctx context.Context, now time.Time) int {
	subs, err := s.subs.FindActiveNotExpired(ctx, now)
	if err != nil {
		s.log.Error("failed to find active subscriptions", sl.Err(err))
		return 0
	}

	invited := 0
	for _, sub := range subs {
		member, err := s.membership.IsMember(ctx, sub.UserID)
		if err != nil {
			s.log.Error("failed to check membership", sl.UID(sub.UserID), sl.Err(err))
			continue
		}
		if member {
			continue
		}

		link, err := s.membership.CreateInvite(ctx, sub.UserID, s.inviteTTL)
		if err != nil {
			s.log.Error("failed to create invite", sl.UID(sub.UserID), sl.Err(err))
			continue
		}
		s.log.Info("issued invite for member missing from group", sl.UID(sub.UserID))

		if _, err := s.messenger.Send(ctx, sub.UserID, inviteText(link)); err != nil {
			s.log.Error("failed to deliver invite", sl.UID(sub.UserID), sl.Err(err))
			continue
		}
		invited++
	}
	return invited
}

func (s *Service) removeLapsed(ctx context.Context) int {
	userIDs, err := s.subs.FindLapsedUserIDs(ctx)
	if err != nil {
		s.log.Error("failed to find lapsed users", sl.Err(err))
		return 0
	}

	removed := 0
	for _, userID := range userIDs {
		member, err := s.membership.IsMember(ctx, userID)
		if err != nil {
			s.log.Error("failed to check membership", sl.UID(userID), sl.Err(err))
			continue
		}
		if !member {
			continue
		}

		if err := s.membership.RemoveMember(ctx, userID); err != nil {
			s.log.Error("failed to remove lapsed member", sl.UID(userID), sl.Err(err))
			continue
		}
		s.log.Info("removed lapsed member from group", sl.UID(userID))

		target := userID
		entry := models.AuditEntry{
			ActorID:      models.SystemActorID,
			Action:       models.AuditActionReconcilerRemoved,
			TargetUserID: &target,
			Details:      map[string]any{"reason": "removed by reconciler"},
		}
		if err := s.audit.Record(ctx, entry); err != nil {
			s.log.Error("failed to record audit entry", sl.UID(userID), sl.Err(err))
		}
		removed++
	}
	return removed
}

func inviteText(link string) string {
	return fmt.Sprintf("Ваша подписка активна, но вас нет в группе. Одноразовая ссылка для входа: %s", link)
}
