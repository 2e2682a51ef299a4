// Package approval реализует процедуру одобрения заявки на доступ.
//
// Одобрение либо создаёт новую подписку, либо продлевает текущую:
// на пользователя одновременно существует не более одной подписки
// в статусе active/grace, поэтому продление мутирует существующую
// запись. После выдачи пользователь получает одноразовый инвайт
// в группу, затем синхронно проверяется реферальное правило.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avdeevlv/clubgate/internal/lib/sl"
	"github.com/avdeevlv/clubgate/internal/models"
	"github.com/avdeevlv/clubgate/internal/storage/repository"
	"github.com/avdeevlv/clubgate/internal/telegram"
)

// UserRepository определяет создание и чтение пользователей.
type UserRepository interface {
	UpsertUser(ctx context.Context, user models.User) (*models.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*models.User, error)
	SetUserActive(ctx context.Context, telegramID int64) error
}

// SubscriptionRepository определяет выдачу и продление подписок.
type SubscriptionRepository interface {
	FindCurrentByUser(ctx context.Context, userID int64) (*models.Subscription, error)
	CreateSubscription(ctx context.Context, sub models.Subscription) (int, error)
	RenewSubscription(ctx context.Context, id int, durationDays int, now time.Time) (int, error)
}

// PlanRepository определяет чтение каталога планов.
type PlanRepository interface {
	GetPlanByName(ctx context.Context, name string) (*models.Plan, error)
}

// Membership описывает выпуск одноразовых инвайтов в группу.
type Membership interface {
	CreateInvite(ctx context.Context, userID int64, ttl time.Duration) (string, error)
}

// Messenger описывает доставку сообщения с общей обработкой
// недоступных получателей.
type Messenger interface {
	Send(ctx context.Context, userID int64, text string) (telegram.DeliveryStatus, error)
}

// BonusAwarder описывает реферальное правило, вызываемое после одобрения.
type BonusAwarder interface {
	Award(ctx context.Context, approvedUserID int64, now time.Time) error
}

// Auditor описывает запись в журнал аудита.
type Auditor interface {
	Record(ctx context.Context, entry models.AuditEntry) error
}

// Request описывает одобряемую заявку на доступ.
type Request struct {
	UserID       int64
	Username     string
	PlanName     string
	ActorID      int64  // Кто одобрил (Telegram ID администратора)
	ApprovedBy   string // Читаемое имя одобрившего для снапшота в подписке
	ReferralCode string // Реферальный код пригласившего, опционально
}

// Result итог одобрения заявки.
type Result struct {
	SubscriptionID int
	ExpiryDate     time.Time
	IsRenewal      bool
	InviteLink     string
}

// Service процедура одобрения заявок.
type Service struct {
	users      UserRepository
	subs       SubscriptionRepository
	plans      PlanRepository
	membership Membership
	messenger  Messenger
	referral   BonusAwarder
	audit      Auditor
	inviteTTL  time.Duration
	log        *slog.Logger
}

// New создает новый экземпляр Service.
func New(users UserRepository, subs SubscriptionRepository, plans PlanRepository,
	membership Membership, messenger Messenger, referral BonusAwarder,
	audit Auditor, inviteTTL time.Duration, log *slog.Logger) *Service {
	return &Service{
		users:      users,
		subs:       subs,
		plans:      plans,
		membership: membership,
		messenger:  messenger,
		referral:   referral,
		audit:      audit,
		inviteTTL:  inviteTTL,
		log:        log,
	}
}

// Approve выполняет одобрение заявки: выдаёт или продлевает подписку,
// выпускает инвайт, уведомляет пользователя, проверяет реферальное
// правило и пишет запись аудита.
func (s *Service) Approve(ctx context.Context, req Request, now time.Time) (*Result, error) {
	const op = "approval.Approve"

	plan, err := s.plans.GetPlanByName(ctx, req.PlanName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.upsertUser(ctx, req, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result, err := s.issueSubscription(ctx, user.TelegramID, plan, req.ApprovedBy, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.users.SetUserActive(ctx, user.TelegramID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	link, err := s.membership.CreateInvite(ctx, user.TelegramID, s.inviteTTL)
	if err != nil {
		// Пользователь может уже состоять в группе; инвайт довыпустит сверка.
		s.log.Error("failed to create invite", sl.UID(user.TelegramID), sl.Err(err))
	} else {
		result.InviteLink = link
	}

	if _, err := s.messenger.Send(ctx, user.TelegramID, approvedText(result, plan)); err != nil {
		s.log.Error("failed to deliver approval notice", sl.UID(user.TelegramID), sl.Err(err))
	}

	if err := s.referral.Award(ctx, user.TelegramID, now); err != nil {
		s.log.Error("referral bonus check failed", sl.UID(user.TelegramID), sl.Err(err))
	}

	target := user.TelegramID
	entry := models.AuditEntry{
		ActorID:      req.ActorID,
		Action:       models.AuditActionApproval,
		TargetUserID: &target,
		Details: map[string]any{
			"plan":       plan.Name,
			"is_renewal": result.IsRenewal,
			"expiry":     result.ExpiryDate.Format(time.RFC3339),
		},
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.Error("failed to record audit entry", sl.UID(user.TelegramID), sl.Err(err))
	}

	return result, nil
}

func (s *Service) upsertUser(ctx context.Context, req Request, now time.Time) (*models.User, error) {
	var referredBy *int64
	if req.ReferralCode != "" {
		referrer, err := s.users.GetUserByReferralCode(ctx, req.ReferralCode)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			s.log.Info("unknown referral code ignored", slog.String("code", req.ReferralCode))
		case err != nil:
			return nil, err
		case referrer.TelegramID == req.UserID:
			// Собственный код пользователю бонуса не даёт.
			s.log.Info("self-referral ignored", sl.UID(req.UserID))
		default:
			referredBy = &referrer.TelegramID
		}
	}

	return s.users.UpsertUser(ctx, models.User{
		TelegramID:      req.UserID,
		Username:        req.Username,
		Status:          models.UserStatusPending,
		ReferralCode:    uuid.NewString(),
		ReferredBy:      referredBy,
		LastInteraction: now,
	})
}

func (s *Service) issueSubscription(ctx context.Context, userID int64, plan *models.Plan, approvedBy string, now time.Time) (*Result, error) {
	current, err := s.subs.FindCurrentByUser(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if current != nil {
		rows, err := s.subs.RenewSubscription(ctx, current.ID, plan.DurationDays, now)
		if err != nil {
			return nil, err
		}
		if rows == 0 {
			return nil, fmt.Errorf("subscription %d vanished during renewal", current.ID)
		}
		expiry := current.ExpiryDate
		if expiry.Before(now) {
			expiry = now
		}
		return &Result{
			SubscriptionID: current.ID,
			ExpiryDate:     expiry.AddDate(0, 0, plan.DurationDays),
			IsRenewal:      true,
		}, nil
	}

	expiry := now.AddDate(0, 0, plan.DurationDays)
	id, err := s.subs.CreateSubscription(ctx, models.Subscription{
		UserID:       userID,
		PlanName:     plan.Name,
		DurationDays: plan.DurationDays,
		Price:        plan.Price,
		StartDate:    now,
		ExpiryDate:   expiry,
		Status:       models.SubscriptionStatusActive,
		ApprovedBy:   approvedBy,
	})
	if err != nil {
		return nil, err
	}
	return &Result{SubscriptionID: id, ExpiryDate: expiry}, nil
}

func approvedText(result *Result, plan *models.Plan) string {
	lead := fmt.Sprintf("Подписка «%s» оформлена до %s.",
		plan.Name, result.ExpiryDate.Format("02.01.2006"))
	if result.IsRenewal {
		lead = fmt.Sprintf("Подписка «%s» продлена до %s.",
			plan.Name, result.ExpiryDate.Format("02.01.2006"))
	}
	if result.InviteLink != "" {
		lead += " Ссылка для входа в группу (одноразовая): " + result.InviteLink
	}
	return lead
}
