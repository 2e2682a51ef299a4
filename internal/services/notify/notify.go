// Package notify содержит единую точку доставки сообщений пользователям.
//
// Любая попытка доставки, завершившаяся ответом "получатель недоступен",
// проходит общую процедуру: пользователь помечается заблокировавшим бота,
// пишется запись аудита и в служебный канал уходит оперативное оповещение.
// Это единственное место, где выставляется заблокированное состояние.
package notify

import (
	"context"
	"log/slog"

	"github.com/avdeevlv/clubgate/internal/lib/sl"
	"github.com/avdeevlv/clubgate/internal/models"
	"github.com/avdeevlv/clubgate/internal/telegram"
)

// Gateway описывает шлюз доставки сообщений.
type Gateway interface {
	Deliver(ctx context.Context, userID int64, text string) (telegram.DeliveryStatus, error)
}

// UserRepository описывает методы работы с пользователями.
type UserRepository interface {
	MarkBlocked(ctx context.Context, telegramID int64) error
}

// Auditor описывает запись в журнал аудита.
type Auditor interface {
	Record(ctx context.Context, entry models.AuditEntry) error
}

// Service оборачивает шлюз доставки общей обработкой недоступных получателей.
type Service struct {
	gateway      Gateway
	users        UserRepository
	audit        Auditor
	logChannelID int64
	log          *slog.Logger
}

// New создает новый экземпляр Service.
func New(gateway Gateway, users UserRepository, audit Auditor, logChannelID int64, log *slog.Logger) *Service {
	return &Service{
		gateway:      gateway,
		users:        users,
		audit:        audit,
		logChannelID: logChannelID,
		log:          log,
	}
}

// Send доставляет пользователю сообщение. При ответе "получатель
// недоступен" выполняется процедура блокировки; статус возвращается
// вызывающему, чтобы тот решил судьбу своих защёлок.
func (s *Service) Send(ctx context.Context, userID int64, text string) (telegram.DeliveryStatus, error) {
	status, err := s.gateway.Deliver(ctx, userID, text)
	if status == telegram.Unreachable {
		s.handleBlocked(ctx, userID)
		return status, nil
	}
	return status, err
}

// Alert отправляет оперативное оповещение в служебный канал.
func (s *Service) Alert(ctx context.Context, text string) error {
	if _, err := s.gateway.Deliver(ctx, s.logChannelID, text); err != nil {
		s.log.Error("failed to deliver alert to log channel", sl.Err(err))
		return err
	}
	return nil
}

func (s *Service) handleBlocked(ctx context.Context, userID int64) {
	s.log.Info("recipient unreachable, marking user blocked", sl.UID(userID))

	if err := s.users.MarkBlocked(ctx, userID); err != nil {
		s.log.Error("failed to mark user blocked", sl.UID(userID), sl.Err(err))
	}

	target := userID
	entry := models.AuditEntry{
		ActorID:      models.SystemActorID,
		Action:       models.AuditActionRecipientBlocked,
		TargetUserID: &target,
		Details:      map[string]any{"reason": "recipient blocked"},
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.Error("failed to record audit entry", sl.UID(userID), sl.Err(err))
	}

	s.Alert(ctx, blockedAlertText(userID))
}
