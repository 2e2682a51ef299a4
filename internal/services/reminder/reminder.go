// Package reminder реализует суточный джоб напоминаний об окончании подписки.
//
// Для каждой контрольной точки (за 7, 3, 1 и 0 дней до окончания)
// выбираются активные подписки, у которых дата окончания попадает
// в соответствующий календарный день, а защёлка точки ещё не выставлена.
// Защёлка выставляется только после успешной доставки, поэтому повторный
// запуск в тот же день ничего не отправляет. Временная ошибка доставки
// не ретраится: окно точки суточное и к следующему запуску уже уйдёт.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avdeevlv/clubgate/internal/lib/sl"
	"github.com/avdeevlv/clubgate/internal/models"
	"github.com/avdeevlv/clubgate/internal/telegram"
)

// SubscriptionRepository определяет выборку кандидатов и выставление защёлок.
type SubscriptionRepository interface {
	FindRemindersDue(ctx context.Context, day time.Time, offset int) ([]*models.Subscription, error)
	SetReminderSent(ctx context.Context, id int, offset int) error
}

// PlanRepository определяет чтение каталога планов для блока продления.
type PlanRepository interface {
	ListActivePlans(ctx context.Context) ([]*models.Plan, error)
}

// Messenger описывает доставку сообщения с общей обработкой
// недоступных получателей.
type Messenger interface {
	Send(ctx context.Context, userID int64, text string) (telegram.DeliveryStatus, error)
}

// Service суточный джоб напоминаний.
type Service struct {
	subs      SubscriptionRepository
	plans     PlanRepository
	messenger Messenger
	log       *slog.Logger
}

// New создает новый экземпляр Service.
func New(subs SubscriptionRepository, plans PlanRepository, messenger Messenger, log *slog.Logger) *Service {
	return &Service{
		subs:      subs,
		plans:     plans,
		messenger: messenger,
		log:       log,
	}
}

var checkpoints = []int{
	models.ReminderDay7,
	models.ReminderDay3,
	models.ReminderDay1,
	models.ReminderDay0,
}

// Run выполняет один полный проход по всем контрольным точкам.
// Ошибка одного кандидата не прерывает обработку остальных.
func (s *Service) Run(ctx context.Context, now time.Time) {
	s.log.Info("starting reminder sweep")

	renewalOptions := s.renewalOptions(ctx)

	total := 0
	for _, offset := range checkpoints {
		day := now.AddDate(0, 0, offset)
		subs, err := s.subs.FindRemindersDue(ctx, day, offset)
		if err != nil {
			s.log.Error("failed to find reminder candidates",
				slog.Int("offset", offset), sl.Err(err))
			continue
		}
		for _, sub := range subs {
			s.processCandidate(ctx, sub, offset, renewalOptions)
		}
		total += len(subs)
	}

	s.log.Info("reminder sweep finished", slog.Int("candidates", total))
}

func (s *Service) processCandidate(ctx context.Context, sub *models.Subscription, offset int, renewalOptions string) {
	status, err := s.messenger.Send(ctx, sub.UserID, reminderText(offset, sub, renewalOptions))
	if err != nil {
		// Окно точки суточное: этот цикл напоминание уже не получит.
		s.log.Error("transient delivery failure, checkpoint missed for this cycle",
			sl.Sub(sub.ID), sl.UID(sub.UserID), slog.Int("offset", offset), sl.Err(err))
		return
	}
	if status != telegram.Delivered {
		// Получатель недоступен: защёлка остаётся снятой,
		// блокировку уже обработал messenger.
		return
	}
	if err := s.subs.SetReminderSent(ctx, sub.ID, offset); err != nil {
		s.log.Error("failed to set reminder latch",
			sl.Sub(sub.ID), slog.Int("offset", offset), sl.Err(err))
	}
}

// renewalOptions собирает блок с вариантами продления. При ошибке чтения
// каталога напоминание уходит без блока, а не пропускается целиком.
func (s *Service) renewalOptions(ctx context.Context) string {
	plans, err := s.plans.ListActivePlans(ctx)
	if err != nil {
		s.log.Error("failed to list plans for renewal options", sl.Err(err))
		return ""
	}
	if len(plans) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\nВарианты продления:\n")
	for _, p := range plans {
		fmt.Fprintf(&b, "— %s: %d дней, %d руб.\n", p.Name, p.DurationDays, p.Price)
	}
	return b.String()
}

func reminderText(offset int, sub *models.Subscription, renewalOptions string) string {
	var lead string
	switch offset {
	case models.ReminderDay0:
		lead = "Ваша подписка заканчивается сегодня."
	case models.ReminderDay1:
		lead = "Ваша подписка заканчивается завтра."
	default:
		lead = fmt.Sprintf("Ваша подписка заканчивается через %d дней (%s).",
			offset, sub.ExpiryDate.Format("02.01.2006"))
	}
	return lead + " Продлите её заранее, чтобы не потерять доступ к группе." + renewalOptions
}
