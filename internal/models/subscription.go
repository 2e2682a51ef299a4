package models

import "time"

// Статусы подписки.
const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusGrace     = "grace"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusCancelled = "cancelled"
)

// Контрольные точки напоминаний: за сколько дней до окончания
// подписки отправляется напоминание.
const (
	ReminderDay7 = 7
	ReminderDay3 = 3
	ReminderDay1 = 1
	ReminderDay0 = 0
)

// Subscription представляет выданную подписку на доступ к группе.
//
// На пользователя одновременно существует не более одной подписки
// в статусе active или grace; продление мутирует существующую запись,
// а не создаёт новую. Терминальные записи (expired, cancelled)
// хранятся вечно для отчётности.
type Subscription struct {
	ID           int
	UserID       int64  // Владелец подписки
	PlanName     string // Снапшот названия плана на момент выдачи
	DurationDays int    // Снапшот длительности плана
	Price        int    // Снапшот цены плана

	StartDate  time.Time
	ExpiryDate time.Time // Всегда строго позже StartDate
	Status     string    // См. SubscriptionStatus*

	// Защёлки напоминаний: выставленный флаг остаётся true
	// до продления (полный сброс) или терминального перехода.
	ReminderDay7Sent bool
	ReminderDay3Sent bool
	ReminderDay1Sent bool
	ReminderDay0Sent bool

	// Льготный период после окончания подписки.
	GraceDaysUsed      int  // Не превышает настроенную длину льготного периода
	GraceNotifiedDay1  bool // Раннее предупреждение (первый день просрочки)
	GraceNotifiedDay2  bool // Финальное предупреждение (последний льготный день)

	IsRenewal  bool   // Запись уже продлевалась
	ApprovedBy string // Кто одобрил заявку
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ReminderSent возвращает состояние защёлки для контрольной точки offset.
func (s *Subscription) ReminderSent(offset int) bool {
	switch offset {
	case ReminderDay7:
		return s.ReminderDay7Sent
	case ReminderDay3:
		return s.ReminderDay3Sent
	case ReminderDay1:
		return s.ReminderDay1Sent
	case ReminderDay0:
		return s.ReminderDay0Sent
	}
	return false
}

// IsTerminal сообщает, находится ли подписка в терминальном статусе.
func (s *Subscription) IsTerminal() bool {
	return s.Status == SubscriptionStatusExpired || s.Status == SubscriptionStatusCancelled
}
