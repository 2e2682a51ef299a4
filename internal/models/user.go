// Package models содержит доменные структуры подписочного контура:
// пользователей, тарифные планы, подписки и записи аудита.
// Структуры используются в бизнес-логике и при работе с хранилищем.
package models

import "time"

// Статусы пользователя.
const (
	UserStatusActive   = "active"
	UserStatusExpired  = "expired"
	UserStatusPending  = "pending"
	UserStatusInactive = "inactive"
	UserStatusBlocked  = "blocked"
)

// User представляет пользователя закрытой группы.
// Создаётся при первом контакте и никогда не удаляется:
// все жизненные переходы только меняют статус.
type User struct {
	TelegramID           int64      // Идентификатор пользователя в Telegram
	Username             string     // Имя пользователя (может быть пустым)
	Status               string     // Текущий статус, см. UserStatus*
	IsBlocked            bool       // Пользователь заблокировал бота
	ReferralCode         string     // Уникальный реферальный код пользователя
	ReferredBy           *int64     // Кто пригласил (обратная ссылка, не владение)
	ReferralBonusApplied bool       // Бонус за первую оплату уже начислен
	LastInteraction      time.Time  // Последнее взаимодействие с ботом
	GraceDaysRemaining   *int       // Остаток льготных дней, зеркалирует активную grace-подписку
	CreatedAt            time.Time  // Дата первого контакта
}
