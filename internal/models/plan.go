package models

import "time"

// Plan описывает тарифный план из каталога.
// Запись каталога почти неизменяемая: подписка при выдаче снимает
// с плана снапшот (название, длительность, цену), поэтому правка или
// удаление плана не меняет уже выданные подписки.
type Plan struct {
	ID           int        // Идентификатор плана
	Name         string     // Уникальное название плана
	DurationDays int        // Длительность доступа в днях
	Price        int        // Цена в минимальных единицах валюты
	IsActive     bool       // План доступен для новых выдач
	ValidUntil   *time.Time // Для акционных планов: срок действия предложения
	CreatedAt    time.Time
}
