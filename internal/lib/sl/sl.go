// Package sl содержит вспомогательные функции для работы с логгером slog.
// Основная цель — упростить формирование структурированных полей лога,
// например, для передачи информации об ошибках и идентификаторов пользователей.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и значением текста ошибки.
// Удобно использовать в логировании для единообразного вывода ошибок.
//
// Пример:
//
//	log.Error("failed to do something", sl.Err(err))
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// UID возвращает slog.Attr с ключом "user_id" для единообразного
// логирования идентификатора пользователя во всех джобах.
func UID(id int64) slog.Attr {
	return slog.Int64("user_id", id)
}

// Sub возвращает slog.Attr с ключом "subscription_id".
func Sub(id int) slog.Attr {
	return slog.Int("subscription_id", id)
}
