package notify

import "fmt"

func blockedAlertText(userID int64) string {
	return fmt.Sprintf("Пользователь %d заблокировал бота, доставка сообщений ему остановлена.", userID)
}
