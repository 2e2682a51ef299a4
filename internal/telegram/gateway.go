// Package telegram реализует шлюз к Telegram Bot API: доставку сообщений
// пользователям и операции с составом управляемой группы (проверка
// членства, одноразовые инвайты, удаление участников).
//
// Все вызовы однократные, без внутренних ретраев: повтор, если он нужен,
// происходит естественным образом на следующем плановом запуске джоба.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DeliveryStatus результат попытки доставки сообщения.
type DeliveryStatus int

const (
	// Delivered сообщение доставлено.
	Delivered DeliveryStatus = iota
	// Unreachable получатель недоступен: пользователь заблокировал бота.
	Unreachable
	// TransientError временная ошибка доставки, без ретрая.
	TransientError
)

// Gateway инкапсулирует клиент Bot API и идентификатор управляемой группы.
type Gateway struct {
	bot     *tgbotapi.BotAPI
	groupID int64
}

// New создаёт шлюз для бота с токеном token и группы groupID.
func New(token string, groupID int64) (*Gateway, error) {
	const op = "telegram.New"
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Gateway{bot: bot, groupID: groupID}, nil
}

// Deliver отправляет пользователю текстовое сообщение. Код 403 от API
// означает, что пользователь заблокировал бота — это единственный
// случай, который отображается в Unreachable.
func (g *Gateway) Deliver(ctx context.Context, userID int64, text string) (DeliveryStatus, error) {
	const op = "telegram.Deliver"
	select {
	case <-ctx.Done():
		return TransientError, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	msg := tgbotapi.NewMessage(userID, text)
	_, err := g.bot.Send(msg)
	if err == nil {
		return Delivered, nil
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 403 {
		return Unreachable, nil
	}
	return TransientError, fmt.Errorf("%s: %w", op, err)
}

// IsMember сообщает, состоит ли пользователь в управляемой группе.
func (g *Gateway) IsMember(ctx context.Context, userID int64) (bool, error) {
	const op = "telegram.IsMember"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	member, err := g.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: g.groupID,
			UserID: userID,
		},
	})
	if err != nil {
		// Telegram отвечает 400 на запрос о пользователе,
		// никогда не состоявшем в группе.
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 400 {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	switch member.Status {
	case "creator", "administrator", "member":
		return true, nil
	case "restricted":
		return member.IsMember, nil
	}
	return false, nil
}

// CreateInvite выпускает одноразовую ссылку-приглашение в группу
// со сроком жизни ttl. Ссылка допускает ровно одно вступление.
func (g *Gateway) CreateInvite(ctx context.Context, userID int64, ttl time.Duration) (string, error) {
	const op = "telegram.CreateInvite"
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	resp, err := g.bot.Request(tgbotapi.CreateChatInviteLinkConfig{
		ChatConfig:  tgbotapi.ChatConfig{ChatID: g.groupID},
		Name:        fmt.Sprintf("sub-%d", userID),
		ExpireDate:  int(time.Now().Add(ttl).Unix()),
		MemberLimit: 1,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	var link tgbotapi.ChatInviteLink
	if err := json.Unmarshal(resp.Result, &link); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return link.InviteLink, nil
}

// RemoveMember удаляет пользователя из группы. Сразу после бана
// следует разбан, чтобы пользователь мог вернуться по новому инвайту
// после продления.
func (g *Gateway) RemoveMember(ctx context.Context, userID int64) error {
	const op = "telegram.RemoveMember"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	_, err := g.bot.Request(tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{
			ChatID: g.groupID,
			UserID: userID,
		},
	})
	if err != nil {
		return fmt.Errorf("%s: ban: %w", op, err)
	}

	_, err = g.bot.Request(tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{
			ChatID: g.groupID,
			UserID: userID,
		},
		OnlyIfBanned: true,
	})
	if err != nil {
		return fmt.Errorf("%s: unban: %w", op, err)
	}
	return nil
}
