// Package cache хранит короткоживущее состояние административного
// диалога в redis. Состояние "админ начал многошаговое действие"
// живёт под ключом с TTL и переживает рестарт процесса —
// в памяти процесса оно не держится.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avdeevlv/clubgate/internal/config"
)

// Cache инкапсулирует клиент redis.
type Cache struct {
	Db *redis.Client
}

// PendingAction описывает незавершённое многошаговое действие администратора.
type PendingAction struct {
	ActorID  int64  `json:"actor_id"`
	Kind     string `json:"kind"`
	TargetID int64  `json:"target_id,omitempty"`
	PlanName string `json:"plan_name,omitempty"`
}

// DefaultActionTTL время жизни незавершённого действия.
const DefaultActionTTL = 15 * time.Minute

// InitServer подключается к redis и проверяет соединение.
func InitServer(ctx context.Context, cfg config.RedisConnection) (*Cache, error) {
	const op = "cache.InitServer"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.AddressRedis,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.TimeoutRedis,
		WriteTimeout: cfg.TimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Cache{Db: db}, nil
}

func actionKey(actorID int64) string {
	return fmt.Sprintf("admin_action:%d", actorID)
}

// SetPendingAction сохраняет незавершённое действие администратора с TTL.
func (c *Cache) SetPendingAction(ctx context.Context, action PendingAction, ttl time.Duration) error {
	const op = "cache.SetPendingAction"
	jsonData, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := c.Db.Set(ctx, actionKey(action.ActorID), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetPendingAction возвращает незавершённое действие администратора.
// Второе значение false — действия нет либо TTL истёк.
func (c *Cache) GetPendingAction(ctx context.Context, actorID int64) (*PendingAction, bool, error) {
	const op = "cache.GetPendingAction"
	val, err := c.Db.Get(ctx, actionKey(actorID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	var action PendingAction
	if err = json.Unmarshal([]byte(val), &action); err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return &action, true, nil
}

// ClearPendingAction удаляет незавершённое действие администратора.
func (c *Cache) ClearPendingAction(ctx context.Context, actorID int64) error {
	return c.Db.Del(ctx, actionKey(actorID)).Err()
}
