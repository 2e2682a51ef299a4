package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avdeevlv/clubgate/internal/models"
)

const userColumns = `telegram_id, username, status, is_blocked, referral_code,
		referred_by, referral_bonus_applied, last_interaction, grace_days_remaining, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	var referredBy sql.NullInt64
	var graceDays sql.NullInt64
	if err := row.Scan(&u.TelegramID, &u.Username, &u.Status, &u.IsBlocked, &u.ReferralCode,
		&referredBy, &u.ReferralBonusApplied, &u.LastInteraction, &graceDays, &u.CreatedAt); err != nil {
		return nil, err
	}
	if referredBy.Valid {
		u.ReferredBy = &referredBy.Int64
	}
	if graceDays.Valid {
		days := int(graceDays.Int64)
		u.GraceDaysRemaining = &days
	}
	return u, nil
}

// UpsertUser сохраняет пользователя при первом контакте либо обновляет
// имя и отметку последнего взаимодействия. Реферальный код выдаётся
// один раз при создании и больше не меняется.
func (s *Storage) UpsertUser(ctx context.Context, user models.User) (*models.User, error) {
	const op = "storage.UpsertUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO users (telegram_id, username, status, referral_code, referred_by, last_interaction)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  ON CONFLICT (telegram_id) DO UPDATE
			  SET username = EXCLUDED.username,
			      last_interaction = EXCLUDED.last_interaction
			  RETURNING ` + userColumns
	row := s.DB.QueryRowContext(ctx, query,
		user.TelegramID, user.Username, user.Status, user.ReferralCode, user.ReferredBy, user.LastInteraction)
	saved, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return saved, nil
}

// GetUser возвращает пользователя по его Telegram ID.
func (s *Storage) GetUser(ctx context.Context, telegramID int64) (*models.User, error) {
	const op = "storage.GetUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, telegramID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserByReferralCode возвращает пользователя по его реферальному коду.
func (s *Storage) GetUserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	const op = "storage.GetUserByReferralCode"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE referral_code = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// SetUserStatus обновляет статус пользователя.
func (s *Storage) SetUserStatus(ctx context.Context, telegramID int64, status string) error {
	const op = "storage.SetUserStatus"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET status = $1 WHERE telegram_id = $2`
	_, err := s.DB.ExecContext(ctx, query, status, telegramID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetUserExpired зеркалирует льготный период подписки на пользователя:
// статус expired и остаток льготных дней.
func (s *Storage) SetUserExpired(ctx context.Context, telegramID int64, graceDaysRemaining int) error {
	const op = "storage.SetUserExpired"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET status = 'expired', grace_days_remaining = $1
			  WHERE telegram_id = $2`
	_, err := s.DB.ExecContext(ctx, query, graceDaysRemaining, telegramID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetUserActive переводит пользователя в статус active и снимает
// отметку остатка льготных дней.
func (s *Storage) SetUserActive(ctx context.Context, telegramID int64) error {
	const op = "storage.SetUserActive"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET status = 'active', grace_days_remaining = NULL
			  WHERE telegram_id = $1`
	_, err := s.DB.ExecContext(ctx, query, telegramID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// MarkBlocked помечает пользователя заблокировавшим бота.
// Единственное место, где выставляется is_blocked.
func (s *Storage) MarkBlocked(ctx context.Context, telegramID int64) error {
	const op = "storage.MarkBlocked"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET is_blocked = TRUE, status = 'blocked'
			  WHERE telegram_id = $1`
	_, err := s.DB.ExecContext(ctx, query, telegramID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetReferralBonusApplied выставляет одностороннюю отметку о том,
// что реферальное правило для пользователя уже отработало.
func (s *Storage) SetReferralBonusApplied(ctx context.Context, telegramID int64) error {
	const op = "storage.SetReferralBonusApplied"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET referral_bonus_applied = TRUE WHERE telegram_id = $1`
	_, err := s.DB.ExecContext(ctx, query, telegramID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// FindInactiveCandidates возвращает пользователей без текущей подписки,
// не взаимодействовавших с ботом с момента cutoff.
func (s *Storage) FindInactiveCandidates(ctx context.Context, cutoff time.Time) ([]*models.User, error) {
	const op = "storage.FindInactiveCandidates"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + `
			  FROM users u
			  WHERE u.last_interaction < $1
			    AND u.status NOT IN ('inactive', 'blocked')
			    AND NOT EXISTS (
			        SELECT 1 FROM subscriptions s
			        WHERE s.user_id = u.telegram_id AND s.status IN ('active', 'grace'))
			  ORDER BY u.telegram_id`
	rows, err := s.DB.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// CountUsersByStatus возвращает количество пользователей по статусам.
func (s *Storage) CountUsersByStatus(ctx context.Context) (map[string]int, error) {
	const op = "storage.CountUsersByStatus"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT status, COUNT(*) FROM users GROUP BY status`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err = rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result[status] = count
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ListBroadcastRecipients возвращает идентификаторы получателей рассылки:
// все пользователи, не помеченные как заблокировавшие бота.
func (s *Storage) ListBroadcastRecipients(ctx context.Context) ([]int64, error) {
	const op = "storage.ListBroadcastRecipients"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `
        SELECT telegram_id FROM users
        WHERE is_blocked = FALSE
        ORDER BY telegram_id`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []int64
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
