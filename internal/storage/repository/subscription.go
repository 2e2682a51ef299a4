package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avdeevlv/clubgate/internal/models"
)

// ErrNotFound возвращается, когда запрошенная запись отсутствует.
var ErrNotFound = errors.New("not found")

const subscriptionColumns = `id, user_id, plan_name, duration_days, price,
		start_date, expiry_date, status,
		reminder_day7, reminder_day3, reminder_day1, reminder_day0,
		grace_days_used, grace_notified_day1, grace_notified_day2,
		is_renewal, approved_by, created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (*models.Subscription, error) {
	var s models.Subscription
	if err := row.Scan(&s.ID, &s.UserID, &s.PlanName, &s.DurationDays, &s.Price,
		&s.StartDate, &s.ExpiryDate, &s.Status,
		&s.ReminderDay7Sent, &s.ReminderDay3Sent, &s.ReminderDay1Sent, &s.ReminderDay0Sent,
		&s.GraceDaysUsed, &s.GraceNotifiedDay1, &s.GraceNotifiedDay2,
		&s.IsRenewal, &s.ApprovedBy, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// reminderColumn отображает контрольную точку напоминания в имя колонки.
// Имя подставляется в SQL только из этого списка.
func reminderColumn(offset int) (string, error) {
	switch offset {
	case models.ReminderDay7:
		return "reminder_day7", nil
	case models.ReminderDay3:
		return "reminder_day3", nil
	case models.ReminderDay1:
		return "reminder_day1", nil
	case models.ReminderDay0:
		return "reminder_day0", nil
	}
	return "", fmt.Errorf("unknown reminder offset: %d", offset)
}

// CreateSubscription вставляет новую подписку и возвращает её ID.
// Частичный уникальный индекс по (user_id) для статусов active/grace
// не даст создать вторую текущую подписку на того же пользователя.
func (s *Storage) CreateSubscription(ctx context.Context, sub models.Subscription) (int, error) {
	const op = "storage.CreateSubscription"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO subscriptions (user_id, plan_name, duration_days, price,
			      start_date, expiry_date, status, is_renewal, approved_by)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			  RETURNING id`
	var newID int
	err := s.DB.QueryRowContext(ctx, query,
		sub.UserID, sub.PlanName, sub.DurationDays, sub.Price,
		sub.StartDate, sub.ExpiryDate, sub.Status, sub.IsRenewal, sub.ApprovedBy).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// FindCurrentByUser возвращает текущую (active или grace) подписку пользователя.
func (s *Storage) FindCurrentByUser(ctx context.Context, userID int64) (*models.Subscription, error) {
	const op = "storage.FindCurrentByUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE user_id = $1 AND status IN ('active', 'grace')`
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// FindActiveNotExpiredByUser возвращает активную подписку пользователя,
// срок которой ещё не истёк относительно now.
func (s *Storage) FindActiveNotExpiredByUser(ctx context.Context, userID int64, now time.Time) (*models.Subscription, error) {
	const op = "storage.FindActiveNotExpiredByUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE user_id = $1 AND status = 'active' AND expiry_date > $2`
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, userID, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// CountByUser возвращает число подписок пользователя во всех статусах.
func (s *Storage) CountByUser(ctx context.Context, userID int64) (int, error) {
	const op = "storage.CountByUser"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var count int
	query := `SELECT COUNT(*) FROM subscriptions WHERE user_id = $1`
	if err := s.DB.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// RenewSubscription продлевает текущую подписку на durationDays,
// отталкиваясь от большего из (текущая дата окончания, now):
// продление никогда не сокращает оставшийся срок. Защёлки напоминаний
// и счётчик льготных дней сбрасываются. Обновление условное:
// затрагивает только записи в статусах active/grace.
func (s *Storage) RenewSubscription(ctx context.Context, id int, durationDays int, now time.Time) (int, error) {
	const op = "storage.RenewSubscription"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = 'active',
			      expiry_date = GREATEST(expiry_date, $2) + make_interval(days => $3),
			      reminder_day7 = FALSE, reminder_day3 = FALSE,
			      reminder_day1 = FALSE, reminder_day0 = FALSE,
			      grace_days_used = 0,
			      grace_notified_day1 = FALSE, grace_notified_day2 = FALSE,
			      is_renewal = TRUE,
			      updated_at = $2
			  WHERE id = $1 AND status IN ('active', 'grace')`
	result, err := s.DB.ExecContext(ctx, query, id, now, durationDays)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// ExtendExpiry сдвигает дату окончания подписки на bonusDays вперёд.
// Используется при начислении реферального бонуса.
func (s *Storage) ExtendExpiry(ctx context.Context, id int, bonusDays int) error {
	const op = "storage.ExtendExpiry"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET expiry_date = expiry_date + make_interval(days => $2),
			      updated_at = NOW()
			  WHERE id = $1 AND status = 'active'`
	_, err := s.DB.ExecContext(ctx, query, id, bonusDays)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// FindRemindersDue возвращает активные подписки, у которых дата окончания
// попадает в календарный день day, а защёлка контрольной точки offset
// ещё не выставлена.
func (s *Storage) FindRemindersDue(ctx context.Context, day time.Time, offset int) ([]*models.Subscription, error) {
	const op = "storage.FindRemindersDue"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	column, err := reminderColumn(offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE status = 'active'
			    AND expiry_date::date = $1::date
			    AND NOT ` + column + `
			  ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, query, day)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, sub)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// SetReminderSent выставляет защёлку контрольной точки offset.
// Защёлка одностороняя: снимается только продлением подписки.
func (s *Storage) SetReminderSent(ctx context.Context, id int, offset int) error {
	const op = "storage.SetReminderSent"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	column, err := reminderColumn(offset)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `UPDATE subscriptions SET ` + column + ` = TRUE, updated_at = NOW() WHERE id = $1`
	_, err = s.DB.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// FindExpiredActive возвращает активные подписки, чья дата окончания
// осталась в прошедших календарных днях. Кандидаты на вход в льготный период.
func (s *Storage) FindExpiredActive(ctx context.Context, today time.Time) ([]*models.Subscription, error) {
	const op = "storage.FindExpiredActive"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE status = 'active' AND expiry_date::date < $1::date
			  ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, query, today)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, sub)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// StartGrace переводит подписку из active в grace: счётчик льготных
// дней и защёлки предупреждений обнуляются. Обновление условное,
// повторный запуск джоба ту же запись не тронет.
func (s *Storage) StartGrace(ctx context.Context, id int) (int, error) {
	const op = "storage.StartGrace"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = 'grace',
			      grace_days_used = 0,
			      grace_notified_day1 = FALSE, grace_notified_day2 = FALSE,
			      updated_at = NOW()
			  WHERE id = $1 AND status = 'active'`
	result, err := s.DB.ExecContext(ctx, query, id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// FindInGrace возвращает все подписки в льготном периоде.
func (s *Storage) FindInGrace(ctx context.Context) ([]*models.Subscription, error) {
	const op = "storage.FindInGrace"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE status = 'grace'
			  ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, sub)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// SetGraceNotified выставляет защёлку предупреждения льготного периода.
// stage 1 — раннее предупреждение, stage 2 — финальное.
func (s *Storage) SetGraceNotified(ctx context.Context, id int, stage int, graceDaysUsed int) error {
	const op = "storage.SetGraceNotified"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var column string
	switch stage {
	case 1:
		column = "grace_notified_day1"
	case 2:
		column = "grace_notified_day2"
	default:
		return fmt.Errorf("%s: unknown grace stage: %d", op, stage)
	}

	query := `UPDATE subscriptions
			  SET ` + column + ` = TRUE, grace_days_used = $2, updated_at = NOW()
			  WHERE id = $1 AND status = 'grace'`
	_, err := s.DB.ExecContext(ctx, query, id, graceDaysUsed)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ExpireFromGrace терминально завершает подписку по исчерпании
// льготного периода. Обновление условное: только из статуса grace.
func (s *Storage) ExpireFromGrace(ctx context.Context, id int, graceDaysUsed int) (int, error) {
	const op = "storage.ExpireFromGrace"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = 'expired', grace_days_used = $2, updated_at = NOW()
			  WHERE id = $1 AND status = 'grace'`
	result, err := s.DB.ExecContext(ctx, query, id, graceDaysUsed)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// FindActiveNotExpired возвращает активные подписки с датой окончания
// в будущем. Кандидаты недообеспеченного прохода сверки.
func (s *Storage) FindActiveNotExpired(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	const op = "storage.FindActiveNotExpired"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE status = 'active' AND expiry_date > $1
			  ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, sub)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// FindLapsedUserIDs возвращает пользователей, у которых есть терминальные
// подписки и нет ни одной в статусе active/grace. Кандидаты
// переобеспеченного прохода сверки: в группе им находиться не положено.
func (s *Storage) FindLapsedUserIDs(ctx context.Context) ([]int64, error) {
	const op = "storage.FindLapsedUserIDs"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT DISTINCT user_id
			  FROM subscriptions s
			  WHERE s.status IN ('expired', 'cancelled')
			    AND NOT EXISTS (
			        SELECT 1 FROM subscriptions c
			        WHERE c.user_id = s.user_id AND c.status IN ('active', 'grace'))
			  ORDER BY user_id`
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

// CountSubscriptionsByStatus возвращает количество подписок по статусам.
func (s *Storage) CountSubscriptionsByStatus(ctx context.Context) (map[string]int, error) {
	const op = "storage.CountSubscriptionsByStatus"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT status, COUNT(*) FROM subscriptions GROUP BY status`
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

// CountExpiringOn возвращает число активных подписок, истекающих
// в календарный день day.
func (s *Storage) CountExpiringOn(ctx context.Context, day time.Time) (int, error) {
	const op = "storage.CountExpiringOn"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var count int
	query := `SELECT COUNT(*) FROM subscriptions
			  WHERE status = 'active' AND expiry_date::date = $1::date`
	if err := s.DB.QueryRowContext(ctx, query, day).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}
