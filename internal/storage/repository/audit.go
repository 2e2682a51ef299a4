package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/avdeevlv/clubgate/internal/models"
)

// InsertAuditEntry дописывает запись в журнал аудита.
// Журнал только растёт: ни обновлений, ни удалений.
func (s *Storage) InsertAuditEntry(ctx context.Context, entry models.AuditEntry) (int, error) {
	const op = "storage.InsertAuditEntry"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	details, err := json.Marshal(entry.Details)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	query := `INSERT INTO audit_log (actor_id, action, target_user_id, details, created_at)
			  VALUES ($1, $2, $3, $4, $5)
			  RETURNING id`
	var newID int
	err = s.DB.QueryRowContext(ctx, query,
		entry.ActorID, entry.Action, entry.TargetUserID, details, entry.CreatedAt).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}
