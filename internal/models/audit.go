package models

import "time"

// SystemActorID используется в записях аудита, созданных самим движком,
// а не администратором.
const SystemActorID int64 = 0

// Типы действий в журнале аудита.
const (
	AuditActionApproval          = "subscription_approved"
	AuditActionGraceExpired      = "grace_period_expired"
	AuditActionReconcilerRemoved = "removed_by_reconciler"
	AuditActionRecipientBlocked  = "recipient_blocked"
	AuditActionReferralBonus     = "referral_bonus"
)

// AuditEntry — запись журнала аудита. Журнал только дописывается:
// движок публикует записи в очередь событий, отдельный потребитель
// сохраняет их в хранилище.
type AuditEntry struct {
	ID           int            `json:"-"`
	ActorID      int64          `json:"actor_id"` // 0 — система
	Action       string         `json:"action"`
	TargetUserID *int64         `json:"target_user_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
