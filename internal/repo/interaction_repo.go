// Package repo – interaction and escalation persistence.
//
// Chat interactions form an append-only audit log. Escalation records are
// written once per agent handoff; their status moves past "pending" only via
// agent-side actions.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/finvola/go-support-backend/internal/domain"
)

// AppendInteraction inserts one chat log row. The record's ID and CreatedAt
// are assigned here; callers provide everything else.
func AppendInteraction(ctx context.Context, db *gorm.DB, rec domain.ChatInteraction) error {
	rec.ID = uuid.NewString()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(&rec).Error
}

// GetSessionHistory returns the interaction log for one session ordered
// oldest-first. Used to rebuild LLM context and to feed agent dashboards.
func GetSessionHistory(ctx context.Context, db *gorm.DB, sessionID string) ([]domain.ChatInteraction, error) {
	var out []domain.ChatInteraction
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// MarkSessionEscalated bulk-flags every interaction of a session as escalated
// and stamps the external conversation sid, so agents pulling the log can see
// which turns preceded the handoff. This is the only mutation ever applied to
// interaction rows.
func MarkSessionEscalated(ctx context.Context, db *gorm.DB, sessionID, channelSID string) error {
	return db.WithContext(ctx).
		Model(&domain.ChatInteraction{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{"is_escalated": true, "channel_sid": channelSID}).Error
}

// CreateEscalationRecord persists one agent-handoff record with status
// "pending" and returns it.
func CreateEscalationRecord(ctx context.Context, db *gorm.DB, rec domain.EscalationRecord) (*domain.EscalationRecord, error) {
	rec.ID = uuid.NewString()
	if rec.Status == "" {
		rec.Status = domain.EscalationPending
	}
	rec.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// CountEscalations returns the total number of escalation records, optionally
// filtered by status ("" means all).
func CountEscalations(ctx context.Context, db *gorm.DB, status string) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.EscalationRecord{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}

// ListEscalationsPage returns a page of escalation records newest-first,
// optionally filtered by status. Use CountEscalations for pagination totals.
func ListEscalationsPage(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.EscalationRecord, error) {
	q := db.WithContext(ctx).Model(&domain.EscalationRecord{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []domain.EscalationRecord
	err := q.Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
