package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/example/retentiond/pkg/models"
)

// HistoryRepository handles the append-only adjustment and feedback event logs
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a new repository instance
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// AppendAdjustment records one applied plan adjustment
func (r *HistoryRepository) AppendAdjustment(ctx context.Context, rec *models.AdjustmentRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO adjustment_history (user_id, plan_id, adjustment_type, severity, changes, tasks_affected, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.UserID, rec.PlanID, rec.AdjustmentType, rec.Severity,
		rec.Changes, rec.TasksAffected, rec.CreatedAt,
	)
	if err != nil {
		return &models.StoreError{Op: "append adjustment", Transient: true, Err: err}
	}
	return nil
}

// Adjustments returns a user's adjustment history, newest first
func (r *HistoryRepository) Adjustments(ctx context.Context, userID int64, limit int) ([]models.AdjustmentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.AdjustmentRecord
	err := withReadRetry(ctx, func() error {
		return r.db.SelectContext(ctx, &rows,
			"SELECT * FROM adjustment_history WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2",
			userID, limit)
	})
	if err != nil {
		return nil, &models.StoreError{Op: "select adjustments", Transient: true, Err: err}
	}
	return rows, nil
}

// CountSince returns how many adjustments were applied at or after the
// given time, used for the daily cap re-check
func (r *HistoryRepository) CountSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	var count int
	err := withReadRetry(ctx, func() error {
		return r.db.GetContext(ctx, &count,
			"SELECT COUNT(*) FROM adjustment_history WHERE user_id = $1 AND created_at >= $2",
			userID, since)
	})
	if err != nil {
		return 0, &models.StoreError{Op: "count adjustments", Transient: true, Err: err}
	}
	return count, nil
}

// LastAdjustmentAt returns the timestamp of the user's most recent
// adjustment, or nil when none exist
func (r *HistoryRepository) LastAdjustmentAt(ctx context.Context, userID int64) (*time.Time, error) {
	var ts sql.NullTime
	err := withReadRetry(ctx, func() error {
		return r.db.GetContext(ctx, &ts,
			"SELECT MAX(created_at) FROM adjustment_history WHERE user_id = $1", userID)
	})
	if err != nil {
		return nil, &models.StoreError{Op: "last adjustment time", Transient: true, Err: err}
	}
	if !ts.Valid {
		return nil, nil
	}
	t := ts.Time
	return &t, nil
}

// AppendFeedbackEvent records one triggering evaluation
func (r *HistoryRepository) AppendFeedbackEvent(ctx context.Context, ev *models.FeedbackEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO feedback_events (user_id, assessment_id, event_type, ability_before, ability_after, triggers_fired, trigger_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.UserID, ev.AssessmentID, ev.EventType, ev.AbilityBefore,
		ev.AbilityAfter, ev.TriggersFired, ev.TriggerData, ev.CreatedAt,
	)
	if err != nil {
		return &models.StoreError{Op: "append feedback event", Transient: true, Err: err}
	}
	return nil
}

// FeedbackEvents returns a user's trigger log, newest first
func (r *HistoryRepository) FeedbackEvents(ctx context.Context, userID int64, limit int) ([]models.FeedbackEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.FeedbackEvent
	err := withReadRetry(ctx, func() error {
		return r.db.SelectContext(ctx, &rows,
			"SELECT * FROM feedback_events WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2",
			userID, limit)
	})
	if err != nil {
		return nil, &models.StoreError{Op: "select feedback events", Transient: true, Err: err}
	}
	return rows, nil
}
