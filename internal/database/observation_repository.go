package database

import (
	"context"

	"github.com/example/retentiond/pkg/models"
)

// ObservationRepository handles the append-only retention observation log
type ObservationRepository struct {
	db *DB
}

// NewObservationRepository creates a new repository instance
func NewObservationRepository(db *DB) *ObservationRepository {
	return &ObservationRepository{db: db}
}

// Append records one recall observation. Rows are never updated afterwards.
func (r *ObservationRepository) Append(ctx context.Context, obs *models.RetentionObservation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO retention_observations (
			user_id, topic_id, item_id, days_since_last_review,
			was_recalled, quality_score, predicted_retention, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		obs.UserID, obs.TopicID, obs.ItemID, obs.DaysSinceLastReview,
		obs.WasRecalled, obs.QualityScore, obs.PredictedRetention, obs.ObservedAt,
	)
	if err != nil {
		return &models.StoreError{Op: "append observation", Transient: true, Err: err}
	}
	return nil
}

// ForUser returns the observations for a user, optionally filtered by topic.
// An empty topicID matches observations from every topic.
func (r *ObservationRepository) ForUser(ctx context.Context, userID int64, topicID string) ([]models.RetentionObservation, error) {
	query := "SELECT * FROM retention_observations WHERE user_id = $1 ORDER BY observed_at"
	args := []interface{}{userID}
	if topicID != "" {
		query = "SELECT * FROM retention_observations WHERE user_id = $1 AND topic_id = $2 ORDER BY observed_at"
		args = append(args, topicID)
	}

	var rows []models.RetentionObservation
	err := withReadRetry(ctx, func() error {
		return r.db.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, &models.StoreError{Op: "select observations", Transient: true, Err: err}
	}
	return rows, nil
}

// CountForUser returns how many observations exist for the user/topic pair
func (r *ObservationRepository) CountForUser(ctx context.Context, userID int64, topicID string) (int, error) {
	query := "SELECT COUNT(*) FROM retention_observations WHERE user_id = $1"
	args := []interface{}{userID}
	if topicID != "" {
		query += " AND topic_id = $2"
		args = append(args, topicID)
	}

	var count int
	err := withReadRetry(ctx, func() error {
		return r.db.GetContext(ctx, &count, query, args...)
	})
	if err != nil {
		return 0, &models.StoreError{Op: "count observations", Transient: true, Err: err}
	}
	return count, nil
}

// UsersWithObservations lists distinct user ids present in the log,
// used by the nightly curve refresh job
func (r *ObservationRepository) UsersWithObservations(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := withReadRetry(ctx, func() error {
		return r.db.SelectContext(ctx, &ids, "SELECT DISTINCT user_id FROM retention_observations")
	})
	if err != nil {
		return nil, &models.StoreError{Op: "list observation users", Transient: true, Err: err}
	}
	return ids, nil
}

// TopicsForUser lists the distinct topics the user has observations for.
// The empty topic (observations without topic attribution) is excluded.
func (r *ObservationRepository) TopicsForUser(ctx context.Context, userID int64) ([]string, error) {
	var topics []string
	err := withReadRetry(ctx, func() error {
		return r.db.SelectContext(ctx, &topics, `
			SELECT DISTINCT topic_id FROM retention_observations
			WHERE user_id = $1 AND topic_id != ''`, userID)
	})
	if err != nil {
		return nil, &models.StoreError{Op: "list observation topics", Transient: true, Err: err}
	}
	return topics, nil
}
