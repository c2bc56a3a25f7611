package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/retentiond/pkg/models"
)

// ItemRepository handles database operations for spaced-repetition items
type ItemRepository struct {
	db *DB
}

// NewItemRepository creates a new repository instance
func NewItemRepository(db *DB) *ItemRepository {
	return &ItemRepository{db: db}
}

type itemRow struct {
	ID                string         `db:"id"`
	UserID            int64          `db:"user_id"`
	SourceType        string         `db:"source_type"`
	SourceQuestionID  string         `db:"source_question_id"`
	Front             string         `db:"front"`
	Back              string         `db:"back"`
	EasinessFactor    float64        `db:"easiness_factor"`
	Interval          int            `db:"interval"`
	Repetitions       int            `db:"repetitions"`
	ItemDifficulty    float64        `db:"item_difficulty"`
	AbilityAtCreate   float64        `db:"ability_at_create"`
	LastKnownAbility  sql.NullFloat64 `db:"last_known_ability"`
	CalibrationFactor float64        `db:"calibration_factor"`
	RetentionEstimate float64        `db:"retention_estimate"`
	LastReviewDate    sql.NullTime   `db:"last_review_date"`
	NextReviewDate    time.Time      `db:"next_review_date"`
	TagsJSON          string         `db:"tags_json"`
	HistoryJSON       string         `db:"history_json"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r itemRow) toModel() (*models.ReviewItem, error) {
	item := &models.ReviewItem{
		ID:                r.ID,
		UserID:            r.UserID,
		SourceType:        r.SourceType,
		SourceQuestionID:  r.SourceQuestionID,
		Front:             r.Front,
		Back:              r.Back,
		EasinessFactor:    r.EasinessFactor,
		Interval:          r.Interval,
		Repetitions:       r.Repetitions,
		ItemDifficulty:    r.ItemDifficulty,
		AbilityAtCreate:   r.AbilityAtCreate,
		CalibrationFactor: r.CalibrationFactor,
		RetentionEstimate: r.RetentionEstimate,
		NextReviewDate:    r.NextReviewDate,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.LastKnownAbility.Valid {
		v := r.LastKnownAbility.Float64
		item.LastKnownAbility = &v
	}
	if r.LastReviewDate.Valid {
		t := r.LastReviewDate.Time
		item.LastReviewDate = &t
	}
	if err := json.Unmarshal([]byte(r.TagsJSON), &item.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(r.HistoryJSON), &item.ReviewHistory); err != nil {
		return nil, fmt.Errorf("failed to decode review history: %w", err)
	}
	return item, nil
}

// Get returns one item by id
func (r *ItemRepository) Get(ctx context.Context, id string) (*models.ReviewItem, error) {
	var row itemRow
	err := withReadRetry(ctx, func() error {
		return r.db.GetContext(ctx, &row, "SELECT * FROM review_items WHERE id = $1", id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.StoreError{Op: "get item", Transient: true, Err: err}
	}
	return row.toModel()
}

// FindBySourceQuestion checks the source-tracking index for an existing
// item generated from the given question for this user
func (r *ItemRepository) FindBySourceQuestion(ctx context.Context, userID int64, questionID string) (*models.ReviewItem, error) {
	var row itemRow
	err := withReadRetry(ctx, func() error {
		return r.db.GetContext(ctx, &row,
			"SELECT * FROM review_items WHERE user_id = $1 AND source_question_id = $2",
			userID, questionID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.StoreError{Op: "find item by source", Transient: true, Err: err}
	}
	return row.toModel()
}

// ForUser returns all items belonging to a user
func (r *ItemRepository) ForUser(ctx context.Context, userID int64) ([]*models.ReviewItem, error) {
	return r.selectItems(ctx, "SELECT * FROM review_items WHERE user_id = $1 ORDER BY created_at", userID)
}

// Due returns items whose next review date is on or before now
func (r *ItemRepository) Due(ctx context.Context, userID int64, now time.Time) ([]*models.ReviewItem, error) {
	return r.selectItems(ctx,
		"SELECT * FROM review_items WHERE user_id = $1 AND next_review_date <= $2 ORDER BY next_review_date",
		userID, now)
}

func (r *ItemRepository) selectItems(ctx context.Context, query string, args ...interface{}) ([]*models.ReviewItem, error) {
	var rows []itemRow
	err := withReadRetry(ctx, func() error {
		return r.db.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, &models.StoreError{Op: "select items", Transient: true, Err: err}
	}
	items := make([]*models.ReviewItem, 0, len(rows))
	for _, row := range rows {
		item, convErr := row.toModel()
		if convErr != nil {
			return nil, convErr
		}
		items = append(items, item)
	}
	return items, nil
}

// Save inserts or replaces the full item state. Writes happen only at the
// end of a successful computation, never partially.
func (r *ItemRepository) Save(ctx context.Context, item *models.ReviewItem) error {
	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	history, err := json.Marshal(item.ReviewHistory)
	if err != nil {
		return fmt.Errorf("failed to encode review history: %w", err)
	}

	var lastAbility interface{}
	if item.LastKnownAbility != nil {
		lastAbility = *item.LastKnownAbility
	}
	var lastReview interface{}
	if item.LastReviewDate != nil {
		lastReview = *item.LastReviewDate
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO review_items (
			id, user_id, source_type, source_question_id, front, back,
			easiness_factor, interval, repetitions, item_difficulty,
			ability_at_create, last_known_ability, calibration_factor,
			retention_estimate, last_review_date, next_review_date,
			tags_json, history_json, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO UPDATE SET
			easiness_factor = EXCLUDED.easiness_factor,
			interval = EXCLUDED.interval,
			repetitions = EXCLUDED.repetitions,
			last_known_ability = EXCLUDED.last_known_ability,
			calibration_factor = EXCLUDED.calibration_factor,
			retention_estimate = EXCLUDED.retention_estimate,
			last_review_date = EXCLUDED.last_review_date,
			next_review_date = EXCLUDED.next_review_date,
			tags_json = EXCLUDED.tags_json,
			history_json = EXCLUDED.history_json,
			updated_at = EXCLUDED.updated_at`,
		item.ID, item.UserID, item.SourceType, item.SourceQuestionID, item.Front, item.Back,
		item.EasinessFactor, item.Interval, item.Repetitions, item.ItemDifficulty,
		item.AbilityAtCreate, lastAbility, item.CalibrationFactor,
		item.RetentionEstimate, lastReview, item.NextReviewDate,
		string(tags), string(history), item.CreatedAt, time.Now().UTC(),
	)
	if err != nil {
		return &models.StoreError{Op: "save item", Transient: true, Err: err}
	}
	return nil
}
