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

// UserWindowState is the per-user detection state held between answer events:
// the sliding outcome window plus the adjustment budget bookkeeping.
type UserWindowState struct {
	UserID           int64
	Answers          []models.WindowAnswer // most recent first
	LastAbility      float64
	LastAdjustment   *time.Time
	AdjustmentsToday int
	AdjustmentsDate  string // YYYY-MM-DD in UTC
}

// WindowRepository persists per-user sliding window state
type WindowRepository struct {
	db *DB
}

// NewWindowRepository creates a new repository instance
func NewWindowRepository(db *DB) *WindowRepository {
	return &WindowRepository{db: db}
}

type windowRow struct {
	UserID           int64        `db:"user_id"`
	WindowJSON       string       `db:"window_json"`
	LastAbility      float64      `db:"last_ability"`
	LastAdjustment   sql.NullTime `db:"last_adjustment"`
	AdjustmentsToday int          `db:"adjustments_today"`
	AdjustmentsDate  string       `db:"adjustments_date"`
	UpdatedAt        time.Time    `db:"updated_at"`
}

// Get loads the window state for a user. A user with no prior events gets
// a fresh empty state, not an error.
func (r *WindowRepository) Get(ctx context.Context, userID int64) (*UserWindowState, error) {
	var row windowRow
	err := withReadRetry(ctx, func() error {
		return r.db.GetContext(ctx, &row, "SELECT * FROM user_windows WHERE user_id = $1", userID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return &UserWindowState{UserID: userID}, nil
	}
	if err != nil {
		return nil, &models.StoreError{Op: "get window", Transient: true, Err: err}
	}

	state := &UserWindowState{
		UserID:           row.UserID,
		LastAbility:      row.LastAbility,
		AdjustmentsToday: row.AdjustmentsToday,
		AdjustmentsDate:  row.AdjustmentsDate,
	}
	if row.LastAdjustment.Valid {
		t := row.LastAdjustment.Time
		state.LastAdjustment = &t
	}
	if err := json.Unmarshal([]byte(row.WindowJSON), &state.Answers); err != nil {
		return nil, fmt.Errorf("failed to decode window: %w", err)
	}
	return state, nil
}

// LastAbility returns the user's most recent ability estimate, zero for
// users with no history
func (r *WindowRepository) LastAbility(ctx context.Context, userID int64) (float64, error) {
	state, err := r.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return state.LastAbility, nil
}

// Save upserts the window state
func (r *WindowRepository) Save(ctx context.Context, state *UserWindowState) error {
	window, err := json.Marshal(state.Answers)
	if err != nil {
		return fmt.Errorf("failed to encode window: %w", err)
	}

	var lastAdjustment interface{}
	if state.LastAdjustment != nil {
		lastAdjustment = *state.LastAdjustment
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO user_windows (user_id, window_json, last_ability, last_adjustment, adjustments_today, adjustments_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			window_json = EXCLUDED.window_json,
			last_ability = EXCLUDED.last_ability,
			last_adjustment = EXCLUDED.last_adjustment,
			adjustments_today = EXCLUDED.adjustments_today,
			adjustments_date = EXCLUDED.adjustments_date,
			updated_at = EXCLUDED.updated_at`,
		state.UserID, string(window), state.LastAbility, lastAdjustment,
		state.AdjustmentsToday, state.AdjustmentsDate, time.Now().UTC(),
	)
	if err != nil {
		return &models.StoreError{Op: "save window", Transient: true, Err: err}
	}
	return nil
}
