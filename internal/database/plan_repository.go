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

// PlanRepository handles study plan persistence
type PlanRepository struct {
	db *DB
}

// NewPlanRepository creates a new repository instance
func NewPlanRepository(db *DB) *PlanRepository {
	return &PlanRepository{db: db}
}

type planRow struct {
	ID            string    `db:"id"`
	UserID        int64     `db:"user_id"`
	Name          string    `db:"name"`
	SchedulesJSON string    `db:"schedules_json"`
	StartDate     time.Time `db:"start_date"`
	TargetAbility float64   `db:"target_ability"`
	Status        string    `db:"status"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// GetActive returns the user's active study plan
func (r *PlanRepository) GetActive(ctx context.Context, userID int64) (*models.StudyPlan, error) {
	var row planRow
	err := withReadRetry(ctx, func() error {
		return r.db.GetContext(ctx, &row,
			"SELECT * FROM study_plans WHERE user_id = $1 AND status = 'active' ORDER BY updated_at DESC LIMIT 1",
			userID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.StoreError{Op: "get active plan", Transient: true, Err: err}
	}

	plan := &models.StudyPlan{
		ID:            row.ID,
		UserID:        row.UserID,
		Name:          row.Name,
		StartDate:     row.StartDate,
		TargetAbility: row.TargetAbility,
		Status:        row.Status,
		UpdatedAt:     row.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(row.SchedulesJSON), &plan.WeeklySchedules); err != nil {
		return nil, fmt.Errorf("failed to decode weekly schedules: %w", err)
	}
	return plan, nil
}

// Save writes the full plan state. Concurrent adjustments to the same plan
// are last-write-wins; the dispatcher serializes per user above this layer.
func (r *PlanRepository) Save(ctx context.Context, plan *models.StudyPlan) error {
	schedules, err := json.Marshal(plan.WeeklySchedules)
	if err != nil {
		return fmt.Errorf("failed to encode weekly schedules: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO study_plans (id, user_id, name, schedules_json, start_date, target_ability, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			schedules_json = EXCLUDED.schedules_json,
			target_ability = EXCLUDED.target_ability,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		plan.ID, plan.UserID, plan.Name, string(schedules),
		plan.StartDate, plan.TargetAbility, plan.Status, time.Now().UTC(),
	)
	if err != nil {
		return &models.StoreError{Op: "save plan", Transient: true, Err: err}
	}
	return nil
}
