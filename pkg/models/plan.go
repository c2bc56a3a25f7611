package models

import "time"

// Difficulty level names used by study plan tasks and the content catalog
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
	DifficultyExpert       = "expert"
)

// PlanTask is one scheduled unit of work inside a study plan day
type PlanTask struct {
	TaskID           string `json:"task_id"`
	Title            string `json:"title"`
	DifficultyLevel  string `json:"difficulty_level"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	TaskType         string `json:"task_type"`
	ContentID        string `json:"content_id,omitempty"`
	Completed        bool   `json:"completed"`
	OrderIndex       int    `json:"order_index"`
}

// WeeklySchedule maps weekday names to that day's ordered task list
type WeeklySchedule struct {
	WeekNumber  int                   `json:"week_number"`
	DailyTasks  map[string][]PlanTask `json:"daily_tasks"`
	FocusTopics []string              `json:"focus_topics,omitempty"`
}

// StudyPlan is the persisted plan the dispatcher mutates
type StudyPlan struct {
	ID              string           `json:"id" db:"id"`
	UserID          int64            `json:"user_id" db:"user_id"`
	Name            string           `json:"name" db:"name"`
	WeeklySchedules []WeeklySchedule `json:"weekly_schedules"`
	StartDate       time.Time        `json:"start_date" db:"start_date"`
	TargetAbility   float64          `json:"target_ability" db:"target_ability"`
	Status          string           `json:"status" db:"status"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at"`
}

// CurrentWeek computes the 1-based week number of the plan as of now
func (p *StudyPlan) CurrentWeek(now time.Time) int {
	weeks := int(now.Sub(p.StartDate) / (7 * 24 * time.Hour))
	if weeks < 0 {
		weeks = 0
	}
	return weeks + 1
}

// PlanChangeType enumerates the kinds of plan mutations recorded per adjustment
type PlanChangeType string

const (
	ChangeDifficulty PlanChangeType = "difficulty_change"
	ChangeTaskAdded  PlanChangeType = "task_added"
	ChangeReordered  PlanChangeType = "task_reordered"
)

// PlanChange describes one task-level mutation applied by the dispatcher
type PlanChange struct {
	Type   PlanChangeType `json:"type"`
	TaskID string         `json:"task_id,omitempty"`
	Before interface{}    `json:"before,omitempty"`
	After  interface{}    `json:"after,omitempty"`
	Reason string         `json:"reason"`
}

// AdjustmentResult reports the outcome of one dispatched adjustment
type AdjustmentResult struct {
	Success       bool         `json:"success"`
	AdjustmentID  string       `json:"adjustment_id"`
	TasksAffected int          `json:"tasks_affected"`
	Changes       []PlanChange `json:"changes"`
	Reason        string       `json:"reason,omitempty"` // set on failure
}

// AdjustmentRecord is one append-only adjustment-history row
type AdjustmentRecord struct {
	ID             int64     `json:"id" db:"id"`
	UserID         int64     `json:"user_id" db:"user_id"`
	PlanID         string    `json:"plan_id" db:"plan_id"`
	AdjustmentType string    `json:"adjustment_type" db:"adjustment_type"`
	Severity       string    `json:"severity" db:"severity"`
	Changes        string    `json:"changes" db:"changes"` // JSON array of PlanChange
	TasksAffected  int       `json:"tasks_affected" db:"tasks_affected"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
