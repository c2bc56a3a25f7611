package models

import "time"

// AnswerEvent represents one submitted answer from an assessment or quiz run
type AnswerEvent struct {
	UserID             int64     `json:"user_id" db:"user_id"`
	AssessmentID       string    `json:"assessment_id" db:"assessment_id"`
	QuestionID         string    `json:"question_id" db:"question_id"`
	IsCorrect          bool      `json:"is_correct" db:"is_correct"`
	QuestionDifficulty float64   `json:"question_difficulty" db:"question_difficulty"` // IRT theta scale
	AbilityBefore      float64   `json:"ability_before" db:"ability_before"`
	AbilityAfter       float64   `json:"ability_after" db:"ability_after"`
	Category           string    `json:"category,omitempty" db:"category"`
	Topics             []string  `json:"topics,omitempty"`
	Timestamp          time.Time `json:"timestamp" db:"timestamp"`
}

// AbilityTrend describes the recent direction of a learner's ability estimate
type AbilityTrend string

const (
	TrendImproving AbilityTrend = "improving"
	TrendStable    AbilityTrend = "stable"
	TrendDeclining AbilityTrend = "declining"
)

// WindowAnswer is one entry in a user's sliding outcome window
type WindowAnswer struct {
	QuestionID string    `json:"question_id"`
	IsCorrect  bool      `json:"is_correct"`
	Difficulty float64   `json:"difficulty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SlidingWindowMetrics holds the rolling outcome window for a user.
// Accuracy and average difficulty are always recomputed from the full
// window contents, never adjusted incrementally.
type SlidingWindowMetrics struct {
	WindowSize        int            `json:"window_size"`
	RecentAnswers     []WindowAnswer `json:"recent_answers"` // most recent first
	Accuracy          float64        `json:"accuracy"`       // 0-100
	AverageDifficulty float64        `json:"average_difficulty"`
	AbilityTrend      AbilityTrend   `json:"ability_trend"`
}
