package models

import "time"

// TriggerType identifies a trigger condition evaluated against the sliding window
type TriggerType string

const (
	TriggerAccuracyDrop     TriggerType = "accuracy_drop"
	TriggerAbilityChange    TriggerType = "ability_change"
	TriggerMasteryGap       TriggerType = "mastery_gap"
	TriggerStreakBreak      TriggerType = "streak_break"
	TriggerPerformanceSpike TriggerType = "performance_spike"
)

// Severity buckets how far past its threshold a trigger fired
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Rank orders severities for primary-trigger selection
func (s Severity) Rank() int {
	switch s {
	case SeveritySevere:
		return 3
	case SeverityModerate:
		return 2
	default:
		return 1
	}
}

// TriggerCondition configures one detection rule
type TriggerCondition struct {
	Type      TriggerType `json:"type"`
	Threshold float64     `json:"threshold"`
}

// DetectedTrigger is one fired condition
type DetectedTrigger struct {
	Type       TriggerType            `json:"type"`
	Severity   Severity               `json:"severity"`
	Value      float64                `json:"value"`
	Threshold  float64                `json:"threshold"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	DetectedAt time.Time              `json:"detected_at"`
}

// ActionType enumerates corrective actions the dispatcher understands
type ActionType string

const (
	ActionReduceDifficulty   ActionType = "reduce_difficulty"
	ActionIncreaseDifficulty ActionType = "increase_difficulty"
	ActionAddRemedial        ActionType = "add_remedial"
	ActionGenerateFlashcards ActionType = "generate_flashcards"
	ActionScheduleReview     ActionType = "schedule_review"
	ActionResequence         ActionType = "resequence"
)

// ActionTypes lists every declared action. The dispatcher's handler
// table must cover all of them; a test enforces this.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionReduceDifficulty,
		ActionIncreaseDifficulty,
		ActionAddRemedial,
		ActionGenerateFlashcards,
		ActionScheduleReview,
		ActionResequence,
	}
}

// RecommendedAction is the single corrective action chosen for a triggering event
type RecommendedAction struct {
	Action       ActionType `json:"action"`
	Severity     Severity   `json:"severity"`
	Categories   []string   `json:"categories,omitempty"`
	Topics       []string   `json:"topics,omitempty"`
	AssessmentID string     `json:"assessment_id,omitempty"`
	Reason       string     `json:"reason"`
}

// AppliedAction records the outcome of dispatching a recommended action
type AppliedAction struct {
	Action    ActionType             `json:"action"`
	Success   bool                   `json:"success"`
	Details   map[string]interface{} `json:"details,omitempty"`
	AppliedAt time.Time              `json:"applied_at"`
}

// TriggerResult is returned for every processed answer event
type TriggerResult struct {
	Triggered         bool                 `json:"triggered"`
	Triggers          []DetectedTrigger    `json:"triggers"`
	Metrics           SlidingWindowMetrics `json:"metrics"`
	RecommendedAction *RecommendedAction   `json:"recommended_action,omitempty"`
	AppliedActions    []AppliedAction      `json:"applied_actions,omitempty"`
}

// FeedbackEvent is the append-only log record written for a triggering evaluation
type FeedbackEvent struct {
	ID            int64     `json:"id" db:"id"`
	UserID        int64     `json:"user_id" db:"user_id"`
	AssessmentID  string    `json:"assessment_id" db:"assessment_id"`
	EventType     string    `json:"event_type" db:"event_type"`
	AbilityBefore float64   `json:"ability_before" db:"ability_before"`
	AbilityAfter  float64   `json:"ability_after" db:"ability_after"`
	TriggersFired int       `json:"triggers_fired" db:"triggers_fired"`
	TriggerData   string    `json:"trigger_data" db:"trigger_data"` // JSON blob: triggers, metrics, applied actions
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
