package models

import "time"

// LearningStatus is the SM-2 state machine phase of a review item
type LearningStatus string

const (
	StatusNew        LearningStatus = "new"
	StatusLearning   LearningStatus = "learning"
	StatusReview     LearningStatus = "review"
	StatusRelearning LearningStatus = "relearning"
	StatusGraduated  LearningStatus = "graduated"
)

// ReviewHistoryEntry records one completed review of an item
type ReviewHistoryEntry struct {
	ReviewDate     time.Time `json:"review_date"`
	Quality        int       `json:"quality"` // 0-5
	ResponseTimeMs int       `json:"response_time_ms"`
	WasRecalled    bool      `json:"was_recalled"`
	IntervalBefore int       `json:"interval_before"`
	IntervalAfter  int       `json:"interval_after"`
	EFBefore       float64   `json:"ef_before"`
	EFAfter        float64   `json:"ef_after"`
}

// MaxReviewHistory bounds the per-item review history length
const MaxReviewHistory = 20

// ReviewItem is one spaced-repetition item with its IRT-calibrated SM-2 state
type ReviewItem struct {
	ID                string               `json:"id" db:"id"`
	UserID            int64                `json:"user_id" db:"user_id"`
	SourceType        string               `json:"source_type" db:"source_type"` // assessment, quiz, course, manual
	SourceQuestionID  string               `json:"source_question_id" db:"source_question_id"`
	Front             string               `json:"front" db:"front"`
	Back              string               `json:"back" db:"back"`
	EasinessFactor    float64              `json:"easiness_factor" db:"easiness_factor"` // clamped [1.3, 3.0]
	Interval          int                  `json:"interval" db:"interval"`               // days
	Repetitions       int                  `json:"repetitions" db:"repetitions"`
	ItemDifficulty    float64              `json:"item_difficulty" db:"item_difficulty"` // IRT
	AbilityAtCreate   float64              `json:"ability_at_create" db:"ability_at_create"`
	LastKnownAbility  *float64             `json:"last_known_ability,omitempty" db:"last_known_ability"`
	CalibrationFactor float64              `json:"calibration_factor" db:"calibration_factor"`
	RetentionEstimate float64              `json:"retention_estimate" db:"retention_estimate"` // 0-1
	LastReviewDate    *time.Time           `json:"last_review_date,omitempty" db:"last_review_date"`
	NextReviewDate    time.Time            `json:"next_review_date" db:"next_review_date"`
	Tags              []string             `json:"tags,omitempty"`
	ReviewHistory     []ReviewHistoryEntry `json:"review_history,omitempty"`
	CreatedAt         time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at" db:"updated_at"`
}

// PrimaryTopic returns the first non-bookkeeping tag, used for interleaving
func (it *ReviewItem) PrimaryTopic() string {
	for _, tag := range it.Tags {
		switch tag {
		case "auto-generated", "easy", "medium", "hard",
			"assessment", "quiz", "course", "manual":
			continue
		}
		return tag
	}
	return ""
}

// GenerationRequest carries everything needed to turn one incorrect
// answer into a review item
type GenerationRequest struct {
	UserID             int64    `json:"user_id"`
	SourceType         string   `json:"source_type"`
	QuestionID         string   `json:"question_id"`
	UserAbility        float64  `json:"user_ability"`
	QuestionDifficulty float64  `json:"question_difficulty"`
	QuestionText       string   `json:"question_text"`
	CorrectAnswer      string   `json:"correct_answer"`
	UserAnswer         string   `json:"user_answer,omitempty"`
	Explanation        string   `json:"explanation,omitempty"`
	Topics             []string `json:"topics,omitempty"`
	Category           string   `json:"category,omitempty"`
}

// SkipReason explains one non-generated question in a batch run
type SkipReason struct {
	QuestionID string `json:"question_id"`
	Reason     string `json:"reason"`
}

// GenerationReport is the partial-failure summary of a batch generation
// run; one bad question never fails the whole batch
type GenerationReport struct {
	Generated   int           `json:"generated"`
	Skipped     int           `json:"skipped"`
	Errors      int           `json:"errors"`
	Items       []*ReviewItem `json:"items,omitempty"`
	SkipReasons []SkipReason  `json:"skip_reasons,omitempty"`
}

// ReviewResult is the outcome of running one review through the engine
type ReviewResult struct {
	NewState            *ReviewItem    `json:"new_state"`
	RetentionPrediction float64        `json:"retention_prediction"`
	RecommendedReview   time.Time      `json:"recommended_review_date"`
	LearningStatus      LearningStatus `json:"learning_status"`
}
