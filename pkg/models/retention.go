package models

import "time"

// RetentionObservation is one recall check, appended to the observation
// log and never mutated afterwards
type RetentionObservation struct {
	ID                  int64     `json:"id" db:"id"`
	UserID              int64     `json:"user_id" db:"user_id"`
	TopicID             string    `json:"topic_id,omitempty" db:"topic_id"`
	ItemID              string    `json:"item_id,omitempty" db:"item_id"`
	DaysSinceLastReview int       `json:"days_since_last_review" db:"days_since_last_review"`
	WasRecalled         bool      `json:"was_recalled" db:"was_recalled"`
	QualityScore        int       `json:"quality_score" db:"quality_score"` // 0-5
	PredictedRetention  float64   `json:"predicted_retention" db:"predicted_retention"`
	ObservedAt          time.Time `json:"observed_at" db:"observed_at"`
}

// ForgettingCurve is a fitted per-user (optionally per-topic) exponential
// memory decay model R = e^(-k*t)
type ForgettingCurve struct {
	UserID        int64     `json:"user_id"`
	TopicID       string    `json:"topic_id,omitempty"`
	DecayConstant float64   `json:"decay_constant"` // k, clamped [0.05, 1.0]
	HalfLife      float64   `json:"half_life"`      // ln2 / k, days
	Confidence    float64   `json:"confidence"`     // regression R-squared, 0-1
	DataPoints    int       `json:"data_points"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Urgency ranks how overdue a review is relative to predicted retention
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyNormal   Urgency = "normal"
	UrgencyLow      Urgency = "low"
)

// ReviewUrgency buckets a retention prediction for scheduling
type ReviewUrgency string

const (
	ReviewOverdue ReviewUrgency = "overdue"
	ReviewDueSoon ReviewUrgency = "due_soon"
	ReviewOptimal ReviewUrgency = "optimal"
	ReviewEarly   ReviewUrgency = "early"
)

// RetentionPrediction is the forecaster's answer for one (user, topic, elapsed-days) query
type RetentionPrediction struct {
	Retention         float64       `json:"retention"`  // 0-1
	Confidence        float64       `json:"confidence"` // 0-1
	OptimalReviewDate time.Time     `json:"optimal_review_date"`
	Urgency           ReviewUrgency `json:"urgency"`
	DaysUntilOptimal  float64       `json:"days_until_optimal"`
}

// PersonalizedParams bias the SM-2 engine's defaults for one user,
// derived from observed retention data
type PersonalizedParams struct {
	UserID             int64     `json:"user_id"`
	EFMultiplier       float64   `json:"ef_multiplier"`
	IntervalMultiplier float64   `json:"interval_multiplier"`
	HardModifier       float64   `json:"hard_modifier"`
	EasyModifier       float64   `json:"easy_modifier"`
	GraduationDays     int       `json:"graduation_days"`
	LapseThreshold     float64   `json:"lapse_threshold"`
	LastCalibrated     time.Time `json:"last_calibrated"`
}
