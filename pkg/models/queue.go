package models

import "time"

// DueCard is one entry in the unified review queue, computed on demand
// and never persisted
type DueCard struct {
	ID               string    `json:"id"`
	SourceID         string    `json:"source_id"`
	Front            string    `json:"front,omitempty"`
	Retention        float64   `json:"retention"` // 0-1
	Urgency          Urgency   `json:"urgency"`
	Topics           []string  `json:"topics,omitempty"`
	DaysSinceReview  float64   `json:"days_since_review"`
	ExpectedInterval int       `json:"expected_interval"`
	DueDate          time.Time `json:"due_date"`
	EstimatedSeconds int       `json:"estimated_seconds"`
}

// QueueResult is the response of the unified queue endpoint
type QueueResult struct {
	Cards            []DueCard `json:"cards"`
	OverdueCount     int       `json:"overdue_count"`
	DailyTarget      int       `json:"daily_target"`
	EstimatedMinutes int       `json:"estimated_minutes"`
}

// DayLoad is one day's assignment produced by load balancing
type DayLoad struct {
	Date  time.Time `json:"date"`
	Cards []DueCard `json:"cards"`
}
