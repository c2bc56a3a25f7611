package models

import "time"

// CatalogItem is the slice of the content catalog the engine reads:
// enough to select remedial material, nothing more
type CatalogItem struct {
	ID              string    `json:"id" db:"id"`
	Title           string    `json:"title" db:"title"`
	Category        string    `json:"category" db:"category"`
	DifficultyLevel string    `json:"difficulty_level" db:"difficulty_level"`
	DurationMinutes int       `json:"duration_minutes" db:"duration_minutes"`
	Topics          []string  `json:"topics,omitempty"`
	OrderIndex      int       `json:"order_index" db:"order_index"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
