package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/retentiond/pkg/models"
)

// CatalogRepository handles the content catalog used for remedial insertion
type CatalogRepository struct {
	db *DB
}

// NewCatalogRepository creates a new repository instance
func NewCatalogRepository(db *DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

type catalogRow struct {
	ID              string    `db:"id"`
	Title           string    `db:"title"`
	Category        string    `db:"category"`
	DifficultyLevel string    `db:"difficulty_level"`
	DurationMinutes int       `db:"duration_minutes"`
	TopicsJSON      string    `db:"topics_json"`
	OrderIndex      int       `db:"order_index"`
	CreatedAt       time.Time `db:"created_at"`
}

func (r catalogRow) toModel() (*models.CatalogItem, error) {
	item := &models.CatalogItem{
		ID:              r.ID,
		Title:           r.Title,
		Category:        r.Category,
		DifficultyLevel: r.DifficultyLevel,
		DurationMinutes: r.DurationMinutes,
		OrderIndex:      r.OrderIndex,
		CreatedAt:       r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.TopicsJSON), &item.Topics); err != nil {
		return nil, fmt.Errorf("failed to decode topics: %w", err)
	}
	return item, nil
}

// FindRemedial returns catalog items at the given difficulty level,
// preferring the listed categories. Used by the add_remedial action.
func (r *CatalogRepository) FindRemedial(ctx context.Context, categories []string, difficultyLevel string, limit int) ([]*models.CatalogItem, error) {
	if limit <= 0 {
		limit = 5
	}

	var rows []catalogRow
	err := withReadRetry(ctx, func() error {
		return r.db.SelectContext(ctx, &rows,
			"SELECT * FROM content_catalog WHERE difficulty_level = $1 ORDER BY order_index",
			difficultyLevel)
	})
	if err != nil {
		return nil, &models.StoreError{Op: "select catalog", Transient: true, Err: err}
	}

	wanted := make(map[string]bool, len(categories))
	for _, c := range categories {
		wanted[c] = true
	}

	var matched, rest []*models.CatalogItem
	for _, row := range rows {
		item, convErr := row.toModel()
		if convErr != nil {
			return nil, convErr
		}
		if len(wanted) == 0 || wanted[item.Category] {
			matched = append(matched, item)
		} else {
			rest = append(rest, item)
		}
	}
	matched = append(matched, rest...)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Upsert inserts or replaces one catalog item, used by the spreadsheet importer
func (r *CatalogRepository) Upsert(ctx context.Context, item *models.CatalogItem) error {
	topics, err := json.Marshal(item.Topics)
	if err != nil {
		return fmt.Errorf("failed to encode topics: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO content_catalog (id, title, category, difficulty_level, duration_minutes, topics_json, order_index, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			category = EXCLUDED.category,
			difficulty_level = EXCLUDED.difficulty_level,
			duration_minutes = EXCLUDED.duration_minutes,
			topics_json = EXCLUDED.topics_json,
			order_index = EXCLUDED.order_index`,
		item.ID, item.Title, item.Category, item.DifficultyLevel,
		item.DurationMinutes, string(topics), item.OrderIndex, time.Now().UTC(),
	)
	if err != nil {
		return &models.StoreError{Op: "upsert catalog item", Transient: true, Err: err}
	}
	return nil
}

// Count returns the number of catalog items
func (r *CatalogRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := withReadRetry(ctx, func() error {
		return r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM content_catalog")
	})
	if err != nil {
		return 0, &models.StoreError{Op: "count catalog", Transient: true, Err: err}
	}
	return count, nil
}
