package excel

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/example/retentiond/internal/logger"
	"github.com/example/retentiond/pkg/models"
)

// CatalogWriter receives imported catalog rows
type CatalogWriter interface {
	Upsert(ctx context.Context, item *models.CatalogItem) error
}

// ImportConfig describes the spreadsheet layout. Columns are letters;
// topics are semicolon separated inside their cell.
type ImportConfig struct {
	FilePath         string
	SheetName        string
	IDColumn         string
	TitleColumn      string
	CategoryColumn   string
	DifficultyColumn string
	DurationColumn   string
	TopicsColumn     string
	OrderColumn      string
	StartRow         int // 1-based; the default skips a header row
}

// DefaultImportConfig returns the expected catalog sheet layout
func DefaultImportConfig(path string) ImportConfig {
	return ImportConfig{
		FilePath:         path,
		SheetName:        "Sheet1",
		IDColumn:         "A",
		TitleColumn:      "B",
		CategoryColumn:   "C",
		DifficultyColumn: "D",
		DurationColumn:   "E",
		TopicsColumn:     "F",
		OrderColumn:      "G",
		StartRow:         2,
	}
}

// ImportResult summarizes one import run
type ImportResult struct {
	Processed int
	Imported  int
	Skipped   int
	Errors    []string
}

var validDifficulties = map[string]bool{
	"beginner":     true,
	"intermediate": true,
	"advanced":     true,
	"expert":       true,
}

// ImportCatalog loads remedial content rows from an xlsx file into the
// catalog. Rows without a title are skipped; rows with an unknown
// difficulty level are reported as errors and not imported.
func ImportCatalog(ctx context.Context, cfg ImportConfig, catalog CatalogWriter, log *logger.Logger) (*ImportResult, error) {
	f, err := excelize.OpenFile(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(cfg.SheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", cfg.SheetName, err)
	}

	result := &ImportResult{}
	for i := cfg.StartRow - 1; i < len(rows); i++ {
		rowNum := i + 1
		result.Processed++

		item, err := parseRow(cfg, rows[i])
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", rowNum, err))
			continue
		}
		if item == nil {
			result.Skipped++
			continue
		}

		if err := catalog.Upsert(ctx, item); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", rowNum, err))
			continue
		}
		result.Imported++
	}

	log.Info("catalog import finished",
		"file", cfg.FilePath,
		"processed", result.Processed,
		"imported", result.Imported,
		"skipped", result.Skipped,
		"errors", len(result.Errors))
	return result, nil
}

func parseRow(cfg ImportConfig, row []string) (*models.CatalogItem, error) {
	title := strings.TrimSpace(cell(row, cfg.TitleColumn))
	if title == "" {
		return nil, nil
	}

	difficulty := strings.ToLower(strings.TrimSpace(cell(row, cfg.DifficultyColumn)))
	if difficulty == "" {
		difficulty = "beginner"
	}
	if !validDifficulties[difficulty] {
		return nil, fmt.Errorf("unknown difficulty level %q", difficulty)
	}

	id := strings.TrimSpace(cell(row, cfg.IDColumn))
	if id == "" {
		id = uuid.NewString()
	}

	duration := 15
	if v := strings.TrimSpace(cell(row, cfg.DurationColumn)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid duration %q", v)
		}
		duration = n
	}

	order := 0
	if v := strings.TrimSpace(cell(row, cfg.OrderColumn)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid order index %q", v)
		}
		order = n
	}

	var topics []string
	for _, t := range strings.Split(cell(row, cfg.TopicsColumn), ";") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}

	return &models.CatalogItem{
		ID:              id,
		Title:           title,
		Category:        strings.TrimSpace(cell(row, cfg.CategoryColumn)),
		DifficultyLevel: difficulty,
		DurationMinutes: duration,
		Topics:          topics,
		OrderIndex:      order,
	}, nil
}

// cell resolves a column letter against one row; missing cells are empty
func cell(row []string, column string) string {
	idx, err := excelize.ColumnNameToNumber(column)
	if err != nil || idx-1 >= len(row) {
		return ""
	}
	return row[idx-1]
}
