package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/retentiond/pkg/models"
)

// AssessmentRepository stores the wrong answers captured during answer
// ingestion so flashcards can be generated from them later
type AssessmentRepository struct {
	db *DB
}

// NewAssessmentRepository creates a new repository instance
func NewAssessmentRepository(db *DB) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

type assessmentRow struct {
	ID           int64     `db:"id"`
	UserID       int64     `db:"user_id"`
	AssessmentID string    `db:"assessment_id"`
	QuestionID   string    `db:"question_id"`
	QuestionText string    `db:"question_text"`
	CorrectAns   string    `db:"correct_answer"`
	UserAnswer   string    `db:"user_answer"`
	Explanation  string    `db:"explanation"`
	TopicsJSON   string    `db:"topics_json"`
	Category     string    `db:"category"`
	Difficulty   float64   `db:"difficulty"`
	Ability      float64   `db:"ability"`
	CreatedAt    time.Time `db:"created_at"`
}

// RecordWrongAnswer stores one incorrect answer with the detail needed to
// build a flashcard from it. Resubmitting the same question overwrites the
// earlier row.
func (r *AssessmentRepository) RecordWrongAnswer(ctx context.Context, req *models.GenerationRequest, assessmentID string) error {
	topics, err := json.Marshal(req.Topics)
	if err != nil {
		return &models.StoreError{Op: "marshal answer topics", Err: err}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO assessment_answers (
			user_id, assessment_id, question_id, question_text,
			correct_answer, user_answer, explanation, topics_json,
			category, difficulty, ability, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT(user_id, assessment_id, question_id) DO UPDATE SET
			question_text = excluded.question_text,
			correct_answer = excluded.correct_answer,
			user_answer = excluded.user_answer,
			explanation = excluded.explanation,
			topics_json = excluded.topics_json,
			category = excluded.category,
			difficulty = excluded.difficulty,
			ability = excluded.ability,
			created_at = excluded.created_at`,
		req.UserID, assessmentID, req.QuestionID, req.QuestionText,
		req.CorrectAnswer, req.UserAnswer, req.Explanation, string(topics),
		req.Category, req.QuestionDifficulty, req.UserAbility, time.Now().UTC(),
	)
	if err != nil {
		return &models.StoreError{Op: "record wrong answer", Transient: true, Err: err}
	}
	return nil
}

// WrongAnswers returns the recorded incorrect answers for one assessment
// run, in submission order
func (r *AssessmentRepository) WrongAnswers(ctx context.Context, userID int64, assessmentID string) ([]models.GenerationRequest, error) {
	var rows []assessmentRow
	err := withReadRetry(ctx, func() error {
		return r.db.SelectContext(ctx, &rows, `
			SELECT * FROM assessment_answers
			WHERE user_id = $1 AND assessment_id = $2
			ORDER BY id`, userID, assessmentID)
	})
	if err != nil {
		return nil, &models.StoreError{Op: "select wrong answers", Transient: true, Err: err}
	}

	out := make([]models.GenerationRequest, 0, len(rows))
	for _, row := range rows {
		var topics []string
		if err := json.Unmarshal([]byte(row.TopicsJSON), &topics); err != nil {
			return nil, &models.StoreError{Op: "unmarshal answer topics", Err: err}
		}
		out = append(out, models.GenerationRequest{
			UserID:             row.UserID,
			SourceType:         "assessment",
			QuestionID:         row.QuestionID,
			UserAbility:        row.Ability,
			QuestionDifficulty: row.Difficulty,
			QuestionText:       row.QuestionText,
			CorrectAnswer:      row.CorrectAns,
			UserAnswer:         row.UserAnswer,
			Explanation:        row.Explanation,
			Topics:             topics,
			Category:           row.Category,
		})
	}
	return out, nil
}
