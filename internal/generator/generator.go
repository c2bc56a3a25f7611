package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/retentiond/internal/logger"
	"github.com/example/retentiond/internal/spacedrep"
	"github.com/example/retentiond/pkg/models"
)

// ItemStore is the slice of persistence the generator needs
type ItemStore interface {
	FindBySourceQuestion(ctx context.Context, userID int64, questionID string) (*models.ReviewItem, error)
	Save(ctx context.Context, item *models.ReviewItem) error
}

// AssessmentSource exposes the wrong answers of a completed assessment.
// The question bank itself lives outside this service.
type AssessmentSource interface {
	WrongAnswers(ctx context.Context, userID int64, assessmentID string) ([]models.GenerationRequest, error)
}

// Generator turns incorrect answers into spaced-repetition items with
// an ability-calibrated starting state
type Generator struct {
	items       ItemStore
	assessments AssessmentSource
	log         *logger.Logger
}

// New creates a generator. assessments may be nil when only the
// single-item path is used.
func New(items ItemStore, assessments AssessmentSource, log *logger.Logger) *Generator {
	return &Generator{items: items, assessments: assessments, log: log}
}

// GenerateFromIncorrectAnswer builds one review item from a missed
// question. Returns (nil, nil) when an item for this source question
// already exists: duplicates are skips, not errors.
func (g *Generator) GenerateFromIncorrectAnswer(ctx context.Context, req *models.GenerationRequest) (*models.ReviewItem, error) {
	if req.UserID <= 0 {
		return nil, models.Validationf("user_id", "must be positive")
	}
	if req.QuestionID == "" {
		return nil, models.Validationf("question_id", "must not be empty")
	}

	existing, err := g.items.FindBySourceQuestion(ctx, req.UserID, req.QuestionID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		g.log.Debug("item already exists for question",
			"user_id", req.UserID, "question_id", req.QuestionID)
		return nil, nil
	}

	gap := req.UserAbility - req.QuestionDifficulty
	now := time.Now().UTC()

	item := &models.ReviewItem{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
		SourceType:        req.SourceType,
		SourceQuestionID:  req.QuestionID,
		Front:             req.QuestionText,
		Back:              backContent(req),
		EasinessFactor:    spacedrep.InitialEasinessFactor(gap),
		ItemDifficulty:    req.QuestionDifficulty,
		AbilityAtCreate:   req.UserAbility,
		CalibrationFactor: spacedrep.CalibrationFactor(gap),
		RetentionEstimate: 1.0,
		NextReviewDate:    now,
		Tags:              buildTags(req),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := g.items.Save(ctx, item); err != nil {
		return nil, err
	}

	g.log.Info("item generated from incorrect answer",
		"user_id", req.UserID, "question_id", req.QuestionID,
		"initial_ef", item.EasinessFactor)
	return item, nil
}

// GenerateFromQuizResults batches generation over every wrong answer in
// one assessment and reports per-question outcomes
func (g *Generator) GenerateFromQuizResults(ctx context.Context, userID int64, assessmentID string) (*models.GenerationReport, error) {
	report := &models.GenerationReport{}
	if g.assessments == nil {
		return report, nil
	}

	wrongAnswers, err := g.assessments.WrongAnswers(ctx, userID, assessmentID)
	if err != nil {
		return nil, err
	}
	if len(wrongAnswers) == 0 {
		g.log.Debug("no wrong answers to generate from",
			"user_id", userID, "assessment_id", assessmentID)
		return report, nil
	}

	for i := range wrongAnswers {
		req := wrongAnswers[i]
		req.UserID = userID
		if req.SourceType == "" {
			req.SourceType = "assessment"
		}

		item, genErr := g.GenerateFromIncorrectAnswer(ctx, &req)
		switch {
		case genErr != nil:
			report.Errors++
			report.SkipReasons = append(report.SkipReasons, models.SkipReason{
				QuestionID: req.QuestionID,
				Reason:     genErr.Error(),
			})
		case item == nil:
			report.Skipped++
			report.SkipReasons = append(report.SkipReasons, models.SkipReason{
				QuestionID: req.QuestionID,
				Reason:     "item already exists",
			})
		default:
			report.Generated++
			report.Items = append(report.Items, item)
		}
	}

	g.log.Info("batch generation complete",
		"user_id", userID, "assessment_id", assessmentID,
		"generated", report.Generated, "skipped", report.Skipped,
		"errors", report.Errors)
	return report, nil
}

func backContent(req *models.GenerationRequest) string {
	back := "**Correct Answer:** " + req.CorrectAnswer
	if req.UserAnswer != "" && req.UserAnswer != req.CorrectAnswer {
		back += fmt.Sprintf("\n\n**Your Answer:** %s", req.UserAnswer)
	}
	if req.Explanation != "" {
		back += fmt.Sprintf("\n\n**Explanation:** %s", req.Explanation)
	}
	return back
}

func buildTags(req *models.GenerationRequest) []string {
	tags := []string{"auto-generated", req.SourceType}
	if req.Category != "" {
		tags = append(tags, req.Category)
	}
	topics := req.Topics
	if len(topics) > 3 {
		topics = topics[:3]
	}
	tags = append(tags, topics...)

	switch {
	case req.QuestionDifficulty < -1:
		tags = append(tags, "easy")
	case req.QuestionDifficulty < 0.5:
		tags = append(tags, "medium")
	default:
		tags = append(tags, "hard")
	}
	return tags
}
