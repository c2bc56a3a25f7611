package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/example/retentiond/internal/logger"
	"github.com/example/retentiond/pkg/models"
)

// DifficultyBand is one numeric range behind a difficulty label
type DifficultyBand struct {
	Min, Max float64
}

// Midpoint returns the band's numeric representative
func (b DifficultyBand) Midpoint() float64 {
	return (b.Min + b.Max) / 2
}

// Config maps difficulty labels onto the IRT scale and sizes the
// severity-scaled adjustment steps
type Config struct {
	Bands         map[string]DifficultyBand
	StepSizes     map[models.Severity]float64
	AbsoluteMin   float64
	AbsoluteMax   float64
	RemedialLimit int

	MaxAdjustmentsPerDay int
	Cooldown             time.Duration
}

// DefaultConfig returns the stock band layout and step sizes
func DefaultConfig() Config {
	return Config{
		Bands: map[string]DifficultyBand{
			models.DifficultyBeginner:     {Min: -3, Max: -1},
			models.DifficultyIntermediate: {Min: -1, Max: 0.5},
			models.DifficultyAdvanced:     {Min: 0.5, Max: 1.5},
			models.DifficultyExpert:       {Min: 1.5, Max: 3},
		},
		StepSizes: map[models.Severity]float64{
			models.SeverityMild:     0.2,
			models.SeverityModerate: 0.5,
			models.SeveritySevere:   1.0,
		},
		AbsoluteMin:          -3,
		AbsoluteMax:          3,
		RemedialLimit:        5,
		MaxAdjustmentsPerDay: 3,
		Cooldown:             time.Hour,
	}
}

// planMutatingActions are the action types subject to the daily cap and
// cooldown re-check against persisted adjustment history
var planMutatingActions = map[models.ActionType]bool{
	models.ActionReduceDifficulty:   true,
	models.ActionIncreaseDifficulty: true,
	models.ActionAddRemedial:        true,
	models.ActionResequence:         true,
}

// PlanStore is the slice of persistence the dispatcher needs for plans
type PlanStore interface {
	GetActive(ctx context.Context, userID int64) (*models.StudyPlan, error)
	Save(ctx context.Context, plan *models.StudyPlan) error
}

// CatalogStore provides read-only access to remedial content
type CatalogStore interface {
	FindRemedial(ctx context.Context, categories []string, difficultyLevel string, limit int) ([]*models.CatalogItem, error)
}

// AdjustmentLog records applied adjustments and answers the cap and
// cooldown re-checks against persisted history
type AdjustmentLog interface {
	AppendAdjustment(ctx context.Context, rec *models.AdjustmentRecord) error
	CountSince(ctx context.Context, userID int64, since time.Time) (int, error)
	LastAdjustmentAt(ctx context.Context, userID int64) (*time.Time, error)
}

// AbilitySource reports a user's current ability estimate
type AbilitySource interface {
	LastAbility(ctx context.Context, userID int64) (float64, error)
}

// ItemGenerator batches flashcard generation for an assessment's wrong answers
type ItemGenerator interface {
	GenerateFromQuizResults(ctx context.Context, userID int64, assessmentID string) (*models.GenerationReport, error)
}

// ReviewScheduler pulls a user's weakest items forward for immediate review
type ReviewScheduler interface {
	ScheduleImmediateReview(ctx context.Context, userID int64, topics []string, limit int) (int, error)
}

type handlerFunc func(ctx context.Context, userID int64, action *models.RecommendedAction) (*models.AdjustmentResult, error)

// Dispatcher applies recommended actions to a user's study plan. Every
// declared ActionType has a handler; construction fails closed if one
// is missing.
type Dispatcher struct {
	cfg       Config
	plans     PlanStore
	catalog   CatalogStore
	history   AdjustmentLog
	ability   AbilitySource
	generator ItemGenerator
	reviews   ReviewScheduler
	log       *logger.Logger

	handlers map[models.ActionType]handlerFunc
}

// New creates a dispatcher with a handler per declared action type
func New(cfg Config, plans PlanStore, catalog CatalogStore, history AdjustmentLog,
	ability AbilitySource, generator ItemGenerator, reviews ReviewScheduler, log *logger.Logger) *Dispatcher {

	d := &Dispatcher{
		cfg:       cfg,
		plans:     plans,
		catalog:   catalog,
		history:   history,
		ability:   ability,
		generator: generator,
		reviews:   reviews,
		log:       log,
	}
	d.handlers = map[models.ActionType]handlerFunc{
		models.ActionReduceDifficulty: func(ctx context.Context, userID int64, a *models.RecommendedAction) (*models.AdjustmentResult, error) {
			return d.shiftDifficulty(ctx, userID, a.Severity, -1)
		},
		models.ActionIncreaseDifficulty: func(ctx context.Context, userID int64, a *models.RecommendedAction) (*models.AdjustmentResult, error) {
			return d.shiftDifficulty(ctx, userID, a.Severity, +1)
		},
		models.ActionAddRemedial: func(ctx context.Context, userID int64, a *models.RecommendedAction) (*models.AdjustmentResult, error) {
			return d.addRemedialContent(ctx, userID, a.Categories)
		},
		models.ActionResequence: func(ctx context.Context, userID int64, _ *models.RecommendedAction) (*models.AdjustmentResult, error) {
			return d.resequenceContent(ctx, userID)
		},
		models.ActionGenerateFlashcards: d.generateFlashcards,
		models.ActionScheduleReview:     d.scheduleReview,
	}
	return d
}

// HandledActions lists the action types the dispatcher can apply
func (d *Dispatcher) HandledActions() []models.ActionType {
	actions := make([]models.ActionType, 0, len(d.handlers))
	for a := range d.handlers {
		actions = append(actions, a)
	}
	return actions
}

// Apply routes one recommended action to its handler and wraps the
// outcome. Unknown actions and terminal conditions like a missing plan
// come back as unsuccessful AppliedActions, not errors.
func (d *Dispatcher) Apply(ctx context.Context, userID int64, action *models.RecommendedAction) (*models.AppliedAction, error) {
	applied := &models.AppliedAction{
		Action:    action.Action,
		AppliedAt: time.Now().UTC(),
	}

	handler, ok := d.handlers[action.Action]
	if !ok {
		applied.Details = map[string]interface{}{"reason": "unhandled action type"}
		return applied, nil
	}

	// the controller already throttles dispatches from its window state;
	// re-check against persisted history so a restarted or second instance
	// cannot blow past the budget
	if planMutatingActions[action.Action] {
		blocked, reason, err := d.budgetExceeded(ctx, userID, applied.AppliedAt)
		if err != nil {
			return nil, err
		}
		if blocked {
			applied.Details = map[string]interface{}{"reason": reason}
			return applied, nil
		}
	}

	result, err := handler(ctx, userID, action)
	if err != nil {
		return nil, err
	}

	applied.Success = result.Success
	applied.Details = map[string]interface{}{
		"adjustment_id":  result.AdjustmentID,
		"tasks_affected": result.TasksAffected,
	}
	if result.Reason != "" {
		applied.Details["reason"] = result.Reason
	}
	return applied, nil
}

func (d *Dispatcher) budgetExceeded(ctx context.Context, userID int64, now time.Time) (bool, string, error) {
	if d.cfg.Cooldown > 0 {
		last, err := d.history.LastAdjustmentAt(ctx, userID)
		if err != nil {
			return false, "", err
		}
		if last != nil && now.Sub(*last) < d.cfg.Cooldown {
			return true, "inside cooldown window", nil
		}
	}
	if d.cfg.MaxAdjustmentsPerDay > 0 {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		count, err := d.history.CountSince(ctx, userID, dayStart)
		if err != nil {
			return false, "", err
		}
		if count >= d.cfg.MaxAdjustmentsPerDay {
			return true, "daily adjustment cap reached", nil
		}
	}
	return false, "", nil
}

func failure(reason string) *models.AdjustmentResult {
	return &models.AdjustmentResult{Success: false, Reason: reason}
}

// shiftDifficulty moves every upcoming task's difficulty label by a
// severity-scaled step in the given direction
func (d *Dispatcher) shiftDifficulty(ctx context.Context, userID int64, severity models.Severity, direction float64) (*models.AdjustmentResult, error) {
	plan, err := d.plans.GetActive(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return failure("no active study plan"), nil
	}
	if err != nil {
		return nil, err
	}

	step := d.cfg.StepSizes[severity] * direction
	adjType := string(models.ActionReduceDifficulty)
	if direction > 0 {
		adjType = string(models.ActionIncreaseDifficulty)
	}

	var changes []models.PlanChange
	now := time.Now().UTC()
	currentWeek := plan.CurrentWeek(now)

	d.forUpcomingTasks(plan, currentWeek, func(task *models.PlanTask) {
		numeric := d.labelToNumeric(task.DifficultyLevel)
		shifted := clamp(numeric+step, d.cfg.AbsoluteMin, d.cfg.AbsoluteMax)
		newLabel := d.numericToLabel(shifted)
		if newLabel == task.DifficultyLevel {
			return
		}
		changes = append(changes, models.PlanChange{
			Type:   models.ChangeDifficulty,
			TaskID: task.TaskID,
			Before: task.DifficultyLevel,
			After:  newLabel,
			Reason: fmt.Sprintf("%s %s adjustment", severity, adjType),
		})
		task.DifficultyLevel = newLabel
	})

	return d.commit(ctx, userID, plan, adjType, severity, changes)
}

// addRemedialContent front-inserts beginner catalog items into the
// remaining weekdays of the current week
func (d *Dispatcher) addRemedialContent(ctx context.Context, userID int64, categories []string) (*models.AdjustmentResult, error) {
	plan, err := d.plans.GetActive(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return failure("no active study plan"), nil
	}
	if err != nil {
		return nil, err
	}

	items, err := d.catalog.FindRemedial(ctx, categories, models.DifficultyBeginner, d.cfg.RemedialLimit)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return &models.AdjustmentResult{Success: true, AdjustmentID: uuid.NewString()}, nil
	}

	now := time.Now().UTC()
	week := currentWeekSchedule(plan, now)
	if week == nil {
		return failure("current week schedule not found"), nil
	}

	weekdays := []string{"monday", "tuesday", "wednesday", "thursday", "friday"}
	weekdayIdx := int(now.Weekday()) - 1
	if weekdayIdx < 0 {
		weekdayIdx = 0
	}
	if weekdayIdx >= len(weekdays) {
		weekdayIdx = len(weekdays) - 1
	}
	remaining := weekdays[weekdayIdx:]

	var changes []models.PlanChange
	for i, item := range items {
		day := remaining[i%len(remaining)]
		tasks := week.DailyTasks[day]
		for j := range tasks {
			tasks[j].OrderIndex++
		}
		newTask := models.PlanTask{
			TaskID:           uuid.NewString(),
			Title:            "Review: " + item.Title,
			DifficultyLevel:  models.DifficultyBeginner,
			EstimatedMinutes: item.DurationMinutes,
			TaskType:         "review",
			ContentID:        item.ID,
			OrderIndex:       0,
		}
		if newTask.EstimatedMinutes <= 0 {
			newTask.EstimatedMinutes = 15
		}
		week.DailyTasks[day] = append([]models.PlanTask{newTask}, tasks...)

		changes = append(changes, models.PlanChange{
			Type:   models.ChangeTaskAdded,
			TaskID: newTask.TaskID,
			After:  newTask,
			Reason: "remedial content for " + item.Category,
		})
	}

	return d.commit(ctx, userID, plan, string(models.ActionAddRemedial), models.SeverityModerate, changes)
}

// resequenceContent reorders incomplete tasks within each day by
// difficulty relative to the learner's ability. Completed tasks keep
// their positions at the front of the day.
func (d *Dispatcher) resequenceContent(ctx context.Context, userID int64) (*models.AdjustmentResult, error) {
	plan, err := d.plans.GetActive(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return failure("no active study plan"), nil
	}
	if err != nil {
		return nil, err
	}

	ability, err := d.ability.LastAbility(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ability >= -0.5 && ability <= 0.5 {
		return &models.AdjustmentResult{Success: true, AdjustmentID: uuid.NewString()}, nil
	}

	var changes []models.PlanChange
	now := time.Now().UTC()
	currentWeek := plan.CurrentWeek(now)

	for w := currentWeek - 1; w < len(plan.WeeklySchedules); w++ {
		if w < 0 {
			continue
		}
		week := &plan.WeeklySchedules[w]
		for day, tasks := range week.DailyTasks {
			var completed, incomplete []models.PlanTask
			for _, task := range tasks {
				if task.Completed {
					completed = append(completed, task)
				} else {
					incomplete = append(incomplete, task)
				}
			}

			sort.SliceStable(incomplete, func(i, j int) bool {
				a := d.labelToNumeric(incomplete[i].DifficultyLevel)
				b := d.labelToNumeric(incomplete[j].DifficultyLevel)
				if ability < -0.5 {
					return a < b // easier first while struggling
				}
				return a > b // harder first while excelling
			})

			for idx := range incomplete {
				if incomplete[idx].OrderIndex != idx {
					changes = append(changes, models.PlanChange{
						Type:   models.ChangeReordered,
						TaskID: incomplete[idx].TaskID,
						Before: incomplete[idx].OrderIndex,
						After:  idx,
						Reason: fmt.Sprintf("resequenced for ability %.2f", ability),
					})
					incomplete[idx].OrderIndex = idx
				}
			}
			week.DailyTasks[day] = append(completed, incomplete...)
		}
	}

	if len(changes) == 0 {
		return &models.AdjustmentResult{Success: true, AdjustmentID: uuid.NewString()}, nil
	}
	return d.commit(ctx, userID, plan, string(models.ActionResequence), models.SeverityMild, changes)
}

func (d *Dispatcher) generateFlashcards(ctx context.Context, userID int64, action *models.RecommendedAction) (*models.AdjustmentResult, error) {
	if action.AssessmentID == "" {
		return failure("no assessment to generate from"), nil
	}
	report, err := d.generator.GenerateFromQuizResults(ctx, userID, action.AssessmentID)
	if err != nil {
		return nil, err
	}
	return &models.AdjustmentResult{
		Success:       true,
		AdjustmentID:  uuid.NewString(),
		TasksAffected: report.Generated,
	}, nil
}

func (d *Dispatcher) scheduleReview(ctx context.Context, userID int64, action *models.RecommendedAction) (*models.AdjustmentResult, error) {
	count, err := d.reviews.ScheduleImmediateReview(ctx, userID, action.Topics, d.cfg.RemedialLimit)
	if err != nil {
		return nil, err
	}
	return &models.AdjustmentResult{
		Success:       true,
		AdjustmentID:  uuid.NewString(),
		TasksAffected: count,
	}, nil
}

// commit persists the mutated schedule and appends the history record.
// A change-free adjustment still succeeds but skips the plan write.
func (d *Dispatcher) commit(ctx context.Context, userID int64, plan *models.StudyPlan,
	adjType string, severity models.Severity, changes []models.PlanChange) (*models.AdjustmentResult, error) {

	result := &models.AdjustmentResult{
		Success:       true,
		AdjustmentID:  uuid.NewString(),
		TasksAffected: len(changes),
		Changes:       changes,
	}
	if len(changes) == 0 {
		return result, nil
	}

	if err := d.plans.Save(ctx, plan); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(changes)
	if err != nil {
		payload = []byte("[]")
	}
	rec := &models.AdjustmentRecord{
		UserID:         userID,
		PlanID:         plan.ID,
		AdjustmentType: adjType,
		Severity:       string(severity),
		Changes:        string(payload),
		TasksAffected:  len(changes),
		CreatedAt:      time.Now().UTC(),
	}
	if err := d.history.AppendAdjustment(ctx, rec); err != nil {
		d.log.Warn("failed to append adjustment history",
			"user_id", userID, "type", adjType, "error", err)
	}

	d.log.Info("plan adjusted",
		"user_id", userID, "type", adjType,
		"severity", severity, "tasks_affected", len(changes))
	return result, nil
}

func (d *Dispatcher) forUpcomingTasks(plan *models.StudyPlan, currentWeek int, fn func(*models.PlanTask)) {
	for w := currentWeek - 1; w < len(plan.WeeklySchedules); w++ {
		if w < 0 {
			continue
		}
		for day := range plan.WeeklySchedules[w].DailyTasks {
			tasks := plan.WeeklySchedules[w].DailyTasks[day]
			for i := range tasks {
				if !tasks[i].Completed {
					fn(&tasks[i])
				}
			}
			plan.WeeklySchedules[w].DailyTasks[day] = tasks
		}
	}
}

func currentWeekSchedule(plan *models.StudyPlan, now time.Time) *models.WeeklySchedule {
	idx := plan.CurrentWeek(now) - 1
	if idx < 0 || idx >= len(plan.WeeklySchedules) {
		return nil
	}
	return &plan.WeeklySchedules[idx]
}

func (d *Dispatcher) labelToNumeric(label string) float64 {
	if band, ok := d.cfg.Bands[label]; ok {
		return band.Midpoint()
	}
	return 0
}

func (d *Dispatcher) numericToLabel(value float64) string {
	switch {
	case value <= d.cfg.Bands[models.DifficultyBeginner].Max:
		return models.DifficultyBeginner
	case value <= d.cfg.Bands[models.DifficultyIntermediate].Max:
		return models.DifficultyIntermediate
	case value <= d.cfg.Bands[models.DifficultyAdvanced].Max:
		return models.DifficultyAdvanced
	default:
		return models.DifficultyExpert
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
