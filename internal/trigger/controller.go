package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/example/retentiond/internal/database"
	"github.com/example/retentiond/internal/logger"
	"github.com/example/retentiond/pkg/models"
)

// Config holds the detection thresholds and dispatch limits
type Config struct {
	WindowSize             int
	AccuracyDropThreshold  float64 // percent
	AbilityChangeThreshold float64
	MasteryGapThreshold    float64
	StreakLength           int
	SpikeThreshold         float64
	TargetAbility          float64
	MaxAdjustmentsPerDay   int
	Cooldown               time.Duration
}

// DefaultConfig returns the stock thresholds
func DefaultConfig() Config {
	return Config{
		WindowSize:             5,
		AccuracyDropThreshold:  60,
		AbilityChangeThreshold: 0.5,
		MasteryGapThreshold:    1.0,
		StreakLength:           3,
		SpikeThreshold:         0.3,
		TargetAbility:          0,
		MaxAdjustmentsPerDay:   3,
		Cooldown:               time.Hour,
	}
}

// WindowStore persists per-user sliding window state
type WindowStore interface {
	Get(ctx context.Context, userID int64) (*database.UserWindowState, error)
	Save(ctx context.Context, state *database.UserWindowState) error
}

// EventLog records triggering evaluations for replay and audit
type EventLog interface {
	AppendFeedbackEvent(ctx context.Context, ev *models.FeedbackEvent) error
}

// ActionApplier dispatches a recommended action to the plan layer
type ActionApplier interface {
	Apply(ctx context.Context, userID int64, action *models.RecommendedAction) (*models.AppliedAction, error)
}

// Controller evaluates trigger conditions over a per-user sliding window
// of answer outcomes and dispatches corrective actions
type Controller struct {
	cfg      Config
	windows  WindowStore
	events   EventLog
	applier  ActionApplier
	log      *logger.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// New creates a controller. applier may be nil for detection-only use.
func New(cfg Config, windows WindowStore, events EventLog, applier ActionApplier, log *logger.Logger) *Controller {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 5
	}
	return &Controller{
		cfg:     cfg,
		windows: windows,
		events:  events,
		applier: applier,
		log:     log,
		locks:   make(map[int64]*sync.Mutex),
	}
}

// userLock returns the mutex serializing one user's window updates.
// Concurrent events for different users proceed in parallel.
func (c *Controller) userLock(userID int64) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[userID] = lock
	}
	return lock
}

func validateEvent(ev *models.AnswerEvent) error {
	if ev.UserID <= 0 {
		return models.Validationf("user_id", "must be positive")
	}
	if ev.QuestionID == "" {
		return models.Validationf("question_id", "must not be empty")
	}
	return nil
}

// ProcessAnswerEvent updates the user's window, evaluates every trigger
// condition, and dispatches at most one corrective action subject to the
// cooldown and daily cap.
func (c *Controller) ProcessAnswerEvent(ctx context.Context, event *models.AnswerEvent) (*models.TriggerResult, error) {
	if err := validateEvent(event); err != nil {
		return nil, err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	lock := c.userLock(event.UserID)
	lock.Lock()
	defer lock.Unlock()

	state, err := c.windows.Get(ctx, event.UserID)
	if err != nil {
		return nil, err
	}

	// streak detection needs the window as it stood before this answer
	previous := state.Answers

	answers := make([]models.WindowAnswer, 0, c.cfg.WindowSize)
	answers = append(answers, models.WindowAnswer{
		QuestionID: event.QuestionID,
		IsCorrect:  event.IsCorrect,
		Difficulty: event.QuestionDifficulty,
		Timestamp:  event.Timestamp,
	})
	answers = append(answers, previous...)
	if len(answers) > c.cfg.WindowSize {
		answers = answers[:c.cfg.WindowSize]
	}
	state.Answers = answers
	state.LastAbility = event.AbilityAfter

	metrics := c.computeMetrics(answers, event)
	triggers := c.evaluate(event, previous, metrics)

	result := &models.TriggerResult{
		Triggered: len(triggers) > 0,
		Triggers:  triggers,
		Metrics:   metrics,
	}

	if len(triggers) > 0 {
		primary := triggers[0]
		for _, tr := range triggers[1:] {
			if tr.Severity.Rank() > primary.Severity.Rank() {
				primary = tr
			}
		}
		action := c.recommendAction(primary, event)
		result.RecommendedAction = action

		if c.applier != nil && c.dispatchAllowed(state, event.Timestamp) {
			applied, applyErr := c.applier.Apply(ctx, event.UserID, action)
			if applyErr != nil {
				c.log.Error("action dispatch failed",
					"user_id", event.UserID, "action", action.Action, "error", applyErr)
			} else {
				result.AppliedActions = append(result.AppliedActions, *applied)
				if applied.Success {
					ts := event.Timestamp
					state.LastAdjustment = &ts
					c.bumpDailyCount(state, event.Timestamp)
				}
			}
		} else {
			c.log.Debug("action suppressed by cooldown or daily cap",
				"user_id", event.UserID, "action", action.Action)
		}
	}

	if err := c.windows.Save(ctx, state); err != nil {
		return nil, err
	}

	if result.Triggered {
		c.logFeedbackEvent(ctx, event, result)
	}
	return result, nil
}

// CurrentMetrics reports the user's window as it stands, without
// processing a new answer. The trend is stable by construction since
// there is no ability delta to compare against.
func (c *Controller) CurrentMetrics(ctx context.Context, userID int64) (*models.SlidingWindowMetrics, error) {
	if userID <= 0 {
		return nil, models.Validationf("user_id", "must be positive")
	}
	state, err := c.windows.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	metrics := c.computeMetrics(state.Answers, &models.AnswerEvent{
		AbilityBefore: state.LastAbility,
		AbilityAfter:  state.LastAbility,
	})
	return &metrics, nil
}

// computeMetrics recomputes accuracy and average difficulty from the full
// window contents every time
func (c *Controller) computeMetrics(answers []models.WindowAnswer, event *models.AnswerEvent) models.SlidingWindowMetrics {
	metrics := models.SlidingWindowMetrics{
		WindowSize:    c.cfg.WindowSize,
		RecentAnswers: answers,
		Accuracy:      100, // optimistic cold start
		AbilityTrend:  models.TrendStable,
	}

	if len(answers) > 0 {
		correct := 0
		var difficultySum float64
		for _, a := range answers {
			if a.IsCorrect {
				correct++
			}
			difficultySum += a.Difficulty
		}
		metrics.Accuracy = float64(correct) / float64(len(answers)) * 100
		metrics.AverageDifficulty = difficultySum / float64(len(answers))
	}

	delta := event.AbilityAfter - event.AbilityBefore
	if delta > 0.1 {
		metrics.AbilityTrend = models.TrendImproving
	} else if delta < -0.1 {
		metrics.AbilityTrend = models.TrendDeclining
	}
	return metrics
}

func severityFromRatio(ratio float64) models.Severity {
	switch {
	case ratio >= 2.0:
		return models.SeveritySevere
	case ratio >= 1.5:
		return models.SeverityModerate
	default:
		return models.SeverityMild
	}
}

func (c *Controller) evaluate(event *models.AnswerEvent, previous []models.WindowAnswer, metrics models.SlidingWindowMetrics) []models.DetectedTrigger {
	var triggers []models.DetectedTrigger
	now := event.Timestamp

	if metrics.Accuracy < c.cfg.AccuracyDropThreshold {
		// lower accuracy means higher severity, so the ratio inverts
		ratio := c.cfg.AccuracyDropThreshold / math.Max(metrics.Accuracy, 1)
		triggers = append(triggers, models.DetectedTrigger{
			Type:       models.TriggerAccuracyDrop,
			Severity:   severityFromRatio(ratio),
			Value:      metrics.Accuracy,
			Threshold:  c.cfg.AccuracyDropThreshold,
			DetectedAt: now,
		})
	}

	abilityDelta := event.AbilityAfter - event.AbilityBefore
	if math.Abs(abilityDelta) >= c.cfg.AbilityChangeThreshold {
		direction := "improved"
		if abilityDelta < 0 {
			direction = "declined"
		}
		triggers = append(triggers, models.DetectedTrigger{
			Type:       models.TriggerAbilityChange,
			Severity:   severityFromRatio(math.Abs(abilityDelta) / c.cfg.AbilityChangeThreshold),
			Value:      abilityDelta,
			Threshold:  c.cfg.AbilityChangeThreshold,
			Metadata:   map[string]interface{}{"direction": direction},
			DetectedAt: now,
		})
	}

	if gap := c.cfg.TargetAbility - event.AbilityAfter; gap >= c.cfg.MasteryGapThreshold {
		triggers = append(triggers, models.DetectedTrigger{
			Type:       models.TriggerMasteryGap,
			Severity:   severityFromRatio(gap / c.cfg.MasteryGapThreshold),
			Value:      gap,
			Threshold:  c.cfg.MasteryGapThreshold,
			DetectedAt: now,
		})
	}

	if !event.IsCorrect && streakBefore(previous) >= c.cfg.StreakLength {
		streak := streakBefore(previous)
		triggers = append(triggers, models.DetectedTrigger{
			Type:       models.TriggerStreakBreak,
			Severity:   severityFromRatio(float64(streak) / float64(c.cfg.StreakLength)),
			Value:      float64(streak),
			Threshold:  float64(c.cfg.StreakLength),
			DetectedAt: now,
		})
	}

	if abilityDelta >= c.cfg.SpikeThreshold && metrics.Accuracy >= 80 {
		triggers = append(triggers, models.DetectedTrigger{
			Type:       models.TriggerPerformanceSpike,
			Severity:   severityFromRatio(abilityDelta / c.cfg.SpikeThreshold),
			Value:      abilityDelta,
			Threshold:  c.cfg.SpikeThreshold,
			DetectedAt: now,
		})
	}

	return triggers
}

// streakBefore counts consecutive correct answers at the front of the
// window as it stood before the current event
func streakBefore(previous []models.WindowAnswer) int {
	streak := 0
	for _, a := range previous {
		if !a.IsCorrect {
			break
		}
		streak++
	}
	return streak
}

func (c *Controller) recommendAction(primary models.DetectedTrigger, event *models.AnswerEvent) *models.RecommendedAction {
	action := &models.RecommendedAction{
		Severity:     primary.Severity,
		Topics:       event.Topics,
		AssessmentID: event.AssessmentID,
	}
	if event.Category != "" {
		action.Categories = []string{event.Category}
	}

	switch primary.Type {
	case models.TriggerAccuracyDrop:
		switch primary.Severity {
		case models.SeveritySevere:
			action.Action = models.ActionReduceDifficulty
			action.Reason = fmt.Sprintf("accuracy fell to %.0f%%", primary.Value)
		case models.SeverityModerate:
			action.Action = models.ActionAddRemedial
			action.Reason = fmt.Sprintf("accuracy at %.0f%% needs reinforcement", primary.Value)
		default:
			action.Action = models.ActionGenerateFlashcards
			action.Reason = fmt.Sprintf("accuracy dipped to %.0f%%", primary.Value)
		}
	case models.TriggerAbilityChange:
		if primary.Value < 0 {
			action.Action = models.ActionReduceDifficulty
			action.Reason = fmt.Sprintf("ability declined by %.2f", -primary.Value)
		} else {
			action.Action = models.ActionIncreaseDifficulty
			action.Reason = fmt.Sprintf("ability improved by %.2f", primary.Value)
		}
	case models.TriggerMasteryGap:
		action.Action = models.ActionAddRemedial
		action.Reason = fmt.Sprintf("ability %.2f below target", primary.Value)
	case models.TriggerStreakBreak:
		action.Action = models.ActionScheduleReview
		action.Reason = fmt.Sprintf("miss after a %d-answer correct streak", int(primary.Value))
	case models.TriggerPerformanceSpike:
		action.Action = models.ActionIncreaseDifficulty
		action.Reason = fmt.Sprintf("ability jumped %.2f with high accuracy", primary.Value)
	}
	return action
}

// dispatchAllowed checks the cooldown window and the daily adjustment cap
func (c *Controller) dispatchAllowed(state *database.UserWindowState, now time.Time) bool {
	if state.LastAdjustment != nil && now.Sub(*state.LastAdjustment) < c.cfg.Cooldown {
		return false
	}
	today := now.UTC().Format("2006-01-02")
	if state.AdjustmentsDate == today && state.AdjustmentsToday >= c.cfg.MaxAdjustmentsPerDay {
		return false
	}
	return true
}

// bumpDailyCount increments the adjustment counter, resetting it at the
// UTC day boundary
func (c *Controller) bumpDailyCount(state *database.UserWindowState, now time.Time) {
	today := now.UTC().Format("2006-01-02")
	if state.AdjustmentsDate != today {
		state.AdjustmentsDate = today
		state.AdjustmentsToday = 0
	}
	state.AdjustmentsToday++
}

func (c *Controller) logFeedbackEvent(ctx context.Context, event *models.AnswerEvent, result *models.TriggerResult) {
	payload, err := json.Marshal(map[string]interface{}{
		"triggers":        result.Triggers,
		"metrics":         result.Metrics,
		"applied_actions": result.AppliedActions,
	})
	if err != nil {
		payload = []byte("{}")
	}
	ev := &models.FeedbackEvent{
		UserID:        event.UserID,
		AssessmentID:  event.AssessmentID,
		EventType:     string(result.Triggers[0].Type),
		AbilityBefore: event.AbilityBefore,
		AbilityAfter:  event.AbilityAfter,
		TriggersFired: len(result.Triggers),
		TriggerData:   string(payload),
		CreatedAt:     event.Timestamp,
	}
	if err := c.events.AppendFeedbackEvent(ctx, ev); err != nil {
		// the evaluation already happened; keep the failure visible for replay
		c.log.Error("failed to append feedback event",
			"user_id", event.UserID, "error", err)
	}
}
