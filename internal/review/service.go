package review

import (
	"context"
	"sort"
	"time"

	"github.com/example/retentiond/internal/logger"
	"github.com/example/retentiond/internal/spacedrep"
	"github.com/example/retentiond/pkg/models"
)

// ItemStore is the slice of persistence the review path needs
type ItemStore interface {
	Get(ctx context.Context, id string) (*models.ReviewItem, error)
	ForUser(ctx context.Context, userID int64) ([]*models.ReviewItem, error)
	Due(ctx context.Context, userID int64, now time.Time) ([]*models.ReviewItem, error)
	Save(ctx context.Context, item *models.ReviewItem) error
}

// ObservationSink receives one recall observation per completed review
type ObservationSink interface {
	RecordObservation(ctx context.Context, obs *models.RetentionObservation) error
}

// ParamsProvider supplies per-user calibrated scheduling parameters.
// A nil result means the user has too little history to calibrate.
type ParamsProvider interface {
	CalibratedParameters(ctx context.Context, userID int64) (*models.PersonalizedParams, error)
}

// Service runs completed reviews through the SM-2 engine, persists the
// new item state, and feeds the outcome to the retention forecaster
type Service struct {
	items        ItemStore
	engine       *spacedrep.Engine
	observations ObservationSink
	params       ParamsProvider
	log          *logger.Logger
}

// New creates the review service. params may be nil, in which case every
// user gets the default engine.
func New(items ItemStore, engine *spacedrep.Engine, observations ObservationSink,
	params ParamsProvider, log *logger.Logger) *Service {
	return &Service{items: items, engine: engine, observations: observations, params: params, log: log}
}

// engineFor returns a personalized engine when the user has enough
// observed history, falling back to the shared default otherwise
func (s *Service) engineFor(ctx context.Context, userID int64) *spacedrep.Engine {
	if s.params == nil {
		return s.engine
	}
	p, err := s.params.CalibratedParameters(ctx, userID)
	if err != nil {
		s.log.Warn("calibration lookup failed, using defaults", "user_id", userID, "error", err)
		return s.engine
	}
	if p == nil {
		return s.engine
	}
	return spacedrep.NewEngine(spacedrep.WithPersonalizedParams(p))
}

// ProcessReview handles one review outcome. State is persisted only after
// the full computation succeeds; a failed write leaves the item untouched.
func (s *Service) ProcessReview(ctx context.Context, itemID string, quality, responseTimeMs int, currentAbility *float64) (*models.ReviewResult, error) {
	if quality < 0 || quality > 5 {
		return nil, models.Validationf("quality", "must be between 0 and 5")
	}

	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	daysSince := 0
	if item.LastReviewDate != nil {
		daysSince = int(now.Sub(*item.LastReviewDate).Hours() / 24)
	}

	result := s.engineFor(ctx, item.UserID).CalculateReview(item, quality, responseTimeMs, currentAbility, now)

	if err := s.items.Save(ctx, result.NewState); err != nil {
		return nil, err
	}

	obs := &models.RetentionObservation{
		UserID:              item.UserID,
		TopicID:             item.PrimaryTopic(),
		ItemID:              item.ID,
		DaysSinceLastReview: daysSince,
		WasRecalled:         quality >= 3,
		QualityScore:        quality,
		ObservedAt:          now,
	}
	if err := s.observations.RecordObservation(ctx, obs); err != nil {
		// the review itself is committed; a lost observation only delays
		// curve refinement
		s.log.Warn("failed to record retention observation",
			"item_id", item.ID, "error", err)
	}

	s.log.Info("review processed",
		"item_id", item.ID, "user_id", item.UserID,
		"quality", quality, "interval", result.NewState.Interval,
		"status", result.LearningStatus)
	return result, nil
}

// SyncAbility recalibrates all of a user's items after an ability change
// and persists the ones that moved materially. Returns how many changed.
func (s *Service) SyncAbility(ctx context.Context, userID int64, newAbility float64) (int, error) {
	items, err := s.items.ForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	changed := s.engine.SyncAbility(items, newAbility, now)
	for _, item := range changed {
		if err := s.items.Save(ctx, item); err != nil {
			return 0, err
		}
	}

	if len(changed) > 0 {
		s.log.Info("items recalibrated for ability change",
			"user_id", userID, "ability", newAbility, "changed", len(changed))
	}
	return len(changed), nil
}

// ScheduleImmediateReview pulls the user's weakest matching items forward
// so they surface in the next queue build. Used by the schedule_review
// corrective action.
func (s *Service) ScheduleImmediateReview(ctx context.Context, userID int64, topics []string, limit int) (int, error) {
	if limit <= 0 {
		limit = 5
	}

	items, err := s.items.ForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	wanted := make(map[string]bool, len(topics))
	for _, t := range topics {
		wanted[t] = true
	}

	now := time.Now().UTC()
	var candidates []*models.ReviewItem
	for _, item := range items {
		if !item.NextReviewDate.After(now) {
			continue // already due
		}
		if len(wanted) > 0 && !matchesTopics(item, wanted) {
			continue
		}
		candidates = append(candidates, item)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].RetentionEstimate < candidates[j].RetentionEstimate
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	for _, item := range candidates {
		item.NextReviewDate = now
		item.UpdatedAt = now
		if err := s.items.Save(ctx, item); err != nil {
			return 0, err
		}
	}
	return len(candidates), nil
}

// DueItems makes the review store a queue source
func (s *Service) DueItems(ctx context.Context, userID int64, now time.Time) ([]*models.ReviewItem, error) {
	return s.items.Due(ctx, userID, now)
}

// Name identifies this source in queue results
func (s *Service) Name() string { return "review-items" }

func matchesTopics(item *models.ReviewItem, wanted map[string]bool) bool {
	for _, tag := range item.Tags {
		if wanted[tag] {
			return true
		}
	}
	return false
}
