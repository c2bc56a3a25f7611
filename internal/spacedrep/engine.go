package spacedrep

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/example/retentiond/pkg/models"
)

// SM-2 bounds and modifiers
const (
	MinEasinessFactor     = 1.3
	MaxEasinessFactor     = 3.0
	DefaultEasinessFactor = 2.5
	GraduationInterval    = 21 // days
	EasyBonus             = 1.3
	HardPenalty           = 0.8
	TargetRetention       = 0.85
)

// Engine computes SM-2 state transitions calibrated by the learner's
// IRT ability relative to each item's difficulty.
type Engine struct {
	easyBonus   float64
	hardPenalty float64
	efBias      float64
	intervalBias float64
}

// Option configures an Engine
type Option func(*Engine)

// WithPersonalizedParams biases the engine's modifiers with per-user
// calibration derived from observed retention data
func WithPersonalizedParams(p *models.PersonalizedParams) Option {
	return func(e *Engine) {
		if p == nil {
			return
		}
		if p.EasyModifier > 0 {
			e.easyBonus = p.EasyModifier
		}
		if p.HardModifier > 0 {
			e.hardPenalty = p.HardModifier
		}
		if p.EFMultiplier > 0 {
			e.efBias = p.EFMultiplier
		}
		if p.IntervalMultiplier > 0 {
			e.intervalBias = p.IntervalMultiplier
		}
	}
}

// NewEngine creates an engine with default SM-2 modifiers
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		easyBonus:    EasyBonus,
		hardPenalty:  HardPenalty,
		efBias:       1.0,
		intervalBias: 1.0,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InitialEasinessFactor maps the ability-difficulty gap to a starting EF.
// A learner far below the item's difficulty starts with slow interval
// growth; a learner far above starts near the maximum.
func InitialEasinessFactor(gap float64) float64 {
	switch {
	case gap < -1.5:
		return 1.4
	case gap < -1.0:
		return 1.7
	case gap < -0.5:
		return 2.0
	case gap < 0:
		return 2.3
	case gap < 0.5:
		return 2.5
	case gap < 1.0:
		return 2.7
	default:
		return 2.9
	}
}

// CalibrationFactor maps the ability-difficulty gap to the per-review EF
// multiplier applied on every state transition
func CalibrationFactor(gap float64) float64 {
	switch {
	case gap < -1.0:
		return 0.85
	case gap < 0:
		return 0.95
	case gap < 1.0:
		return 1.0
	default:
		return 1.05
	}
}

func clampEF(ef float64) float64 {
	return math.Min(MaxEasinessFactor, math.Max(MinEasinessFactor, ef))
}

// NewItem initializes a review item for a learner with the given ability,
// due immediately
func (e *Engine) NewItem(userID int64, ability, itemDifficulty float64, now time.Time) *models.ReviewItem {
	gap := ability - itemDifficulty
	return &models.ReviewItem{
		ID:                uuid.NewString(),
		UserID:            userID,
		EasinessFactor:    clampEF(InitialEasinessFactor(gap)),
		Interval:          0,
		Repetitions:       0,
		ItemDifficulty:    itemDifficulty,
		AbilityAtCreate:   ability,
		CalibrationFactor: CalibrationFactor(gap),
		RetentionEstimate: 1.0,
		NextReviewDate:    now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// stability estimates memory strength in days from the item's state
func stability(interval int, ef float64, repetitions int, itemDifficulty float64) float64 {
	s := float64(interval) * (ef / DefaultEasinessFactor) *
		(1 + 0.1*float64(repetitions)) *
		(1 - 0.05*itemDifficulty)
	if s < 1 {
		return 1
	}
	return s
}

// CalculateReview runs one review outcome through the SM-2 state machine.
// quality must already be validated to [0,5]. currentAbility, when
// non-nil, nudges the EF by the learner's ability movement since the
// last review.
func (e *Engine) CalculateReview(item *models.ReviewItem, quality int, responseTimeMs int, currentAbility *float64, now time.Time) *models.ReviewResult {
	// stability reflects the memory state the learner walked in with
	preStability := stability(item.Interval, item.EasinessFactor, item.Repetitions, item.ItemDifficulty)

	abilityAdjustment := 1.0
	if currentAbility != nil && item.LastKnownAbility != nil {
		abilityAdjustment = 1 + 0.1*(*currentAbility-*item.LastKnownAbility)
	}

	q := float64(quality)
	newEF := item.EasinessFactor + (0.1 - (5-q)*(0.08+(5-q)*0.02))
	newEF *= item.CalibrationFactor * abilityAdjustment * e.efBias
	newEF = clampEF(newEF)

	next := *item
	next.EasinessFactor = newEF

	var status models.LearningStatus
	if quality < 3 {
		if item.Repetitions > 0 || len(item.ReviewHistory) > 0 {
			status = models.StatusRelearning
		} else {
			status = models.StatusNew
		}
		next.Interval = 1
		next.Repetitions = 0
	} else {
		next.Repetitions = item.Repetitions + 1
		switch next.Repetitions {
		case 1:
			next.Interval = 1
			status = models.StatusLearning
		case 2:
			next.Interval = 6
			status = models.StatusLearning
		default:
			interval := float64(item.Interval) * newEF * e.intervalBias
			if quality == 5 {
				interval *= e.easyBonus
			} else if quality == 3 {
				interval *= e.hardPenalty
			}
			next.Interval = int(math.Round(interval))
			if next.Interval < 1 {
				next.Interval = 1
			}
			if next.Interval >= GraduationInterval {
				status = models.StatusGraduated
			} else {
				status = models.StatusReview
			}
		}
	}

	retention := math.Exp(-float64(next.Interval) / preStability)
	next.RetentionEstimate = retention
	reviewDate := now
	next.LastReviewDate = &reviewDate
	next.NextReviewDate = now.AddDate(0, 0, next.Interval)
	if currentAbility != nil {
		ability := *currentAbility
		next.LastKnownAbility = &ability
		next.CalibrationFactor = CalibrationFactor(ability - item.ItemDifficulty)
	}
	next.UpdatedAt = now

	entry := models.ReviewHistoryEntry{
		ReviewDate:     now,
		Quality:        quality,
		ResponseTimeMs: responseTimeMs,
		WasRecalled:    quality >= 3,
		IntervalBefore: item.Interval,
		IntervalAfter:  next.Interval,
		EFBefore:       item.EasinessFactor,
		EFAfter:        newEF,
	}
	next.ReviewHistory = append(next.ReviewHistory, entry)
	if len(next.ReviewHistory) > models.MaxReviewHistory {
		next.ReviewHistory = next.ReviewHistory[len(next.ReviewHistory)-models.MaxReviewHistory:]
	}

	return &models.ReviewResult{
		NewState:            &next,
		RetentionPrediction: retention,
		RecommendedReview:   e.OptimalReviewTime(&next, TargetRetention),
		LearningStatus:      status,
	}
}

// OptimalReviewTime solves for the date at which retention decays to the
// target, measured from the last review
func (e *Engine) OptimalReviewTime(item *models.ReviewItem, targetRetention float64) time.Time {
	if targetRetention <= 0 || targetRetention >= 1 {
		targetRetention = TargetRetention
	}
	s := stability(item.Interval, item.EasinessFactor, item.Repetitions, item.ItemDifficulty)
	daysAhead := s * -math.Log(targetRetention)

	from := time.Now().UTC()
	if item.LastReviewDate != nil {
		from = *item.LastReviewDate
	}
	return from.Add(time.Duration(daysAhead * 24 * float64(time.Hour)))
}

// SyncAbility recalibrates every item of a user after an ability change.
// Returns the items whose EF moved by more than the materiality threshold;
// untouched items are not returned.
func (e *Engine) SyncAbility(items []*models.ReviewItem, newAbility float64, now time.Time) []*models.ReviewItem {
	var changed []*models.ReviewItem
	for _, item := range items {
		newCalibration := CalibrationFactor(newAbility - item.ItemDifficulty)
		newEF := clampEF(item.EasinessFactor * newCalibration)
		if math.Abs(newEF-item.EasinessFactor) <= 0.1 {
			continue
		}
		item.EasinessFactor = newEF
		item.CalibrationFactor = newCalibration
		ability := newAbility
		item.LastKnownAbility = &ability
		item.UpdatedAt = now
		changed = append(changed, item)
	}
	return changed
}
