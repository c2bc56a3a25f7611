package forecaster

import (
	"context"
	"math"
	"time"

	"github.com/example/retentiond/internal/logger"
	"github.com/example/retentiond/pkg/models"
)

// Default Ebbinghaus-like decay parameters used until enough observations
// exist to fit a personal curve
const (
	DefaultDecayConstant = 0.3
	DefaultConfidence    = 0.3
	TargetRetention      = 0.85

	minCurveObservations       = 5
	minCalibrationObservations = 20
	maxObservations            = 200
	rebuildEvery               = 10
)

// ObservationStore is the slice of persistence the forecaster needs
type ObservationStore interface {
	Append(ctx context.Context, obs *models.RetentionObservation) error
	ForUser(ctx context.Context, userID int64, topicID string) ([]models.RetentionObservation, error)
	CountForUser(ctx context.Context, userID int64, topicID string) (int, error)
}

// Forecaster fits personalized forgetting curves from recall observations
// and predicts retention for scheduling decisions
type Forecaster struct {
	store ObservationStore
	cache CurveCache
	log   *logger.Logger
}

// New creates a forecaster. cache may be a MemoryCurveCache or a
// RedisCurveCache depending on deployment.
func New(store ObservationStore, cache CurveCache, log *logger.Logger) *Forecaster {
	return &Forecaster{store: store, cache: cache, log: log}
}

// RecordObservation appends one recall check, stamps it with the retention
// the current curve predicted, and refits the curve every tenth observation
func (f *Forecaster) RecordObservation(ctx context.Context, obs *models.RetentionObservation) error {
	curve := f.curveFor(ctx, obs.UserID, obs.TopicID)
	obs.PredictedRetention = math.Exp(-curve.DecayConstant * float64(obs.DaysSinceLastReview))
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = time.Now().UTC()
	}

	if err := f.store.Append(ctx, obs); err != nil {
		return err
	}

	count, err := f.store.CountForUser(ctx, obs.UserID, obs.TopicID)
	if err != nil {
		f.log.Warn("failed to count observations", "user_id", obs.UserID, "error", err)
		return nil
	}
	if count >= minCurveObservations && count%rebuildEvery == 0 {
		f.cache.Invalidate(ctx, obs.UserID, obs.TopicID)
		if _, err := f.BuildCurve(ctx, obs.UserID, obs.TopicID); err != nil {
			f.log.Warn("curve rebuild failed", "user_id", obs.UserID, "error", err)
		}
	}
	return nil
}

// BuildCurve fits the exponential decay model from the user's observation
// history. Too little or degenerate data yields the default curve with low
// confidence rather than an error.
func (f *Forecaster) BuildCurve(ctx context.Context, userID int64, topicID string) (*models.ForgettingCurve, error) {
	observations, err := f.store.ForUser(ctx, userID, topicID)
	if err != nil {
		return nil, err
	}
	if len(observations) > maxObservations {
		observations = observations[len(observations)-maxObservations:]
	}

	curve := &models.ForgettingCurve{
		UserID:        userID,
		TopicID:       topicID,
		DecayConstant: DefaultDecayConstant,
		HalfLife:      math.Ln2 / DefaultDecayConstant,
		Confidence:    DefaultConfidence,
		DataPoints:    len(observations),
		LastUpdated:   time.Now().UTC(),
	}

	if len(observations) >= minCurveObservations {
		k, confidence := fitExponentialCurve(observations)
		curve.DecayConstant = k
		curve.HalfLife = math.Ln2 / k
		curve.Confidence = confidence
	}

	f.cache.Set(ctx, curve)
	f.log.Debug("forgetting curve built",
		"user_id", userID, "topic_id", topicID,
		"decay_constant", curve.DecayConstant, "confidence", curve.Confidence,
		"data_points", curve.DataPoints)
	return curve, nil
}

func (f *Forecaster) curveFor(ctx context.Context, userID int64, topicID string) *models.ForgettingCurve {
	if curve, ok := f.cache.Get(ctx, userID, topicID); ok {
		return curve
	}
	curve, err := f.BuildCurve(ctx, userID, topicID)
	if err != nil {
		f.log.Warn("falling back to default curve", "user_id", userID, "error", err)
		return &models.ForgettingCurve{
			UserID:        userID,
			TopicID:       topicID,
			DecayConstant: DefaultDecayConstant,
			HalfLife:      math.Ln2 / DefaultDecayConstant,
			Confidence:    DefaultConfidence,
		}
	}
	return curve
}

// Curve returns the cached or freshly fitted curve for a user/topic pair
func (f *Forecaster) Curve(ctx context.Context, userID int64, topicID string) *models.ForgettingCurve {
	return f.curveFor(ctx, userID, topicID)
}

// PredictRetention evaluates the user's curve at the given elapsed days
// and buckets the result for scheduling
func (f *Forecaster) PredictRetention(ctx context.Context, userID int64, topicID string, daysSinceReview float64) *models.RetentionPrediction {
	curve := f.curveFor(ctx, userID, topicID)

	retention := math.Exp(-curve.DecayConstant * daysSinceReview)
	optimalDays := -math.Log(TargetRetention) / curve.DecayConstant

	var urgency models.ReviewUrgency
	switch {
	case retention < 0.5:
		urgency = models.ReviewOverdue
	case retention < 0.7:
		urgency = models.ReviewDueSoon
	case retention >= TargetRetention:
		urgency = models.ReviewEarly
	default:
		urgency = models.ReviewOptimal
	}

	daysUntil := optimalDays - daysSinceReview
	if daysUntil < 0 {
		daysUntil = 0
	}

	return &models.RetentionPrediction{
		Retention:         retention,
		Confidence:        curve.Confidence,
		OptimalReviewDate: time.Now().UTC().Add(time.Duration((optimalDays - daysSinceReview) * 24 * float64(time.Hour))),
		Urgency:           urgency,
		DaysUntilOptimal:  daysUntil,
	}
}

// CalibratedParameters derives per-user SM-2 biases from observed recall
// patterns. Returns nil (no error) when fewer than 20 observations exist.
func (f *Forecaster) CalibratedParameters(ctx context.Context, userID int64) (*models.PersonalizedParams, error) {
	observations, err := f.store.ForUser(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	if len(observations) < minCalibrationObservations {
		return nil, nil
	}
	if len(observations) > maxObservations {
		observations = observations[len(observations)-maxObservations:]
	}

	analysis := analyzeRetention(observations)

	params := &models.PersonalizedParams{
		UserID:             userID,
		EFMultiplier:       efMultiplier(analysis),
		IntervalMultiplier: intervalMultiplier(analysis),
		LastCalibrated:     time.Now().UTC(),
	}
	if analysis.lowRetentionRate > 0.3 {
		params.HardModifier = 0.7
	} else {
		params.HardModifier = 0.8
	}
	if analysis.highRetentionRate > 0.7 {
		params.EasyModifier = 1.5
	} else {
		params.EasyModifier = 1.3
	}
	if analysis.averageHalfLife > 3 {
		params.GraduationDays = 14
	} else {
		params.GraduationDays = 21
	}
	if analysis.lowRetentionRate > 0.2 {
		params.LapseThreshold = 0.4
	} else {
		params.LapseThreshold = 0.3
	}

	f.log.Info("personalized parameters calibrated",
		"user_id", userID,
		"ef_multiplier", params.EFMultiplier,
		"interval_multiplier", params.IntervalMultiplier,
		"observations", len(observations))
	return params, nil
}

// fitExponentialCurve does least-squares on the linearized model
// ln(R) = -k*t over per-day recall-rate buckets
func fitExponentialCurve(observations []models.RetentionObservation) (k, confidence float64) {
	type bucket struct {
		recalled int
		total    int
	}
	dayGroups := make(map[int]*bucket)
	for _, obs := range observations {
		b := dayGroups[obs.DaysSinceLastReview]
		if b == nil {
			b = &bucket{}
			dayGroups[obs.DaysSinceLastReview] = b
		}
		b.total++
		if obs.WasRecalled || obs.QualityScore >= 3 {
			b.recalled++
		}
	}

	type point struct {
		t   float64
		lnR float64
	}
	var points []point
	for days, b := range dayGroups {
		if b.total < 2 {
			continue
		}
		rate := float64(b.recalled) / float64(b.total)
		// 0% and 100% buckets have undefined log-retention
		if rate > 0 && rate < 1 {
			points = append(points, point{t: float64(days), lnR: math.Log(rate)})
		}
	}

	if len(points) < 3 {
		return DefaultDecayConstant, DefaultConfidence
	}

	var sumT2, sumTLnR float64
	for _, p := range points {
		sumT2 += p.t * p.t
		sumTLnR += p.t * p.lnR
	}
	if sumT2 <= 0 {
		return DefaultDecayConstant, DefaultConfidence
	}
	k = math.Max(0.05, math.Min(1.0, -sumTLnR/sumT2))

	var meanLnR float64
	for _, p := range points {
		meanLnR += p.lnR
	}
	meanLnR /= float64(len(points))

	var ssRes, ssTot float64
	for _, p := range points {
		predicted := -k * p.t
		ssRes += (p.lnR - predicted) * (p.lnR - predicted)
		ssTot += (p.lnR - meanLnR) * (p.lnR - meanLnR)
	}
	if ssTot > 0 {
		confidence = math.Max(0, math.Min(1, 1-ssRes/ssTot))
	}
	return k, confidence
}

type retentionAnalysis struct {
	highRetentionRate float64
	lowRetentionRate  float64
	averageHalfLife   float64
}

func analyzeRetention(observations []models.RetentionObservation) retentionAnalysis {
	var highCount, lowCount, halfLifeCount int
	var totalHalfLife float64

	for _, obs := range observations {
		recalled := obs.WasRecalled || obs.QualityScore >= 3
		if recalled && obs.DaysSinceLastReview > 0 {
			// a recall at day t implies R(t) is roughly 0.5 + quality/10
			quality := obs.QualityScore
			if quality == 0 {
				quality = 3
			}
			estimatedR := 0.5 + float64(quality)/10
			k := -math.Log(estimatedR) / float64(obs.DaysSinceLastReview)
			halfLife := math.Ln2 / k
			if halfLife > 0 && halfLife < 30 {
				totalHalfLife += halfLife
				halfLifeCount++
			}
			if estimatedR > 0.7 {
				highCount++
			}
		} else if !recalled {
			lowCount++
		}
	}

	analysis := retentionAnalysis{
		highRetentionRate: float64(highCount) / float64(len(observations)),
		lowRetentionRate:  float64(lowCount) / float64(len(observations)),
		averageHalfLife:   math.Ln2 / DefaultDecayConstant,
	}
	if halfLifeCount > 0 {
		analysis.averageHalfLife = totalHalfLife / float64(halfLifeCount)
	}
	return analysis
}

func efMultiplier(a retentionAnalysis) float64 {
	switch {
	case a.highRetentionRate > 0.8:
		return 1.15
	case a.highRetentionRate > 0.6:
		return 1.05
	case a.lowRetentionRate > 0.3:
		return 0.9
	default:
		return 1.0
	}
}

func intervalMultiplier(a retentionAnalysis) float64 {
	switch {
	case a.averageHalfLife > 5:
		return 1.3
	case a.averageHalfLife > 3:
		return 1.1
	case a.averageHalfLife < 1.5:
		return 0.8
	default:
		return 1.0
	}
}
