package queue

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/example/retentiond/internal/logger"
	"github.com/example/retentiond/pkg/models"
)

const (
	defaultDecayConstant = 0.3
	minInterleaved       = 5
)

// Source provides due items from one spaced-repetition store. Multiple
// sources (assessment items, quiz items, manual decks) feed one queue.
type Source interface {
	Name() string
	DueItems(ctx context.Context, userID int64, now time.Time) ([]*models.ReviewItem, error)
}

// CurveProvider resolves a user's fitted forgetting curve per topic
type CurveProvider interface {
	Curve(ctx context.Context, userID int64, topicID string) *models.ForgettingCurve
}

// Config sizes the daily queue
type Config struct {
	DailyTarget    int
	SecondsPerCard int
}

// Scheduler merges due items from every source into one priority-ordered
// review queue
type Scheduler struct {
	cfg     Config
	sources []Source
	curves  CurveProvider
	log     *logger.Logger
}

// New creates a scheduler over the given sources
func New(cfg Config, curves CurveProvider, log *logger.Logger, sources ...Source) *Scheduler {
	if cfg.DailyTarget <= 0 {
		cfg.DailyTarget = 20
	}
	if cfg.SecondsPerCard <= 0 {
		cfg.SecondsPerCard = 30
	}
	return &Scheduler{cfg: cfg, sources: sources, curves: curves, log: log}
}

func urgencyRank(u models.Urgency) int {
	switch u {
	case models.UrgencyCritical:
		return 0
	case models.UrgencyHigh:
		return 1
	case models.UrgencyNormal:
		return 2
	default:
		return 3
	}
}

// classify buckets a card by how overdue it is relative to its expected
// interval and predicted retention
func classify(overdueRatio, retention float64) models.Urgency {
	switch {
	case overdueRatio > 2 || retention < 0.5:
		return models.UrgencyCritical
	case overdueRatio > 1.5 || retention < 0.7:
		return models.UrgencyHigh
	case overdueRatio > 1 || retention < 0.85:
		return models.UrgencyNormal
	default:
		return models.UrgencyLow
	}
}

func (s *Scheduler) cardFor(ctx context.Context, item *models.ReviewItem, sourceName string, now time.Time) models.DueCard {
	lastReview := item.CreatedAt
	if item.LastReviewDate != nil {
		lastReview = *item.LastReviewDate
	}
	daysSince := now.Sub(lastReview).Hours() / 24
	if daysSince < 0 {
		daysSince = 0
	}

	decay := defaultDecayConstant
	if curve := s.curves.Curve(ctx, item.UserID, item.PrimaryTopic()); curve != nil {
		decay = curve.DecayConstant
	}
	retention := math.Exp(-decay * daysSince)

	expected := item.Interval
	if expected < 1 {
		expected = 1
	}
	overdueRatio := daysSince / float64(expected)

	return models.DueCard{
		ID:               item.ID,
		SourceID:         sourceName,
		Front:            item.Front,
		Retention:        retention,
		Urgency:          classify(overdueRatio, retention),
		Topics:           item.Tags,
		DaysSinceReview:  daysSince,
		ExpectedInterval: expected,
		DueDate:          item.NextReviewDate,
		EstimatedSeconds: s.cfg.SecondsPerCard,
	}
}

// GetUnifiedQueue merges due items across sources, ranks them by urgency
// then ascending retention, and trims to limit
func (s *Scheduler) GetUnifiedQueue(ctx context.Context, userID int64, limit int) (*models.QueueResult, error) {
	now := time.Now().UTC()
	var cards []models.DueCard

	for _, source := range s.sources {
		items, err := source.DueItems(ctx, userID, now)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			cards = append(cards, s.cardFor(ctx, item, source.Name(), now))
		}
	}

	sort.SliceStable(cards, func(i, j int) bool {
		ri, rj := urgencyRank(cards[i].Urgency), urgencyRank(cards[j].Urgency)
		if ri != rj {
			return ri < rj
		}
		return cards[i].Retention < cards[j].Retention
	})

	overdue := 0
	for _, card := range cards {
		if card.DaysSinceReview > float64(card.ExpectedInterval) {
			overdue++
		}
	}

	if limit > 0 && len(cards) > limit {
		cards = cards[:limit]
	}

	estimatedSeconds := 0
	for _, card := range cards {
		estimatedSeconds += card.EstimatedSeconds
	}

	return &models.QueueResult{
		Cards:            cards,
		OverdueCount:     overdue,
		DailyTarget:      s.cfg.DailyTarget,
		EstimatedMinutes: (estimatedSeconds + 59) / 60,
	}, nil
}

// BalanceDailyLoad greedily assigns each due card to the earliest day on
// or after its due date with remaining capacity. Cards already placed on
// an earlier day are never moved.
func (s *Scheduler) BalanceDailyLoad(ctx context.Context, userID int64, daysAhead, dailyLimit int) ([]models.DayLoad, error) {
	if daysAhead <= 0 {
		daysAhead = 7
	}
	if dailyLimit <= 0 {
		dailyLimit = s.cfg.DailyTarget
	}

	result, err := s.GetUnifiedQueue(ctx, userID, 0)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	days := make([]models.DayLoad, daysAhead)
	for i := range days {
		days[i] = models.DayLoad{Date: today.AddDate(0, 0, i)}
	}

	for _, card := range result.Cards {
		start := 0
		if card.DueDate.After(today) {
			start = int(card.DueDate.Sub(today).Hours() / 24)
			if start >= daysAhead {
				continue // beyond the horizon
			}
		}
		for i := start; i < daysAhead; i++ {
			if len(days[i].Cards) < dailyLimit {
				days[i].Cards = append(days[i].Cards, card)
				break
			}
		}
	}
	return days, nil
}

// SuggestInterleaving reorders a session's cards to avoid back-to-back
// repeats of the same topic. The first cards are always kept so short
// sessions stay untouched.
func (s *Scheduler) SuggestInterleaving(cards []models.DueCard, maxCards int) []models.DueCard {
	if maxCards <= 0 || maxCards > len(cards) {
		maxCards = len(cards)
	}
	if len(cards) == 0 {
		return nil
	}

	remaining := make([]models.DueCard, len(cards))
	copy(remaining, cards)

	var session []models.DueCard
	lastTopic := ""

	for len(session) < maxCards && len(remaining) > 0 {
		pick := 0
		if len(session) >= minInterleaved {
			for i, card := range remaining {
				if primaryTopic(card) != lastTopic {
					pick = i
					break
				}
			}
		}
		card := remaining[pick]
		session = append(session, card)
		lastTopic = primaryTopic(card)
		remaining = append(remaining[:pick], remaining[pick+1:]...)
	}
	return session
}

func primaryTopic(card models.DueCard) string {
	for _, tag := range card.Topics {
		switch tag {
		case "auto-generated", "easy", "medium", "hard",
			"assessment", "quiz", "course", "manual":
			continue
		}
		return tag
	}
	return ""
}
