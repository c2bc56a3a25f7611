package queue

import (
	"context"
	"testing"
	"time"

	"github.com/example/retentiond/internal/logger"
	"github.com/example/retentiond/pkg/models"
)

type staticSource struct {
	name  string
	items []*models.ReviewItem
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) DueItems(_ context.Context, _ int64, _ time.Time) ([]*models.ReviewItem, error) {
	return s.items, nil
}

type defaultCurves struct{}

func (defaultCurves) Curve(_ context.Context, userID int64, topicID string) *models.ForgettingCurve {
	return &models.ForgettingCurve{UserID: userID, TopicID: topicID, DecayConstant: 0.3}
}

func dueItem(id string, daysAgo int, interval int, topics ...string) *models.ReviewItem {
	now := time.Now().UTC()
	last := now.AddDate(0, 0, -daysAgo)
	return &models.ReviewItem{
		ID:             id,
		UserID:         1,
		Interval:       interval,
		LastReviewDate: &last,
		NextReviewDate: last.AddDate(0, 0, interval),
		Tags:           topics,
		CreatedAt:      last,
	}
}

func newTestScheduler(sources ...Source) *Scheduler {
	return New(Config{DailyTarget: 20, SecondsPerCard: 30}, defaultCurves{}, logger.NewNop(), sources...)
}

func TestClassifyUrgency(t *testing.T) {
	cases := []struct {
		ratio, retention float64
		want             models.Urgency
	}{
		{2.5, 0.9, models.UrgencyCritical},  // far overdue
		{0.5, 0.4, models.UrgencyCritical},  // retention collapsed
		{1.7, 0.9, models.UrgencyHigh},
		{0.5, 0.65, models.UrgencyHigh},
		{1.2, 0.9, models.UrgencyNormal},
		{0.5, 0.8, models.UrgencyNormal},
		{0.5, 0.9, models.UrgencyLow},
	}
	for _, tc := range cases {
		if got := classify(tc.ratio, tc.retention); got != tc.want {
			t.Errorf("classify(%v, %v) = %v, want %v", tc.ratio, tc.retention, got, tc.want)
		}
	}
}

func TestUnifiedQueueOrdering(t *testing.T) {
	source := &staticSource{name: "assessment", items: []*models.ReviewItem{
		dueItem("fresh", 1, 6, "topicA"),      // retention 0.74 -> normal
		dueItem("collapsed", 10, 3, "topicB"), // ratio 3.3 -> critical
		dueItem("mild", 2, 6, "topicC"),       // retention 0.55 -> high
	}}
	s := newTestScheduler(source)

	result, err := s.GetUnifiedQueue(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("GetUnifiedQueue: %v", err)
	}
	if len(result.Cards) != 3 {
		t.Fatalf("got %d cards, want 3", len(result.Cards))
	}
	if result.Cards[0].ID != "collapsed" {
		t.Errorf("first card = %s, want the critical one", result.Cards[0].ID)
	}

	prevRank := -1
	for _, card := range result.Cards {
		rank := urgencyRank(card.Urgency)
		if rank < prevRank {
			t.Errorf("urgency order violated at card %s", card.ID)
		}
		prevRank = rank
	}
}

func TestUnifiedQueueLimitAndOverdue(t *testing.T) {
	items := []*models.ReviewItem{
		dueItem("a", 10, 3),
		dueItem("b", 8, 3),
		dueItem("c", 1, 6),
	}
	s := newTestScheduler(&staticSource{name: "quiz", items: items})

	result, err := s.GetUnifiedQueue(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("GetUnifiedQueue: %v", err)
	}
	if len(result.Cards) != 2 {
		t.Errorf("limit ignored: got %d cards", len(result.Cards))
	}
	// overdue is counted before trimming
	if result.OverdueCount != 2 {
		t.Errorf("overdue count = %d, want 2", result.OverdueCount)
	}
	if result.EstimatedMinutes != 1 {
		t.Errorf("estimated minutes = %d, want 1 for two 30s cards", result.EstimatedMinutes)
	}
}

func TestMergesMultipleSources(t *testing.T) {
	s := newTestScheduler(
		&staticSource{name: "assessment", items: []*models.ReviewItem{dueItem("a1", 5, 3)}},
		&staticSource{name: "manual", items: []*models.ReviewItem{dueItem("m1", 5, 3)}},
	)

	result, err := s.GetUnifiedQueue(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("GetUnifiedQueue: %v", err)
	}
	if len(result.Cards) != 2 {
		t.Fatalf("got %d cards, want one per source", len(result.Cards))
	}
	seen := map[string]bool{}
	for _, card := range result.Cards {
		seen[card.SourceID] = true
	}
	if !seen["assessment"] || !seen["manual"] {
		t.Errorf("sources merged incorrectly: %v", seen)
	}
}

func TestBalanceDailyLoadRespectsCapacity(t *testing.T) {
	var items []*models.ReviewItem
	for i := 0; i < 7; i++ {
		items = append(items, dueItem(string(rune('a'+i)), 5, 3))
	}
	s := newTestScheduler(&staticSource{name: "assessment", items: items})

	days, err := s.BalanceDailyLoad(context.Background(), 1, 5, 3)
	if err != nil {
		t.Fatalf("BalanceDailyLoad: %v", err)
	}
	if len(days) != 5 {
		t.Fatalf("got %d days, want 5", len(days))
	}
	total := 0
	for i, day := range days {
		if len(day.Cards) > 3 {
			t.Errorf("day %d holds %d cards over the limit", i, len(day.Cards))
		}
		total += len(day.Cards)
	}
	if total != 7 {
		t.Errorf("placed %d cards, want all 7", total)
	}
	// overdue cards fill the earliest days first
	if len(days[0].Cards) != 3 || len(days[1].Cards) != 3 || len(days[2].Cards) != 1 {
		t.Errorf("greedy placement off: %d/%d/%d",
			len(days[0].Cards), len(days[1].Cards), len(days[2].Cards))
	}
}

func TestInterleavingPrefersTopicSwitch(t *testing.T) {
	s := newTestScheduler()

	cards := []models.DueCard{
		{ID: "1", Topics: []string{"go"}},
		{ID: "2", Topics: []string{"go"}},
		{ID: "3", Topics: []string{"go"}},
		{ID: "4", Topics: []string{"go"}},
		{ID: "5", Topics: []string{"go"}},
		{ID: "6", Topics: []string{"go"}},
		{ID: "7", Topics: []string{"sql"}},
		{ID: "8", Topics: []string{"go"}},
	}

	session := s.SuggestInterleaving(cards, 8)
	if len(session) != 8 {
		t.Fatalf("session length = %d, want 8", len(session))
	}
	// first five keep their order unconditionally
	for i := 0; i < minInterleaved; i++ {
		if session[i].ID != cards[i].ID {
			t.Errorf("position %d = %s, want %s", i, session[i].ID, cards[i].ID)
		}
	}
	// sixth position switches away from the run of "go"
	if session[5].ID != "7" {
		t.Errorf("position 5 = %s, want the sql card", session[5].ID)
	}
}

func TestInterleavingShortSession(t *testing.T) {
	s := newTestScheduler()

	cards := []models.DueCard{
		{ID: "1", Topics: []string{"go"}},
		{ID: "2", Topics: []string{"go"}},
		{ID: "3", Topics: []string{"go"}},
	}
	session := s.SuggestInterleaving(cards, 10)
	if len(session) != 3 {
		t.Fatalf("session length = %d, want 3", len(session))
	}
	for i := range cards {
		if session[i].ID != cards[i].ID {
			t.Errorf("short session reordered: %v", session)
		}
	}
}
