package review

import (
	"context"
	"testing"
	"time"

	"github.com/example/retentiond/internal/logger"
	"github.com/example/retentiond/internal/spacedrep"
	"github.com/example/retentiond/pkg/models"
)

type fakeItemStore struct {
	items map[string]*models.ReviewItem
}

func newFakeItemStore(items ...*models.ReviewItem) *fakeItemStore {
	s := &fakeItemStore{items: make(map[string]*models.ReviewItem)}
	for _, item := range items {
		s.items[item.ID] = item
	}
	return s
}

func (s *fakeItemStore) Get(_ context.Context, id string) (*models.ReviewItem, error) {
	if item, ok := s.items[id]; ok {
		copied := *item
		return &copied, nil
	}
	return nil, models.ErrNotFound
}

func (s *fakeItemStore) ForUser(_ context.Context, userID int64) ([]*models.ReviewItem, error) {
	var out []*models.ReviewItem
	for _, item := range s.items {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *fakeItemStore) Due(_ context.Context, userID int64, now time.Time) ([]*models.ReviewItem, error) {
	var out []*models.ReviewItem
	for _, item := range s.items {
		if item.UserID == userID && !item.NextReviewDate.After(now) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *fakeItemStore) Save(_ context.Context, item *models.ReviewItem) error {
	copied := *item
	s.items[item.ID] = &copied
	return nil
}

type fakeSink struct {
	observations []models.RetentionObservation
}

func (f *fakeSink) RecordObservation(_ context.Context, obs *models.RetentionObservation) error {
	f.observations = append(f.observations, *obs)
	return nil
}

func testItem(id string, interval, reps int) *models.ReviewItem {
	last := time.Now().UTC().AddDate(0, 0, -interval)
	return &models.ReviewItem{
		ID:                id,
		UserID:            1,
		EasinessFactor:    2.5,
		Interval:          interval,
		Repetitions:       reps,
		CalibrationFactor: 1.0,
		RetentionEstimate: 0.8,
		LastReviewDate:    &last,
		NextReviewDate:    time.Now().UTC(),
		Tags:              []string{"auto-generated", "math"},
	}
}

func TestProcessReviewQualityValidation(t *testing.T) {
	s := New(newFakeItemStore(), spacedrep.NewEngine(), &fakeSink{}, nil, logger.NewNop())

	for _, quality := range []int{-1, 6} {
		_, err := s.ProcessReview(context.Background(), "x", quality, 0, nil)
		if !models.IsValidation(err) {
			t.Errorf("quality %d: got %v, want validation error", quality, err)
		}
	}
}

func TestProcessReviewMissingItem(t *testing.T) {
	s := New(newFakeItemStore(), spacedrep.NewEngine(), &fakeSink{}, nil, logger.NewNop())

	_, err := s.ProcessReview(context.Background(), "missing", 4, 0, nil)
	if err != models.ErrNotFound {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestProcessReviewPersistsAndObserves(t *testing.T) {
	store := newFakeItemStore(testItem("i1", 6, 2))
	sink := &fakeSink{}
	s := New(store, spacedrep.NewEngine(), sink, nil, logger.NewNop())

	result, err := s.ProcessReview(context.Background(), "i1", 4, 1200, nil)
	if err != nil {
		t.Fatalf("ProcessReview: %v", err)
	}
	if result.NewState.Repetitions != 3 {
		t.Errorf("repetitions = %d, want 3", result.NewState.Repetitions)
	}

	saved := store.items["i1"]
	if saved.Interval != result.NewState.Interval {
		t.Errorf("saved interval %d != result %d", saved.Interval, result.NewState.Interval)
	}

	if len(sink.observations) != 1 {
		t.Fatalf("recorded %d observations, want 1", len(sink.observations))
	}
	obs := sink.observations[0]
	if !obs.WasRecalled || obs.QualityScore != 4 {
		t.Errorf("observation = %+v", obs)
	}
	if obs.DaysSinceLastReview != 6 {
		t.Errorf("days since review = %d, want 6", obs.DaysSinceLastReview)
	}
	if obs.TopicID != "math" {
		t.Errorf("topic = %q, want math", obs.TopicID)
	}
}

type fakeParams struct {
	params *models.PersonalizedParams
}

func (f *fakeParams) CalibratedParameters(_ context.Context, _ int64) (*models.PersonalizedParams, error) {
	return f.params, nil
}

func TestProcessReviewUsesCalibratedParams(t *testing.T) {
	defaultStore := newFakeItemStore(testItem("i1", 6, 2))
	defaultSvc := New(defaultStore, spacedrep.NewEngine(), &fakeSink{}, nil, logger.NewNop())
	baseline, err := defaultSvc.ProcessReview(context.Background(), "i1", 5, 0, nil)
	if err != nil {
		t.Fatalf("ProcessReview: %v", err)
	}

	calibStore := newFakeItemStore(testItem("i1", 6, 2))
	params := &fakeParams{params: &models.PersonalizedParams{
		UserID:       1,
		EasyModifier: 1.5,
	}}
	calibSvc := New(calibStore, spacedrep.NewEngine(), &fakeSink{}, params, logger.NewNop())
	calibrated, err := calibSvc.ProcessReview(context.Background(), "i1", 5, 0, nil)
	if err != nil {
		t.Fatalf("ProcessReview: %v", err)
	}

	if calibrated.NewState.Interval <= baseline.NewState.Interval {
		t.Errorf("calibrated interval %d not longer than baseline %d",
			calibrated.NewState.Interval, baseline.NewState.Interval)
	}
}

func TestSyncAbilityPersistsChangedItems(t *testing.T) {
	hard := testItem("hard", 6, 2)
	hard.ItemDifficulty = 1.5
	neutral := testItem("neutral", 6, 2)
	neutral.ItemDifficulty = 0

	store := newFakeItemStore(hard, neutral)
	s := New(store, spacedrep.NewEngine(), &fakeSink{}, nil, logger.NewNop())

	changed, err := s.SyncAbility(context.Background(), 1, 0.5)
	if err != nil {
		t.Fatalf("SyncAbility: %v", err)
	}
	if changed != 1 {
		t.Fatalf("changed = %d, want 1", changed)
	}
	if store.items["hard"].EasinessFactor >= 2.5 {
		t.Errorf("hard item EF did not shrink: %v", store.items["hard"].EasinessFactor)
	}
	if store.items["neutral"].EasinessFactor != 2.5 {
		t.Errorf("neutral item EF moved: %v", store.items["neutral"].EasinessFactor)
	}
}

func TestScheduleImmediateReviewPullsWeakest(t *testing.T) {
	future := time.Now().UTC().AddDate(0, 0, 10)

	weak := testItem("weak", 6, 2)
	weak.RetentionEstimate = 0.3
	weak.NextReviewDate = future

	strong := testItem("strong", 6, 2)
	strong.RetentionEstimate = 0.9
	strong.NextReviewDate = future

	other := testItem("other-topic", 6, 2)
	other.Tags = []string{"history"}
	other.NextReviewDate = future

	store := newFakeItemStore(weak, strong, other)
	s := New(store, spacedrep.NewEngine(), &fakeSink{}, nil, logger.NewNop())

	count, err := s.ScheduleImmediateReview(context.Background(), 1, []string{"math"}, 1)
	if err != nil {
		t.Fatalf("ScheduleImmediateReview: %v", err)
	}
	if count != 1 {
		t.Fatalf("scheduled = %d, want 1", count)
	}
	if store.items["weak"].NextReviewDate.After(time.Now().UTC()) {
		t.Error("weakest item was not pulled forward")
	}
	if !store.items["strong"].NextReviewDate.Equal(future) {
		t.Error("limit ignored: strong item was rescheduled too")
	}
	if !store.items["other-topic"].NextReviewDate.Equal(future) {
		t.Error("topic filter ignored")
	}
}
