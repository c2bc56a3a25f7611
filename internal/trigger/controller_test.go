package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/example/retentiond/internal/database"
	"github.com/example/retentiond/internal/logger"
	"github.com/example/retentiond/pkg/models"
)

type fakeWindowStore struct {
	states map[int64]*database.UserWindowState
}

func newFakeWindowStore() *fakeWindowStore {
	return &fakeWindowStore{states: make(map[int64]*database.UserWindowState)}
}

func (s *fakeWindowStore) Get(_ context.Context, userID int64) (*database.UserWindowState, error) {
	if st, ok := s.states[userID]; ok {
		copied := *st
		return &copied, nil
	}
	return &database.UserWindowState{UserID: userID}, nil
}

func (s *fakeWindowStore) Save(_ context.Context, state *database.UserWindowState) error {
	copied := *state
	s.states[state.UserID] = &copied
	return nil
}

type fakeEventLog struct {
	events []models.FeedbackEvent
}

func (l *fakeEventLog) AppendFeedbackEvent(_ context.Context, ev *models.FeedbackEvent) error {
	l.events = append(l.events, *ev)
	return nil
}

type fakeApplier struct {
	applied []models.RecommendedAction
}

func (a *fakeApplier) Apply(_ context.Context, _ int64, action *models.RecommendedAction) (*models.AppliedAction, error) {
	a.applied = append(a.applied, *action)
	return &models.AppliedAction{
		Action:    action.Action,
		Success:   true,
		AppliedAt: time.Now().UTC(),
	}, nil
}

func newTestController(applier ActionApplier) (*Controller, *fakeWindowStore, *fakeEventLog) {
	windows := newFakeWindowStore()
	events := &fakeEventLog{}
	c := New(DefaultConfig(), windows, events, applier, logger.NewNop())
	return c, windows, events
}

func answerEvent(userID int64, correct bool, abilityBefore, abilityAfter float64) *models.AnswerEvent {
	return &models.AnswerEvent{
		UserID:             userID,
		AssessmentID:       "a1",
		QuestionID:         "q1",
		IsCorrect:          correct,
		QuestionDifficulty: 0.5,
		AbilityBefore:      abilityBefore,
		AbilityAfter:       abilityAfter,
		Timestamp:          time.Now().UTC(),
	}
}

func feed(t *testing.T, c *Controller, userID int64, outcomes []bool, ability float64) *models.TriggerResult {
	t.Helper()
	var result *models.TriggerResult
	for i, correct := range outcomes {
		ev := answerEvent(userID, correct, ability, ability)
		ev.QuestionID = "q" + string(rune('a'+i))
		var err error
		result, err = c.ProcessAnswerEvent(context.Background(), ev)
		if err != nil {
			t.Fatalf("ProcessAnswerEvent: %v", err)
		}
	}
	return result
}

func TestValidationRejectsMalformedEvents(t *testing.T) {
	c, _, _ := newTestController(nil)

	_, err := c.ProcessAnswerEvent(context.Background(), &models.AnswerEvent{UserID: 0, QuestionID: "q"})
	if !models.IsValidation(err) {
		t.Errorf("zero user id: got %v, want validation error", err)
	}

	_, err = c.ProcessAnswerEvent(context.Background(), &models.AnswerEvent{UserID: 1})
	if !models.IsValidation(err) {
		t.Errorf("empty question id: got %v, want validation error", err)
	}
}

func TestWindowAccuracyExact(t *testing.T) {
	c, _, _ := newTestController(nil)

	// correct, correct, incorrect, correct, incorrect
	result := feed(t, c, 1, []bool{true, true, false, true, false}, 0)
	if result.Metrics.Accuracy != 60 {
		t.Errorf("accuracy = %v, want exactly 60", result.Metrics.Accuracy)
	}
}

func TestAccuracyDropBoundary(t *testing.T) {
	c, _, _ := newTestController(nil)

	// 3/5 correct: exactly 60% must not fire
	result := feed(t, c, 1, []bool{true, true, false, true, false}, 0)
	for _, tr := range result.Triggers {
		if tr.Type == models.TriggerAccuracyDrop {
			t.Errorf("accuracy_drop fired at exactly 60%%")
		}
	}

	// 2/5 correct: 40% must fire
	result = feed(t, c, 2, []bool{true, false, false, true, false}, 0)
	found := false
	for _, tr := range result.Triggers {
		if tr.Type == models.TriggerAccuracyDrop {
			found = true
		}
	}
	if !found {
		t.Errorf("accuracy_drop did not fire at 40%%")
	}
}

func TestColdStartOptimisticDefaults(t *testing.T) {
	c, _, _ := newTestController(nil)

	ev := answerEvent(1, true, 0, 0.05)
	result, err := c.ProcessAnswerEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("ProcessAnswerEvent: %v", err)
	}
	if result.Metrics.Accuracy != 100 {
		t.Errorf("first-event accuracy = %v, want 100", result.Metrics.Accuracy)
	}
	if result.Metrics.AbilityTrend != models.TrendStable {
		t.Errorf("trend = %v, want stable", result.Metrics.AbilityTrend)
	}
}

func TestAbilityTrend(t *testing.T) {
	c, _, _ := newTestController(nil)

	cases := []struct {
		before, after float64
		want          models.AbilityTrend
	}{
		{0, 0.2, models.TrendImproving},
		{0.2, 0, models.TrendDeclining},
		{0, 0.05, models.TrendStable},
	}
	for _, tc := range cases {
		result, err := c.ProcessAnswerEvent(context.Background(), answerEvent(1, true, tc.before, tc.after))
		if err != nil {
			t.Fatalf("ProcessAnswerEvent: %v", err)
		}
		if result.Metrics.AbilityTrend != tc.want {
			t.Errorf("delta %v: trend = %v, want %v", tc.after-tc.before, result.Metrics.AbilityTrend, tc.want)
		}
	}
}

func TestAbilityChangeDirection(t *testing.T) {
	c, _, _ := newTestController(nil)

	result, err := c.ProcessAnswerEvent(context.Background(), answerEvent(1, true, 0, -0.6))
	if err != nil {
		t.Fatalf("ProcessAnswerEvent: %v", err)
	}
	var found *models.DetectedTrigger
	for i := range result.Triggers {
		if result.Triggers[i].Type == models.TriggerAbilityChange {
			found = &result.Triggers[i]
		}
	}
	if found == nil {
		t.Fatal("ability_change did not fire on -0.6 delta")
	}
	if found.Metadata["direction"] != "declined" {
		t.Errorf("direction = %v, want declined", found.Metadata["direction"])
	}
	if result.RecommendedAction == nil || result.RecommendedAction.Action != models.ActionReduceDifficulty {
		t.Errorf("action = %+v, want reduce_difficulty", result.RecommendedAction)
	}
}

func TestStreakBreak(t *testing.T) {
	c, _, _ := newTestController(nil)

	// three correct answers, then a miss
	result := feed(t, c, 1, []bool{true, true, true, false}, 0)
	var found *models.DetectedTrigger
	for i := range result.Triggers {
		if result.Triggers[i].Type == models.TriggerStreakBreak {
			found = &result.Triggers[i]
		}
	}
	if found == nil {
		t.Fatal("streak_break did not fire after 3 correct then a miss")
	}
	if found.Value != 3 {
		t.Errorf("streak value = %v, want 3", found.Value)
	}

	// a miss with only two prior correct must not fire
	result = feed(t, c, 2, []bool{true, true, false}, 0)
	for _, tr := range result.Triggers {
		if tr.Type == models.TriggerStreakBreak {
			t.Error("streak_break fired below the streak length")
		}
	}
}

func TestPerformanceSpikeNeedsHighAccuracy(t *testing.T) {
	c, _, _ := newTestController(nil)

	// warm up with all-correct answers, then spike
	feed(t, c, 1, []bool{true, true, true, true}, 0)
	result, err := c.ProcessAnswerEvent(context.Background(), answerEvent(1, true, 0, 0.4))
	if err != nil {
		t.Fatalf("ProcessAnswerEvent: %v", err)
	}
	found := false
	for _, tr := range result.Triggers {
		if tr.Type == models.TriggerPerformanceSpike {
			found = true
		}
	}
	if !found {
		t.Error("performance_spike did not fire at +0.4 with 100% accuracy")
	}

	// same jump with poor accuracy must not fire
	feed(t, c, 2, []bool{false, false, false, true}, 0)
	result, err = c.ProcessAnswerEvent(context.Background(), answerEvent(2, true, 0, 0.4))
	if err != nil {
		t.Fatalf("ProcessAnswerEvent: %v", err)
	}
	for _, tr := range result.Triggers {
		if tr.Type == models.TriggerPerformanceSpike {
			t.Error("performance_spike fired with low window accuracy")
		}
	}
}

func TestMasteryGapSeverity(t *testing.T) {
	c, _, _ := newTestController(nil)

	result, err := c.ProcessAnswerEvent(context.Background(), answerEvent(1, true, -2.05, -2.0))
	if err != nil {
		t.Fatalf("ProcessAnswerEvent: %v", err)
	}
	var found *models.DetectedTrigger
	for i := range result.Triggers {
		if result.Triggers[i].Type == models.TriggerMasteryGap {
			found = &result.Triggers[i]
		}
	}
	if found == nil {
		t.Fatal("mastery_gap did not fire at ability -2.0 vs target 0")
	}
	if found.Severity != models.SeveritySevere {
		t.Errorf("gap 2.0 severity = %v, want severe", found.Severity)
	}
}

func TestSeverityBuckets(t *testing.T) {
	cases := []struct {
		ratio float64
		want  models.Severity
	}{
		{1.0, models.SeverityMild},
		{1.49, models.SeverityMild},
		{1.5, models.SeverityModerate},
		{1.99, models.SeverityModerate},
		{2.0, models.SeveritySevere},
	}
	for _, tc := range cases {
		if got := severityFromRatio(tc.ratio); got != tc.want {
			t.Errorf("ratio %v: severity = %v, want %v", tc.ratio, got, tc.want)
		}
	}
}

func TestDailyCapBlocksDispatch(t *testing.T) {
	applier := &fakeApplier{}
	c, windows, _ := newTestController(applier)
	c.cfg.Cooldown = 0 // isolate the cap

	// each declining event fires ability_change and dispatches until capped
	for i := 0; i < 5; i++ {
		_, err := c.ProcessAnswerEvent(context.Background(), answerEvent(1, false, 0, -0.8))
		if err != nil {
			t.Fatalf("ProcessAnswerEvent: %v", err)
		}
	}

	if len(applier.applied) != DefaultConfig().MaxAdjustmentsPerDay {
		t.Errorf("dispatched %d actions, want %d", len(applier.applied), DefaultConfig().MaxAdjustmentsPerDay)
	}
	state, _ := windows.Get(context.Background(), 1)
	if state.AdjustmentsToday != DefaultConfig().MaxAdjustmentsPerDay {
		t.Errorf("adjustments_today = %d, want %d", state.AdjustmentsToday, DefaultConfig().MaxAdjustmentsPerDay)
	}
}

func TestCooldownBlocksDispatch(t *testing.T) {
	applier := &fakeApplier{}
	c, _, _ := newTestController(applier)

	for i := 0; i < 3; i++ {
		_, err := c.ProcessAnswerEvent(context.Background(), answerEvent(1, false, 0, -0.8))
		if err != nil {
			t.Fatalf("ProcessAnswerEvent: %v", err)
		}
	}
	if len(applier.applied) != 1 {
		t.Errorf("dispatched %d actions inside the cooldown window, want 1", len(applier.applied))
	}
}

func TestFeedbackEventLogged(t *testing.T) {
	c, _, events := newTestController(nil)

	_, err := c.ProcessAnswerEvent(context.Background(), answerEvent(1, true, 0, -0.8))
	if err != nil {
		t.Fatalf("ProcessAnswerEvent: %v", err)
	}
	if len(events.events) != 1 {
		t.Fatalf("logged %d feedback events, want 1", len(events.events))
	}
	if events.events[0].TriggersFired == 0 {
		t.Error("feedback event recorded zero fired triggers")
	}
}

func TestWindowBounded(t *testing.T) {
	c, windows, _ := newTestController(nil)

	feed(t, c, 1, []bool{true, true, true, true, true, true, true, true}, 0)
	state, _ := windows.Get(context.Background(), 1)
	if len(state.Answers) != DefaultConfig().WindowSize {
		t.Errorf("window length = %d, want %d", len(state.Answers), DefaultConfig().WindowSize)
	}
}
