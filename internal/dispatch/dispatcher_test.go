package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/example/retentiond/internal/logger"
	"github.com/example/retentiond/pkg/models"
)

type fakePlanStore struct {
	plan  *models.StudyPlan
	saves int
}

func (s *fakePlanStore) GetActive(_ context.Context, _ int64) (*models.StudyPlan, error) {
	if s.plan == nil {
		return nil, models.ErrNotFound
	}
	return s.plan, nil
}

func (s *fakePlanStore) Save(_ context.Context, plan *models.StudyPlan) error {
	s.plan = plan
	s.saves++
	return nil
}

type fakeCatalog struct {
	items []*models.CatalogItem
}

func (c *fakeCatalog) FindRemedial(_ context.Context, _ []string, _ string, limit int) ([]*models.CatalogItem, error) {
	if len(c.items) > limit {
		return c.items[:limit], nil
	}
	return c.items, nil
}

type fakeHistory struct {
	records []models.AdjustmentRecord
}

func (h *fakeHistory) AppendAdjustment(_ context.Context, rec *models.AdjustmentRecord) error {
	h.records = append(h.records, *rec)
	return nil
}

func (h *fakeHistory) CountSince(_ context.Context, _ int64, since time.Time) (int, error) {
	count := 0
	for _, rec := range h.records {
		if !rec.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (h *fakeHistory) LastAdjustmentAt(_ context.Context, _ int64) (*time.Time, error) {
	if len(h.records) == 0 {
		return nil, nil
	}
	t := h.records[len(h.records)-1].CreatedAt
	return &t, nil
}

type fakeAbility struct{ ability float64 }

func (a *fakeAbility) LastAbility(_ context.Context, _ int64) (float64, error) {
	return a.ability, nil
}

type fakeGenerator struct{ report models.GenerationReport }

func (g *fakeGenerator) GenerateFromQuizResults(_ context.Context, _ int64, _ string) (*models.GenerationReport, error) {
	return &g.report, nil
}

type fakeReviews struct{ scheduled int }

func (r *fakeReviews) ScheduleImmediateReview(_ context.Context, _ int64, _ []string, limit int) (int, error) {
	r.scheduled = limit
	return limit, nil
}

func testPlan() *models.StudyPlan {
	return &models.StudyPlan{
		ID:        "plan-1",
		UserID:    1,
		Name:      "plan",
		StartDate: time.Now().UTC().AddDate(0, 0, -1),
		Status:    "active",
		WeeklySchedules: []models.WeeklySchedule{
			{
				WeekNumber: 1,
				DailyTasks: map[string][]models.PlanTask{
					"monday": {
						{TaskID: "t1", DifficultyLevel: models.DifficultyAdvanced, OrderIndex: 0},
						{TaskID: "t2", DifficultyLevel: models.DifficultyIntermediate, OrderIndex: 1},
						{TaskID: "t3", DifficultyLevel: models.DifficultyBeginner, OrderIndex: 2, Completed: true},
					},
				},
			},
		},
	}
}

type fixture struct {
	d       *Dispatcher
	plans   *fakePlanStore
	catalog *fakeCatalog
	history *fakeHistory
	ability *fakeAbility
	reviews *fakeReviews
}

func newFixture(plan *models.StudyPlan) *fixture {
	f := &fixture{
		plans:   &fakePlanStore{plan: plan},
		catalog: &fakeCatalog{},
		history: &fakeHistory{},
		ability: &fakeAbility{},
		reviews: &fakeReviews{},
	}
	f.d = New(DefaultConfig(), f.plans, f.catalog, f.history, f.ability,
		&fakeGenerator{report: models.GenerationReport{Generated: 2}}, f.reviews, logger.NewNop())
	return f
}

func TestHandlerTableCoversAllActions(t *testing.T) {
	f := newFixture(nil)

	handled := make(map[models.ActionType]bool)
	for _, a := range f.d.HandledActions() {
		handled[a] = true
	}
	for _, declared := range models.ActionTypes() {
		if !handled[declared] {
			t.Errorf("no handler for declared action %q", declared)
		}
	}
}

func TestReduceDifficultyShiftsLabels(t *testing.T) {
	f := newFixture(testPlan())

	applied, err := f.d.Apply(context.Background(), 1, &models.RecommendedAction{
		Action:   models.ActionReduceDifficulty,
		Severity: models.SeveritySevere,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !applied.Success {
		t.Fatalf("dispatch failed: %+v", applied.Details)
	}

	tasks := f.plans.plan.WeeklySchedules[0].DailyTasks["monday"]
	// advanced (1.0) - 1.0 = 0.0 -> intermediate; intermediate (-0.25) - 1.0 = -1.25 -> beginner
	if tasks[0].DifficultyLevel != models.DifficultyIntermediate {
		t.Errorf("t1 = %s, want intermediate", tasks[0].DifficultyLevel)
	}
	if tasks[1].DifficultyLevel != models.DifficultyBeginner {
		t.Errorf("t2 = %s, want beginner", tasks[1].DifficultyLevel)
	}
	// completed tasks are never touched
	if tasks[2].DifficultyLevel != models.DifficultyBeginner {
		t.Errorf("completed task mutated: %s", tasks[2].DifficultyLevel)
	}
	if len(f.history.records) != 1 {
		t.Errorf("history records = %d, want 1", len(f.history.records))
	}
}

func TestIncreaseDifficultyMildStaysInBand(t *testing.T) {
	f := newFixture(testPlan())

	applied, err := f.d.Apply(context.Background(), 1, &models.RecommendedAction{
		Action:   models.ActionIncreaseDifficulty,
		Severity: models.SeverityMild,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !applied.Success {
		t.Fatalf("dispatch failed: %+v", applied.Details)
	}
	// a 0.2 step does not cross any band boundary from these midpoints
	if applied.Details["tasks_affected"].(int) != 0 {
		t.Errorf("tasks affected = %v, want 0 for a mild shift", applied.Details["tasks_affected"])
	}
	if f.plans.saves != 0 {
		t.Errorf("change-free adjustment wrote the plan %d times", f.plans.saves)
	}
}

func TestNoActivePlanIsTerminal(t *testing.T) {
	f := newFixture(nil)

	applied, err := f.d.Apply(context.Background(), 1, &models.RecommendedAction{
		Action:   models.ActionReduceDifficulty,
		Severity: models.SeverityMild,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied.Success {
		t.Error("missing plan reported success")
	}
	if applied.Details["reason"] != "no active study plan" {
		t.Errorf("reason = %v", applied.Details["reason"])
	}
}

func TestAddRemedialFrontInserts(t *testing.T) {
	f := newFixture(testPlan())
	f.catalog.items = []*models.CatalogItem{
		{ID: "c1", Title: "Basics", Category: "fundamentals", DurationMinutes: 10},
		{ID: "c2", Title: "Intro", Category: "fundamentals", DurationMinutes: 20},
	}

	applied, err := f.d.Apply(context.Background(), 1, &models.RecommendedAction{
		Action:     models.ActionAddRemedial,
		Severity:   models.SeverityModerate,
		Categories: []string{"fundamentals"},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !applied.Success {
		t.Fatalf("dispatch failed: %+v", applied.Details)
	}
	if applied.Details["tasks_affected"].(int) != 2 {
		t.Errorf("tasks affected = %v, want 2", applied.Details["tasks_affected"])
	}

	total := 0
	foundFront := false
	for _, tasks := range f.plans.plan.WeeklySchedules[0].DailyTasks {
		total += len(tasks)
		for _, task := range tasks {
			if task.TaskType == "review" && task.OrderIndex == 0 {
				foundFront = true
				if task.DifficultyLevel != models.DifficultyBeginner {
					t.Errorf("remedial task level = %s, want beginner", task.DifficultyLevel)
				}
			}
		}
	}
	if total != 5 {
		t.Errorf("plan holds %d tasks, want 5 after inserting 2", total)
	}
	if !foundFront {
		t.Error("no remedial task found at the front of a day")
	}
}

func TestResequenceAscendingWhenStruggling(t *testing.T) {
	f := newFixture(testPlan())
	f.ability.ability = -1.0

	applied, err := f.d.Apply(context.Background(), 1, &models.RecommendedAction{
		Action: models.ActionResequence,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !applied.Success {
		t.Fatalf("dispatch failed: %+v", applied.Details)
	}

	tasks := f.plans.plan.WeeklySchedules[0].DailyTasks["monday"]
	// completed task keeps its slot at the front of the reconstructed day
	if !tasks[0].Completed {
		t.Errorf("expected completed task first, got %s", tasks[0].TaskID)
	}
	// incomplete tasks run easiest to hardest
	if tasks[1].TaskID != "t2" || tasks[2].TaskID != "t1" {
		t.Errorf("order = %s, %s; want t2, t1", tasks[1].TaskID, tasks[2].TaskID)
	}
}

func TestResequenceNeutralAbilityNoChanges(t *testing.T) {
	f := newFixture(testPlan())
	f.ability.ability = 0

	applied, err := f.d.Apply(context.Background(), 1, &models.RecommendedAction{
		Action: models.ActionResequence,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !applied.Success {
		t.Fatalf("dispatch failed: %+v", applied.Details)
	}
	if f.plans.saves != 0 {
		t.Errorf("neutral resequence wrote the plan %d times", f.plans.saves)
	}
}

func TestDailyCapReCheckBlocksMutation(t *testing.T) {
	f := newFixture(testPlan())
	cfg := DefaultConfig()
	cfg.Cooldown = 0 // isolate the cap
	f.d = New(cfg, f.plans, f.catalog, f.history, f.ability,
		&fakeGenerator{}, f.reviews, logger.NewNop())

	now := time.Now().UTC()
	for i := 0; i < cfg.MaxAdjustmentsPerDay; i++ {
		f.history.records = append(f.history.records, models.AdjustmentRecord{
			UserID:    1,
			CreatedAt: now,
		})
	}

	applied, err := f.d.Apply(context.Background(), 1, &models.RecommendedAction{
		Action:   models.ActionReduceDifficulty,
		Severity: models.SeveritySevere,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied.Success {
		t.Error("dispatch succeeded past the daily cap")
	}
	if f.plans.saves != 0 {
		t.Error("plan mutated despite the cap")
	}
}

func TestCooldownReCheckBlocksMutation(t *testing.T) {
	f := newFixture(testPlan())
	f.history.records = append(f.history.records, models.AdjustmentRecord{
		UserID:    1,
		CreatedAt: time.Now().UTC().Add(-10 * time.Minute),
	})

	applied, err := f.d.Apply(context.Background(), 1, &models.RecommendedAction{
		Action:   models.ActionReduceDifficulty,
		Severity: models.SeverityMild,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied.Success {
		t.Error("dispatch succeeded inside the cooldown window")
	}
}

func TestGenerateFlashcardsDelegates(t *testing.T) {
	f := newFixture(nil)

	applied, err := f.d.Apply(context.Background(), 1, &models.RecommendedAction{
		Action:       models.ActionGenerateFlashcards,
		AssessmentID: "a1",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !applied.Success {
		t.Fatalf("dispatch failed: %+v", applied.Details)
	}
	if applied.Details["tasks_affected"].(int) != 2 {
		t.Errorf("tasks affected = %v, want generated count", applied.Details["tasks_affected"])
	}
}

func TestScheduleReviewDelegates(t *testing.T) {
	f := newFixture(nil)

	applied, err := f.d.Apply(context.Background(), 1, &models.RecommendedAction{
		Action: models.ActionScheduleReview,
		Topics: []string{"math"},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !applied.Success {
		t.Fatalf("dispatch failed: %+v", applied.Details)
	}
	if f.reviews.scheduled != DefaultConfig().RemedialLimit {
		t.Errorf("scheduled = %d, want %d", f.reviews.scheduled, DefaultConfig().RemedialLimit)
	}
}
