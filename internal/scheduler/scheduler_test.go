package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/example/retentiond/internal/logger"
	"github.com/example/retentiond/pkg/models"
)

type fakeIndex struct {
	users  []int64
	topics map[int64][]string
	err    error
}

func (f *fakeIndex) UsersWithObservations(_ context.Context) ([]int64, error) {
	return f.users, f.err
}

func (f *fakeIndex) TopicsForUser(_ context.Context, userID int64) ([]string, error) {
	return f.topics[userID], nil
}

type fakeBuilder struct {
	built []string
	fail  map[string]bool
}

func (f *fakeBuilder) BuildCurve(_ context.Context, userID int64, topicID string) (*models.ForgettingCurve, error) {
	k := topicID
	if k == "" {
		k = "overall"
	}
	if f.fail[k] {
		return nil, errors.New("fit failed")
	}
	f.built = append(f.built, k)
	return &models.ForgettingCurve{UserID: userID, TopicID: topicID, DecayConstant: 0.3}, nil
}

type fakeQueueReader struct {
	result   *models.QueueResult
	balanced int
}

func (f *fakeQueueReader) GetUnifiedQueue(_ context.Context, _ int64, _ int) (*models.QueueResult, error) {
	return f.result, nil
}

func (f *fakeQueueReader) BalanceDailyLoad(_ context.Context, _ int64, daysAhead, _ int) ([]models.DayLoad, error) {
	f.balanced++
	return make([]models.DayLoad, daysAhead), nil
}

func TestRefreshCurvesCoversUsersAndTopics(t *testing.T) {
	index := &fakeIndex{
		users:  []int64{1, 2},
		topics: map[int64][]string{1: {"math", "reading"}},
	}
	builder := &fakeBuilder{fail: map[string]bool{}}
	s := New(index, builder, &fakeQueueReader{}, logger.NewNop())

	s.refreshCurves()

	// one overall curve per user plus the two topic curves for user 1
	if len(builder.built) != 4 {
		t.Errorf("built %d curves (%v), want 4", len(builder.built), builder.built)
	}
}

func TestRefreshCurvesSkipsFailedUser(t *testing.T) {
	index := &fakeIndex{users: []int64{1}, topics: map[int64][]string{1: {"math"}}}
	builder := &fakeBuilder{fail: map[string]bool{"overall": true}}
	s := New(index, builder, &fakeQueueReader{}, logger.NewNop())

	s.refreshCurves()

	// topic curves are not attempted when the overall fit fails
	if len(builder.built) != 0 {
		t.Errorf("built %v, want none", builder.built)
	}
}

func TestQueuePressureBalancesOnlyOverdueUsers(t *testing.T) {
	index := &fakeIndex{users: []int64{1}}
	queue := &fakeQueueReader{result: &models.QueueResult{OverdueCount: 0, DailyTarget: 20}}
	s := New(index, &fakeBuilder{fail: map[string]bool{}}, queue, logger.NewNop())

	s.reportQueuePressure()
	if queue.balanced != 0 {
		t.Errorf("balanced %d users with nothing overdue", queue.balanced)
	}

	queue.result = &models.QueueResult{OverdueCount: 3, DailyTarget: 20}
	s.reportQueuePressure()
	if queue.balanced != 1 {
		t.Errorf("balanced = %d, want 1", queue.balanced)
	}
}
