package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/example/retentiond/internal/logger"
	"github.com/example/retentiond/pkg/models"
)

// ObservationIndex lists who has retention data and for which topics
type ObservationIndex interface {
	UsersWithObservations(ctx context.Context) ([]int64, error)
	TopicsForUser(ctx context.Context, userID int64) ([]string, error)
}

// CurveBuilder refits forgetting curves from the observation log
type CurveBuilder interface {
	BuildCurve(ctx context.Context, userID int64, topicID string) (*models.ForgettingCurve, error)
}

// QueueReader reports queue pressure for the daily health pass
type QueueReader interface {
	GetUnifiedQueue(ctx context.Context, userID int64, limit int) (*models.QueueResult, error)
	BalanceDailyLoad(ctx context.Context, userID int64, daysAhead, dailyLimit int) ([]models.DayLoad, error)
}

// Scheduler runs the engine's recurring maintenance jobs
type Scheduler struct {
	scheduler    *gocron.Scheduler
	observations ObservationIndex
	curves       CurveBuilder
	queue        QueueReader
	log          *logger.Logger
}

// New creates a scheduler; jobs run in UTC
func New(observations ObservationIndex, curves CurveBuilder, queue QueueReader, log *logger.Logger) *Scheduler {
	return &Scheduler{
		scheduler:    gocron.NewScheduler(time.UTC),
		observations: observations,
		curves:       curves,
		queue:        queue,
		log:          log,
	}
}

// Start registers the recurring jobs and begins running them asynchronously
func (s *Scheduler) Start() {
	// incremental rebuilds happen on every tenth observation; this pass
	// catches users whose cached curves went stale between reviews
	s.scheduler.Every(1).Day().At("03:00").Do(s.refreshCurves)

	s.scheduler.Every(1).Day().At("06:00").Do(s.reportQueuePressure)

	s.scheduler.StartAsync()
}

// Stop terminates all scheduled jobs
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) refreshCurves() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	users, err := s.observations.UsersWithObservations(ctx)
	if err != nil {
		s.log.Error("curve refresh: failed to list users", "error", err)
		return
	}

	rebuilt := 0
	for _, userID := range users {
		if _, err := s.curves.BuildCurve(ctx, userID, ""); err != nil {
			s.log.Warn("curve refresh failed", "user_id", userID, "error", err)
			continue
		}
		rebuilt++

		topics, err := s.observations.TopicsForUser(ctx, userID)
		if err != nil {
			s.log.Warn("curve refresh: failed to list topics", "user_id", userID, "error", err)
			continue
		}
		for _, topic := range topics {
			if _, err := s.curves.BuildCurve(ctx, userID, topic); err != nil {
				s.log.Warn("topic curve refresh failed",
					"user_id", userID, "topic", topic, "error", err)
			}
		}
	}
	s.log.Info("nightly curve refresh finished", "users", len(users), "rebuilt", rebuilt)
}

func (s *Scheduler) reportQueuePressure() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	users, err := s.observations.UsersWithObservations(ctx)
	if err != nil {
		s.log.Error("queue pressure: failed to list users", "error", err)
		return
	}

	for _, userID := range users {
		result, err := s.queue.GetUnifiedQueue(ctx, userID, 100)
		if err != nil {
			s.log.Warn("queue pressure check failed", "user_id", userID, "error", err)
			continue
		}
		if result.OverdueCount == 0 {
			continue
		}

		loads, err := s.queue.BalanceDailyLoad(ctx, userID, 7, result.DailyTarget)
		if err != nil {
			s.log.Warn("load balance pass failed", "user_id", userID, "error", err)
			continue
		}
		placed := 0
		for _, day := range loads {
			placed += len(day.Cards)
		}
		s.log.Info("overdue reviews pending",
			"user_id", userID,
			"overdue", result.OverdueCount,
			"queued", len(result.Cards),
			"estimated_minutes", result.EstimatedMinutes,
			"placed_over_week", placed)
	}
}
