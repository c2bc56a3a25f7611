package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/retentiond/internal/logger"
	"github.com/example/retentiond/pkg/models"
)

// TriggerController processes answer events through the feedback loop
type TriggerController interface {
	ProcessAnswerEvent(ctx context.Context, event *models.AnswerEvent) (*models.TriggerResult, error)
	CurrentMetrics(ctx context.Context, userID int64) (*models.SlidingWindowMetrics, error)
}

// ReviewService handles completed reviews and ability recalibration
type ReviewService interface {
	ProcessReview(ctx context.Context, itemID string, quality, responseTimeMs int, currentAbility *float64) (*models.ReviewResult, error)
	SyncAbility(ctx context.Context, userID int64, newAbility float64) (int, error)
}

// QueueScheduler builds the cross-source review queue
type QueueScheduler interface {
	GetUnifiedQueue(ctx context.Context, userID int64, limit int) (*models.QueueResult, error)
	BalanceDailyLoad(ctx context.Context, userID int64, daysAhead, dailyLimit int) ([]models.DayLoad, error)
}

// RetentionForecaster answers retention queries
type RetentionForecaster interface {
	PredictRetention(ctx context.Context, userID int64, topicID string, daysSinceReview float64) *models.RetentionPrediction
	Curve(ctx context.Context, userID int64, topicID string) *models.ForgettingCurve
}

// ItemGenerator builds flashcards from recorded wrong answers
type ItemGenerator interface {
	GenerateFromQuizResults(ctx context.Context, userID int64, assessmentID string) (*models.GenerationReport, error)
}

// AnswerRecorder captures wrong-answer detail for later card generation
type AnswerRecorder interface {
	RecordWrongAnswer(ctx context.Context, req *models.GenerationRequest, assessmentID string) error
}

// AdjustmentHistory reads the plan adjustment log
type AdjustmentHistory interface {
	Adjustments(ctx context.Context, userID int64, limit int) ([]models.AdjustmentRecord, error)
}

// Server exposes the engine over HTTP
type Server struct {
	triggers  TriggerController
	reviews   ReviewService
	queue     QueueScheduler
	retention RetentionForecaster
	generator ItemGenerator
	answers   AnswerRecorder
	history   AdjustmentHistory
	log       *logger.Logger
	engine    *gin.Engine
}

// New wires the handlers onto a gin engine
func New(triggers TriggerController, reviews ReviewService, queue QueueScheduler,
	retention RetentionForecaster, generator ItemGenerator, answers AnswerRecorder,
	history AdjustmentHistory, log *logger.Logger) *Server {

	s := &Server{
		triggers:  triggers,
		reviews:   reviews,
		queue:     queue,
		retention: retention,
		generator: generator,
		answers:   answers,
		history:   history,
		log:       log,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		api.POST("/events/answer", s.handleAnswerEvent)

		items := api.Group("/items")
		{
			items.POST("/:id/review", s.handleReview)
			items.POST("/generate", s.handleGenerate)
		}

		api.GET("/queue", s.handleQueue)
		api.GET("/queue/balance", s.handleBalance)

		users := api.Group("/users")
		{
			users.GET("/:id/metrics", s.handleMetrics)
			users.GET("/:id/adjustments", s.handleAdjustments)
			users.GET("/:id/retention", s.handleRetention)
			users.POST("/:id/ability-sync", s.handleAbilitySync)
		}
	}

	s.engine = r
	return s
}

// Handler returns the underlying http handler, used by tests and main
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves HTTP until the context is cancelled, then drains in-flight
// requests for up to ten seconds
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("http server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// writeError maps the error taxonomy onto HTTP statuses: malformed input
// is the caller's fault, missing resources are 404, and store failures
// surface as a bad gateway so clients know to retry
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case models.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		var se *models.StoreError
		if errors.As(err, &se) {
			s.log.Error("store failure", "op", se.Op, "error", se.Err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "storage unavailable"})
			return
		}
		s.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
