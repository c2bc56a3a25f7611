package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/example/retentiond/pkg/models"
)

// answerRequest is the ingestion payload. The detail fields are optional;
// when present on an incorrect answer they are recorded so a flashcard
// can be generated from the miss later.
type answerRequest struct {
	models.AnswerEvent
	QuestionText  string `json:"question_text,omitempty"`
	CorrectAnswer string `json:"correct_answer,omitempty"`
	UserAnswer    string `json:"user_answer,omitempty"`
	Explanation   string `json:"explanation,omitempty"`
}

func (s *Server) handleAnswerEvent(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if !req.IsCorrect && req.QuestionText != "" && s.answers != nil {
		gen := &models.GenerationRequest{
			UserID:             req.UserID,
			SourceType:         "assessment",
			QuestionID:         req.QuestionID,
			UserAbility:        req.AbilityAfter,
			QuestionDifficulty: req.QuestionDifficulty,
			QuestionText:       req.QuestionText,
			CorrectAnswer:      req.CorrectAnswer,
			UserAnswer:         req.UserAnswer,
			Explanation:        req.Explanation,
			Topics:             req.Topics,
			Category:           req.Category,
		}
		if err := s.answers.RecordWrongAnswer(c.Request.Context(), gen, req.AssessmentID); err != nil {
			// the trigger evaluation still proceeds; only later card
			// generation loses this miss
			s.log.Warn("failed to record wrong answer",
				"user_id", req.UserID, "question_id", req.QuestionID, "error", err)
		}
	}

	result, err := s.triggers.ProcessAnswerEvent(c.Request.Context(), &req.AnswerEvent)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type reviewRequest struct {
	Quality        int      `json:"quality"`
	ResponseTimeMs int      `json:"response_time_ms"`
	CurrentAbility *float64 `json:"current_ability,omitempty"`
}

func (s *Server) handleReview(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	result, err := s.reviews.ProcessReview(c.Request.Context(), c.Param("id"),
		req.Quality, req.ResponseTimeMs, req.CurrentAbility)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type generateRequest struct {
	UserID       int64  `json:"user_id"`
	AssessmentID string `json:"assessment_id"`
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.UserID <= 0 || req.AssessmentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and assessment_id are required"})
		return
	}

	report, err := s.generator.GenerateFromQuizResults(c.Request.Context(), req.UserID, req.AssessmentID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleQueue(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	limit := queryInt(c, "limit", 20)

	result, err := s.queue.GetUnifiedQueue(c.Request.Context(), userID, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleBalance(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	days := queryInt(c, "days", 7)
	dailyLimit := queryInt(c, "daily_limit", 20)

	loads, err := s.queue.BalanceDailyLoad(c.Request.Context(), userID, days, dailyLimit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": loads})
}

func (s *Server) handleMetrics(c *gin.Context) {
	userID, ok := paramUserID(c)
	if !ok {
		return
	}

	metrics, err := s.triggers.CurrentMetrics(c.Request.Context(), userID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}

func (s *Server) handleAdjustments(c *gin.Context) {
	userID, ok := paramUserID(c)
	if !ok {
		return
	}
	limit := queryInt(c, "limit", 20)

	records, err := s.history.Adjustments(c.Request.Context(), userID, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"adjustments": records})
}

func (s *Server) handleRetention(c *gin.Context) {
	userID, ok := paramUserID(c)
	if !ok {
		return
	}
	topic := c.Query("topic")
	days := queryFloat(c, "days", 1)

	prediction := s.retention.PredictRetention(c.Request.Context(), userID, topic, days)
	curve := s.retention.Curve(c.Request.Context(), userID, topic)
	c.JSON(http.StatusOK, gin.H{
		"prediction": prediction,
		"curve":      curve,
	})
}

type abilitySyncRequest struct {
	Ability float64 `json:"ability"`
}

func (s *Server) handleAbilitySync(c *gin.Context) {
	userID, ok := paramUserID(c)
	if !ok {
		return
	}

	var req abilitySyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	changed, err := s.reviews.SyncAbility(c.Request.Context(), userID, req.Ability)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items_recalibrated": changed})
}

func paramUserID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}

func queryUserID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func queryFloat(c *gin.Context, key string, fallback float64) float64 {
	if v := c.Query(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			return f
		}
	}
	return fallback
}
