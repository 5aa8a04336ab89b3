package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/civiclearn/internal/application/command"
	"github.com/alem-hub/civiclearn/internal/domain/learner"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT INGESTION
// Each route maps one learner event from the UI onto one command.
// ══════════════════════════════════════════════════════════════════════════════

// Commands bundles the command handlers behind the ingestion routes.
type Commands struct {
	CompleteLesson    *command.CompleteLessonHandler
	StartQuiz         *command.StartQuizAttemptHandler
	SubmitAnswer      *command.SubmitQuizAnswerHandler
	SubmitQuiz        *command.SubmitQuizAttemptHandler
	JoinChallenge     *command.JoinChallengeHandler
	CompleteChallenge *command.CompleteChallengeHandler
	Community         *command.RecordCommunityActivityHandler
}

// EventHandler serves POST /api/v1/events/*.
type EventHandler struct {
	cmds Commands
	log  *logger.Logger

	// communityEnabled gates the community-activity route.
	communityEnabled func() bool
}

// NewEventHandler creates the ingestion handler. communityEnabled may be nil.
func NewEventHandler(cmds Commands, communityEnabled func() bool, log *logger.Logger) *EventHandler {
	if communityEnabled == nil {
		communityEnabled = func() bool { return true }
	}
	return &EventHandler{
		cmds:             cmds,
		log:              log.With(logger.Component("events")),
		communityEnabled: communityEnabled,
	}
}

// Register mounts the ingestion routes on g.
func (h *EventHandler) Register(g *gin.RouterGroup) {
	g.POST("/lesson-completed", h.LessonCompleted)
	g.POST("/quiz-attempts", h.QuizAttemptStart)
	g.POST("/quiz-attempts/:id/answers", h.QuizAnswerSubmit)
	g.POST("/quiz-attempts/:id/submit", h.QuizSubmit)
	g.POST("/challenge-joined", h.ChallengeJoined)
	g.POST("/challenge-completed", h.ChallengeCompleted)
	g.POST("/community-activity", h.CommunityActivity)
}

type lessonCompletedRequest struct {
	LearnerID     string `json:"learner_id" binding:"required"`
	LessonID      string `json:"lesson_id" binding:"required"`
	CorrelationID string `json:"correlation_id"`
}

type quizAttemptStartRequest struct {
	LearnerID string `json:"learner_id" binding:"required"`
	QuizID    string `json:"quiz_id" binding:"required"`
}

type quizAnswerRequest struct {
	AttemptID   string `json:"attempt_id"`
	QuestionID  string `json:"question_id" binding:"required"`
	AnswerIndex *int   `json:"answer_index" binding:"required"`
}

type quizSubmitRequest struct {
	AttemptID string `json:"attempt_id"`
}

type challengeRequest struct {
	LearnerID   string `json:"learner_id" binding:"required"`
	ChallengeID string `json:"challenge_id" binding:"required"`
}

type communityActivityRequest struct {
	LearnerID  string `json:"learner_id" binding:"required"`
	Kind       string `json:"kind" binding:"required"`
	ExternalID string `json:"external_id" binding:"required"`
}

var (
	errAttemptMismatch  = shared.NewDomainError("quiz", "Bind", shared.ErrValidation, "attempt_id does not match the path")
	errCommunityOff     = shared.NewDomainError("community", "Record", shared.ErrNotFound, "community activity is disabled")
	errMalformedRequest = errors.New("malformed request body")
)

// bind decodes the JSON body into req and answers 400 on failure.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		RespondError(c, http.StatusBadRequest, CodeValidation, errors.Join(errMalformedRequest, err))
		return false
	}
	return true
}

// LessonCompleted handles POST /events/lesson-completed.
func (h *EventHandler) LessonCompleted(c *gin.Context) {
	var req lessonCompletedRequest
	if !bind(c, &req) {
		return
	}
	correlation := req.CorrelationID
	if correlation == "" {
		correlation = RequestIDFrom(c)
	}
	result, err := h.cmds.CompleteLesson.Handle(c.Request.Context(), command.CompleteLessonCommand{
		LearnerID:     req.LearnerID,
		LessonID:      req.LessonID,
		CorrelationID: correlation,
	})
	if err != nil {
		HandleError(c, h.log, err)
		return
	}
	RespondOK(c, result)
}

// QuizAttemptStart handles POST /events/quiz-attempts.
func (h *EventHandler) QuizAttemptStart(c *gin.Context) {
	var req quizAttemptStartRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.cmds.StartQuiz.Handle(c.Request.Context(), command.StartQuizAttemptCommand{
		LearnerID: req.LearnerID,
		QuizID:    req.QuizID,
	})
	if err != nil {
		HandleError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// QuizAnswerSubmit handles POST /events/quiz-attempts/:id/answers.
func (h *EventHandler) QuizAnswerSubmit(c *gin.Context) {
	var req quizAnswerRequest
	if !bind(c, &req) {
		return
	}
	attemptID := c.Param("id")
	if req.AttemptID != "" && req.AttemptID != attemptID {
		HandleError(c, h.log, errAttemptMismatch)
		return
	}
	err := h.cmds.SubmitAnswer.Handle(c.Request.Context(), command.SubmitQuizAnswerCommand{
		AttemptID:   attemptID,
		QuestionID:  req.QuestionID,
		AnswerIndex: *req.AnswerIndex,
	})
	if err != nil {
		HandleError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// QuizSubmit handles POST /events/quiz-attempts/:id/submit. The body is optional.
func (h *EventHandler) QuizSubmit(c *gin.Context) {
	var req quizSubmitRequest
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	attemptID := c.Param("id")
	if req.AttemptID != "" && req.AttemptID != attemptID {
		HandleError(c, h.log, errAttemptMismatch)
		return
	}
	result, err := h.cmds.SubmitQuiz.Handle(c.Request.Context(), command.SubmitQuizAttemptCommand{AttemptID: attemptID})
	if err != nil {
		HandleError(c, h.log, err)
		return
	}
	RespondOK(c, result)
}

// ChallengeJoined handles POST /events/challenge-joined.
func (h *EventHandler) ChallengeJoined(c *gin.Context) {
	var req challengeRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.cmds.JoinChallenge.Handle(c.Request.Context(), command.JoinChallengeCommand{
		LearnerID:   req.LearnerID,
		ChallengeID: req.ChallengeID,
	})
	if err != nil {
		HandleError(c, h.log, err)
		return
	}
	RespondOK(c, result)
}

// ChallengeCompleted handles POST /events/challenge-completed.
func (h *EventHandler) ChallengeCompleted(c *gin.Context) {
	var req challengeRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.cmds.CompleteChallenge.Handle(c.Request.Context(), command.CompleteChallengeCommand{
		LearnerID:   req.LearnerID,
		ChallengeID: req.ChallengeID,
	})
	if err != nil {
		HandleError(c, h.log, err)
		return
	}
	RespondOK(c, result)
}

// CommunityActivity handles POST /events/community-activity.
func (h *EventHandler) CommunityActivity(c *gin.Context) {
	if !h.communityEnabled() {
		HandleError(c, h.log, errCommunityOff)
		return
	}
	var req communityActivityRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.cmds.Community.Handle(c.Request.Context(), command.RecordCommunityActivityCommand{
		LearnerID:  req.LearnerID,
		Kind:       learner.ActivityKind(req.Kind),
		ExternalID: req.ExternalID,
	})
	if err != nil {
		HandleError(c, h.log, err)
		return
	}
	RespondOK(c, result)
}
