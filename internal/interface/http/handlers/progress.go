package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/civiclearn/internal/application/query"
	"github.com/alem-hub/civiclearn/pkg/logger"
)

// ProgressReader answers learner progress queries.
type ProgressReader interface {
	Handle(ctx context.Context, q query.GetLearnerProgressQuery) (*query.LearnerProgressDTO, error)
}

// ProgressHandler serves GET /api/v1/learners/:id/progress.
type ProgressHandler struct {
	reader ProgressReader
	log    *logger.Logger
}

func NewProgressHandler(reader ProgressReader, log *logger.Logger) *ProgressHandler {
	return &ProgressHandler{reader: reader, log: log.With(logger.Component("progress"))}
}

func (h *ProgressHandler) Register(g *gin.RouterGroup) {
	g.GET("/learners/:id/progress", h.Get)
}

// Get returns the learner's full progress view.
func (h *ProgressHandler) Get(c *gin.Context) {
	dto, err := h.reader.Handle(c.Request.Context(), query.GetLearnerProgressQuery{LearnerID: c.Param("id")})
	if err != nil {
		HandleError(c, h.log, err)
		return
	}
	RespondOK(c, dto)
}
