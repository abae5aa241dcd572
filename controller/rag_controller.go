package controller

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/itish2003/cyberrag/models"
	"github.com/itish2003/cyberrag/services"
)

// IndexStatusProvider reports the state of the startup index build.
type IndexStatusProvider interface {
	Status() services.IndexStats
}

// RAGController handles the HTTP requests for the question answering API. It
// depends on the RAGService for answers and on the indexer for readiness.
type RAGController struct {
	ragService services.RAGService
	indexer    IndexStatusProvider
	log        logrus.FieldLogger
}

// NewRAGController is called from main.go to inject the service dependencies.
func NewRAGController(service services.RAGService, indexer IndexStatusProvider, log logrus.FieldLogger) *RAGController {
	return &RAGController{
		ragService: service,
		indexer:    indexer,
		log:        log.WithField("component", "controller"),
	}
}

// Root is the Gin handler for GET /.
func (c *RAGController) Root(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, models.RootResponse{Message: "Cybersecurity RAG API is running"})
}

// Ask is the Gin handler for POST /ask.
func (c *RAGController) Ask(ctx *gin.Context) {
	var req models.AskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "question must not be empty"})
		return
	}

	if stats := c.indexer.Status(); stats.Status == services.StatusFailed {
		ctx.JSON(http.StatusServiceUnavailable, models.AskResponse{
			Answer:  "",
			Sources: []string{},
			Error:   "index build failed",
		})
		return
	}

	answer, err := c.ragService.Ask(ctx.Request.Context(), req.Question)
	if err != nil {
		status := statusFor(err)
		c.log.WithError(err).WithFields(logrus.Fields{
			"status":     status,
			"request_id": ctx.GetString(requestIDKey),
		}).Error("failed to answer question")
		if status == http.StatusBadRequest {
			ctx.JSON(status, models.ErrorResponse{Error: err.Error()})
			return
		}
		ctx.JSON(status, models.AskResponse{Answer: "", Sources: []string{}, Error: publicMessage(status)})
		return
	}

	ctx.JSON(http.StatusOK, models.AskResponse{Answer: answer.Text, Sources: answer.Sources})
}

// Health is the Gin handler for GET /health.
func (c *RAGController) Health(ctx *gin.Context) {
	stats := c.indexer.Status()
	resp := models.HealthResponse{
		Status:    string(stats.Status),
		Documents: stats.Documents,
		Chunks:    stats.Chunks,
		Skipped:   stats.Skipped,
		Stale:     stats.Stale,
	}
	code := http.StatusOK
	if stats.Status == services.StatusFailed {
		code = http.StatusServiceUnavailable
		if stats.Err != nil {
			resp.Error = stats.Err.Error()
		}
	}
	ctx.JSON(code, resp)
}

// statusFor maps the service error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var embErr *services.EmbeddingError
	var genErr *services.GenerationError
	switch {
	case errors.As(err, &embErr) && embErr.InvalidInput():
		return http.StatusBadRequest
	case errors.As(err, &genErr), errors.As(err, &embErr):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrIndexNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(status int) string {
	switch status {
	case http.StatusBadGateway:
		return "the language or embedding model failed to respond"
	case http.StatusServiceUnavailable:
		return "index is not available"
	default:
		return "internal error"
	}
}
