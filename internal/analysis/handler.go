package analysis

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prepview/backend/internal/eventstore"
	"github.com/prepview/backend/internal/models"
	"github.com/prepview/backend/internal/tavus"
	"github.com/prepview/backend/pkg/response"
)

const resolveTimeout = 3 * time.Second

// VendorAPI is the slice of the vendor client the analyzer needs.
type VendorAPI interface {
	GetConversation(ctx context.Context, conversationID string) (*tavus.Conversation, error)
}

// Handler serves interview analysis requests.
type Handler struct {
	store  *eventstore.Store
	vendor VendorAPI
	scorer *Scorer
	logger *zap.Logger
}

// NewHandler creates an analysis handler. vendor may be nil, which disables
// the API fallback tier of transcript resolution.
func NewHandler(store *eventstore.Store, vendor VendorAPI, scorer *Scorer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, vendor: vendor, scorer: scorer, logger: logger}
}

// AnalyzeRequest is the body for POST /interview/analyze.
type AnalyzeRequest struct {
	SessionID      string   `json:"sessionId"`
	ConversationID string   `json:"conversationId"`
	Transcript     string   `json:"transcript"`
	Answers        []string `json:"answers"`
	JobTitle       string   `json:"jobTitle" binding:"required"`
	UserName       string   `json:"userName" binding:"required"`
}

// Analyze handles POST /interview/analyze. Transcript resolution mirrors the
// conversation gateway: webhook store, then vendor API, then the
// caller-supplied transcript.
func (h *Handler) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	transcript, source := h.resolveTranscript(c.Request.Context(), req.ConversationID, req.Transcript)

	report := h.scorer.Score(c.Request.Context(), transcript, req.JobTitle, req.UserName, req.Answers)
	if report.DataSource == "" {
		report.DataSource = source
	}

	h.logger.Info("analysis produced",
		zap.String("session_id", req.SessionID),
		zap.String("data_source", report.DataSource),
		zap.Int("overall_score", report.OverallScore),
	)

	c.JSON(http.StatusOK, gin.H{
		"analysis":   report,
		"dataSource": report.DataSource,
	})
}

// resolveTranscript returns the best-available transcript and its source tag.
func (h *Handler) resolveTranscript(ctx context.Context, conversationID, provided string) (string, string) {
	if conversationID != "" {
		if events, ok := h.store.GetTranscript(conversationID); ok {
			return formatEvents(events), models.AnalysisSourceRealConversation
		}
		if h.vendor != nil {
			fetchCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
			conv, err := h.vendor.GetConversation(fetchCtx, conversationID)
			cancel()
			if err == nil && len(conv.Events) > 0 {
				return formatEvents(conv.Events), models.AnalysisSourceAPIConversation
			}
			if err != nil {
				h.logger.Debug("vendor transcript fetch failed", zap.String("conversation_id", conversationID), zap.Error(err))
			}
		}
	}
	if provided != "" {
		return provided, models.AnalysisSourceProvidedData
	}
	return "", models.AnalysisSourceFallback
}

func formatEvents(events []models.TranscriptEvent) string {
	var b strings.Builder
	for i, e := range events {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Role)
		b.WriteString(": ")
		b.WriteString(e.Content)
	}
	return b.String()
}
