package conversations

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prepview/backend/internal/eventstore"
	"github.com/prepview/backend/internal/models"
	"github.com/prepview/backend/internal/realtime"
	"github.com/prepview/backend/internal/tavus"
	"github.com/prepview/backend/pkg/queue"
	"github.com/prepview/backend/pkg/response"
)

// Resolution timeouts for vendor calls. The get path stays short so polling
// clients are never blocked by a slow vendor.
const (
	getTimeout    = 3 * time.Second
	endTimeout    = 5 * time.Second
	deleteTimeout = 8 * time.Second
)

// VendorAPI is the conversation vendor surface the gateway needs.
type VendorAPI interface {
	CreateConversation(ctx context.Context, name, convContext, greeting, callbackURL string) (*tavus.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (*tavus.Conversation, error)
	EndConversation(ctx context.Context, conversationID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
}

// MirrorQueue enqueues vendor recording mirror jobs.
type MirrorQueue interface {
	EnqueueRecordingMirror(ctx context.Context, payload queue.RecordingMirrorPayload) error
}

// Handler serves the conversation gateway and the vendor webhook receiver.
type Handler struct {
	store       *eventstore.Store
	vendor      VendorAPI
	generator   Generator
	hub         *realtime.Hub
	mirrors     MirrorQueue
	callbackURL string
	logger      *zap.Logger
}

// NewHandler creates a conversations handler. generator, hub and mirrors are
// optional; nil disables persona generation, websocket push and recording
// mirroring respectively.
func NewHandler(store *eventstore.Store, vendor VendorAPI, generator Generator, hub *realtime.Hub, mirrors MirrorQueue, callbackBaseURL string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:       store,
		vendor:      vendor,
		generator:   generator,
		hub:         hub,
		mirrors:     mirrors,
		callbackURL: strings.TrimRight(callbackBaseURL, "/") + "/interview/conversation-callback",
		logger:      logger,
	}
}

// CreateRequest is the body for POST /interview/create-conversation.
type CreateRequest struct {
	JobTitle           string `json:"jobTitle" binding:"required"`
	UserName           string `json:"userName" binding:"required"`
	Company            string `json:"company"`
	CustomInstructions string `json:"customInstructions"`
	CustomCriteria     string `json:"customCriteria"`
}

// Create handles POST /interview/create-conversation.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	persona := h.resolvePersona(c.Request.Context(), req.JobTitle, req.UserName, req.CustomInstructions, req.CustomCriteria)
	greeting := "Hello " + req.UserName + ", thanks for joining. Ready to get started?"

	conv, err := h.vendor.CreateConversation(c.Request.Context(), "Mock interview: "+req.JobTitle, persona, greeting, h.callbackURL)
	if err != nil {
		var verr *tavus.VendorError
		if errors.As(err, &verr) {
			h.logger.Error("vendor create failed", zap.Int("status", verr.StatusCode))
			response.Vendor(c, verr.StatusCode, "vendor error: "+verr.Body)
			return
		}
		h.logger.Error("vendor create failed", zap.Error(err))
		response.Internal(c, "failed to create conversation")
		return
	}

	session := models.SessionRecord{
		SessionID:      uuid.New().String(),
		JobTitle:       req.JobTitle,
		Company:        req.Company,
		UserName:       req.UserName,
		ConversationID: conv.ConversationID,
		Status:         models.SessionStatusReady,
		CreatedAt:      time.Now().UTC(),
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id":  conv.ConversationID,
		"conversation_url": conv.ConversationURL,
		"sessionData":      session,
	})
}

// Get handles GET /interview/get-conversation/:id. Resolution order: webhook
// store, then a short-timeout vendor fetch, then empty. Never errors to the
// caller.
func (h *Handler) Get(c *gin.Context) {
	conversationID := c.Param("id")
	if conversationID == "" {
		response.BadRequest(c, "conversation id required")
		return
	}

	recordingURL := ""
	if rec, ok := h.store.GetRecording(conversationID); ok {
		recordingURL = rec.RecordingURL
	}

	if events, ok := h.store.GetTranscript(conversationID); ok {
		c.JSON(http.StatusOK, gin.H{
			"transcript":       formatTranscript(events),
			"transcriptEvents": events,
			"hasWebhookData":   true,
			"dataSource":       models.DataSourceWebhook,
			"recordingUrl":     recordingURL,
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), getTimeout)
	defer cancel()
	conv, err := h.vendor.GetConversation(ctx, conversationID)
	if err == nil && len(conv.Events) > 0 {
		if recordingURL == "" {
			recordingURL = conv.RecordingURL
		}
		c.JSON(http.StatusOK, gin.H{
			"transcript":       formatTranscript(conv.Events),
			"transcriptEvents": conv.Events,
			"hasWebhookData":   false,
			"dataSource":       models.DataSourceAPIFallback,
			"recordingUrl":     recordingURL,
		})
		return
	}
	if err != nil {
		h.logger.Debug("vendor fallback fetch failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"transcript":       "",
		"transcriptEvents": []models.TranscriptEvent{},
		"hasWebhookData":   false,
		"dataSource":       models.DataSourceNone,
		"recordingUrl":     recordingURL,
	})
}

// EndRequest is the body for POST /interview/end-conversation.
type EndRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
}

// StepResult reports one best-effort cleanup step.
type StepResult struct {
	Status string `json:"status"` // "ok" | "failed"
	Reason string `json:"reason,omitempty"`
}

func stepOK() StepResult              { return StepResult{Status: "ok"} }
func stepFailed(err error) StepResult { return StepResult{Status: "failed", Reason: err.Error()} }

// End handles POST /interview/end-conversation. Every vendor step is best
// effort with its own timeout; the user can always leave the session, so the
// call reports success regardless, with per-step results attached.
func (h *Handler) End(c *gin.Context) {
	var req EndRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	var conversationData *tavus.Conversation
	fetchResult := stepOK()
	fetchCtx, cancelFetch := context.WithTimeout(c.Request.Context(), endTimeout)
	conv, err := h.vendor.GetConversation(fetchCtx, req.ConversationID)
	cancelFetch()
	if err != nil {
		fetchResult = stepFailed(err)
		h.logger.Warn("final state fetch failed", zap.String("conversation_id", req.ConversationID), zap.Error(err))
	} else {
		conversationData = conv
	}

	endResult := stepOK()
	endCtx, cancelEnd := context.WithTimeout(c.Request.Context(), endTimeout)
	if err := h.vendor.EndConversation(endCtx, req.ConversationID); err != nil {
		endResult = stepFailed(err)
		h.logger.Warn("vendor end failed", zap.String("conversation_id", req.ConversationID), zap.Error(err))
	}
	cancelEnd()

	deleteResult := stepOK()
	deleteCtx, cancelDelete := context.WithTimeout(c.Request.Context(), deleteTimeout)
	if err := h.vendor.DeleteConversation(deleteCtx, req.ConversationID); err != nil {
		deleteResult = stepFailed(err)
		h.logger.Warn("vendor delete failed", zap.String("conversation_id", req.ConversationID), zap.Error(err))
	}
	cancelDelete()

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"conversationData": conversationData,
		"steps": gin.H{
			"fetch":  fetchResult,
			"end":    endResult,
			"delete": deleteResult,
		},
	})
}

// WebhookPayload is the vendor event envelope.
type WebhookPayload struct {
	EventType      string            `json:"event_type"`
	ConversationID string            `json:"conversation_id"`
	Timestamp      string            `json:"timestamp"`
	Properties     WebhookProperties `json:"properties"`
}

// WebhookProperties carries event-specific fields.
type WebhookProperties struct {
	Transcript   []models.TranscriptEvent `json:"transcript"`
	RecordingURL string                   `json:"recording_url"`
}

// Callback handles POST /interview/conversation-callback. Always responds 200
// to the vendor to avoid retry storms; internal failures are logged only.
func (h *Handler) Callback(c *gin.Context) {
	var payload WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.logger.Warn("malformed webhook payload", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	if payload.ConversationID == "" {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	switch {
	case strings.HasSuffix(payload.EventType, "transcription_ready"):
		h.store.PutTranscript(payload.ConversationID, payload.Properties.Transcript)
		h.logger.Info("transcript webhook stored",
			zap.String("conversation_id", payload.ConversationID),
			zap.Int("events", len(payload.Properties.Transcript)),
		)
		if h.hub != nil {
			h.hub.BroadcastAndPublish(payload.ConversationID, realtime.EventTranscriptReady, gin.H{
				"conversation_id":  payload.ConversationID,
				"transcriptEvents": payload.Properties.Transcript,
			})
		}
	case strings.HasSuffix(payload.EventType, "recording_ready"):
		h.store.PutRecording(payload.ConversationID, models.RecordingEvent{
			RecordingURL: payload.Properties.RecordingURL,
			Timestamp:    payload.Timestamp,
			EventType:    payload.EventType,
		})
		h.logger.Info("recording webhook stored", zap.String("conversation_id", payload.ConversationID))
		if h.mirrors != nil && payload.Properties.RecordingURL != "" {
			if err := h.mirrors.EnqueueRecordingMirror(c.Request.Context(), queue.RecordingMirrorPayload{
				ConversationID: payload.ConversationID,
				RecordingURL:   payload.Properties.RecordingURL,
			}); err != nil {
				h.logger.Error("enqueue recording mirror failed", zap.Error(err))
			}
		}
		if h.hub != nil {
			h.hub.BroadcastAndPublish(payload.ConversationID, realtime.EventRecordingReady, gin.H{
				"conversation_id": payload.ConversationID,
				"recording_url":   payload.Properties.RecordingURL,
			})
		}
	default:
		// acknowledged but not persisted
		h.logger.Debug("ignored webhook event", zap.String("event_type", payload.EventType))
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// formatTranscript renders events as readable "role: content" lines in
// delivery order.
func formatTranscript(events []models.TranscriptEvent) string {
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
