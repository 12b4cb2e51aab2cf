// Package recordings exposes the object storage endpoints: session recording
// and transcript uploads, presigned downloads, deletion and session cleanup.
package recordings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prepview/backend/internal/eventstore"
	"github.com/prepview/backend/internal/models"
	"github.com/prepview/backend/pkg/response"
	"github.com/prepview/backend/pkg/storage"
)

// ObjectStore is the slice of the storage client the handlers need.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	DeletePrefix(ctx context.Context, bucket, prefix string) error
	GeneratePresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
	RecordingsBucket() string
	TranscriptsBucket() string
	UserTranscriptsBucket() string
	PresignExpire() time.Duration
}

// MetadataStore persists recording metadata rows. Optional.
type MetadataStore interface {
	Create(ctx context.Context, rec *models.Recording) error
	DeleteByConversationID(ctx context.Context, conversationID string) error
}

// Handler serves the storage gateway endpoints.
type Handler struct {
	store  ObjectStore
	repo   MetadataStore
	events *eventstore.Store
	logger *zap.Logger
}

// NewHandler creates a recordings handler. repo and events may be nil.
func NewHandler(store ObjectStore, repo MetadataStore, events *eventstore.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, repo: repo, events: events, logger: logger}
}

// UploadRecording handles POST /interview/upload-recording (multipart, field
// "recording"). Mime type and size are validated before any storage call.
func (h *Handler) UploadRecording(c *gin.Context) {
	conversationID := c.PostForm("conversationId")
	if conversationID == "" {
		response.BadRequest(c, "conversationId is required")
		return
	}
	userName := c.PostForm("userName")

	file, header, err := c.Request.FormFile("recording")
	if err != nil {
		response.BadRequest(c, "recording file is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !storage.ValidateRecordingType(contentType) {
		response.BadRequest(c, "unsupported recording type: "+contentType)
		return
	}
	if header.Size > storage.MaxRecordingSize {
		response.PayloadTooLarge(c, "recording exceeds the 50MB limit")
		return
	}

	key := storage.RecordingKey(conversationID, "recording-"+time.Now().UTC().Format("20060102T150405")+storage.RecordingExtension(contentType))
	url, err := h.store.Upload(c.Request.Context(), h.store.RecordingsBucket(), key, contentType, file, header.Size)
	if err != nil {
		if errors.Is(err, storage.ErrPayloadTooLarge) {
			response.PayloadTooLarge(c, "recording exceeds the 50MB limit")
			return
		}
		h.logger.Error("recording upload failed", zap.String("conversation_id", conversationID), zap.Error(err))
		response.Internal(c, "failed to store recording")
		return
	}

	if h.repo != nil {
		rec := &models.Recording{
			ConversationID: conversationID,
			UserName:       userName,
			S3Key:          key,
			S3URL:          url,
			MimeType:       contentType,
			FileSize:       header.Size,
			Status:         models.RecordingStatusCompleted,
		}
		if err := h.repo.Create(c.Request.Context(), rec); err != nil {
			h.logger.Warn("recording metadata insert failed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}

	h.logger.Info("recording uploaded",
		zap.String("conversation_id", conversationID),
		zap.Int64("size", header.Size),
		zap.String("mime_type", contentType),
	)
	c.JSON(http.StatusOK, gin.H{"url": url, "key": key})
}

// UploadTranscriptRequest is the body for POST /interview/upload-transcript.
type UploadTranscriptRequest struct {
	ConversationID string                   `json:"conversationId" binding:"required"`
	UserName       string                   `json:"userName"`
	Transcript     []models.TranscriptEvent `json:"transcript" binding:"required"`
}

// UploadTranscript handles POST /interview/upload-transcript: stores the
// session transcript JSON in the temporary transcripts bucket.
func (h *Handler) UploadTranscript(c *gin.Context) {
	var req UploadTranscriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	body, err := json.Marshal(transcriptDocument{
		ConversationID: req.ConversationID,
		UserName:       req.UserName,
		Transcript:     req.Transcript,
		SavedAt:        time.Now().UTC(),
	})
	if err != nil {
		response.Internal(c, "failed to encode transcript")
		return
	}
	if int64(len(body)) > storage.MaxTranscriptSize {
		response.PayloadTooLarge(c, "transcript exceeds the 5MB limit")
		return
	}

	key := storage.TranscriptKey(req.ConversationID)
	url, err := h.store.Upload(c.Request.Context(), h.store.TranscriptsBucket(), key, "application/json", bytes.NewReader(body), int64(len(body)))
	if err != nil {
		h.logger.Error("transcript upload failed", zap.String("conversation_id", req.ConversationID), zap.Error(err))
		response.Internal(c, "failed to store transcript")
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url, "key": key})
}

// transcriptDocument is the stored transcript object shape.
type transcriptDocument struct {
	ConversationID string                   `json:"conversationId"`
	UserName       string                   `json:"userName,omitempty"`
	UserID         string                   `json:"userId,omitempty"`
	JobTitle       string                   `json:"jobTitle,omitempty"`
	Company        string                   `json:"company,omitempty"`
	Transcript     []models.TranscriptEvent `json:"transcript"`
	SavedAt        time.Time                `json:"savedAt"`
}

// UploadUserTranscriptRequest is the body for POST /interview/upload-user-transcript.
type UploadUserTranscriptRequest struct {
	UserID         string                   `json:"userId" binding:"required"`
	ConversationID string                   `json:"conversationId" binding:"required"`
	JobTitle       string                   `json:"jobTitle"`
	Company        string                   `json:"company"`
	Transcript     []models.TranscriptEvent `json:"transcript" binding:"required"`
}

// UploadUserTranscript handles POST /interview/upload-user-transcript: stores
// the transcript in the persistent per-user bucket with ownership metadata.
func (h *Handler) UploadUserTranscript(c *gin.Context) {
	var req UploadUserTranscriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	url, err := h.persistUserTranscript(c.Request.Context(), req.UserID, req.ConversationID, req.JobTitle, req.Company, req.Transcript)
	if err != nil {
		if errors.Is(err, storage.ErrPayloadTooLarge) {
			response.PayloadTooLarge(c, "transcript exceeds the 10MB limit")
			return
		}
		h.logger.Error("user transcript upload failed", zap.String("user_id", req.UserID), zap.Error(err))
		response.Internal(c, "failed to store user transcript")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) persistUserTranscript(ctx context.Context, userID, conversationID, jobTitle, company string, transcript []models.TranscriptEvent) (string, error) {
	body, err := json.Marshal(transcriptDocument{
		ConversationID: conversationID,
		UserID:         userID,
		JobTitle:       jobTitle,
		Company:        company,
		Transcript:     transcript,
		SavedAt:        time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	key := storage.UserTranscriptKey(userID, conversationID)
	return h.store.Upload(ctx, h.store.UserTranscriptsBucket(), key, "application/json", bytes.NewReader(body), int64(len(body)))
}

// DownloadURLs handles GET /interview/download-urls/:conversationId: presigned
// GET links for every stored recording and transcript of the conversation.
// Listing failures yield empty lists, not errors.
func (h *Handler) DownloadURLs(c *gin.Context) {
	conversationID := c.Param("conversationId")
	if conversationID == "" {
		response.BadRequest(c, "conversation id required")
		return
	}

	recordings := h.presignAll(c.Request.Context(), h.store.RecordingsBucket(), storage.FolderRecordings+"/"+conversationID+"/")
	transcripts := h.presignAll(c.Request.Context(), h.store.TranscriptsBucket(), storage.FolderTranscripts+"/"+conversationID+"/")

	c.JSON(http.StatusOK, gin.H{
		"recordings":  recordings,
		"transcripts": transcripts,
	})
}

// presignAll lists a prefix and presigns each key. Best effort: failures are
// logged and skipped.
func (h *Handler) presignAll(ctx context.Context, bucket, prefix string) []gin.H {
	out := []gin.H{}
	keys, err := h.store.ListKeys(ctx, bucket, prefix)
	if err != nil {
		h.logger.Warn("list objects failed", zap.String("prefix", prefix), zap.Error(err))
		return out
	}
	for _, key := range keys {
		url, err := h.store.GeneratePresignedDownloadURL(ctx, bucket, key, h.store.PresignExpire())
		if err != nil {
			h.logger.Warn("presign failed", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, gin.H{"key": key, "url": url})
	}
	return out
}

// DeleteRecording handles DELETE /interview/delete-recording/:conversationId.
func (h *Handler) DeleteRecording(c *gin.Context) {
	conversationID := c.Param("conversationId")
	if conversationID == "" {
		response.BadRequest(c, "conversation id required")
		return
	}

	if err := h.store.DeletePrefix(c.Request.Context(), h.store.RecordingsBucket(), storage.FolderRecordings+"/"+conversationID+"/"); err != nil {
		h.logger.Error("delete recording failed", zap.String("conversation_id", conversationID), zap.Error(err))
		response.Internal(c, "failed to delete recording")
		return
	}
	if h.repo != nil {
		if err := h.repo.DeleteByConversationID(c.Request.Context(), conversationID); err != nil {
			h.logger.Warn("recording metadata delete failed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// CleanupRequest is the body for POST /interview/cleanup-session.
type CleanupRequest struct {
	ConversationID string                   `json:"conversationId" binding:"required"`
	UserID         string                   `json:"userId"`
	JobTitle       string                   `json:"jobTitle"`
	Company        string                   `json:"company"`
	Transcript     []models.TranscriptEvent `json:"transcript"`
}

// StepResult reports one cleanup step.
type StepResult struct {
	Status string `json:"status"` // "ok" | "failed" | "skipped"
	Reason string `json:"reason,omitempty"`
}

// Cleanup handles POST /interview/cleanup-session. Non-transactional saga:
// persist the transcript to the user's durable bucket when present, then
// best-effort delete the temporary recording and transcript. Deletions run
// regardless of whether persistence succeeded, step outcomes are reported
// individually, and overall success means only that the saga ran to
// completion; a persisted copy is never rolled back.
func (h *Handler) Cleanup(c *gin.Context) {
	var req CleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ctx := c.Request.Context()

	persist := StepResult{Status: "skipped"}
	if len(req.Transcript) > 0 && req.UserID != "" {
		persist = StepResult{Status: "ok"}
		if _, err := h.persistUserTranscript(ctx, req.UserID, req.ConversationID, req.JobTitle, req.Company, req.Transcript); err != nil {
			persist = StepResult{Status: "failed", Reason: err.Error()}
			h.logger.Error("cleanup: persist user transcript failed", zap.String("conversation_id", req.ConversationID), zap.Error(err))
		}
	}

	deleteRecording := StepResult{Status: "ok"}
	if err := h.store.DeletePrefix(ctx, h.store.RecordingsBucket(), storage.FolderRecordings+"/"+req.ConversationID+"/"); err != nil {
		deleteRecording = StepResult{Status: "failed", Reason: err.Error()}
		h.logger.Warn("cleanup: delete recording failed", zap.String("conversation_id", req.ConversationID), zap.Error(err))
	}

	deleteTranscript := StepResult{Status: "ok"}
	if err := h.store.DeleteObject(ctx, h.store.TranscriptsBucket(), storage.TranscriptKey(req.ConversationID)); err != nil {
		deleteTranscript = StepResult{Status: "failed", Reason: err.Error()}
		h.logger.Warn("cleanup: delete transcript failed", zap.String("conversation_id", req.ConversationID), zap.Error(err))
	}

	if h.repo != nil {
		if err := h.repo.DeleteByConversationID(ctx, req.ConversationID); err != nil {
			h.logger.Warn("cleanup: metadata delete failed", zap.String("conversation_id", req.ConversationID), zap.Error(err))
		}
	}
	if h.events != nil {
		h.events.Delete(req.ConversationID)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"steps": gin.H{
			"persistUserTranscript": persist,
			"deleteRecording":       deleteRecording,
			"deleteTranscript":      deleteTranscript,
		},
	})
}
