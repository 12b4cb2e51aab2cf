// Package worker mirrors vendor-hosted recordings into the temporary
// recordings bucket so they survive vendor-side retention.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/prepview/backend/internal/models"
	"github.com/prepview/backend/pkg/queue"
	"github.com/prepview/backend/pkg/storage"
)

const downloadTimeout = 2 * time.Minute

// JobQueue is the queue surface the worker consumes.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ObjectStore uploads mirrored recordings.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
	RecordingsBucket() string
}

// MetadataStore updates recording rows after a mirror completes. Optional.
type MetadataStore interface {
	Create(ctx context.Context, rec *models.Recording) error
	UpdateStatus(ctx context.Context, conversationID, status, s3Key, s3URL string) error
}

// Mirror consumes recording mirror jobs.
type Mirror struct {
	queue  JobQueue
	store  ObjectStore
	repo   MetadataStore
	client *http.Client
	logger *zap.Logger
}

// NewMirror creates a mirror worker. repo may be nil.
func NewMirror(q JobQueue, store ObjectStore, repo MetadataStore, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		queue:  q,
		store:  store,
		repo:   repo,
		client: &http.Client{Timeout: downloadTimeout},
		logger: logger,
	}
}

// Run consumes jobs until ctx is cancelled. Failed jobs are retried with DLQ
// fallback.
func (m *Mirror) Run(ctx context.Context) {
	m.logger.Info("mirror worker started")
	for {
		if ctx.Err() != nil {
			m.logger.Info("mirror worker stopped")
			return
		}
		job, err := m.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.logger.Info("mirror worker stopped")
				return
			}
			m.logger.Error("dequeue failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		if err := m.process(ctx, job); err != nil {
			m.logger.Warn("mirror job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if rerr := m.queue.Retry(ctx, job); rerr != nil {
				m.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(rerr))
			}
		}
	}
}

// process downloads the vendor recording and uploads it into the recordings
// bucket, recording the mirrored location.
func (m *Mirror) process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeRecordingMirror {
		m.logger.Warn("unknown job type dropped", zap.String("type", string(job.Type)))
		return nil
	}
	var payload queue.RecordingMirrorPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		m.logger.Warn("malformed mirror payload dropped", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	if payload.ConversationID == "" || payload.RecordingURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.RecordingURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("download recording: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download recording: status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !storage.ValidateRecordingType(contentType) {
		contentType = "video/mp4"
	}
	if resp.ContentLength > storage.MaxRecordingSize {
		m.logger.Warn("vendor recording exceeds ceiling, skipped",
			zap.String("conversation_id", payload.ConversationID),
			zap.Int64("size", resp.ContentLength),
		)
		return nil
	}

	body := io.Reader(resp.Body)
	size := resp.ContentLength
	if size < 0 {
		// chunked vendor responses carry no length; buffer up to the ceiling
		// so an oversize recording is caught before it reaches the bucket
		buf, err := io.ReadAll(io.LimitReader(resp.Body, storage.MaxRecordingSize+1))
		if err != nil {
			return fmt.Errorf("read recording: %w", err)
		}
		if int64(len(buf)) > storage.MaxRecordingSize {
			m.logger.Warn("vendor recording exceeds ceiling, skipped",
				zap.String("conversation_id", payload.ConversationID),
			)
			return nil
		}
		body = bytes.NewReader(buf)
		size = int64(len(buf))
	}

	key := storage.RecordingKey(payload.ConversationID, "vendor-mirror"+storage.RecordingExtension(contentType))
	url, err := m.store.Upload(ctx, m.store.RecordingsBucket(), key, contentType, body, size)
	if err != nil {
		return fmt.Errorf("upload mirror: %w", err)
	}

	if m.repo != nil {
		rec := &models.Recording{
			ConversationID: payload.ConversationID,
			S3Key:          key,
			S3URL:          url,
			MimeType:       contentType,
			FileSize:       size,
			Status:         models.RecordingStatusCompleted,
		}
		if err := m.repo.Create(ctx, rec); err != nil {
			m.logger.Warn("mirror metadata insert failed", zap.String("conversation_id", payload.ConversationID), zap.Error(err))
		}
	}

	m.logger.Info("vendor recording mirrored",
		zap.String("conversation_id", payload.ConversationID),
		zap.String("key", key),
	)
	return nil
}
