package models

import (
	"time"

	"github.com/google/uuid"
)

// Recording lifecycle states.
const (
	RecordingStatusProcessing = "processing"
	RecordingStatusCompleted  = "completed"
	RecordingStatusFailed     = "failed"
)

// Recording is the metadata row for a session recording stored in the
// temporary recordings bucket (client upload or vendor mirror).
type Recording struct {
	ID             uuid.UUID `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserName       string    `json:"user_name,omitempty"`
	S3Key          string    `json:"s3_key,omitempty"`
	S3URL          string    `json:"s3_url,omitempty"`
	MimeType       string    `json:"mime_type"`
	FileSize       int64     `json:"file_size"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
