package models

import "time"

// Session status transitions: generating -> ready -> in-progress -> completed | failed.
const (
	SessionStatusGenerating = "generating"
	SessionStatusReady      = "ready"
	SessionStatusInProgress = "in-progress"
	SessionStatusCompleted  = "completed"
	SessionStatusFailed     = "failed"
)

// SessionRecord describes one interview session. It is handed to the client at
// conversation creation and kept client-side; the server holds no session table.
type SessionRecord struct {
	SessionID      string    `json:"sessionId"`
	JobTitle       string    `json:"jobTitle"`
	Company        string    `json:"company,omitempty"`
	UserName       string    `json:"userName"`
	ConversationID string    `json:"conversationId"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
}
