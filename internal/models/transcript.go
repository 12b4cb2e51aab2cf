package models

// TranscriptEvent is one turn of dialogue in a conversation.
type TranscriptEvent struct {
	Role      string `json:"role"` // "assistant" | "user"
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// RecordingEvent is the payload stored when the vendor reports a recording is ready.
type RecordingEvent struct {
	RecordingURL string `json:"recording_url"`
	Timestamp    string `json:"timestamp,omitempty"`
	EventType    string `json:"event_type"`
}

// Transcript data sources, in resolution priority order.
const (
	DataSourceWebhook     = "webhook"
	DataSourceAPIFallback = "api_fallback"
	DataSourceNone        = "none"
)
