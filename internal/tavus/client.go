// Package tavus is a thin client for the conversation vendor's REST API.
package tavus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/prepview/backend/internal/models"
)

// VendorError carries the vendor's HTTP status and response body so callers
// can surface them as-is.
type VendorError struct {
	StatusCode int
	Body       string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("vendor API error: status %d: %s", e.StatusCode, e.Body)
}

// Client calls the conversation vendor API.
type Client struct {
	baseURL   string
	apiKey    string
	replicaID string
	personaID string
	http      *http.Client
	logger    *zap.Logger
}

// NewClient creates a vendor client. Per-call deadlines come from the caller's context.
func NewClient(baseURL, apiKey, replicaID, personaID string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		replicaID: replicaID,
		personaID: personaID,
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}
}

// CreateConversationRequest is the vendor conversation creation payload.
type CreateConversationRequest struct {
	ReplicaID             string `json:"replica_id"`
	PersonaID             string `json:"persona_id,omitempty"`
	ConversationName      string `json:"conversation_name"`
	ConversationalContext string `json:"conversational_context"`
	CustomGreeting        string `json:"custom_greeting,omitempty"`
	CallbackURL           string `json:"callback_url"`
}

// Conversation is the vendor's view of a conversation.
type Conversation struct {
	ConversationID  string                   `json:"conversation_id"`
	ConversationURL string                   `json:"conversation_url"`
	Status          string                   `json:"status"`
	Events          []models.TranscriptEvent `json:"events"`
	RecordingURL    string                   `json:"recording_url,omitempty"`
}

// CreateConversation starts a new vendor conversation with the given persona
// context and webhook callback URL.
func (c *Client) CreateConversation(ctx context.Context, name, convContext, greeting, callbackURL string) (*Conversation, error) {
	reqBody := CreateConversationRequest{
		ReplicaID:             c.replicaID,
		PersonaID:             c.personaID,
		ConversationName:      name,
		ConversationalContext: convContext,
		CustomGreeting:        greeting,
		CallbackURL:           callbackURL,
	}
	var conv Conversation
	if err := c.do(ctx, http.MethodPost, "/v2/conversations", reqBody, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetConversation fetches conversation state including any transcript events
// the vendor has assembled so far.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	var conv Conversation
	path := fmt.Sprintf("/v2/conversations/%s?verbose=true", conversationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// EndConversation asks the vendor to end a live conversation.
func (c *Client) EndConversation(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/v2/conversations/%s/end", conversationID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// DeleteConversation removes the conversation on the vendor side.
// Delete-if-exists semantics are assumed: 404 is not an error.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/v2/conversations/%s", conversationID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		var verr *VendorError
		if errors.As(err, &verr) && verr.StatusCode == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("vendor request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("vendor call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return &VendorError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
