package conversations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prepview/backend/internal/eventstore"
	"github.com/prepview/backend/internal/models"
	"github.com/prepview/backend/internal/tavus"
)

type fakeVendor struct {
	createErr    error
	conversation *tavus.Conversation
	getErr       error
	deleteErr    error
	lastContext  string
}

func (f *fakeVendor) CreateConversation(ctx context.Context, name, convContext, greeting, callbackURL string) (*tavus.Conversation, error) {
	f.lastContext = convContext
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &tavus.Conversation{ConversationID: "c1", ConversationURL: "https://vendor/c1"}, nil
}

func (f *fakeVendor) GetConversation(ctx context.Context, conversationID string) (*tavus.Conversation, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.conversation, nil
}

func (f *fakeVendor) EndConversation(ctx context.Context, conversationID string) error { return nil }

func (f *fakeVendor) DeleteConversation(ctx context.Context, conversationID string) error {
	return f.deleteErr
}

type fakeGenerator struct {
	out string
	err error
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return f.out, f.err
}

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/interview/create-conversation", h.Create)
	r.GET("/interview/get-conversation/:id", h.Get)
	r.POST("/interview/end-conversation", h.End)
	r.POST("/interview/conversation-callback", h.Callback)
	return r
}

func newTestHandler(vendor VendorAPI, gen Generator) (*Handler, *eventstore.Store) {
	store := eventstore.New(100, time.Hour, nil)
	h := NewHandler(store, vendor, gen, nil, nil, "http://localhost:8080", nil)
	return h, store
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookThenGet(t *testing.T) {
	h, _ := newTestHandler(&fakeVendor{getErr: errors.New("should not be called")}, nil)
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodPost, "/interview/conversation-callback", map[string]interface{}{
		"event_type":      "application.transcription_ready",
		"conversation_id": "c1",
		"properties": map[string]interface{}{
			"transcript": []map[string]string{
				{"role": "assistant", "content": "Hi"},
				{"role": "user", "content": "Hello, I am ready for this role and excited"},
			},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("callback status = %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/interview/get-conversation/c1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var resp struct {
		Transcript       string                   `json:"transcript"`
		TranscriptEvents []models.TranscriptEvent `json:"transcriptEvents"`
		HasWebhookData   bool                     `json:"hasWebhookData"`
		DataSource       string                   `json:"dataSource"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.HasWebhookData {
		t.Error("hasWebhookData = false")
	}
	if resp.DataSource != models.DataSourceWebhook {
		t.Errorf("dataSource = %s", resp.DataSource)
	}
	if len(resp.TranscriptEvents) != 2 || resp.TranscriptEvents[0].Content != "Hi" {
		t.Errorf("events = %+v", resp.TranscriptEvents)
	}
	if !strings.Contains(resp.Transcript, "assistant: Hi") ||
		!strings.Contains(resp.Transcript, "user: Hello, I am ready for this role and excited") {
		t.Errorf("formatted transcript = %q", resp.Transcript)
	}
	if strings.Index(resp.Transcript, "Hi") > strings.Index(resp.Transcript, "Hello") {
		t.Error("transcript lines out of order")
	}
}

func TestWebhookDataNeverMergedWithVendor(t *testing.T) {
	vendor := &fakeVendor{conversation: &tavus.Conversation{
		Events: []models.TranscriptEvent{{Role: "assistant", Content: "from vendor"}},
	}}
	h, store := newTestHandler(vendor, nil)
	r := newTestRouter(h)

	store.PutTranscript("c1", []models.TranscriptEvent{{Role: "assistant", Content: "from webhook"}})

	w := doJSON(t, r, http.MethodGet, "/interview/get-conversation/c1", nil)
	var resp struct {
		TranscriptEvents []models.TranscriptEvent `json:"transcriptEvents"`
		DataSource       string                   `json:"dataSource"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.DataSource != models.DataSourceWebhook {
		t.Errorf("dataSource = %s", resp.DataSource)
	}
	if len(resp.TranscriptEvents) != 1 || resp.TranscriptEvents[0].Content != "from webhook" {
		t.Errorf("webhook data was merged or replaced: %+v", resp.TranscriptEvents)
	}
}

func TestGetFallsBackToVendorAPI(t *testing.T) {
	vendor := &fakeVendor{conversation: &tavus.Conversation{
		Events: []models.TranscriptEvent{
			{Role: "assistant", Content: "q1"},
			{Role: "user", Content: "a1"},
			{Role: "assistant", Content: "q2"},
		},
	}}
	h, _ := newTestHandler(vendor, nil)
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodGet, "/interview/get-conversation/c9", nil)
	var resp struct {
		TranscriptEvents []models.TranscriptEvent `json:"transcriptEvents"`
		HasWebhookData   bool                     `json:"hasWebhookData"`
		DataSource       string                   `json:"dataSource"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.DataSource != models.DataSourceAPIFallback {
		t.Errorf("dataSource = %s", resp.DataSource)
	}
	if resp.HasWebhookData {
		t.Error("hasWebhookData should be false for API fallback")
	}
	if len(resp.TranscriptEvents) != 3 {
		t.Errorf("expected 3 events, got %d", len(resp.TranscriptEvents))
	}
}

func TestGetVendorErrorReturnsEmptyNotError(t *testing.T) {
	h, _ := newTestHandler(&fakeVendor{getErr: errors.New("vendor down")}, nil)
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodGet, "/interview/get-conversation/c9", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, gateway must never error to the poller", w.Code)
	}
	var resp struct {
		Transcript string `json:"transcript"`
		DataSource string `json:"dataSource"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.DataSource != models.DataSourceNone {
		t.Errorf("dataSource = %s", resp.DataSource)
	}
	if resp.Transcript != "" {
		t.Errorf("transcript = %q", resp.Transcript)
	}
}

func TestEndAlwaysSucceeds(t *testing.T) {
	vendor := &fakeVendor{getErr: errors.New("fetch failed"), deleteErr: errors.New("delete failed")}
	h, _ := newTestHandler(vendor, nil)
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodPost, "/interview/end-conversation", map[string]string{"conversationId": "c1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, end must always succeed", w.Code)
	}
	var resp struct {
		Success bool `json:"success"`
		Steps   struct {
			Fetch  StepResult `json:"fetch"`
			End    StepResult `json:"end"`
			Delete StepResult `json:"delete"`
		} `json:"steps"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Success {
		t.Error("success = false")
	}
	if resp.Steps.Fetch.Status != "failed" || resp.Steps.Delete.Status != "failed" {
		t.Errorf("steps = %+v, expected per-step failures reported", resp.Steps)
	}
	if resp.Steps.Delete.Reason == "" {
		t.Error("failed step should carry a reason")
	}
}

func TestCreateVendorErrorPassedThrough(t *testing.T) {
	vendor := &fakeVendor{createErr: &tavus.VendorError{StatusCode: http.StatusPaymentRequired, Body: "out of credits"}}
	h, _ := newTestHandler(vendor, nil)
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodPost, "/interview/create-conversation", map[string]string{
		"jobTitle": "Engineer", "userName": "Ann",
	})
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want vendor status surfaced", w.Code)
	}
	if !strings.Contains(w.Body.String(), "out of credits") {
		t.Errorf("vendor body not surfaced: %s", w.Body.String())
	}
}

func TestCreateUsesFallbackPersonaOnModelFailure(t *testing.T) {
	vendor := &fakeVendor{}
	h, _ := newTestHandler(vendor, &fakeGenerator{err: errors.New("model down")})
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodPost, "/interview/create-conversation", map[string]string{
		"jobTitle": "Staff Engineer", "userName": "Ann",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(vendor.lastContext, "Staff Engineer") || !strings.Contains(vendor.lastContext, "Ann") {
		t.Errorf("fallback persona missing role/name: %q", vendor.lastContext)
	}

	var resp struct {
		ConversationID string               `json:"conversation_id"`
		SessionData    models.SessionRecord `json:"sessionData"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.ConversationID != "c1" {
		t.Errorf("conversation_id = %s", resp.ConversationID)
	}
	if resp.SessionData.Status != models.SessionStatusReady || resp.SessionData.SessionID == "" {
		t.Errorf("sessionData = %+v", resp.SessionData)
	}
}

func TestCreateCustomInstructionsWin(t *testing.T) {
	vendor := &fakeVendor{}
	h, _ := newTestHandler(vendor, &fakeGenerator{out: "generated persona"})
	r := newTestRouter(h)

	doJSON(t, r, http.MethodPost, "/interview/create-conversation", map[string]string{
		"jobTitle": "Engineer", "userName": "Ann", "customInstructions": "be ruthless",
	})
	if vendor.lastContext != "be ruthless" {
		t.Errorf("custom instructions ignored: %q", vendor.lastContext)
	}
}

func TestCallbackUnknownEventAcknowledged(t *testing.T) {
	h, store := newTestHandler(&fakeVendor{}, nil)
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodPost, "/interview/conversation-callback", map[string]interface{}{
		"event_type":      "application.perception_analysis",
		"conversation_id": "c1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if store.Len() != 0 {
		t.Error("unknown event type must not be persisted")
	}
}

func TestCallbackRecordingReadyStored(t *testing.T) {
	h, store := newTestHandler(&fakeVendor{}, nil)
	r := newTestRouter(h)

	doJSON(t, r, http.MethodPost, "/interview/conversation-callback", map[string]interface{}{
		"event_type":      "application.recording_ready",
		"conversation_id": "c1",
		"properties":      map[string]string{"recording_url": "https://vendor/rec.mp4"},
	})
	rec, ok := store.GetRecording("c1")
	if !ok {
		t.Fatal("recording event not stored")
	}
	if rec.RecordingURL != "https://vendor/rec.mp4" {
		t.Errorf("recording url = %s", rec.RecordingURL)
	}
}

func TestFormatTranscript(t *testing.T) {
	got := formatTranscript([]models.TranscriptEvent{
		{Role: "assistant", Content: "Hi"},
		{Role: "user", Content: "Hello"},
	})
	want := "assistant: Hi\nuser: Hello"
	if got != want {
		t.Errorf("formatTranscript = %q, want %q", got, want)
	}
	if formatTranscript(nil) != "" {
		t.Error("empty events should format to empty string")
	}
}
