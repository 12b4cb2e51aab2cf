package recordings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prepview/backend/internal/models"
	"github.com/prepview/backend/pkg/storage"
)

type fakeStore struct {
	uploads     map[string][]byte // bucket/key -> body
	uploadErr   error
	listErr     error
	deleted     []string
	deleteErr   map[string]error
	presignErr  error
	lastContent string
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploads: map[string][]byte{}, deleteErr: map[string]error{}}
}

func (f *fakeStore) Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	data, _ := io.ReadAll(body)
	f.uploads[bucket+"/"+key] = data
	f.lastContent = contentType
	return "https://" + bucket + ".example.com/" + key, nil
}

func (f *fakeStore) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var keys []string
	for k := range f.uploads {
		if strings.HasPrefix(k, bucket+"/"+prefix) {
			keys = append(keys, strings.TrimPrefix(k, bucket+"/"))
		}
	}
	return keys, nil
}

func (f *fakeStore) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := f.deleteErr[bucket]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, bucket+"/"+key)
	delete(f.uploads, bucket+"/"+key)
	return nil
}

func (f *fakeStore) DeletePrefix(ctx context.Context, bucket, prefix string) error {
	if err := f.deleteErr[bucket]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, bucket+"/"+prefix+"*")
	for k := range f.uploads {
		if strings.HasPrefix(k, bucket+"/"+prefix) {
			delete(f.uploads, k)
		}
	}
	return nil
}

func (f *fakeStore) GeneratePresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return fmt.Sprintf("https://%s.example.com/%s?signed=1", bucket, key), nil
}

func (f *fakeStore) RecordingsBucket() string      { return "rec-bucket" }
func (f *fakeStore) TranscriptsBucket() string     { return "tr-bucket" }
func (f *fakeStore) UserTranscriptsBucket() string { return "user-bucket" }
func (f *fakeStore) PresignExpire() time.Duration  { return time.Hour }

func newRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/interview/upload-recording", h.UploadRecording)
	r.POST("/interview/upload-transcript", h.UploadTranscript)
	r.POST("/interview/upload-user-transcript", h.UploadUserTranscript)
	r.GET("/interview/download-urls/:conversationId", h.DownloadURLs)
	r.DELETE("/interview/delete-recording/:conversationId", h.DeleteRecording)
	r.POST("/interview/cleanup-session", h.Cleanup)
	return r
}

func multipartRecording(t *testing.T, conversationID, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("conversationId", conversationID); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteField("userName", "Ann"); err != nil {
		t.Fatal(err)
	}
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="recording"; filename="session.webm"`)
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatal(err)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestUploadRecording(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store, nil, nil, nil)
	r := newRouter(h)

	body, ct := multipartRecording(t, "c1", "video/webm", []byte("webm-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/interview/upload-recording", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		URL string `json:"url"`
		Key string `json:"key"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.URL == "" || !strings.HasPrefix(resp.Key, "recordings/c1/") {
		t.Errorf("resp = %+v", resp)
	}
	if store.lastContent != "video/webm" {
		t.Errorf("content type = %s", store.lastContent)
	}
}

func TestUploadRecordingRejectsBadMime(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store, nil, nil, nil)
	r := newRouter(h)

	body, ct := multipartRecording(t, "c1", "application/pdf", []byte("nope"))
	req := httptest.NewRequest(http.MethodPost, "/interview/upload-recording", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if len(store.uploads) != 0 {
		t.Error("rejected upload reached storage")
	}
}

func TestUploadRecordingMissingConversationID(t *testing.T) {
	h := NewHandler(newFakeStore(), nil, nil, nil)
	r := newRouter(h)

	body, ct := multipartRecording(t, "", "video/webm", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/interview/upload-recording", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestUploadTranscript(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store, nil, nil, nil)
	r := newRouter(h)

	raw, _ := json.Marshal(map[string]interface{}{
		"conversationId": "c1",
		"userName":       "Ann",
		"transcript": []models.TranscriptEvent{
			{Role: "user", Content: "hello"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/interview/upload-transcript", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	stored, ok := store.uploads["tr-bucket/transcripts/c1/transcript.json"]
	if !ok {
		t.Fatalf("transcript not stored at expected key, uploads = %v", store.uploads)
	}
	if !bytes.Contains(stored, []byte("hello")) {
		t.Error("stored document missing transcript content")
	}
}

func TestUploadUserTranscriptKeyedByUser(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store, nil, nil, nil)
	r := newRouter(h)

	raw, _ := json.Marshal(map[string]interface{}{
		"userId":         "u1",
		"conversationId": "c1",
		"jobTitle":       "Engineer",
		"company":        "Acme",
		"transcript":     []models.TranscriptEvent{{Role: "user", Content: "hi"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/interview/upload-user-transcript", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	stored, ok := store.uploads["user-bucket/users/u1/c1.json"]
	if !ok {
		t.Fatalf("user transcript not stored at expected key, uploads = %v", store.uploads)
	}
	if !bytes.Contains(stored, []byte("Engineer")) || !bytes.Contains(stored, []byte("Acme")) {
		t.Error("ownership metadata missing from stored document")
	}
}

func TestDownloadURLs(t *testing.T) {
	store := newFakeStore()
	store.uploads["rec-bucket/recordings/c1/a.webm"] = []byte("x")
	store.uploads["tr-bucket/transcripts/c1/transcript.json"] = []byte("{}")
	store.uploads["rec-bucket/recordings/other/b.webm"] = []byte("y")
	h := NewHandler(store, nil, nil, nil)
	r := newRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/interview/download-urls/c1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp struct {
		Recordings  []map[string]string `json:"recordings"`
		Transcripts []map[string]string `json:"transcripts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Recordings) != 1 || len(resp.Transcripts) != 1 {
		t.Fatalf("recordings = %d, transcripts = %d", len(resp.Recordings), len(resp.Transcripts))
	}
	if !strings.Contains(resp.Recordings[0]["url"], "signed=1") {
		t.Error("recording url is not presigned")
	}
}

func TestDownloadURLsListFailureYieldsEmptyLists(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("s3 down")
	h := NewHandler(store, nil, nil, nil)
	r := newRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/interview/download-urls/c1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, listing failures must not error", w.Code)
	}
	var resp struct {
		Recordings  []map[string]string `json:"recordings"`
		Transcripts []map[string]string `json:"transcripts"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Recordings == nil || resp.Transcripts == nil {
		t.Error("lists must be empty, not null")
	}
}

func TestDeleteRecording(t *testing.T) {
	store := newFakeStore()
	store.uploads["rec-bucket/recordings/c1/a.webm"] = []byte("x")
	h := NewHandler(store, nil, nil, nil)
	r := newRouter(h)

	req := httptest.NewRequest(http.MethodDelete, "/interview/delete-recording/c1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(store.uploads) != 0 {
		t.Error("recording objects not deleted")
	}
}

func postCleanup(t *testing.T, r *gin.Engine, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/interview/cleanup-session", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type cleanupResponse struct {
	Success bool `json:"success"`
	Steps   struct {
		PersistUserTranscript StepResult `json:"persistUserTranscript"`
		DeleteRecording       StepResult `json:"deleteRecording"`
		DeleteTranscript      StepResult `json:"deleteTranscript"`
	} `json:"steps"`
}

func TestCleanupPersistsThenDeletes(t *testing.T) {
	store := newFakeStore()
	store.uploads["rec-bucket/recordings/c1/a.webm"] = []byte("x")
	store.uploads["tr-bucket/transcripts/c1/transcript.json"] = []byte("{}")
	h := NewHandler(store, nil, nil, nil)
	r := newRouter(h)

	w := postCleanup(t, r, map[string]interface{}{
		"conversationId": "c1",
		"userId":         "u1",
		"jobTitle":       "Engineer",
		"transcript":     []models.TranscriptEvent{{Role: "user", Content: "hi"}},
	})

	var resp cleanupResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Success {
		t.Error("success = false")
	}
	if resp.Steps.PersistUserTranscript.Status != "ok" {
		t.Errorf("persist step = %+v", resp.Steps.PersistUserTranscript)
	}
	if _, ok := store.uploads["user-bucket/users/u1/c1.json"]; !ok {
		t.Error("user transcript not persisted")
	}
	if _, ok := store.uploads["rec-bucket/recordings/c1/a.webm"]; ok {
		t.Error("temporary recording not deleted")
	}
}

func TestCleanupDeletionsRunEvenWhenPersistFails(t *testing.T) {
	store := newFakeStore()
	store.uploadErr = errors.New("persist failed")
	store.uploads["rec-bucket/recordings/c1/a.webm"] = []byte("x")
	h := NewHandler(store, nil, nil, nil)
	r := newRouter(h)

	w := postCleanup(t, r, map[string]interface{}{
		"conversationId": "c1",
		"userId":         "u1",
		"transcript":     []models.TranscriptEvent{{Role: "user", Content: "hi"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp cleanupResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Success {
		t.Error("overall success must not depend on the persistence step")
	}
	if resp.Steps.PersistUserTranscript.Status != "failed" {
		t.Errorf("persist step = %+v", resp.Steps.PersistUserTranscript)
	}
	if resp.Steps.DeleteRecording.Status != "ok" {
		t.Errorf("deletions must still run, delete step = %+v", resp.Steps.DeleteRecording)
	}
	if _, ok := store.uploads["rec-bucket/recordings/c1/a.webm"]; ok {
		t.Error("temporary recording not deleted after persist failure")
	}
}

func TestCleanupDeleteFailureDoesNotFailOverall(t *testing.T) {
	store := newFakeStore()
	store.deleteErr["rec-bucket"] = errors.New("delete failed")
	h := NewHandler(store, nil, nil, nil)
	r := newRouter(h)

	w := postCleanup(t, r, map[string]interface{}{
		"conversationId": "c1",
		"userId":         "u1",
		"transcript":     []models.TranscriptEvent{{Role: "user", Content: "hi"}},
	})

	var resp cleanupResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Success {
		t.Error("step failures must not fail the overall cleanup")
	}
	if resp.Steps.DeleteRecording.Status != "failed" {
		t.Errorf("delete step = %+v", resp.Steps.DeleteRecording)
	}
	if _, ok := store.uploads["user-bucket/users/u1/c1.json"]; !ok {
		t.Error("persisted copy must not be rolled back")
	}
}

func TestCleanupSkipsPersistWithoutTranscript(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store, nil, nil, nil)
	r := newRouter(h)

	w := postCleanup(t, r, map[string]interface{}{"conversationId": "c1", "userId": "u1"})
	var resp cleanupResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Success {
		t.Error("success = false")
	}
	if resp.Steps.PersistUserTranscript.Status != "skipped" {
		t.Errorf("persist step = %+v", resp.Steps.PersistUserTranscript)
	}
}

func TestUploadRejectsOversizeBeforeStorage(t *testing.T) {
	// exercised through the storage ceiling rather than a 50MiB fixture
	store := newFakeStore()
	store.uploadErr = fmt.Errorf("%w: too big", storage.ErrPayloadTooLarge)
	h := NewHandler(store, nil, nil, nil)
	r := newRouter(h)

	body, ct := multipartRecording(t, "c1", "video/mp4", []byte("tiny"))
	req := httptest.NewRequest(http.MethodPost, "/interview/upload-recording", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}
