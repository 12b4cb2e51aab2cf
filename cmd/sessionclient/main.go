// Package main is a session test client: it streams a local media file through
// the recorder state machine against a running backend, polling the
// conversation transcript and uploading the artifact when capture ends.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/prepview/backend/internal/models"
	"github.com/prepview/backend/internal/recorder"
)

func main() {
	var (
		server         = flag.String("server", "http://localhost:8080", "backend base URL")
		conversationID = flag.String("conversation", "", "conversation id to record against")
		file           = flag.String("file", "", "local media file to stream")
		mimeType       = flag.String("mime", "video/webm", "recording mime type")
		duration       = flag.Duration("duration", 30*time.Second, "max capture duration")
	)
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if *conversationID == "" || *file == "" {
		fmt.Fprintln(os.Stderr, "usage: sessionclient -conversation <id> -file <path> [-server url]")
		os.Exit(2)
	}

	api := &backendClient{baseURL: *server, http: &http.Client{Timeout: 2 * time.Minute}}
	source := &recorder.FileSource{Path: *file}

	machine := recorder.New(recorder.Config{
		ConversationID: *conversationID,
		MimeType:       *mimeType,
		PollInterval:   5 * time.Second,
		OnWarn: func(used, ceiling int64) {
			logger.Warn("approaching size ceiling", zap.Int64("used", used), zap.Int64("ceiling", ceiling))
		},
		OnTranscript: func(events []models.TranscriptEvent) {
			logger.Info("transcript updated", zap.Int("events", len(events)))
		},
		OnTick: func(elapsed time.Duration) {
			logger.Debug("recording", zap.Duration("elapsed", elapsed))
		},
	}, source, api, api, logger)

	if err := machine.Start(context.Background()); err != nil {
		logger.Fatal("start recording", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-machine.Done():
	case <-time.After(*duration):
		logger.Info("duration reached, stopping")
		machine.Stop()
		<-machine.Done()
	case <-quit:
		logger.Info("interrupted, tearing down")
		machine.Teardown()
		<-machine.Done()
	}

	state := machine.State()
	logger.Info("session finished",
		zap.String("state", string(state)),
		zap.Int64("bytes", machine.Size()),
		zap.String("url", machine.UploadURL()),
	)
	if state == recorder.StateUploadFailed {
		logger.Warn("upload failed, retrying once", zap.Error(machine.LastErr()))
		if err := machine.Retry(context.Background()); err != nil {
			logger.Error("retry failed", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("retry succeeded", zap.String("url", machine.UploadURL()))
	}
}

// backendClient implements the recorder's Uploader and Poller against the
// HTTP API.
type backendClient struct {
	baseURL string
	http    *http.Client
}

func (b *backendClient) UploadRecording(ctx context.Context, conversationID, mimeType string, data []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("conversationId", conversationID); err != nil {
		return "", err
	}
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="recording"; filename="session"`)
	hdr.Set("Content-Type", mimeType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/interview/upload-recording", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := b.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload failed: status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (b *backendClient) FetchTranscript(ctx context.Context, conversationID string) ([]models.TranscriptEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/interview/get-conversation/"+conversationID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get conversation: status %d", resp.StatusCode)
	}
	var out struct {
		TranscriptEvents []models.TranscriptEvent `json:"transcriptEvents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.TranscriptEvents, nil
}
