// Package recorder implements the session recording state machine used by the
// bundled session client: it consumes encoded media chunks from a source,
// enforces the upload size ceiling, polls for live transcript progress and
// uploads the final artifact.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prepview/backend/internal/models"
	"github.com/prepview/backend/pkg/storage"
)

// State is a recorder lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateAcquiring    State = "acquiring"
	StateRecording    State = "recording"
	StateStopping     State = "stopping"
	StateProcessing   State = "processing"
	StateUploaded     State = "uploaded"
	StateUploadFailed State = "upload-failed"
	StateTooLarge     State = "too-large"
)

var (
	// ErrPermissionDenied is returned by sources that cannot acquire capture.
	ErrPermissionDenied = errors.New("media permission denied")
	// ErrArtifactTooSmall marks a capture below the minimum viable size.
	ErrArtifactTooSmall = errors.New("artifact below minimum viable size")
	// ErrInvalidState is returned for transitions the current state forbids.
	ErrInvalidState = errors.New("invalid state for operation")
)

// Fractions of the size ceiling at which the machine warns and auto-stops.
// Auto-stop fires below the ceiling so the final artifact stays uploadable.
const (
	warnFraction     = 0.80
	autoStopFraction = 0.95
)

const uploadTimeout = 60 * time.Second

// Source supplies encoded media chunks. Acquire may fail (permission denied);
// Close must release the underlying capture and is safe to call repeatedly.
type Source interface {
	Acquire(ctx context.Context) (<-chan []byte, error)
	Close() error
}

// Uploader stores the final artifact.
type Uploader interface {
	UploadRecording(ctx context.Context, conversationID, mimeType string, data []byte) (string, error)
}

// Poller fetches live transcript progress during recording.
type Poller interface {
	FetchTranscript(ctx context.Context, conversationID string) ([]models.TranscriptEvent, error)
}

// Config tunes a recording session.
type Config struct {
	ConversationID  string
	MimeType        string
	Ceiling         int64         // max artifact bytes; default 50MiB
	MinArtifactSize int64         // below this the capture is treated as corrupt
	PollInterval    time.Duration // transcript poll; default 5s
	TickInterval    time.Duration // duration tick; default 1s

	OnWarn       func(used, ceiling int64)
	OnTranscript func(events []models.TranscriptEvent)
	OnTick       func(elapsed time.Duration)
}

func (c *Config) applyDefaults() {
	if c.Ceiling <= 0 {
		c.Ceiling = storage.MaxRecordingSize
	}
	if c.MinArtifactSize <= 0 {
		c.MinArtifactSize = 1024
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.MimeType == "" {
		c.MimeType = "video/webm"
	}
}

// Machine is the recording state machine. All state is mutex-guarded; the
// consume loop runs on its own goroutine between Start and the final state.
type Machine struct {
	cfg      Config
	source   Source
	uploader Uploader
	poller   Poller
	logger   *zap.Logger

	mu         sync.Mutex
	state      State
	chunks     [][]byte
	size       int64
	warned     bool
	artifact   []byte
	uploadURL  string
	lastErr    error
	transcript []models.TranscriptEvent
	elapsed    time.Duration
	tornDown   bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a machine in the idle state. poller may be nil to disable
// transcript polling.
func New(cfg Config, source Source, uploader Uploader, poller Poller, logger *zap.Logger) *Machine {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		cfg:      cfg,
		source:   source,
		uploader: uploader,
		poller:   poller,
		logger:   logger,
		state:    StateIdle,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Size returns the cumulative captured bytes.
func (m *Machine) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// Transcript returns the latest polled transcript.
func (m *Machine) Transcript() []models.TranscriptEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transcript
}

// UploadURL returns the stored artifact URL after a successful upload.
func (m *Machine) UploadURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploadURL
}

// LastErr returns the retained error from the most recent failure.
func (m *Machine) LastErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Artifact returns the assembled capture. Valid once a final state is reached;
// in too-large it remains available for local download.
func (m *Machine) Artifact() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.artifact
}

// Done is closed when the consume loop has exited and a final state is set.
func (m *Machine) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Start acquires the media source and begins recording. On acquisition
// failure the machine returns to idle with the source released.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidState, m.state)
	}
	m.state = StateAcquiring
	m.mu.Unlock()

	chunks, err := m.source.Acquire(ctx)
	if err != nil {
		m.source.Close()
		m.mu.Lock()
		m.state = StateIdle
		m.lastErr = err
		m.mu.Unlock()
		return fmt.Errorf("acquire media: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.state = StateRecording
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(runCtx, chunks)
	return nil
}

// Stop requests a transition out of recording. The consume loop finishes the
// artifact asynchronously; wait on Done for the final state.
func (m *Machine) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Teardown releases the source unconditionally and abandons any unfinished
// capture without uploading. Tracks must never stay open past session end.
func (m *Machine) Teardown() {
	m.mu.Lock()
	m.tornDown = true
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.source.Close()
}

// run is the consume loop. The tickers and the source are released on every
// exit path.
func (m *Machine) run(ctx context.Context, chunks <-chan []byte) {
	poll := time.NewTicker(m.cfg.PollInterval)
	tick := time.NewTicker(m.cfg.TickInterval)
	defer poll.Stop()
	defer tick.Stop()
	defer close(m.done)
	defer m.source.Close()

	for {
		select {
		case <-ctx.Done():
			m.finish()
			return
		case chunk, ok := <-chunks:
			if !ok {
				m.finish()
				return
			}
			if m.ingest(chunk) {
				m.finish()
				return
			}
		case <-poll.C:
			m.pollTranscript(ctx)
		case <-tick.C:
			m.mu.Lock()
			m.elapsed += m.cfg.TickInterval
			elapsed := m.elapsed
			m.mu.Unlock()
			if m.cfg.OnTick != nil {
				m.cfg.OnTick(elapsed)
			}
		}
	}
}

// ingest buffers a chunk and tracks the cumulative size against the ceiling.
// Returns true when the auto-stop threshold is crossed.
func (m *Machine) ingest(chunk []byte) bool {
	m.mu.Lock()
	m.chunks = append(m.chunks, chunk)
	m.size += int64(len(chunk))
	size := m.size
	shouldWarn := false
	if !m.warned && float64(size) >= warnFraction*float64(m.cfg.Ceiling) {
		m.warned = true
		shouldWarn = true
	}
	m.mu.Unlock()

	if shouldWarn && m.cfg.OnWarn != nil {
		m.cfg.OnWarn(size, m.cfg.Ceiling)
	}
	if float64(size) >= autoStopFraction*float64(m.cfg.Ceiling) {
		m.logger.Warn("size ceiling approached, stopping capture",
			zap.Int64("size", size), zap.Int64("ceiling", m.cfg.Ceiling))
		return true
	}
	return false
}

// pollTranscript replaces the local transcript cache whenever the gateway
// returns events. Errors and empty results leave the cache untouched.
func (m *Machine) pollTranscript(ctx context.Context) {
	if m.poller == nil {
		return
	}
	fetchCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	events, err := m.poller.FetchTranscript(fetchCtx, m.cfg.ConversationID)
	cancel()
	if err != nil {
		m.logger.Debug("transcript poll failed", zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}
	m.mu.Lock()
	m.transcript = events
	m.mu.Unlock()
	if m.cfg.OnTranscript != nil {
		m.cfg.OnTranscript(events)
	}
}

// finish flushes the buffered chunks into one artifact and drives the machine
// to a final state. Called exactly once, from the consume loop.
func (m *Machine) finish() {
	m.mu.Lock()
	if m.tornDown {
		m.state = StateIdle
		m.chunks = nil
		m.mu.Unlock()
		return
	}
	m.state = StateStopping
	total := m.size
	artifact := make([]byte, 0, total)
	for _, c := range m.chunks {
		artifact = append(artifact, c...)
	}
	m.chunks = nil
	m.artifact = artifact
	m.state = StateProcessing
	m.mu.Unlock()

	switch {
	case total < m.cfg.MinArtifactSize:
		m.setFailure(fmt.Errorf("%w: %d < %d bytes", ErrArtifactTooSmall, total, m.cfg.MinArtifactSize))
	case total > m.cfg.Ceiling:
		m.mu.Lock()
		m.state = StateTooLarge
		m.mu.Unlock()
		m.logger.Warn("artifact exceeds ceiling, upload skipped", zap.Int64("size", total))
	default:
		m.attemptUpload(artifact)
	}
}

// Retry re-attempts the same upload after an upload failure, without
// re-recording.
func (m *Machine) Retry(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateUploadFailed {
		m.mu.Unlock()
		return fmt.Errorf("%w: retry from %s", ErrInvalidState, m.state)
	}
	if int64(len(m.artifact)) < m.cfg.MinArtifactSize {
		m.mu.Unlock()
		return ErrArtifactTooSmall
	}
	artifact := m.artifact
	m.state = StateProcessing
	m.mu.Unlock()

	m.attemptUpload(artifact)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateUploaded {
		return m.lastErr
	}
	return nil
}

func (m *Machine) attemptUpload(artifact []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	url, err := m.uploader.UploadRecording(ctx, m.cfg.ConversationID, m.cfg.MimeType, artifact)
	if err != nil {
		m.setFailure(fmt.Errorf("upload: %w", err))
		return
	}
	m.mu.Lock()
	m.state = StateUploaded
	m.uploadURL = url
	m.mu.Unlock()
	m.logger.Info("recording uploaded", zap.String("conversation_id", m.cfg.ConversationID), zap.Int("bytes", len(artifact)))
}

func (m *Machine) setFailure(err error) {
	m.mu.Lock()
	m.state = StateUploadFailed
	m.lastErr = err
	m.mu.Unlock()
	m.logger.Warn("recording not uploaded", zap.Error(err))
}
