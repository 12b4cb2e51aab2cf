// Package eventstore holds webhook-delivered conversation data in a bounded,
// TTL-evicting in-memory store. The webhook receiver owns the write path;
// everything else only reads.
package eventstore

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prepview/backend/internal/models"
)

type entry struct {
	transcript []models.TranscriptEvent
	recording  *models.RecordingEvent
	storedAt   time.Time
}

// Store is a capacity- and TTL-bounded cache keyed by conversation id.
// Writes are last-write-wins per id; webhook data is never merged with later
// vendor fetches.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	capacity int
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a store. capacity <= 0 means unbounded; ttl <= 0 disables expiry.
func New(capacity int, ttl time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		entries:  make(map[string]*entry),
		capacity: capacity,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// PutTranscript stores the transcript events for a conversation verbatim,
// overwriting any prior value.
func (s *Store) PutTranscript(conversationID string, events []models.TranscriptEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.upsert(conversationID)
	e.transcript = events
	e.storedAt = s.now()
	s.logger.Debug("transcript stored", zap.String("conversation_id", conversationID), zap.Int("events", len(events)))
}

// PutRecording stores the recording-ready event for a conversation.
func (s *Store) PutRecording(conversationID string, rec models.RecordingEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.upsert(conversationID)
	e.recording = &rec
	e.storedAt = s.now()
	s.logger.Debug("recording event stored", zap.String("conversation_id", conversationID))
}

// GetTranscript returns the stored transcript and whether a non-empty one exists.
func (s *Store) GetTranscript(conversationID string) ([]models.TranscriptEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[conversationID]
	if !ok || s.expired(e) || len(e.transcript) == 0 {
		return nil, false
	}
	return e.transcript, true
}

// GetRecording returns the stored recording event, if any.
func (s *Store) GetRecording(conversationID string) (*models.RecordingEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[conversationID]
	if !ok || s.expired(e) || e.recording == nil {
		return nil, false
	}
	return e.recording, true
}

// Delete removes a conversation's entry.
func (s *Store) Delete(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, conversationID)
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// upsert returns the entry for id, creating it and making room first.
// Caller must hold the write lock.
func (s *Store) upsert(id string) *entry {
	if e, ok := s.entries[id]; ok {
		return e
	}
	s.sweepLocked()
	if s.capacity > 0 && len(s.entries) >= s.capacity {
		s.evictOldestLocked()
	}
	e := &entry{}
	s.entries[id] = e
	return e
}

func (s *Store) expired(e *entry) bool {
	return s.ttl > 0 && s.now().Sub(e.storedAt) > s.ttl
}

// sweepLocked drops expired entries. Caller must hold the write lock.
func (s *Store) sweepLocked() {
	if s.ttl <= 0 {
		return
	}
	cutoff := s.now().Add(-s.ttl)
	for id, e := range s.entries {
		if e.storedAt.Before(cutoff) {
			delete(s.entries, id)
		}
	}
}

// evictOldestLocked removes the entry with the oldest storedAt.
// Caller must hold the write lock.
func (s *Store) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	first := true
	for id, e := range s.entries {
		if first || e.storedAt.Before(oldest) {
			oldestID, oldest = id, e.storedAt
			first = false
		}
	}
	if oldestID != "" {
		delete(s.entries, oldestID)
		s.logger.Debug("evicted oldest entry", zap.String("conversation_id", oldestID))
	}
}
