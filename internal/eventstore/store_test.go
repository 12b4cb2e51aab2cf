package eventstore

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prepview/backend/internal/models"
)

func events(contents ...string) []models.TranscriptEvent {
	var out []models.TranscriptEvent
	for i, c := range contents {
		role := "assistant"
		if i%2 == 1 {
			role = "user"
		}
		out = append(out, models.TranscriptEvent{Role: role, Content: c})
	}
	return out
}

func TestPutGetTranscript(t *testing.T) {
	s := New(10, time.Hour, nil)

	if _, ok := s.GetTranscript("c1"); ok {
		t.Fatal("expected no transcript before put")
	}

	s.PutTranscript("c1", events("Hi", "Hello"))
	got, ok := s.GetTranscript("c1")
	if !ok {
		t.Fatal("expected transcript after put")
	}
	if len(got) != 2 || got[0].Content != "Hi" || got[1].Content != "Hello" {
		t.Errorf("unexpected events: %+v", got)
	}
}

func TestLastWriteWins(t *testing.T) {
	s := New(10, time.Hour, nil)
	s.PutTranscript("c1", events("first"))
	s.PutTranscript("c1", events("second", "third"))

	got, ok := s.GetTranscript("c1")
	if !ok {
		t.Fatal("expected transcript")
	}
	if len(got) != 2 || got[0].Content != "second" {
		t.Errorf("expected overwrite, got %+v", got)
	}
}

func TestEmptyTranscriptNotReturned(t *testing.T) {
	s := New(10, time.Hour, nil)
	s.PutTranscript("c1", nil)
	if _, ok := s.GetTranscript("c1"); ok {
		t.Error("empty transcript must not count as webhook data")
	}
}

func TestRecordingEvent(t *testing.T) {
	s := New(10, time.Hour, nil)
	s.PutRecording("c1", models.RecordingEvent{RecordingURL: "https://v/r.mp4", EventType: "application.recording_ready"})

	rec, ok := s.GetRecording("c1")
	if !ok {
		t.Fatal("expected recording event")
	}
	if rec.RecordingURL != "https://v/r.mp4" {
		t.Errorf("url = %s", rec.RecordingURL)
	}

	// transcript and recording for the same id live side by side
	s.PutTranscript("c1", events("Hi"))
	if _, ok := s.GetRecording("c1"); !ok {
		t.Error("recording lost after transcript put")
	}
	if _, ok := s.GetTranscript("c1"); !ok {
		t.Error("transcript missing")
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	s := New(3, time.Hour, nil)
	base := time.Now()
	i := 0
	s.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }

	for ; i < 4; i++ {
		s.PutTranscript(fmt.Sprintf("c%d", i), events("x"))
	}

	if s.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", s.Len())
	}
	if _, ok := s.GetTranscript("c0"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := s.GetTranscript("c3"); !ok {
		t.Error("newest entry missing")
	}
}

func TestTTLExpiry(t *testing.T) {
	s := New(10, time.Minute, nil)
	base := time.Now()
	s.now = func() time.Time { return base }
	s.PutTranscript("c1", events("Hi"))

	s.now = func() time.Time { return base.Add(30 * time.Second) }
	if _, ok := s.GetTranscript("c1"); !ok {
		t.Fatal("entry expired too early")
	}

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, ok := s.GetTranscript("c1"); ok {
		t.Error("entry should be expired")
	}

	// expired entries are swept on the next write
	s.PutTranscript("c2", events("Hi"))
	if s.Len() != 1 {
		t.Errorf("expected sweep to drop expired entry, len = %d", s.Len())
	}
}

// Run with -race: the webhook receiver writes while handlers read the same id.
func TestConcurrentPutGet(t *testing.T) {
	s := New(10, time.Hour, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.PutTranscript("c1", events("Hi", "Hello"))
				s.PutRecording("c1", models.RecordingEvent{RecordingURL: "https://v/r.mp4"})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if got, ok := s.GetTranscript("c1"); ok && len(got) != 2 {
					t.Errorf("partial transcript read: %+v", got)
				}
				s.GetRecording("c1")
			}
		}()
	}
	wg.Wait()

	if _, ok := s.GetTranscript("c1"); !ok {
		t.Error("transcript missing after concurrent writes")
	}
}

func TestDelete(t *testing.T) {
	s := New(10, time.Hour, nil)
	s.PutTranscript("c1", events("Hi"))
	s.Delete("c1")
	if _, ok := s.GetTranscript("c1"); ok {
		t.Error("expected entry gone after delete")
	}
}
