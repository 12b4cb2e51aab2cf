package recorder

import (
	"context"
	"os"
	"sync"
	"time"
)

// FileSource streams a local media file as timed chunks, standing in for a
// live capture device in the session client.
type FileSource struct {
	Path      string
	ChunkSize int           // default 256KiB
	Interval  time.Duration // delay between chunks; default 100ms

	mu     sync.Mutex
	file   *os.File
	cancel context.CancelFunc
	closed bool
}

// Acquire opens the file and starts streaming chunks. A missing or unreadable
// file surfaces as a permission failure to the machine.
func (f *FileSource) Acquire(ctx context.Context) (<-chan []byte, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	chunkSize := f.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 256 * 1024
	}
	interval := f.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	streamCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.file = file
	f.cancel = cancel
	f.closed = false
	f.mu.Unlock()

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer f.Close()
		for {
			buf := make([]byte, chunkSize)
			n, err := file.Read(buf)
			if n > 0 {
				select {
				case out <- buf[:n]:
				case <-streamCtx.Done():
					return
				}
			}
			if err != nil {
				return
			}
			select {
			case <-time.After(interval):
			case <-streamCtx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close stops streaming and releases the file. Safe to call repeatedly.
func (f *FileSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.cancel != nil {
		f.cancel()
	}
	if f.file != nil {
		return f.file.Close()
	}
	return nil
}
