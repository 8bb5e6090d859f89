package audio

import (
	"context"
	"sync"
)

// Mock implements Player for testing. With Hold set, Play blocks until
// Release, Stop or context cancellation.
type Mock struct {
	Hold bool

	// Started receives each clip as it begins playing, if non-nil.
	Started chan []byte

	// PlayErr is returned by Play after a clip that ran to completion.
	PlayErr error

	mu      sync.Mutex
	played  [][]byte
	playing bool
	closed  bool
	done    chan struct{}
	stopped bool
}

// NewMock creates a mock that holds each clip and reports starts on a
// buffered channel.
func NewMock() *Mock {
	return &Mock{
		Hold:    true,
		Started: make(chan []byte, 16),
	}
}

// Play records the clip and blocks while Hold is set.
func (m *Mock) Play(ctx context.Context, audio []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	done := make(chan struct{})
	m.done = done
	m.playing = true
	m.stopped = false
	m.played = append(m.played, audio)
	hold := m.Hold
	m.mu.Unlock()

	if m.Started != nil {
		select {
		case m.Started <- audio:
		default:
		}
	}

	var err error
	if hold {
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
	if m.done == done {
		m.done = nil
	}
	if m.stopped {
		return ErrStopped
	}
	if err != nil {
		return err
	}
	return m.PlayErr
}

// Release lets the current clip finish normally.
func (m *Mock) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
}

// Stop interrupts the current clip.
func (m *Mock) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		m.stopped = true
		close(m.done)
		m.done = nil
	}
}

// IsPlaying returns whether a clip is in Play.
func (m *Mock) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// Close stops playback and marks the mock closed.
func (m *Mock) Close() error {
	m.Stop()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Played returns every clip passed to Play.
func (m *Mock) Played() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.played))
	copy(out, m.played)
	return out
}

var _ Player = (*Mock)(nil)
