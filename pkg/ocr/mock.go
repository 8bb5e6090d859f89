package ocr

import (
	"context"
	"sync"
)

// Mock implements Engine for testing.
type Mock struct {
	// RecognizeFunc is called by Recognize once the mock is initialized.
	// If nil, the result text is "text of <image id>".
	RecognizeFunc func(ctx context.Context, in Input) (*Result, error)

	// InitErr, when set, is returned by Init.
	InitErr error

	mu     sync.Mutex
	ready  bool
	closed bool
	inputs []Input
}

// NewMock creates an uninitialized mock engine.
func NewMock() *Mock {
	return &Mock{}
}

// Init marks the mock ready unless InitErr is set.
func (m *Mock) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.InitErr != nil {
		return m.InitErr
	}
	m.ready = true
	return nil
}

// Ready reports whether Init succeeded.
func (m *Mock) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready && !m.closed
}

// Recognize records the input and returns the configured result.
func (m *Mock) Recognize(ctx context.Context, in Input) (*Result, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, in)
	ready, closed := m.ready, m.closed
	fn := m.RecognizeFunc
	m.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}
	if !ready {
		return nil, ErrNotInitialized
	}
	if len(in.Data) == 0 {
		return nil, ErrEmptyImage
	}
	if fn != nil {
		return fn(ctx, in)
	}
	return &Result{
		ImageID:    in.ImageID,
		Text:       "text of " + in.ImageID,
		Confidence: 0.9,
		Languages:  []string{"eng"},
	}, nil
}

// Inputs returns the recorded inputs.
func (m *Mock) Inputs() []Input {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Input, len(m.inputs))
	copy(out, m.inputs)
	return out
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the mock closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.ready = false
	return nil
}

var _ Engine = (*Mock)(nil)
