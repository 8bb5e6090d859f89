package capture

import (
	"sync"
)

// FlowState is the state of the capture flow.
type FlowState int

const (
	FlowIdle FlowState = iota
	FlowAwaitingResult
	FlowImageReady
)

func (s FlowState) String() string {
	switch s {
	case FlowAwaitingResult:
		return "awaiting_result"
	case FlowImageReady:
		return "image_ready"
	default:
		return "idle"
	}
}

// Attempt identifies one capture attempt started with Flow.Begin.
type Attempt uint64

// Flow tracks idle → awaiting-result → image-ready and owns the latest
// image. A failed attempt drops the previous image so later recognition
// cannot run on a picture the user did not just take.
type Flow struct {
	mu      sync.Mutex
	state   FlowState
	image   *Image
	attempt Attempt
	lastErr error
}

// NewFlow creates an idle flow.
func NewFlow() *Flow {
	return &Flow{}
}

// Begin starts an attempt. Only one attempt may await its result at a time.
func (f *Flow) Begin() (Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == FlowAwaitingResult {
		return 0, ErrCaptureInProgress
	}
	f.attempt++
	f.state = FlowAwaitingResult
	f.lastErr = nil
	return f.attempt, nil
}

// Complete stores img as the result of attempt a.
func (f *Flow) Complete(a Attempt, img *Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if a != f.attempt || f.state != FlowAwaitingResult {
		return ErrStaleResult
	}
	if img == nil {
		f.failLocked(ErrEmptyImage)
		return ErrEmptyImage
	}
	f.image = img
	f.state = FlowImageReady
	return nil
}

// Fail ends attempt a with err.
func (f *Flow) Fail(a Attempt, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if a != f.attempt || f.state != FlowAwaitingResult {
		return
	}
	f.failLocked(err)
}

func (f *Flow) failLocked(err error) {
	f.image = nil
	f.state = FlowIdle
	f.lastErr = err
}

// State returns the current state.
func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Image returns the latest captured image, or nil.
func (f *Flow) Image() *Image {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.image
}

// LastError returns the error of the last failed attempt.
func (f *Flow) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}
