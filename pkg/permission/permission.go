// Package permission tracks runtime permission grants.
//
// A permission starts NotDetermined. Request registers a pending request under
// a request code and announces it through OnRequest; the user's answer arrives
// later through Resolve, which records the grant and runs the registered
// callback. Nothing is persisted: a restart asks again.
package permission

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Permission names a guarded capability.
type Permission string

// Camera guards binding a live camera preview.
const Camera Permission = "camera"

// Request codes for results delivered back through Resolve.
const (
	RequestImageCapture     = 1
	RequestCameraPermission = 2
)

// State is the grant state of a permission.
type State int

const (
	NotDetermined State = iota
	Granted
	Denied
)

func (s State) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "not_determined"
	}
}

// ErrUnknownRequest is returned by Resolve for a code with no pending request.
var ErrUnknownRequest = errors.New("permission: no pending request for code")

// ResultFunc receives the user's answer for a request.
type ResultFunc func(granted bool)

type pending struct {
	perm     Permission
	callback ResultFunc
}

// Store holds grant state and pending requests.
type Store struct {
	mu      sync.Mutex
	states  map[Permission]State
	pending map[int]pending
	logger  *slog.Logger

	// OnRequest is called when a request needs the user's answer.
	OnRequest func(code int, perm Permission)
}

// NewStore creates an empty permission store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		states:  make(map[Permission]State),
		pending: make(map[int]pending),
		logger:  logger.With("component", "permission"),
	}
}

// Check returns the current state of perm.
func (s *Store) Check(perm Permission) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[perm]
}

// Set records a state directly, as a preconfigured grant would.
func (s *Store) Set(perm Permission, state State) {
	s.mu.Lock()
	s.states[perm] = state
	s.mu.Unlock()
}

// Request registers callback for code and asks the user for perm.
// A second request under the same code replaces the first callback.
func (s *Store) Request(code int, perm Permission, callback ResultFunc) {
	s.mu.Lock()
	s.pending[code] = pending{perm: perm, callback: callback}
	notify := s.OnRequest
	s.mu.Unlock()

	s.logger.Info("permission requested", "permission", perm, "request_code", code)

	if notify != nil {
		notify(code, perm)
	}
}

// Pending reports whether a request is waiting under code.
func (s *Store) Pending(code int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[code]
	return ok
}

// Resolve delivers the user's answer for code.
func (s *Store) Resolve(code int, granted bool) error {
	s.mu.Lock()
	p, ok := s.pending[code]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w %d", ErrUnknownRequest, code)
	}
	delete(s.pending, code)
	if granted {
		s.states[p.perm] = Granted
	} else {
		s.states[p.perm] = Denied
	}
	s.mu.Unlock()

	s.logger.Info("permission result", "permission", p.perm, "request_code", code, "granted", granted)

	if p.callback != nil {
		p.callback(granted)
	}
	return nil
}
