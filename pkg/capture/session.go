package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"
)

// SessionState is the binding state of a capture session.
type SessionState int

const (
	Unbound SessionState = iota
	Binding
	Bound
)

func (s SessionState) String() string {
	switch s {
	case Binding:
		return "binding"
	case Bound:
		return "bound"
	default:
		return "unbound"
	}
}

// SessionConfig controls the preview stream.
type SessionConfig struct {
	FPS     int    // preview frames per second
	Quality int    // JPEG quality of preview frames
	Source  Source // recorded on captured images
}

// DefaultSessionConfig returns a 10 fps preview at JPEG quality 80.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{FPS: 10, Quality: 80, Source: SourcePreview}
}

// previewFailureLimit is the number of consecutive failed reads before the
// preview loop logs a warning.
const previewFailureLimit = 10

// Session binds a camera, streams preview frames and takes stills.
// Camera open and close run on the executor; Camera.Read must be safe for
// concurrent use because the preview loop and Capture both read.
type Session struct {
	provider Provider
	exec     *Executor
	cfg      SessionConfig
	logger   *slog.Logger

	mu       sync.Mutex
	state    SessionState
	cam      Camera
	cancel   context.CancelFunc
	loopDone chan struct{}

	// OnFrame receives JPEG-encoded preview frames. Set it before Bind.
	OnFrame func(jpeg []byte)
}

// NewSession creates an unbound session.
func NewSession(provider Provider, exec *Executor, cfg SessionConfig, logger *slog.Logger) *Session {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultSessionConfig().FPS
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = DefaultSessionConfig().Quality
	}
	if cfg.Source == "" {
		cfg.Source = SourcePreview
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		provider: provider,
		exec:     exec,
		cfg:      cfg,
		logger:   logger.With("component", "capture.session", "source", cfg.Source),
	}
}

// State returns the current binding state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Bind opens the camera and starts the preview. Any existing binding is
// released first.
func (s *Session) Bind(ctx context.Context) error {
	if err := s.Unbind(); err != nil {
		s.logger.Warn("unbind before bind failed", "error", err)
	}

	s.mu.Lock()
	if s.state != Unbound {
		s.mu.Unlock()
		return fmt.Errorf("bind: session is %s", s.state)
	}
	s.state = Binding
	s.mu.Unlock()

	cam, err := s.open(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = Unbound
		s.mu.Unlock()
		if !errors.Is(err, ErrCameraUnavailable) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
		}
		s.logger.Error("bind failed", "error", err)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.cam = cam
	s.state = Bound
	s.cancel = cancel
	s.loopDone = done
	onFrame := s.OnFrame
	s.mu.Unlock()

	if onFrame != nil {
		go s.previewLoop(loopCtx, cam, onFrame, done)
	} else {
		close(done)
	}

	s.logger.Info("preview bound", "fps", s.cfg.FPS)
	return nil
}

// open runs the provider on the executor. The camera is handed over on an
// unbuffered channel, so one opened after the caller gave up is closed on
// the executor instead of leaking.
func (s *Session) open(ctx context.Context) (Camera, error) {
	opened := make(chan Camera)
	failed := make(chan error, 1)
	err := s.exec.Submit(func() {
		c, err := s.provider(ctx)
		if err != nil {
			failed <- err
			return
		}
		select {
		case opened <- c:
		case <-ctx.Done():
			if err := c.Close(); err != nil {
				s.logger.Warn("close abandoned camera", "error", err)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	select {
	case c := <-opened:
		return c, nil
	case err := <-failed:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Capture takes a still from the bound camera.
func (s *Session) Capture(ctx context.Context) (*Image, error) {
	s.mu.Lock()
	cam := s.cam
	bound := s.state == Bound
	s.mu.Unlock()

	if !bound || cam == nil {
		return nil, ErrNotBound
	}

	var frame image.Image
	err := s.exec.Do(ctx, func() error {
		f, err := cam.Read()
		if err != nil {
			return err
		}
		frame = f
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	img, err := NewImage(frame, s.cfg.Source)
	if err != nil {
		return nil, err
	}
	s.logger.Info("still captured", "image_id", img.ID, "width", img.Width, "height", img.Height)
	return img, nil
}

// Unbind stops the preview and closes the camera. Unbinding an unbound
// session is a no-op.
func (s *Session) Unbind() error {
	s.mu.Lock()
	if s.state != Bound {
		s.mu.Unlock()
		return nil
	}
	cam := s.cam
	cancel := s.cancel
	done := s.loopDone
	s.cam = nil
	s.cancel = nil
	s.loopDone = nil
	s.state = Unbound
	s.mu.Unlock()

	cancel()
	<-done

	err := s.exec.Do(context.Background(), cam.Close)
	if errors.Is(err, ErrExecutorClosed) {
		err = cam.Close()
	}
	s.logger.Info("preview unbound")
	return err
}

// Close releases the session.
func (s *Session) Close() error {
	return s.Unbind()
}

func (s *Session) previewLoop(ctx context.Context, cam Camera, onFrame func([]byte), done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FPS))
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, err := cam.Read()
		if err != nil {
			failures++
			if failures == previewFailureLimit {
				s.logger.Warn("preview frames failing", "consecutive", failures, "error", err)
			}
			continue
		}
		failures = 0

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: s.cfg.Quality}); err != nil {
			s.logger.Debug("encode preview frame", "error", err)
			continue
		}
		onFrame(buf.Bytes())
	}
}
