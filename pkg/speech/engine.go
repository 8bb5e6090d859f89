// Package speech reads text aloud. It owns the readiness lifecycle of a
// TTS provider and a queue of utterances played one at a time.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-readaloud/pkg/audio"
	"github.com/teslashibe/go-readaloud/pkg/tts"
)

var (
	// ErrNotReady is returned by Speak before initialization succeeds.
	ErrNotReady = errors.New("speech: engine not ready")

	// ErrEmptyText is returned by Speak for blank text.
	ErrEmptyText = errors.New("speech: empty text")

	// ErrAlreadyInitialized is returned by Init once initialization has started.
	ErrAlreadyInitialized = errors.New("speech: already initialized")

	// ErrShutdown is returned after Shutdown.
	ErrShutdown = errors.New("speech: engine shut down")

	// ErrInterrupted is reported to OnError for utterances cut short by a
	// flush or Stop.
	ErrInterrupted = errors.New("speech: utterance interrupted")
)

// State is the readiness of the engine.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is passed to the Init callback.
type Status int

const (
	StatusSuccess Status = iota
	StatusError
)

// QueueMode selects how Speak treats utterances already queued.
type QueueMode int

const (
	// QueueFlush drops pending utterances and interrupts the current one.
	QueueFlush QueueMode = iota
	// QueueAdd plays after everything already queued.
	QueueAdd
)

// ParseQueueMode maps "flush" and "add" to a QueueMode. Empty means flush.
func ParseQueueMode(s string) (QueueMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "flush":
		return QueueFlush, nil
	case "add":
		return QueueAdd, nil
	default:
		return QueueFlush, fmt.Errorf("speech: unknown queue mode %q", s)
	}
}

func (m QueueMode) String() string {
	if m == QueueAdd {
		return "add"
	}
	return "flush"
}

// Config configures an Engine.
type Config struct {
	// Language is selected during Init. Empty keeps the provider default.
	Language string

	// InitTimeout bounds the provider health check.
	InitTimeout time.Duration
}

// DefaultConfig speaks US English.
func DefaultConfig() Config {
	return Config{
		Language:    "en-US",
		InitTimeout: 10 * time.Second,
	}
}

type utterance struct {
	id     string
	text   string
	cancel context.CancelFunc
}

// Engine synthesizes queued text with a tts.Provider and plays it on an
// audio.Player. Utterances are handled by a single worker goroutine.
type Engine struct {
	provider tts.Provider
	player   audio.Player
	cfg      Config
	logger   *slog.Logger

	// Progress callbacks, called from the worker goroutine.
	OnStart func(id string)
	OnDone  func(id string)
	OnError func(id string, err error)

	mu         sync.Mutex
	state      State
	initErr    error
	language   string
	langStatus tts.LanguageStatus
	queue      []*utterance
	current    *utterance
	closed     bool

	wake     chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	shutdown sync.Once
}

// NewEngine creates an engine and starts its worker. Call Init before Speak.
func NewEngine(provider tts.Provider, player audio.Player, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = DefaultConfig().InitTimeout
	}
	e := &Engine{
		provider: provider,
		player:   player,
		cfg:      cfg,
		logger:   logger.With("component", "speech.engine"),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

// Init checks the provider in the background, selects the configured
// language and then calls callback. Init may be retried after a failure.
func (e *Engine) Init(callback func(Status)) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrShutdown
	}
	if e.state == StateInitializing || e.state == StateReady {
		e.mu.Unlock()
		return ErrAlreadyInitialized
	}
	e.state = StateInitializing
	e.initErr = nil
	e.mu.Unlock()

	go func() {
		status := e.initialize()
		if callback != nil {
			callback(status)
		}
	}()
	return nil
}

func (e *Engine) initialize() Status {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.InitTimeout)
	defer cancel()

	if err := e.provider.Health(ctx); err != nil {
		e.logger.Error("speech engine failed to initialize", "error", err)
		e.mu.Lock()
		e.state = StateFailed
		e.initErr = err
		e.mu.Unlock()
		return StatusError
	}

	if e.cfg.Language != "" {
		status, err := e.SetLanguage(e.cfg.Language)
		if err != nil {
			e.logger.Warn("language check failed", "language", e.cfg.Language, "error", err)
		}
		if status != tts.LangAvailable {
			e.logger.Warn("language not supported", "language", e.cfg.Language, "status", status.String())
		}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return StatusError
	}
	e.state = StateReady
	e.mu.Unlock()

	e.logger.Info("speech engine ready", "language", e.cfg.Language)
	return StatusSuccess
}

// SetLanguage switches the synthesis language. Languages the provider
// cannot speak are reported through the returned status and leave the
// current language unchanged.
func (e *Engine) SetLanguage(lang string) (tts.LanguageStatus, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return tts.LangNotSupported, ErrShutdown
	}

	status := tts.LangAvailable
	if loc, ok := e.provider.(tts.Localizer); ok {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.InitTimeout)
		defer cancel()

		var err error
		status, err = loc.CheckLanguage(ctx, lang)
		if err != nil {
			return tts.LangNotSupported, err
		}
		if status == tts.LangAvailable {
			if err := loc.SetLanguage(lang); err != nil {
				return tts.LangNotSupported, err
			}
		}
	}

	e.mu.Lock()
	e.langStatus = status
	if status == tts.LangAvailable {
		e.language = lang
	}
	e.mu.Unlock()

	e.logger.Debug("language checked", "language", lang, "status", status.String())
	return status, nil
}

// Language returns the active language and the status of the last
// SetLanguage call.
func (e *Engine) Language() (string, tts.LanguageStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.language, e.langStatus
}

// State returns the readiness state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// InitError returns the error that failed initialization, if any.
func (e *Engine) InitError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initErr
}

// Speak queues text and returns its utterance ID.
func (e *Engine) Speak(text string, mode QueueMode) (string, error) {
	text = strings.TrimSpace(text)

	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return "", ErrShutdown
	case e.state != StateReady:
		e.mu.Unlock()
		return "", ErrNotReady
	case text == "":
		e.mu.Unlock()
		return "", ErrEmptyText
	}

	var dropped []*utterance
	if mode == QueueFlush {
		dropped = e.clearLocked()
	}
	u := &utterance{id: uuid.NewString(), text: text}
	e.queue = append(e.queue, u)
	queued := len(e.queue)
	e.mu.Unlock()

	e.notifyDropped(dropped)
	e.signal()

	e.logger.Debug("utterance queued", "id", u.id, "chars", len(text), "mode", mode.String(), "queued", queued)
	return u.id, nil
}

// Stop drops pending utterances and interrupts the current one.
func (e *Engine) Stop() {
	e.mu.Lock()
	dropped := e.clearLocked()
	e.mu.Unlock()
	e.notifyDropped(dropped)
}

// IsSpeaking reports whether an utterance is playing or queued.
func (e *Engine) IsSpeaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil || len(e.queue) > 0
}

// Shutdown stops speech and releases the provider and player.
// It is safe to call more than once.
func (e *Engine) Shutdown() error {
	var err error
	e.shutdown.Do(func() {
		e.mu.Lock()
		e.closed = true
		dropped := e.clearLocked()
		e.mu.Unlock()

		e.notifyDropped(dropped)
		close(e.done)
		e.wg.Wait()

		err = errors.Join(e.player.Close(), e.provider.Close())
		e.logger.Info("speech engine shut down")
	})
	return err
}

// clearLocked empties the queue and cancels the current utterance. The
// current utterance reports its own interruption from the worker.
func (e *Engine) clearLocked() []*utterance {
	dropped := e.queue
	e.queue = nil
	if e.current != nil {
		e.current.cancel()
	}
	return dropped
}

func (e *Engine) notifyDropped(dropped []*utterance) {
	for _, u := range dropped {
		e.logger.Debug("utterance discarded", "id", u.id)
		if e.OnError != nil {
			e.OnError(u.id, ErrInterrupted)
		}
	}
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case <-e.wake:
		}
		for {
			u, ctx := e.next()
			if u == nil {
				break
			}
			e.speak(ctx, u)
		}
	}
}

func (e *Engine) next() (*utterance, context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || len(e.queue) == 0 {
		return nil, nil
	}
	u := e.queue[0]
	e.queue = e.queue[1:]
	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	e.current = u
	return u, ctx
}

func (e *Engine) speak(ctx context.Context, u *utterance) {
	defer func() {
		u.cancel()
		e.mu.Lock()
		if e.current == u {
			e.current = nil
		}
		e.mu.Unlock()
	}()

	if e.OnStart != nil {
		e.OnStart(u.id)
	}

	err := e.synthesizeAndPlay(ctx, u)
	switch {
	case err == nil:
		e.logger.Debug("utterance done", "id", u.id)
		if e.OnDone != nil {
			e.OnDone(u.id)
		}
	case ctx.Err() != nil || errors.Is(err, audio.ErrStopped):
		e.logger.Debug("utterance interrupted", "id", u.id)
		if e.OnError != nil {
			e.OnError(u.id, ErrInterrupted)
		}
	default:
		e.logger.Warn("utterance failed", "id", u.id, "error", err)
		if e.OnError != nil {
			e.OnError(u.id, err)
		}
	}
}

func (e *Engine) synthesizeAndPlay(ctx context.Context, u *utterance) error {
	result, err := e.provider.Synthesize(ctx, u.text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	e.logger.Debug("utterance synthesized",
		"id", u.id,
		"provider", result.Provider,
		"bytes", len(result.Audio),
		"latency_ms", result.LatencyMs,
	)
	if err := e.player.Play(ctx, result.Audio); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}
