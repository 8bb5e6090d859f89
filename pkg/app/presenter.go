// Package app sequences capture, recognition and speech for the UI.
//
// The Presenter holds the latest captured image and recognized text. No
// component calls another: a capture request produces an image, a
// recognize request turns the latest image into text, and a speak request
// reads the latest text aloud.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-readaloud/pkg/capture"
	"github.com/teslashibe/go-readaloud/pkg/hub"
	"github.com/teslashibe/go-readaloud/pkg/ocr"
	"github.com/teslashibe/go-readaloud/pkg/permission"
	"github.com/teslashibe/go-readaloud/pkg/speech"
	"github.com/teslashibe/go-readaloud/pkg/tts"
)

var (
	// ErrPermissionRequired is returned when a capture had to ask for camera
	// permission first. The capture continues once the user answers.
	ErrPermissionRequired = errors.New("app: camera permission requested")

	// ErrNothingToSpeak is returned by Speak before any text was recognized.
	ErrNothingToSpeak = errors.New("app: no recognized text")

	// ErrUnknownMode is returned for capture modes that are not configured.
	ErrUnknownMode = errors.New("app: unknown capture mode")
)

// Mode selects how an image is captured.
type Mode string

const (
	ModePreview  Mode = "preview"
	ModeExternal Mode = "external"
	ModeScreen   Mode = "screen"
)

// ParseMode maps a request value to a Mode. Empty means preview.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModePreview, nil
	case ModePreview, ModeExternal, ModeScreen:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// ExternalCapturer delegates capture to another program.
type ExternalCapturer interface {
	Capture(ctx context.Context) (*capture.Image, error)
}

// Options wires the presenter. Permissions, Preview, Executor, OCR and
// Speech are required.
type Options struct {
	Permissions *permission.Store
	Preview     *capture.Session
	Executor    *capture.Executor
	External    ExternalCapturer
	Screen      capture.Provider
	OCR         ocr.Engine
	Speech      *speech.Engine
	Notifier    Notifier
	Clipboard   Clipboard

	// ThumbnailSize bounds uploaded and screen images.
	ThumbnailSize int

	// BindTimeout bounds binding the preview after a permission grant.
	BindTimeout time.Duration

	Logger *slog.Logger
}

// CaptureResult describes a new image.
type CaptureResult struct {
	Image *capture.Image `json:"image"`

	// Duplicate is set when the image looks like the previous capture.
	Duplicate bool `json:"duplicate"`
}

// Status is a snapshot of everything the UI shows.
type Status struct {
	Capture        string         `json:"capture"`
	CaptureError   string         `json:"capture_error,omitempty"`
	Preview        string         `json:"preview"`
	Permission     string         `json:"permission"`
	OCRReady       bool           `json:"ocr_ready"`
	Speech         string         `json:"speech"`
	Speaking       bool           `json:"speaking"`
	Language       string         `json:"language"`
	LanguageStatus string         `json:"language_status"`
	Image          *capture.Image `json:"image,omitempty"`
	Result         *ocr.Result    `json:"result,omitempty"`
}

// Presenter is safe for concurrent use by HTTP handlers.
type Presenter struct {
	perms    *permission.Store
	preview  *capture.Session
	exec     *capture.Executor
	external ExternalCapturer
	screen   capture.Provider
	ocr      ocr.Engine
	speech   *speech.Engine
	notify   Notifier
	clip     Clipboard

	thumbSize   int
	bindTimeout time.Duration
	logger      *slog.Logger

	flow *capture.Flow

	mu        sync.Mutex
	result    *ocr.Result
	closeOnce sync.Once
	closeErr  error
}

// New creates a presenter. Call Start to initialize the engines.
func New(opts Options) *Presenter {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = discardNotifier{}
	}
	if opts.BindTimeout <= 0 {
		opts.BindTimeout = 10 * time.Second
	}
	p := &Presenter{
		perms:       opts.Permissions,
		preview:     opts.Preview,
		exec:        opts.Executor,
		external:    opts.External,
		screen:      opts.Screen,
		ocr:         opts.OCR,
		speech:      opts.Speech,
		notify:      opts.Notifier,
		clip:        opts.Clipboard,
		thumbSize:   opts.ThumbnailSize,
		bindTimeout: opts.BindTimeout,
		logger:      opts.Logger.With("component", "app"),
		flow:        capture.NewFlow(),
	}
	p.perms.OnRequest = p.notify.PermissionRequest
	p.speech.OnError = p.onSpeechError
	return p
}

// Start initializes the OCR engine and begins speech initialization.
// An OCR failure is returned but leaves the presenter usable: recognize
// requests report the engine as unavailable.
func (p *Presenter) Start(ctx context.Context) error {
	err := p.speech.Init(p.onSpeechInit)
	if err != nil && !errors.Is(err, speech.ErrAlreadyInitialized) {
		p.logger.Error("speech init", "error", err)
	}

	if err := p.ocr.Init(ctx); err != nil {
		p.logger.Error("ocr init failed", "error", err)
		p.notify.Notice(hub.LevelError, NoticeOCRUnavailable)
		return fmt.Errorf("ocr init: %w", err)
	}
	p.logger.Info("ocr ready")
	return nil
}

func (p *Presenter) onSpeechInit(status speech.Status) {
	if status != speech.StatusSuccess {
		p.notify.Notice(hub.LevelError, NoticeSpeechInitFailed)
		return
	}
	if lang, ls := p.speech.Language(); ls != tts.LangAvailable {
		p.logger.Warn("speech language unavailable", "language", lang, "status", ls.String())
		p.notify.Notice(hub.LevelError, NoticeLanguageUnsupported)
	}
}

func (p *Presenter) onSpeechError(id string, err error) {
	if errors.Is(err, speech.ErrInterrupted) {
		return
	}
	p.notify.Notice(hub.LevelError, NoticeSpeechFailed)
}

// SetLanguage switches the speech language, noticing unsupported ones.
func (p *Presenter) SetLanguage(lang string) (tts.LanguageStatus, error) {
	status, err := p.speech.SetLanguage(lang)
	if err != nil {
		return status, err
	}
	if status != tts.LangAvailable {
		p.notify.Notice(hub.LevelError, NoticeLanguageUnsupported)
	}
	return status, nil
}

// BindPreview starts the live preview, asking for camera permission first
// when it has not been granted.
func (p *Presenter) BindPreview(ctx context.Context) error {
	if !p.cameraAllowed(ModePreview) {
		return ErrPermissionRequired
	}
	return p.bind(ctx)
}

func (p *Presenter) bind(ctx context.Context) error {
	if err := p.preview.Bind(ctx); err != nil {
		p.notify.Notice(hub.LevelError, NoticeCameraUnavailable)
		return err
	}
	return nil
}

// UnbindPreview stops the live preview.
func (p *Presenter) UnbindPreview() error {
	return p.preview.Unbind()
}

// cameraAllowed reports whether the camera may be used now. Otherwise it
// requests permission; the answer resumes mode through onPermission.
func (p *Presenter) cameraAllowed(mode Mode) bool {
	if p.perms.Check(permission.Camera) == permission.Granted {
		return true
	}
	p.perms.Request(permission.RequestCameraPermission, permission.Camera, func(granted bool) {
		p.onPermission(mode, granted)
	})
	return false
}

func (p *Presenter) onPermission(mode Mode, granted bool) {
	if !granted {
		p.logger.Info("camera permission denied")
		p.notify.Notice(hub.LevelError, NoticePermissionDenied)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.bindTimeout)
	defer cancel()

	switch mode {
	case ModeExternal:
		if _, err := p.Capture(ctx, ModeExternal); err != nil {
			p.logger.Warn("capture after grant failed", "error", err)
		}
	default:
		if err := p.bind(ctx); err != nil {
			p.logger.Warn("bind after grant failed", "error", err)
		}
	}
}

// Capture takes a new image. Camera modes check permission first and
// return ErrPermissionRequired while the user is asked.
func (p *Presenter) Capture(ctx context.Context, mode Mode) (*CaptureResult, error) {
	if mode == ModeExternal && p.external == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	switch mode {
	case ModePreview, ModeExternal:
		if !p.cameraAllowed(mode) {
			return nil, ErrPermissionRequired
		}
	case ModeScreen:
		if p.screen == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	prev := p.flow.Image()
	attempt, err := p.flow.Begin()
	if err != nil {
		return nil, err
	}

	img, err := p.take(ctx, mode)
	if err != nil {
		p.flow.Fail(attempt, err)
		p.clearResult()
		if errors.Is(err, capture.ErrCameraUnavailable) || errors.Is(err, capture.ErrNotBound) {
			p.notify.Notice(hub.LevelError, NoticeCameraUnavailable)
		}
		p.logger.Error("capture failed", "mode", mode, "error", err)
		return nil, err
	}
	if err := p.flow.Complete(attempt, img); err != nil {
		return nil, err
	}
	return p.accepted(prev, img), nil
}

func (p *Presenter) take(ctx context.Context, mode Mode) (*capture.Image, error) {
	switch mode {
	case ModeExternal:
		return p.external.Capture(ctx)
	case ModeScreen:
		return capture.Snapshot(ctx, p.exec, p.screen, capture.SourceScreen, p.thumbSize)
	default:
		if p.preview.State() != capture.Bound {
			if err := p.preview.Bind(ctx); err != nil {
				return nil, err
			}
		}
		return p.preview.Capture(ctx)
	}
}

// Deliver accepts an image produced outside the service, as the result of
// a delegated capture.
// A result that cannot be decoded fails the attempt like any other capture.
func (p *Presenter) Deliver(data []byte) (*CaptureResult, error) {
	prev := p.flow.Image()
	attempt, err := p.flow.Begin()
	if err != nil {
		return nil, err
	}

	img, err := capture.FromBytes(data, capture.SourceUpload, p.thumbSize)
	if err != nil {
		p.flow.Fail(attempt, err)
		p.clearResult()
		p.logger.Error("delivered image rejected", "error", err)
		return nil, err
	}
	if err := p.flow.Complete(attempt, img); err != nil {
		return nil, err
	}
	return p.accepted(prev, img), nil
}

func (p *Presenter) accepted(prev, img *capture.Image) *CaptureResult {
	p.clearResult()
	dup := prev.SameScene(img)
	p.logger.Info("image ready",
		"image_id", img.ID,
		"source", img.Source,
		"width", img.Width,
		"height", img.Height,
		"duplicate", dup,
	)
	return &CaptureResult{Image: img, Duplicate: dup}
}

func (p *Presenter) clearResult() {
	p.mu.Lock()
	p.result = nil
	p.mu.Unlock()
}

// Image returns the latest captured image, or nil.
func (p *Presenter) Image() *capture.Image {
	return p.flow.Image()
}

// Recognize runs OCR on the latest image.
func (p *Presenter) Recognize(ctx context.Context) (*ocr.Result, error) {
	img := p.flow.Image()
	if img == nil {
		p.notify.Notice(hub.LevelInfo, NoticeNoImage)
		return nil, ocr.ErrNoImage
	}
	if !p.ocr.Ready() {
		p.notify.Notice(hub.LevelError, NoticeOCRUnavailable)
		return nil, ocr.ErrNotInitialized
	}

	res, err := p.ocr.Recognize(ctx, ocr.Input{ImageID: img.ID, Data: img.PNG})
	if err != nil {
		if errors.Is(err, ocr.ErrNoText) {
			p.notify.Notice(hub.LevelInfo, NoticeNoText)
		}
		p.logger.Warn("recognition failed", "image_id", img.ID, "error", err)
		return nil, err
	}

	p.mu.Lock()
	// A newer capture makes this result stale.
	if cur := p.flow.Image(); cur == nil || cur.ID != res.ImageID {
		p.mu.Unlock()
		return res, nil
	}
	p.result = res
	p.mu.Unlock()

	p.logger.Info("text recognized",
		"image_id", res.ImageID,
		"chars", len(res.Text),
		"confidence", res.Confidence,
	)

	if p.clip != nil {
		if err := p.clip.Copy(res.Text); err != nil {
			p.logger.Warn("clipboard copy failed", "error", err)
		}
	}
	return res, nil
}

// Result returns the latest recognized text, or nil.
func (p *Presenter) Result() *ocr.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// Speak reads the latest recognized text aloud.
func (p *Presenter) Speak(mode speech.QueueMode) (string, error) {
	res := p.Result()
	if res == nil {
		p.notify.Notice(hub.LevelInfo, NoticeNothingToRead)
		return "", ErrNothingToSpeak
	}

	id, err := p.speech.Speak(res.Text, mode)
	switch {
	case errors.Is(err, speech.ErrNotReady):
		if p.speech.State() == speech.StateFailed {
			p.notify.Notice(hub.LevelError, NoticeSpeechInitFailed)
		} else {
			p.notify.Notice(hub.LevelInfo, NoticeSpeechNotReady)
		}
		return "", err
	case err != nil:
		return "", err
	}
	p.logger.Info("speaking", "utterance_id", id, "image_id", res.ImageID, "mode", mode.String())
	return id, nil
}

// StopSpeaking interrupts speech.
func (p *Presenter) StopSpeaking() {
	p.speech.Stop()
}

// ResolvePermission delivers the user's answer to a permission prompt.
func (p *Presenter) ResolvePermission(code int, granted bool) error {
	return p.perms.Resolve(code, granted)
}

// Status returns a snapshot for the UI.
func (p *Presenter) Status() Status {
	lang, ls := p.speech.Language()
	var captureErr string
	if err := p.flow.LastError(); err != nil {
		captureErr = err.Error()
	}
	return Status{
		Capture:        p.flow.State().String(),
		CaptureError:   captureErr,
		Preview:        p.preview.State().String(),
		Permission:     p.perms.Check(permission.Camera).String(),
		OCRReady:       p.ocr.Ready(),
		Speech:         p.speech.State().String(),
		Speaking:       p.speech.IsSpeaking(),
		Language:       lang,
		LanguageStatus: ls.String(),
		Image:          p.flow.Image(),
		Result:         p.Result(),
	}
}

// Close releases the camera, the executor and both engines. Every handle is
// released even when an earlier one fails.
func (p *Presenter) Close() error {
	p.closeOnce.Do(func() {
		p.logger.Info("shutting down")
		errPreview := p.preview.Close()
		p.exec.Shutdown()
		p.closeErr = errors.Join(
			errPreview,
			p.ocr.Close(),
			p.speech.Shutdown(),
		)
	})
	return p.closeErr
}
