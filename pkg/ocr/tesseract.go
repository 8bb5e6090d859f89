package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/otiai10/gosseract/v2"
)

// TesseractConfig configures the Tesseract engine.
type TesseractConfig struct {
	// TessdataDir holds <lang>.traineddata files shipped with the application.
	TessdataDir string
	Languages   []string
	PageSegMode int
	Whitelist   string
	Variables   map[string]string
}

// Tesseract recognizes text with a single long-lived gosseract client.
type Tesseract struct {
	cfg       TesseractConfig
	logger    *slog.Logger
	newClient func() *gosseract.Client

	mu     sync.Mutex
	client *gosseract.Client
	ready  bool
	closed bool
}

// NewTesseract creates an uninitialized engine.
func NewTesseract(cfg TesseractConfig, logger *slog.Logger) *Tesseract {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tesseract{
		cfg:       cfg,
		logger:    logger.With("component", "ocr.tesseract"),
		newClient: gosseract.NewClient,
	}
}

// CheckAssets verifies that dir holds trained data for every language.
func CheckAssets(dir string, languages []string) error {
	var missing []string
	for _, lang := range languages {
		path := filepath.Join(dir, lang+".traineddata")
		if info, err := os.Stat(path); err != nil || info.IsDir() || info.Size() == 0 {
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrAssetsMissing, strings.Join(missing, ", "))
	}
	return nil
}

// Init checks the bundled assets and configures the client.
func (t *Tesseract) Init(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.ready {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir, err := filepath.Abs(t.cfg.TessdataDir)
	if err != nil {
		return fmt.Errorf("resolve tessdata dir: %w", err)
	}
	if err := CheckAssets(dir, t.cfg.Languages); err != nil {
		return err
	}

	client := t.newClient()
	if err := t.configure(client, dir); err != nil {
		client.Close()
		return err
	}

	t.client = client
	t.ready = true
	t.logger.Info("engine initialized",
		"tessdata", dir,
		"languages", t.cfg.Languages,
		"version", client.Version(),
	)
	return nil
}

func (t *Tesseract) configure(client *gosseract.Client, dir string) error {
	// Tesseract expects the prefix to end with a separator.
	if err := client.SetTessdataPrefix(dir + string(filepath.Separator)); err != nil {
		return fmt.Errorf("set tessdata prefix: %w", err)
	}
	if err := client.SetLanguage(t.cfg.Languages...); err != nil {
		return fmt.Errorf("set languages: %w", err)
	}
	if t.cfg.PageSegMode > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(t.cfg.PageSegMode)); err != nil {
			return fmt.Errorf("set page seg mode: %w", err)
		}
	}
	if t.cfg.Whitelist != "" {
		if err := client.SetWhitelist(t.cfg.Whitelist); err != nil {
			return fmt.Errorf("set whitelist: %w", err)
		}
	}
	for k, v := range t.cfg.Variables {
		if err := client.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return fmt.Errorf("set variable %s: %w", k, err)
		}
	}
	return nil
}

// Ready reports whether the engine can recognize.
func (t *Tesseract) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready && !t.closed
}

// Recognize runs Tesseract on the input. The client is not safe for
// concurrent use, so calls are serialized.
func (t *Tesseract) Recognize(ctx context.Context, in Input) (*Result, error) {
	if len(in.Data) == 0 {
		return nil, ErrEmptyImage
	}

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := t.recognize(in)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		// The client keeps running until Tesseract returns; its result is dropped.
		return nil, ctx.Err()
	}
}

func (t *Tesseract) recognize(in Input) (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	if !t.ready {
		return nil, ErrNotInitialized
	}

	start := time.Now()
	if err := t.client.SetImageFromBytes(in.Data); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	text, err := t.client.Text()
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoText
	}

	words := t.words()
	res := &Result{
		ImageID:    in.ImageID,
		Text:       text,
		Confidence: MeanConfidence(words),
		Words:      words,
		Languages:  append([]string(nil), t.cfg.Languages...),
		Elapsed:    time.Since(start),
	}

	t.logger.Debug("recognized",
		"image_id", in.ImageID,
		"chars", len(text),
		"words", len(words),
		"confidence", res.Confidence,
		"elapsed_ms", res.Elapsed.Milliseconds(),
	)
	return res, nil
}

func (t *Tesseract) words() []Word {
	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		t.logger.Debug("word boxes unavailable", "error", err)
		return nil
	}
	words := make([]Word, 0, len(boxes))
	for _, b := range boxes {
		if strings.TrimSpace(b.Word) == "" {
			continue
		}
		words = append(words, Word{
			Text:       b.Word,
			Confidence: b.Confidence / 100.0,
			Box:        b.Box,
		})
	}
	return words
}

// Close releases the client. Later calls return ErrClosed.
func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.ready = false
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	t.logger.Info("engine released")
	return err
}

var _ Engine = (*Tesseract)(nil)
