package tts

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	providerEspeak = "espeak"

	// DefaultEspeakBinary is looked up on PATH when no binary is configured.
	DefaultEspeakBinary = "espeak-ng"
)

// Espeak implements Provider by running a local espeak-ng binary.
// It needs no network and writes WAV audio to stdout.
type Espeak struct {
	config *Config
	binary string
	logger *slog.Logger

	mu       sync.RWMutex
	language string
}

// NewEspeak creates a provider backed by espeak-ng. The binary is not
// checked until Health or the first synthesis.
func NewEspeak(opts ...Option) (*Espeak, error) {
	cfg := DefaultConfig()
	cfg.OutputFormat = EncodingWAV
	cfg.Apply(opts...)

	binary := cfg.Binary
	if binary == "" {
		binary = DefaultEspeakBinary
	}

	return &Espeak{
		config:   cfg,
		binary:   binary,
		logger:   cfg.Logger.With("component", "tts.espeak"),
		language: espeakVoice(cfg.Language),
	}, nil
}

// Synthesize renders text to a WAV file in memory.
func (e *Espeak) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, WrapError(providerEspeak, ErrEmptyText)
	}
	start := time.Now()

	args := []string{"--stdin", "--stdout"}
	if voice := e.voice(); voice != "" {
		args = append([]string{"-v", voice}, args...)
	}

	audio, err := e.run(ctx, strings.NewReader(text), args...)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, WrapError(providerEspeak, errors.New("no audio produced"))
	}

	latency := time.Since(start).Milliseconds()
	e.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"voice", e.voice(),
	)

	return &AudioResult{
		Audio: audio,
		Format: AudioFormat{
			Encoding:   EncodingWAV,
			SampleRate: 22050,
			Channels:   1,
		},
		CharCount: len(text),
		LatencyMs: latency,
		Provider:  providerEspeak,
	}, nil
}

// CheckLanguage asks espeak-ng for voices matching lang. A tag whose base
// language has voices but whose region does not reports LangMissingData.
func (e *Espeak) CheckLanguage(ctx context.Context, lang string) (LanguageStatus, error) {
	tag, ok := NormalizeLanguage(lang)
	if !ok {
		return LangNotSupported, nil
	}
	base := BaseLanguage(tag)

	out, err := e.run(ctx, nil, "--voices="+base)
	if err != nil {
		return LangNotSupported, err
	}

	want := espeakVoice(tag)
	status := LangNotSupported
	for _, code := range parseEspeakVoices(out) {
		switch {
		case code == want:
			return LangAvailable, nil
		case BaseLanguage(code) == base:
			status = LangMissingData
		}
	}
	return status, nil
}

// SetLanguage switches the espeak voice to lang.
func (e *Espeak) SetLanguage(lang string) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.Timeout)
	defer cancel()

	status, err := e.CheckLanguage(ctx, lang)
	if err != nil {
		return err
	}
	if status != LangAvailable {
		return WrapError(providerEspeak, fmt.Errorf("%w: %s (%s)", ErrLanguageUnsupported, lang, status))
	}

	e.mu.Lock()
	e.language = espeakVoice(lang)
	e.mu.Unlock()
	return nil
}

// Health checks that the binary runs.
func (e *Espeak) Health(ctx context.Context) error {
	_, err := e.run(ctx, nil, "--version")
	return err
}

// Close is a no-op; each synthesis runs its own process.
func (e *Espeak) Close() error {
	return nil
}

func (e *Espeak) voice() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.language
}

func (e *Espeak) run(ctx context.Context, stdin *strings.Reader, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.binary, args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, WrapError(providerEspeak, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, WrapError(providerEspeak, fmt.Errorf("%s: %w: %s", e.binary, err, msg))
		}
		return nil, WrapError(providerEspeak, fmt.Errorf("%s: %w", e.binary, err))
	}
	return stdout.Bytes(), nil
}

// espeakVoice converts a BCP 47 tag to espeak's lower-case voice name.
func espeakVoice(lang string) string {
	tag, ok := NormalizeLanguage(lang)
	if !ok {
		return ""
	}
	return strings.ToLower(tag)
}

// parseEspeakVoices extracts the language column from `espeak-ng --voices`:
//
//	Pty Language       Age/Gender VoiceName          File          Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US     (en 3)
func parseEspeakVoices(out []byte) []string {
	var codes []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] == "Pty" {
			continue
		}
		codes = append(codes, strings.ToLower(fields[1]))
	}
	return codes
}

// Verify Espeak implements Provider and Localizer at compile time.
var (
	_ Provider  = (*Espeak)(nil)
	_ Localizer = (*Espeak)(nil)
)
