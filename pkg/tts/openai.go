package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-readaloud/internal/httpc"
)

const (
	openAITTSURL   = "https://api.openai.com/v1/audio/speech"
	providerOpenAI = "openai"
)

// openAILanguages lists the base languages OpenAI voices are documented to speak.
var openAILanguages = map[string]bool{
	"af": true, "ar": true, "hy": true, "az": true, "be": true, "bs": true, "bg": true,
	"ca": true, "zh": true, "hr": true, "cs": true, "da": true, "nl": true, "en": true,
	"et": true, "fi": true, "fr": true, "gl": true, "de": true, "el": true, "he": true,
	"hi": true, "hu": true, "is": true, "id": true, "it": true, "ja": true, "kn": true,
	"kk": true, "ko": true, "lv": true, "lt": true, "mk": true, "ms": true, "mr": true,
	"mi": true, "ne": true, "no": true, "fa": true, "pl": true, "pt": true, "ro": true,
	"ru": true, "sr": true, "sk": true, "sl": true, "es": true, "sw": true, "sv": true,
	"tl": true, "ta": true, "th": true, "tr": true, "uk": true, "ur": true, "vi": true,
	"cy": true,
}

// OpenAI voice options
const (
	VoiceAlloy   = "alloy"   // Neutral voice
	VoiceEcho    = "echo"    // Male voice
	VoiceFable   = "fable"   // British accent
	VoiceOnyx    = "onyx"    // Deep male voice
	VoiceNova    = "nova"    // Female voice
	VoiceShimmer = "shimmer" // Soft female voice
)

// OpenAI model options
const (
	ModelTTS1   = "tts-1"    // Standard quality, faster
	ModelTTS1HD = "tts-1-hd" // Higher quality, slower
)

// OpenAI implements Provider for OpenAI TTS.
type OpenAI struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string

	mu       sync.RWMutex
	language string
}

// NewOpenAI creates a new OpenAI TTS provider.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.ModelID = ModelTTS1
	cfg.VoiceID = VoiceShimmer
	cfg.OutputFormat = EncodingMP3
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Default voice if not set
	if cfg.VoiceID == "" {
		cfg.VoiceID = VoiceShimmer
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAITTSURL
	}

	return &OpenAI{
		config:   cfg,
		client:   httpc.NewClient(cfg.Timeout),
		logger:   cfg.Logger.With("component", "tts.openai"),
		baseURL:  baseURL,
		language: cfg.Language,
	}, nil
}

// speechRequest is the body of POST /v1/audio/speech.
type speechRequest struct {
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	Input          string `json:"input"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize converts text to audio in the configured output format.
func (o *OpenAI) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, WrapError(providerOpenAI, ErrEmptyText)
	}
	start := time.Now()
	format := o.outputFormat()

	body, err := json.Marshal(speechRequest{
		Model:          o.config.ModelID,
		Voice:          o.config.VoiceID,
		Input:          text,
		ResponseFormat: openAIFormat(format.Encoding),
	})
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("encode request: %w", err))
	}

	resp, err := o.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+o.config.APIKey)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("read audio: %w", err))
	}
	latency := time.Since(start).Milliseconds()

	o.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"format", format.Encoding,
		"latency_ms", latency,
		"voice", o.config.VoiceID,
		"language", o.Language(),
	)

	return &AudioResult{
		Audio:     audio,
		Format:    format,
		CharCount: len(text),
		LatencyMs: latency,
		Provider:  providerOpenAI,
	}, nil
}

// Health checks API connectivity.
func (o *OpenAI) Health(ctx context.Context) error {
	// Use models endpoint as health check
	url := strings.TrimSuffix(o.baseURL, "/audio/speech") + "/models"
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return WrapError(providerOpenAI, err)
	}

	req.Header.Set("Authorization", "Bearer "+o.config.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return WrapError(providerOpenAI, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return o.parseError(resp)
	}

	return nil
}

// Close releases resources.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

// VoiceID returns the configured voice.
func (o *OpenAI) VoiceID() string {
	return o.config.VoiceID
}

// CheckLanguage reports whether OpenAI voices speak lang. The voices detect
// the language from the input text, so there is no data to be missing.
func (o *OpenAI) CheckLanguage(ctx context.Context, lang string) (LanguageStatus, error) {
	if _, ok := NormalizeLanguage(lang); !ok {
		return LangNotSupported, nil
	}
	if openAILanguages[BaseLanguage(lang)] {
		return LangAvailable, nil
	}
	return LangNotSupported, nil
}

// SetLanguage records lang for logging. It fails for unsupported languages.
func (o *OpenAI) SetLanguage(lang string) error {
	status, _ := o.CheckLanguage(context.Background(), lang)
	if status != LangAvailable {
		return WrapError(providerOpenAI, fmt.Errorf("%w: %s", ErrLanguageUnsupported, lang))
	}
	o.mu.Lock()
	o.language = lang
	o.mu.Unlock()
	return nil
}

// Language returns the current language.
func (o *OpenAI) Language() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.language
}

// doWithRetry sends a fresh request per attempt until one returns 200.
// Rate limits and server errors are retried with a linear backoff.
func (o *OpenAI) doWithRetry(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, WrapError(providerOpenAI, ctx.Err())
			case <-time.After(o.config.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, WrapError(providerOpenAI, fmt.Errorf("create request: %w", err))
		}
		resp, err := o.client.Do(req)
		if err != nil {
			lastErr = WrapError(providerOpenAI, err)
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		apiErr := o.parseError(resp)
		resp.Body.Close()
		if !apiErr.IsRetryable() {
			return nil, apiErr
		}
		o.logger.Warn("retrying speech request", "attempt", attempt+1, "status", resp.StatusCode)
		lastErr = apiErr
	}
	return nil, lastErr
}

// parseError reads and parses an error response.
func (o *OpenAI) parseError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(resp.Body)

	// Try to parse JSON error
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		code = errResp.Error.Code
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   providerOpenAI,
	}
}

// outputFormat describes the audio OpenAI returns for the configured
// encoding. Speech is rendered at 24 kHz; Opus streams are resampled to 48 kHz.
func (o *OpenAI) outputFormat() AudioFormat {
	switch o.config.OutputFormat {
	case EncodingWAV:
		return AudioFormat{Encoding: EncodingWAV, SampleRate: 24000, Channels: 1}
	case EncodingOggOpus:
		return AudioFormat{Encoding: EncodingOggOpus, SampleRate: 48000, Channels: 1}
	default:
		return AudioFormat{Encoding: EncodingMP3, SampleRate: 24000, Channels: 1}
	}
}

// openAIFormat maps an Encoding to the API's response_format value.
func openAIFormat(e Encoding) string {
	if e == EncodingOggOpus {
		return "opus"
	}
	return string(e)
}

// Verify OpenAI implements Provider and Localizer at compile time.
var (
	_ Provider  = (*OpenAI)(nil)
	_ Localizer = (*OpenAI)(nil)
)
