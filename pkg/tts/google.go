package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	texttospeech "google.golang.org/api/texttospeech/v1"

	"github.com/teslashibe/go-readaloud/internal/httpc"
)

const providerGoogle = "google"

// Google implements Provider for Google Cloud Text-to-Speech.
//
// Credentials are resolved in order: an API key, a service account file,
// then application default credentials.
type Google struct {
	config  *Config
	service *texttospeech.Service
	client  *http.Client
	logger  *slog.Logger

	mu       sync.RWMutex
	language string
	voice    string
}

// NewGoogle creates a Google Cloud TTS provider.
func NewGoogle(opts ...Option) (*Google, error) {
	cfg := DefaultConfig()
	cfg.OutputFormat = EncodingMP3
	cfg.Apply(opts...)

	// Token sources keep this context for refreshes, so it must outlive NewGoogle.
	client, err := googleClient(context.Background(), cfg)
	if err != nil {
		return nil, WrapError(providerGoogle, err)
	}

	svcOpts := []option.ClientOption{option.WithHTTPClient(client)}
	if cfg.BaseURL != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(strings.TrimSuffix(cfg.BaseURL, "/")+"/"))
	}
	service, err := texttospeech.NewService(context.Background(), svcOpts...)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("create service: %w", err))
	}

	return &Google{
		config:   cfg,
		service:  service,
		client:   client,
		logger:   cfg.Logger.With("component", "tts.google"),
		language: cfg.Language,
		voice:    cfg.VoiceID,
	}, nil
}

// googleClient builds the authenticated HTTP client for the configured credentials.
func googleClient(ctx context.Context, cfg *Config) (*http.Client, error) {
	base := httpc.NewClient(cfg.Timeout)

	if cfg.APIKey != "" {
		return &http.Client{
			Timeout:   base.Timeout,
			Transport: &apiKeyTransport{key: cfg.APIKey, base: base.Transport},
		}, nil
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	var creds *google.Credentials
	if cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials: %w", err)
		}
		creds, err = google.CredentialsFromJSON(ctx, data, texttospeech.CloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("parse credentials: %w", err)
		}
	} else {
		var err error
		creds, err = google.FindDefaultCredentials(ctx, texttospeech.CloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoAPIKey, err)
		}
	}

	client := oauth2.NewClient(ctx, creds.TokenSource)
	client.Timeout = base.Timeout
	return client, nil
}

// apiKeyTransport authenticates requests with a Google API key header.
type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("X-Goog-Api-Key", t.key)
	return t.base.RoundTrip(r)
}

// Synthesize converts text to MP3 audio.
func (g *Google) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, WrapError(providerGoogle, ErrEmptyText)
	}
	start := time.Now()

	g.mu.RLock()
	voice := &texttospeech.VoiceSelectionParams{
		LanguageCode: g.language,
		Name:         g.voice,
	}
	g.mu.RUnlock()

	req := &texttospeech.SynthesizeSpeechRequest{
		Input:       &texttospeech.SynthesisInput{Text: text},
		Voice:       voice,
		AudioConfig: &texttospeech.AudioConfig{AudioEncoding: "MP3"},
	}

	var resp *texttospeech.SynthesizeSpeechResponse
	err := g.withRetry(ctx, func() error {
		var err error
		resp, err = g.service.Text.Synthesize(req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, g.wrap(err)
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("decode audio: %w", err))
	}

	latency := time.Since(start).Milliseconds()
	g.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"language", voice.LanguageCode,
	)

	return &AudioResult{
		Audio: audio,
		Format: AudioFormat{
			Encoding:   EncodingMP3,
			SampleRate: 24000,
			Channels:   1,
		},
		CharCount: len(text),
		LatencyMs: latency,
		Provider:  providerGoogle,
	}, nil
}

// CheckLanguage lists the voices for lang. A tag with voices only for a
// sibling region reports LangMissingData.
func (g *Google) CheckLanguage(ctx context.Context, lang string) (LanguageStatus, error) {
	tag, ok := NormalizeLanguage(lang)
	if !ok {
		return LangNotSupported, nil
	}
	base := BaseLanguage(tag)

	resp, err := g.service.Voices.List().LanguageCode(base).Context(ctx).Do()
	if err != nil {
		return LangNotSupported, g.wrap(err)
	}

	status := LangNotSupported
	for _, v := range resp.Voices {
		for _, code := range v.LanguageCodes {
			switch {
			case strings.EqualFold(code, tag):
				return LangAvailable, nil
			case BaseLanguage(code) == base:
				status = LangMissingData
			}
		}
	}
	return status, nil
}

// SetLanguage switches the synthesis language. A configured voice that does
// not belong to lang is dropped so Google picks a default.
func (g *Google) SetLanguage(lang string) error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Timeout)
	defer cancel()

	status, err := g.CheckLanguage(ctx, lang)
	if err != nil {
		return err
	}
	if status != LangAvailable {
		return WrapError(providerGoogle, fmt.Errorf("%w: %s (%s)", ErrLanguageUnsupported, lang, status))
	}

	tag, _ := NormalizeLanguage(lang)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.language = tag
	if g.voice != "" && !strings.HasPrefix(strings.ToLower(g.voice), strings.ToLower(tag)) {
		g.voice = ""
	}
	return nil
}

// Health lists voices for the current language.
func (g *Google) Health(ctx context.Context) error {
	g.mu.RLock()
	lang := g.language
	g.mu.RUnlock()

	if _, err := g.service.Voices.List().LanguageCode(lang).Context(ctx).Do(); err != nil {
		return g.wrap(err)
	}
	return nil
}

// Close releases idle connections.
func (g *Google) Close() error {
	g.client.CloseIdleConnections()
	return nil
}

// Language returns the current language.
func (g *Google) Language() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.language
}

func (g *Google) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(g.config.RetryDelay * time.Duration(attempt)):
			}
		}
		err = fn()
		if err == nil {
			return nil
		}
		var apiErr *googleapi.Error
		if !errors.As(err, &apiErr) {
			return err
		}
		if apiErr.Code != http.StatusTooManyRequests && apiErr.Code < 500 {
			return err
		}
		g.logger.Warn("retrying request", "attempt", attempt+1, "status", apiErr.Code)
	}
	return err
}

// wrap converts googleapi errors into APIError.
func (g *Google) wrap(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		code := ""
		if len(apiErr.Errors) > 0 {
			code = apiErr.Errors[0].Reason
		}
		return &APIError{
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
			Code:       code,
			Provider:   providerGoogle,
		}
	}
	return WrapError(providerGoogle, err)
}

// Verify Google implements Provider and Localizer at compile time.
var (
	_ Provider  = (*Google)(nil)
	_ Localizer = (*Google)(nil)
)
