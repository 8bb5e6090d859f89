package tts

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mock implements Provider and Localizer for testing.
// All methods can be customized via function fields.
type Mock struct {
	// SynthesizeFunc is called when Synthesize is invoked.
	// If nil, returns an error.
	SynthesizeFunc func(ctx context.Context, text string) (*AudioResult, error)

	// LanguageFunc reports the status of a language.
	// If nil, every language is available.
	LanguageFunc func(lang string) LanguageStatus

	// HealthFunc is called when Health is invoked.
	// If nil, returns nil (healthy).
	HealthFunc func(ctx context.Context) error

	// CloseFunc is called when Close is invoked.
	// If nil, returns nil.
	CloseFunc func() error

	// Tracking
	mu       sync.Mutex
	calls    []MockCall
	language string
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Text   string
	Time   time.Time
}

// NewMock creates a new mock provider with sensible defaults.
func NewMock() *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*AudioResult, error) {
			return &AudioResult{
				Audio: []byte("audio:" + text),
				Format: AudioFormat{
					Encoding:   EncodingWAV,
					SampleRate: 22050,
					Channels:   1,
				},
				CharCount: len(text),
				LatencyMs: 1,
				Provider:  "mock",
			}, nil
		},
		HealthFunc: func(ctx context.Context) error {
			return nil
		},
		language: "en-US",
	}
}

// Synthesize calls SynthesizeFunc and records the call.
func (m *Mock) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	m.recordCall("Synthesize", text)
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text)
	}
	return nil, WrapError("mock", ErrProviderUnavailable)
}

// CheckLanguage calls LanguageFunc and records the call.
func (m *Mock) CheckLanguage(ctx context.Context, lang string) (LanguageStatus, error) {
	m.recordCall("CheckLanguage", lang)
	return m.status(lang), nil
}

// SetLanguage switches the mock language unless LanguageFunc rejects it.
func (m *Mock) SetLanguage(lang string) error {
	m.recordCall("SetLanguage", lang)
	if status := m.status(lang); status != LangAvailable {
		return WrapError("mock", fmt.Errorf("%w: %s (%s)", ErrLanguageUnsupported, lang, status))
	}
	m.mu.Lock()
	m.language = lang
	m.mu.Unlock()
	return nil
}

// Language returns the language last accepted by SetLanguage.
func (m *Mock) Language() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.language
}

func (m *Mock) status(lang string) LanguageStatus {
	if m.LanguageFunc != nil {
		return m.LanguageFunc(lang)
	}
	return LangAvailable
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.recordCall("Health", "")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.recordCall("Close", "")
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// recordCall adds a call to the tracking list.
func (m *Mock) recordCall(method, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method: method,
		Text:   text,
		Time:   time.Now(),
	})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// LastCall returns the most recent call, or nil if none.
func (m *Mock) LastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// WithError returns a mock that always returns the given error.
func WithError(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*AudioResult, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// WithLatency wraps a mock to add artificial latency.
func WithLatency(m *Mock, delay time.Duration) *Mock {
	originalSynthesize := m.SynthesizeFunc
	m.SynthesizeFunc = func(ctx context.Context, text string) (*AudioResult, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if originalSynthesize != nil {
			return originalSynthesize(ctx, text)
		}
		return nil, WrapError("mock", ErrProviderUnavailable)
	}
	return m
}

// Verify Mock implements Provider and Localizer at compile time.
var (
	_ Provider  = (*Mock)(nil)
	_ Localizer = (*Mock)(nil)
)
