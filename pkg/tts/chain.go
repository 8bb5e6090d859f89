package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Chain implements Provider by trying multiple providers in order.
// The first successful provider wins; if all fail, returns an aggregate error.
type Chain struct {
	providers []Provider
	logger    *slog.Logger

	mu sync.RWMutex
	// skip marks providers that rejected the current language.
	skip map[int]bool
}

// NewChain creates a provider chain that tries providers in order.
// At least one provider is required.
func NewChain(providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}

	return &Chain{
		providers: providers,
		logger:    slog.Default().With("component", "tts.chain"),
		skip:      make(map[int]bool),
	}, nil
}

// NewChainWithLogger creates a provider chain with a custom logger.
func NewChainWithLogger(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	chain, err := NewChain(providers...)
	if err != nil {
		return nil, err
	}
	chain.logger = logger.With("component", "tts.chain")
	return chain, nil
}

// Synthesize tries each provider until one succeeds.
func (c *Chain) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	var errs []error

	for i, p := range c.providers {
		if c.skipped(i) {
			continue
		}
		result, err := p.Synthesize(ctx, text)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded",
					"provider_index", i,
					"chars", len(text),
				)
			}
			return result, nil
		}

		errs = append(errs, err)
		c.logger.Warn("provider failed, trying next",
			"provider_index", i,
			"error", err,
		)

		// Check if context was cancelled
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if len(errs) == 0 {
		return nil, ErrProviderUnavailable
	}
	return nil, &ChainError{Errors: errs}
}

func (c *Chain) skipped(i int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.skip[i]
}

// CheckLanguage returns the best status reported by any provider that
// implements Localizer. A chain with no localizers speaks anything.
func (c *Chain) CheckLanguage(ctx context.Context, lang string) (LanguageStatus, error) {
	best := LangNotSupported
	var localizers int
	var lastErr error

	for _, p := range c.providers {
		loc, ok := p.(Localizer)
		if !ok {
			continue
		}
		localizers++
		status, err := loc.CheckLanguage(ctx, lang)
		if err != nil {
			lastErr = err
			continue
		}
		if status < best {
			best = status
		}
	}

	if localizers == 0 {
		return LangAvailable, nil
	}
	if best == LangNotSupported && lastErr != nil {
		return best, lastErr
	}
	return best, nil
}

// SetLanguage switches every provider that can speak lang. Providers that
// reject it are skipped by Synthesize until the next successful switch.
func (c *Chain) SetLanguage(lang string) error {
	var accepted, localizers int
	rejected := make(map[int]bool)
	for i, p := range c.providers {
		loc, ok := p.(Localizer)
		if !ok {
			continue
		}
		localizers++
		if err := loc.SetLanguage(lang); err != nil {
			c.logger.Debug("provider rejected language", "language", lang, "error", err)
			rejected[i] = true
			continue
		}
		accepted++
	}
	if localizers > 0 && accepted == 0 {
		return fmt.Errorf("%w: %s", ErrLanguageUnsupported, lang)
	}

	c.mu.Lock()
	c.skip = rejected
	c.mu.Unlock()
	return nil
}

// Health checks all providers and returns error if all are unhealthy.
func (c *Chain) Health(ctx context.Context) error {
	var healthy int
	var lastErr error

	for _, p := range c.providers {
		if err := p.Health(ctx); err != nil {
			lastErr = err
		} else {
			healthy++
		}
	}

	if healthy == 0 {
		return fmt.Errorf("all %d providers unhealthy: %w", len(c.providers), lastErr)
	}

	c.logger.Debug("health check complete",
		"healthy", healthy,
		"total", len(c.providers),
	)

	return nil
}

// Close closes all providers.
func (c *Chain) Close() error {
	var errs []error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ChainError aggregates errors from all providers in a chain.
type ChainError struct {
	Errors []error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if len(e.Errors) == 0 {
		return "tts chain: no errors recorded"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("tts chain: %v", e.Errors[0])
	}
	return fmt.Sprintf("tts chain: all %d providers failed, last error: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap returns the last error in the chain.
func (e *ChainError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[len(e.Errors)-1]
}

// Verify Chain implements Provider and Localizer at compile time.
var (
	_ Provider  = (*Chain)(nil)
	_ Localizer = (*Chain)(nil)
)
