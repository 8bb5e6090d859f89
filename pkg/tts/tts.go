// Package tts provides a unified interface for text-to-speech providers.
//
// Supported backends are OpenAI (hosted voices), Google Cloud Text-to-Speech
// and a local espeak-ng binary for offline use. All implement Provider, and
// Chain tries several in order so a hosted provider can fall back to the
// local one.
//
// Example usage:
//
//	provider, _ := tts.NewEspeak(tts.WithLanguage("en-US"))
//	defer provider.Close()
//
//	result, _ := provider.Synthesize(ctx, "Hello world")
//	// result.Audio holds a WAV file
package tts

import (
	"context"
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to audio, returning the complete audio buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks that the provider can serve requests.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains encoded audio in the given format.
	Audio []byte

	Format AudioFormat

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the provider round trip in milliseconds.
	LatencyMs int64

	// Provider names the provider that produced the audio.
	Provider string
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
}

// Encoding represents audio container/codec types.
type Encoding string

const (
	EncodingMP3     Encoding = "mp3"
	EncodingWAV     Encoding = "wav"
	EncodingOggOpus Encoding = "ogg_opus"
)

// ContentType returns the MIME type for the encoding.
func (e Encoding) ContentType() string {
	switch e {
	case EncodingMP3:
		return "audio/mpeg"
	case EncodingWAV:
		return "audio/wav"
	case EncodingOggOpus:
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// LanguageStatus reports whether a provider can speak a language.
type LanguageStatus int

const (
	// LangAvailable means the language can be spoken.
	LangAvailable LanguageStatus = iota
	// LangMissingData means the language is known but its voice data is not installed.
	LangMissingData
	// LangNotSupported means the provider cannot speak the language.
	LangNotSupported
)

func (s LanguageStatus) String() string {
	switch s {
	case LangAvailable:
		return "available"
	case LangMissingData:
		return "missing_data"
	default:
		return "not_supported"
	}
}

// Localizer is implemented by providers whose language can be checked and
// switched at runtime.
type Localizer interface {
	// CheckLanguage reports whether lang (a BCP 47 tag) can be spoken.
	CheckLanguage(ctx context.Context, lang string) (LanguageStatus, error)

	// SetLanguage switches the synthesis language.
	SetLanguage(lang string) error
}

