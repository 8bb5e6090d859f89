package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if problems := cfg.Validate(); len(problems) != 0 {
		t.Errorf("default config should be valid, got %v", problems)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "readaloud.yaml")
	yamlData := `
port: 9090
camera:
  device: "2"
  capture_timeout: 5s
ocr:
  languages: [eng, deu]
speech:
  providers: [google, espeak]
  language: de-DE
`
	if err := os.WriteFile(file, []byte(yamlData), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SPEECH_LANGUAGE", "en-GB")
	t.Setenv("OCR_LANGUAGES", "")

	cfg, err := LoadWithOptions(LoadOptions{File: file, EnvFile: filepath.Join(dir, "missing.env")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.Camera.Device != "2" {
		t.Errorf("Camera.Device = %q, want 2", cfg.Camera.Device)
	}
	if cfg.Camera.CaptureTimeout != 5*time.Second {
		t.Errorf("CaptureTimeout = %v, want 5s", cfg.Camera.CaptureTimeout)
	}
	if strings.Join(cfg.OCR.Languages, ",") != "eng,deu" {
		t.Errorf("Languages = %v, want [eng deu]", cfg.OCR.Languages)
	}
	if cfg.Speech.Language != "en-GB" {
		t.Errorf("env should override file, got %q", cfg.Speech.Language)
	}
	// Untouched defaults survive a partial file.
	if cfg.Camera.PreviewFPS != 10 {
		t.Errorf("PreviewFPS = %d, want default 10", cfg.Camera.PreviewFPS)
	}
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("TTS_PROVIDERS=openai, espeak\nOPENAI_API_KEY=sk-test\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TTS_PROVIDERS", "")
	t.Setenv("OPENAI_API_KEY", "")
	os.Unsetenv("TTS_PROVIDERS")
	os.Unsetenv("OPENAI_API_KEY")

	cfg, err := LoadWithOptions(LoadOptions{EnvFile: envFile})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := strings.Join(cfg.Speech.Providers, ","); got != "openai,espeak" {
		t.Errorf("Providers = %q, want openai,espeak", got)
	}
	if cfg.Speech.OpenAIKey != "sk-test" {
		t.Errorf("OpenAIKey = %q, want sk-test", cfg.Speech.OpenAIKey)
	}
}

func TestLoadBadYAML(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(file, []byte("port: [nope"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadWithOptions(LoadOptions{File: file}); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Port = 0 }, "port"},
		{"no languages", func(c *Config) { c.OCR.Languages = nil }, "ocr.languages"},
		{"no providers", func(c *Config) { c.Speech.Providers = nil }, "speech.providers"},
		{"unknown provider", func(c *Config) { c.Speech.Providers = []string{"say"} }, "unknown speech provider"},
		{"openai without key", func(c *Config) { c.Speech.Providers = []string{ProviderOpenAI} }, "openai_key"},
		{"quality", func(c *Config) { c.Camera.Quality = 101 }, "camera.quality"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			problems := cfg.Validate()
			if len(problems) == 0 {
				t.Fatal("expected validation problems")
			}
			if !strings.Contains(strings.Join(problems, "; "), tt.want) {
				t.Errorf("problems %v should mention %q", problems, tt.want)
			}
		})
	}
}
