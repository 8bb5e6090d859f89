// Package config loads go-readaloud settings from a YAML file, a .env file
// and the process environment, in that order of increasing priority.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigFileEnvVar names the environment variable holding the YAML config path.
const ConfigFileEnvVar = "READALOUD_CONFIG"

// Provider names accepted in Speech.Providers.
const (
	ProviderOpenAI = "openai"
	ProviderGoogle = "google"
	ProviderEspeak = "espeak"
)

// Config holds all settings for the service.
type Config struct {
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Camera CameraConfig `yaml:"camera"`
	OCR    OCRConfig    `yaml:"ocr"`
	Speech SpeechConfig `yaml:"speech"`

	// CopyToClipboard copies every recognized text to the system clipboard.
	CopyToClipboard bool `yaml:"copy_to_clipboard"`
}

// CameraConfig controls the live preview and the delegated capture command.
type CameraConfig struct {
	// Device is a camera index ("0") or a stream URL understood by OpenCV.
	Device     string `yaml:"device"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	PreviewFPS int    `yaml:"preview_fps"`
	Quality    int    `yaml:"quality"` // JPEG quality 1-100 for preview frames

	// CaptureCommand runs the external capture application. The image is read
	// from stdout unless the command contains {file}.
	CaptureCommand string        `yaml:"capture_command"`
	CaptureTimeout time.Duration `yaml:"capture_timeout"`

	// ThumbnailSize bounds the long side of delegated captures in pixels.
	ThumbnailSize int `yaml:"thumbnail_size"`
}

// OCRConfig controls the Tesseract engine.
type OCRConfig struct {
	TessdataDir string   `yaml:"tessdata_dir"`
	Languages   []string `yaml:"languages"`
	PageSegMode int      `yaml:"page_seg_mode"`
	Whitelist   string   `yaml:"whitelist"`
}

// SpeechConfig controls the TTS provider chain and playback.
type SpeechConfig struct {
	// Providers lists providers in fallback order.
	Providers []string `yaml:"providers"`
	Language  string   `yaml:"language"`
	Voice     string   `yaml:"voice"`

	OpenAIKey             string `yaml:"openai_key"`
	GoogleAPIKey          string `yaml:"google_api_key"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`
	EspeakBinary          string `yaml:"espeak_binary"`

	// PlayerCommand plays audio read from stdin.
	PlayerCommand string        `yaml:"player_command"`
	InitTimeout   time.Duration `yaml:"init_timeout"`
}

// LoadOptions overrides file discovery.
type LoadOptions struct {
	// File is a YAML config path. Empty uses READALOUD_CONFIG.
	File string
	// EnvFile is a dotenv path. Empty uses .env in the working directory.
	EnvFile string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:     8080,
		LogLevel: "info",
		Camera: CameraConfig{
			Device:         "0",
			Width:          1280,
			Height:         720,
			PreviewFPS:     10,
			Quality:        80,
			CaptureCommand: "fswebcam --no-banner -r 1280x720 --png -1 -",
			CaptureTimeout: 15 * time.Second,
			ThumbnailSize:  640,
		},
		OCR: OCRConfig{
			TessdataDir: "assets/tessdata",
			Languages:   []string{"eng"},
			PageSegMode: 3,
		},
		Speech: SpeechConfig{
			Providers:     []string{ProviderEspeak},
			Language:      "en-US",
			EspeakBinary:  "espeak-ng",
			PlayerCommand: "ffplay -nodisp -autoexit -loglevel quiet -",
			InitTimeout:   10 * time.Second,
		},
	}
}

// Load reads configuration using the default discovery rules.
func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

// LoadWithOptions reads configuration from file, dotenv and environment.
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	cfg := Default()

	file := opts.File
	if file == "" {
		file = os.Getenv(ConfigFileEnvVar)
	}
	if file != "" {
		if err := cfg.loadYAML(file); err != nil {
			return nil, err
		}
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		// Existing environment variables win over the dotenv file.
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v, ok := envInt("READALOUD_PORT"); ok {
		c.Port = v
	} else if v, ok := envInt("PORT"); ok {
		c.Port = v
	}
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")

	setString(&c.Camera.Device, "CAMERA_DEVICE")
	setString(&c.Camera.CaptureCommand, "CAPTURE_COMMAND")
	if v, ok := envInt("THUMBNAIL_SIZE"); ok {
		c.Camera.ThumbnailSize = v
	}

	setString(&c.OCR.TessdataDir, "TESSDATA_PREFIX")
	if v := splitList(os.Getenv("OCR_LANGUAGES")); len(v) > 0 {
		c.OCR.Languages = v
	}

	if v := splitList(os.Getenv("TTS_PROVIDERS")); len(v) > 0 {
		c.Speech.Providers = v
	}
	setString(&c.Speech.Language, "SPEECH_LANGUAGE")
	setString(&c.Speech.Voice, "TTS_VOICE")
	setString(&c.Speech.OpenAIKey, "OPENAI_API_KEY")
	setString(&c.Speech.GoogleAPIKey, "GOOGLE_TTS_API_KEY")
	setString(&c.Speech.GoogleCredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	setString(&c.Speech.EspeakBinary, "ESPEAK_BINARY")
	setString(&c.Speech.PlayerCommand, "PLAYER_COMMAND")

	if v := os.Getenv("COPY_TO_CLIPBOARD"); v != "" {
		c.CopyToClipboard = strings.EqualFold(v, "true") || v == "1"
	}
}

// Validate checks the configuration and returns a list of problems, or nil.
func (c *Config) Validate() []string {
	var problems []string

	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, "port must be between 1 and 65535")
	}
	if c.Camera.PreviewFPS < 1 || c.Camera.PreviewFPS > 60 {
		problems = append(problems, "camera.preview_fps must be between 1 and 60")
	}
	if c.Camera.Quality < 1 || c.Camera.Quality > 100 {
		problems = append(problems, "camera.quality must be between 1 and 100")
	}
	if c.Camera.ThumbnailSize < 0 {
		problems = append(problems, "camera.thumbnail_size must not be negative")
	}
	if c.OCR.TessdataDir == "" {
		problems = append(problems, "ocr.tessdata_dir is required")
	}
	if len(c.OCR.Languages) == 0 {
		problems = append(problems, "ocr.languages must list at least one language")
	}
	if len(c.Speech.Providers) == 0 {
		problems = append(problems, "speech.providers must list at least one provider")
	}
	for _, p := range c.Speech.Providers {
		switch p {
		case ProviderOpenAI:
			if c.Speech.OpenAIKey == "" {
				problems = append(problems, "speech.openai_key is required for the openai provider")
			}
		case ProviderGoogle, ProviderEspeak:
		default:
			problems = append(problems, fmt.Sprintf("unknown speech provider %q", p))
		}
	}
	if c.Speech.PlayerCommand == "" {
		problems = append(problems, "speech.player_command is required")
	}

	return problems
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
