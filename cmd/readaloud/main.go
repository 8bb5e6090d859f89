// readaloud - capture a picture, recognize its text and read it aloud.
// Serves a browser UI with capture, recognize and speak buttons.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/teslashibe/go-readaloud/internal/config"
	"github.com/teslashibe/go-readaloud/internal/log"
	"github.com/teslashibe/go-readaloud/pkg/app"
	"github.com/teslashibe/go-readaloud/pkg/audio"
	"github.com/teslashibe/go-readaloud/pkg/capture"
	"github.com/teslashibe/go-readaloud/pkg/hub"
	"github.com/teslashibe/go-readaloud/pkg/ocr"
	"github.com/teslashibe/go-readaloud/pkg/permission"
	"github.com/teslashibe/go-readaloud/pkg/speech"
	"github.com/teslashibe/go-readaloud/pkg/tts"
	"github.com/teslashibe/go-readaloud/pkg/web"
)

type flags struct {
	configFile  string
	port        int
	debug       bool
	camera      string
	tessdata    string
	providers   string
	language    string
	grantCamera bool
	clipboard   bool
}

func main() {
	f := parseFlags()

	cfg, err := config.LoadWithOptions(config.LoadOptions{File: f.configFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	f.apply(cfg)

	logger := log.Init(log.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if problems := cfg.Validate(); len(problems) > 0 {
		for _, p := range problems {
			logger.Error("invalid configuration", "problem", p)
		}
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, f.grantCamera, logger); err != nil {
		logger.Error("readaloud stopped", "error", err)
		os.Exit(1)
	}
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configFile, "config", "", "YAML config file (overrides "+config.ConfigFileEnvVar+")")
	flag.IntVar(&f.port, "port", 0, "HTTP port")
	flag.BoolVar(&f.debug, "debug", false, "Enable verbose debug logging")
	flag.StringVar(&f.camera, "camera", "", "Camera device index or stream URL")
	flag.StringVar(&f.tessdata, "tessdata", "", "Directory holding <lang>.traineddata")
	flag.StringVar(&f.providers, "tts", "", "Comma-separated TTS providers in fallback order: openai, google, espeak")
	flag.StringVar(&f.language, "lang", "", "Speech language, e.g. en-US")
	flag.BoolVar(&f.grantCamera, "grant-camera", false, "Treat camera permission as already granted")
	flag.BoolVar(&f.clipboard, "clipboard", false, "Copy recognized text to the clipboard")
	flag.Parse()
	return f
}

// apply lets command-line flags override loaded configuration.
func (f flags) apply(cfg *config.Config) {
	if f.port != 0 {
		cfg.Port = f.port
	}
	if f.debug {
		cfg.LogLevel = "debug"
	}
	if f.camera != "" {
		cfg.Camera.Device = f.camera
	}
	if f.tessdata != "" {
		cfg.OCR.TessdataDir = f.tessdata
	}
	if f.providers != "" {
		var list []string
		for _, p := range strings.Split(f.providers, ",") {
			if p = strings.TrimSpace(p); p != "" {
				list = append(list, p)
			}
		}
		cfg.Speech.Providers = list
	}
	if f.language != "" {
		cfg.Speech.Language = f.language
	}
	if f.clipboard {
		cfg.CopyToClipboard = true
	}
}

func run(ctx context.Context, cfg *config.Config, grantCamera bool, logger *slog.Logger) error {
	provider, err := newSpeechProvider(cfg.Speech, logger)
	if err != nil {
		return err
	}

	notices := hub.New("notices", logger)
	preview := hub.New("preview", logger)
	go notices.Run(ctx)
	go preview.Run(ctx)

	perms := permission.NewStore(logger)
	if grantCamera {
		perms.Set(permission.Camera, permission.Granted)
	}

	exec := capture.NewExecutor(8)
	session := capture.NewSession(
		capture.GoCVProvider(cfg.Camera.Device, cfg.Camera.Width, cfg.Camera.Height),
		exec,
		capture.SessionConfig{FPS: cfg.Camera.PreviewFPS, Quality: cfg.Camera.Quality},
		logger,
	)
	session.OnFrame = preview.BroadcastBinary

	engine := speech.NewEngine(
		provider,
		audio.NewCommandPlayer(cfg.Speech.PlayerCommand, logger),
		speech.Config{Language: cfg.Speech.Language, InitTimeout: cfg.Speech.InitTimeout},
		logger,
	)

	opts := app.Options{
		Permissions: perms,
		Preview:     session,
		Executor:    exec,
		Screen:      capture.ScreenProvider(0),
		OCR: ocr.NewTesseract(ocr.TesseractConfig{
			TessdataDir: cfg.OCR.TessdataDir,
			Languages:   cfg.OCR.Languages,
			PageSegMode: cfg.OCR.PageSegMode,
			Whitelist:   cfg.OCR.Whitelist,
		}, logger),
		Speech:        engine,
		Notifier:      app.HubNotifier{Hub: notices},
		ThumbnailSize: cfg.Camera.ThumbnailSize,
		Logger:        logger,
	}
	if cfg.Camera.CaptureCommand != "" {
		opts.External = capture.NewExternalApp(cfg.Camera.CaptureCommand, cfg.Camera.CaptureTimeout, cfg.Camera.ThumbnailSize, logger)
	}
	if cfg.CopyToClipboard {
		opts.Clipboard = app.NewSystemClipboard()
	}

	presenter := app.New(opts)
	defer func() {
		if err := presenter.Close(); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	// OCR failures are reported to the UI; the rest of the service stays up.
	_ = presenter.Start(ctx)

	server := web.NewServer(web.DefaultConfig(), presenter, notices, preview, logger)
	errc := make(chan error, 1)
	go func() {
		errc <- server.Listen(fmt.Sprintf(":%d", cfg.Port))
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return server.Shutdown()
	case err := <-errc:
		return err
	}
}

// newSpeechProvider builds the configured providers into a fallback chain.
// Providers that cannot be created are skipped.
func newSpeechProvider(cfg config.SpeechConfig, logger *slog.Logger) (tts.Provider, error) {
	common := []tts.Option{tts.WithLanguage(cfg.Language), tts.WithLogger(logger)}
	if cfg.Voice != "" {
		common = append(common, tts.WithVoice(cfg.Voice))
	}
	with := func(extra ...tts.Option) []tts.Option {
		return append(slices.Clip(common), extra...)
	}

	var providers []tts.Provider
	for _, name := range cfg.Providers {
		var (
			p   tts.Provider
			err error
		)
		switch name {
		case config.ProviderOpenAI:
			p, err = tts.NewOpenAI(with(tts.WithAPIKey(cfg.OpenAIKey))...)
		case config.ProviderGoogle:
			p, err = tts.NewGoogle(with(
				tts.WithAPIKey(cfg.GoogleAPIKey),
				tts.WithCredentialsFile(cfg.GoogleCredentialsFile),
			)...)
		case config.ProviderEspeak:
			p, err = tts.NewEspeak(with(tts.WithBinary(cfg.EspeakBinary))...)
		default:
			err = fmt.Errorf("unknown provider %q", name)
		}
		if err != nil {
			logger.Warn("tts provider unavailable", "provider", name, "error", err)
			continue
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, errors.New("no usable tts provider")
	}
	return tts.NewChainWithLogger(logger, providers...)
}
