// Package web serves the read-aloud UI and its HTTP API.
package web

import (
	"embed"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-readaloud/pkg/app"
	"github.com/teslashibe/go-readaloud/pkg/hub"
)

//go:embed static
var staticFiles embed.FS

// Config configures the server.
type Config struct {
	// BodyLimit caps uploaded images in bytes.
	BodyLimit int

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig allows 20 MB uploads.
func DefaultConfig() Config {
	return Config{
		BodyLimit:       20 << 20,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server is the UI and API server.
type Server struct {
	app       *fiber.App
	cfg       Config
	presenter *app.Presenter
	notices   *hub.Hub
	preview   *hub.Hub
	logger    *slog.Logger
}

// NewServer creates a server. Notices and preview frames are fanned out to
// websocket clients by the given hubs, which the caller runs.
func NewServer(cfg Config, presenter *app.Presenter, notices, preview *hub.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultConfig().BodyLimit
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	s := &Server{
		cfg:       cfg,
		presenter: presenter,
		notices:   notices,
		preview:   preview,
		logger:    logger.With("component", "web"),
	}

	a := fiber.New(fiber.Config{
		AppName:               "go-readaloud",
		DisableStartupMessage: true,
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          s.handleError,
	})

	a.Use(recover.New())
	a.Use(cors.New())
	a.Use(s.logRequests)

	a.Get("/health", s.handleHealth)

	api := a.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/capture", s.handleCapture)
	api.Post("/preview/bind", s.handleBindPreview)
	api.Post("/preview/unbind", s.handleUnbindPreview)
	api.Post("/images", s.handleDeliverImage)
	api.Get("/image", s.handleImage)
	api.Post("/recognize", s.handleRecognize)
	api.Post("/speak", s.handleSpeak)
	api.Post("/speak/stop", s.handleStopSpeaking)
	api.Post("/language", s.handleLanguage)
	api.Post("/permissions/:code", s.handlePermission)

	// WebSocket upgrade middleware
	a.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	a.Get("/ws/notices", websocket.New(s.serveHub(notices)))
	a.Get("/ws/preview", websocket.New(s.serveHub(preview)))

	root, _ := fs.Sub(staticFiles, "static")
	a.Use("/", filesystem.New(filesystem.Config{
		Root:  http.FS(root),
		Index: "index.html",
	}))

	s.app = a
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(s.cfg.ShutdownTimeout)
}

func (s *Server) serveHub(h *hub.Hub) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		client := hub.NewClient(h, c)
		if client == nil {
			return
		}
		client.Run()
	}
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	if websocket.IsWebSocketUpgrade(c) {
		return err
	}
	s.logger.Debug("request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"elapsed", time.Since(start),
	)
	return err
}

// handleError renders every error as {"error": "..."}.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "status", code, "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
