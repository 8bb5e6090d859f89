package web

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-readaloud/pkg/app"
	"github.com/teslashibe/go-readaloud/pkg/capture"
	"github.com/teslashibe/go-readaloud/pkg/ocr"
	"github.com/teslashibe/go-readaloud/pkg/permission"
	"github.com/teslashibe/go-readaloud/pkg/speech"
)

// CaptureRequest is the body of POST /api/capture.
type CaptureRequest struct {
	Mode string `json:"mode"`
}

// SpeakRequest is the body of POST /api/speak.
type SpeakRequest struct {
	Queue string `json:"queue"`
}

// LanguageRequest is the body of POST /api/language.
type LanguageRequest struct {
	Language string `json:"language"`
}

// PermissionRequest is the body of POST /api/permissions/:code.
type PermissionRequest struct {
	Granted bool `json:"granted"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ocr.ErrNoImage),
		errors.Is(err, app.ErrNothingToSpeak),
		errors.Is(err, capture.ErrCaptureInProgress),
		errors.Is(err, capture.ErrStaleResult),
		errors.Is(err, capture.ErrNotBound):
		return fiber.StatusConflict
	case errors.Is(err, ocr.ErrNoText):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, ocr.ErrNotInitialized),
		errors.Is(err, ocr.ErrClosed),
		errors.Is(err, speech.ErrNotReady),
		errors.Is(err, speech.ErrShutdown),
		errors.Is(err, capture.ErrCameraUnavailable),
		errors.Is(err, capture.ErrExecutorClosed),
		errors.Is(err, capture.ErrNoCommand):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, capture.ErrDecode),
		errors.Is(err, capture.ErrEmptyImage),
		errors.Is(err, ocr.ErrEmptyImage),
		errors.Is(err, app.ErrUnknownMode),
		errors.Is(err, speech.ErrEmptyText):
		return fiber.StatusBadRequest
	case errors.Is(err, permission.ErrUnknownRequest):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

// permissionPending answers a request that is waiting on the user.
func permissionPending(c *fiber.Ctx) error {
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":       "permission_requested",
		"permission":   permission.Camera,
		"request_code": permission.RequestCameraPermission,
	})
}

// parseBody decodes an optional JSON body; an empty body keeps defaults.
func parseBody(c *fiber.Ctx, v any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return nil
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.presenter.Status())
}

func (s *Server) handleCapture(c *fiber.Ctx) error {
	var req CaptureRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	mode, err := app.ParseMode(req.Mode)
	if err != nil {
		return err
	}

	res, err := s.presenter.Capture(c.UserContext(), mode)
	if errors.Is(err, app.ErrPermissionRequired) {
		return permissionPending(c)
	}
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

func (s *Server) handleBindPreview(c *fiber.Ctx) error {
	err := s.presenter.BindPreview(c.UserContext())
	if errors.Is(err, app.ErrPermissionRequired) {
		return permissionPending(c)
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"preview": capture.Bound.String()})
}

func (s *Server) handleUnbindPreview(c *fiber.Ctx) error {
	if err := s.presenter.UnbindPreview(); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"preview": capture.Unbound.String()})
}

// handleDeliverImage accepts a multipart "image" file or a raw image body.
func (s *Server) handleDeliverImage(c *fiber.Ctx) error {
	data := c.Body()
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		fh, err := c.FormFile("image")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "missing image field")
		}
		f, err := fh.Open()
		if err != nil {
			return err
		}
		defer f.Close()
		if data, err = io.ReadAll(f); err != nil {
			return err
		}
	}

	res, err := s.presenter.Deliver(data)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

func (s *Server) handleImage(c *fiber.Ctx) error {
	img := s.presenter.Image()
	if img == nil {
		return fiber.NewError(fiber.StatusNotFound, ocr.ErrNoImage.Error())
	}
	c.Set(fiber.HeaderContentType, "image/png")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(img.PNG)
}

func (s *Server) handleRecognize(c *fiber.Ctx) error {
	res, err := s.presenter.Recognize(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) handleSpeak(c *fiber.Ctx) error {
	var req SpeakRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	mode, err := speech.ParseQueueMode(req.Queue)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	id, err := s.presenter.Speak(mode)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"utterance_id": id,
		"queue":        mode.String(),
	})
}

func (s *Server) handleStopSpeaking(c *fiber.Ctx) error {
	s.presenter.StopSpeaking()
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleLanguage(c *fiber.Ctx) error {
	var req LanguageRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Language) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "language is required")
	}

	status, err := s.presenter.SetLanguage(req.Language)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"language": req.Language,
		"status":   status.String(),
	})
}

func (s *Server) handlePermission(c *fiber.Ctx) error {
	code, err := strconv.Atoi(c.Params("code"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request code")
	}
	var req PermissionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	if err := s.presenter.ResolvePermission(code, req.Granted); err != nil {
		return err
	}
	return c.JSON(s.presenter.Status())
}
