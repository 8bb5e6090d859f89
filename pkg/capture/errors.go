package capture

import "errors"

// Sentinel errors for capture failures.
var (
	// ErrCameraUnavailable is returned when no camera could be opened or read.
	ErrCameraUnavailable = errors.New("capture: camera unavailable")

	// ErrNotBound is returned by Capture when no preview is bound.
	ErrNotBound = errors.New("capture: no preview bound")

	// ErrEmptyImage is returned for empty or zero-sized images.
	ErrEmptyImage = errors.New("capture: empty image")

	// ErrDecode is returned when image bytes cannot be decoded.
	ErrDecode = errors.New("capture: cannot decode image")

	// ErrCaptureInProgress is returned when a capture is already awaiting its result.
	ErrCaptureInProgress = errors.New("capture: capture already in progress")

	// ErrStaleResult is returned when a result arrives for a superseded attempt.
	ErrStaleResult = errors.New("capture: result for superseded attempt")

	// ErrExecutorClosed is returned when submitting to a shut down executor.
	ErrExecutorClosed = errors.New("capture: executor shut down")

	// ErrNoCommand is returned when the external capture command is not configured.
	ErrNoCommand = errors.New("capture: no capture command configured")
)
