package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"sync"

	"github.com/kbinani/screenshot"
	"gocv.io/x/gocv"
)

// Camera is an opened image source.
type Camera interface {
	// Read returns the next frame.
	Read() (image.Image, error)

	// Close releases the device.
	Close() error
}

// Provider opens a Camera. It is called on the session executor.
type Provider func(ctx context.Context) (Camera, error)

// GoCVCamera reads frames from an OpenCV VideoCapture.
type GoCVCamera struct {
	mu sync.Mutex
	vc *gocv.VideoCapture
}

// OpenGoCV opens device, which is either a camera index or a stream URL.
// Width and height of 0 keep the driver default.
func OpenGoCV(device string, width, height int) (*GoCVCamera, error) {
	var id interface{} = device
	if n, err := strconv.Atoi(device); err == nil {
		id = n
	}

	vc, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrCameraUnavailable, device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: device %s not opened", ErrCameraUnavailable, device)
	}

	if width > 0 && height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	return &GoCVCamera{vc: vc}, nil
}

// GoCVProvider returns a Provider opening device with OpenGoCV.
func GoCVProvider(device string, width, height int) Provider {
	return func(ctx context.Context) (Camera, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return OpenGoCV(device, width, height)
	}
}

// Read grabs a frame and converts it to an image.Image.
func (c *GoCVCamera) Read() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return nil, ErrCameraUnavailable
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := c.vc.Read(&mat); !ok || mat.Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrCameraUnavailable)
	}

	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

// Close releases the VideoCapture.
func (c *GoCVCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return nil
	}
	err := c.vc.Close()
	c.vc = nil
	return err
}

// Snapshot opens a camera from provider, reads one frame and closes it.
// The work runs on exec.
func Snapshot(ctx context.Context, exec *Executor, provider Provider, source Source, maxSide int) (*Image, error) {
	var frame image.Image
	err := exec.Do(ctx, func() error {
		cam, err := provider(ctx)
		if err != nil {
			return err
		}
		defer cam.Close()
		frame, err = cam.Read()
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrCameraUnavailable) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
		}
		return nil, err
	}
	return NewImage(Thumbnail(frame, maxSide), source)
}

// ScreenCamera captures a display as if it were a camera.
type ScreenCamera struct {
	Display int
}

// ScreenProvider returns a Provider for the given display index.
func ScreenProvider(display int) Provider {
	return func(ctx context.Context) (Camera, error) {
		if n := screenshot.NumActiveDisplays(); display >= n {
			return nil, fmt.Errorf("%w: display %d of %d", ErrCameraUnavailable, display, n)
		}
		return &ScreenCamera{Display: display}, nil
	}
}

// Read captures the display.
func (s *ScreenCamera) Read() (image.Image, error) {
	img, err := screenshot.CaptureDisplay(s.Display)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	return img, nil
}

// Close is a no-op.
func (s *ScreenCamera) Close() error {
	return nil
}

// StaticCamera returns a fixed sequence of frames, repeating the last one.
type StaticCamera struct {
	mu     sync.Mutex
	frames []image.Image
	next   int
	closed bool
	reads  int

	// Err, when set, is returned by Read.
	Err error
}

// NewStaticCamera creates a camera that replays frames.
func NewStaticCamera(frames ...image.Image) *StaticCamera {
	return &StaticCamera{frames: frames}
}

// Provider returns a Provider handing out this camera.
func (s *StaticCamera) Provider() Provider {
	return func(ctx context.Context) (Camera, error) {
		s.mu.Lock()
		s.closed = false
		s.mu.Unlock()
		return s, nil
	}
}

// SetFrames replaces the frame sequence.
func (s *StaticCamera) SetFrames(frames ...image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = frames
	s.next = 0
}

// Read returns the next frame.
func (s *StaticCamera) Read() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	if s.Err != nil {
		return nil, s.Err
	}
	if s.closed || len(s.frames) == 0 {
		return nil, ErrCameraUnavailable
	}
	frame := s.frames[s.next]
	if s.next < len(s.frames)-1 {
		s.next++
	}
	return frame, nil
}

// Reads returns the number of Read calls.
func (s *StaticCamera) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Closed reports whether Close was called since the last open.
func (s *StaticCamera) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close marks the camera closed.
func (s *StaticCamera) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var (
	_ Camera = (*GoCVCamera)(nil)
	_ Camera = (*ScreenCamera)(nil)
	_ Camera = (*StaticCamera)(nil)
)
