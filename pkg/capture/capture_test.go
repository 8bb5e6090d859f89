package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// testPattern returns a w×h image whose left half is white when bright is set.
func testPattern(w, h int, bright bool) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{A: 255}
			if bright && x < w/2 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestNewImage(t *testing.T) {
	img, err := NewImage(testPattern(40, 20, true), SourceUpload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.ID == "" {
		t.Error("expected an image ID")
	}
	if img.Width != 40 || img.Height != 20 {
		t.Errorf("size = %dx%d, want 40x20", img.Width, img.Height)
	}
	if img.Source != SourceUpload {
		t.Errorf("source = %s, want upload", img.Source)
	}
	if _, _, err := Decode(img.PNG); err != nil {
		t.Errorf("PNG bytes should decode: %v", err)
	}

	t.Run("empty image", func(t *testing.T) {
		if _, err := NewImage(image.NewRGBA(image.Rect(0, 0, 0, 0)), SourceUpload); !errors.Is(err, ErrEmptyImage) {
			t.Errorf("expected ErrEmptyImage, got %v", err)
		}
		if _, err := NewImage(nil, SourceUpload); !errors.Is(err, ErrEmptyImage) {
			t.Errorf("expected ErrEmptyImage for nil, got %v", err)
		}
	})
}

func TestDecode(t *testing.T) {
	t.Run("empty bytes", func(t *testing.T) {
		if _, _, err := Decode(nil); !errors.Is(err, ErrEmptyImage) {
			t.Errorf("expected ErrEmptyImage, got %v", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, _, err := Decode([]byte("not an image")); !errors.Is(err, ErrDecode) {
			t.Errorf("expected ErrDecode, got %v", err)
		}
	})

	t.Run("png", func(t *testing.T) {
		_, format, err := Decode(encodePNG(t, testPattern(8, 8, false)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if format != "png" {
			t.Errorf("format = %s, want png", format)
		}
	})
}

func TestThumbnail(t *testing.T) {
	tests := []struct {
		name         string
		w, h, max    int
		wantW, wantH int
	}{
		{"landscape", 1280, 720, 640, 640, 360},
		{"portrait", 720, 1280, 640, 360, 640},
		{"already small", 320, 200, 640, 320, 200},
		{"no limit", 1280, 720, 0, 1280, 720},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Thumbnail(testPattern(tt.w, tt.h, true), tt.max)
			b := out.Bounds()
			if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("thumbnail = %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			}
		})
	}
}

func TestSameScene(t *testing.T) {
	a, _ := NewImage(testPattern(64, 64, true), SourcePreview)
	b, _ := NewImage(testPattern(64, 64, true), SourcePreview)
	c, _ := NewImage(testPattern(64, 64, false), SourcePreview)

	if !a.SameScene(b) {
		t.Error("identical pictures should match")
	}
	if a.SameScene(c) {
		t.Error("different pictures should not match")
	}
	if a.SameScene(nil) {
		t.Error("nil never matches")
	}
}

func TestExecutor(t *testing.T) {
	t.Run("Do returns result", func(t *testing.T) {
		e := NewExecutor(1)
		defer e.Shutdown()

		want := errors.New("boom")
		if err := e.Do(context.Background(), func() error { return want }); err != want {
			t.Errorf("Do = %v, want %v", err, want)
		}
	})

	t.Run("runs in order on one worker", func(t *testing.T) {
		e := NewExecutor(4)
		var seq []int
		for i := 0; i < 4; i++ {
			i := i
			if err := e.Submit(func() { seq = append(seq, i) }); err != nil {
				t.Fatal(err)
			}
		}
		e.Shutdown()
		for i, v := range seq {
			if v != i {
				t.Fatalf("tasks ran out of order: %v", seq)
			}
		}
		if len(seq) != 4 {
			t.Errorf("ran %d tasks, want 4", len(seq))
		}
	})

	t.Run("closed executor rejects work", func(t *testing.T) {
		e := NewExecutor(1)
		e.Shutdown()
		e.Shutdown()
		if err := e.Submit(func() {}); !errors.Is(err, ErrExecutorClosed) {
			t.Errorf("expected ErrExecutorClosed, got %v", err)
		}
	})

	t.Run("context ends wait", func(t *testing.T) {
		e := NewExecutor(1)
		defer e.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err := e.Do(ctx, func() error {
			time.Sleep(50 * time.Millisecond)
			return nil
		})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestSession(t *testing.T) {
	newSession := func(cam *StaticCamera) (*Session, *Executor) {
		exec := NewExecutor(1)
		return NewSession(cam.Provider(), exec, SessionConfig{FPS: 50, Quality: 70}, nil), exec
	}

	t.Run("capture before bind", func(t *testing.T) {
		s, exec := newSession(NewStaticCamera(testPattern(8, 8, true)))
		defer exec.Shutdown()
		if _, err := s.Capture(context.Background()); !errors.Is(err, ErrNotBound) {
			t.Errorf("expected ErrNotBound, got %v", err)
		}
	})

	t.Run("bind capture unbind", func(t *testing.T) {
		cam := NewStaticCamera(testPattern(32, 16, true))
		s, exec := newSession(cam)
		defer exec.Shutdown()

		if err := s.Bind(context.Background()); err != nil {
			t.Fatalf("bind: %v", err)
		}
		if s.State() != Bound {
			t.Errorf("state = %s, want bound", s.State())
		}

		img, err := s.Capture(context.Background())
		if err != nil {
			t.Fatalf("capture: %v", err)
		}
		if img.Source != SourcePreview || img.Width != 32 {
			t.Errorf("unexpected image %+v", img)
		}

		if err := s.Unbind(); err != nil {
			t.Fatalf("unbind: %v", err)
		}
		if !cam.Closed() {
			t.Error("unbind should close the camera")
		}
		if s.State() != Unbound {
			t.Errorf("state = %s, want unbound", s.State())
		}
		if err := s.Unbind(); err != nil {
			t.Errorf("second unbind should be a no-op, got %v", err)
		}
	})

	t.Run("preview frames", func(t *testing.T) {
		cam := NewStaticCamera(testPattern(16, 16, true))
		s, exec := newSession(cam)
		defer exec.Shutdown()

		var frames atomic.Int32
		s.OnFrame = func(jpeg []byte) {
			if len(jpeg) > 0 {
				frames.Add(1)
			}
		}
		if err := s.Bind(context.Background()); err != nil {
			t.Fatalf("bind: %v", err)
		}
		time.Sleep(120 * time.Millisecond)
		s.Close()

		if frames.Load() == 0 {
			t.Error("expected preview frames while bound")
		}
		after := frames.Load()
		time.Sleep(60 * time.Millisecond)
		if frames.Load() != after {
			t.Error("no frames should arrive after unbind")
		}
	})

	t.Run("provider failure", func(t *testing.T) {
		exec := NewExecutor(1)
		defer exec.Shutdown()
		failing := func(ctx context.Context) (Camera, error) {
			return nil, errors.New("no such device")
		}
		s := NewSession(failing, exec, DefaultSessionConfig(), nil)

		err := s.Bind(context.Background())
		if !errors.Is(err, ErrCameraUnavailable) {
			t.Errorf("expected ErrCameraUnavailable, got %v", err)
		}
		if s.State() != Unbound {
			t.Errorf("state = %s, want unbound", s.State())
		}
	})

	t.Run("rebind releases previous camera", func(t *testing.T) {
		first := NewStaticCamera(testPattern(8, 8, true))
		second := NewStaticCamera(testPattern(8, 8, false))
		calls := 0
		provider := func(ctx context.Context) (Camera, error) {
			calls++
			if calls == 1 {
				return first, nil
			}
			return second, nil
		}
		exec := NewExecutor(1)
		defer exec.Shutdown()
		s := NewSession(provider, exec, DefaultSessionConfig(), nil)

		if err := s.Bind(context.Background()); err != nil {
			t.Fatal(err)
		}
		if err := s.Bind(context.Background()); err != nil {
			t.Fatal(err)
		}
		if !first.Closed() {
			t.Error("first camera should be closed by rebind")
		}
		s.Close()
	})

	t.Run("camera opened after caller gave up is closed", func(t *testing.T) {
		cam := NewStaticCamera(testPattern(8, 8, true))
		release := make(chan struct{})
		slow := func(ctx context.Context) (Camera, error) {
			<-release
			return cam, nil
		}
		exec := NewExecutor(1)
		defer exec.Shutdown()
		s := NewSession(slow, exec, DefaultSessionConfig(), nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := s.Bind(ctx); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		close(release)

		deadline := time.Now().Add(time.Second)
		for !cam.Closed() {
			if time.Now().After(deadline) {
				t.Fatal("abandoned camera was not closed")
			}
			time.Sleep(time.Millisecond)
		}
		if s.State() != Unbound {
			t.Errorf("state = %s, want unbound", s.State())
		}
	})
}

func TestExternalApp(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "shot.png")
	if err := os.WriteFile(src, encodePNG(t, testPattern(1280, 960, true)), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Run("stdout", func(t *testing.T) {
		app := NewExternalApp("cat "+shellQuote(src), time.Second, 640, nil)
		img, err := app.Capture(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if img.Width != 640 || img.Height != 480 {
			t.Errorf("thumbnail = %dx%d, want 640x480", img.Width, img.Height)
		}
		if img.Source != SourceExternal {
			t.Errorf("source = %s, want external", img.Source)
		}
	})

	t.Run("file placeholder", func(t *testing.T) {
		app := NewExternalApp("cp "+shellQuote(src)+" "+FilePlaceholder, time.Second, 0, nil)
		app.tempDir = dir
		img, err := app.Capture(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if img.Width != 1280 {
			t.Errorf("width = %d, want 1280", img.Width)
		}
	})

	t.Run("command failure", func(t *testing.T) {
		app := NewExternalApp("exit 3", time.Second, 0, nil)
		if _, err := app.Capture(context.Background()); !errors.Is(err, ErrCameraUnavailable) {
			t.Errorf("expected ErrCameraUnavailable, got %v", err)
		}
	})

	t.Run("no output", func(t *testing.T) {
		app := NewExternalApp("true", time.Second, 0, nil)
		if _, err := app.Capture(context.Background()); !errors.Is(err, ErrEmptyImage) {
			t.Errorf("expected ErrEmptyImage, got %v", err)
		}
	})

	t.Run("no command", func(t *testing.T) {
		app := NewExternalApp("  ", time.Second, 0, nil)
		if _, err := app.Capture(context.Background()); !errors.Is(err, ErrNoCommand) {
			t.Errorf("expected ErrNoCommand, got %v", err)
		}
	})
}

func TestFlow(t *testing.T) {
	img, _ := NewImage(testPattern(8, 8, true), SourcePreview)

	t.Run("happy path", func(t *testing.T) {
		f := NewFlow()
		if f.State() != FlowIdle {
			t.Fatalf("state = %s, want idle", f.State())
		}
		a, err := f.Begin()
		if err != nil {
			t.Fatal(err)
		}
		if f.State() != FlowAwaitingResult {
			t.Errorf("state = %s, want awaiting_result", f.State())
		}
		if _, err := f.Begin(); !errors.Is(err, ErrCaptureInProgress) {
			t.Errorf("expected ErrCaptureInProgress, got %v", err)
		}
		if err := f.Complete(a, img); err != nil {
			t.Fatal(err)
		}
		if f.State() != FlowImageReady || f.Image() != img {
			t.Errorf("expected image_ready with image, got %s", f.State())
		}
	})

	t.Run("failure drops previous image", func(t *testing.T) {
		f := NewFlow()
		a, _ := f.Begin()
		if err := f.Complete(a, img); err != nil {
			t.Fatal(err)
		}
		a, _ = f.Begin()
		boom := errors.New("boom")
		f.Fail(a, boom)

		if f.Image() != nil {
			t.Error("failed attempt must not leave a stale image")
		}
		if f.State() != FlowIdle {
			t.Errorf("state = %s, want idle", f.State())
		}
		if f.LastError() != boom {
			t.Errorf("LastError = %v, want boom", f.LastError())
		}
		if _, err := f.Begin(); err != nil || f.LastError() != nil {
			t.Errorf("a new attempt should clear LastError, got %v", f.LastError())
		}
	})

	t.Run("stale result rejected", func(t *testing.T) {
		f := NewFlow()
		a, _ := f.Begin()
		f.Fail(a, ErrCameraUnavailable)
		if err := f.Complete(a, img); !errors.Is(err, ErrStaleResult) {
			t.Errorf("expected ErrStaleResult, got %v", err)
		}
		if f.Image() != nil {
			t.Error("stale result must not be stored")
		}
	})
}

func TestSnapshot(t *testing.T) {
	exec := NewExecutor(4)
	defer exec.Shutdown()
	ctx := context.Background()

	t.Run("Reads one frame and closes", func(t *testing.T) {
		cam := NewStaticCamera(testPattern(1920, 1080, true))
		img, err := Snapshot(ctx, exec, cam.Provider(), SourceScreen, 640)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if img.Source != SourceScreen || img.Width != 640 || img.Height != 360 {
			t.Errorf("unexpected image %s %dx%d", img.Source, img.Width, img.Height)
		}
		if !cam.Closed() {
			t.Error("expected camera closed after snapshot")
		}
	})

	t.Run("Provider failure is camera unavailable", func(t *testing.T) {
		failing := func(context.Context) (Camera, error) { return nil, errors.New("no display") }
		if _, err := Snapshot(ctx, exec, failing, SourceScreen, 0); !errors.Is(err, ErrCameraUnavailable) {
			t.Errorf("expected ErrCameraUnavailable, got %v", err)
		}
	})
}
