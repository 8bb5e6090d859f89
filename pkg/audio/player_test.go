package audio_test

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-readaloud/pkg/audio"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
}

func TestCommandPlayer(t *testing.T) {
	skipWithoutShell(t)
	ctx := context.Background()

	t.Run("Play waits for the command", func(t *testing.T) {
		p := audio.NewCommandPlayer("cat > /dev/null", nil)
		var started, ended atomic.Int32
		p.OnPlaybackStart = func() { started.Add(1) }
		p.OnPlaybackEnd = func() { ended.Add(1) }

		if err := p.Play(ctx, []byte("RIFF....")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if started.Load() != 1 || ended.Load() != 1 {
			t.Errorf("expected one start and end, got %d/%d", started.Load(), ended.Load())
		}
		if p.IsPlaying() {
			t.Error("expected playback to be finished")
		}
	})

	t.Run("Empty clip is a no-op", func(t *testing.T) {
		p := audio.NewCommandPlayer("exit 1", nil)
		if err := p.Play(ctx, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("Command failure is reported", func(t *testing.T) {
		p := audio.NewCommandPlayer("cat > /dev/null; echo broken >&2; exit 3", nil)
		err := p.Play(ctx, []byte("x"))
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("Stop interrupts playback", func(t *testing.T) {
		p := audio.NewCommandPlayer("sleep 10", nil)
		done := make(chan error, 1)
		go func() { done <- p.Play(ctx, []byte("x")) }()

		deadline := time.Now().Add(2 * time.Second)
		for !p.IsPlaying() && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		p.Stop()

		select {
		case err := <-done:
			if !errors.Is(err, audio.ErrStopped) {
				t.Errorf("expected ErrStopped, got %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Play did not return after Stop")
		}
	})

	t.Run("Closed player rejects clips", func(t *testing.T) {
		p := audio.NewCommandPlayer("cat > /dev/null", nil)
		if err := p.Close(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := p.Play(ctx, []byte("x")); !errors.Is(err, audio.ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
		if err := p.Close(); err != nil {
			t.Errorf("second Close: %v", err)
		}
	})
}

func TestMock(t *testing.T) {
	ctx := context.Background()

	t.Run("Release finishes the clip", func(t *testing.T) {
		m := audio.NewMock()
		done := make(chan error, 1)
		go func() { done <- m.Play(ctx, []byte("one")) }()

		<-m.Started
		if !m.IsPlaying() {
			t.Error("expected playing")
		}
		m.Release()
		if err := <-done; err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("Stop returns ErrStopped", func(t *testing.T) {
		m := audio.NewMock()
		done := make(chan error, 1)
		go func() { done <- m.Play(ctx, []byte("two")) }()

		<-m.Started
		m.Stop()
		if err := <-done; !errors.Is(err, audio.ErrStopped) {
			t.Errorf("expected ErrStopped, got %v", err)
		}
		if len(m.Played()) != 1 {
			t.Errorf("expected 1 clip, got %d", len(m.Played()))
		}
	})

	t.Run("Discard returns at once", func(t *testing.T) {
		if err := audio.Discard.Play(ctx, []byte("x")); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
