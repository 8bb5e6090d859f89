package hub

import (
	"context"
	"testing"
	"time"
)

func TestHubLifecycle(t *testing.T) {
	h := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	deadline := time.Now().Add(time.Second)
	for !h.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("hub did not start")
		}
		time.Sleep(time.Millisecond)
	}

	if n := h.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d, want 0", n)
	}

	// Frames with nobody watching are skipped before they reach the loop.
	h.BroadcastBinary([]byte{1, 2, 3})
	if n := len(h.broadcast); n != 0 {
		t.Errorf("queued %d frames with no clients", n)
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop on cancel")
	}
	if h.IsRunning() {
		t.Error("IsRunning() = true after stop")
	}
	if c := NewClient(h, nil); c != nil {
		t.Error("NewClient registered with a stopped hub")
	}
}

func TestBroadcastJSON(t *testing.T) {
	h := New("test", nil)

	if err := h.BroadcastJSON(NewNotice(LevelInfo, "hello")); err != nil {
		t.Fatalf("BroadcastJSON() error = %v", err)
	}
	msg := <-h.broadcast
	if msg.Type != JSONMessage {
		t.Errorf("Type = %v, want JSONMessage", msg.Type)
	}
	if got := string(msg.Data); got == "" || got[0] != '{' {
		t.Errorf("Data = %q, want a JSON object", got)
	}

	if err := h.BroadcastJSON(make(chan int)); err == nil {
		t.Error("BroadcastJSON(chan) should fail to encode")
	}
}
