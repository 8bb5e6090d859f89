package speech_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-readaloud/pkg/audio"
	"github.com/teslashibe/go-readaloud/pkg/speech"
	"github.com/teslashibe/go-readaloud/pkg/tts"
)

// events collects utterance callbacks.
type events struct {
	mu      sync.Mutex
	started []string
	done    []string
	errs    map[string]error
	doneCh  chan string
}

func newEvents(e *speech.Engine) *events {
	ev := &events{errs: make(map[string]error), doneCh: make(chan string, 16)}
	e.OnStart = func(id string) {
		ev.mu.Lock()
		ev.started = append(ev.started, id)
		ev.mu.Unlock()
	}
	e.OnDone = func(id string) {
		ev.mu.Lock()
		ev.done = append(ev.done, id)
		ev.mu.Unlock()
		ev.doneCh <- id
	}
	e.OnError = func(id string, err error) {
		ev.mu.Lock()
		ev.errs[id] = err
		ev.mu.Unlock()
		ev.doneCh <- id
	}
	return ev
}

func (ev *events) err(id string) error {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.errs[id]
}

func (ev *events) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ev.doneCh:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for utterance %d of %d", i+1, n)
		}
	}
}

func initEngine(t *testing.T, e *speech.Engine) speech.Status {
	t.Helper()
	ch := make(chan speech.Status, 1)
	if err := e.Init(func(s speech.Status) { ch <- s }); err != nil {
		t.Fatalf("Init: %v", err)
	}
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("init callback not called")
		return speech.StatusError
	}
}

func waitStarted(t *testing.T, player *audio.Mock, want string) {
	t.Helper()
	select {
	case clip := <-player.Started:
		if string(clip) != want {
			t.Fatalf("expected %q to start, got %q", want, clip)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("%q never started", want)
	}
}

func newEngine(t *testing.T) (*speech.Engine, *tts.Mock, *audio.Mock) {
	t.Helper()
	provider := tts.NewMock()
	player := audio.NewMock()
	e := speech.NewEngine(provider, player, speech.DefaultConfig(), nil)
	t.Cleanup(func() { _ = e.Shutdown() })
	return e, provider, player
}

func TestEngineReadiness(t *testing.T) {
	t.Run("Speak before ready is rejected", func(t *testing.T) {
		e, provider, _ := newEngine(t)
		if e.State() != speech.StateUninitialized {
			t.Errorf("expected uninitialized, got %s", e.State())
		}
		if _, err := e.Speak("hello", speech.QueueFlush); !errors.Is(err, speech.ErrNotReady) {
			t.Errorf("expected ErrNotReady, got %v", err)
		}
		if provider.CallCount("Synthesize") != 0 {
			t.Error("expected no synthesis before ready")
		}
	})

	t.Run("Init selects the language", func(t *testing.T) {
		e, provider, _ := newEngine(t)
		if status := initEngine(t, e); status != speech.StatusSuccess {
			t.Fatalf("expected success, got %v", status)
		}
		if e.State() != speech.StateReady {
			t.Errorf("expected ready, got %s", e.State())
		}
		lang, status := e.Language()
		if lang != "en-US" || status != tts.LangAvailable {
			t.Errorf("expected en-US available, got %s %s", lang, status)
		}
		if provider.Language() != "en-US" {
			t.Errorf("expected provider switched to en-US, got %s", provider.Language())
		}
		if err := e.Init(nil); !errors.Is(err, speech.ErrAlreadyInitialized) {
			t.Errorf("expected ErrAlreadyInitialized, got %v", err)
		}
	})

	t.Run("Init failure", func(t *testing.T) {
		provider := tts.NewMock()
		provider.HealthFunc = func(context.Context) error { return errors.New("no espeak") }
		e := speech.NewEngine(provider, audio.NewMock(), speech.DefaultConfig(), nil)
		defer e.Shutdown()

		if status := initEngine(t, e); status != speech.StatusError {
			t.Fatalf("expected error status, got %v", status)
		}
		if e.State() != speech.StateFailed {
			t.Errorf("expected failed, got %s", e.State())
		}
		if e.InitError() == nil {
			t.Error("expected init error")
		}
		if _, err := e.Speak("hello", speech.QueueFlush); !errors.Is(err, speech.ErrNotReady) {
			t.Errorf("expected ErrNotReady, got %v", err)
		}

		provider.HealthFunc = nil
		if status := initEngine(t, e); status != speech.StatusSuccess {
			t.Errorf("expected retry to succeed, got %v", status)
		}
	})

	t.Run("Unsupported default language still reaches ready", func(t *testing.T) {
		provider := tts.NewMock()
		provider.LanguageFunc = func(string) tts.LanguageStatus { return tts.LangMissingData }
		e := speech.NewEngine(provider, audio.NewMock(), speech.DefaultConfig(), nil)
		defer e.Shutdown()

		if status := initEngine(t, e); status != speech.StatusSuccess {
			t.Fatalf("expected success, got %v", status)
		}
		if _, status := e.Language(); status != tts.LangMissingData {
			t.Errorf("expected missing_data reported, got %s", status)
		}
	})
}

func TestSetLanguage(t *testing.T) {
	e, provider, _ := newEngine(t)
	provider.LanguageFunc = func(lang string) tts.LanguageStatus {
		switch lang {
		case "en-US", "fr-FR":
			return tts.LangAvailable
		case "fr-CA":
			return tts.LangMissingData
		default:
			return tts.LangNotSupported
		}
	}
	initEngine(t, e)

	tests := []struct {
		lang     string
		want     tts.LanguageStatus
		wantLang string
	}{
		{"fr-FR", tts.LangAvailable, "fr-FR"},
		{"fr-CA", tts.LangMissingData, "fr-FR"},
		{"tlh", tts.LangNotSupported, "fr-FR"},
		{"en-US", tts.LangAvailable, "en-US"},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			status, err := e.SetLanguage(tt.lang)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, status)
			}
			if lang, _ := e.Language(); lang != tt.wantLang {
				t.Errorf("expected active language %s, got %s", tt.wantLang, lang)
			}
		})
	}
}

func TestSpeak(t *testing.T) {
	t.Run("Empty text is rejected", func(t *testing.T) {
		e, _, _ := newEngine(t)
		initEngine(t, e)
		if _, err := e.Speak("  \n ", speech.QueueFlush); !errors.Is(err, speech.ErrEmptyText) {
			t.Errorf("expected ErrEmptyText, got %v", err)
		}
	})

	t.Run("Utterance runs to completion", func(t *testing.T) {
		e, _, player := newEngine(t)
		ev := newEvents(e)
		initEngine(t, e)

		id, err := e.Speak("hello", speech.QueueFlush)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id == "" {
			t.Fatal("expected utterance id")
		}
		waitStarted(t, player, "audio:hello")
		if !e.IsSpeaking() {
			t.Error("expected speaking")
		}
		player.Release()
		ev.wait(t, 1)

		if err := ev.err(id); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if len(ev.started) != 1 || ev.started[0] != id {
			t.Errorf("expected start for %s, got %v", id, ev.started)
		}
	})

	t.Run("Add plays after the current utterance", func(t *testing.T) {
		e, _, player := newEngine(t)
		ev := newEvents(e)
		initEngine(t, e)

		first, _ := e.Speak("one", speech.QueueFlush)
		waitStarted(t, player, "audio:one")
		second, _ := e.Speak("two", speech.QueueAdd)

		player.Release()
		waitStarted(t, player, "audio:two")
		player.Release()
		ev.wait(t, 2)

		if ev.err(first) != nil || ev.err(second) != nil {
			t.Errorf("expected both to finish, got %v / %v", ev.err(first), ev.err(second))
		}
	})

	t.Run("Flush discards queued speech and plays the new text", func(t *testing.T) {
		e, _, player := newEngine(t)
		ev := newEvents(e)
		initEngine(t, e)

		current, _ := e.Speak("current", speech.QueueFlush)
		waitStarted(t, player, "audio:current")
		queued, _ := e.Speak("queued", speech.QueueAdd)

		latest, err := e.Speak("latest", speech.QueueFlush)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		waitStarted(t, player, "audio:latest")

		if !errors.Is(ev.err(current), speech.ErrInterrupted) {
			t.Errorf("expected current interrupted, got %v", ev.err(current))
		}
		if !errors.Is(ev.err(queued), speech.ErrInterrupted) {
			t.Errorf("expected queued discarded, got %v", ev.err(queued))
		}

		player.Release()
		ev.wait(t, 3)
		if ev.err(latest) != nil {
			t.Errorf("expected latest to finish, got %v", ev.err(latest))
		}
		for _, clip := range player.Played() {
			if string(clip) == "audio:queued" {
				t.Error("discarded utterance was played")
			}
		}
	})

	t.Run("Stop interrupts everything", func(t *testing.T) {
		e, _, player := newEngine(t)
		ev := newEvents(e)
		initEngine(t, e)

		id, _ := e.Speak("long text", speech.QueueFlush)
		waitStarted(t, player, "audio:long text")
		e.Stop()
		ev.wait(t, 1)

		if !errors.Is(ev.err(id), speech.ErrInterrupted) {
			t.Errorf("expected ErrInterrupted, got %v", ev.err(id))
		}
		deadline := time.Now().Add(time.Second)
		for e.IsSpeaking() && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if e.IsSpeaking() {
			t.Error("expected silence after Stop")
		}
	})

	t.Run("Synthesis failure is reported", func(t *testing.T) {
		provider := tts.NewMock()
		boom := errors.New("quota exceeded")
		provider.SynthesizeFunc = func(context.Context, string) (*tts.AudioResult, error) { return nil, boom }
		e := speech.NewEngine(provider, audio.NewMock(), speech.DefaultConfig(), nil)
		defer e.Shutdown()
		ev := newEvents(e)
		initEngine(t, e)

		id, _ := e.Speak("hello", speech.QueueFlush)
		ev.wait(t, 1)
		if !errors.Is(ev.err(id), boom) {
			t.Errorf("expected synthesis error, got %v", ev.err(id))
		}
	})
}

func TestShutdown(t *testing.T) {
	provider := tts.NewMock()
	player := audio.NewMock()
	e := speech.NewEngine(provider, player, speech.DefaultConfig(), nil)
	initEngine(t, e)

	if _, err := e.Speak("bye", speech.QueueFlush); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitStarted(t, player, "audio:bye")

	if err := e.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !player.Closed() {
		t.Error("expected player closed")
	}
	if provider.CallCount("Close") != 1 {
		t.Errorf("expected provider closed once, got %d", provider.CallCount("Close"))
	}
	if _, err := e.Speak("again", speech.QueueFlush); !errors.Is(err, speech.ErrShutdown) {
		t.Errorf("expected ErrShutdown, got %v", err)
	}
	if err := e.Shutdown(); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if provider.CallCount("Close") != 1 {
		t.Error("expected Close not repeated")
	}
}

func TestParseQueueMode(t *testing.T) {
	tests := []struct {
		in      string
		want    speech.QueueMode
		wantErr bool
	}{
		{"", speech.QueueFlush, false},
		{"flush", speech.QueueFlush, false},
		{"ADD", speech.QueueAdd, false},
		{"later", speech.QueueFlush, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := speech.ParseQueueMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
