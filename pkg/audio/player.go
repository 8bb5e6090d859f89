// Package audio plays synthesized speech on the local machine.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrStopped is returned by Play when playback was cut short by Stop.
var ErrStopped = errors.New("audio: playback stopped")

// ErrClosed is returned when playing on a closed player.
var ErrClosed = errors.New("audio: player closed")

// Player plays one encoded audio clip at a time.
type Player interface {
	// Play blocks until the clip finishes, ctx is cancelled or Stop is called.
	Play(ctx context.Context, audio []byte) error

	// Stop interrupts the current clip, if any.
	Stop()

	// IsPlaying reports whether a clip is playing.
	IsPlaying() bool

	// Close stops playback and rejects further clips.
	Close() error
}

// CommandPlayer pipes audio into an external player such as ffplay or aplay.
type CommandPlayer struct {
	command string
	logger  *slog.Logger

	// Callbacks
	OnPlaybackStart func()
	OnPlaybackEnd   func()

	mu      sync.Mutex
	cancel  context.CancelFunc
	gen     uint64
	playing bool
	stopped bool
	closed  bool
}

// NewCommandPlayer creates a player that runs command through sh -c and
// writes the clip to its stdin.
func NewCommandPlayer(command string, logger *slog.Logger) *CommandPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandPlayer{
		command: command,
		logger:  logger.With("component", "audio.player"),
	}
}

// Play runs the player command and waits for it to exit.
func (p *CommandPlayer) Play(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	if strings.TrimSpace(p.command) == "" {
		return errors.New("audio: no player command configured")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	p.gen++
	gen := p.gen
	p.cancel = cancel
	p.playing = true
	p.stopped = false
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.gen == gen {
			p.playing = false
			p.cancel = nil
		}
		p.mu.Unlock()
		cancel()
		if p.OnPlaybackEnd != nil {
			p.OnPlaybackEnd()
		}
	}()

	cmd := exec.CommandContext(ctx, "sh", "-c", p.command)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr
	// Children of sh may outlive a kill and hold the pipes open.
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}

	if p.OnPlaybackStart != nil {
		p.OnPlaybackStart()
	}
	p.logger.Debug("playback started", "bytes", len(audio))

	go func() {
		_, _ = stdin.Write(audio)
		_ = stdin.Close()
	}()

	err = cmd.Wait()

	p.mu.Lock()
	stopped := p.stopped && p.gen == gen
	p.mu.Unlock()

	switch {
	case stopped:
		return ErrStopped
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("playback: %w: %s", err, msg)
		}
		return fmt.Errorf("playback: %w", err)
	}

	p.logger.Debug("playback finished")
	return nil
}

// Stop kills the running player process.
func (p *CommandPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.stopped = true
		p.cancel()
	}
}

// IsPlaying returns whether a clip is playing.
func (p *CommandPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Close stops playback. It is safe to call more than once.
func (p *CommandPlayer) Close() error {
	p.Stop()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Discard is a Player that reads nothing and returns at once.
// It backs headless runs where no audio device exists.
var Discard Player = discard{}

type discard struct{}

func (discard) Play(ctx context.Context, audio []byte) error {
	return ctx.Err()
}
func (discard) Stop()           {}
func (discard) IsPlaying() bool { return false }
func (discard) Close() error    { return nil }

var _ Player = (*CommandPlayer)(nil)
