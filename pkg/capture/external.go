package capture

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// FilePlaceholder in a capture command is replaced with a temporary file
// path the command must write the image to.
const FilePlaceholder = "{file}"

// ExternalApp delegates capture to another program, as a camera intent would.
// The program writes the image to stdout, or to the file named by {file}.
// The result is scaled down to a thumbnail.
type ExternalApp struct {
	Command string
	Timeout time.Duration
	MaxSide int

	logger  *slog.Logger
	runCmd  func(ctx context.Context, command string) ([]byte, error)
	tempDir string
}

// NewExternalApp creates a delegated capture for command.
func NewExternalApp(command string, timeout time.Duration, maxSide int, logger *slog.Logger) *ExternalApp {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ExternalApp{
		Command: command,
		Timeout: timeout,
		MaxSide: maxSide,
		logger:  logger.With("component", "capture.external"),
		runCmd:  runShell,
	}
}

// Capture runs the command and decodes its image.
func (a *ExternalApp) Capture(ctx context.Context) (*Image, error) {
	if strings.TrimSpace(a.Command) == "" {
		return nil, ErrNoCommand
	}

	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	command := a.Command
	var outFile string
	if strings.Contains(command, FilePlaceholder) {
		f, err := os.CreateTemp(a.tempDir, "readaloud-capture-*.img")
		if err != nil {
			return nil, fmt.Errorf("create capture file: %w", err)
		}
		outFile = f.Name()
		f.Close()
		defer os.Remove(outFile)
		command = strings.ReplaceAll(command, FilePlaceholder, shellQuote(outFile))
	}

	start := time.Now()
	stdout, err := a.runCmd(ctx, command)
	if err != nil {
		return nil, fmt.Errorf("%w: capture command: %v", ErrCameraUnavailable, err)
	}

	data := stdout
	if outFile != "" {
		data, err = os.ReadFile(filepath.Clean(outFile))
		if err != nil {
			return nil, fmt.Errorf("read capture file: %w", err)
		}
	}

	img, err := FromBytes(data, SourceExternal, a.MaxSide)
	if err != nil {
		return nil, err
	}

	a.logger.Info("external capture complete",
		"image_id", img.ID,
		"bytes", len(data),
		"width", img.Width,
		"height", img.Height,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return img, nil
}

func runShell(ctx context.Context, command string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
