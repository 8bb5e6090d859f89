package app

import (
	"fmt"
	"sync"

	"golang.design/x/clipboard"
)

// Clipboard receives recognized text.
type Clipboard interface {
	Copy(text string) error
}

// SystemClipboard writes to the desktop clipboard.
type SystemClipboard struct {
	once sync.Once
	err  error
}

// NewSystemClipboard returns a clipboard that initializes lazily on first
// copy, so headless hosts fail only when copying is attempted.
func NewSystemClipboard() *SystemClipboard {
	return &SystemClipboard{}
}

// Copy writes text as UTF-8.
func (c *SystemClipboard) Copy(text string) error {
	c.once.Do(func() {
		c.err = clipboard.Init()
	})
	if c.err != nil {
		return fmt.Errorf("clipboard unavailable: %w", c.err)
	}
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}
