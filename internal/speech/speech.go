// Package speech defines the spoken-output boundary. Speaking is
// fire-and-forget: a failed or interrupted utterance never affects the
// conversation.
package speech

import (
	"log/slog"
	"os/exec"
	"sync"
)

// Speaker voices assistant messages.
type Speaker interface {
	// Speak queues text for spoken output. Non-blocking.
	Speak(text string)
	// Cancel stops any in-progress speech. Called when new user input
	// arrives so the companion never talks over the user.
	Cancel()
}

// Null is a Speaker that does nothing. Used when speech is disabled.
type Null struct{}

func (Null) Speak(string) {}
func (Null) Cancel()      {}

// Command speaks by running an external program with the text as its
// final argument ("say" on macOS, "espeak" on Linux). One utterance at
// a time; starting a new one kills the previous.
type Command struct {
	logger *slog.Logger
	name   string
	args   []string

	mu      sync.Mutex
	current *exec.Cmd
}

// NewCommand creates a command-backed speaker. args are prepended
// before the spoken text.
func NewCommand(logger *slog.Logger, name string, args ...string) *Command {
	if logger == nil {
		logger = slog.Default()
	}
	return &Command{logger: logger, name: name, args: args}
}

func (c *Command) Speak(text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()

	cmd := exec.Command(c.name, append(append([]string(nil), c.args...), text)...)
	if err := cmd.Start(); err != nil {
		c.logger.Warn("speech command failed to start", "command", c.name, "error", err)
		return
	}
	c.current = cmd
	go func() {
		// Reap the process; errors include deliberate kills.
		if err := cmd.Wait(); err != nil {
			c.logger.Debug("speech command ended", "error", err)
		}
	}()
}

func (c *Command) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Command) stopLocked() {
	if c.current != nil && c.current.Process != nil {
		_ = c.current.Process.Kill()
	}
	c.current = nil
}
