// Package reengage restarts a conversation that has gone quiet. A
// single debounced timer arms whenever the user is left waiting (last
// word was theirs and the assistant is not composing) and fires a
// proactive question after the quiet period. Any conversation activity
// resets the clock.
package reengage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/novakit/nova/internal/session"
)

// DefaultQuietPeriod is how long the user is left unanswered before
// the companion speaks up.
const DefaultQuietPeriod = 2 * time.Minute

// nudgeTimeout bounds the language service call made by a fire.
const nudgeTimeout = time.Minute

// Conversation is the scheduler's view of the engine.
type Conversation interface {
	// LastRole reports who spoke last. ok is false when the
	// transcript is empty.
	LastRole() (role session.Role, ok bool)
	// Typing reports whether a reply is being composed.
	Typing() bool
	// Nudge generates and delivers one proactive question.
	Nudge(ctx context.Context) error
}

// Scheduler debounces conversation activity into at most one nudge
// per quiet period.
type Scheduler struct {
	logger *slog.Logger
	conv   Conversation
	quiet  time.Duration

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
	armed bool
}

// New creates a scheduler. quiet falls back to DefaultQuietPeriod
// when zero or negative.
func New(logger *slog.Logger, conv Conversation, quiet time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Scheduler{logger: logger, conv: conv, quiet: quiet}
}

// Notify tells the scheduler the conversation changed in any way: a
// message appended, typing started or stopped, a bootstrap ran. The
// pending timer (if any) is cancelled and the arm decision is made
// fresh. Safe to call from any goroutine.
func (s *Scheduler) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Invalidate any fire already scheduled. A timer callback that
	// lost the race observes the stale generation and does nothing.
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.armed = false

	role, ok := s.conv.LastRole()
	if !ok || role != session.RoleUser || s.conv.Typing() {
		return
	}

	gen := s.gen
	s.armed = true
	s.timer = time.AfterFunc(s.quiet, func() { s.fire(gen) })
	s.logger.Debug("re-engagement armed", "quiet", s.quiet)
}

// fire runs in the timer goroutine.
func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.armed = false
	s.timer = nil

	// The premise can have decayed between arming and firing.
	role, ok := s.conv.LastRole()
	if !ok || role != session.RoleUser || s.conv.Typing() {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), nudgeTimeout)
	defer cancel()

	s.logger.Info("quiet period elapsed, re-engaging")
	if err := s.conv.Nudge(ctx); err != nil {
		// Silence stays silence; try again on the next quiet period.
		s.logger.Warn("re-engagement failed", "error", err)
	}
}

// Stop cancels any pending nudge. The scheduler can be re-armed by a
// later Notify.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.armed = false
}

// Armed reports whether a nudge is currently pending.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}
