// Package engine orchestrates the conversation. Each user turn fans
// out into two pipelines: fact extraction runs in the background and
// may add a memory, while reply generation answers in the foreground.
// A failed reply still answers (with an apology); a failed extraction
// is invisible. The engine also owns session bootstrap, the atomic
// import swap, and the state the re-engagement scheduler reads.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/novakit/nova/internal/events"
	"github.com/novakit/nova/internal/language"
	"github.com/novakit/nova/internal/session"
	"github.com/novakit/nova/internal/speech"
)

// DefaultGreeting opens a brand-new session. Fixed text; no language
// service call is made for it.
const DefaultGreeting = "Hi! I'm Nova. I have a long-term memory, so if you tell me things about yourself (like allergies, hobbies, or plans), I'll remember them for next time. What's on your mind?"

// DefaultHistoryWindow is how many trailing transcript messages the
// reply pipeline sends as context. Older context rides in on memories.
const DefaultHistoryWindow = 10

// DefaultWelcomeAfter is the absence threshold for a welcome-back
// message on bootstrap.
const DefaultWelcomeAfter = time.Hour

// ErrEmptyMessage is returned when user input trims to nothing.
var ErrEmptyMessage = errors.New("empty message")

// ErrNothingHeard is returned when audio transcribes to nothing. The
// caller should ask the user to try again.
var ErrNothingHeard = errors.New("nothing heard in audio")

// Config tunes the engine.
type Config struct {
	// HistoryWindow caps the reply pipeline's transcript context.
	HistoryWindow int
	// WelcomeAfter is how long an absence must last before bootstrap
	// generates a welcome-back message.
	WelcomeAfter time.Duration
	// Greeting overrides DefaultGreeting when non-empty.
	Greeting string
	// Muted starts the session with speech off.
	Muted bool
}

// Engine is the conversation orchestrator.
type Engine struct {
	logger  *slog.Logger
	state   *session.State
	svc     language.Service
	speaker speech.Speaker
	bus     *events.Bus

	window       int
	welcomeAfter time.Duration
	greeting     string

	mu         sync.Mutex
	typing     bool
	processing bool
	muted      bool
	notify     func()

	wg sync.WaitGroup
}

// New creates an engine. bus may be nil (events are dropped); speaker
// may be nil (treated as disabled).
func New(logger *slog.Logger, state *session.State, svc language.Service, speaker speech.Speaker, bus *events.Bus, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if speaker == nil {
		speaker = speech.Null{}
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.WelcomeAfter <= 0 {
		cfg.WelcomeAfter = DefaultWelcomeAfter
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	return &Engine{
		logger:       logger,
		state:        state,
		svc:          svc,
		speaker:      speaker,
		bus:          bus,
		window:       cfg.HistoryWindow,
		welcomeAfter: cfg.WelcomeAfter,
		greeting:     cfg.Greeting,
		muted:        cfg.Muted,
	}
}

// SetNotifier installs the callback invoked after every conversation
// change (message appended, typing flag moved). The re-engagement
// scheduler hangs off this.
func (e *Engine) SetNotifier(fn func()) {
	e.mu.Lock()
	e.notify = fn
	e.mu.Unlock()
}

func (e *Engine) notifyChanged() {
	e.mu.Lock()
	fn := e.notify
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// ProcessText runs one user turn. It returns the assistant's reply
// message; by the time it returns, both the user message and the
// reply are committed. Fact extraction continues in the background
// and is drained by Wait.
func (e *Engine) ProcessText(ctx context.Context, text string) (*session.Message, error) {
	return e.process(ctx, text, false)
}

// ProcessAudio transcribes spoken audio and runs the result as a
// turn. Unintelligible audio returns ErrNothingHeard and leaves the
// transcript untouched.
func (e *Engine) ProcessAudio(ctx context.Context, audio []byte, mimeType string) (*session.Message, error) {
	transcript, err := e.svc.TranscribeAudio(ctx, audio, mimeType)
	if err != nil {
		return nil, fmt.Errorf("transcribe audio: %w", err)
	}
	if strings.TrimSpace(transcript) == "" {
		return nil, ErrNothingHeard
	}
	return e.process(ctx, transcript, true)
}

func (e *Engine) process(ctx context.Context, text string, isAudio bool) (*session.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	// The user has the floor now.
	e.speaker.Cancel()

	// Snapshot before the append: the reply pipeline's history must
	// not contain the utterance it is answering.
	history := e.state.Messages()

	userMsg := session.NewUserMessage(text, isAudio)
	e.appendMessage(ctx, userMsg)

	// Extraction must survive the caller hanging up mid-turn, so it
	// gets a context detached from cancellation.
	e.wg.Add(1)
	go e.extractFact(context.WithoutCancel(ctx), text)

	reply := e.generateReply(ctx, history, text)
	e.appendMessage(ctx, reply)
	return &reply, nil
}

// generateReply runs the foreground pipeline. It always produces a
// message: a service failure becomes an apology that embeds the error
// text, and exactly one assistant message results either way.
func (e *Engine) generateReply(ctx context.Context, history []session.Message, utterance string) session.Message {
	e.setTyping(true)
	defer e.setTyping(false)

	text, err := e.svc.GenerateReply(ctx, lastN(history, e.window), utterance, e.state.Memories())
	if err != nil {
		e.logger.Error("reply generation failed", "error", err)
		apology := fmt.Sprintf("I'm having a little trouble connecting to my brain right now. Can you say that again? (Error: %v)", err)
		return session.NewModelMessage(apology)
	}

	e.speak(text)
	return session.NewModelMessage(text)
}

// extractFact runs the background pipeline for one utterance.
func (e *Engine) extractFact(ctx context.Context, utterance string) {
	defer e.wg.Done()
	e.setProcessing(true)
	defer e.setProcessing(false)

	fact, err := e.svc.ExtractFact(ctx, utterance)
	if err != nil {
		// The turn already succeeded from the user's point of view.
		e.logger.Debug("fact extraction failed", "error", err)
		return
	}
	if fact == nil {
		e.logger.Debug("no memorable fact in utterance")
		return
	}

	memory := session.NewMemory(fact.Fact, fact.Category)
	e.state.AppendMemory(ctx, memory)
	e.logger.Info("memory saved", "category", memory.Category, "text", memory.Text)
	e.bus.Emit(events.SourceEngine, events.KindMemoryExtracted, map[string]any{
		"id":       memory.ID,
		"text":     memory.Text,
		"category": string(memory.Category),
	})
}

// Bootstrap opens a session. An empty transcript gets the fixed
// greeting; a transcript whose last message is older than the welcome
// threshold gets a generated welcome-back; anything younger resumes
// silently. Returns the appended message, if any. Welcome generation
// failure is swallowed: the user simply resumes without fanfare.
func (e *Engine) Bootstrap(ctx context.Context) *session.Message {
	last, ok := e.state.LastMessage()
	if !ok {
		// The first-run greeting is read, not heard. Only generated
		// welcomes and nudges are voiced.
		greeting := session.NewModelMessage(e.greeting)
		e.appendMessage(ctx, greeting)
		return &greeting
	}

	if time.Since(last.Timestamp) <= e.welcomeAfter {
		e.notifyChanged()
		return nil
	}

	text, err := e.svc.GenerateWelcomeMessage(ctx, e.state.Memories(), last.Timestamp)
	if err != nil {
		e.logger.Warn("welcome message failed, resuming quietly", "error", err)
		e.notifyChanged()
		return nil
	}
	welcome := session.NewModelMessage(text)
	e.appendMessage(ctx, welcome)
	e.speak(welcome.Text)
	return &welcome
}

// Nudge generates and commits one proactive question. Called by the
// re-engagement scheduler after a quiet period.
func (e *Engine) Nudge(ctx context.Context) error {
	text, err := e.svc.GenerateProactiveQuestion(ctx, e.state.Memories())
	if err != nil {
		return fmt.Errorf("proactive question: %w", err)
	}
	msg := session.NewModelMessage(text)
	e.appendMessage(ctx, msg)
	e.speak(text)
	e.bus.Emit(events.SourceReengage, events.KindNudgeFired, map[string]any{"text": text})
	return nil
}

// ReplaceAll swaps the whole session, the backup import target.
func (e *Engine) ReplaceAll(ctx context.Context, memories []session.Memory, messages []session.Message) {
	e.state.ReplaceAll(ctx, memories, messages)
	e.bus.Emit(events.SourceEngine, events.KindBackupImported, map[string]any{
		"memories": len(memories),
		"messages": len(messages),
	})
	e.notifyChanged()
}

// Wait blocks until in-flight background pipelines drain. Call on
// shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// State exposes the session for read paths (transcript and memory
// listings, export).
func (e *Engine) State() *session.State {
	return e.state
}

// LastRole reports who spoke last; ok is false on an empty
// transcript.
func (e *Engine) LastRole() (session.Role, bool) {
	last, ok := e.state.LastMessage()
	if !ok {
		return "", false
	}
	return last.Role, true
}

// Typing reports whether a reply is being composed.
func (e *Engine) Typing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.typing
}

// Processing reports whether fact extraction is in flight.
func (e *Engine) Processing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processing
}

// Muted reports whether spoken output is off.
func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// SetMuted toggles spoken output. Muting cuts off any speech already
// in progress.
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	e.muted = muted
	e.mu.Unlock()
	if muted {
		e.speaker.Cancel()
	}
}

func (e *Engine) speak(text string) {
	if e.Muted() {
		return
	}
	e.speaker.Speak(text)
}

func (e *Engine) appendMessage(ctx context.Context, m session.Message) {
	e.state.AppendMessage(ctx, m)
	e.bus.Emit(events.SourceEngine, events.KindMessageAppended, map[string]any{
		"id":       m.ID,
		"role":     string(m.Role),
		"text":     m.Text,
		"is_audio": m.IsAudio,
	})
	e.notifyChanged()
}

func (e *Engine) setTyping(v bool) {
	e.mu.Lock()
	e.typing = v
	e.mu.Unlock()
	e.bus.Emit(events.SourceEngine, events.KindTyping, map[string]any{"active": v})
	e.notifyChanged()
}

func (e *Engine) setProcessing(v bool) {
	e.mu.Lock()
	e.processing = v
	e.mu.Unlock()
	e.bus.Emit(events.SourceEngine, events.KindFactProcessing, map[string]any{"active": v})
}

// lastN returns the trailing n entries of history.
func lastN(history []session.Message, n int) []session.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
