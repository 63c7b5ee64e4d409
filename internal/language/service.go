// Package language defines the language service boundary and its
// Gemini implementation. The engine depends only on the Service
// interface; every call is context-aware and fallible, and the engine
// decides what each failure means for the conversation.
package language

import (
	"context"
	"errors"
	"time"

	"github.com/novakit/nova/internal/session"
)

// ErrEmptyUtterance is returned when a request carries no usable text.
var ErrEmptyUtterance = errors.New("empty utterance")

// ExtractedFact is one memorable statement found in a user utterance.
type ExtractedFact struct {
	Fact     string
	Category session.Category
}

// Service is the language model boundary.
type Service interface {
	// ExtractFact scans one utterance for a durable fact about the
	// user. A (nil, nil) return means the utterance held nothing worth
	// remembering; that is the common case, not an error.
	ExtractFact(ctx context.Context, utterance string) (*ExtractedFact, error)

	// GenerateReply produces the assistant's answer to the utterance.
	// history is the transcript before the utterance, already
	// truncated to the caller's context window; memories is the full
	// memory set.
	GenerateReply(ctx context.Context, history []session.Message, utterance string, memories []session.Memory) (string, error)

	// TranscribeAudio converts spoken audio to text. An empty result
	// with nil error means nothing intelligible was heard.
	TranscribeAudio(ctx context.Context, audio []byte, mimeType string) (string, error)

	// GenerateWelcomeMessage produces a short greeting for a user
	// returning after an absence. lastMessage is when they were last
	// heard from.
	GenerateWelcomeMessage(ctx context.Context, memories []session.Memory, lastMessage time.Time) (string, error)

	// GenerateProactiveQuestion produces a gentle conversation
	// re-opener grounded in what is known about the user.
	GenerateProactiveQuestion(ctx context.Context, memories []session.Memory) (string, error)
}
