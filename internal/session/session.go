// Package session owns the conversational state: the running message
// transcript and the long-term memory set. Both collections are
// append-only; entries are immutable once created. All mutation flows
// through [State]; no other component writes either collection.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a transcript message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Category groups extracted memories.
type Category string

const (
	CategoryPreference Category = "preference" // How the user likes things
	CategoryFact       Category = "fact"       // Stable facts (name, allergies)
	CategoryHistory    Category = "history"    // Past events the user mentioned
	CategoryOther      Category = "other"      // Everything else
)

// ParseCategory maps a free-form category string onto the closed enum.
// The language service occasionally invents labels; anything
// unrecognized becomes CategoryOther rather than leaking through.
func ParseCategory(s string) Category {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryPreference, CategoryFact, CategoryHistory, CategoryOther:
		return c
	default:
		return CategoryOther
	}
}

// Message is one transcript entry. The JSON field names match the
// backup document schema, so exported documents stay readable by
// earlier builds.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsAudio   bool      `json:"isAudio,omitempty"`
}

// Memory is one durable statement about the user worth recalling
// across sessions.
type Memory struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Category  Category  `json:"category"`
	Timestamp time.Time `json:"timestamp"`
}

// NewID mints an identifier for messages and memories.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewUserMessage builds a user-authored message stamped with the
// current instant.
func NewUserMessage(text string, isAudio bool) Message {
	return Message{
		ID:        NewID(),
		Role:      RoleUser,
		Text:      text,
		Timestamp: time.Now().UTC(),
		IsAudio:   isAudio,
	}
}

// NewModelMessage builds an assistant-authored message stamped with
// the current instant.
func NewModelMessage(text string) Message {
	return Message{
		ID:        NewID(),
		Role:      RoleModel,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

// NewMemory builds a memory entry stamped with the current instant.
func NewMemory(text string, category Category) Memory {
	return Memory{
		ID:        NewID(),
		Text:      text,
		Category:  category,
		Timestamp: time.Now().UTC(),
	}
}
