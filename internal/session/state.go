package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Store namespaces used by State.
const (
	NamespaceMessages = "messages"
	NamespaceMemories = "memories"
)

// Store persists whole collections as JSON documents keyed by
// namespace. ok is false when the namespace has never been written.
type Store interface {
	Load(ctx context.Context, namespace string) (doc string, ok bool, err error)
	Save(ctx context.Context, namespace string, doc string) error
}

// State is the single owner of the transcript and the memory set.
// Every mutation rewrites the affected collection through the store
// before returning. A failed write is logged and the in-memory state
// stands, so one bad disk moment never loses the conversation.
type State struct {
	logger *slog.Logger
	store  Store

	mu       sync.RWMutex
	messages []Message
	memories []Memory
}

// Load builds a State from whatever the store holds. An absent
// namespace or an unreadable document yields an empty collection and
// a warning, never an error: a fresh session must always start.
func Load(ctx context.Context, logger *slog.Logger, store Store) *State {
	if logger == nil {
		logger = slog.Default()
	}
	s := &State{logger: logger, store: store}
	s.messages = loadCollection[Message](ctx, logger, store, NamespaceMessages)
	s.memories = loadCollection[Memory](ctx, logger, store, NamespaceMemories)
	return s
}

func loadCollection[T any](ctx context.Context, logger *slog.Logger, store Store, namespace string) []T {
	if store == nil {
		return nil
	}
	doc, ok, err := store.Load(ctx, namespace)
	if err != nil {
		logger.Warn("session load failed, starting empty",
			"namespace", namespace, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	var out []T
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		logger.Warn("session document unreadable, starting empty",
			"namespace", namespace, "error", err)
		return nil
	}
	return out
}

// AppendMessage commits a message to the transcript.
func (s *State) AppendMessage(ctx context.Context, m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	s.persist(ctx, NamespaceMessages, s.messages)
}

// AppendMemory commits a memory to the memory set.
func (s *State) AppendMemory(ctx context.Context, m Memory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories = append(s.memories, m)
	s.persist(ctx, NamespaceMemories, s.memories)
}

// ReplaceAll swaps both collections in one step. Used by backup
// import: either both collections change or neither does.
func (s *State) ReplaceAll(ctx context.Context, memories []Memory, messages []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories = append([]Memory(nil), memories...)
	s.messages = append([]Message(nil), messages...)
	s.persist(ctx, NamespaceMemories, s.memories)
	s.persist(ctx, NamespaceMessages, s.messages)
}

// persist rewrites one collection through the store. Callers hold mu.
func (s *State) persist(ctx context.Context, namespace string, collection any) {
	if s.store == nil {
		return
	}
	doc, err := json.Marshal(collection)
	if err != nil {
		s.logger.Warn("session encode failed", "namespace", namespace, "error", err)
		return
	}
	if err := s.store.Save(ctx, namespace, string(doc)); err != nil {
		s.logger.Warn("session save failed, in-memory state retained",
			"namespace", namespace, "error", err)
	}
}

// Messages returns a copy of the transcript in insertion order.
func (s *State) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.messages...)
}

// Memories returns a copy of the memory set in insertion order.
func (s *State) Memories() []Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Memory(nil), s.memories...)
}

// MemoriesNewestFirst returns the memory set ordered newest first,
// the presentation order. Storage order stays insertion order.
func (s *State) MemoriesNewestFirst() []Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Memory, len(s.memories))
	for i, m := range s.memories {
		out[len(s.memories)-1-i] = m
	}
	return out
}

// LastMessage returns the newest transcript entry, if any.
func (s *State) LastMessage() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Counts reports the collection sizes.
func (s *State) Counts() (memories, messages int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.memories), len(s.messages)
}

func (s *State) String() string {
	mem, msg := s.Counts()
	return fmt.Sprintf("session: %d messages, %d memories", msg, mem)
}
