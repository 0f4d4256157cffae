// Package memory keeps recent question/answer turns per viewing session so
// follow-up questions about a video can refer to earlier ones.
package memory

import (
	"context"
	"sync"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	cleanupInterval = 5 * time.Minute
)

// Message is a single turn in a session.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type conversation struct {
	videoID   string
	messages  []Message
	updatedAt time.Time
}

// Store is an in-memory, TTL-bounded session store.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
	maxMessages   int
	ttl           time.Duration
	now           func() time.Time
}

// NewStore creates a store and expires idle sessions until ctx is done.
func NewStore(ctx context.Context, maxMessages int, ttl time.Duration) *Store {
	s := &Store{
		conversations: make(map[string]*conversation),
		maxMessages:   maxMessages,
		ttl:           ttl,
		now:           time.Now,
	}
	go s.cleanupLoop(ctx)
	return s
}

// AddTurn records a question and its answer. A session that moves to a
// different video starts over.
func (s *Store) AddTurn(sessionID, videoID, question, answer string) {
	if sessionID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	conv, ok := s.conversations[sessionID]
	if !ok || conv.videoID != videoID {
		conv = &conversation{videoID: videoID}
		s.conversations[sessionID] = conv
	}

	conv.messages = append(conv.messages,
		Message{Role: RoleUser, Content: question, Timestamp: now},
		Message{Role: RoleAssistant, Content: answer, Timestamp: now},
	)
	conv.updatedAt = now

	if len(conv.messages) > s.maxMessages {
		conv.messages = conv.messages[len(conv.messages)-s.maxMessages:]
	}
}

// Recent returns up to n of the latest messages of a session about videoID.
func (s *Store) Recent(sessionID, videoID string, n int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[sessionID]
	if !ok || conv.videoID != videoID || n <= 0 {
		return nil
	}

	msgs := conv.messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Clear removes a session.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, sessionID)
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

func (s *Store) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, conv := range s.conversations {
		if now.Sub(conv.updatedAt) > s.ttl {
			delete(s.conversations, id)
		}
	}
}
