// Package bus bridges the pub/sub bus into a pollable, bounded, type-degrading
// sample cache and provides the synchronous query path to the control plane.
package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Sample is a single message received from a topic.
type Sample struct {
	Key       string
	Payload   []byte
	Timestamp time.Time
}

// Errors returned by the query path. Callers must treat either as "unknown
// state", never as "stopped" or "failed".
var (
	ErrNoReply = errors.New("no response (timeout or no responders)")
	ErrClosed  = errors.New("session closed")
)

// Session is the transport capability the bridge is built on: fire-and-forget
// publish, subscribe with callback delivery, and request/response queries.
// The bus transport's own guarantee (best-effort, at-most-once) applies.
type Session interface {
	// Publish sends payload to key. Best effort; no delivery guarantee.
	Publish(key string, payload []byte) error

	// Subscribe registers fn for every message delivered to key. A '*'
	// segment in key matches any single segment.
	Subscribe(key string, fn func(Sample)) (Unsubscriber, error)

	// Query performs a request/response exchange against key. It honors
	// ctx cancellation and returns ErrNoReply when nothing answers.
	Query(ctx context.Context, key string, payload []byte) ([]byte, error)

	Close() error
}

// Unsubscriber cancels a subscription.
type Unsubscriber interface {
	Unsubscribe()
}

// MemorySession is an in-process Session. It backs tests and standalone mode,
// where producers and the agent share one process.
type MemorySession struct {
	mu         sync.RWMutex
	subs       map[int]*memorySub
	queryables map[string]func(payload []byte) ([]byte, error)
	nextID     int
	closed     bool
}

type memorySub struct {
	id      int
	key     string
	fn      func(Sample)
	session *MemorySession
}

// NewMemorySession creates an empty in-process session.
func NewMemorySession() *MemorySession {
	return &MemorySession{
		subs:       make(map[int]*memorySub),
		queryables: make(map[string]func([]byte) ([]byte, error)),
	}
}

func (s *MemorySession) Publish(key string, payload []byte) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	var matched []*memorySub
	for _, sub := range s.subs {
		if keyMatches(sub.key, key) {
			matched = append(matched, sub)
		}
	}
	s.mu.RUnlock()

	sample := Sample{Key: key, Payload: payload, Timestamp: time.Now()}
	for _, sub := range matched {
		sub.fn(sample)
	}
	return nil
}

func (s *MemorySession) Subscribe(key string, fn func(Sample)) (Unsubscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.nextID++
	sub := &memorySub{id: s.nextID, key: key, fn: fn, session: s}
	s.subs[sub.id] = sub
	return sub, nil
}

func (sub *memorySub) Unsubscribe() {
	sub.session.mu.Lock()
	defer sub.session.mu.Unlock()
	delete(sub.session.subs, sub.id)
}

// HandleQuery registers a queryable for an exact key prefix. Later queries
// whose key starts with prefix are answered by fn.
func (s *MemorySession) HandleQuery(prefix string, fn func(payload []byte) ([]byte, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryables[prefix] = fn
}

func (s *MemorySession) Query(ctx context.Context, key string, payload []byte) ([]byte, error) {
	s.mu.RLock()
	var handler func([]byte) ([]byte, error)
	for prefix, fn := range s.queryables {
		if strings.HasPrefix(key, prefix) {
			handler = fn
			break
		}
	}
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, ErrNoReply
	}
	if handler == nil {
		return nil, ErrNoReply
	}
	return handler(payload)
}

func (s *MemorySession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = make(map[int]*memorySub)
	return nil
}

// keyMatches reports whether a subscription key matches a published key.
// A '*' segment in the subscription matches exactly one segment.
func keyMatches(subKey, pubKey string) bool {
	if subKey == pubKey {
		return true
	}
	if !strings.Contains(subKey, "*") {
		return false
	}
	sp := strings.Split(subKey, "/")
	pp := strings.Split(pubKey, "/")
	if len(sp) != len(pp) {
		return false
	}
	for i := range sp {
		if sp[i] != "*" && sp[i] != pp[i] {
			return false
		}
	}
	return true
}
