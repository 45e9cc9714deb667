package bus

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"
)

// DefaultBufferSize is the per-topic sample cache capacity.
const DefaultBufferSize = 10

// DefaultQueryTimeout bounds every control-plane query.
const DefaultQueryTimeout = 5 * time.Second

var topicPattern = regexp.MustCompile(`^[A-Za-z0-9/_.\-]+$`)

// ValidateTopic rejects topic strings outside the allowed character class for
// bus key expressions. Shared boundary check with the tool registry.
func ValidateTopic(topic string) error {
	if topic == "" || !topicPattern.MatchString(topic) {
		return fmt.Errorf("invalid topic name: %q", topic)
	}
	return nil
}

// buffer is one topic's bounded sample history. Each buffer carries its own
// lock so delivery on unrelated topics never contends.
type buffer struct {
	mu      sync.Mutex
	samples []Sample
	cap     int
}

func (b *buffer) add(s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, s)
	if len(b.samples) > b.cap {
		b.samples = b.samples[len(b.samples)-b.cap:]
	}
}

func (b *buffer) latest() (Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.samples) == 0 {
		return Sample{}, false
	}
	return b.samples[len(b.samples)-1], true
}

func (b *buffer) recent(n int) []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.samples) {
		n = len(b.samples)
	}
	out := make([]Sample, n)
	copy(out, b.samples[len(b.samples)-n:])
	return out
}

func (b *buffer) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Bridge owns bus connectivity, the per-topic sample cache, and the
// control-plane query path. All methods are safe for concurrent use.
type Bridge struct {
	session      Session
	decoder      *Decoder
	scope        string
	machineID    string
	bufferSize   int
	queryTimeout time.Duration

	mu        sync.RWMutex
	buffers   map[string]*buffer
	subs      map[string]Unsubscriber
	callbacks map[string][]func(Sample)
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithBufferSize overrides the per-topic cache capacity.
func WithBufferSize(n int) Option {
	return func(b *Bridge) { b.bufferSize = n }
}

// WithQueryTimeout overrides the control-plane query timeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.queryTimeout = d }
}

// New wires a Bridge over a session. scope and machineID form the topic
// prefix `roost/{scope}/{machineID}/...`.
func New(session Session, decoder *Decoder, scope, machineID string, opts ...Option) *Bridge {
	b := &Bridge{
		session:      session,
		decoder:      decoder,
		scope:        scope,
		machineID:    machineID,
		bufferSize:   DefaultBufferSize,
		queryTimeout: DefaultQueryTimeout,
		buffers:      make(map[string]*buffer),
		subs:         make(map[string]Unsubscriber),
		callbacks:    make(map[string][]func(Sample)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Scope returns the configured fleet scope.
func (b *Bridge) Scope() string { return b.scope }

// MachineID returns the configured machine identifier.
func (b *Bridge) MachineID() string { return b.machineID }

// ScopedTopic builds a fully scoped key from a topic suffix.
func (b *Bridge) ScopedTopic(suffix string) string {
	return fmt.Sprintf("roost/%s/%s/%s", b.scope, b.machineID, suffix)
}

// Subscribe ensures a buffer exists for the topic suffix and that inbound
// messages land in it. Idempotent: re-subscribing an already subscribed topic
// only appends the callback, if any.
func (b *Bridge) Subscribe(suffix string, callback func(Sample)) error {
	if err := ValidateTopic(suffix); err != nil {
		return err
	}
	key := b.ScopedTopic(suffix)

	b.mu.Lock()
	defer b.mu.Unlock()

	if callback != nil {
		b.callbacks[key] = append(b.callbacks[key], callback)
	}
	if _, ok := b.subs[key]; ok {
		return nil
	}

	buf := &buffer{cap: b.bufferSize}
	b.buffers[key] = buf

	sub, err := b.session.Subscribe(key, func(s Sample) {
		buf.add(s)
		b.mu.RLock()
		cbs := b.callbacks[key]
		b.mu.RUnlock()
		for _, cb := range cbs {
			b.safeCallback(key, cb, s)
		}
	})
	if err != nil {
		delete(b.buffers, key)
		return fmt.Errorf("subscribe %s: %w", key, err)
	}
	b.subs[key] = sub
	slog.Info("Subscribed to topic", "key", key)
	return nil
}

// safeCallback keeps one failing capture callback from poisoning delivery to
// the buffer or to other callbacks.
func (b *Bridge) safeCallback(key string, cb func(Sample), s Sample) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Topic callback panicked", "key", key, "panic", r)
		}
	}()
	cb(s)
}

// Latest returns the newest sample for a topic suffix. It never blocks; a
// missing buffer or empty buffer reports ok=false ("no data").
func (b *Bridge) Latest(suffix string) (Sample, bool) {
	b.mu.RLock()
	buf := b.buffers[b.ScopedTopic(suffix)]
	b.mu.RUnlock()
	if buf == nil {
		return Sample{}, false
	}
	return buf.latest()
}

// Recent returns up to n most recent samples for a topic suffix, oldest
// first.
func (b *Bridge) Recent(suffix string, n int) []Sample {
	b.mu.RLock()
	buf := b.buffers[b.ScopedTopic(suffix)]
	b.mu.RUnlock()
	if buf == nil {
		return nil
	}
	return buf.recent(n)
}

// Decode runs the decode-fallback chain on a sample.
func (b *Bridge) Decode(s Sample) Decoded {
	return b.decoder.Decode(s.Key, s.Payload)
}

// BufferedTopics lists every key with at least one cached sample and its
// sample count, sorted by key.
func (b *Bridge) BufferedTopics() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]int)
	for key, buf := range b.buffers {
		if n := buf.size(); n > 0 {
			out[key] = n
		}
	}
	return out
}

// BufferedTopicKeys returns the sorted keys of BufferedTopics.
func (b *Bridge) BufferedTopicKeys() []string {
	topics := b.BufferedTopics()
	keys := make([]string, 0, len(topics))
	for k := range topics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Publish sends payload to a scoped topic suffix. Fire and forget.
func (b *Bridge) Publish(suffix string, payload []byte) error {
	if err := ValidateTopic(suffix); err != nil {
		return err
	}
	return b.session.Publish(b.ScopedTopic(suffix), payload)
}

// PublishHealth emits a health heartbeat for a node.
func (b *Bridge) PublishHealth(node string) {
	key := fmt.Sprintf("roost/%s/%s/health/%s", b.scope, b.machineID, node)
	if err := b.session.Publish(key, []byte(node)); err != nil {
		slog.Debug("Heartbeat publish failed", "node", node, "error", err)
	}
}

// Query performs a bounded request/response exchange against a raw key
// expression. Timeout and transport errors come back as errors wrapping
// ErrNoReply; callers must treat them as "unknown", never as a node state.
func (b *Bridge) Query(ctx context.Context, key string, payload []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.queryTimeout)
	defer cancel()

	reply, err := b.session.Query(ctx, key, payload)
	if err != nil {
		return "", fmt.Errorf("query %s: %w", key, ErrNoReply)
	}
	return string(reply), nil
}

// QueryDaemon queries the node-management control plane. The daemon listens
// on `roost/{machineID}/daemon/api/{endpoint}` (no scope in daemon paths).
func (b *Bridge) QueryDaemon(ctx context.Context, endpoint string, payload []byte) (string, error) {
	key := fmt.Sprintf("roost/%s/daemon/api/%s", b.machineID, endpoint)
	return b.Query(ctx, key, payload)
}

// Close tears down all subscriptions and the underlying session.
func (b *Bridge) Close() error {
	b.mu.Lock()
	for key, sub := range b.subs {
		sub.Unsubscribe()
		delete(b.subs, key)
	}
	b.mu.Unlock()
	return b.session.Close()
}
