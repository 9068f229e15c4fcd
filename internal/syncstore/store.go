// Package syncstore gives the managers a durable key-value interface
// that degrades gracefully without network access: writes mirror to a
// local cache first, then reach for the remote store; failed remote
// writes queue for retry with Fibonacci backoff.
package syncstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asdfhub/learnbuild/internal/event"
	"github.com/asdfhub/learnbuild/internal/logger"
)

// DefaultQueueKey is the cache key under which the pending write queue
// is persisted so it survives a restart.
const DefaultQueueKey = "sync:queue"

// DefaultMaxAttempts is the retry budget for a queued write.
const DefaultMaxAttempts = 8

// defaultBackoff is the delay schedule between retry attempts. Attempts
// beyond the schedule reuse the last delay.
var defaultBackoff = []time.Duration{
	1 * time.Second,
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
	5 * time.Second,
	8 * time.Second,
	13 * time.Second,
}

// Options configures a Store.
type Options struct {
	// QueueKey overrides DefaultQueueKey.
	QueueKey string
	// MaxAttempts overrides DefaultMaxAttempts.
	MaxAttempts int
	// WriteTTL is applied to every remote write. Zero means no expiry.
	WriteTTL time.Duration
	// Backoff overrides the retry delay schedule.
	Backoff []time.Duration
}

type queueEntry struct {
	Key      string    `json:"key"`
	Value    string    `json:"value"`
	Attempts int       `json:"attempts"`
	QueuedAt time.Time `json:"queuedAt"`
}

// Store is the durable key-value layer shared by all managers. A nil
// remote is valid and keeps the store permanently offline.
type Store struct {
	remote Remote
	cache  *Cache
	bus    *event.Bus
	log    *logger.Logger
	opts   Options

	mu     sync.Mutex
	online bool
	queue  []queueEntry

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Store, restores any persisted retry queue from the
// cache, and starts the background retry consumer. The store starts
// online iff remote is non-nil.
func New(remote Remote, cache *Cache, bus *event.Bus, log *logger.Logger, opts Options) *Store {
	if opts.QueueKey == "" {
		opts.QueueKey = DefaultQueueKey
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if len(opts.Backoff) == 0 {
		opts.Backoff = defaultBackoff
	}
	s := &Store{
		remote: remote,
		cache:  cache,
		bus:    bus,
		log:    log.With("component", "syncstore"),
		opts:   opts,
		online: remote != nil,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.loadQueue()
	s.wg.Add(1)
	go s.run()
	return s
}

// Write mirrors the value to the local cache, then attempts the remote
// write. Remote failures (or being offline) queue the write for retry;
// they are never returned to the caller. The only error a caller can
// see is a serialization failure.
func (s *Store) Write(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %q: %w", key, err)
	}
	value := string(data)

	if err := s.cache.Put(key, value); err != nil {
		s.log.Warn("local cache write failed", "key", key, "error", err)
	}

	if !s.Online() {
		s.enqueue(key, value)
		s.bus.Publish(event.SyncOffline{Key: key})
		return nil
	}

	if err := s.remote.Set(ctx, key, value, s.opts.WriteTTL); err != nil {
		s.log.Warn("remote write failed, queuing", "key", key, "error", err)
		attempts := s.enqueue(key, value)
		s.bus.Publish(event.SyncQueued{Key: key, Attempts: attempts})
	}
	return nil
}

// Read unmarshals the value for key into dest. The remote store is the
// source of truth when reachable (a hit refreshes the cache); otherwise
// the local cache is the last known good copy. Returns ErrNotFound when
// the key exists nowhere; a remote failure with no cached copy returns
// the remote error instead, since the key may well exist.
func (s *Store) Read(ctx context.Context, key string, dest any) error {
	var remoteErr error
	if s.Online() {
		raw, err := s.remote.Get(ctx, key)
		if err == nil {
			if cerr := s.cache.Put(key, raw); cerr != nil {
				s.log.Warn("cache refresh failed", "key", key, "error", cerr)
			}
			return json.Unmarshal([]byte(raw), dest)
		}
		if !errors.Is(err, ErrNotFound) {
			s.log.Debug("remote read failed, falling back to cache", "key", key, "error", err)
			remoteErr = err
		}
	}

	if raw, ok := s.cache.Get(key); ok {
		return json.Unmarshal([]byte(raw), dest)
	}
	// A transient remote failure with a cold cache is not the same as
	// the key not existing; callers must be able to tell them apart.
	if remoteErr != nil {
		return fmt.Errorf("remote read %q: %w", key, remoteErr)
	}
	return ErrNotFound
}

// Delete removes key from the cache and, when online, from the remote.
// Remote failures are logged, not returned.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.cache.Delete(key); err != nil {
		return err
	}
	if s.Online() {
		if err := s.remote.Del(ctx, key); err != nil {
			s.log.Warn("remote delete failed", "key", key, "error", err)
		}
	}
	return nil
}

// Online reports whether remote writes are currently being attempted.
func (s *Store) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online && s.remote != nil
}

// SetOnline flips the online flag. Going online kicks the retry
// consumer so queued writes drain immediately.
func (s *Store) SetOnline(online bool) {
	s.mu.Lock()
	s.online = online && s.remote != nil
	s.mu.Unlock()
	if online {
		s.kick()
	}
}

// PendingWrites returns the number of queued writes awaiting retry.
func (s *Store) PendingWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Flush synchronously attempts every queued write once, removing the
// ones that succeed. It returns the number of writes still pending.
func (s *Store) Flush(ctx context.Context) int {
	if !s.Online() {
		return s.PendingWrites()
	}
	s.mu.Lock()
	pending := make([]queueEntry, len(s.queue))
	copy(pending, s.queue)
	s.mu.Unlock()

	for _, e := range pending {
		if err := s.remote.Set(ctx, e.Key, e.Value, s.opts.WriteTTL); err != nil {
			continue
		}
		s.removeQueued(e.Key)
		s.bus.Publish(event.SyncFlushed{Key: e.Key})
	}
	return s.PendingWrites()
}

// Close stops the retry consumer. Queued writes stay persisted in the
// cache for the next session.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

// enqueue adds or collapses a pending write for key, persists the
// queue, and wakes the consumer. It returns the entry's attempt count.
func (s *Store) enqueue(key, value string) int {
	s.mu.Lock()
	attempts := 0
	found := false
	for i := range s.queue {
		if s.queue[i].Key == key {
			s.queue[i].Value = value
			attempts = s.queue[i].Attempts
			found = true
			break
		}
	}
	if !found {
		s.queue = append(s.queue, queueEntry{Key: key, Value: value, QueuedAt: time.Now()})
	}
	s.persistQueueLocked()
	s.mu.Unlock()
	s.kick()
	return attempts
}

func (s *Store) removeQueued(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queue {
		if s.queue[i].Key == key {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	s.persistQueueLocked()
}

// run is the single retry consumer: one in-flight retry at a time, in
// queue order, delayed by the entry's backoff.
func (s *Store) run() {
	defer s.wg.Done()
	for {
		entry, ok := s.head()
		if !ok || !s.Online() {
			select {
			case <-s.done:
				return
			case <-s.wake:
			}
			continue
		}

		timer := time.NewTimer(s.backoffDelay(entry.Attempts))
		select {
		case <-s.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		s.attempt(entry.Key)
	}
}

// attempt retries the queued write for key with its latest value.
func (s *Store) attempt(key string) {
	s.mu.Lock()
	var entry *queueEntry
	for i := range s.queue {
		if s.queue[i].Key == key {
			entry = &s.queue[i]
			break
		}
	}
	if entry == nil {
		s.mu.Unlock()
		return
	}
	value := entry.Value
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := s.remote.Set(ctx, key, value, s.opts.WriteTTL)
	cancel()

	if err == nil {
		s.removeQueued(key)
		s.bus.Publish(event.SyncFlushed{Key: key})
		return
	}

	s.mu.Lock()
	attempts := 0
	for i := range s.queue {
		if s.queue[i].Key == key {
			s.queue[i].Attempts++
			attempts = s.queue[i].Attempts
			break
		}
	}
	dropped := attempts >= s.opts.MaxAttempts
	if dropped {
		for i := range s.queue {
			if s.queue[i].Key == key {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				break
			}
		}
	}
	s.persistQueueLocked()
	s.mu.Unlock()

	if dropped {
		s.log.Error("queued write dropped after retry budget", "key", key, "attempts", attempts)
		s.bus.Publish(event.SyncDropped{Key: key, Attempts: attempts})
	} else {
		s.log.Warn("retry failed", "key", key, "attempts", attempts, "error", err)
	}
}

func (s *Store) head() (queueEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return queueEntry{}, false
	}
	return s.queue[0], true
}

func (s *Store) backoffDelay(attempts int) time.Duration {
	if attempts >= len(s.opts.Backoff) {
		return s.opts.Backoff[len(s.opts.Backoff)-1]
	}
	return s.opts.Backoff[attempts]
}

func (s *Store) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// persistQueueLocked serializes the queue into the cache. Callers must
// hold s.mu.
func (s *Store) persistQueueLocked() {
	data, err := json.Marshal(s.queue)
	if err != nil {
		s.log.Warn("marshal retry queue failed", "error", err)
		return
	}
	if err := s.cache.Put(s.opts.QueueKey, string(data)); err != nil {
		s.log.Warn("persist retry queue failed", "error", err)
	}
}

func (s *Store) loadQueue() {
	raw, ok := s.cache.Get(s.opts.QueueKey)
	if !ok {
		return
	}
	var queue []queueEntry
	if err := json.Unmarshal([]byte(raw), &queue); err != nil {
		s.log.Warn("corrupt persisted retry queue, discarding", "error", err)
		return
	}
	s.mu.Lock()
	s.queue = queue
	s.mu.Unlock()
	if len(queue) > 0 {
		s.kick()
	}
}
