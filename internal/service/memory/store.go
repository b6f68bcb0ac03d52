package memory

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/z-parlor/backend/internal/model/chat"
)

var ErrSessionRequired = errors.New("session id is required")

// Durable is the persistent history tier. Implementations must keep
// messages for one session ordered by their sequence number.
type Durable interface {
	Append(ctx context.Context, seq uint64, msg chat.Message) error
	// Load returns the full session history in insertion order plus the
	// highest sequence number seen.
	Load(ctx context.Context, sessionID string) ([]chat.Message, uint64, error)
	Clear(ctx context.Context, sessionID string) error
}

// Config tunes the fast tier and the async durable flush.
type Config struct {
	// TTL is the fast-tier expiry. 与原版一致默认48小时。
	TTL time.Duration
	// FlushRetries bounds the durable write retry loop.
	FlushRetries int
	// FlushBackoff is the initial retry backoff; it doubles per attempt.
	FlushBackoff time.Duration
	// FlushTimeout bounds each individual durable write.
	FlushTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 48 * time.Hour
	}
	if c.FlushRetries <= 0 {
		c.FlushRetries = 5
	}
	if c.FlushBackoff <= 0 {
		c.FlushBackoff = 100 * time.Millisecond
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 5 * time.Second
	}
	return c
}

// record is the fast-tier view of one session: its ordered messages, a
// monotonically non-decreasing sequence counter, and the count of
// durable writes still in flight (the dirty marker).
type record struct {
	messages  []chat.Message
	seq       uint64
	pending   int
	expiresAt time.Time
}

// Store is the two-tier session history store. The fast tier is an
// expiring in-memory view; the durable tier receives every append
// asynchronously with bounded retry and never blocks a turn.
//
// All operations for one session id must run under that session's
// exclusive token (LockSession/UnlockSession); operations on distinct
// sessions proceed concurrently.
type Store struct {
	durable Durable
	cfg     Config
	now     func() time.Time

	mu      sync.Mutex
	records map[string]*record
	locks   map[string]*sync.Mutex
	// flushes tracks in-flight durable writes per session so Clear can
	// drain one session without waiting on the others.
	flushes map[string]*sync.WaitGroup

	fill singleflight.Group
}

// NewStore creates a Store over the given durable tier.
func NewStore(durable Durable, cfg Config) *Store {
	return &Store{
		durable: durable,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		records: make(map[string]*record),
		locks:   make(map[string]*sync.Mutex),
		flushes: make(map[string]*sync.WaitGroup),
	}
}

// LockSession acquires the per-session exclusive token. The orchestrator
// holds it across the whole read-modify sequence of a turn.
func (s *Store) LockSession(sessionID string) {
	s.sessionMutex(sessionID).Lock()
}

// UnlockSession releases the per-session token.
func (s *Store) UnlockSession(sessionID string) {
	s.sessionMutex(sessionID).Unlock()
}

func (s *Store) sessionMutex(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[sessionID] = m
	}
	return m
}

// History returns the most recent limit messages in chronological order.
// A fast-tier hit is served directly; a miss or expired entry triggers a
// cache fill from the durable tier with a refreshed expiry. limit <= 0
// returns the full history.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]chat.Message, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}

	s.mu.Lock()
	if rec, ok := s.records[sessionID]; ok && s.liveLocked(rec) {
		messages := tail(rec.messages, limit)
		s.mu.Unlock()
		return messages, nil
	}
	s.mu.Unlock()

	// Concurrent misses for the same session collapse into one durable read.
	v, err, _ := s.fill.Do(sessionID, func() (any, error) {
		return s.fillFromDurable(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return tail(v.([]chat.Message), limit), nil
}

// Append stores msg in the fast tier synchronously and enqueues the
// durable write. It returns the message as persisted (id and timestamp
// assigned). Durable-tier latency and failures never block or fail the
// caller.
func (s *Store) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if msg.SessionID == "" {
		return chat.Message{}, ErrSessionRequired
	}

	rec, err := s.ensure(ctx, msg.SessionID)
	if err != nil {
		return chat.Message{}, err
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}

	s.mu.Lock()
	rec.seq++
	seq := rec.seq
	rec.messages = append(rec.messages, msg)
	rec.pending++
	rec.expiresAt = s.now().Add(s.cfg.TTL)
	wg := s.flushes[msg.SessionID]
	if wg == nil {
		wg = &sync.WaitGroup{}
		s.flushes[msg.SessionID] = wg
	}
	wg.Add(1)
	s.mu.Unlock()

	go s.flushAsync(wg, msg.SessionID, seq, msg)

	return msg, nil
}

// Clear removes both tiers for the session. It takes the session token
// itself so a turn in flight finishes before its history vanishes, and
// is visible to any History call issued after it returns.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionRequired
	}

	s.LockSession(sessionID)
	defer s.UnlockSession(sessionID)

	s.mu.Lock()
	delete(s.records, sessionID)
	wg := s.flushes[sessionID]
	delete(s.flushes, sessionID)
	s.mu.Unlock()

	// Drain this session's in-flight durable writes so a late flush
	// cannot resurrect a message the caller watched disappear.
	if wg != nil {
		wg.Wait()
	}

	return s.durable.Clear(ctx, sessionID)
}

// Close waits for in-flight durable writes to drain.
func (s *Store) Close() {
	s.mu.Lock()
	wgs := make([]*sync.WaitGroup, 0, len(s.flushes))
	for _, wg := range s.flushes {
		wgs = append(wgs, wg)
	}
	s.mu.Unlock()
	for _, wg := range wgs {
		wg.Wait()
	}
}

// liveLocked reports whether the record may serve reads: within TTL, or
// still dirty (pending durable writes make the fast tier the freshest
// view regardless of expiry). Caller holds s.mu.
func (s *Store) liveLocked(rec *record) bool {
	return rec.pending > 0 || s.now().Before(rec.expiresAt)
}

// ensure returns the session's live record, filling from the durable
// tier when the fast tier is cold.
func (s *Store) ensure(ctx context.Context, sessionID string) (*record, error) {
	s.mu.Lock()
	if rec, ok := s.records[sessionID]; ok && s.liveLocked(rec) {
		s.mu.Unlock()
		return rec, nil
	}
	s.mu.Unlock()

	if _, err, _ := s.fill.Do(sessionID, func() (any, error) {
		return s.fillFromDurable(ctx, sessionID)
	}); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		// A Clear raced the fill and dropped the entry; the session
		// restarts empty.
		rec = &record{expiresAt: s.now().Add(s.cfg.TTL)}
		s.records[sessionID] = rec
	}
	return rec, nil
}

func (s *Store) fillFromDurable(ctx context.Context, sessionID string) ([]chat.Message, error) {
	messages, seq, err := s.durable.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// An append may have landed while the fill was reading; keep the
	// fast-tier view in that case, it is strictly newer.
	if rec, ok := s.records[sessionID]; ok && s.liveLocked(rec) {
		return append([]chat.Message(nil), rec.messages...), nil
	}

	s.records[sessionID] = &record{
		messages:  messages,
		seq:       seq,
		expiresAt: s.now().Add(s.cfg.TTL),
	}
	return append([]chat.Message(nil), messages...), nil
}

// flushAsync pushes one message to the durable tier with bounded
// exponential backoff. Exhausted retries are logged for external
// remediation, never surfaced to the turn.
func (s *Store) flushAsync(wg *sync.WaitGroup, sessionID string, seq uint64, msg chat.Message) {
	defer wg.Done()
	defer s.markFlushed(sessionID)

	backoff := s.cfg.FlushBackoff
	for attempt := 1; attempt <= s.cfg.FlushRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
		err := s.durable.Append(ctx, seq, msg)
		cancel()
		if err == nil {
			return
		}

		log.Printf("[memory] durable append failed: session=%s seq=%d attempt=%d/%d err=%v",
			sessionID, seq, attempt, s.cfg.FlushRetries, err)
		if attempt < s.cfg.FlushRetries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	log.Printf("[memory] durable append dropped after retries: session=%s seq=%d", sessionID, seq)
}

func (s *Store) markFlushed(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[sessionID]; ok && rec.pending > 0 {
		rec.pending--
	}
}

func tail(messages []chat.Message, limit int) []chat.Message {
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}
	return append([]chat.Message(nil), messages[start:]...)
}
