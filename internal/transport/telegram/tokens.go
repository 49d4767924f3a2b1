package telegram

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"
)

const (
	defaultStateTTL = 24 * time.Hour
	defaultStateMax = 5000
	cleanupInterval = time.Minute
)

var errStoreFull = errors.New("callback state store full")

// StateStore keeps callback state server-side. Telegram limits callback_data
// to 64 bytes, so buttons carry only the token.
type StateStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, token string) ([]byte, bool, error)
}

// Persister is durable storage behind a MemoryStore. It lets buttons keep
// working across restarts.
type Persister interface {
	PutEnvelope(ctx context.Context, token string, data []byte, expires time.Time) error
	GetEnvelope(ctx context.Context, token string) ([]byte, bool, error)
}

type stateEntry struct {
	b   []byte
	exp time.Time
}

// MemoryStore is an in-memory TTL StateStore with an optional Persister.
// Tokens are "~" plus 8 base64url characters and never contain ':'.
type MemoryStore struct {
	mu          sync.Mutex
	ttl         time.Duration
	max         int
	m           map[string]stateEntry
	nextCleanup time.Time
	persist     Persister
	now         func() time.Time
}

func NewMemoryStore(ttl time.Duration, persist Persister) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		max:     defaultStateMax,
		m:       map[string]stateEntry{},
		persist: persist,
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(ctx context.Context, data []byte) (string, error) {
	if data == nil {
		data = []byte{}
	}
	now := s.now()
	exp := now.Add(s.ttl)

	var buf [6]byte
	var tok string
	s.mu.Lock()
	s.cleanupLocked(now)
	if len(s.m) >= s.max {
		s.evictOldestLocked()
	}
	for i := 0; i < 8 && tok == ""; i++ {
		_, _ = rand.Read(buf[:])
		cand := "~" + base64.RawURLEncoding.EncodeToString(buf[:])
		if _, exists := s.m[cand]; !exists {
			tok = cand
		}
	}
	if tok == "" {
		s.mu.Unlock()
		return "", errStoreFull
	}
	s.m[tok] = stateEntry{b: append([]byte(nil), data...), exp: exp}
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.PutEnvelope(ctx, tok, data, exp); err != nil {
			return "", err
		}
	}
	return tok, nil
}

func (s *MemoryStore) Get(ctx context.Context, token string) ([]byte, bool, error) {
	now := s.now()
	s.mu.Lock()
	e, ok := s.m[token]
	if ok && now.After(e.exp) {
		delete(s.m, token)
		ok = false
	}
	s.mu.Unlock()
	if ok {
		return append([]byte(nil), e.b...), true, nil
	}
	if s.persist == nil {
		return nil, false, nil
	}
	return s.persist.GetEnvelope(ctx, token)
}

func (s *MemoryStore) cleanupLocked(now time.Time) {
	if now.Before(s.nextCleanup) {
		return
	}
	s.nextCleanup = now.Add(cleanupInterval)
	for k, e := range s.m {
		if now.After(e.exp) {
			delete(s.m, k)
		}
	}
}

func (s *MemoryStore) evictOldestLocked() {
	var oldest string
	var at time.Time
	for k, e := range s.m {
		if oldest == "" || e.exp.Before(at) {
			oldest, at = k, e.exp
		}
	}
	if oldest != "" {
		delete(s.m, oldest)
	}
}
