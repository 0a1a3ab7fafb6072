// Package ratelimit throttles expensive or guessable requests per caller.
//
// Two independent mechanisms apply to each key:
//   - Sliding-window limit: at most MaxPerMinute attempts in any minute.
//   - Consecutive failure block: after MaxConsecFailures failures in a row
//     the key is refused for BlockDuration. Zero disables the block.
//
// Keys with no attempt in the last minute, no active block and no failure
// within BlockDuration are forgotten, so state is bounded by recent callers.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gluk-w/claworc/keyvault/internal/logging"
	"github.com/gluk-w/claworc/keyvault/internal/logutil"
)

// ErrLimited is matched by every *LimitError.
var ErrLimited = errors.New("rate limited")

// LimitError is returned by Allow when an attempt is refused.
type LimitError struct {
	Key        string
	RetryAfter time.Duration
	Reason     string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s; retry after %s", e.Reason, e.RetryAfter)
}

func (e *LimitError) Is(target error) bool {
	return target == ErrLimited
}

type Config struct {
	MaxPerMinute      int
	MaxConsecFailures int
	BlockDuration     time.Duration
}

type keyState struct {
	attempts       []time.Time
	consecFailures int
	lastFailure    time.Time
	blockedUntil   time.Time
}

func (s *keyState) idle(now time.Time, failureTTL time.Duration) bool {
	if now.Before(s.blockedUntil) {
		return false
	}
	if len(s.attempts) > 0 && s.attempts[len(s.attempts)-1].After(now.Add(-time.Minute)) {
		return false
	}
	return s.consecFailures == 0 || now.Sub(s.lastFailure) > failureTTL
}

// Limiter is safe for concurrent use. A nil *Limiter allows everything.
type Limiter struct {
	mu        sync.Mutex
	cfg       Config
	state     map[string]*keyState
	lastSweep time.Time
	nowFn     func() time.Time
	log       *zap.Logger
}

// New returns a limiter, or nil when cfg.MaxPerMinute is not positive.
func New(name string, cfg Config, logger *zap.Logger) *Limiter {
	if cfg.MaxPerMinute <= 0 {
		return nil
	}
	return &Limiter{
		cfg:   cfg,
		state: make(map[string]*keyState),
		nowFn: time.Now,
		log:   logging.OrNop(logger).Named("ratelimit").With(zap.String("limiter", name)),
	}
}

// Allow records an attempt for key, or returns a *LimitError without
// recording it.
func (l *Limiter) Allow(key string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	l.sweep(now)
	s := l.getOrCreate(key)

	if now.Before(s.blockedUntil) {
		return &LimitError{
			Key:        key,
			RetryAfter: s.blockedUntil.Sub(now).Truncate(time.Second),
			Reason:     fmt.Sprintf("blocked after %d consecutive failures", s.consecFailures),
		}
	}

	cutoff := now.Add(-time.Minute)
	pruned := s.attempts[:0]
	for _, t := range s.attempts {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	s.attempts = pruned

	if len(s.attempts) >= l.cfg.MaxPerMinute {
		l.log.Warn("rate limit exceeded", logutil.String("key", key), zap.Int("max_per_minute", l.cfg.MaxPerMinute))
		return &LimitError{
			Key:        key,
			RetryAfter: s.attempts[0].Add(time.Minute).Sub(now).Truncate(time.Second),
			Reason:     fmt.Sprintf("rate limit exceeded: %d requests in the last minute (max %d)", len(s.attempts), l.cfg.MaxPerMinute),
		}
	}

	s.attempts = append(s.attempts, now)
	return nil
}

// RecordSuccess clears the failure streak of key.
func (l *Limiter) RecordSuccess(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.state[key]
	if !ok {
		return
	}
	s.consecFailures = 0
	s.blockedUntil = time.Time{}
	if s.idle(l.nowFn(), l.failureTTL()) {
		delete(l.state, key)
	}
}

// RecordFailure extends the failure streak of key and blocks it once the
// streak reaches MaxConsecFailures.
func (l *Limiter) RecordFailure(key string) {
	if l == nil || l.cfg.MaxConsecFailures <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	s := l.getOrCreate(key)
	s.consecFailures++
	s.lastFailure = now

	if s.consecFailures >= l.cfg.MaxConsecFailures {
		s.blockedUntil = now.Add(l.cfg.BlockDuration)
		l.log.Warn("blocking key",
			logutil.String("key", key),
			zap.Int("failures", s.consecFailures),
			zap.Time("until", s.blockedUntil),
		)
	}
}

// failureTTL is how long an unblocked failure streak is remembered.
func (l *Limiter) failureTTL() time.Duration {
	if l.cfg.BlockDuration > time.Minute {
		return l.cfg.BlockDuration
	}
	return time.Minute
}

// sweep drops idle keys at most once a minute. Must be called with l.mu held.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < time.Minute {
		return
	}
	l.lastSweep = now
	ttl := l.failureTTL()
	for key, s := range l.state {
		if s.idle(now, ttl) {
			delete(l.state, key)
		}
	}
}

// must be called with l.mu held
func (l *Limiter) getOrCreate(key string) *keyState {
	s, ok := l.state[key]
	if !ok {
		s = &keyState{}
		l.state[key] = s
	}
	return s
}
