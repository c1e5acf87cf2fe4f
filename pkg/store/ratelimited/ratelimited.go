// Package ratelimited decorates a store with a per-host write limit so
// a misbehaving client cannot wear out the backing disk.
package ratelimited

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dominusproject/dominus-status/pkg/store"
)

// ErrWriteLimitReached is returned when authority state for a host is
// written more often than the configured limit allows.
type ErrWriteLimitReached string

func (e ErrWriteLimitReached) Error() string {
	return fmt.Sprintf("write limit reached for host %q", string(e))
}

type lstore struct {
	limit time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	next store.Store
}

// New returns a store allowing one write per limit interval per host.
func New(limit time.Duration, next store.Store) *lstore {
	return &lstore{
		limit:    limit,
		limiters: map[string]*rate.Limiter{},
		next:     next,
	}
}

func (s *lstore) ReadAuthority(ctx context.Context) (store.Authority, error) {
	return s.next.ReadAuthority(ctx)
}

func (s *lstore) WriteAuthority(ctx context.Context, a store.Authority) error {
	return s.writeAuthority(ctx, a, time.Now())
}

func (s *lstore) writeAuthority(ctx context.Context, a store.Authority, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.limiters[a.Hostname]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(s.limit), 1)
		s.limiters[a.Hostname] = limiter
	}

	if !limiter.AllowN(now, 1) {
		return ErrWriteLimitReached(a.Hostname)
	}

	return s.next.WriteAuthority(ctx, a)
}
