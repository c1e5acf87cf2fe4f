// Package cache provides a small key value cache interface and a token
// authorizer decorator that remembers verified principals, sparing the
// signature check and any key provider round trips on repeat requests.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dominusproject/dominus-status/pkg/authorize"
)

// Cacher is able to get and set key value pairs.
type Cacher interface {
	Get(string) ([]byte, bool, error)
	Set(string, []byte) error
}

// TokenAuthorizer caches principals verified by the next authorizer.
// Cache failures degrade to plain verification, never to a request
// failure. Verification errors are not cached.
type TokenAuthorizer struct {
	c    Cacher
	next authorize.TokenAuthorizer
	ttl  time.Duration
	now  func() time.Time

	l log.Logger

	// Metrics.
	cacheReadsTotal  *prometheus.CounterVec
	cacheWritesTotal *prometheus.CounterVec
}

type entry struct {
	Principal authorize.Principal `json:"principal"`
	ExpiresAt int64               `json:"expires_at"`
}

// NewTokenAuthorizer creates a TokenAuthorizer caching principals for at
// most ttl, bounded further by each token's own expiry.
func NewTokenAuthorizer(c Cacher, ttl time.Duration, next authorize.TokenAuthorizer, l log.Logger, reg prometheus.Registerer) *TokenAuthorizer {
	a := &TokenAuthorizer{
		c:    c,
		next: next,
		ttl:  ttl,
		now:  time.Now,
		l:    l,
		cacheReadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_reads_total",
				Help: "The number of read requests made to the cache.",
			}, []string{"result"},
		),
		cacheWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_writes_total",
				Help: "The number of write requests made to the cache.",
			}, []string{"result"},
		),
	}

	if reg != nil {
		reg.MustRegister(a.cacheReadsTotal, a.cacheWritesTotal)
	}

	return a
}

// AuthorizeToken implements the authorize.TokenAuthorizer interface.
func (a *TokenAuthorizer) AuthorizeToken(ctx context.Context, token string) (*authorize.Principal, error) {
	// Tokens are credentials; only their digest is used as a key.
	key := fmt.Sprintf("%x", sha256.Sum256([]byte(token)))

	raw, ok, err := a.c.Get(key)
	switch {
	case err != nil:
		a.cacheReadsTotal.WithLabelValues("error").Inc()
		level.Warn(a.l).Log("msg", "failed to retrieve principal from cache", "err", err)
	case ok:
		var e entry
		if err := json.Unmarshal(raw, &e); err == nil && a.now().Unix() < e.ExpiresAt {
			a.cacheReadsTotal.WithLabelValues("hit").Inc()
			return &e.Principal, nil
		}
		a.cacheReadsTotal.WithLabelValues("miss").Inc()
	default:
		a.cacheReadsTotal.WithLabelValues("miss").Inc()
	}

	p, err := a.next.AuthorizeToken(ctx, token)
	if err != nil {
		return nil, err
	}

	raw, err = json.Marshal(entry{Principal: *p, ExpiresAt: a.expiresAt(p)})
	if err != nil {
		level.Error(a.l).Log("msg", "failed to encode principal", "err", err)
		return p, nil
	}
	if err := a.c.Set(key, raw); err != nil {
		a.cacheWritesTotal.WithLabelValues("error").Inc()
		level.Warn(a.l).Log("msg", "failed to set principal in cache", "err", err)
		return p, nil
	}
	a.cacheWritesTotal.WithLabelValues("success").Inc()

	return p, nil
}

// expiresAt bounds the cache lifetime of a principal by the ttl and by
// the exp claim of the token it was verified from.
func (a *TokenAuthorizer) expiresAt(p *authorize.Principal) int64 {
	deadline := a.now().Add(a.ttl)
	if raw, ok := p.Claims["exp"]; ok {
		if f, ok := raw.(float64); ok {
			if exp := time.Unix(int64(f), 0); exp.Before(deadline) {
				deadline = exp
			}
		}
	}
	return deadline.Unix()
}
