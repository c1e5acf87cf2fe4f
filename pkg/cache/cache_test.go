package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dominusproject/dominus-status/pkg/authorize"
)

type mapCacher struct {
	items  map[string][]byte
	getErr error
	setErr error
}

func (c *mapCacher) Get(key string) ([]byte, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.items[key]
	return v, ok, nil
}

func (c *mapCacher) Set(key string, value []byte) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.items[key] = value
	return nil
}

type countingAuthorizer struct {
	calls int
	p     *authorize.Principal
	err   error
}

func (a *countingAuthorizer) AuthorizeToken(ctx context.Context, token string) (*authorize.Principal, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return a.p, nil
}

func TestAuthorizeTokenCaching(t *testing.T) {
	var (
		ctx     = context.Background()
		current = time.Unix(1700000000, 0)
		cacher  = &mapCacher{items: map[string][]byte{}}
		next    = &countingAuthorizer{p: &authorize.Principal{
			Username: "service-account",
			AuthType: authorize.AuthTypeToken,
			Roles:    authorize.RoleSet{"dominus-admin"},
		}}
	)

	a := NewTokenAuthorizer(cacher, 5*time.Minute, next, log.NewNopLogger(), prometheus.NewRegistry())
	a.now = func() time.Time { return current }

	p, err := a.AuthorizeToken(ctx, "token-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.calls != 1 {
		t.Fatalf("want 1 verification, got %d", next.calls)
	}

	// The second request is served from the cache.
	p, err = a.AuthorizeToken(ctx, "token-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.calls != 1 {
		t.Errorf("want cached principal without re-verification, got %d calls", next.calls)
	}
	if p.Username != "service-account" || p.AuthType != authorize.AuthTypeToken {
		t.Errorf("principal did not round trip: %+v", p)
	}
	if !p.Roles.Contains("dominus-admin") {
		t.Errorf("want cached roles to contain %q, got %v", "dominus-admin", p.Roles)
	}

	// A different token is verified on its own.
	if _, err := a.AuthorizeToken(ctx, "token-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.calls != 2 {
		t.Errorf("want 2 verifications, got %d", next.calls)
	}

	// After the ttl the entry is stale and verification runs again.
	current = current.Add(5*time.Minute + time.Second)
	if _, err := a.AuthorizeToken(ctx, "token-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.calls != 3 {
		t.Errorf("want re-verification after ttl, got %d calls", next.calls)
	}
}

func TestAuthorizeTokenExpClaimBoundsCache(t *testing.T) {
	var (
		ctx     = context.Background()
		current = time.Unix(1700000000, 0)
		cacher  = &mapCacher{items: map[string][]byte{}}
		next    = &countingAuthorizer{p: &authorize.Principal{
			Username: "service-account",
			AuthType: authorize.AuthTypeToken,
			Claims: map[string]interface{}{
				"exp": float64(current.Add(30 * time.Second).Unix()),
			},
		}}
	)

	a := NewTokenAuthorizer(cacher, time.Hour, next, log.NewNopLogger(), prometheus.NewRegistry())
	a.now = func() time.Time { return current }

	if _, err := a.AuthorizeToken(ctx, "token-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Before the token expires the entry is still served.
	current = current.Add(29 * time.Second)
	if _, err := a.AuthorizeToken(ctx, "token-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.calls != 1 {
		t.Fatalf("want cached principal before token expiry, got %d calls", next.calls)
	}

	// Once the token itself has expired the entry must not be served,
	// no matter how generous the cache ttl is.
	current = current.Add(2 * time.Second)
	if _, err := a.AuthorizeToken(ctx, "token-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.calls != 2 {
		t.Errorf("want re-verification after token expiry, got %d calls", next.calls)
	}
}

func TestAuthorizeTokenCacheFailuresDegrade(t *testing.T) {
	var (
		ctx    = context.Background()
		cacher = &mapCacher{items: map[string][]byte{}}
		next   = &countingAuthorizer{p: &authorize.Principal{Username: "u", AuthType: authorize.AuthTypeToken}}
	)

	a := NewTokenAuthorizer(cacher, time.Minute, next, log.NewNopLogger(), prometheus.NewRegistry())

	cacher.getErr = errors.New("memcache: connect timeout")
	if _, err := a.AuthorizeToken(ctx, "token-1"); err != nil {
		t.Fatalf("want cache read failure to degrade to verification, got %v", err)
	}

	cacher.getErr = nil
	cacher.setErr = errors.New("memcache: connect timeout")
	if _, err := a.AuthorizeToken(ctx, "token-2"); err != nil {
		t.Fatalf("want cache write failure to degrade, got %v", err)
	}

	if next.calls != 2 {
		t.Errorf("want 2 verifications, got %d", next.calls)
	}
}

func TestAuthorizeTokenFailureNotCached(t *testing.T) {
	var (
		ctx    = context.Background()
		cacher = &mapCacher{items: map[string][]byte{}}
		next   = &countingAuthorizer{err: errors.Wrap(authorize.ErrInvalidToken, "token has expired")}
	)

	a := NewTokenAuthorizer(cacher, time.Minute, next, log.NewNopLogger(), prometheus.NewRegistry())

	for i := 0; i < 2; i++ {
		if _, err := a.AuthorizeToken(ctx, "token-1"); !errors.Is(err, authorize.ErrInvalidToken) {
			t.Fatalf("want %v, got %v", authorize.ErrInvalidToken, err)
		}
	}

	if next.calls != 2 {
		t.Errorf("want every failed attempt to hit the verifier, got %d calls", next.calls)
	}
	if len(cacher.items) != 0 {
		t.Errorf("want no cached entries for failed verifications, got %d", len(cacher.items))
	}
}

func TestAuthorizeTokenCorruptEntry(t *testing.T) {
	var (
		ctx    = context.Background()
		cacher = &mapCacher{items: map[string][]byte{}}
		next   = &countingAuthorizer{p: &authorize.Principal{Username: "u", AuthType: authorize.AuthTypeToken}}
	)

	key := fmt.Sprintf("%x", sha256.Sum256([]byte("token-1")))
	cacher.items[key] = []byte("not json")

	a := NewTokenAuthorizer(cacher, time.Minute, next, log.NewNopLogger(), prometheus.NewRegistry())

	if _, err := a.AuthorizeToken(ctx, "token-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.calls != 1 {
		t.Errorf("want corrupt entry to fall through to verification, got %d calls", next.calls)
	}
}
