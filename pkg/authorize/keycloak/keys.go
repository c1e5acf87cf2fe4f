package keycloak

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	jose "gopkg.in/square/go-jose.v2"

	"github.com/dominusproject/dominus-status/pkg/authorize"
)

// DefaultKeySetTTL is how long a fetched key set is served before the next
// lookup refreshes it.
const DefaultKeySetTTL = 300 * time.Second

// ParsePublicKey decodes an RSA public key from PEM. Bare base64 material,
// the form realm metadata publishes, is PEM-wrapped first.
func ParsePublicKey(material string) (crypto.PublicKey, error) {
	material = strings.TrimSpace(material)
	if !strings.Contains(material, "-----BEGIN") {
		material = "-----BEGIN PUBLIC KEY-----\n" + material + "\n-----END PUBLIC KEY-----"
	}

	block, _ := pem.Decode([]byte(material))
	if block == nil {
		return nil, errors.New("no PEM block found in key material")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parsing public key")
	}
	if _, ok := key.(*rsa.PublicKey); !ok {
		return nil, errors.Errorf("unsupported public key type %T, expected RSA", key)
	}
	return key, nil
}

// StaticKeyProvider serves one configured key for every key id.
type StaticKeyProvider struct {
	key crypto.PublicKey
}

func NewStaticKeyProvider(key crypto.PublicKey) *StaticKeyProvider {
	return &StaticKeyProvider{key: key}
}

// NewStaticKeyProviderFromPEM builds a provider from PEM or bare base64 key
// material.
func NewStaticKeyProviderFromPEM(material string) (*StaticKeyProvider, error) {
	key, err := ParsePublicKey(material)
	if err != nil {
		return nil, err
	}
	return &StaticKeyProvider{key: key}, nil
}

func (p *StaticKeyProvider) Key(_ context.Context, _ string) (crypto.PublicKey, error) {
	return p.key, nil
}

// KeySetFetcher fetches the provider's current key set. *Client implements
// it.
type KeySetFetcher interface {
	KeySet(ctx context.Context) (*jose.JSONWebKeySet, error)
}

// KeySetProvider caches a fetched key set and serves keys by id. A lookup
// that misses — because the set aged past its TTL or because the id is
// unknown, which happens after provider-side rotation — triggers exactly one
// refetch before failing. Refreshing swaps the whole set at once so
// concurrent readers never observe a partial update.
//
// Lookups with an empty key id return the fallback key when one is
// configured, without consulting the fetched set.
type KeySetProvider struct {
	logger   log.Logger
	fetcher  KeySetFetcher
	fallback crypto.PublicKey
	ttl      time.Duration

	now func() time.Time

	// refreshMu serializes refreshes; mu guards keys and fetchedAt.
	refreshMu sync.Mutex
	mu        sync.RWMutex
	keys      *jose.JSONWebKeySet
	fetchedAt time.Time
}

func NewKeySetProvider(logger log.Logger, fetcher KeySetFetcher, fallback crypto.PublicKey, ttl time.Duration) *KeySetProvider {
	if ttl <= 0 {
		ttl = DefaultKeySetTTL
	}
	return &KeySetProvider{
		logger:   log.With(logger, "component", "authorize/keycloak"),
		fetcher:  fetcher,
		fallback: fallback,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (p *KeySetProvider) Key(ctx context.Context, keyID string) (crypto.PublicKey, error) {
	if keyID == "" {
		if p.fallback == nil {
			return nil, errors.Wrap(authorize.ErrKeyUnavailable, "token carries no key id and no fallback key is configured")
		}
		return p.fallback, nil
	}

	key, seen, ok := p.lookup(keyID)
	if ok {
		return key, nil
	}

	if err := p.refresh(ctx, seen); err != nil {
		return nil, err
	}

	if key, _, ok := p.lookup(keyID); ok {
		return key, nil
	}
	return nil, errors.Wrapf(authorize.ErrKeyUnavailable, "no key with id %q in provider key set", keyID)
}

// Invalidate drops the cached set; the next lookup fetches anew.
func (p *KeySetProvider) Invalidate() {
	p.mu.Lock()
	p.keys = nil
	p.fetchedAt = time.Time{}
	p.mu.Unlock()
}

// lookup returns the key for keyID if the cached set is fresh and carries
// it, along with the fetch time observed, so refresh can tell whether
// another request already replaced the set.
func (p *KeySetProvider) lookup(keyID string) (crypto.PublicKey, time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.keys == nil || p.now().Sub(p.fetchedAt) >= p.ttl {
		return nil, p.fetchedAt, false
	}
	key, ok := keyByID(p.keys, keyID)
	return key, p.fetchedAt, ok
}

func (p *KeySetProvider) refresh(ctx context.Context, seen time.Time) error {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	// Another request may have refreshed while we waited for the lock.
	p.mu.RLock()
	refreshed := !p.fetchedAt.Equal(seen)
	p.mu.RUnlock()
	if refreshed {
		return nil
	}

	keys, err := p.fetcher.KeySet(ctx)
	if err != nil {
		level.Warn(p.logger).Log("msg", "key set refresh failed", "err", err)
		return errors.Wrapf(authorize.ErrKeyUnavailable, "fetching provider key set: %v", err)
	}

	p.mu.Lock()
	p.keys = keys
	p.fetchedAt = p.now()
	p.mu.Unlock()

	level.Debug(p.logger).Log("msg", "key set refreshed", "keys", len(keys.Keys))
	return nil
}

func keyByID(set *jose.JSONWebKeySet, keyID string) (crypto.PublicKey, bool) {
	for _, k := range set.Key(keyID) {
		if k.Valid() {
			return k.Key, true
		}
	}
	return nil, false
}
