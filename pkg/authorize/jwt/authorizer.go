package jwt

import (
	"context"
	"crypto"

	"github.com/pkg/errors"
	jose "gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/dominusproject/dominus-status/pkg/authorize"
)

// KeyProvider resolves the public key a token's signature must verify
// against. keyID may be empty when the token header carries no kid, in which
// case the provider returns its fallback key.
type KeyProvider interface {
	Key(ctx context.Context, keyID string) (crypto.PublicKey, error)
}

// NewAuthorizer authenticates bearer tokens as RS256 JWTs. The signature is
// verified against the key resolved by keys for the token's kid header, the
// issuer claim must equal issuer, and all remaining checks are delegated to
// the validator.
func NewAuthorizer(issuer string, keys KeyProvider, v Validator) *authorizer {
	return &authorizer{
		iss:       issuer,
		keys:      keys,
		validator: v,
	}
}

type authorizer struct {
	iss       string
	keys      KeyProvider
	validator Validator
}

var _ = authorize.TokenAuthorizer(&authorizer{})

func (a *authorizer) AuthorizeToken(ctx context.Context, tokenData string) (*authorize.Principal, error) {
	tok, err := jwt.ParseSigned(tokenData)
	if err != nil {
		return nil, errors.Wrapf(authorize.ErrInvalidToken, "token could not be parsed: %v", err)
	}

	// Nothing read from the header is trusted until tok.Claims has verified
	// the signature below.
	var alg, keyID string
	for _, h := range tok.Headers {
		if h.Algorithm != "" {
			alg = h.Algorithm
		}
		if h.KeyID != "" {
			keyID = h.KeyID
		}
	}
	if alg != string(jose.RS256) {
		return nil, errors.Wrapf(authorize.ErrInvalidToken, "unexpected signing algorithm %q", alg)
	}

	key, err := a.keys.Key(ctx, keyID)
	if err != nil {
		return nil, err
	}

	public := &jwt.Claims{}
	private := a.validator.NewPrivateClaims()
	raw := map[string]interface{}{}

	if err := tok.Claims(key, public, private, &raw); err != nil {
		return nil, errors.Wrapf(authorize.ErrInvalidToken, "token signature could not be verified: %v", err)
	}

	if public.Issuer != a.iss {
		return nil, errors.Wrapf(authorize.ErrInvalidToken, "invalid JWT issuer, expected %q, got %q", a.iss, public.Issuer)
	}

	// If we get here, we have a token with a recognized signature and
	// issuer string.
	return a.validator.Validate(tokenData, public, private, raw)
}
