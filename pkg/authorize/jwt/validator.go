package jwt

import (
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/dominusproject/dominus-status/pkg/authorize"
)

// AudiencePolicy selects which claim ties a token to this service.
type AudiencePolicy string

const (
	// PolicyAuthorizedParty skips audience checking and instead requires the
	// azp claim to equal the configured client identifier.
	PolicyAuthorizedParty AudiencePolicy = "azp"
	// PolicyAudience requires the aud claim to contain the configured client
	// identifier.
	PolicyAudience AudiencePolicy = "aud"
	// PolicyNone checks neither claim.
	PolicyNone AudiencePolicy = "none"
)

// Validator is called by the token authorizer to apply domain specific
// validation to a token and build the resulting principal.
type Validator interface {
	// Validate validates a token and returns the principal or an error.
	// Validator can assume that the issuer and signature of a token are
	// already verified when this function is called.
	Validate(tokenData string, public *jwt.Claims, private interface{}, raw map[string]interface{}) (*authorize.Principal, error)
	// NewPrivateClaims returns a struct that the authorizer should
	// deserialize the JWT payload into and pass back to Validate as the
	// 'private' argument. It carries the claims the Validator requires.
	NewPrivateClaims() interface{}
}

// NewValidator validates expiry and the configured audience policy, then
// resolves roles for the principal: roles under resource_access[roleClientID]
// take precedence, realm_access roles apply when those are empty and
// fallbackRealmRoles is set.
func NewValidator(logger log.Logger, clientID string, policy AudiencePolicy, roleClientID string, fallbackRealmRoles bool) Validator {
	return &validator{
		clientID:           clientID,
		policy:             policy,
		roleClientID:       roleClientID,
		fallbackRealmRoles: fallbackRealmRoles,
		logger:             log.With(logger, "component", "authorize/jwt"),
	}
}

type validator struct {
	clientID           string
	policy             AudiencePolicy
	roleClientID       string
	fallbackRealmRoles bool
	logger             log.Logger
}

var _ = Validator(&validator{})

func (v *validator) Validate(_ string, public *jwt.Claims, privateObj interface{}, raw map[string]interface{}) (*authorize.Principal, error) {
	private, ok := privateObj.(*privateClaims)
	if !ok {
		level.Info(v.logger).Log("msg", "jwt validator expected private claim of type *privateClaims", "got", privateObj)
		return nil, errors.Wrap(authorize.ErrInvalidToken, "token could not be validated")
	}

	err := public.Validate(jwt.Expected{
		Time: now(),
	})
	switch {
	case err == nil:
	case err == jwt.ErrExpired:
		return nil, errors.Wrap(authorize.ErrInvalidToken, "token has expired")
	default:
		level.Info(v.logger).Log("msg", "unexpected validation error", "err", err)
		return nil, errors.Wrap(authorize.ErrInvalidToken, "token could not be validated")
	}

	switch v.policy {
	case PolicyAuthorizedParty:
		if private.AuthorizedParty != v.clientID {
			return nil, errors.Wrapf(authorize.ErrUnauthorized, "invalid azp: expected %q, got %q", v.clientID, private.AuthorizedParty)
		}
	case PolicyAudience:
		if !public.Audience.Contains(v.clientID) {
			return nil, errors.Wrap(authorize.ErrInvalidToken, "token is invalid for this audience")
		}
	case PolicyNone:
	default:
		return nil, errors.Errorf("unknown audience policy %q", v.policy)
	}

	roles := private.resolveRoles(v.roleClientID, v.fallbackRealmRoles)
	if len(roles) == 0 {
		// Typically provider misconfiguration rather than a hostile token.
		level.Debug(v.logger).Log("msg", "no roles resolved from token", "resource_client", v.roleClientID, "realm_fallback", v.fallbackRealmRoles)
	}

	return &authorize.Principal{
		Username: private.displayName(),
		AuthType: authorize.AuthTypeToken,
		Roles:    authorize.RoleSet(roles),
		Claims:   raw,
	}, nil
}

func (v *validator) NewPrivateClaims() interface{} {
	return &privateClaims{}
}

func now() time.Time {
	return time.Now()
}
