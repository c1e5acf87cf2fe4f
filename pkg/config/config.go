// Package config loads service configuration from environment
// variables. Listener addresses, TLS material and tracing are process
// wiring and stay on the command line; everything that decides how a
// request is authenticated or where state lives is configured here.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/dominusproject/dominus-status/pkg/authorize"
	"github.com/dominusproject/dominus-status/pkg/authorize/jwt"
)

// Defaults for a development setup against a local Keycloak.
const (
	DefaultServiceName    = "dominus-status"
	DefaultManageUsername = "admin"
	DefaultManagePassword = "password"
	DefaultProviderURL    = "http://localhost:8080"
	DefaultRealm          = "master"
	DefaultClientID       = "dominus-status"
	DefaultRequiredRole   = "dominus-admin"
	DefaultStatePath      = "state.json"
	DefaultLogLevel       = "info"
)

// Lookup returns the value of a configuration key. os.LookupEnv
// satisfies it; tests inject a map.
type Lookup func(key string) (string, bool)

// Keycloak describes the token provider and how tokens are validated.
type Keycloak struct {
	URL      string
	Realm    string
	ClientID string

	// PublicKey is static PEM or bare base64 key material. When set, the
	// provider is never contacted for keys.
	PublicKey string

	VerifyAudience        bool
	VerifyAuthorizedParty bool

	UseJWKS bool
	JWKSTTL time.Duration

	RoleClientID       string
	FallbackRealmRoles bool
}

// AudiencePolicy derives the validator policy from the two verify
// switches. The authorized party check wins when both are enabled.
func (k Keycloak) AudiencePolicy() jwt.AudiencePolicy {
	switch {
	case k.VerifyAuthorizedParty:
		return jwt.PolicyAuthorizedParty
	case k.VerifyAudience:
		return jwt.PolicyAudience
	}
	return jwt.PolicyNone
}

// Config is the parsed service configuration.
type Config struct {
	ServiceName string

	// AuthType is authorize.AuthTypeToken or authorize.AuthTypeLocal.
	AuthType string

	ManageUsername string
	ManagePassword string

	Keycloak Keycloak

	RequiredRole string
	StatePath    string
	LogLevel     string
}

// FromEnv parses the configuration using the given lookup. Keys that
// are unset or set to the empty string take their default.
func FromEnv(lookup Lookup) (*Config, error) {
	c := &Config{
		ServiceName:    stringVar(lookup, "SERVICE_NAME", DefaultServiceName),
		ManageUsername: stringVar(lookup, "MANAGE_USERNAME", DefaultManageUsername),
		ManagePassword: stringVar(lookup, "MANAGE_PASSWORD", DefaultManagePassword),
		Keycloak: Keycloak{
			URL:       stringVar(lookup, "KEYCLOAK_URL", DefaultProviderURL),
			Realm:     stringVar(lookup, "KEYCLOAK_REALM", DefaultRealm),
			ClientID:  stringVar(lookup, "KEYCLOAK_CLIENT_ID", DefaultClientID),
			PublicKey: stringVar(lookup, "KEYCLOAK_PUBLIC_KEY", ""),
		},
		RequiredRole: stringVar(lookup, "REQUIRED_ROLE", DefaultRequiredRole),
		StatePath:    stringVar(lookup, "STATE_PATH", DefaultStatePath),
		LogLevel:     stringVar(lookup, "LOG_LEVEL", DefaultLogLevel),
	}

	switch v := stringVar(lookup, "AUTH_TYPE", authorize.AuthTypeToken); v {
	// The provider name survives as an alias for the token mode.
	case authorize.AuthTypeToken, "keycloak":
		c.AuthType = authorize.AuthTypeToken
	case authorize.AuthTypeLocal:
		c.AuthType = authorize.AuthTypeLocal
	default:
		return nil, errors.Errorf("AUTH_TYPE: unknown auth type %q", v)
	}

	var err error
	if c.Keycloak.VerifyAudience, err = boolVar(lookup, "KEYCLOAK_VERIFY_AUD", true); err != nil {
		return nil, err
	}
	if c.Keycloak.VerifyAuthorizedParty, err = boolVar(lookup, "KEYCLOAK_VERIFY_AZP", false); err != nil {
		return nil, err
	}
	if c.Keycloak.UseJWKS, err = boolVar(lookup, "KEYCLOAK_USE_JWKS", true); err != nil {
		return nil, err
	}
	if c.Keycloak.FallbackRealmRoles, err = boolVar(lookup, "KEYCLOAK_FALLBACK_REALM_ROLES", true); err != nil {
		return nil, err
	}

	ttl, err := intVar(lookup, "KEYCLOAK_JWKS_TTL_SECONDS", 300)
	if err != nil {
		return nil, err
	}
	if ttl < 0 {
		return nil, errors.Errorf("KEYCLOAK_JWKS_TTL_SECONDS: must not be negative, got %d", ttl)
	}
	c.Keycloak.JWKSTTL = time.Duration(ttl) * time.Second

	// Client roles are read from the token's entry for our own client
	// unless a dedicated role client is configured.
	c.Keycloak.RoleClientID = stringVar(lookup, "KEYCLOAK_ROLE_CLIENT_ID", c.Keycloak.ClientID)

	return c, nil
}

func stringVar(lookup Lookup, key, def string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return def
}

func boolVar(lookup Lookup, key string, def bool) (bool, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, errors.Errorf("%s: invalid boolean %q", key, v)
}

func intVar(lookup Lookup, key string, def int) (int, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, errors.Errorf("%s: invalid integer %q", key, v)
	}
	return i, nil
}
