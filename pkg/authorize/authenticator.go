package authorize

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// TokenAuthorizer verifies a bearer token and resolves it to a principal.
type TokenAuthorizer interface {
	AuthorizeToken(ctx context.Context, token string) (*Principal, error)
}

// CredentialAuthorizer verifies a username/password pair.
type CredentialAuthorizer interface {
	AuthorizeCredentials(ctx context.Context, username, password string) (*Principal, error)
}

// Authenticator extracts credentials from a request and resolves them to a
// principal. The concrete strategy is chosen once at startup; a deployment
// never mixes bearer and basic authentication.
type Authenticator interface {
	// Authenticate resolves the request's credentials to a principal.
	Authenticate(req *http.Request) (*Principal, error)
	// Authorize additionally requires the principal to hold requiredRole.
	Authorize(req *http.Request, requiredRole string) (*Principal, error)
	// Challenge is the WWW-Authenticate scheme advertised on 401 responses.
	Challenge() string
}

type bearerAuthenticator struct {
	logger log.Logger
	tokens TokenAuthorizer
}

// NewBearerAuthenticator authenticates requests by the Authorization bearer
// token, verified through the given token authorizer.
func NewBearerAuthenticator(logger log.Logger, tokens TokenAuthorizer) Authenticator {
	return &bearerAuthenticator{
		logger: log.With(logger, "component", "authorize"),
		tokens: tokens,
	}
}

func (a *bearerAuthenticator) Authenticate(req *http.Request) (*Principal, error) {
	auth := strings.SplitN(req.Header.Get("Authorization"), " ", 2)
	if strings.ToLower(auth[0]) != "bearer" {
		return nil, errors.Wrap(ErrUnauthorized, "only bearer authorization allowed")
	}
	if len(auth) != 2 || len(strings.TrimSpace(auth[1])) == 0 {
		return nil, errors.Wrap(ErrUnauthorized, "invalid Authorization header")
	}
	return a.tokens.AuthorizeToken(req.Context(), strings.TrimSpace(auth[1]))
}

func (a *bearerAuthenticator) Authorize(req *http.Request, requiredRole string) (*Principal, error) {
	principal, err := a.Authenticate(req)
	if err != nil {
		return nil, err
	}
	if !principal.Roles.Contains(requiredRole) {
		if len(principal.Roles) == 0 {
			level.Debug(a.logger).Log("msg", "token carries no roles", "user", principal.Username, "required", requiredRole)
		}
		return nil, errors.Wrapf(ErrForbidden, "missing required role %q", requiredRole)
	}
	return principal, nil
}

func (a *bearerAuthenticator) Challenge() string { return "Bearer" }

type basicAuthenticator struct {
	logger log.Logger
	creds  CredentialAuthorizer
}

// NewBasicAuthenticator authenticates requests by HTTP basic credentials,
// verified through the given credential authorizer.
func NewBasicAuthenticator(logger log.Logger, creds CredentialAuthorizer) Authenticator {
	return &basicAuthenticator{
		logger: log.With(logger, "component", "authorize"),
		creds:  creds,
	}
}

func (a *basicAuthenticator) Authenticate(req *http.Request) (*Principal, error) {
	username, password, ok := req.BasicAuth()
	if !ok {
		return nil, errors.Wrap(ErrUnauthorized, "basic authorization required")
	}
	return a.creds.AuthorizeCredentials(req.Context(), username, password)
}

// Authorize performs no role check: local principals implicitly hold every
// role once authenticated.
func (a *basicAuthenticator) Authorize(req *http.Request, _ string) (*Principal, error) {
	return a.Authenticate(req)
}

func (a *basicAuthenticator) Challenge() string { return "Basic" }
