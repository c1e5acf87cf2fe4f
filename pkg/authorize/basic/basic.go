// Package basic verifies static username/password credentials for
// deployments that run without an identity provider.
package basic

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/dominusproject/dominus-status/pkg/authorize"
)

// Authorizer holds digests of the configured credentials and compares
// supplied ones in constant time.
type Authorizer struct {
	logger      log.Logger
	usernameSum [sha256.Size]byte
	passwordSum [sha256.Size]byte
}

var _ authorize.CredentialAuthorizer = (*Authorizer)(nil)

func NewAuthorizer(logger log.Logger, username, password string) *Authorizer {
	return &Authorizer{
		logger:      log.With(logger, "component", "authorize/basic"),
		usernameSum: sha256.Sum256([]byte(username)),
		passwordSum: sha256.Sum256([]byte(password)),
	}
}

// AuthorizeCredentials compares both fields against the configured values.
// Inputs are hashed first so the comparison cost does not depend on where
// the values diverge or on their length. Both comparisons always run.
func (a *Authorizer) AuthorizeCredentials(_ context.Context, username, password string) (*authorize.Principal, error) {
	u := sha256.Sum256([]byte(username))
	p := sha256.Sum256([]byte(password))

	userOK := subtle.ConstantTimeCompare(a.usernameSum[:], u[:])
	passOK := subtle.ConstantTimeCompare(a.passwordSum[:], p[:])
	if userOK&passOK != 1 {
		level.Debug(a.logger).Log("msg", "credential mismatch", "user", username)
		return nil, errors.Wrap(authorize.ErrUnauthorized, "invalid username or password")
	}

	return &authorize.Principal{
		Username: username,
		AuthType: authorize.AuthTypeLocal,
	}, nil
}
