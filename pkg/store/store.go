// Package store persists the authority state of the cluster, that is
// which role this host currently holds and under which hostname it is
// known to its peers.
package store

import (
	"context"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// Role is the authority role recorded for this host.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
	RoleNotSet    Role = "notset"
)

var (
	// ErrInvalidRole is returned when a value cannot be parsed as a Role.
	ErrInvalidRole = errors.New("invalid authority role")
	// ErrNotExist is returned when no authority state has been persisted yet.
	ErrNotExist = errors.New("authority state does not exist")
	// ErrCorrupt is returned when persisted state exists but cannot be decoded.
	ErrCorrupt = errors.New("authority state is corrupt")
)

// ParseRole maps external input to a Role. Besides the canonical role
// names it accepts the historical misspelling "noset" for RoleNotSet.
// Matching is exact, no case folding or trimming is applied.
func ParseRole(s string) (Role, error) {
	switch s {
	case string(RolePrimary):
		return RolePrimary, nil
	case string(RoleSecondary):
		return RoleSecondary, nil
	case string(RoleNotSet), "noset":
		return RoleNotSet, nil
	}
	return "", errors.Wrapf(ErrInvalidRole, "%q", s)
}

// Authority is the persisted cluster state for a single host.
type Authority struct {
	Role     Role
	Hostname string
}

// Validate reports whether the authority record is well formed. Only
// canonical role spellings are valid here; aliases are resolved by
// ParseRole before a record is ever constructed.
func (a Authority) Validate() error {
	switch a.Role {
	case RolePrimary, RoleSecondary, RoleNotSet:
	default:
		return errors.Wrapf(ErrInvalidRole, "%q", a.Role)
	}
	if a.Hostname == "" {
		return errors.New("authority hostname is empty")
	}
	return nil
}

// Store reads and writes the authority state of this host.
type Store interface {
	ReadAuthority(ctx context.Context) (Authority, error)
	WriteAuthority(ctx context.Context, a Authority) error
}

// Reconcile brings the persisted state in line with the running host.
// A missing record is initialized to RoleNotSet under the given
// hostname. A record carrying a stale hostname is rewritten, keeping
// its role. Corrupt or otherwise unreadable state is returned to the
// caller, which is expected to treat it as fatal.
func Reconcile(ctx context.Context, s Store, hostname string, logger log.Logger) (Authority, error) {
	a, err := s.ReadAuthority(ctx)
	switch {
	case errors.Is(err, ErrNotExist):
		a = Authority{Role: RoleNotSet, Hostname: hostname}
		if err := s.WriteAuthority(ctx, a); err != nil {
			return Authority{}, fmt.Errorf("initializing authority state: %w", err)
		}
		level.Info(logger).Log("msg", "initialized authority state", "state", a.Role, "hostname", a.Hostname)
		return a, nil
	case err != nil:
		return Authority{}, err
	}

	if a.Hostname != hostname {
		level.Info(logger).Log("msg", "correcting stored hostname", "old", a.Hostname, "new", hostname)
		a.Hostname = hostname
		if err := s.WriteAuthority(ctx, a); err != nil {
			return Authority{}, fmt.Errorf("correcting stored hostname: %w", err)
		}
	}

	return a, nil
}
