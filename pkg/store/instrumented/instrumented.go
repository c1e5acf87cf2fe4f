// Package instrumented decorates a store with Prometheus metrics.
package instrumented

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dominusproject/dominus-status/pkg/store"
)

var (
	authorityRole = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dominus_status_authority_role",
		Help: "One-hot encoding of the authority role currently persisted for this host.",
	}, []string{"role"})

	authorityWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dominus_status_authority_writes_total",
		Help: "Total number of authority state writes by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(authorityRole)
	prometheus.MustRegister(authorityWrites)
}

type instrumentedStore struct {
	next store.Store
}

// New returns a store that mirrors the persisted role into a gauge and
// counts writes.
func New(next store.Store) *instrumentedStore {
	return &instrumentedStore{next: next}
}

func (s *instrumentedStore) ReadAuthority(ctx context.Context) (store.Authority, error) {
	a, err := s.next.ReadAuthority(ctx)
	if err == nil {
		setRole(a.Role)
	}
	return a, err
}

func (s *instrumentedStore) WriteAuthority(ctx context.Context, a store.Authority) error {
	err := s.next.WriteAuthority(ctx, a)
	if err != nil {
		authorityWrites.WithLabelValues("error").Inc()
		return err
	}

	authorityWrites.WithLabelValues("success").Inc()
	setRole(a.Role)
	return nil
}

func setRole(current store.Role) {
	for _, r := range []store.Role{store.RolePrimary, store.RoleSecondary, store.RoleNotSet} {
		var v float64
		if r == current {
			v = 1
		}
		authorityRole.WithLabelValues(string(r)).Set(v)
	}
}
