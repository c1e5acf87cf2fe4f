package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/dominusproject/dominus-status/pkg/authorize"
	"github.com/dominusproject/dominus-status/pkg/store"
	"github.com/dominusproject/dominus-status/pkg/store/ratelimited"
)

// StatusResponse is the body returned by the status endpoints.
type StatusResponse struct {
	ServiceName string `json:"service_name"`
	State       string `json:"state"`
	Hostname    string `json:"hostname"`
	User        string `json:"user"`
	AuthType    string `json:"auth_type"`
}

// StatusServer serves the authority state of this host. Authentication
// happens upstream; handlers here expect a principal on the context.
type StatusServer struct {
	logger      log.Logger
	serviceName string
	hostname    string
	store       store.Store
}

func NewStatusServer(logger log.Logger, serviceName, hostname string, s store.Store) *StatusServer {
	return &StatusServer{
		logger:      log.With(logger, "component", "http/status"),
		serviceName: serviceName,
		hostname:    hostname,
		store:       s,
	}
}

// Status returns the current authority state.
func (s *StatusServer) Status(w http.ResponseWriter, req *http.Request) {
	logger := log.With(s.logger, "request", middleware.GetReqID(req.Context()))

	principal, ok := authorize.FromContext(req.Context())
	if !ok {
		http.Error(w, "request context carries no principal", http.StatusInternalServerError)
		return
	}

	a, err := s.store.ReadAuthority(req.Context())
	if err != nil {
		level.Warn(logger).Log("msg", "failed to read authority state", "err", err)
		http.Error(w, "failed to read authority state", http.StatusInternalServerError)
		return
	}

	s.writeResponse(w, logger, a, principal)
}

// SetState updates the authority role from the new_state query
// parameter. Values outside the accepted set are rejected with 400 and
// leave the stored state untouched.
func (s *StatusServer) SetState(w http.ResponseWriter, req *http.Request) {
	logger := log.With(s.logger, "request", middleware.GetReqID(req.Context()))

	principal, ok := authorize.FromContext(req.Context())
	if !ok {
		http.Error(w, "request context carries no principal", http.StatusInternalServerError)
		return
	}

	role, err := store.ParseRole(req.URL.Query().Get("new_state"))
	if err != nil {
		level.Debug(logger).Log("msg", "rejected state value", "err", err)
		http.Error(w, fmt.Sprintf("invalid state: %v, allowed values are %q, %q and %q",
			err, store.RolePrimary, store.RoleSecondary, store.RoleNotSet), http.StatusBadRequest)
		return
	}

	a := store.Authority{Role: role, Hostname: s.hostname}
	if err := s.store.WriteAuthority(req.Context(), a); err != nil {
		var limitErr ratelimited.ErrWriteLimitReached
		if errors.As(err, &limitErr) {
			level.Debug(logger).Log("msg", "state write rejected", "err", err)
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		level.Warn(logger).Log("msg", "failed to write authority state", "err", err)
		http.Error(w, "failed to write authority state", http.StatusInternalServerError)
		return
	}

	level.Info(logger).Log("msg", "authority state updated", "state", a.Role, "user", principal.Username)

	s.writeResponse(w, logger, a, principal)
}

func (s *StatusServer) writeResponse(w http.ResponseWriter, logger log.Logger, a store.Authority, principal *authorize.Principal) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(StatusResponse{
		ServiceName: s.serviceName,
		State:       string(a.Role),
		Hostname:    a.Hostname,
		User:        principal.Username,
		AuthType:    principal.AuthType,
	})
	if err != nil {
		level.Warn(logger).Log("msg", "failed to encode status response", "err", err)
	}
}
