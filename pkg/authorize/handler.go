package authorize

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// NewAuthenticateHandler gates next behind any authenticated principal. The
// principal is attached to the request context for downstream handlers.
func NewAuthenticateHandler(logger log.Logger, auth Authenticator, next http.Handler) http.Handler {
	logger = log.With(logger, "component", "authorize")

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logger := log.With(logger, "request", middleware.GetReqID(req.Context()))

		principal, err := auth.Authenticate(req)
		if err != nil {
			writeAuthError(w, logger, auth, err)
			return
		}

		next.ServeHTTP(w, req.WithContext(WithPrincipal(req.Context(), principal)))
	})
}

// NewAuthorizeHandler gates next behind a principal holding requiredRole.
func NewAuthorizeHandler(logger log.Logger, auth Authenticator, requiredRole string, next http.Handler) http.Handler {
	logger = log.With(logger, "component", "authorize")

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logger := log.With(logger, "request", middleware.GetReqID(req.Context()))

		principal, err := auth.Authorize(req, requiredRole)
		if err != nil {
			writeAuthError(w, logger, auth, err)
			return
		}

		next.ServeHTTP(w, req.WithContext(WithPrincipal(req.Context(), principal)))
	})
}

func writeAuthError(w http.ResponseWriter, logger log.Logger, auth Authenticator, err error) {
	code := HTTPStatusCode(err)
	switch {
	case code == http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", auth.Challenge())
		http.Error(w, fmt.Sprintf("Not authorized: %v", err), code)
		level.Debug(logger).Log("msg", "not authorized", "err", err)
	case code == http.StatusForbidden:
		http.Error(w, fmt.Sprintf("Forbidden: %v", err), code)
		level.Warn(logger).Log("msg", "forbidden", "err", err)
	default:
		http.Error(w, err.Error(), code)
		level.Warn(logger).Log("msg", "authentication failed", "code", code, "err", err)
	}
}
