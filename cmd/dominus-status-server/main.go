package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/dominusproject/dominus-status/pkg/authorize"
	"github.com/dominusproject/dominus-status/pkg/authorize/basic"
	"github.com/dominusproject/dominus-status/pkg/authorize/jwt"
	"github.com/dominusproject/dominus-status/pkg/authorize/keycloak"
	"github.com/dominusproject/dominus-status/pkg/cache"
	"github.com/dominusproject/dominus-status/pkg/cache/memcached"
	"github.com/dominusproject/dominus-status/pkg/cache/memory"
	"github.com/dominusproject/dominus-status/pkg/config"
	dominus_http "github.com/dominusproject/dominus-status/pkg/http"
	"github.com/dominusproject/dominus-status/pkg/logger"
	"github.com/dominusproject/dominus-status/pkg/runutil"
	"github.com/dominusproject/dominus-status/pkg/server"
	"github.com/dominusproject/dominus-status/pkg/store"
	"github.com/dominusproject/dominus-status/pkg/store/diskstore"
	"github.com/dominusproject/dominus-status/pkg/store/instrumented"
	"github.com/dominusproject/dominus-status/pkg/store/ratelimited"
	"github.com/dominusproject/dominus-status/pkg/tracing"
)

const desc = `
Serves the authority state of this host (primary, secondary or notset)
behind authenticated HTTP and lets operators holding the required role
change it. Requests are authenticated against Keycloak issued bearer
tokens or against static local credentials, fixed at startup.
`

func defaultOpts() *Options {
	return &Options{
		Registerer: prometheus.DefaultRegisterer,
	}
}

func main() {
	opt := defaultOpts()

	var listen, listenInternal string
	cmd := &cobra.Command{
		Short:         "Authority status service with Keycloak or local authentication.",
		Long:          desc,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv(os.LookupEnv)
			if err != nil {
				return err
			}
			opt.Config = cfg

			listener, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			internalListener, err := net.Listen("tcp", listenInternal)
			if err != nil {
				return err
			}

			return opt.Run(context.Background(), listener, internalListener)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "0.0.0.0:8000", "A host:port to listen on for status API traffic.")
	cmd.Flags().StringVar(&listenInternal, "listen-internal", "localhost:9000", "A host:port to listen on for health and metrics.")

	cmd.Flags().StringVar(&opt.TLSKeyPath, "tls-key", opt.TLSKeyPath, "Path to a private key to serve TLS for external traffic.")
	cmd.Flags().StringVar(&opt.TLSCertificatePath, "tls-crt", opt.TLSCertificatePath, "Path to a certificate to serve TLS for external traffic.")

	cmd.Flags().StringVar(&opt.InternalTLSKeyPath, "internal-tls-key", opt.InternalTLSKeyPath, "Path to a private key to serve TLS for internal traffic.")
	cmd.Flags().StringVar(&opt.InternalTLSCertificatePath, "internal-tls-crt", opt.InternalTLSCertificatePath, "Path to a certificate to serve TLS for internal traffic.")

	cmd.Flags().DurationVar(&opt.StateWriteLimit, "state-write-limit", 0, "Minimum interval between accepted state writes. Writes happening more often than this limit will be rejected. 0 disables the limit.")

	cmd.Flags().DurationVar(&opt.TokenCacheTTL, "token-cache", 0, "How long verified tokens may be served from cache without re-verification. 0 disables the cache.")
	cmd.Flags().StringSliceVar(&opt.MemcachedServers, "memcached", opt.MemcachedServers, "One or more Memcached servers in host:port form to cache verified tokens in. Defaults to an in-process cache.")

	cmd.Flags().StringVar(&opt.LogLevel, "log-level", opt.LogLevel, "Log filtering level. e.g info, debug, warn, error. Takes precedence over LOG_LEVEL.")

	cmd.Flags().StringVar(&opt.TracingServiceName, "internal.tracing.service-name", "dominus-status-server",
		"The service name to report to the tracing backend.")
	cmd.Flags().StringVar(&opt.TracingEndpoint, "internal.tracing.endpoint", "",
		"The full URL of the trace collector. If it's not set, tracing will be disabled.")
	cmd.Flags().Float64Var(&opt.TracingSamplingFraction, "internal.tracing.sampling-fraction", 0.1,
		"The fraction of traces to sample. Thus, if you set this to .5, half of traces will be sampled.")
	cmd.Flags().StringVar(&opt.TracingEndpointType, "internal.tracing.endpoint-type", string(tracing.EndpointTypeAgent),
		fmt.Sprintf("The tracing endpoint type. Options: '%s', '%s'.", tracing.EndpointTypeAgent, tracing.EndpointTypeCollector))

	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	l = log.WithPrefix(l, "ts", log.DefaultTimestampUTC)
	l = log.WithPrefix(l, "caller", log.DefaultCaller)
	stdlog.SetOutput(log.NewStdlibAdapter(l))
	opt.Logger = l

	level.Info(l).Log("msg", "Dominus status server initialized.")
	if err := cmd.Execute(); err != nil {
		level.Error(l).Log("err", err)
		os.Exit(1)
	}
}

type Options struct {
	Config *config.Config

	// External server TLS configuration
	TLSKeyPath         string
	TLSCertificatePath string

	// Internal server TLS configuration
	InternalTLSKeyPath         string
	InternalTLSCertificatePath string

	StateWriteLimit time.Duration

	TokenCacheTTL    time.Duration
	MemcachedServers []string

	LogLevel string
	Logger   log.Logger

	// Registerer for per-process metrics. Tests inject private registries
	// so several server instances can share a process.
	Registerer prometheus.Registerer

	TracingServiceName      string
	TracingEndpoint         string
	TracingEndpointType     string
	TracingSamplingFraction float64
}

type Paths struct {
	Paths []string `json:"paths"`
}

func (o *Options) Run(ctx context.Context, externalListener, internalListener net.Listener) error {
	logLevel := o.Config.LogLevel
	if o.LogLevel != "" {
		logLevel = o.LogLevel
	}
	lvl, err := logger.LevelFromString(logLevel)
	if err != nil {
		return err
	}
	o.Logger = level.NewFilter(o.Logger, lvl)

	tp, err := tracing.InitTracer(
		ctx,
		o.TracingServiceName,
		o.TracingEndpoint,
		o.TracingEndpointType,
		o.TracingSamplingFraction,
	)
	if err != nil {
		return fmt.Errorf("cannot initialize tracer: %v", err)
	}

	otel.SetErrorHandler(tracing.OtelErrorHandler{Logger: o.Logger})

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("cannot determine hostname: %v", err)
	}

	var st store.Store = instrumented.New(diskstore.New(o.Logger, o.Config.StatePath))

	// A corrupt state file refuses to serve; only a genuinely absent one
	// is initialized to the default.
	a, err := store.Reconcile(ctx, st, hostname, o.Logger)
	if err != nil {
		return fmt.Errorf("state file at %s is unusable: %v", o.Config.StatePath, err)
	}
	level.Info(o.Logger).Log("msg", "authority state loaded", "state", a.Role, "hostname", a.Hostname)

	if o.StateWriteLimit > 0 {
		st = ratelimited.New(o.StateWriteLimit, st)
	}

	var (
		auth           authorize.Authenticator
		providerClient *http.Client
	)
	switch o.Config.AuthType {
	case authorize.AuthTypeLocal:
		auth = authorize.NewBasicAuthenticator(o.Logger,
			basic.NewAuthorizer(o.Logger, o.Config.ManageUsername, o.Config.ManagePassword))

	case authorize.AuthTypeToken:
		var transport http.RoundTripper = otelhttp.NewTransport(&http.Transport{
			DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		})

		rt := dominus_http.NewInstrumentedRoundTripper(o.Registerer)
		providerClient = &http.Client{
			Timeout:   keycloak.DefaultTimeout,
			Transport: rt.NewRoundTripper("keycloak", transport),
		}

		kc := keycloak.NewClient(o.Logger, o.Config.Keycloak.URL, o.Config.Keycloak.Realm, providerClient)

		var keys jwt.KeyProvider
		switch {
		case o.Config.Keycloak.PublicKey != "":
			keys, err = keycloak.NewStaticKeyProviderFromPEM(o.Config.Keycloak.PublicKey)
			if err != nil {
				return fmt.Errorf("invalid KEYCLOAK_PUBLIC_KEY: %v", err)
			}
		case o.Config.Keycloak.UseJWKS:
			keys = keycloak.NewKeySetProvider(o.Logger, kc, nil, o.Config.Keycloak.JWKSTTL)
		default:
			key, err := kc.RealmPublicKey(ctx)
			if err != nil {
				return fmt.Errorf("fetching realm public key: %v", err)
			}
			keys = keycloak.NewStaticKeyProvider(key)
		}

		validator := jwt.NewValidator(
			o.Logger,
			o.Config.Keycloak.ClientID,
			o.Config.Keycloak.AudiencePolicy(),
			o.Config.Keycloak.RoleClientID,
			o.Config.Keycloak.FallbackRealmRoles,
		)

		var tokens authorize.TokenAuthorizer = jwt.NewAuthorizer(kc.Issuer(), keys, validator)

		if o.TokenCacheTTL > 0 {
			var c cache.Cacher
			if len(o.MemcachedServers) > 0 {
				c = memcached.New(int32(o.TokenCacheTTL.Seconds()), o.MemcachedServers...)
			} else {
				c = memory.New(o.TokenCacheTTL)
			}
			tokens = cache.NewTokenAuthorizer(c, o.TokenCacheTTL, tokens, o.Logger, o.Registerer)
		}

		auth = authorize.NewBearerAuthenticator(o.Logger, tokens)

	default:
		return fmt.Errorf("unknown auth type %q", o.Config.AuthType)
	}

	statusServer := dominus_http.NewStatusServer(o.Logger, o.Config.ServiceName, hostname, st)

	var g run.Group
	{
		internal := http.NewServeMux()

		dominus_http.AddDebug(internal)
		dominus_http.AddMetrics(internal)
		dominus_http.AddHealth(internal)

		r := chi.NewRouter()
		r.Mount("/", internal)

		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			internalPathJSON, _ := json.MarshalIndent(Paths{Paths: []string{"/", "/metrics", "/debug/pprof", "/healthz", "/healthz/ready"}}, "", "  ")

			w.Header().Add("Content-Type", "application/json")
			if _, err := w.Write(internalPathJSON); err != nil {
				level.Error(o.Logger).Log("msg", "could not write internal paths", "err", err)
			}
		})

		s := &http.Server{
			Handler: otelhttp.NewHandler(r, "internal", otelhttp.WithTracerProvider(tp)),
		}

		// Run the internal server.
		g.Add(func() error {
			if len(o.InternalTLSCertificatePath) > 0 {
				if err := s.ServeTLS(internalListener, o.InternalTLSCertificatePath, o.InternalTLSKeyPath); err != nil && err != http.ErrServerClosed {
					level.Error(o.Logger).Log("msg", "internal HTTPS server exited", "err", err)
					return err
				}
			} else {
				if err := s.Serve(internalListener); err != nil && err != http.ErrServerClosed {
					level.Error(o.Logger).Log("msg", "internal HTTP server exited", "err", err)
					return err
				}
			}
			return nil
		}, func(error) {
			_ = s.Shutdown(context.TODO())
			internalListener.Close()
		})
	}
	{
		external := chi.NewRouter()
		external.Use(middleware.RequestID)
		external.Use(server.RequestLogger(o.Logger))
		external.Use(func(next http.Handler) http.Handler {
			return runutil.ExhaustCloseRequestBodyHandler(o.Logger, next)
		})

		mux := http.NewServeMux()
		dominus_http.AddHealth(mux)
		external.Mount("/", mux)

		// status routes
		{
			statusHandler := authorize.NewAuthenticateHandler(o.Logger, auth, http.HandlerFunc(statusServer.Status))
			setStateHandler := authorize.NewAuthorizeHandler(o.Logger, auth, o.Config.RequiredRole, http.HandlerFunc(statusServer.SetState))

			external.Method(http.MethodGet, "/status", server.InstrumentedHandler("status", statusHandler))
			external.Method(http.MethodPut, "/status", server.InstrumentedHandler("set-state", setStateHandler))
			external.Method(http.MethodPut, "/state", server.InstrumentedHandler("set-state", setStateHandler))
		}

		externalPathJSON, _ := json.MarshalIndent(Paths{Paths: []string{"/", "/healthz", "/healthz/ready", "/status", "/state"}}, "", "  ")

		external.Get("/", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Add("Content-Type", "application/json")
			if _, err := w.Write(externalPathJSON); err != nil {
				level.Error(o.Logger).Log("msg", "could not write external paths", "err", err)
			}
		})

		s := &http.Server{
			Handler: otelhttp.NewHandler(external, "external", otelhttp.WithTracerProvider(tp)),
			ErrorLog: stdlog.New(
				&filteredHTTP2ErrorWriter{
					out:               os.Stderr,
					toDebugLogFilters: logFilter,
					logger:            o.Logger,
				},
				"",
				0),
		}

		// Run the external server.
		g.Add(func() error {
			if len(o.TLSCertificatePath) > 0 {
				if err := s.ServeTLS(externalListener, o.TLSCertificatePath, o.TLSKeyPath); err != nil && err != http.ErrServerClosed {
					level.Error(o.Logger).Log("msg", "external HTTPS server exited", "err", err)
					return err
				}
			} else {
				if err := s.Serve(externalListener); err != nil && err != http.ErrServerClosed {
					level.Error(o.Logger).Log("msg", "external HTTP server exited", "err", err)
					return err
				}
			}
			return nil
		}, func(error) {
			_ = s.Shutdown(context.TODO())
			externalListener.Close()

			// Close clients in order to check for leaks properly.
			if providerClient != nil {
				providerClient.CloseIdleConnections()
			}
		})
	}

	// Kill all when caller requests to.
	gctx, gcancel := context.WithCancel(ctx)
	g.Add(func() error {
		<-gctx.Done()
		return gctx.Err()
	}, func(err error) {
		gcancel()
	})

	level.Info(o.Logger).Log("msg", "starting dominus-status-server",
		"external", externalListener.Addr().String(),
		"internal", internalListener.Addr().String(),
		"auth_type", o.Config.AuthType,
		"state_path", o.Config.StatePath,
	)

	return g.Run()
}

// logFilter is a list of filters
var logFilter = [][]string{
	// filter out TCP probes
	// see https://github.com/golang/go/issues/26918
	{
		"http2: server: error reading preface from client",
		"read: connection reset by peer",
	},
}

type filteredHTTP2ErrorWriter struct {
	out io.Writer
	// toDebugLogFilters is a list of filters.
	// All strings within a filter must match for the filter to match.
	// If any of the filters matches, the log is written to debug level.
	toDebugLogFilters [][]string
	logger            log.Logger
}

func (w *filteredHTTP2ErrorWriter) Write(p []byte) (int, error) {
	logContents := string(p)

	for _, filter := range w.toDebugLogFilters {
		shouldFilter := true
		for _, matches := range filter {
			if !strings.Contains(logContents, matches) {
				shouldFilter = false
				break
			}
		}
		if shouldFilter {
			level.Debug(w.logger).Log("msg", "http server error log has been filtered", "error", logContents)
			return len(p), nil
		}
	}
	return w.out.Write(p)
}
