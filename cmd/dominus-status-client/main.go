package main

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	oidc "github.com/coreos/go-oidc"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	dominus_http "github.com/dominusproject/dominus-status/pkg/http"
	dominus_oauth2 "github.com/dominusproject/dominus-status/pkg/oauth2"
	"github.com/dominusproject/dominus-status/pkg/runutil"
)

const limitBytes = 256 * 1024

func main() {
	opt := &Options{
		URL:     "http://localhost:8000",
		Timeout: 20 * time.Second,
	}

	cmd := &cobra.Command{
		Use:   "dominus-status-client",
		Short: "Operator client for the authority status service.",

		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opt.URL, "url", opt.URL, "Base URL of the status service.")
	cmd.PersistentFlags().DurationVar(&opt.Timeout, "timeout", opt.Timeout, "Time budget for the whole request, token exchange included.")

	cmd.PersistentFlags().StringVar(&opt.Token, "token", opt.Token, "A bearer token to authenticate with.")

	cmd.PersistentFlags().StringVar(&opt.Username, "username", opt.Username, "A username for basic authentication against a service using local credentials.")
	cmd.PersistentFlags().StringVar(&opt.Password, "password", opt.Password, "The password for --username.")

	cmd.PersistentFlags().StringVar(&opt.OIDCIssuer, "oidc-issuer", opt.OIDCIssuer, "An OIDC issuer URL to obtain tokens from, e.g. https://keycloak.example.com/realms/master.")
	cmd.PersistentFlags().StringVar(&opt.OIDCClientID, "oidc-client-id", opt.OIDCClientID, "The OIDC client to request tokens as.")
	cmd.PersistentFlags().StringVar(&opt.OIDCClientSecret, "oidc-client-secret", opt.OIDCClientSecret, "The client secret, for confidential OIDC clients.")
	cmd.PersistentFlags().StringVar(&opt.OIDCUsername, "oidc-username", opt.OIDCUsername, "The user to obtain tokens for via the password grant.")
	cmd.PersistentFlags().StringVar(&opt.OIDCPassword, "oidc-password", opt.OIDCPassword, "The password for --oidc-username.")

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the current authority state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opt.Get()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set STATE",
		Short: "Set the authority state to primary, secondary or notset.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opt.Set(args[0])
		},
	})

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type Options struct {
	URL     string
	Timeout time.Duration

	Token string

	Username string
	Password string

	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCUsername     string
	OIDCPassword     string
}

// Get requests the current authority state and prints it.
func (o *Options) Get() error {
	return o.do(http.MethodGet, "/status", nil)
}

// Set changes the authority state. The server decides which values are
// acceptable and reports the updated state back.
func (o *Options) Set(state string) error {
	return o.do(http.MethodPut, "/state", url.Values{"new_state": []string{state}})
}

func (o *Options) do(method, path string, query url.Values) (err error) {
	base, err := url.Parse(o.URL)
	if err != nil {
		return fmt.Errorf("--url is not a valid URL: %v", err)
	}
	base.Path = strings.TrimRight(base.Path, "/") + path
	if query != nil {
		base.RawQuery = query.Encode()
	}

	client, err := o.client()
	if err != nil {
		return err
	}

	req, err := http.NewRequest(method, base.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Request-Id", uuid.New().String())
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer runutil.ExhaustCloseWithErrCapture(&err, resp.Body, "close response body")

	body, err := ioutil.ReadAll(io.LimitReader(resp.Body, limitBytes))
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	_, err = os.Stdout.Write(body)
	return err
}

// client builds an HTTP client for the configured authentication mode.
func (o *Options) client() (*http.Client, error) {
	modes := 0
	for _, set := range []bool{o.Token != "", o.OIDCIssuer != "", o.Username != ""} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return nil, fmt.Errorf("choose one of --token, --oidc-issuer or --username")
	}

	var transport http.RoundTripper = defaultTransport()
	switch {
	case o.Token != "":
		transport = dominus_http.NewBearerRoundTripper(o.Token, transport)

	case o.OIDCIssuer != "":
		if o.OIDCClientID == "" || o.OIDCUsername == "" {
			return nil, fmt.Errorf("--oidc-client-id and --oidc-username are required with --oidc-issuer")
		}

		provider, err := oidc.NewProvider(context.Background(), o.OIDCIssuer)
		if err != nil {
			return nil, fmt.Errorf("OIDC provider initialization failed: %v", err)
		}

		cfg := oauth2.Config{
			ClientID:     o.OIDCClientID,
			ClientSecret: o.OIDCClientSecret,
			Endpoint:     provider.Endpoint(),
		}

		src := dominus_oauth2.NewPasswordCredentialsTokenSource(
			context.Background(), &cfg,
			o.OIDCUsername, o.OIDCPassword,
		)

		transport = &oauth2.Transport{
			Base:   transport,
			Source: src,
		}

	case o.Username != "":
		transport = &basicAuthRoundTripper{
			username: o.Username,
			password: o.Password,
			wrapper:  transport,
		}
	}

	return &http.Client{Timeout: o.Timeout, Transport: transport}, nil
}

func defaultTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		Dial: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).Dial,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableKeepAlives:   true,
	}
}

type basicAuthRoundTripper struct {
	username, password string
	wrapper            http.RoundTripper
}

func (rt *basicAuthRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(rt.username, rt.password)
	return rt.wrapper.RoundTrip(req)
}
