// Package keycloak talks to the identity provider over HTTP: realm metadata
// for the realm-wide public key and the JWKS endpoint for the rotating key
// set. It also implements the key providers the token authorizer verifies
// signatures against.
package keycloak

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	jose "gopkg.in/square/go-jose.v2"

	"github.com/dominusproject/dominus-status/pkg/runutil"
)

// DefaultTimeout bounds every call to the provider. A hung provider must
// fail the request, not stall it.
const DefaultTimeout = 10 * time.Second

const responseBodyLimit = 256 * 1024

// Client fetches realm metadata and key sets from a Keycloak-compatible
// provider.
type Client struct {
	logger  log.Logger
	baseURL string
	realm   string
	client  *http.Client
}

// NewClient returns a client for the given provider base URL and realm. A
// nil httpClient gets a default with DefaultTimeout.
func NewClient(logger log.Logger, baseURL, realm string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		logger:  log.With(logger, "component", "authorize/keycloak"),
		baseURL: strings.TrimRight(baseURL, "/"),
		realm:   realm,
		client:  httpClient,
	}
}

// Issuer returns the issuer URL tokens minted by this realm carry.
func (c *Client) Issuer() string {
	return c.baseURL + "/realms/" + c.realm
}

type realmInfo struct {
	PublicKey string `json:"public_key"`
}

// RealmPublicKey fetches the realm metadata document and returns the realm's
// RSA public key. The realm publishes it as bare base64.
func (c *Client) RealmPublicKey(ctx context.Context) (crypto.PublicKey, error) {
	body, err := c.get(ctx, c.Issuer())
	if err != nil {
		return nil, errors.Wrap(err, "fetching realm metadata")
	}

	var info realmInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, errors.Wrap(err, "decoding realm metadata")
	}
	if info.PublicKey == "" {
		return nil, errors.Errorf("realm %q metadata carries no public key", c.realm)
	}

	key, err := ParsePublicKey(info.PublicKey)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing realm %q public key", c.realm)
	}
	return key, nil
}

// KeySet fetches the realm's JWKS document.
func (c *Client) KeySet(ctx context.Context) (*jose.JSONWebKeySet, error) {
	body, err := c.get(ctx, c.Issuer()+"/protocol/openid-connect/certs")
	if err != nil {
		return nil, errors.Wrap(err, "fetching key set")
	}

	var keys jose.JSONWebKeySet
	if err := json.Unmarshal(body, &keys); err != nil {
		return nil, errors.Wrap(err, "decoding key set")
	}
	return &keys, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer runutil.ExhaustCloseWithLogOnErr(c.logger, res.Body, "close provider response body")

	body, err := ioutil.ReadAll(io.LimitReader(res.Body, responseBodyLimit))
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d for %s", res.StatusCode, url)
	}
	return body, nil
}
