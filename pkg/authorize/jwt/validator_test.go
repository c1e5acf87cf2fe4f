package jwt_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-kit/log"
	josejwt "gopkg.in/square/go-jose.v2/jwt"

	"github.com/dominusproject/dominus-status/pkg/authorize"
	"github.com/dominusproject/dominus-status/pkg/authorize/jwt"
)

const clientID = "dominus-status"

func TestValidatorAudiencePolicies(t *testing.T) {
	privateKey := parseKey(t, privateKeyStr)
	ctx := context.Background()

	public := func(aud ...string) *josejwt.Claims {
		return &josejwt.Claims{
			Issuer:   testIssuer,
			Audience: josejwt.Audience(aud),
			Expiry:   josejwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
	}

	tc := []struct {
		name    string
		policy  jwt.AudiencePolicy
		public  *josejwt.Claims
		private map[string]interface{}
		check   func(t *testing.T, p *authorize.Principal, err error)
	}{
		{
			name:    "azp match",
			policy:  jwt.PolicyAuthorizedParty,
			public:  public(),
			private: map[string]interface{}{"azp": clientID},
			check: func(t *testing.T, p *authorize.Principal, err error) {
				if err != nil {
					t.Fatalf("got %v, want success", err)
				}
			},
		},
		{
			name:    "azp mismatch is unauthorized, not invalid token",
			policy:  jwt.PolicyAuthorizedParty,
			public:  public(),
			private: map[string]interface{}{"azp": "other-client"},
			check: func(t *testing.T, p *authorize.Principal, err error) {
				if !errors.Is(err, authorize.ErrUnauthorized) {
					t.Fatalf("got %v, want ErrUnauthorized", err)
				}
				if errors.Is(err, authorize.ErrInvalidToken) {
					t.Fatal("azp mismatch must be distinguishable from a signature failure")
				}
			},
		},
		{
			name:   "azp mode ignores audience",
			policy: jwt.PolicyAuthorizedParty,
			// Audience would fail the aud check; azp mode must not look at it.
			public:  public("unrelated-audience"),
			private: map[string]interface{}{"azp": clientID},
			check: func(t *testing.T, p *authorize.Principal, err error) {
				if err != nil {
					t.Fatalf("got %v, want success", err)
				}
			},
		},
		{
			name:   "aud contains client",
			policy: jwt.PolicyAudience,
			public: public("account", clientID),
			check: func(t *testing.T, p *authorize.Principal, err error) {
				if err != nil {
					t.Fatalf("got %v, want success", err)
				}
			},
		},
		{
			name:   "aud missing client",
			policy: jwt.PolicyAudience,
			public: public("account"),
			check: func(t *testing.T, p *authorize.Principal, err error) {
				if !errors.Is(err, authorize.ErrInvalidToken) {
					t.Fatalf("got %v, want ErrInvalidToken", err)
				}
			},
		},
		{
			name:   "none mode checks neither claim",
			policy: jwt.PolicyNone,
			public: public("unrelated-audience"),
			private: map[string]interface{}{
				"azp": "other-client",
			},
			check: func(t *testing.T, p *authorize.Principal, err error) {
				if err != nil {
					t.Fatalf("got %v, want success", err)
				}
			},
		},
	}

	for i := range tc {
		tc := tc[i]
		t.Run(tc.name, func(t *testing.T) {
			validator := jwt.NewValidator(log.NewNopLogger(), clientID, tc.policy, clientID, true)
			authorizer := jwt.NewAuthorizer(testIssuer, staticKeys{key: &privateKey.PublicKey}, validator)

			token := signToken(t, privateKey, "", tc.public, tc.private)
			p, err := authorizer.AuthorizeToken(ctx, token)
			tc.check(t, p, err)
		})
	}
}

func TestValidatorRoleResolution(t *testing.T) {
	privateKey := parseKey(t, privateKeyStr)
	ctx := context.Background()

	resource := func(client string, roles ...string) map[string]interface{} {
		return map[string]interface{}{
			client: map[string]interface{}{"roles": roles},
		}
	}

	tc := []struct {
		name      string
		fallback  bool
		private   map[string]interface{}
		wantRoles []string
		notRoles  []string
	}{
		{
			name:     "resource roles take precedence over realm roles",
			fallback: true,
			private: map[string]interface{}{
				"resource_access": resource(clientID, "x"),
				"realm_access":    map[string]interface{}{"roles": []string{"y"}},
			},
			wantRoles: []string{"x"},
			notRoles:  []string{"y"},
		},
		{
			name:     "empty resource roles fall back to realm roles",
			fallback: true,
			private: map[string]interface{}{
				"resource_access": resource(clientID),
				"realm_access":    map[string]interface{}{"roles": []string{"y"}},
			},
			wantRoles: []string{"y"},
		},
		{
			name:     "missing resource entry falls back to realm roles",
			fallback: true,
			private: map[string]interface{}{
				"resource_access": resource("other-client", "x"),
				"realm_access":    map[string]interface{}{"roles": []string{"y"}},
			},
			wantRoles: []string{"y"},
			notRoles:  []string{"x"},
		},
		{
			name:     "fallback disabled leaves realm roles unused",
			fallback: false,
			private: map[string]interface{}{
				"realm_access": map[string]interface{}{"roles": []string{"y"}},
			},
			notRoles: []string{"y"},
		},
	}

	for i := range tc {
		tc := tc[i]
		t.Run(tc.name, func(t *testing.T) {
			validator := jwt.NewValidator(log.NewNopLogger(), clientID, jwt.PolicyNone, clientID, tc.fallback)
			authorizer := jwt.NewAuthorizer(testIssuer, staticKeys{key: &privateKey.PublicKey}, validator)

			token := signToken(t, privateKey, "", &josejwt.Claims{
				Issuer: testIssuer,
				Expiry: josejwt.NewNumericDate(time.Now().Add(time.Hour)),
			}, tc.private)

			principal, err := authorizer.AuthorizeToken(ctx, token)
			if err != nil {
				t.Fatalf("error authorizing token: %v", err)
			}
			for _, role := range tc.wantRoles {
				if !principal.Roles.Contains(role) {
					t.Errorf("role %q missing from %v", role, principal.Roles)
				}
			}
			for _, role := range tc.notRoles {
				if principal.Roles.Contains(role) {
					t.Errorf("role %q unexpectedly present in %v", role, principal.Roles)
				}
			}
		})
	}
}

func TestValidatorUsernameFallback(t *testing.T) {
	privateKey := parseKey(t, privateKeyStr)
	validator := jwt.NewValidator(log.NewNopLogger(), clientID, jwt.PolicyNone, clientID, true)
	authorizer := jwt.NewAuthorizer(testIssuer, staticKeys{key: &privateKey.PublicKey}, validator)

	tc := []struct {
		name    string
		private map[string]interface{}
		want    string
	}{
		{
			name:    "preferred_username wins",
			private: map[string]interface{}{"preferred_username": "alice", "username": "a.liddell"},
			want:    "alice",
		},
		{
			name:    "username when preferred_username is absent",
			private: map[string]interface{}{"username": "a.liddell"},
			want:    "a.liddell",
		},
		{
			name: "unknown when neither is present",
			want: "unknown",
		},
	}

	for i := range tc {
		tc := tc[i]
		t.Run(tc.name, func(t *testing.T) {
			token := signToken(t, privateKey, "", &josejwt.Claims{
				Issuer: testIssuer,
				Expiry: josejwt.NewNumericDate(time.Now().Add(time.Hour)),
			}, tc.private)

			principal, err := authorizer.AuthorizeToken(context.Background(), token)
			if err != nil {
				t.Fatalf("error authorizing token: %v", err)
			}
			if principal.Username != tc.want {
				t.Errorf("got username %q, want %q", principal.Username, tc.want)
			}
		})
	}
}
