package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"fixedlend/crypto"
)

const testSecret = "lending-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func TestAuthenticatorBindsCaller(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	addr := key.PubKey().Address()

	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "lending-ops"}, nil)
	var seen crypto.Address
	var scopes []string
	handler := auth.Middleware("lending:write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = CallerFrom(r.Context())
		scopes = ScopesFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token := signToken(t, jwt.MapClaims{
		"iss":   "lending-ops",
		"sub":   addr.String(),
		"scope": "lending:read lending:write",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/lending/markets/USDC/deposit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.True(t, seen.Equal(addr))
	require.Equal(t, []string{"lending:read", "lending:write"}, scopes)
}

func TestAuthenticatorRejections(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Audience: "lendingd"}, nil)
	handler := auth.Middleware("lending:write")(okHandler())

	cases := map[string]struct {
		header string
		status int
	}{
		"missing":    {"", http.StatusUnauthorized},
		"malformed":  {"Token abc", http.StatusUnauthorized},
		"bad sig":    {"Bearer " + signTokenWith(t, "other", jwt.MapClaims{"aud": "lendingd"}), http.StatusUnauthorized},
		"audience":   {"Bearer " + signToken(t, jwt.MapClaims{"aud": "other"}), http.StatusUnauthorized},
		"expired":    {"Bearer " + signToken(t, jwt.MapClaims{"aud": "lendingd", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized},
		"scope":      {"Bearer " + signToken(t, jwt.MapClaims{"aud": "lendingd", "scope": "lending:read"}), http.StatusForbidden},
		"bad caller": {"Bearer " + signToken(t, jwt.MapClaims{"aud": "lendingd", "scope": "lending:write", "sub": "nope"}), http.StatusUnauthorized},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/lending/markets", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			require.Equal(t, tc.status, serve(handler, req))
		})
	}
}

func signTokenWith(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthenticatorOptionalPaths(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, AllowAnonymous: true, OptionalPaths: []string{"/v1/lending/markets"}}, nil)
	handler := auth.Middleware()(okHandler())

	require.Equal(t, http.StatusOK, serve(handler, httptest.NewRequest(http.MethodGet, "/v1/lending/markets/USDC", nil)))
	require.Equal(t, http.StatusUnauthorized, serve(handler, httptest.NewRequest(http.MethodGet, "/v1/lending/proposals", nil)))

	disabled := NewAuthenticator(AuthConfig{}, nil).Middleware("any")(okHandler())
	require.Equal(t, http.StatusOK, serve(disabled, httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	require.Equal(t, seen, res.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, "abc-123", seen)
}
