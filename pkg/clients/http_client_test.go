package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
)

func newTestClient(t *testing.T, mutate func(*HTTPConfig)) *HTTPClient {
	t.Helper()
	cfg := DefaultHTTPConfig()
	if mutate != nil {
		mutate(cfg)
	}
	c, err := NewHTTPClient(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDoAppliesDefaultHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, DefaultUserAgent, got.Get("User-Agent"))
	assert.Equal(t, "gzip, deflate, zstd", got.Get("Accept-Encoding"))
	assert.Equal(t, "application/json", got.Get("Accept"))

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, 100.0, stats.SuccessRate)
}

func TestDoConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, nil)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)

	_, err = c.Do(req)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.Equal(t, int64(1), c.GetStats().FailedRequests)
}

func TestDoCancelledWhileRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := newTestClient(t, func(cfg *HTTPConfig) {
		cfg.RateLimit = 0.01
		cfg.RateBurst = 1
	})

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = c.Do(req)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	require.NotNil(t, c.GetStats().RateLimiter)
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name  string
		auth  AuthConfig
		check func(t *testing.T, r *http.Request)
	}{
		{
			name: "bearer",
			auth: AuthConfig{Type: AuthBearer, Token: "tok"},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			},
		},
		{
			name: "basic",
			auth: AuthConfig{Type: AuthBasic, Username: "u", Password: "p"},
			check: func(t *testing.T, r *http.Request) {
				u, p, ok := r.BasicAuth()
				assert.True(t, ok)
				assert.Equal(t, "u", u)
				assert.Equal(t, "p", p)
			},
		},
		{
			name: "api key header",
			auth: AuthConfig{Type: AuthAPIKey, APIKey: "k"},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "k", r.Header.Get("X-API-Key"))
			},
		},
		{
			name: "api key query",
			auth: AuthConfig{Type: AuthAPIKey, APIKey: "k", QueryParam: "key"},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "k", r.URL.Query().Get("key"))
				assert.Equal(t, "1", r.URL.Query().Get("page"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen *http.Request
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = r
			}))
			defer srv.Close()

			c := newTestClient(t, func(cfg *HTTPConfig) { cfg.Auth = tt.auth })
			req, err := http.NewRequest(http.MethodGet, srv.URL+"?page=1", nil)
			require.NoError(t, err)
			resp, err := c.Do(req)
			require.NoError(t, err)
			resp.Body.Close()

			require.NotNil(t, seen)
			tt.check(t, seen)
		})
	}
}

func TestClientCredentialsAuth(t *testing.T) {
	tokenCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "read", r.PostForm.Get("scope"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"bearer","expires_in":3600}`))
	})
	var authHeaders []string
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, func(cfg *HTTPConfig) {
		cfg.Auth = AuthConfig{
			Type:         AuthClientCredentials,
			ClientID:     "id",
			ClientSecret: "secret",
			TokenURL:     srv.URL + "/token",
			Scopes:       []string{"read"},
		}
	})

	for i := 0; i < 2; i++ {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/data", nil)
		require.NoError(t, err)
		resp, err := c.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, 1, tokenCalls)
	assert.Equal(t, []string{"Bearer abc", "Bearer abc"}, authHeaders)
}

func TestAuthValidate(t *testing.T) {
	bad := []AuthConfig{
		{Type: AuthBearer},
		{Type: AuthBasic},
		{Type: AuthAPIKey},
		{Type: AuthClientCredentials, ClientID: "id"},
		{Type: "kerberos"},
	}
	for _, a := range bad {
		_, err := NewHTTPClient(&HTTPConfig{Auth: a}, nil)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "type %q", a.Type)
	}
	assert.NoError(t, AuthConfig{}.Validate())
}
