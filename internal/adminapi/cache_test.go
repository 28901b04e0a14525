// ABOUTME: Tests for the admin API access-token cache against an httptest OAuth endpoint
// ABOUTME: Covers caching, 75% expiry, confirmation invalidation, failures and the sweep

package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebarista-de/shopware-app-server/internal/apperr"
	"github.com/codebarista-de/shopware-app-server/internal/registry"
	"github.com/codebarista-de/shopware-app-server/internal/registry/registrytest"
	"github.com/codebarista-de/shopware-app-server/internal/store"
)

type oauthServer struct {
	*httptest.Server
	requests atomic.Int32
	status   atomic.Int32
	body     atomic.Value // string
	lastForm sync.Map
}

func newOAuthServer(t *testing.T) *oauthServer {
	t.Helper()
	s := &oauthServer{}
	s.status.Store(http.StatusOK)
	s.body.Store(`{"access_token":"tok-1","token_type":"Bearer","expires_in":600}`)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		if r.URL.Path != TokenPath || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		for k, v := range r.PostForm {
			s.lastForm.Store(k, v[0])
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(s.status.Load()))
		_, _ = io.WriteString(w, s.body.Load().(string))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *oauthServer) form(key string) string {
	v, _ := s.lastForm.Load(key)
	str, _ := v.(string)
	return str
}

type fixture struct {
	reg     *registry.Registry
	app     *registrytest.App
	cache   *TokenCache
	clock   time.Time
	results []string
	mu      sync.Mutex
}

func newFixture(t *testing.T, srv *oauthServer) *fixture {
	t.Helper()
	f := &fixture{
		app:   registrytest.NewApp("my-app", "app-secret"),
		clock: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.reg = registry.New(store.NewMockStore(), registry.WithClock(f.now))
	f.cache = NewTokenCache(f.reg, Options{
		HTTPClient: srv.Client(),
		Observe: func(r string) {
			f.mu.Lock()
			f.results = append(f.results, r)
			f.mu.Unlock()
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	f.cache.now = f.now
	t.Cleanup(f.cache.Close)

	ctx := context.Background()
	_, err := f.reg.Register(ctx, f.app, "S1", srv.URL, "", false)
	require.NoError(t, err)
	ok, err := f.reg.Confirm(ctx, f.app, "S1", srv.URL, "client-id", "client-secret")
	require.NoError(t, err)
	require.True(t, ok)
	f.advance(time.Second)
	return f
}

func (f *fixture) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(d)
}

func TestGetAccessToken_RequestsAndCaches(t *testing.T) {
	srv := newOAuthServer(t)
	f := newFixture(t, srv)
	ctx := context.Background()

	token, err := f.cache.GetAccessToken(ctx, f.app, "S1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, f.now(), token.CreatedAt)
	assert.Equal(t, f.now().Add(450*time.Second), token.ExpiresAt, "75% of 600s")

	assert.Equal(t, "client_credentials", srv.form("grant_type"))
	assert.Equal(t, "client-id", srv.form("client_id"))
	assert.Equal(t, "client-secret", srv.form("client_secret"))

	again, err := f.cache.GetAccessToken(ctx, f.app, "S1")
	require.NoError(t, err)
	assert.Same(t, token, again)
	assert.Equal(t, int32(1), srv.requests.Load())
	assert.Equal(t, []string{ResultMiss, ResultHit}, f.results)
}

func TestGetAccessToken_RefreshesAfterExpiry(t *testing.T) {
	srv := newOAuthServer(t)
	f := newFixture(t, srv)
	ctx := context.Background()

	_, err := f.cache.GetAccessToken(ctx, f.app, "S1")
	require.NoError(t, err)

	f.advance(449 * time.Second)
	_, err = f.cache.GetAccessToken(ctx, f.app, "S1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.requests.Load())

	f.advance(time.Second)
	_, err = f.cache.GetAccessToken(ctx, f.app, "S1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.requests.Load())
}

func TestGetAccessToken_ReconfirmationInvalidates(t *testing.T) {
	srv := newOAuthServer(t)
	f := newFixture(t, srv)
	ctx := context.Background()

	_, err := f.cache.GetAccessToken(ctx, f.app, "S1")
	require.NoError(t, err)

	f.advance(time.Second)
	_, err = f.reg.Register(ctx, f.app, "S1", srv.URL, "", false)
	require.NoError(t, err)
	ok, err := f.reg.Confirm(ctx, f.app, "S1", srv.URL, "client-id-2", "client-secret-2")
	require.NoError(t, err)
	require.True(t, ok)
	f.advance(time.Second)

	srv.body.Store(`{"access_token":"tok-2","token_type":"Bearer","expires_in":600}`)
	token, err := f.cache.GetAccessToken(ctx, f.app, "S1")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token.AccessToken)
	assert.Equal(t, "client-id-2", srv.form("client_id"))
}

func TestGetAccessToken_MissingExpiresInIsStale(t *testing.T) {
	srv := newOAuthServer(t)
	srv.body.Store(`{"access_token":"tok-1","token_type":"Bearer"}`)
	f := newFixture(t, srv)
	ctx := context.Background()

	_, err := f.cache.GetAccessToken(ctx, f.app, "S1")
	require.NoError(t, err)
	_, err = f.cache.GetAccessToken(ctx, f.app, "S1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.requests.Load())
}

func TestGetAccessToken_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"errors":[{"code":"401"}]}`},
		{"server error", http.StatusInternalServerError, `oops`},
		{"missing access token", http.StatusOK, `{"token_type":"Bearer","expires_in":600}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newOAuthServer(t)
			srv.status.Store(int32(tt.status))
			srv.body.Store(tt.body)
			f := newFixture(t, srv)

			_, err := f.cache.GetAccessToken(context.Background(), f.app, "S1")
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.CodeAccessDenied), "got %v", err)
			assert.Equal(t, 0, f.cache.Len())
			assert.Equal(t, []string{ResultError}, f.results)
		})
	}
}

func TestGetAccessToken_Unreachable(t *testing.T) {
	srv := newOAuthServer(t)
	f := newFixture(t, srv)
	srv.Close()

	_, err := f.cache.GetAccessToken(context.Background(), f.app, "S1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeShopwareAccess), "got %v", err)
	assert.Equal(t, http.StatusForbidden, apperr.HTTPStatus(err))
}

func TestGetAccessToken_UnknownShop(t *testing.T) {
	srv := newOAuthServer(t)
	f := newFixture(t, srv)

	_, err := f.cache.GetAccessToken(context.Background(), f.app, "S9")
	assert.True(t, apperr.Is(err, apperr.CodeNoSuchShop))

	require.NoError(t, f.reg.Delete(context.Background(), f.app, "S1", "https://shop.example"))
	_, err = f.cache.GetAccessToken(context.Background(), f.app, "S1")
	assert.True(t, apperr.Is(err, apperr.CodeNoSuchShop))
	assert.Equal(t, int32(0), srv.requests.Load())
}

func TestInvalidateAndSweep(t *testing.T) {
	srv := newOAuthServer(t)
	f := newFixture(t, srv)
	ctx := context.Background()

	_, err := f.cache.GetAccessToken(ctx, f.app, "S1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.Len())

	f.cache.Invalidate("my-app", "S1")
	assert.Equal(t, 0, f.cache.Len())

	_, err = f.cache.GetAccessToken(ctx, f.app, "S1")
	require.NoError(t, err)
	f.cache.removeExpired()
	assert.Equal(t, 1, f.cache.Len(), "fresh entry survives the sweep")

	f.advance(time.Hour)
	f.cache.removeExpired()
	assert.Equal(t, 0, f.cache.Len())
}

func TestTokenURL(t *testing.T) {
	c := &TokenCache{sslOnly: true}
	got, err := c.tokenURL("http://shop.example/shop/?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example/shop/api/oauth/token", got)

	c.sslOnly = false
	got, err = c.tokenURL("http://localhost:8000")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/api/oauth/token", got)

	_, err = c.tokenURL("not a url")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidShopURL))
}

func TestClose_Idempotent(t *testing.T) {
	c := NewTokenCache(nil, Options{})
	c.Close()
	c.Close()
}

func TestLoggingTransport(t *testing.T) {
	srv := newOAuthServer(t)
	var buf bytes.Buffer
	client := NewHTTPClient(5*time.Second, true, slog.New(slog.NewJSONHandler(&buf, nil)))

	resp, err := client.Post(srv.URL+TokenPath+"?secret=x", "application/x-www-form-urlencoded", bytes.NewBufferString("client_secret=hidden"))
	require.NoError(t, err)
	resp.Body.Close()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "outbound request", entry["msg"])
	assert.Equal(t, float64(http.StatusOK), entry["status"])
	assert.NotContains(t, buf.String(), "hidden")
	assert.NotContains(t, buf.String(), "secret=x")
}
