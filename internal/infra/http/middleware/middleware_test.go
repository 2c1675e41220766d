package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/entitlements/internal/config"
	redisinfra "github.com/openctemio/entitlements/internal/infra/redis"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/jwt"
	"github.com/openctemio/entitlements/pkg/logger"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func newGenerator() *jwt.Generator {
	return jwt.NewGenerator(jwt.TokenConfig{Secret: testSecret, Issuer: "test", AccessTokenDuration: time.Hour})
}

func issue(t *testing.T, g *jwt.Generator, sub jwt.Subject) string {
	t.Helper()
	token, _, err := g.GenerateAccessToken(sub)
	require.NoError(t, err)
	return token
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
}

func TestRecovery(t *testing.T) {
	h := Recovery(logger.NewNop(), true)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestLoggerPassesStatusThrough(t *testing.T) {
	h := Logger(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotNil(t, logger.FromContext(r.Context()))
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(SecurityHeadersConfig{HSTSEnabled: true})(okHandler).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Header().Get("Strict-Transport-Security"), "max-age=31536000")
}

func TestBodyLimit(t *testing.T) {
	var readErr error
	h := BodyLimit(4)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))
	var maxErr *http.MaxBytesError
	assert.ErrorAs(t, readErr, &maxErr)
}

func TestTimeout(t *testing.T) {
	h := Timeout(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		time.Sleep(20 * time.Millisecond)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	rec = httptest.NewRecorder()
	Timeout(time.Second)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticate(t *testing.T) {
	g := newGenerator()
	userID := shared.NewID()
	orgID := shared.NewID()

	var actor shared.Actor
	h := Authenticate(g, logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = MustGetActor(r.Context())
		assert.Equal(t, userID.String(), GetUserID(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token := issue(t, g, jwt.Subject{UserID: userID.String(), Email: "a@b.c", Organizations: []string{orgID.String()}})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, userID, actor.ID)
		assert.False(t, actor.IsAdmin)
		assert.Equal(t, []shared.ID{orgID}, actor.Organizations)
	})
}

func TestRequireAdminAndOrganizationAccess(t *testing.T) {
	g := newGenerator()
	member := shared.NewID()
	other := shared.NewID()

	r := chi.NewRouter()
	r.Use(Authenticate(g, logger.NewNop()))
	r.With(RequireAdmin()).Get("/admin", okHandler)
	r.With(RequireOrganizationAccess()).Get("/orgs/{orgID}", okHandler)

	userToken := issue(t, g, jwt.Subject{UserID: shared.NewID().String(), Organizations: []string{member.String()}})
	adminToken := issue(t, g, jwt.Subject{UserID: shared.NewID().String(), IsAdmin: true})

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"member reads own org", "/orgs/" + member.String(), userToken, http.StatusOK},
		{"member reads other org", "/orgs/" + other.String(), userToken, http.StatusForbidden},
		{"bad org id", "/orgs/nope", userToken, http.StatusBadRequest},
		{"admin reads any org", "/orgs/" + other.String(), adminToken, http.StatusOK},
		{"member on admin route", "/admin", userToken, http.StatusForbidden},
		{"admin on admin route", "/admin", adminToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{RequestsPerSec: 0.001, Burst: 2, CleanupInterval: time.Hour}, logger.NewNop())
	defer rl.Stop()
	h := rl.Middleware()(okHandler)

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "buckets are per client")
}

type fakeWindow struct {
	result *redisinfra.RateLimitResult
	err    error
	keys   []string
}

func (f *fakeWindow) Allow(_ context.Context, key string) (*redisinfra.RateLimitResult, error) {
	f.keys = append(f.keys, key)
	return f.result, f.err
}

func (f *fakeWindow) Limit() int { return 10 }

func TestDistributedRateLimit(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		f := &fakeWindow{result: &redisinfra.RateLimitResult{ResetAt: time.Now().Add(time.Minute), RetryAt: time.Now().Add(30 * time.Second)}}
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.7:1234"
		DistributedRateLimit(f, logger.NewNop())(okHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, []string{"192.0.2.7"}, f.keys)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	})

	t.Run("fails open", func(t *testing.T) {
		f := &fakeWindow{err: errors.New("redis down")}
		rec := httptest.NewRecorder()
		DistributedRateLimit(f, logger.NewNop())(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("allowed", func(t *testing.T) {
		f := &fakeWindow{result: &redisinfra.RateLimitResult{Allowed: true, Remaining: 9, ResetAt: time.Now()}}
		rec := httptest.NewRecorder()
		DistributedRateLimit(f, logger.NewNop())(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
	})
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics())
	var pattern string
	r.Get("/orgs/{orgID}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		pattern = chi.RouteContext(req.Context()).RoutePattern()
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orgs/"+shared.NewID().String(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/orgs/{orgID}", pattern)
}
