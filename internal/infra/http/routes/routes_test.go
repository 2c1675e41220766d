package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/entitlements/internal/config"
	infrahttp "github.com/openctemio/entitlements/internal/infra/http"
	"github.com/openctemio/entitlements/internal/infra/http/handler"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/jwt"
	"github.com/openctemio/entitlements/pkg/logger"
	"github.com/openctemio/entitlements/pkg/validator"
)

// newTestServer wires every route with nil services. Requests that pass the
// auth middleware would panic, so the tests below only exercise rejections and
// the public probes.
func newTestServer(t *testing.T) (*infrahttp.Server, *jwt.Generator) {
	t.Helper()
	cfg := config.Default()
	cfg.RateLimit.Enabled = false

	tokens := jwt.NewGenerator(jwt.TokenConfig{
		Secret:              "0123456789abcdef0123456789abcdef",
		Issuer:              "test",
		AccessTokenDuration: time.Hour,
	})
	v := validator.New()
	srv := infrahttp.NewServer(cfg, logger.NewNop())
	Register(srv.Router(), Handlers{
		Health:       handler.NewHealthHandler(handler.WithVersion("test")),
		Plan:         handler.NewPlanHandler(nil, v),
		Subscription: handler.NewSubscriptionHandler(nil, v),
		Feature:      handler.NewFeatureHandler(nil, v),
		Usage:        handler.NewUsageHandler(nil, v),
		Payment:      handler.NewPaymentHandler(nil, v),
		Renewal:      handler.NewRenewalHandler(nil, v),
		Discount:     handler.NewDiscountHandler(nil, v),
		Sweep:        handler.NewSweepHandler(nil, nil, 1),
	}, tokens, logger.NewNop())
	return srv, tokens
}

func TestProbesArePublic(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRouteAccess(t *testing.T) {
	srv, tokens := newTestServer(t)
	member := shared.NewID()
	other := shared.NewID()

	memberToken, _, err := tokens.GenerateAccessToken(jwt.Subject{
		UserID:        shared.NewID().String(),
		Organizations: []string{member.String()},
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"tenant route without token", http.MethodGet, "/api/v1/organizations/" + member.String() + "/subscription", "", http.StatusUnauthorized},
		{"tenant route for another organization", http.MethodGet, "/api/v1/organizations/" + other.String() + "/features", memberToken, http.StatusForbidden},
		{"tenant route with bad organization id", http.MethodGet, "/api/v1/organizations/nope/limits/students", memberToken, http.StatusBadRequest},
		{"admin route without token", http.MethodPost, "/api/v1/admin/sweep", "", http.StatusUnauthorized},
		{"admin route as member", http.MethodPost, "/api/v1/admin/sweep", memberToken, http.StatusForbidden},
		{"admin plan list as member", http.MethodGet, "/api/v1/admin/plans", memberToken, http.StatusForbidden},
		{"unknown route", http.MethodGet, "/api/v1/nothing", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRouteListing(t *testing.T) {
	srv, _ := newTestServer(t)

	routes := infrahttp.CollectRoutes(srv.Router())
	byKey := make(map[string]infrahttp.RouteInfo, len(routes))
	for _, r := range routes {
		byKey[r.Method+" "+r.Path] = r
	}

	assert.Equal(t, "tenant", byKey["GET /api/v1/organizations/{orgID}/features/{key}"].Access)
	assert.Equal(t, "admin", byKey["POST /api/v1/admin/renewals/{id}/approve"].Access)
	assert.Equal(t, "admin", byKey["POST /api/v1/admin/organizations/{orgID}/subscription/activate"].Access)
	assert.Equal(t, "public", byKey["GET /health"].Access)

	var buf bytes.Buffer
	require.NoError(t, infrahttp.PrintRoutes(&buf, routes, "json", "tenant"))
	var tenantRoutes []infrahttp.RouteInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &tenantRoutes))
	require.NotEmpty(t, tenantRoutes)
	for _, r := range tenantRoutes {
		assert.True(t, strings.HasPrefix(r.Path, "/api/v1/organizations/"), r.Path)
	}

	buf.Reset()
	require.NoError(t, infrahttp.PrintRoutes(&buf, routes, "table", ""))
	assert.Contains(t, buf.String(), "METHOD")
}
