package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/entitlements/pkg/jwt"
)

const testOrg = "6f1c2d8e-3b4a-4c5d-9e6f-7a8b9c0d1e2f"

// execute runs the root command with args and returns what it printed.
// Every call passes -o explicitly because cobra keeps flag values between runs.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ENTITLEMENTS_API_URL", "")
	t.Setenv("ENTITLEMENTS_TOKEN", "")
	flagAPIURL, flagToken = "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPlansListTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer admin-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/v1/admin/plans", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[{"id":"p1","slug":"basic","name":"Basic","prices":{"USD":{"yearly":"120.00"},"EUR":{"yearly":"110.00"}},"max_schools":-1,"is_active":true}]}`)
	}))
	defer srv.Close()

	out, err := execute(t, "plans", "list", "--api-url", srv.URL, "--token", "admin-token", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "basic")
	assert.Contains(t, out, "110.00 EUR, 120.00 USD")
	assert.Contains(t, out, "unlimited")
}

func TestSubscriptionActivateSendsPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/admin/organizations/"+testOrg+"/subscription/activate", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "1200.00", body["amount_paid"])
		assert.Equal(t, "EUR", body["currency"])
		assert.EqualValues(t, 2, body["additional_schools"])

		_, _ = io.WriteString(w, `{"id":"s1","organization_id":"`+testOrg+`","plan_id":"p1","status":"active","additional_schools":2}`)
	}))
	defer srv.Close()

	out, err := execute(t, "subscription", "activate", testOrg,
		"--plan", "p1", "--amount", "1200.00", "--currency", "EUR", "--additional-schools", "2",
		"--api-url", srv.URL, "--token", "admin-token", "-o", "json")
	require.NoError(t, err)

	var got SubscriptionResponse
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "active", got.Status)
	assert.Equal(t, 2, got.AdditionalSchools)
}

func TestSubscriptionStatusRejectsBadOrganization(t *testing.T) {
	_, err := execute(t, "subscription", "status", "not-a-uuid", "--api-url", "http://127.0.0.1:1", "--token", "x", "-o", "table")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UUID")
}

func TestAPIErrorCarriesReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"error":"Unprocessable Entity","code":"DISCOUNT_REJECTED","message":"Discount code has no uses left","details":{"reason":"USAGE_EXCEEDED"}}`)
	}))
	defer srv.Close()

	_, err := execute(t, "renewals", "approve", "r1", "--api-url", srv.URL, "--token", "admin-token", "-o", "table")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "DISCOUNT_REJECTED", apiErr.Code)
	assert.Equal(t, "Discount code has no uses left (USAGE_EXCEEDED)", err.Error())
}

func TestParseAPIErrorFallsBackToStatus(t *testing.T) {
	err := parseAPIError(http.StatusForbidden, []byte("not json"))
	assert.Equal(t, "forbidden: token lacks admin rights", err.Error())

	err = parseAPIError(http.StatusUnprocessableEntity, []byte(`{"code":"VALIDATION_FAILED","message":"Validation failed","details":[{"field":"reason"}]}`))
	assert.Equal(t, "Validation failed", err.Error())
}

func TestSweepRunPrintsTransitions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/admin/sweep", r.URL.Path)
		_, _ = io.WriteString(w, `{"candidates":3,"transitioned":[{"organization_id":"`+testOrg+`","from":"active","to":"grace_period"}],"failures":[]}`)
	}))
	defer srv.Close()

	out, err := execute(t, "sweep", "run", "--api-url", srv.URL, "--token", "admin-token", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "Candidates:    3")
	assert.Contains(t, out, "grace_period")
}

func TestTokenIssue(t *testing.T) {
	secret := strings.Repeat("k", 40)
	t.Setenv("AUTH_JWT_SECRET", secret)

	out, err := execute(t, "token", "issue", "--subject", "ops", "-o", "json")
	require.NoError(t, err)

	var resp TokenResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ops", resp.Subject)

	claims, err := jwt.ValidateToken(resp.Token, secret)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, "ops", claims.UserID)
}

func TestConfigSetContext(t *testing.T) {
	_, err := execute(t, "config", "set-context", "local", "--api-url", "http://localhost:8080", "--token", "abc", "-o", "table")
	require.NoError(t, err)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.CurrentContext)
	require.NotNil(t, cfg.GetContext("local"))
	assert.Equal(t, "abc", cfg.GetContext("local").Context.Token)
}
