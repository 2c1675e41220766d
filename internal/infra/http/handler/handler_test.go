package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/entitlements/internal/app"
	"github.com/openctemio/entitlements/internal/infra/http/middleware"
	"github.com/openctemio/entitlements/pkg/domain/discount"
	"github.com/openctemio/entitlements/pkg/domain/feature"
	"github.com/openctemio/entitlements/pkg/domain/history"
	"github.com/openctemio/entitlements/pkg/domain/payment"
	"github.com/openctemio/entitlements/pkg/domain/plan"
	"github.com/openctemio/entitlements/pkg/domain/renewal"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/subscription"
	"github.com/openctemio/entitlements/pkg/domain/usage"
	"github.com/openctemio/entitlements/pkg/pagination"
	"github.com/openctemio/entitlements/pkg/validator"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

func (b errorBody) reason() string {
	if details, ok := b.Details.(map[string]any); ok {
		reason, _ := details["reason"].(string)
		return reason
	}
	return ""
}

func withActor(r *http.Request, actor shared.Actor) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), middleware.ActorKey, actor))
}

func adminActor() shared.Actor {
	return shared.Actor{ID: shared.NewID(), Email: "ops@example.com", IsAdmin: true}
}

func serve(t *testing.T, method, pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Method(method, pattern, h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func testPlan(t *testing.T) *plan.Plan {
	t.Helper()
	p, err := plan.NewPlan("basic", "Basic", map[shared.Currency]plan.Pricing{
		shared.CurrencyUSD: {Yearly: decimal.NewFromInt(120), PerAdditionalSchool: decimal.NewFromInt(30)},
	}, plan.Periods{TrialDays: 14, GraceDays: 7, ReadonlyDays: 30}, 1)
	require.NoError(t, err)
	return p
}

// --- subscription ---

type fakeSubscriptionService struct {
	view    subscription.StatusView
	sub     *subscription.Subscription
	err     error
	reason  string
	history pagination.Result[*history.Entry]
}

func (f *fakeSubscriptionService) GetSubscription(context.Context, shared.ID) (*subscription.Subscription, error) {
	return f.sub, f.err
}

func (f *fakeSubscriptionService) GetSubscriptionStatus(context.Context, shared.ID) (subscription.StatusView, error) {
	return f.view, f.err
}

func (f *fakeSubscriptionService) StartTrial(context.Context, shared.Actor, shared.ID, shared.ID) (*subscription.Subscription, error) {
	return f.sub, f.err
}

func (f *fakeSubscriptionService) ActivateSubscription(context.Context, shared.Actor, app.ActivateSubscriptionInput) (*subscription.Subscription, error) {
	return f.sub, f.err
}

func (f *fakeSubscriptionService) SuspendSubscription(_ context.Context, _ shared.Actor, _ shared.ID, reason string) (*subscription.Subscription, error) {
	f.reason = reason
	return f.sub, f.err
}

func (f *fakeSubscriptionService) CancelSubscription(_ context.Context, _ shared.Actor, _ shared.ID, reason string) (*subscription.Subscription, error) {
	f.reason = reason
	return f.sub, f.err
}

func (f *fakeSubscriptionService) ReactivateSubscription(_ context.Context, _ shared.Actor, _ shared.ID, note string) (*subscription.Subscription, error) {
	f.reason = note
	return f.sub, f.err
}

func (f *fakeSubscriptionService) ListHistory(context.Context, shared.ID, pagination.Pagination) (pagination.Result[*history.Entry], error) {
	return f.history, f.err
}

func TestSubscriptionHandler_GetStatus(t *testing.T) {
	orgID := shared.NewID()
	svc := &fakeSubscriptionService{view: subscription.StatusView{
		OrganizationID:  orgID,
		Status:          subscription.StatusActive,
		DaysUntilExpiry: 42,
	}}
	h := NewSubscriptionHandler(svc, validator.New())

	req := httptest.NewRequest(http.MethodGet, "/orgs/"+orgID.String()+"/subscription", nil)
	rec := serve(t, http.MethodGet, "/orgs/{orgID}/subscription", h.GetStatus, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "active", view["status"])
	assert.EqualValues(t, 42, view["days_until_expiry"])
}

func TestSubscriptionHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantReason string
	}{
		{"not found", subscription.ErrSubscriptionNotFound, http.StatusNotFound, "SUBSCRIPTION_NOT_FOUND"},
		{"invalid state", fmt.Errorf("suspend: %w", subscription.ErrAlreadyTerminal), http.StatusConflict, "ALREADY_TERMINAL"},
		{"validation", subscription.ErrInvalidAdditionalCount, http.StatusUnprocessableEntity, "INVALID_ADDITIONAL_SCHOOLS"},
		{"not an admin", shared.NewDomainError("ADMIN_REQUIRED", "administrative rights required", shared.ErrUnauthorized), http.StatusForbidden, ""},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSubscriptionHandler(&fakeSubscriptionService{err: tt.err}, validator.New())
			orgID := shared.NewID()
			req := withActor(httptest.NewRequest(http.MethodPost, "/orgs/"+orgID.String()+"/suspend",
				strings.NewReader(`{"reason":"fraud"}`)), adminActor())

			rec := serve(t, http.MethodPost, "/orgs/{orgID}/suspend", h.Suspend, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeError(t, rec)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, body.reason())
			}
			assert.NotContains(t, body.Message, "connection reset")
		})
	}
}

func TestSubscriptionHandler_SuspendPassesReason(t *testing.T) {
	orgID := shared.NewID()
	sub, err := subscription.NewTrial(orgID, testPlan(t), testNow)
	require.NoError(t, err)
	svc := &fakeSubscriptionService{sub: sub}
	h := NewSubscriptionHandler(svc, validator.New())

	req := withActor(httptest.NewRequest(http.MethodPost, "/orgs/"+orgID.String()+"/suspend",
		strings.NewReader(`{"reason":"chargeback"}`)), adminActor())
	rec := serve(t, http.MethodPost, "/orgs/{orgID}/suspend", h.Suspend, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "chargeback", svc.reason)
	var resp SubscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, orgID.String(), resp.OrganizationID)
	assert.Equal(t, "trial", resp.Status)
}

func TestSubscriptionHandler_ActivateRejectsBadBodies(t *testing.T) {
	h := NewSubscriptionHandler(&fakeSubscriptionService{}, validator.New())
	orgID := shared.NewID()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"malformed json", `{"plan_id":`, http.StatusBadRequest},
		{"unknown field", `{"plan_id":"` + shared.NewID().String() + `","currency":"USD","amount_paid":"120","extra":1}`, http.StatusBadRequest},
		{"missing plan", `{"currency":"USD","amount_paid":"120"}`, http.StatusUnprocessableEntity},
		{"negative amount", `{"plan_id":"` + shared.NewID().String() + `","currency":"USD","amount_paid":"-1"}`, http.StatusUnprocessableEntity},
		{"unknown currency", `{"plan_id":"` + shared.NewID().String() + `","currency":"GBP","amount_paid":"120"}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withActor(httptest.NewRequest(http.MethodPost, "/orgs/"+orgID.String()+"/activate",
				strings.NewReader(tt.body)), adminActor())
			rec := serve(t, http.MethodPost, "/orgs/{orgID}/activate", h.Activate, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestSubscriptionHandler_BadOrganizationID(t *testing.T) {
	h := NewSubscriptionHandler(&fakeSubscriptionService{}, validator.New())
	req := httptest.NewRequest(http.MethodGet, "/orgs/not-a-uuid/subscription", nil)
	rec := serve(t, http.MethodGet, "/orgs/{orgID}/subscription", h.GetStatus, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- feature ---

type fakeFeatureService struct {
	asOf     time.Time
	features map[string]bool
	input    app.AddFeatureAddonInput
	err      error
}

func (f *fakeFeatureService) IsFeatureEnabled(_ context.Context, _ shared.ID, key string, asOf time.Time) (bool, error) {
	f.asOf = asOf
	return f.features[key], f.err
}

func (f *fakeFeatureService) GetAllFeaturesStatus(context.Context, shared.ID) (map[string]bool, error) {
	return f.features, f.err
}

func (f *fakeFeatureService) AddFeatureAddon(_ context.Context, actor shared.Actor, input app.AddFeatureAddonInput) (*feature.Addon, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	price, err := shared.NewMoney(input.PricePaid, input.Currency)
	if err != nil {
		return nil, err
	}
	return feature.NewAddon(input.OrganizationID, input.FeatureKey, true, price, input.ExpiresAt, actor.ID, testNow)
}

func (f *fakeFeatureService) ToggleFeature(context.Context, shared.Actor, shared.ID, string) (*feature.Addon, error) {
	return nil, f.err
}

func TestFeatureHandler_CheckAsOf(t *testing.T) {
	svc := &fakeFeatureService{features: map[string]bool{"reports": true}}
	h := NewFeatureHandler(svc, validator.New())
	orgID := shared.NewID()

	req := httptest.NewRequest(http.MethodGet, "/orgs/"+orgID.String()+"/features/reports?as_of=2026-05-01T00:00:00Z", nil)
	rec := serve(t, http.MethodGet, "/orgs/{orgID}/features/{key}", h.Check, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), svc.asOf)
	var resp FeatureStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Enabled)
	assert.Equal(t, "reports", resp.FeatureKey)

	req = httptest.NewRequest(http.MethodGet, "/orgs/"+orgID.String()+"/features/reports?as_of=yesterday", nil)
	rec = serve(t, http.MethodGet, "/orgs/{orgID}/features/{key}", h.Check, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeatureHandler_AddAddonDefaultsCurrency(t *testing.T) {
	svc := &fakeFeatureService{}
	h := NewFeatureHandler(svc, validator.New())
	orgID := shared.NewID()

	req := withActor(httptest.NewRequest(http.MethodPost, "/orgs/"+orgID.String()+"/addons",
		strings.NewReader(`{"feature_key":"sms_notifications","price_paid":"15.50"}`)), adminActor())
	rec := serve(t, http.MethodPost, "/orgs/{orgID}/addons", h.AddAddon, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, shared.CurrencyUSD, svc.input.Currency)
	assert.True(t, decimal.RequireFromString("15.50").Equal(svc.input.PricePaid))
	var resp AddonResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "15.50", resp.PricePaid)
	assert.True(t, resp.IsEnabled)
}

// --- usage ---

type fakeUsageService struct {
	check usage.Check
	from  time.Time
	to    time.Time
	err   error
}

func (f *fakeUsageService) CheckLimit(context.Context, shared.ID, string) (usage.Check, error) {
	return f.check, f.err
}

func (f *fakeUsageService) RecalculateUsage(context.Context, shared.ID) (map[string]int64, error) {
	return map[string]int64{"students": 12}, f.err
}

func (f *fakeUsageService) ListUsageSnapshots(_ context.Context, _ shared.ID, from, to time.Time) ([]usage.Snapshot, error) {
	f.from, f.to = from, to
	return nil, f.err
}

func (f *fakeUsageService) AddLimitOverride(context.Context, shared.Actor, app.AddLimitOverrideInput) (*usage.Override, error) {
	return nil, f.err
}

func TestUsageHandler_CheckLimit(t *testing.T) {
	svc := &fakeUsageService{check: usage.Check{ResourceKey: "students", Allowed: false, Usage: 100, Limit: 100, Source: usage.SourcePlan}}
	h := NewUsageHandler(svc, validator.New())
	orgID := shared.NewID()

	req := httptest.NewRequest(http.MethodGet, "/orgs/"+orgID.String()+"/limits/students", nil)
	rec := serve(t, http.MethodGet, "/orgs/{orgID}/limits/{resource}", h.CheckLimit, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var check usage.Check
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	assert.False(t, check.Allowed)
	assert.EqualValues(t, 100, check.Limit)
}

func TestUsageHandler_OverrideValidation(t *testing.T) {
	h := NewUsageHandler(&fakeUsageService{}, validator.New())
	orgID := shared.NewID()

	req := withActor(httptest.NewRequest(http.MethodPost, "/orgs/"+orgID.String()+"/overrides",
		strings.NewReader(`{"resource_key":"students","limit_value":-5}`)), adminActor())
	rec := serve(t, http.MethodPost, "/orgs/{orgID}/overrides", h.AddOverride, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", decodeError(t, rec).Code)
}

func TestUsageHandler_SnapshotsDefaultRange(t *testing.T) {
	svc := &fakeUsageService{}
	h := NewUsageHandler(svc, validator.New())
	orgID := shared.NewID()

	req := httptest.NewRequest(http.MethodGet, "/orgs/"+orgID.String()+"/snapshots?to=2026-03-31T00:00:00Z", nil)
	rec := serve(t, http.MethodGet, "/orgs/{orgID}/snapshots", h.Snapshots, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), svc.from)
	assert.JSONEq(t, `{"data":null}`, rec.Body.String())
}

// --- plan ---

type fakePlanService struct {
	input      app.PlanInput
	plans      []*plan.Plan
	activeOnly bool
	err        error
}

func (f *fakePlanService) CreatePlan(_ context.Context, _ shared.Actor, input app.PlanInput) (*plan.Plan, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return plan.NewPlan(input.Slug, input.Name, input.Prices, input.Periods, input.MaxSchools)
}

func (f *fakePlanService) UpdatePlan(context.Context, shared.Actor, shared.ID, app.PlanInput) (*plan.Plan, error) {
	return nil, f.err
}

func (f *fakePlanService) DeactivatePlan(context.Context, shared.Actor, shared.ID) (*plan.Plan, error) {
	return nil, f.err
}

func (f *fakePlanService) SetDefaultPlan(context.Context, shared.Actor, shared.ID) error {
	return f.err
}

func (f *fakePlanService) GetPlan(context.Context, shared.ID) (*plan.Plan, error) {
	return nil, f.err
}

func (f *fakePlanService) GetPlanBySlug(context.Context, string) (*plan.Plan, error) {
	return nil, f.err
}

func (f *fakePlanService) ListPlans(_ context.Context, activeOnly bool) ([]*plan.Plan, error) {
	f.activeOnly = activeOnly
	return f.plans, f.err
}

func TestPlanHandler_Create(t *testing.T) {
	svc := &fakePlanService{}
	h := NewPlanHandler(svc, validator.New())

	body := `{
		"slug": "premium",
		"name": "Premium",
		"prices": {"USD": {"yearly": "499.00", "per_additional_school": "99"}},
		"trial_days": 30,
		"grace_period_days": 7,
		"readonly_period_days": 30,
		"max_schools": 3,
		"features": {"reports": true},
		"limits": {"students": 1000, "teachers": -1}
	}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/plans", strings.NewReader(body)), adminActor())
	rec := serve(t, http.MethodPost, "/plans", h.Create, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "premium", svc.input.Slug)
	assert.True(t, decimal.NewFromInt(499).Equal(svc.input.Prices[shared.CurrencyUSD].Yearly))
	assert.Equal(t, 30, svc.input.Periods.TrialDays)
	assert.EqualValues(t, -1, svc.input.Limits["teachers"])

	var resp PlanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "499.00", resp.Prices["USD"].Yearly)
}

func TestPlanHandler_CreateValidation(t *testing.T) {
	h := NewPlanHandler(&fakePlanService{}, validator.New())

	tests := []struct {
		name string
		body string
	}{
		{"missing slug", `{"name":"X","prices":{"USD":{"yearly":"1"}}}`},
		{"bad currency key", `{"slug":"x","name":"X","prices":{"GBP":{"yearly":"1"}}}`},
		{"no prices", `{"slug":"x","name":"X","prices":{}}`},
		{"bad limit", `{"slug":"x","name":"X","prices":{"USD":{"yearly":"1"}},"limits":{"students":-7}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withActor(httptest.NewRequest(http.MethodPost, "/plans", strings.NewReader(tt.body)), adminActor())
			rec := serve(t, http.MethodPost, "/plans", h.Create, req)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		})
	}
}

func TestPlanHandler_PublicListIsActiveOnly(t *testing.T) {
	svc := &fakePlanService{plans: []*plan.Plan{testPlan(t)}}
	h := NewPlanHandler(svc, validator.New())

	rec := serve(t, http.MethodGet, "/plans", h.List, httptest.NewRequest(http.MethodGet, "/plans?active_only=false", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.activeOnly)

	req := withActor(httptest.NewRequest(http.MethodGet, "/plans?active_only=false", nil), adminActor())
	rec = serve(t, http.MethodGet, "/plans", h.List, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, svc.activeOnly)
}

// --- payment ---

type fakePaymentService struct {
	input app.RecordPaymentInput
	page  pagination.Pagination
	list  pagination.Result[*payment.Record]
	err   error
}

func (f *fakePaymentService) RecordPayment(_ context.Context, _ shared.Actor, input app.RecordPaymentInput) (*payment.Record, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	amount, err := shared.NewMoney(input.Amount, input.Currency)
	if err != nil {
		return nil, err
	}
	return payment.NewPending(input.OrganizationID, amount, input.Method, testNow)
}

func (f *fakePaymentService) ConfirmPayment(context.Context, shared.Actor, shared.ID) (*payment.Record, error) {
	return nil, f.err
}

func (f *fakePaymentService) RejectPayment(context.Context, shared.Actor, shared.ID, string) (*payment.Record, error) {
	return nil, f.err
}

func (f *fakePaymentService) GetPayment(context.Context, shared.ID) (*payment.Record, error) {
	return nil, f.err
}

func (f *fakePaymentService) ListPayments(_ context.Context, _ shared.ID, page pagination.Pagination) (pagination.Result[*payment.Record], error) {
	f.page = page
	return f.list, f.err
}

func TestPaymentHandler_Record(t *testing.T) {
	svc := &fakePaymentService{}
	h := NewPaymentHandler(svc, validator.New())
	orgID := shared.NewID()

	body := `{"organization_id":"` + orgID.String() + `","amount":"150","currency":"EUR"}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(body)), adminActor())
	rec := serve(t, http.MethodPost, "/payments", h.Record, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, payment.MethodBankTransfer, svc.input.Method)
	var resp PaymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "150.00", resp.Amount)
	assert.Equal(t, "EUR", resp.Currency)
	assert.Equal(t, "pending", resp.Status)
}

func TestPaymentHandler_RejectRequiresReason(t *testing.T) {
	h := NewPaymentHandler(&fakePaymentService{}, validator.New())
	req := withActor(httptest.NewRequest(http.MethodPost, "/payments/"+shared.NewID().String()+"/reject",
		strings.NewReader(`{}`)), adminActor())
	rec := serve(t, http.MethodPost, "/payments/{id}/reject", h.Reject, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPaymentHandler_ListPaginates(t *testing.T) {
	orgID := shared.NewID()
	amount, err := shared.NewMoney(decimal.NewFromInt(10), shared.CurrencyUSD)
	require.NoError(t, err)
	rec1, err := payment.NewPending(orgID, amount, payment.MethodCash, testNow)
	require.NoError(t, err)

	svc := &fakePaymentService{list: pagination.NewResult([]*payment.Record{rec1}, 21, pagination.New(2, 20))}
	h := NewPaymentHandler(svc, validator.New())

	req := httptest.NewRequest(http.MethodGet, "/orgs/"+orgID.String()+"/payments?page=2&per_page=20", nil)
	rec := serve(t, http.MethodGet, "/orgs/{orgID}/payments", h.List, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, svc.page.Page)
	var resp pagination.Result[PaymentResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.TotalPages)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "cash", resp.Data[0].Method)
}

// --- renewal ---

type fakeRenewalService struct {
	submit  app.SubmitRenewalInput
	approve app.ApproveRenewalInput
	quote   discount.Quote
	sub     *subscription.Subscription
	err     error
}

func (f *fakeRenewalService) SubmitRenewalRequest(_ context.Context, actor shared.Actor, input app.SubmitRenewalInput) (*renewal.Request, discount.Quote, error) {
	f.submit = input
	if f.err != nil {
		return nil, discount.Quote{}, f.err
	}
	req, err := renewal.NewRequest(input.OrganizationID, shared.NewID(), input.PlanID, input.AdditionalSchools,
		shared.ID{}, shared.NewID(), actor.ID, testNow)
	return req, f.quote, err
}

func (f *fakeRenewalService) ApproveRenewal(_ context.Context, _ shared.Actor, input app.ApproveRenewalInput) (*subscription.Subscription, error) {
	f.approve = input
	return f.sub, f.err
}

func (f *fakeRenewalService) RejectRenewal(context.Context, shared.Actor, shared.ID, string) (*renewal.Request, error) {
	return nil, f.err
}

func (f *fakeRenewalService) GetRenewal(context.Context, shared.ID) (*renewal.Request, error) {
	return nil, f.err
}

func (f *fakeRenewalService) ListPendingRenewals(context.Context, int) ([]*renewal.Request, error) {
	return nil, f.err
}

func TestRenewalHandler_Submit(t *testing.T) {
	orgID := shared.NewID()
	planID := shared.NewID()
	svc := &fakeRenewalService{quote: discount.Quote{
		BasePrice:      decimal.NewFromInt(150),
		DiscountAmount: decimal.NewFromInt(15),
		FinalPrice:     decimal.NewFromInt(135),
		Currency:       shared.CurrencyUSD,
		Code:           "SPRING10",
	}}
	h := NewRenewalHandler(svc, validator.New())
	actor := shared.Actor{ID: shared.NewID(), Organizations: []shared.ID{orgID}}

	body := `{"plan_id":"` + planID.String() + `","currency":"USD","additional_schools":1,"discount_code":"spring10"}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/orgs/"+orgID.String()+"/renewals", strings.NewReader(body)), actor)
	rec := serve(t, http.MethodPost, "/orgs/{orgID}/renewals", h.Submit, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, planID, svc.submit.PlanID)
	assert.Equal(t, "spring10", svc.submit.DiscountCode)
	assert.True(t, svc.submit.PaymentRecordID.IsZero())

	var resp struct {
		Renewal RenewalResponse `json:"renewal"`
		Quote   struct {
			FinalPrice string `json:"final_price"`
			Code       string `json:"discount_code"`
		} `json:"quote"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Renewal.Status)
	assert.Equal(t, "135", resp.Quote.FinalPrice)
	assert.Equal(t, "SPRING10", resp.Quote.Code)
}

func TestRenewalHandler_SubmitDiscountRejected(t *testing.T) {
	orgID := shared.NewID()
	h := NewRenewalHandler(&fakeRenewalService{err: discount.ErrUsageExceeded}, validator.New())

	body := `{"plan_id":"` + shared.NewID().String() + `","currency":"USD","discount_code":"X"}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/orgs/"+orgID.String()+"/renewals", strings.NewReader(body)),
		shared.Actor{ID: shared.NewID(), Organizations: []shared.ID{orgID}})
	rec := serve(t, http.MethodPost, "/orgs/{orgID}/renewals", h.Submit, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "USAGE_EXCEEDED", decodeError(t, rec).reason())
}

func TestRenewalHandler_ApproveWithPayment(t *testing.T) {
	orgID := shared.NewID()
	sub, err := subscription.NewTrial(orgID, testPlan(t), testNow)
	require.NoError(t, err)
	svc := &fakeRenewalService{sub: sub}
	h := NewRenewalHandler(svc, validator.New())
	renewalID := shared.NewID()

	body := `{"payment":{"amount":"120","currency":"USD","method":"card"},"note":"wire received"}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/renewals/"+renewalID.String()+"/approve", strings.NewReader(body)), adminActor())
	rec := serve(t, http.MethodPost, "/renewals/{id}/approve", h.Approve, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, renewalID, svc.approve.RenewalID)
	require.NotNil(t, svc.approve.Payment)
	assert.Equal(t, payment.MethodCard, svc.approve.Payment.Method)
	assert.True(t, decimal.NewFromInt(120).Equal(svc.approve.Payment.Amount))
	assert.Equal(t, "wire received", svc.approve.Note)
}

// --- discount ---

type fakeDiscountService struct {
	code  string
	def   discount.Definition
	quote discount.Quote
	err   error
}

func (f *fakeDiscountService) ValidateAndPrice(_ context.Context, code string, _, _ shared.ID, _ shared.Currency) (discount.Quote, error) {
	f.code = code
	return f.quote, f.err
}

func (f *fakeDiscountService) QuoteRenewal(context.Context, app.QuoteInput) (discount.Quote, error) {
	return f.quote, f.err
}

func (f *fakeDiscountService) CreateCode(_ context.Context, _ shared.Actor, def discount.Definition) (*discount.Code, error) {
	f.def = def
	if f.err != nil {
		return nil, f.err
	}
	return discount.NewCode(def, testNow)
}

func (f *fakeDiscountService) DeactivateCode(context.Context, shared.Actor, shared.ID) error {
	return f.err
}

func (f *fakeDiscountService) ListCodes(context.Context, bool) ([]*discount.Code, error) {
	return nil, f.err
}

func TestDiscountHandler_Price(t *testing.T) {
	orgID := shared.NewID()
	planID := shared.NewID()

	t.Run("expired code", func(t *testing.T) {
		h := NewDiscountHandler(&fakeDiscountService{err: discount.ErrCodeExpired}, validator.New())
		req := httptest.NewRequest(http.MethodGet,
			"/orgs/"+orgID.String()+"/discounts/OLD/price?plan_id="+planID.String()+"&currency=USD", nil)
		rec := serve(t, http.MethodGet, "/orgs/{orgID}/discounts/{code}/price", h.Price, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "DISCOUNT_REJECTED", body.Code)
		assert.Equal(t, "CODE_EXPIRED", body.reason())
	})

	t.Run("missing plan", func(t *testing.T) {
		h := NewDiscountHandler(&fakeDiscountService{}, validator.New())
		req := httptest.NewRequest(http.MethodGet, "/orgs/"+orgID.String()+"/discounts/X/price?currency=USD", nil)
		rec := serve(t, http.MethodGet, "/orgs/{orgID}/discounts/{code}/price", h.Price, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("priced", func(t *testing.T) {
		svc := &fakeDiscountService{quote: discount.NoDiscount(decimal.NewFromInt(120), shared.CurrencyUSD)}
		h := NewDiscountHandler(svc, validator.New())
		req := httptest.NewRequest(http.MethodGet,
			"/orgs/"+orgID.String()+"/discounts/spring10/price?plan_id="+planID.String()+"&currency=USD", nil)
		rec := serve(t, http.MethodGet, "/orgs/{orgID}/discounts/{code}/price", h.Price, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "spring10", svc.code)
	})
}

func TestDiscountHandler_CreateSurfacesDomainDetail(t *testing.T) {
	h := NewDiscountHandler(&fakeDiscountService{}, validator.New())

	body := `{"code":"HALF","type":"percentage","value":"150"}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/discounts", strings.NewReader(body)), adminActor())
	rec := serve(t, http.MethodPost, "/discounts", h.Create, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "INVALID_DISCOUNT", resp.reason())
	assert.Contains(t, resp.Message, "percentage above 100")
}

func TestDiscountHandler_CreateConflict(t *testing.T) {
	h := NewDiscountHandler(&fakeDiscountService{err: discount.ErrDiscountCodeExists}, validator.New())

	body := `{"code":"HALF","type":"fixed","value":"10","currency":"USD","max_uses":5}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/discounts", strings.NewReader(body)), adminActor())
	rec := serve(t, http.MethodPost, "/discounts", h.Create, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CODE_EXISTS", decodeError(t, rec).reason())
}

// --- health ---

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	ok := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("dial tcp: refused") })

	h := NewHealthHandler(WithVersion("1.2.3"), WithDatabase(ok))
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"1.2.3"`)

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Redis only degrades the replica.
	h = NewHealthHandler(WithDatabase(ok), WithRedis(down))
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Checks["database"].Status)
	assert.Equal(t, "error", resp.Checks["redis"].Status)

	h = NewHealthHandler(WithDatabase(down), WithRedis(ok))
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp.Status)
}
