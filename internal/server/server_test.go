package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditrepository "github.com/smallbiznis/lumora/internal/audit/repository"
	auditservice "github.com/smallbiznis/lumora/internal/audit/service"
	"github.com/smallbiznis/lumora/internal/clock"
	"github.com/smallbiznis/lumora/internal/config"
	creditdomain "github.com/smallbiznis/lumora/internal/credit/domain"
	creditservice "github.com/smallbiznis/lumora/internal/credit/service"
	subscriptiondomain "github.com/smallbiznis/lumora/internal/subscription/domain"
	"github.com/smallbiznis/lumora/internal/testutil"
	webhookdomain "github.com/smallbiznis/lumora/internal/webhook/domain"
	"go.uber.org/zap"
)

const testInternalToken = "internal-test-token"

type stubSubscriptionService struct {
	changeResult *subscriptiondomain.ChangePlanResult
	changeErr    error
	record       *subscriptiondomain.Record
}

func (s *stubSubscriptionService) ChangePlan(context.Context, subscriptiondomain.ChangePlanRequest) (*subscriptiondomain.ChangePlanResult, error) {
	if s.changeErr != nil {
		return nil, s.changeErr
	}
	return s.changeResult, nil
}

func (s *stubSubscriptionService) GetByUser(context.Context, snowflake.ID) (*subscriptiondomain.Record, error) {
	if s.record == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return s.record, nil
}

type stubWebhookService struct {
	err error
}

func (s *stubWebhookService) IngestEvent(context.Context, []byte, http.Header) error {
	return s.err
}

type serverFixture struct {
	engine    *gin.Engine
	creditSvc creditdomain.Service
	subSvc    *stubSubscriptionService
	webhook   *stubWebhookService
}

func newServerFixture(t *testing.T, mutate func(*config.Config)) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	log := zap.NewNop()
	clk := clock.Fixed(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))

	cfg := config.Config{
		Internal:  config.InternalConfig{Token: testInternalToken},
		RateLimit: config.RateLimitConfig{Requests: 1000, Window: time.Minute},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	creditSvc := creditservice.NewService(creditservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk,
	})
	auditSvc := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepository.Provide(),
	})
	subSvc := &stubSubscriptionService{}
	webhookSvc := &stubWebhookService{}

	engine := NewEngine(cfg)
	srv := NewServer(Params{
		Cfg:        cfg,
		Log:        log,
		DB:         db,
		CreditSvc:  creditSvc,
		SubSvc:     subSvc,
		WebhookSvc: webhookSvc,
		AuditSvc:   auditSvc,
	}, engine)
	srv.RegisterAPIRoutes()

	return &serverFixture{engine: engine, creditSvc: creditSvc, subSvc: subSvc, webhook: webhookSvc}
}

func (f *serverFixture) do(method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error.Code
}

func TestUserRequiredRejectsMissingHeader(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/v1/credits", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "unauthorized" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestUserRequiredRejectsMalformedHeader(t *testing.T) {
	f := newServerFixture(t, nil)

	for _, raw := range []string{"abc", "-5", "0"} {
		rec := f.do(http.MethodGet, "/api/v1/credits", "", map[string]string{HeaderUser: raw})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", raw, rec.Code)
		}
	}
}

func TestGetCreditsReturnsBalance(t *testing.T) {
	f := newServerFixture(t, nil)
	if _, err := f.creditSvc.Grant(context.Background(), creditdomain.GrantRequest{
		UserID: 801, Amount: 120, Pool: creditdomain.PoolPurchased, ReferenceID: "pi_801",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := f.do(http.MethodGet, "/api/v1/credits", "", map[string]string{HeaderUser: "801"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data struct {
			Purchased int64 `json:"purchased_credits"`
			Total     int64 `json:"total_credits"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Purchased != 120 || body.Data.Total != 120 {
		t.Fatalf("unexpected balance: %+v", body.Data)
	}
}

func TestGetCreditsForNewUserIsZero(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/v1/credits", "", map[string]string{HeaderUser: "802"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Data struct {
			Total              int64  `json:"total_credits"`
			SubscriptionStatus string `json:"subscription_status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Total != 0 || body.Data.SubscriptionStatus != "none" {
		t.Fatalf("unexpected response: %+v", body.Data)
	}
}

func TestListTransactionsRejectsBadLimit(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/v1/credits/transactions?limit=zero", "", map[string]string{HeaderUser: "803"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "invalid_limit" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestInternalRequiredRejectsBadToken(t *testing.T) {
	f := newServerFixture(t, nil)
	body := `{"user_id": 804, "amount": 10, "reference_id": "job_1"}`

	rec := f.do(http.MethodPost, "/internal/v1/credits/consume", body, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing token: expected 403, got %d", rec.Code)
	}

	rec = f.do(http.MethodPost, "/internal/v1/credits/consume", body, map[string]string{HeaderInternalToken: "wrong"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong token: expected 403, got %d", rec.Code)
	}
}

func TestInternalRequiredRejectsWhenUnconfigured(t *testing.T) {
	f := newServerFixture(t, func(cfg *config.Config) {
		cfg.Internal.Token = ""
	})

	rec := f.do(http.MethodPost, "/internal/v1/credits/consume", `{}`, map[string]string{HeaderInternalToken: ""})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when no token is configured, got %d", rec.Code)
	}
}

func TestConsumeCredits(t *testing.T) {
	f := newServerFixture(t, nil)
	if _, err := f.creditSvc.Grant(context.Background(), creditdomain.GrantRequest{
		UserID: 805, Amount: 40, Pool: creditdomain.PoolSubscription, ReferenceID: "in_805",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := f.do(http.MethodPost, "/internal/v1/credits/consume",
		`{"user_id": 805, "amount": 15, "reference_id": "job_1"}`,
		map[string]string{HeaderInternalToken: testInternalToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data struct {
			FromSubscription int64 `json:"from_subscription"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.FromSubscription != 15 {
		t.Fatalf("unexpected consume response: %s", rec.Body.String())
	}
}

func TestConsumeInsufficientCreditsReturns402(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(http.MethodPost, "/internal/v1/credits/consume",
		`{"user_id": 806, "amount": 50, "reference_id": "job_1"}`,
		map[string]string{HeaderInternalToken: testInternalToken})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != "insufficient_credits" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestRateLimitReturns429(t *testing.T) {
	f := newServerFixture(t, func(cfg *config.Config) {
		cfg.RateLimit.Requests = 2
		cfg.RateLimit.Window = time.Minute
	})
	headers := map[string]string{HeaderUser: "807"}

	for i := 0; i < 2; i++ {
		if rec := f.do(http.MethodGet, "/api/v1/credits", "", headers); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := f.do(http.MethodGet, "/api/v1/credits", "", headers)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	// Another user is unaffected.
	if rec := f.do(http.MethodGet, "/api/v1/credits", "", map[string]string{HeaderUser: "808"}); rec.Code != http.StatusOK {
		t.Fatalf("other user must not be limited, got %d", rec.Code)
	}
}

func TestChangePlanRequiresPriceRef(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/v1/subscription/change", `{"price_ref": ""}`,
		map[string]string{HeaderUser: "809"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "invalid_price_id" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestChangePlanMapsConflictErrors(t *testing.T) {
	cases := []struct {
		err      error
		status   int
		wantCode string
	}{
		{subscriptiondomain.ErrSamePlan, http.StatusConflict, "same_plan"},
		{subscriptiondomain.ErrNoActiveSubscription, http.StatusConflict, "no_active_subscription"},
		{subscriptiondomain.ErrSubscriptionModified, http.StatusConflict, "subscription_modified"},
		{subscriptiondomain.ErrProviderUnavailable, http.StatusBadGateway, "provider_unavailable"},
	}
	for _, tc := range cases {
		f := newServerFixture(t, nil)
		f.subSvc.changeErr = tc.err

		rec := f.do(http.MethodPost, "/api/v1/subscription/change",
			`{"price_ref": "price_lumora_pro_monthly"}`,
			map[string]string{HeaderUser: "810"})
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		if code := errorCode(t, rec); code != tc.wantCode {
			t.Fatalf("%v: unexpected error code %q", tc.err, code)
		}
	}
}

func TestChangePlanSuccess(t *testing.T) {
	f := newServerFixture(t, nil)
	f.subSvc.changeResult = &subscriptiondomain.ChangePlanResult{
		Kind:        subscriptiondomain.ChangeKindDowngrade,
		Scheduled:   true,
		EffectiveAt: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		OldPriceRef: "price_lumora_pro_monthly",
		NewPriceRef: "price_lumora_basic_monthly",
	}

	rec := f.do(http.MethodPost, "/api/v1/subscription/change",
		`{"price_ref": "price_lumora_basic_monthly"}`,
		map[string]string{HeaderUser: "811"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"kind":"downgrade"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestGetSubscriptionNotFound(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/v1/subscription", "", map[string]string{HeaderUser: "812"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "not_found" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestWebhookSignatureFailureReturns400(t *testing.T) {
	f := newServerFixture(t, nil)
	f.webhook.err = webhookdomain.ErrInvalidSignature

	rec := f.do(http.MethodPost, "/webhooks/stripe", `{"id":"evt_1"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "invalid_signature" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestWebhookProcessingFailureIsAcked(t *testing.T) {
	f := newServerFixture(t, nil)
	f.webhook.err = errors.New("downstream unavailable")

	rec := f.do(http.MethodPost, "/webhooks/stripe", `{"id":"evt_1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("processing failures must be acked, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"processed":false`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
