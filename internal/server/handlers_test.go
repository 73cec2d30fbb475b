package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	expirydomain "github.com/agencykit/creditd/internal/expiry/domain"
	ledgerdomain "github.com/agencykit/creditd/internal/ledger/domain"
	reconcilerdomain "github.com/agencykit/creditd/internal/reconciler/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type fakeLedgerService struct {
	deductErr error
	result    ledgerdomain.DeductResult
	balance   int64
	lastReq   ledgerdomain.DeductRequest
}

func (f *fakeLedgerService) Deduct(ctx context.Context, req ledgerdomain.DeductRequest) (ledgerdomain.DeductResult, error) {
	f.lastReq = req
	if f.deductErr != nil {
		return ledgerdomain.DeductResult{}, f.deductErr
	}
	return f.result, nil
}

func (f *fakeLedgerService) GetBalance(ctx context.Context, userID string) (int64, error) {
	return f.balance, nil
}

type fakeReconcilerService struct {
	result reconcilerdomain.ReconcileResult
	err    error
}

func (f *fakeReconcilerService) Reconcile(ctx context.Context, event reconcilerdomain.PaymentEvent) (reconcilerdomain.ReconcileResult, error) {
	if f.err != nil {
		return reconcilerdomain.ReconcileResult{}, f.err
	}
	return f.result, nil
}

type fakeExpiryService struct {
	info *expirydomain.Info
	err  error
}

func (f *fakeExpiryService) GetExpirationInfo(ctx context.Context, userID string) (*expirydomain.Info, error) {
	return f.info, f.err
}

func newTestRouter(s *Server) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	s.engine = router
	registerRoutes(s)
	return router
}

func TestDeductHandlerSuccess(t *testing.T) {
	ledgerSvc := &fakeLedgerService{result: ledgerdomain.DeductResult{RemainingBalance: 42}}
	router := newTestRouter(&Server{log: zap.NewNop(), ledgerSvc: ledgerSvc})

	body := bytes.NewBufferString(`{"user_id":"u1","tool":"seo_audit","credits":10}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/deductions", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "key-9")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if ledgerSvc.lastReq.IdempotencyKey != "key-9" {
		t.Fatalf("expected header idempotency key to win, got %q", ledgerSvc.lastReq.IdempotencyKey)
	}

	var out ledgerdomain.DeductResult
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.RemainingBalance != 42 {
		t.Fatalf("expected remaining balance 42, got %d", out.RemainingBalance)
	}
}

func TestDeductHandlerInsufficientCreditsReturns402(t *testing.T) {
	ledgerSvc := &fakeLedgerService{
		deductErr: &ledgerdomain.InsufficientCreditsError{Available: 3, Requested: 10},
	}
	router := newTestRouter(&Server{log: zap.NewNop(), ledgerSvc: ledgerSvc})

	body := bytes.NewBufferString(`{"user_id":"u1","tool":"seo_audit","credits":10}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/deductions", body)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d", resp.Code)
	}

	var out errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Error.Type != "insufficient_credits" {
		t.Fatalf("expected insufficient_credits, got %q", out.Error.Type)
	}
	if out.Error.Available == nil || *out.Error.Available != 3 {
		t.Fatalf("expected available 3, got %v", out.Error.Available)
	}
	if out.Error.Requested == nil || *out.Error.Requested != 10 {
		t.Fatalf("expected requested 10, got %v", out.Error.Requested)
	}
}

func TestDeductHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown account", ledgerdomain.ErrAccountNotFound, http.StatusNotFound},
		{"invalid amount", ledgerdomain.ErrInvalidAmount, http.StatusBadRequest},
		{"transient failure", ledgerdomain.ErrTransientFailure, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&Server{log: zap.NewNop(), ledgerSvc: &fakeLedgerService{deductErr: tc.err}})

			body := bytes.NewBufferString(`{"user_id":"u1","tool":"x","credits":5}`)
			req := httptest.NewRequest(http.MethodPost, "/v1/deductions", body)
			req.Header.Set("Content-Type", "application/json")
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			if resp.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, resp.Code)
			}
		})
	}
}

func TestPaymentWebhookHandlerDuplicateReturns200(t *testing.T) {
	reconcilerSvc := &fakeReconcilerService{
		result: reconcilerdomain.ReconcileResult{Granted: false, Reason: reconcilerdomain.ReasonDuplicateEvent},
	}
	router := newTestRouter(&Server{log: zap.NewNop(), reconcilerSvc: reconcilerSvc})

	body := bytes.NewBufferString(`{"event_id":"evt_1","customer_email":"a@b.c","amount_paid_cents":999,"timestamp":"2026-04-10T09:00:00Z"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments", body)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 for duplicate delivery, got %d", resp.Code)
	}

	var out reconcilerdomain.ReconcileResult
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Reason != reconcilerdomain.ReasonDuplicateEvent {
		t.Fatalf("expected duplicate_event reason, got %q", out.Reason)
	}
}

func TestPaymentWebhookHandlerBadTimestamp(t *testing.T) {
	router := newTestRouter(&Server{log: zap.NewNop(), reconcilerSvc: &fakeReconcilerService{}})

	body := bytes.NewBufferString(`{"event_id":"evt_1","customer_email":"a@b.c","amount_paid_cents":999,"timestamp":"yesterday"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments", body)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestExpirationHandlerRendersNull(t *testing.T) {
	router := newTestRouter(&Server{log: zap.NewNop(), expirySvc: &fakeExpiryService{info: nil}})

	req := httptest.NewRequest(http.MethodGet, "/v1/accounts/u1/expiration", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if got := bytes.TrimSpace(resp.Body.Bytes()); !bytes.Equal(got, []byte("null")) {
		t.Fatalf("expected null body, got %s", got)
	}
}
