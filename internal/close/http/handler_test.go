package closehttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	acctshared "github.com/meridian-erp/meridian-erp/internal/accounting/shared"
	"github.com/meridian-erp/meridian-erp/internal/close"
)

type stubCloseService struct {
	validateFn func(ctx context.Context, periodCode string) (close.ValidationSummary, error)
	closeFn    func(ctx context.Context, in close.CloseInput) (close.ClosingResult, error)
	reopenFn   func(ctx context.Context, in close.ReopenInput) (periodView, error)
}

func (s *stubCloseService) ValidatePreClosing(ctx context.Context, periodCode string) (close.ValidationSummary, error) {
	return s.validateFn(ctx, periodCode)
}

func (s *stubCloseService) PerformClosing(ctx context.Context, in close.CloseInput) (close.ClosingResult, error) {
	return s.closeFn(ctx, in)
}

func (s *stubCloseService) Reopen(ctx context.Context, in close.ReopenInput) (periodView, error) {
	return s.reopenFn(ctx, in)
}

func newTestHandler(svc closeService) (*Handler, chi.Router) {
	h := &Handler{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		service:  svc,
		validate: validator.New(),
	}
	r := chi.NewRouter()
	h.MountRoutes(r)
	return h, r
}

func TestValidationEndpointReportsBlockers(t *testing.T) {
	svc := &stubCloseService{
		validateFn: func(ctx context.Context, periodCode string) (close.ValidationSummary, error) {
			require.Equal(t, "2025-03", periodCode)
			return close.ValidationSummary{
				PeriodCode:   "2025-03",
				DraftLedgers: 2,
				Pending:      close.PendingCounts{Invoices: 1},
				TotalDebit:   decimal.NewFromInt(100),
				TotalCredit:  decimal.NewFromInt(100),
				Blockers:     []string{"2 draft ledger entries must be posted or voided"},
			}, nil
		},
	}
	_, router := newTestHandler(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/accounting/periods/2025-03/validation", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body validationView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.False(t, body.Clean)
	require.EqualValues(t, 2, body.DraftLedgers)
	require.EqualValues(t, 1, body.PendingInvoices)
	require.Equal(t, "100.00", body.TotalDebit)
	require.Len(t, body.Blockers, 1)
}

func TestPerformCloseReturnsResult(t *testing.T) {
	var captured close.CloseInput
	svc := &stubCloseService{
		closeFn: func(ctx context.Context, in close.CloseInput) (close.ClosingResult, error) {
			captured = in
			return close.ClosingResult{
				Validation:      close.ValidationSummary{PeriodCode: "2025-03"},
				RolledAccounts:  4,
				RolledStockRows: 3,
			}, nil
		},
	}
	_, router := newTestHandler(svc)

	payload := `{"actor_id": 7, "notes": "month end"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/accounting/periods/2025-03/close", strings.NewReader(payload)))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "2025-03", captured.PeriodCode)
	require.EqualValues(t, 7, captured.ActorID)
	require.Equal(t, "month end", captured.Notes)
	require.True(t, captured.AutoCreateNext, "omitted flag defaults to auto-creating the next period")

	var body closeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 4, body.RolledAccounts)
	require.Equal(t, 3, body.RolledStockRows)
	require.True(t, body.Validation.Clean)
}

func TestPerformClosePassesAutoCreateNext(t *testing.T) {
	var captured close.CloseInput
	svc := &stubCloseService{
		closeFn: func(ctx context.Context, in close.CloseInput) (close.ClosingResult, error) {
			captured = in
			return close.ClosingResult{}, nil
		},
	}
	_, router := newTestHandler(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/accounting/periods/2025-03/close", strings.NewReader(`{"actor_id": 7, "auto_create_next": false}`)))

	require.Equal(t, http.StatusOK, rr.Code)
	require.False(t, captured.AutoCreateNext)
}

func TestPerformCloseBlockedReturnsChecklist(t *testing.T) {
	svc := &stubCloseService{
		closeFn: func(ctx context.Context, in close.CloseInput) (close.ClosingResult, error) {
			return close.ClosingResult{}, &close.ClosingBlockedError{Summary: close.ValidationSummary{
				PeriodCode: "2025-03",
				Blockers:   []string{"1 invoice awaits approval"},
			}}
		},
	}
	_, router := newTestHandler(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/accounting/periods/2025-03/close", strings.NewReader(`{"actor_id": 7}`)))

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var body validationView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Blockers, 1)
}

func TestPerformCloseRejectsMissingActor(t *testing.T) {
	svc := &stubCloseService{
		closeFn: func(ctx context.Context, in close.CloseInput) (close.ClosingResult, error) {
			t.Fatal("service must not be called")
			return close.ClosingResult{}, nil
		},
	}
	_, router := newTestHandler(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/accounting/periods/2025-03/close", strings.NewReader(`{}`)))

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPerformCloseConflictWhileRunning(t *testing.T) {
	svc := &stubCloseService{
		closeFn: func(ctx context.Context, in close.CloseInput) (close.ClosingResult, error) {
			return close.ClosingResult{}, acctshared.ErrPeriodClosing
		},
	}
	_, router := newTestHandler(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/accounting/periods/2025-03/close", strings.NewReader(`{"actor_id": 7}`)))

	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestReopenRequiresReason(t *testing.T) {
	svc := &stubCloseService{
		reopenFn: func(ctx context.Context, in close.ReopenInput) (periodView, error) {
			t.Fatal("service must not be called")
			return periodView{}, nil
		},
	}
	_, router := newTestHandler(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/accounting/periods/2025-03/reopen", strings.NewReader(`{"actor_id": 7}`)))

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReopenUnknownPeriodReturnsNotFound(t *testing.T) {
	svc := &stubCloseService{
		reopenFn: func(ctx context.Context, in close.ReopenInput) (periodView, error) {
			return periodView{}, acctshared.ErrPeriodNotFound
		},
	}
	_, router := newTestHandler(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/accounting/periods/2099-01/reopen", strings.NewReader(`{"actor_id": 7, "reason": "late invoice"}`)))

	require.Equal(t, http.StatusNotFound, rr.Code)
}
