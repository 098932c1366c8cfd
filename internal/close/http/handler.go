package closehttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	acctshared "github.com/meridian-erp/meridian-erp/internal/accounting/shared"
	"github.com/meridian-erp/meridian-erp/internal/close"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

type closeService interface {
	ValidatePreClosing(ctx context.Context, periodCode string) (close.ValidationSummary, error)
	PerformClosing(ctx context.Context, in close.CloseInput) (close.ClosingResult, error)
	Reopen(ctx context.Context, in close.ReopenInput) (periodView, error)
}

// engineAdapter narrows close.Engine to the handler interface. Reopen
// returns the period projection used by responses.
type engineAdapter struct {
	engine *close.Engine
}

func (a engineAdapter) ValidatePreClosing(ctx context.Context, periodCode string) (close.ValidationSummary, error) {
	return a.engine.ValidatePreClosing(ctx, periodCode)
}

func (a engineAdapter) PerformClosing(ctx context.Context, in close.CloseInput) (close.ClosingResult, error) {
	return a.engine.PerformClosing(ctx, in)
}

func (a engineAdapter) Reopen(ctx context.Context, in close.ReopenInput) (periodView, error) {
	period, err := a.engine.Reopen(ctx, in)
	if err != nil {
		return periodView{}, err
	}
	return periodView{
		ID:        period.ID,
		Code:      period.Code,
		Name:      period.Name,
		StartDate: period.StartDate.Format("2006-01-02"),
		EndDate:   period.EndDate.Format("2006-01-02"),
		Status:    string(period.Status),
	}, nil
}

// Handler wires the closing endpoints.
type Handler struct {
	logger   *slog.Logger
	service  closeService
	validate *validator.Validate
}

// NewHandler constructs a close HTTP handler around the engine.
func NewHandler(logger *slog.Logger, engine *close.Engine) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: engineAdapter{engine: engine}, validate: validator.New()}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/accounting/periods/{code}", func(r chi.Router) {
		r.Get("/validation", h.validation)
		r.Post("/close", h.performClose)
		r.Post("/reopen", h.reopen)
	})
}

type periodView struct {
	ID        int64  `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Status    string `json:"status"`
}

type validationView struct {
	PeriodCode      string   `json:"period_code"`
	Clean           bool     `json:"clean"`
	DraftLedgers    int64    `json:"draft_ledgers"`
	PendingInvoices int64    `json:"pending_invoices"`
	PendingExpenses int64    `json:"pending_expenses"`
	PendingPOs      int64    `json:"pending_purchase_orders"`
	TotalDebit      string   `json:"total_debit"`
	TotalCredit     string   `json:"total_credit"`
	OutOfBalanceBy  string   `json:"out_of_balance_by"`
	Blockers        []string `json:"blockers"`
}

type adjustmentView struct {
	ID     int64  `json:"id"`
	Number string `json:"number"`
	Date   string `json:"date"`
	Memo   string `json:"memo"`
}

type closeResponse struct {
	Period          periodView       `json:"period"`
	NextPeriod      periodView       `json:"next_period"`
	Validation      validationView   `json:"validation"`
	RolledAccounts  int              `json:"rolled_accounts"`
	RolledStockRows int              `json:"rolled_stock_rows"`
	Adjustments     []adjustmentView `json:"adjustments"`
}

// AutoCreateNext defaults to true when omitted; sending false makes the
// close fail unless the next period already exists.
type closeRequest struct {
	ActorID        int64  `json:"actor_id" validate:"required,gt=0"`
	AutoCreateNext *bool  `json:"auto_create_next"`
	Notes          string `json:"notes"`
}

type reopenRequest struct {
	ActorID int64  `json:"actor_id" validate:"required,gt=0"`
	Reason  string `json:"reason" validate:"required"`
}

func (h *Handler) validation(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	vs, err := h.service.ValidatePreClosing(r.Context(), code)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newValidationView(vs))
}

func (h *Handler) performClose(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var req closeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.PerformClosing(r.Context(), close.CloseInput{
		PeriodCode:     code,
		ActorID:        req.ActorID,
		AutoCreateNext: req.AutoCreateNext == nil || *req.AutoCreateNext,
		Notes:          req.Notes,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newCloseResponse(result))
}

func (h *Handler) reopen(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var req reopenRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	period, err := h.service.Reopen(r.Context(), close.ReopenInput{
		PeriodCode: code,
		ActorID:    req.ActorID,
		Reason:     req.Reason,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var blocked *close.ClosingBlockedError
	switch {
	case errors.As(err, &blocked):
		httpx.JSON(w, http.StatusUnprocessableEntity, newValidationView(blocked.Summary))
	case errors.Is(err, acctshared.ErrPeriodNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, acctshared.ErrPeriodClosing):
		httpx.Problem(w, http.StatusConflict, "Close In Progress", err.Error())
	case errors.Is(err, acctshared.ErrPeriodClosed):
		httpx.Problem(w, http.StatusConflict, "Period Closed", err.Error())
	case errors.Is(err, acctshared.ErrInvalidStatus):
		httpx.Problem(w, http.StatusConflict, "Invalid Status", err.Error())
	case errors.Is(err, close.ErrReasonRequired):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("close request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func newValidationView(vs close.ValidationSummary) validationView {
	blockers := vs.Blockers
	if blockers == nil {
		blockers = []string{}
	}
	return validationView{
		PeriodCode:      vs.PeriodCode,
		Clean:           vs.Clean(),
		DraftLedgers:    vs.DraftLedgers,
		PendingInvoices: vs.Pending.Invoices,
		PendingExpenses: vs.Pending.Expenses,
		PendingPOs:      vs.Pending.PurchaseOrders,
		TotalDebit:      decimalString(vs.TotalDebit),
		TotalCredit:     decimalString(vs.TotalCredit),
		OutOfBalanceBy:  decimalString(vs.OutOfBalanceBy),
		Blockers:        blockers,
	}
}

func newCloseResponse(result close.ClosingResult) closeResponse {
	adjustments := make([]adjustmentView, 0, len(result.Adjustments))
	for _, adj := range result.Adjustments {
		adjustments = append(adjustments, adjustmentView{
			ID:     adj.ID,
			Number: adj.Number,
			Date:   adj.Date.Format("2006-01-02"),
			Memo:   adj.Memo,
		})
	}
	return closeResponse{
		Period:          newPeriodViewFromResult(result.Period.ID, result.Period.Code, result.Period.Name, result.Period.StartDate, result.Period.EndDate, string(result.Period.Status)),
		NextPeriod:      newPeriodViewFromResult(result.NextPeriod.ID, result.NextPeriod.Code, result.NextPeriod.Name, result.NextPeriod.StartDate, result.NextPeriod.EndDate, string(result.NextPeriod.Status)),
		Validation:      newValidationView(result.Validation),
		RolledAccounts:  result.RolledAccounts,
		RolledStockRows: result.RolledStockRows,
		Adjustments:     adjustments,
	}
}

func newPeriodViewFromResult(id int64, code, name string, start, end time.Time, status string) periodView {
	return periodView{
		ID:        id,
		Code:      code,
		Name:      name,
		StartDate: start.Format("2006-01-02"),
		EndDate:   end.Format("2006-01-02"),
		Status:    status,
	}
}

func decimalString(d decimal.Decimal) string {
	return d.StringFixed(2)
}
