package ledgerhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/accounting/ledger"
	"github.com/meridian-erp/meridian-erp/internal/accounting/shared"
	"github.com/meridian-erp/meridian-erp/internal/close"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

type ledgerService interface {
	Post(ctx context.Context, uow ledger.UnitOfWork, in ledger.PostingInput) (ledger.Ledger, error)
	Void(ctx context.Context, uow ledger.UnitOfWork, in ledger.VoidInput) (ledger.Ledger, error)
}

// Handler exposes manual journal posting and voiding over HTTP. Each
// request runs in its own unit of work.
type Handler struct {
	logger   *slog.Logger
	runner   close.Runner
	poster   ledgerService
	validate *validator.Validate
}

// NewHandler constructs a ledger HTTP handler.
func NewHandler(logger *slog.Logger, runner close.Runner, poster *ledger.Poster) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, runner: runner, poster: poster, validate: validator.New()}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/accounting/ledgers", func(r chi.Router) {
		r.Post("/", h.post)
		r.Post("/{id}/void", h.void)
	})
}

type postLineRequest struct {
	AccountID     int64  `json:"account_id"`
	AccountModule string `json:"account_module"`
	AccountKey    string `json:"account_key"`
	Debit         string `json:"debit"`
	Credit        string `json:"credit"`
	Description   string `json:"description"`
}

type postRequest struct {
	Prefix       string            `json:"prefix"`
	Date         string            `json:"date" validate:"required"`
	SourceModule string            `json:"source_module" validate:"required"`
	SourceID     string            `json:"source_id" validate:"required,uuid"`
	Memo         string            `json:"memo"`
	Currency     string            `json:"currency"`
	PostedBy     int64             `json:"posted_by" validate:"required,gt=0"`
	Lines        []postLineRequest `json:"lines" validate:"required,min=2"`
}

type voidRequest struct {
	ActorID int64  `json:"actor_id" validate:"required,gt=0"`
	Reason  string `json:"reason" validate:"required"`
}

type lineView struct {
	AccountID   int64  `json:"account_id"`
	Debit       string `json:"debit"`
	Credit      string `json:"credit"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
}

type ledgerView struct {
	ID           int64      `json:"id"`
	Number       string     `json:"number"`
	PeriodID     int64      `json:"period_id"`
	Date         string     `json:"date"`
	PostingDate  time.Time  `json:"posting_date"`
	SourceModule string     `json:"source_module"`
	SourceID     string     `json:"source_id"`
	Memo         string     `json:"memo,omitempty"`
	Status       string     `json:"status"`
	Lines        []lineView `json:"lines"`
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input, err := req.toInput()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var posted ledger.Ledger
	err = h.runner.WithUnitOfWork(r.Context(), func(ctx context.Context, unit close.UnitOfWork) error {
		var err error
		posted, err = h.poster.Post(ctx, unit, input)
		return err
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newLedgerView(posted))
}

func (h *Handler) void(w http.ResponseWriter, r *http.Request) {
	ledgerID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || ledgerID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "ledger id must be a positive integer")
		return
	}
	var req voidRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var voided ledger.Ledger
	err = h.runner.WithUnitOfWork(r.Context(), func(ctx context.Context, unit close.UnitOfWork) error {
		var err error
		voided, err = h.poster.Void(ctx, unit, ledger.VoidInput{
			LedgerID: ledgerID,
			ActorID:  req.ActorID,
			Reason:   req.Reason,
		})
		return err
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newLedgerView(voided))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrUnbalanced),
		errors.Is(err, shared.ErrTooFewLines),
		errors.Is(err, shared.ErrHeaderAccount),
		errors.Is(err, shared.ErrAccountNotFound),
		errors.Is(err, shared.ErrAccountNotConfigured):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Posting Rejected", err.Error())
	case errors.Is(err, shared.ErrDuplicatePosting):
		httpx.Problem(w, http.StatusConflict, "Duplicate Posting", err.Error())
	case errors.Is(err, shared.ErrPeriodClosed), errors.Is(err, shared.ErrPeriodClosing):
		httpx.Problem(w, http.StatusConflict, "Period Not Open", err.Error())
	case errors.Is(err, shared.ErrInvalidStatus):
		httpx.Problem(w, http.StatusConflict, "Invalid Status", err.Error())
	case errors.Is(err, shared.ErrLedgerNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("ledger request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (req postRequest) toInput() (ledger.PostingInput, error) {
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return ledger.PostingInput{}, errors.New("date must use the 2006-01-02 format")
	}
	sourceID, err := uuid.Parse(req.SourceID)
	if err != nil {
		return ledger.PostingInput{}, errors.New("source_id must be a valid UUID")
	}
	lines := make([]ledger.PostingLine, 0, len(req.Lines))
	for i, line := range req.Lines {
		debit, err := parseAmount(line.Debit)
		if err != nil {
			return ledger.PostingInput{}, errors.New("line " + strconv.Itoa(i+1) + ": debit must be a decimal number")
		}
		credit, err := parseAmount(line.Credit)
		if err != nil {
			return ledger.PostingInput{}, errors.New("line " + strconv.Itoa(i+1) + ": credit must be a decimal number")
		}
		lines = append(lines, ledger.PostingLine{
			AccountID:     line.AccountID,
			AccountModule: line.AccountModule,
			AccountKey:    line.AccountKey,
			Debit:         debit,
			Credit:        credit,
			Description:   line.Description,
		})
	}
	return ledger.PostingInput{
		Prefix:       req.Prefix,
		Date:         date,
		SourceModule: req.SourceModule,
		SourceID:     sourceID,
		Memo:         req.Memo,
		Currency:     req.Currency,
		PostedBy:     req.PostedBy,
		Lines:        lines,
	}, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func newLedgerView(l ledger.Ledger) ledgerView {
	lines := make([]lineView, 0, len(l.Lines))
	for _, line := range l.Lines {
		lines = append(lines, lineView{
			AccountID:   line.AccountID,
			Debit:       line.Debit.StringFixed(2),
			Credit:      line.Credit.StringFixed(2),
			Currency:    line.Currency,
			Description: line.Description,
		})
	}
	return ledgerView{
		ID:           l.ID,
		Number:       l.Number,
		PeriodID:     l.PeriodID,
		Date:         l.Date.Format("2006-01-02"),
		PostingDate:  l.PostingDate,
		SourceModule: l.SourceModule,
		SourceID:     l.SourceID.String(),
		Memo:         l.Memo,
		Status:       string(l.Status),
		Lines:        lines,
	}
}
