package inventoryhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/accounting/ledger"
	acctshared "github.com/meridian-erp/meridian-erp/internal/accounting/shared"
	"github.com/meridian-erp/meridian-erp/internal/close"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	internalshared "github.com/meridian-erp/meridian-erp/internal/shared"
)

type stockService interface {
	Receive(ctx context.Context, uow inventory.UnitOfWork, in inventory.ReceiptInput) (inventory.StockBatch, error)
	Reserve(ctx context.Context, uow inventory.UnitOfWork, in inventory.ReserveInput) (inventory.StockBalance, error)
	Release(ctx context.Context, uow inventory.UnitOfWork, in inventory.ReserveInput) (inventory.StockBalance, error)
	Issue(ctx context.Context, uow inventory.UnitOfWork, in inventory.IssueInput) (inventory.IssueResult, error)
	PostIssue(ctx context.Context, uow inventory.UnitOfWork, in inventory.PostIssueInput) (ledger.Ledger, error)
}

// Handler exposes warehouse stock operations over HTTP. Each request
// runs in its own unit of work.
type Handler struct {
	logger   *slog.Logger
	runner   close.Runner
	service  stockService
	validate *validator.Validate
}

// NewHandler constructs an inventory HTTP handler.
func NewHandler(logger *slog.Logger, runner close.Runner, allocator *inventory.Allocator) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, runner: runner, service: allocator, validate: validator.New()}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/inventory", func(r chi.Router) {
		r.Post("/receipts", h.receive)
		r.Post("/reservations", h.reserve)
		r.Post("/reservations/release", h.release)
		r.Post("/issues", h.issue)
		r.Post("/issues/post", h.postIssue)
	})
}

type receiptRequest struct {
	ProductID   int64  `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
	Type        string `json:"type"`
	Qty         string `json:"qty" validate:"required"`
	UnitCost    string `json:"unit_cost" validate:"required"`
	Date        string `json:"date" validate:"required"`
	RefModule   string `json:"ref_module" validate:"required"`
	RefID       string `json:"ref_id" validate:"required,uuid"`
	ActorID     int64  `json:"actor_id" validate:"required,gt=0"`
}

type reserveRequest struct {
	ProductID   int64  `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
	Qty         string `json:"qty" validate:"required"`
	Date        string `json:"date" validate:"required"`
}

type issueRequest struct {
	ProductID   int64  `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
	Qty         string `json:"qty" validate:"required"`
	Date        string `json:"date" validate:"required"`
	RefModule   string `json:"ref_module" validate:"required"`
	RefID       string `json:"ref_id" validate:"required,uuid"`
	LineID      int64  `json:"line_id" validate:"required,gt=0"`
	ActorID     int64  `json:"actor_id" validate:"required,gt=0"`
}

type postIssueRequest struct {
	RefModule   string `json:"ref_module" validate:"required"`
	RefID       string `json:"ref_id" validate:"required,uuid"`
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
	UsageModule string `json:"usage_module" validate:"required"`
	UsageKey    string `json:"usage_key" validate:"required"`
	Date        string `json:"date" validate:"required"`
	Memo        string `json:"memo"`
	ActorID     int64  `json:"actor_id" validate:"required,gt=0"`
}

type batchView struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Type      string `json:"type"`
	Qty       string `json:"qty"`
	Residual  string `json:"residual"`
	UnitCost  string `json:"unit_cost"`
}

type balanceView struct {
	ProductID      int64  `json:"product_id"`
	WarehouseID    int64  `json:"warehouse_id"`
	Month          string `json:"month"`
	ClosingStock   string `json:"closing_stock"`
	BookedStock    string `json:"booked_stock"`
	AvailableStock string `json:"available_stock"`
	InventoryValue string `json:"inventory_value"`
}

type allocationView struct {
	BatchID  int64  `json:"batch_id"`
	Qty      string `json:"qty"`
	UnitCost string `json:"unit_cost"`
}

type issueView struct {
	Allocations []allocationView `json:"allocations"`
	UnitCost    string           `json:"unit_cost"`
	TotalCost   string           `json:"total_cost"`
}

type postIssueView struct {
	LedgerID int64  `json:"ledger_id"`
	Number   string `json:"number"`
	Memo     string `json:"memo,omitempty"`
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	input, err := req.toInput()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var batch inventory.StockBatch
	err = h.runner.WithUnitOfWork(r.Context(), func(ctx context.Context, unit close.UnitOfWork) error {
		var err error
		batch, err = h.service.Receive(ctx, unit, input)
		return err
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, batchView{
		ID:        batch.ID,
		ProductID: batch.ProductID,
		Type:      string(batch.Type),
		Qty:       batch.Qty.String(),
		Residual:  batch.Residual.String(),
		UnitCost:  batch.UnitCost.String(),
	})
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	h.adjustBooking(w, r, h.service.Reserve)
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	h.adjustBooking(w, r, h.service.Release)
}

func (h *Handler) adjustBooking(w http.ResponseWriter, r *http.Request, op func(context.Context, inventory.UnitOfWork, inventory.ReserveInput) (inventory.StockBalance, error)) {
	var req reserveRequest
	if !h.decode(w, r, &req) {
		return
	}
	input, err := req.toInput()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var balance inventory.StockBalance
	err = h.runner.WithUnitOfWork(r.Context(), func(ctx context.Context, unit close.UnitOfWork) error {
		var err error
		balance, err = op(ctx, unit, input)
		return err
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newBalanceView(balance))
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !h.decode(w, r, &req) {
		return
	}
	input, err := req.toInput()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var result inventory.IssueResult
	err = h.runner.WithUnitOfWork(r.Context(), func(ctx context.Context, unit close.UnitOfWork) error {
		var err error
		result, err = h.service.Issue(ctx, unit, input)
		return err
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	allocations := make([]allocationView, 0, len(result.Allocations))
	for _, alloc := range result.Allocations {
		allocations = append(allocations, allocationView{
			BatchID:  alloc.BatchID,
			Qty:      alloc.Qty.String(),
			UnitCost: alloc.UnitCost.String(),
		})
	}
	httpx.JSON(w, http.StatusOK, issueView{
		Allocations: allocations,
		UnitCost:    result.UnitCost.String(),
		TotalCost:   result.TotalCost.String(),
	})
}

func (h *Handler) postIssue(w http.ResponseWriter, r *http.Request) {
	var req postIssueRequest
	if !h.decode(w, r, &req) {
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
		posted, err = h.service.PostIssue(ctx, unit, input)
		return err
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, postIssueView{LedgerID: posted.ID, Number: posted.Number, Memo: posted.Memo})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, inventory.ErrInvalidUnitCost),
		errors.Is(err, inventory.ErrNothingToPost):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Rejected", err.Error())
	case errors.Is(err, inventory.ErrInsufficientBookedStock),
		errors.Is(err, inventory.ErrInsufficientPhysicalStock),
		errors.Is(err, inventory.ErrInsufficientAvailableStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, inventory.ErrBalanceNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, acctshared.ErrDuplicatePosting), errors.Is(err, internalshared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Posting", err.Error())
	case errors.Is(err, acctshared.ErrPeriodClosed), errors.Is(err, acctshared.ErrPeriodClosing):
		httpx.Problem(w, http.StatusConflict, "Period Not Open", err.Error())
	case errors.Is(err, acctshared.ErrAccountNotConfigured):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Posting Rejected", err.Error())
	default:
		h.logger.Error("inventory request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (req receiptRequest) toInput() (inventory.ReceiptInput, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return inventory.ReceiptInput{}, err
	}
	refID, err := uuid.Parse(req.RefID)
	if err != nil {
		return inventory.ReceiptInput{}, errors.New("ref_id must be a valid UUID")
	}
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		return inventory.ReceiptInput{}, errors.New("qty must be a decimal number")
	}
	unitCost, err := decimal.NewFromString(req.UnitCost)
	if err != nil {
		return inventory.ReceiptInput{}, errors.New("unit_cost must be a decimal number")
	}
	batchType := inventory.BatchType(req.Type)
	if batchType == "" {
		batchType = inventory.BatchTypeIn
	}
	return inventory.ReceiptInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Type:        batchType,
		Qty:         qty,
		UnitCost:    unitCost,
		Date:        date,
		RefModule:   req.RefModule,
		RefID:       refID,
		ActorID:     req.ActorID,
	}, nil
}

func (req reserveRequest) toInput() (inventory.ReserveInput, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return inventory.ReserveInput{}, err
	}
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		return inventory.ReserveInput{}, errors.New("qty must be a decimal number")
	}
	return inventory.ReserveInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Qty:         qty,
		Date:        date,
	}, nil
}

func (req issueRequest) toInput() (inventory.IssueInput, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return inventory.IssueInput{}, err
	}
	refID, err := uuid.Parse(req.RefID)
	if err != nil {
		return inventory.IssueInput{}, errors.New("ref_id must be a valid UUID")
	}
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		return inventory.IssueInput{}, errors.New("qty must be a decimal number")
	}
	return inventory.IssueInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Qty:         qty,
		Date:        date,
		RefModule:   req.RefModule,
		RefID:       refID,
		LineID:      req.LineID,
		ActorID:     req.ActorID,
	}, nil
}

func (req postIssueRequest) toInput() (inventory.PostIssueInput, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return inventory.PostIssueInput{}, err
	}
	refID, err := uuid.Parse(req.RefID)
	if err != nil {
		return inventory.PostIssueInput{}, errors.New("ref_id must be a valid UUID")
	}
	return inventory.PostIssueInput{
		RefModule:   req.RefModule,
		RefID:       refID,
		WarehouseID: req.WarehouseID,
		UsageModule: req.UsageModule,
		UsageKey:    req.UsageKey,
		Date:        date,
		Memo:        req.Memo,
		ActorID:     req.ActorID,
	}, nil
}

func parseDate(raw string) (time.Time, error) {
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errors.New("date must use the 2006-01-02 format")
	}
	return date, nil
}

func newBalanceView(b inventory.StockBalance) balanceView {
	return balanceView{
		ProductID:      b.ProductID,
		WarehouseID:    b.WarehouseID,
		Month:          b.Month,
		ClosingStock:   b.ClosingStock.String(),
		BookedStock:    b.BookedStock.String(),
		AvailableStock: b.AvailableStock.String(),
		InventoryValue: b.InventoryValue.String(),
	}
}
