package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cardvault/internal/exchange/models"
	"cardvault/internal/platform/middleware"
	"cardvault/internal/transport/http/shared"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

// Service defines the interface for exchange operations.
type Service interface {
	List(ctx context.Context, caller domain.Address, id domain.TokenID) error
	Unlist(ctx context.Context, caller domain.Address, id domain.TokenID) error
	IsListed(ctx context.Context, id domain.TokenID) (bool, error)
	Purchase(ctx context.Context, buyer domain.Address, id domain.TokenID, expectedPointer string, payment uint64) error
	Purchases(ctx context.Context, id domain.TokenID) ([]models.PurchaseRecord, error)
	SetFeeRate(ctx context.Context, bps uint64) error
	SetFeeRecipient(ctx context.Context, addr domain.Address) error
	SetPaused(ctx context.Context, paused bool) error
	Drain(ctx context.Context, to domain.Address) (uint64, error)
}

// Handler handles marketplace endpoints.
type Handler struct {
	logger          *slog.Logger
	exchange        Service
	callerValidator middleware.CallerValidator
	adminToken      string
}

// New creates a new exchange Handler.
func New(exchange Service, logger *slog.Logger, callerValidator middleware.CallerValidator, adminToken string) *Handler {
	return &Handler{
		logger:          logger,
		exchange:        exchange,
		callerValidator: callerValidator,
		adminToken:      adminToken,
	}
}

// Register registers the marketplace routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/market", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/{id}", h.handleGetListing)
		r.Get("/{id}/purchases", h.handleGetPurchases)

		r.Group(func(r chi.Router) {
			r.Use(middleware.ContentTypeJSON)
			r.Use(middleware.RequireCaller(h.callerValidator, h.logger))
			r.Post("/{id}/list", h.handleList)
			r.Post("/{id}/unlist", h.handleUnlist)
			r.Post("/{id}/purchase", h.handlePurchase)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdminToken(h.adminToken, h.logger))
			r.Put("/fee-rate", h.handleSetFeeRate)
			r.Put("/fee-recipient", h.handleSetFeeRecipient)
			r.Put("/paused", h.handleSetPaused)
			r.Post("/drain", h.handleDrain)
		})
	})
}

func (h *Handler) handleGetListing(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	listed, err := h.exchange.IsListed(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"token_id": id, "listed": listed})
}

func (h *Handler) handleGetPurchases(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	purchases, err := h.exchange.Purchases(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"purchases": purchases})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	h.listing(w, r, h.exchange.List)
}

func (h *Handler) handleUnlist(w http.ResponseWriter, r *http.Request) {
	h.listing(w, r, h.exchange.Unlist)
}

func (h *Handler) listing(w http.ResponseWriter, r *http.Request, op func(context.Context, domain.Address, domain.TokenID) error) {
	ctx := r.Context()
	caller := middleware.GetCaller(ctx)

	id, err := domain.ParseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := op(ctx, caller, id); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type purchaseRequest struct {
	ExpectedPointer string `json:"expected_pointer"`
	Payment         uint64 `json:"payment"`
}

func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	buyer := middleware.GetCaller(ctx)

	id, err := domain.ParseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.exchange.Purchase(ctx, buyer, id, req.ExpectedPointer, req.Payment); err != nil {
		h.logger.WarnContext(ctx, "purchase rejected",
			"request_id", middleware.GetRequestID(ctx),
			"token_id", id,
			"buyer", buyer,
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setFeeRateRequest struct {
	Bps uint64 `json:"bps"`
}

func (h *Handler) handleSetFeeRate(w http.ResponseWriter, r *http.Request) {
	var req setFeeRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.exchange.SetFeeRate(r.Context(), req.Bps); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setFeeRecipientRequest struct {
	Address string `json:"address"`
}

func (h *Handler) handleSetFeeRecipient(w http.ResponseWriter, r *http.Request) {
	var req setFeeRecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	addr, err := domain.ParseAddress(req.Address)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.exchange.SetFeeRecipient(r.Context(), addr); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setPausedRequest struct {
	Paused bool `json:"paused"`
}

func (h *Handler) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	var req setPausedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.exchange.SetPaused(r.Context(), req.Paused); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type drainRequest struct {
	To string `json:"to"`
}

func (h *Handler) handleDrain(w http.ResponseWriter, r *http.Request) {
	var req drainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	to, err := domain.ParseAddress(req.To)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	amount, err := h.exchange.Drain(r.Context(), to)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"amount": amount})
}
