package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cardvault/internal/funds"
	"cardvault/internal/platform/middleware"
	"cardvault/internal/transport/http/shared"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

// Handler handles balance book endpoints. Deposits mint spendable balance,
// so they sit behind the admin token.
type Handler struct {
	logger     *slog.Logger
	book       funds.Book
	adminToken string
}

func New(book funds.Book, logger *slog.Logger, adminToken string) *Handler {
	return &Handler{
		logger:     logger,
		book:       book,
		adminToken: adminToken,
	}
}

// Register registers the funds routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/funds", func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))

		r.Get("/{address}", h.handleBalance)

		r.Group(func(r chi.Router) {
			r.Use(middleware.ContentTypeJSON)
			r.Use(middleware.RequireAdminToken(h.adminToken, h.logger))
			r.Post("/deposit", h.handleDeposit)
		})
	})
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := domain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	balance, err := h.book.Balance(r.Context(), addr)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"address": addr, "balance": balance})
}

type depositRequest struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

func (h *Handler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	addr, err := domain.ParseAddress(req.Address)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.book.Deposit(ctx, addr, req.Amount); err != nil {
		shared.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "balance deposited",
		"request_id", middleware.GetRequestID(ctx),
		"address", addr,
		"amount", req.Amount,
	)
	w.WriteHeader(http.StatusNoContent)
}
