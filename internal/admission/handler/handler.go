package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cardvault/internal/admission/models"
	"cardvault/internal/platform/middleware"
	"cardvault/internal/transport/http/shared"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

// Service defines the interface for certification queue operations.
type Service interface {
	Enqueue(ctx context.Context, caller domain.Address, id domain.TokenID, fee uint64) error
	Peek(ctx context.Context) (domain.TokenID, bool, error)
	Dequeue(ctx context.Context, caller domain.Address) (domain.TokenID, error)
	Finalize(ctx context.Context, caller domain.Address, id domain.TokenID, grade, newMetadataPointer string) error
	GetEntry(ctx context.Context, id domain.TokenID) (*models.QueueEntry, error)
	EmergencyClear(ctx context.Context) error
	RegisterCertifier(ctx context.Context, addr domain.Address, secret string, allowed bool) error
	Fees(ctx context.Context) (models.FeeAccount, error)
	Withdraw(ctx context.Context, to domain.Address, amount uint64) error
}

// Handler handles certification queue endpoints.
type Handler struct {
	logger          *slog.Logger
	queue           Service
	callerValidator middleware.CallerValidator
	adminToken      string
}

// New creates a new admission Handler.
func New(queue Service, logger *slog.Logger, callerValidator middleware.CallerValidator, adminToken string) *Handler {
	return &Handler{
		logger:          logger,
		queue:           queue,
		callerValidator: callerValidator,
		adminToken:      adminToken,
	}
}

// Register registers the queue routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/head", h.handlePeek)
		r.Get("/entries/{id}", h.handleGetEntry)

		r.Group(func(r chi.Router) {
			r.Use(middleware.ContentTypeJSON)
			r.Use(middleware.RequireCaller(h.callerValidator, h.logger))
			r.Post("/", h.handleEnqueue)
			r.Post("/dequeue", h.handleDequeue)
			r.Post("/entries/{id}/finalize", h.handleFinalize)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdminToken(h.adminToken, h.logger))
			r.Delete("/", h.handleEmergencyClear)
			r.Post("/certifiers", h.handleRegisterCertifier)
			r.Get("/fees", h.handleFees)
			r.Post("/fees/withdraw", h.handleWithdraw)
		})
	})
}

type enqueueRequest struct {
	TokenID uint64 `json:"token_id"`
	Fee     uint64 `json:"fee"`
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.GetCaller(ctx)

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.TokenID == 0 {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "token_id is required"))
		return
	}
	id := domain.TokenID(req.TokenID)
	if err := h.queue.Enqueue(ctx, caller, id, req.Fee); err != nil {
		h.logger.WarnContext(ctx, "enqueue rejected",
			"request_id", middleware.GetRequestID(ctx),
			"token_id", id,
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handlePeek(w http.ResponseWriter, r *http.Request) {
	id, ok, err := h.queue.Peek(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if !ok {
		shared.WriteError(w, dErrors.New(dErrors.CodeQueueEmpty, "queue is empty"))
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"token_id": id})
}

func (h *Handler) handleDequeue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.GetCaller(ctx)

	id, err := h.queue.Dequeue(ctx, caller)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"token_id": id})
}

type finalizeRequest struct {
	Grade           string `json:"grade"`
	MetadataPointer string `json:"metadata_pointer"`
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.GetCaller(ctx)

	id, err := domain.ParseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.queue.Finalize(ctx, caller, id, req.Grade, req.MetadataPointer); err != nil {
		h.logger.WarnContext(ctx, "finalize rejected",
			"request_id", middleware.GetRequestID(ctx),
			"token_id", id,
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	entry, err := h.queue.GetEntry(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleEmergencyClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.queue.EmergencyClear(ctx); err != nil {
		shared.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "queue cleared by administrator",
		"request_id", middleware.GetRequestID(ctx),
	)
	w.WriteHeader(http.StatusNoContent)
}

type registerCertifierRequest struct {
	Address string `json:"address"`
	Secret  string `json:"secret"`
	Allowed bool   `json:"allowed"`
}

func (h *Handler) handleRegisterCertifier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerCertifierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	addr, err := domain.ParseAddress(req.Address)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.queue.RegisterCertifier(ctx, addr, req.Secret, req.Allowed); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleFees(w http.ResponseWriter, r *http.Request) {
	fees, err := h.queue.Fees(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, fees)
}

type withdrawRequest struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	to, err := domain.ParseAddress(req.To)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.queue.Withdraw(ctx, to, req.Amount); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
