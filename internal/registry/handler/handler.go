package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cardvault/internal/platform/middleware"
	"cardvault/internal/registry/models"
	"cardvault/internal/transport/http/shared"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

// Service defines the interface for registry operations.
type Service interface {
	Create(ctx context.Context, caller, owner domain.Address, name, metadataPointer string, price uint64) (*models.Record, error)
	Get(ctx context.Context, id domain.TokenID) (*models.Record, error)
	GetHistory(ctx context.Context, id domain.TokenID) ([]models.ProvenanceEntry, error)
	IntegrityHash(ctx context.Context, id domain.TokenID) (string, error)
	SetPrice(ctx context.Context, caller domain.Address, id domain.TokenID, newPrice uint64) error
	SetGradeFromAuthorizedCaller(ctx context.Context, caller domain.Address, id domain.TokenID, grade, newMetadataPointer string) error
	Transfer(ctx context.Context, caller domain.Address, id domain.TokenID, to domain.Address) error
	RegisterAuthorizedCaller(ctx context.Context, caller, addr domain.Address, allowed bool) error
}

// Handler handles record registry endpoints.
type Handler struct {
	logger          *slog.Logger
	registry        Service
	callerValidator middleware.CallerValidator
}

// New creates a new registry Handler.
func New(registry Service, logger *slog.Logger, callerValidator middleware.CallerValidator) *Handler {
	return &Handler{
		logger:          logger,
		registry:        registry,
		callerValidator: callerValidator,
	}
}

// Register registers the registry routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/records", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		// Reads are public.
		r.Get("/{id}", h.handleGetRecord)
		r.Get("/{id}/history", h.handleGetHistory)
		r.Get("/{id}/integrity", h.handleGetIntegrity)

		// Writes require an authenticated caller.
		r.Group(func(r chi.Router) {
			r.Use(middleware.ContentTypeJSON)
			r.Use(middleware.RequireCaller(h.callerValidator, h.logger))
			r.Post("/", h.handleCreateRecord)
			r.Put("/{id}/price", h.handleSetPrice)
			r.Post("/{id}/grade", h.handleSetGrade)
			r.Post("/{id}/transfer", h.handleTransfer)
			r.Post("/callers", h.handleRegisterCaller)
		})
	})
}

type createRecordRequest struct {
	Owner           string `json:"owner"`
	Name            string `json:"name"`
	MetadataPointer string `json:"metadata_pointer"`
	Price           uint64 `json:"price"`
}

func (h *Handler) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.GetCaller(ctx)

	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	owner, err := domain.ParseAddress(req.Owner)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	record, err := h.registry.Create(ctx, caller, owner, req.Name, req.MetadataPointer, req.Price)
	if err != nil {
		h.logger.WarnContext(ctx, "record creation rejected",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, record)
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	record, err := h.registry.Get(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	history, err := h.registry.GetHistory(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (h *Handler) handleGetIntegrity(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	hash, err := h.registry.IntegrityHash(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{"integrity_hash": hash})
}

type setPriceRequest struct {
	Price uint64 `json:"price"`
}

func (h *Handler) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.GetCaller(ctx)

	id, err := domain.ParseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req setPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.registry.SetPrice(ctx, caller, id, req.Price); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setGradeRequest struct {
	Grade           string `json:"grade"`
	MetadataPointer string `json:"metadata_pointer"`
}

func (h *Handler) handleSetGrade(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.GetCaller(ctx)

	id, err := domain.ParseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req setGradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.registry.SetGradeFromAuthorizedCaller(ctx, caller, id, req.Grade, req.MetadataPointer); err != nil {
		h.logger.WarnContext(ctx, "grade finalization rejected",
			"request_id", middleware.GetRequestID(ctx),
			"token_id", id,
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transferRequest struct {
	To string `json:"to"`
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.GetCaller(ctx)

	id, err := domain.ParseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	to, err := domain.ParseAddress(req.To)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.registry.Transfer(ctx, caller, id, to); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerCallerRequest struct {
	Address string `json:"address"`
	Allowed bool   `json:"allowed"`
}

func (h *Handler) handleRegisterCaller(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.GetCaller(ctx)

	var req registerCallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	addr, err := domain.ParseAddress(req.Address)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.registry.RegisterAuthorizedCaller(ctx, caller, addr, req.Allowed); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
