package blobstore

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cardvault/internal/platform/middleware"
	"cardvault/internal/transport/http/shared"
	dErrors "cardvault/pkg/domain-errors"
)

// maxBlobSize caps uploads at 4 MiB. Pointer payloads are metadata
// documents and images, not bulk media.
const maxBlobSize = 4 << 20

// Handler exposes the blob store over HTTP.
type Handler struct {
	logger *slog.Logger
	store  Store
}

func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, store: store}
}

// Register registers the blob routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/blobs", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Post("/", h.handlePut)
		r.Get("/{cid}", h.handleGet)
	})
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBlobSize+1))
	if err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read blob payload"))
		return
	}
	if len(data) > maxBlobSize {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "blob payload exceeds size limit"))
		return
	}
	cid, err := h.store.Put(ctx, data)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	h.logger.DebugContext(ctx, "blob stored",
		"request_id", middleware.GetRequestID(ctx),
		"cid", cid,
		"size", len(data),
	)
	shared.WriteJSON(w, http.StatusCreated, map[string]string{"cid": cid})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	data, err := h.store.Get(r.Context(), chi.URLParam(r, "cid"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
