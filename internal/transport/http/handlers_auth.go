package httptransport

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	jwttoken "cardvault/internal/jwt_token"
	"cardvault/internal/platform/middleware"
	"cardvault/internal/transport/http/shared"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

const tokenTTL = time.Hour

// CertifierVerifier checks a certifier's API secret against the registered hash.
type CertifierVerifier interface {
	VerifyCertifierSecret(ctx context.Context, addr domain.Address, secret string) error
}

type tokenRequest struct {
	Address string `json:"address"`
	// Secret is set for the certifier flow; the admin flow authenticates
	// with the X-Admin-Token header instead.
	Secret string `json:"secret,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Role        string `json:"role"`
}

// handleToken mints access tokens. Certifiers authenticate with their
// registered secret; the administrator mints caller tokens for any address
// with the admin token header.
func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	addr, err := domain.ParseAddress(req.Address)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	role := jwttoken.RoleCaller
	switch {
	case req.Secret != "":
		if err := h.certifiers.VerifyCertifierSecret(ctx, addr, req.Secret); err != nil {
			h.logger.WarnContext(ctx, "certifier token rejected",
				"request_id", middleware.GetRequestID(ctx),
				"address", addr,
			)
			shared.WriteError(w, err)
			return
		}
		role = jwttoken.RoleCertifier
	default:
		provided := r.Header.Get("X-Admin-Token")
		if h.adminToken == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(h.adminToken)) != 1 {
			shared.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required to mint caller tokens"))
			return
		}
	}

	token, err := h.jwtService.GenerateAccessToken(addr, role, tokenTTL)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to sign access token",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to issue token"))
		return
	}
	shared.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(tokenTTL.Seconds()),
		Role:        role,
	})
}
