// Package handler wires pool endpoints to the pool service.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	identitymodels "redpocket/internal/identity/models"
	"redpocket/internal/pool/models"
	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
	"redpocket/pkg/platform/httputil"
	"redpocket/pkg/requestcontext"
)

// Service defines the pool operations the handler needs.
type Service interface {
	Create(ctx context.Context, creator id.AccountID, token id.Token, totalAmount float64, totalShares int, expiresAt time.Time) (*models.DistributionPool, error)
	Claim(ctx context.Context, poolID id.PoolID, accountID id.AccountID) (float64, error)
	Get(ctx context.Context, poolID id.PoolID) (*models.DistributionPool, error)
	ClaimsByAccount(ctx context.Context, accountID id.AccountID) ([]models.ClaimRecord, error)
}

// Resolver maps the platform identity in a claim request to its account.
type Resolver interface {
	Resolve(ctx context.Context, platform id.Platform, platformID, displayName string) (*identitymodels.UserAccount, error)
}

// Handler serves pool creation, claims, and queries.
type Handler struct {
	service  Service
	resolver Resolver
	logger   *slog.Logger
}

func New(service Service, resolver Resolver, logger *slog.Logger) *Handler {
	return &Handler{service: service, resolver: resolver, logger: logger}
}

// Register mounts the authenticated pool endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/pools", h.HandleCreate)
	r.Get("/pools/claims", h.HandleClaimsByAccount)
}

// RegisterPublic mounts the read and claim endpoints. Claims sit outside the
// bearer-auth chain: the bot layer authenticates the platform event and
// forwards the claimer's platform identity in the body.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/pools/{poolID}", h.HandleGet)
	r.Post("/pools/{poolID}/claims", h.HandleClaim)
}

// HandleCreate handles POST /pools.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	creator := requestcontext.ActorID(ctx)
	if creator.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[CreateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	pool, err := h.service.Create(ctx, creator, req.ParsedToken(), req.TotalAmount, req.TotalShares, req.ParsedExpiresAt())
	if err != nil {
		h.logger.ErrorContext(ctx, "pool creation failed",
			"request_id", requestID,
			"creator_id", creator,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "pool created",
		"request_id", requestID,
		"pool_id", pool.ID,
		"total_amount", pool.TotalAmount,
		"total_shares", pool.TotalShares,
	)
	httputil.WriteJSON(w, http.StatusCreated, pool)
}

// HandleClaim handles POST /pools/{poolID}/claims.
func (h *Handler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	poolID, err := id.ParsePoolID(chi.URLParam(r, "poolID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid pool id"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[ClaimRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	account, err := h.resolver.Resolve(ctx, req.ParsedPlatform(), req.PlatformID, req.DisplayName)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	amount, err := h.service.Claim(ctx, poolID, account.ID)
	if err != nil {
		h.logger.WarnContext(ctx, "pool claim rejected",
			"request_id", requestID,
			"pool_id", poolID,
			"account_id", account.ID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "pool claimed",
		"request_id", requestID,
		"pool_id", poolID,
		"account_id", account.ID,
		"amount", amount,
	)
	httputil.WriteJSON(w, http.StatusOK, ClaimResponse{
		PoolID:    poolID,
		AccountID: account.ID,
		Amount:    amount,
	})
}

// HandleGet handles GET /pools/{poolID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	poolID, err := id.ParsePoolID(chi.URLParam(r, "poolID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid pool id"))
		return
	}

	pool, err := h.service.Get(r.Context(), poolID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pool)
}

// HandleClaimsByAccount handles GET /pools/claims for the authenticated
// account.
func (h *Handler) HandleClaimsByAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	account := requestcontext.ActorID(ctx)
	if account.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	records, err := h.service.ClaimsByAccount(ctx, account)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if records == nil {
		records = []models.ClaimRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"claims": records})
}
