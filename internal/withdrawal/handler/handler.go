// Package handler wires withdrawal endpoints to the withdrawal service.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"redpocket/internal/withdrawal/models"
	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
	"redpocket/pkg/platform/httputil"
	"redpocket/pkg/requestcontext"
)

// Service defines the withdrawal operations the handler needs.
type Service interface {
	EstimateFee(ctx context.Context, kind id.WithdrawalKind, amount float64, token id.Token, chain string) (models.FeeQuote, error)
	Create(ctx context.Context, accountID id.AccountID, kind id.WithdrawalKind, amount float64, token id.Token, destination, chain string) (*models.WithdrawalRequest, error)
	Get(ctx context.Context, requestID id.WithdrawalID, accountID id.AccountID) (*models.WithdrawalRequest, error)
	ListByAccount(ctx context.Context, accountID id.AccountID) ([]models.WithdrawalRequest, error)
	Cancel(ctx context.Context, requestID id.WithdrawalID, accountID id.AccountID) (*models.WithdrawalRequest, error)
}

// Handler serves withdrawal creation, estimation, queries, and cancellation.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the authenticated withdrawal endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/withdrawals", h.HandleCreate)
	r.Get("/withdrawals", h.HandleList)
	r.Get("/withdrawals/{withdrawalID}", h.HandleGet)
	r.Post("/withdrawals/{withdrawalID}/cancel", h.HandleCancel)
}

// RegisterPublic mounts fee estimation; quotes read no account state.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/withdrawals/estimate", h.HandleEstimate)
}

func actorOrFail(w http.ResponseWriter, ctx context.Context) (id.AccountID, bool) {
	actor := requestcontext.ActorID(ctx)
	if actor.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return id.AccountID{}, false
	}
	return actor, true
}

// HandleCreate handles POST /withdrawals.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor, ok := actorOrFail(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CreateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	request, err := h.service.Create(ctx, actor, req.ParsedKind(), req.Amount, req.ParsedToken(), req.Destination, req.Chain)
	if err != nil {
		h.logger.WarnContext(ctx, "withdrawal creation rejected",
			"request_id", requestID,
			"account_id", actor,
			"kind", req.Kind,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "withdrawal created",
		"request_id", requestID,
		"withdrawal_id", request.ID,
		"account_id", actor,
		"amount", request.Amount,
	)
	httputil.WriteJSON(w, http.StatusAccepted, request)
}

// HandleEstimate handles POST /withdrawals/estimate. No auth needed: quotes
// read no account state.
func (h *Handler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[EstimateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	quote, err := h.service.EstimateFee(ctx, req.ParsedKind(), req.Amount, req.ParsedToken(), req.Chain)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, quote)
}

// HandleList handles GET /withdrawals for the authenticated account.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := actorOrFail(w, ctx)
	if !ok {
		return
	}

	requests, err := h.service.ListByAccount(ctx, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if requests == nil {
		requests = []models.WithdrawalRequest{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"withdrawals": requests})
}

// HandleGet handles GET /withdrawals/{withdrawalID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := actorOrFail(w, ctx)
	if !ok {
		return
	}
	withdrawalID, err := id.ParseWithdrawalID(chi.URLParam(r, "withdrawalID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid withdrawal id"))
		return
	}

	request, err := h.service.Get(ctx, withdrawalID, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, request)
}

// HandleCancel handles POST /withdrawals/{withdrawalID}/cancel.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor, ok := actorOrFail(w, ctx)
	if !ok {
		return
	}
	withdrawalID, err := id.ParseWithdrawalID(chi.URLParam(r, "withdrawalID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid withdrawal id"))
		return
	}

	request, err := h.service.Cancel(ctx, withdrawalID, actor)
	if err != nil {
		h.logger.WarnContext(ctx, "withdrawal cancellation rejected",
			"request_id", requestID,
			"withdrawal_id", withdrawalID,
			"account_id", actor,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "withdrawal cancelled",
		"request_id", requestID,
		"withdrawal_id", withdrawalID,
		"account_id", actor,
	)
	httputil.WriteJSON(w, http.StatusOK, request)
}
