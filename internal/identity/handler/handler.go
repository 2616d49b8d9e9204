// Package handler wires account endpoints to the identity resolver and the
// balance ledger.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	identitymodels "redpocket/internal/identity/models"
	ledgermodels "redpocket/internal/ledger/models"
	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
	"redpocket/pkg/platform/httputil"
	"redpocket/pkg/requestcontext"
)

// Resolver defines the identity operations the handler needs.
type Resolver interface {
	Resolve(ctx context.Context, platform id.Platform, platformID, displayName string) (*identitymodels.UserAccount, error)
	Link(ctx context.Context, accountID id.AccountID, platform id.Platform, platformID, displayName string) (*identitymodels.UserAccount, error)
	Get(ctx context.Context, accountID id.AccountID) (*identitymodels.UserAccount, error)
}

// Ledger defines the balance queries the handler needs.
type Ledger interface {
	Balances(ctx context.Context, accountID id.AccountID) ([]ledgermodels.BalanceEntry, error)
}

// Handler serves account resolution, linking, and balance queries.
type Handler struct {
	resolver Resolver
	ledger   Ledger
	logger   *slog.Logger
}

func New(resolver Resolver, ledger Ledger, logger *slog.Logger) *Handler {
	return &Handler{resolver: resolver, ledger: ledger, logger: logger}
}

// Register mounts the authenticated account endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/accounts/{accountID}/identities", h.HandleLink)
	r.Get("/accounts/{accountID}", h.HandleGet)
	r.Get("/accounts/{accountID}/balances", h.HandleBalances)
}

// RegisterPublic mounts resolution. It sits outside the bearer-auth chain:
// the bot layer authenticates the platform event before calling it.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/accounts/resolve", h.HandleResolve)
}

// HandleResolve handles POST /accounts/resolve: it returns the account bound
// to the platform identity, creating one on first contact.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ResolveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	account, err := h.resolver.Resolve(ctx, req.ParsedPlatform(), req.PlatformID, req.DisplayName)
	if err != nil {
		h.logger.ErrorContext(ctx, "identity resolution failed",
			"request_id", requestID,
			"platform", req.Platform,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, account)
}

// HandleLink handles POST /accounts/{accountID}/identities.
func (h *Handler) HandleLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	accountID, err := id.ParseAccountID(chi.URLParam(r, "accountID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid account id"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[LinkRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	account, err := h.resolver.Link(ctx, accountID, req.ParsedPlatform(), req.PlatformID, req.DisplayName)
	if err != nil {
		h.logger.ErrorContext(ctx, "identity link failed",
			"request_id", requestID,
			"account_id", accountID,
			"platform", req.Platform,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, account)
}

// HandleGet handles GET /accounts/{accountID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accountID, err := id.ParseAccountID(chi.URLParam(r, "accountID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid account id"))
		return
	}

	account, err := h.resolver.Get(ctx, accountID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, account)
}

// HandleBalances handles GET /accounts/{accountID}/balances. Callers may only
// read their own balances.
func (h *Handler) HandleBalances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accountID, err := id.ParseAccountID(chi.URLParam(r, "accountID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid account id"))
		return
	}
	if actor := requestcontext.ActorID(ctx); actor != accountID {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "cannot read another account's balances"))
		return
	}

	entries, err := h.ledger.Balances(ctx, accountID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []ledgermodels.BalanceEntry{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"balances": entries})
}
