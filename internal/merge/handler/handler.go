// Package handler wires merge endpoints to the merge coordinator.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"redpocket/internal/merge/models"
	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
	"redpocket/pkg/platform/httputil"
	"redpocket/pkg/requestcontext"
)

// Coordinator defines the merge operations the handler needs.
type Coordinator interface {
	Request(ctx context.Context, source, target id.AccountID) (*models.MergeRequest, error)
	Complete(ctx context.Context, requestID id.MergeID, code string) (*models.MergeResult, error)
	Get(ctx context.Context, requestID id.MergeID) (*models.MergeRequest, error)
}

// Handler serves the two-step merge flow.
type Handler struct {
	coordinator Coordinator
	logger      *slog.Logger
}

func New(coordinator Coordinator, logger *slog.Logger) *Handler {
	return &Handler{coordinator: coordinator, logger: logger}
}

// Register mounts merge endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/merges", h.HandleRequest)
	r.Post("/merges/{mergeID}/complete", h.HandleComplete)
	r.Get("/merges/{mergeID}", h.HandleGet)
}

// HandleRequest handles POST /merges. The authenticated account is the merge
// target; it absorbs the source.
func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	target := requestcontext.ActorID(ctx)
	if target.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[RequestBody](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	merge, err := h.coordinator.Request(ctx, req.ParsedSourceID(), target)
	if err != nil {
		h.logger.WarnContext(ctx, "merge request rejected",
			"request_id", requestID,
			"source_id", req.SourceID,
			"target_id", target,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "merge requested",
		"request_id", requestID,
		"merge_id", merge.ID,
		"source_id", merge.SourceID,
		"target_id", merge.TargetID,
	)
	httputil.WriteJSON(w, http.StatusAccepted, merge)
}

// HandleComplete handles POST /merges/{mergeID}/complete.
func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor := requestcontext.ActorID(ctx)
	if actor.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	mergeID, err := id.ParseMergeID(chi.URLParam(r, "mergeID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid merge id"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[CompleteBody](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.coordinator.Complete(ctx, mergeID, req.Code)
	if err != nil {
		h.logger.WarnContext(ctx, "merge completion rejected",
			"request_id", requestID,
			"merge_id", mergeID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "merge completed",
		"request_id", requestID,
		"merge_id", mergeID,
		"merged_identities", result.MergedIdentities,
		"merged_claims", result.MergedClaims,
	)
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleGet handles GET /merges/{mergeID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	mergeID, err := id.ParseMergeID(chi.URLParam(r, "mergeID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid merge id"))
		return
	}

	merge, err := h.coordinator.Get(r.Context(), mergeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, merge)
}
