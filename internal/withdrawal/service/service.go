// Package service implements withdrawal requests: fee estimation, the
// pessimistic debit on creation, cancellation, and the async processor that
// drives requests to settlement.
package service

import (
	"context"
	"errors"
	"log/slog"

	"redpocket/internal/platform/metrics"
	"redpocket/internal/withdrawal/models"
	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
	audit "redpocket/pkg/platform/audit"
	"redpocket/pkg/platform/sentinel"
	"redpocket/pkg/requestcontext"
)

// minWithdrawalAmount is the floor below which requests are rejected
// outright, before fee arithmetic.
const minWithdrawalAmount = 1.0

// WithdrawalStore is the persistence boundary for withdrawal requests.
type WithdrawalStore interface {
	Create(ctx context.Context, request *models.WithdrawalRequest) error
	Find(ctx context.Context, requestID id.WithdrawalID) (*models.WithdrawalRequest, error)
	// Update runs fn on the request under exclusive access; an error from fn
	// aborts with no mutation visible.
	Update(ctx context.Context, requestID id.WithdrawalID, fn func(request *models.WithdrawalRequest) error) error
	ListByAccount(ctx context.Context, accountID id.AccountID) ([]models.WithdrawalRequest, error)
}

// Ledger is the balance boundary: requests debit on creation and credit back
// on failure or cancellation.
type Ledger interface {
	Credit(ctx context.Context, accountID id.AccountID, token id.Token, amount float64) error
	Debit(ctx context.Context, accountID id.AccountID, token id.Token, amount float64) error
}

// AuditPublisher is the audit sink boundary.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates the withdrawal lifecycle.
type Service struct {
	store    WithdrawalStore
	ledger   Ledger
	policies map[id.WithdrawalKind]FeePolicy
	queue    chan id.WithdrawalID
	logger   *slog.Logger
	auditor  AuditPublisher
	metrics  *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditor = publisher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithQueueSize sets the processing queue capacity. Creation fails with
// CodeUnavailable once the queue is full.
func WithQueueSize(size int) Option {
	return func(s *Service) { s.queue = make(chan id.WithdrawalID, size) }
}

// WithFeePolicy overrides the fee policy for one withdrawal kind.
func WithFeePolicy(kind id.WithdrawalKind, policy FeePolicy) Option {
	return func(s *Service) { s.policies[kind] = policy }
}

// New constructs a withdrawal Service.
func New(store WithdrawalStore, ledger Ledger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		ledger:   ledger,
		policies: defaultFeePolicies(),
		queue:    make(chan id.WithdrawalID, 256),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EstimateFee quotes the fee breakdown without creating a request.
func (s *Service) EstimateFee(_ context.Context, kind id.WithdrawalKind, amount float64, token id.Token, chain string) (models.FeeQuote, error) {
	if !kind.IsValid() {
		return models.FeeQuote{}, dErrors.New(dErrors.CodeInvalidInput, "unsupported withdrawal kind")
	}
	if amount <= 0 {
		return models.FeeQuote{}, dErrors.New(dErrors.CodeInvalidInput, "amount must be positive")
	}
	return s.policies[kind].Quote(amount, token, chain), nil
}

// Create validates the request, debits the full amount up front, persists it
// Pending, and enqueues it for async processing. The pessimistic debit means
// a request can never later fail for lack of funds; failure paths refund.
func (s *Service) Create(ctx context.Context, accountID id.AccountID, kind id.WithdrawalKind, amount float64, token id.Token, destination, chain string) (*models.WithdrawalRequest, error) {
	if accountID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "account id is required")
	}
	if !kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unsupported withdrawal kind")
	}
	if destination == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "destination is required")
	}
	if amount < minWithdrawalAmount {
		return nil, dErrors.Newf(dErrors.CodeBelowMinimum,
			"amount %.6f is below the minimum of %.0f", amount, minWithdrawalAmount)
	}

	quote := s.policies[kind].Quote(amount, token, chain)
	if quote.NetAmount <= 0 {
		return nil, dErrors.New(dErrors.CodeBelowMinimum, "fees exceed the withdrawal amount")
	}

	if err := s.ledger.Debit(ctx, accountID, token, amount); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	request := &models.WithdrawalRequest{
		ID:          id.NewWithdrawalID(),
		AccountID:   accountID,
		Kind:        kind,
		Token:       token,
		Amount:      amount,
		Fee:         quote,
		Destination: destination,
		Chain:       chain,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, request); err != nil {
		// The debit already landed; give it back before failing.
		s.refund(ctx, request, "creation failed")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist withdrawal")
	}

	select {
	case s.queue <- request.ID:
	default:
		s.failUnprocessed(ctx, request)
		return nil, dErrors.New(dErrors.CodeUnavailable, "withdrawal queue is full")
	}

	if s.metrics != nil {
		s.metrics.WithdrawalsCreated.Inc()
		s.metrics.ProcessingQueueDepth.Set(float64(len(s.queue)))
	}
	s.emitAudit(ctx, audit.Event{
		EntityType: "withdrawal",
		EntityID:   request.ID.String(),
		Actor:      accountID.String(),
		Action:     audit.EventWithdrawalRequested,
		After:      request,
	})
	return request, nil
}

// failUnprocessed marks a freshly created request Failed and refunds it when
// it could not even be enqueued.
func (s *Service) failUnprocessed(ctx context.Context, request *models.WithdrawalRequest) {
	now := requestcontext.Now(ctx)
	err := s.store.Update(ctx, request.ID, func(r *models.WithdrawalRequest) error {
		if err := r.Transition(models.StatusProcessing, now); err != nil {
			return err
		}
		if err := r.Transition(models.StatusFailed, now); err != nil {
			return err
		}
		r.FailureReason = "processing queue full"
		return nil
	})
	if err != nil {
		s.logger.Error("failed to mark unqueued withdrawal failed",
			"request_id", request.ID.String(), "error", err)
		return
	}
	s.refund(ctx, request, "queue full")
}

// Get returns one request, restricted to its owner.
func (s *Service) Get(ctx context.Context, requestID id.WithdrawalID, accountID id.AccountID) (*models.WithdrawalRequest, error) {
	request, err := s.store.Find(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "withdrawal not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load withdrawal")
	}
	if request.AccountID != accountID {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "withdrawal belongs to another account")
	}
	return request, nil
}

// ListByAccount lists the account's requests, newest first.
func (s *Service) ListByAccount(ctx context.Context, accountID id.AccountID) ([]models.WithdrawalRequest, error) {
	requests, err := s.store.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list withdrawals")
	}
	return requests, nil
}

// Cancel aborts a Pending request and refunds the debit. Requests already
// picked up by a worker (Processing or terminal) cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, requestID id.WithdrawalID, accountID id.AccountID) (*models.WithdrawalRequest, error) {
	now := requestcontext.Now(ctx)
	var cancelled *models.WithdrawalRequest

	err := s.store.Update(ctx, requestID, func(request *models.WithdrawalRequest) error {
		if request.AccountID != accountID {
			return dErrors.New(dErrors.CodeUnauthorized, "withdrawal belongs to another account")
		}
		if err := request.Transition(models.StatusCancelled, now); err != nil {
			return err
		}
		cloned := *request
		cancelled = &cloned
		return nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "withdrawal not found")
		}
		return nil, err
	}

	s.refund(ctx, cancelled, "cancelled")
	if s.metrics != nil {
		s.metrics.WithdrawalsCancelled.Inc()
	}
	s.emitAudit(ctx, audit.Event{
		EntityType: "withdrawal",
		EntityID:   requestID.String(),
		Actor:      accountID.String(),
		Action:     audit.EventWithdrawalCancelled,
		After:      cancelled,
	})
	return cancelled, nil
}

// refund credits the full debited amount back to the owner.
func (s *Service) refund(ctx context.Context, request *models.WithdrawalRequest, reason string) {
	if err := s.ledger.Credit(ctx, request.AccountID, request.Token, request.Amount); err != nil {
		// A lost refund is a conservation violation; log with everything an
		// operator needs to repair it by hand.
		s.logger.Error("withdrawal refund failed",
			"request_id", request.ID.String(),
			"account_id", request.AccountID.String(),
			"token", request.Token.String(),
			"amount", request.Amount,
			"reason", reason,
			"error", err)
	}
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.Warn("failed to emit audit event", "action", event.Action, "error", err)
	}
}
