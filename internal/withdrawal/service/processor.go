package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"redpocket/internal/withdrawal/models"
	"redpocket/internal/withdrawal/settlement"
	id "redpocket/pkg/domain"
	audit "redpocket/pkg/platform/audit"
	"redpocket/pkg/requestcontext"
)

// Processor drives Pending withdrawals to a terminal state: a bounded worker
// pool consumes the service's queue, and a reconciliation sweep retires
// requests stuck in Processing past the deadline. No request stays
// non-terminal forever.
type Processor struct {
	service *Service
	emitter settlement.Emitter

	workers           int
	processingTimeout time.Duration
	sweepInterval     time.Duration
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) { p.workers = n }
}

// WithProcessingTimeout sets how long a request may sit in Processing before
// the sweep fails and refunds it.
func WithProcessingTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) { p.processingTimeout = d }
}

func WithSweepInterval(d time.Duration) ProcessorOption {
	return func(p *Processor) { p.sweepInterval = d }
}

// SweepStore extends the withdrawal store with the stuck-request scan.
type SweepStore interface {
	WithdrawalStore
	ListStuckProcessing(ctx context.Context, cutoff time.Time) ([]models.WithdrawalRequest, error)
}

// NewProcessor constructs a Processor over the service's queue.
func NewProcessor(service *Service, emitter settlement.Emitter, opts ...ProcessorOption) *Processor {
	p := &Processor{
		service:           service,
		emitter:           emitter,
		workers:           4,
		processingTimeout: 5 * time.Minute,
		sweepInterval:     time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks until ctx is cancelled, then drains the workers.
func (p *Processor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.sweeper(ctx)
	}()

	wg.Wait()
	return ctx.Err()
}

func (p *Processor) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case requestID := <-p.service.queue:
			p.process(ctx, requestID)
			if p.service.metrics != nil {
				p.service.metrics.ProcessingQueueDepth.Set(float64(len(p.service.queue)))
			}
		}
	}
}

// process moves one request Pending → Processing, emits the settlement
// instruction, and records the outcome. A request cancelled between enqueue
// and pickup is left alone.
func (p *Processor) process(ctx context.Context, requestID id.WithdrawalID) {
	now := requestcontext.Now(ctx)

	var request *models.WithdrawalRequest
	err := p.service.store.Update(ctx, requestID, func(r *models.WithdrawalRequest) error {
		if err := r.Transition(models.StatusProcessing, now); err != nil {
			return err
		}
		cloned := *r
		request = &cloned
		return nil
	})
	if err != nil {
		// Cancelled or already terminal; nothing to process.
		p.service.logger.Debug("skipping withdrawal pickup",
			"request_id", requestID.String(), "error", err)
		return
	}

	ref, err := p.emitter.Emit(ctx, settlement.Instruction{
		RequestID:   request.ID,
		Destination: request.Destination,
		Amount:      request.Fee.NetAmount,
		Token:       request.Token,
		Chain:       request.Chain,
	})
	if err != nil {
		p.fail(ctx, requestID, "settlement emit failed: "+err.Error())
		return
	}

	p.complete(ctx, requestID, ref)
}

func (p *Processor) complete(ctx context.Context, requestID id.WithdrawalID, ref string) {
	now := requestcontext.Now(ctx)
	var completed *models.WithdrawalRequest
	err := p.service.store.Update(ctx, requestID, func(r *models.WithdrawalRequest) error {
		if err := r.Transition(models.StatusCompleted, now); err != nil {
			return err
		}
		r.SettlementRef = ref
		cloned := *r
		completed = &cloned
		return nil
	})
	if err != nil {
		p.service.logger.Error("failed to complete withdrawal",
			"request_id", requestID.String(), "error", err)
		return
	}

	if p.service.metrics != nil {
		p.service.metrics.WithdrawalsCompleted.Inc()
	}
	p.service.emitAudit(ctx, audit.Event{
		EntityType: "withdrawal",
		EntityID:   requestID.String(),
		Actor:      completed.AccountID.String(),
		Action:     audit.EventWithdrawalCompleted,
		After:      completed,
	})
}

// fail marks the request Failed and refunds the full debited amount.
func (p *Processor) fail(ctx context.Context, requestID id.WithdrawalID, reason string) {
	now := requestcontext.Now(ctx)
	var failed *models.WithdrawalRequest
	err := p.service.store.Update(ctx, requestID, func(r *models.WithdrawalRequest) error {
		if err := r.Transition(models.StatusFailed, now); err != nil {
			return err
		}
		r.FailureReason = reason
		cloned := *r
		failed = &cloned
		return nil
	})
	if err != nil {
		p.service.logger.Error("failed to fail withdrawal",
			"request_id", requestID.String(), "error", err)
		return
	}

	p.service.refund(ctx, failed, reason)
	if p.service.metrics != nil {
		p.service.metrics.WithdrawalsFailed.Inc()
	}
	p.service.emitAudit(ctx, audit.Event{
		EntityType: "withdrawal",
		EntityID:   requestID.String(),
		Actor:      failed.AccountID.String(),
		Action:     audit.EventWithdrawalFailed,
		After:      failed,
	})
}

func (p *Processor) sweeper(ctx context.Context) {
	store, ok := p.service.store.(SweepStore)
	if !ok {
		p.service.logger.Warn("withdrawal store does not support stuck-request sweeps")
		return
	}

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx, store)
		}
	}
}

// sweep retires requests stuck in Processing beyond the timeout. A crash
// between pickup and outcome leaves a request Processing forever otherwise.
func (p *Processor) sweep(ctx context.Context, store SweepStore) {
	cutoff := requestcontext.Now(ctx).Add(-p.processingTimeout)
	stuck, err := store.ListStuckProcessing(ctx, cutoff)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.service.logger.Error("stuck withdrawal scan failed", "error", err)
		}
		return
	}
	for _, request := range stuck {
		p.service.logger.Warn("retiring stuck withdrawal",
			"request_id", request.ID.String(),
			"stuck_since", request.ProcessedAt)
		p.fail(ctx, request.ID, "processing timed out")
	}
}
