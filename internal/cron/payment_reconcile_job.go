package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/tradepost-labs/tradepost-backend/pkg/config"
	"github.com/tradepost-labs/tradepost-backend/pkg/logger"
)

const defaultReconcileBatchSize = 50

// staleReconciler is the payments surface the reconcile job depends on.
type staleReconciler interface {
	ReconcileStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// PaymentReconcileParams configure the payment reconcile job.
type PaymentReconcileParams struct {
	Logger    *logger.Logger
	Payments  staleReconciler
	Config    config.ReconcileConfig
	BatchSize int
}

// PaymentReconcileJob polls the provider for intents stuck awaiting
// confirmation longer than the configured age and applies whatever terminal
// state the provider reports.
type PaymentReconcileJob struct {
	logg       *logger.Logger
	payments   staleReconciler
	pendingAge time.Duration
	batchSize  int
	now        func() time.Time
}

// NewPaymentReconcileJob builds the reconcile job.
func NewPaymentReconcileJob(params PaymentReconcileParams) (*PaymentReconcileJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment service required")
	}
	if params.Config.PendingIntentAge <= 0 {
		return nil, fmt.Errorf("pending intent age must be positive")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultReconcileBatchSize
	}
	return &PaymentReconcileJob{
		logg:       params.Logger,
		payments:   params.Payments,
		pendingAge: params.Config.PendingIntentAge,
		batchSize:  batchSize,
		now:        time.Now,
	}, nil
}

// Name implements Job.
func (j *PaymentReconcileJob) Name() string { return "payment_reconcile" }

// Run reconciles one batch of stale intents per cycle.
func (j *PaymentReconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.pendingAge)
	applied, err := j.payments.ReconcileStale(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("reconcile stale intents: %w", err)
	}
	if applied > 0 {
		j.logg.Info(j.logg.WithField(ctx, "applied", applied), "reconciled stale payment intents")
	}
	return nil
}
