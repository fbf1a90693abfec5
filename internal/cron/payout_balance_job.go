package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/internal/ledger"
	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
	"github.com/tradepost-labs/tradepost-backend/pkg/logger"
	"github.com/tradepost-labs/tradepost-backend/pkg/outbox"
)

// sellerBalancer is the ledger surface the balance job depends on.
type sellerBalancer interface {
	SellerBalances(ctx context.Context) ([]ledger.SellerBalance, error)
}

type balanceTxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type balanceEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// PayoutBalanceParams configure the payout balance job.
type PayoutBalanceParams struct {
	Logger *logger.Logger
	Ledger sellerBalancer
	Runner balanceTxRunner
	Events balanceEmitter
}

// PayoutBalanceJob recomputes seller balances from the ledger and publishes
// a snapshot event per seller for downstream dashboards.
type PayoutBalanceJob struct {
	logg   *logger.Logger
	ledger sellerBalancer
	runner balanceTxRunner
	events balanceEmitter
	now    func() time.Time
}

// NewPayoutBalanceJob builds the balance snapshot job.
func NewPayoutBalanceJob(params PayoutBalanceParams) (*PayoutBalanceJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Runner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &PayoutBalanceJob{
		logg:   params.Logger,
		ledger: params.Ledger,
		runner: params.Runner,
		events: params.Events,
		now:    time.Now,
	}, nil
}

// Name implements Job.
func (j *PayoutBalanceJob) Name() string { return "payout_balance" }

// Run emits one balance snapshot per seller with ledger activity.
func (j *PayoutBalanceJob) Run(ctx context.Context) error {
	balances, err := j.ledger.SellerBalances(ctx)
	if err != nil {
		return fmt.Errorf("compute seller balances: %w", err)
	}
	if len(balances) == 0 {
		return nil
	}

	snapshotAt := j.now().UTC()
	var errs []error
	for _, balance := range balances {
		// EmitIfNotExists keeps one pending snapshot per seller between
		// publisher runs instead of piling one up per cycle. Each seller
		// gets its own transaction so one failure cannot hold back the rest.
		err := j.runner.WithTx(ctx, func(tx *gorm.DB) error {
			return j.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPayoutBalanceChanged,
				AggregateType: enums.AggregateSeller,
				AggregateID:   balance.SellerID,
				Version:       1,
				Data: map[string]any{
					"seller_id":   balance.SellerID,
					"balance":     balance.Balance,
					"currency":    balance.Currency,
					"snapshot_at": snapshotAt,
				},
			})
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("emit balance snapshot for seller %s: %w", balance.SellerID, err))
		}
	}
	if combined := multierr.Combine(errs...); combined != nil {
		return combined
	}

	j.logg.Info(j.logg.WithField(ctx, "sellers", len(balances)), "published payout balance snapshots")
	return nil
}
