package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/tradepost-labs/tradepost-backend/pkg/db/models"
	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
	"github.com/tradepost-labs/tradepost-backend/pkg/logger"
	"github.com/tradepost-labs/tradepost-backend/pkg/outbox"
)

const (
	defaultSweepBatchSize = 200
	defaultReservationTTL = 15 * time.Minute
)

// reservationExpirer is the inventory surface the sweeper depends on.
type reservationExpirer interface {
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}

// abandonedOrderReader finds pending orders whose every stock hold expired.
type abandonedOrderReader interface {
	FindAbandonedPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type orderCanceler interface {
	Cancel(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef, reason string) error
}

// ReservationSweeperParams configure the reservation sweeper job.
type ReservationSweeperParams struct {
	Logger         *logger.Logger
	Inventory      reservationExpirer
	Pending        abandonedOrderReader
	Orders         orderCanceler
	ReservationTTL time.Duration
	BatchSize      int
}

// ReservationSweeperJob releases stock held by reservations whose hold
// deadline has passed, then cancels pending orders left with no live hold.
// Confirmed reservations are never touched; a payment that lands before the
// sweeper sees the row wins.
type ReservationSweeperJob struct {
	logg           *logger.Logger
	inventory      reservationExpirer
	pending        abandonedOrderReader
	orders         orderCanceler
	reservationTTL time.Duration
	batchSize      int
	now            func() time.Time
}

// NewReservationSweeperJob builds the sweeper job.
func NewReservationSweeperJob(params ReservationSweeperParams) (*ReservationSweeperJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if params.Pending == nil {
		return nil, fmt.Errorf("order reader required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	ttl := params.ReservationTTL
	if ttl <= 0 {
		ttl = defaultReservationTTL
	}
	return &ReservationSweeperJob{
		logg:           params.Logger,
		inventory:      params.Inventory,
		pending:        params.Pending,
		orders:         params.Orders,
		reservationTTL: ttl,
		batchSize:      batchSize,
		now:            time.Now,
	}, nil
}

// Name implements Job.
func (j *ReservationSweeperJob) Name() string { return "reservation_sweeper" }

// Run expires due reservations, then cancels the orders they backed.
func (j *ReservationSweeperJob) Run(ctx context.Context) error {
	var errs []error
	if err := j.expireReservations(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := j.cancelAbandonedOrders(ctx); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

func (j *ReservationSweeperJob) expireReservations(ctx context.Context) error {
	total := 0
	for {
		expired, err := j.inventory.ExpireDue(ctx, j.now(), j.batchSize)
		if err != nil {
			return fmt.Errorf("expire due reservations: %w", err)
		}
		total += expired
		if expired < j.batchSize {
			break
		}
	}
	if total > 0 {
		j.logg.Info(j.logg.WithField(ctx, "expired", total), "released expired reservations")
	}
	return nil
}

// cancelAbandonedOrders closes pending orders older than the reservation TTL
// once every hold is gone. One failed cancel does not stop the rest.
func (j *ReservationSweeperJob) cancelAbandonedOrders(ctx context.Context) error {
	cutoff := j.now().Add(-j.reservationTTL)
	abandoned, err := j.pending.FindAbandonedPending(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("query abandoned orders: %w", err)
	}
	if len(abandoned) == 0 {
		return nil
	}

	actor := &outbox.ActorRef{Role: enums.ActorRoleSystem}
	var errs []error
	canceled := 0
	for _, order := range abandoned {
		if err := j.orders.Cancel(ctx, order.ID, actor, "reservation expired before payment"); err != nil {
			errs = append(errs, fmt.Errorf("cancel abandoned order %s: %w", order.ID, err))
			continue
		}
		canceled++
	}
	if canceled > 0 {
		j.logg.Info(j.logg.WithField(ctx, "canceled", canceled), "canceled abandoned pending orders")
	}
	return multierr.Combine(errs...)
}
