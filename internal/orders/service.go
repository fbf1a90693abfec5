package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/internal/inventory"
	"github.com/tradepost-labs/tradepost-backend/pkg/db/models"
	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
	pkgerrors "github.com/tradepost-labs/tradepost-backend/pkg/errors"
	"github.com/tradepost-labs/tradepost-backend/pkg/outbox"
)

// Service drives the order lifecycle.
type Service interface {
	Create(ctx context.Context, tx *gorm.DB, order *models.Order) error
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.Order, error)
	ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]models.Order, error)

	Cancel(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef, reason string) error
	Accept(ctx context.Context, orderID uuid.UUID, sellerID uuid.UUID) error
	MarkShipped(ctx context.Context, orderID uuid.UUID, sellerID uuid.UUID, trackingNumber string) error
	MarkDelivered(ctx context.Context, orderID uuid.UUID) error
	ApproveReturn(ctx context.Context, orderID uuid.UUID, sellerID uuid.UUID) error

	OnPaymentSucceeded(ctx context.Context, tx *gorm.DB, orderID, intentID uuid.UUID) error
	OnPaymentFailed(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type service struct {
	repo   Repository
	stock  inventory.Service
	runner txRunner
	events outboxEmitter
}

// NewService wires the order service with its collaborators.
func NewService(repo Repository, stock inventory.Service, runner txRunner, events outboxEmitter) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if stock == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if runner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{repo: repo, stock: stock, runner: runner, events: events}, nil
}

func (s *service) Create(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if order.BuyerID == uuid.Nil || order.SellerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer and seller are required")
	}
	order.Status = enums.OrderStatusPending
	if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating order")
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	return order, nil
}

func (s *service) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.Order, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	rows, err := s.repo.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing orders")
	}
	return rows, nil
}

func (s *service) ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]models.Order, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	rows, err := s.repo.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing orders")
	}
	return rows, nil
}

// transition moves an order through the state machine with one retry. The
// guarded update loses only when a concurrent writer moved the order; the
// re-read decides whether the move is still legal from the new status.
func (s *service) transition(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, to enums.OrderStatus) (*models.Order, error) {
	repo := s.repo.WithTx(tx)

	order, err := repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}

	for attempt := 0; attempt < 2; attempt++ {
		if order.Status == to {
			return order, nil
		}
		if !canTransition(order.Status, to) {
			return nil, pkgerrors.New(pkgerrors.CodeIllegalTransition,
				fmt.Sprintf("cannot move order from %s to %s", order.Status, to))
		}

		affected, err := repo.TransitionStatus(ctx, orderID, order.Status, to)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating order status")
		}
		if affected > 0 {
			order.Status = to
			if to == enums.OrderStatusCanceled {
				now := time.Now()
				order.CanceledAt = &now
			}
			return order, nil
		}

		// Someone else moved the order. Reload and try once more.
		order, err = repo.GetByID(ctx, orderID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reloading order")
		}
	}

	return nil, pkgerrors.New(pkgerrors.CodeStaleState, "order changed concurrently, retry")
}

// Cancel aborts an order before fulfillment begins. Held stock goes back to
// the pool.
func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef, reason string) error {
	return s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.repo.WithTx(tx).GetByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
		}
		if current.Status == enums.OrderStatusCanceled {
			return nil
		}

		order, err := s.transition(ctx, tx, orderID, enums.OrderStatusCanceled)
		if err != nil {
			return err
		}
		if err := s.releaseReservationIfHeld(ctx, tx, orderID); err != nil {
			return err
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCanceled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actor,
			Version:       1,
			Data: map[string]any{
				"order_id":    order.ID,
				"buyer_id":    order.BuyerID,
				"seller_id":   order.SellerID,
				"canceled_at": order.CanceledAt,
				"reason":      reason,
			},
		})
	})
}

// Accept moves a paid order into fulfillment.
func (s *service) Accept(ctx context.Context, orderID uuid.UUID, sellerID uuid.UUID) error {
	return s.sellerTransition(ctx, orderID, sellerID, enums.OrderStatusProcessing)
}

// MarkShipped moves a processing order to shipped and records the carrier
// tracking number. Shipping without a tracking number is rejected.
func (s *service) MarkShipped(ctx context.Context, orderID uuid.UUID, sellerID uuid.UUID, trackingNumber string) error {
	tracking := strings.TrimSpace(trackingNumber)
	if tracking == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "tracking number is required")
	}
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.SellerID != sellerID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another seller")
	}
	return s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.emitStateChange(ctx, tx, orderID, enums.OrderStatusShipped); err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).SetTrackingNumber(ctx, orderID, tracking); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording tracking number")
		}
		return nil
	})
}

func (s *service) MarkDelivered(ctx context.Context, orderID uuid.UUID) error {
	return s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		return s.emitStateChange(ctx, tx, orderID, enums.OrderStatusDelivered)
	})
}

func (s *service) ApproveReturn(ctx context.Context, orderID uuid.UUID, sellerID uuid.UUID) error {
	return s.sellerTransition(ctx, orderID, sellerID, enums.OrderStatusReturned)
}

func (s *service) sellerTransition(ctx context.Context, orderID, sellerID uuid.UUID, to enums.OrderStatus) error {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.SellerID != sellerID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another seller")
	}
	return s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		return s.emitStateChange(ctx, tx, orderID, to)
	})
}

func (s *service) emitStateChange(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, to enums.OrderStatus) error {
	order, err := s.repo.WithTx(tx).GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	from := order.Status

	moved, err := s.transition(ctx, tx, orderID, to)
	if err != nil {
		return err
	}
	if from == moved.Status {
		return nil
	}
	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStateChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   moved.ID,
		Version:       1,
		Data: map[string]any{
			"order_id":    moved.ID,
			"seller_id":   moved.SellerID,
			"from_status": from,
			"to_status":   moved.Status,
		},
	})
}

// OnPaymentSucceeded confirms the order and commits its stock hold. Runs in
// the same transaction that records the payment event.
func (s *service) OnPaymentSucceeded(ctx context.Context, tx *gorm.DB, orderID, intentID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	order, err := s.transition(ctx, tx, orderID, enums.OrderStatusConfirmed)
	if err != nil {
		return err
	}

	reservations, err := s.repo.WithTx(tx).ReservationsForOrder(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading reservations")
	}
	for _, reservation := range reservations {
		if err := s.stock.Confirm(ctx, tx, reservation.ID); err != nil {
			return err
		}
	}

	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderConfirmed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Data: map[string]any{
			"order_id":  order.ID,
			"buyer_id":  order.BuyerID,
			"seller_id": order.SellerID,
			"intent_id": intentID,
		},
	})
}

// OnPaymentFailed cancels the pending order and releases its hold.
func (s *service) OnPaymentFailed(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	order, err := s.transition(ctx, tx, orderID, enums.OrderStatusCanceled)
	if err != nil {
		return err
	}
	if err := s.releaseReservationIfHeld(ctx, tx, orderID); err != nil {
		return err
	}
	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCanceled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Data: map[string]any{
			"order_id":    order.ID,
			"buyer_id":    order.BuyerID,
			"seller_id":   order.SellerID,
			"canceled_at": order.CanceledAt,
			"reason":      reason,
		},
	})
}

func (s *service) releaseReservationIfHeld(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	reservations, err := s.repo.WithTx(tx).ReservationsForOrder(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading reservations")
	}
	for _, reservation := range reservations {
		if reservation.Status != enums.ReservationStatusHeld {
			continue
		}
		if err := s.stock.Release(ctx, tx, reservation.ID); err != nil {
			return err
		}
	}
	return nil
}
