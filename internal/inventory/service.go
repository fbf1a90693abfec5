package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/pkg/db/models"
	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
	pkgerrors "github.com/tradepost-labs/tradepost-backend/pkg/errors"
	"github.com/tradepost-labs/tradepost-backend/pkg/outbox"
)

// Service exposes stock reservation operations.
type Service interface {
	Reserve(ctx context.Context, tx *gorm.DB, input ReserveInput) (*models.Reservation, error)
	Confirm(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) error
	Release(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) error
	Availability(ctx context.Context, listingID uuid.UUID) (*StockLevel, error)
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}

// ReserveInput describes a stock hold request for one listing.
type ReserveInput struct {
	OrderID   uuid.UUID
	ListingID uuid.UUID
	Quantity  int
	TTL       time.Duration
}

// StockLevel is the read-model for listing availability.
type StockLevel struct {
	ListingID        uuid.UUID `json:"listing_id"`
	QuantityOnHand   int       `json:"quantity_on_hand"`
	QuantityReserved int       `json:"quantity_reserved"`
	Available        int       `json:"available"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type service struct {
	repo   Repository
	runner txRunner
	events outboxEmitter
}

// NewService wires an inventory service with its repository and outbox.
func NewService(repo Repository, runner txRunner, events outboxEmitter) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if runner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{repo: repo, runner: runner, events: events}, nil
}

// Reserve places a hold inside the caller's transaction. The guarded update
// is the only writer of quantity_reserved, so concurrent holds can never
// exceed quantity_on_hand.
func (s *service) Reserve(ctx context.Context, tx *gorm.DB, input ReserveInput) (*models.Reservation, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if input.ListingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "listing id is required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if input.TTL <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation ttl must be positive")
	}

	repo := s.repo.WithTx(tx)

	// One hold per (order, listing) pair. Re-reserving returns the existing
	// hold instead of stacking a second one; the partial unique index on
	// reservations backs this up at the database level.
	existing, err := repo.GetHeldReservation(ctx, input.OrderID, input.ListingID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading reservation")
	}

	affected, err := repo.ReserveStock(ctx, input.ListingID, input.Quantity)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reserving stock")
	}
	if affected == 0 {
		if _, lookupErr := repo.GetStockUnit(ctx, input.ListingID); lookupErr != nil {
			if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing has no stock record")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, lookupErr, "loading stock unit")
		}
		return nil, pkgerrors.New(pkgerrors.CodeOutOfStock, "insufficient stock for listing")
	}

	reservation := &models.Reservation{
		OrderID:   input.OrderID,
		ListingID: input.ListingID,
		Quantity:  input.Quantity,
		Status:    enums.ReservationStatusHeld,
		ExpiresAt: time.Now().Add(input.TTL),
	}
	if err := repo.CreateReservation(ctx, reservation); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating reservation")
	}
	return reservation, nil
}

// Confirm commits a held reservation. Already-confirmed reservations are a
// no-op so payment retries stay idempotent; expired or released holds fail.
func (s *service) Confirm(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)

	affected, err := repo.TransitionReservation(ctx, reservationID, enums.ReservationStatusHeld, enums.ReservationStatusConfirmed)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "confirming reservation")
	}
	if affected == 0 {
		reservation, lookupErr := repo.GetReservation(ctx, reservationID)
		if lookupErr != nil {
			if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, lookupErr, "loading reservation")
		}
		switch reservation.Status {
		case enums.ReservationStatusConfirmed:
			return nil
		case enums.ReservationStatusExpired:
			return pkgerrors.New(pkgerrors.CodeExpired, "reservation has expired")
		default:
			return pkgerrors.New(pkgerrors.CodeStaleState, "reservation was released")
		}
	}

	reservation, err := repo.GetReservation(ctx, reservationID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading reservation")
	}
	if _, err := repo.CommitStock(ctx, reservation.ListingID, reservation.Quantity); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "committing stock")
	}
	return nil
}

// Release returns a held reservation's stock to the pool. Releasing a
// reservation that already left the held state is a no-op.
func (s *service) Release(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)

	affected, err := repo.TransitionReservation(ctx, reservationID, enums.ReservationStatusHeld, enums.ReservationStatusReleased)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "releasing reservation")
	}
	if affected == 0 {
		if _, lookupErr := repo.GetReservation(ctx, reservationID); lookupErr != nil {
			if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, lookupErr, "loading reservation")
		}
		return nil
	}

	reservation, err := repo.GetReservation(ctx, reservationID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading reservation")
	}
	if _, err := repo.ReleaseStock(ctx, reservation.ListingID, reservation.Quantity); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "returning stock")
	}
	return s.emitReleased(ctx, tx, reservation, false)
}

func (s *service) Availability(ctx context.Context, listingID uuid.UUID) (*StockLevel, error) {
	if listingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "listing id is required")
	}
	unit, err := s.repo.GetStockUnit(ctx, listingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing has no stock record")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading stock unit")
	}
	return &StockLevel{
		ListingID:        unit.ListingID,
		QuantityOnHand:   unit.QuantityOnHand,
		QuantityReserved: unit.QuantityReserved,
		Available:        unit.Available(),
	}, nil
}

// ExpireDue marks held reservations past their deadline as expired and
// returns their stock. Each reservation is processed in its own transaction
// so one failure does not abort the sweep.
func (s *service) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.repo.ListExpiredHeld(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing expired reservations")
	}

	expired := 0
	for _, reservation := range due {
		reservation := reservation
		err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			affected, terr := repo.TransitionReservation(ctx, reservation.ID, enums.ReservationStatusHeld, enums.ReservationStatusExpired)
			if terr != nil {
				return terr
			}
			if affected == 0 {
				// Lost the race to a confirm or release. Confirm wins.
				return nil
			}
			if _, terr := repo.ReleaseStock(ctx, reservation.ListingID, reservation.Quantity); terr != nil {
				return terr
			}
			expired++
			return s.emitReleased(ctx, tx, &reservation, true)
		})
		if err != nil {
			return expired, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "expiring reservation")
		}
	}
	return expired, nil
}

func (s *service) emitReleased(ctx context.Context, tx *gorm.DB, reservation *models.Reservation, expired bool) error {
	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReservationReleased,
		AggregateType: enums.AggregateReservation,
		AggregateID:   reservation.ID,
		Version:       1,
		Data: map[string]any{
			"reservation_id": reservation.ID,
			"order_id":       reservation.OrderID,
			"listing_id":     reservation.ListingID,
			"quantity":       reservation.Quantity,
			"expired":        expired,
		},
	})
}
