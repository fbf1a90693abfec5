package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/internal/inventory"
	"github.com/tradepost-labs/tradepost-backend/internal/listings"
	"github.com/tradepost-labs/tradepost-backend/internal/payments"
	"github.com/tradepost-labs/tradepost-backend/pkg/config"
	"github.com/tradepost-labs/tradepost-backend/pkg/db/models"
	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
	pkgerrors "github.com/tradepost-labs/tradepost-backend/pkg/errors"
	"github.com/tradepost-labs/tradepost-backend/pkg/outbox"
)

// Service is the checkout entry point: it creates the order, its stock
// holds, and the payment intent in one transaction. Any failure rolls the
// whole attempt back, so a failed checkout leaves nothing behind.
type Service interface {
	Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error)
}

// CheckoutInput is the buyer's order draft.
type CheckoutInput struct {
	BuyerID        uuid.UUID
	IdempotencyKey string
	Method         enums.PaymentMethod
	Items          []LineInput
}

// LineInput is one listing purchase within the draft.
type LineInput struct {
	ListingID uuid.UUID
	Quantity  int
}

// CheckoutResult identifies the created order and payment intent.
type CheckoutResult struct {
	OrderID  uuid.UUID           `json:"order_id"`
	IntentID uuid.UUID           `json:"payment_intent_id"`
	Amount   decimal.Decimal     `json:"amount"`
	Currency enums.Currency      `json:"currency"`
	Status   enums.OrderStatus   `json:"status"`
	Method   enums.PaymentMethod `json:"method"`
}

type orderCreator interface {
	Create(ctx context.Context, tx *gorm.DB, order *models.Order) error
}

type stockReserver interface {
	Reserve(ctx context.Context, tx *gorm.DB, input inventory.ReserveInput) (*models.Reservation, error)
}

type intentCreator interface {
	CreateIntent(ctx context.Context, tx *gorm.DB, input payments.CreateIntentInput) (*models.PaymentIntent, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type service struct {
	listings listings.Repository
	orders   orderCreator
	stock    stockReserver
	intents  intentCreator
	runner   txRunner
	events   outboxEmitter
	cfg      config.CheckoutConfig
}

// NewService wires the checkout orchestrator.
func NewService(listingRepo listings.Repository, orders orderCreator, stock stockReserver, intents intentCreator, runner txRunner, events outboxEmitter, cfg config.CheckoutConfig) (Service, error) {
	if listingRepo == nil {
		return nil, fmt.Errorf("listing repository required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	if stock == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if intents == nil {
		return nil, fmt.Errorf("payment service required")
	}
	if runner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if cfg.ReservationTTL <= 0 {
		return nil, fmt.Errorf("reservation ttl must be positive")
	}
	return &service{
		listings: listingRepo,
		orders:   orders,
		stock:    stock,
		intents:  intents,
		runner:   runner,
		events:   events,
		cfg:      cfg,
	}, nil
}

func (s *service) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	if input.IdempotencyKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	// A draft may name the same listing more than once; collapse those into
	// one line so each (order, listing) pair ends up with a single hold.
	items := make([]LineInput, 0, len(input.Items))
	seen := make(map[uuid.UUID]int, len(input.Items))
	for _, item := range input.Items {
		if item.ListingID == uuid.Nil || item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "each item needs a listing and a positive quantity")
		}
		if at, ok := seen[item.ListingID]; ok {
			items[at].Quantity += item.Quantity
			continue
		}
		seen[item.ListingID] = len(items)
		items = append(items, item)
	}
	method := input.Method
	if method == "" {
		method = enums.PaymentMethodCard
	}
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method")
	}

	var result *CheckoutResult
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		listingRepo := s.listings.WithTx(tx)

		var (
			sellerID  uuid.UUID
			currency  enums.Currency
			total     = decimal.Zero
			lineItems = make([]models.OrderLineItem, 0, len(items))
		)
		for _, item := range items {
			listing, err := listingRepo.GetByID(ctx, item.ListingID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading listing")
			}
			if listing.Status != enums.ListingStatusActive {
				return pkgerrors.New(pkgerrors.CodeConflict, "listing is no longer available")
			}
			if sellerID == uuid.Nil {
				sellerID = listing.SellerID
				currency = listing.Currency
			}
			if listing.SellerID != sellerID {
				return pkgerrors.New(pkgerrors.CodeValidation, "all items must belong to one seller")
			}
			if listing.Currency != currency {
				return pkgerrors.New(pkgerrors.CodeValidation, "all items must share one currency")
			}
			if listing.SellerID == input.BuyerID {
				return pkgerrors.New(pkgerrors.CodeValidation, "sellers cannot buy their own listings")
			}

			// Snapshot the price at checkout time.
			total = total.Add(listing.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
			lineItems = append(lineItems, models.OrderLineItem{
				ListingID: listing.ID,
				Quantity:  item.Quantity,
				UnitPrice: listing.Price,
			})
		}

		order := &models.Order{
			BuyerID:     input.BuyerID,
			SellerID:    sellerID,
			TotalAmount: total,
			Currency:    currency,
			LineItems:   lineItems,
		}
		if err := s.orders.Create(ctx, tx, order); err != nil {
			return err
		}

		for _, item := range items {
			if _, err := s.stock.Reserve(ctx, tx, inventory.ReserveInput{
				OrderID:   order.ID,
				ListingID: item.ListingID,
				Quantity:  item.Quantity,
				TTL:       s.cfg.ReservationTTL,
			}); err != nil {
				return err
			}
		}

		intent, err := s.intents.CreateIntent(ctx, tx, payments.CreateIntentInput{
			OrderID:        order.ID,
			IdempotencyKey: input.IdempotencyKey,
			Method:         method,
			Amount:         total,
			Currency:       currency,
		})
		if err != nil {
			return err
		}

		if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{ActorID: input.BuyerID, Role: enums.ActorRoleBuyer},
			Version:       1,
			Data: map[string]any{
				"order_id":  order.ID,
				"buyer_id":  order.BuyerID,
				"seller_id": order.SellerID,
				"intent_id": intent.ID,
				"amount":    total,
				"currency":  currency,
			},
		}); err != nil {
			return err
		}

		result = &CheckoutResult{
			OrderID:  order.ID,
			IntentID: intent.ID,
			Amount:   total,
			Currency: currency,
			Status:   order.Status,
			Method:   method,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
