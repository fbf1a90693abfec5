package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/internal/ledger"
	"github.com/tradepost-labs/tradepost-backend/pkg/db"
	"github.com/tradepost-labs/tradepost-backend/pkg/db/models"
	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
	pkgerrors "github.com/tradepost-labs/tradepost-backend/pkg/errors"
	"github.com/tradepost-labs/tradepost-backend/pkg/outbox"
	"github.com/tradepost-labs/tradepost-backend/pkg/square"
)

// Provider event types the settlement pipeline understands.
const (
	EventTypeSucceeded = "payment.succeeded"
	EventTypeFailed    = "payment.failed"
	EventTypeRefunded  = "payment.refunded"
)

// Service owns payment intents from creation through settlement or refund.
type Service interface {
	CreateIntent(ctx context.Context, tx *gorm.DB, input CreateIntentInput) (*models.PaymentIntent, error)
	GetIntent(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	Confirm(ctx context.Context, intentID uuid.UUID, sourceID string) (*models.PaymentIntent, error)
	ApplyProviderEvent(ctx context.Context, input ProviderEventInput) error
	Refund(ctx context.Context, intentID uuid.UUID, actor *outbox.ActorRef, reason string) error
	ReconcileStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// CreateIntentInput describes one collection attempt against an order.
type CreateIntentInput struct {
	OrderID        uuid.UUID
	IdempotencyKey string
	Method         enums.PaymentMethod
	Amount         decimal.Decimal
	Currency       enums.Currency
}

// ProviderEventInput is a normalized provider notification. Either IntentID
// or ProviderRef must identify the intent.
type ProviderEventInput struct {
	ProviderEventID string
	EventType       string
	IntentID        uuid.UUID
	ProviderRef     string
	FailureReason   string
	Payload         json.RawMessage
}

type orderService interface {
	OnPaymentSucceeded(ctx context.Context, tx *gorm.DB, orderID, intentID uuid.UUID) error
	OnPaymentFailed(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) error
}

type ledgerRecorder interface {
	RecordSettlement(ctx context.Context, tx *gorm.DB, input ledger.EntryInput) error
	RecordRefund(ctx context.Context, tx *gorm.DB, input ledger.EntryInput) error
}

type paymentProvider interface {
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
	RefundPayment(ctx context.Context, params square.PaymentRefundParams) (*sq.PaymentRefund, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type service struct {
	repo     Repository
	orders   orderService
	ledgers  ledgerRecorder
	provider paymentProvider
	runner   txRunner
	events   outboxEmitter
}

// NewService wires the payment service with its collaborators. The provider
// may be nil when running without an upstream processor; Confirm, Refund, and
// ReconcileStale then reject with a dependency error.
func NewService(repo Repository, orders orderService, ledgers ledgerRecorder, provider paymentProvider, runner txRunner, events outboxEmitter) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payment repository required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	if ledgers == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if runner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		repo:     repo,
		orders:   orders,
		ledgers:  ledgers,
		provider: provider,
		runner:   runner,
		events:   events,
	}, nil
}

// CreateIntent is replay-safe: the same (order, idempotency key) pair always
// returns the same intent, and an order can hold at most one open intent.
func (s *service) CreateIntent(ctx context.Context, tx *gorm.DB, input CreateIntentInput) (*models.PaymentIntent, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method")
	}
	if input.Amount.IsNegative() || input.Amount.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}

	repo := s.repo.WithTx(tx)

	existing, err := repo.GetIntentByOrderAndKey(ctx, input.OrderID, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment intent")
	}

	open, err := repo.FindOpenIntentByOrder(ctx, input.OrderID)
	if err == nil && open.IdempotencyKey != key {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already has an open payment intent")
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading open payment intent")
	}

	intent := &models.PaymentIntent{
		OrderID:        input.OrderID,
		IdempotencyKey: key,
		Status:         enums.PaymentIntentStatusCreated,
		Method:         input.Method,
		Amount:         input.Amount,
		Currency:       currency,
	}
	if err := repo.CreateIntent(ctx, intent); err != nil {
		// A concurrent replay with the same key won the insert race.
		if db.IsUniqueViolation(err, "ux_payment_intents_order_idem") {
			return repo.GetIntentByOrderAndKey(ctx, input.OrderID, key)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating payment intent")
	}
	return intent, nil
}

func (s *service) GetIntent(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	intent, err := s.repo.GetIntent(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment intent")
	}
	return intent, nil
}

// Confirm submits the charge to the provider. Settlement is recorded later,
// when the provider's webhook or the reconciliation poll reports the outcome.
func (s *service) Confirm(ctx context.Context, intentID uuid.UUID, sourceID string) (*models.PaymentIntent, error) {
	if s.provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment provider not configured")
	}
	intent, err := s.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status == enums.PaymentIntentStatusPendingConfirmation {
		return intent, nil
	}
	if intent.Status != enums.PaymentIntentStatusCreated {
		return nil, pkgerrors.New(pkgerrors.CodeIllegalTransition,
			fmt.Sprintf("cannot confirm intent in status %s", intent.Status))
	}

	payment, err := s.provider.CreatePayment(ctx, square.PaymentCreateParams{
		AmountCents:    amountCents(intent.Amount),
		Currency:       string(intent.Currency),
		SourceID:       sourceID,
		IdempotencyKey: intent.ID.String(),
		ReferenceID:    intent.OrderID.String(),
	})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodePaymentFailed) {
			if failErr := s.markFailed(ctx, intent, err.Error()); failErr != nil {
				return nil, failErr
			}
		}
		return nil, err
	}

	providerRef := ""
	if id := payment.GetID(); id != nil {
		providerRef = *id
	}
	affected, err := s.repo.TransitionIntent(ctx, intent.ID,
		[]enums.PaymentIntentStatus{enums.PaymentIntentStatusCreated},
		enums.PaymentIntentStatusPendingConfirmation,
		map[string]any{"provider_ref": providerRef})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating payment intent")
	}
	if affected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStaleState, "payment intent changed concurrently, retry")
	}
	return s.GetIntent(ctx, intentID)
}

// ApplyProviderEvent records the notification and applies its outcome once.
// The unique provider event id makes redelivery a no-op.
func (s *service) ApplyProviderEvent(ctx context.Context, input ProviderEventInput) error {
	if strings.TrimSpace(input.ProviderEventID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider event id is required")
	}

	return s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		intent, err := s.resolveIntent(ctx, repo, input)
		if err != nil {
			return err
		}

		event := &models.PaymentEvent{
			IntentID:        intent.ID,
			ProviderEventID: input.ProviderEventID,
			EventType:       input.EventType,
			Payload:         input.Payload,
		}
		if err := repo.InsertEvent(ctx, event); err != nil {
			if db.IsUniqueViolation(err, "") {
				// Redelivered event, already applied.
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording provider event")
		}

		switch input.EventType {
		case EventTypeSucceeded:
			return s.applySucceeded(ctx, tx, repo, intent)
		case EventTypeFailed:
			return s.applyFailed(ctx, tx, repo, intent, input.FailureReason)
		case EventTypeRefunded:
			return s.applyRefunded(ctx, tx, repo, intent, nil)
		default:
			// Unknown event types are journaled but change nothing.
			return nil
		}
	})
}

func (s *service) resolveIntent(ctx context.Context, repo Repository, input ProviderEventInput) (*models.PaymentIntent, error) {
	var (
		intent *models.PaymentIntent
		err    error
	)
	if input.IntentID != uuid.Nil {
		intent, err = repo.GetIntent(ctx, input.IntentID)
	} else if strings.TrimSpace(input.ProviderRef) != "" {
		intent, err = repo.GetIntentByProviderRef(ctx, input.ProviderRef)
	} else {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event does not identify a payment intent")
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found for event")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolving payment intent")
	}
	return intent, nil
}

func (s *service) applySucceeded(ctx context.Context, tx *gorm.DB, repo Repository, intent *models.PaymentIntent) error {
	now := time.Now()
	affected, err := repo.TransitionIntent(ctx, intent.ID,
		[]enums.PaymentIntentStatus{enums.PaymentIntentStatusCreated, enums.PaymentIntentStatusPendingConfirmation},
		enums.PaymentIntentStatusSucceeded,
		map[string]any{"settled_at": now})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "settling payment intent")
	}
	if affected == 0 {
		current, lookupErr := repo.GetIntent(ctx, intent.ID)
		if lookupErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, lookupErr, "reloading payment intent")
		}
		switch current.Status {
		case enums.PaymentIntentStatusSucceeded, enums.PaymentIntentStatusRefunded:
			return nil
		default:
			return pkgerrors.New(pkgerrors.CodeIllegalTransition,
				fmt.Sprintf("cannot settle intent in status %s", current.Status))
		}
	}

	order, err := repo.GetOrder(ctx, intent.OrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	if err := s.orders.OnPaymentSucceeded(ctx, tx, intent.OrderID, intent.ID); err != nil {
		return err
	}
	if err := s.ledgers.RecordSettlement(ctx, tx, ledger.EntryInput{
		SellerID: order.SellerID,
		OrderID:  intent.OrderID,
		IntentID: intent.ID,
		Amount:   intent.Amount,
		Currency: intent.Currency,
	}); err != nil {
		return err
	}
	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentSettled,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   intent.ID,
		Version:       1,
		Data: map[string]any{
			"intent_id": intent.ID,
			"order_id":  intent.OrderID,
			"seller_id": order.SellerID,
			"amount":    intent.Amount,
			"currency":  intent.Currency,
		},
	})
}

func (s *service) applyFailed(ctx context.Context, tx *gorm.DB, repo Repository, intent *models.PaymentIntent, reason string) error {
	affected, err := repo.TransitionIntent(ctx, intent.ID,
		[]enums.PaymentIntentStatus{enums.PaymentIntentStatusCreated, enums.PaymentIntentStatusPendingConfirmation},
		enums.PaymentIntentStatusFailed,
		map[string]any{"failure_reason": reason})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failing payment intent")
	}
	if affected == 0 {
		current, lookupErr := repo.GetIntent(ctx, intent.ID)
		if lookupErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, lookupErr, "reloading payment intent")
		}
		if current.Status == enums.PaymentIntentStatusFailed {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeIllegalTransition,
			fmt.Sprintf("cannot fail intent in status %s", current.Status))
	}

	if err := s.orders.OnPaymentFailed(ctx, tx, intent.OrderID, reason); err != nil {
		return err
	}
	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentFailed,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   intent.ID,
		Version:       1,
		Data: map[string]any{
			"intent_id": intent.ID,
			"order_id":  intent.OrderID,
			"reason":    reason,
		},
	})
}

func (s *service) applyRefunded(ctx context.Context, tx *gorm.DB, repo Repository, intent *models.PaymentIntent, actor *outbox.ActorRef) error {
	affected, err := repo.TransitionIntent(ctx, intent.ID,
		[]enums.PaymentIntentStatus{enums.PaymentIntentStatusSucceeded},
		enums.PaymentIntentStatusRefunded, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "refunding payment intent")
	}
	if affected == 0 {
		current, lookupErr := repo.GetIntent(ctx, intent.ID)
		if lookupErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, lookupErr, "reloading payment intent")
		}
		if current.Status == enums.PaymentIntentStatusRefunded {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeIllegalTransition, "only settled payments can be refunded")
	}

	order, err := repo.GetOrder(ctx, intent.OrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	if err := s.ledgers.RecordRefund(ctx, tx, ledger.EntryInput{
		SellerID: order.SellerID,
		OrderID:  intent.OrderID,
		IntentID: intent.ID,
		Amount:   intent.Amount,
		Currency: intent.Currency,
	}); err != nil {
		return err
	}
	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentRefunded,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   intent.ID,
		Actor:         actor,
		Version:       1,
		Data: map[string]any{
			"intent_id": intent.ID,
			"order_id":  intent.OrderID,
			"seller_id": order.SellerID,
			"amount":    intent.Amount,
			"currency":  intent.Currency,
		},
	})
}

// Refund reverses a settled payment through the provider and debits the
// seller's ledger. Refunding twice is a no-op.
func (s *service) Refund(ctx context.Context, intentID uuid.UUID, actor *outbox.ActorRef, reason string) error {
	intent, err := s.GetIntent(ctx, intentID)
	if err != nil {
		return err
	}
	if intent.Status == enums.PaymentIntentStatusRefunded {
		return nil
	}
	if intent.Status != enums.PaymentIntentStatusSucceeded {
		return pkgerrors.New(pkgerrors.CodeIllegalTransition, "only settled payments can be refunded")
	}

	if s.provider != nil && intent.ProviderRef != "" {
		if _, err := s.provider.RefundPayment(ctx, square.PaymentRefundParams{
			PaymentID:      intent.ProviderRef,
			AmountCents:    amountCents(intent.Amount),
			Currency:       string(intent.Currency),
			Reason:         reason,
			IdempotencyKey: fmt.Sprintf("refund-%s", intent.ID),
		}); err != nil {
			return err
		}
	}

	return s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		return s.applyRefunded(ctx, tx, s.repo.WithTx(tx), intent, actor)
	})
}

// ReconcileStale polls the provider for intents stuck in pending
// confirmation, typically because a webhook never arrived. The synthetic
// provider event id keeps replays idempotent across poll cycles.
func (s *service) ReconcileStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if s.provider == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "payment provider not configured")
	}
	stale, err := s.repo.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing stale payment intents")
	}

	applied := 0
	for _, intent := range stale {
		if intent.ProviderRef == "" {
			continue
		}

		var payment *sq.Payment
		backoff := retry.WithMaxRetries(3, retry.NewExponential(250*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			p, perr := s.provider.GetPayment(ctx, intent.ProviderRef)
			if perr != nil {
				if pkgerrors.HasCode(perr, pkgerrors.CodeDependency) || pkgerrors.HasCode(perr, pkgerrors.CodeRateLimit) {
					return retry.RetryableError(perr)
				}
				return perr
			}
			payment = p
			return nil
		})
		if err != nil {
			return applied, err
		}

		status := ""
		if raw := payment.GetStatus(); raw != nil {
			status = strings.ToUpper(*raw)
		}

		var eventType string
		switch status {
		case "COMPLETED":
			eventType = EventTypeSucceeded
		case "FAILED", "CANCELED":
			eventType = EventTypeFailed
		default:
			continue
		}

		err = s.ApplyProviderEvent(ctx, ProviderEventInput{
			ProviderEventID: fmt.Sprintf("reconcile:%s:%s", intent.ProviderRef, strings.ToLower(status)),
			EventType:       eventType,
			IntentID:        intent.ID,
			FailureReason:   fmt.Sprintf("provider reported %s", strings.ToLower(status)),
		})
		if err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func (s *service) markFailed(ctx context.Context, intent *models.PaymentIntent, reason string) error {
	return s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		return s.applyFailed(ctx, tx, s.repo.WithTx(tx), intent, reason)
	})
}

func amountCents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).IntPart()
}
