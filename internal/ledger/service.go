package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/pkg/db/models"
	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
	pkgerrors "github.com/tradepost-labs/tradepost-backend/pkg/errors"
	"github.com/tradepost-labs/tradepost-backend/pkg/outbox"
)

// Service records seller balance movements. Entries are append-only;
// corrections happen through offsetting entries, never edits.
type Service interface {
	RecordSettlement(ctx context.Context, tx *gorm.DB, input EntryInput) error
	RecordRefund(ctx context.Context, tx *gorm.DB, input EntryInput) error
	Balance(ctx context.Context, sellerID uuid.UUID) (decimal.Decimal, error)
	History(ctx context.Context, sellerID uuid.UUID) ([]models.LedgerEntry, error)
}

// EntryInput identifies the money movement being recorded.
type EntryInput struct {
	SellerID uuid.UUID
	OrderID  uuid.UUID
	IntentID uuid.UUID
	Amount   decimal.Decimal
	Currency enums.Currency
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type service struct {
	repo   Repository
	events outboxEmitter
}

// NewService wires the ledger service with its repository and outbox.
func NewService(repo Repository, events outboxEmitter) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{repo: repo, events: events}, nil
}

func (s *service) RecordSettlement(ctx context.Context, tx *gorm.DB, input EntryInput) error {
	return s.record(ctx, tx, enums.LedgerEntrySettlement, input)
}

func (s *service) RecordRefund(ctx context.Context, tx *gorm.DB, input EntryInput) error {
	return s.record(ctx, tx, enums.LedgerEntryRefund, input)
}

func (s *service) record(ctx context.Context, tx *gorm.DB, entryType enums.LedgerEntryType, input EntryInput) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if input.SellerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	if input.Amount.IsNegative() || input.Amount.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}

	entry := &models.LedgerEntry{
		SellerID:  input.SellerID,
		OrderID:   input.OrderID,
		IntentID:  input.IntentID,
		EntryType: entryType,
		Amount:    input.Amount,
		Currency:  currency,
	}
	if err := s.repo.WithTx(tx).Append(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "appending ledger entry")
	}

	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPayoutBalanceChanged,
		AggregateType: enums.AggregateSeller,
		AggregateID:   input.SellerID,
		Version:       1,
		Data: map[string]any{
			"seller_id":  input.SellerID,
			"order_id":   input.OrderID,
			"intent_id":  input.IntentID,
			"entry_type": entryType,
			"amount":     input.Amount,
			"currency":   currency,
		},
	})
}

// Balance sums the seller's ledger. Settlements credit, refunds debit.
func (s *service) Balance(ctx context.Context, sellerID uuid.UUID) (decimal.Decimal, error) {
	if sellerID == uuid.Nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	entries, err := s.repo.ListBySeller(ctx, sellerID)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading ledger entries")
	}

	balance := decimal.Zero
	for _, entry := range entries {
		switch entry.EntryType {
		case enums.LedgerEntrySettlement:
			balance = balance.Add(entry.Amount)
		case enums.LedgerEntryRefund:
			balance = balance.Sub(entry.Amount)
		}
	}
	return balance, nil
}

func (s *service) History(ctx context.Context, sellerID uuid.UUID) ([]models.LedgerEntry, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	entries, err := s.repo.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading ledger entries")
	}
	return entries, nil
}
