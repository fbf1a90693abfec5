package payouts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradepost-labs/tradepost-backend/pkg/config"
	"github.com/tradepost-labs/tradepost-backend/pkg/db/models"
	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
	pkgerrors "github.com/tradepost-labs/tradepost-backend/pkg/errors"
	"github.com/tradepost-labs/tradepost-backend/pkg/outbox"
	"github.com/tradepost-labs/tradepost-backend/pkg/security"
)

const cooldownScope = "payout_code"

// Service manages seller payout destinations and their verification flow.
type Service interface {
	AddMethod(ctx context.Context, input AddMethodInput) (*models.PayoutMethod, error)
	ListMethods(ctx context.Context, sellerID uuid.UUID) ([]models.PayoutMethod, error)
	SetDefault(ctx context.Context, sellerID, methodID uuid.UUID) error
	DeleteMethod(ctx context.Context, sellerID, methodID uuid.UUID) error

	SendVerificationCode(ctx context.Context, sellerID, methodID uuid.UUID) (string, error)
	VerifyCode(ctx context.Context, sellerID, methodID uuid.UUID, code string) error
}

// AddMethodInput captures a new payout destination.
type AddMethodInput struct {
	SellerID    uuid.UUID
	Type        enums.PayoutMethodType
	DisplayName string
	AccountRef  string
}

type cooldowner interface {
	AcquireCooldown(ctx context.Context, scope, id string, window time.Duration) (bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type service struct {
	repo      Repository
	runner    txRunner
	events    outboxEmitter
	cooldowns cooldowner
	cfg       config.PayoutConfig
}

// NewService wires the payout service. The cooldown store may be nil; the
// resend window is then enforced from the persisted send timestamp alone.
func NewService(repo Repository, runner txRunner, events outboxEmitter, cooldowns cooldowner, cfg config.PayoutConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payout repository required")
	}
	if runner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if cfg.CodeTTL <= 0 {
		return nil, fmt.Errorf("payout code ttl must be positive")
	}
	return &service{
		repo:      repo,
		runner:    runner,
		events:    events,
		cooldowns: cooldowns,
		cfg:       cfg,
	}, nil
}

// AddMethod registers a destination. The seller's first method becomes the
// default automatically.
func (s *service) AddMethod(ctx context.Context, input AddMethodInput) (*models.PayoutMethod, error) {
	if input.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payout method type")
	}
	if strings.TrimSpace(input.AccountRef) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account reference is required")
	}

	method := &models.PayoutMethod{
		SellerID:          input.SellerID,
		Type:              input.Type,
		DisplayName:       strings.TrimSpace(input.DisplayName),
		AccountRef:        strings.TrimSpace(input.AccountRef),
		VerificationState: enums.PayoutVerificationUnverified,
	}
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		count, err := repo.CountBySeller(ctx, input.SellerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "counting payout methods")
		}
		method.IsDefault = count == 0
		if err := repo.Create(ctx, method); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating payout method")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return method, nil
}

func (s *service) ListMethods(ctx context.Context, sellerID uuid.UUID) ([]models.PayoutMethod, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	rows, err := s.repo.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing payout methods")
	}
	return rows, nil
}

// SetDefault makes the method the seller's single default destination.
func (s *service) SetDefault(ctx context.Context, sellerID, methodID uuid.UUID) error {
	return s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		method, err := s.ownedMethod(ctx, repo, sellerID, methodID)
		if err != nil {
			return err
		}
		if method.IsDefault {
			return nil
		}
		if err := repo.ClearDefault(ctx, sellerID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clearing default payout method")
		}
		if _, err := repo.Update(ctx, methodID, map[string]any{"is_default": true}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "setting default payout method")
		}
		return nil
	})
}

// DeleteMethod removes a destination. Deleting the default promotes the most
// recently added remaining method.
func (s *service) DeleteMethod(ctx context.Context, sellerID, methodID uuid.UUID) error {
	return s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		method, err := s.ownedMethod(ctx, repo, sellerID, methodID)
		if err != nil {
			return err
		}
		if err := repo.Delete(ctx, methodID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deleting payout method")
		}
		if !method.IsDefault {
			return nil
		}
		next, err := repo.LatestBySeller(ctx, sellerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "finding replacement default")
		}
		if _, err := repo.Update(ctx, next.ID, map[string]any{"is_default": true}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "promoting default payout method")
		}
		return nil
	})
}

// SendVerificationCode issues a fresh 6-digit code for the method. Only the
// argon2id hash is stored; the plaintext is returned once for handoff to the
// delivery channel and is never persisted or published. Sending again before
// the cooldown elapses is rejected; sending after it invalidates the
// previous code.
func (s *service) SendVerificationCode(ctx context.Context, sellerID, methodID uuid.UUID) (string, error) {
	method, err := s.ownedMethod(ctx, s.repo, sellerID, methodID)
	if err != nil {
		return "", err
	}
	if method.VerificationState == enums.PayoutVerificationVerified {
		return "", pkgerrors.New(pkgerrors.CodeAlreadyVerified, "payout method already verified")
	}

	now := time.Now()
	if method.CodeSentAt != nil && now.Sub(*method.CodeSentAt) < s.cfg.ResendCooldown {
		return "", pkgerrors.New(pkgerrors.CodeRateLimit, "verification code was sent recently, wait before retrying")
	}
	if s.cooldowns != nil {
		acquired, err := s.cooldowns.AcquireCooldown(ctx, cooldownScope, methodID.String(), s.cfg.ResendCooldown)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquiring resend cooldown")
		}
		if !acquired {
			return "", pkgerrors.New(pkgerrors.CodeRateLimit, "verification code was sent recently, wait before retrying")
		}
	}

	code, err := security.GenerateVerificationCode()
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generating verification code")
	}
	hash, err := security.HashVerificationCode(code)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hashing verification code")
	}
	expiresAt := now.Add(s.cfg.CodeTTL)

	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.Update(ctx, methodID, map[string]any{
			"verification_state": enums.PayoutVerificationCodeSent,
			"code_hash":          hash,
			"code_expires_at":    expiresAt,
			"code_sent_at":       now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "storing verification code")
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutVerificationRequested,
			AggregateType: enums.AggregatePayoutMethod,
			AggregateID:   methodID,
			Version:       1,
			Data: map[string]any{
				"payout_method_id": methodID,
				"seller_id":        sellerID,
				"expires_at":       expiresAt,
			},
		})
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// VerifyCode checks the submitted code against the stored hash.
func (s *service) VerifyCode(ctx context.Context, sellerID, methodID uuid.UUID, code string) error {
	method, err := s.ownedMethod(ctx, s.repo, sellerID, methodID)
	if err != nil {
		return err
	}
	if method.VerificationState == enums.PayoutVerificationVerified {
		return pkgerrors.New(pkgerrors.CodeAlreadyVerified, "payout method already verified")
	}
	if method.CodeHash == "" || method.CodeExpiresAt == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "no verification code outstanding")
	}
	if time.Now().After(*method.CodeExpiresAt) {
		return pkgerrors.New(pkgerrors.CodeExpired, "verification code has expired")
	}

	ok, err := security.VerifyVerificationCode(code, method.CodeHash)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking verification code")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeMismatch, "verification code does not match")
	}

	affected, err := s.repo.MarkVerified(ctx, methodID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking payout method verified")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeAlreadyVerified, "payout method already verified")
	}
	return nil
}

func (s *service) ownedMethod(ctx context.Context, repo Repository, sellerID, methodID uuid.UUID) (*models.PayoutMethod, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	method, err := repo.GetByID(ctx, methodID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout method not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payout method")
	}
	if method.SellerID != sellerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payout method belongs to another seller")
	}
	return method, nil
}
