// services/premium_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"cora-insurance-service/ledger"
	"cora-insurance-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PremiumService is the escrow side of the house: it owns payment records and
// the premium-confirmation path that activates and renews policies. A payment
// is Submitted on the way out and becomes Confirmed or Failed only when the
// reconciliation poller has resolved its transaction.
type PremiumService struct {
	DB            *gorm.DB
	Submitter     *ledger.Submitter
	Poller        *ledger.Poller
	Policies      *PolicyService
	ModuleAddress string

	bg context.Context
}

func NewPremiumService(bg context.Context, db *gorm.DB, submitter *ledger.Submitter, poller *ledger.Poller, policies *PolicyService, moduleAddress string) *PremiumService {
	return &PremiumService{
		DB:            db,
		Submitter:     submitter,
		Poller:        poller,
		Policies:      policies,
		ModuleAddress: moduleAddress,
		bg:            bg,
	}
}

// openPeriod returns the next unpaid period index for a policy: the count of
// confirmed payments. The at-most-one-Confirmed-per-period invariant makes
// this stable.
func (s *PremiumService) openPeriod(policyID string) (int, error) {
	var confirmed int64
	err := s.DB.Model(&models.PremiumPayment{}).
		Where("policy_id = ? AND status = ?", policyID, models.PaymentStatusConfirmed).
		Count(&confirmed).Error
	return int(confirmed), err
}

// Pay submits the premium for the policy's open period. The amount must match
// the policy's premium exactly; a period that already has a Confirmed payment
// is a conflict; a Submitted payment still in flight for the period is
// returned as-is rather than duplicated (the submitter's idempotency key
// would replay the same transaction anyway).
func (s *PremiumService) Pay(ctx context.Context, policyID string, amount int64) (*models.PremiumPayment, error) {
	var policy models.Policy
	if err := s.DB.First(&policy, "id = ?", policyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: policy %s", models.ErrNotFound, policyID)
		}
		return nil, err
	}
	if policy.Status.Terminal() {
		return nil, fmt.Errorf("%w: policy %s is %s and no longer accepts premiums", models.ErrValidation, policyID, policy.Status)
	}

	period, err := s.openPeriod(policyID)
	if err != nil {
		return nil, err
	}

	// An Active policy whose stored due date is still in the future has its
	// current period paid; re-paying it is the double-submission case.
	if policy.Status == models.PolicyStatusActive && time.Now().UTC().Before(policy.NextDueDate) {
		return nil, fmt.Errorf("%w: premium for the current period is already paid, next due %s",
			models.ErrConflict, policy.NextDueDate.Format(time.RFC3339))
	}

	if amount != policy.PremiumAmount {
		return nil, fmt.Errorf("%w: expected %d for period %d, got %d", models.ErrAmountMismatch, policy.PremiumAmount, period, amount)
	}

	var existing models.PremiumPayment
	err = s.DB.Where("policy_id = ? AND period_index = ? AND status = ?",
		policyID, period, models.PaymentStatusConfirmed).First(&existing).Error
	if err == nil {
		return nil, fmt.Errorf("%w: period %d of policy %s is already paid", models.ErrConflict, period, policyID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = s.DB.Where("policy_id = ? AND period_index = ? AND status = ?",
		policyID, period, models.PaymentStatusSubmitted).First(&existing).Error
	if err == nil {
		log.Printf("↩️  [PREMIUM] payment for policy %s period %d already in flight (%s)", policyID, period, existing.TxHash)
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	payload := ledger.Payload{
		Function: fmt.Sprintf("%s::premium_escrow::pay_premium", s.ModuleAddress),
		Sender:   policy.PolicyholderAddress,
		Arguments: []any{
			policyID,
			amount,
			period,
		},
	}
	res, err := s.Submitter.Submit(ctx, payload, ledger.IdempotencyKey("pay_premium", policyID, period))
	if err != nil {
		return nil, err
	}

	payment := models.PremiumPayment{
		ID:          uuid.NewString(),
		PolicyID:    policyID,
		Amount:      amount,
		PeriodIndex: period,
		Status:      models.PaymentStatusSubmitted,
		TxHash:      res.Hash,
	}
	if err := s.DB.Create(&payment).Error; err != nil {
		return nil, fmt.Errorf("failed to persist payment: %w", err)
	}
	log.Printf("💰 [PREMIUM] submitted %d for policy %s period %d (tx %s)", amount, policyID, period, res.Hash)

	go func() {
		if _, err := s.ConfirmPayment(s.bg, payment.ID); err != nil {
			log.Printf("⚠️  [PREMIUM] payment %s unresolved: %v", payment.ID, err)
		}
	}()

	return &payment, nil
}

// ConfirmPayment drives a Submitted payment to its final state. It is safe to
// call repeatedly: an already-final payment is returned unchanged, and the
// status flip is compare-and-set so a racing confirmation loses cleanly.
// On timeout the payment stays Submitted and the error wraps
// models.ErrTimeout so callers can distinguish it from failure. This is also
// the manual re-poll path and the restart-recovery path.
func (s *PremiumService) ConfirmPayment(ctx context.Context, paymentID string) (models.PaymentStatus, error) {
	var payment models.PremiumPayment
	if err := s.DB.First(&payment, "id = ?", paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: payment %s", models.ErrNotFound, paymentID)
		}
		return "", err
	}
	if payment.Status != models.PaymentStatusSubmitted {
		return payment.Status, nil
	}

	outcome := s.Poller.AwaitConfirmation(ctx, payment.TxHash, 0)
	switch outcome {
	case ledger.OutcomeConfirmed:
		// The status flip, the activation and the due-date advance commit
		// together: a crash can never leave a Confirmed period-0 payment
		// next to a still-Pending policy.
		raced := false
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.PremiumPayment{}).
				Where("id = ? AND status = ?", payment.ID, models.PaymentStatusSubmitted).
				Update("status", models.PaymentStatusConfirmed)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				raced = true
				return nil
			}
			if payment.PeriodIndex == 0 {
				if err := s.Policies.activate(tx, payment.PolicyID, payment.TxHash); err != nil {
					return err
				}
			}
			return s.Policies.advanceDueDate(tx, payment.PolicyID, payment.PeriodIndex)
		})
		if err != nil {
			log.Printf("❌ [PREMIUM] failed to commit confirmation of payment %s: %v", payment.ID, err)
			return payment.Status, err
		}
		if raced {
			// Another poller got here first; report whatever it decided.
			if err := s.DB.First(&payment, "id = ?", paymentID).Error; err != nil {
				return "", err
			}
			return payment.Status, nil
		}
		log.Printf("✅ [PREMIUM] payment %s confirmed (policy %s period %d)", payment.ID, payment.PolicyID, payment.PeriodIndex)
		return models.PaymentStatusConfirmed, nil

	case ledger.OutcomeFailed:
		res := s.DB.Model(&models.PremiumPayment{}).
			Where("id = ? AND status = ?", payment.ID, models.PaymentStatusSubmitted).
			Update("status", models.PaymentStatusFailed)
		if res.Error != nil {
			return payment.Status, res.Error
		}
		log.Printf("❌ [PREMIUM] payment %s failed on-chain, policy %s unchanged", payment.ID, payment.PolicyID)
		return models.PaymentStatusFailed, nil

	default:
		// Still unconfirmed. Leave it Submitted; a later re-poll can resolve it.
		return models.PaymentStatusSubmitted, fmt.Errorf("%w: payment %s", models.ErrTimeout, payment.ID)
	}
}

// Get returns a payment record.
func (s *PremiumService) Get(paymentID string) (*models.PremiumPayment, error) {
	var payment models.PremiumPayment
	if err := s.DB.First(&payment, "id = ?", paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: payment %s", models.ErrNotFound, paymentID)
		}
		return nil, err
	}
	return &payment, nil
}

// StaleSubmitted lists payments that have sat unconfirmed longer than age.
// The scheduler logs these so an operator can re-poll or investigate.
func (s *PremiumService) StaleSubmitted(age time.Duration) ([]models.PremiumPayment, error) {
	var payments []models.PremiumPayment
	cutoff := time.Now().UTC().Add(-age)
	err := s.DB.Where("status = ? AND created_at < ?", models.PaymentStatusSubmitted, cutoff).
		Find(&payments).Error
	return payments, err
}
