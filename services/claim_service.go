// services/claim_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"cora-insurance-service/ledger"
	"cora-insurance-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ClaimService owns claim records and the Pending → Verified → Paid /
// Rejected state machine. Verification and payout are admin-gated and commit
// only after their ledger transactions confirm; the coverage invariant
// (sum of Paid claims never exceeds the policy's coverage) is checked both
// at filing and again when a payout commits.
type ClaimService struct {
	DB            *gorm.DB
	Submitter     *ledger.Submitter
	Poller        *ledger.Poller
	ModuleAddress string
	AdminAddress  string

	bg context.Context
}

func NewClaimService(bg context.Context, db *gorm.DB, submitter *ledger.Submitter, poller *ledger.Poller, moduleAddress, adminAddress string) *ClaimService {
	return &ClaimService{
		DB:            db,
		Submitter:     submitter,
		Poller:        poller,
		ModuleAddress: moduleAddress,
		AdminAddress:  adminAddress,
		bg:            bg,
	}
}

func (s *ClaimService) requireAdmin(caller string) error {
	if caller == "" || caller != s.AdminAddress {
		return fmt.Errorf("%w: caller is not the configured admin", models.ErrAuthorization)
	}
	return nil
}

// paidTotal sums the amounts of Paid claims for a policy, optionally inside
// an open transaction.
func paidTotal(tx *gorm.DB, policyID string) (int64, error) {
	var total int64
	err := tx.Model(&models.Claim{}).
		Where("policy_id = ? AND status = ?", policyID, models.ClaimStatusPaid).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// File creates a Pending claim against an Active policy. The amount must be
// positive and fit within the coverage remaining after prior paid claims.
func (s *ClaimService) File(ctx context.Context, policyID, claimantAddress string, amount int64, reason string) (*models.Claim, error) {
	var policy models.Policy
	if err := s.DB.First(&policy, "id = ?", policyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: policy %s", models.ErrNotFound, policyID)
		}
		return nil, err
	}
	if policy.Status != models.PolicyStatusActive {
		return nil, fmt.Errorf("%w: claims require an active policy, %s is %s", models.ErrValidation, policyID, policy.Status)
	}
	if claimantAddress == "" {
		return nil, fmt.Errorf("%w: claimant address is required", models.ErrValidation)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: claim amount must be positive", models.ErrValidation)
	}

	paid, err := paidTotal(s.DB, policyID)
	if err != nil {
		return nil, err
	}
	remaining := policy.CoverageAmount - paid
	if amount > remaining {
		return nil, fmt.Errorf("%w: %d requested, %d remaining", models.ErrInsufficientCoverage, amount, remaining)
	}

	claim := models.Claim{
		ID:              uuid.NewString(),
		PolicyID:        policyID,
		ClaimantAddress: claimantAddress,
		Amount:          amount,
		Reason:          reason,
		Status:          models.ClaimStatusPending,
	}

	payload := ledger.Payload{
		Function: fmt.Sprintf("%s::claim_processor::submit_claim", s.ModuleAddress),
		Sender:   claimantAddress,
		Arguments: []any{
			claim.ID,
			policyID,
			amount,
			reason,
		},
	}
	// Keyed by the claim's own id: two filings against the same policy are
	// distinct transactions even when they race.
	res, err := s.Submitter.Submit(ctx, payload, ledger.IdempotencyKey("file_claim", claim.ID, 0))
	if err != nil {
		return nil, err
	}
	claim.TxHash = res.Hash

	if err := s.DB.Create(&claim).Error; err != nil {
		return nil, fmt.Errorf("failed to persist claim: %w", err)
	}
	log.Printf("📋 [CLAIM] filed %s for %d against policy %s (tx %s)", claim.ID, amount, policyID, res.Hash)
	return &claim, nil
}

// Verify submits the admin verification transaction for a Pending claim. The
// status flips to Verified, with the confirmed transaction hash attached as
// the verification hash, only once the poller resolves the submission.
func (s *ClaimService) Verify(ctx context.Context, claimID, caller string) (*models.Claim, error) {
	return s.adminTransition(ctx, claimID, caller, models.ClaimActionVerify)
}

// PayClaim submits the payout transaction for a Verified claim. The claim
// becomes Paid on confirmation, after re-checking the coverage invariant.
func (s *ClaimService) PayClaim(ctx context.Context, claimID, caller string) (*models.Claim, error) {
	return s.adminTransition(ctx, claimID, caller, models.ClaimActionPay)
}

func (s *ClaimService) adminTransition(ctx context.Context, claimID, caller, action string) (*models.Claim, error) {
	if err := s.requireAdmin(caller); err != nil {
		return nil, err
	}

	var claim models.Claim
	if err := s.DB.First(&claim, "id = ?", claimID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: claim %s", models.ErrNotFound, claimID)
		}
		return nil, err
	}

	var function string
	switch action {
	case models.ClaimActionVerify:
		if claim.Status != models.ClaimStatusPending {
			return nil, fmt.Errorf("%w: claim %s is %s, only Pending claims can be verified", models.ErrConflict, claimID, claim.Status)
		}
		function = "verify_claim"
	case models.ClaimActionPay:
		if claim.Status != models.ClaimStatusVerified {
			return nil, fmt.Errorf("%w: claim %s is %s, only Verified claims can be paid", models.ErrConflict, claimID, claim.Status)
		}
		function = "pay_claim"
	default:
		return nil, fmt.Errorf("%w: unknown claim action %q", models.ErrValidation, action)
	}

	if claim.PendingTx != "" && claim.PendingAction == action {
		log.Printf("↩️  [CLAIM] %s of %s already in flight (%s)", action, claimID, claim.PendingTx)
		return &claim, nil
	}
	if claim.PendingTx != "" {
		return nil, fmt.Errorf("%w: claim %s has a %s transaction in flight", models.ErrConflict, claimID, claim.PendingAction)
	}

	payload := ledger.Payload{
		Function:  fmt.Sprintf("%s::claim_processor::%s", s.ModuleAddress, function),
		Sender:    caller,
		Arguments: []any{claim.ID, claim.PolicyID},
	}
	res, err := s.Submitter.Submit(ctx, payload, ledger.IdempotencyKey(function, claim.ID, 0))
	if err != nil {
		return nil, err
	}

	upd := s.DB.Model(&models.Claim{}).
		Where("id = ? AND status = ? AND pending_tx = ''", claim.ID, claim.Status).
		Updates(map[string]any{
			"pending_action": action,
			"pending_tx":     res.Hash,
		})
	if upd.Error != nil {
		return nil, upd.Error
	}
	if upd.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: claim %s changed state concurrently", models.ErrConflict, claimID)
	}
	claim.PendingAction = action
	claim.PendingTx = res.Hash
	log.Printf("⚖️  [CLAIM] %s of %s submitted (tx %s)", action, claimID, res.Hash)

	go func() {
		if _, err := s.ConfirmClaim(s.bg, claim.ID); err != nil {
			log.Printf("⚠️  [CLAIM] %s of %s unresolved: %v", action, claim.ID, err)
		}
	}()

	return &claim, nil
}

// ConfirmClaim resolves the in-flight admin transaction on a claim and
// commits the corresponding state transition. Safe to call repeatedly and
// used by the restart-recovery worker and the manual re-poll path.
func (s *ClaimService) ConfirmClaim(ctx context.Context, claimID string) (models.ClaimStatus, error) {
	var claim models.Claim
	if err := s.DB.First(&claim, "id = ?", claimID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: claim %s", models.ErrNotFound, claimID)
		}
		return "", err
	}
	if claim.PendingTx == "" {
		return claim.Status, nil
	}

	outcome := s.Poller.AwaitConfirmation(ctx, claim.PendingTx, 0)
	switch outcome {
	case ledger.OutcomeConfirmed:
		return s.commitConfirmed(claim)
	case ledger.OutcomeFailed:
		err := s.DB.Model(&models.Claim{}).
			Where("id = ? AND pending_tx = ?", claim.ID, claim.PendingTx).
			Updates(map[string]any{"pending_action": "", "pending_tx": ""}).Error
		if err != nil {
			return claim.Status, err
		}
		log.Printf("❌ [CLAIM] %s transaction for %s failed on-chain, status stays %s", claim.PendingAction, claim.ID, claim.Status)
		return claim.Status, nil
	default:
		return claim.Status, fmt.Errorf("%w: claim %s", models.ErrTimeout, claim.ID)
	}
}

func (s *ClaimService) commitConfirmed(claim models.Claim) (models.ClaimStatus, error) {
	switch claim.PendingAction {
	case models.ClaimActionVerify:
		res := s.DB.Model(&models.Claim{}).
			Where("id = ? AND status = ? AND pending_tx = ?", claim.ID, models.ClaimStatusPending, claim.PendingTx).
			Updates(map[string]any{
				"status":            models.ClaimStatusVerified,
				"verification_hash": claim.PendingTx,
				"pending_action":    "",
				"pending_tx":        "",
			})
		if res.Error != nil {
			return claim.Status, res.Error
		}
		if res.RowsAffected == 0 {
			return s.currentStatus(claim.ID)
		}
		log.Printf("✅ [CLAIM] %s verified (hash %s)", claim.ID, claim.PendingTx)
		return models.ClaimStatusVerified, nil

	case models.ClaimActionPay:
		var final models.ClaimStatus
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			var policy models.Policy
			if err := tx.First(&policy, "id = ?", claim.PolicyID).Error; err != nil {
				return err
			}
			paid, err := paidTotal(tx, claim.PolicyID)
			if err != nil {
				return err
			}
			if paid+claim.Amount > policy.CoverageAmount {
				// Should have been caught at filing; refuse to break the invariant.
				return fmt.Errorf("%w: payout of %d would exceed coverage", models.ErrInsufficientCoverage, claim.Amount)
			}

			res := tx.Model(&models.Claim{}).
				Where("id = ? AND status = ? AND pending_tx = ?", claim.ID, models.ClaimStatusVerified, claim.PendingTx).
				Updates(map[string]any{
					"status":         models.ClaimStatusPaid,
					"pending_action": "",
					"pending_tx":     "",
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				st, err := s.currentStatus(claim.ID)
				final = st
				return err
			}
			final = models.ClaimStatusPaid
			return nil
		})
		if err != nil {
			return claim.Status, err
		}
		if final == models.ClaimStatusPaid {
			log.Printf("💸 [CLAIM] %s paid out %d (tx %s)", claim.ID, claim.Amount, claim.PendingTx)
		}
		return final, nil
	}
	return claim.Status, fmt.Errorf("claim %s has confirmed tx %s but unknown pending action %q", claim.ID, claim.PendingTx, claim.PendingAction)
}

func (s *ClaimService) currentStatus(claimID string) (models.ClaimStatus, error) {
	var claim models.Claim
	if err := s.DB.First(&claim, "id = ?", claimID).Error; err != nil {
		return "", err
	}
	return claim.Status, nil
}

// Reject moves a Pending or Verified claim to Rejected. Rejection moves no
// funds, so it commits locally; the ledger notification is best-effort and
// recorded on the claim when it succeeds.
func (s *ClaimService) Reject(ctx context.Context, claimID, caller string) (*models.Claim, error) {
	if err := s.requireAdmin(caller); err != nil {
		return nil, err
	}

	var claim models.Claim
	if err := s.DB.First(&claim, "id = ?", claimID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: claim %s", models.ErrNotFound, claimID)
		}
		return nil, err
	}
	if claim.Status != models.ClaimStatusPending && claim.Status != models.ClaimStatusVerified {
		return nil, fmt.Errorf("%w: claim %s is %s and cannot be rejected", models.ErrConflict, claimID, claim.Status)
	}
	if claim.PendingTx != "" {
		return nil, fmt.Errorf("%w: claim %s has a %s transaction in flight", models.ErrConflict, claimID, claim.PendingAction)
	}

	res := s.DB.Model(&models.Claim{}).
		Where("id = ? AND status = ?", claim.ID, claim.Status).
		Update("status", models.ClaimStatusRejected)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: claim %s changed state concurrently", models.ErrConflict, claimID)
	}
	claim.Status = models.ClaimStatusRejected
	log.Printf("🚫 [CLAIM] %s rejected by admin", claimID)

	payload := ledger.Payload{
		Function:  fmt.Sprintf("%s::claim_processor::reject_claim", s.ModuleAddress),
		Sender:    caller,
		Arguments: []any{claim.ID, claim.PolicyID},
	}
	if res, err := s.Submitter.Submit(ctx, payload, ledger.IdempotencyKey("reject_claim", claim.ID, 0)); err != nil {
		log.Printf("⚠️  [CLAIM] ledger rejection notice for %s failed: %v", claim.ID, err)
	} else {
		s.DB.Model(&models.Claim{}).Where("id = ?", claim.ID).Update("tx_hash", res.Hash)
		claim.TxHash = res.Hash
	}

	return &claim, nil
}

// Get returns a claim record.
func (s *ClaimService) Get(claimID string) (*models.Claim, error) {
	var claim models.Claim
	if err := s.DB.First(&claim, "id = ?", claimID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: claim %s", models.ErrNotFound, claimID)
		}
		return nil, err
	}
	return &claim, nil
}

// AddDocument records an evidence document already uploaded to object storage.
func (s *ClaimService) AddDocument(claimID, fileName, contentType, objectKey, url string) (*models.ClaimDocument, error) {
	if _, err := s.Get(claimID); err != nil {
		return nil, err
	}
	doc := models.ClaimDocument{
		ID:          uuid.NewString(),
		ClaimID:     claimID,
		FileName:    fileName,
		ContentType: contentType,
		ObjectKey:   objectKey,
		URL:         url,
	}
	if err := s.DB.Create(&doc).Error; err != nil {
		return nil, fmt.Errorf("failed to persist claim document: %w", err)
	}
	return &doc, nil
}

// Documents lists the evidence attached to a claim.
func (s *ClaimService) Documents(claimID string) ([]models.ClaimDocument, error) {
	var docs []models.ClaimDocument
	err := s.DB.Where("claim_id = ?", claimID).Order("created_at ASC").Find(&docs).Error
	return docs, err
}
