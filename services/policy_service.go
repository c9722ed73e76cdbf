// services/policy_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"cora-insurance-service/ledger"
	"cora-insurance-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// baseAnnualRate is the underwriting base rate applied to the coverage amount.
const baseAnnualRate = 0.0005

// periodLength is one premium period. Periods are defined as 365 days flat;
// the stored next_due_date carries the boundary instead of recomputing it
// from elapsed days.
const periodLength = 365 * 24 * time.Hour

// PremiumFor computes the deterministic annual premium for a policy:
// monthly = coverage * baseRate * (1 + termYears*0.01) * typeFactor / 12,
// annual = round(monthly * 12). Amounts are smallest-currency-unit integers.
func PremiumFor(policyType models.PolicyType, coverageAmount int64, termDays int) int64 {
	termYears := float64(termDays) / 365.0
	monthly := float64(coverageAmount) * baseAnnualRate * (1 + termYears*0.01) * policyType.Factor() / 12.0
	return int64(math.Round(monthly * 12))
}

// PolicyView is a policy merged with the state of any outstanding ledger
// submission. Unconfirmed work is tagged, never presented as settled.
type PolicyView struct {
	models.Policy
	Unconfirmed bool `json:"unconfirmed"`
}

// PolicyService owns policy records and the Pending → Active → Expired /
// Cancelled state machine. All writes go through the transaction submitter;
// nothing here flips to a confirmed state without the poller's say-so.
type PolicyService struct {
	DB            *gorm.DB
	Submitter     *ledger.Submitter
	Poller        *ledger.Poller
	Ledger        ledger.Client
	ModuleAddress string
	AdminAddress  string

	bg context.Context // parent for confirmation goroutines
}

func NewPolicyService(bg context.Context, db *gorm.DB, submitter *ledger.Submitter, poller *ledger.Poller, client ledger.Client, moduleAddress, adminAddress string) *PolicyService {
	return &PolicyService{
		DB:            db,
		Submitter:     submitter,
		Poller:        poller,
		Ledger:        client,
		ModuleAddress: moduleAddress,
		AdminAddress:  adminAddress,
		bg:            bg,
	}
}

// CreatePolicyInput is the validated intent to open a policy.
type CreatePolicyInput struct {
	Owner          string
	PolicyType     models.PolicyType
	CoverageAmount int64
	TermDays       int
}

// Create validates the input, computes the premium, submits the creation
// transaction and persists a Pending policy keyed by a locally-issued id.
// The canonical ledger id is the confirmed transaction recorded later by the
// poller; no state is persisted if submission fails outright.
func (s *PolicyService) Create(ctx context.Context, in CreatePolicyInput) (*models.Policy, error) {
	if in.Owner == "" {
		return nil, fmt.Errorf("%w: policyholder address is required", models.ErrValidation)
	}
	if !in.PolicyType.Valid() {
		return nil, fmt.Errorf("%w: unknown policy type %q", models.ErrValidation, in.PolicyType)
	}
	if in.CoverageAmount <= 0 {
		return nil, fmt.Errorf("%w: coverage amount must be positive", models.ErrValidation)
	}
	if in.TermDays <= 0 {
		return nil, fmt.Errorf("%w: term days must be positive", models.ErrValidation)
	}

	now := time.Now().UTC()
	policy := models.Policy{
		ID:                  uuid.NewString(),
		PolicyholderAddress: in.Owner,
		PolicyType:          in.PolicyType,
		CoverageAmount:      in.CoverageAmount,
		PremiumAmount:       PremiumFor(in.PolicyType, in.CoverageAmount, in.TermDays),
		TermDays:            in.TermDays,
		Status:              models.PolicyStatusPending,
		StartDate:           now,
		EndDate:             now.Add(time.Duration(in.TermDays) * 24 * time.Hour),
		NextDueDate:         now, // period 0 is due immediately
	}

	payload := ledger.Payload{
		Function: fmt.Sprintf("%s::policy_registry::create_policy", s.ModuleAddress),
		Sender:   in.Owner,
		Arguments: []any{
			policy.ID,
			string(in.PolicyType),
			in.CoverageAmount,
			policy.PremiumAmount,
			in.TermDays,
		},
	}
	res, err := s.Submitter.Submit(ctx, payload, ledger.IdempotencyKey("create_policy", policy.ID, 0))
	if err != nil {
		return nil, err
	}
	policy.PendingTx = res.Hash

	if err := s.DB.Create(&policy).Error; err != nil {
		return nil, fmt.Errorf("failed to persist policy: %w", err)
	}
	log.Printf("📄 [POLICY] created %s (%s, coverage %d) pending tx %s", policy.ID, policy.PolicyType, policy.CoverageAmount, res.Hash)

	go func() {
		if _, err := s.ConfirmCreation(s.bg, policy.ID); err != nil {
			log.Printf("⚠️  [POLICY] creation of %s still unconfirmed: %v", policy.ID, err)
		}
	}()

	return &policy, nil
}

// ConfirmCreation resolves the outstanding creation transaction for a policy.
// Safe to call again for an already-confirmed policy; also the manual
// re-poll path after a timeout.
func (s *PolicyService) ConfirmCreation(ctx context.Context, policyID string) (ledger.Outcome, error) {
	var policy models.Policy
	if err := s.DB.First(&policy, "id = ?", policyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: policy %s", models.ErrNotFound, policyID)
		}
		return "", err
	}
	if policy.PendingTx == "" {
		return ledger.OutcomeConfirmed, nil
	}

	outcome := s.Poller.AwaitConfirmation(ctx, policy.PendingTx, 0)
	switch outcome {
	case ledger.OutcomeConfirmed:
		err := s.DB.Model(&models.Policy{}).
			Where("id = ? AND pending_tx = ?", policy.ID, policy.PendingTx).
			Updates(map[string]any{
				"last_confirmed_tx": policy.PendingTx,
				"pending_tx":        "",
			}).Error
		if err != nil {
			return outcome, err
		}
		log.Printf("✅ [POLICY] creation of %s confirmed (%s)", policy.ID, policy.PendingTx)
		return outcome, nil
	case ledger.OutcomeFailed:
		err := s.DB.Model(&models.Policy{}).
			Where("id = ? AND pending_tx = ?", policy.ID, policy.PendingTx).
			Update("pending_tx", "").Error
		if err != nil {
			return outcome, err
		}
		return outcome, fmt.Errorf("%w: creation transaction rejected by ledger", models.ErrTransaction)
	default:
		return outcome, fmt.Errorf("%w: creation of policy %s", models.ErrTimeout, policy.ID)
	}
}

// Get returns the merged view of a policy: last confirmed state plus an
// Unconfirmed tag when a submission is still in flight.
func (s *PolicyService) Get(policyID string) (*PolicyView, error) {
	var policy models.Policy
	if err := s.DB.First(&policy, "id = ?", policyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: policy %s", models.ErrNotFound, policyID)
		}
		return nil, err
	}
	return &PolicyView{Policy: policy, Unconfirmed: policy.PendingTx != ""}, nil
}

// List returns the owner's policies, newest first.
func (s *PolicyService) List(ownerAddress string) ([]PolicyView, error) {
	var policies []models.Policy
	if err := s.DB.Where("policyholder_address = ?", ownerAddress).
		Order("created_at DESC").
		Find(&policies).Error; err != nil {
		return nil, err
	}
	views := make([]PolicyView, 0, len(policies))
	for _, p := range policies {
		views = append(views, PolicyView{Policy: p, Unconfirmed: p.PendingTx != ""})
	}
	return views, nil
}

// Activate flips Pending → Active. Only the premium escrow calls this, and
// only after the period-0 payment confirmed. The compare-and-set on status
// makes a duplicate confirmation a no-op rather than a second activation.
func (s *PolicyService) Activate(policyID, confirmedTx string) error {
	return s.activate(s.DB, policyID, confirmedTx)
}

// activate runs against db so the premium escrow can commit the activation
// in the same transaction as the payment status flip.
func (s *PolicyService) activate(db *gorm.DB, policyID, confirmedTx string) error {
	res := db.Model(&models.Policy{}).
		Where("id = ? AND status = ?", policyID, models.PolicyStatusPending).
		Updates(map[string]any{
			"status":            models.PolicyStatusActive,
			"last_confirmed_tx": confirmedTx,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var policy models.Policy
		if err := db.First(&policy, "id = ?", policyID).Error; err != nil {
			return fmt.Errorf("%w: policy %s", models.ErrNotFound, policyID)
		}
		if policy.Status == models.PolicyStatusActive {
			return nil // already activated by a racing confirmation
		}
		return fmt.Errorf("%w: policy %s is %s, cannot activate", models.ErrConflict, policyID, policy.Status)
	}
	log.Printf("🟢 [POLICY] %s activated (tx %s)", policyID, confirmedTx)
	return nil
}

// AdvanceDueDate moves the stored next due date to the start of the period
// after periodIndex. Called when that period's payment confirms.
func (s *PolicyService) AdvanceDueDate(policyID string, periodIndex int) error {
	return s.advanceDueDate(s.DB, policyID, periodIndex)
}

func (s *PolicyService) advanceDueDate(db *gorm.DB, policyID string, periodIndex int) error {
	var policy models.Policy
	if err := db.First(&policy, "id = ?", policyID).Error; err != nil {
		return err
	}
	next := policy.StartDate.Add(time.Duration(periodIndex+1) * periodLength)
	return db.Model(&models.Policy{}).
		Where("id = ?", policyID).
		Update("next_due_date", next).Error
}

// LedgerState reads the policy registry resource straight from the ledger
// for a policy we know about. The raw resource is returned untouched so an
// operator can compare the on-chain record against the local view.
func (s *PolicyService) LedgerState(ctx context.Context, policyID string) (json.RawMessage, error) {
	if _, err := s.Get(policyID); err != nil {
		return nil, err
	}
	resourceType := fmt.Sprintf("%s::policy_registry::PolicyStore", s.ModuleAddress)
	raw, err := s.Ledger.ReadResource(ctx, s.ModuleAddress, resourceType)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy registry resource: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: policy registry resource not published under %s", models.ErrNotFound, s.ModuleAddress)
	}
	return raw, nil
}

// Cancel is the explicit admin-only transition out of any non-terminal state.
func (s *PolicyService) Cancel(ctx context.Context, policyID, caller string) error {
	if caller != s.AdminAddress {
		return fmt.Errorf("%w: only the admin may cancel policies", models.ErrAuthorization)
	}

	var policy models.Policy
	if err := s.DB.First(&policy, "id = ?", policyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: policy %s", models.ErrNotFound, policyID)
		}
		return err
	}
	if policy.Status.Terminal() {
		return fmt.Errorf("%w: policy %s is already %s", models.ErrConflict, policyID, policy.Status)
	}

	res := s.DB.Model(&models.Policy{}).
		Where("id = ? AND status = ?", policyID, policy.Status).
		Update("status", models.PolicyStatusCancelled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: policy %s changed state concurrently", models.ErrConflict, policyID)
	}
	log.Printf("🛑 [POLICY] %s cancelled by admin", policyID)
	return nil
}

// ExpireDue moves Active policies past their end date to Expired, unless a
// renewal payment is still awaiting confirmation. Returns how many expired.
func (s *PolicyService) ExpireDue(now time.Time) (int, error) {
	var policies []models.Policy
	err := s.DB.Where("status = ? AND end_date <= ?", models.PolicyStatusActive, now).
		Find(&policies).Error
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, p := range policies {
		var pending int64
		if err := s.DB.Model(&models.PremiumPayment{}).
			Where("policy_id = ? AND status = ?", p.ID, models.PaymentStatusSubmitted).
			Count(&pending).Error; err != nil {
			return expired, err
		}
		if pending > 0 {
			continue // renewal in flight, let the poller decide first
		}

		res := s.DB.Model(&models.Policy{}).
			Where("id = ? AND status = ?", p.ID, models.PolicyStatusActive).
			Update("status", models.PolicyStatusExpired)
		if res.Error != nil {
			return expired, res.Error
		}
		if res.RowsAffected > 0 {
			expired++
			log.Printf("⌛ [POLICY] %s expired (term ended %s)", p.ID, p.EndDate.Format(time.RFC3339))
		}
	}
	return expired, nil
}
