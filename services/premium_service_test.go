package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"cora-insurance-service/ledger"
	"cora-insurance-service/models"
)

// Scenario: coverage 1,000,000, 20-year TermLife. Annual premium is 600;
// paying and confirming it activates the policy.
func TestPayPremiumActivatesPolicy(t *testing.T) {
	ts := newTestStack(t, ledger.TxStatusConfirmed)
	policy := ts.createPolicy(t, 1_000_000, 7300)

	if policy.PremiumAmount != 600 {
		t.Fatalf("expected premium 600, got %d", policy.PremiumAmount)
	}
	ts.activatePolicy(t, policy)

	// Invariant: Active implies a Confirmed payment for period 0.
	var payment models.PremiumPayment
	err := ts.db.Where("policy_id = ? AND period_index = 0 AND status = ?",
		policy.ID, models.PaymentStatusConfirmed).First(&payment).Error
	if err != nil {
		t.Fatalf("Active policy without a confirmed period-0 payment: %v", err)
	}

	// The stored due date moved to the start of period 1.
	reloaded := ts.mustGetPolicy(t, policy.ID)
	wantDue := reloaded.StartDate.Add(365 * 24 * time.Hour)
	if !reloaded.NextDueDate.Equal(wantDue) {
		t.Fatalf("next due date = %s, want %s", reloaded.NextDueDate, wantDue)
	}
}

func TestPayRejectsAmountMismatch(t *testing.T) {
	ts := newTestStack(t, ledger.TxStatusConfirmed)
	policy := ts.createPolicy(t, 1_000_000, 7300)

	for _, amount := range []int64{599, 601, 0, -600} {
		if _, err := ts.premiums.Pay(context.Background(), policy.ID, amount); !errors.Is(err, models.ErrAmountMismatch) {
			t.Fatalf("amount %d: expected ErrAmountMismatch, got %v", amount, err)
		}
	}

	var count int64
	ts.db.Model(&models.PremiumPayment{}).Count(&count)
	if count != 0 {
		t.Fatalf("rejected payments must persist nothing, found %d", count)
	}
}

// Scenario: paying again after the period confirmed is a conflict and
// creates no duplicate payment.
func TestPayRejectsAlreadyPaidPeriod(t *testing.T) {
	ts := newTestStack(t, ledger.TxStatusConfirmed)
	policy := ts.createPolicy(t, 1_000_000, 7300)
	ts.activatePolicy(t, policy)

	// Period 0 is confirmed and the next due date is a year out; a retried
	// pay must conflict, not open the next period early.
	if _, err := ts.premiums.Pay(context.Background(), policy.ID, policy.PremiumAmount); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict for already-paid period, got %v", err)
	}

	var count int64
	ts.db.Model(&models.PremiumPayment{}).Where("policy_id = ?", policy.ID).Count(&count)
	if count != 1 {
		t.Fatalf("conflict must not create a duplicate payment, found %d", count)
	}
}

func TestPayReturnsInFlightPaymentInsteadOfDuplicating(t *testing.T) {
	ts := newTestStack(t, ledger.TxStatusPending)
	policy := ts.createPolicy(t, 1_000_000, 7300)

	first, err := ts.premiums.Pay(context.Background(), policy.ID, 600)
	if err != nil {
		t.Fatalf("first pay: %v", err)
	}
	second, err := ts.premiums.Pay(context.Background(), policy.ID, 600)
	if err != nil {
		t.Fatalf("second pay: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("in-flight period must not be double-submitted: %s vs %s", second.ID, first.ID)
	}

	var count int64
	ts.db.Model(&models.PremiumPayment{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected a single payment row, found %d", count)
	}
}

func TestPaySubmissionFailureMutatesNothing(t *testing.T) {
	ts := newTestStack(t, ledger.TxStatusConfirmed)
	policy := ts.createPolicy(t, 1_000_000, 7300)

	ts.chain.submitErr = errors.New("node unreachable")
	if _, err := ts.premiums.Pay(context.Background(), policy.ID, 600); !errors.Is(err, models.ErrTransaction) {
		t.Fatalf("expected ErrTransaction, got %v", err)
	}

	var count int64
	ts.db.Model(&models.PremiumPayment{}).Count(&count)
	if count != 0 {
		t.Fatalf("failed submission must persist nothing, found %d", count)
	}
	if got := ts.mustGetPolicy(t, policy.ID).Status; got != models.PolicyStatusPending {
		t.Fatalf("policy must stay Pending, got %s", got)
	}
}

func TestOnChainFailureLeavesPolicyUnchanged(t *testing.T) {
	ts := newTestStack(t, ledger.TxStatusPending)
	policy := ts.createPolicy(t, 1_000_000, 7300)

	payment, err := ts.premiums.Pay(context.Background(), policy.ID, 600)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	ts.chain.SetStatus(payment.TxHash, ledger.TxStatusFailed)

	status, err := ts.premiums.ConfirmPayment(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if status != models.PaymentStatusFailed {
		t.Fatalf("expected Failed, got %s", status)
	}
	if got := ts.mustGetPolicy(t, policy.ID).Status; got != models.PolicyStatusPending {
		t.Fatalf("failed payment must not touch policy status, got %s", got)
	}
}

// Scenario: the primary strategy is down; the relay fallback carries the
// payment and the policy still activates exactly once.
func TestRelayFallbackStillActivatesOnce(t *testing.T) {
	ts := newTestStack(t, ledger.TxStatusConfirmed)

	broken := &brokenStrategy{}
	submitter := ledger.NewSubmitter(ts.db, broken, ts.chain)
	bg := context.Background()
	policies := NewPolicyService(bg, ts.db, submitter, ts.poller, ts.chain, testModuleAddr, testAdminAddr)
	premiums := NewPremiumService(bg, ts.db, submitter, ts.poller, policies, testModuleAddr)

	policy, err := policies.Create(bg, CreatePolicyInput{
		Owner:          testOwnerAddr,
		PolicyType:     models.PolicyTypeTermLife,
		CoverageAmount: 1_000_000,
		TermDays:       7300,
	})
	if err != nil {
		t.Fatalf("create via fallback: %v", err)
	}

	payment, err := premiums.Pay(bg, policy.ID, 600)
	if err != nil {
		t.Fatalf("pay via fallback: %v", err)
	}

	// Confirm twice: the second run must be a no-op, not a second activation.
	for i := 0; i < 2; i++ {
		status, err := premiums.ConfirmPayment(bg, payment.ID)
		if err != nil {
			t.Fatalf("confirm %d: %v", i, err)
		}
		if status != models.PaymentStatusConfirmed {
			t.Fatalf("confirm %d: expected Confirmed, got %s", i, status)
		}
	}

	var active int64
	ts.db.Model(&models.Policy{}).Where("id = ? AND status = ?", policy.ID, models.PolicyStatusActive).Count(&active)
	if active != 1 {
		t.Fatalf("expected exactly one active policy row, got %d", active)
	}
	if broken.calls == 0 {
		t.Fatal("primary strategy was never tried")
	}
}

// Scenario: confirmation times out; the payment stays Submitted and the
// policy stays Pending, and a later manual re-poll resolves it.
func TestTimeoutLeavesPaymentUnconfirmedUntilRepoll(t *testing.T) {
	ts := newTestStack(t, ledger.TxStatusPending)
	policy := ts.createPolicy(t, 1_000_000, 7300)

	payment, err := ts.premiums.Pay(context.Background(), policy.ID, 600)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}

	status, err := ts.premiums.ConfirmPayment(context.Background(), payment.ID)
	if !errors.Is(err, models.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if status != models.PaymentStatusSubmitted {
		t.Fatalf("timed-out payment must stay Submitted, got %s", status)
	}
	if got := ts.mustGetPolicy(t, policy.ID).Status; got != models.PolicyStatusPending {
		t.Fatalf("policy must stay Pending after timeout, got %s", got)
	}

	// The ledger finally confirms; a manual re-poll resolves everything
	// without resubmitting.
	ts.chain.SetStatus(payment.TxHash, ledger.TxStatusConfirmed)
	status, err = ts.premiums.ConfirmPayment(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("re-poll: %v", err)
	}
	if status != models.PaymentStatusConfirmed {
		t.Fatalf("expected Confirmed after re-poll, got %s", status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ts.mustGetPolicy(t, policy.ID).Status != models.PolicyStatusActive {
		if time.Now().After(deadline) {
			t.Fatal("policy not Active after re-polled confirmation")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRenewalAdvancesDueDate(t *testing.T) {
	ts := newTestStack(t, ledger.TxStatusConfirmed)
	policy := ts.createPolicy(t, 1_000_000, 7300)
	ts.activatePolicy(t, policy)

	// Move the stored due date into the past so period 1 is actually due.
	past := time.Now().UTC().Add(-time.Hour)
	if err := ts.db.Model(&models.Policy{}).Where("id = ?", policy.ID).
		Update("next_due_date", past).Error; err != nil {
		t.Fatalf("rewind due date: %v", err)
	}

	payment, err := ts.premiums.Pay(context.Background(), policy.ID, 600)
	if err != nil {
		t.Fatalf("renewal pay: %v", err)
	}
	if payment.PeriodIndex != 1 {
		t.Fatalf("expected period 1, got %d", payment.PeriodIndex)
	}
	if _, err := ts.premiums.ConfirmPayment(context.Background(), payment.ID); err != nil {
		t.Fatalf("confirm renewal: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		reloaded := ts.mustGetPolicy(t, policy.ID)
		wantDue := reloaded.StartDate.Add(2 * 365 * 24 * time.Hour)
		if reloaded.NextDueDate.Equal(wantDue) {
			if reloaded.Status != models.PolicyStatusActive {
				t.Fatalf("renewal must keep the policy Active, got %s", reloaded.Status)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("next due date = %s, want %s", reloaded.NextDueDate, wantDue)
		}
		time.Sleep(time.Millisecond)
	}
}

type brokenStrategy struct {
	calls int
}

func (b *brokenStrategy) Name() string { return "broken" }

func (b *brokenStrategy) SubmitTransaction(ctx context.Context, payload ledger.Payload) (string, error) {
	b.calls++
	return "", errors.New("signer unavailable")
}
