package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"cora-insurance-service/ledger"
	"cora-insurance-service/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	testModuleAddr = "0xmod"
	testAdminAddr  = "0xadmin"
	testOwnerAddr  = "0xowner1234"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	err = db.AutoMigrate(
		&models.WalletMapping{},
		&models.Policy{},
		&models.PremiumPayment{},
		&models.Claim{},
		&models.ClaimDocument{},
		&models.LedgerSubmission{},
	)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// fakeLedger is both a submission strategy and a status source. Submissions
// get sequential hashes whose status starts at defaultStatus and can be
// steered per hash.
type fakeLedger struct {
	mu            sync.Mutex
	n             int
	statuses      map[string]ledger.TxStatus
	defaultStatus ledger.TxStatus
	submitErr     error
	submits       int
	resource      json.RawMessage
}

func newFakeLedger(defaultStatus ledger.TxStatus) *fakeLedger {
	return &fakeLedger{
		statuses:      make(map[string]ledger.TxStatus),
		defaultStatus: defaultStatus,
	}
}

func (f *fakeLedger) Name() string { return "fake" }

func (f *fakeLedger) SubmitTransaction(ctx context.Context, payload ledger.Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.n++
	hash := fmt.Sprintf("0xfake%04d", f.n)
	f.statuses[hash] = f.defaultStatus
	return hash, nil
}

func (f *fakeLedger) GetTransactionStatus(ctx context.Context, hash string) (ledger.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.statuses[hash]; ok {
		return st, nil
	}
	return ledger.TxStatusPending, nil
}

func (f *fakeLedger) SetStatus(hash string, st ledger.TxStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[hash] = st
}

func (f *fakeLedger) ReadResource(ctx context.Context, address, resourceType string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resource, nil
}

type testStack struct {
	db       *gorm.DB
	chain    *fakeLedger
	poller   *ledger.Poller
	wallets  *WalletService
	policies *PolicyService
	premiums *PremiumService
	claims   *ClaimService
}

func newTestStack(t *testing.T, defaultStatus ledger.TxStatus) *testStack {
	t.Helper()
	db := newTestDB(t)
	chain := newFakeLedger(defaultStatus)
	submitter := ledger.NewSubmitter(db, chain)

	poller := ledger.NewPoller(chain)
	poller.InitialInterval = time.Millisecond
	poller.MaxInterval = 2 * time.Millisecond
	poller.DefaultTimeout = 30 * time.Millisecond

	bg := context.Background()
	policies := NewPolicyService(bg, db, submitter, poller, chain, testModuleAddr, testAdminAddr)
	premiums := NewPremiumService(bg, db, submitter, poller, policies, testModuleAddr)
	claims := NewClaimService(bg, db, submitter, poller, testModuleAddr, testAdminAddr)

	return &testStack{
		db:       db,
		chain:    chain,
		poller:   poller,
		wallets:  NewWalletService(db),
		policies: policies,
		premiums: premiums,
		claims:   claims,
	}
}

// createPolicy opens a Pending policy for the default test owner.
func (ts *testStack) createPolicy(t *testing.T, coverage int64, termDays int) *models.Policy {
	t.Helper()
	policy, err := ts.policies.Create(context.Background(), CreatePolicyInput{
		Owner:          testOwnerAddr,
		PolicyType:     models.PolicyTypeTermLife,
		CoverageAmount: coverage,
		TermDays:       termDays,
	})
	if err != nil {
		t.Fatalf("create policy: %v", err)
	}
	return policy
}

// activatePolicy pays and confirms period 0 so the policy becomes Active.
// Requires the fake ledger's default status to be confirmed.
func (ts *testStack) activatePolicy(t *testing.T, policy *models.Policy) {
	t.Helper()
	payment, err := ts.premiums.Pay(context.Background(), policy.ID, policy.PremiumAmount)
	if err != nil {
		t.Fatalf("pay premium: %v", err)
	}
	status, err := ts.premiums.ConfirmPayment(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	if status != models.PaymentStatusConfirmed {
		t.Fatalf("expected Confirmed payment, got %s", status)
	}
	// A background confirmation goroutine may be the one that wins the CAS
	// and performs the activation, so allow it a moment to land.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if ts.mustGetPolicy(t, policy.ID).Status == models.PolicyStatusActive {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("policy %s not Active after period-0 confirmation", policy.ID)
		}
		time.Sleep(time.Millisecond)
	}
}

func (ts *testStack) mustGetPolicy(t *testing.T, id string) *models.Policy {
	t.Helper()
	var policy models.Policy
	if err := ts.db.First(&policy, "id = ?", id).Error; err != nil {
		t.Fatalf("load policy %s: %v", id, err)
	}
	return &policy
}

func (ts *testStack) mustGetClaim(t *testing.T, id string) *models.Claim {
	t.Helper()
	var claim models.Claim
	if err := ts.db.First(&claim, "id = ?", id).Error; err != nil {
		t.Fatalf("load claim %s: %v", id, err)
	}
	return &claim
}
