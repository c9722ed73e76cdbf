package workers

import (
	"context"
	"log"
	"sync"
	"time"

	"cora-insurance-service/models"
	"cora-insurance-service/services"

	"gorm.io/gorm"
)

// ReconcileWorker re-discovers outstanding ledger submissions from the
// database and resumes confirmation polling for them. It runs once at
// startup and then on a slow tick, so a process restart never strands a
// Submitted payment or an in-flight claim transition — the database, not
// poller goroutine state, is the source of truth for what is outstanding.
type ReconcileWorker struct {
	DB       *gorm.DB
	Premiums *services.PremiumService
	Policies *services.PolicyService
	Claims   *services.ClaimService

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewReconcileWorker(db *gorm.DB, premiums *services.PremiumService, policies *services.PolicyService, claims *services.ClaimService) *ReconcileWorker {
	return &ReconcileWorker{
		DB:       db,
		Premiums: premiums,
		Policies: policies,
		Claims:   claims,
		inFlight: make(map[string]bool),
	}
}

func (w *ReconcileWorker) claimSlot(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inFlight[key] {
		return false
	}
	w.inFlight[key] = true
	return true
}

func (w *ReconcileWorker) releaseSlot(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inFlight, key)
}

// Run sweeps immediately, then on every tick until ctx is cancelled.
func (w *ReconcileWorker) Run(ctx context.Context, interval time.Duration) {
	log.Println("Starting reconciliation worker...")
	w.sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reconciliation worker stopped.")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ReconcileWorker) sweep(ctx context.Context) {
	var payments []models.PremiumPayment
	if err := w.DB.Where("status = ?", models.PaymentStatusSubmitted).Find(&payments).Error; err != nil {
		log.Printf("❌ [RECONCILE] failed to list submitted payments: %v", err)
	} else {
		for _, p := range payments {
			key := "payment:" + p.ID
			if !w.claimSlot(key) {
				continue
			}
			go func(id, key string) {
				defer w.releaseSlot(key)
				if _, err := w.Premiums.ConfirmPayment(ctx, id); err != nil {
					log.Printf("⚠️  [RECONCILE] payment %s still unresolved: %v", id, err)
				}
			}(p.ID, key)
		}
	}

	var policies []models.Policy
	if err := w.DB.Where("pending_tx <> ''").Find(&policies).Error; err != nil {
		log.Printf("❌ [RECONCILE] failed to list pending policies: %v", err)
	} else {
		for _, p := range policies {
			key := "policy:" + p.ID
			if !w.claimSlot(key) {
				continue
			}
			go func(id, key string) {
				defer w.releaseSlot(key)
				if _, err := w.Policies.ConfirmCreation(ctx, id); err != nil {
					log.Printf("⚠️  [RECONCILE] policy %s creation still unresolved: %v", id, err)
				}
			}(p.ID, key)
		}
	}

	// A Pending policy with a Confirmed period-0 payment missed its
	// activation; finish the transition from what the database proves.
	var stranded []models.Policy
	subq := w.DB.Model(&models.PremiumPayment{}).
		Select("policy_id").
		Where("period_index = 0 AND status = ?", models.PaymentStatusConfirmed)
	if err := w.DB.Where("status = ? AND id IN (?)", models.PolicyStatusPending, subq).
		Find(&stranded).Error; err != nil {
		log.Printf("❌ [RECONCILE] failed to list stranded policies: %v", err)
	} else {
		for _, p := range stranded {
			var payment models.PremiumPayment
			if err := w.DB.Where("policy_id = ? AND period_index = 0 AND status = ?",
				p.ID, models.PaymentStatusConfirmed).First(&payment).Error; err != nil {
				log.Printf("❌ [RECONCILE] failed to load period-0 payment for policy %s: %v", p.ID, err)
				continue
			}
			if err := w.Policies.Activate(p.ID, payment.TxHash); err != nil {
				log.Printf("⚠️  [RECONCILE] failed to activate stranded policy %s: %v", p.ID, err)
				continue
			}
			var confirmed int64
			if err := w.DB.Model(&models.PremiumPayment{}).
				Where("policy_id = ? AND status = ?", p.ID, models.PaymentStatusConfirmed).
				Count(&confirmed).Error; err != nil {
				log.Printf("❌ [RECONCILE] failed to count confirmed payments for policy %s: %v", p.ID, err)
				continue
			}
			if err := w.Policies.AdvanceDueDate(p.ID, int(confirmed)-1); err != nil {
				log.Printf("⚠️  [RECONCILE] failed to advance due date for policy %s: %v", p.ID, err)
			}
			log.Printf("🔧 [RECONCILE] activated stranded policy %s from confirmed payment %s", p.ID, payment.ID)
		}
	}

	var claims []models.Claim
	if err := w.DB.Where("pending_tx <> ''").Find(&claims).Error; err != nil {
		log.Printf("❌ [RECONCILE] failed to list in-flight claims: %v", err)
	} else {
		for _, c := range claims {
			key := "claim:" + c.ID
			if !w.claimSlot(key) {
				continue
			}
			go func(id, key string) {
				defer w.releaseSlot(key)
				if _, err := w.Claims.ConfirmClaim(ctx, id); err != nil {
					log.Printf("⚠️  [RECONCILE] claim %s still unresolved: %v", id, err)
				}
			}(c.ID, key)
		}
	}
}
