// ledger/submitter.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"cora-insurance-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Strategy is one way of getting a transaction onto the ledger. Strategies
// are tried in the fixed order they were registered with the submitter.
type Strategy interface {
	Name() string
	SubmitTransaction(ctx context.Context, payload Payload) (string, error)
}

// Result is what a submission returns: the hash is on the ledger's intake
// queue but nothing is confirmed until the poller says so.
type Result struct {
	Hash     string   `json:"hash"`
	Status   TxStatus `json:"status"`
	Replayed bool     `json:"replayed"` // idempotency key matched a prior submission
}

// breaker tracks consecutive failures for one strategy.
type breaker struct {
	failures  int
	openUntil time.Time
}

// Submitter builds and submits ledger transactions through an ordered
// strategy list with fallback. Each logical transaction carries an
// idempotency key; a key seen before replays the recorded hash instead of
// submitting a duplicate. A strategy that keeps failing is skipped for a
// cool-down period so a dead node doesn't add latency to every call.
type Submitter struct {
	db         *gorm.DB
	strategies []Strategy

	mu       sync.Mutex
	breakers map[string]*breaker

	FailureThreshold int
	Cooldown         time.Duration
}

func NewSubmitter(db *gorm.DB, strategies ...Strategy) *Submitter {
	return &Submitter{
		db:               db,
		strategies:       strategies,
		breakers:         make(map[string]*breaker),
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}
}

// IdempotencyKey derives the key for a logical transaction from the
// operation, the entity it touches, and the period or claim index.
func IdempotencyKey(operation, entityID string, index int) string {
	return fmt.Sprintf("%s:%s:%d", operation, entityID, index)
}

func (s *Submitter) breakerOpen(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[name]
	return ok && time.Now().Before(b.openUntil)
}

func (s *Submitter) recordFailure(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[name]
	if !ok {
		b = &breaker{}
		s.breakers[name] = b
	}
	b.failures++
	if b.failures >= s.FailureThreshold {
		b.openUntil = time.Now().Add(s.Cooldown)
		b.failures = 0
		log.Printf("⚡ [SUBMITTER] circuit open for strategy %q (%s cool-down)", name, s.Cooldown)
	}
}

func (s *Submitter) recordSuccess(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakers, name)
}

// Submit tries each strategy in order until one accepts the transaction.
// The returned status is always pending; confirmation is the poller's job.
// If every strategy fails the caller gets models.ErrTransaction and no state
// has been recorded.
func (s *Submitter) Submit(ctx context.Context, payload Payload, idempotencyKey string) (Result, error) {
	var prior models.LedgerSubmission
	err := s.db.Where("idempotency_key = ?", idempotencyKey).First(&prior).Error
	if err == nil {
		return Result{Hash: prior.TxHash, Status: TxStatusPending, Replayed: true}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Result{}, fmt.Errorf("failed to check idempotency record: %w", err)
	}

	var lastErr error
	for _, st := range s.strategies {
		if s.breakerOpen(st.Name()) {
			log.Printf("⏭️  [SUBMITTER] skipping strategy %q, circuit open", st.Name())
			continue
		}

		hash, err := st.SubmitTransaction(ctx, payload)
		if err != nil {
			log.Printf("❌ [SUBMITTER] strategy %q failed for %s: %v", st.Name(), payload.Function, err)
			s.recordFailure(st.Name())
			lastErr = err
			continue
		}
		s.recordSuccess(st.Name())

		rec := models.LedgerSubmission{
			ID:             uuid.NewString(),
			IdempotencyKey: idempotencyKey,
			Operation:      payload.Function,
			TxHash:         hash,
			Strategy:       st.Name(),
		}
		if err := s.db.Create(&rec).Error; err != nil {
			// A concurrent call with the same key won the insert; replay its hash.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				if e := s.db.Where("idempotency_key = ?", idempotencyKey).First(&prior).Error; e == nil {
					return Result{Hash: prior.TxHash, Status: TxStatusPending, Replayed: true}, nil
				}
			}
			return Result{}, fmt.Errorf("failed to record submission: %w", err)
		}

		return Result{Hash: hash, Status: TxStatusPending}, nil
	}

	if lastErr != nil {
		return Result{}, fmt.Errorf("%w: all strategies exhausted: %v", models.ErrTransaction, lastErr)
	}
	return Result{}, fmt.Errorf("%w: no submission strategy available", models.ErrTransaction)
}
