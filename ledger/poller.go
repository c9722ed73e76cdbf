// ledger/poller.go
package ledger

import (
	"context"
	"log"
	"time"
)

// Outcome is the result of waiting for a transaction to finalize.
type Outcome string

const (
	OutcomeConfirmed Outcome = "Confirmed"
	OutcomeFailed    Outcome = "Failed"
	OutcomeTimeout   Outcome = "Timeout"
)

// Poller watches a submitted transaction until the ledger finalizes it.
// Timeout never promotes anything: the caller's record stays unconfirmed and
// a later re-poll can still resolve it. Context cancellation (shutdown) stops
// the loop quietly and reports Timeout so the record stays unconfirmed too.
type Poller struct {
	client StatusReader

	InitialInterval time.Duration
	MaxInterval     time.Duration
	DefaultTimeout  time.Duration
}

func NewPoller(client StatusReader) *Poller {
	return &Poller{
		client:          client,
		InitialInterval: 2 * time.Second,
		MaxInterval:     15 * time.Second,
		DefaultTimeout:  60 * time.Second,
	}
}

// AwaitConfirmation polls the transaction status with exponential backoff
// until it confirms, fails, or the timeout budget runs out. A zero timeout
// uses the poller default. Transient read errors count against the budget
// but do not abort the wait.
func (p *Poller) AwaitConfirmation(ctx context.Context, hash string, timeout time.Duration) Outcome {
	if timeout <= 0 {
		timeout = p.DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	interval := p.InitialInterval

	for {
		status, err := p.client.GetTransactionStatus(ctx, hash)
		if err != nil {
			if ctx.Err() != nil {
				return OutcomeTimeout
			}
			log.Printf("⚠️  [POLLER] status check for %s failed: %v", hash, err)
		} else {
			switch status {
			case TxStatusConfirmed:
				return OutcomeConfirmed
			case TxStatusFailed:
				return OutcomeFailed
			}
		}

		if time.Now().Add(interval).After(deadline) {
			return OutcomeTimeout
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return OutcomeTimeout
		case <-timer.C:
		}

		interval *= 2
		if interval > p.MaxInterval {
			interval = p.MaxInterval
		}
	}
}
