// services/scheduler.go
package services

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartLifecycleScheduler runs the time-driven policy transitions:
// expiring policies whose term has elapsed, and flagging premium payments
// that have sat unconfirmed long enough to need an operator's eye.
func (s *PolicyService) StartLifecycleScheduler(premiums *PremiumService) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every hour: expire Active policies past their end date.
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() {
			expired, err := s.ExpireDue(time.Now().UTC())
			if err != nil {
				log.Printf("[Scheduler] expiry sweep error: %v", err)
				return
			}
			if expired > 0 {
				log.Printf("⌛ [Scheduler] expired %d policy(ies)", expired)
			}
		}),
	)

	// Every 10 minutes: surface payments stuck in Submitted.
	_, _ = sched.NewJob(
		gocron.DurationJob(10*time.Minute),
		gocron.NewTask(func() {
			stale, err := premiums.StaleSubmitted(30 * time.Minute)
			if err != nil {
				log.Printf("[Scheduler] stale payment sweep error: %v", err)
				return
			}
			for _, p := range stale {
				log.Printf("⚠️  [Scheduler] payment %s (policy %s period %d) unconfirmed since %s",
					p.ID, p.PolicyID, p.PeriodIndex, p.CreatedAt.Format(time.RFC3339))
			}
		}),
	)
}
