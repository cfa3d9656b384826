package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"dispatchly/internal/models"
	"dispatchly/internal/repositories"

	"github.com/google/uuid"
)

// sweepConcurrency bounds the worker pool. Tenants share no mutable state,
// so the only pressure is on the ledger and the gateway.
const sweepConcurrency = 5

// SweepError records one tenant the sweep could not settle this run.
type SweepError struct {
	TenantID uuid.UUID `json:"tenant_id"`
	Reason   string    `json:"reason"`
}

// SweepReport aggregates one batch run. Failed counts recorded declines;
// Errors lists tenants whose ledger state was left untouched (transient
// gateway problems, orchestration errors).
type SweepReport struct {
	Processed int          `json:"processed"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Errors    []SweepError `json:"errors,omitempty"`
	StartedAt time.Time    `json:"started_at"`
	Duration  string       `json:"duration"`
}

// SweepService finds every tenant due for a charge and runs the orchestrator
// per tenant in isolation. No global transaction spans a sweep: each tenant's
// state commits independently, and one tenant's failure never aborts the
// rest. Re-running a completed sweep is a no-op thanks to the due filter and
// the deterministic idempotency keys.
type SweepService interface {
	RunSweep(ctx context.Context, now time.Time) (*SweepReport, error)
}

type sweepService struct {
	billingRepo repositories.BillingRepository
	chargeSvc   ChargeService
}

func NewSweepService(billingRepo repositories.BillingRepository, chargeSvc ChargeService) SweepService {
	return &sweepService{
		billingRepo: billingRepo,
		chargeSvc:   chargeSvc,
	}
}

func (s *sweepService) RunSweep(ctx context.Context, now time.Time) (*SweepReport, error) {
	started := time.Now()

	due, err := s.billingRepo.ListDueForCharge(ctx, now)
	if err != nil {
		// The one failure mode the sweep itself can have.
		return nil, fmt.Errorf("failed to list tenants due for charge: %w", err)
	}

	report := &SweepReport{StartedAt: started}
	if len(due) == 0 {
		report.Duration = time.Since(started).String()
		log.Printf("[sweep] no tenants due at %s", now.Format(time.RFC3339))
		return report, nil
	}

	log.Printf("[sweep] charging %d due tenants", len(due))

	var mu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, sweepConcurrency)

	for _, record := range due {
		wg.Add(1)
		go func(record *models.TenantBillingRecord) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			outcome, err := s.chargeOne(ctx, record)

			mu.Lock()
			defer mu.Unlock()
			report.Processed++
			switch {
			case err != nil:
				report.Errors = append(report.Errors, SweepError{TenantID: record.TenantID, Reason: err.Error()})
			case outcome.Succeeded:
				report.Succeeded++
			default:
				report.Failed++
			}
		}(record)
	}

	wg.Wait()
	report.Duration = time.Since(started).String()
	log.Printf("[sweep] done: processed=%d succeeded=%d failed=%d errors=%d",
		report.Processed, report.Succeeded, report.Failed, len(report.Errors))
	return report, nil
}

// chargeOne isolates a single tenant's run, converting panics into error
// entries so a bad record cannot take down the sweep.
func (s *sweepService) chargeOne(ctx context.Context, record *models.TenantBillingRecord) (outcome *ChargeOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during charge: %v", r)
			log.Printf("[sweep] panic charging tenant %s: %v", record.TenantID, r)
		}
	}()
	return s.chargeSvc.ChargeTenant(ctx, record)
}
