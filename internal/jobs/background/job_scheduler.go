package background

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"dispatchly/internal/models"
	"dispatchly/internal/repositories"
	"dispatchly/internal/services"

	"github.com/go-co-op/gocron/v2"
)

const (
	sweepInterval    = 24 * time.Hour
	reminderInterval = 24 * time.Hour

	// trialReminderWindow is how far ahead the reminder job looks for
	// expiring trials.
	trialReminderWindow = 3 * 24 * time.Hour

	// expiredLookback is how far back the job looks for just-lapsed unpaid
	// trials. Slightly more than the job interval so nothing falls between
	// two runs.
	expiredLookback = 25 * time.Hour
)

// JobScheduler manages the recurring billing jobs.
type JobScheduler struct {
	scheduler   gocron.Scheduler
	sweepSvc    services.SweepService
	notifier    services.NotificationService
	billingRepo repositories.BillingRepository
	userRepo    repositories.UserRepository
	jobs        map[string]gocron.Job
	mu          sync.RWMutex
}

func NewJobScheduler(
	sweepSvc services.SweepService,
	notifier services.NotificationService,
	billingRepo repositories.BillingRepository,
	userRepo repositories.UserRepository,
) *JobScheduler {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}

	js := &JobScheduler{
		scheduler:   scheduler,
		sweepSvc:    sweepSvc,
		notifier:    notifier,
		billingRepo: billingRepo,
		userRepo:    userRepo,
		jobs:        make(map[string]gocron.Job),
	}

	js.registerJobs()
	return js
}

func (js *JobScheduler) Start() error {
	log.Printf("Starting background job scheduler")
	js.scheduler.Start()
	return nil
}

func (js *JobScheduler) Stop() error {
	log.Printf("Stopping background job scheduler")
	return js.scheduler.Shutdown()
}

func (js *JobScheduler) registerJobs() {
	// Singleton mode: if a sweep is still running when the next trigger
	// fires, the trigger reschedules instead of overlapping. Overlap would be
	// harmless anyway (deterministic idempotency keys), just noisy.
	sweepJob, err := js.scheduler.NewJob(
		gocron.DurationJob(sweepInterval),
		gocron.NewTask(js.runBillingSweep, context.Background()),
		gocron.WithName("billing-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		log.Printf("Failed to create billing sweep job: %v", err)
	} else {
		js.jobs["billing-sweep"] = sweepJob
	}

	reminderJob, err := js.scheduler.NewJob(
		gocron.DurationJob(reminderInterval),
		gocron.NewTask(js.sendTrialReminders, context.Background()),
		gocron.WithName("trial-reminders"),
	)
	if err != nil {
		log.Printf("Failed to create trial reminder job: %v", err)
	} else {
		js.jobs["trial-reminders"] = reminderJob
	}

	log.Printf("Registered %d background jobs", len(js.jobs))
}

func (js *JobScheduler) runBillingSweep(ctx context.Context) error {
	report, err := js.sweepSvc.RunSweep(ctx, time.Now())
	if err != nil {
		log.Printf("Billing sweep failed: %v", err)
		return err
	}
	log.Printf("Billing sweep completed: processed=%d succeeded=%d failed=%d errors=%d",
		report.Processed, report.Succeeded, report.Failed, len(report.Errors))
	return nil
}

// sendTrialReminders sends advisory trial_expiring notices for trials ending
// within the window. Advisory only: never touches subscription state.
func (js *JobScheduler) sendTrialReminders(ctx context.Context) error {
	now := time.Now()
	expiring, err := js.billingRepo.ListTrialsExpiringWithin(ctx, now, trialReminderWindow)
	if err != nil {
		log.Printf("Failed to list expiring trials: %v", err)
		return err
	}

	for _, record := range expiring {
		contact, err := js.userRepo.GetBillingContact(ctx, record.TenantID)
		if err != nil {
			log.Printf("No billing contact for tenant %s: %v", record.TenantID, err)
			continue
		}
		daysLeft := int(math.Ceil(record.TrialEndsAt.Sub(now).Hours() / 24))
		js.notifier.NotifyOnce(ctx, models.NotifyTrialExpiring, record.TenantID, contact.Email, map[string]interface{}{
			"days_left": daysLeft,
		})
	}

	// Just-lapsed trials with no card on file get a trial_expired notice;
	// tenants with a card are picked up by the charge sweep instead.
	expired, err := js.billingRepo.ListTrialsExpiredWithin(ctx, now, expiredLookback)
	if err != nil {
		log.Printf("Failed to list expired trials: %v", err)
		return err
	}
	for _, record := range expired {
		contact, err := js.userRepo.GetBillingContact(ctx, record.TenantID)
		if err != nil {
			log.Printf("No billing contact for tenant %s: %v", record.TenantID, err)
			continue
		}
		js.notifier.NotifyOnce(ctx, models.NotifyTrialExpired, record.TenantID, contact.Email, nil)
	}

	log.Printf("Trial reminders processed: expiring=%d expired=%d", len(expiring), len(expired))
	return nil
}

// GetJobStatus returns information about scheduled jobs.
func (js *JobScheduler) GetJobStatus() map[string]interface{} {
	js.mu.RLock()
	defer js.mu.RUnlock()

	names := make([]string, 0, len(js.jobs))
	for name := range js.jobs {
		names = append(names, name)
	}
	return map[string]interface{}{
		"total_jobs": len(js.jobs),
		"jobs":       names,
	}
}
