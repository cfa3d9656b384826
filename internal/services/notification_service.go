package services

import (
	"bytes"
	"context"
	"log"
	"text/template"
	"time"

	"dispatchly/internal/caching"
	"dispatchly/internal/models"

	"github.com/google/uuid"
)

// notifyTimeout bounds every notifier call so a slow delivery path can never
// block the billing-state transition it describes.
const notifyTimeout = 5 * time.Second

// dedupeWindow suppresses repeats of the same reminder kind for a tenant.
const dedupeWindow = 24 * time.Hour

// NotificationService announces billing lifecycle events to tenants.
// Fire-and-forget: delivery errors are logged and swallowed, callers never
// roll back state because a notification failed.
type NotificationService interface {
	Notify(ctx context.Context, kind models.NotificationKind, tenantEmail string, data map[string]interface{})
	NotifyOnce(ctx context.Context, kind models.NotificationKind, tenantID uuid.UUID, tenantEmail string, data map[string]interface{})
}

type notificationService struct {
	cacheSvc  caching.CacheService
	templates map[models.NotificationKind]*template.Template
}

var notificationBodies = map[models.NotificationKind]string{
	models.NotifyTrialExpiring:    "Your trial ends in {{.days_left}} day(s). Add a payment method to keep your workspace active.",
	models.NotifyTrialExpired:     "Your trial has ended. Update your payment method to restore access.",
	models.NotifyPaymentSucceeded: "Payment of ${{.amount}} for the {{.plan}} plan succeeded. Next billing date: {{.next_billing_date}}.",
	models.NotifyPaymentFailed:    "We could not charge your card for the {{.plan}} plan ({{.reason}}). Please update your payment method.",
}

func NewNotificationService(cacheSvc caching.CacheService) NotificationService {
	templates := make(map[models.NotificationKind]*template.Template, len(notificationBodies))
	for kind, body := range notificationBodies {
		templates[kind] = template.Must(template.New(string(kind)).Parse(body))
	}
	return &notificationService{
		cacheSvc:  cacheSvc,
		templates: templates,
	}
}

// Notify renders and dispatches a notification. Delivery is handed to the
// external mail pipeline; at this boundary the send is logged.
func (s *notificationService) Notify(ctx context.Context, kind models.NotificationKind, tenantEmail string, data map[string]interface{}) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	tmpl, ok := s.templates[kind]
	if !ok {
		log.Printf("[notify] unknown notification kind %q, dropping", kind)
		return
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		log.Printf("[notify] failed to render %s for %s: %v", kind, tenantEmail, err)
		return
	}

	select {
	case <-ctx.Done():
		log.Printf("[notify] timed out sending %s to %s", kind, tenantEmail)
	default:
		log.Printf("[EMAIL] kind=%s to=%s body=%s", kind, tenantEmail, body.String())
	}
}

// NotifyOnce sends at most one notification of the given kind per tenant per
// 24h window. Used by the reminder jobs, which run daily and must not nag.
func (s *notificationService) NotifyOnce(ctx context.Context, kind models.NotificationKind, tenantID uuid.UUID, tenantEmail string, data map[string]interface{}) {
	sent, err := s.cacheSvc.WasNotified(ctx, tenantID, string(kind))
	if err != nil {
		// Cache outage degrades to possibly-duplicate reminders, never to
		// dropped payment events.
		log.Printf("[notify] dedupe check failed for tenant %s: %v", tenantID, err)
	}
	if sent {
		return
	}
	s.Notify(ctx, kind, tenantEmail, data)
	if err := s.cacheSvc.MarkNotified(ctx, tenantID, string(kind), dedupeWindow); err != nil {
		log.Printf("[notify] failed to mark %s sent for tenant %s: %v", kind, tenantID, err)
	}
}
