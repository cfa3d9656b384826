package models

// NotificationKind identifies a billing lifecycle event the notifier can
// announce to a tenant.
type NotificationKind string

const (
	NotifyTrialExpiring    NotificationKind = "trial_expiring"
	NotifyTrialExpired     NotificationKind = "trial_expired"
	NotifyPaymentSucceeded NotificationKind = "payment_succeeded"
	NotifyPaymentFailed    NotificationKind = "payment_failed"
)
