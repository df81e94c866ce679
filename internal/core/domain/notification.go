package domain

// NotificationKind identifies the email template a notification was built from.
type NotificationKind string

const (
	NotificationRegistrationConfirmation NotificationKind = "registration_confirmation"
	NotificationResendVerification       NotificationKind = "resend_verification"
	NotificationPasswordReset            NotificationKind = "password_reset"
)

// Notification is an outbound email produced by an account operation and
// dispatched by the caller.
type Notification struct {
	Kind      NotificationKind
	AccountID string
	From      string
	To        string
	Subject   string
	Body      string
}
