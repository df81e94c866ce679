package usecase

import (
	"net/url"
	"strings"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
)

const (
	subjectRegistrationConfirmation = "Registration Confirmation"
	subjectResendVerification       = "Resend Registration Token"
	subjectPasswordReset            = "Reset Password"

	messageRegistrationConfirmation = "You registered successfully. To confirm your registration, please click on the below link."
	messageResendVerification       = "We will send an email with a new registration token to your email account."
	messagePasswordReset            = "Please open the following URL to reset your password."
)

func (s *AccountService) confirmationNotification(kind domain.NotificationKind, account domain.Account, appURL, raw string) domain.Notification {
	subject, message := subjectRegistrationConfirmation, messageRegistrationConfirmation
	if kind == domain.NotificationResendVerification {
		subject, message = subjectResendVerification, messageResendVerification
	}
	link := baseURL(appURL) + "/registrationConfirm?token=" + url.QueryEscape(raw)
	return s.notification(kind, account, subject, message, link)
}

func (s *AccountService) resetNotification(account domain.Account, appURL, raw string) domain.Notification {
	link := baseURL(appURL) + "/user/changePassword?id=" + url.QueryEscape(account.ID) + "&token=" + url.QueryEscape(raw)
	return s.notification(domain.NotificationPasswordReset, account, subjectPasswordReset, messagePasswordReset, link)
}

func (s *AccountService) notification(kind domain.NotificationKind, account domain.Account, subject, message, link string) domain.Notification {
	return domain.Notification{
		Kind:      kind,
		AccountID: account.ID,
		From:      s.cfg.SupportEmail,
		To:        account.Email,
		Subject:   subject,
		Body:      message + " \r\n" + link,
	}
}

func baseURL(appURL string) string {
	return strings.TrimRight(strings.TrimSpace(appURL), "/")
}
