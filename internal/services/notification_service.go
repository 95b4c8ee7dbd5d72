package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/dcurp/api/internal/config"
	"github.com/dcurp/api/internal/utils"
)

// NotificationService sends account security notices.
type NotificationService interface {
	SendLogoutAllNotice(ctx context.Context, email, ip string, revoked int64) error
}

type notificationService struct {
	cfg    *config.Config
	client *sendgrid.Client
}

// NewNotificationService returns a SendGrid-backed notifier. Without an
// API key it logs notices instead of sending them.
func NewNotificationService(cfg *config.Config) NotificationService {
	var client *sendgrid.Client
	if cfg.SendGridAPIKey != "" {
		client = sendgrid.NewSendClient(cfg.SendGridAPIKey)
	}
	return &notificationService{cfg: cfg, client: client}
}

func (s *notificationService) SendLogoutAllNotice(ctx context.Context, email, ip string, revoked int64) error {
	if s.client == nil {
		utils.Logger.WithField("email", email).Info("SendGrid not configured, skipping logout-all notice")
		return nil
	}

	body := fmt.Sprintf(
		"All remembered sessions on your %s account were signed out (%d session(s)) at %s from IP %s.\n"+
			"If this wasn't you, change your password now.",
		s.cfg.AppName, revoked, time.Now().UTC().Format(time.RFC1123), ip,
	)

	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(s.cfg.AppName, s.cfg.SendGridFromEmail))
	message.Subject = s.cfg.AppName + " - Security notice"
	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", email))
	message.AddPersonalizations(p)
	message.AddContent(mail.NewContent("text/plain", body))

	if s.cfg.LDFlag_SendgridSandboxMode {
		ms := mail.NewMailSettings()
		ms.SetSandboxMode(mail.NewSetting(true))
		message.MailSettings = ms
	}

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		utils.Logger.WithError(err).Errorf("Failed to send security notice to %s via SendGrid", email)
		return fmt.Errorf("%w: failed to send email via sendgrid: %v", utils.ErrExternalServiceFailure, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: sendgrid status %d", utils.ErrExternalServiceFailure, resp.StatusCode)
	}
	return nil
}
