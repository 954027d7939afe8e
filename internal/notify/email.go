package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail"

	"vpn-access-bot/internal/config"
)

const emailSubject = "VPN access"

// EmailSender delivers bot messages over SMTP. Channel addresses are
// user@domain, so they double as mail addresses.
type EmailSender struct {
	client *mail.Client
	from   string
	logger *slog.Logger
}

func NewEmailSender(cfg config.NotifyConfig) (*EmailSender, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}

	return &EmailSender{
		client: client,
		from:   cfg.From,
		logger: slog.With("component", "notify"),
	}, nil
}

func (s *EmailSender) Send(ctx context.Context, to, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("invalid from address %q: %w", s.from, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address %q: %w", to, err)
	}
	msg.Subject(emailSubject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}

	s.logger.Debug("Notification delivered", "to", to)
	return nil
}
