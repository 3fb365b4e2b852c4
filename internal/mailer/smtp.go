package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/quillpress/apiserver/config"
	"github.com/quillpress/apiserver/internal/notify"
	"github.com/wneessen/go-mail"
)

type deliverFunc func(ctx context.Context, msg *mail.Msg) error

// SMTPSender delivers mails through a single SMTP relay. Each Send dials,
// delivers and quits; the context and the configured timeout bound all of it.
type SMTPSender struct {
	deliver  deliverFunc
	fallback string
}

// NewSMTPSender constructs a sender from config. PLAIN auth is used only
// when a username is configured; STARTTLS is used when the relay offers it.
func NewSMTPSender(cfg config.MailConfig) (*SMTPSender, error) {
	opts := []mail.Option{
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithPort(cfg.SMTP.Port),
	}
	if cfg.SMTP.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.SMTP.Timeout))
	}
	if strings.TrimSpace(cfg.SMTP.Username) != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.SMTP.Username),
			mail.WithPassword(cfg.SMTP.Password),
		)
	}

	client, err := mail.NewClient(cfg.SMTP.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}

	return &SMTPSender{
		deliver: func(ctx context.Context, msg *mail.Msg) error {
			return client.DialAndSendWithContext(ctx, msg)
		},
		fallback: cfg.From,
	}, nil
}

// Send delivers mail. Rejections the relay reports as permanent, and
// addresses that cannot be parsed, are wrapped in notify.ErrUndeliverable.
func (s *SMTPSender) Send(ctx context.Context, welcome notify.WelcomeMail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(welcome.To) == "" {
		return notify.ErrNoRecipient
	}
	from := welcome.From
	if strings.TrimSpace(from) == "" {
		from = s.fallback
	}

	msg, err := newMessage(from, welcome)
	if err != nil {
		return fmt.Errorf("%w: %w", notify.ErrUndeliverable, err)
	}
	if err := s.deliver(ctx, msg); err != nil {
		var sendErr *mail.SendError
		if errors.As(err, &sendErr) && !sendErr.IsTemp() {
			return fmt.Errorf("%w: %w", notify.ErrUndeliverable, err)
		}
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func newMessage(from string, welcome notify.WelcomeMail) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(welcome.To); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	msg.Subject(welcome.Subject)
	msg.SetBodyString(mail.TypeTextPlain, welcome.Text)
	return msg, nil
}
