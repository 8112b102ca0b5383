// Package mailer renders and delivers transactional email over SMTP.
// SMTP credentials come from the platform settings at send time, so an
// admin can change them without a restart.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/pawanbishnoiii/vk1-sub001/internal/metrics"
	"github.com/pawanbishnoiii/vk1-sub001/internal/model"
)

var (
	ErrUnknownType  = errors.New("mailer: unknown email type")
	ErrSMTPDisabled = errors.New("mailer: smtp is disabled")
	ErrNoRecipient  = errors.New("mailer: user has no email address")
)

// Message is one rendered email.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
}

// Transport delivers a rendered message with the given SMTP settings.
type Transport interface {
	Deliver(ctx context.Context, smtp model.SMTPSettings, msg Message) error
}

// SMTPTransport delivers through go-mail.
type SMTPTransport struct {
	Timeout time.Duration
}

func (t SMTPTransport) Deliver(ctx context.Context, s model.SMTPSettings, msg Message) error {
	m := mail.NewMsg()
	if err := m.FromFormat(s.FromName, s.FromEmail); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if err := m.AddToFormat(msg.ToName, msg.To); err != nil {
		return fmt.Errorf("to address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)

	opts := []mail.Option{
		mail.WithPort(s.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if t.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(t.Timeout))
	}
	if s.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.Username),
			mail.WithPassword(s.Password),
		)
	}

	c, err := mail.NewClient(s.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// Store is the part of the persistence layer the mailer reads.
type Store interface {
	GetSettings(ctx context.Context) (*model.PlatformSettings, error)
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
}

// Mailer renders templates and hands them to a Transport.
type Mailer struct {
	store     Store
	transport Transport
}

// New creates a mailer.
func New(st Store, transport Transport) *Mailer {
	return &Mailer{store: st, transport: transport}
}

// Send renders emailType for userID and delivers it. Returns ErrSMTPDisabled
// without contacting any server when SMTP is switched off.
func (m *Mailer) Send(ctx context.Context, userID, emailType string, data map[string]any) error {
	if _, ok := catalog[emailType]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, emailType)
	}

	settings, err := m.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !settings.SMTP.Enabled || settings.SMTP.Host == "" {
		metrics.EmailsSent.WithLabelValues(emailType, "skipped").Inc()
		slog.Info("email skipped, smtp disabled", "user_id", userID, "type", emailType)
		return ErrSMTPDisabled
	}

	profile, err := m.store.GetProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("load profile %s: %w", userID, err)
	}
	if profile.Email == "" {
		return ErrNoRecipient
	}

	subject, html, err := Render(emailType, profile.DisplayName, data)
	if err != nil {
		return err
	}

	err = m.transport.Deliver(ctx, settings.SMTP, Message{
		To:      profile.Email,
		ToName:  profile.DisplayName,
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		metrics.EmailsSent.WithLabelValues(emailType, "failed").Inc()
		slog.Error("email failed", "user_id", userID, "type", emailType, "err", err)
		return err
	}

	metrics.EmailsSent.WithLabelValues(emailType, "sent").Inc()
	slog.Info("email sent", "user_id", userID, "type", emailType)
	return nil
}
