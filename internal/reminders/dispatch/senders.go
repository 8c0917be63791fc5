package dispatch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	mail "github.com/go-mail/mail/v2"

	"reminder-engine/internal/common/aws"
	"reminder-engine/internal/common/config"
	"reminder-engine/internal/common/validation"
	"reminder-engine/internal/models"
)

// ErrInvalidAddress marks a recipient address the channel cannot deliver to.
var ErrInvalidAddress = errors.New("invalid address")

// Delivery is one rendered notification ready to hand to a transport.
type Delivery struct {
	NotificationID string
	Channel        models.Channel
	To             string
	Subject        string
	Body           string
}

// Sender delivers on one channel and returns the transport's message id.
type Sender interface {
	Send(ctx context.Context, d Delivery) (string, error)
}

// EmailTransport is satisfied by the SES client and SMTPTransport.
type EmailTransport interface {
	SendEmail(ctx context.Context, to, subject, body string) (string, error)
}

// SMSTransport is satisfied by the SNS client.
type SMSTransport interface {
	SendSMS(ctx context.Context, phone, message string) (string, error)
}

type EmailSender struct {
	transport EmailTransport
}

func NewEmailSender(t EmailTransport) *EmailSender {
	return &EmailSender{transport: t}
}

func (s *EmailSender) Send(ctx context.Context, d Delivery) (string, error) {
	if !validation.ValidateEmail(d.To) {
		return "", fmt.Errorf("%w: email %q", ErrInvalidAddress, d.To)
	}
	return s.transport.SendEmail(ctx, d.To, d.Subject, d.Body)
}

type SMSSender struct {
	transport SMSTransport
}

func NewSMSSender(t SMSTransport) *SMSSender {
	return &SMSSender{transport: t}
}

func (s *SMSSender) Send(ctx context.Context, d Delivery) (string, error) {
	if !validation.ValidatePhone(d.To) {
		return "", fmt.Errorf("%w: phone %q", ErrInvalidAddress, d.To)
	}
	return s.transport.SendSMS(ctx, d.To, d.Body)
}

// InAppSender has nothing to transmit: the notification row is the message.
type InAppSender struct{}

func (InAppSender) Send(context.Context, Delivery) (string, error) {
	return "", nil
}

// MailDialer is satisfied by *mail.Dialer.
type MailDialer interface {
	DialAndSend(m ...*mail.Message) error
}

// SMTPTransport sends email through an SMTP relay.
type SMTPTransport struct {
	dialer MailDialer
	from   string
}

func NewSMTPTransport(cfg config.SMTPConfig) *SMTPTransport {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.UseTLS {
		d.StartTLSPolicy = mail.MandatoryStartTLS
	}
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.SkipTLSVerify,
	}
	return &SMTPTransport{dialer: d, from: cfg.DefaultFrom}
}

func NewSMTPTransportWithDialer(d MailDialer, from string) *SMTPTransport {
	return &SMTPTransport{dialer: d, from: from}
}

// SendEmail returns no message id; SMTP relays do not report one.
func (t *SMTPTransport) SendEmail(_ context.Context, to, subject, body string) (string, error) {
	m := mail.NewMessage()
	m.SetHeader("From", t.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := t.dialer.DialAndSend(m); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return "", nil
}

// NewSenders builds the channel senders enabled in cfg. IN_APP is always available.
func NewSenders(ctx context.Context, cfg *config.Config) (map[models.Channel]Sender, error) {
	senders := map[models.Channel]Sender{models.ChannelInApp: InAppSender{}}
	integ := cfg.Integrations

	switch {
	case cfg.Dispatch.EmailBackend == "smtp":
		senders[models.ChannelEmail] = NewEmailSender(NewSMTPTransport(integ.SMTP))
	case integ.AWS.SES.Enabled:
		ses, err := aws.NewSESClient(ctx, integ.AWS.Region, integ.AWS.SES.FromEmail)
		if err != nil {
			return nil, fmt.Errorf("ses client: %w", err)
		}
		senders[models.ChannelEmail] = NewEmailSender(ses)
	}

	if integ.AWS.SNS.Enabled {
		sns, err := aws.NewSNSClient(ctx, integ.AWS.Region, integ.AWS.SNS.DefaultSMSSenderID)
		if err != nil {
			return nil, fmt.Errorf("sns client: %w", err)
		}
		senders[models.ChannelSMS] = NewSMSSender(sns)
	}
	return senders, nil
}
