package mail

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// SMTPConfig configures the outbound transport.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// TLS is "mandatory", "opportunistic" or "none".
	TLS     string
	Timeout time.Duration
}

type smtpDialer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// SMTPSender sends mail through one SMTP relay.
type SMTPSender struct {
	dialer smtpDialer
}

// NewSMTPSender creates a sender for cfg.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, eris.New("smtp: host is required")
	}
	opts := []gomail.Option{
		gomail.WithTLSPortPolicy(tlsPolicy(cfg.TLS)),
	}
	if cfg.Port > 0 {
		opts = append(opts, gomail.WithPort(cfg.Port))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, gomail.WithTimeout(cfg.Timeout))
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	c, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "smtp: new client")
	}
	return &SMTPSender{dialer: c}, nil
}

func tlsPolicy(s string) gomail.TLSPolicy {
	switch strings.ToLower(s) {
	case "none":
		return gomail.NoTLS
	case "opportunistic":
		return gomail.TLSOpportunistic
	default:
		return gomail.TLSMandatory
	}
}

// Send implements Sender.
func (s *SMTPSender) Send(ctx context.Context, msg *OutboundMessage) (string, error) {
	m, id, err := buildMsg(msg)
	if err != nil {
		return "", err
	}
	if err := s.dialer.DialAndSendWithContext(ctx, m); err != nil {
		return "", eris.Wrapf(err, "smtp: send to %s", msg.To)
	}
	zap.L().Info("smtp: sent",
		zap.String("to", msg.To),
		zap.String("message_id", id),
	)
	return id, nil
}

func buildMsg(msg *OutboundMessage) (*gomail.Msg, string, error) {
	m := gomail.NewMsg()
	if err := m.FromFormat(msg.FromName, msg.FromAddress); err != nil {
		return nil, "", eris.Wrapf(err, "smtp: from %q", msg.FromAddress)
	}
	if err := m.To(msg.To); err != nil {
		return nil, "", eris.Wrapf(err, "smtp: to %q", msg.To)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)
	m.SetDate()

	id := NormalizeMessageID(msg.MessageID)
	if id == "" {
		id = NewMessageID(DomainOf(msg.FromAddress))
	}
	m.SetMessageIDWithValue(id)
	if msg.InReplyTo != "" {
		m.SetGenHeader(gomail.HeaderInReplyTo, "<"+NormalizeMessageID(msg.InReplyTo)+">")
	}
	if len(msg.References) > 0 {
		refs := make([]string, len(msg.References))
		for i, r := range msg.References {
			refs[i] = "<" + NormalizeMessageID(r) + ">"
		}
		m.SetGenHeader(gomail.HeaderReferences, strings.Join(refs, " "))
	}
	return m, id, nil
}
