package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// IMAPConfig configures the inbox reader.
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string
	// Insecure dials without TLS (local test servers).
	Insecure bool
	Timeout  time.Duration
	// MaxMessages caps one poll.
	MaxMessages int
}

// IMAPInbox reads unseen messages from one mailbox. Fetches use BODY.PEEK so
// messages stay unseen until acknowledged.
type IMAPInbox struct {
	cfg IMAPConfig
}

// NewIMAPInbox creates an inbox reader for cfg.
func NewIMAPInbox(cfg IMAPConfig) (*IMAPInbox, error) {
	if cfg.Host == "" {
		return nil, eris.New("imap: host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 993
		if cfg.Insecure {
			cfg.Port = 143
		}
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 100
	}
	return &IMAPInbox{cfg: cfg}, nil
}

func (in *IMAPInbox) session(ctx context.Context) (*client.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "imap: dial")
	}
	addr := fmt.Sprintf("%s:%d", in.cfg.Host, in.cfg.Port)
	var (
		c   *client.Client
		err error
	)
	if in.cfg.Insecure {
		c, err = client.Dial(addr)
	} else {
		c, err = client.DialTLS(addr, &tls.Config{ServerName: in.cfg.Host, MinVersion: tls.VersionTLS12})
	}
	if err != nil {
		return nil, eris.Wrapf(err, "imap: dial %s", addr)
	}
	c.Timeout = in.cfg.Timeout
	if err := c.Login(in.cfg.Username, in.cfg.Password); err != nil {
		_ = c.Logout()
		return nil, eris.Wrap(err, "imap: login")
	}
	if _, err := c.Select(in.cfg.Mailbox, false); err != nil {
		_ = c.Logout()
		return nil, eris.Wrapf(err, "imap: select %s", in.cfg.Mailbox)
	}
	return c, nil
}

// PollNewMessages implements Inbox.
func (in *IMAPInbox) PollNewMessages(ctx context.Context) ([]InboundMessage, error) {
	c, err := in.session(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Logout() //nolint:errcheck

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, eris.Wrap(err, "imap: search unseen")
	}
	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > in.cfg.MaxMessages {
		uids = uids[:in.cfg.MaxMessages]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() { done <- c.UidFetch(seqset, items, ch) }()

	var out []InboundMessage
	for m := range ch {
		var body imap.Literal
		for _, lit := range m.Body {
			body = lit
			break
		}
		if body == nil {
			continue
		}
		parsed, err := ParseMessage(body)
		if err != nil {
			zap.L().Warn("imap: skipping unparseable message", zap.Uint32("uid", m.Uid), zap.Error(err))
			continue
		}
		parsed.UID = m.Uid
		out = append(out, *parsed)
	}
	if err := <-done; err != nil {
		return nil, eris.Wrap(err, "imap: fetch")
	}
	zap.L().Debug("imap: polled", zap.Int("messages", len(out)))
	return out, nil
}

// Ack implements Inbox by flagging the messages seen.
func (in *IMAPInbox) Ack(ctx context.Context, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	c, err := in.session(ctx)
	if err != nil {
		return err
	}
	defer c.Logout() //nolint:errcheck

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	flags := []interface{}{imap.SeenFlag}
	if err := c.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
		return eris.Wrap(err, "imap: mark seen")
	}
	return nil
}
