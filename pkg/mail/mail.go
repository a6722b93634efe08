// Package mail sends price inquiries over SMTP and reads replies over IMAP.
package mail

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OutboundMessage is a plain-text email to send.
type OutboundMessage struct {
	FromName    string
	FromAddress string
	To          string
	Subject     string
	Body        string
	// MessageID is generated when empty.
	MessageID  string
	InReplyTo  string
	References []string
}

// InboundMessage is a parsed message from the inbox.
type InboundMessage struct {
	UID        uint32
	MessageID  string
	InReplyTo  []string
	References []string
	From       string
	Subject    string
	Date       time.Time
	Body       string
}

// ThreadIDs returns the message IDs this message replies to, In-Reply-To first.
func (m InboundMessage) ThreadIDs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range append(append([]string{}, m.InReplyTo...), m.References...) {
		id = NormalizeMessageID(id)
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Sender dispatches outbound mail and returns the normalized Message-ID.
type Sender interface {
	Send(ctx context.Context, msg *OutboundMessage) (string, error)
}

// Inbox lists unprocessed inbound messages. Messages stay pending until
// acknowledged.
type Inbox interface {
	PollNewMessages(ctx context.Context) ([]InboundMessage, error)
	Ack(ctx context.Context, uids []uint32) error
}

// NewMessageID returns a fresh Message-ID (without angle brackets) under domain.
func NewMessageID(domain string) string {
	if domain == "" {
		domain = "localhost"
	}
	return uuid.New().String() + "@" + domain
}

// NormalizeMessageID strips whitespace and angle brackets.
func NormalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}

// DomainOf returns the domain part of an address.
func DomainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return strings.ToLower(strings.Trim(addr[i+1:], "> "))
	}
	return ""
}
