package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// InquiryStatus tracks an emailed price inquiry.
type InquiryStatus string

const (
	InquirySent    InquiryStatus = "sent"
	InquiryReplied InquiryStatus = "replied"
	InquiryExpired InquiryStatus = "expired"
)

// Inquiry is a price request emailed to a provider that has no price data.
type Inquiry struct {
	ID             string        `json:"id"`
	ProviderID     string        `json:"provider_id"`
	ServiceType    string        `json:"service_type"`
	Status         InquiryStatus `json:"status"`
	ToAddress      string        `json:"to_address"`
	Subject        string        `json:"subject"`
	MessageID      string        `json:"message_id"`
	References     []string      `json:"references,omitempty"`
	ReplyMessageID string        `json:"reply_message_id,omitempty"`
	SentAt         time.Time     `json:"sent_at"`
	RepliedAt      *time.Time    `json:"replied_at,omitempty"`
}

// ErrInvalidTransition is returned when an inquiry status would regress.
var ErrInvalidTransition = eris.New("inquiry: invalid status transition")

// CanTransition reports whether from -> to is allowed. Only sent inquiries
// move, and only forward.
func CanTransition(from, to InquiryStatus) bool {
	return from == InquirySent && (to == InquiryReplied || to == InquiryExpired)
}

// Transition moves the inquiry to a new status.
func (i *Inquiry) Transition(to InquiryStatus, at time.Time) error {
	if !CanTransition(i.Status, to) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", i.Status, to)
	}
	i.Status = to
	if to == InquiryReplied {
		t := at
		i.RepliedAt = &t
	}
	return nil
}

// InquiryState is the per-provider status read exposed to the UI.
type InquiryState string

const (
	InquiryStateNone    InquiryState = "none"
	InquiryStateSent    InquiryState = "sent"
	InquiryStateReplied InquiryState = "replied"
)
