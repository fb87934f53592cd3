package model

import "time"

// Message direction relative to the operator's own domains.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message is one email within a thread. Messages are created once at
// ingestion time and never mutated afterwards; ProviderMessageID makes
// creation idempotent across repeated ingestion passes.
type Message struct {
	// ID is the internal unique identifier for this message.
	ID string `json:"id"`

	// ProviderMessageID is the message's identifier in the mail provider.
	ProviderMessageID string `json:"provider_message_id"`

	// ThreadID references the owning thread's internal ID.
	ThreadID string `json:"thread_id"`

	// From is the normalized sender address.
	From string `json:"from"`

	// To holds the normalized recipient addresses in header order.
	To []string `json:"to"`

	// Subject is the message subject, "No Subject" when absent.
	Subject string `json:"subject"`

	// Body is the decoded plain-text content.
	Body string `json:"body"`

	// Direction is inbound or outbound, derived from the sender domain.
	Direction string `json:"direction"`

	// SentAt is the provider's timestamp for the message.
	SentAt time.Time `json:"sent_at"`

	CreatedAt time.Time `json:"created_at"`
}
