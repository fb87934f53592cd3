package model

import "time"

// Match strategy identifiers, ordered by cascade position. Each strategy
// carries a fixed confidence; ties between strategies cannot occur because
// the cascade stops at the first success.
const (
	StrategyExact         = "exact"
	StrategySnippetEmail  = "snippet_email"
	StrategyDomain        = "domain"
	StrategyReconstructed = "reconstructed"
	StrategyManual        = "manual"
)

// Fixed confidence values per strategy.
const (
	ConfidenceExact         = 1.0
	ConfidenceSnippetEmail  = 0.8
	ConfidenceDomain        = 0.8
	ConfidenceReconstructed = 0.9
	ConfidenceManual        = 1.0
)

// Thread is one provider-level conversation and its match state.
type Thread struct {
	// ID is the internal unique identifier for this thread.
	ID string `json:"id"`

	// ProviderThreadID is the thread's identifier in the mail provider.
	ProviderThreadID string `json:"provider_thread_id"`

	// Subject is the first-seen subject line, treated as canonical.
	Subject string `json:"subject"`

	// Snippet is a short preview of the newest message content.
	Snippet string `json:"snippet"`

	// Participants holds the normalized addresses seen in any header
	// role across the thread's messages. Order is first-seen; the set
	// is deduplicated.
	Participants []string `json:"participants"`

	// MessageCount is the number of messages known for this thread.
	MessageCount int `json:"message_count"`

	// LastMessageAt is the timestamp of the newest known message.
	LastMessageAt time.Time `json:"last_message_at"`

	// AccountID is set once the thread has been matched to an account.
	AccountID *string `json:"account_id,omitempty"`

	// IsMatched reports whether the thread is associated to an account.
	// True iff AccountID, MatchedBy, MatchedAt and Confidence are set.
	IsMatched bool `json:"is_matched"`

	// MatchedBy names the strategy that produced the match.
	MatchedBy string `json:"matched_by,omitempty"`

	// MatchedAt is when the match was applied.
	MatchedAt *time.Time `json:"matched_at,omitempty"`

	// Confidence is the strategy's fixed score in [0,1].
	Confidence float64 `json:"confidence"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
