package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

// ErrRunActive is returned by CreateRun while another ingest run is
// still in the running state. Concurrent runs would double-count
// statistics, so run creation acts as a soft lock.
var ErrRunActive = errors.New("an ingest run is already active")

// UpsertThreadParams carries the observed thread state for one upsert.
// On create, every field is stored; on update only MessageCount and
// LastMessageAt are applied, since first-seen subject, snippet and
// participants are treated as canonical.
type UpsertThreadParams struct {
	ProviderThreadID string
	Subject          string
	Snippet          string
	Participants     []string
	MessageCount     int
	LastMessageAt    time.Time
}

// UpsertMessageParams carries one decoded message for insertion.
type UpsertMessageParams struct {
	ProviderMessageID string
	ThreadID          string
	From              string
	To                []string
	Subject           string
	Body              string
	Direction         string
	SentAt            time.Time
}

// ThreadCounts aggregates persisted thread rows by match state.
type ThreadCounts struct {
	Total     int
	Matched   int
	Unmatched int
}

// Store defines the persistence interface for threads, messages,
// ingest runs and account projections.
type Store interface {
	// === Threads ===

	// UpsertThread creates or updates a thread keyed by its provider
	// ID and reports whether a new row was created. Updates never
	// alter match state.
	UpsertThread(ctx context.Context, p UpsertThreadParams) (*model.Thread, bool, error)
	ThreadByProviderID(ctx context.Context, providerThreadID string) (*model.Thread, error)
	UpdateThreadParticipants(ctx context.Context, threadID string, participants []string) error

	// ApplyMatch marks a thread matched. Automatic strategies are a
	// no-op on an already matched thread; the manual strategy may
	// overwrite an existing automatic match.
	ApplyMatch(ctx context.Context, threadID, accountID, strategy string, confidence float64) error
	CountThreads(ctx context.Context) (ThreadCounts, error)

	// === Messages ===

	// UpsertMessage inserts a message, returning the existing row
	// unchanged when the provider message ID is already present.
	UpsertMessage(ctx context.Context, p UpsertMessageParams) (*model.Message, error)
	MessagesByThread(ctx context.Context, threadID string) ([]model.Message, error)

	// === Ingest runs ===

	CreateRun(ctx context.Context) (*model.IngestRun, error)
	FinalizeRun(ctx context.Context, run *model.IngestRun) error
	RecentRuns(ctx context.Context, limit int) ([]model.IngestRun, error)

	// === Account projections ===

	UpsertAccount(ctx context.Context, a model.Account) error
	FindAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	FindAccountsByDomainFragment(ctx context.Context, fragment string) ([]model.Account, error)

	Close() error
}
