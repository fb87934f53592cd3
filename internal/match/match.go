// Package match associates ingested threads with known accounts using
// an ordered cascade of heuristics of decreasing confidence. The
// cascade is explicitly best-effort: a thread that no strategy can
// place stays unmatched for manual review, which is an expected
// steady-state outcome rather than an error.
package match

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/decode"
	"github.com/nhle/mailsync/internal/model"
)

// AccountLookup is the query capability the cascade needs against the
// CRM's account projections. Absent accounts are (nil, nil), not errors.
type AccountLookup interface {
	FindAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	FindAccountsByDomainFragment(ctx context.Context, fragment string) ([]model.Account, error)
}

// ThreadMessages loads a thread's persisted messages and saves a
// participant set reconstructed from them, so later passes do not
// re-derive it.
type ThreadMessages interface {
	MessagesByThread(ctx context.Context, threadID string) ([]model.Message, error)
	UpdateThreadParticipants(ctx context.Context, threadID string, participants []string) error
}

// Result is a successful match outcome.
type Result struct {
	AccountID  string
	Strategy   string
	Confidence float64
}

// Matcher runs the matching cascade.
type Matcher struct {
	accounts    AccountLookup
	threads     ThreadMessages
	freeDomains map[string]struct{}
	log         *logrus.Logger
}

// New creates a Matcher. freeDomains lists consumer/webmail domains the
// business-domain strategy must skip.
func New(
	accounts AccountLookup,
	threads ThreadMessages,
	freeDomains []string,
	log *logrus.Logger,
) *Matcher {
	free := make(map[string]struct{}, len(freeDomains))
	for _, d := range freeDomains {
		free[strings.ToLower(d)] = struct{}{}
	}
	return &Matcher{
		accounts:    accounts,
		threads:     threads,
		freeDomains: free,
		log:         log,
	}
}

// Match evaluates the cascade against one thread, stopping at the first
// strategy that succeeds. A nil result means no strategy matched. An
// already-matched thread is never re-evaluated, so running the cascade
// twice cannot downgrade an existing match.
func (m *Matcher) Match(ctx context.Context, t *model.Thread) (*Result, error) {
	if t.IsMatched {
		return nil, nil
	}

	// 1. Exact participant match.
	res, err := m.matchExact(ctx, t.Participants)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}

	// 2. Snippet email extraction, only for threads without participants.
	if len(t.Participants) == 0 {
		res, err = m.matchSnippet(ctx, t.Snippet)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}

	// 3. Unambiguous business-domain match.
	res, err = m.matchDomain(ctx, t.Participants)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}

	// 4. Participants reconstructed from persisted messages, only when
	// the headers yielded none.
	if len(t.Participants) == 0 {
		res, err = m.matchReconstructed(ctx, t)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}

	return nil, nil
}

// matchExact returns the account whose email exactly equals a
// participant address, taking the first participant in insertion order
// that hits.
func (m *Matcher) matchExact(
	ctx context.Context,
	participants []string,
) (*Result, error) {
	for _, addr := range participants {
		account, err := m.accounts.FindAccountByEmail(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("exact lookup for %s: %w", addr, err)
		}
		if account != nil {
			return &Result{
				AccountID:  account.ID,
				Strategy:   model.StrategyExact,
				Confidence: model.ConfidenceExact,
			}, nil
		}
	}
	return nil, nil
}

// matchSnippet scans the thread snippet for address-like text and
// returns the first scanned address that belongs to a known account.
func (m *Matcher) matchSnippet(
	ctx context.Context,
	snippet string,
) (*Result, error) {
	for _, addr := range decode.Scan(snippet) {
		account, err := m.accounts.FindAccountByEmail(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("snippet lookup for %s: %w", addr, err)
		}
		if account != nil {
			return &Result{
				AccountID:  account.ID,
				Strategy:   model.StrategySnippetEmail,
				Confidence: model.ConfidenceSnippetEmail,
			}, nil
		}
	}
	return nil, nil
}

// matchDomain matches a participant's domain against account emails.
// Free/consumer provider domains are skipped, and a domain shared by
// two or more accounts is treated as no match.
func (m *Matcher) matchDomain(
	ctx context.Context,
	participants []string,
) (*Result, error) {
	for _, addr := range participants {
		at := strings.LastIndex(addr, "@")
		if at < 0 {
			continue
		}
		domain := addr[at+1:]
		if _, free := m.freeDomains[domain]; free {
			continue
		}

		accounts, err := m.accounts.FindAccountsByDomainFragment(ctx, "@"+domain)
		if err != nil {
			return nil, fmt.Errorf("domain lookup for %s: %w", domain, err)
		}
		if len(accounts) != 1 {
			if len(accounts) > 1 {
				m.log.WithFields(logrus.Fields{
					"domain":   domain,
					"accounts": len(accounts),
				}).Debug("ambiguous domain skipped")
			}
			continue
		}

		return &Result{
			AccountID:  accounts[0].ID,
			Strategy:   model.StrategyDomain,
			Confidence: model.ConfidenceDomain,
		}, nil
	}
	return nil, nil
}

// matchReconstructed re-derives a participant set from the thread's
// persisted messages, saves it back onto the thread, and retries the
// exact strategy against it with its own confidence.
func (m *Matcher) matchReconstructed(
	ctx context.Context,
	t *model.Thread,
) (*Result, error) {
	messages, err := m.threads.MessagesByThread(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("loading messages for thread %s: %w", t.ID, err)
	}
	if len(messages) == 0 {
		return nil, nil
	}

	sets := make([]decode.HeaderSet, 0, len(messages))
	for _, msg := range messages {
		sets = append(sets, decode.HeaderSet{From: msg.From, To: msg.To})
	}
	participants := decode.Participants(sets...)
	if len(participants) == 0 {
		return nil, nil
	}

	// Persist the reconstructed set so later passes see it on the thread.
	if err := m.threads.UpdateThreadParticipants(ctx, t.ID, participants); err != nil {
		return nil, fmt.Errorf("saving reconstructed participants: %w", err)
	}
	t.Participants = participants

	res, err := m.matchExact(ctx, participants)
	if err != nil || res == nil {
		return res, err
	}

	return &Result{
		AccountID:  res.AccountID,
		Strategy:   model.StrategyReconstructed,
		Confidence: model.ConfidenceReconstructed,
	}, nil
}
