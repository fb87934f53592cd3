// Package ingest orchestrates one end-to-end ingestion pass: fetch all
// provider threads, decode them, persist threads and messages, run the
// matching cascade, and finalize a persisted run record with aggregate
// statistics and an error log.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/decode"
	"github.com/nhle/mailsync/internal/match"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
	"github.com/nhle/mailsync/internal/store"
)

// ErrProviderUnavailable wraps a failure of the outer fetch step: the
// provider could not be walked at all, so the run is finalized as
// failed and no summary is produced. Callers can distinguish this from
// "completed with N errors", which still returns a summary.
var ErrProviderUnavailable = errors.New("provider unavailable")

// ThreadSource is the provider capability the coordinator drives.
type ThreadSource interface {
	FetchAllThreads(ctx context.Context) (*provider.FetchResult, error)
}

// Coordinator runs ingestion passes.
type Coordinator struct {
	source          ThreadSource
	store           store.Store
	matcher         *match.Matcher
	operatorDomains map[string]struct{}
	log             *logrus.Logger
}

// New creates a Coordinator. operatorDomains are the operator's own
// sending domains, used to classify message direction.
func New(
	source ThreadSource,
	st store.Store,
	matcher *match.Matcher,
	operatorDomains []string,
	log *logrus.Logger,
) *Coordinator {
	domains := make(map[string]struct{}, len(operatorDomains))
	for _, d := range operatorDomains {
		domains[strings.ToLower(d)] = struct{}{}
	}
	return &Coordinator{
		source:          source,
		store:           st,
		matcher:         matcher,
		operatorDomains: domains,
		log:             log,
	}
}

// Run executes one ingestion pass and returns its summary. A failure
// while processing a single thread is recorded in the run's error log
// and processing continues; only a failure of the outer fetch (or
// cancellation) finalizes the run as failed and returns an error. The
// run record reaches a terminal state on every path.
func (c *Coordinator) Run(ctx context.Context) (*model.IngestRunSummary, error) {
	run, err := c.store.CreateRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting ingest run: %w", err)
	}

	c.log.WithFields(logrus.Fields{"run": run.ID}).Info("ingest run started")

	result, err := c.source.FetchAllThreads(ctx)
	if err != nil {
		c.failRun(run, fmt.Sprintf("fetching threads: %v", err))
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	for _, raw := range result.Threads {
		if ctx.Err() != nil {
			c.failRun(run, fmt.Sprintf("ingest cancelled: %v", ctx.Err()))
			return nil, ctx.Err()
		}

		run.TotalThreads++
		created, err := c.processThread(ctx, raw)
		if err != nil {
			run.ErrorCount++
			run.ErrorLog = append(run.ErrorLog, fmt.Sprintf(
				"thread %s: %v", raw.ID, err,
			))
			c.log.WithFields(logrus.Fields{
				"run":    run.ID,
				"thread": raw.ID,
			}).WithError(err).Error("thread ingestion failed")
			continue
		}
		if created {
			run.NewThreads++
		} else {
			run.UpdatedThreads++
		}
	}

	// Degraded detail fetches are warnings, visible in the log but not
	// counted as errors.
	for _, w := range result.Warnings {
		run.ErrorLog = append(run.ErrorLog, "warn: "+w)
	}

	counts, err := c.store.CountThreads(ctx)
	if err != nil {
		c.failRun(run, fmt.Sprintf("counting threads: %v", err))
		return nil, fmt.Errorf("counting threads: %w", err)
	}
	run.MatchedThreads = counts.Matched
	run.UnmatchedThreads = counts.Unmatched

	run.Status = model.RunStatusCompleted
	if err := c.store.FinalizeRun(ctx, run); err != nil {
		return nil, fmt.Errorf("finalizing run %s: %w", run.ID, err)
	}

	c.log.WithFields(logrus.Fields{
		"run":       run.ID,
		"total":     run.TotalThreads,
		"new":       run.NewThreads,
		"updated":   run.UpdatedThreads,
		"matched":   run.MatchedThreads,
		"unmatched": run.UnmatchedThreads,
		"errors":    run.ErrorCount,
	}).Info("ingest run completed")

	return run.Summary(), nil
}

// processThread decodes one raw thread, upserts it with its messages,
// and applies the matching cascade. The returned bool reports whether
// the thread row was newly created.
func (c *Coordinator) processThread(
	ctx context.Context,
	raw provider.RawThread,
) (bool, error) {
	if raw.ID == "" {
		return false, errors.New("missing provider thread id")
	}

	decoded := make([]decodedMessage, 0, len(raw.Messages))
	for _, msg := range raw.Messages {
		dm, err := decodeMessage(msg)
		if err != nil {
			return false, fmt.Errorf("decoding message %s: %w", msg.ID, err)
		}
		decoded = append(decoded, dm)
	}

	sets := make([]decode.HeaderSet, 0, len(decoded))
	for _, dm := range decoded {
		sets = append(sets, dm.headers)
	}
	participants := decode.Participants(sets...)

	subject := decode.DefaultSubject
	var lastMessageAt time.Time
	for i, dm := range decoded {
		if i == 0 {
			subject = dm.headers.Subject
		}
		if dm.sentAt.After(lastMessageAt) {
			lastMessageAt = dm.sentAt
		}
	}

	thread, created, err := c.store.UpsertThread(ctx, store.UpsertThreadParams{
		ProviderThreadID: raw.ID,
		Subject:          subject,
		Snippet:          raw.Snippet,
		Participants:     participants,
		MessageCount:     len(decoded),
		LastMessageAt:    lastMessageAt,
	})
	if err != nil {
		return false, err
	}

	for i, dm := range decoded {
		_, err := c.store.UpsertMessage(ctx, store.UpsertMessageParams{
			ProviderMessageID: raw.Messages[i].ID,
			ThreadID:          thread.ID,
			From:              dm.headers.From,
			To:                dm.headers.To,
			Subject:           dm.headers.Subject,
			Body:              dm.body,
			Direction:         c.direction(dm.headers.From),
			SentAt:            dm.sentAt,
		})
		if err != nil {
			return created, err
		}
	}

	if !thread.IsMatched {
		res, err := c.matcher.Match(ctx, thread)
		if err != nil {
			return created, fmt.Errorf("matching: %w", err)
		}
		if res != nil {
			err = c.store.ApplyMatch(ctx,
				thread.ID, res.AccountID, res.Strategy, res.Confidence,
			)
			if err != nil {
				return created, err
			}
			c.log.WithFields(logrus.Fields{
				"thread":     thread.ID,
				"account":    res.AccountID,
				"strategy":   res.Strategy,
				"confidence": res.Confidence,
			}).Info("thread matched")
		}
	}

	return created, nil
}

// decodedMessage is one provider message after decoding.
type decodedMessage struct {
	headers decode.HeaderSet
	body    string
	sentAt  time.Time
}

// decodeMessage extracts headers and body from either the structured
// payload or, failing that, the raw RFC 2822 blob.
func decodeMessage(msg provider.RawMessage) (decodedMessage, error) {
	dm := decodedMessage{
		headers: decode.HeaderSet{Subject: decode.DefaultSubject},
	}
	if msg.InternalDate > 0 {
		dm.sentAt = time.UnixMilli(msg.InternalDate).UTC()
	}

	switch {
	case msg.Payload != nil:
		dm.headers = decode.Headers(msg.Payload)
		dm.body = decode.Body(msg.Payload)
	case msg.Raw != "":
		hs, body, err := decode.RawRFC822(msg.Raw)
		if err != nil {
			return dm, err
		}
		dm.headers = hs
		dm.body = body
	}

	return dm, nil
}

// direction classifies a message by its sender's domain: operator
// domains send outbound, everything else (including a malformed or
// absent sender) is inbound.
func (c *Coordinator) direction(from string) string {
	at := strings.LastIndex(from, "@")
	if at < 0 {
		return model.DirectionInbound
	}
	if _, ok := c.operatorDomains[from[at+1:]]; ok {
		return model.DirectionOutbound
	}
	return model.DirectionInbound
}

// failRun finalizes a run as failed with the given error entry. Used on
// paths where no summary is returned; finalization failures are logged
// but cannot mask the original error.
func (c *Coordinator) failRun(run *model.IngestRun, entry string) {
	run.Status = model.RunStatusFailed
	run.ErrorCount++
	run.ErrorLog = append(run.ErrorLog, entry)

	// Finalize with a fresh context so cancellation of the run's
	// context cannot leave the row in the running state.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.store.FinalizeRun(ctx, run); err != nil {
		c.log.WithFields(logrus.Fields{"run": run.ID}).
			WithError(err).Error("failed to finalize run")
	}
}
