package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/match"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
	"github.com/nhle/mailsync/tests/testutil"
)

// fakeSource replays a fixed fetch outcome.
type fakeSource struct {
	result *provider.FetchResult
	err    error
}

func (f *fakeSource) FetchAllThreads(context.Context) (*provider.FetchResult, error) {
	return f.result, f.err
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// payload builds a single-part text/plain message payload.
func payload(from, to, subject, body string) *provider.RawPart {
	return &provider.RawPart{
		MimeType: "text/plain",
		Headers: []provider.RawHeader{
			{Name: "From", Value: from},
			{Name: "To", Value: to},
			{Name: "Subject", Value: subject},
		},
		Body: provider.RawBody{
			Size: len(body),
			Data: base64.RawURLEncoding.EncodeToString([]byte(body)),
		},
	}
}

func rawThread(id, snippet string, messages ...provider.RawMessage) provider.RawThread {
	return provider.RawThread{ID: id, Snippet: snippet, Messages: messages}
}

func TestRun_FullPass(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()

	if err := st.UpsertAccount(ctx, model.Account{
		ID: "acc-1", Name: "Acme", Email: "buyer@acme.dk",
	}); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}

	source := &fakeSource{result: &provider.FetchResult{
		Threads: []provider.RawThread{
			rawThread("pt-1", "order details", provider.RawMessage{
				ID:           "pm-1",
				InternalDate: 1767225600000,
				Payload: payload(
					"Buyer <buyer@acme.dk>", "sales@corp.dk",
					"Order #42", "please ship it",
				),
			}),
			rawThread("pt-2", "newsletter", provider.RawMessage{
				ID:           "pm-2",
				InternalDate: 1767225700000,
				Payload: payload(
					"news@unrelated.io", "sales@corp.dk",
					"March issue", "read all about it",
				),
			}),
			// Missing provider thread id: recorded as an error, the
			// pass keeps going.
			rawThread("", "broken"),
			rawThread("pt-3", "empty thread"),
		},
	}}

	log := quietLogger()
	matcher := match.New(st, st, []string{"gmail.com"}, log)
	c := New(source, st, matcher, []string{"corp.dk"}, log)

	summary, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.TotalThreads != 4 {
		t.Errorf("total = %d, want 4", summary.TotalThreads)
	}
	if summary.NewThreads != 3 || summary.UpdatedThreads != 0 {
		t.Errorf("new/updated = %d/%d, want 3/0",
			summary.NewThreads, summary.UpdatedThreads)
	}
	if summary.Errors != 1 || len(summary.ErrorLog) != 1 {
		t.Fatalf("errors = %d, log = %v, want exactly one entry",
			summary.Errors, summary.ErrorLog)
	}
	if summary.MatchedThreads != 1 || summary.UnmatchedThreads != 2 {
		t.Errorf("matched/unmatched = %d/%d, want 1/2",
			summary.MatchedThreads, summary.UnmatchedThreads)
	}

	// The exact strategy placed pt-1 on the known account.
	thread, err := st.ThreadByProviderID(ctx, "pt-1")
	if err != nil {
		t.Fatalf("ThreadByProviderID: %v", err)
	}
	if !thread.IsMatched || thread.AccountID == nil || *thread.AccountID != "acc-1" {
		t.Errorf("pt-1 not matched to acc-1: %+v", thread)
	}
	if thread.MatchedBy != model.StrategyExact {
		t.Errorf("matched_by = %s, want exact", thread.MatchedBy)
	}
	if thread.Subject != "Order #42" {
		t.Errorf("subject = %q", thread.Subject)
	}

	// Message rows carry decoded headers, body and direction.
	messages, err := st.MessagesByThread(ctx, thread.ID)
	if err != nil {
		t.Fatalf("MessagesByThread: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
	msg := messages[0]
	if msg.From != "buyer@acme.dk" || msg.Body != "please ship it" {
		t.Errorf("decoded message = %+v", msg)
	}
	if msg.Direction != model.DirectionInbound {
		t.Errorf("direction = %s, want inbound", msg.Direction)
	}

	// The run record is terminal.
	runs, err := st.RecentRuns(ctx, 1)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != model.RunStatusCompleted {
		t.Fatalf("run record = %+v, want completed", runs)
	}
	if runs[0].FinishedAt == nil {
		t.Error("completed run has no finished_at")
	}
}

func TestRun_SecondPassIsIdempotent(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()

	source := &fakeSource{result: &provider.FetchResult{
		Threads: []provider.RawThread{
			rawThread("pt-1", "hello", provider.RawMessage{
				ID:           "pm-1",
				InternalDate: 1767225600000,
				Payload:      payload("a@x.dk", "b@y.dk", "hi", "body"),
			}),
		},
	}}

	log := quietLogger()
	matcher := match.New(st, st, nil, log)
	c := New(source, st, matcher, nil, log)

	if _, err := c.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	summary, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if summary.NewThreads != 0 || summary.UpdatedThreads != 1 {
		t.Errorf("second pass new/updated = %d/%d, want 0/1",
			summary.NewThreads, summary.UpdatedThreads)
	}

	thread, err := st.ThreadByProviderID(ctx, "pt-1")
	if err != nil {
		t.Fatalf("ThreadByProviderID: %v", err)
	}
	messages, err := st.MessagesByThread(ctx, thread.ID)
	if err != nil {
		t.Fatalf("MessagesByThread: %v", err)
	}
	if len(messages) != 1 {
		t.Errorf("got %d messages after two passes, want 1", len(messages))
	}

	counts, err := st.CountThreads(ctx)
	if err != nil {
		t.Fatalf("CountThreads: %v", err)
	}
	if counts.Total != 1 {
		t.Errorf("thread count after two passes = %d, want 1", counts.Total)
	}
}

func TestRun_FetchFailureFinalizesAsFailed(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()

	source := &fakeSource{err: errors.New("connection refused")}
	log := quietLogger()
	c := New(source, st, match.New(st, st, nil, log), nil, log)

	summary, err := c.Run(ctx)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
	if summary != nil {
		t.Errorf("expected no summary, got %+v", summary)
	}

	runs, err := st.RecentRuns(ctx, 1)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	run := runs[0]
	if run.Status != model.RunStatusFailed {
		t.Errorf("status = %s, want failed", run.Status)
	}
	if run.FinishedAt == nil {
		t.Error("failed run has no finished_at")
	}
	if run.ErrorCount != 1 || len(run.ErrorLog) != 1 {
		t.Errorf("error state = %d/%v", run.ErrorCount, run.ErrorLog)
	}

	// The soft lock is released, so the next pass may start.
	source.err = nil
	source.result = &provider.FetchResult{}
	if _, err := c.Run(ctx); err != nil {
		t.Errorf("Run after failure: %v", err)
	}
}

func TestRun_WarningsAreLoggedNotCounted(t *testing.T) {
	st := testutil.NewTestStore(t)

	source := &fakeSource{result: &provider.FetchResult{
		Threads: []provider.RawThread{
			rawThread("pt-1", "degraded listing"),
		},
		Warnings: []string{"thread pt-1: detail fetch degraded: 502"},
	}}
	log := quietLogger()
	c := New(source, st, match.New(st, st, nil, log), nil, log)

	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Errors != 0 {
		t.Errorf("errors = %d, warnings must not count", summary.Errors)
	}
	if len(summary.ErrorLog) != 1 || summary.ErrorLog[0] != "warn: thread pt-1: detail fetch degraded: 502" {
		t.Errorf("error log = %v, want one warn-prefixed entry", summary.ErrorLog)
	}
}

// cancellingSource cancels the run's context from inside the fetch, so
// cancellation lands before thread processing starts.
type cancellingSource struct {
	cancel context.CancelFunc
	result *provider.FetchResult
}

func (s *cancellingSource) FetchAllThreads(context.Context) (*provider.FetchResult, error) {
	s.cancel()
	return s.result, nil
}

func TestRun_CancelledContextFailsRun(t *testing.T) {
	st := testutil.NewTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	source := &cancellingSource{
		cancel: cancel,
		result: &provider.FetchResult{
			Threads: []provider.RawThread{rawThread("pt-1", "a")},
		},
	}
	log := quietLogger()
	c := New(source, st, match.New(st, st, nil, log), nil, log)

	if _, err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	runs, err := st.RecentRuns(context.Background(), 1)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != model.RunStatusFailed {
		t.Errorf("cancelled run record = %+v, want failed", runs)
	}
}

func TestDirection(t *testing.T) {
	c := New(nil, nil, nil, []string{"corp.dk"}, quietLogger())

	cases := []struct {
		from string
		want string
	}{
		{"sales@corp.dk", model.DirectionOutbound},
		{"buyer@acme.dk", model.DirectionInbound},
		{"no-at-sign", model.DirectionInbound},
		{"", model.DirectionInbound},
	}
	for _, tc := range cases {
		if got := c.direction(tc.from); got != tc.want {
			t.Errorf("direction(%q) = %s, want %s", tc.from, got, tc.want)
		}
	}
}

func TestDecodeMessage_RawBlobError(t *testing.T) {
	_, err := decodeMessage(provider.RawMessage{
		ID:  "pm-1",
		Raw: "!!! not base64url !!!",
	})
	if err == nil {
		t.Fatal("expected an error for an undecodable raw blob")
	}
}
