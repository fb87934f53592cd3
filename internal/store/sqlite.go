package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailsync/internal/model"
)

const threadColumns = `id, provider_thread_id, subject, snippet, participants,
	message_count, last_message_at, account_id, is_matched, matched_by,
	matched_at, confidence, created_at, updated_at`

const messageColumns = `id, provider_message_id, thread_id, from_addr, to_addrs,
	subject, body, direction, sent_at, created_at`

const runColumns = `id, started_at, finished_at, status, total_threads,
	new_threads, updated_threads, matched_threads, unmatched_threads,
	error_count, error_log`

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// UpsertThread creates a thread on first sighting of its provider ID,
// or updates message_count and last_message_at on an existing one.
// First-seen subject, snippet and participants are canonical and are
// not overwritten; match state is never touched here. The second
// return value reports whether a new row was created.
func (s *SQLiteStore) UpsertThread(
	ctx context.Context,
	p UpsertThreadParams,
) (*model.Thread, bool, error) {
	existing, err := s.ThreadByProviderID(ctx, p.ProviderThreadID)
	if err != nil {
		return nil, false, err
	}

	if existing == nil {
		now := time.Now().UTC()
		participants, err := json.Marshal(emptyToList(p.Participants))
		if err != nil {
			return nil, false, fmt.Errorf("marshaling participants: %w", err)
		}

		id := uuid.New().String()
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO threads (
				id, provider_thread_id, subject, snippet, participants,
				message_count, last_message_at, is_matched, confidence,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
			id, p.ProviderThreadID, p.Subject, p.Snippet,
			string(participants), p.MessageCount,
			nullableTime(p.LastMessageAt), now, now,
		)
		if err != nil {
			// A concurrent insert of the same provider thread resolves
			// as an update, not an error.
			if isUniqueViolation(err) {
				existing, err = s.ThreadByProviderID(ctx, p.ProviderThreadID)
				if err != nil || existing == nil {
					return nil, false, fmt.Errorf(
						"re-reading thread %s after conflict: %w",
						p.ProviderThreadID, err,
					)
				}
				return s.updateThread(ctx, existing, p)
			}
			return nil, false, fmt.Errorf(
				"inserting thread %s: %w", p.ProviderThreadID, err,
			)
		}

		created, err := s.ThreadByProviderID(ctx, p.ProviderThreadID)
		if err != nil {
			return nil, false, err
		}
		return created, true, nil
	}

	return s.updateThread(ctx, existing, p)
}

// updateThread applies the observe-only update path: message count and
// last-message timestamp advance monotonically, nothing else changes.
func (s *SQLiteStore) updateThread(
	ctx context.Context,
	existing *model.Thread,
	p UpsertThreadParams,
) (*model.Thread, bool, error) {
	messageCount := existing.MessageCount
	if p.MessageCount > messageCount {
		messageCount = p.MessageCount
	}
	lastMessageAt := existing.LastMessageAt
	if p.LastMessageAt.After(lastMessageAt) {
		lastMessageAt = p.LastMessageAt
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE threads
		SET message_count = ?, last_message_at = ?, updated_at = ?
		WHERE id = ?`,
		messageCount, nullableTime(lastMessageAt), time.Now().UTC(),
		existing.ID,
	)
	if err != nil {
		return nil, false, fmt.Errorf("updating thread %s: %w", existing.ID, err)
	}

	existing.MessageCount = messageCount
	existing.LastMessageAt = lastMessageAt
	return existing, false, nil
}

// ThreadByProviderID retrieves a thread by its provider identifier,
// returning nil when no such thread exists.
func (s *SQLiteStore) ThreadByProviderID(
	ctx context.Context,
	providerThreadID string,
) (*model.Thread, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+threadColumns+" FROM threads WHERE provider_thread_id = ?",
		providerThreadID,
	)

	thread, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting thread %s: %w", providerThreadID, err)
	}
	return &thread, nil
}

// UpdateThreadParticipants replaces a thread's stored participant set.
// Used when the matcher reconstructs participants from persisted
// messages so later passes do not re-derive them.
func (s *SQLiteStore) UpdateThreadParticipants(
	ctx context.Context,
	threadID string,
	participants []string,
) error {
	data, err := json.Marshal(emptyToList(participants))
	if err != nil {
		return fmt.Errorf("marshaling participants: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE threads SET participants = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC(), threadID,
	)
	if err != nil {
		return fmt.Errorf("updating participants for thread %s: %w", threadID, err)
	}
	return nil
}

// ApplyMatch associates a thread with an account. An automatic strategy
// never overwrites an existing match (re-running the cascade on a
// matched thread is a no-op); the manual strategy may.
func (s *SQLiteStore) ApplyMatch(
	ctx context.Context,
	threadID, accountID, strategy string,
	confidence float64,
) error {
	query := `
		UPDATE threads
		SET is_matched = 1, account_id = ?, matched_by = ?, matched_at = ?,
			confidence = ?, updated_at = ?
		WHERE id = ?`
	if strategy != model.StrategyManual {
		query += " AND is_matched = 0"
	}

	// Zero affected rows means the thread was already matched; that
	// outcome is idempotent success for automatic strategies.
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query,
		accountID, strategy, now, confidence, now, threadID,
	)
	if err != nil {
		return fmt.Errorf("applying match to thread %s: %w", threadID, err)
	}
	return nil
}

// CountThreads aggregates persisted thread rows by match state.
func (s *SQLiteStore) CountThreads(ctx context.Context) (ThreadCounts, error) {
	var counts ThreadCounts
	err := s.db.QueryRowxContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(is_matched), 0),
			COALESCE(SUM(1 - is_matched), 0)
		FROM threads`,
	).Scan(&counts.Total, &counts.Matched, &counts.Unmatched)
	if err != nil {
		return ThreadCounts{}, fmt.Errorf("counting threads: %w", err)
	}
	return counts, nil
}

// UpsertMessage inserts a message row, returning the existing row
// unchanged if the provider message ID has been seen before. Messages
// are immutable once created.
func (s *SQLiteStore) UpsertMessage(
	ctx context.Context,
	p UpsertMessageParams,
) (*model.Message, error) {
	if p.ProviderMessageID == "" {
		return nil, fmt.Errorf("upserting message: empty provider message id")
	}

	existing, err := s.messageByProviderID(ctx, p.ProviderMessageID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	toAddrs, err := json.Marshal(emptyToList(p.To))
	if err != nil {
		return nil, fmt.Errorf("marshaling recipients: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, provider_message_id, thread_id, from_addr, to_addrs,
			subject, body, direction, sent_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), p.ProviderMessageID, p.ThreadID, p.From,
		string(toAddrs), p.Subject, p.Body, p.Direction,
		nullableTime(p.SentAt), time.Now().UTC(),
	)
	if err != nil {
		// Re-inserting the same provider message is a no-op success.
		if isUniqueViolation(err) {
			return s.messageByProviderID(ctx, p.ProviderMessageID)
		}
		return nil, fmt.Errorf(
			"inserting message %s: %w", p.ProviderMessageID, err,
		)
	}

	return s.messageByProviderID(ctx, p.ProviderMessageID)
}

// messageByProviderID retrieves a message by its provider identifier,
// returning nil when absent.
func (s *SQLiteStore) messageByProviderID(
	ctx context.Context,
	providerMessageID string,
) (*model.Message, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE provider_message_id = ?",
		providerMessageID,
	)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", providerMessageID, err)
	}
	return &msg, nil
}

// MessagesByThread retrieves all messages of a thread ordered by send time.
func (s *SQLiteStore) MessagesByThread(
	ctx context.Context,
	threadID string,
) ([]model.Message, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE thread_id = ? ORDER BY sent_at, created_at",
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages for thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// CreateRun inserts a new ingest run in the running state. It refuses
// to start while another run is active, acting as a soft lock against
// concurrent ingestion passes.
func (s *SQLiteStore) CreateRun(ctx context.Context) (*model.IngestRun, error) {
	var active int
	err := s.db.GetContext(ctx, &active,
		"SELECT COUNT(*) FROM ingest_runs WHERE status = ?",
		model.RunStatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("checking active runs: %w", err)
	}
	if active > 0 {
		return nil, ErrRunActive
	}

	run := &model.IngestRun{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Status:    model.RunStatusRunning,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ingest_runs (id, started_at, status, error_log)
		VALUES (?, ?, ?, '[]')`,
		run.ID, run.StartedAt, run.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("creating ingest run: %w", err)
	}

	return run, nil
}

// FinalizeRun writes the run's terminal state. Only a still-running row
// is finalized, so a run reaches a terminal status exactly once.
func (s *SQLiteStore) FinalizeRun(ctx context.Context, run *model.IngestRun) error {
	errorLog, err := json.Marshal(emptyToList(run.ErrorLog))
	if err != nil {
		return fmt.Errorf("marshaling error log: %w", err)
	}

	now := time.Now().UTC()
	if run.FinishedAt == nil {
		run.FinishedAt = &now
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE ingest_runs
		SET finished_at = ?, status = ?, total_threads = ?, new_threads = ?,
			updated_threads = ?, matched_threads = ?, unmatched_threads = ?,
			error_count = ?, error_log = ?
		WHERE id = ? AND finished_at IS NULL`,
		run.FinishedAt, run.Status, run.TotalThreads, run.NewThreads,
		run.UpdatedThreads, run.MatchedThreads, run.UnmatchedThreads,
		run.ErrorCount, string(errorLog), run.ID,
	)
	if err != nil {
		return fmt.Errorf("finalizing run %s: %w", run.ID, err)
	}
	return nil
}

// RecentRuns retrieves the most recent ingest runs, newest first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	if limit < 1 {
		limit = 20
	}

	rows, err := s.db.QueryxContext(ctx,
		"SELECT "+runColumns+" FROM ingest_runs ORDER BY started_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying ingest runs: %w", err)
	}
	defer rows.Close()

	var runs []model.IngestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// UpsertAccount inserts or replaces an account projection synced from
// the CRM boundary. The domain defaults to the part after "@" when not
// provided.
func (s *SQLiteStore) UpsertAccount(ctx context.Context, a model.Account) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	if a.Domain == "" {
		if at := strings.LastIndex(a.Email, "@"); at >= 0 {
			a.Domain = a.Email[at+1:]
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO accounts (id, name, email, domain)
		VALUES (?, ?, ?, ?)`,
		a.ID, a.Name, a.Email, a.Domain,
	)
	if err != nil {
		return fmt.Errorf("upserting account %s: %w", a.Email, err)
	}
	return nil
}

// FindAccountByEmail retrieves the account with exactly this email,
// returning nil when no account matches.
func (s *SQLiteStore) FindAccountByEmail(
	ctx context.Context,
	email string,
) (*model.Account, error) {
	var a model.Account
	err := s.db.QueryRowxContext(ctx,
		"SELECT id, name, email, domain FROM accounts WHERE email = ?",
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&a.ID, &a.Name, &a.Email, &a.Domain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding account by email: %w", err)
	}
	return &a, nil
}

// FindAccountsByDomainFragment retrieves every account whose email
// contains the given fragment (e.g. "@acme.dk").
func (s *SQLiteStore) FindAccountsByDomainFragment(
	ctx context.Context,
	fragment string,
) ([]model.Account, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT id, name, email, domain FROM accounts WHERE email LIKE ? ORDER BY email",
		"%"+strings.ToLower(fragment)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("finding accounts by domain fragment: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &a.Domain); err != nil {
			return nil, fmt.Errorf("scanning account row: %w", err)
		}
		accounts = append(accounts, a)
	}

	return accounts, rows.Err()
}

// rowScanner abstracts sqlx.Row and sqlx.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanThread scans a thread row in threadColumns order.
func scanThread(row rowScanner) (model.Thread, error) {
	var (
		t             model.Thread
		participants  string
		lastMessageAt sql.NullTime
		accountID     sql.NullString
		isMatched     int
		matchedAt     sql.NullTime
	)

	err := row.Scan(
		&t.ID, &t.ProviderThreadID, &t.Subject, &t.Snippet, &participants,
		&t.MessageCount, &lastMessageAt, &accountID, &isMatched,
		&t.MatchedBy, &matchedAt, &t.Confidence, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return model.Thread{}, err
	}

	if participants != "" {
		if err := json.Unmarshal([]byte(participants), &t.Participants); err != nil {
			return model.Thread{}, fmt.Errorf("unmarshaling participants: %w", err)
		}
	}
	if lastMessageAt.Valid {
		t.LastMessageAt = lastMessageAt.Time
	}
	if accountID.Valid {
		t.AccountID = &accountID.String
	}
	t.IsMatched = isMatched != 0
	if matchedAt.Valid {
		at := matchedAt.Time
		t.MatchedAt = &at
	}

	return t, nil
}

// scanMessage scans a message row in messageColumns order.
func scanMessage(row rowScanner) (model.Message, error) {
	var (
		m       model.Message
		toAddrs string
		sentAt  sql.NullTime
	)

	err := row.Scan(
		&m.ID, &m.ProviderMessageID, &m.ThreadID, &m.From, &toAddrs,
		&m.Subject, &m.Body, &m.Direction, &sentAt, &m.CreatedAt,
	)
	if err != nil {
		return model.Message{}, err
	}

	if toAddrs != "" {
		if err := json.Unmarshal([]byte(toAddrs), &m.To); err != nil {
			return model.Message{}, fmt.Errorf("unmarshaling recipients: %w", err)
		}
	}
	if sentAt.Valid {
		m.SentAt = sentAt.Time
	}

	return m, nil
}

// scanRun scans an ingest run row in runColumns order.
func scanRun(row rowScanner) (model.IngestRun, error) {
	var (
		r          model.IngestRun
		finishedAt sql.NullTime
		errorLog   string
	)

	err := row.Scan(
		&r.ID, &r.StartedAt, &finishedAt, &r.Status, &r.TotalThreads,
		&r.NewThreads, &r.UpdatedThreads, &r.MatchedThreads,
		&r.UnmatchedThreads, &r.ErrorCount, &errorLog,
	)
	if err != nil {
		return model.IngestRun{}, fmt.Errorf("scanning run row: %w", err)
	}

	if finishedAt.Valid {
		at := finishedAt.Time
		r.FinishedAt = &at
	}
	if errorLog != "" {
		if err := json.Unmarshal([]byte(errorLog), &r.ErrorLog); err != nil {
			return model.IngestRun{}, fmt.Errorf("unmarshaling error log: %w", err)
		}
	}

	return r, nil
}

// emptyToList keeps JSON columns as [] rather than null for nil slices.
func emptyToList(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// nullableTime maps the zero time to NULL.
func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// isUniqueViolation reports whether err is a sqlite unique-constraint
// failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
