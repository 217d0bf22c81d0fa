// ABOUTME: Opt-in SQLite audit log for loop decisions, commands, and
// ABOUTME: removals. Buffered single-writer; never backpressures the consumer.

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// Kind classifies an audit entry.
type Kind string

const (
	KindDecision Kind = "decision"
	KindCommand  Kind = "command"
	KindRemoval  Kind = "removal"
)

// Entry is one append-only audit row.
type Entry struct {
	At       time.Time
	Kind     Kind
	Identity string
	// Action is the decision verdict, command kind, or removal reason.
	Action string
	// Detail carries kind-specific context as a short human-readable string.
	Detail string
}

const bufferSize = 256

// Log is the audit sink. All methods are safe on a nil receiver, which is
// how a disabled audit log is represented.
type Log struct {
	db      *sql.DB
	logger  *slog.Logger
	entries chan Entry
	quit    chan struct{}
	done    chan struct{}
	dropped atomic.Uint64
	once    sync.Once
}

// Open creates or opens the audit database and starts the writer. The
// schema is created if missing; parent directories are created as needed.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "audit")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	l := &Log{
		db:      db,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.writer()
	logger.Info("audit log opened", "path", path)
	return l, nil
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at DATETIME NOT NULL,
			kind TEXT NOT NULL,
			identity TEXT NOT NULL,
			action TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_audit_identity_at
			ON audit_log(identity, at);
	`
	_, err := db.Exec(schema)
	return err
}

// Record queues one entry without blocking. When the buffer is full the
// entry is dropped and counted; observability must never stall the
// consumer.
func (l *Log) Record(e Entry) {
	if l == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	select {
	case l.entries <- e:
	default:
		l.dropped.Add(1)
	}
}

// Decision records a loop evaluation outcome.
func (l *Log) Decision(identity string, iteration int, verdict, reason string, confidence float64) {
	l.Record(Entry{
		Kind:     KindDecision,
		Identity: identity,
		Action:   verdict,
		Detail:   fmt.Sprintf("iteration=%d reason=%s confidence=%.2f", iteration, reason, confidence),
	})
}

// Command records an issued user command and its outcome.
func (l *Log) Command(id string, kind, identity string, err error) {
	detail := "id=" + id + " ok"
	if err != nil {
		detail = fmt.Sprintf("id=%s error=%v", id, err)
	}
	l.Record(Entry{Kind: KindCommand, Identity: identity, Action: kind, Detail: detail})
}

// Removal records an agent leaving the table: eviction, staleness, or
// session end.
func (l *Log) Removal(identity, reason, status string) {
	l.Record(Entry{Kind: KindRemoval, Identity: identity, Action: reason, Detail: "status=" + status})
}

// Dropped reports how many entries were lost to a full buffer.
func (l *Log) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Recent returns the newest n entries, newest first.
func (l *Log) Recent(ctx context.Context, n int) ([]Entry, error) {
	if l == nil {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT at, kind, identity, action, detail FROM audit_log ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.At, &e.Kind, &e.Identity, &e.Action, &e.Detail); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close drains queued entries and closes the database.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() { close(l.quit) })
	<-l.done
	return l.db.Close()
}

// writer is the single goroutine touching the database.
func (l *Log) writer() {
	defer close(l.done)
	for {
		select {
		case e := <-l.entries:
			l.insert(e)
		case <-l.quit:
			for {
				select {
				case e := <-l.entries:
					l.insert(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Log) insert(e Entry) {
	_, err := l.db.Exec(
		`INSERT INTO audit_log (at, kind, identity, action, detail) VALUES (?, ?, ?, ?, ?)`,
		e.At, string(e.Kind), e.Identity, e.Action, e.Detail)
	if err != nil {
		l.logger.Error("audit insert failed", "error", err)
	}
}
