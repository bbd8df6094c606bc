// Package transcript persists completed streaming turns.
package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"converse-stream/internal/domain"
)

const defaultListLimit = 20

// SQLiteStore implements domain.TranscriptStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ domain.TranscriptStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, storeError("open", err)
	}
	// WAL mode for concurrent readers while a chat is being saved.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, storeError("set WAL mode", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, storeError("migrate", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			id                TEXT PRIMARY KEY,
			provider          TEXT NOT NULL,
			model             TEXT NOT NULL,
			prompt            TEXT NOT NULL,
			text              TEXT NOT NULL DEFAULT '',
			thinking          TEXT NOT NULL DEFAULT '',
			stop_reason       TEXT NOT NULL DEFAULT '',
			prompt_tokens     INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens      INTEGER NOT NULL DEFAULT 0,
			latency_ms        INTEGER NOT NULL DEFAULT 0,
			tool_calls        TEXT NOT NULL DEFAULT '[]',
			created_at        TEXT NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts(created_at)")
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save inserts t, replacing any transcript with the same ID.
func (s *SQLiteStore) Save(ctx context.Context, t domain.Transcript) error {
	if t.ID == "" {
		return domain.NewSubSystemError("transcript", "Transcript.Save", domain.ErrInvalidInput, "empty id")
	}
	calls := t.ToolCalls
	if calls == nil {
		calls = []domain.ToolCall{}
	}
	callsJSON, err := json.Marshal(calls)
	if err != nil {
		return storeError("marshal tool calls", err)
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO transcripts
			(id, provider, model, prompt, text, thinking, stop_reason,
			 prompt_tokens, completion_tokens, total_tokens, latency_ms, tool_calls, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Provider, t.Model, t.Prompt, t.Text, t.Thinking, t.StopReason,
		t.Usage.PromptTokens, t.Usage.CompletionTokens, t.Usage.TotalTokens, t.LatencyMs,
		string(callsJSON), created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return storeError("insert", err)
	}
	return nil
}

const selectColumns = `SELECT id, provider, model, prompt, text, thinking, stop_reason,
	prompt_tokens, completion_tokens, total_tokens, latency_ms, tool_calls, created_at
	FROM transcripts`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Transcript, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	t, err := scanTranscript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("Transcript.Get", domain.ErrTranscriptNotFound, id)
	}
	if err != nil {
		return nil, storeError("get", err)
	}
	return t, nil
}

// List returns up to limit transcripts, newest first. A non-positive limit
// uses the default.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]domain.Transcript, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+" ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, storeError("list", err)
	}
	defer rows.Close()

	var out []domain.Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, storeError("scan", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTranscript(row scanner) (*domain.Transcript, error) {
	var t domain.Transcript
	var callsStr, createdStr string
	err := row.Scan(&t.ID, &t.Provider, &t.Model, &t.Prompt, &t.Text, &t.Thinking, &t.StopReason,
		&t.Usage.PromptTokens, &t.Usage.CompletionTokens, &t.Usage.TotalTokens, &t.LatencyMs,
		&callsStr, &createdStr)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(callsStr), &t.ToolCalls); err != nil {
		return nil, fmt.Errorf("unmarshal tool calls: %w", err)
	}
	if len(t.ToolCalls) == 0 {
		t.ToolCalls = nil
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return &t, nil
}

func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrTranscriptStore, op, err)
}
