package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"waifu-chat/internal/dialog"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

const usersPerPage = 100

// Metadata is the bookkeeping record kept per user.
type Metadata struct {
	UserID       string
	CreatedAt    time.Time
	LastModified time.Time
}

// Store owns the SQLite database holding users and their dialog
// histories. Every public mutating method runs as a single
// transaction, so concurrent callers see either the pre- or the
// post-state of an operation, never a partial one. Same-user appends
// are serialized by the database itself (WAL + busy timeout).
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path, ensuring the parent
// directory exists, and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			last_modified TEXT NOT NULL,
			last_modified_ts INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS dialog_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_dialog_entries_user ON dialog_entries(user_id, id);
	`)
	if err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateUser registers a new user with an empty dialog history.
// Creating a user that already exists is an error, not a no-op.
func (s *Store) CreateUser(ctx context.Context, userID string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		exists, err := userExistsTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("create user %s: %w", userID, ErrUserExists)
		}
		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO users (user_id, created_at, last_modified, last_modified_ts) VALUES (?, ?, ?, ?)`,
			userID, formatTime(now), formatTime(now), now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert user %s: %w", userID, err)
		}
		return nil
	})
}

func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one, `SELECT 1 FROM users WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check user %s: %w", userID, err)
	}
	return true, nil
}

// DeleteUser removes the user and, through the foreign key cascade,
// its whole dialog history in one transaction.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, userID)
		if err != nil {
			return fmt.Errorf("failed to delete user %s: %w", userID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read delete result: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("delete user %s: %w", userID, ErrUserNotFound)
		}
		return nil
	})
}

func (s *Store) UserCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// ListUsers returns one page of user IDs ordered by most recently
// modified first. Pages are zero-indexed, 100 users per page.
func (s *Store) ListUsers(ctx context.Context, page int) ([]string, error) {
	if page < 0 {
		page = 0
	}
	users := []string{}
	err := s.db.SelectContext(ctx, &users,
		`SELECT user_id FROM users ORDER BY last_modified_ts DESC, user_id LIMIT ? OFFSET ?`,
		usersPerPage, page*usersPerPage,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *Store) UserMetadata(ctx context.Context, userID string) (Metadata, error) {
	var row struct {
		UserID       string `db:"user_id"`
		CreatedAt    string `db:"created_at"`
		LastModified string `db:"last_modified"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT user_id, created_at, last_modified FROM users WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Metadata{}, fmt.Errorf("metadata for %s: %w", userID, ErrUserNotFound)
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to load metadata for %s: %w", userID, err)
	}
	created, err := parseTime(row.CreatedAt)
	if err != nil {
		return Metadata{}, err
	}
	modified, err := parseTime(row.LastModified)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{UserID: row.UserID, CreatedAt: created, LastModified: modified}, nil
}

// GetDialog returns the user's history in conversation order.
func (s *Store) GetDialog(ctx context.Context, userID string) (dialog.History, error) {
	exists, err := s.UserExists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("dialog for %s: %w", userID, ErrUserNotFound)
	}

	var rows []struct {
		Speaker   string `db:"speaker"`
		Text      string `db:"text"`
		CreatedAt string `db:"created_at"`
	}
	err = s.db.SelectContext(ctx, &rows,
		`SELECT speaker, text, created_at FROM dialog_entries WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dialog for %s: %w", userID, err)
	}

	history := make(dialog.History, 0, len(rows))
	for _, r := range rows {
		ts, err := parseTime(r.CreatedAt)
		if err != nil {
			return nil, err
		}
		history = append(history, dialog.Entry{
			Speaker:   dialog.Speaker(r.Speaker),
			Text:      r.Text,
			Timestamp: ts,
		})
	}
	return history, nil
}

// AppendEntry appends a single entry to the user's history.
func (s *Store) AppendEntry(ctx context.Context, userID string, e dialog.Entry) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return appendEntriesTx(ctx, tx, userID, e)
	})
}

// AppendTurn persists one full chat turn (the user's message and the
// agent's reply) atomically, so a failed reply never leaves a dangling
// unanswered user entry.
func (s *Store) AppendTurn(ctx context.Context, userID string, userEntry, agentEntry dialog.Entry) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return appendEntriesTx(ctx, tx, userID, userEntry, agentEntry)
	})
}

// ResetDialog truncates the user's history without deleting the user.
func (s *Store) ResetDialog(ctx context.Context, userID string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		exists, err := userExistsTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("reset dialog for %s: %w", userID, ErrUserNotFound)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM dialog_entries WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("failed to reset dialog for %s: %w", userID, err)
		}
		return touchUserTx(ctx, tx, userID)
	})
}

func appendEntriesTx(ctx context.Context, tx *sqlx.Tx, userID string, entries ...dialog.Entry) error {
	exists, err := userExistsTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("append to dialog of %s: %w", userID, ErrUserNotFound)
	}
	for _, e := range entries {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO dialog_entries (user_id, speaker, text, created_at) VALUES (?, ?, ?, ?)`,
			userID, string(e.Speaker), e.Text, formatTime(e.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("failed to append entry for %s: %w", userID, err)
		}
	}
	return touchUserTx(ctx, tx, userID)
}

func userExistsTx(ctx context.Context, tx *sqlx.Tx, userID string) (bool, error) {
	var one int
	err := tx.GetContext(ctx, &one, `SELECT 1 FROM users WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check user %s: %w", userID, err)
	}
	return true, nil
}

func touchUserTx(ctx context.Context, tx *sqlx.Tx, userID string) error {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx,
		`UPDATE users SET last_modified = ?, last_modified_ts = ? WHERE user_id = ?`,
		formatTime(now), now.Unix(), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch user %s: %w", userID, err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}
