package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"whatsapp-relay/internal/domain"
)

// SQLiteStore keeps profiles and thread handles in an embedded SQLite file.
// Per-key atomicity comes from single-statement upserts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema. ":memory:" is accepted for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}

	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	dsn := path
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("repository: create database directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite %q: %w", path, err)
	}
	// Each in-memory connection is a separate database.
	if memory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			wa_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_activity TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			preferences TEXT NOT NULL DEFAULT '{}',
			business_info TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS threads (
			wa_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const profileColumns = `wa_id, name, created_at, last_activity, message_count, preferences, business_info`

// UpsertProfile inserts the profile with a count of one, or increments an
// existing one. last_activity never moves backwards.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, waID, name string, now time.Time) (domain.UserProfile, error) {
	ts := formatTime(now)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO profiles (wa_id, name, created_at, last_activity, message_count, preferences, business_info)
		VALUES (?, ?, ?, ?, 1, '{}', '{}')
		ON CONFLICT(wa_id) DO UPDATE SET
			name = excluded.name,
			last_activity = MAX(profiles.last_activity, excluded.last_activity),
			message_count = profiles.message_count + 1
		RETURNING `+profileColumns, waID, name, ts, ts)

	p, err := scanProfile(row)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("repository: UpsertProfile: %w", err)
	}
	return p, nil
}

// ListProfiles returns every profile ordered by wa_id.
func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]domain.UserProfile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY wa_id`)
	if err != nil {
		return nil, fmt.Errorf("repository: ListProfiles query: %w", err)
	}
	defer rows.Close()

	var profiles []domain.UserProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: ListProfiles scan: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListProfiles rows: %w", err)
	}
	return profiles, nil
}

// FindThread returns the stored thread handle for a user, if any.
func (s *SQLiteStore) FindThread(ctx context.Context, waID string) (string, bool, error) {
	var threadID string
	err := s.db.QueryRowContext(ctx, `SELECT thread_id FROM threads WHERE wa_id = ?`, waID).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("repository: FindThread: %w", err)
	}
	return threadID, true, nil
}

// StoreThread writes the handle once; later writes return domain.ErrThreadExists.
func (s *SQLiteStore) StoreThread(ctx context.Context, waID, threadID string) error {
	if strings.TrimSpace(threadID) == "" {
		return errors.New("repository: StoreThread: thread id is required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (wa_id, thread_id, created_at) VALUES (?, ?, ?) ON CONFLICT(wa_id) DO NOTHING`,
		waID, threadID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("repository: StoreThread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: StoreThread rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("repository: StoreThread: %w", domain.ErrThreadExists)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (domain.UserProfile, error) {
	var (
		p                   domain.UserProfile
		created, last       string
		prefs, businessInfo string
	)
	if err := row.Scan(&p.WaID, &p.Name, &created, &last, &p.MessageCount, &prefs, &businessInfo); err != nil {
		return domain.UserProfile{}, err
	}
	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return domain.UserProfile{}, fmt.Errorf("parse created_at: %w", err)
	}
	if p.LastActivity, err = parseTime(last); err != nil {
		return domain.UserProfile{}, fmt.Errorf("parse last_activity: %w", err)
	}
	if p.Preferences, err = decodeStringMap(prefs); err != nil {
		return domain.UserProfile{}, fmt.Errorf("decode preferences: %w", err)
	}
	if p.BusinessInfo, err = decodeStringMap(businessInfo); err != nil {
		return domain.UserProfile{}, fmt.Errorf("decode business_info: %w", err)
	}
	return p, nil
}

func decodeStringMap(raw string) (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
