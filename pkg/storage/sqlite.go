package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/levenlabs/go-lflag"
	"github.com/loadcurve/loadcurve/pkg/types"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLiteProvider implements the Database interface on an embedded SQLite
// file, for single-binary self-hosted deployments. Rows store the same JSON
// blobs the Firestore provider stores, so the two backends stay
// interchangeable.
type SQLiteProvider struct {
	db   *sql.DB
	path string
}

// configuredSQLite sets up the SQLite provider.
// It registers flags for configuration.
func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "loadcurve.db", "Path to the SQLite database file")

	s := &SQLiteProvider{}

	lflag.Do(func() {
		s.path = *path
	})

	return s
}

// Validate checks if the provider is properly configured.
func (s *SQLiteProvider) Validate() error {
	if s.path == "" {
		return fmt.Errorf("sqlite-path is required")
	}
	return nil
}

// Init opens the database and applies migrations.
// This must be called before using the provider methods.
func (s *SQLiteProvider) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database (%s): %w", s.path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping sqlite database (%s): %w", s.path, err)
	}
	s.db = db

	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(db, migrationFS, "migrations")
	return nil
}

// Close closes the database.
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// sqliteTime renders a time for the TEXT columns. RFC3339 in UTC sorts
// lexicographically in chronological order, which the range queries rely on.
func sqliteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// GetUser retrieves a user from the users table.
func (s *SQLiteProvider) GetUser(ctx context.Context, userID string) (types.User, error) {
	var jsonStr string
	err := s.db.QueryRowContext(ctx, `SELECT json FROM users WHERE id = ?`, userID).Scan(&jsonStr)
	if errors.Is(err, sql.ErrNoRows) {
		return types.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return types.User{}, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	var user types.User
	if err := json.Unmarshal([]byte(jsonStr), &user); err != nil {
		return types.User{}, fmt.Errorf("failed to unmarshal user %s: %w", userID, err)
	}
	return user, nil
}

// CreateUser inserts a new user row. It fails if the user already exists.
func (s *SQLiteProvider) CreateUser(ctx context.Context, user types.User) error {
	jsonBytes, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user %s: %w", user.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO users (id, json) VALUES (?, ?)`, user.ID, string(jsonBytes))
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", user.ID, err)
	}
	return nil
}

// UpdateUser replaces an existing user row, creating it if needed.
func (s *SQLiteProvider) UpdateUser(ctx context.Context, user types.User) error {
	jsonBytes, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user %s: %w", user.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, json) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET json = excluded.json`,
		user.ID, string(jsonBytes))
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", user.ID, err)
	}
	return nil
}

// ListUsers retrieves all users.
func (s *SQLiteProvider) ListUsers(ctx context.Context) ([]types.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, json FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		var id, jsonStr string
		if err := rows.Scan(&id, &jsonStr); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		var user types.User
		if err := json.Unmarshal([]byte(jsonStr), &user); err != nil {
			// Skip malformed JSON
			continue
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// GetSettings retrieves the per-usage-point configuration.
func (s *SQLiteProvider) GetSettings(ctx context.Context, usagePointID string) (types.Settings, int, error) {
	if usagePointID == "" {
		return types.Settings{}, 0, fmt.Errorf("usagePointID cannot be empty")
	}
	var jsonStr string
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT json, version FROM settings WHERE usage_point_id = ?`, usagePointID,
	).Scan(&jsonStr, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Settings{}, 0, fmt.Errorf("%w: %s", ErrSettingsNotFound, usagePointID)
	}
	if err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to get settings for %s: %w", usagePointID, err)
	}
	var settings types.Settings
	if err := json.Unmarshal([]byte(jsonStr), &settings); err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings for %s: %w", usagePointID, err)
	}
	return settings, version, nil
}

// SetSettings saves the per-usage-point configuration.
func (s *SQLiteProvider) SetSettings(ctx context.Context, usagePointID string, settings types.Settings, version int) error {
	if usagePointID == "" {
		return fmt.Errorf("usagePointID cannot be empty")
	}
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (usage_point_id, json, version) VALUES (?, ?, ?)
		ON CONFLICT(usage_point_id) DO UPDATE SET json = excluded.json, version = excluded.version`,
		usagePointID, string(jsonBytes), version)
	if err != nil {
		return fmt.Errorf("failed to save settings for %s: %w", usagePointID, err)
	}
	return nil
}

// SetReadingPayload stores one fetch result, overwriting any payload with the
// same kind and range start.
func (s *SQLiteProvider) SetReadingPayload(ctx context.Context, payload types.ReadingPayload) error {
	if payload.UsagePointID == "" {
		return fmt.Errorf("usagePointID cannot be empty")
	}
	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reading_payloads (usage_point_id, kind, range_start, range_end, json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(usage_point_id, kind, range_start) DO UPDATE SET
			range_end = excluded.range_end, json = excluded.json`,
		payload.UsagePointID, payload.Kind, sqliteTime(payload.RangeStart), sqliteTime(payload.RangeEnd), string(jsonBytes))
	if err != nil {
		return fmt.Errorf("failed to save payload: %w", err)
	}
	return nil
}

// GetReadingPayload retrieves one fetch result by its key. The range end is
// not part of the row key; a stored payload for the same kind and start with
// a different end is still returned.
func (s *SQLiteProvider) GetReadingPayload(ctx context.Context, key types.PayloadKey) (*types.ReadingPayload, error) {
	var jsonStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT json FROM reading_payloads
		WHERE usage_point_id = ? AND kind = ? AND range_start = ?`,
		key.UsagePointID, key.Kind, sqliteTime(key.RangeStart),
	).Scan(&jsonStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", ErrPayloadNotFound, key.Kind, key.RangeStart.Format(time.RFC3339))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payload: %w", err)
	}
	var p types.ReadingPayload
	if err := json.Unmarshal([]byte(jsonStr), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return &p, nil
}

// GetReadingPayloads retrieves every stored payload for a usage point,
// ordered by range start.
func (s *SQLiteProvider) GetReadingPayloads(ctx context.Context, usagePointID string) ([]types.ReadingPayload, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT json FROM reading_payloads
		WHERE usage_point_id = ?
		ORDER BY range_start, kind`, usagePointID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payloads: %w", err)
	}
	defer rows.Close()

	var payloads []types.ReadingPayload
	for rows.Next() {
		var jsonStr string
		if err := rows.Scan(&jsonStr); err != nil {
			return nil, fmt.Errorf("failed to scan payload row: %w", err)
		}
		var p types.ReadingPayload
		if err := json.Unmarshal([]byte(jsonStr), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		payloads = append(payloads, p)
	}
	return payloads, rows.Err()
}

// GetLatestReadingTime retrieves the end of the most recent stored payload
// range, or the zero time when nothing is stored yet.
func (s *SQLiteProvider) GetLatestReadingTime(ctx context.Context, usagePointID string) (time.Time, error) {
	var endStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT range_end FROM reading_payloads
		WHERE usage_point_id = ?
		ORDER BY range_end DESC LIMIT 1`, usagePointID,
	).Scan(&endStr)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest payload: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid range_end %q: %w", endStr, err)
	}
	return ts, nil
}

// PruneReadingPayloads deletes payloads whose range ends before the given
// time and returns how many rows were removed.
func (s *SQLiteProvider) PruneReadingPayloads(ctx context.Context, usagePointID string, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM reading_payloads
		WHERE usage_point_id = ? AND range_end < ?`,
		usagePointID, sqliteTime(before))
	if err != nil {
		return 0, fmt.Errorf("failed to prune payloads: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned payloads: %w", err)
	}
	return int(n), nil
}

// InsertFeedback stores a feedback message.
func (s *SQLiteProvider) InsertFeedback(ctx context.Context, feedback types.Feedback) error {
	jsonBytes, err := json.Marshal(feedback)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO feedback (submitted_at, json) VALUES (?, ?)`,
		feedback.Time.UTC().Format(time.RFC3339Nano), string(jsonBytes))
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}

// ListFeedback retrieves all feedback messages, oldest first.
func (s *SQLiteProvider) ListFeedback(ctx context.Context) ([]types.Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT json FROM feedback ORDER BY submitted_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var feedbacks []types.Feedback
	for rows.Next() {
		var jsonStr string
		if err := rows.Scan(&jsonStr); err != nil {
			return nil, fmt.Errorf("failed to scan feedback row: %w", err)
		}
		var fb types.Feedback
		if err := json.Unmarshal([]byte(jsonStr), &fb); err != nil {
			continue
		}
		feedbacks = append(feedbacks, fb)
	}
	return feedbacks, rows.Err()
}
