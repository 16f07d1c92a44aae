// Package sqlite implements store.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ingeniumai/outreach/internal/models"
	"github.com/ingeniumai/outreach/internal/secrets"
	"github.com/ingeniumai/outreach/internal/store"
)

// Store is a SQLite backed store.Store.
type Store struct {
	db     *sql.DB
	cipher *secrets.Cipher
}

var _ store.Store = (*Store)(nil)

// Open opens the database at path. An empty path or ":memory:" opens a
// private in-memory database.
func Open(ctx context.Context, path string, cipher *secrets.Cipher) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	s := &Store{db: db, cipher: cipher}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates tables and indexes when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            google_id TEXT NOT NULL UNIQUE,
            name TEXT NOT NULL,
            email TEXT NOT NULL,
            picture TEXT NOT NULL DEFAULT '',
            access_token TEXT NOT NULL DEFAULT '',
            refresh_token TEXT NOT NULL DEFAULT '',
            token_expiry INTEGER NOT NULL DEFAULT 0,
            scopes TEXT NOT NULL DEFAULT '',
            profile_type TEXT NOT NULL DEFAULT '',
            profile_completed INTEGER NOT NULL DEFAULT 0,
            profile_details TEXT NOT NULL DEFAULT '{}',
            last_login INTEGER NOT NULL,
            created_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            sender TEXT NOT NULL,
            sender_email TEXT NOT NULL,
            recipient TEXT NOT NULL,
            recipient_email TEXT NOT NULL,
            subject TEXT NOT NULL,
            content TEXT NOT NULL,
            preview TEXT NOT NULL,
            attachments TEXT NOT NULL DEFAULT '[]',
            is_automated INTEGER NOT NULL DEFAULT 0,
            is_read INTEGER NOT NULL DEFAULT 0,
            avatar TEXT NOT NULL DEFAULT '',
            conversation_id TEXT NOT NULL,
            parent_message_id TEXT NOT NULL DEFAULT '',
            message_type TEXT NOT NULL,
            status TEXT NOT NULL,
            external_id TEXT NOT NULL DEFAULT '',
            thread_id TEXT NOT NULL DEFAULT '',
            rfc_message_id TEXT NOT NULL DEFAULT '',
            sent_at INTEGER NOT NULL,
            read_at INTEGER,
            created_at INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_sent ON messages(user_id, sent_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, sent_at);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_participants ON messages(sender_email, recipient_email);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_external ON messages(user_id, external_id);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

const userColumns = `id, google_id, name, email, picture, access_token, refresh_token,
    token_expiry, scopes, profile_type, profile_completed, profile_details, last_login, created_at`

// UpsertGoogleUser creates or refreshes the user identified by profile.GoogleID.
func (s *Store) UpsertGoogleUser(ctx context.Context, profile store.GoogleProfile, tokens models.Tokens, now time.Time) (*models.User, error) {
	sealed, err := s.cipher.SealTokens(tokens)
	if err != nil {
		return nil, fmt.Errorf("seal tokens: %w", err)
	}

	query := `INSERT INTO users (id, google_id, name, email, picture, access_token, refresh_token,
            token_expiry, scopes, last_login, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(google_id) DO UPDATE SET
            name = excluded.name,
            email = excluded.email,
            picture = excluded.picture,
            access_token = CASE WHEN excluded.access_token != '' THEN excluded.access_token ELSE users.access_token END,
            refresh_token = CASE WHEN excluded.refresh_token != '' THEN excluded.refresh_token ELSE users.refresh_token END,
            token_expiry = CASE WHEN excluded.access_token != '' THEN excluded.token_expiry ELSE users.token_expiry END,
            scopes = CASE WHEN excluded.scopes != '' THEN excluded.scopes ELSE users.scopes END,
            last_login = excluded.last_login;`
	_, err = s.db.ExecContext(ctx, query,
		uuid.NewString(),
		profile.GoogleID,
		profile.Name,
		profile.Email,
		profile.Picture,
		sealed.AccessToken,
		sealed.RefreshToken,
		unixNano(tokens.Expiry),
		tokens.Scopes,
		now.UnixNano(),
		now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.UserByGoogleID(ctx, profile.GoogleID)
}

// UserByID returns the user with the given internal id.
func (s *Store) UserByID(ctx context.Context, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?;`, id)
	return s.scanUser(row)
}

// UserByGoogleID returns the user with the given Google subject.
func (s *Store) UserByGoogleID(ctx context.Context, googleID string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE google_id = ?;`, googleID)
	return s.scanUser(row)
}

// UpdateTokens writes back a refreshed token pair.
func (s *Store) UpdateTokens(ctx context.Context, userID string, tokens models.Tokens) error {
	sealed, err := s.cipher.SealTokens(tokens)
	if err != nil {
		return fmt.Errorf("seal tokens: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET
            access_token = ?,
            token_expiry = ?,
            refresh_token = CASE WHEN ? != '' THEN ? ELSE refresh_token END,
            scopes = CASE WHEN ? != '' THEN ? ELSE scopes END
        WHERE id = ?;`,
		sealed.AccessToken,
		unixNano(tokens.Expiry),
		sealed.RefreshToken, sealed.RefreshToken,
		tokens.Scopes, tokens.Scopes,
		userID,
	)
	if err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}
	return expectAffected(res)
}

// UpdateProfile stores profile details. completed only ever sets the flag.
func (s *Store) UpdateProfile(ctx context.Context, userID string, details map[string]any, completed bool) (*models.User, error) {
	if details == nil {
		details = map[string]any{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode profile details: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET profile_details = ?, profile_completed = (profile_completed OR ?) WHERE id = ?;`,
		string(data), completed, userID)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	if err := expectAffected(res); err != nil {
		return nil, err
	}
	return s.UserByID(ctx, userID)
}

// UpdateProfileType stores the chosen profile type.
func (s *Store) UpdateProfileType(ctx context.Context, userID string, profileType models.ProfileType) (*models.User, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET profile_type = ? WHERE id = ?;`, string(profileType), userID)
	if err != nil {
		return nil, fmt.Errorf("update profile type: %w", err)
	}
	if err := expectAffected(res); err != nil {
		return nil, err
	}
	return s.UserByID(ctx, userID)
}

func (s *Store) scanUser(row *sql.Row) (*models.User, error) {
	var (
		u              models.User
		profileType    string
		profileDetails string
		tokenExpiry    int64
		lastLogin      int64
		createdAt      int64
	)
	err := row.Scan(
		&u.ID,
		&u.GoogleID,
		&u.Name,
		&u.Email,
		&u.Picture,
		&u.AccessToken,
		&u.RefreshToken,
		&tokenExpiry,
		&u.Scopes,
		&profileType,
		&u.ProfileCompleted,
		&profileDetails,
		&lastLogin,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.ProfileType = models.ProfileType(profileType)
	u.TokenExpiry = fromUnixNano(tokenExpiry)
	u.LastLogin = time.Unix(0, lastLogin)
	u.CreatedAt = time.Unix(0, createdAt)
	if profileDetails != "" && profileDetails != "{}" {
		if err := json.Unmarshal([]byte(profileDetails), &u.ProfileDetails); err != nil {
			return nil, fmt.Errorf("decode profile details: %w", err)
		}
	}
	if err := s.cipher.OpenUser(&u); err != nil {
		return nil, fmt.Errorf("open tokens: %w", err)
	}
	return &u, nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
