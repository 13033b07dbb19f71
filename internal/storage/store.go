package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"community-chat/server/pkg/models"
)

// ErrNotFound is returned when a delete targets a server id that is not
// in the messages table.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	public_key TEXT NOT NULL,
	data TEXT NOT NULL,
	signature TEXT NOT NULL,
	timestamp INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS deleted_messages (
	id INTEGER PRIMARY KEY,
	deleted_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS moderators (
	public_key TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS block_list (
	public_key TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS users (
	public_key TEXT PRIMARY KEY,
	last_active INTEGER NOT NULL
);
`

// Store is the connection-pooled persistence layer behind the handlers.
// database/sql owns the pool; callers share one Store by reference and
// never clone it.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	// sqlite allows a single writer; keep the pool small instead of
	// letting writers pile up on SQLITE_BUSY.
	db.SetMaxOpenConns(4)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InsertMessage stores the message and returns it with the assigned
// server id and insertion timestamp filled in.
func (s *Store) InsertMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (public_key, data, signature, timestamp) VALUES (?, ?, ?, ?)",
		msg.PublicKey, msg.Data, msg.Signature, msg.Timestamp)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Message{}, fmt.Errorf("read inserted id: %w", err)
	}
	msg.ServerID = id
	return msg, nil
}

// Messages returns up to limit messages with a server id strictly greater
// than fromServerID, oldest first.
func (s *Store) Messages(ctx context.Context, limit int, fromServerID int64) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, public_key, data, signature, timestamp FROM messages WHERE id > ? ORDER BY id ASC LIMIT ?",
		fromServerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ServerID, &msg.PublicKey, &msg.Data, &msg.Signature, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// DeleteMessage removes the message and records a deletion marker in the
// same transaction. Unknown server ids surface ErrNotFound.
func (s *Store) DeleteMessage(ctx context.Context, serverID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", serverID)
	if err != nil {
		return fmt.Errorf("delete message %d: %w", serverID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete message %d: %w", serverID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO deleted_messages (id, deleted_at) VALUES (?, ?)",
		serverID, time.Now().Unix()); err != nil {
		return fmt.Errorf("record deletion marker %d: %w", serverID, err)
	}
	return tx.Commit()
}

// DeletionMarkers returns up to limit markers for server ids strictly
// greater than fromServerID, oldest first.
func (s *Store) DeletionMarkers(ctx context.Context, limit int, fromServerID int64) ([]models.DeletionMarker, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, deleted_at FROM deleted_messages WHERE id > ? ORDER BY id ASC LIMIT ?",
		fromServerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query deletion markers: %w", err)
	}
	defer rows.Close()

	markers := make([]models.DeletionMarker, 0)
	for rows.Next() {
		var m models.DeletionMarker
		if err := rows.Scan(&m.ServerID, &m.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan deletion marker: %w", err)
		}
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

func (s *Store) AddModerator(ctx context.Context, publicKey string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO moderators (public_key) VALUES (?)", publicKey)
	if err != nil {
		return fmt.Errorf("add moderator: %w", err)
	}
	return nil
}

func (s *Store) Moderators(ctx context.Context) ([]string, error) {
	return s.listKeys(ctx, "SELECT public_key FROM moderators ORDER BY public_key")
}

// Ban adds the key to the block list; banning an already banned key is a
// no-op.
func (s *Store) Ban(ctx context.Context, publicKey string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO block_list (public_key) VALUES (?)", publicKey)
	if err != nil {
		return fmt.Errorf("ban %s: %w", publicKey, err)
	}
	return nil
}

// Unban removes the key from the block list; unbanning a key that is not
// banned is a no-op.
func (s *Store) Unban(ctx context.Context, publicKey string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM block_list WHERE public_key = ?", publicKey)
	if err != nil {
		return fmt.Errorf("unban %s: %w", publicKey, err)
	}
	return nil
}

func (s *Store) BannedKeys(ctx context.Context) ([]string, error) {
	return s.listKeys(ctx, "SELECT public_key FROM block_list ORDER BY public_key")
}

func (s *Store) IsBanned(ctx context.Context, publicKey string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM block_list WHERE public_key = ?", publicKey).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check ban %s: %w", publicKey, err)
	}
	return true, nil
}

// TouchMember records activity for the key, creating the member row on
// first sight.
func (s *Store) TouchMember(ctx context.Context, publicKey string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (public_key, last_active) VALUES (?, ?) ON CONFLICT(public_key) DO UPDATE SET last_active = excluded.last_active",
		publicKey, now.Unix())
	if err != nil {
		return fmt.Errorf("touch member %s: %w", publicKey, err)
	}
	return nil
}

// MemberCount counts members active at or after the cutoff.
func (s *Store) MemberCount(ctx context.Context, activeSince time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE last_active >= ?", activeSince.Unix()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return count, nil
}

func (s *Store) listKeys(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
