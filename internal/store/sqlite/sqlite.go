package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/pulsechat/internal/store"
	"github.com/vovakirdan/pulsechat/internal/utils"
)

// Schema is applied on open. Timestamps are stored as unix milliseconds so
// expiry comparisons stay numeric.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	username   TEXT NOT NULL,
	latitude   REAL NOT NULL DEFAULT 0,
	longitude  REAL NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	tags       TEXT NOT NULL DEFAULT '[]',
	creator_id TEXT NOT NULL,
	latitude   REAL NOT NULL DEFAULT 0,
	longitude  REAL NOT NULL DEFAULT 0,
	expires_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (creator_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS room_members (
	room_id   TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	joined_at INTEGER NOT NULL,
	PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL,
	sender_id  TEXT NOT NULL,
	content    TEXT NOT NULL,
	expires_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rooms_expires ON rooms(expires_at);
CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_expires ON messages(expires_at);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file, or ":memory:".
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema or seed data.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=off")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// ==== UserStore implementation ====

// CreateUser creates a new anonymous user.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *store.User) error {
	if user.ID == "" {
		user.ID = utils.NewID()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	user.CreatedAt = fromMillis(toMillis(user.CreatedAt))

	query := `
		INSERT INTO users (id, username, latitude, longitude, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		user.ID, user.Username, user.Location.Latitude, user.Location.Longitude, toMillis(user.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, username, latitude, longitude, created_at
		FROM users
		WHERE id = ?
	`
	var (
		user      store.User
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.Location.Latitude,
		&user.Location.Longitude,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	user.CreatedAt = fromMillis(createdAt)

	return &user, nil
}

// UpdateUsername changes a user's nickname.
func (s *SQLiteStore) UpdateUsername(ctx context.Context, id, username string) (*store.User, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET username = ? WHERE id = ?`, username, id)
	if err != nil {
		return nil, fmt.Errorf("update username: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	return s.GetUserByID(ctx, id)
}

// ==== RoomStore implementation ====

// CreateRoom creates a new room and records the creator as a member.
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *store.Room) error {
	if room.ID == "" {
		room.ID = utils.NewID()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	if room.Tags == nil {
		room.Tags = []string{}
	}
	room.CreatedAt = fromMillis(toMillis(room.CreatedAt))
	room.ExpiresAt = fromMillis(toMillis(room.ExpiresAt))

	tags, err := json.Marshal(room.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO rooms (id, title, tags, creator_id, latitude, longitude, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query,
		room.ID, room.Title, string(tags), room.CreatorID,
		room.Location.Latitude, room.Location.Longitude,
		toMillis(room.ExpiresAt), toMillis(room.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert room: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO room_members (room_id, user_id, joined_at) VALUES (?, ?, ?)`,
		room.ID, room.CreatorID, toMillis(room.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert creator membership: %w", err)
	}

	return tx.Commit()
}

// GetRoomByID retrieves a room by ID.
func (s *SQLiteStore) GetRoomByID(ctx context.Context, id string) (*store.Room, error) {
	query := `
		SELECT id, title, tags, creator_id, latitude, longitude, expires_at, created_at
		FROM rooms
		WHERE id = ?
	`
	room, err := scanRoom(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query room: %w", err)
	}
	return room, nil
}

// ListActiveRooms lists rooms that have not expired at now, newest first.
func (s *SQLiteStore) ListActiveRooms(ctx context.Context, now time.Time) ([]*store.Room, error) {
	query := `
		SELECT id, title, tags, creator_id, latitude, longitude, expires_at, created_at
		FROM rooms
		WHERE expires_at > ?
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*store.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*store.Room, error) {
	var (
		room      store.Room
		tags      string
		expiresAt int64
		createdAt int64
	)
	if err := row.Scan(
		&room.ID,
		&room.Title,
		&tags,
		&room.CreatorID,
		&room.Location.Latitude,
		&room.Location.Longitude,
		&expiresAt,
		&createdAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &room.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	room.ExpiresAt = fromMillis(expiresAt)
	room.CreatedAt = fromMillis(createdAt)
	return &room, nil
}

// AddMember records room membership.
func (s *SQLiteStore) AddMember(ctx context.Context, roomID, userID string) error {
	query := `INSERT OR IGNORE INTO room_members (room_id, user_id, joined_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, roomID, userID, toMillis(time.Now())); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// ListMembers lists users who joined the room, in join order.
func (s *SQLiteStore) ListMembers(ctx context.Context, roomID string) ([]*store.User, error) {
	query := `
		SELECT u.id, u.username, u.latitude, u.longitude, u.created_at
		FROM room_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.joined_at, u.id
	`
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		var (
			user      store.User
			createdAt int64
		)
		if err := rows.Scan(&user.ID, &user.Username, &user.Location.Latitude, &user.Location.Longitude, &createdAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		user.CreatedAt = fromMillis(createdAt)
		users = append(users, &user)
	}
	return users, rows.Err()
}

// CountMembers returns the number of persisted members.
func (s *SQLiteStore) CountMembers(ctx context.Context, roomID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM room_members WHERE room_id = ?`, roomID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return count, nil
}

// ==== MessageStore implementation ====

// SaveMessage persists a message to storage.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if msg.ID == "" {
		msg.ID = utils.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = fromMillis(toMillis(msg.CreatedAt))

	query := `
		INSERT INTO messages (id, room_id, sender_id, content, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.RoomID, msg.SenderID, msg.Content, toMillis(msg.ExpiresAt), toMillis(msg.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns up to limit messages in chronological order, with sender names.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID string, limit int) ([]*store.Message, error) {
	query := `
		SELECT m.id, m.room_id, m.sender_id, COALESCE(u.username, ''), m.content, m.expires_at, m.created_at
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.room_id = ?
		ORDER BY m.created_at ASC, m.rowid ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var (
			msg       store.Message
			expiresAt int64
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Sender, &msg.Content, &expiresAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ExpiresAt = fromMillis(expiresAt)
		msg.CreatedAt = fromMillis(createdAt)
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// PurgeExpired removes expired rooms together with their memberships and messages.
func (s *SQLiteStore) PurgeExpired(ctx context.Context, now time.Time) (int64, int64, error) {
	cutoff := toMillis(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	msgResult, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE expires_at <= ? OR room_id IN (SELECT id FROM rooms WHERE expires_at <= ?)`,
		cutoff, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM room_members WHERE room_id IN (SELECT id FROM rooms WHERE expires_at <= ?)`, cutoff); err != nil {
		return 0, 0, fmt.Errorf("delete members: %w", err)
	}
	roomResult, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("delete rooms: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit purge: %w", err)
	}

	rooms, _ := roomResult.RowsAffected()
	messages, _ := msgResult.RowsAffected()
	return rooms, messages, nil
}
