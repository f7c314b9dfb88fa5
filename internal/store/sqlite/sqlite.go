package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/agora-server/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		return Migrate(context.Background(), db)
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema or seed data.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

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

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

// ==== UserStore implementation ====

// CreateUser creates a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, username string) (*store.User, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO users (username) VALUES (?)`, username)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, store.UserID(id))
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id store.UserID) (*store.User, error) {
	query := `
		SELECT id, username, created_at
		FROM users
		WHERE id = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err != nil {
		return nil, notFound("user", err)
	}

	return &user, nil
}

// ==== CommunityStore implementation ====

// CreateCommunity creates a new community.
func (s *SQLiteStore) CreateCommunity(ctx context.Context, name string) (*store.Community, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO communities (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("insert community: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	var community store.Community
	err = s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM communities WHERE id = ?`, id).
		Scan(&community.ID, &community.Name, &community.CreatedAt)
	if err != nil {
		return nil, notFound("community", err)
	}
	return &community, nil
}

// SetMembership creates or updates a user's membership status in a community.
func (s *SQLiteStore) SetMembership(ctx context.Context, communityID store.CommunityID, userID store.UserID, status store.MembershipStatus) error {
	query := `
		INSERT INTO community_members (community_id, user_id, status)
		VALUES (?, ?, ?)
		ON CONFLICT (community_id, user_id) DO UPDATE SET status = excluded.status
	`
	if _, err := s.db.ExecContext(ctx, query, communityID, userID, string(status)); err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

// IsAcceptedMember checks if user has an accepted membership in the community.
func (s *SQLiteStore) IsAcceptedMember(ctx context.Context, communityID store.CommunityID, userID store.UserID) (bool, error) {
	query := `
		SELECT 1 FROM community_members
		WHERE community_id = ? AND user_id = ? AND status = 'accepted'
	`
	return s.exists(ctx, query, communityID, userID)
}

// ==== ChannelStore implementation ====

// CreateChannel creates a community channel.
func (s *SQLiteStore) CreateChannel(ctx context.Context, communityID store.CommunityID, name, description string, private bool) (*store.Channel, error) {
	query := `
		INSERT INTO channels (kind, community_id, name, description, private)
		VALUES ('community', ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, communityID, name, description, private)
	if err != nil {
		return nil, fmt.Errorf("insert channel: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetChannel(ctx, store.ChannelID(id))
}

// GetChannel retrieves a channel by ID, including its member list.
func (s *SQLiteStore) GetChannel(ctx context.Context, id store.ChannelID) (*store.Channel, error) {
	query := `
		SELECT id, kind, community_id, name, description, private, direct_key, created_at
		FROM channels
		WHERE id = ?
	`
	var ch store.Channel
	var communityID sql.NullInt64
	var directKey sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&ch.ID,
		&ch.Kind,
		&communityID,
		&ch.Name,
		&ch.Description,
		&ch.Private,
		&directKey,
		&ch.CreatedAt,
	)
	if err != nil {
		return nil, notFound("channel", err)
	}

	if communityID.Valid {
		cid := store.CommunityID(communityID.Int64)
		ch.CommunityID = &cid
	}
	if directKey.Valid {
		ch.DirectKey = &directKey.String
	}

	members, err := s.listChannelMembers(ctx, ch.ID)
	if err != nil {
		return nil, err
	}
	ch.Members = members

	return &ch, nil
}

func (s *SQLiteStore) listChannelMembers(ctx context.Context, channelID store.ChannelID) ([]store.UserID, error) {
	query := `
		SELECT user_id FROM channel_members
		WHERE channel_id = ?
		ORDER BY user_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, channelID)
	if err != nil {
		return nil, fmt.Errorf("query channel members: %w", err)
	}
	defer rows.Close()

	var members []store.UserID
	for rows.Next() {
		var userID store.UserID
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan channel member: %w", err)
		}
		members = append(members, userID)
	}

	return members, rows.Err()
}

// GetOrCreateDirectChannel returns the direct channel between two users, creating it on first use.
func (s *SQLiteStore) GetOrCreateDirectChannel(ctx context.Context, a, b store.UserID) (*store.Channel, bool, error) {
	directKey := store.DirectKey(a, b)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	result, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO channels (kind, community_id, direct_key)
		VALUES ('direct', NULL, ?)
	`, directKey)
	if err != nil {
		return nil, false, fmt.Errorf("insert direct channel: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("get rows affected: %w", err)
	}
	created := affected == 1

	var channelID store.ChannelID
	if err := tx.QueryRowContext(ctx, `SELECT id FROM channels WHERE direct_key = ?`, directKey).Scan(&channelID); err != nil {
		return nil, false, notFound("direct channel", err)
	}

	if created {
		memberQuery := `INSERT OR IGNORE INTO channel_members (channel_id, user_id) VALUES (?, ?)`
		if _, err := tx.ExecContext(ctx, memberQuery, channelID, a); err != nil {
			return nil, false, fmt.Errorf("add first participant: %w", err)
		}
		if _, err := tx.ExecContext(ctx, memberQuery, channelID, b); err != nil {
			return nil, false, fmt.Errorf("add second participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit transaction: %w", err)
	}

	ch, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return nil, false, err
	}
	return ch, created, nil
}

// AddOverlayMember allows a user into a private community channel.
func (s *SQLiteStore) AddOverlayMember(ctx context.Context, channelID store.ChannelID, userID store.UserID) error {
	query := `
		INSERT OR IGNORE INTO channel_members (channel_id, user_id)
		VALUES (?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, channelID, userID); err != nil {
		return fmt.Errorf("insert channel member: %w", err)
	}
	return nil
}

// RemoveOverlayMember revokes a user's access to a private community channel.
func (s *SQLiteStore) RemoveOverlayMember(ctx context.Context, channelID store.ChannelID, userID store.UserID) error {
	query := `
		DELETE FROM channel_members
		WHERE channel_id = ? AND user_id = ?
	`
	if _, err := s.db.ExecContext(ctx, query, channelID, userID); err != nil {
		return fmt.Errorf("delete channel member: %w", err)
	}
	return nil
}

// IsInPrivateChannelOverlay checks if user is in the allowed-members overlay of a channel.
func (s *SQLiteStore) IsInPrivateChannelOverlay(ctx context.Context, channelID store.ChannelID, userID store.UserID) (bool, error) {
	query := `
		SELECT 1 FROM channel_members
		WHERE channel_id = ? AND user_id = ?
	`
	return s.exists(ctx, query, channelID, userID)
}

// ListUserCommunityChannels lists community channels the user can see.
func (s *SQLiteStore) ListUserCommunityChannels(ctx context.Context, userID store.UserID) ([]store.ChannelID, error) {
	query := `
		SELECT c.id
		FROM channels c
		JOIN community_members cm
		  ON cm.community_id = c.community_id AND cm.user_id = ? AND cm.status = 'accepted'
		WHERE c.kind = 'community'
		  AND (c.private = 0 OR EXISTS (
			SELECT 1 FROM channel_members m WHERE m.channel_id = c.id AND m.user_id = ?
		  ))
		ORDER BY c.id ASC
	`
	return s.channelIDs(ctx, query, userID, userID)
}

// ListUserDirectChannels lists direct channels the user participates in.
func (s *SQLiteStore) ListUserDirectChannels(ctx context.Context, userID store.UserID) ([]store.ChannelID, error) {
	query := `
		SELECT c.id
		FROM channels c
		JOIN channel_members m ON m.channel_id = c.id
		WHERE c.kind = 'direct' AND m.user_id = ?
		ORDER BY c.id ASC
	`
	return s.channelIDs(ctx, query, userID)
}

func (s *SQLiteStore) channelIDs(ctx context.Context, query string, args ...any) ([]store.ChannelID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	ids := []store.ChannelID{}
	for rows.Next() {
		var id store.ChannelID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan channel id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (s *SQLiteStore) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query existence: %w", err)
	}
	return true, nil
}
