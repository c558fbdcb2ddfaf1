package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/presencebridge/internal/store"
)

// Schema creates the tables used by SQLiteStore. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS subscribers (
	id                INTEGER PRIMARY KEY,
	language          TEXT NOT NULL DEFAULT 'en',
	notification_mode TEXT NOT NULL DEFAULT 'all',
	mute_mode         TEXT NOT NULL DEFAULT 'blacklist',
	linked_username   TEXT NOT NULL DEFAULT '',
	noon_enabled      BOOLEAN NOT NULL DEFAULT 0,
	noon_confirmed    BOOLEAN NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS muted_usernames (
	subscriber_id INTEGER NOT NULL,
	username      TEXT NOT NULL,
	PRIMARY KEY (subscriber_id, username),
	FOREIGN KEY (subscriber_id) REFERENCES subscribers(id)
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and makes sure the schema exists.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; :memory: databases also
	// vanish when the last connection closes.
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

// NewFromDB wraps an already opened database handle.
func NewFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetOrCreate returns stored settings, inserting defaults first if needed.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, subscriberID int64) (*store.Settings, error) {
	defaults := store.NewSettings(subscriberID)
	query := `
		INSERT OR IGNORE INTO subscribers (id, language, notification_mode, mute_mode)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, subscriberID, defaults.Language,
		defaults.NotificationMode, defaults.MuteMode); err != nil {
		return nil, fmt.Errorf("insert subscriber: %w", err)
	}
	return s.Get(ctx, subscriberID)
}

// Get retrieves settings by subscriber id.
func (s *SQLiteStore) Get(ctx context.Context, subscriberID int64) (*store.Settings, error) {
	query := `
		SELECT id, language, notification_mode, mute_mode, linked_username,
		       noon_enabled, noon_confirmed, created_at, updated_at
		FROM subscribers
		WHERE id = ?
	`
	settings := store.NewSettings(subscriberID)
	err := s.db.QueryRowContext(ctx, query, subscriberID).Scan(
		&settings.SubscriberID,
		&settings.Language,
		&settings.NotificationMode,
		&settings.MuteMode,
		&settings.LinkedUsername,
		&settings.Noon.Enabled,
		&settings.Noon.Confirmed,
		&settings.CreatedAt,
		&settings.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query subscriber: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT username FROM muted_usernames
		WHERE subscriber_id = ?
		ORDER BY username
	`, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("query muted usernames: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, fmt.Errorf("scan muted username: %w", err)
		}
		settings.MutedUsernames[username] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate muted usernames: %w", err)
	}

	return settings, nil
}

// Update overwrites the stored settings and muted list in one transaction.
func (s *SQLiteStore) Update(ctx context.Context, settings *store.Settings) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE subscribers
		SET language = ?, notification_mode = ?, mute_mode = ?, linked_username = ?,
		    noon_enabled = ?, noon_confirmed = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`,
		settings.Language,
		settings.NotificationMode,
		settings.MuteMode,
		settings.LinkedUsername,
		settings.Noon.Enabled,
		settings.Noon.Confirmed,
		settings.SubscriberID,
	)
	if err != nil {
		return fmt.Errorf("update subscriber: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM muted_usernames WHERE subscriber_id = ?`, settings.SubscriberID); err != nil {
		return fmt.Errorf("clear muted usernames: %w", err)
	}
	for _, username := range settings.MutedList() {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO muted_usernames (subscriber_id, username) VALUES (?, ?)
		`, settings.SubscriberID, username); err != nil {
			return fmt.Errorf("insert muted username: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Delete removes a subscriber together with its muted list.
func (s *SQLiteStore) Delete(ctx context.Context, subscriberID int64) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM muted_usernames WHERE subscriber_id = ?`, subscriberID); err != nil {
		return fmt.Errorf("delete muted usernames: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM subscribers WHERE id = ?`, subscriberID)
	if err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		err = store.ErrNotFound
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListSubscriberIDs returns all subscriber ids in ascending order.
func (s *SQLiteStore) ListSubscriberIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM subscribers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscriber id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return ids, nil
}

var _ store.Store = (*SQLiteStore)(nil)
