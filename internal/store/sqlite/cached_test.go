package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vovakirdan/presencebridge/internal/store"
)

func expectLoad(mock sqlmock.Sqlmock, id int64, mode string, muted ...string) {
	now := time.Now()
	mock.ExpectExec("INSERT OR IGNORE INTO subscribers").
		WithArgs(id, store.DefaultLanguage, store.NotificationAll, store.MuteBlacklist).
		WillReturnResult(sqlmock.NewResult(id, 1))
	mock.ExpectQuery("SELECT id, language, notification_mode").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "language", "notification_mode", "mute_mode", "linked_username",
			"noon_enabled", "noon_confirmed", "created_at", "updated_at",
		}).AddRow(id, "en", "all", mode, "", false, false, now, now))
	rows := sqlmock.NewRows([]string{"username"})
	for _, name := range muted {
		rows.AddRow(name)
	}
	mock.ExpectQuery("SELECT username FROM muted_usernames").WithArgs(id).WillReturnRows(rows)
}

func TestCachedKeepsPreviousValueOnFailedUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	cached := store.NewCached(NewFromDB(db))
	ctx := context.Background()

	expectLoad(mock, 5, "blacklist", "alice")
	settings, err := cached.GetOrCreate(ctx, 5)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE subscribers").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	settings.MutedUsernames = map[string]struct{}{}
	settings.MuteMode = store.MuteWhitelist
	if err := cached.Update(ctx, settings); err == nil {
		t.Fatalf("expected update error")
	}

	// Served from cache: no further queries are expected.
	again, err := cached.GetOrCreate(ctx, 5)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if again.MuteMode != store.MuteBlacklist || !again.Muted("alice") {
		t.Fatalf("cache changed despite failed write: %+v", again)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCachedReturnsCopies(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	cached := store.NewCached(NewFromDB(db))
	ctx := context.Background()

	expectLoad(mock, 8, "blacklist")
	first, err := cached.GetOrCreate(ctx, 8)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	first.MutedUsernames["mallory"] = struct{}{}

	second, err := cached.Get(ctx, 8)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if second.Muted("mallory") {
		t.Fatalf("mutating a returned value leaked into the cache")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
