package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned when a subscriber has no stored settings.
var ErrNotFound = errors.New("subscriber not found")

// NotificationMode selects which presence events a subscriber hears about.
type NotificationMode string

const (
	NotificationAll      NotificationMode = "all"
	NotificationJoinOff  NotificationMode = "join_off"
	NotificationLeaveOff NotificationMode = "leave_off"
	NotificationNone     NotificationMode = "none"
)

// MuteMode defines how MutedUsernames is interpreted.
type MuteMode string

const (
	// MuteBlacklist treats the list as users to suppress.
	MuteBlacklist MuteMode = "blacklist"
	// MuteWhitelist treats the list as the only users to notify about.
	MuteWhitelist MuteMode = "whitelist"
)

// Noon holds the "not on online" flags: silent notifications while the
// subscriber's linked voice account is itself online.
type Noon struct {
	Enabled   bool
	Confirmed bool
}

// Settings is the per-subscriber notification configuration.
type Settings struct {
	SubscriberID     int64
	Language         string
	NotificationMode NotificationMode
	MuteMode         MuteMode
	MutedUsernames   map[string]struct{}
	LinkedUsername   string
	Noon             Noon
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DefaultLanguage is assigned to subscribers created without one.
const DefaultLanguage = "en"

// NewSettings returns defaults for a subscriber that has never configured
// anything.
func NewSettings(subscriberID int64) *Settings {
	return &Settings{
		SubscriberID:     subscriberID,
		Language:         DefaultLanguage,
		NotificationMode: NotificationAll,
		MuteMode:         MuteBlacklist,
		MutedUsernames:   make(map[string]struct{}),
	}
}

// Clone returns a deep copy, so callers can mutate without touching shared
// cached state.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	out := *s
	out.MutedUsernames = make(map[string]struct{}, len(s.MutedUsernames))
	for name := range s.MutedUsernames {
		out.MutedUsernames[name] = struct{}{}
	}
	return &out
}

// Muted reports whether username is in the raw list, without regard to mode.
func (s *Settings) Muted(username string) bool {
	_, ok := s.MutedUsernames[username]
	return ok
}

// MutedList returns the raw list sorted.
func (s *Settings) MutedList() []string {
	out := make([]string, 0, len(s.MutedUsernames))
	for name := range s.MutedUsernames {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Store persists subscriber settings.
type Store interface {
	// GetOrCreate returns the settings of a subscriber, creating defaults
	// atomically when none exist.
	GetOrCreate(ctx context.Context, subscriberID int64) (*Settings, error)

	// Get returns stored settings or ErrNotFound.
	Get(ctx context.Context, subscriberID int64) (*Settings, error)

	// Update overwrites all fields of an existing subscriber.
	Update(ctx context.Context, settings *Settings) error

	// Delete removes a subscriber and everything stored for it.
	Delete(ctx context.Context, subscriberID int64) error

	// ListSubscriberIDs returns every known subscriber id.
	ListSubscriberIDs(ctx context.Context) ([]int64, error)

	// Close closes the underlying database connection.
	Close() error
}
