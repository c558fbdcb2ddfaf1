// Package presence mirrors who is online on one voice/chat server and which
// accounts are registered there.
package presence

import (
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/presencebridge/internal/voice"
)

var (
	// ErrMissingUser is returned for user events without a usable payload.
	ErrMissingUser = errors.New("presence: event carries no user id")
	// ErrMissingAccount is returned for account events without a username.
	ErrMissingAccount = errors.New("presence: event carries no account username")
	// ErrUnsupportedEvent is returned for events the cache does not track.
	ErrUnsupportedEvent = errors.New("presence: unsupported event")
)

// Change describes the effect of one applied event.
type Change struct {
	Kind voice.EventKind
	// User is the entry after an upsert, or the removed entry on logout.
	// On a logout for an unknown id it is the event payload.
	User voice.User
	// Known is false when a logout referred to an id that was not cached.
	Known bool
}

// Diff lists ids that a full replacement added or removed.
type Diff struct {
	Added   []int64
	Removed []int64
}

// Empty reports whether the replacement changed the id set.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Cache holds the online users and registered accounts of a single server.
// It is not safe for concurrent use; its owner serializes access.
type Cache struct {
	users          map[int64]voice.User
	accounts       map[string]voice.Account
	accountsLoaded bool
	log            *zerolog.Logger
}

// New creates an empty cache.
func New(logger *zerolog.Logger) *Cache {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Cache{
		users:    make(map[int64]voice.User),
		accounts: make(map[string]voice.Account),
		log:      logger,
	}
}

// Apply performs the incremental update described by ev.
func (c *Cache) Apply(ev voice.Event) (Change, error) {
	switch ev.Kind {
	case voice.EventUserLogin, voice.EventUserJoin, voice.EventUserUpdate:
		if ev.User == nil || ev.User.ID == 0 {
			return Change{}, ErrMissingUser
		}
		u := *ev.User
		if prev, ok := c.users[u.ID]; ok && u.Username == "" {
			u.Username = prev.Username
		}
		c.users[u.ID] = u
		return Change{Kind: ev.Kind, User: u, Known: true}, nil

	case voice.EventUserLogout:
		if ev.User == nil || ev.User.ID == 0 {
			return Change{}, ErrMissingUser
		}
		prev, ok := c.users[ev.User.ID]
		if !ok {
			c.log.Warn().Int64("user_id", ev.User.ID).Str("username", ev.User.Username).
				Msg("logout for user missing from presence cache")
			return Change{Kind: ev.Kind, User: *ev.User}, nil
		}
		delete(c.users, ev.User.ID)
		return Change{Kind: ev.Kind, User: prev, Known: true}, nil

	case voice.EventAccountNew:
		if ev.Account == nil || ev.Account.Username == "" {
			return Change{}, ErrMissingAccount
		}
		c.accounts[ev.Account.Username] = *ev.Account
		return Change{Kind: ev.Kind, Known: true}, nil

	case voice.EventAccountRemove:
		if ev.Account == nil || ev.Account.Username == "" {
			return Change{}, ErrMissingAccount
		}
		_, ok := c.accounts[ev.Account.Username]
		delete(c.accounts, ev.Account.Username)
		return Change{Kind: ev.Kind, Known: ok}, nil
	}
	return Change{}, ErrUnsupportedEvent
}

// Replace swaps the online users for a fresh server snapshot and returns the
// id-level difference to the previous contents.
func (c *Cache) Replace(users []voice.User) Diff {
	fresh := make(map[int64]voice.User, len(users))
	for _, u := range users {
		if u.ID == 0 {
			continue
		}
		fresh[u.ID] = u
	}

	var diff Diff
	for id := range fresh {
		if _, ok := c.users[id]; !ok {
			diff.Added = append(diff.Added, id)
		}
	}
	for id := range c.users {
		if _, ok := fresh[id]; !ok {
			diff.Removed = append(diff.Removed, id)
		}
	}
	sortIDs(diff.Added)
	sortIDs(diff.Removed)

	c.users = fresh
	return diff
}

// ReplaceAccounts swaps the account directory and marks it as loaded.
func (c *Cache) ReplaceAccounts(accounts []voice.Account) {
	fresh := make(map[string]voice.Account, len(accounts))
	for _, a := range accounts {
		if a.Username == "" {
			continue
		}
		fresh[a.Username] = a
	}
	c.accounts = fresh
	c.accountsLoaded = true
}

// Reset drops all cached state, including the loaded flag of the account
// directory.
func (c *Cache) Reset() {
	c.users = make(map[int64]voice.User)
	c.accounts = make(map[string]voice.Account)
	c.accountsLoaded = false
}

// AccountsLoaded reports whether the account directory was populated. An
// empty directory that was never loaded means "unknown", not "no accounts".
func (c *Cache) AccountsLoaded() bool {
	return c.accountsLoaded
}

// User returns the cached entry for id.
func (c *Cache) User(id int64) (voice.User, bool) {
	u, ok := c.users[id]
	return u, ok
}

// Len returns the number of online users.
func (c *Cache) Len() int {
	return len(c.users)
}

// IDs returns the online user ids in ascending order.
func (c *Cache) IDs() []int64 {
	ids := make([]int64, 0, len(c.users))
	for id := range c.users {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Users returns a copy of the online users ordered by id.
func (c *Cache) Users() []voice.User {
	out := make([]voice.User, 0, len(c.users))
	for _, id := range c.IDs() {
		out = append(out, c.users[id])
	}
	return out
}

// Usernames returns a snapshot of the usernames currently online.
func (c *Cache) Usernames() map[string]struct{} {
	out := make(map[string]struct{}, len(c.users))
	for _, u := range c.users {
		if u.Username != "" {
			out[u.Username] = struct{}{}
		}
	}
	return out
}

// Accounts returns a copy of the account directory ordered by username.
func (c *Cache) Accounts() []voice.Account {
	out := make([]voice.Account, 0, len(c.accounts))
	for _, a := range c.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
