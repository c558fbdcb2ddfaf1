package presence

import (
	"errors"
	"reflect"
	"testing"

	"github.com/vovakirdan/presencebridge/internal/voice"
)

func userEvent(kind voice.EventKind, id int64, username string) voice.Event {
	return voice.Event{Kind: kind, User: &voice.User{ID: id, Username: username, Nickname: username}}
}

func TestApplyLoginAndLogout(t *testing.T) {
	c := New(nil)

	if _, err := c.Apply(userEvent(voice.EventUserLogin, 1, "alice")); err != nil {
		t.Fatalf("apply login: %v", err)
	}
	if _, err := c.Apply(userEvent(voice.EventUserLogin, 2, "bob")); err != nil {
		t.Fatalf("apply login: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 users, got %d", c.Len())
	}

	change, err := c.Apply(voice.Event{Kind: voice.EventUserLogout, User: &voice.User{ID: 1}})
	if err != nil {
		t.Fatalf("apply logout: %v", err)
	}
	if !change.Known || change.User.Username != "alice" {
		t.Fatalf("expected removed entry for alice, got %+v", change)
	}
	if _, ok := c.User(1); ok {
		t.Fatalf("alice should be gone")
	}
}

func TestApplyLogoutUnknownIsNoop(t *testing.T) {
	c := New(nil)
	c.Replace([]voice.User{{ID: 5, Username: "eve"}})

	change, err := c.Apply(userEvent(voice.EventUserLogout, 9, "ghost"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if change.Known {
		t.Fatalf("expected unknown logout, got %+v", change)
	}
	if !reflect.DeepEqual(c.IDs(), []int64{5}) {
		t.Fatalf("cache changed: %v", c.IDs())
	}
}

func TestApplyUpdateKeepsUsername(t *testing.T) {
	c := New(nil)
	c.Replace([]voice.User{{ID: 3, Username: "carol", Nickname: "C", ChannelID: 1}})

	ev := voice.Event{Kind: voice.EventUserJoin, User: &voice.User{ID: 3, Nickname: "Carol", ChannelID: 7}}
	if _, err := c.Apply(ev); err != nil {
		t.Fatalf("apply join: %v", err)
	}
	u, _ := c.User(3)
	if u.Username != "carol" || u.ChannelID != 7 || u.Nickname != "Carol" {
		t.Fatalf("unexpected entry: %+v", u)
	}
}

func TestApplyRejectsBadPayload(t *testing.T) {
	c := New(nil)
	c.Replace([]voice.User{{ID: 1, Username: "alice"}})

	tests := []struct {
		name string
		ev   voice.Event
		want error
	}{
		{"login without user", voice.Event{Kind: voice.EventUserLogin}, ErrMissingUser},
		{"logout zero id", voice.Event{Kind: voice.EventUserLogout, User: &voice.User{}}, ErrMissingUser},
		{"account without name", voice.Event{Kind: voice.EventAccountNew, Account: &voice.Account{}}, ErrMissingAccount},
		{"message", voice.Event{Kind: voice.EventMessage}, ErrUnsupportedEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Apply(tt.ev); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !reflect.DeepEqual(c.IDs(), []int64{1}) {
				t.Fatalf("cache changed: %v", c.IDs())
			}
		})
	}
}

func TestReplaceMatchesFreshSnapshot(t *testing.T) {
	tests := []struct {
		name        string
		prior       []voice.User
		fresh       []voice.User
		wantIDs     []int64
		wantAdded   []int64
		wantRemoved []int64
	}{
		{
			name:      "empty cache",
			fresh:     []voice.User{{ID: 2}, {ID: 1}},
			wantIDs:   []int64{1, 2},
			wantAdded: []int64{1, 2},
		},
		{
			name:        "drift both ways",
			prior:       []voice.User{{ID: 1}, {ID: 2}, {ID: 3}},
			fresh:       []voice.User{{ID: 3}, {ID: 4}},
			wantIDs:     []int64{3, 4},
			wantAdded:   []int64{4},
			wantRemoved: []int64{1, 2},
		},
		{
			name:        "server empty",
			prior:       []voice.User{{ID: 1}},
			wantIDs:     []int64{},
			wantRemoved: []int64{1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(nil)
			c.Replace(tt.prior)

			diff := c.Replace(tt.fresh)
			if !reflect.DeepEqual(c.IDs(), tt.wantIDs) {
				t.Fatalf("ids = %v, want %v", c.IDs(), tt.wantIDs)
			}
			if len(diff.Added) != len(tt.wantAdded) || (len(tt.wantAdded) > 0 && !reflect.DeepEqual(diff.Added, tt.wantAdded)) {
				t.Fatalf("added = %v, want %v", diff.Added, tt.wantAdded)
			}
			if len(diff.Removed) != len(tt.wantRemoved) || (len(tt.wantRemoved) > 0 && !reflect.DeepEqual(diff.Removed, tt.wantRemoved)) {
				t.Fatalf("removed = %v, want %v", diff.Removed, tt.wantRemoved)
			}
		})
	}
}

func TestAccountsLoadedFlag(t *testing.T) {
	c := New(nil)
	if c.AccountsLoaded() {
		t.Fatalf("fresh cache must not report accounts as loaded")
	}

	if _, err := c.Apply(voice.Event{Kind: voice.EventAccountNew, Account: &voice.Account{Username: "dave"}}); err != nil {
		t.Fatalf("apply account: %v", err)
	}
	if c.AccountsLoaded() {
		t.Fatalf("incremental account events must not mark the directory loaded")
	}

	c.ReplaceAccounts(nil)
	if !c.AccountsLoaded() || len(c.Accounts()) != 0 {
		t.Fatalf("expected loaded empty directory")
	}

	c.ReplaceAccounts([]voice.Account{{Username: "b"}, {Username: "a"}})
	accs := c.Accounts()
	if len(accs) != 2 || accs[0].Username != "a" {
		t.Fatalf("unexpected accounts: %+v", accs)
	}

	if _, err := c.Apply(voice.Event{Kind: voice.EventAccountRemove, Account: &voice.Account{Username: "a"}}); err != nil {
		t.Fatalf("remove account: %v", err)
	}
	if len(c.Accounts()) != 1 {
		t.Fatalf("expected one account left")
	}
}

func TestUsernamesSnapshot(t *testing.T) {
	c := New(nil)
	c.Replace([]voice.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}, {ID: 3}})

	names := c.Usernames()
	if _, ok := names["bob"]; !ok || len(names) != 2 {
		t.Fatalf("unexpected usernames snapshot: %v", names)
	}
}
