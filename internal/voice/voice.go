// Package voice describes the capability the bridge consumes from a voice/chat
// server client: session setup, channel navigation, user and account listings
// and a push stream of server events.
package voice

import (
	"context"
	"time"
)

// User is a client currently logged in on the server.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname"`
	ChannelID int64  `json:"channel_id"`
}

// DisplayName returns the nickname, falling back to the username.
func (u User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.Username
}

// Account is a registered user account. It exists whether or not anybody is
// logged in with it.
type Account struct {
	Username string `json:"username"`
	UserType int    `json:"user_type"`
	Note     string `json:"note,omitempty"`
}

// Channel identifies a channel on the server.
type Channel struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
}

// Credentials are used to log in once the transport is up.
type Credentials struct {
	Username string
	Password string
	Nickname string
	Token    string
}

// Status is the presence status the bot advertises after it has settled.
type Status struct {
	Mode int
	Text string
}

// Client is one live session with a voice/chat server.
//
// Events are delivered in server order on the channel returned by Events. The
// channel is closed when the underlying transport goes away.
type Client interface {
	// ID uniquely identifies this handle among all handles ever dialed.
	ID() string
	Login(ctx context.Context, creds Credentials) error
	// Self returns the user id the server assigned to this session, or 0
	// before login completed.
	Self() int64
	ResolveChannel(ctx context.Context, ref string) (Channel, error)
	JoinChannel(ctx context.Context, ch Channel, password string) error
	CurrentChannel(ctx context.Context) (Channel, error)
	OnlineUsers(ctx context.Context) ([]User, error)
	Accounts(ctx context.Context) ([]Account, error)
	SetStatus(ctx context.Context, status Status) error
	Logout(ctx context.Context) error
	Close() error
	Events() <-chan Event
}

// Dialer opens new client sessions.
type Dialer interface {
	Dial(ctx context.Context, target Target) (Client, error)
}

// Target is everything a Dialer needs to reach a server.
type Target struct {
	URL          string
	DialTimeout  time.Duration
	CallTimeout  time.Duration
	APIKey       string
	APISecret    string
	ClientName   string
	EventsBuffer int
}
