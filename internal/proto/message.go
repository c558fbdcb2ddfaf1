package proto

import "encoding/json"

const (
	ProtocolVersion = 1

	RequestTypeLogin          = "login"
	RequestTypeResolveChannel = "resolve_channel"
	RequestTypeJoin           = "join"
	RequestTypeCurrentChannel = "current_channel"
	RequestTypeUsers          = "users"
	RequestTypeAccounts       = "accounts"
	RequestTypeStatus         = "status"
	RequestTypeLogout         = "logout"

	OutboundTypeReply = "reply"
	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// Error codes carried in Reply.Error.
const (
	CodePermission = "permission"
	CodeTimeout    = "timeout"
	CodeNotFound   = "not_found"
	CodeBadRequest = "bad_request"
	CodeInternal   = "internal"
)

// Request is the envelope for commands sent by the bridge to the gateway.
type Request struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Inbound is anything the gateway sends back: a reply to a request or an
// unsolicited event.
type Inbound struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Outbound is used by the gateway side (and tests) to answer requests and push
// events.
type Outbound struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// LoginData authenticates the bridge. Token is set instead of Password when
// the server is configured with API credentials.
type LoginData struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Token    string `json:"token,omitempty"`
	Client   string `json:"client,omitempty"`
	Protocol int    `json:"protocol"`
}

// LoginReply carries the user id the server assigned to the bridge.
type LoginReply struct {
	UserID int64 `json:"user_id"`
}

type ResolveChannelData struct {
	Ref string `json:"ref"`
}

type JoinData struct {
	ChannelID int64  `json:"channel_id"`
	Password  string `json:"password,omitempty"`
}

type StatusData struct {
	Mode int    `json:"mode"`
	Text string `json:"text"`
}

// Channel is the wire form of a channel.
type Channel struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
}

// User is the wire form of an online user.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname,omitempty"`
	ChannelID int64  `json:"channel_id"`
}

// Account is the wire form of a registered account.
type Account struct {
	Username string `json:"username"`
	UserType int    `json:"user_type"`
	Note     string `json:"note,omitempty"`
}

// EventReason is the payload of connection_lost, kicked and
// kicked_from_channel events.
type EventReason struct {
	Reason string `json:"reason,omitempty"`
}

// PresenceChange is pushed to /ws/presence subscribers.
type PresenceChange struct {
	Server    string `json:"server"`
	Kind      string `json:"kind"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname,omitempty"`
	ChannelID int64  `json:"channel_id"`
	TS        int64  `json:"ts"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
