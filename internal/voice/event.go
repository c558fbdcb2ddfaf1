package voice

// EventKind enumerates what the server pushes to a client.
type EventKind int

const (
	// EventReady is emitted once the transport is up, before login.
	EventReady EventKind = iota
	// EventLoggedIn confirms the bot's own login.
	EventLoggedIn
	// EventConnectionLost reports that the transport died.
	EventConnectionLost
	// EventKicked reports that the bot was kicked from the server.
	EventKicked
	// EventKickedFromChannel reports that the bot was kicked from its channel
	// but is still logged in.
	EventKickedFromChannel
	// EventMessage carries a text message addressed to the bot or its channel.
	EventMessage
	EventUserLogin
	EventUserJoin
	EventUserLogout
	EventUserUpdate
	EventAccountNew
	EventAccountRemove
)

var eventKindNames = map[EventKind]string{
	EventReady:             "ready",
	EventLoggedIn:          "logged_in",
	EventConnectionLost:    "connection_lost",
	EventKicked:            "kicked",
	EventKickedFromChannel: "kicked_from_channel",
	EventMessage:           "message",
	EventUserLogin:         "user_login",
	EventUserJoin:          "user_join",
	EventUserLogout:        "user_logout",
	EventUserUpdate:        "user_update",
	EventAccountNew:        "account_new",
	EventAccountRemove:     "account_remove",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseEventKind maps a wire name back to its kind.
func ParseEventKind(name string) (EventKind, bool) {
	for k, n := range eventKindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// MessageType distinguishes private messages from channel chatter.
type MessageType int

const (
	MessageUser MessageType = iota + 1
	MessageChannel
	MessageBroadcast
)

// TextMessage is a chat message seen by the bot.
type TextMessage struct {
	Type      MessageType `json:"type"`
	FromID    int64       `json:"from_id"`
	FromName  string      `json:"from_name"`
	ToID      int64       `json:"to_id"`
	ChannelID int64       `json:"channel_id"`
	Text      string      `json:"text"`
}

// Event is one server notification. Only the field matching Kind is set.
type Event struct {
	Kind    EventKind
	User    *User
	Account *Account
	Message *TextMessage
	Reason  string
}
