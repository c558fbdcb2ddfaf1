package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vovakirdan/presencebridge/internal/core"
	"github.com/vovakirdan/presencebridge/internal/service/subscribers"
	"github.com/vovakirdan/presencebridge/internal/store"
	"github.com/vovakirdan/presencebridge/internal/voice"
)

// ServerResponse represents a voice server in API responses.
type ServerResponse struct {
	Key            string `json:"key"`
	Name           string `json:"name"`
	State          string `json:"state"`
	SessionID      string `json:"session_id,omitempty"`
	Finalized      bool   `json:"finalized"`
	LoginComplete  string `json:"login_complete,omitempty"`
	OnlineUsers    int    `json:"online_users"`
	AccountsLoaded bool   `json:"accounts_loaded"`
	Accounts       int    `json:"accounts"`
}

type UserResponse struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname,omitempty"`
	ChannelID int64  `json:"channel_id"`
}

type AccountResponse struct {
	Username string `json:"username"`
	UserType int    `json:"user_type"`
	Note     string `json:"note,omitempty"`
}

// AccountsResponse carries the loaded flag so clients can tell an empty list
// from a list the bot was not allowed to fetch.
type AccountsResponse struct {
	Loaded   bool              `json:"loaded"`
	Accounts []AccountResponse `json:"accounts"`
}

// SubscriberResponse represents subscriber settings in API responses.
type SubscriberResponse struct {
	ID               int64    `json:"id"`
	Language         string   `json:"language"`
	NotificationMode string   `json:"notification_mode"`
	MuteMode         string   `json:"mute_mode"`
	MutedUsernames   []string `json:"muted_usernames"`
	LinkedUsername   string   `json:"linked_username,omitempty"`
	NoonEnabled      bool     `json:"noon_enabled"`
	NoonConfirmed    bool     `json:"noon_confirmed"`
}

// MuteToggleResponse reports the effective state after a toggle.
type MuteToggleResponse struct {
	Username   string             `json:"username"`
	Muted      bool               `json:"muted"`
	Subscriber SubscriberResponse `json:"subscriber"`
}

func serverToResponse(st core.ServerStatus) ServerResponse {
	resp := ServerResponse{
		Key:            st.Key,
		Name:           st.Name,
		State:          st.State,
		SessionID:      st.SessionID,
		Finalized:      st.Finalized,
		OnlineUsers:    st.OnlineUsers,
		AccountsLoaded: st.AccountsLoaded,
		Accounts:       st.Accounts,
	}
	if !st.LoginCompleteTime.IsZero() {
		resp.LoginComplete = st.LoginCompleteTime.UTC().Format(time.RFC3339)
	}
	return resp
}

func usersToResponse(users []voice.User) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, UserResponse{
			ID:        u.ID,
			Username:  u.Username,
			Nickname:  u.Nickname,
			ChannelID: u.ChannelID,
		})
	}
	return out
}

func accountsToResponse(accounts []voice.Account) []AccountResponse {
	out := make([]AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, AccountResponse{Username: a.Username, UserType: a.UserType, Note: a.Note})
	}
	return out
}

func subscriberToResponse(s *store.Settings) SubscriberResponse {
	return SubscriberResponse{
		ID:               s.SubscriberID,
		Language:         s.Language,
		NotificationMode: string(s.NotificationMode),
		MuteMode:         string(s.MuteMode),
		MutedUsernames:   s.MutedList(),
		LinkedUsername:   s.LinkedUsername,
		NoonEnabled:      s.Noon.Enabled,
		NoonConfirmed:    s.Noon.Confirmed,
	}
}

// writeError maps domain errors to HTTP status codes.
func writeError(c *gin.Context, err error) {
	var coreErr *core.CoreError
	switch {
	case errors.As(err, &coreErr):
		status := http.StatusInternalServerError
		switch coreErr.Code {
		case core.ErrCodeServerNotFound:
			status = http.StatusNotFound
		case core.ErrCodeNotReady:
			status = http.StatusConflict
		}
		c.JSON(status, ErrorResponse{Error: coreErr.Message, Code: coreErr.Code})
	case errors.Is(err, subscribers.ErrSubscriberNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, subscribers.ErrInvalidUsername),
		errors.Is(err, subscribers.ErrInvalidLanguage),
		errors.Is(err, subscribers.ErrInvalidMode),
		errors.Is(err, subscribers.ErrNoLinkedUsername):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "bridge is shutting down"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}
