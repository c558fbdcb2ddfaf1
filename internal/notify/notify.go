// Package notify decides which subscribers hear about a presence event and
// whether they hear it silently. Everything here is pure.
package notify

import (
	"fmt"
	"strings"

	"github.com/vovakirdan/presencebridge/internal/store"
)

// Kind is the presence transition being announced.
type Kind int

const (
	Join Kind = iota + 1
	Leave
)

func (k Kind) String() string {
	switch k {
	case Join:
		return "join"
	case Leave:
		return "leave"
	default:
		return "unknown"
	}
}

// ShouldNotify reports whether a subscriber with settings s wants to hear
// that actor joined or left.
func ShouldNotify(s *store.Settings, kind Kind, actor string) bool {
	if s == nil {
		return false
	}
	switch s.NotificationMode {
	case store.NotificationNone:
		return false
	case store.NotificationJoinOff:
		if kind == Join {
			return false
		}
	case store.NotificationLeaveOff:
		if kind == Leave {
			return false
		}
	}

	inList := s.Muted(actor)
	if s.MuteMode == store.MuteWhitelist {
		return inList
	}
	return !inList
}

// IsEffectivelyMuted reports whether events about username are suppressed by
// the mute list under the current mode.
func IsEffectivelyMuted(s *store.Settings, username string) bool {
	inList := s.Muted(username)
	if s.MuteMode == store.MuteBlacklist {
		return inList
	}
	return !inList
}

// ToggleMuted flips the effective mute state of username and returns the new
// state. Under a whitelist, muting removes the name from the list.
func ToggleMuted(s *store.Settings, username string) bool {
	if s.MutedUsernames == nil {
		s.MutedUsernames = make(map[string]struct{})
	}
	if s.Muted(username) {
		delete(s.MutedUsernames, username)
	} else {
		s.MutedUsernames[username] = struct{}{}
	}
	return IsEffectivelyMuted(s, username)
}

// ShouldSendSilently applies the NOON rule: a confirmed, enabled subscriber
// whose linked account is online gets notifications without sound.
func ShouldSendSilently(s *store.Settings, online func(username string) bool) bool {
	if s == nil || !s.Noon.Enabled || !s.Noon.Confirmed || s.LinkedUsername == "" {
		return false
	}
	return online != nil && online(s.LinkedUsername)
}

// ParseNotificationMode accepts the wire names of NotificationMode.
func ParseNotificationMode(v string) (store.NotificationMode, error) {
	switch m := store.NotificationMode(strings.ToLower(strings.TrimSpace(v))); m {
	case store.NotificationAll, store.NotificationJoinOff, store.NotificationLeaveOff, store.NotificationNone:
		return m, nil
	}
	return "", fmt.Errorf("unknown notification mode %q", v)
}

// ParseMuteMode accepts the wire names of MuteMode.
func ParseMuteMode(v string) (store.MuteMode, error) {
	switch m := store.MuteMode(strings.ToLower(strings.TrimSpace(v))); m {
	case store.MuteBlacklist, store.MuteWhitelist:
		return m, nil
	}
	return "", fmt.Errorf("unknown mute mode %q", v)
}
