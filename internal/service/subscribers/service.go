package subscribers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/presencebridge/internal/notify"
	"github.com/vovakirdan/presencebridge/internal/store"
)

// Common errors for subscriber operations.
var (
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidLanguage    = errors.New("invalid language")
	ErrInvalidMode        = errors.New("invalid mode")
	ErrNoLinkedUsername   = errors.New("no linked username")
)

// Service provides subscriber settings business logic. Every mutation works
// on a copy and only becomes visible once the store accepted it.
type Service struct {
	store store.Store
}

// New creates a new subscriber Service.
func New(st store.Store) *Service {
	return &Service{
		store: st,
	}
}

// Register returns the settings of a subscriber, creating defaults for a new one.
func (s *Service) Register(ctx context.Context, id int64) (*store.Settings, error) {
	settings, err := s.store.GetOrCreate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("register subscriber: %w", err)
	}
	return settings, nil
}

// Get returns the settings of a known subscriber.
func (s *Service) Get(ctx context.Context, id int64) (*store.Settings, error) {
	settings, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSubscriberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return settings, nil
}

// ToggleMute flips whether username is effectively muted for the subscriber
// and returns the new effective state.
func (s *Service) ToggleMute(ctx context.Context, id int64, username string) (bool, *store.Settings, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, nil, ErrInvalidUsername
	}

	var muted bool
	settings, err := s.mutate(ctx, id, func(next *store.Settings) error {
		muted = notify.ToggleMuted(next, username)
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return muted, settings, nil
}

// SetNotificationMode stores a mode given by its wire name.
func (s *Service) SetNotificationMode(ctx context.Context, id int64, mode string) (*store.Settings, error) {
	m, err := notify.ParseNotificationMode(mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMode, err)
	}
	return s.mutate(ctx, id, func(next *store.Settings) error {
		next.NotificationMode = m
		return nil
	})
}

// SetMuteMode switches between blacklist and whitelist. The list itself is
// kept, so its meaning inverts.
func (s *Service) SetMuteMode(ctx context.Context, id int64, mode string) (*store.Settings, error) {
	m, err := notify.ParseMuteMode(mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMode, err)
	}
	return s.mutate(ctx, id, func(next *store.Settings) error {
		next.MuteMode = m
		return nil
	})
}

func (s *Service) SetLanguage(ctx context.Context, id int64, lang string) (*store.Settings, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if len(lang) < 2 || len(lang) > 8 {
		return nil, ErrInvalidLanguage
	}
	return s.mutate(ctx, id, func(next *store.Settings) error {
		next.Language = lang
		return nil
	})
}

// LinkUsername ties the subscriber to a voice account for the NOON rule.
// Changing the link revokes an earlier confirmation; an empty username unlinks.
func (s *Service) LinkUsername(ctx context.Context, id int64, username string) (*store.Settings, error) {
	username = strings.TrimSpace(username)
	return s.mutate(ctx, id, func(next *store.Settings) error {
		if next.LinkedUsername != username {
			next.Noon.Confirmed = false
		}
		next.LinkedUsername = username
		return nil
	})
}

func (s *Service) SetNoon(ctx context.Context, id int64, enabled bool) (*store.Settings, error) {
	return s.mutate(ctx, id, func(next *store.Settings) error {
		next.Noon.Enabled = enabled
		return nil
	})
}

// ConfirmNoon marks the linked username as verified.
func (s *Service) ConfirmNoon(ctx context.Context, id int64) (*store.Settings, error) {
	return s.mutate(ctx, id, func(next *store.Settings) error {
		if next.LinkedUsername == "" {
			return ErrNoLinkedUsername
		}
		next.Noon.Confirmed = true
		return nil
	})
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.store.Delete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSubscriberNotFound
	}
	if err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	return nil
}

// mutate applies fn to a copy of the stored settings and persists it.
func (s *Service) mutate(ctx context.Context, id int64, fn func(*store.Settings) error) (*store.Settings, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, next); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("update settings: %w", err)
	}
	return next, nil
}
