package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/presencebridge/internal/core"
	"github.com/vovakirdan/presencebridge/internal/notify"
)

// Sender delivers notifications through the Bot API. A silent notification
// is sent with disable_notification set.
type Sender struct {
	client  BotClient
	limiter *rate.Limiter
	admins  []int64
	log     *zerolog.Logger
}

// NewSender builds a Sender. limiter may be nil for no rate limiting.
func NewSender(client BotClient, limiter *rate.Limiter, admins []int64, logger *zerolog.Logger) *Sender {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Sender{
		client:  client,
		limiter: limiter,
		admins:  admins,
		log:     logger,
	}
}

// Notify implements core.Deliverer.
func (s *Sender) Notify(ctx context.Context, subscriberID int64, kind notify.Kind, actor, server string, silent bool) error {
	return s.send(ctx, subscriberID, FormatPresence(kind, actor, server), silent)
}

// Relay implements core.Deliverer by sending text to every admin chat.
func (s *Sender) Relay(ctx context.Context, text string) error {
	var errs []error
	for _, chatID := range s.admins {
		if err := s.send(ctx, chatID, text, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Sender) send(ctx context.Context, chatID int64, text string, silent bool) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	_, err := s.client.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:              chatID,
		Text:                text,
		DisableNotification: silent,
	})
	if err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	s.log.Debug().Int64("chat_id", chatID).Bool("silent", silent).Msg("message sent")
	return nil
}

// FormatPresence renders a join or leave notification.
func FormatPresence(kind notify.Kind, actor, server string) string {
	switch kind {
	case notify.Join:
		return fmt.Sprintf("%s joined %s", actor, server)
	case notify.Leave:
		return fmt.Sprintf("%s left %s", actor, server)
	default:
		return fmt.Sprintf("%s changed presence on %s", actor, server)
	}
}

var _ core.Deliverer = (*Sender)(nil)
