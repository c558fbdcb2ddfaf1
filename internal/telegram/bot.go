package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/presencebridge/internal/config"
	"github.com/vovakirdan/presencebridge/internal/service/subscribers"
)

// Bot bundles the Bot API client with the notification sender and the
// command handlers.
type Bot struct {
	client   BotClient
	sender   *Sender
	handlers *Handlers
	log      *zerolog.Logger
}

// New connects to the Bot API with the configured token.
func New(cfg config.TelegramConfig, subs *subscribers.Service, servers ServerLister, logger *zerolog.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	b, err := bot.New(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return NewWithClient(newRealBotClient(b), cfg, subs, servers, logger), nil
}

// NewWithClient builds a Bot around an existing client.
func NewWithClient(client BotClient, cfg config.TelegramConfig, subs *subscribers.Service, servers ServerLister, logger *zerolog.Logger) *Bot {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	handlers := NewHandlers(client, subs, servers, cfg.AdminChatIDs, logger)
	handlers.Register()

	return &Bot{
		client:   client,
		sender:   NewSender(client, limiter, cfg.AdminChatIDs, logger),
		handlers: handlers,
		log:      logger,
	}
}

// BindServers sets the source for /servers. It must be called before Run.
func (b *Bot) BindServers(servers ServerLister) {
	b.handlers.servers = servers
}

// Sender returns the notification sender backed by this bot.
func (b *Bot) Sender() *Sender {
	return b.sender
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.log.Info().Msg("telegram bot started")
	b.client.Start(ctx)
	b.log.Info().Msg("telegram bot stopped")
	return nil
}
