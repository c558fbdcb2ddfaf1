package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/presencebridge/internal/core"
	"github.com/vovakirdan/presencebridge/internal/service/subscribers"
)

// ServerLister reports the state of the configured voice servers.
type ServerLister interface {
	Servers(ctx context.Context) ([]core.ServerStatus, error)
}

// Handlers serves the few commands the bot understands: /start registers the
// chat as a subscriber, /stop removes it, /servers is admin-only.
type Handlers struct {
	client  BotClient
	subs    *subscribers.Service
	servers ServerLister
	admins  map[int64]struct{}
	log     *zerolog.Logger
}

func NewHandlers(client BotClient, subs *subscribers.Service, servers ServerLister, admins []int64, logger *zerolog.Logger) *Handlers {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	set := make(map[int64]struct{}, len(admins))
	for _, id := range admins {
		set[id] = struct{}{}
	}
	return &Handlers{
		client:  client,
		subs:    subs,
		servers: servers,
		admins:  set,
		log:     logger,
	}
}

// Register attaches the handlers to the bot client.
func (h *Handlers) Register() {
	h.client.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, h.handleStart)
	h.client.RegisterHandler(bot.HandlerTypeMessageText, "/stop", bot.MatchTypePrefix, h.handleStop)
	h.client.RegisterHandler(bot.HandlerTypeMessageText, "/servers", bot.MatchTypePrefix,
		AdminOnly(h.isAdmin, h.handleDenied, h.handleServers))
}

func (h *Handlers) isAdmin(chatID int64) bool {
	_, ok := h.admins[chatID]
	return ok
}

func (h *Handlers) handleStart(ctx context.Context, _ *bot.Bot, update *models.Update) {
	chatID, ok := privateChat(update)
	if !ok {
		return
	}
	if _, err := h.subs.Register(ctx, chatID); err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("failed to register subscriber")
		h.reply(ctx, chatID, "Registration failed, try again later.")
		return
	}
	h.log.Info().Int64("chat_id", chatID).Msg("subscriber registered")
	h.reply(ctx, chatID, "You will now receive presence notifications.")
}

func (h *Handlers) handleStop(ctx context.Context, _ *bot.Bot, update *models.Update) {
	chatID, ok := privateChat(update)
	if !ok {
		return
	}
	if err := h.subs.Delete(ctx, chatID); err != nil {
		h.log.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to delete subscriber")
		h.reply(ctx, chatID, "You were not subscribed.")
		return
	}
	h.log.Info().Int64("chat_id", chatID).Msg("subscriber removed")
	h.reply(ctx, chatID, "Notifications stopped.")
}

func (h *Handlers) handleServers(ctx context.Context, _ *bot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID
	if h.servers == nil {
		h.reply(ctx, chatID, "Server list unavailable.")
		return
	}
	statuses, err := h.servers.Servers(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list servers")
		h.reply(ctx, chatID, "Server list unavailable.")
		return
	}
	h.reply(ctx, chatID, FormatServers(statuses))
}

func (h *Handlers) handleDenied(ctx context.Context, _ *bot.Bot, update *models.Update) {
	h.reply(ctx, update.Message.Chat.ID, "This command is for administrators only.")
}

func (h *Handlers) reply(ctx context.Context, chatID int64, text string) {
	if _, err := h.client.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		h.log.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to send reply")
	}
}

// AdminOnly runs next for updates from admin chats and deny for the rest.
func AdminOnly(isAdmin func(chatID int64) bool, deny, next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if update == nil || update.Message == nil {
			return
		}
		if !isAdmin(update.Message.Chat.ID) {
			if deny != nil {
				deny(ctx, b, update)
			}
			return
		}
		next(ctx, b, update)
	}
}

// FormatServers renders a short status line per server.
func FormatServers(statuses []core.ServerStatus) string {
	if len(statuses) == 0 {
		return "No servers configured."
	}
	var sb strings.Builder
	for i, st := range statuses {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s: %s, %d online", st.Name, st.State, st.OnlineUsers)
	}
	return sb.String()
}

func privateChat(update *models.Update) (int64, bool) {
	if update == nil || update.Message == nil {
		return 0, false
	}
	if update.Message.Chat.Type != models.ChatTypePrivate {
		return 0, false
	}
	return update.Message.Chat.ID, true
}
