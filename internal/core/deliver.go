package core

import (
	"context"
	"time"

	"github.com/vovakirdan/presencebridge/internal/notify"
)

// Deliverer sends text to the messaging platform.
type Deliverer interface {
	// Notify tells one subscriber that actor joined or left server.
	Notify(ctx context.Context, subscriberID int64, kind notify.Kind, actor, server string, silent bool) error
	// Relay forwards a private message received by the bot to the admins.
	Relay(ctx context.Context, text string) error
}

type jobKind int

const (
	jobPresence jobKind = iota
	jobRelay
)

// job is queued by the loop and processed by the delivery worker.
type job struct {
	kind     jobKind
	presence notify.Kind
	server   string
	username string
	display  string
	// online is a snapshot of the server's online usernames taken when the
	// event was applied.
	online map[string]struct{}
	text   string
}

// enqueue must be called on the loop. It never blocks.
func (r *Router) enqueue(j job) {
	select {
	case r.jobs <- j:
	default:
		r.metrics.DroppedJob()
		r.log.Warn().Str("server", j.server).Str("username", j.username).Msg("notification queue full, dropping job")
	}
}

func (r *Router) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.jobs:
			r.deliver(ctx, j)
		}
	}
}

func (r *Router) deliver(ctx context.Context, j job) {
	if r.deliverer == nil {
		r.log.Info().Str("server", j.server).Str("username", j.username).Str("text", j.text).Msg("no deliverer configured, dropping notification")
		return
	}

	if j.kind == jobRelay {
		start := time.Now()
		err := r.deliverer.Relay(ctx, j.text)
		r.metrics.Delivered("relay", deliveryStatus(err, false), time.Since(start).Seconds())
		if err != nil {
			r.log.Warn().Err(err).Str("server", j.server).Msg("relay message failed")
		}
		return
	}

	ids, err := r.store.ListSubscriberIDs(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("list subscribers")
		return
	}

	online := func(username string) bool {
		_, ok := j.online[username]
		return ok
	}

	sent := 0
	for _, id := range ids {
		settings, err := r.store.Get(ctx, id)
		if err != nil {
			r.log.Warn().Err(err).Int64("subscriber_id", id).Msg("load subscriber settings")
			continue
		}
		if !notify.ShouldNotify(settings, j.presence, j.username) {
			continue
		}
		silent := notify.ShouldSendSilently(settings, online)

		start := time.Now()
		err = r.deliverer.Notify(ctx, id, j.presence, j.display, j.server, silent)
		r.metrics.Delivered(j.presence.String(), deliveryStatus(err, silent), time.Since(start).Seconds())
		if err != nil {
			r.log.Warn().Err(err).Int64("subscriber_id", id).Msg("deliver notification")
			continue
		}
		sent++
	}

	r.log.Debug().
		Str("server", j.server).
		Str("kind", j.presence.String()).
		Str("username", j.username).
		Int("subscribers", len(ids)).
		Int("sent", sent).
		Msg("presence notification delivered")
}

func deliveryStatus(err error, silent bool) string {
	switch {
	case err != nil:
		return "error"
	case silent:
		return "silent"
	default:
		return "sent"
	}
}
