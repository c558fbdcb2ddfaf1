package core

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/presencebridge/internal/config"
	"github.com/vovakirdan/presencebridge/internal/presence"
	"github.com/vovakirdan/presencebridge/internal/voice"
)

// Connection keeps one configured server connected and its presence cache in
// sync. Fields below the mutable marker belong to the router loop.
type Connection struct {
	cfg    config.ServerConfig
	router *Router
	dialer voice.Dialer
	log    zerolog.Logger

	reconnectCh chan string

	// mutable, loop only
	cache             *presence.Cache
	state             State
	client            voice.Client
	sess              *session
	gen               uint64
	loginCompleteTime time.Time
	finalized         bool
	finalizing        bool
	reconnecting      bool
}

// session is one connect cycle: a logged-in client plus the goroutines
// working on its behalf.
type session struct {
	id     string
	gen    uint64
	client voice.Client
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// spawn runs fn in a goroutine tracked by the session. It is a no-op once the
// session is closing.
func (s *session) spawn(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// close cancels every session goroutine and waits for them to return.
func (s *session) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func newConnection(r *Router, cfg config.ServerConfig, dialer voice.Dialer) *Connection {
	logger := r.log.With().Str("server", cfg.Key).Logger()
	return &Connection{
		cfg:         cfg,
		router:      r,
		dialer:      dialer,
		log:         logger,
		reconnectCh: make(chan string, 1),
		cache:       presence.New(&logger),
		state:       StateDisconnected,
	}
}

// Key returns the configured server key.
func (c *Connection) Key() string { return c.cfg.Key }

func (c *Connection) setState(s State) {
	if c.state == s {
		return
	}
	c.log.Debug().Str("from", c.state.String()).Str("to", s.String()).Msg("connection state")
	c.state = s
	c.router.metrics.SetConnectionState(c.cfg.Key, s.String())
}

// supervise keeps the connection alive until ctx is done.
func (c *Connection) supervise(ctx context.Context) {
	rc := c.router.opts.Reconnect
	delay := rc.InitialDelay

	for {
		sess, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.stop()
				return
			}
			wait := jittered(delay, rc.Jitter)
			c.log.Warn().Err(err).Dur("retry_in", wait).Msg("connect failed")
			c.router.metrics.Reconnect(c.cfg.Key, "connect_failed")

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				c.stop()
				return
			case <-timer.C:
			}
			delay = nextDelay(delay, rc)
			continue
		}
		delay = rc.InitialDelay

		select {
		case <-ctx.Done():
			c.disconnect(sess)
			c.stop()
			return
		case reason := <-c.reconnectCh:
			c.log.Info().Str("reason", reason).Str("session", sess.id).Msg("reconnecting")
			c.router.metrics.Reconnect(c.cfg.Key, reason)
			c.disconnect(sess)
		}
	}
}

// connect dials and logs in, then registers the new session on the loop.
func (c *Connection) connect(ctx context.Context) (*session, error) {
	select {
	case <-c.reconnectCh:
	default:
	}
	c.router.post(ctx, func() { c.setState(StateConnecting) })

	client, err := c.dialer.Dial(ctx, c.target())
	if err != nil {
		return nil, err
	}

	loginCtx, cancel := context.WithTimeout(ctx, c.router.opts.RequestTimeout)
	err = client.Login(loginCtx, voice.Credentials{
		Username: c.cfg.Username,
		Password: c.cfg.Password,
		Nickname: c.cfg.Nickname,
	})
	cancel()
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	sessCtx, sessCancel := context.WithCancel(ctx)
	sess := &session{
		id:     uuid.NewString(),
		client: client,
		ctx:    sessCtx,
		cancel: sessCancel,
	}
	sess.log = c.log.With().Str("session", sess.id).Logger()

	if err := c.router.Do(ctx, func() { c.attach(sess) }); err != nil {
		sessCancel()
		_ = client.Close()
		return nil, err
	}
	sess.log.Info().Int64("self_id", client.Self()).Msg("logged in")
	return sess, nil
}

func (c *Connection) target() voice.Target {
	opts := c.router.opts
	return voice.Target{
		URL:         c.cfg.URL,
		DialTimeout: opts.RequestTimeout,
		CallTimeout: opts.RequestTimeout,
		APIKey:      c.cfg.APIKey,
		APISecret:   c.cfg.APISecret,
		ClientName:  opts.ClientName,
	}
}

// attach makes sess the live session. Runs on the loop.
func (c *Connection) attach(sess *session) {
	c.gen++
	sess.gen = c.gen
	c.sess = sess
	c.client = sess.client
	c.reconnecting = false
	c.cache.Reset()
	c.router.metrics.SetOnlineUsers(c.cfg.Key, 0)
	c.setState(StateLoggedIn)

	sess.spawn(func(ctx context.Context) { c.pump(ctx, sess) })
	c.onLoginSucceeded(sess)
}

func (c *Connection) onLoginSucceeded(sess *session) {
	c.finalized = false
	c.finalizing = false
	c.loginCompleteTime = time.Time{}
	c.startJoin(sess)
}

// startJoin asks the server to move the bot into its configured channel.
// Runs on the loop.
func (c *Connection) startJoin(sess *session) {
	if sess == nil || sess != c.sess {
		return
	}
	if !c.finalized {
		c.setState(StateJoiningChannel)
	}
	sess.spawn(func(ctx context.Context) { c.join(ctx, sess) })
}

func (c *Connection) join(ctx context.Context, sess *session) {
	ch, ok, err := c.resolveChannel(ctx, sess.client)
	if ctx.Err() != nil {
		return
	}
	switch {
	case err != nil && voice.IsRetryable(err):
		sess.log.Warn().Err(err).Msg("resolve channel failed")
		c.router.post(ctx, func() { c.requestReconnect(sess, "join_failed") })
		return
	case err != nil:
		sess.log.Warn().Err(err).Str("channel", c.cfg.Channel).Msg("cannot resolve channel")
		c.stayInCurrentChannel(ctx, sess)
		return
	case !ok:
		sess.log.Warn().Msg("no channel configured")
		c.stayInCurrentChannel(ctx, sess)
		return
	}

	joinCtx, cancel := context.WithTimeout(ctx, c.router.opts.JoinTimeout)
	err = sess.client.JoinChannel(joinCtx, ch, c.cfg.ChannelPassword)
	cancel()
	if ctx.Err() != nil {
		return
	}

	switch {
	case err == nil:
		sess.log.Info().Int64("channel_id", ch.ID).Str("channel", ch.Path).Msg("joined channel")
		c.router.post(ctx, func() { c.finalize(sess) })
	case errors.Is(err, voice.ErrPermission):
		sess.log.Error().Err(err).Int64("channel_id", ch.ID).Msg("not allowed to join channel")
		c.stayInCurrentChannel(ctx, sess)
	case voice.IsRetryable(err):
		sess.log.Warn().Err(err).Int64("channel_id", ch.ID).Msg("join channel failed")
		c.router.post(ctx, func() { c.requestReconnect(sess, "join_failed") })
	default:
		sess.log.Warn().Err(err).Int64("channel_id", ch.ID).Msg("join channel failed")
		c.stayInCurrentChannel(ctx, sess)
	}
}

// stayInCurrentChannel finalizes wherever the server put the bot.
func (c *Connection) stayInCurrentChannel(ctx context.Context, sess *session) {
	reqCtx, cancel := context.WithTimeout(ctx, c.router.opts.RequestTimeout)
	ch, err := sess.client.CurrentChannel(reqCtx)
	cancel()
	if err != nil {
		sess.log.Warn().Err(err).Msg("staying in current channel, lookup failed")
	} else {
		sess.log.Info().Int64("channel_id", ch.ID).Str("channel", ch.Path).Msg("staying in current channel")
	}
	c.router.post(ctx, func() { c.finalize(sess) })
}

// resolveChannel turns the configured channel into a Channel. ok is false when
// no channel is configured.
func (c *Connection) resolveChannel(ctx context.Context, client voice.Client) (voice.Channel, bool, error) {
	if c.cfg.Channel == "" {
		return voice.Channel{}, false, nil
	}
	if id, ok := c.cfg.ChannelRef(); ok {
		return voice.Channel{ID: id}, true, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.router.opts.RequestTimeout)
	defer cancel()
	ch, err := client.ResolveChannel(reqCtx, c.cfg.Channel)
	if err != nil {
		return voice.Channel{}, false, err
	}
	return ch, true, nil
}

// finalize is idempotent, also while a previous call is still running.
// Runs on the loop.
func (c *Connection) finalize(sess *session) {
	if sess != c.sess || c.finalized || c.finalizing {
		return
	}
	c.finalizing = true
	sess.spawn(func(ctx context.Context) { c.runFinalize(ctx, sess) })
}

func (c *Connection) runFinalize(ctx context.Context, sess *session) {
	users, err := c.fetchUsers(ctx, sess.client)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if voice.IsRetryable(err) {
			sess.log.Warn().Err(err).Msg("presence resync failed")
			c.router.post(ctx, func() {
				c.finalizing = false
				c.requestReconnect(sess, "resync_failed")
			})
			return
		}
		sess.log.Error().Err(err).Msg("presence resync failed, keeping incremental state")
	}

	err = c.router.Do(ctx, func() {
		if sess != c.sess {
			return
		}
		if users != nil {
			c.replaceUsers(sess, users)
		}
		sess.spawn(func(ctx context.Context) { c.reconcile(ctx, sess) })
		sess.spawn(func(ctx context.Context) { c.populateAccounts(ctx, sess) })
	})
	if err != nil {
		return
	}

	statusCtx, cancel := context.WithTimeout(ctx, c.router.opts.RequestTimeout)
	if err := sess.client.SetStatus(statusCtx, voice.Status{Text: c.cfg.StatusText}); err != nil {
		sess.log.Warn().Err(err).Msg("set status failed")
	}
	cancel()

	c.router.post(ctx, func() {
		if sess != c.sess {
			return
		}
		c.loginCompleteTime = c.router.now()
		c.finalized = true
		c.finalizing = false
		c.setState(StateFinalized)
		sess.log.Info().Int("online", c.cache.Len()).Msg("connection finalized")
	})
}

func (c *Connection) fetchUsers(ctx context.Context, client voice.Client) ([]voice.User, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.router.opts.RequestTimeout)
	defer cancel()
	return client.OnlineUsers(reqCtx)
}

// replaceUsers runs on the loop.
func (c *Connection) replaceUsers(sess *session, users []voice.User) {
	diff := c.cache.Replace(users)
	c.router.metrics.SetOnlineUsers(c.cfg.Key, c.cache.Len())
	c.router.metrics.Drift(c.cfg.Key, len(diff.Added), len(diff.Removed))
	if !diff.Empty() {
		sess.log.Info().
			Ints64("added", diff.Added).
			Ints64("removed", diff.Removed).
			Msg("presence resynced")
	}
}

func (c *Connection) reconcile(ctx context.Context, sess *session) {
	ticker := time.NewTicker(c.router.opts.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		users, err := c.fetchUsers(ctx, sess.client)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if voice.IsRetryable(err) {
				sess.log.Warn().Err(err).Dur("backoff", c.router.opts.RetryBackoff).Msg("reconcile failed")
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.router.opts.RetryBackoff):
				}
				continue
			}
			sess.log.Error().Err(err).Msg("reconcile failed")
			continue
		}

		c.router.post(ctx, func() {
			if sess != c.sess {
				return
			}
			c.replaceUsers(sess, users)
		})
	}
}

func (c *Connection) populateAccounts(ctx context.Context, sess *session) {
	reqCtx, cancel := context.WithTimeout(ctx, c.router.opts.RequestTimeout)
	accounts, err := sess.client.Accounts(reqCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if errors.Is(err, voice.ErrPermission) {
			sess.log.Warn().Err(err).Msg("not allowed to list accounts")
			return
		}
		sess.log.Warn().Err(err).Msg("list accounts failed")
		return
	}

	c.router.post(ctx, func() {
		if sess != c.sess {
			return
		}
		c.cache.ReplaceAccounts(accounts)
		sess.log.Info().Int("accounts", len(accounts)).Msg("accounts loaded")
	})
}

// pump forwards client events to the loop in order.
func (c *Connection) pump(ctx context.Context, sess *session) {
	events := sess.client.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.router.post(ctx, func() { c.requestReconnect(sess, "events_closed") })
				return
			}
			client := sess.client
			if !c.router.post(ctx, func() { c.router.handleEvent(client, ev) }) {
				return
			}
		}
	}
}

// requestReconnect hands a reconnect to the supervisor unless one is already
// pending. Runs on the loop.
func (c *Connection) requestReconnect(sess *session, reason string) {
	if sess == nil || sess != c.sess || c.reconnecting {
		return
	}
	c.reconnecting = true
	c.setState(StateReconnecting)
	select {
	case c.reconnectCh <- reason:
	default:
	}
}

// disconnect tears sess down. Runs on the supervisor goroutine.
func (c *Connection) disconnect(sess *session) {
	sess.close()

	ctx, cancel := context.WithTimeout(context.Background(), c.router.opts.ShutdownTimeout)
	if err := sess.client.Logout(ctx); err != nil {
		sess.log.Debug().Err(err).Msg("logout failed")
	}
	cancel()
	if err := sess.client.Close(); err != nil {
		sess.log.Debug().Err(err).Msg("close client")
	}

	_ = c.router.Do(context.Background(), func() {
		if sess != c.sess {
			return
		}
		c.sess = nil
		c.client = nil
		c.finalized = false
		c.finalizing = false
		c.loginCompleteTime = time.Time{}
		c.cache.Reset()
		c.router.metrics.SetOnlineUsers(c.cfg.Key, 0)
		if c.state != StateReconnecting {
			c.setState(StateDisconnected)
		}
	})
	sess.log.Info().Msg("disconnected")
}

func (c *Connection) stop() {
	_ = c.router.Do(context.Background(), func() { c.setState(StateStopped) })
}

func nextDelay(d time.Duration, rc config.ReconnectConfig) time.Duration {
	next := time.Duration(float64(d) * rc.Factor)
	if next <= 0 {
		next = rc.InitialDelay
	}
	if rc.MaxDelay > 0 && next > rc.MaxDelay {
		next = rc.MaxDelay
	}
	return next
}

func jittered(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || d <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * jitter * float64(d)
	return d + time.Duration(delta)
}
