package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/presencebridge/internal/config"
	"github.com/vovakirdan/presencebridge/internal/notify"
	"github.com/vovakirdan/presencebridge/internal/observability"
	"github.com/vovakirdan/presencebridge/internal/presence"
	"github.com/vovakirdan/presencebridge/internal/proto"
	"github.com/vovakirdan/presencebridge/internal/store"
	"github.com/vovakirdan/presencebridge/internal/voice"
)

// Options tune the router and every Connection it owns.
type Options struct {
	LoginGrace        time.Duration
	ReconcileInterval time.Duration
	RetryBackoff      time.Duration
	JoinTimeout       time.Duration
	RequestTimeout    time.Duration
	ShutdownTimeout   time.Duration
	Reconnect         config.ReconnectConfig
	QueueSize         int
	ClientName        string
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// OptionsFromConfig maps the relevant config sections to Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		LoginGrace:        cfg.Presence.LoginGrace,
		ReconcileInterval: cfg.Presence.ReconcileInterval,
		RetryBackoff:      cfg.Presence.RetryBackoff,
		JoinTimeout:       cfg.Presence.JoinTimeout,
		RequestTimeout:    cfg.Presence.RequestTimeout,
		ShutdownTimeout:   cfg.HTTP.ShutdownTimeout,
		Reconnect:         cfg.Reconnect,
	}
}

func (o *Options) applyDefaults() {
	def := config.Default()
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = def.Presence.ReconcileInterval
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = def.Presence.RetryBackoff
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = def.Presence.JoinTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = def.Presence.RequestTimeout
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = def.HTTP.ShutdownTimeout
	}
	if o.Reconnect.InitialDelay <= 0 {
		o.Reconnect.InitialDelay = def.Reconnect.InitialDelay
	}
	if o.Reconnect.Factor < 1 {
		o.Reconnect.Factor = def.Reconnect.Factor
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.ClientName == "" {
		o.ClientName = "presencebridge"
	}
}

type handlerFunc func(c *Connection, ev voice.Event)

// Router owns every Connection and runs the single loop that mutates their
// state. Other goroutines reach that state only through Do.
type Router struct {
	opts      Options
	store     store.Store
	deliverer Deliverer
	metrics   *observability.Metrics
	log       *zerolog.Logger
	now       func() time.Time

	dispatch map[voice.EventKind]handlerFunc
	conns    map[string]*Connection
	order    []string

	ops  chan func()
	jobs chan job
	done chan struct{}

	subsMu sync.Mutex
	subs   map[chan proto.PresenceChange]struct{}
}

// NewRouter builds a router. metrics may be nil.
func NewRouter(st store.Store, deliverer Deliverer, opts Options, metrics *observability.Metrics, logger *zerolog.Logger) *Router {
	opts.applyDefaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "router").Logger()

	r := &Router{
		opts:      opts,
		store:     st,
		deliverer: deliverer,
		metrics:   metrics,
		log:       &l,
		now:       opts.Now,
		conns:     make(map[string]*Connection),
		ops:       make(chan func(), 256),
		jobs:      make(chan job, opts.QueueSize),
		done:      make(chan struct{}),
		subs:      make(map[chan proto.PresenceChange]struct{}),
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.dispatch = map[voice.EventKind]handlerFunc{
		voice.EventReady:             r.onReady,
		voice.EventLoggedIn:          r.onLoggedIn,
		voice.EventConnectionLost:    r.onConnectionLost,
		voice.EventKicked:            r.onKicked,
		voice.EventKickedFromChannel: r.onKickedFromChannel,
		voice.EventMessage:           r.onMessage,
		voice.EventUserLogin:         r.onUserLogin,
		voice.EventUserJoin:          r.onPresenceUpdate,
		voice.EventUserUpdate:        r.onPresenceUpdate,
		voice.EventUserLogout:        r.onUserLogout,
		voice.EventAccountNew:        r.onAccountChange,
		voice.EventAccountRemove:     r.onAccountChange,
	}
	return r
}

// AddServer registers a server. It must be called before Run.
func (r *Router) AddServer(cfg config.ServerConfig, dialer voice.Dialer) error {
	if _, exists := r.conns[cfg.Key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateServer, cfg.Key)
	}
	r.conns[cfg.Key] = newConnection(r, cfg, dialer)
	r.order = append(r.order, cfg.Key)
	return nil
}

// Run starts one supervisor per server plus the delivery worker and processes
// loop work until ctx is cancelled and every supervisor has shut down.
func (r *Router) Run(ctx context.Context) error {
	defer close(r.done)
	defer r.closeSubscribers()

	var supervisors sync.WaitGroup
	for _, key := range r.order {
		conn := r.conns[key]
		supervisors.Add(1)
		go func() {
			defer supervisors.Done()
			conn.supervise(ctx)
		}()
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		r.work(ctx)
	}()

	supervisorsDone := make(chan struct{})
	go func() {
		supervisors.Wait()
		close(supervisorsDone)
	}()

	r.log.Info().Int("servers", len(r.order)).Msg("router started")

	for {
		select {
		case op := <-r.ops:
			op()
		case <-ctx.Done():
			// Supervisors still post their teardown work.
			for {
				select {
				case op := <-r.ops:
					op()
				case <-supervisorsDone:
					<-workerDone
					r.log.Info().Msg("router stopped")
					return nil
				}
			}
		}
	}
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from the loop itself.
func (r *Router) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}
	select {
	case r.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-r.done:
		return ErrStopped
	}
}

// post queues fn on the loop without waiting for it.
func (r *Router) post(ctx context.Context, fn func()) bool {
	select {
	case r.ops <- fn:
		return true
	case <-ctx.Done():
		return false
	case <-r.done:
		return false
	}
}

// owner finds the Connection whose live client produced an event.
func (r *Router) owner(client voice.Client) *Connection {
	for _, key := range r.order {
		c := r.conns[key]
		if c.client != nil && c.client.ID() == client.ID() {
			return c
		}
	}
	return nil
}

func (r *Router) handleEvent(client voice.Client, ev voice.Event) {
	c := r.owner(client)
	if c == nil {
		r.log.Debug().Str("client_id", client.ID()).Str("event", ev.Kind.String()).Msg("drop event from stale client")
		return
	}
	r.metrics.ServerEvent(c.cfg.Key, ev.Kind.String())

	h, ok := r.dispatch[ev.Kind]
	if !ok {
		c.log.Debug().Str("event", ev.Kind.String()).Msg("no handler for event")
		return
	}
	h(c, ev)
}

func (r *Router) onReady(c *Connection, _ voice.Event) {
	c.log.Debug().Msg("client ready")
}

func (r *Router) onLoggedIn(c *Connection, _ voice.Event) {
	c.log.Debug().Msg("login confirmed by server")
}

func (r *Router) onConnectionLost(c *Connection, ev voice.Event) {
	c.log.Warn().Str("reason", ev.Reason).Msg("connection lost")
	c.requestReconnect(c.sess, "connection_lost")
}

func (r *Router) onKicked(c *Connection, ev voice.Event) {
	c.log.Warn().Str("reason", ev.Reason).Msg("kicked from server")
	c.requestReconnect(c.sess, "kicked")
}

func (r *Router) onKickedFromChannel(c *Connection, ev voice.Event) {
	c.log.Warn().Str("reason", ev.Reason).Msg("kicked from channel, rejoining")
	c.startJoin(c.sess)
}

func (r *Router) onMessage(c *Connection, ev voice.Event) {
	msg := ev.Message
	if msg == nil {
		c.log.Error().Msg("drop message event without payload")
		return
	}
	if msg.Type != voice.MessageUser || !c.finalized {
		return
	}
	if c.client != nil && msg.FromID == c.client.Self() {
		return
	}
	r.enqueue(job{
		kind:   jobRelay,
		server: c.cfg.DisplayName(),
		text:   fmt.Sprintf("[%s] %s: %s", c.cfg.DisplayName(), msg.FromName, msg.Text),
	})
}

func (r *Router) onUserLogin(c *Connection, ev voice.Event) {
	change, ok := r.apply(c, ev)
	if !ok {
		return
	}
	r.announce(c, notify.Join, change.User)
}

func (r *Router) onUserLogout(c *Connection, ev voice.Event) {
	change, ok := r.apply(c, ev)
	if !ok {
		return
	}
	r.announce(c, notify.Leave, change.User)
}

func (r *Router) onPresenceUpdate(c *Connection, ev voice.Event) {
	r.apply(c, ev)
}

func (r *Router) onAccountChange(c *Connection, ev voice.Event) {
	if _, err := c.cache.Apply(ev); err != nil {
		c.log.Error().Err(err).Str("event", ev.Kind.String()).Msg("drop malformed event")
	}
}

// apply updates the presence cache and streams the change.
func (r *Router) apply(c *Connection, ev voice.Event) (presence.Change, bool) {
	change, err := c.cache.Apply(ev)
	if err != nil {
		c.log.Error().Err(err).Str("event", ev.Kind.String()).Msg("drop malformed event")
		return change, false
	}
	r.metrics.SetOnlineUsers(c.cfg.Key, c.cache.Len())
	r.publish(proto.PresenceChange{
		Server:    c.cfg.Key,
		Kind:      change.Kind.String(),
		UserID:    change.User.ID,
		Username:  change.User.Username,
		Nickname:  change.User.Nickname,
		ChannelID: change.User.ChannelID,
		TS:        r.now().Unix(),
	})
	return change, true
}

// announce queues a presence notification unless the connection is still
// settling or the event is about the bot itself.
func (r *Router) announce(c *Connection, kind notify.Kind, user voice.User) {
	if !c.finalized {
		return
	}
	if r.now().Sub(c.loginCompleteTime) < r.opts.LoginGrace {
		c.log.Debug().Str("username", user.Username).Msg("suppress notification during login grace")
		return
	}
	if c.client != nil && user.ID == c.client.Self() {
		return
	}
	if user.Username == "" {
		c.log.Warn().Int64("user_id", user.ID).Msg("cannot announce user without username")
		return
	}

	r.enqueue(job{
		kind:     jobPresence,
		presence: kind,
		server:   c.cfg.DisplayName(),
		username: user.Username,
		display:  user.DisplayName(),
		online:   c.cache.Usernames(),
	})
}

// Subscribe streams every applied presence change. Slow subscribers miss
// changes rather than stall the loop.
func (r *Router) Subscribe(buffer int) (<-chan proto.PresenceChange, func()) {
	ch := make(chan proto.PresenceChange, buffer)
	r.subsMu.Lock()
	r.subs[ch] = struct{}{}
	r.subsMu.Unlock()

	return ch, func() {
		r.subsMu.Lock()
		defer r.subsMu.Unlock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
	}
}

func (r *Router) publish(change proto.PresenceChange) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

func (r *Router) closeSubscribers() {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for ch := range r.subs {
		delete(r.subs, ch)
		close(ch)
	}
}

// ServerStatus is a point-in-time view of one Connection.
type ServerStatus struct {
	Key               string
	Name              string
	State             string
	SessionID         string
	Finalized         bool
	LoginCompleteTime time.Time
	OnlineUsers       int
	AccountsLoaded    bool
	Accounts          int
}

func (c *Connection) status() ServerStatus {
	st := ServerStatus{
		Key:               c.cfg.Key,
		Name:              c.cfg.DisplayName(),
		State:             c.state.String(),
		Finalized:         c.finalized,
		LoginCompleteTime: c.loginCompleteTime,
		OnlineUsers:       c.cache.Len(),
		AccountsLoaded:    c.cache.AccountsLoaded(),
		Accounts:          len(c.cache.Accounts()),
	}
	if c.sess != nil {
		st.SessionID = c.sess.id
	}
	return st
}

// Servers lists every configured server in configuration order.
func (r *Router) Servers(ctx context.Context) ([]ServerStatus, error) {
	var out []ServerStatus
	err := r.Do(ctx, func() {
		out = make([]ServerStatus, 0, len(r.order))
		for _, key := range r.order {
			out = append(out, r.conns[key].status())
		}
	})
	return out, err
}

// Server returns the status of one server.
func (r *Router) Server(ctx context.Context, key string) (ServerStatus, error) {
	var (
		out    ServerStatus
		lookup error
	)
	err := r.Do(ctx, func() {
		c, ok := r.conns[key]
		if !ok {
			lookup = serverNotFound(key)
			return
		}
		out = c.status()
	})
	if err != nil {
		return out, err
	}
	return out, lookup
}

// OnlineUsers returns the cached online users of a server.
func (r *Router) OnlineUsers(ctx context.Context, key string) ([]voice.User, error) {
	var (
		out    []voice.User
		lookup error
	)
	err := r.Do(ctx, func() {
		c, ok := r.conns[key]
		if !ok {
			lookup = serverNotFound(key)
			return
		}
		out = c.cache.Users()
	})
	if err != nil {
		return nil, err
	}
	return out, lookup
}

// Accounts returns the cached accounts of a server and whether they were
// loaded at all.
func (r *Router) Accounts(ctx context.Context, key string) ([]voice.Account, bool, error) {
	var (
		out    []voice.Account
		loaded bool
		lookup error
	)
	err := r.Do(ctx, func() {
		c, ok := r.conns[key]
		if !ok {
			lookup = serverNotFound(key)
			return
		}
		out = c.cache.Accounts()
		loaded = c.cache.AccountsLoaded()
	})
	if err != nil {
		return nil, false, err
	}
	return out, loaded, lookup
}

// Reconnect asks a connected server to reconnect.
func (r *Router) Reconnect(ctx context.Context, key string) error {
	var lookup error
	err := r.Do(ctx, func() {
		c, ok := r.conns[key]
		if !ok {
			lookup = serverNotFound(key)
			return
		}
		if c.sess == nil {
			lookup = coreError(ErrCodeNotReady, "server is not connected")
			return
		}
		c.log.Info().Msg("reconnect requested")
		c.requestReconnect(c.sess, "requested")
	})
	if err != nil {
		return err
	}
	return lookup
}

func serverNotFound(key string) *CoreError {
	return coreError(ErrCodeServerNotFound, fmt.Sprintf("server %q not found", key))
}
