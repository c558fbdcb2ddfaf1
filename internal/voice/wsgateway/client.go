// Package wsgateway implements voice.Client on top of a JSON-over-WebSocket
// gateway that fronts the voice/chat server.
package wsgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/presencebridge/internal/proto"
	"github.com/vovakirdan/presencebridge/internal/voice"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultCallTimeout  = 10 * time.Second
	defaultEventsBuffer = 64
	readLimit           = 1 << 20
)

// Dialer opens gateway sessions.
type Dialer struct {
	log *zerolog.Logger
}

// NewDialer builds a Dialer. A nil logger disables logging.
func NewDialer(logger *zerolog.Logger) *Dialer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Dialer{log: logger}
}

// Dial connects to target.URL and starts reading from the socket.
func (d *Dialer) Dial(ctx context.Context, target voice.Target) (voice.Client, error) {
	dialTimeout := target.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, target.URL, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("dial %s: %w", target.URL, voice.ErrTimeout)
		}
		return nil, fmt.Errorf("dial %s: %w: %v", target.URL, voice.ErrTransport, err)
	}
	conn.SetReadLimit(readLimit)

	c := newClient(conn, target, d.log)
	go c.readLoop()
	return c, nil
}

// Client is a single gateway session.
type Client struct {
	id     string
	conn   *websocket.Conn
	target voice.Target
	log    zerolog.Logger

	self atomic.Int64

	mu      sync.Mutex
	pending map[string]chan proto.Inbound

	events    chan voice.Event
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	// draining is closed by Logout; events arriving after it are dropped so
	// the read loop keeps serving replies while nobody consumes events.
	draining  chan struct{}
	drainOnce sync.Once

	// ctx is only cancelled by Close and bounds the read loop.
	ctx    context.Context
	cancel context.CancelFunc
}

func newClient(conn *websocket.Conn, target voice.Target, logger *zerolog.Logger) *Client {
	buf := target.EventsBuffer
	if buf <= 0 {
		buf = defaultEventsBuffer
	}
	if target.CallTimeout <= 0 {
		target.CallTimeout = defaultCallTimeout
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:       id,
		conn:     conn,
		target:   target,
		log:      logger.With().Str("component", "wsgateway").Str("client_id", id).Logger(),
		pending:  make(map[string]chan proto.Inbound),
		events:   make(chan voice.Event, buf),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		draining: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Self() int64 { return c.self.Load() }

func (c *Client) Events() <-chan voice.Event { return c.events }

// Login authenticates the session. With API credentials configured on the
// target a signed access token is sent in place of the password.
func (c *Client) Login(ctx context.Context, creds voice.Credentials) error {
	data := proto.LoginData{
		Username: creds.Username,
		Password: creds.Password,
		Nickname: creds.Nickname,
		Token:    creds.Token,
		Client:   c.target.ClientName,
		Protocol: proto.ProtocolVersion,
	}
	if data.Token == "" && c.target.APIKey != "" && c.target.APISecret != "" {
		token, err := AccessToken(c.target.APIKey, c.target.APISecret, creds, time.Hour)
		if err != nil {
			return err
		}
		data.Token = token
		data.Password = ""
	}

	var reply proto.LoginReply
	if err := c.call(ctx, proto.RequestTypeLogin, data, &reply); err != nil {
		return err
	}
	c.self.Store(reply.UserID)
	return nil
}

func (c *Client) ResolveChannel(ctx context.Context, ref string) (voice.Channel, error) {
	var ch proto.Channel
	if err := c.call(ctx, proto.RequestTypeResolveChannel, proto.ResolveChannelData{Ref: ref}, &ch); err != nil {
		return voice.Channel{}, err
	}
	return voice.Channel{ID: ch.ID, Path: ch.Path}, nil
}

func (c *Client) JoinChannel(ctx context.Context, ch voice.Channel, password string) error {
	return c.call(ctx, proto.RequestTypeJoin, proto.JoinData{ChannelID: ch.ID, Password: password}, nil)
}

func (c *Client) CurrentChannel(ctx context.Context) (voice.Channel, error) {
	var ch proto.Channel
	if err := c.call(ctx, proto.RequestTypeCurrentChannel, nil, &ch); err != nil {
		return voice.Channel{}, err
	}
	return voice.Channel{ID: ch.ID, Path: ch.Path}, nil
}

func (c *Client) OnlineUsers(ctx context.Context) ([]voice.User, error) {
	var users []proto.User
	if err := c.call(ctx, proto.RequestTypeUsers, nil, &users); err != nil {
		return nil, err
	}
	out := make([]voice.User, 0, len(users))
	for _, u := range users {
		out = append(out, userFromProto(u))
	}
	return out, nil
}

func (c *Client) Accounts(ctx context.Context) ([]voice.Account, error) {
	var accounts []proto.Account
	if err := c.call(ctx, proto.RequestTypeAccounts, nil, &accounts); err != nil {
		return nil, err
	}
	out := make([]voice.Account, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountFromProto(a))
	}
	return out, nil
}

func (c *Client) SetStatus(ctx context.Context, status voice.Status) error {
	return c.call(ctx, proto.RequestTypeStatus, proto.StatusData{Mode: status.Mode, Text: status.Text}, nil)
}

// Logout ends the session. Events received from here on are discarded.
func (c *Client) Logout(ctx context.Context) error {
	c.drainOnce.Do(func() { close(c.draining) })
	return c.call(ctx, proto.RequestTypeLogout, nil, nil)
}

// Close tears the session down. It does not emit connection_lost.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		err = c.conn.Close(websocket.StatusNormalClosure, "bye")
		c.cancel()
	})
	<-c.done
	return err
}

// call sends one request and waits for the reply with the same id.
func (c *Client) call(ctx context.Context, typ string, data, out any) error {
	select {
	case <-c.done:
		return fmt.Errorf("%s: %w", typ, voice.ErrClosed)
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, c.target.CallTimeout)
	defer cancel()

	id := uuid.NewString()
	replyCh := make(chan proto.Inbound, 1)
	c.mu.Lock()
	c.pending[id] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := wsjson.Write(ctx, c.conn, proto.Request{ID: id, Type: typ, Data: data}); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", typ, voice.ErrTimeout)
		}
		return fmt.Errorf("%s: %w: %v", typ, voice.ErrTransport, err)
	}

	select {
	case reply := <-replyCh:
		if reply.Error != nil {
			return fmt.Errorf("%s: %w", typ, &RemoteError{Code: reply.Error.Code, Msg: reply.Error.Msg})
		}
		if out != nil && len(reply.Data) > 0 {
			if err := json.Unmarshal(reply.Data, out); err != nil {
				return fmt.Errorf("%s: decode reply: %w", typ, err)
			}
		}
		return nil
	case <-c.done:
		return fmt.Errorf("%s: %w", typ, voice.ErrTransport)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", typ, voice.ErrTimeout)
		}
		return ctx.Err()
	}
}

func (c *Client) readLoop() {
	defer close(c.events)
	defer close(c.done)

	for {
		var in proto.Inbound
		if err := wsjson.Read(c.ctx, c.conn, &in); err != nil {
			select {
			case <-c.closing:
				return
			default:
			}
			c.log.Warn().Err(err).Msg("gateway connection lost")
			c.emit(voice.Event{Kind: voice.EventConnectionLost, Reason: err.Error()})
			return
		}

		switch in.Type {
		case proto.OutboundTypeReply, proto.OutboundTypeError:
			c.mu.Lock()
			ch, ok := c.pending[in.ID]
			c.mu.Unlock()
			if !ok {
				c.log.Debug().Str("request_id", in.ID).Msg("reply for unknown request")
				continue
			}
			ch <- in
		case proto.OutboundTypeEvent:
			ev, err := decodeEvent(in)
			if err != nil {
				c.log.Error().Err(err).Str("event", in.Event).Msg("drop malformed event")
				continue
			}
			if !c.emit(ev) {
				return
			}
		default:
			c.log.Debug().Str("type", in.Type).Msg("ignore unknown inbound type")
		}
	}
}

// emit hands ev to the consumer unless the client is being closed. After
// Logout it drops ev instead of waiting for the consumer.
func (c *Client) emit(ev voice.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.closing:
		return false
	case <-c.draining:
		c.log.Debug().Str("event", ev.Kind.String()).Msg("drop event after logout")
		return true
	}
}

func decodeEvent(in proto.Inbound) (voice.Event, error) {
	kind, ok := voice.ParseEventKind(in.Event)
	if !ok {
		return voice.Event{}, fmt.Errorf("unknown event %q", in.Event)
	}
	ev := voice.Event{Kind: kind}

	switch kind {
	case voice.EventUserLogin, voice.EventUserJoin, voice.EventUserLogout, voice.EventUserUpdate:
		var u proto.User
		if err := unmarshalData(in.Data, &u); err != nil {
			return ev, err
		}
		user := userFromProto(u)
		ev.User = &user
	case voice.EventAccountNew, voice.EventAccountRemove:
		var a proto.Account
		if err := unmarshalData(in.Data, &a); err != nil {
			return ev, err
		}
		account := accountFromProto(a)
		ev.Account = &account
	case voice.EventMessage:
		var msg voice.TextMessage
		if err := unmarshalData(in.Data, &msg); err != nil {
			return ev, err
		}
		ev.Message = &msg
	case voice.EventConnectionLost, voice.EventKicked, voice.EventKickedFromChannel:
		var r proto.EventReason
		if len(in.Data) > 0 {
			if err := json.Unmarshal(in.Data, &r); err != nil {
				return ev, fmt.Errorf("decode reason: %w", err)
			}
		}
		ev.Reason = r.Reason
	}
	return ev, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return errors.New("missing event payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func userFromProto(u proto.User) voice.User {
	return voice.User{ID: u.ID, Username: u.Username, Nickname: u.Nickname, ChannelID: u.ChannelID}
}

func accountFromProto(a proto.Account) voice.Account {
	return voice.Account{Username: a.Username, UserType: a.UserType, Note: a.Note}
}

var (
	_ voice.Client = (*Client)(nil)
	_ voice.Dialer = (*Dialer)(nil)
)
