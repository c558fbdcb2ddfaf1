// fake_gateway is a local stand-in for a voice/chat gateway. It answers the
// bridge's requests and makes a handful of simulated users come and go.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/presencebridge/internal/proto"
)

type request struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type gateway struct {
	apiSecret string
	channel   proto.Channel
	log       zerolog.Logger

	mu     sync.Mutex
	nextID int64
	online map[int64]proto.User
	conns  map[*websocket.Conn]struct{}
}

var names = []string{"alice", "bob", "carol", "dave", "erin", "frank"}

func main() {
	addr := flag.String("addr", ":9000", "listen address")
	apiSecret := flag.String("api-secret", "", "verify login tokens with this secret")
	interval := flag.Duration("interval", 5*time.Second, "how often a simulated user logs in or out")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	gw := &gateway{
		apiSecret: *apiSecret,
		channel:   proto.Channel{ID: 1, Path: "/Lobby"},
		log:       logger,
		nextID:    100,
		online:    make(map[int64]proto.User),
		conns:     make(map[*websocket.Conn]struct{}),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go gw.simulate(ctx, *interval)

	srv := &http.Server{Addr: *addr, Handler: gw, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Info().Str("addr", *addr).Msg("fake gateway listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("listen")
	}
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.log.Error().Err(err).Msg("accept")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	g.mu.Lock()
	g.conns[conn] = struct{}{}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.conns, conn)
		g.mu.Unlock()
	}()

	ctx := r.Context()
	for {
		var req request
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			g.log.Info().Err(err).Msg("client gone")
			return
		}
		data, protoErr := g.handle(req)
		if err := wsjson.Write(ctx, conn, proto.Outbound{
			Type:  proto.OutboundTypeReply,
			ID:    req.ID,
			Data:  data,
			Error: protoErr,
		}); err != nil {
			return
		}
	}
}

func (g *gateway) handle(req request) (any, *proto.Error) {
	g.log.Debug().Str("type", req.Type).Msg("request")

	switch req.Type {
	case proto.RequestTypeLogin:
		var login proto.LoginData
		if err := json.Unmarshal(req.Data, &login); err != nil {
			return nil, &proto.Error{Code: proto.CodeBadRequest, Msg: err.Error()}
		}
		if g.apiSecret != "" {
			if err := g.verify(login.Token); err != nil {
				return nil, &proto.Error{Code: proto.CodePermission, Msg: err.Error()}
			}
		}
		g.log.Info().Str("username", login.Username).Str("client", login.Client).Msg("bridge logged in")
		return proto.LoginReply{UserID: 1}, nil
	case proto.RequestTypeResolveChannel, proto.RequestTypeCurrentChannel:
		return g.channel, nil
	case proto.RequestTypeJoin, proto.RequestTypeStatus, proto.RequestTypeLogout:
		return nil, nil
	case proto.RequestTypeUsers:
		g.mu.Lock()
		defer g.mu.Unlock()
		users := make([]proto.User, 0, len(g.online))
		for _, u := range g.online {
			users = append(users, u)
		}
		return users, nil
	case proto.RequestTypeAccounts:
		accounts := make([]proto.Account, 0, len(names))
		for _, n := range names {
			accounts = append(accounts, proto.Account{Username: n, UserType: 1})
		}
		return accounts, nil
	default:
		return nil, &proto.Error{Code: proto.CodeBadRequest, Msg: fmt.Sprintf("unknown request %q", req.Type)}
	}
}

// verify checks a LiveKit-style access token: HS256, issuer is the API key.
func (g *gateway) verify(raw string) error {
	if raw == "" {
		return errors.New("token required")
	}
	_, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return []byte(g.apiSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return err
}

func (g *gateway) simulate(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.step(ctx)
		}
	}
}

func (g *gateway) step(ctx context.Context) {
	g.mu.Lock()
	var (
		event string
		user  proto.User
	)
	if len(g.online) > 0 && rand.IntN(2) == 0 {
		for _, u := range g.online {
			user = u
			break
		}
		delete(g.online, user.ID)
		event = "user_logout"
	} else {
		g.nextID++
		name := names[rand.IntN(len(names))]
		user = proto.User{ID: g.nextID, Username: name, Nickname: name, ChannelID: g.channel.ID}
		g.online[user.ID] = user
		event = "user_login"
	}
	conns := make([]*websocket.Conn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	g.log.Info().Str("event", event).Str("username", user.Username).Int64("id", user.ID).Msg("simulated")
	for _, c := range conns {
		_ = wsjson.Write(ctx, c, proto.Outbound{Type: proto.OutboundTypeEvent, Event: event, Data: user})
	}
}
