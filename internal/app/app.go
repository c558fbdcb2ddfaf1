package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/presencebridge/internal/auth"
	"github.com/vovakirdan/presencebridge/internal/config"
	"github.com/vovakirdan/presencebridge/internal/core"
	applog "github.com/vovakirdan/presencebridge/internal/log"
	"github.com/vovakirdan/presencebridge/internal/observability"
	"github.com/vovakirdan/presencebridge/internal/service/subscribers"
	"github.com/vovakirdan/presencebridge/internal/store"
	"github.com/vovakirdan/presencebridge/internal/store/sqlite"
	"github.com/vovakirdan/presencebridge/internal/telegram"
	transporthttp "github.com/vovakirdan/presencebridge/internal/transport/http"
	"github.com/vovakirdan/presencebridge/internal/voice/wsgateway"
)

// App wires together the store, the presence router and the transports.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	router          *core.Router
	bot             *telegram.Bot
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	backend, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	st := store.NewCached(backend)
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	subs := subscribers.New(st)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg, core.StateNames())

	var (
		bot       *telegram.Bot
		deliverer core.Deliverer
	)
	if cfg.Telegram.Token != "" {
		bot, err = telegram.New(cfg.Telegram, subs, nil, applog.Component(logger, "telegram"))
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		deliverer = bot.Sender()
	} else {
		logger.Warn().Msg("telegram token not configured, notifications are logged only")
	}

	router := core.NewRouter(st, deliverer, core.OptionsFromConfig(cfg), metrics, logger)
	dialer := wsgateway.NewDialer(applog.Component(logger, "gateway"))
	for _, srv := range cfg.Servers {
		if err := router.AddServer(srv, dialer); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("add server %q: %w", srv.Key, err)
		}
	}
	if bot != nil {
		bot.BindServers(router)
	}

	server := transporthttp.NewServer(cfg.HTTP, transporthttp.Deps{
		Registry:     router,
		Subscribers:  subs,
		Auth:         auth.NewServiceFromConfig(cfg.Admin),
		Gatherer:     reg,
		LoginLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}, applog.Component(logger, "http"))

	return &App{
		server:          server,
		shutdownTimeout: cfg.HTTP.ShutdownTimeout,
		router:          router,
		bot:             bot,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts every component and blocks until context cancellation or the
// first fatal error.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.router.Run(gctx)
	})

	if a.bot != nil {
		g.Go(func() error {
			return a.bot.Run(gctx)
		})
	}

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
