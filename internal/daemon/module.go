// Package daemon composes the profile daemon: one broker session, one
// cache, one control socket, wired together with fx.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matfraga/papo/internal/api"
	"github.com/matfraga/papo/internal/bus"
	"github.com/matfraga/papo/internal/composer"
	"github.com/matfraga/papo/internal/config"
	"github.com/matfraga/papo/internal/directory"
	"github.com/matfraga/papo/internal/lock"
	"github.com/matfraga/papo/internal/logging"
	"github.com/matfraga/papo/internal/profile"
	"github.com/matfraga/papo/internal/rest"
	"github.com/matfraga/papo/internal/session"
	"github.com/matfraga/papo/internal/status"
	"github.com/matfraga/papo/internal/store"
	"github.com/matfraga/papo/internal/stream"
	intsync "github.com/matfraga/papo/internal/sync"
	"github.com/matfraga/papo/internal/transport"
)

// Params holds the resolved profile configuration passed to the fx
// module. SocketPath and Dialer are optional overrides for testing.
type Params struct {
	Profile    string
	SocketPath string
	Dialer     transport.Dialer
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideProfile,
			provideToken,
			provideStore,
			provideRestClient,
			provideDialer,
			provideDirectory,
			provideStreams,
			provideSessionManager,
			provideSyncEngine,
			provideComposer,
			provideAPIService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideProfile(p Params) (*config.Profile, error) {
	return config.LoadProfile(profile.ProfileConfigPath(p.Profile))
}

// token is a named string so fx can tell it apart from other strings.
type token string

func provideToken(prof *config.Profile) (token, error) {
	t, err := prof.BearerToken()
	return token(t), err
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.CacheDBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRestClient(prof *config.Profile, t token, logger *zap.Logger) *rest.Client {
	return rest.NewClient(prof.ServerURL, string(t), logger)
}

func provideDialer(p Params, logger *zap.Logger) transport.Dialer {
	if p.Dialer != nil {
		return p.Dialer
	}
	return transport.NewStompDialer(logger)
}

func provideDirectory(b *bus.Bus, logger *zap.Logger) *directory.Directory {
	return directory.New(b, logger)
}

func provideStreams(prof *config.Profile, restClient *rest.Client, b *bus.Bus, logger *zap.Logger) *stream.Streams {
	return stream.New(stream.Config{
		UserID:        prof.UserID,
		PendingWindow: prof.PendingWindow,
		AnchorSettle:  prof.AnchorSettle.Duration,
	}, restClient, b, logger)
}

func provideSessionManager(prof *config.Profile, t token, d transport.Dialer, m *status.Machine, b *bus.Bus, logger *zap.Logger) *session.Manager {
	return session.NewManager(prof, string(t), d, m, b, logger)
}

func provideSyncEngine(prof *config.Profile, dir *directory.Directory, streams *stream.Streams, db *store.DB, restClient *rest.Client, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(prof.UserID, dir, streams, db, restClient, b, logger)
}

func provideComposer(prof *config.Profile, mgr *session.Manager, engine *intsync.Engine, logger *zap.Logger) *composer.Composer {
	return composer.New(prof.UserID, mgr, engine, logger)
}

func provideAPIService(
	p Params,
	prof *config.Profile,
	m *status.Machine,
	engine *intsync.Engine,
	comp *composer.Composer,
	dir *directory.Directory,
	db *store.DB,
	restClient *rest.Client,
	b *bus.Bus,
	logger *zap.Logger,
) *api.Service {
	return api.NewService(p.Profile, prof.UserID, m, engine, comp, dir, db, restClient, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, mgr *session.Manager, engine *intsync.Engine, svc *api.Service, logger *zap.Logger) {
	engineCtx, cancelEngine := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go engine.Run(engineCtx)
			go svc.Run(engineCtx)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()

			// Seed and connect in the background so startup never blocks
			// on the network. Both degrade gracefully.
			go engine.SeedDirectory(engineCtx)
			go func() {
				if err := mgr.Connect(context.Background()); err != nil {
					logger.Error("initial connect failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancelEngine()
			if err := mgr.Disconnect(); err != nil {
				logger.Warn("session disconnect", zap.Error(err))
			}
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
