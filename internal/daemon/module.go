package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/classline/classline/internal/auth"
	"github.com/classline/classline/internal/broadcast"
	"github.com/classline/classline/internal/bus"
	"github.com/classline/classline/internal/client"
	"github.com/classline/classline/internal/config"
	"github.com/classline/classline/internal/conn"
	"github.com/classline/classline/internal/connstate"
	"github.com/classline/classline/internal/health"
	"github.com/classline/classline/internal/lock"
	"github.com/classline/classline/internal/logging"
	"github.com/classline/classline/internal/model"
	"github.com/classline/classline/internal/reconcile"
	"github.com/classline/classline/internal/room"
	"github.com/classline/classline/internal/roster"
	"github.com/classline/classline/internal/session"
	"github.com/classline/classline/internal/store"
	"github.com/classline/classline/internal/upload"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRoster,
			provideReconciler,
			provideManager,
			provideMonitor,
			provideDispatcher,
			provideUploader,
			provideAuthProvider,
			provideClient,
			newConnRecorder,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(p Params) (*config.Config, error) {
	return config.Load(session.ConfigPath(p.SessionName))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *connstate.Machine {
	return connstate.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRoster(db *store.DB, b *bus.Bus, logger *zap.Logger) *roster.Roster {
	return roster.New(db, b, logger)
}

func provideReconciler(b *bus.Bus, logger *zap.Logger) *reconcile.Reconciler {
	return reconcile.New(b, logger)
}

func provideManager(cfg *config.Config, machine *connstate.Machine, b *bus.Bus, logger *zap.Logger) *conn.Manager {
	opts := conn.Options{
		URL:      cfg.WebsocketURL(),
		Attempts: cfg.ReconnectAttempts,
		Delay:    time.Duration(cfg.ReconnectDelayMS) * time.Millisecond,
		Cooldown: time.Duration(cfg.ReconnectDelayMS) * time.Millisecond,
	}
	return conn.NewManager(opts, conn.Dial(logger), machine, b, logger)
}

func provideMonitor(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *health.Monitor {
	opts := health.Options{
		ProbeURL:      cfg.ProbeURL(),
		ProbeTimeout:  time.Duration(cfg.ProbeTimeoutS) * time.Second,
		ProbeInterval: time.Duration(cfg.ProbeIntervalS) * time.Second,
		RecoveryDelay: time.Duration(cfg.RecoveryDelayMS) * time.Millisecond,
	}
	src := health.NewInterfaceSource(time.Second)
	return health.NewMonitor(opts, src, b, logger)
}

func provideDispatcher(cfg *config.Config, monitor *health.Monitor, b *bus.Bus, logger *zap.Logger) *broadcast.Dispatcher {
	return broadcast.NewDispatcher(cfg.BroadcastURL(), time.Duration(cfg.ProbeTimeoutS)*time.Second, monitor, b, logger)
}

func provideUploader(cfg *config.Config, monitor *health.Monitor, logger *zap.Logger) room.Uploader {
	return upload.NewHTTPUploader(cfg.UploadURL(), 30*time.Second, monitor, logger)
}

func provideAuthProvider(cfg *config.Config) auth.Provider {
	return auth.NewStaticProvider(cfg.UserID, model.Role(cfg.UserRole), cfg.Token)
}

func provideClient(
	cfg *config.Config,
	mgr *conn.Manager,
	rec *reconcile.Reconciler,
	r *roster.Roster,
	monitor *health.Monitor,
	dispatcher *broadcast.Dispatcher,
	uploader room.Uploader,
	provider auth.Provider,
	b *bus.Bus,
	logger *zap.Logger,
) *client.Client {
	return client.New(client.Params{
		Manager:     mgr,
		Reconciler:  rec,
		Roster:      r,
		Monitor:     monitor,
		Dispatcher:  dispatcher,
		Uploader:    uploader,
		Provider:    provider,
		Bus:         b,
		Logger:      logger,
		TypingQuiet: time.Duration(cfg.TypingQuietMS) * time.Millisecond,
	})
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, c *client.Client, r *roster.Roster, monitor *health.Monitor, recorder *connRecorder, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := r.Load(); err != nil {
				return err
			}

			monitor.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()

			// Credentials may be absent on a fresh session; the daemon
			// still serves the control surface so chatctl can report that.
			if err := c.Connect(context.Background()); err != nil {
				logger.Warn("initial connect skipped", zap.Error(err))
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			c.Close()
			recorder.Close()
			monitor.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
