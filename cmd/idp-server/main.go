// Command idp-server serves the token, backchannel authentication and
// revocation endpoints of every configured tenant.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	valkey "github.com/valkey-io/valkey-go"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/legit-games/oauth2/ciba"
	"github.com/legit-games/oauth2/clientauth"
	"github.com/legit-games/oauth2/event"
	"github.com/legit-games/oauth2/granted"
	"github.com/legit-games/oauth2/manage"
	"github.com/legit-games/oauth2/metrics"
	"github.com/legit-games/oauth2/migrate"
	"github.com/legit-games/oauth2/notify"
	"github.com/legit-games/oauth2/server"
	"github.com/legit-games/oauth2/store"
	"github.com/legit-games/oauth2/utils/cipher"
)

func main() {
	app := fx.New(
		fx.Provide(
			server.LoadConfig,
			newLogger,
			newDatabase,
			newValkey,
			newProtector,
			newRegistry,
			newConfigurations,
			newTokenStore,
			newPublisher,
			newManager,
			newBackchannel,
			newServer,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Invoke(startSweeper, startHTTP),
	)
	app.Run()
}

func newLogger(cfg *server.AppConfig) (*zap.Logger, error) {
	return server.NewLogger(cfg.LogLevel, cfg.Env)
}

func newDatabase(lc fx.Lifecycle, cfg *server.AppConfig, log *zap.Logger) (*gorm.DB, error) {
	if cfg.Database.AutoMigrate {
		err := migrate.Run(migrate.Options{
			Driver:  cfg.Database.Driver,
			DSN:     cfg.Database.DSN,
			Command: "up",
			Logger:  zap.NewStdLog(log.Named("migrate")),
		})
		if err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	db, err := store.OpenDatabase(cfg.Database.DatabaseOptions(), log)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return db, nil
}

func newValkey(lc fx.Lifecycle, cfg *server.AppConfig) (valkey.Client, error) {
	client, err := store.NewValkeyClient(cfg.Valkey.Addr, cfg.Valkey.Password, cfg.Valkey.DB)
	if err != nil {
		return nil, fmt.Errorf("connect valkey: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			client.Close()
			return nil
		},
	})
	return client, nil
}

func newProtector(cfg *server.AppConfig) (*cipher.Protector, error) {
	return cfg.Crypto.Protector()
}

func newRegistry() (*prometheus.Registry, *metrics.Metrics, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return nil, nil, err
	}
	return reg, m, nil
}

func newConfigurations(cfg *server.AppConfig) (*store.MemoryConfigurationStore, *store.MemoryUserStore, error) {
	f, err := store.LoadConfigurationFile(cfg.TenantsFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load tenants: %w", err)
	}
	configs := store.NewMemoryConfigurationStore()
	users := store.NewMemoryUserStore()
	if err := configs.Load(f, users); err != nil {
		return nil, nil, fmt.Errorf("load tenants: %w", err)
	}
	return configs, users, nil
}

func newTokenStore(lc fx.Lifecycle, cfg *server.AppConfig, db *gorm.DB, protector *cipher.Protector) (manage.TokenStore, error) {
	switch strings.ToLower(cfg.Tokens.Backend) {
	case "", "database":
		return store.NewOAuthTokenStore(db, protector), nil
	case "buntdb":
		file := cfg.Tokens.File
		if file == "" {
			file = ":memory:"
		}
		s, err := store.NewFileTokenStore(file, protector)
		if err != nil {
			return nil, fmt.Errorf("open token store: %w", err)
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return s.Close() }})
		return s, nil
	}
	return nil, fmt.Errorf("unsupported token store backend: %s", cfg.Tokens.Backend)
}

func newPublisher(cfg *server.AppConfig, client valkey.Client, log *zap.Logger) event.Publisher {
	return event.Publishers{
		event.NewLogPublisher(log),
		event.NewStreamPublisher(client, cfg.Events.Stream, log),
	}
}

type engineParams struct {
	fx.In

	Config  *server.AppConfig
	DB      *gorm.DB
	Valkey  valkey.Client
	Tokens  manage.TokenStore
	Users   *store.MemoryUserStore
	Configs *store.MemoryConfigurationStore
	Events  event.Publisher
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

func registrar(p engineParams) *granted.Registrar {
	return granted.NewRegistrar(store.NewAuthorizationGrantedStore(p.DB), p.Logger)
}

func newManager(p engineParams) *manage.Manager {
	prefix := p.Config.Valkey.Prefix
	return manage.NewManager(manage.Dependencies{
		Tokens:              p.Tokens,
		Codes:               store.NewAuthorizationCodeStore(p.Valkey, prefix),
		CibaGrants:          store.NewCibaGrantStore(p.DB),
		BackchannelRequests: store.NewBackchannelRequestStore(p.Valkey, prefix),
		Users:               p.Users,
		Registrar:           registrar(p),
		Transactor:          store.NewTxManager(p.DB),
		Events:              p.Events,
		Metrics:             p.Metrics,
		Logger:              p.Logger,
	})
}

// newBackchannel builds the CIBA service. Push mode redeems grants through
// manager, and notifications still in flight are drained on shutdown.
func newBackchannel(lc fx.Lifecycle, p engineParams, manager *manage.Manager) *ciba.Service {
	prefix := p.Config.Valkey.Prefix
	s := ciba.NewService(ciba.Dependencies{
		Grants:     store.NewCibaGrantStore(p.DB),
		Requests:   store.NewBackchannelRequestStore(p.Valkey, prefix),
		Users:      p.Users,
		Configs:    p.Configs,
		Registrar:  registrar(p),
		Transactor: store.NewTxManager(p.DB),
		Notifier:   notify.NewPingNotifier(nil, p.Logger),
		Pusher:     notify.NewPushNotifier(nil, p.Logger),
		Tokens:     manager,
		Events:     p.Events,
		Metrics:    p.Metrics,
		Logger:     p.Logger,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			s.Wait()
			return nil
		},
	})
	return s
}

func newServer(p engineParams, reg *prometheus.Registry, manager *manage.Manager, backchannel *ciba.Service) *server.Server {
	return server.NewServer(server.Options{
		Configs:     p.Configs,
		Clients:     clientauth.NewRegistry(p.Configs, store.NewAssertionReplayStore(p.Valkey, p.Config.Valkey.Prefix), p.Logger, p.Metrics),
		Manager:     manager,
		Backchannel: backchannel,
		Users:       p.Users,
		Gatherer:    reg,
		Logger:      p.Logger,
		HTTP:        p.Config.HTTP,
	})
}

// startSweeper purges expired rows on the instance holding leadership.
func startSweeper(lc fx.Lifecycle, cfg *server.AppConfig, db *gorm.DB, client valkey.Client, log *zap.Logger) {
	le := store.NewLeaderElection(client, cfg.Valkey.Prefix, store.LeaderElectionConfig{Logger: log})
	sweeper := store.NewSweeper(db, cfg.Sweeper.Interval, log)
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			le.Start(ctx)
			go sweeper.Run(ctx, le)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			le.Stop()
			return nil
		},
	})
}

func startHTTP(lc fx.Lifecycle, cfg *server.AppConfig, s *server.Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.NewGinEngine(s),
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
