// Package runtime composes the services into a running process: storage,
// cache, identity, billing, usage, the HTTP server, and the background
// components that keep them healthy.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/chainpulse/console/internal/action"
	"github.com/chainpulse/console/internal/apperr"
	"github.com/chainpulse/console/internal/app/httpapi"
	"github.com/chainpulse/console/internal/app/metrics"
	"github.com/chainpulse/console/internal/app/services/apikeys"
	"github.com/chainpulse/console/internal/app/services/system"
	usagesvc "github.com/chainpulse/console/internal/app/services/usage"
	"github.com/chainpulse/console/internal/app/storage"
	"github.com/chainpulse/console/internal/app/storage/memory"
	"github.com/chainpulse/console/internal/app/storage/postgres"
	"github.com/chainpulse/console/internal/billing"
	"github.com/chainpulse/console/internal/cache"
	"github.com/chainpulse/console/internal/config"
	"github.com/chainpulse/console/internal/httpclient"
	"github.com/chainpulse/console/internal/identity"
	"github.com/chainpulse/console/internal/registry"
	"github.com/chainpulse/console/internal/session"
	"github.com/chainpulse/console/pkg/logger"
)

const (
	shutdownTimeout      = 15 * time.Second
	sessionPurgeInterval = time.Hour
)

// Application owns every long-lived resource of the process.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	components *registry.Registry

	db    *sqlx.DB
	redis *redis.Client
}

// New wires the full service graph from configuration. It opens external
// connections (database, Redis) but starts nothing; Run does that.
func New(cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}).WithField("component", "console")

	app := &Application{
		cfg:        cfg,
		log:        log,
		components: registry.New(log),
	}

	store, err := app.openStore()
	if err != nil {
		return nil, err
	}

	mtr := metrics.New()
	c := cache.New(app.openCacheBackend(), mtr)

	sessions := session.NewManager(
		[]byte(cfg.Auth.JWTSecret),
		cfg.Auth.Issuer,
		time.Duration(cfg.Auth.TokenTTL)*time.Second,
		store, store,
		cfg.Auth.AdminUserIDs,
	)

	idClient, err := identity.NewClient(cfg.Identity)
	if err != nil {
		return nil, fmt.Errorf("identity client: %w", err)
	}
	idService := identity.NewService(idClient, cfg.Identity.ClientID, store, sessions, log)

	// Outbound calls to the payment provider and the usage collector share
	// one resilient client.
	outbound := httpclient.New(httpclient.Options{})

	gateway := billing.NewGateway(cfg.Billing.SecretKey, outbound.HTTPClient())
	billingService := billing.NewService(gateway, store, c, cfg.Billing.PortalReturn, log)
	webhook := billing.NewWebhookProcessor(cfg.Billing.WebhookSecret, store, c, log)

	var collector usagesvc.Collector
	if cfg.Usage.CollectorURL != "" {
		collector = usagesvc.NewHTTPCollector(cfg.Usage.CollectorURL, cfg.Usage.CollectorKey, outbound.HTTPClient())
	} else {
		log.Warn("no usage collector configured, serving empty analytics")
		collector = &usagesvc.StaticCollector{}
	}
	usageService := usagesvc.NewService(collector, store, c, log)

	keyService := apikeys.NewService(store, c, apikeys.Limits{
		MaxKeys:    cfg.Limits.MaxAPIKeys,
		MaxEnabled: cfg.Limits.MaxEnabledKeys,
	}, log)

	translator := apperr.NewTranslator(cfg.Production(), func(err error) {
		log.WithError(err).Warn("unmatched provider error")
	})
	executor := action.NewExecutor(sessions, c, translator, log, mtr)

	server := httpapi.NewServer(httpapi.Config{
		Executor:    executor,
		Sessions:    sessions,
		Identity:    idService,
		Keys:        keyService,
		Usage:       usageService,
		Billing:     billingService,
		Webhook:     webhook,
		System:      system.NewService(),
		Metrics:     mtr,
		Log:         log,
		CORSOrigins: cfg.Server.AllowedOrigins,
	})

	app.components.MustRegister(usagesvc.NewScheduler(usageService, store, log))
	app.components.MustRegister(newSessionPurger(sessions, log))
	app.components.MustRegister(newHTTPComponent(
		fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		server.Handler(),
		log,
	))

	return app, nil
}

// Run starts every component and blocks until the context is canceled, then
// shuts the components down in reverse order.
func (a *Application) Run(ctx context.Context) error {
	if err := a.components.Start(ctx); err != nil {
		return err
	}
	a.log.WithField("environment", a.cfg.Environment).Info("console started")

	<-ctx.Done()
	a.log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := a.components.Stop(stopCtx)

	a.close()
	return err
}

func (a *Application) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("close database")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("close redis")
		}
	}
}

// openStore connects to Postgres when a DSN is configured and runs pending
// migrations. Without a DSN the process keeps everything in memory, which
// only suits local development.
func (a *Application) openStore() (storage.Store, error) {
	dbCfg := a.cfg.Database
	if dbCfg.DSN == "" {
		a.log.Warn("no database configured, using in-memory storage")
		return memory.New(), nil
	}

	db, err := sqlx.Open(dbCfg.Driver, dbCfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(dbCfg.MaxOpenConns)
	db.SetMaxIdleConns(dbCfg.MaxIdleConns)
	if dbCfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(dbCfg.ConnMaxLifetime) * time.Second)
	}

	if err := postgres.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	a.db = db
	return postgres.New(db), nil
}

func (a *Application) openCacheBackend() cache.Backend {
	if !a.cfg.Redis.Enabled {
		return cache.NewMemory()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.redis = client
	return cache.NewRedis(client, "console")
}

// newHTTPComponent wraps an http.Server in the component lifecycle. Listen
// failures after startup surface through the logger; the listener itself is
// bound during Start so a taken port fails fast.
func newHTTPComponent(addr string, handler http.Handler, log *logger.Logger) registry.Component {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return registry.Func{
		ComponentName: "http-server",
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.WithError(err).Error("http server failed")
				}
			}()
			log.WithField("addr", addr).Info("http server listening")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	}
}

// newSessionPurger deletes expired sessions on an hourly tick.
func newSessionPurger(sessions *session.Manager, log *logger.Logger) registry.Component {
	done := make(chan struct{})
	stopped := make(chan struct{})
	return registry.Func{
		ComponentName: "session-purger",
		OnStart: func(ctx context.Context) error {
			go func() {
				defer close(stopped)
				ticker := time.NewTicker(sessionPurgeInterval)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						purgeCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
						n, err := sessions.PurgeExpired(purgeCtx)
						cancel()
						if err != nil {
							log.WithError(err).Warn("session purge failed")
						} else if n > 0 {
							log.WithField("purged", n).Debug("expired sessions removed")
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(done)
			select {
			case <-stopped:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}
