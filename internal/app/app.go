package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/identity"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/outbox"
	"github.com/xenking/storefront/internal/session"
	"github.com/xenking/storefront/internal/storage/memory"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

const serviceName = "storefront-api"

// Storage is the set of repositories behind one storage driver.
type Storage struct {
	Tx        cart.Transactor
	Products  product.Repository
	Carts     cart.Repository
	Coupons   coupon.Repository
	Orders    order.Repository
	Addresses identity.AddressBook
	Outbox    outbox.Repository
	APIKeys   auth.Repository
	// Pinger is nil for the in-memory driver.
	Pinger health.Pinger
	Close  func()
}

// OpenStorage connects the configured driver. The postgres driver migrates
// the schema first.
func OpenStorage(ctx context.Context, cfg *Config) (*Storage, error) {
	if cfg.Storage == StorageMemory {
		s := memory.New()
		return &Storage{
			Tx:        s,
			Products:  s.Products(),
			Carts:     s.Carts(),
			Coupons:   s.Coupons(),
			Orders:    s.Orders(),
			Addresses: s.Users(),
			Outbox:    s.Outbox(),
			APIKeys:   s.APIKeys(),
			Close:     func() {},
		}, nil
	}

	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	db := postgres.NewDB(pool)
	return &Storage{
		Tx:        db,
		Products:  postgres.NewProductRepository(db),
		Carts:     postgres.NewCartRepository(db),
		Coupons:   postgres.NewCouponRepository(db),
		Orders:    postgres.NewOrderRepository(db),
		Addresses: postgres.NewUserRepository(db),
		Outbox:    postgres.NewOutboxRepository(db),
		APIKeys:   postgres.NewAPIKeyRepository(db),
		Pinger:    db,
		Close:     pool.Close,
	}, nil
}

// Run creates all dependencies, starts the HTTP server and the outbox relay,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	store, err := OpenStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	rates, err := cfg.Rates.Policy()
	if err != nil {
		return errors.Wrap(err, "rates")
	}

	healthSvc := newHealth(cfg.Health, store.Pinger)

	var sessions identity.SessionProvider
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		sessionStore := session.NewStore(rdb, cfg.SessionTTL)
		healthSvc.Add(health.Readiness, health.Check{
			Name: "redis", Timeout: 2 * time.Second, Func: health.Ping(sessionStore),
		})
		sessions = sessionStore
	} else {
		lg.Warn("Redis is not configured, every shopper is anonymous")
	}

	// Domain services.
	calc := pricing.NewCalculator(rates)
	carts := cart.NewService(store.Carts, store.Products, store.Tx, calc)
	validator := coupon.NewRepoValidator(store.Coupons)
	orders, err := order.NewService(order.Deps{
		Tx:             store.Tx,
		Carts:          store.Carts,
		Resolver:       carts,
		Products:       store.Products,
		Coupons:        store.Coupons,
		Validator:      validator,
		Orders:         store.Orders,
		Addresses:      store.Addresses,
		Events:         store.Outbox,
		Calc:           calc,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	h := handler.New(
		handler.Config{SecureCookies: cfg.SecureCookies, DefaultCountry: cfg.DefaultCountry},
		handler.Deps{
			Products: store.Products,
			Carts:    carts,
			Coupons:  validator,
			Orders:   orders,
			Calc:     calc,
			Sessions: sessions,
			Keys:     auth.NewAuthenticator(store.APIKeys, []byte(cfg.APIKeyPepper)),
		},
	)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", h.Routes(
		httpmiddleware.RouteLabeler(),
		httpmiddleware.LogRequests(),
	))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", handler.HeaderAPIKey, httpmiddleware.HeaderRequestID},
				ExposeHeaders:    []string{"Location", "Retry-After", httpmiddleware.HeaderRequestID},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.Instrument(serviceName, m.TracerProvider(), m.MeterProvider()),
		),
	}

	healthSvc.Start(ctx, cfg.Health.Interval)
	healthSvc.SetReady(true)

	g, gCtx := errgroup.WithContext(ctx)
	if len(cfg.Kafka.Brokers) > 0 {
		w := outbox.NewKafkaWriter(cfg.Kafka.Topic, cfg.Kafka.Brokers...)
		pub := outbox.NewKafkaPublisher(w)
		defer func() { _ = pub.Close() }()

		relay := outbox.NewRelay(store.Outbox, pub, cfg.Outbox.Interval, cfg.Outbox.Batch).
			WithTransactor(store.Tx)
		g.Go(func() error {
			lg.Info("Outbox relay started", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
			return relay.Run(gCtx)
		})
	} else {
		lg.Warn("Kafka is not configured, order events stay in the outbox")
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}

// newHealth registers the runtime liveness checks and, when db is set, the
// database readiness check.
func newHealth(cfg HealthConfig, db health.Pinger) *health.Health {
	h := health.New()
	h.Add(health.Liveness, health.Check{
		Name: "goroutines", Func: health.GoroutineCountCheck(cfg.MaxGoroutines),
	})
	h.Add(health.Liveness, health.Check{
		Name: "gc_pause", Func: health.GCMaxPauseCheck(cfg.MaxGCPause),
	})
	if db != nil {
		h.Add(health.Readiness, health.Check{
			Name: "postgres", Timeout: 5 * time.Second, Func: health.Ping(db),
		})
	}
	return h
}
