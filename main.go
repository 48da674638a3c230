package main

// GET    /cart                      - Current cart of the caller
// POST   /cart/items                - Add a product to the cart
// PUT    /cart/items/{productId}    - Change the quantity of a line
// DELETE /cart/items/{productId}    - Remove a line
// POST   /orders                    - Turn the cart into an order
// GET    /orders, /orders/{id}      - Order history
// POST   /orders/{id}/cancel        - Cancel an unpaid order
// POST   /payments/card[/confirm]   - Card payment intent and confirmation
// POST   /payments/manual           - Contact link for manual payment
// /products, /categories            - Catalog, writes need the admin role
// PUT    /admin/orders/{id}/status  - Fulfilment

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/auth"
	"storefront/cache"
	"storefront/config"
	"storefront/handler"
	"storefront/payment"
	"storefront/service"
	"storefront/store"
	"storefront/telemetry"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const appName = "storefront"

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(log).RunContext(ctx, os.Args); err != nil {
		log.WithError(err).Fatal("storefront stopped")
	}
}

func newApp(log *logrus.Logger) *cli.App {
	return &cli.App{
		Name:  appName,
		Usage: "cart, checkout and payment API",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP server",
				Action: func(c *cli.Context) error {
					cfg, err := config.Load()
					if err != nil {
						return err
					}
					return serve(c.Context, cfg, log)
				},
			},
			{
				Name:  "migrate",
				Usage: "apply database migrations and exit",
				Action: func(c *cli.Context) error {
					cfg, err := config.Load()
					if err != nil {
						return err
					}
					st, err := store.OpenPostgres(c.Context, cfg.DatabaseDSN)
					if err != nil {
						return err
					}
					defer st.Close()
					if err := st.Migrate(); err != nil {
						return err
					}
					log.Info("database migrations applied")
					return nil
				},
			},
			{
				Name:  "token",
				Usage: "print a signed bearer token for a user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "owner id carried by the token", Required: true},
					&cli.StringFlag{Name: "role", Usage: "role claim, e.g. admin"},
					&cli.DurationFlag{Name: "ttl", Usage: "token lifetime", Value: 24 * time.Hour},
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load()
					if err != nil {
						return err
					}
					if cfg.JWTSecret == "" {
						return errors.New("STOREFRONT_JWT_SECRET is not set")
					}
					token, err := auth.NewVerifier(cfg.JWTSecret).Issue(
						auth.Identity{OwnerID: c.String("user"), Role: c.String("role")}, c.Duration("ttl"))
					if err != nil {
						return errors.Wrap(err, "failed to sign token")
					}
					_, err = fmt.Fprintln(c.App.Writer, token)
					return err
				},
			},
		},
		DefaultCommand: "serve",
	}
}

func openStore(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (store.Store, error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	}
	st, err := store.OpenPostgres(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := st.Migrate(); err != nil {
			_ = st.Close()
			return nil, err
		}
		log.Info("database migrations executed successfully")
	}
	return st, nil
}

func openCache(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (cache.Cache, func(), error) {
	if cfg.RedisAddress == "" {
		return cache.NewMemoryCache(appName), func() {}, nil
	}
	client, err := cache.DialRedis(ctx, cfg.RedisAddress)
	if err != nil {
		return nil, nil, err
	}
	log.WithField("addr", cfg.RedisAddress).Info("idempotency cache on redis")
	return cache.NewRedisCache(client, appName), func() { _ = client.Close() }, nil
}

func cardProcessor(cfg config.Config, log logrus.FieldLogger) payment.CardProcessor {
	if cfg.StripeSecretKey == "" {
		log.Warn("STOREFRONT_STRIPE_SECRET_KEY not set, card payments disabled")
		return payment.Disabled{}
	}
	return payment.NewStripeProcessor(cfg.StripeSecretKey, cfg.PaymentTimeout)
}

func serve(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", cfg.LogLevel)
	}
	log.SetLevel(level)

	shutdownTracer, err := telemetry.SetupTracer(ctx, appName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	idem, closeCache, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	var verifier *auth.Verifier
	if cfg.JWTSecret != "" {
		verifier = auth.NewVerifier(cfg.JWTSecret)
	} else {
		log.Warn("STOREFRONT_JWT_SECRET not set, only X-User-Id identities are accepted")
	}

	svc := service.NewService(st, cardProcessor(cfg, log), service.Options{
		Currency:       cfg.Currency,
		PaymentTimeout: cfg.PaymentTimeout,
		BusinessPhone:  cfg.BusinessPhone,
	}, log)
	var serviceInterface service.ServiceInterface = svc

	h := handler.NewHandler(serviceInterface, handler.Options{
		Verifier:       verifier,
		Cache:          idem,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Logger:         log,
	})

	r := mux.NewRouter()
	r.Use(middleware.RequestID, handler.LogRequests(log), middleware.Recoverer)
	h.RegisterRoutes(r)

	srv := &http.Server{Addr: cfg.HTTPAddress, Handler: r}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddress).Info("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server error")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return errors.Wrap(err, "graceful shutdown failed")
		}
		return shutdownTracer(sctx)
	})
	return g.Wait()
}
