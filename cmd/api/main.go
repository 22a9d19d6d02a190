package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	mongoadapter "github.com/whitebl3ck/event-payments/internal/adapters/mongo"
	"github.com/whitebl3ck/event-payments/internal/adapters/rabbit"
	redisadapter "github.com/whitebl3ck/event-payments/internal/adapters/redis"
	"github.com/whitebl3ck/event-payments/internal/config"
	httphandler "github.com/whitebl3ck/event-payments/internal/http"
	"github.com/whitebl3ck/event-payments/internal/observability"
	"github.com/whitebl3ck/event-payments/internal/payment"
	"github.com/whitebl3ck/event-payments/internal/provider"
	"github.com/whitebl3ck/event-payments/internal/rateLimit"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.AppEnv)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	db := mongoClient.Database("event_payments")

	registrations := mongoadapter.NewRegistrationRepository(db, logger)
	if err := registrations.EnsureIndexes(ctx); err != nil {
		log.Fatalf("failed to ensure registration indexes: %v", err)
	}
	catalog := mongoadapter.NewEventCatalog(db, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)
	dedup := redisadapter.NewDedup(redisClient, 24*time.Hour)
	rl := rateLimit.NewRateLimiter(redisCache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	paystack := provider.NewPaystack(provider.NewClient(provider.ClientConfig{
		Name:           provider.PaystackName,
		BaseURL:        cfg.PaystackBaseURL,
		Secret:         cfg.PaystackSecretKey,
		MaxAttempts:    cfg.PaymentMaxAttempts,
		AttemptTimeout: cfg.PaymentAttemptTimeout,
	}, logger), cfg.PaystackWebhookSecret)
	stripe := provider.NewStripe(provider.NewClient(provider.ClientConfig{
		Name:           provider.StripeName,
		BaseURL:        cfg.StripeBaseURL,
		Secret:         cfg.StripeSecretKey,
		MaxAttempts:    cfg.PaymentMaxAttempts,
		AttemptTimeout: cfg.PaymentAttemptTimeout,
	}, logger), cfg.StripeWebhookSecret)

	svc := payment.NewService(payment.ServiceConfig{
		DefaultProvider: cfg.DefaultProvider,
		DefaultCurrency: cfg.DefaultCurrency,
		FrontendURL:     cfg.FrontendURL,
	}, []provider.Provider{paystack, stripe}, registrations, rabbitPub, dedup, logger)

	handlers := httphandler.NewHandlers(cfg, svc, registrations, catalog, logger)
	router := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("port", cfg.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("Server exiting")
}
