package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"dinein_backend/internal/aws"
	"dinein_backend/internal/config"
	"dinein_backend/internal/database"
	"dinein_backend/internal/payment"
	"dinein_backend/internal/realtime"
	"dinein_backend/internal/repositories"
	"dinein_backend/internal/router"
	"dinein_backend/pkg/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize Logger
	utils.InitLogger(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		utils.LogError(err, "Server stopped with error")
		os.Exit(1)
	}
	utils.LogInfo("Server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	orders, closeStore, err := openOrderStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := realtime.NewHub()
	defer hub.Close()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	// Add GinLogger middleware for request logging
	engine.Use(utils.GinLogger())

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization",
		"X-Table-Id", "X-Restaurant-Id", "X-Session-Id"}
	corsConfig.AllowCredentials = true
	engine.Use(cors.New(corsConfig))

	processor, err := newCardProcessor(cfg)
	if err != nil {
		return err
	}

	err = router.Setup(engine, router.Dependencies{
		Config:    cfg,
		Orders:    orders,
		Hub:       hub,
		Processor: processor,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     engine,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		utils.LogInfo("Server starting", map[string]interface{}{"port": cfg.Port, "store": cfg.StoreDriver})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		utils.LogInfo("Shutting down server", map[string]interface{}{"timeout": cfg.ShutdownTimeout.String()})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openOrderStore builds the configured OrderRepository and its cleanup func.
func openOrderStore(ctx context.Context, cfg *config.Config) (repositories.OrderRepository, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := database.InitDB(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		utils.LogInfo("Database initialized", map[string]interface{}{"host": cfg.Database.Host, "name": cfg.Database.Name})
		return repositories.NewOrderRepository(db), closeDB(db), nil
	case config.StoreDynamoDB:
		client, err := aws.NewDynamoDBClient(ctx, aws.Options{Region: cfg.AWSRegion, EndpointOverride: cfg.AWSEndpointOverride})
		if err != nil {
			return nil, nil, err
		}
		utils.LogInfo("DynamoDB client initialized", map[string]interface{}{"table": cfg.DynamoOrdersTable, "region": cfg.AWSRegion})
		return repositories.NewDynamoOrderRepository(client, cfg.DynamoOrdersTable), func() {}, nil
	default:
		utils.LogWarn("Using in-memory order store, orders are lost on restart")
		return repositories.NewMemoryOrderRepository(), func() {}, nil
	}
}

func closeDB(db *sql.DB) func() {
	return func() {
		if err := db.Close(); err != nil {
			utils.LogError(err, "Failed to close database")
		}
	}
}

// newCardProcessor selects the card verifier named by PAYMENT_PROVIDER.
func newCardProcessor(cfg *config.Config) (payment.CardProcessor, error) {
	switch cfg.PaymentProvider {
	case config.PaymentProviderMock:
		utils.LogWarn("Using mock card processor, card payments are not verified with a real provider")
		return payment.NewMockProcessor(0), nil
	default:
		return nil, fmt.Errorf("unsupported payment provider %q", cfg.PaymentProvider)
	}
}
