package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"extranet-system/config"
	"extranet-system/internal/database"
	"extranet-system/internal/gateway/handlers"
	"extranet-system/internal/services/archive"
	"extranet-system/internal/services/cart"
	"extranet-system/internal/services/catalog"
	"extranet-system/internal/services/dashboard"
	"extranet-system/internal/services/exports"
	"extranet-system/internal/services/orders"
	"extranet-system/internal/services/users"
	"extranet-system/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"gorm.io/gorm"
)

var sweepInterval time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the gRPC health endpoint",
	RunE:  runServe,
}

func init() {
	// Expired archives are normally removed when the dashboard is read or by
	// the sweep command; the ticker is opt-in.
	serveCmd.Flags().DurationVar(&sweepInterval, "sweep-interval", 0, "also sweep expired archives in the background at this interval (0 keeps sweeping on dashboard reads and the sweep command only)")
}

// app holds every long-lived dependency built from the configuration.
type app struct {
	db       *gorm.DB
	redis    *redis.Client
	catalog  *catalog.Store
	services handlers.Services
}

func (a *app) Close() {
	if a.catalog != nil {
		_ = a.catalog.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	a := &app{}
	db, err := database.NewConnection(cfg.DB.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	a.db = db

	rdb, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.redis = rdb

	store, err := catalog.Open(cfg.Catalog.Driver, cfg.Catalog.DSN)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.catalog = store

	if err := os.MkdirAll(cfg.Exports.Dir, 0o755); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	exportStore := exports.NewStore(cfg.Exports.Dir)

	products := catalog.NewCachedSource(store, rdb, cfg.Catalog.CacheTTL)
	tokens := utils.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	cartStore := cart.NewStore(rdb, cfg.Cart.TTL)
	archives := archive.NewService(db, store, exportStore, rdb, archive.Options{
		GracePeriod:  cfg.Archive.GracePeriod,
		AuditExpired: cfg.Archive.AuditExpired,
	})

	a.services = handlers.Services{
		DB:        db,
		Redis:     rdb,
		Tokens:    tokens,
		Users:     users.NewService(db, store, tokens),
		Orders:    orders.NewService(db, products, cartStore, exportStore),
		Cart:      cartStore,
		Archives:  archives,
		Dashboard: dashboard.NewService(db, archives, store, cfg.Archive.HistoryWindow),
		Directory: store,
	}
	return a, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := database.Migrate(a.db); err != nil {
		return err
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router, err := handlers.NewRouter(a.services, cfg.HTTP.RateLimit)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.HTTP.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.HTTP.GRPCAddr, err)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.HTTP.GRPCAddr).Msg("gRPC health server listening")
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	if sweepInterval > 0 {
		go runSweeper(ctx, a.services.Archives, sweepInterval)
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down...")
	case err = <-errCh:
		log.Error().Err(err).Msg("server failed, shutting down")
	}

	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("HTTP shutdown failed")
	}
	grpcServer.GracefulStop()
	log.Info().Msg("Server stopped")
	return err
}

func runSweeper(ctx context.Context, archives *archive.Service, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := archives.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("background sweep failed")
			}
		}
	}
}
