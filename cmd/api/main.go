package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"screen-server/internal/config"
	"screen-server/internal/db"
	apihttp "screen-server/internal/http"
	"screen-server/internal/notify"
	"screen-server/internal/realtime"
	"screen-server/internal/repository"
	"screen-server/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg.LogDevelopment)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		sessionRepo  repository.SessionRepository
		messageRepo  repository.MessageRepository
		operatorRepo repository.OperatorRepository
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
		sessionRepo, messageRepo, operatorRepo = pgRepositories(pool)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		store := repository.NewMemoryStore()
		sessionRepo, messageRepo, operatorRepo = store, store, store.Operators()
	}

	var (
		cache       = service.NewMemoryOperatorCache()
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using local cache and cursor", zap.Error(err))
			redisClient = nil
		} else {
			cache = service.NewRedisOperatorCache(redisClient)
		}
		cancel()
	}
	cursor := service.NewRedisCursor(redisClient, logger)

	operatorSvc := service.NewOperatorService(logger, operatorRepo, cache, cfg.OperatorAutoProvision)
	sessionSvc := service.NewSessionService(logger, sessionRepo, messageRepo, operatorSvc, cfg.HistoryPageSize)
	assignmentSvc := service.NewAssignmentService(logger, operatorSvc, sessionSvc, cursor)
	if err := operatorSvc.WarmCache(ctx); err != nil {
		logger.Warn("operator cache warm failed", zap.Error(err))
	}

	dispatcher := notify.NewDispatcher(logger,
		notify.NewSender(cfg.AdminNotifyURL, cfg.AdminNotifyToken, cfg.NotifyTimeout),
		notify.DispatcherConfig{
			MaxAttempts: cfg.NotifyMaxAttempts,
			RetryDelay:  cfg.NotifyRetryDelay,
			SendTimeout: cfg.NotifyTimeout,
		},
	)
	if cfg.AdminNotifyURL == "" {
		logger.Warn("ADMIN_NOTIFY_URL not set, admin notifications disabled")
	}

	gateway := realtime.NewGateway(logger, sessionSvc, operatorSvc, dispatcher, realtime.NewRegistry(), realtime.NewAliasMap())
	jwtSvc := service.NewJWTService(cfg.JWTSecret, cfg.JWTIssuer, time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute)

	wsHandler := apihttp.NewWSHandler(ctx, logger, gateway, cfg.WSSendBuffer)
	router := apihttp.NewRouter(logger, jwtSvc,
		apihttp.NewSessionHandler(logger, sessionSvc, assignmentSvc, gateway),
		apihttp.NewOperatorHandler(logger, operatorSvc, gateway),
		wsHandler,
	)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
		wsHandler.Wait()
		if err := dispatcher.Close(shutdownCtx); err != nil {
			logger.Warn("notification backlog abandoned", zap.Error(err), zap.Int("pending", dispatcher.Pending()))
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func pgRepositories(pool *pgxpool.Pool) (repository.SessionRepository, repository.MessageRepository, repository.OperatorRepository) {
	return repository.NewPgSessionRepository(pool),
		repository.NewPgMessageRepository(pool),
		repository.NewPgOperatorRepository(pool)
}
