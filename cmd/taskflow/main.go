package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Asarafhack/taskflow-realtime/api"
	"github.com/Asarafhack/taskflow-realtime/config"
	"github.com/Asarafhack/taskflow-realtime/domain"
	"github.com/Asarafhack/taskflow-realtime/realtime"
	"github.com/Asarafhack/taskflow-realtime/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeStore()

	var rc *redis.Client
	if cfg.RedisConnectionString != "" {
		opts, err := config.RedisOptions(cfg.RedisConnectionString)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(opts)
		defer rc.Close()
		store = storage.NewCache(store, rc, cfg.CacheTTL)
	}

	if cfg.ActivityQueue != "" {
		q, err := storage.NewAzureQueue(cfg.StorageConnectionString, cfg.ActivityQueue)
		if err != nil {
			log.Fatalf("activity queue: %v", err)
		}
		aq := storage.NewActivityQueue(store, q, logger)
		go aq.Run(ctx)
		store = aq
	}

	auth, err := newAuth(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	sessions := realtime.NewSessionRegistry(logger, cfg.SessionSendBuffer)
	if cfg.BroadcastChannel != "" {
		backbone := realtime.NewRedisBackbone(rc, cfg.BroadcastChannel, sessions.Hub(), logger)
		sessions.UseRelay(backbone)
		go backbone.Run(ctx)
	}

	var deduper api.Deduper
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowedOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())

	api.Register(e, api.Services{
		Tasks:    domain.NewTaskService(store),
		Boards:   domain.NewBoardService(store),
		Auth:     auth,
		Deduper:  deduper,
		Sessions: sessions,
		Socket:   api.SocketConfig{PingInterval: cfg.WSPingInterval, AllowedOrigins: cfg.AllowedOrigins},
	}, logger)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	sessions.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
}

func openStorage(ctx context.Context, cfg *config.Config) (domain.Storage, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverSQLite:
		st, err := storage.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {
			if err := st.Close(); err != nil {
				log.WithError(err).Error("closing sqlite")
			}
		}, nil
	default:
		names := storage.TableNames{
			Boards:   cfg.BoardsTable,
			Lists:    cfg.ListsTable,
			Tasks:    cfg.TasksTable,
			History:  cfg.HistoryTable,
			Activity: cfg.ActivityTable,
		}
		if err := storage.EnsureTables(ctx, cfg.StorageConnectionString, names.All()); err != nil {
			return nil, nil, err
		}
		if err := storage.EnsureQueues(ctx, cfg.StorageConnectionString, []string{cfg.ActivityQueue}); err != nil {
			return nil, nil, err
		}
		st, err := storage.New(cfg.StorageConnectionString, names)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	}
}

func newAuth(cfg *config.Config) (*api.Auth, error) {
	if cfg.TestJWTSecret != "" {
		return api.NewAuth(nil, api.AuthConfig{Audience: cfg.Auth0Audience, Issuer: cfg.Issuer(), TestSecret: []byte(cfg.TestJWTSecret)})
	}
	jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{RefreshInterval: cfg.JWKSCacheTTL})
	if err != nil {
		return nil, err
	}
	return api.NewAuth(jwks, api.AuthConfig{Audience: cfg.Auth0Audience, Issuer: cfg.Issuer(), KeyCacheTTL: cfg.JWKSCacheTTL})
}
