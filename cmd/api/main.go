package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/versatiles/printops/internal/api"
	"github.com/versatiles/printops/internal/audit"
	"github.com/versatiles/printops/internal/auth"
	"github.com/versatiles/printops/internal/config"
	"github.com/versatiles/printops/internal/database"
	"github.com/versatiles/printops/internal/imports"
	mw "github.com/versatiles/printops/internal/middleware"
	inats "github.com/versatiles/printops/internal/nats"
	"github.com/versatiles/printops/internal/notifications"
	"github.com/versatiles/printops/internal/orders"
	"github.com/versatiles/printops/internal/quota"
	iredis "github.com/versatiles/printops/internal/redis"
	"github.com/versatiles/printops/internal/server"
	"github.com/versatiles/printops/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PostgreSQL
	if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS (optional)
	var (
		natsClient *inats.Client
		publisher  inats.EventPublisher = inats.LogPublisher{}
		consumers  sync.WaitGroup
	)
	auditRepo := audit.NewRepository(pool)
	notificationRepo := notifications.NewRepository(pool)
	if cfg.NATS.URL != "" {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to nats", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		publisher = inats.NewPublisher(natsClient.JetStream())

		consumerMgr := inats.NewConsumerManager(natsClient.JetStream())
		for name, start := range map[string]func(context.Context) error{
			"audit":         audit.NewConsumer(auditRepo, consumerMgr).Start,
			"notifications": notifications.NewConsumer(notificationRepo, consumerMgr).Start,
		} {
			consumers.Add(1)
			go func() {
				defer consumers.Done()
				if err := start(ctx); err != nil {
					slog.Error("consumer stopped", "consumer", name, "error", err)
				}
			}()
		}
	} else {
		slog.Warn("NATS_URL not set, events are written to the log only")
	}

	// Users and auth
	userSvc := users.NewService(users.NewRepository(pool), cfg.Agents, auth.HashPassword, publisher)
	if cfg.Admin.Email != "" && cfg.Admin.Password != "" {
		if err := userSvc.EnsureAdmin(ctx, cfg.Admin.Email, cfg.Admin.Password); err != nil {
			slog.Error("bootstrapping administrator", "error", err)
			os.Exit(1)
		}
	}
	jwtManager := auth.NewJWTManager(cfg.JWT.AccessSecret, cfg.JWT.AccessExpiry)
	authSvc := auth.NewService(jwtManager, userSvc, redisClient)
	userSvc.OnDeactivate(authSvc.Revoke)

	// Quota, orders, imports
	quotaSvc := quota.NewService(quota.NewRepository(pool, cfg.Quota.LockTimeout), cfg.Quota, publisher)

	orderRepo := orders.NewRepository(pool, cfg.Quota.LockTimeout)
	importRepo := imports.NewRepository(pool)
	orderSvc := orders.NewService(orderRepo, quotaSvc, userSvc, orders.NewCapacityGuard(orderRepo, cfg.Agents), publisher)
	orderSvc.SetImportOwners(importRepo)
	importSvc := imports.NewService(importRepo, orderSvc, orderRepo, userSvc, cfg.Imports, publisher)

	authHandler := auth.NewHandler(authSvc)
	userHandler := users.NewHandler(userSvc)
	quotaHandler := quota.NewHandler(quotaSvc, userSvc)
	orderHandler := orders.NewHandler(orderSvc)
	importHandler := imports.NewHandler(importSvc, cfg.Imports)
	notificationHandler := notifications.NewHandler(notificationRepo)

	sweeper := notifications.NewSweeper(notificationRepo, cfg.Notify.RetentionDays)
	if err := sweeper.Schedule(cfg.Notify.SweepSchedule); err != nil {
		slog.Error("scheduling notification sweep", "error", err)
		os.Exit(1)
	}
	sweeper.Start()
	auditHandler := audit.NewHandler(auditRepo)

	routerCfg := api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		LoginRateLimiter:   mw.NewRateLimiter(redisClient, "login", cfg.RateLimit.LoginMax, cfg.RateLimit.WindowSecond).Middleware,
		UploadRateLimiter:  mw.NewRateLimiter(redisClient, "upload", cfg.RateLimit.UploadMax, cfg.RateLimit.WindowSecond).Middleware,
	}

	router := api.NewRouter(pool, natsClient, routerCfg, api.HandlerSet{
		Login: authHandler.Login,

		Me:          userHandler.Me,
		CreateUser:  userHandler.Create,
		ListUsers:   userHandler.List,
		SetCapacity: userHandler.SetCapacity,
		SetActive:   userHandler.SetActive,

		CreateOrder:       orderHandler.Create,
		ListOrders:        orderHandler.List,
		OrderStats:        orderHandler.Stats,
		GetOrder:          orderHandler.Get,
		ChangeOrderStatus: orderHandler.ChangeStatus,

		QuotaSummary: quotaHandler.GetSummary,
		ListTopups:   quotaHandler.ListTopups,
		ApplyTopup:   quotaHandler.ApplyTopup,

		UploadImport:  importHandler.Upload,
		ListImports:   importHandler.List,
		GetImport:     importHandler.Get,
		ApproveImport: importHandler.Approve,
		RejectImport:  importHandler.Reject,

		ListNotifications:        notificationHandler.List,
		MarkNotificationRead:     notificationHandler.MarkRead,
		MarkAllNotificationsRead: notificationHandler.MarkAllRead,

		ListAuditLogs: auditHandler.List,

		AuthMiddleware: auth.Middleware(authSvc),
		AdminOnly:      auth.RequireRole(users.RoleAdmin),
	})

	srv := server.New(cfg.Server, router)
	runErr := srv.Run(ctx)

	// Let the consumers finish their current batch before connections close.
	stop()
	consumers.Wait()
	sweepCtx, cancelSweep := context.WithTimeout(context.Background(), 10*time.Second)
	sweeper.Stop(sweepCtx)
	cancelSweep()

	if runErr != nil {
		slog.Error("server error", "error", runErr)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
