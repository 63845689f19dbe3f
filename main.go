package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/questkeeper/api/rest"
	"github.com/kasuganosora/questkeeper/api/sse"
	apiws "github.com/kasuganosora/questkeeper/api/ws"
	"github.com/kasuganosora/questkeeper/audit"
	"github.com/kasuganosora/questkeeper/cache"
	"github.com/kasuganosora/questkeeper/config"
	dbadapter "github.com/kasuganosora/questkeeper/db"
	"github.com/kasuganosora/questkeeper/game/quest"
	"github.com/kasuganosora/questkeeper/game/reward"
	mw "github.com/kasuganosora/questkeeper/middleware"
	"github.com/kasuganosora/questkeeper/model"
	"github.com/kasuganosora/questkeeper/scheduler"
	"github.com/kasuganosora/questkeeper/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints and event ingestion are disabled")
	}
	if cfg.Security.JWTSecret == "" {
		logger.Fatal("security.jwt_secret must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	if err := model.AutoMigrate(db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Cache / PubSub ----
	c, err := cache.NewCache(cfg.Cache)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	pubsub, err := cache.NewPubSub(cfg.Cache)
	if err != nil {
		logger.Fatal("pubsub", zap.Error(err))
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Quest engine ----
	qc := cfg.Quest
	gw := store.NewGateway(db, qc.StoreWorkers, logger)
	catalog := quest.NewCatalog(gw, qc.CacheTTL)
	progress := quest.NewProgressCache(gw, qc.CacheTTL)
	registry := quest.NewRegistry(gw, qc.CacheTTL)
	rewards := reward.NewDispatcher(db, c, qc.RewardReceiptTTL, logger)
	notifier := quest.MultiNotifier{quest.NewPubSubNotifier(pubsub, logger), auditSvc}

	life := quest.NewLifecycle(gw, catalog, progress, registry, rewards, notifier, logger)
	router := quest.NewRouter(life, registry, logger)
	if err := router.Load(ctx, gw); err != nil {
		logger.Fatal("load requirement routes", zap.Error(err))
	}
	admin := quest.NewAdmin(gw, catalog, progress, registry, router, life, qc.MaxNameLength, logger)

	warmed, err := registry.Warm(ctx)
	if err != nil {
		logger.Fatal("warm assignment registry", zap.Error(err))
	}
	logger.Info("Quest engine initialized", zap.Int("active_assignments", warmed))

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()
	sweeper := quest.NewSweeper(life, registry, gw, logger, catalog, progress)
	sweeper.Register(sched, qc)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	adminAllow, err := mw.IPWhitelist(cfg.Server.AdminIPs)
	if err != nil {
		logger.Fatal("server.admin_ips", zap.Error(err))
	}
	playerLimit := mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst)

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	questH := apirest.NewQuestHandler(life, admin)
	adminH := apirest.NewAdminHandler(admin, router, sched, auditSvc, cfg.Security, logger)

	api := r.Group("/api")
	{
		questsG := api.Group("/quests")
		questsG.Use(mw.Auth(cfg.Security), playerLimit)
		questsG.GET("/:name", questH.Get)
		questsG.POST("/:name/accept", questH.Accept)
		questsG.POST("/:name/cancel", questH.Cancel)

		api.GET("/me/quest", mw.Auth(cfg.Security), playerLimit, questH.Active)

		adminG := api.Group("/admin")
		adminG.Use(adminAllow, apirest.AdminAuth(cfg.Server.AdminKey))
		adminH.Register(adminG)
	}

	// ---- WebSocket event stream (game server) ----
	wsH := apiws.NewHandler(router, cfg.Server.AdminKey, logger)
	r.GET("/ws/events", adminAllow, wsH.ServeWS)

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, cfg.Security, logger)
	r.GET("/sse", playerLimit, sseH.ServeSSE)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("Server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	// Stop the sweeper before draining so no new expirations start.
	sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	sweeper.Wait()
}
