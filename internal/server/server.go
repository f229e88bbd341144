package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/leadgen/config"
	"github.com/mohammad-safakhou/leadgen/internal/credentials"
	"github.com/mohammad-safakhou/leadgen/internal/leadindex"
	"github.com/mohammad-safakhou/leadgen/internal/pipeline"
	"github.com/mohammad-safakhou/leadgen/internal/runlog"
	"github.com/mohammad-safakhou/leadgen/internal/runlog/inmemory"
	redislog "github.com/mohammad-safakhou/leadgen/internal/runlog/redis"
	"github.com/mohammad-safakhou/leadgen/internal/runtime"
	"github.com/mohammad-safakhou/leadgen/internal/store"
	"github.com/mohammad-safakhou/leadgen/internal/telemetry"
	"github.com/mohammad-safakhou/leadgen/models"
)

// Run wires the whole service together and serves HTTP until the listener
// stops. An empty cfgPath falls back to the default config search paths; an
// empty addr falls back to the configured listen address.
func Run(cfgPath, addr string) error {
	cfg := config.LoadConfig(cfgPath)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	registerDocs(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
		log.Printf("migrations: %v", err)
	}

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
	}

	// Progress log backend: redis survives restarts and is shared across
	// replicas, memory is enough for a single instance.
	var progressLog runlog.Log
	if cfg.Pipeline.LogBackend == "redis" {
		progressLog = redislog.New(rdb)
	} else {
		progressLog = inmemory.New()
	}

	tele := telemetry.NewTelemetry(cfg.Telemetry)
	resolver := credentials.NewResolver(cfg, st)
	index := leadindex.New()
	builder := pipeline.NewToolsetBuilder(cfg, resolver, tele)
	orch := pipeline.New(cfg, st, progressLog, index, builder, tele)

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}
	auth, err := initAuth(ctx, st, secret)
	if err != nil {
		return err
	}

	api := e.Group("/api")
	auth.Register(api.Group("/auth"))

	me := api.Group("/me")
	me.Use(runtime.EchoAuthMiddleware(secret))
	me.GET("", func(c echo.Context) error {
		return c.JSON(200, MeResponse{UserID: c.Get("user_id").(string)})
	})

	searchService := models.ServiceSerper
	if cfg.Search.Provider == "brave" {
		searchService = models.ServiceBrave
	}
	rh := &RunsHandler{Store: st, Orch: orch, Creds: resolver, Index: index, SearchService: searchService}
	rh.Register(api.Group("/runs"), secret)

	lh := &LeadsHandler{Store: st, Orch: orch}
	lh.Register(api.Group("/leads"), secret)

	sh := &SettingsHandler{Store: st, Creds: resolver}
	sh.Register(api.Group("/settings"), secret)

	ssh := &SavedSearchesHandler{Store: st, Orch: orch}
	ssh.Register(api.Group("/searches"), secret)

	sched := &Scheduler{Store: st, Orch: orch, Rdb: rdb, Stop: make(chan struct{})}
	sched.Start()

	if addr == "" {
		addr = cfg.Server.Address
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":10001"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
