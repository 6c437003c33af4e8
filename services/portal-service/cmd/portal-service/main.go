package main

import (
	"context"
	"net/http"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/carebook/libs/config"
	"github.com/md-rashed-zaman/carebook/libs/httpx"
	"github.com/md-rashed-zaman/carebook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/carebook/libs/otel"
	"github.com/md-rashed-zaman/carebook/libs/runtime"
	"github.com/md-rashed-zaman/carebook/services/portal-service/internal/apiclient"
	"github.com/md-rashed-zaman/carebook/services/portal-service/internal/draft"
	"github.com/md-rashed-zaman/carebook/services/portal-service/internal/handlers"
	"github.com/md-rashed-zaman/carebook/services/portal-service/internal/invalidation"
	"github.com/md-rashed-zaman/carebook/services/portal-service/internal/lifecycle"
	"github.com/md-rashed-zaman/carebook/services/portal-service/internal/projector"
	"github.com/md-rashed-zaman/carebook/services/portal-service/internal/querycache"
)

func main() {
	service := config.String("SERVICE_NAME", "portal-service")
	port, err := config.Port("PORT", "8090")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	bookingURL, err := config.RequiredString("BOOKING_SERVICE_URL")
	if err != nil {
		panic(err)
	}
	remote := apiclient.New(bookingURL)

	submitLimit := config.Int("SUBMIT_RATE_LIMIT", 10)
	var (
		backend querycache.Backend = querycache.NewMemoryBackend()
		store   draft.Store        = draft.NewMemoryStore()
		limiter httpx.Limiter      = httpx.NewMemoryLimiter(submitLimit, time.Minute)
		checks  []runtime.ReadyCheck
	)
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
		backend = querycache.NewRedisBackend(rdb, config.String("CACHE_PREFIX", "carebook:qc:"))
		store = draft.NewRedisStore(rdb, config.String("DRAFT_PREFIX", "carebook:draft:"), config.Duration("DRAFT_TTL", draft.DefaultTTL))
		limiter = httpx.NewRedisLimiter(rdb, submitLimit, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		logger.Info("redis enabled", "redis_addr", addr)
	}

	cache := querycache.New(backend, config.Duration("QUERY_CACHE_TTL", 30*time.Second), logger)
	wizard := draft.NewWizard(store, remote, cache, logger)
	manager := lifecycle.NewManager(remote, cache, logger)

	if brokers := config.List("KAFKA_BROKERS", ""); len(brokers) > 0 {
		reader := invalidation.NewReader(invalidation.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
		})
		go invalidation.New(reader, cache, logger).Run(ctx)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	portal := handlers.NewPortalHandler(remote, wizard, manager, cache, handlers.Options{
		WeekStart: weekStart(config.String("CALENDAR_WEEK_START", "monday")),
		Hours: projector.HourRange{
			From: config.Int("CALENDAR_FROM_HOUR", 0),
			To:   config.Int("CALENDAR_TO_HOUR", 24),
		},
		SubmitLimit: httpx.RateLimit(limiter, logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true)),
	}, logger)

	mux := runtime.NewBaseMuxWithReady(checks...)
	portal.Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", "")}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 10*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "portal")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func weekStart(s string) time.Weekday {
	if strings.EqualFold(strings.TrimSpace(s), "sunday") {
		return time.Sunday
	}
	return time.Monday
}
