package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	alertapp "roomwatch/internal/alerts/application"
	alerts "roomwatch/internal/alerts/domain"
	alertmemory "roomwatch/internal/alerts/infrastructure/memory"
	alertpostgres "roomwatch/internal/alerts/infrastructure/postgres"
	alertredis "roomwatch/internal/alerts/infrastructure/redis"
	alerthttp "roomwatch/internal/alerts/interfaces/http"
	alertnotify "roomwatch/internal/alerts/notify"
	apihttp "roomwatch/internal/api/http"
	"roomwatch/internal/auth"
	"roomwatch/internal/config"
	"roomwatch/internal/eventing"
	"roomwatch/internal/logging"
	"roomwatch/internal/mqtt"
	"roomwatch/internal/observability/metrics"
	ruleapp "roomwatch/internal/rules/application"
	rules "roomwatch/internal/rules/domain"
	rulememory "roomwatch/internal/rules/infrastructure/memory"
	rulepostgres "roomwatch/internal/rules/infrastructure/postgres"
	rulehttp "roomwatch/internal/rules/interfaces/http"
	rulemqtt "roomwatch/internal/rules/interfaces/mqtt"
	telemetryapp "roomwatch/internal/telemetry/application"
	telemetry "roomwatch/internal/telemetry/domain"
	telemetrymemory "roomwatch/internal/telemetry/infrastructure/memory"
	telemetryhttp "roomwatch/internal/telemetry/interfaces/http"
	telemetrymqtt "roomwatch/internal/telemetry/interfaces/mqtt"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger is not configured yet
		_, _ = os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, "roomwatch")
	if err != nil {
		_, _ = os.Stderr.WriteString("logger error: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, _ := cfg.Location()
	directory := telemetry.NewDirectory(cfg.Rooms)

	var db *sql.DB
	var alertRepo alerts.Repository
	var ruleRepo rules.Repository
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db open error", zap.Error(err))
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("db ping error", zap.Error(err))
		}
		alertRepo = alertpostgres.NewRepository(db)
		ruleRepo = rulepostgres.NewRepository(db)
	} else {
		logger.Warn("DATABASE_URL not set, definitions and events are kept in memory")
		alertRepo = alertmemory.NewRepository()
		ruleRepo = rulememory.NewRepository()
	}
	metrics.Init(db, logger)

	states := telemetrymemory.NewStateStore()
	actuators := telemetrymemory.NewActuatorStore()
	ingestor, err := telemetryapp.NewIngestor(states, actuators,
		telemetryapp.WithDirectory(directory),
		telemetryapp.WithLogger(logger.Named("ingest")),
	)
	if err != nil {
		logger.Fatal("ingestor error", zap.Error(err))
	}

	bus := eventing.NewInMemoryBus()
	dispatcher, err := eventing.NewDispatcher(bus,
		eventing.WithWorkers(cfg.EffectWorkers),
		eventing.WithQueueSize(cfg.EffectQueue),
		eventing.WithTimeout(cfg.EffectTimeout),
		eventing.WithLogger(logger.Named("effects")),
	)
	if err != nil {
		logger.Fatal("dispatcher error", zap.Error(err))
	}

	var broker *mqtt.Client
	if cfg.MQTT.Broker != "" {
		broker, err = mqtt.NewClient(mqtt.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, logger.Named("mqtt"))
		if err != nil {
			logger.Fatal("mqtt connect error", zap.Error(err))
		}
		listener, err := telemetrymqtt.NewListener(ingestor, cfg.SiteID, telemetrymqtt.WithLogger(logger.Named("mqtt")))
		if err != nil {
			logger.Fatal("mqtt listener error", zap.Error(err))
		}
		if err := listener.Register(broker); err != nil {
			logger.Fatal("mqtt subscribe error", zap.Error(err))
		}
	} else {
		logger.Warn("MQTT_BROKER not set, telemetry arrives over HTTP only and rule actions are not published")
	}

	// Alerts.
	alertCatalog, err := alertapp.NewCatalog(alertRepo)
	if err != nil {
		logger.Fatal("alert catalog error", zap.Error(err))
	}
	if err := alertCatalog.Reload(ctx); err != nil {
		logger.Fatal("alert catalog load error", zap.Error(err))
	}
	badge, err := alertapp.NewBadge(alertRepo)
	if err != nil {
		logger.Fatal("alert badge error", zap.Error(err))
	}
	sse := alerthttp.NewSSEBroker()
	badge.OnChange(sse.PublishBadge)
	if _, err := badge.Refresh(ctx); err != nil {
		logger.Warn("alert badge refresh failed", zap.Error(err))
	}

	notifiers := []alertapp.AlertNotifier{sse}
	var webhookNotifier *alertnotify.Notifier
	if cfg.Notify.WebhookURL != "" {
		channel, err := alertnotify.NewWebhookChannel(cfg.Notify.WebhookURL)
		if err != nil {
			logger.Fatal("alert webhook error", zap.Error(err))
		}
		tpl, err := alertnotify.NewTemplate(cfg.Notify.Template)
		if err != nil {
			logger.Fatal("alert template error", zap.Error(err))
		}
		webhookNotifier, err = alertnotify.NewNotifier(alertRepo, channel, tpl,
			alertnotify.WithEscalation(cfg.Notify.EscalationAfter),
			alertnotify.WithCooldown(cfg.Notify.Cooldown),
			alertnotify.WithDedupeWindow(cfg.Notify.DedupeWindow),
			alertnotify.WithRequestTimeout(cfg.Notify.Timeout),
			alertnotify.WithLogger(logger.Named("notify")),
		)
		if err != nil {
			logger.Fatal("alert notifier error", zap.Error(err))
		}
		defer webhookNotifier.Close()
		notifiers = append(notifiers, webhookNotifier)
	}
	recorder, err := alertapp.NewFireRecorder(alertRepo, badge, alertnotify.NewMultiNotifier(notifiers...), logger.Named("alerts"))
	if err != nil {
		logger.Fatal("alert recorder error", zap.Error(err))
	}
	recorder.Register(bus)

	tracker := alertapp.NewTracker()
	alertOpts := []alertapp.SchedulerOption{
		alertapp.WithTracker(tracker),
		alertapp.WithDirectory(directory),
		alertapp.WithLocation(loc),
		alertapp.WithInterval(cfg.AlertTick),
		alertapp.WithSchedulerLogger(logger.Named("alerts")),
	}
	if cfg.RedisAddr != "" {
		redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		checkpoint, err := alertredis.NewCheckpoint(redisClient,
			alertredis.WithKey("roomwatch:"+cfg.SiteID+":breaches"),
			alertredis.WithLogger(logger.Named("checkpoint")),
		)
		if err != nil {
			logger.Fatal("breach checkpoint error", zap.Error(err))
		}
		alertOpts = append(alertOpts, alertapp.WithCheckpoint(checkpoint))
	}
	alertScheduler, err := alertapp.NewScheduler(alertCatalog, states, dispatcher, alertOpts...)
	if err != nil {
		logger.Fatal("alert scheduler error", zap.Error(err))
	}
	if err := alertScheduler.RestoreCheckpoint(ctx); err != nil {
		logger.Warn("breach checkpoint restore failed", zap.Error(err))
	}
	alertService, err := alertapp.NewService(alertRepo, alertCatalog,
		alertapp.WithServiceTracker(tracker),
		alertapp.WithServicePublisher(dispatcher),
		alertapp.WithServiceBadge(badge),
		alertapp.WithServiceLogger(logger.Named("alerts")),
	)
	if err != nil {
		logger.Fatal("alert service error", zap.Error(err))
	}

	// Rules.
	ruleCatalog, err := ruleapp.NewCatalog(ruleRepo)
	if err != nil {
		logger.Fatal("rule catalog error", zap.Error(err))
	}
	if err := ruleCatalog.Reload(ctx); err != nil {
		logger.Fatal("rule catalog load error", zap.Error(err))
	}
	var commands ruleapp.CommandPublisher = discardCommands{logger: logger.Named("rules")}
	if broker != nil {
		commands, err = rulemqtt.NewCommandPublisher(broker)
		if err != nil {
			logger.Fatal("rule command publisher error", zap.Error(err))
		}
	}
	runner, err := ruleapp.NewActionRunner(commands, ruleRepo, logger.Named("rules"))
	if err != nil {
		logger.Fatal("rule action runner error", zap.Error(err))
	}
	runner.Register(bus)
	ruleScheduler, err := ruleapp.NewScheduler(ruleCatalog, states, actuators, dispatcher,
		ruleapp.WithDirectory(directory),
		ruleapp.WithLocation(loc),
		ruleapp.WithInterval(cfg.RuleTick),
		ruleapp.WithSchedulerLogger(logger.Named("rules")),
	)
	if err != nil {
		logger.Fatal("rule scheduler error", zap.Error(err))
	}
	ruleService, err := ruleapp.NewService(ruleRepo, ruleCatalog,
		ruleapp.WithServiceForgetter(ruleScheduler),
		ruleapp.WithServiceLogger(logger.Named("rules")),
	)
	if err != nil {
		logger.Fatal("rule service error", zap.Error(err))
	}

	go alertScheduler.Start(ctx)
	go alertScheduler.RunCheckpoints(ctx, cfg.CheckpointInterval)
	go ruleScheduler.Start(ctx)
	go runEvery(ctx, cfg.DefinitionRefresh, func(ctx context.Context) {
		if err := alertCatalog.Reload(ctx); err != nil {
			logger.Warn("alert catalog refresh failed", zap.Error(err))
		}
		if err := ruleCatalog.Reload(ctx); err != nil {
			logger.Warn("rule catalog refresh failed", zap.Error(err))
		}
	})

	// HTTP.
	router := mux.NewRouter()
	alertHandler, err := alerthttp.NewHandler(alertService, alerthttp.NewStreamHandler(sse, badge.Count), logger.Named("http"))
	if err != nil {
		logger.Fatal("alert handler error", zap.Error(err))
	}
	alertHandler.RegisterRoutes(router)
	ruleHandler, err := rulehttp.NewHandler(ruleService, logger.Named("http"))
	if err != nil {
		logger.Fatal("rule handler error", zap.Error(err))
	}
	ruleHandler.RegisterRoutes(router)
	stateHandler, err := telemetryhttp.NewStateHandler(states, actuators)
	if err != nil {
		logger.Fatal("state handler error", zap.Error(err))
	}
	stateHandler.RegisterRoutes(router)

	if cfg.IngestSecret != "" {
		ingestHandler, err := telemetryhttp.NewIngestHandler(ingestor, logger.Named("ingest"))
		if err != nil {
			logger.Fatal("ingest handler error", zap.Error(err))
		}
		ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), cfg.IngestMaxSkew())
		router.Handle("/ingest/samples", ingestAuth.Wrap(ingestHandler)).Methods(http.MethodPost)
	} else {
		logger.Info("INGEST_HMAC_SECRET not set, HTTP ingest disabled")
	}

	var health *apihttp.HealthHandler
	switch {
	case db != nil && broker != nil:
		health = apihttp.NewHealthHandler(db, broker)
	case db != nil:
		health = apihttp.NewHealthHandler(db, nil)
	case broker != nil:
		health = apihttp.NewHealthHandler(nil, broker)
	default:
		health = apihttp.NewHealthHandler(nil, nil)
	}
	router.Handle("/healthz", health)
	router.Handle("/metrics", promhttp.Handler())

	var handler http.Handler = router
	if cfg.JWTSecret != "" {
		policy := auth.NewRoomwatchPolicy("/healthz", "/ingest")
		handler = auth.NewMiddleware([]byte(cfg.JWTSecret), policy, logger.Named("auth")).Wrap(handler)
	} else {
		logger.Warn("AUTH_JWT_SECRET not set, API is unauthenticated")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(handler, logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
	if err := alertScheduler.SaveCheckpoint(shutdownCtx); err != nil {
		logger.Warn("breach checkpoint save failed", zap.Error(err))
	}
	dispatcher.Close()
	if broker != nil {
		broker.Disconnect()
	}
}

func runEvery(ctx context.Context, every time.Duration, fn func(ctx context.Context)) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working through the wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// discardCommands stands in for the broker when MQTT is not configured.
type discardCommands struct {
	logger *zap.Logger
}

func (d discardCommands) PublishCommand(_ context.Context, deviceID string, cmd telemetry.Command) error {
	d.logger.Warn("no broker, relay command discarded", zap.String("device", deviceID), zap.String("command", string(cmd)))
	return errors.New("mqtt not configured")
}

func (d discardCommands) PublishTopic(_ context.Context, topic string, _ string) error {
	d.logger.Warn("no broker, topic publish discarded", zap.String("topic", topic))
	return errors.New("mqtt not configured")
}
