package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"campusattend/internal/attendance"
	"campusattend/internal/auth"
	"campusattend/internal/config"
	"campusattend/internal/dualsync"
	"campusattend/internal/httpmiddleware"
	"campusattend/internal/logging"
	"campusattend/internal/mirror"
	"campusattend/internal/portal"
	"campusattend/internal/qrcode"
	"campusattend/internal/queue"
	"campusattend/internal/store"
	"campusattend/internal/web"
)

func main() {
	cfg := config.Load()
	log := logging.Must(cfg.Production(), cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL, 10)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	mirrorClient := mirror.FromConfig(cfg.Mirror, log.Named("mirror"))
	defer mirrorClient.Close()
	portalClient := portal.New(cfg.Portal.URL, cfg.Portal.APIKey, cfg.Portal.Timeout)
	if !portalClient.Enabled() {
		log.Info("lecturer portal not configured (LECTURER_PORTAL_API_URL not set)")
	}

	repo := attendance.NewRepository(db.Client)

	var (
		q    queue.Queue
		pool *dualsync.Pool
	)
	switch cfg.QueueBackend {
	case "redis":
		// cmd/worker drains the queue
		q = queue.NewRedisQueue(redisClient.Client, "")
	default:
		q = queue.NewInMemory(cfg.SyncQueueSize)
		orch := dualsync.NewOrchestrator(repo, mirrorClient, portalClient, cfg.TotalLectures, log.Named("sync"))
		pool = dualsync.NewPool(q, orch, cfg.SyncWorkers, cfg.SyncJobTimeout, log.Named("pool"))
	}

	backend := qrcode.BackendFromConfig(cfg)
	if cfg.CloudinaryEnabled() {
		log.Info("qr codes stored on cloudinary", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		log.Info("qr codes stored locally", zap.String("dir", cfg.MediaDir))
	}

	svc := attendance.NewService(repo,
		attendance.WithArtifacts(qrcode.NewGenerator(backend, qrcode.DefaultSize)),
		attendance.WithPublisher(q),
		attendance.WithAdvisor(mirrorClient),
		attendance.WithLogger(log.Named("attendance")),
		attendance.WithTotalLectures(cfg.TotalLectures),
	)

	r := web.NewRouter(web.Deps{
		Service: svc,
		Mirror:  mirrorClient,
		Portal:  portalClient,
		Auth: auth.Settings{
			SigningKey:    cfg.JWTSigningKey,
			Issuer:        cfg.JWTIssuer,
			SessionSecret: cfg.SessionSecret,
			TTL:           cfg.SessionTTL,
			Secure:        cfg.SecureCookies,
		},
		SiteBaseURL: cfg.SiteBaseURL,
		SubmitLimit: httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware(),
		Probes: map[string]web.Probe{
			"db":    db.Healthy,
			"redis": redisClient.Healthy,
		},
		Logger: log.Named("http"),
	})

	var wg sync.WaitGroup
	if pool != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pool.Run(ctx); err != nil {
				log.Error("sync pool stopped", zap.Error(err))
			}
		}()
	}

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.String("queue", cfg.QueueBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down server")
	case err := <-errCh:
		stop()
		wg.Wait()
		return err
	}

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	wg.Wait()

	log.Info("server exited")
	return nil
}
