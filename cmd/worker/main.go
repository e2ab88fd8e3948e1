package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"campusattend/internal/attendance"
	"campusattend/internal/config"
	"campusattend/internal/dualsync"
	"campusattend/internal/logging"
	"campusattend/internal/mirror"
	"campusattend/internal/portal"
	"campusattend/internal/queue"
	"campusattend/internal/store"
)

// Worker drains pending sync jobs from redis and pushes each mark to the
// document mirror and the lecturer portal.
func main() {
	cfg := config.Load()
	log := logging.Must(cfg.Production(), cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend != "redis" {
		log.Fatal("worker needs QUEUE_BACKEND=redis; the memory queue is drained inside the api process")
	}

	// own pool: sync work never holds a connection the request path needs
	db, err := store.NewDB(ctx, cfg.DatabaseURL, cfg.SyncWorkers+1)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Warn("redis not reachable yet, consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	mirrorClient := mirror.FromConfig(cfg.Mirror, log.Named("mirror"))
	defer mirrorClient.Close()
	portalClient := portal.New(cfg.Portal.URL, cfg.Portal.APIKey, cfg.Portal.Timeout)

	// Check the mirror on startup so a bad credential shows up in the log immediately
	if d := mirrorClient.Diagnose(ctx); d.Connected {
		log.Info("document mirror connected", zap.Int64("latency_ms", d.LatencyMS))
	} else {
		log.Warn("document mirror not available, marks stay local until resync", zap.String("error", d.Error))
	}

	orch := dualsync.NewOrchestrator(attendance.NewRepository(db.Client), mirrorClient, portalClient, cfg.TotalLectures, log.Named("sync"))
	pool := dualsync.NewPool(queue.NewRedisQueue(redisClient.Client, ""), orch, cfg.SyncWorkers, cfg.SyncJobTimeout, log.Named("pool"))

	if err := pool.Run(ctx); err != nil {
		log.Fatal("worker failed", zap.Error(err))
	}
	log.Info("worker stopped")
}
