package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"campusattend/internal/attendance"
	"campusattend/internal/config"
	"campusattend/internal/dualsync"
	"campusattend/internal/logging"
	"campusattend/internal/mirror"
	"campusattend/internal/portal"
	"campusattend/internal/qrcode"
	"campusattend/internal/store"
)

func main() {
	cfg := config.Load()
	log := logging.Must(cfg.Production(), cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	db, err := store.NewDB(ctx, cfg.DatabaseURL, 2)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatal("migrate failed", zap.Error(err))
	}

	repo := attendance.NewRepository(db.Client)
	mirrorClient := mirror.FromConfig(cfg.Mirror, log.Named("mirror"))
	defer mirrorClient.Close()
	portalClient := portal.New(cfg.Portal.URL, cfg.Portal.APIKey, cfg.Portal.Timeout)

	cli := commandLine{
		svc: attendance.NewService(repo,
			attendance.WithArtifacts(qrcode.NewGenerator(qrcode.BackendFromConfig(cfg), qrcode.DefaultSize)),
			attendance.WithLogger(log.Named("attendance")),
			attendance.WithTotalLectures(cfg.TotalLectures),
		),
		syncer:    dualsync.NewOrchestrator(repo, mirrorClient, portalClient, cfg.TotalLectures, log.Named("sync")),
		portal:    portalClient,
		mirror:    mirrorClient,
		baseURL:   cfg.SiteBaseURL,
		backupDir: cfg.MediaDir,
		out:       os.Stdout,
	}
	if err := cli.run(ctx, os.Args); err != nil {
		if err != errHelp {
			log.Error("command failed", zap.Error(err))
		}
		os.Exit(1)
	}
}
