package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"keytao/api/internal/app"
	"keytao/api/internal/archive"
	"keytao/api/internal/authpw"
	"keytao/api/internal/config"
	"keytao/api/internal/conflict"
	"keytao/api/internal/dictsync"
	"keytao/api/internal/email"
	"keytao/api/internal/export"
	"keytao/api/internal/ghclient"
	"keytao/api/internal/gitrepo"
	"keytao/api/internal/search"
	"keytao/api/internal/session"
	"keytao/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	accounts := authpw.NewService(dataStore)
	checker := conflict.NewBatchService(dataStore)
	service := app.New(cfg, dataStore, accounts, checker)

	// Refresh tokens live in Redis when configured, in Postgres otherwise.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		service.SetSessionStore(redisStore)
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	service.SetSearch(search.NewService(meiliClient, pgfts))

	// Approved batches publish to GitHub when a token is configured and
	// to a local repository otherwise, so development needs no secrets.
	var syncClient dictsync.Client
	if cfg.GitHubToken != "" && cfg.GitHubRepo != "" {
		gh, err := ghclient.New(cfg.GitHubToken, cfg.GitHubRepo, cfg.GitHubBaseBranch)
		if err != nil {
			log.Fatalf("github client failed: %v", err)
		}
		syncClient = gh
		log.Printf("Publishing dictionaries to github.com/%s", cfg.GitHubRepo)
	} else {
		local := gitrepo.New(cfg.DictRepoDir, cfg.GitHubBaseBranch)
		if err := local.Ensure(); err != nil {
			log.Fatalf("dictionary repository init failed: %v", err)
		}
		syncClient = local
		log.Printf("Publishing dictionaries to local repository %s", cfg.DictRepoDir)
	}

	manager := dictsync.NewManager(dataStore, syncClient, cfg.SyncChunkSize)

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		snapshots, err := archive.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio client failed: %v", err)
		}
		if err := snapshots.EnsureBucket(ctx); err != nil {
			log.Fatalf("minio bucket failed: %v", err)
		}
		manager.SetArchiver(snapshots)
		service.SetArchive(snapshots)
		log.Printf("Archiving sync snapshots to bucket %s", cfg.MinioBucket)
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		log.Printf("Email notifications enabled via %s", cfg.SMTPHost)
	}
	notifier := email.NewNotifier(mailer, dataStore)
	service.SetNotifier(notifier)
	manager.SetNotifier(notifier)

	runner := dictsync.NewRunner(manager, dataStore, cfg.SyncSchedule)
	if err := runner.Start(); err != nil {
		log.Fatalf("sync runner failed: %v", err)
	}
	defer runner.Stop()
	service.SetSync(manager, runner)

	service.SetExporter(export.NewService(dataStore, checker))

	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("KeyTao API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
