package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/TheGojiOG/servervisor/internal/api"
	"github.com/TheGojiOG/servervisor/internal/auth"
	"github.com/TheGojiOG/servervisor/internal/config"
	"github.com/TheGojiOG/servervisor/internal/console"
	"github.com/TheGojiOG/servervisor/internal/database"
	"github.com/TheGojiOG/servervisor/internal/logging"
	"github.com/TheGojiOG/servervisor/internal/maintenance"
	"github.com/TheGojiOG/servervisor/internal/metrics"
	"github.com/TheGojiOG/servervisor/internal/offload"
	"github.com/TheGojiOG/servervisor/internal/process"
	"github.com/TheGojiOG/servervisor/internal/server"
	"github.com/TheGojiOG/servervisor/internal/webhook"
	"github.com/TheGojiOG/servervisor/internal/websocket"
)

func runServe(configPath string) error {
	cfg, configPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer logging.Close()

	// Initialize server manager
	serverManager, err := config.NewServerManager(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize server manager: %w", err)
	}
	log.Printf("Loaded %d server definitions", len(serverManager.Names()))

	// Initialize database
	db, err := database.NewDB(cfg.Database.Path, database.WithMaxConnections(cfg.Database.MaxConnections))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	log.Println("Running database migrations...")
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Println("Migrations completed successfully")

	// Initialize activity logger
	activityLogger, err := logging.NewActivityLogger(db.DB, filepath.Join(cfg.Storage.DataDir, "logs", "activity"))
	if err != nil {
		return fmt.Errorf("failed to initialize activity logger: %w", err)
	}
	defer activityLogger.Close()

	// Nothing survives a supervisor restart, so rows left running are stale
	statusStore := server.NewStatusStore(db.DB)
	if lost, err := statusStore.ReconcileOnBoot(); err != nil {
		log.Printf("Warning: failed to reconcile server status: %v", err)
	} else if lost > 0 {
		log.Printf("Marked %d servers lost from the previous run", lost)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize WebSocket hub
	log.Println("Initializing WebSocket hub...")
	hub := websocket.NewHub()
	go hub.Run(ctx)

	followers, err := console.NewFollowerManager(hub, cfg.Supervisor.ConsoleBuffer)
	if err != nil {
		return fmt.Errorf("failed to initialize console followers: %w", err)
	}
	defer followers.Close()

	archiver := console.NewLogArchiver(db.DB, cfg.Storage.ArchiveDir, int64(cfg.Storage.LogMaxSizeMB)*1024*1024)
	recorder := metrics.NewRecorder()

	var offloader *offload.Offloader
	offloadDone := make(chan struct{})
	if cfg.Offload.Enabled {
		dest, err := offload.NewDestination(cfg.Offload)
		if err != nil {
			return fmt.Errorf("failed to initialize log offload: %w", err)
		}
		offloader = offload.NewOffloader(dest, db.DB, offload.Options{
			CompressionLevel: cfg.Offload.CompressionLevel,
			QueueSize:        cfg.Offload.QueueSize,
			Observer:         recorder,
		})
		archiver.SetUploader(offloader)
		go func() {
			defer close(offloadDone)
			offloader.Run(ctx)
		}()
	} else {
		close(offloadDone)
	}

	// Webhook delivery runs in the background so lifecycle calls never wait on the network
	webhookStore := webhook.NewSQLStore(db.DB)
	drainTimeout := cfg.WebhookDrainDuration()
	if drainTimeout == 0 {
		drainTimeout = -1
	}
	dispatcher := webhook.NewDispatcher(webhookStore, webhook.NewHTTPNotifier(cfg.WebhookTimeoutDuration()), webhook.Options{
		Workers:       cfg.Webhooks.Workers,
		QueueSize:     cfg.Webhooks.QueueSize,
		RatePerSecond: cfg.Webhooks.RatePerSecond,
		Burst:         cfg.Webhooks.Burst,
		Timeout:       cfg.WebhookTimeoutDuration(),
		DrainTimeout:  drainTimeout,
		Recorder:      webhookStore,
		Observer:      recorder,
	})
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(ctx)
	}()

	launcher := process.NewLauncher(cfg.Supervisor.JavaPath, cfg.Supervisor.Shell)
	supervisor := server.NewSupervisor(serverManager, server.NewOSLauncher(launcher), server.Options{
		StopCommand: cfg.Supervisor.StopCommand,
		StopTimeout: cfg.StopTimeoutDuration(),
		Notifier:    dispatcher,
		Metrics:     recorder,
		Activity:    activityLogger,
		Status:      statusStore,
		Follower:    followers,
		Broadcaster: hub,
		Archiver:    archiver,
	})

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(supervisor, time.Duration(cfg.Metrics.SampleInterval)*time.Second)
		collector.Start()
		defer collector.Stop()
	}

	maintenanceRunner := maintenance.NewRunner(cfg.Maintenance, db.DB, activityLogger)
	if offloader != nil && cfg.Offload.RetentionDays > 0 {
		maintenanceRunner.SetRemote(offloader, cfg.Offload.RetentionDays)
	}
	if err := maintenanceRunner.Start(ctx); err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}
	defer maintenanceRunner.Stop()

	log.Println("All supervisor components initialized successfully")

	deps := api.Dependencies{
		Config:        cfg,
		ConfigPath:    configPath,
		ServerManager: serverManager,
		Lifecycle:     supervisor,
		History:       statusStore,
		Activity:      activityLogger,
		Hub:           hub,
		Recent:        followers,
		WebhookStore:  webhookStore,
		WebhookTester: dispatcher,
		Deliveries:    webhookStore,
		Maintenance:   maintenanceRunner,
	}
	if collector != nil {
		deps.Usage = collector
	}
	if cfg.Security.Auth.Enabled {
		deps.Tokens = auth.NewTokenManager(cfg.Security.Auth.JWTSecret, cfg.Security.Auth.Issuer, cfg.TokenTTLDuration())
		log.Println("API token authentication enabled")
	}
	router := api.SetupRouter(deps)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.StopTimeoutDuration() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", httpServer.Addr)
		var err error
		if cfg.Server.TLS.Enabled {
			err = httpServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Printf("Received %s, shutting down...", sig)
	case err := <-serveErr:
		log.Printf("HTTP server failed: %v", err)
		cancel()
		supervisor.Shutdown(context.Background())
		return err
	}

	// Stop accepting requests before stopping game servers
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		log.Printf("HTTP server forced to shutdown: %v", err)
	}

	// Give every server its full graceful window plus escalation
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.StopTimeoutDuration()+10*time.Second)
	defer stopCancel()
	supervisor.Shutdown(stopCtx)

	// Stop webhook workers and uploads. Queued webhooks get the drain window, the rest is logged and dropped.
	cancel()
	<-dispatcherDone
	<-offloadDone
	if offloader != nil {
		if err := offloader.Close(); err != nil {
			log.Printf("Warning: failed to close offload destination: %v", err)
		}
	}

	log.Println("Server exited")
	return nil
}
