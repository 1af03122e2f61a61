package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"file-pickup/internal/server"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Printf("service=pickupd msg=%q err=%v", "bad_configuration", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("service=pickupd msg=%q err=%v", "bad_configuration", err)
		os.Exit(1)
	}

	store, err := server.OpenStore(cfg.DataDir, cfg.CodeLength)
	if err != nil {
		log.Printf("service=pickupd msg=%q err=%v", "store_open_failed", err)
		os.Exit(1)
	}

	// Groups that expired while the process was down go first.
	if reaped, err := store.Reap(time.Now().UTC()); err != nil {
		log.Printf("service=pickupd msg=%q err=%v", "startup_reap_failed", err)
	} else if reaped > 0 {
		log.Printf("service=pickupd msg=%q reaped=%d", "startup_reap", reaped)
	}

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	go server.StartReaperJob(jobCtx, store, cfg.ReaperInterval)

	backup := newBackupManager(server.GetBackupConfigFromEnv(), store)
	backup.Start()
	defer backup.Stop()

	srv := server.New(cfg, store)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("service=pickupd msg=%q addr=%s data_dir=%s", "starting", cfg.Addr, cfg.DataDir)
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("service=pickupd msg=%q signal=%s", "shutting_down", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("service=pickupd msg=%q err=%v", "shutdown_error", err)
			os.Exit(1)
		}
		cancelJobs()
		shutdownCleanup(store, cfg.PurgeOnShutdown)
		log.Printf("service=pickupd msg=%q", "shutdown_complete")
	case err := <-errCh:
		if err != nil {
			log.Printf("service=pickupd msg=%q err=%v", "server_error", err)
			os.Exit(1)
		}
	}
}

// shutdownCleanup is the explicit shutdown hook: it receives the cleanup
// policy captured at startup instead of consulting ambient state inside
// the signal path. A final reap runs either way; purge additionally
// drops every remaining group.
func shutdownCleanup(store *server.Store, purge bool) {
	if reaped, err := store.Reap(time.Now().UTC()); err != nil {
		log.Printf("service=pickupd msg=%q err=%v", "final_reap_failed", err)
	} else if reaped > 0 {
		log.Printf("service=pickupd msg=%q reaped=%d", "final_reap", reaped)
	}
	if !purge {
		return
	}
	if err := store.PurgeAll(); err != nil {
		log.Printf("service=pickupd msg=%q err=%v", "purge_failed", err)
		return
	}
	log.Printf("service=pickupd msg=%q", "purge_complete")
}

// newBackupManager wires the optional MinIO uploader into the backup
// scheduler; a missing or broken S3 configuration downgrades to local
// snapshots only.
func newBackupManager(cfg server.BackupConfig, store *server.Store) *server.BackupManager {
	if !cfg.UploadToS3 {
		return server.NewBackupManager(cfg, store, nil)
	}
	uploader, err := server.NewMinioUploader()
	if err != nil {
		log.Printf("service=pickupd msg=%q err=%v", "backup_upload_disabled", err)
		cfg.UploadToS3 = false
		return server.NewBackupManager(cfg, store, nil)
	}
	return server.NewBackupManager(cfg, store, uploader)
}
