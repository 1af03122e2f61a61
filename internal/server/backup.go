// backup.go - Automated registry backup mechanism.
//
// Provides scheduled gzip snapshots of the registry document with a
// retention policy and optional object-storage upload, so the metadata
// for live pickup codes survives the loss of the data directory.
package server

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// BackupConfig contains configuration for registry backup operations.
type BackupConfig struct {
	Enabled       bool          // Enable automated backups
	Interval      time.Duration // Backup interval (e.g. 24h for daily)
	RetentionDays int           // Number of days to retain backups
	BackupDir     string        // Directory to store backup files
	UploadToS3    bool          // Upload backups to S3/MinIO
	S3Bucket      string        // Bucket for backup storage
	S3Prefix      string        // Prefix/folder for backups
}

// BackupUploader pushes a finished snapshot to off-site storage. The
// production implementation talks to MinIO; tests substitute a recorder.
type BackupUploader interface {
	Upload(localPath, objectName string) error
}

// BackupManager handles scheduled registry backups.
type BackupManager struct {
	config   BackupConfig
	store    *Store
	uploader BackupUploader
	stopChan chan struct{}
}

// NewBackupManager creates a new backup manager instance.
func NewBackupManager(config BackupConfig, store *Store, uploader BackupUploader) *BackupManager {
	return &BackupManager{
		config:   config,
		store:    store,
		uploader: uploader,
		stopChan: make(chan struct{}),
	}
}

// Start begins the automated backup scheduler.
func (bm *BackupManager) Start() {
	if !bm.config.Enabled {
		Info("registry backups disabled", nil)
		return
	}

	if err := os.MkdirAll(bm.config.BackupDir, 0o750); err != nil {
		Error("failed to create backup directory", map[string]any{
			"dir": bm.config.BackupDir,
		}, err)
		return
	}

	Info("registry backup scheduler started", map[string]any{
		"interval":       bm.config.Interval.String(),
		"retention_days": bm.config.RetentionDays,
		"backup_dir":     bm.config.BackupDir,
	})

	ticker := time.NewTicker(bm.config.Interval)
	go func() {
		if err := bm.performBackup(); err != nil {
			Error("initial backup failed", nil, err)
		}
		for {
			select {
			case <-ticker.C:
				if err := bm.performBackup(); err != nil {
					Error("scheduled backup failed", nil, err)
				}
			case <-bm.stopChan:
				ticker.Stop()
				Info("backup scheduler stopped", nil)
				return
			}
		}
	}()
}

// Stop halts the backup scheduler.
func (bm *BackupManager) Stop() {
	close(bm.stopChan)
}

// performBackup writes one gzip snapshot of the registry document,
// applies retention, and uploads the snapshot when configured.
func (bm *BackupManager) performBackup() error {
	startTime := time.Now()

	if _, err := os.Stat(bm.store.dataPath); os.IsNotExist(err) {
		// Nothing persisted yet; an empty service has nothing to back up.
		return nil
	}

	filename := fmt.Sprintf("registry-%s.json.gz", startTime.Format("20060102-150405"))
	backupPath := filepath.Join(bm.config.BackupDir, filename)

	if err := bm.snapshotRegistry(backupPath); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	fileInfo, err := os.Stat(backupPath)
	if err != nil {
		return fmt.Errorf("failed to stat backup file: %w", err)
	}

	Info("registry backup completed", map[string]any{
		"filename":    filename,
		"size_bytes":  fileInfo.Size(),
		"duration_ms": time.Since(startTime).Milliseconds(),
	})

	if bm.config.UploadToS3 && bm.uploader != nil {
		objectName := filename
		if bm.config.S3Prefix != "" {
			objectName = strings.TrimSuffix(bm.config.S3Prefix, "/") + "/" + filename
		}
		if err := bm.uploader.Upload(backupPath, objectName); err != nil {
			Error("failed to upload backup", map[string]any{"object": objectName}, err)
		} else {
			Info("backup uploaded", map[string]any{
				"bucket": bm.config.S3Bucket,
				"key":    objectName,
			})
		}
	}

	if err := bm.cleanupOldBackups(); err != nil {
		Warn("failed to cleanup old backups", map[string]any{"error": err.Error()})
	}

	return nil
}

// snapshotRegistry gzips the current registry document into outputPath.
// The document on disk is already a consistent whole thanks to the
// store's write-then-rename persistence.
func (bm *BackupManager) snapshotRegistry(outputPath string) error {
	src, err := os.Open(bm.store.dataPath)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		return err
	}
	return gz.Close()
}

// cleanupOldBackups removes snapshots older than the retention window.
func (bm *BackupManager) cleanupOldBackups() error {
	if bm.config.RetentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -bm.config.RetentionDays)

	entries, err := os.ReadDir(bm.config.BackupDir)
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "registry-") && strings.HasSuffix(e.Name(), ".json.gz") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(bm.config.BackupDir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				Warn("failed to remove old backup", map[string]any{"file": name})
			} else {
				Info("removed old backup", map[string]any{"file": name})
			}
		}
	}
	return nil
}

// GetBackupConfigFromEnv reads backup configuration from environment variables.
func GetBackupConfigFromEnv() BackupConfig {
	cfg := BackupConfig{
		Enabled:       os.Getenv("FP_BACKUP_ENABLED") == "true",
		Interval:      24 * time.Hour,
		RetentionDays: 7,
		BackupDir:     getenvDefault("FP_BACKUP_DIR", "./backups"),
		UploadToS3:    os.Getenv("FP_BACKUP_S3") == "true",
		S3Bucket:      os.Getenv("FP_S3_BUCKET"),
		S3Prefix:      getenvDefault("FP_S3_PREFIX", "registry-backups"),
	}

	if v := os.Getenv("FP_BACKUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Interval = d
		}
	}
	if v := os.Getenv("FP_BACKUP_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.RetentionDays = days
		}
	}
	return cfg
}
