package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pixelparty/pixelbot/pixelbot/config"
	"github.com/pixelparty/pixelbot/pixelbot/ledger"
)

const (
	backupPrefix = "ledger-"
	backupSuffix = ".json.zst"
)

func backupName(day time.Time) string {
	return backupPrefix + day.Format(config.BackupDateSpec) + backupSuffix
}

// parseBackupDate extracts the date embedded in a backup filename. Files that
// do not match the naming scheme are skipped by the pruner.
func parseBackupDate(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix)
	day, err := time.Parse(config.BackupDateSpec, raw)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// WriteDailyBackup writes a dated copy of the document, prunes old backups
// and mirrors the new file offsite when a mirror is configured. Rotation and
// mirroring run in parallel; a mirror failure is reported but never blocks
// the local backup.
func (s *Store) WriteDailyBackup(ctx context.Context, doc *ledger.Document, now time.Time) error {
	s.mu.Lock()
	name := backupName(now)
	path := filepath.Join(s.backupDir, name)
	err := writeCompressed(path, doc)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write daily backup: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Prune(now)
	})
	if s.mirror != nil {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if err := s.mirror.Upload(ctx, name, data); err != nil {
				// Memory and the local copy stay authoritative.
				slog.Error("Failed to mirror backup offsite",
					slog.String("type", "save"),
					slog.String("backup", name),
					slog.Any("error", err))
			}
			return nil
		})
	}
	return g.Wait()
}

// Prune removes dated backups older than the retention window, identified by
// the date parsed out of each filename.
func (s *Store) Prune(now time.Time) error {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list backups: %w", err)
	}

	cutoff := now.Add(-config.BackupRetention)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		day, ok := parseBackupDate(entry.Name())
		if !ok {
			slog.Warn("Skipping unrecognized file in backup dir",
				slog.String("type", "save"),
				slog.String("file", entry.Name()))
			continue
		}
		if day.Before(cutoff) {
			if err := os.Remove(filepath.Join(s.backupDir, entry.Name())); err != nil {
				slog.Error("Failed to prune backup",
					slog.String("type", "save"),
					slog.String("file", entry.Name()),
					slog.Any("error", err))
				continue
			}
			slog.Info("Pruned expired backup",
				slog.String("type", "save"),
				slog.String("file", entry.Name()))
		}
	}
	return nil
}
