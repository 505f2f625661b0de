// Package jobs wires the background maintenance work: periodic autosave,
// daily backup rotation and the opportunistic market sweep.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pixelparty/pixelbot/pixelbot/config"
	"github.com/pixelparty/pixelbot/pixelbot/economy/market"
	"github.com/pixelparty/pixelbot/pixelbot/ledger"
	"github.com/pixelparty/pixelbot/pixelbot/logger"
	"github.com/pixelparty/pixelbot/pixelbot/storage"
)

type Jobs struct {
	cron    *cron.Cron
	ledger  *ledger.Store
	storage *storage.Store
	market  *market.Engine
}

func New(store *ledger.Store, persist *storage.Store, engine *market.Engine) *Jobs {
	return &Jobs{
		cron:    cron.New(),
		ledger:  store,
		storage: persist,
		market:  engine,
	}
}

func (j *Jobs) Start(ctx context.Context) error {
	// Autosave, skipped while no player activity has dirtied the ledger.
	if _, err := j.cron.AddFunc(fmt.Sprintf("@every %s", config.AutosaveInterval), func() {
		j.Autosave()
	}); err != nil {
		return err
	}

	// Dated backup just after midnight, pruned to the retention window and
	// mirrored offsite when configured.
	if _, err := j.cron.AddFunc("5 0 * * *", func() {
		j.DailyBackup(ctx, time.Now())
	}); err != nil {
		return err
	}

	// Lazy expiry also runs from reads; this keeps a quiet server moving.
	if _, err := j.cron.AddFunc(fmt.Sprintf("@every %s", config.SweepInterval), func() {
		j.market.SweepExpired(time.Now())
	}); err != nil {
		return err
	}

	j.cron.Start()
	slog.Info("Background jobs started", slog.String("type", "sys"))
	return nil
}

// Autosave writes the primary snapshot when the ledger changed since the
// last save. A write failure is critical but never fatal: memory stays
// authoritative until the next successful save.
func (j *Jobs) Autosave() {
	doc, dirty := j.ledger.SnapshotIfDirty()
	if !dirty {
		return
	}
	if err := j.storage.WriteSnapshot(doc); err != nil {
		slog.Error("Autosave failed, serving from memory",
			slog.String("type", "save"),
			slog.Any("error", err))
		return
	}
	logger.LogSave("Autosave complete", slog.Int("users", len(doc.Users)))
}

func (j *Jobs) DailyBackup(ctx context.Context, now time.Time) {
	if err := j.storage.WriteDailyBackup(ctx, j.ledger.Snapshot(), now); err != nil {
		slog.Error("Daily backup failed",
			slog.String("type", "save"),
			slog.Any("error", err))
		return
	}
	logger.LogSave("Daily backup complete")
}

func (j *Jobs) Stop() {
	stopCtx := j.cron.Stop()
	<-stopCtx.Done()
	slog.Info("Background jobs stopped", slog.String("type", "sys"))
}
