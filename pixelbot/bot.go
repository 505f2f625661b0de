package pixelbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/pixelparty/pixelbot/pixelbot/config"
	"github.com/pixelparty/pixelbot/pixelbot/economy"
	"github.com/pixelparty/pixelbot/pixelbot/economy/battle"
	"github.com/pixelparty/pixelbot/pixelbot/economy/history"
	"github.com/pixelparty/pixelbot/pixelbot/economy/jackpot"
	"github.com/pixelparty/pixelbot/pixelbot/economy/market"
	"github.com/pixelparty/pixelbot/pixelbot/jobs"
	"github.com/pixelparty/pixelbot/pixelbot/ledger"
	"github.com/pixelparty/pixelbot/pixelbot/logger"
	"github.com/pixelparty/pixelbot/pixelbot/scheduler"
	"github.com/pixelparty/pixelbot/pixelbot/storage"
)

// Bot wires the economy engine together. Every component receives its
// dependencies explicitly; nothing reaches for shared globals.
type Bot struct {
	Cfg     Config
	Version string
	Commit  string

	Ledger    *ledger.Store
	Storage   *storage.Store
	Scheduler *scheduler.Scheduler
	History   *history.Recorder

	Market  *market.Engine
	Jackpot *jackpot.Manager
	Battles *battle.Matchmaker
	Jobs    *jobs.Jobs
}

func New(cfg Config, version, commit string, report economy.ExperienceReporter) (*Bot, error) {
	var mirror *storage.Mirror
	if cfg.MirrorEnabled() {
		var err error
		mirror, err = storage.NewMirror(cfg.Spaces.Key, cfg.Spaces.Secret, cfg.Spaces.Region, cfg.Spaces.Bucket, cfg.Spaces.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to configure backup mirror: %w", err)
		}
	}

	store := ledger.NewStore()
	persist := storage.New(cfg.Data.Dir, cfg.Data.BackupDir, mirror)

	doc, err := persist.LoadSnapshot()
	switch {
	case errors.Is(err, storage.ErrNoSnapshot):
		slog.Info("No snapshot found, starting from an empty ledger",
			slog.String("type", "save"))
	case err != nil:
		// Memory becomes authoritative from an empty ledger; the process
		// keeps serving.
		slog.Error("Failed to load snapshot, starting from an empty ledger",
			slog.String("type", "save"),
			slog.Any("error", err))
	default:
		store.Restore(doc)
		slog.Info("Ledger restored from snapshot",
			slog.String("type", "save"),
			slog.Int("users", len(doc.Users)),
			slog.Int("market_items", len(doc.MarketItems)),
			slog.Int("auctions", len(doc.Auctions)))
	}

	recorder, err := history.NewRecorder(config.HistoryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to build history cache: %w", err)
	}

	sched := scheduler.New()
	engine := market.NewEngine(store, report, recorder)

	b := &Bot{
		Cfg:       cfg,
		Version:   version,
		Commit:    commit,
		Ledger:    store,
		Storage:   persist,
		Scheduler: sched,
		History:   recorder,
		Market:    engine,
		Jackpot:   jackpot.NewManager(store, sched, report, recorder),
		Battles:   battle.NewMatchmaker(store, report, recorder),
		Jobs:      jobs.New(store, persist, engine),
	}
	return b, nil
}

// Start recovers persisted round/battle state and launches the background
// jobs.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.Jackpot.Recover(); err != nil {
		return err
	}
	if err := b.Battles.Recover(); err != nil {
		return err
	}
	return b.Jobs.Start(ctx)
}

// Shutdown stops the workers and flushes one final snapshot so nothing in
// memory is lost on a clean exit.
func (b *Bot) Shutdown() {
	b.Jobs.Stop()
	b.Scheduler.Stop()

	if err := b.Storage.WriteSnapshot(b.Ledger.Snapshot()); err != nil {
		slog.Error("Final snapshot flush failed",
			slog.String("type", "save"),
			slog.Any("error", err))
		return
	}
	slog.Info("Final snapshot flushed", slog.String("type", "save"))
}

// Deposit credits currency to a user on behalf of the command layer.
func (b *Bot) Deposit(id snowflake.ID, username string, amount int64) (int64, error) {
	start := time.Now()
	if amount <= 0 {
		return 0, fmt.Errorf("amount must be positive")
	}
	b.Ledger.EnsureUser(id, username)
	balance, err := b.Ledger.AdjustBalance(id, amount)
	logger.LogEconomy("deposit", time.Since(start), err)
	return balance, err
}

// Withdraw debits currency from a user, rejecting overdrafts.
func (b *Bot) Withdraw(id snowflake.ID, amount int64) (int64, error) {
	start := time.Now()
	if amount <= 0 {
		return 0, fmt.Errorf("amount must be positive")
	}
	balance, err := b.Ledger.AdjustBalance(id, -amount)
	logger.LogEconomy("withdraw", time.Since(start), err)
	return balance, err
}
