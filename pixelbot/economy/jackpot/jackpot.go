// Package jackpot runs the pooled-stake round: players buy in, a countdown
// starts once two are in, and a stake-weighted draw pays the whole pot to one
// winner.
package jackpot

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/pixelparty/pixelbot/pixelbot/config"
	"github.com/pixelparty/pixelbot/pixelbot/economy"
	"github.com/pixelparty/pixelbot/pixelbot/economy/history"
	"github.com/pixelparty/pixelbot/pixelbot/ledger"
	"github.com/pixelparty/pixelbot/pixelbot/scheduler"
)

const (
	settingKey = "jackpot_round"
	timerKey   = "jackpot"
)

type Status string

const (
	StatusWaiting      Status = "waiting"
	StatusCountingDown Status = "counting_down"
	StatusDrawn        Status = "drawn"
)

type Entry struct {
	UserID   snowflake.ID `json:"user_id"`
	Username string       `json:"username"`
	Bet      int64        `json:"bet_amount"`
	JoinedAt time.Time    `json:"joined_at"`
}

type Round struct {
	ID         string    `json:"id"`
	Entries    []Entry   `json:"entries"`
	TotalPot   int64     `json:"total_pot"`
	Status     Status    `json:"status"`
	DrawTime   time.Time `json:"draw_time"`
	LastExtend time.Time `json:"last_extend_time"`
}

func (r *Round) clone() *Round {
	c := *r
	c.Entries = append([]Entry(nil), r.Entries...)
	return &c
}

// Manager owns the active round. Round membership is not ledger data, so it
// is guarded by its own lock; balances still move only through the ledger.
// The draw holds the lock for its entire run, so a join racing the draw waits
// and lands in the next round instead of being appended to the drawn one.
type Manager struct {
	mu sync.Mutex

	ledger  *ledger.Store
	sched   *scheduler.Scheduler
	report  economy.ExperienceReporter
	history *history.Recorder

	rng *rand.Rand
	now func() time.Time

	round *Round
}

func NewManager(store *ledger.Store, sched *scheduler.Scheduler, report economy.ExperienceReporter, recorder *history.Recorder) *Manager {
	if store == nil {
		panic("ledger store cannot be nil")
	}
	if sched == nil {
		panic("scheduler cannot be nil")
	}
	return &Manager{
		ledger:  store,
		sched:   sched,
		report:  report,
		history: recorder,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
}

// SetNow injects a clock for tests.
func (m *Manager) SetNow(now func() time.Time) { m.now = now }

// SetRand injects a deterministic rand source for tests.
func (m *Manager) SetRand(rng *rand.Rand) { m.rng = rng }

// JoinResult describes the round state after a successful join.
type JoinResult struct {
	Round    *Round
	Extended bool
	Started  bool
}

// Join debits the stake and merges it into the active round, creating one if
// none exists. The second distinct player starts the countdown; a join close
// to the deadline extends it.
func (m *Manager) Join(userID snowflake.ID, username string, bet int64) (*JoinResult, error) {
	if bet <= 0 {
		return nil, fmt.Errorf("bet must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.round != nil && m.round.Status == StatusDrawn {
		return nil, fmt.Errorf("the draw is in progress, join the next round")
	}

	// Stake is escrowed up front; an insufficient balance rejects the
	// join with no round mutation.
	if _, err := m.ledger.AdjustBalance(userID, -bet); err != nil {
		return nil, err
	}

	if m.round == nil {
		m.round = &Round{
			ID:     strconv.FormatInt(now.UnixMilli(), 36),
			Status: StatusWaiting,
		}
		slog.Info("Jackpot round opened",
			slog.String("type", "eco"),
			slog.String("round_id", m.round.ID),
			slog.String("user_name", username))
	}

	merged := false
	for i := range m.round.Entries {
		if m.round.Entries[i].UserID == userID {
			m.round.Entries[i].Bet += bet
			merged = true
			break
		}
	}
	if !merged {
		m.round.Entries = append(m.round.Entries, Entry{
			UserID:   userID,
			Username: username,
			Bet:      bet,
			JoinedAt: now,
		})
	}

	var sum int64
	for _, e := range m.round.Entries {
		sum += e.Bet
	}
	m.round.TotalPot = sum

	result := &JoinResult{}
	switch {
	case m.round.Status == StatusWaiting && len(m.round.Entries) >= 2:
		m.round.Status = StatusCountingDown
		m.round.DrawTime = now.Add(config.JackpotCountdown)
		m.sched.Schedule(timerKey, m.round.DrawTime, m.executeDraw)
		result.Started = true
		slog.Info("Jackpot countdown started",
			slog.String("type", "eco"),
			slog.String("round_id", m.round.ID),
			slog.Time("draw_time", m.round.DrawTime))

	case m.round.Status == StatusCountingDown && m.round.DrawTime.Sub(now) < config.JackpotSnipeWindow:
		m.round.DrawTime = m.round.DrawTime.Add(config.JackpotExtension)
		m.round.LastExtend = now
		if !m.sched.ExtendTo(timerKey, m.round.DrawTime) {
			// The timer already fired; its callback is waiting on our
			// lock and will defer itself, but requeue here too so the
			// deadline never depends on that callback alone.
			m.sched.Schedule(timerKey, m.round.DrawTime, m.executeDraw)
		}
		result.Extended = true
		slog.Info("Jackpot draw extended",
			slog.String("type", "eco"),
			slog.String("round_id", m.round.ID),
			slog.Time("draw_time", m.round.DrawTime))
	}

	m.persistLocked()
	result.Round = m.round.clone()
	return result, nil
}

// Round returns a copy of the active round, or nil when none is running.
func (m *Manager) Round() *Round {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.round == nil {
		return nil
	}
	return m.round.clone()
}

// executeDraw fires at draw time. It keeps the round lock for the whole
// settlement so no join can slip into a round already being drawn.
func (m *Manager) executeDraw() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drawLocked()
}

func (m *Manager) drawLocked() {
	round := m.round
	if round == nil || len(round.Entries) < 2 {
		return
	}

	// A snipe-window join can move DrawTime while the fired timer
	// callback is blocked on the lock; by then the task is already
	// popped, so ExtendTo had nothing to move. Honor the new deadline
	// instead of drawing early.
	if now := m.now(); round.DrawTime.After(now) {
		m.sched.Schedule(timerKey, round.DrawTime, m.executeDraw)
		slog.Info("Jackpot draw deferred to extended deadline",
			slog.String("type", "eco"),
			slog.String("round_id", round.ID),
			slog.Duration("remaining", round.DrawTime.Sub(now)))
		return
	}
	round.Status = StatusDrawn

	var sum int64
	for _, e := range round.Entries {
		sum += e.Bet
	}
	if sum != round.TotalPot {
		// Programmer error; settle from the recomputed sum so no stake
		// is ever lost.
		slog.Error("Jackpot pot does not match entry stakes",
			slog.String("type", "eco"),
			slog.String("round_id", round.ID),
			slog.Int64("total_pot", round.TotalPot),
			slog.Int64("stake_sum", sum))
		round.TotalPot = sum
	}

	// Uniform point in [0, pot); walking the cumulative stakes gives each
	// player a win probability proportional to their stake.
	point := m.rng.Int63n(round.TotalPot)
	winner := pickWinner(round.Entries, point)

	if _, err := m.ledger.AdjustBalance(winner.UserID, round.TotalPot); err != nil {
		slog.Error("Failed to credit jackpot winner",
			slog.String("type", "eco"),
			slog.String("round_id", round.ID),
			slog.String("user_name", winner.Username),
			slog.Any("error", err))
	}

	for _, e := range round.Entries {
		if e.UserID == winner.UserID {
			m.report.Report(e.UserID, round.TotalPot-e.Bet)
		} else {
			m.report.Report(e.UserID, -e.Bet)
		}
	}

	m.history.Record(history.Entry{
		Kind:     history.KindJackpot,
		ID:       round.ID,
		Outcome:  "drawn",
		WinnerID: winner.UserID,
		Amount:   round.TotalPot,
		At:       m.now(),
	})
	slog.Info("Jackpot drawn",
		slog.String("type", "eco"),
		slog.String("round_id", round.ID),
		slog.String("user_name", winner.Username),
		slog.Int64("pot", round.TotalPot),
		slog.Int("players", len(round.Entries)))

	m.round = nil
	m.persistLocked()
}

// pickWinner walks the cumulative stake sum; the first entry whose cumulative
// stake exceeds the draw point wins.
func pickWinner(entries []Entry, point int64) Entry {
	var cumulative int64
	for _, e := range entries {
		cumulative += e.Bet
		if point < cumulative {
			return e
		}
	}
	// Unreachable while point < sum of stakes; fall back to the last
	// entry rather than panic.
	return entries[len(entries)-1]
}

// Recover restores persisted round state after a restart. A countdown still
// in the future is rescheduled for the remaining delay; one the process slept
// through is drawn immediately as a catch-up.
func (m *Manager) Recover() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var round Round
	ok, err := m.ledger.Setting(settingKey, &round)
	if err != nil {
		return fmt.Errorf("failed to restore jackpot round: %w", err)
	}
	if !ok {
		return nil
	}
	m.round = &round

	switch round.Status {
	case StatusWaiting:
		slog.Info("Restored waiting jackpot round",
			slog.String("type", "eco"),
			slog.String("round_id", round.ID),
			slog.Int("players", len(round.Entries)))
	case StatusCountingDown:
		now := m.now()
		if round.DrawTime.After(now) {
			m.sched.Schedule(timerKey, round.DrawTime, m.executeDraw)
			slog.Info("Rescheduled jackpot draw",
				slog.String("type", "eco"),
				slog.String("round_id", round.ID),
				slog.Duration("remaining", round.DrawTime.Sub(now)))
		} else {
			slog.Info("Jackpot draw elapsed while down, drawing now",
				slog.String("type", "eco"),
				slog.String("round_id", round.ID))
			m.drawLocked()
		}
	default:
		// A round persisted mid-draw; the draw never completed, so run
		// it again from the stored entries.
		m.round.Status = StatusCountingDown
		m.drawLocked()
	}
	return nil
}

func (m *Manager) persistLocked() {
	var v any
	if m.round != nil {
		v = m.round
	}
	if err := m.ledger.SetSetting(settingKey, v); err != nil {
		slog.Error("Failed to persist jackpot round",
			slog.String("type", "eco"),
			slog.Any("error", err))
	}
}
