// Package battle implements the head-to-head case battle: two players stake
// the same amount, each opens an independent case, and the higher outcome
// takes everything.
package battle

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
)

const (
	settingKey        = "case_battles"
	settlementRetries = 3
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

type Battle struct {
	ID          int64        `json:"id"`
	CreatorID   snowflake.ID `json:"creator_id"`
	CreatorName string       `json:"creator_name"`
	Stake       int64        `json:"stake"`
	Status      Status       `json:"status"`

	AcceptorID   snowflake.ID `json:"acceptor_id"`
	AcceptorName string       `json:"acceptor_name"`
	Outcome      string       `json:"outcome"`

	CreatedAt time.Time `json:"created_at"`
}

func (b *Battle) clone() *Battle {
	c := *b
	return &c
}

// payTable is the fixed distribution both parties draw from. Weights are
// relative; values are the currency inside the opened case.
var payTable = []struct {
	Value  int64
	Weight int
}{
	{0, 30},
	{5, 25},
	{10, 20},
	{25, 12},
	{50, 8},
	{100, 4},
	{250, 1},
}

var payTableTotalWeight = func() int {
	total := 0
	for _, p := range payTable {
		total += p.Weight
	}
	return total
}()

func drawOutcome(rng *rand.Rand) int64 {
	roll := rng.Intn(payTableTotalWeight)
	for _, p := range payTable {
		roll -= p.Weight
		if roll < 0 {
			return p.Value
		}
	}
	return payTable[len(payTable)-1].Value
}

// Matchmaker owns all open battles under its own lock. Stakes are escrowed
// through the ledger the moment a party commits.
type Matchmaker struct {
	mu sync.Mutex

	ledger  *ledger.Store
	report  economy.ExperienceReporter
	history *history.Recorder

	rng *rand.Rand
	now func() time.Time

	battles map[int64]*Battle
	nextID  int64
}

func NewMatchmaker(store *ledger.Store, report economy.ExperienceReporter, recorder *history.Recorder) *Matchmaker {
	if store == nil {
		panic("ledger store cannot be nil")
	}
	return &Matchmaker{
		ledger:  store,
		report:  report,
		history: recorder,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
		battles: make(map[int64]*Battle),
		nextID:  1,
	}
}

// SetRand injects a deterministic rand source for tests.
func (m *Matchmaker) SetRand(rng *rand.Rand) { m.rng = rng }

// Create escrows the creator's stake and opens a battle waiting for an
// opponent.
func (m *Matchmaker) Create(creatorID snowflake.ID, creatorName string, stake int64) (*Battle, error) {
	if stake < config.MinBattleStake || stake > config.MaxBattleStake {
		return nil, fmt.Errorf("stake must be between %d and %d", config.MinBattleStake, config.MaxBattleStake)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.ledger.AdjustBalance(creatorID, -stake); err != nil {
		return nil, err
	}

	b := &Battle{
		ID:          m.nextID,
		CreatorID:   creatorID,
		CreatorName: creatorName,
		Stake:       stake,
		Status:      StatusWaiting,
		CreatedAt:   m.now(),
	}
	m.nextID++
	m.battles[b.ID] = b
	m.persistLocked()

	slog.Info("Case battle created",
		slog.String("type", "eco"),
		slog.Int64("battle_id", b.ID),
		slog.String("user_name", creatorName),
		slog.Int64("stake", stake))
	return b.clone(), nil
}

// Result describes a settled battle for the rendering layer.
type Result struct {
	Battle          *Battle
	CreatorOutcome  int64
	AcceptorOutcome int64
	WinnerID        snowflake.ID // zero on a push
	Pot             int64
}

// Accept escrows the acceptor's stake and resolves the battle: one outcome
// per party from the pay table, strictly higher outcome takes both stakes
// plus both outcomes, equal outcomes push. Both final credits are computed
// before either is applied, so a partial payout is never visible.
func (m *Matchmaker) Accept(acceptorID snowflake.ID, acceptorName string, battleID int64) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.battles[battleID]
	if !ok {
		return nil, fmt.Errorf("battle #%d no longer available", battleID)
	}
	if b.Status != StatusWaiting {
		return nil, fmt.Errorf("battle #%d no longer available", battleID)
	}
	if b.CreatorID == acceptorID {
		return nil, fmt.Errorf("you cannot accept your own battle")
	}

	if _, err := m.ledger.AdjustBalance(acceptorID, -b.Stake); err != nil {
		return nil, err
	}

	b.Status = StatusActive
	b.AcceptorID = acceptorID
	b.AcceptorName = acceptorName

	creatorOutcome := drawOutcome(m.rng)
	acceptorOutcome := drawOutcome(m.rng)
	pot := 2 * b.Stake

	// One settlement pass: every credit is decided before any is applied.
	credits := make(map[snowflake.ID]int64, 2)
	var winnerID snowflake.ID
	switch {
	case creatorOutcome > acceptorOutcome:
		winnerID = b.CreatorID
		credits[b.CreatorID] = pot + creatorOutcome + acceptorOutcome
		b.Outcome = "creator"
	case acceptorOutcome > creatorOutcome:
		winnerID = b.AcceptorID
		credits[b.AcceptorID] = pot + creatorOutcome + acceptorOutcome
		b.Outcome = "acceptor"
	default:
		credits[b.CreatorID] = b.Stake + creatorOutcome
		credits[b.AcceptorID] = b.Stake + acceptorOutcome
		b.Outcome = "push"
	}

	m.applyCredits(b.ID, credits)
	b.Status = StatusCompleted

	m.report.Report(b.CreatorID, credits[b.CreatorID]-b.Stake)
	m.report.Report(acceptorID, credits[acceptorID]-b.Stake)

	delete(m.battles, battleID)
	m.persistLocked()

	m.history.Record(history.Entry{
		Kind:     history.KindBattle,
		ID:       strconv.FormatInt(battleID, 10),
		Outcome:  b.Outcome,
		WinnerID: winnerID,
		Amount:   pot + creatorOutcome + acceptorOutcome,
		At:       m.now(),
	})
	slog.Info("Case battle settled",
		slog.String("type", "eco"),
		slog.Int64("battle_id", battleID),
		slog.String("outcome", b.Outcome),
		slog.Int64("creator_outcome", creatorOutcome),
		slog.Int64("acceptor_outcome", acceptorOutcome))

	return &Result{
		Battle:          b.clone(),
		CreatorOutcome:  creatorOutcome,
		AcceptorOutcome: acceptorOutcome,
		WinnerID:        winnerID,
		Pot:             pot,
	}, nil
}

// applyCredits applies the precomputed settlement map. A failed credit is
// retried from the same map; there is no partial, order-dependent rollback.
func (m *Matchmaker) applyCredits(battleID int64, credits map[snowflake.ID]int64) {
	remaining := make(map[snowflake.ID]int64, len(credits))
	for id, amount := range credits {
		if amount > 0 {
			remaining[id] = amount
		}
	}

	for attempt := 0; attempt < settlementRetries && len(remaining) > 0; attempt++ {
		for id, amount := range remaining {
			if _, err := m.ledger.AdjustBalance(id, amount); err != nil {
				slog.Error("Failed to apply battle credit, will retry",
					slog.String("type", "eco"),
					slog.Int64("battle_id", battleID),
					slog.String("user_id", id.String()),
					slog.Int64("amount", amount),
					slog.Any("error", err))
				continue
			}
			delete(remaining, id)
		}
	}
	if len(remaining) > 0 {
		slog.Error("Battle settlement left unapplied credits",
			slog.String("type", "eco"),
			slog.Int64("battle_id", battleID),
			slog.Int("unapplied", len(remaining)))
	}
}

// Cancel refunds a waiting battle. Only the creator may cancel, and only
// before anyone accepts.
func (m *Matchmaker) Cancel(creatorID snowflake.ID, battleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.battles[battleID]
	if !ok {
		return fmt.Errorf("battle #%d no longer available", battleID)
	}
	if b.Status != StatusWaiting {
		return fmt.Errorf("battle #%d can no longer be cancelled", battleID)
	}
	if b.CreatorID != creatorID {
		return fmt.Errorf("only the creator can cancel this battle")
	}

	if _, err := m.ledger.AdjustBalance(creatorID, b.Stake); err != nil {
		return fmt.Errorf("failed to refund stake: %w", err)
	}
	delete(m.battles, battleID)
	m.persistLocked()

	slog.Info("Case battle cancelled",
		slog.String("type", "eco"),
		slog.Int64("battle_id", battleID))
	return nil
}

// Open returns copies of all battles still waiting for an opponent.
func (m *Matchmaker) Open() []*Battle {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Battle, 0, len(m.battles))
	for _, b := range m.battles {
		out = append(out, b.clone())
	}
	return out
}

// Recover restores waiting battles persisted through the ledger settings.
func (m *Matchmaker) Recover() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stored []*Battle
	ok, err := m.ledger.Setting(settingKey, &stored)
	if err != nil {
		return fmt.Errorf("failed to restore battles: %w", err)
	}
	if !ok {
		return nil
	}

	for _, b := range stored {
		if b.Status != StatusWaiting {
			continue
		}
		m.battles[b.ID] = b
		if b.ID >= m.nextID {
			m.nextID = b.ID + 1
		}
	}
	slog.Info("Restored open case battles",
		slog.String("type", "eco"),
		slog.Int("count", len(m.battles)))
	return nil
}

func (m *Matchmaker) persistLocked() {
	battles := make([]*Battle, 0, len(m.battles))
	for _, b := range m.battles {
		battles = append(battles, b)
	}
	if err := m.ledger.SetSetting(settingKey, battles); err != nil {
		slog.Error("Failed to persist battles",
			slog.String("type", "eco"),
			slog.Any("error", err))
	}
}
