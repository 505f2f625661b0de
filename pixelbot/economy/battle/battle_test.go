package battle

import (
	"math/rand"
	"testing"

	"github.com/disgoorg/snowflake/v2"

	"github.com/pixelparty/pixelbot/pixelbot/config"
	"github.com/pixelparty/pixelbot/pixelbot/economy/history"
	"github.com/pixelparty/pixelbot/pixelbot/ledger"
)

var (
	creator  = snowflake.ID(1)
	acceptor = snowflake.ID(2)
)

type fixture struct {
	store   *ledger.Store
	match   *Matchmaker
	history *history.Recorder
	reports map[snowflake.ID]int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	recorder, err := history.NewRecorder(config.HistoryCacheSize)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	f := &fixture{
		store:   ledger.NewStore(),
		history: recorder,
		reports: make(map[snowflake.ID]int64),
	}
	f.match = NewMatchmaker(f.store, func(id snowflake.ID, delta int64) {
		f.reports[id] += delta
	}, recorder)
	f.match.SetRand(rand.New(rand.NewSource(1)))
	return f
}

func (f *fixture) fund(t *testing.T, id snowflake.ID, name string, balance int64) {
	t.Helper()
	f.store.EnsureUser(id, name)
	if _, err := f.store.AdjustBalance(id, balance-f.store.User(id).Balance); err != nil {
		t.Fatalf("fund(%d) error = %v", id, err)
	}
}

func (f *fixture) balance(id snowflake.ID) int64 {
	return f.store.User(id).Balance
}

func TestCreate_EscrowsStake(t *testing.T) {
	f := newFixture(t)
	f.fund(t, creator, "alice", 500)

	b, err := f.match.Create(creator, "alice", 200)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := f.balance(creator); got != 300 {
		t.Errorf("creator balance = %d, want 300 after escrow", got)
	}
	if b.Status != StatusWaiting {
		t.Errorf("status = %q, want waiting", b.Status)
	}
	if got := len(f.match.Open()); got != 1 {
		t.Errorf("open battles = %d, want 1", got)
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name    string
		stake   int64
		balance int64
	}{
		{name: "stake below minimum", stake: config.MinBattleStake - 1, balance: 500},
		{name: "stake above maximum", stake: config.MaxBattleStake + 1, balance: 500},
		{name: "cannot afford stake", stake: 200, balance: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.fund(t, creator, "alice", tt.balance)

			if _, err := f.match.Create(creator, "alice", tt.stake); err == nil {
				t.Error("Create() error = nil, want rejection")
			}
			if got := f.balance(creator); got != tt.balance {
				t.Errorf("creator balance = %d, want untouched %d", got, tt.balance)
			}
			if got := len(f.match.Open()); got != 0 {
				t.Errorf("open battles = %d, want 0", got)
			}
		})
	}
}

func TestAccept_SettlementInvariants(t *testing.T) {
	// Accept over many seeded matchups; every branch must conserve the
	// escrowed stakes and add exactly the two case outcomes.
	const stake = int64(100)
	var sawWin, sawPush bool

	for seed := int64(0); seed < 50; seed++ {
		f := newFixture(t)
		f.match.SetRand(rand.New(rand.NewSource(seed)))
		f.fund(t, creator, "alice", 1000)
		f.fund(t, acceptor, "bob", 1000)

		b, err := f.match.Create(creator, "alice", stake)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		res, err := f.match.Accept(acceptor, "bob", b.ID)
		if err != nil {
			t.Fatalf("Accept() error = %v", err)
		}

		creatorBal, acceptorBal := f.balance(creator), f.balance(acceptor)
		if total := creatorBal + acceptorBal; total != 2000+res.CreatorOutcome+res.AcceptorOutcome {
			t.Fatalf("seed %d: total balance = %d, want stakes conserved plus outcomes %d+%d",
				seed, total, res.CreatorOutcome, res.AcceptorOutcome)
		}

		switch {
		case res.CreatorOutcome > res.AcceptorOutcome:
			sawWin = true
			if res.WinnerID != creator {
				t.Errorf("seed %d: winner = %d, want creator", seed, res.WinnerID)
			}
			if want := 1000 - stake + res.Pot + res.CreatorOutcome + res.AcceptorOutcome; creatorBal != want {
				t.Errorf("seed %d: creator balance = %d, want %d", seed, creatorBal, want)
			}
			if acceptorBal != 1000-stake {
				t.Errorf("seed %d: loser balance = %d, want stake gone", seed, acceptorBal)
			}
		case res.AcceptorOutcome > res.CreatorOutcome:
			sawWin = true
			if res.WinnerID != acceptor {
				t.Errorf("seed %d: winner = %d, want acceptor", seed, res.WinnerID)
			}
			if creatorBal != 1000-stake {
				t.Errorf("seed %d: loser balance = %d, want stake gone", seed, creatorBal)
			}
		default:
			sawPush = true
			if res.WinnerID != 0 {
				t.Errorf("seed %d: winner = %d on a push, want zero", seed, res.WinnerID)
			}
			if want := 1000 + res.CreatorOutcome; creatorBal != want {
				t.Errorf("seed %d: push creator balance = %d, want %d", seed, creatorBal, want)
			}
			if want := 1000 + res.AcceptorOutcome; acceptorBal != want {
				t.Errorf("seed %d: push acceptor balance = %d, want %d", seed, acceptorBal, want)
			}
		}

		// The reporter always sees net deltas for both parties.
		if f.reports[creator] != creatorBal-1000 || f.reports[acceptor] != acceptorBal-1000 {
			t.Errorf("seed %d: experience reports = %+v, want net deltas %d/%d",
				seed, f.reports, creatorBal-1000, acceptorBal-1000)
		}

		if got := len(f.match.Open()); got != 0 {
			t.Errorf("seed %d: open battles after settlement = %d, want 0", seed, got)
		}
	}

	if !sawWin || !sawPush {
		t.Errorf("settlement matrix incomplete: win=%v push=%v over 50 seeds", sawWin, sawPush)
	}
}

func TestAccept_Validation(t *testing.T) {
	f := newFixture(t)
	f.fund(t, creator, "alice", 500)
	f.fund(t, acceptor, "bob", 50)

	b, err := f.match.Create(creator, "alice", 100)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := f.match.Accept(creator, "alice", b.ID); err == nil {
		t.Error("Accept() own battle error = nil, want rejection")
	}
	if _, err := f.match.Accept(acceptor, "bob", b.ID); err == nil {
		t.Error("Accept() beyond balance error = nil, want rejection")
	}
	if _, err := f.match.Accept(acceptor, "bob", 999); err == nil {
		t.Error("Accept() unknown battle error = nil, want rejection")
	}

	if got := f.balance(acceptor); got != 50 {
		t.Errorf("acceptor balance after rejections = %d, want untouched 50", got)
	}
	if got := len(f.match.Open()); got != 1 {
		t.Errorf("open battles = %d, want the waiting battle intact", got)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	f.fund(t, creator, "alice", 500)

	b, err := f.match.Create(creator, "alice", 200)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := f.match.Cancel(acceptor, b.ID); err == nil {
		t.Error("Cancel() by non-creator error = nil, want rejection")
	}
	if err := f.match.Cancel(creator, b.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if got := f.balance(creator); got != 500 {
		t.Errorf("creator balance = %d, want stake refunded to 500", got)
	}
	if err := f.match.Cancel(creator, b.ID); err == nil {
		t.Error("Cancel() twice error = nil, want rejection")
	}
}

func TestDrawOutcome_CoversPayTable(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	want := make(map[int64]bool, len(payTable))
	for _, p := range payTable {
		want[p.Value] = true
	}

	seen := make(map[int64]int)
	for i := 0; i < 10000; i++ {
		v := drawOutcome(rng)
		if !want[v] {
			t.Fatalf("drawOutcome() = %d, not in the pay table", v)
		}
		seen[v]++
	}

	for v := range want {
		if seen[v] == 0 {
			t.Errorf("outcome %d never drawn in 10000 tries", v)
		}
	}
	// The common case must dominate the rare one.
	if seen[0] <= seen[250] {
		t.Errorf("outcome weights ignored: 0 drawn %d times, 250 drawn %d", seen[0], seen[250])
	}
}

func TestRecover(t *testing.T) {
	f := newFixture(t)
	f.fund(t, creator, "alice", 500)

	if _, err := f.match.Create(creator, "alice", 100); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := f.match.Create(creator, "alice", 150); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	fresh := NewMatchmaker(f.store, nil, nil)
	if err := fresh.Recover(); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}

	open := fresh.Open()
	if len(open) != 2 {
		t.Fatalf("open battles after recovery = %d, want 2", len(open))
	}

	// New ids must not collide with recovered ones.
	f.fund(t, acceptor, "bob", 500)
	b, err := fresh.Create(acceptor, "bob", 100)
	if err != nil {
		t.Fatalf("Create() after recovery error = %v", err)
	}
	for _, existing := range open {
		if b.ID == existing.ID {
			t.Errorf("new battle reused recovered id %d", b.ID)
		}
	}
}
