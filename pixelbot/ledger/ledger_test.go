package ledger

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/disgoorg/snowflake/v2"

	"github.com/pixelparty/pixelbot/pixelbot/config"
)

func TestEnsureUser_Defaults(t *testing.T) {
	s := NewStore()
	u := s.EnsureUser(snowflake.ID(1), "alice")

	if u.Balance != config.StartingBalance {
		t.Errorf("EnsureUser() balance = %d, want %d", u.Balance, config.StartingBalance)
	}
	if u.Level != 1 {
		t.Errorf("EnsureUser() level = %d, want 1", u.Level)
	}
	if !reflect.DeepEqual(u.Avatars, []string{config.DefaultAvatar}) {
		t.Errorf("EnsureUser() avatars = %v, want default only", u.Avatars)
	}
	if u.ActiveAvatar != config.DefaultAvatar || u.ActiveBackground != config.DefaultBackground {
		t.Errorf("EnsureUser() active items = %q/%q, want defaults", u.ActiveAvatar, u.ActiveBackground)
	}

	// Idempotent: a second call must not reset anything.
	if _, err := s.AdjustBalance(snowflake.ID(1), 50); err != nil {
		t.Fatalf("AdjustBalance() error = %v", err)
	}
	again := s.EnsureUser(snowflake.ID(1), "alice")
	if again.Balance != config.StartingBalance+50 {
		t.Errorf("EnsureUser() after adjust balance = %d, want %d", again.Balance, config.StartingBalance+50)
	}
}

func TestAdjustBalance(t *testing.T) {
	tests := []struct {
		name    string
		deltas  []int64
		want    int64
		wantErr bool
	}{
		{
			name:   "credit",
			deltas: []int64{400},
			want:   config.StartingBalance + 400,
		},
		{
			name:   "debit within balance",
			deltas: []int64{-100},
			want:   0,
		},
		{
			name:    "overdraft rejected without mutation",
			deltas:  []int64{-config.StartingBalance - 1},
			want:    config.StartingBalance,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			var err error
			for _, d := range tt.deltas {
				_, err = s.AdjustBalance(snowflake.ID(7), d)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("AdjustBalance() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInsufficientBalance) {
				t.Errorf("AdjustBalance() error = %v, want ErrInsufficientBalance", err)
			}
			if got := s.User(snowflake.ID(7)).Balance; got != tt.want {
				t.Errorf("balance = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAdjustBalance_Concurrent(t *testing.T) {
	s := NewStore()
	s.EnsureUser(snowflake.ID(1), "alice")

	const workers = 64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AdjustBalance(snowflake.ID(1), 1); err != nil {
				t.Errorf("AdjustBalance() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := s.User(snowflake.ID(1)).Balance; got != config.StartingBalance+workers {
		t.Errorf("balance = %d, want %d", got, config.StartingBalance+workers)
	}
}

func TestUser_DeepCopy(t *testing.T) {
	s := NewStore()
	s.EnsureUser(snowflake.ID(1), "alice")

	u := s.User(snowflake.ID(1))
	u.Balance = 999999
	u.Avatars[0] = "tampered.png"

	fresh := s.User(snowflake.ID(1))
	if fresh.Balance != config.StartingBalance {
		t.Errorf("mutating a returned copy leaked into the store: balance = %d", fresh.Balance)
	}
	if fresh.Avatars[0] != config.DefaultAvatar {
		t.Errorf("mutating a returned copy leaked into the store: avatars = %v", fresh.Avatars)
	}
}

func TestGrantItem_NoDuplicates(t *testing.T) {
	s := NewStore()
	s.GrantItem(snowflake.ID(1), ItemAvatar, "ava_red.png")
	s.GrantItem(snowflake.ID(1), ItemAvatar, "ava_red.png")

	u := s.User(snowflake.ID(1))
	want := []string{config.DefaultAvatar, "ava_red.png"}
	if !reflect.DeepEqual(u.Avatars, want) {
		t.Errorf("avatars = %v, want %v", u.Avatars, want)
	}
}

func TestRemoveItem(t *testing.T) {
	s := NewStore()
	s.GrantItem(snowflake.ID(1), ItemBackground, "bg_space.png")

	if !s.RemoveItem(snowflake.ID(1), ItemBackground, "bg_space.png") {
		t.Error("RemoveItem() = false, want true for owned item")
	}
	if s.RemoveItem(snowflake.ID(1), ItemBackground, "bg_space.png") {
		t.Error("RemoveItem() = true, want false for already removed item")
	}
	if s.RemoveItem(snowflake.ID(2), ItemBackground, "bg_space.png") {
		t.Error("RemoveItem() = true, want false for unknown user")
	}
}

func TestAtomically_ValidationBeforeMutation(t *testing.T) {
	s := NewStore()
	s.EnsureUser(snowflake.ID(1), "alice")

	err := s.Atomically(func(tx *Tx) error {
		u := tx.User(snowflake.ID(1))
		if u.Balance < 500 {
			return ErrInsufficientBalance
		}
		tx.Credit(snowflake.ID(2), 500)
		return tx.Debit(snowflake.ID(1), 500)
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Atomically() error = %v, want ErrInsufficientBalance", err)
	}
	if u := s.User(snowflake.ID(2)); u != nil {
		t.Errorf("rejected transaction created user 2 with balance %d", u.Balance)
	}
}

func TestSettings_RoundtripAndDelete(t *testing.T) {
	s := NewStore()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if err := s.SetSetting("round", payload{Name: "x", Count: 3}); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}

	var got payload
	ok, err := s.Setting("round", &got)
	if err != nil || !ok {
		t.Fatalf("Setting() = %v, %v, want true, nil", ok, err)
	}
	if got.Name != "x" || got.Count != 3 {
		t.Errorf("Setting() = %+v, want {x 3}", got)
	}

	if err := s.SetSetting("round", nil); err != nil {
		t.Fatalf("SetSetting(nil) error = %v", err)
	}
	if ok, _ := s.Setting("round", &got); ok {
		t.Error("Setting() = true after delete, want false")
	}
}

func TestSnapshotRestore_Roundtrip(t *testing.T) {
	s := NewStore()
	s.EnsureUser(snowflake.ID(1), "alice")
	s.GrantItem(snowflake.ID(1), ItemAvatar, "ava_red.png")
	s.AddMarketItem(&MarketItem{ID: "AB12", Kind: ItemAvatar, File: "ava_blue.png", Price: 10, SellerID: snowflake.ID(1), Status: MarketStatusForSale})
	s.AddAuction(&Auction{ID: "CD34", Kind: ItemBackground, File: "bg_x.png", StartPrice: 5, CurrentPrice: 5, MinIncrement: 1, SellerID: snowflake.ID(1), Status: AuctionStatusActive})
	if err := s.SetSetting("k", map[string]int{"v": 1}); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}

	doc := s.Snapshot()
	if doc.Version != SnapshotVersion {
		t.Errorf("Snapshot() version = %d, want %d", doc.Version, SnapshotVersion)
	}

	restored := NewStore()
	restored.Restore(doc)

	if !reflect.DeepEqual(restored.Snapshot(), doc) {
		t.Error("Restore() followed by Snapshot() does not reproduce the document")
	}
	if u := restored.User(snowflake.ID(1)); u == nil || !u.Owns(ItemAvatar, "ava_red.png") {
		t.Error("restored user is missing granted item")
	}
}

func TestSnapshotIfDirty(t *testing.T) {
	s := NewStore()

	if _, dirty := s.SnapshotIfDirty(); dirty {
		t.Error("SnapshotIfDirty() = dirty on a fresh store")
	}

	s.EnsureUser(snowflake.ID(1), "alice")
	doc, dirty := s.SnapshotIfDirty()
	if !dirty || doc == nil {
		t.Fatal("SnapshotIfDirty() = clean after a mutation")
	}
	if _, dirty := s.SnapshotIfDirty(); dirty {
		t.Error("SnapshotIfDirty() = dirty twice with no mutation in between")
	}
}
