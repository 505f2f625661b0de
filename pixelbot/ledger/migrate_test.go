package ledger

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/pixelparty/pixelbot/pixelbot/config"
)

const legacySnapshot = `{
	"users": {
		"100": {"id":"100","username":"alice","money":250,"exp":30,"pics":["ava_red.png"],"bgs":[]},
		"200": {"id":"200","username":"bob","money":0}
	},
	"market_items": [
		{"id":"AB12","file":"ava_red.png","price":50,"seller_id":"100","time":"2024-03-01T10:00:00Z"}
	],
	"auctions": [
		{"id":"CD34","file":"bg_space.png","kind":"background","start_price":20,"price":35,"end":"2024-03-02T10:00:00Z","seller_id":"200"}
	],
	"settings": {"jackpot_round": {"id":"x"}}
}`

func TestMigrateDocument_LegacyRenames(t *testing.T) {
	doc, err := MigrateDocument([]byte(legacySnapshot))
	if err != nil {
		t.Fatalf("MigrateDocument() error = %v", err)
	}

	alice, ok := doc.Users["100"]
	if !ok {
		t.Fatal("user 100 missing after migration")
	}
	if alice.Balance != 250 {
		t.Errorf("money -> balance = %d, want 250", alice.Balance)
	}
	if alice.LevelProgress != 30 {
		t.Errorf("exp -> level_progress = %d, want 30", alice.LevelProgress)
	}
	if !reflect.DeepEqual(alice.Avatars, []string{"ava_red.png"}) {
		t.Errorf("pics -> avatars = %v, want [ava_red.png]", alice.Avatars)
	}
	if !reflect.DeepEqual(alice.Backgrounds, []string{config.DefaultBackground}) {
		t.Errorf("empty bgs not defaulted: %v", alice.Backgrounds)
	}
	if alice.Level != 1 {
		t.Errorf("missing level not defaulted: %d", alice.Level)
	}

	if len(doc.MarketItems) != 1 {
		t.Fatalf("market items = %d, want 1", len(doc.MarketItems))
	}
	m := doc.MarketItems[0]
	if m.ListedAt.IsZero() {
		t.Error("time -> listed_at was not migrated")
	}
	if m.Status != MarketStatusForSale {
		t.Errorf("missing status = %q, want for_sale", m.Status)
	}
	if m.Kind != ItemAvatar {
		t.Errorf("missing kind = %q, want avatar", m.Kind)
	}

	if len(doc.Auctions) != 1 {
		t.Fatalf("auctions = %d, want 1", len(doc.Auctions))
	}
	a := doc.Auctions[0]
	if a.CurrentPrice != 35 {
		t.Errorf("price -> current_price = %d, want 35", a.CurrentPrice)
	}
	if a.EndsAt.IsZero() {
		t.Error("end -> ends_at was not migrated")
	}
	if a.MinIncrement != config.MinBidIncrement {
		t.Errorf("missing min increment = %d, want %d", a.MinIncrement, config.MinBidIncrement)
	}

	if doc.Version != SnapshotVersion {
		t.Errorf("version = %d, want %d", doc.Version, SnapshotVersion)
	}
}

func TestMigrateDocument_Idempotent(t *testing.T) {
	once, err := MigrateDocument([]byte(legacySnapshot))
	if err != nil {
		t.Fatalf("MigrateDocument() error = %v", err)
	}

	encoded, err := json.Marshal(once)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	twice, err := MigrateDocument(encoded)
	if err != nil {
		t.Fatalf("MigrateDocument() second pass error = %v", err)
	}

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("migration is not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestMigrateDocument_DropsMalformedEntries(t *testing.T) {
	tests := []struct {
		name      string
		snapshot  string
		users     int
		market    int
		auctions  int
	}{
		{
			name:     "negative balance user dropped",
			snapshot: `{"users":{"1":{"id":"1","balance":-5},"2":{"id":"2","balance":10}}}`,
			users:    1,
		},
		{
			name:     "non-object user dropped",
			snapshot: `{"users":{"1":"garbage","2":{"id":"2"}}}`,
			users:    1,
		},
		{
			name:     "null user dropped",
			snapshot: `{"users":{"1":null,"2":{"id":"2"}}}`,
			users:    1,
		},
		{
			name:     "empty user object dropped",
			snapshot: `{"users":{"1":{}}}`,
		},
		{
			name:     "null market item and auction dropped",
			snapshot: `{"market_items":[null],"auctions":[null]}`,
		},
		{
			name:     "market item without id dropped",
			snapshot: `{"market_items":[{"file":"a.png","price":10},{"id":"AB12","file":"b.png","price":10}]}`,
			market:   1,
		},
		{
			name:     "market item with non-positive price dropped",
			snapshot: `{"market_items":[{"id":"AB12","file":"a.png","price":0}]}`,
		},
		{
			name:     "auction without file dropped",
			snapshot: `{"auctions":[{"id":"CD34","start_price":5}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := MigrateDocument([]byte(tt.snapshot))
			if err != nil {
				t.Fatalf("MigrateDocument() error = %v", err)
			}
			if len(doc.Users) != tt.users {
				t.Errorf("users = %d, want %d", len(doc.Users), tt.users)
			}
			if len(doc.MarketItems) != tt.market {
				t.Errorf("market items = %d, want %d", len(doc.MarketItems), tt.market)
			}
			if len(doc.Auctions) != tt.auctions {
				t.Errorf("auctions = %d, want %d", len(doc.Auctions), tt.auctions)
			}
		})
	}
}

func TestMigrateDocument_RejectsUnparseableSnapshot(t *testing.T) {
	if _, err := MigrateDocument([]byte("not json at all")); err == nil {
		t.Error("MigrateDocument() error = nil for unparseable input")
	}
}
