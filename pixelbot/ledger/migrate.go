package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pixelparty/pixelbot/pixelbot/config"
)

// SnapshotVersion is written into every saved document. Version 1 documents
// (and completely unversioned ones) go through the legacy field renames
// below.
const SnapshotVersion = 2

// Document is the on-disk snapshot shape: one JSON object holding the whole
// ledger. The loader tolerates missing keys, they default to empty.
type Document struct {
	Version         int                        `json:"version"`
	Users           map[string]*User           `json:"users"`
	Games           map[string]json.RawMessage `json:"games"`
	Settings        map[string]json.RawMessage `json:"settings"`
	MarketItems     []*MarketItem              `json:"market_items"`
	Auctions        []*Auction                 `json:"auctions"`
	ActiveChallenge json.RawMessage            `json:"active_challenge"`
}

// rawDocument defers per-record decoding so one malformed entry can be
// dropped instead of aborting the whole load.
type rawDocument struct {
	Version         int                        `json:"version"`
	Users           map[string]json.RawMessage `json:"users"`
	Games           map[string]json.RawMessage `json:"games"`
	Settings        map[string]json.RawMessage `json:"settings"`
	MarketItems     []json.RawMessage          `json:"market_items"`
	Auctions        []json.RawMessage          `json:"auctions"`
	ActiveChallenge json.RawMessage            `json:"active_challenge"`
}

var (
	userRenames = map[string]string{
		"money": "balance",
		"exp":   "level_progress",
		"pics":  "avatars",
		"bgs":   "backgrounds",
	}
	marketRenames = map[string]string{
		"time": "listed_at",
	}
	auctionRenames = map[string]string{
		"price": "current_price",
		"end":   "ends_at",
	}
)

// MigrateDocument decodes a snapshot of any supported version into the
// current Document shape. The pass is idempotent: renames only fire when the
// current field name is absent and defaults only fill missing values, so
// migrating an already-current document changes nothing.
func MigrateDocument(data []byte) (*Document, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}

	doc := &Document{
		Version:         SnapshotVersion,
		Users:           make(map[string]*User, len(raw.Users)),
		Games:           raw.Games,
		Settings:        raw.Settings,
		ActiveChallenge: raw.ActiveChallenge,
	}
	if doc.Games == nil {
		doc.Games = map[string]json.RawMessage{}
	}
	if doc.Settings == nil {
		doc.Settings = map[string]json.RawMessage{}
	}

	for id, entry := range raw.Users {
		u, err := migrateUser(entry)
		if err != nil {
			slog.Warn("Dropping malformed user entry",
				slog.String("type", "save"),
				slog.String("user_id", id),
				slog.Any("error", err))
			continue
		}
		doc.Users[id] = u
	}

	for i, entry := range raw.MarketItems {
		m, err := migrateMarketItem(entry)
		if err != nil {
			slog.Warn("Dropping malformed market item",
				slog.String("type", "save"),
				slog.Int("index", i),
				slog.Any("error", err))
			continue
		}
		doc.MarketItems = append(doc.MarketItems, m)
	}

	for i, entry := range raw.Auctions {
		a, err := migrateAuction(entry)
		if err != nil {
			slog.Warn("Dropping malformed auction",
				slog.String("type", "save"),
				slog.Int("index", i),
				slog.Any("error", err))
			continue
		}
		doc.Auctions = append(doc.Auctions, a)
	}

	return doc, nil
}

// rename moves legacy keys to their current names when the current name is
// not already present.
func rename(fields map[string]json.RawMessage, renames map[string]string) {
	for old, current := range renames {
		v, ok := fields[old]
		if !ok {
			continue
		}
		if _, exists := fields[current]; !exists {
			fields[current] = v
		}
		delete(fields, old)
	}
}

func decodeFields(entry json.RawMessage) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil {
		return nil, fmt.Errorf("not an object: %w", err)
	}
	// A null entry decodes to a nil map; it must not come back to life
	// as a default-valued record.
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty entry")
	}
	return fields, nil
}

func migrateUser(entry json.RawMessage) (*User, error) {
	fields, err := decodeFields(entry)
	if err != nil {
		return nil, err
	}
	rename(fields, userRenames)

	normalized, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal(normalized, &u); err != nil {
		return nil, err
	}

	if u.Balance < 0 {
		return nil, fmt.Errorf("negative balance %d", u.Balance)
	}
	if u.Level < 1 {
		u.Level = 1
	}
	if len(u.Avatars) == 0 {
		u.Avatars = []string{config.DefaultAvatar}
	}
	if len(u.Backgrounds) == 0 {
		u.Backgrounds = []string{config.DefaultBackground}
	}
	if u.ActiveAvatar == "" {
		u.ActiveAvatar = u.Avatars[0]
	}
	if u.ActiveBackground == "" {
		u.ActiveBackground = u.Backgrounds[0]
	}
	u.Avatars = dedupe(u.Avatars)
	u.Backgrounds = dedupe(u.Backgrounds)
	return &u, nil
}

func migrateMarketItem(entry json.RawMessage) (*MarketItem, error) {
	fields, err := decodeFields(entry)
	if err != nil {
		return nil, err
	}
	rename(fields, marketRenames)

	normalized, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var m MarketItem
	if err := json.Unmarshal(normalized, &m); err != nil {
		return nil, err
	}

	if m.ID == "" || m.File == "" {
		return nil, fmt.Errorf("missing id or file")
	}
	if m.Price <= 0 {
		return nil, fmt.Errorf("non-positive price %d", m.Price)
	}
	if m.Kind == "" {
		m.Kind = ItemAvatar
	}
	if m.Status == "" {
		m.Status = MarketStatusForSale
	}
	return &m, nil
}

func migrateAuction(entry json.RawMessage) (*Auction, error) {
	fields, err := decodeFields(entry)
	if err != nil {
		return nil, err
	}
	rename(fields, auctionRenames)

	normalized, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var a Auction
	if err := json.Unmarshal(normalized, &a); err != nil {
		return nil, err
	}

	if a.ID == "" || a.File == "" {
		return nil, fmt.Errorf("missing id or file")
	}
	if a.Kind == "" {
		a.Kind = ItemAvatar
	}
	if a.Status == "" {
		a.Status = AuctionStatusActive
	}
	if a.CurrentPrice < a.StartPrice {
		a.CurrentPrice = a.StartPrice
	}
	if a.MinIncrement <= 0 {
		a.MinIncrement = config.MinBidIncrement
	}
	return &a, nil
}

func dedupe(files []string) []string {
	seen := make(map[string]struct{}, len(files))
	out := files[:0]
	for _, f := range files {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
