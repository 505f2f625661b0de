package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownListing      = errors.New("listing no longer available")
	ErrUnknownAuction      = errors.New("auction no longer available")
)

// Store is the single source of truth for users, market listings, auctions
// and component settings. One mutex guards every mutation; everything handed
// out is a deep copy, so callers never see shared internal state.
type Store struct {
	mu sync.Mutex

	users       map[snowflake.ID]*User
	marketItems []*MarketItem
	auctions    []*Auction
	settings    map[string]json.RawMessage

	// Legacy snapshot fields carried through load/save untouched so a
	// downgrade never loses them.
	games           map[string]json.RawMessage
	activeChallenge json.RawMessage

	dirty bool
}

func NewStore() *Store {
	return &Store{
		users:    make(map[snowflake.ID]*User),
		settings: make(map[string]json.RawMessage),
		games:    make(map[string]json.RawMessage),
	}
}

// User returns a copy of the user record, or nil if absent.
func (s *Store) User(id snowflake.ID) *User {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil
	}
	return u.clone()
}

// EnsureUser returns a copy of the user record, creating a default record
// first if absent. Idempotent: an existing record only gets its username and
// last-seen refreshed.
func (s *Store) EnsureUser(id snowflake.ID, username string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureUserLocked(id, username).clone()
}

func (s *Store) ensureUserLocked(id snowflake.ID, username string) *User {
	u, ok := s.users[id]
	if !ok {
		u = NewUser(id, username)
		s.users[id] = u
		s.dirty = true
		slog.Info("Created default user record",
			slog.String("type", "eco"),
			slog.String("user_id", id.String()),
			slog.String("user_name", username))
		return u
	}
	if username != "" && u.Username != username {
		u.Username = username
		s.dirty = true
	}
	u.LastSeen = time.Now()
	return u
}

// AdjustBalance applies an atomic read-modify-write to the user's balance,
// creating a default record first if missing. A delta that would drive the
// balance negative is rejected without mutation.
func (s *Store) AdjustBalance(id snowflake.ID, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.ensureUserLocked(id, "")
	next := u.Balance + delta
	if next < 0 {
		return u.Balance, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, u.Balance, -delta)
	}
	u.Balance = next
	s.dirty = true
	return next, nil
}

// GrantItem adds a file to the user's inventory for the given kind. The
// inventory never holds duplicates; granting an owned file is a no-op.
func (s *Store) GrantItem(id snowflake.ID, kind ItemKind, file string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grantItemLocked(s.ensureUserLocked(id, ""), kind, file)
}

func (s *Store) grantItemLocked(u *User, kind ItemKind, file string) {
	if u.Owns(kind, file) {
		return
	}
	if kind == ItemAvatar {
		u.Avatars = append(u.Avatars, file)
	} else {
		u.Backgrounds = append(u.Backgrounds, file)
	}
	s.dirty = true
}

// RemoveItem takes a file out of the user's inventory. Returns false when the
// user does not own it.
func (s *Store) RemoveItem(id snowflake.ID, kind ItemKind, file string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return false
	}
	return s.removeItemLocked(u, kind, file)
}

func (s *Store) removeItemLocked(u *User, kind ItemKind, file string) bool {
	inv := u.Inventory(kind)
	for i, f := range inv {
		if f == file {
			inv = append(inv[:i], inv[i+1:]...)
			if kind == ItemAvatar {
				u.Avatars = inv
			} else {
				u.Backgrounds = inv
			}
			s.dirty = true
			return true
		}
	}
	return false
}

// MarketItems returns an immutable snapshot copy of all listings.
func (s *Store) MarketItems() []*MarketItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]*MarketItem, len(s.marketItems))
	for i, m := range s.marketItems {
		items[i] = m.clone()
	}
	return items
}

func (s *Store) AddMarketItem(item *MarketItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marketItems = append(s.marketItems, item.clone())
	s.dirty = true
}

// Auctions returns an immutable snapshot copy of all auctions.
func (s *Store) Auctions() []*Auction {
	s.mu.Lock()
	defer s.mu.Unlock()

	auctions := make([]*Auction, len(s.auctions))
	for i, a := range s.auctions {
		auctions[i] = a.clone()
	}
	return auctions
}

func (s *Store) AddAuction(a *Auction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auctions = append(s.auctions, a.clone())
	s.dirty = true
}

// Setting decodes the JSON value stored under key into out. Returns false
// when the key is absent.
func (s *Store) Setting(key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.settings[key]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode setting %q: %w", key, err)
	}
	return true, nil
}

// SetSetting stores v as JSON under key. A nil value deletes the key.
func (s *Store) SetSetting(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v == nil {
		delete(s.settings, key)
		s.dirty = true
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode setting %q: %w", key, err)
	}
	s.settings[key] = raw
	s.dirty = true
	return nil
}

// Atomically runs fn while holding the store lock, giving it direct access to
// live records through the Tx view. fn must do all validation before its
// first mutation: there is no rollback, an error return only stops further
// work inside the critical section.
func (s *Store) Atomically(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Tx{s: s})
}

// Tx is a view of the store used inside Atomically. All pointers it hands out
// are live records; they must not be retained past the closure.
type Tx struct {
	s *Store
}

// User returns the live record, or nil when absent.
func (tx *Tx) User(id snowflake.ID) *User {
	return tx.s.users[id]
}

func (tx *Tx) EnsureUser(id snowflake.ID, username string) *User {
	return tx.s.ensureUserLocked(id, username)
}

// Credit adds amount to the user's balance, creating the record if needed.
func (tx *Tx) Credit(id snowflake.ID, amount int64) int64 {
	u := tx.s.ensureUserLocked(id, "")
	u.Balance += amount
	tx.s.dirty = true
	return u.Balance
}

// Debit subtracts amount, rejecting a negative result without mutation.
func (tx *Tx) Debit(id snowflake.ID, amount int64) error {
	u := tx.s.ensureUserLocked(id, "")
	if u.Balance < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, u.Balance, amount)
	}
	u.Balance -= amount
	tx.s.dirty = true
	return nil
}

func (tx *Tx) GrantItem(id snowflake.ID, kind ItemKind, file string) {
	tx.s.grantItemLocked(tx.s.ensureUserLocked(id, ""), kind, file)
}

func (tx *Tx) RemoveItem(id snowflake.ID, kind ItemKind, file string) bool {
	u := tx.s.users[id]
	if u == nil {
		return false
	}
	return tx.s.removeItemLocked(u, kind, file)
}

// MarketItem returns the live listing, or ErrUnknownListing when it vanished
// between the caller's read and this critical section.
func (tx *Tx) MarketItem(id string) (*MarketItem, error) {
	for _, m := range tx.s.marketItems {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, ErrUnknownListing
}

func (tx *Tx) AddMarketItem(item *MarketItem) {
	tx.s.marketItems = append(tx.s.marketItems, item)
	tx.s.dirty = true
}

func (tx *Tx) RemoveMarketItem(id string) {
	for i, m := range tx.s.marketItems {
		if m.ID == id {
			tx.s.marketItems = append(tx.s.marketItems[:i], tx.s.marketItems[i+1:]...)
			tx.s.dirty = true
			return
		}
	}
}

// MarketItems returns the live listing slice for in-lock sweeps.
func (tx *Tx) MarketItems() []*MarketItem {
	return tx.s.marketItems
}

func (tx *Tx) Auction(id string) (*Auction, error) {
	for _, a := range tx.s.auctions {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, ErrUnknownAuction
}

func (tx *Tx) AddAuction(a *Auction) {
	tx.s.auctions = append(tx.s.auctions, a)
	tx.s.dirty = true
}

func (tx *Tx) RemoveAuction(id string) {
	for i, a := range tx.s.auctions {
		if a.ID == id {
			tx.s.auctions = append(tx.s.auctions[:i], tx.s.auctions[i+1:]...)
			tx.s.dirty = true
			return
		}
	}
}

// Auctions returns the live auction slice for in-lock sweeps.
func (tx *Tx) Auctions() []*Auction {
	return tx.s.auctions
}

func (tx *Tx) MarkDirty() {
	tx.s.dirty = true
}

// Dirty reports whether any mutation happened since the last ClearDirty.
// The autosave job skips writes while the ledger is clean.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Store) ClearDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
}

// SnapshotIfDirty exports the state and clears the dirty flag in one
// critical section, so no mutation between the copy and the flag reset can
// be missed by the autosave job. Returns false when nothing changed since
// the last save.
func (s *Store) SnapshotIfDirty() (*Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil, false
	}
	s.dirty = false
	return s.snapshotLocked(), true
}

// Snapshot exports the full state as a deep-copied document.
func (s *Store) Snapshot() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() *Document {
	doc := &Document{
		Version:         SnapshotVersion,
		Users:           make(map[string]*User, len(s.users)),
		Games:           make(map[string]json.RawMessage, len(s.games)),
		Settings:        make(map[string]json.RawMessage, len(s.settings)),
		MarketItems:     make([]*MarketItem, 0, len(s.marketItems)),
		Auctions:        make([]*Auction, 0, len(s.auctions)),
		ActiveChallenge: append(json.RawMessage(nil), s.activeChallenge...),
	}
	for id, u := range s.users {
		doc.Users[id.String()] = u.clone()
	}
	for k, v := range s.games {
		doc.Games[k] = append(json.RawMessage(nil), v...)
	}
	for k, v := range s.settings {
		doc.Settings[k] = append(json.RawMessage(nil), v...)
	}
	for _, m := range s.marketItems {
		doc.MarketItems = append(doc.MarketItems, m.clone())
	}
	for _, a := range s.auctions {
		doc.Auctions = append(doc.Auctions, a.clone())
	}
	return doc
}

// Restore replaces the in-memory state with the document's contents.
func (s *Store) Restore(doc *Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make(map[snowflake.ID]*User, len(doc.Users))
	ids := make([]string, 0, len(doc.Users))
	for id := range doc.Users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, raw := range ids {
		id, err := snowflake.Parse(raw)
		if err != nil {
			slog.Warn("Dropping user with malformed id",
				slog.String("type", "save"),
				slog.String("user_id", raw))
			continue
		}
		s.users[id] = doc.Users[raw].clone()
	}

	s.games = make(map[string]json.RawMessage, len(doc.Games))
	for k, v := range doc.Games {
		s.games[k] = append(json.RawMessage(nil), v...)
	}
	s.settings = make(map[string]json.RawMessage, len(doc.Settings))
	for k, v := range doc.Settings {
		s.settings[k] = append(json.RawMessage(nil), v...)
	}

	s.marketItems = s.marketItems[:0]
	for _, m := range doc.MarketItems {
		s.marketItems = append(s.marketItems, m.clone())
	}
	s.auctions = s.auctions[:0]
	for _, a := range doc.Auctions {
		s.auctions = append(s.auctions, a.clone())
	}
	s.activeChallenge = append(json.RawMessage(nil), doc.ActiveChallenge...)
	s.dirty = false
}
