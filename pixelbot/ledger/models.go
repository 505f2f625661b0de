package ledger

import (
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/pixelparty/pixelbot/pixelbot/config"
)

// ItemKind distinguishes the two cosmetic inventories.
type ItemKind string

const (
	ItemAvatar     ItemKind = "avatar"
	ItemBackground ItemKind = "background"
)

type User struct {
	ID            snowflake.ID `json:"id"`
	Username      string       `json:"username"`
	Balance       int64        `json:"balance"`
	Level         int          `json:"level"`
	LevelProgress int64        `json:"level_progress"`

	Avatars     []string `json:"avatars"`
	Backgrounds []string `json:"backgrounds"`

	ActiveAvatar     string `json:"active_avatar"`
	ActiveBackground string `json:"active_background"`

	Admin    bool      `json:"admin"`
	LastSeen time.Time `json:"last_seen"`
}

// NewUser builds a user record with the standard starting loadout.
func NewUser(id snowflake.ID, username string) *User {
	return &User{
		ID:               id,
		Username:         username,
		Balance:          config.StartingBalance,
		Level:            1,
		Avatars:          []string{config.DefaultAvatar},
		Backgrounds:      []string{config.DefaultBackground},
		ActiveAvatar:     config.DefaultAvatar,
		ActiveBackground: config.DefaultBackground,
		LastSeen:         time.Now(),
	}
}

// Inventory returns the owned files for one item kind.
func (u *User) Inventory(kind ItemKind) []string {
	if kind == ItemAvatar {
		return u.Avatars
	}
	return u.Backgrounds
}

// Owns reports whether the user holds the given file in the kind's inventory.
func (u *User) Owns(kind ItemKind, file string) bool {
	for _, f := range u.Inventory(kind) {
		if f == file {
			return true
		}
	}
	return false
}

// Equipped reports whether the file is currently active for its kind.
func (u *User) Equipped(kind ItemKind, file string) bool {
	if kind == ItemAvatar {
		return u.ActiveAvatar == file
	}
	return u.ActiveBackground == file
}

func (u *User) clone() *User {
	c := *u
	c.Avatars = append([]string(nil), u.Avatars...)
	c.Backgrounds = append([]string(nil), u.Backgrounds...)
	return &c
}

type MarketStatus string

const (
	MarketStatusForSale MarketStatus = "for_sale"
	MarketStatusSold    MarketStatus = "sold"
	MarketStatusExpired MarketStatus = "expired"
)

type MarketItem struct {
	ID         string       `json:"id"`
	Kind       ItemKind     `json:"kind"`
	File       string       `json:"file"`
	Price      int64        `json:"price"`
	SellerID   snowflake.ID `json:"seller_id"`
	SellerName string       `json:"seller_name"`
	ListedAt   time.Time    `json:"listed_at"`
	Status     MarketStatus `json:"status"`
}

func (m *MarketItem) clone() *MarketItem {
	c := *m
	return &c
}

type AuctionStatus string

const (
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusCompleted AuctionStatus = "completed"
	AuctionStatusExpired   AuctionStatus = "expired"
)

type Bid struct {
	BidderID   snowflake.ID `json:"bidder_id"`
	BidderName string       `json:"bidder_name"`
	Amount     int64        `json:"amount"`
	At         time.Time    `json:"at"`
}

type Auction struct {
	ID           string        `json:"id"`
	Kind         ItemKind      `json:"kind"`
	File         string        `json:"file"`
	StartPrice   int64         `json:"start_price"`
	CurrentPrice int64         `json:"current_price"`
	MinIncrement int64         `json:"min_bid_increment"`
	SellerID     snowflake.ID  `json:"seller_id"`
	SellerName   string        `json:"seller_name"`
	CreatedAt    time.Time     `json:"created_at"`
	EndsAt       time.Time     `json:"ends_at"`
	Status       AuctionStatus `json:"status"`

	Bids          []Bid        `json:"bids"`
	CurrentBidder snowflake.ID `json:"current_bidder"`
}

// HasBids reports whether anyone holds the current price in escrow.
func (a *Auction) HasBids() bool {
	return len(a.Bids) > 0
}

func (a *Auction) clone() *Auction {
	c := *a
	c.Bids = append([]Bid(nil), a.Bids...)
	return &c
}
