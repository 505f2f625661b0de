package config

import "time"

// Application-wide constants organized by domain

// Economy Constants
const (
	StartingBalance int64 = 100

	// Price bounds shared by listings and auctions
	MinPrice int64 = 1
	MaxPrice int64 = 1000000

	// Default cosmetics every new user owns
	DefaultAvatar     = "ava_default.png"
	DefaultBackground = "bg_default.png"
)

// Marketplace Constants
const (
	// Unsold listings are returned to the seller after this long
	MarketListingTTL = 72 * time.Hour

	MaxSearchResults = 10
)

// Auction Constants
const (
	AuctionListingFee int64 = 50

	MinAuctionDuration = 1 * time.Hour
	MaxAuctionDuration = 48 * time.Hour

	MinBidIncrement int64 = 1
	MaxBidIncrement int64 = 10000

	// A winning bid this close to the deadline pushes the deadline out
	// so at least this much time remains.
	AuctionSnipeWindow = 60 * time.Second
)

// Jackpot Constants
const (
	// Countdown started once a second distinct player joins
	JackpotCountdown = 90 * time.Second

	// Joins with less than JackpotSnipeWindow remaining extend the draw
	// by JackpotExtension. Deliberately independent from the auction
	// engine's window: unifying them would change game economics.
	JackpotSnipeWindow = 15 * time.Second
	JackpotExtension   = 15 * time.Second
)

// Case Battle Constants
const (
	MinBattleStake int64 = 10
	MaxBattleStake int64 = 100000
)

// Persistence Constants
const (
	AutosaveInterval = 5 * time.Minute
	BackupRetention  = 14 * 24 * time.Hour

	// Opportunistic market/auction sweep from the maintenance job
	SweepInterval = 1 * time.Minute

	SnapshotFile   = "ledger.json.zst"
	BackupDateSpec = "2006-01-02"
)

// History Constants
const (
	// Recently settled auctions/rounds/battles kept for command replies
	HistoryCacheSize = 256
)
