// Package market implements the player-to-player marketplace: fixed-price
// listings and timed auctions, both built on the ledger store.
package market

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/pixelparty/pixelbot/pixelbot/config"
	"github.com/pixelparty/pixelbot/pixelbot/economy"
	"github.com/pixelparty/pixelbot/pixelbot/economy/history"
	"github.com/pixelparty/pixelbot/pixelbot/ledger"
)

// Engine runs all marketplace and auction operations. Every mutation goes
// through one ledger critical section; validation always precedes the first
// mutation so a rejected operation leaves no state change behind.
type Engine struct {
	ledger  *ledger.Store
	report  economy.ExperienceReporter
	history *history.Recorder
	now     func() time.Time

	ids *idRegistry
}

func NewEngine(store *ledger.Store, report economy.ExperienceReporter, recorder *history.Recorder) *Engine {
	if store == nil {
		panic("ledger store cannot be nil")
	}
	e := &Engine{
		ledger:  store,
		report:  report,
		history: recorder,
		now:     time.Now,
		ids:     newIDRegistry(),
	}
	e.recoverIDs()
	return e
}

// SetNow injects a clock for tests.
func (e *Engine) SetNow(now func() time.Time) { e.now = now }

// recoverIDs re-registers ids already present in a restored ledger so new
// listings cannot collide with them.
func (e *Engine) recoverIDs() {
	for _, m := range e.ledger.MarketItems() {
		e.ids.claim(m.ID)
	}
	for _, a := range e.ledger.Auctions() {
		e.ids.claim(a.ID)
	}
}

// List escrows an owned item out of the seller's inventory and puts it up at
// a fixed price.
func (e *Engine) List(sellerID snowflake.ID, sellerName string, kind ledger.ItemKind, file string, price int64) (*ledger.MarketItem, error) {
	if price < config.MinPrice || price > config.MaxPrice {
		return nil, fmt.Errorf("price must be between %d and %d", config.MinPrice, config.MaxPrice)
	}
	if file == config.DefaultAvatar || file == config.DefaultBackground {
		return nil, fmt.Errorf("default items cannot be sold")
	}

	id, err := e.ids.generate()
	if err != nil {
		return nil, err
	}

	var listed *ledger.MarketItem
	err = e.ledger.Atomically(func(tx *ledger.Tx) error {
		seller := tx.EnsureUser(sellerID, sellerName)
		if !seller.Owns(kind, file) {
			return fmt.Errorf("you do not own this %s", kind)
		}
		if seller.Equipped(kind, file) {
			return fmt.Errorf("unequip the %s before selling it", kind)
		}

		tx.RemoveItem(sellerID, kind, file)
		listed = &ledger.MarketItem{
			ID:         id,
			Kind:       kind,
			File:       file,
			Price:      price,
			SellerID:   sellerID,
			SellerName: sellerName,
			ListedAt:   e.now(),
			Status:     ledger.MarketStatusForSale,
		}
		tx.AddMarketItem(listed)
		return nil
	})
	if err != nil {
		e.ids.release(id)
		return nil, err
	}

	slog.Info("Item listed on market",
		slog.String("type", "eco"),
		slog.String("listing_id", id),
		slog.String("user_name", sellerName),
		slog.Int64("price", price))
	return listed, nil
}

// Receipt describes a completed purchase for the rendering layer.
type Receipt struct {
	Item         *ledger.MarketItem
	BuyerBalance int64
}

// Buy settles a fixed-price purchase: debit buyer, credit seller, transfer
// the item, delete the listing, all inside one critical section. Existence
// and ownership are re-validated under the lock, so a listing bought
// concurrently surfaces as "no longer available".
func (e *Engine) Buy(buyerID snowflake.ID, buyerName, listingID string) (*Receipt, error) {
	// A listing past its TTL must not be purchasable just because no
	// read or maintenance sweep ran since it expired.
	e.SweepExpired(e.now())

	var receipt *Receipt
	err := e.ledger.Atomically(func(tx *ledger.Tx) error {
		item, err := tx.MarketItem(listingID)
		if err != nil {
			return err
		}
		if item.Status != ledger.MarketStatusForSale {
			return ledger.ErrUnknownListing
		}
		if item.SellerID == buyerID {
			return fmt.Errorf("you cannot buy your own listing")
		}

		buyer := tx.EnsureUser(buyerID, buyerName)
		if buyer.Owns(item.Kind, item.File) {
			return fmt.Errorf("you already own this %s", item.Kind)
		}
		if buyer.Balance < item.Price {
			return fmt.Errorf("%w: have %d, need %d", ledger.ErrInsufficientBalance, buyer.Balance, item.Price)
		}

		if err := tx.Debit(buyerID, item.Price); err != nil {
			return err
		}
		tx.Credit(item.SellerID, item.Price)
		tx.GrantItem(buyerID, item.Kind, item.File)
		tx.RemoveMarketItem(listingID)

		sold := *item
		sold.Status = ledger.MarketStatusSold
		receipt = &Receipt{Item: &sold, BuyerBalance: buyer.Balance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.ids.release(listingID)
	e.report.Report(receipt.Item.SellerID, receipt.Item.Price)
	e.report.Report(buyerID, -receipt.Item.Price)
	e.history.Record(history.Entry{
		Kind:     history.KindMarket,
		ID:       listingID,
		Outcome:  "sold",
		WinnerID: buyerID,
		Amount:   receipt.Item.Price,
		At:       e.now(),
	})

	slog.Info("Listing sold",
		slog.String("type", "eco"),
		slog.String("listing_id", listingID),
		slog.String("user_name", buyerName),
		slog.Int64("price", receipt.Item.Price))
	return receipt, nil
}

// Cancel returns an unsold listing to its original seller.
func (e *Engine) Cancel(sellerID snowflake.ID, listingID string) error {
	err := e.ledger.Atomically(func(tx *ledger.Tx) error {
		item, err := tx.MarketItem(listingID)
		if err != nil {
			return err
		}
		if item.SellerID != sellerID {
			return fmt.Errorf("only the seller can cancel this listing")
		}

		tx.GrantItem(sellerID, item.Kind, item.File)
		tx.RemoveMarketItem(listingID)
		return nil
	})
	if err != nil {
		return err
	}
	e.ids.release(listingID)
	slog.Info("Listing cancelled",
		slog.String("type", "eco"),
		slog.String("listing_id", listingID))
	return nil
}

// Listings returns a snapshot copy of all current listings, sweeping expired
// entries first. Lazy expiry on read is a deliberate design choice; the same
// sweep also runs from the maintenance job.
func (e *Engine) Listings() []*ledger.MarketItem {
	e.SweepExpired(e.now())
	return e.ledger.MarketItems()
}

// SweepExpired is driven entirely by the injected now value: unsold listings
// past their TTL go back to their sellers and auctions past their deadline
// are finalized. Callable from any read path or a maintenance task.
func (e *Engine) SweepExpired(now time.Time) {
	var (
		returned  []*ledger.MarketItem
		completed []*ledger.Auction
		expired   []*ledger.Auction
	)

	err := e.ledger.Atomically(func(tx *ledger.Tx) error {
		items := tx.MarketItems()
		for i := len(items) - 1; i >= 0; i-- {
			item := items[i]
			if now.Sub(item.ListedAt) < config.MarketListingTTL {
				continue
			}
			tx.GrantItem(item.SellerID, item.Kind, item.File)
			tx.RemoveMarketItem(item.ID)
			item.Status = ledger.MarketStatusExpired
			returned = append(returned, item)
		}

		auctions := tx.Auctions()
		for i := len(auctions) - 1; i >= 0; i-- {
			a := auctions[i]
			if a.Status != ledger.AuctionStatusActive || now.Before(a.EndsAt) {
				continue
			}
			if a.HasBids() {
				// Escrow held from the top bidder becomes the
				// seller's payment; the item goes to the winner.
				tx.Credit(a.SellerID, a.CurrentPrice)
				tx.GrantItem(a.CurrentBidder, a.Kind, a.File)
				a.Status = ledger.AuctionStatusCompleted
				completed = append(completed, a)
			} else {
				tx.GrantItem(a.SellerID, a.Kind, a.File)
				a.Status = ledger.AuctionStatusExpired
				expired = append(expired, a)
			}
			tx.RemoveAuction(a.ID)
		}
		return nil
	})
	if err != nil {
		slog.Error("Market sweep failed",
			slog.String("type", "eco"),
			slog.Any("error", err))
		return
	}

	for _, item := range returned {
		e.ids.release(item.ID)
		slog.Info("Expired listing returned to seller",
			slog.String("type", "eco"),
			slog.String("listing_id", item.ID),
			slog.String("user_name", item.SellerName))
	}
	for _, a := range completed {
		e.ids.release(a.ID)
		e.report.Report(a.SellerID, a.CurrentPrice)
		e.report.Report(a.CurrentBidder, -a.CurrentPrice)
		e.history.Record(history.Entry{
			Kind:     history.KindAuction,
			ID:       a.ID,
			Outcome:  "completed",
			WinnerID: a.CurrentBidder,
			Amount:   a.CurrentPrice,
			At:       now,
		})
		slog.Info("Auction completed",
			slog.String("type", "eco"),
			slog.String("auction_id", a.ID),
			slog.Int64("final_price", a.CurrentPrice))
	}
	for _, a := range expired {
		e.ids.release(a.ID)
		e.history.Record(history.Entry{
			Kind:    history.KindAuction,
			ID:      a.ID,
			Outcome: "expired",
			At:      now,
		})
		slog.Info("Auction expired without bids",
			slog.String("type", "eco"),
			slog.String("auction_id", a.ID))
	}
}
