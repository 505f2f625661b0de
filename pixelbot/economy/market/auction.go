package market

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/pixelparty/pixelbot/pixelbot/config"
	"github.com/pixelparty/pixelbot/pixelbot/ledger"
)

// CreateAuction charges the listing fee, escrows the item out of the
// seller's inventory for the auction's lifetime and opens bidding.
func (e *Engine) CreateAuction(sellerID snowflake.ID, sellerName string, kind ledger.ItemKind, file string, startPrice, minIncrement int64, duration time.Duration) (*ledger.Auction, error) {
	if startPrice < config.MinPrice || startPrice > config.MaxPrice {
		return nil, fmt.Errorf("start price must be between %d and %d", config.MinPrice, config.MaxPrice)
	}
	if minIncrement < config.MinBidIncrement || minIncrement > config.MaxBidIncrement {
		return nil, fmt.Errorf("minimum bid increment must be between %d and %d", config.MinBidIncrement, config.MaxBidIncrement)
	}
	if duration < config.MinAuctionDuration || duration > config.MaxAuctionDuration {
		return nil, fmt.Errorf("auction duration must be between %s and %s", config.MinAuctionDuration, config.MaxAuctionDuration)
	}
	if file == config.DefaultAvatar || file == config.DefaultBackground {
		return nil, fmt.Errorf("default items cannot be auctioned")
	}

	id, err := e.ids.generate()
	if err != nil {
		return nil, err
	}

	var created *ledger.Auction
	err = e.ledger.Atomically(func(tx *ledger.Tx) error {
		seller := tx.EnsureUser(sellerID, sellerName)
		if !seller.Owns(kind, file) {
			return fmt.Errorf("you do not own this %s", kind)
		}
		if seller.Equipped(kind, file) {
			return fmt.Errorf("unequip the %s before auctioning it", kind)
		}
		if seller.Balance < config.AuctionListingFee {
			return fmt.Errorf("%w: the listing fee is %d", ledger.ErrInsufficientBalance, config.AuctionListingFee)
		}

		if err := tx.Debit(sellerID, config.AuctionListingFee); err != nil {
			return err
		}
		tx.RemoveItem(sellerID, kind, file)

		now := e.now()
		created = &ledger.Auction{
			ID:           id,
			Kind:         kind,
			File:         file,
			StartPrice:   startPrice,
			CurrentPrice: startPrice,
			MinIncrement: minIncrement,
			SellerID:     sellerID,
			SellerName:   sellerName,
			CreatedAt:    now,
			EndsAt:       now.Add(duration),
			Status:       ledger.AuctionStatusActive,
		}
		tx.AddAuction(created)
		return nil
	})
	if err != nil {
		e.ids.release(id)
		return nil, err
	}

	slog.Info("Auction created",
		slog.String("type", "eco"),
		slog.String("auction_id", id),
		slog.String("user_name", sellerName),
		slog.Int64("start_price", startPrice),
		slog.Duration("duration", duration))
	return created, nil
}

// BidResult reports a successful bid, including the refund issued to the
// displaced bidder and any anti-snipe extension applied.
type BidResult struct {
	Auction       *ledger.Auction
	Refunded      snowflake.ID
	RefundAmount  int64
	DeadlineMoved bool
}

// PlaceBid escrows the new bid, refunds the displaced bidder their exact
// escrowed amount and advances the current price. A bid must strictly exceed
// current price plus the minimum increment; matching it exactly is rejected.
// A successful bid inside the snipe window pushes the deadline out so at
// least that much time remains.
func (e *Engine) PlaceBid(bidderID snowflake.ID, bidderName, auctionID string, amount int64) (*BidResult, error) {
	now := e.now()
	var result *BidResult

	err := e.ledger.Atomically(func(tx *ledger.Tx) error {
		a, err := tx.Auction(auctionID)
		if err != nil {
			return err
		}
		if a.Status != ledger.AuctionStatusActive || now.After(a.EndsAt) {
			return fmt.Errorf("auction %s is no longer active", auctionID)
		}
		if a.SellerID == bidderID {
			return fmt.Errorf("you cannot bid on your own auction")
		}
		if a.CurrentBidder == bidderID {
			return fmt.Errorf("you are already the highest bidder")
		}
		if amount <= a.CurrentPrice+a.MinIncrement {
			return fmt.Errorf("bid must exceed %d (current price plus minimum increment)", a.CurrentPrice+a.MinIncrement)
		}

		bidder := tx.EnsureUser(bidderID, bidderName)
		if bidder.Balance < amount {
			return fmt.Errorf("%w: have %d, need %d", ledger.ErrInsufficientBalance, bidder.Balance, amount)
		}

		// Validation done; mutations from here on.
		if err := tx.Debit(bidderID, amount); err != nil {
			return err
		}

		result = &BidResult{}
		if a.HasBids() {
			// The displaced bidder gets back exactly what they had
			// escrowed, which is always the current price.
			tx.Credit(a.CurrentBidder, a.CurrentPrice)
			result.Refunded = a.CurrentBidder
			result.RefundAmount = a.CurrentPrice
		}

		a.CurrentPrice = amount
		a.CurrentBidder = bidderID
		a.Bids = append(a.Bids, ledger.Bid{
			BidderID:   bidderID,
			BidderName: bidderName,
			Amount:     amount,
			At:         now,
		})

		if remaining := a.EndsAt.Sub(now); remaining < config.AuctionSnipeWindow {
			a.EndsAt = now.Add(config.AuctionSnipeWindow)
			result.DeadlineMoved = true
		}

		snapshot := *a
		snapshot.Bids = append([]ledger.Bid(nil), a.Bids...)
		result.Auction = &snapshot
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Bid placed",
		slog.String("type", "eco"),
		slog.String("auction_id", auctionID),
		slog.String("user_name", bidderName),
		slog.Int64("amount", amount),
		slog.Bool("extended", result.DeadlineMoved))
	return result, nil
}

// ActiveAuctions returns a snapshot copy of all running auctions, sweeping
// finished ones first.
func (e *Engine) ActiveAuctions() []*ledger.Auction {
	e.SweepExpired(e.now())
	return e.ledger.Auctions()
}
