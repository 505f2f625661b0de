package market

import (
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/pixelparty/pixelbot/pixelbot/config"
	"github.com/pixelparty/pixelbot/pixelbot/ledger"
)

// Search fuzzy-matches the query against the files of items currently for
// sale and returns the best matches in rank order.
func (e *Engine) Search(query string) []*ledger.MarketItem {
	listings := e.Listings()
	if strings.TrimSpace(query) == "" {
		return listings
	}

	targets := make([]string, len(listings))
	for i, item := range listings {
		targets[i] = item.File
	}

	matches := fuzzy.Find(query, targets)
	results := make([]*ledger.MarketItem, 0, len(matches))
	for _, m := range matches {
		results = append(results, listings[m.Index])
		if len(results) == config.MaxSearchResults {
			break
		}
	}
	return results
}
