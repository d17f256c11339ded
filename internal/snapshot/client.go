// Package snapshot implements the one-shot REST fetch of a symbol's
// full depth snapshot. The client is stateless; retry policy belongs
// to the reconstructor, not here.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/BullionBear/depthkeeper/internal/book"
)

// Client fetches full depth snapshots from the exchange's REST API.
type Client struct {
	http    *futures.Client
	timeout time.Duration
	limit   int
}

// New builds a snapshot client. baseURL overrides the library's
// default REST endpoint (empty keeps it, e.g. for production Binance);
// limit is the `limit` query parameter (nominally 1000 for perpetual
// futures); timeout bounds each fetch.
func New(baseURL string, limit int, timeout time.Duration) *Client {
	httpClient := futures.NewClient("", "")
	if baseURL != "" {
		httpClient.BaseURL = baseURL
	}
	return &Client{
		http:    httpClient,
		timeout: timeout,
		limit:   limit,
	}
}

// Fetch retrieves the current depth snapshot for symbol.
func (c *Client) Fetch(ctx context.Context, symbol string) (book.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.http.NewDepthService().Symbol(symbol).Limit(c.limit).Do(ctx)
	if err != nil {
		return book.Snapshot{}, fmt.Errorf("snapshot: fetch %s: %w", symbol, err)
	}
	return toSnapshot(resp), nil
}

// toSnapshot maps the exchange's wire response onto book.Snapshot,
// preserving every price/quantity string verbatim.
func toSnapshot(resp *futures.DepthResponse) book.Snapshot {
	snap := book.Snapshot{
		LastUpdateID: resp.LastUpdateID,
		Bids:         make([]book.PriceLevel, 0, len(resp.Bids)),
		Asks:         make([]book.PriceLevel, 0, len(resp.Asks)),
	}
	for _, lv := range resp.Bids {
		snap.Bids = append(snap.Bids, book.PriceLevel{Price: lv.Price, Qty: lv.Quantity})
	}
	for _, lv := range resp.Asks {
		snap.Asks = append(snap.Asks, book.PriceLevel{Price: lv.Price, Qty: lv.Quantity})
	}
	return snap
}
