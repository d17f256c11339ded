// Package stream dials the exchange's combined WebSocket stream and
// demultiplexes depth-diff frames back to per-symbol handlers. It is a
// thin hand-rolled client: adshao/go-binance/v2/futures only exposes
// per-symbol diff-depth subscriptions, and a connection per symbol
// would blow through the exchange's per-IP connection limits once the
// allow-list grows past a handful of symbols.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/BullionBear/depthkeeper/internal/book"
	"github.com/BullionBear/depthkeeper/internal/ids"
)

// Handler is called once per depth-diff frame, already decoded into the
// book package's wire-agnostic event shape.
type Handler func(symbol string, e book.DiffEvent)

// ReArmFunc is called for every symbol served by a connection that just
// died, before the client attempts to reconnect it.
type ReArmFunc func(symbol string)

// envelope is the combined-stream wrapper every frame arrives in:
// {"stream":"btcusdt@depth","data":{...}}.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// wireDiff mirrors the exchange's futures depthUpdate payload.
type wireDiff struct {
	EventType         string     `json:"e"`
	Symbol            string     `json:"s"`
	FirstUpdateID     int64      `json:"U"`
	FinalUpdateID     int64      `json:"u"`
	PrevFinalUpdateID int64      `json:"pu"`
	Bids              [][]string `json:"b"`
	Asks              [][]string `json:"a"`
}

func (w wireDiff) toDiffEvent() book.DiffEvent {
	return book.DiffEvent{
		FirstUpdateID:     w.FirstUpdateID,
		FinalUpdateID:     w.FinalUpdateID,
		PrevFinalUpdateID: w.PrevFinalUpdateID,
		Bids:              toLevels(w.Bids),
		Asks:              toLevels(w.Asks),
	}
}

func toLevels(raw [][]string) []book.PriceLevel {
	out := make([]book.PriceLevel, 0, len(raw))
	for _, lv := range raw {
		if len(lv) < 2 {
			continue
		}
		out = append(out, book.PriceLevel{Price: lv[0], Qty: lv[1]})
	}
	return out
}

// Client owns one combined-stream connection per batch of symbols.
type Client struct {
	baseURL   string
	cadence   string
	reconnect time.Duration
	log       zerolog.Logger
	onDiff    Handler
	onReArm   ReArmFunc
	dialer    *websocket.Dialer
	wg        sync.WaitGroup
	stop      chan struct{}
	stopOnce  sync.Once
}

// New builds a stream client. baseURL is the combined-stream endpoint
// (e.g. "wss://fstream.binance.com/stream"); cadence is the exchange's
// diff-emission interval suffix ("100ms"); reconnect is the fixed
// delay applied after any read error or clean close.
func New(baseURL, cadence string, reconnect time.Duration, log zerolog.Logger, onDiff Handler, onReArm ReArmFunc) *Client {
	return &Client{
		baseURL:   baseURL,
		cadence:   cadence,
		reconnect: reconnect,
		log:       log.With().Str("component", "stream").Logger(),
		onDiff:    onDiff,
		onReArm:   onReArm,
		dialer:    websocket.DefaultDialer,
		stop:      make(chan struct{}),
	}
}

// Serve dials one combined-stream connection carrying the depth-diff
// stream for every symbol in batch, and keeps it alive — reconnecting
// after reconnect on any failure — until ctx is canceled or Stop is
// called. It returns once the connection has been told to stop for good.
func (c *Client) Serve(ctx context.Context, batch []string) {
	c.wg.Add(1)
	defer c.wg.Done()

	url := c.streamURL(batch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		default:
		}

		connID := ids.New()
		logger := c.log.With().Str("conn_id", connID).Strs("symbols", batch).Logger()
		logger.Info().Str("url", url).Msg("dialing combined stream")

		if err := c.runOnce(ctx, url, logger); err != nil {
			logger.Warn().Err(err).Msg("combined stream connection lost")
		}

		for _, sym := range batch {
			c.onReArm(sym)
		}

		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-time.After(c.reconnect):
		}
	}
}

func (c *Client) streamURL(batch []string) string {
	streams := make([]string, 0, len(batch))
	for _, sym := range batch {
		name := strings.ToLower(sym) + "@depth"
		if c.cadence != "" {
			name += "@" + c.cadence
		}
		streams = append(streams, name)
	}
	return c.baseURL + "?streams=" + strings.Join(streams, "/")
}

func (c *Client) runOnce(ctx context.Context, url string, logger zerolog.Logger) error {
	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("stream: dial: %w", err)
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-c.stop:
			conn.Close()
		case <-closed:
		}
	}()
	defer close(closed)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("stream: read: %w", err)
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Warn().Err(err).Msg("malformed envelope")
			continue
		}

		var w wireDiff
		if err := json.Unmarshal(env.Data, &w); err != nil {
			logger.Warn().Err(err).Str("stream", env.Stream).Msg("malformed depth frame")
			continue
		}
		if w.EventType != "depthUpdate" {
			continue
		}

		symbol := w.Symbol
		if i := strings.Index(env.Stream, "@"); i > 0 {
			symbol = env.Stream[:i]
		}
		c.onDiff(strings.ToUpper(symbol), w.toDiffEvent())
	}
}

// Stop signals every running Serve loop to close its connection and
// return instead of reconnecting.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}
