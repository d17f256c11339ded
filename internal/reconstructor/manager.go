// Package reconstructor drives every allow-listed symbol through
// bootstrap, wires the Stream Client's diffs into each symbol's book,
// and schedules re-bootstrap with exponential backoff on gap
// detection. It is the supervisor named in the system overview: the
// Symbol Book owns the state machine, the Reconstructor owns when
// that machine gets fed a snapshot.
package reconstructor

import (
	"context"
	"math"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/rs/zerolog"

	"github.com/BullionBear/depthkeeper/internal/book"
	"github.com/BullionBear/depthkeeper/internal/config"
	"github.com/BullionBear/depthkeeper/internal/ids"
)

// Topics published on the manager's EventBus. Subscribers (the NATS
// notifier) receive (symbol string, detail string).
const (
	TopicBootstrapped = "book.bootstrapped"
	TopicGap          = "book.gap"
	TopicExhausted    = "book.exhausted"
)

// SnapshotFetcher is the one-shot REST dependency; satisfied by
// *snapshot.Client.
type SnapshotFetcher interface {
	Fetch(ctx context.Context, symbol string) (book.Snapshot, error)
}

// Manager owns every symbol's book and the retry scheduling around it.
type Manager struct {
	books    map[string]*book.SymbolBook
	snapshot SnapshotFetcher
	retry    config.RetryConfig
	bus      evbus.Bus
	log      zerolog.Logger

	inflightMu sync.Mutex
	inflight   map[string]bool
	rerun      map[string]bool
}

// New builds a Manager with one Uninitialized book per symbol.
func New(symbols []string, snap SnapshotFetcher, retry config.RetryConfig, log zerolog.Logger) *Manager {
	books := make(map[string]*book.SymbolBook, len(symbols))
	for _, s := range symbols {
		books[s] = book.NewSymbolBook(s)
	}
	return &Manager{
		books:    books,
		snapshot: snap,
		retry:    retry,
		bus:      evbus.New(),
		log:      log.With().Str("component", "reconstructor").Logger(),
		inflight: make(map[string]bool, len(symbols)),
		rerun:    make(map[string]bool, len(symbols)),
	}
}

// Bus exposes the state-change event bus for notifiers to subscribe to.
func (m *Manager) Bus() evbus.Bus {
	return m.bus
}

// Symbols returns the fixed allow-list, in no particular order.
func (m *Manager) Symbols() []string {
	out := make([]string, 0, len(m.books))
	for s := range m.books {
		out = append(out, s)
	}
	return out
}

// Book returns the book for symbol, and whether it is in the allow-list.
func (m *Manager) Book(symbol string) (*book.SymbolBook, bool) {
	b, ok := m.books[symbol]
	return b, ok
}

// HandleDiff routes one live diff to its symbol's book. Unknown
// symbols are dropped silently, matching the Stream Client's
// demultiplexing contract. On a gap the symbol is rescheduled for
// re-bootstrap; the error is otherwise only of interest for logging.
func (m *Manager) HandleDiff(ctx context.Context, symbol string, e book.DiffEvent) {
	b, ok := m.books[symbol]
	if !ok {
		return
	}
	if err := b.Ingest(e); err != nil {
		m.log.Warn().Str("symbol", symbol).Err(err).Msg("gap detected, re-bootstrapping")
		m.bus.Publish(TopicGap, symbol, err.Error())
		go m.bootstrapWithRetry(ctx, b)
	}
}

// DiffHandler returns the closure handed to the Stream Client as its
// Handler: every incoming diff is routed through HandleDiff bound to
// ctx, matching the Stream Client's (symbol, DiffEvent)-only signature.
func (m *Manager) DiffHandler(ctx context.Context) func(symbol string, e book.DiffEvent) {
	return func(symbol string, e book.DiffEvent) {
		m.HandleDiff(ctx, symbol, e)
	}
}

// ReArmAll is handed to the Stream Client as its ReArmFunc: every
// symbol served by a connection that just died is forced back to
// Uninitialized and re-bootstrapped.
func (m *Manager) ReArmAll(ctx context.Context) func(symbol string) {
	return func(symbol string) {
		b, ok := m.books[symbol]
		if !ok {
			return
		}
		b.ReArm()
		go m.bootstrapWithRetry(ctx, b)
	}
}

// BootstrapAll fetches a snapshot for every symbol, staggered by
// stagger, and installs it. Call once at startup after the pre-roll
// wait has elapsed.
func (m *Manager) BootstrapAll(ctx context.Context, stagger time.Duration) {
	for _, b := range m.books {
		select {
		case <-ctx.Done():
			return
		default:
		}
		go m.bootstrapWithRetry(ctx, b)
		time.Sleep(stagger)
	}
}

// bootstrapWithRetry fetches a snapshot and installs it, retrying with
// exponential backoff (base * 2^retry_count, capped) on either a fetch
// failure or a bootstrap overlap failure. Past max_attempts it keeps
// retrying at the capped delay, escalating log severity rather than
// ever giving up on a symbol. At most one attempt loop runs per
// symbol: a gap detected while an earlier loop is still sleeping off
// its backoff must not stack a second fetcher on top of it. A request
// arriving while a loop is live is recorded instead, and the loop runs
// one more round before exiting, so no re-bootstrap request is lost.
func (m *Manager) bootstrapWithRetry(ctx context.Context, b *book.SymbolBook) {
	symbol := b.Symbol()

	m.inflightMu.Lock()
	if m.inflight[symbol] {
		m.rerun[symbol] = true
		m.inflightMu.Unlock()
		return
	}
	m.inflight[symbol] = true
	m.inflightMu.Unlock()
	released := false
	defer func() {
		if released {
			return
		}
		m.inflightMu.Lock()
		delete(m.inflight, symbol)
		m.inflightMu.Unlock()
	}()

	attemptID := ids.New()
	logger := m.log.With().Str("symbol", symbol).Str("attempt_id", attemptID).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		snap, err := m.snapshot.Fetch(ctx, symbol)
		if err != nil {
			b.BumpRetry()
			logger.Warn().Err(err).Int("retry_count", b.RetryCount()).Msg("snapshot fetch failed")
			if !m.sleepBackoff(ctx, b, &logger) {
				return
			}
			continue
		}

		if err := b.Bootstrap(snap); err != nil {
			logger.Warn().Err(err).Int("retry_count", b.RetryCount()).Msg("bootstrap overlap failed")
			if !m.sleepBackoff(ctx, b, &logger) {
				return
			}
			continue
		}

		logger.Info().Int64("snapshot_id", snap.LastUpdateID).Msg("bootstrap succeeded")
		m.bus.Publish(TopicBootstrapped, symbol, attemptID)

		m.inflightMu.Lock()
		again := m.rerun[symbol]
		delete(m.rerun, symbol)
		if !again {
			delete(m.inflight, symbol)
			released = true
		}
		m.inflightMu.Unlock()
		if !again {
			return
		}
	}
}

// sleepBackoff sleeps for the retry delay corresponding to b's current
// retry count, escalating to an Error log once the configured
// max-attempts threshold is crossed. It returns false if ctx was
// canceled during the sleep.
func (m *Manager) sleepBackoff(ctx context.Context, b *book.SymbolBook, logger *zerolog.Logger) bool {
	retryCount := b.RetryCount()
	delay := backoffDelay(m.retry, retryCount)

	if retryCount >= m.retry.MaxAttempt {
		logger.Error().Int("retry_count", retryCount).Dur("delay", delay).
			Msg("exceeded max bootstrap attempts, continuing at capped delay")
		m.bus.Publish(TopicExhausted, b.Symbol(), delay.String())
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// backoffDelay computes min(base * 2^retryCount, max).
func backoffDelay(r config.RetryConfig, retryCount int) time.Duration {
	base := r.Base.Dur()
	max := r.Max.Dur()
	if retryCount <= 0 {
		return base
	}
	factor := math.Pow(2, float64(retryCount))
	delay := time.Duration(float64(base) * factor)
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}
