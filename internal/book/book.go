package book

import "sync"

// DiffEvent is one incremental depth update, carrying the exchange's
// update-id continuity fields alongside the level changes.
type DiffEvent struct {
	FirstUpdateID     int64 // U
	FinalUpdateID     int64 // u
	PrevFinalUpdateID int64 // pu
	Bids              []PriceLevel
	Asks              []PriceLevel
}

// Snapshot is a full point-in-time depth view with its sequence number.
type Snapshot struct {
	LastUpdateID int64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// View is a consistent, already-copied point-in-time read of a book,
// safe to serialize without holding any lock.
type View struct {
	Symbol       string
	Bids         map[string]string
	Asks         map[string]string
	LastUpdateID int64
	LastU        int64
	Initialized  bool
}

// SymbolBook is the per-symbol order book state machine: it bootstraps
// from a snapshot, buffers live diffs until bootstrap completes,
// validates continuity, applies diffs atomically, and
// re-arms itself for re-bootstrap the moment continuity breaks. All
// mutation and all reads go through mu, so a Read API response is
// always a prefix of applied diffs, never a half-applied one.
type SymbolBook struct {
	symbol string

	mu sync.Mutex

	bids *BookSide
	asks *BookSide

	snapshotID int64
	lastU      int64

	buffer                  []DiffEvent
	initialized             bool
	firstEventAfterSnapshot bool
	retryCount              int
}

// NewSymbolBook creates an uninitialized book for symbol. It is safe to
// construct every allow-listed symbol's book up front, before any
// network activity starts.
func NewSymbolBook(symbol string) *SymbolBook {
	return &SymbolBook{
		symbol:                  symbol,
		bids:                    newBookSide(),
		asks:                    newBookSide(),
		firstEventAfterSnapshot: true,
	}
}

// Symbol returns the book's symbol.
func (b *SymbolBook) Symbol() string {
	return b.symbol
}

// IsInitialized reports whether the book is currently queryable.
func (b *SymbolBook) IsInitialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized
}

// RetryCount returns the current bootstrap-retry counter, used by the
// supervisor to compute the next backoff delay.
func (b *SymbolBook) RetryCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retryCount
}

// BumpRetry increments the bootstrap-retry counter. The supervisor
// calls it when a snapshot fetch fails before the book ever sees the
// snapshot, so transient fetch errors back off the same way overlap
// failures do.
func (b *SymbolBook) BumpRetry() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retryCount++
}

// Ingest routes one live diff to the buffer (pre-bootstrap) or to the
// apply path (post-bootstrap).
// It returns ErrGap if the diff could not be contiguously applied; the
// book has already transitioned itself back to Uninitialized by the
// time that happens, so the caller's only job is to schedule a
// re-bootstrap attempt. A diff carrying a malformed level returns the
// parse error instead; the book is then also Uninitialized, with an
// empty buffer, so the partly applied diff is never served.
func (b *SymbolBook) Ingest(e DiffEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		b.bufferLocked(e)
		return nil
	}
	err := b.applyLiveLocked(e)
	if err != nil && err != ErrGap {
		b.initialized = false
		b.firstEventAfterSnapshot = true
		b.buffer = nil
		b.retryCount++
	}
	return err
}

// bufferLocked appends e to the pre-bootstrap buffer, first dropping
// any previously buffered diff whose final update id is superseded by
// e's first update id. Later diffs carry the superseding state, so the
// compaction loses no observable level change while bounding the
// buffer during long pre-bootstrap windows.
func (b *SymbolBook) bufferLocked(e DiffEvent) {
	kept := b.buffer[:0]
	for _, d := range b.buffer {
		if d.FinalUpdateID < e.FirstUpdateID {
			continue
		}
		kept = append(kept, d)
	}
	b.buffer = append(kept, e)
}

// Bootstrap installs a snapshot, prunes buffered diffs the snapshot
// already covers, validates that the first survivor straddles the
// snapshot id, and replays the rest. The whole sequence runs under a
// single critical section so no reader ever observes a partially
// rebuilt book.
func (b *SymbolBook) Bootstrap(snap Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.bids.ReplaceAll(snap.Bids); err != nil {
		return err
	}
	if err := b.asks.ReplaceAll(snap.Asks); err != nil {
		return err
	}
	b.snapshotID = snap.LastUpdateID

	pruned := b.buffer[:0]
	for _, d := range b.buffer {
		if d.FinalUpdateID < b.snapshotID {
			continue
		}
		pruned = append(pruned, d)
	}
	b.buffer = pruned

	if len(b.buffer) == 0 {
		b.initialized = true
		b.firstEventAfterSnapshot = true
		b.lastU = b.snapshotID
		b.retryCount = 0
		return nil
	}

	first := b.buffer[0]
	if !(first.FirstUpdateID <= b.snapshotID && b.snapshotID <= first.FinalUpdateID) {
		b.retryCount++
		return ErrBootstrapOverlap
	}

	for _, d := range b.buffer {
		if err := b.applyDiffLevelsLocked(d); err != nil {
			return err
		}
		b.lastU = d.FinalUpdateID
	}
	b.buffer = nil
	b.initialized = true
	b.firstEventAfterSnapshot = false
	b.retryCount = 0
	return nil
}

// applyLiveLocked applies one live diff to an already-initialized
// book, including the one-shot firstEventAfterSnapshot overlap check
// for the empty-buffer bootstrap case.
func (b *SymbolBook) applyLiveLocked(e DiffEvent) error {
	if b.firstEventAfterSnapshot {
		switch {
		case e.FinalUpdateID < b.snapshotID:
			return nil // stale, predates the snapshot we already hold
		case e.FirstUpdateID <= b.snapshotID && b.snapshotID <= e.FinalUpdateID:
			if err := b.applyDiffLevelsLocked(e); err != nil {
				return err
			}
			b.lastU = e.FinalUpdateID
			b.firstEventAfterSnapshot = false
			return nil
		default:
			b.rearmLocked(e)
			return ErrGap
		}
	}

	if e.PrevFinalUpdateID == b.lastU {
		if err := b.applyDiffLevelsLocked(e); err != nil {
			return err
		}
		b.lastU = e.FinalUpdateID
		return nil
	}

	b.rearmLocked(e)
	return ErrGap
}

func (b *SymbolBook) applyDiffLevelsLocked(d DiffEvent) error {
	if err := b.bids.ApplyDiff(d.Bids); err != nil {
		return err
	}
	return b.asks.ApplyDiff(d.Asks)
}

// rearmLocked transitions the book back to Uninitialized and seeds the
// buffer with the offending diff — it may still be the first valid
// post-snapshot event once a fresh snapshot lands.
func (b *SymbolBook) rearmLocked(offending DiffEvent) {
	b.initialized = false
	b.firstEventAfterSnapshot = true
	b.buffer = []DiffEvent{offending}
	b.retryCount++
}

// ReArm forces the book back to Uninitialized, as the Stream Client
// does for every symbol on a connection it just lost. The buffer is
// cleared, not seeded, since nothing received on the dead connection
// can be trusted.
func (b *SymbolBook) ReArm() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = false
	b.firstEventAfterSnapshot = true
	b.buffer = nil
}

// View returns a self-consistent, already-copied snapshot of the book.
func (b *SymbolBook) View() View {
	return b.ViewDepth(0)
}

// ViewDepth is View truncated to the best n levels per side: highest
// bids, lowest asks. n <= 0 returns the full book.
func (b *SymbolBook) ViewDepth(n int) View {
	b.mu.Lock()
	defer b.mu.Unlock()

	v := View{
		Symbol:       b.symbol,
		LastUpdateID: b.snapshotID,
		LastU:        b.lastU,
		Initialized:  b.initialized,
	}
	if n <= 0 {
		v.Bids = b.bids.Snapshot()
		v.Asks = b.asks.Snapshot()
		return v
	}
	v.Bids = levelMap(b.bids.Depth(n, false))
	v.Asks = levelMap(b.asks.Depth(n, true))
	return v
}

func levelMap(levels []PriceLevel) map[string]string {
	out := make(map[string]string, len(levels))
	for _, lv := range levels {
		out[lv.Price] = lv.Qty
	}
	return out
}
