package reconstructor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BullionBear/depthkeeper/internal/book"
	"github.com/BullionBear/depthkeeper/internal/config"
)

type stubFetcher struct {
	mu   sync.Mutex
	snap book.Snapshot
	err  error
	n    int
}

func (s *stubFetcher) Fetch(context.Context, string) (book.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.snap, s.err
}

func (s *stubFetcher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func (s *stubFetcher) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func testRetry() config.RetryConfig {
	return config.RetryConfig{
		Base:       config.Duration(5 * time.Millisecond),
		Max:        config.Duration(20 * time.Millisecond),
		MaxAttempt: 10,
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	r := config.RetryConfig{Base: config.Duration(time.Second), Max: config.Duration(10 * time.Second)}
	assert.Equal(t, time.Second, backoffDelay(r, 0))
	assert.Equal(t, 2*time.Second, backoffDelay(r, 1))
	assert.Equal(t, 4*time.Second, backoffDelay(r, 2))
	assert.Equal(t, 10*time.Second, backoffDelay(r, 10))
}

func TestBootstrapAllInitializesEverySymbol(t *testing.T) {
	fetcher := &stubFetcher{snap: book.Snapshot{LastUpdateID: 100}}
	mgr := New([]string{"BTCUSDT", "ETHUSDT"}, fetcher, testRetry(), zerolog.Nop())

	mgr.BootstrapAll(context.Background(), time.Millisecond)
	require.Eventually(t, func() bool {
		b1, _ := mgr.Book("BTCUSDT")
		b2, _ := mgr.Book("ETHUSDT")
		return b1.IsInitialized() && b2.IsInitialized()
	}, time.Second, time.Millisecond)
}

func TestHandleDiffGapTriggersReBootstrap(t *testing.T) {
	// The fresh snapshot must land inside the offending diff's [U, u]
	// for the re-bootstrap to succeed: the diff is re-seeded into the
	// buffer and becomes the first overlap candidate.
	fetcher := &stubFetcher{snap: book.Snapshot{LastUpdateID: 202}}
	mgr := New([]string{"BTCUSDT"}, fetcher, testRetry(), zerolog.Nop())

	b, ok := mgr.Book("BTCUSDT")
	require.True(t, ok)
	require.NoError(t, b.Bootstrap(book.Snapshot{LastUpdateID: 100}))

	ctx := context.Background()
	mgr.HandleDiff(ctx, "BTCUSDT", book.DiffEvent{FirstUpdateID: 200, FinalUpdateID: 205, PrevFinalUpdateID: 199})

	require.Eventually(t, func() bool {
		return b.IsInitialized() && b.View().LastU == 205
	}, time.Second, time.Millisecond)
}

func TestHandleDiffUnknownSymbolIsDropped(t *testing.T) {
	fetcher := &stubFetcher{snap: book.Snapshot{LastUpdateID: 100}}
	mgr := New([]string{"BTCUSDT"}, fetcher, testRetry(), zerolog.Nop())
	mgr.HandleDiff(context.Background(), "DOGEUSDT", book.DiffEvent{})
	assert.Equal(t, 0, fetcher.calls())
}

// Snapshot fetch failures grow the retry counter, so the backoff
// delay doubles instead of hammering the REST endpoint at the base
// rate; a later success resets the counter.
func TestFetchFailureGrowsRetryCountUntilSuccess(t *testing.T) {
	fetcher := &stubFetcher{snap: book.Snapshot{LastUpdateID: 100}, err: errors.New("connection refused")}
	mgr := New([]string{"BTCUSDT"}, fetcher, testRetry(), zerolog.Nop())

	b, ok := mgr.Book("BTCUSDT")
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.bootstrapWithRetry(ctx, b)

	require.Eventually(t, func() bool {
		return b.RetryCount() >= 3
	}, time.Second, time.Millisecond)

	fetcher.setErr(nil)
	require.Eventually(t, func() bool {
		return b.IsInitialized() && b.RetryCount() == 0
	}, time.Second, time.Millisecond)
}

func TestReArmAllRestartsBootstrap(t *testing.T) {
	fetcher := &stubFetcher{snap: book.Snapshot{LastUpdateID: 50}}
	mgr := New([]string{"BTCUSDT"}, fetcher, testRetry(), zerolog.Nop())

	b, _ := mgr.Book("BTCUSDT")
	require.NoError(t, b.Bootstrap(book.Snapshot{LastUpdateID: 50}))
	assert.True(t, b.IsInitialized())

	mgr.ReArmAll(context.Background())("BTCUSDT")

	require.Eventually(t, func() bool {
		return b.IsInitialized() && b.View().LastUpdateID == 50
	}, time.Second, time.Millisecond)
}
