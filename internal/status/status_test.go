package status

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adcondev/printer-daemon/internal/cache"
	"github.com/adcondev/printer-daemon/internal/printer"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeOS implements both query sources.
type fakeOS struct {
	mu          sync.Mutex
	defaultName string
	defaultErr  error
	offline     map[string]bool
	offlineErr  error
	block       chan struct{}
	// during runs inside every query, before it returns.
	during func()

	defaultCalls atomic.Int32
	statusCalls  atomic.Int32
}

func newFakeOS() *fakeOS {
	return &fakeOS{offline: map[string]bool{}}
}

func (f *fakeOS) QueryDefaultPrinterName(ctx context.Context) (string, error) {
	f.defaultCalls.Add(1)
	if f.during != nil {
		f.during()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.defaultName, f.defaultErr
}

func (f *fakeOS) QueryIsPrinterOffline(ctx context.Context, name string) (bool, error) {
	f.statusCalls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if f.during != nil {
		f.during()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offlineErr != nil {
		return false, f.offlineErr
	}
	off, ok := f.offline[name]
	if !ok {
		return false, ErrPrinterNotFound
	}
	return off, nil
}

func (f *fakeOS) set(name string, offline bool) {
	f.mu.Lock()
	f.offline[name] = offline
	f.mu.Unlock()
}

func newService(t *testing.T) (*Service, *fakeOS, *cache.ManualClock) {
	t.Helper()
	os := newFakeOS()
	clock := cache.NewManualClock(epoch)
	return NewService(os, os, clock, Config{}), os, clock
}

func TestCheckStatusNameRequired(t *testing.T) {
	svc, os, _ := newService(t)

	for _, name := range []string{"", "   ", "\t"} {
		r := svc.CheckStatus(context.Background(), name, false)
		assert.Equal(t, printer.StatusResult{IsOnline: false, Message: "Printer name is required"}, r)
	}
	assert.Equal(t, int32(0), os.statusCalls.Load())
	assert.Equal(t, Stats{}, svc.Stats(), "no cache entry may be created")
}

func TestCheckStatusCacheStability(t *testing.T) {
	svc, os, clock := newService(t)
	os.set("HP-1", false)

	first := svc.CheckStatus(context.Background(), "HP-1", false)
	assert.True(t, first.IsOnline)

	for i := 0; i < 5; i++ {
		clock.Advance(2 * time.Second)
		assert.Equal(t, first, svc.CheckStatus(context.Background(), "HP-1", false))
	}
	assert.Equal(t, int32(1), os.statusCalls.Load())

	// Past the 15s TTL a fresh query is issued.
	clock.Advance(5 * time.Second)
	os.set("HP-1", true)
	r := svc.CheckStatus(context.Background(), "HP-1", false)
	assert.False(t, r.IsOnline)
	assert.Equal(t, "Printer is offline", r.Message)
	assert.Equal(t, int32(2), os.statusCalls.Load())
}

func TestCheckStatusSkipCacheRequeries(t *testing.T) {
	svc, os, _ := newService(t)
	os.set("HP-1", false)

	svc.CheckStatus(context.Background(), "HP-1", false)
	svc.CheckStatus(context.Background(), "HP-1", true)
	assert.Equal(t, int32(2), os.statusCalls.Load())

	// The skipCache result refreshed the cache.
	os.set("HP-1", true)
	r := svc.CheckStatus(context.Background(), "HP-1", true)
	assert.False(t, r.IsOnline)
	assert.Equal(t, r, svc.CheckStatus(context.Background(), "HP-1", false))
	assert.Equal(t, int32(3), os.statusCalls.Load())
}

func TestCheckStatusCaseInsensitiveKey(t *testing.T) {
	svc, os, _ := newService(t)
	os.set("HP-1", false)

	svc.CheckStatus(context.Background(), "HP-1", false)
	svc.CheckStatus(context.Background(), "hp-1", false)
	svc.CheckStatus(context.Background(), " Hp-1 ", false)
	assert.Equal(t, int32(1), os.statusCalls.Load())
	assert.Equal(t, 1, svc.Stats().StatusEntries)
}

func TestCheckStatusErrorsUseShorterTTL(t *testing.T) {
	svc, os, clock := newService(t)

	r := svc.CheckStatus(context.Background(), "Ghost", false)
	assert.False(t, r.IsOnline)
	assert.Equal(t, "Printer 'Ghost' not found", r.Message)

	clock.Advance(9 * time.Second)
	assert.Equal(t, r, svc.CheckStatus(context.Background(), "Ghost", false))
	assert.Equal(t, int32(1), os.statusCalls.Load())

	// 10s effective TTL, earlier than the 15s for confirmed results.
	clock.Advance(time.Second)
	svc.CheckStatus(context.Background(), "Ghost", false)
	assert.Equal(t, int32(2), os.statusCalls.Load())
}

func TestCheckStatusGenericError(t *testing.T) {
	svc, os, _ := newService(t)
	os.offlineErr = errors.New("unrecognized output \"???\"")

	r := svc.CheckStatus(context.Background(), "HP-1", false)
	assert.False(t, r.IsOnline)
	assert.Contains(t, r.Message, "Unable to determine status of printer 'HP-1'")
}

func TestCheckStatusTimeout(t *testing.T) {
	os := newFakeOS()
	os.block = make(chan struct{})
	svc := NewService(os, os, cache.NewManualClock(epoch), Config{QueryTimeout: 20 * time.Millisecond})

	start := time.Now()
	r := svc.CheckStatus(context.Background(), "HP-1", false)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, r.IsOnline)
	assert.Equal(t, "Timed out checking printer 'HP-1'", r.Message)
}

func TestFastPathPrecedence(t *testing.T) {
	svc, os, clock := newService(t)
	os.set("HP-1", true) // OS says offline

	svc.MarkSuccess("HP-1")
	for i := 0; i < 3; i++ {
		r := svc.CheckStatus(context.Background(), "hp-1", false)
		assert.True(t, r.IsOnline)
		clock.Advance(9 * time.Second)
	}
	assert.Equal(t, int32(0), os.statusCalls.Load(), "fast path bypasses the OS query")

	// 30s after the success the fast path expires.
	clock.Advance(3 * time.Second)
	r := svc.CheckStatus(context.Background(), "HP-1", false)
	assert.False(t, r.IsOnline)
	assert.Equal(t, int32(1), os.statusCalls.Load())
}

func TestFastPathBeatsCachedOffline(t *testing.T) {
	svc, os, _ := newService(t)
	os.set("HP-1", true)

	assert.False(t, svc.CheckStatus(context.Background(), "HP-1", false).IsOnline)
	svc.MarkSuccess("HP-1")
	assert.True(t, svc.CheckStatus(context.Background(), "HP-1", false).IsOnline)

	// skipCache ignores the fast path.
	assert.False(t, svc.CheckStatus(context.Background(), "HP-1", true).IsOnline)
}

func TestMarkSuccessIgnoresBlank(t *testing.T) {
	svc, _, _ := newService(t)
	svc.MarkSuccess("  ")
	assert.Equal(t, 0, svc.Stats().FastPathEntries)
}

func TestGetDefaultPrinterName(t *testing.T) {
	svc, os, clock := newService(t)
	os.defaultName = "EPSON TM-T20\r\n"

	name, ok := svc.GetDefaultPrinterName(context.Background())
	require.True(t, ok)
	assert.Equal(t, "EPSON TM-T20", name)

	svc.GetDefaultPrinterName(context.Background())
	assert.Equal(t, int32(1), os.defaultCalls.Load())

	clock.Advance(30 * time.Second)
	svc.GetDefaultPrinterName(context.Background())
	assert.Equal(t, int32(2), os.defaultCalls.Load())
}

func TestGetDefaultPrinterNameAbsenceIsCached(t *testing.T) {
	tests := []struct {
		name string
		out  string
		err  error
	}{
		{"empty output", "", nil},
		{"query failure", "", errors.New("exit status 1")},
		{"timeout", "", context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, os, clock := newService(t)
			os.defaultName, os.defaultErr = tt.out, tt.err

			_, ok := svc.GetDefaultPrinterName(context.Background())
			assert.False(t, ok)
			assert.True(t, svc.Stats().HasDefaultCached)

			clock.Advance(29 * time.Second)
			_, ok = svc.GetDefaultPrinterName(context.Background())
			assert.False(t, ok)
			assert.Equal(t, int32(1), os.defaultCalls.Load(), "absence must be cached for the full TTL")
		})
	}
}

func TestInvalidateAllAndStats(t *testing.T) {
	svc, os, _ := newService(t)
	os.set("HP-1", false)
	os.set("EPSON", false)
	os.defaultName = "HP-1"

	svc.CheckStatus(context.Background(), "HP-1", false)
	svc.CheckStatus(context.Background(), "EPSON", false)
	svc.MarkSuccess("HP-1")
	svc.GetDefaultPrinterName(context.Background())

	assert.Equal(t, Stats{StatusEntries: 2, FastPathEntries: 1, HasDefaultCached: true}, svc.Stats())
	assert.Equal(t, svc.Stats(), svc.Stats(), "Stats has no side effects")

	svc.InvalidateAll()
	assert.Equal(t, Stats{}, svc.Stats())

	svc.CheckStatus(context.Background(), "HP-1", false)
	assert.Equal(t, int32(3), os.statusCalls.Load())
}

func TestConcurrentChecksShareOneQuery(t *testing.T) {
	os := newFakeOS()
	os.set("HP-1", false)
	os.block = make(chan struct{})
	svc := NewService(os, os, cache.NewManualClock(epoch), Config{})

	var wg sync.WaitGroup
	results := make([]printer.StatusResult, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.CheckStatus(context.Background(), "HP-1", false)
		}(i)
	}

	require.Eventually(t, func() bool { return os.statusCalls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(os.block)
	wg.Wait()

	assert.Equal(t, int32(1), os.statusCalls.Load())
	for _, r := range results {
		assert.True(t, r.IsOnline)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := configWithDefaults(Config{})
	assert.Equal(t, 30*time.Second, cfg.DefaultPrinterTTL)
	assert.Equal(t, 15*time.Second, cfg.StatusTTL)
	assert.Equal(t, 5*time.Second, cfg.ErrorTTLReduction)
	assert.Equal(t, 30*time.Second, cfg.FastPathTTL)
	assert.Equal(t, 3*time.Second, cfg.QueryTimeout)

	odd := configWithDefaults(Config{StatusTTL: 4 * time.Second, ErrorTTLReduction: 10 * time.Second})
	assert.Less(t, odd.ErrorTTLReduction, odd.StatusTTL, "errors must still expire sooner, never instantly")
}

func TestCacheTimestampsTakenAfterQueryResolves(t *testing.T) {
	const queryTook = 10 * time.Second

	t.Run("status", func(t *testing.T) {
		svc, os, clock := newService(t)
		os.set("HP-1", false)
		os.during = func() { clock.Advance(queryTook) }

		require.True(t, svc.CheckStatus(context.Background(), "HP-1", false).IsOnline)

		clock.Advance(14 * time.Second)
		svc.CheckStatus(context.Background(), "HP-1", false)
		assert.Equal(t, int32(1), os.statusCalls.Load(), "entry must still be fresh 14s after the query returned")

		clock.Advance(time.Second)
		svc.CheckStatus(context.Background(), "HP-1", false)
		assert.Equal(t, int32(2), os.statusCalls.Load())
	})

	t.Run("status error", func(t *testing.T) {
		svc, os, clock := newService(t)
		os.offlineErr = errors.New("exit status 1")
		os.during = func() { clock.Advance(queryTook) }

		assert.False(t, svc.CheckStatus(context.Background(), "HP-1", false).IsOnline)

		clock.Advance(9 * time.Second)
		svc.CheckStatus(context.Background(), "HP-1", false)
		assert.Equal(t, int32(1), os.statusCalls.Load(), "error entry must still be fresh 9s after the query returned")

		clock.Advance(time.Second)
		svc.CheckStatus(context.Background(), "HP-1", false)
		assert.Equal(t, int32(2), os.statusCalls.Load())
	})

	t.Run("default printer", func(t *testing.T) {
		svc, os, clock := newService(t)
		os.defaultName = "EPSON"
		os.during = func() { clock.Advance(queryTook) }

		_, ok := svc.GetDefaultPrinterName(context.Background())
		require.True(t, ok)

		clock.Advance(29 * time.Second)
		svc.GetDefaultPrinterName(context.Background())
		assert.Equal(t, int32(1), os.defaultCalls.Load())

		clock.Advance(time.Second)
		svc.GetDefaultPrinterName(context.Background())
		assert.Equal(t, int32(2), os.defaultCalls.Load())
	})
}

func TestCallerCancellationIsNotCached(t *testing.T) {
	os := newFakeOS()
	os.set("HP-1", false)
	os.block = make(chan struct{})
	clock := cache.NewManualClock(epoch)
	svc := NewService(os, os, clock, Config{QueryTimeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan printer.StatusResult, 1)
	go func() { done <- svc.CheckStatus(ctx, "HP-1", false) }()

	require.Eventually(t, func() bool { return os.statusCalls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case r := <-done:
		assert.False(t, r.IsOnline)
		assert.Contains(t, r.Message, "cancelled")
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting on the shared query")
	}

	// The shared query outlives the caller and stores the real answer.
	close(os.block)
	clock.Advance(2 * time.Second)
	r := svc.CheckStatus(context.Background(), "HP-1", false)
	assert.True(t, r.IsOnline, r.Message)
	assert.Equal(t, int32(1), os.statusCalls.Load())
}

func TestCallerCancellationDefaultPrinter(t *testing.T) {
	svc, os, _ := newService(t)
	os.defaultName = "EPSON"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.GetDefaultPrinterName(ctx)

	// Whichever branch the cancelled caller took, the cache holds the real name.
	require.Eventually(t, func() bool { return svc.Stats().HasDefaultCached }, time.Second, time.Millisecond)
	name, ok := svc.GetDefaultPrinterName(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "EPSON", name)
	assert.Equal(t, int32(1), os.defaultCalls.Load())
}
