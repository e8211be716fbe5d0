package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/adcondev/printer-daemon/internal/cache"
	"github.com/adcondev/printer-daemon/internal/printer"
)

type fakeEnumerator struct {
	mu       sync.Mutex
	printers []printer.Info
	err      error
	calls    int
}

func (f *fakeEnumerator) EnumeratePrinters(context.Context) ([]printer.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.printers, nil
}

func (f *fakeEnumerator) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

var epoch = time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

func installed() []printer.Info {
	return []printer.Info{
		{Name: "EPSON TM-T20III", IsDefault: true},
		{Name: "Microsoft Print to PDF"},
		{Name: "Microsoft XPS Document Writer"},
		{Name: "Fax"},
		{Name: "Send To OneNote 2016"},
		{Name: "58mm PT-210"},
	}
}

func TestIsVirtual(t *testing.T) {
	tests := []struct {
		name    string
		virtual bool
	}{
		{"Microsoft Print to PDF", true},
		{"microsoft xps document writer", true},
		{"FAX", true},
		{"OneNote for Windows 10", true},
		{"CutePDF Writer", true},
		{"EPSON TM-T20III", false},
		{"80mm EC-PM-80250", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.virtual, IsVirtual(tt.name))
		})
	}
}

func TestListFiltersAndCaches(t *testing.T) {
	clock := cache.NewManualClock(epoch)
	enum := &fakeEnumerator{printers: installed()}
	c := New(enum, clock, 0)

	assert.Equal(t, []string{"EPSON TM-T20III", "58mm PT-210"}, c.List(context.Background()))
	assert.Equal(t, []string{"EPSON TM-T20III", "58mm PT-210"}, c.List(context.Background()))
	assert.Equal(t, 1, enum.calls, "second call must be served from cache")

	clock.Advance(DefaultTTL)
	c.List(context.Background())
	assert.Equal(t, 2, enum.calls, "stale cache must re-enumerate")
}

func TestListFailureIsNotCached(t *testing.T) {
	clock := cache.NewManualClock(epoch)
	enum := &fakeEnumerator{printers: installed(), err: errors.New("spooler down")}
	c := New(enum, clock, 0)

	assert.Empty(t, c.List(context.Background()))
	assert.Empty(t, c.List(context.Background()))
	assert.Equal(t, 2, enum.calls, "failed enumeration must not poison the cache")

	enum.setErr(nil)
	assert.Len(t, c.List(context.Background()), 2)
}

func TestListReturnsCopy(t *testing.T) {
	c := New(&fakeEnumerator{printers: installed()}, cache.NewManualClock(epoch), 0)

	first := c.List(context.Background())
	first[0] = "mutated"
	assert.Equal(t, "EPSON TM-T20III", c.List(context.Background())[0])
}

func TestInvalidate(t *testing.T) {
	enum := &fakeEnumerator{printers: installed()}
	c := New(enum, cache.NewManualClock(epoch), 0)

	c.List(context.Background())
	c.Invalidate()
	c.List(context.Background())
	assert.Equal(t, 2, enum.calls)
}

func TestConcurrentListEnumeratesOnce(t *testing.T) {
	enum := &fakeEnumerator{printers: installed()}
	c := New(enum, cache.NewManualClock(epoch), 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.List(context.Background())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, enum.calls)
}

func TestSummary(t *testing.T) {
	c := New(&fakeEnumerator{printers: installed()}, cache.NewManualClock(epoch), 0)

	s := c.Summary(context.Background(), "")
	assert.Equal(t, "ok", s.Status)
	assert.Equal(t, 2, s.DetectedCount)
	assert.Equal(t, "EPSON TM-T20III", s.DefaultName)

	empty := New(&fakeEnumerator{err: errors.New("x")}, cache.NewManualClock(epoch), 0)
	assert.Equal(t, "error", empty.Summary(context.Background(), "").Status)
}

func TestNewTTL(t *testing.T) {
	ttl := 10 * time.Second
	clock := cache.NewManualClock(epoch)
	enum := &fakeEnumerator{printers: installed()}
	c := New(enum, clock, ttl)

	c.List(context.Background())
	clock.Advance(ttl - time.Second)
	c.List(context.Background())
	assert.Equal(t, 1, enum.calls)

	clock.Advance(time.Second)
	c.List(context.Background())
	assert.Equal(t, 2, enum.calls)
}
