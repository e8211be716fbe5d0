// Package discovery enumera impresoras instaladas, descarta las virtuales y
// cachea el resultado por un TTL corto.
package discovery

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adcondev/printer-daemon/internal/cache"
	"github.com/adcondev/printer-daemon/internal/logging"
	"github.com/adcondev/printer-daemon/internal/metrics"
	"github.com/adcondev/printer-daemon/internal/printer"
)

// DefaultTTL is how long a successful enumeration is served from cache.
const DefaultTTL = 30 * time.Second

// virtualPrinters are matched case-insensitively as substrings.
var virtualPrinters = []string{
	"microsoft print to pdf",
	"microsoft xps document writer",
	"print to pdf",
	"pdf writer",
	"pdfcreator",
	"cutepdf",
	"adobe pdf",
	"onenote",
	"fax",
}

// Enumerator lists installed printers.
type Enumerator interface {
	EnumeratePrinters(ctx context.Context) ([]printer.Info, error)
}

// Cache handles printer enumeration with caching
type Cache struct {
	enum Enumerator

	mu    sync.RWMutex
	entry *cache.Slot[[]printer.Info]
}

// New creates a discovery cache. ttl <= 0 uses DefaultTTL.
func New(enum Enumerator, clock cache.Clock, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		enum:  enum,
		entry: cache.NewSlot[[]printer.Info](clock, ttl),
	}
}

// IsVirtual reports whether name matches the virtual/document printer denylist.
func IsVirtual(name string) bool {
	lower := strings.ToLower(name)
	for _, v := range virtualPrinters {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

// List returns physical printer names, enumerating only when the cache is
// stale. A failed enumeration returns an empty list and leaves the cache
// untouched so the next call retries.
func (c *Cache) List(ctx context.Context) []string {
	printers := c.Printers(ctx)
	names := make([]string, len(printers))
	for i, p := range printers {
		names[i] = p.Name
	}
	return names
}

// Printers is List with the default flag kept.
func (c *Cache) Printers(ctx context.Context) []printer.Info {
	c.mu.RLock()
	if cached, ok := c.entry.Get(); ok {
		c.mu.RUnlock()
		metrics.CacheHit(metrics.CacheDiscovery)
		return clone(cached)
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if cached, ok := c.entry.Get(); ok {
		metrics.CacheHit(metrics.CacheDiscovery)
		return clone(cached)
	}
	metrics.CacheMiss(metrics.CacheDiscovery)

	all, err := c.enum.EnumeratePrinters(ctx)
	metrics.OSQuery("enumerate", err == nil)
	if err != nil {
		logging.Logger.Warn("[PRINTERS] enumeration failed", zap.Error(err))
		return []printer.Info{}
	}

	physical := make([]printer.Info, 0, len(all))
	for _, p := range all {
		if p.Name == "" || IsVirtual(p.Name) {
			continue
		}
		physical = append(physical, p)
	}

	c.entry.Set(physical)
	logging.Logger.Debug("[PRINTERS] enumerated",
		zap.Int("installed", len(all)),
		zap.Int("physical", len(physical)))
	return clone(physical)
}

// Invalidate drops the cached list unconditionally.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entry.Clear()
	c.mu.Unlock()
	logging.Logger.Debug("[PRINTERS] discovery cache invalidated")
}

// Summary returns a lightweight summary for health checks. defaultName is the
// OS default as resolved by the status service, may be empty.
func (c *Cache) Summary(ctx context.Context, defaultName string) printer.Summary {
	printers := c.Printers(ctx)

	status := "ok"
	if len(printers) == 0 {
		status = "error"
	}
	if defaultName == "" {
		for _, p := range printers {
			if p.IsDefault {
				defaultName = p.Name
				break
			}
		}
	}

	return printer.Summary{
		Status:        status,
		DetectedCount: len(printers),
		DefaultName:   defaultName,
	}
}

// LogStartupDiagnostics logs printer info at service start
func (c *Cache) LogStartupDiagnostics(ctx context.Context) {
	printers := c.Printers(ctx)
	if len(printers) == 0 {
		logging.Logger.Warn("[PRINTERS] no physical printers detected")
		return
	}
	logging.Logger.Info("[PRINTERS] detected physical printers", zap.Int("count", len(printers)))
	for _, p := range printers {
		logging.Logger.Info("[PRINTERS] printer",
			zap.String("name", p.Name),
			zap.Bool("default", p.IsDefault))
	}
}

func clone(in []printer.Info) []printer.Info {
	out := make([]printer.Info, len(in))
	copy(out, in)
	return out
}
