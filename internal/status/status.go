// Package status determina si una impresora está en línea. Mantiene tres
// caches independientes: nombre de la impresora por defecto, estado por
// impresora y el fast-path de impresiones exitosas recientes.
package status

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/adcondev/printer-daemon/internal/cache"
	"github.com/adcondev/printer-daemon/internal/logging"
	"github.com/adcondev/printer-daemon/internal/metrics"
	"github.com/adcondev/printer-daemon/internal/printer"
)

// MsgNameRequired is returned for blank printer names.
const MsgNameRequired = "Printer name is required"

// ErrPrinterNotFound is returned by sources when the OS does not know the printer.
var ErrPrinterNotFound = errors.New("printer not found")

// DefaultPrinterNameSource queries the OS default printer. An empty name with
// a nil error means there is no default.
type DefaultPrinterNameSource interface {
	QueryDefaultPrinterName(ctx context.Context) (string, error)
}

// PrinterOfflineSource queries whether a printer is offline.
type PrinterOfflineSource interface {
	QueryIsPrinterOffline(ctx context.Context, name string) (bool, error)
}

// Config controls TTLs and the query timeout. Zero values take defaults.
type Config struct {
	DefaultPrinterTTL time.Duration
	StatusTTL         time.Duration
	// ErrorTTLReduction backdates error results so they expire this much
	// sooner than StatusTTL.
	ErrorTTLReduction time.Duration
	FastPathTTL       time.Duration
	QueryTimeout      time.Duration
}

func configWithDefaults(cfg Config) Config {
	if cfg.DefaultPrinterTTL == 0 {
		cfg.DefaultPrinterTTL = 30 * time.Second
	}
	if cfg.StatusTTL == 0 {
		cfg.StatusTTL = 15 * time.Second
	}
	if cfg.ErrorTTLReduction == 0 {
		cfg.ErrorTTLReduction = 5 * time.Second
	}
	if cfg.ErrorTTLReduction >= cfg.StatusTTL {
		cfg.ErrorTTLReduction = cfg.StatusTTL / 2
	}
	if cfg.FastPathTTL == 0 {
		cfg.FastPathTTL = 30 * time.Second
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 3 * time.Second
	}
	return cfg
}

// defaultName distinguishes "no default" (ok=false) from "not yet queried"
// (no entry at all).
type defaultName struct {
	name string
	ok   bool
}

// Stats is a read-only snapshot of cache occupancy.
type Stats struct {
	StatusEntries    int  `json:"statusEntries"`
	FastPathEntries  int  `json:"fastPathEntries"`
	HasDefaultCached bool `json:"hasDefaultCached"`
}

// Service owns the default-printer, status and fast-path caches. No other
// component reads or writes them.
type Service struct {
	defaults DefaultPrinterNameSource
	offline  PrinterOfflineSource
	clock    cache.Clock
	cfg      Config

	defaultCache *cache.Slot[defaultName]
	statusCache  *cache.Keyed[printer.StatusResult]
	fastPath     *cache.Keyed[struct{}]

	group singleflight.Group
}

// NewService wires the status service. A nil clock uses the system clock.
func NewService(defaults DefaultPrinterNameSource, offline PrinterOfflineSource, clock cache.Clock, cfg Config) *Service {
	if clock == nil {
		clock = cache.SystemClock{}
	}
	cfg = configWithDefaults(cfg)
	return &Service{
		defaults:     defaults,
		offline:      offline,
		clock:        clock,
		cfg:          cfg,
		defaultCache: cache.NewSlot[defaultName](clock, cfg.DefaultPrinterTTL),
		statusCache:  cache.NewKeyed[printer.StatusResult](clock, cfg.StatusTTL),
		fastPath:     cache.NewKeyed[struct{}](clock, cfg.FastPathTTL),
	}
}

func cacheKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// GetDefaultPrinterName returns the OS default printer. Failures are treated
// as "no default" and that absence is cached for the full TTL.
func (s *Service) GetDefaultPrinterName(ctx context.Context) (string, bool) {
	if d, ok := s.defaultCache.Get(); ok {
		metrics.CacheHit(metrics.CacheDefault)
		return d.name, d.ok
	}
	metrics.CacheMiss(metrics.CacheDefault)

	ch := s.group.DoChan("\x00default", func() (interface{}, error) {
		qctx, cancel := s.queryContext(ctx)
		defer cancel()

		name, err := s.defaults.QueryDefaultPrinterName(qctx)
		name = strings.TrimSpace(name)
		metrics.OSQuery("default_printer", err == nil)

		var d defaultName
		switch {
		case err != nil:
			logging.Logger.Warn("[STATUS] default printer query failed", zap.Error(err))
		case name == "":
			logging.Logger.Debug("[STATUS] OS reports no default printer")
		default:
			d = defaultName{name: name, ok: true}
		}
		s.defaultCache.Set(d)
		return d, nil
	})

	select {
	case res := <-ch:
		d := res.Val.(defaultName)
		return d.name, d.ok
	case <-ctx.Done():
		// The shared query keeps running and fills the cache.
		return "", false
	}
}

// queryContext detaches a shared OS query from the caller's cancellation;
// only QueryTimeout bounds it.
func (s *Service) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.QueryTimeout)
}

// CheckStatus reports whether name is online. Unless skipCache is set, a
// recent print success answers first, then a fresh status entry; otherwise
// the OS is queried and the result cached. Query errors come back as an
// offline result cached with a shortened TTL.
func (s *Service) CheckStatus(ctx context.Context, name string, skipCache bool) printer.StatusResult {
	name = strings.TrimSpace(name)
	if name == "" {
		return printer.StatusResult{IsOnline: false, Message: MsgNameRequired}
	}
	key := cacheKey(name)

	if !skipCache {
		if _, ok := s.fastPath.Get(key); ok {
			metrics.CacheHit(metrics.CacheFastPath)
			return printer.StatusResult{IsOnline: true, Message: "Printer recently printed successfully"}
		}
		if r, ok := s.statusCache.Get(key); ok {
			metrics.CacheHit(metrics.CacheStatus)
			return r
		}
		metrics.CacheMiss(metrics.CacheStatus)
	}

	ch := s.group.DoChan(key, func() (interface{}, error) {
		return s.queryStatus(ctx, name, key), nil
	})

	select {
	case res := <-ch:
		return res.Val.(printer.StatusResult)
	case <-ctx.Done():
		return printer.StatusResult{
			IsOnline: false,
			Message:  fmt.Sprintf("Status check for printer '%s' cancelled", name),
		}
	}
}

func (s *Service) queryStatus(ctx context.Context, name, key string) printer.StatusResult {
	qctx, cancel := s.queryContext(ctx)
	defer cancel()

	offline, err := s.offline.QueryIsPrinterOffline(qctx, name)
	metrics.OSQuery("printer_status", err == nil)
	// Timestamp after the query resolves.
	now := s.clock.Now()

	if err != nil {
		r := printer.StatusResult{IsOnline: false, Message: describeQueryError(qctx, name, err)}
		s.statusCache.SetAt(key, r, now.Add(-s.cfg.ErrorTTLReduction))
		logging.Logger.Warn("[STATUS] printer status query failed",
			zap.String("printer", name),
			zap.Error(err))
		return r
	}

	r := printer.StatusResult{IsOnline: !offline, Message: "Printer is online"}
	if offline {
		r.Message = "Printer is offline"
	}
	s.statusCache.SetAt(key, r, now)
	logging.Logger.Debug("[STATUS] printer status",
		zap.String("printer", name),
		zap.Bool("online", r.IsOnline))
	return r
}

func describeQueryError(ctx context.Context, name string, err error) string {
	switch {
	case errors.Is(err, ErrPrinterNotFound):
		return fmt.Sprintf("Printer '%s' not found", name)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("Timed out checking printer '%s'", name)
	default:
		return fmt.Sprintf("Unable to determine status of printer '%s': %v", name, err)
	}
}

// MarkSuccess records a successful print for name. The orchestrator calls it
// only after the renderer reported success.
func (s *Service) MarkSuccess(name string) {
	key := cacheKey(name)
	if key == "" {
		return
	}
	s.fastPath.Set(key, struct{}{})
}

// InvalidateAll clears the status, fast-path and default-printer caches.
func (s *Service) InvalidateAll() {
	s.statusCache.Clear()
	s.fastPath.Clear()
	s.defaultCache.Clear()
	logging.Logger.Info("[STATUS] all printer caches invalidated")
}

// Stats returns cache occupancy without side effects.
func (s *Service) Stats() Stats {
	return Stats{
		StatusEntries:    s.statusCache.Len(),
		FastPathEntries:  s.fastPath.Len(),
		HasDefaultCached: s.defaultCache.Present(),
	}
}
