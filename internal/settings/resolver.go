package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/adcondev/printer-daemon/internal/logging"
)

// Resolver merges persisted partial settings over Defaults. The persisted
// record is read once per Resolver; after that the in-memory copy is
// authoritative and only Save/ResetToDefaults change it.
type Resolver struct {
	store Store

	// writeMu serializes Save and ResetToDefaults.
	writeMu sync.Mutex

	mu      sync.RWMutex
	loaded  bool
	current PrinterSettings
}

// NewResolver creates a resolver backed by store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Get returns the resolved settings. It never fails: any problem reading the
// store yields defaults.
func (r *Resolver) Get(ctx context.Context) PrinterSettings {
	r.mu.RLock()
	if r.loaded {
		s := r.current
		r.mu.RUnlock()
		return s
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		r.current = r.load(ctx)
		r.loaded = true
	}
	return r.current
}

func (r *Resolver) load(ctx context.Context) PrinterSettings {
	raw, ok, err := r.store.Get(ctx, Key)
	if err != nil {
		logging.Logger.Warn("[SETTINGS] store read failed, using defaults", zap.Error(err))
		return Defaults()
	}
	if !ok || raw == "" {
		return Defaults()
	}

	var p Partial
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		logging.Logger.Warn("[SETTINGS] stored record is not valid JSON, using defaults", zap.Error(err))
		return Defaults()
	}
	return Merge(Defaults(), p)
}

// Save merges p over the current resolved settings, validates the result and
// persists the full record. The in-memory copy only changes once the write
// succeeded.
func (r *Resolver) Save(ctx context.Context, p Partial) (PrinterSettings, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	next := Merge(r.Get(ctx), p)
	if err := next.Validate(); err != nil {
		return PrinterSettings{}, err
	}
	if err := r.persist(ctx, next); err != nil {
		return PrinterSettings{}, err
	}

	logging.Logger.Info("[SETTINGS] saved",
		zap.String("printer", next.PrinterName),
		zap.String("paper", string(next.PaperSize)),
		zap.Int("copies", next.Copies))
	return next, nil
}

// ResetToDefaults persists the default record verbatim.
func (r *Resolver) ResetToDefaults(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.persist(ctx, Defaults()); err != nil {
		return err
	}
	logging.Logger.Info("[SETTINGS] reset to defaults")
	return nil
}

func (r *Resolver) persist(ctx context.Context, s PrinterSettings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := r.store.Set(ctx, Key, string(data)); err != nil {
		return fmt.Errorf("persisting settings: %w", err)
	}

	r.mu.Lock()
	r.current = s
	r.loaded = true
	r.mu.Unlock()
	return nil
}
