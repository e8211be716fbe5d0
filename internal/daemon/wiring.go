package daemon

import (
	"os"

	"github.com/adcondev/printer-daemon/internal/config"
	"github.com/adcondev/printer-daemon/internal/discovery"
	"github.com/adcondev/printer-daemon/internal/orchestrator"
	"github.com/adcondev/printer-daemon/internal/platform"
	"github.com/adcondev/printer-daemon/internal/settings"
	"github.com/adcondev/printer-daemon/internal/status"
)

// StatusConfig maps the environment cache policy onto the status service.
func StatusConfig(p config.CachePolicy) status.Config {
	return status.Config{
		DefaultPrinterTTL: p.DefaultPrinterTTL,
		StatusTTL:         p.StatusTTL,
		ErrorTTLReduction: p.ErrorTTLReduction,
		FastPathTTL:       p.FastPathTTL,
		QueryTimeout:      p.QueryTimeout,
	}
}

// NewOrchestrator builds the print stack over store. A nil runner executes
// real OS commands.
func NewOrchestrator(env config.Environment, store settings.Store, runner platform.Runner) *orchestrator.Orchestrator {
	src := platform.NewSource(runner)
	return orchestrator.New(
		settings.NewResolver(store),
		discovery.New(src, nil, env.Cache.DiscoveryTTL),
		status.NewService(src, src, nil, StatusConfig(env.Cache)),
		platform.NewSpoolerRenderer(runner),
	)
}

// DataDir is the base directory for logs and the settings database:
// %PROGRAMDATA% on Windows, the user config dir elsewhere.
func DataDir() string {
	if dir := os.Getenv("PROGRAMDATA"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return os.TempDir()
}
