// Package config defines environment-specific settings for the printer daemon.
package config

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Build variables, injected at compile time
var (
	BuildEnvironment = "local"
	BuildDate        = "unknown"
	BuildTime        = "unknown"
	// ServiceName is used for logging and as part of the log file path.
	ServiceName = "PrinterDaemon"
	// PasswordHashB64 is a base64-encoded bcrypt hash injected via ldflags.
	// If empty, admin operations are disabled.
	PasswordHashB64 = ""
	// AuthToken is injected via ldflags.
	// If empty, messages are accepted without token validation.
	AuthToken = ""
	// ServerPort is the default port for the service, can be overridden by environment config.
	ServerPort = "8766"
	// AllowedOrigins is a comma-separated list of allowed origins injected via ldflags.
	// Example: "https://pos.example.com,http://localhost:*"
	AllowedOrigins = ""
)

// EnvPrefix prefixes every environment variable read by the overlay.
const EnvPrefix = "PRINTD"

// CachePolicy holds the cache lifetimes and OS query timeout.
type CachePolicy struct {
	DiscoveryTTL      time.Duration
	DefaultPrinterTTL time.Duration
	StatusTTL         time.Duration
	// ErrorTTLReduction backdates failed status lookups so they expire sooner.
	ErrorTTLReduction time.Duration
	FastPathTTL       time.Duration
	QueryTimeout      time.Duration
}

// DefaultCachePolicy returns the stock lifetimes.
func DefaultCachePolicy() CachePolicy {
	return CachePolicy{
		DiscoveryTTL:      30 * time.Second,
		DefaultPrinterTTL: 30 * time.Second,
		StatusTTL:         15 * time.Second,
		ErrorTTLReduction: 5 * time.Second,
		FastPathTTL:       30 * time.Second,
		QueryTimeout:      3 * time.Second,
	}
}

// Environment holds environment-specific settings
type Environment struct {
	// Identificación
	Name        string
	ServiceName string

	// Red
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// TrustProxy honors X-Forwarded-For / X-Real-IP. Only enable behind a
	// reverse proxy that overwrites them.
	TrustProxy bool

	// Trabajos
	PrintRateLimit int // per client, per minute

	// Persistencia
	DBPath string // empty: <programData>/<ServiceName>/settings.db

	// Logging
	Verbose bool

	// Caches
	Cache CachePolicy

	// Security
	AllowedOrigins    []string
	AuthToken         string
	AdminPasswordHash string // base64 bcrypt
}

// LogPath returns the full log file path for this environment.
// Uses the convention: <programData>/<ServiceName>/<ServiceName>.log
func (e Environment) LogPath(programData string) string {
	return filepath.Join(programData, e.ServiceName, e.ServiceName+".log")
}

// SettingsDBPath returns the sqlite path, honoring an explicit DBPath.
func (e Environment) SettingsDBPath(programData string) string {
	if e.DBPath != "" {
		return e.DBPath
	}
	return filepath.Join(programData, e.ServiceName, "settings.db")
}

// environments defines available deployment configurations
var environments = map[string]Environment{
	"remote": {
		Name:           "REMOTO",
		ServiceName:    ServiceName,
		ListenAddr:     "0.0.0.0:" + ServerPort,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		PrintRateLimit: 30,
		Verbose:        false,
		Cache:          DefaultCachePolicy(),
		// By default, restrict to localhost and file (Electron) for security
		AllowedOrigins: []string{"http://localhost:*", "https://localhost:*", "file://*"},
	},
	"local": {
		Name:           "LOCAL",
		ServiceName:    ServiceName,
		ListenAddr:     "localhost:" + ServerPort,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		PrintRateLimit: 30,
		Verbose:        true,
		Cache:          DefaultCachePolicy(),
		// Allow all in local dev mode for convenience, but can be overridden
		AllowedOrigins: []string{"*"},
	},
}

// GetEnvironment returns config for the specified environment.
func GetEnvironment(env string) Environment {
	cfg, ok := environments[env]
	if !ok {
		log.Printf("[!] Unknown environment '%s', defaulting to 'local'", env)
		cfg = environments["local"]
	}

	// Override allowed origins from ldflags if provided
	if AllowedOrigins != "" {
		cfg.AllowedOrigins = strings.Split(AllowedOrigins, ",")
	}
	cfg.AuthToken = AuthToken
	cfg.AdminPasswordHash = PasswordHashB64

	return cfg
}

// NewViper returns a viper instance reading PRINTD_* variables and, when
// cfgFile is set, that YAML file. Without cfgFile it looks for
// printerd.yaml in the working directory and ./config, and a missing file
// is not an error.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(replacer())
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("printerd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

func replacer() *strings.Replacer { return strings.NewReplacer(".", "_") }

// Apply overlays the values present in v onto env.
func Apply(env Environment, v *viper.Viper) Environment {
	if v == nil {
		return env
	}
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			if d := v.GetDuration(key); d > 0 {
				*dst = d
			}
		}
	}

	str("server.listen_addr", &env.ListenAddr)
	str("db_path", &env.DBPath)
	str("auth_token", &env.AuthToken)
	str("admin_password_hash", &env.AdminPasswordHash)
	if v.IsSet("verbose") {
		env.Verbose = v.GetBool("verbose")
	}
	if v.IsSet("server.trust_proxy") {
		env.TrustProxy = v.GetBool("server.trust_proxy")
	}
	if v.IsSet("print_rate_limit") {
		if n := v.GetInt("print_rate_limit"); n > 0 {
			env.PrintRateLimit = n
		}
	}
	if v.IsSet("allowed_origins") {
		// Env vars arrive as one comma-separated string.
		var origins []string
		for _, o := range v.GetStringSlice("allowed_origins") {
			for _, part := range strings.Split(o, ",") {
				if part = strings.TrimSpace(part); part != "" {
					origins = append(origins, part)
				}
			}
		}
		env.AllowedOrigins = origins
	}

	dur("cache.discovery_ttl", &env.Cache.DiscoveryTTL)
	dur("cache.default_ttl", &env.Cache.DefaultPrinterTTL)
	dur("cache.status_ttl", &env.Cache.StatusTTL)
	dur("cache.error_ttl_reduction", &env.Cache.ErrorTTLReduction)
	dur("cache.fast_path_ttl", &env.Cache.FastPathTTL)
	dur("cache.query_timeout", &env.Cache.QueryTimeout)
	return env
}

// Load resolves the build environment and applies the overlay.
func Load(cfgFile string) (Environment, error) {
	env := GetEnvironment(BuildEnvironment)
	v, err := NewViper(cfgFile)
	if err != nil {
		return env, err
	}
	return Apply(env, v), nil
}
