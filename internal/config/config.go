// Package config resolves the immutable settings snapshot of one run from
// defaults, an optional harvest.json file, the environment and CLI flags.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"asset-harvester/internal/discovery"
	"asset-harvester/internal/model"
	"asset-harvester/internal/retry"
	"asset-harvester/internal/transfer"
)

const (
	DefaultFileName     = "harvest.json"
	DefaultEnvFile      = ".env"
	DefaultDownloadRoot = "downloads"
	StateDirName        = ".harvest"
	EnvPrefix           = "HARVEST_"

	RendererBrowser = "browser"
	RendererStatic  = "static"
)

type Config struct {
	Seeds        []string
	DownloadRoot string
	StateDir     string
	ManifestPath string

	Workers          int
	DiscoveryWorkers int
	MaxAttempts      int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	ItemTimeout      time.Duration
	RunTimeout       time.Duration

	MaxDepth        int
	Renderer        string
	Headless        bool
	SkipInstall     bool
	SettleDelay     time.Duration
	PageTimeout     time.Duration
	UserAgent       string
	Extensions      []string
	ExcludePatterns []string
	AllowedPrefixes []string

	DownloadLimitKBps int
	ProxyMode         string
	Proxies           []string

	DriveCredentials  string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	RequirePersistence bool
	PersistInterval    time.Duration
	SnapshotInterval   time.Duration
	NoDiscover         bool
	PlanOnly           bool
	VerifyHashes       bool

	LogLevel    string
	LogJSON     bool
	MetricsAddr string

	// File is the settings file that was applied, if any.
	File string
}

func Default() Config {
	return Config{
		Seeds:            []string{},
		DownloadRoot:     DefaultDownloadRoot,
		Workers:          transfer.DefaultWorkers,
		DiscoveryWorkers: discovery.DefaultConcurrency,
		MaxAttempts:      retry.DefaultMaxAttempts,
		BackoffBase:      retry.DefaultBaseDelay,
		BackoffMax:       retry.DefaultMaxDelay,
		ItemTimeout:      transfer.DefaultItemTimeout,
		MaxDepth:         discovery.DefaultMaxDepth,
		Renderer:         RendererBrowser,
		Headless:         true,
		PageTimeout:      45 * time.Second,
		UserAgent:        "asset-harvester/1.0",
		Extensions:       append([]string(nil), discovery.DefaultExtensions...),
		ExcludePatterns:  append([]string(nil), discovery.DefaultExcludePatterns...),
		ProxyMode:        transfer.ProxyModeOff,
		PersistInterval:  5 * time.Second,
		LogLevel:         "info",
	}
}

// Normalized trims list values and derives the state and manifest paths from
// the download root when they are not set.
func (c Config) Normalized() Config {
	c.Seeds = cleanList(c.Seeds)
	c.Extensions = cleanList(c.Extensions)
	c.ExcludePatterns = cleanList(c.ExcludePatterns)
	c.AllowedPrefixes = cleanList(c.AllowedPrefixes)
	c.Proxies = transfer.NormalizeProxyList(c.Proxies)
	c.Renderer = strings.ToLower(strings.TrimSpace(c.Renderer))
	if mode := transfer.NormalizeProxyMode(c.ProxyMode); mode != "" {
		c.ProxyMode = mode
	}
	c.DownloadRoot = strings.TrimSpace(c.DownloadRoot)
	if strings.TrimSpace(c.StateDir) == "" && c.DownloadRoot != "" {
		c.StateDir = filepath.Join(c.DownloadRoot, StateDirName)
	}
	if strings.TrimSpace(c.ManifestPath) == "" && c.DownloadRoot != "" {
		c.ManifestPath = filepath.Join(c.DownloadRoot, "manifest.json")
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	return c
}

// Validate reports the first invalid setting as a configuration error.
func (c Config) Validate() error {
	bad := func(format string, args ...any) error {
		return model.Wrap(model.ErrConfig, "", fmt.Errorf(format, args...))
	}
	switch {
	case c.DownloadRoot == "":
		return bad("download root is required")
	case c.Workers < 1:
		return bad("workers must be >= 1")
	case c.DiscoveryWorkers < 1:
		return bad("discovery workers must be >= 1")
	case c.MaxAttempts < 1:
		return bad("max attempts must be >= 1")
	case c.BackoffBase <= 0:
		return bad("backoff base must be > 0")
	case c.BackoffMax < c.BackoffBase:
		return bad("backoff max must be >= backoff base")
	case c.ItemTimeout < 0 || c.RunTimeout < 0 || c.SettleDelay < 0 || c.PageTimeout < 0:
		return bad("timeouts must be >= 0")
	case c.PersistInterval < 0 || c.SnapshotInterval < 0:
		return bad("persist and snapshot intervals must be >= 0")
	case c.MaxDepth < 0:
		return bad("max depth must be >= 0")
	case c.DownloadLimitKBps < 0:
		return bad("download limit must be >= 0 KB/s")
	case c.Renderer != RendererBrowser && c.Renderer != RendererStatic:
		return bad("renderer must be %s or %s, got %q", RendererBrowser, RendererStatic, c.Renderer)
	}

	switch transfer.NormalizeProxyMode(c.ProxyMode) {
	case "":
		return bad("unknown proxy mode %q", c.ProxyMode)
	case transfer.ProxyModeShared:
		if len(c.Proxies) == 0 {
			return bad("proxy mode %q requires at least one proxy", transfer.ProxyModeShared)
		}
	case transfer.ProxyModePerWorker:
		if len(c.Proxies) == 0 {
			return bad("proxy mode %q requires at least one proxy", transfer.ProxyModePerWorker)
		}
		if c.Workers > len(c.Proxies) {
			return bad("proxy mode %q requires at least %d proxies for %d workers", transfer.ProxyModePerWorker, c.Workers, c.Workers)
		}
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return bad("invalid log level %q", c.LogLevel)
	}
	for _, seed := range c.Seeds {
		if _, err := discovery.ParseSeed(seed); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BackoffBase,
		Factor:      retry.DefaultFactor,
		MaxDelay:    c.BackoffMax,
	}
}

func (c Config) AssetPolicy() discovery.AssetPolicy {
	return discovery.AssetPolicy{Extensions: c.Extensions, ExcludePatterns: c.ExcludePatterns}
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
