package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"asset-harvester/internal/model"
)

// option describes one setting. Name is the harvest.json key; the flag is
// Name with dashes and the environment variable is HARVEST_<NAME>.
type option struct {
	Name   string
	Usage  string
	Bool   bool
	Int    bool
	List   bool
	Secret bool
	NoFlag bool
	set    func(c *Config, raw string) error
	get    func(c Config) string
}

func stringOpt(name, usage string, field func(*Config) *string) option {
	return option{
		Name:  name,
		Usage: usage,
		set: func(c *Config, raw string) error {
			*field(c) = strings.TrimSpace(raw)
			return nil
		},
		get: func(c Config) string { return *field(&c) },
	}
}

func intOpt(name, usage string, field func(*Config) *int) option {
	return option{
		Name:  name,
		Usage: usage,
		Int:   true,
		set: func(c *Config, raw string) error {
			v, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("expected an integer")
			}
			*field(c) = v
			return nil
		},
		get: func(c Config) string { return strconv.Itoa(*field(&c)) },
	}
}

func boolOpt(name, usage string, field func(*Config) *bool) option {
	return option{
		Name:  name,
		Usage: usage,
		Bool:  true,
		set: func(c *Config, raw string) error {
			v, err := strconv.ParseBool(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("expected true or false")
			}
			*field(c) = v
			return nil
		},
		get: func(c Config) string { return strconv.FormatBool(*field(&c)) },
	}
}

func durationOpt(name, usage string, field func(*Config) *time.Duration) option {
	return option{
		Name:  name,
		Usage: usage,
		set: func(c *Config, raw string) error {
			v, err := parseDuration(raw)
			if err != nil {
				return err
			}
			*field(c) = v
			return nil
		},
		get: func(c Config) string { return field(&c).String() },
	}
}

func listOpt(name, usage string, field func(*Config) *[]string) option {
	return option{
		Name:  name,
		Usage: usage,
		List:  true,
		set: func(c *Config, raw string) error {
			*field(c) = splitList(raw)
			return nil
		},
		get: func(c Config) string { return strings.Join(*field(&c), ",") },
	}
}

// parseDuration accepts Go durations and plain seconds.
func parseDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("expected a duration like 30s or 5m")
	}
	return d, nil
}

func splitList(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '\n' })
	return cleanList(parts)
}

var options = []option{
	listOpt("seeds", "comma separated seeds: web page URLs, Google Drive folder URLs, s3://bucket/prefix", func(c *Config) *[]string { return &c.Seeds }),
	stringOpt("download_root", "directory that receives the mirrored files", func(c *Config) *string { return &c.DownloadRoot }),
	stringOpt("state_dir", "run state directory (default <download_root>/.harvest)", func(c *Config) *string { return &c.StateDir }),
	stringOpt("manifest_path", "manifest output path (default <download_root>/manifest.json)", func(c *Config) *string { return &c.ManifestPath }),
	intOpt("workers", "parallel download workers", func(c *Config) *int { return &c.Workers }),
	intOpt("discovery_workers", "seeds discovered in parallel", func(c *Config) *int { return &c.DiscoveryWorkers }),
	intOpt("max_attempts", "attempts per item before it stays failed", func(c *Config) *int { return &c.MaxAttempts }),
	durationOpt("backoff_base", "delay before the first retry", func(c *Config) *time.Duration { return &c.BackoffBase }),
	durationOpt("backoff_max", "upper bound for retry delays", func(c *Config) *time.Duration { return &c.BackoffMax }),
	durationOpt("item_timeout", "per-item transfer timeout (0 = none)", func(c *Config) *time.Duration { return &c.ItemTimeout }),
	durationOpt("run_timeout", "overall run timeout (0 = none)", func(c *Config) *time.Duration { return &c.RunTimeout }),
	intOpt("max_depth", "page recursion depth below a web seed", func(c *Config) *int { return &c.MaxDepth }),
	stringOpt("renderer", "page renderer: browser|static", func(c *Config) *string { return &c.Renderer }),
	boolOpt("headless", "run the browser headless", func(c *Config) *bool { return &c.Headless }),
	boolOpt("skip_install", "do not install the browser driver", func(c *Config) *bool { return &c.SkipInstall }),
	durationOpt("settle_delay", "extra wait after network idle for script inserted links", func(c *Config) *time.Duration { return &c.SettleDelay }),
	durationOpt("page_timeout", "page load timeout", func(c *Config) *time.Duration { return &c.PageTimeout }),
	stringOpt("user_agent", "HTTP user agent", func(c *Config) *string { return &c.UserAgent }),
	listOpt("extensions", "asset file extensions", func(c *Config) *[]string { return &c.Extensions }),
	listOpt("exclude_patterns", "URL substrings that are never followed or downloaded", func(c *Config) *[]string { return &c.ExcludePatterns }),
	listOpt("allowed_prefixes", "extra URL prefixes recursion may follow", func(c *Config) *[]string { return &c.AllowedPrefixes }),
	intOpt("download_limit_kbps", "shared bandwidth limit in KB/s (0 = unlimited)", func(c *Config) *int { return &c.DownloadLimitKBps }),
	stringOpt("proxy_mode", "proxy mode: off|shared|per_worker", func(c *Config) *string { return &c.ProxyMode }),
	listOpt("proxies", "proxy URLs", func(c *Config) *[]string { return &c.Proxies }),
	stringOpt("drive_credentials", "Google service account or OAuth client JSON file", func(c *Config) *string { return &c.DriveCredentials }),
	stringOpt("s3_region", "S3 region", func(c *Config) *string { return &c.S3Region }),
	stringOpt("s3_endpoint", "S3 compatible endpoint URL", func(c *Config) *string { return &c.S3Endpoint }),
	secret(stringOpt("s3_access_key_id", "", func(c *Config) *string { return &c.S3AccessKeyID })),
	secret(stringOpt("s3_secret_access_key", "", func(c *Config) *string { return &c.S3SecretAccessKey })),
	boolOpt("require_persistence", "abort the run when state cannot be written", func(c *Config) *bool { return &c.RequirePersistence }),
	durationOpt("persist_interval", "full state snapshot interval (0 = every transition)", func(c *Config) *time.Duration { return &c.PersistInterval }),
	durationOpt("snapshot_interval", "manifest snapshot interval during a run (0 = end only)", func(c *Config) *time.Duration { return &c.SnapshotInterval }),
	boolOpt("no_discover", "skip discovery and resume the stored queue", func(c *Config) *bool { return &c.NoDiscover }),
	boolOpt("plan_only", "discover and plan without downloading", func(c *Config) *bool { return &c.PlanOnly }),
	boolOpt("verify_hashes", "rehash completed files and download again when the sha256 changed", func(c *Config) *bool { return &c.VerifyHashes }),
	stringOpt("log_level", "log level: debug|info|warn|error", func(c *Config) *string { return &c.LogLevel }),
	boolOpt("log_json", "log JSON lines instead of console output", func(c *Config) *bool { return &c.LogJSON }),
	stringOpt("metrics_addr", "serve Prometheus metrics on this address", func(c *Config) *string { return &c.MetricsAddr }),
}

func secret(o option) option {
	o.Secret = true
	o.NoFlag = true
	return o
}

func lookupOption(name string) (option, bool) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for _, o := range options {
		if o.Name == key {
			return o, true
		}
	}
	return option{}, false
}

// Set assigns one option from its string form.
func (c *Config) Set(name, raw string) error {
	o, ok := lookupOption(name)
	if !ok {
		return model.Wrap(model.ErrConfig, name, fmt.Errorf("unknown option"))
	}
	if err := o.set(c, raw); err != nil {
		return model.Wrap(model.ErrConfig, o.Name, err)
	}
	return nil
}

type Entry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Entries lists every option with its current value; secrets are masked.
func (c Config) Entries() []Entry {
	out := make([]Entry, 0, len(options))
	for _, o := range options {
		v := o.get(c)
		if o.Secret && v != "" {
			v = "********"
		}
		out = append(out, Entry{Name: o.Name, Value: v})
	}
	return out
}

func envName(name string) string {
	return EnvPrefix + strings.ToUpper(name)
}

func flagName(name string) string {
	return strings.ReplaceAll(name, "_", "-")
}
