// Package config provides configuration management for the Civitai gallery server.
// It handles loading and parsing YAML configuration files and exposes structured access to
// server, upstream, cache, storage and gallery settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultHost keeps the server on the loopback interface unless configured otherwise.
	DefaultHost = "127.0.0.1"

	// DefaultUpstreamURL is the public content API host.
	DefaultUpstreamURL = "https://civitai.com"

	// DefaultPort is the port the local server listens on when none is configured.
	DefaultPort = 8317

	// DefaultCacheDir is where downloaded models, thumbnails and metadata live.
	DefaultCacheDir = "~/.cache/comfy-civitai"

	// DefaultRequestTimeoutSeconds bounds metadata requests to the upstream API.
	DefaultRequestTimeoutSeconds = 30

	// DefaultPageSize is the number of models requested per gallery refresh.
	DefaultPageSize = 20
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the interface the local server binds to. Empty selects DefaultHost; use
	// "0.0.0.0" to bind all interfaces.
	Host string `yaml:"host" json:"host"`

	// AllowRemote lets non-loopback clients use the proxy, thumbnail and loader routes.
	// Management routes stay local only.
	AllowRemote bool `yaml:"allow-remote" json:"allow-remote"`

	// Port is the local server port.
	Port int `yaml:"port" json:"port"`

	// Debug enables debug level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile writes logs to a rotating file instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB caps the size of the logs directory. <= 0 disables the cap.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// UpstreamURL is the content API host requests are proxied to.
	UpstreamURL string `yaml:"upstream-url" json:"upstream-url"`

	// APIKey is the bearer key injected into upstream requests. CIVITAI_API_KEY is used when empty.
	APIKey string `yaml:"api-key" json:"api-key"`

	// CacheDir is the root of the local model cache. A leading ~ expands to the home directory.
	CacheDir string `yaml:"cache-dir" json:"cache-dir"`

	// RequestTimeoutSeconds bounds metadata requests. Downloads only bound the wait for response headers.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds" json:"request-timeout-seconds"`

	// RewriteDownloadURLs rewrites upstream download links in proxied JSON so that clients
	// download through this server and pick up the injected key.
	RewriteDownloadURLs bool `yaml:"rewrite-download-urls" json:"rewrite-download-urls"`

	// PreferredDownloadFormat selects which file variant of a version is downloaded.
	PreferredDownloadFormat DownloadFormat `yaml:"preferred-download-format" json:"preferred-download-format"`

	// Gallery configures the browsing filters.
	Gallery GalleryConfig `yaml:"gallery" json:"gallery"`

	// ObjectMirror configures the optional S3-compatible mirror of downloaded model files.
	ObjectMirror ObjectMirrorConfig `yaml:"object-mirror" json:"object-mirror"`

	// MetadataStore configures where model version metadata is persisted between runs.
	MetadataStore MetadataStoreConfig `yaml:"metadata-store" json:"metadata-store"`
}

// DownloadFormat describes a preferred file variant.
type DownloadFormat struct {
	FP     string `yaml:"fp" json:"fp"`
	Size   string `yaml:"size" json:"size"`
	Format string `yaml:"format" json:"format"`
}

// GalleryConfig holds gallery filter options.
type GalleryConfig struct {
	// BaseModels lists the base model filter values. The empty string means no filter.
	BaseModels []string `yaml:"base-models" json:"base-models"`

	// Periods lists the period filter values; the first one is the default.
	Periods []string `yaml:"periods" json:"periods"`

	// PageSize is the number of models fetched per refresh. <= 0 uses the upstream default.
	PageSize int `yaml:"page-size" json:"page-size"`
}

// ObjectMirrorConfig captures configuration for the S3-compatible model mirror.
type ObjectMirrorConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	AccessKey string `yaml:"access-key" json:"access-key"`
	SecretKey string `yaml:"secret-key" json:"secret-key"`
	Region    string `yaml:"region" json:"region"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl"`
}

// Enabled reports whether enough fields are set to build a mirror.
func (c ObjectMirrorConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != "" && strings.TrimSpace(c.Bucket) != ""
}

// MetadataStoreConfig selects the metadata persistence backend.
type MetadataStoreConfig struct {
	// PostgresDSN enables the Postgres backend when set. Otherwise metadata is kept as JSON files
	// under the cache directory.
	PostgresDSN string `yaml:"postgres-dsn" json:"postgres-dsn"`
	Schema      string `yaml:"schema" json:"schema"`
	Table       string `yaml:"table" json:"table"`
}

// DefaultBaseModels is the base model filter list offered by the gallery.
func DefaultBaseModels() []string {
	return []string{"", "SD 1.5", "SDXL 1.0"}
}

// DefaultPeriods is the period filter list offered by the gallery.
func DefaultPeriods() []string {
	return []string{"Month", "AllTime", "Year", "Week", "Day"}
}

// ApplyDefaults fills unset fields with their defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg == nil {
		return
	}
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	cfg.UpstreamURL = strings.TrimRight(strings.TrimSpace(cfg.UpstreamURL), "/")
	if cfg.UpstreamURL == "" {
		cfg.UpstreamURL = DefaultUpstreamURL
	}
	if strings.TrimSpace(cfg.CacheDir) == "" {
		cfg.CacheDir = DefaultCacheDir
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
	if cfg.PreferredDownloadFormat == (DownloadFormat{}) {
		cfg.PreferredDownloadFormat = DownloadFormat{FP: "fp16", Size: "pruned", Format: "SafeTensor"}
	}
	if len(cfg.Gallery.BaseModels) == 0 {
		cfg.Gallery.BaseModels = DefaultBaseModels()
	}
	if len(cfg.Gallery.Periods) == 0 {
		cfg.Gallery.Periods = DefaultPeriods()
	}
	if cfg.Gallery.PageSize == 0 {
		cfg.Gallery.PageSize = DefaultPageSize
	}
	if cfg.MetadataStore.Table == "" {
		cfg.MetadataStore.Table = "model_versions"
	}
}

// LoadConfig reads the configuration file at configFile. A missing file is an error.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads the configuration file at configFile. When optional is true a missing
// or empty file yields the default configuration instead of an error.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			cfg := &Config{}
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig decodes YAML data and applies defaults. Empty input yields the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Sanitized returns a copy safe to expose over the management API.
func (cfg *Config) Sanitized() Config {
	out := *cfg
	out.APIKey = maskSecret(out.APIKey)
	out.ObjectMirror.SecretKey = maskSecret(out.ObjectMirror.SecretKey)
	out.ObjectMirror.AccessKey = maskSecret(out.ObjectMirror.AccessKey)
	if out.MetadataStore.PostgresDSN != "" {
		out.MetadataStore.PostgresDSN = "***"
	}
	out.Gallery.BaseModels = append([]string(nil), cfg.Gallery.BaseModels...)
	out.Gallery.Periods = append([]string(nil), cfg.Gallery.Periods...)
	return out
}

func maskSecret(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "***"
	}
	return value[:4] + "..." + value[len(value)-4:]
}
