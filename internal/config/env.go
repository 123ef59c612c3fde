package config

import (
	"os"
	"strings"
)

// ApplyEnvOverrides lets container deployments configure storage without editing the file.
// It runs after every load, including hot reloads, so the environment keeps precedence.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if value, ok := lookupEnv("PGSTORE_DSN", "pgstore_dsn"); ok {
		cfg.MetadataStore.PostgresDSN = value
	}
	if value, ok := lookupEnv("PGSTORE_SCHEMA", "pgstore_schema"); ok {
		cfg.MetadataStore.Schema = value
	}
	if value, ok := lookupEnv("OBJECTSTORE_ENDPOINT", "objectstore_endpoint"); ok {
		cfg.ObjectMirror.Endpoint = value
	}
	if value, ok := lookupEnv("OBJECTSTORE_BUCKET", "objectstore_bucket"); ok {
		cfg.ObjectMirror.Bucket = value
	}
	if value, ok := lookupEnv("OBJECTSTORE_ACCESS_KEY", "objectstore_access_key"); ok {
		cfg.ObjectMirror.AccessKey = value
	}
	if value, ok := lookupEnv("OBJECTSTORE_SECRET_KEY", "objectstore_secret_key"); ok {
		cfg.ObjectMirror.SecretKey = value
	}
	if value, ok := lookupEnv("CACHE_DIR", "cache_dir"); ok {
		cfg.CacheDir = value
	}
}

// lookupEnv returns the first non-blank value among keys, trimmed.
func lookupEnv(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed, true
			}
		}
	}
	return "", false
}
