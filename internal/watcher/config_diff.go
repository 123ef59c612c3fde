package watcher

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/router-for-me/CivitaiGallery/internal/config"
)

// BuildConfigChangeDetails lists human readable differences between two configs.
// Secrets are reported as added, updated or deleted, never by value.
func BuildConfigChangeDetails(oldCfg, newCfg *config.Config) []string {
	changes := make([]string, 0, 16)
	if oldCfg == nil || newCfg == nil {
		return changes
	}

	if oldCfg.Host != newCfg.Host {
		changes = append(changes, fmt.Sprintf("host: %q -> %q", oldCfg.Host, newCfg.Host))
	}
	if oldCfg.Port != newCfg.Port {
		changes = append(changes, fmt.Sprintf("port: %d -> %d", oldCfg.Port, newCfg.Port))
	}
	if oldCfg.Debug != newCfg.Debug {
		changes = append(changes, fmt.Sprintf("debug: %t -> %t", oldCfg.Debug, newCfg.Debug))
	}
	if oldCfg.LoggingToFile != newCfg.LoggingToFile {
		changes = append(changes, fmt.Sprintf("logging-to-file: %t -> %t", oldCfg.LoggingToFile, newCfg.LoggingToFile))
	}
	if oldCfg.LogsMaxTotalSizeMB != newCfg.LogsMaxTotalSizeMB {
		changes = append(changes, fmt.Sprintf("logs-max-total-size-mb: %d -> %d", oldCfg.LogsMaxTotalSizeMB, newCfg.LogsMaxTotalSizeMB))
	}
	if oldCfg.ProxyURL != newCfg.ProxyURL {
		changes = append(changes, fmt.Sprintf("proxy-url: %s -> %s", formatProxyURL(oldCfg.ProxyURL), formatProxyURL(newCfg.ProxyURL)))
	}
	if oldCfg.UpstreamURL != newCfg.UpstreamURL {
		changes = append(changes, fmt.Sprintf("upstream-url: %s -> %s", oldCfg.UpstreamURL, newCfg.UpstreamURL))
	}
	if d := secretChange(oldCfg.APIKey, newCfg.APIKey); d != "" {
		changes = append(changes, "api-key: "+d)
	}
	if oldCfg.CacheDir != newCfg.CacheDir {
		changes = append(changes, fmt.Sprintf("cache-dir: %s -> %s", oldCfg.CacheDir, newCfg.CacheDir))
	}
	if oldCfg.RequestTimeoutSeconds != newCfg.RequestTimeoutSeconds {
		changes = append(changes, fmt.Sprintf("request-timeout-seconds: %d -> %d", oldCfg.RequestTimeoutSeconds, newCfg.RequestTimeoutSeconds))
	}
	if oldCfg.RewriteDownloadURLs != newCfg.RewriteDownloadURLs {
		changes = append(changes, fmt.Sprintf("rewrite-download-urls: %t -> %t", oldCfg.RewriteDownloadURLs, newCfg.RewriteDownloadURLs))
	}
	if oldCfg.PreferredDownloadFormat != newCfg.PreferredDownloadFormat {
		o, n := oldCfg.PreferredDownloadFormat, newCfg.PreferredDownloadFormat
		changes = append(changes, fmt.Sprintf("preferred-download-format: %s/%s/%s -> %s/%s/%s", o.FP, o.Size, o.Format, n.FP, n.Size, n.Format))
	}
	if !equalStrings(oldCfg.Gallery.BaseModels, newCfg.Gallery.BaseModels) {
		changes = append(changes, fmt.Sprintf("gallery.base-models: %v -> %v", trimStrings(oldCfg.Gallery.BaseModels), trimStrings(newCfg.Gallery.BaseModels)))
	}
	if !equalStrings(oldCfg.Gallery.Periods, newCfg.Gallery.Periods) {
		changes = append(changes, fmt.Sprintf("gallery.periods: %v -> %v", trimStrings(oldCfg.Gallery.Periods), trimStrings(newCfg.Gallery.Periods)))
	}
	if oldCfg.Gallery.PageSize != newCfg.Gallery.PageSize {
		changes = append(changes, fmt.Sprintf("gallery.page-size: %d -> %d", oldCfg.Gallery.PageSize, newCfg.Gallery.PageSize))
	}

	om, nm := oldCfg.ObjectMirror, newCfg.ObjectMirror
	if om.Endpoint != nm.Endpoint {
		changes = append(changes, fmt.Sprintf("object-mirror.endpoint: %s -> %s", om.Endpoint, nm.Endpoint))
	}
	if om.Bucket != nm.Bucket {
		changes = append(changes, fmt.Sprintf("object-mirror.bucket: %s -> %s", om.Bucket, nm.Bucket))
	}
	if om.Prefix != nm.Prefix {
		changes = append(changes, fmt.Sprintf("object-mirror.prefix: %s -> %s", om.Prefix, nm.Prefix))
	}
	if d := secretChange(om.AccessKey, nm.AccessKey); d != "" {
		changes = append(changes, "object-mirror.access-key: "+d)
	}
	if d := secretChange(om.SecretKey, nm.SecretKey); d != "" {
		changes = append(changes, "object-mirror.secret-key: "+d)
	}
	if d := secretChange(oldCfg.MetadataStore.PostgresDSN, newCfg.MetadataStore.PostgresDSN); d != "" {
		changes = append(changes, "metadata-store.postgres-dsn: "+d)
	}
	if oldCfg.MetadataStore.Table != newCfg.MetadataStore.Table {
		changes = append(changes, fmt.Sprintf("metadata-store.table: %s -> %s", oldCfg.MetadataStore.Table, newCfg.MetadataStore.Table))
	}
	return changes
}

func secretChange(oldValue, newValue string) string {
	oldValue, newValue = strings.TrimSpace(oldValue), strings.TrimSpace(newValue)
	switch {
	case oldValue == newValue:
		return ""
	case oldValue == "":
		return "added"
	case newValue == "":
		return "deleted"
	default:
		return "updated"
	}
}

func trimStrings(in []string) []string {
	out := make([]string, len(in))
	for i := range in {
		out[i] = strings.TrimSpace(in[i])
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if strings.TrimSpace(a[i]) != strings.TrimSpace(b[i]) {
			return false
		}
	}
	return true
}

// formatProxyURL keeps scheme and host only, so credentials never reach the logs.
func formatProxyURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "<none>"
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "<redacted>"
	}
	host := strings.TrimSpace(parsed.Host)
	scheme := strings.TrimSpace(parsed.Scheme)
	if host == "" {
		// "host:port/path" parses with the host as scheme.
		if withScheme, errRetry := url.Parse("http://" + trimmed); errRetry == nil && withScheme.Host != "" && scheme != "" && parsed.Opaque != "" {
			return withScheme.Host
		}
		return "<redacted>"
	}
	if scheme == "" {
		return host
	}
	return scheme + "://" + host
}
