package plugin

import "github.com/dm/es-cluster-runner/internal/settings"

// Built-in module names.
const (
	SecurityDisabled        = "security-disabled"
	MLDisabled              = "ml-disabled"
	GeoIPDownloaderDisabled = "geoip-downloader-disabled"
	DiskThresholdDisabled   = "disk-threshold-disabled"
	CORS                    = "cors"
)

// DefaultModules are applied when the configuration names no modules.
var DefaultModules = []string{
	SecurityDisabled,
	MLDisabled,
	GeoIPDownloaderDisabled,
	DiskThresholdDisabled,
}

// Static is a Plugin that fills a fixed set of keys.
type Static struct {
	ID       string
	Defaults map[string]string
}

func (s *Static) Name() string { return s.ID }

func (s *Static) Configure(_ int, b *settings.Builder) {
	for k, v := range s.Defaults {
		b.PutIfAbsent(k, v)
	}
}

func static(id string, kv ...string) Factory {
	return func() Plugin {
		m := make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			m[kv[i]] = kv[i+1]
		}
		return &Static{ID: id, Defaults: m}
	}
}

func init() {
	Register(SecurityDisabled, static(SecurityDisabled,
		"xpack.security.enabled", "false",
	))
	Register(MLDisabled, static(MLDisabled,
		"xpack.ml.enabled", "false",
	))
	Register(GeoIPDownloaderDisabled, static(GeoIPDownloaderDisabled,
		"ingest.geoip.downloader.enabled", "false",
	))
	Register(DiskThresholdDisabled, static(DiskThresholdDisabled,
		"cluster.routing.allocation.disk.threshold_enabled", "false",
	))
	Register(CORS, static(CORS,
		"http.cors.enabled", "true",
		"http.cors.allow-origin", "*",
	))
}
