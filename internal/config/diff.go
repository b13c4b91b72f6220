package config

import "github.com/MrWong99/voicebank/pkg/audio/quality"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	QualityChanged bool
	NewThresholds  quality.Thresholds

	FallbackChanged  bool
	NewAllowFallback bool

	// RestartRequired lists the sections that changed but are not applied
	// until the process restarts.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.QualityChanged || d.FallbackChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if ot, nt := old.Quality.Resolved(), new.Quality.Resolved(); ot != nt {
		d.QualityChanged = true
		d.NewThresholds = nt
	}

	if old.Ingest.AllowFallback != new.Ingest.AllowFallback {
		d.FallbackChanged = true
		d.NewAllowFallback = new.Ingest.AllowFallback
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Ingest.MaxUploadBytes != new.Ingest.MaxUploadBytes {
		d.RestartRequired = append(d.RestartRequired, "ingest.max_upload_bytes")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameProviders compares the scalar provider fields. Options maps are not
// compared.
func sameProviders(a, b ProvidersConfig) bool {
	if a.Breaker != b.Breaker || len(a.STTFallbacks) != len(b.STTFallbacks) {
		return false
	}
	if !sameEntry(a.STT, b.STT) {
		return false
	}
	for i := range a.STTFallbacks {
		if !sameEntry(a.STTFallbacks[i], b.STTFallbacks[i]) {
			return false
		}
	}
	return true
}

func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
