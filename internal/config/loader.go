package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidSTTProviders lists the transcription backends compiled into the binary.
// Used by [Validate] to warn about unrecognised provider names.
var ValidSTTProviders = []string{"whisper", "whisper-native", "openai", "deepgram"}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxDuration     = 30 * time.Second
	DefaultTimeslice       = 100 * time.Millisecond
	DefaultLevelInterval   = 100 * time.Millisecond
	DefaultMaxUploadBytes  = 32 << 20
	DefaultMetricsPath     = "/metrics"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// ${VAR} references are expanded from the environment before parsing, so API
// keys can stay out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(expandEnv(data)))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// expandEnv substitutes ${VAR} and $VAR references. Unset variables become
// empty strings.
func expandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every zero field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Audio.TargetSampleRate == 0 {
		cfg.Audio.TargetSampleRate = 16000
	}
	if cfg.Audio.TargetChannels == 0 {
		cfg.Audio.TargetChannels = 1
	}
	if cfg.Audio.MaxDuration == 0 {
		cfg.Audio.MaxDuration = DefaultMaxDuration
	}
	if cfg.Audio.Timeslice == 0 {
		cfg.Audio.Timeslice = DefaultTimeslice
	}
	if cfg.Audio.LevelInterval == 0 {
		cfg.Audio.LevelInterval = DefaultLevelInterval
	}
	if cfg.Ingest.MaxUploadBytes == 0 {
		cfg.Ingest.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "voicebank"
	}
	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = DefaultMetricsPath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %v must not be negative", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	if cfg.Audio.TargetSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.target_sample_rate %d must be positive", cfg.Audio.TargetSampleRate))
	}
	if cfg.Audio.TargetChannels < 0 {
		errs = append(errs, fmt.Errorf("audio.target_channels %d must be positive", cfg.Audio.TargetChannels))
	}
	for name, d := range map[string]time.Duration{
		"audio.max_duration":   cfg.Audio.MaxDuration,
		"audio.timeslice":      cfg.Audio.Timeslice,
		"audio.level_interval": cfg.Audio.LevelInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s %v must not be negative", name, d))
		}
	}

	// Quality
	if err := cfg.Quality.Resolved().Validate(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Audio.MaxDuration > 0 && cfg.Audio.MaxDuration > cfg.Quality.Resolved().MaxDuration {
		slog.Warn("audio.max_duration exceeds quality.max_duration; long captures will be rejected",
			"capture_max", cfg.Audio.MaxDuration,
			"quality_max", cfg.Quality.Resolved().MaxDuration,
		)
	}

	// Ingest
	if cfg.Ingest.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("ingest.max_upload_bytes %d must not be negative", cfg.Ingest.MaxUploadBytes))
	}

	// Providers
	entries := append([]ProviderEntry{cfg.Providers.STT}, cfg.Providers.STTFallbacks...)
	labels := make(map[string]int, len(entries))
	for i, e := range entries {
		prefix := "providers.stt"
		if i > 0 {
			prefix = fmt.Sprintf("providers.stt_fallbacks[%d]", i-1)
		}
		if e.Name == "" {
			if i > 0 {
				errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			}
			continue
		}
		validateProviderName(e.Name)
		if prev, ok := labels[e.Label()]; ok {
			errs = append(errs, fmt.Errorf("%s label %q duplicates entry %d; set options.label to tell them apart", prefix, e.Label(), prev))
		}
		labels[e.Label()] = i
	}
	if cfg.Providers.STT.Name == "" && len(cfg.Providers.STTFallbacks) > 0 {
		errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; transcription requests will be rejected")
	}
	if b := cfg.Providers.Breaker; b.MaxFailures < 0 || b.HalfOpenMax < 0 || b.ResetTimeout < 0 {
		errs = append(errs, errors.New("providers.breaker values must not be negative"))
	}

	// Storage
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; submissions are kept in memory and lost on restart")
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRate; r != nil && (*r < 0 || *r > 1) {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_rate %v is out of range [0, 1]", *r))
	}
	if p := cfg.Telemetry.MetricsPath; p != "" && p[0] != '/' {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", p))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not one of
// [ValidSTTProviders].
func validateProviderName(name string) {
	if slices.Contains(ValidSTTProviders, name) {
		return
	}
	slog.Warn("unknown stt provider name; may be a typo or third-party provider",
		"name", name,
		"known", ValidSTTProviders,
	)
}
