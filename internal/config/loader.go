package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/typeless/internal/hotkey"
	"github.com/MrWong99/typeless/internal/models"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultTrigger                = "alt_r"
	DefaultPermissionPollInterval = time.Second
	DefaultEdgeBuffer             = 16
	DefaultSampleRate             = 16000
	DefaultModel                  = "sensevoice-small"
	DefaultWarmupDuration         = 500 * time.Millisecond
	DefaultDecodeRetries          = 3
	DefaultProbeTimeout           = 5 * time.Second
	DefaultRestoreDelay           = 100 * time.Millisecond
	DefaultKeyDelay               = 5 * time.Millisecond
)

// DefaultMirrors is used when the config lists no mirrors. The first entry
// is also the default mirror.
var DefaultMirrors = []MirrorConfig{
	{Name: "origin", Template: "{url}"},
	{Name: "ghproxy", Template: "https://ghfast.top/{url}"},
	{Name: "hf-mirror", Template: "https://hf-mirror.com{path}"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like [Load] but returns the default configuration when
// path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("config file not found, using defaults", "path", path)
		cfg = &Config{}
		ApplyDefaults(cfg)
		return cfg, Validate(cfg)
	}
	return cfg, err
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
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

// ApplyDefaults fills every unset field of cfg with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = LogInfo
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 3
	}

	if cfg.Hotkey.Trigger == "" {
		cfg.Hotkey.Trigger = DefaultTrigger
	}
	if cfg.Hotkey.PermissionPollInterval == 0 {
		cfg.Hotkey.PermissionPollInterval = DefaultPermissionPollInterval
	}
	if cfg.Hotkey.EdgeBuffer == 0 {
		cfg.Hotkey.EdgeBuffer = DefaultEdgeBuffer
	}

	if cfg.Audio.TempDir == "" {
		cfg.Audio.TempDir = os.TempDir()
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.BitDepth == 0 {
		cfg.Audio.BitDepth = 16
	}

	if cfg.Speech.Model == "" {
		cfg.Speech.Model = DefaultModel
	}
	if cfg.Speech.Language == "" {
		cfg.Speech.Language = "auto"
	}
	if cfg.Speech.WarmupDuration == 0 {
		cfg.Speech.WarmupDuration = DefaultWarmupDuration
	}
	if cfg.Speech.DecodeRetries == nil {
		n := DefaultDecodeRetries
		cfg.Speech.DecodeRetries = &n
	}

	if cfg.Models.Root == "" {
		cfg.Models.Root = defaultModelRoot()
	}
	if len(cfg.Models.Mirrors) == 0 {
		cfg.Models.Mirrors = append([]MirrorConfig(nil), DefaultMirrors...)
	}
	if cfg.Models.DefaultMirror == "" {
		cfg.Models.DefaultMirror = cfg.Models.Mirrors[0].Name
	}
	if cfg.Models.ProbeTimeout == 0 {
		cfg.Models.ProbeTimeout = DefaultProbeTimeout
	}

	if cfg.Inject.Mode == "" {
		cfg.Inject.Mode = InjectClipboard
	}
	if cfg.Inject.RestoreDelay == 0 {
		cfg.Inject.RestoreDelay = DefaultRestoreDelay
	}
	if cfg.Inject.KeyDelay == 0 {
		cfg.Inject.KeyDelay = DefaultKeyDelay
	}
}

func defaultModelRoot() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "typeless", "models")
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Log.Level != "" && !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 {
		errs = append(errs, errors.New("log.max_size_mb and log.max_backups must not be negative"))
	}

	if _, err := hotkey.ParseModifier(cfg.Hotkey.Trigger); err != nil {
		errs = append(errs, fmt.Errorf("hotkey.trigger: %w", err))
	}
	if cfg.Hotkey.PermissionPollInterval < 0 {
		errs = append(errs, fmt.Errorf("hotkey.permission_poll_interval %s must not be negative", cfg.Hotkey.PermissionPollInterval))
	}
	if cfg.Hotkey.EdgeBuffer < 0 {
		errs = append(errs, fmt.Errorf("hotkey.edge_buffer %d must not be negative", cfg.Hotkey.EdgeBuffer))
	}

	// Recognition engines only accept 16 kHz mono input.
	if cfg.Audio.SampleRate != 0 && cfg.Audio.SampleRate != DefaultSampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is unsupported; only %d is accepted", cfg.Audio.SampleRate, DefaultSampleRate))
	}
	if cfg.Audio.Channels != 0 && cfg.Audio.Channels != 1 {
		errs = append(errs, fmt.Errorf("audio.channels %d is unsupported; only mono is accepted", cfg.Audio.Channels))
	}
	if cfg.Audio.BitDepth != 0 && cfg.Audio.BitDepth != 16 {
		errs = append(errs, fmt.Errorf("audio.bit_depth %d is unsupported; only 16 is accepted", cfg.Audio.BitDepth))
	}

	if cfg.Speech.Model != "" {
		if _, ok := models.DefaultCatalog().Lookup(cfg.Speech.Model); !ok {
			errs = append(errs, fmt.Errorf("speech.model %q is not a known model; run `typeless models list`", cfg.Speech.Model))
		}
	}
	if cfg.Speech.DecodeRetries != nil && *cfg.Speech.DecodeRetries < 0 {
		errs = append(errs, fmt.Errorf("speech.decode_retries %d must not be negative", *cfg.Speech.DecodeRetries))
	}
	if cfg.Speech.Threads < 0 {
		errs = append(errs, fmt.Errorf("speech.threads %d must not be negative", cfg.Speech.Threads))
	}

	mirrorNames := make(map[string]int, len(cfg.Models.Mirrors))
	for i, m := range cfg.Models.Mirrors {
		prefix := fmt.Sprintf("models.mirrors[%d]", i)
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := mirrorNames[m.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of models.mirrors[%d]", prefix, m.Name, prev))
			}
			mirrorNames[m.Name] = i
		}
		if !strings.Contains(m.Template, "{url}") && !strings.Contains(m.Template, "{path}") {
			errs = append(errs, fmt.Errorf("%s.template %q must contain {url} or {path}", prefix, m.Template))
		}
	}
	if cfg.Models.DefaultMirror != "" && len(cfg.Models.Mirrors) > 0 {
		if _, ok := mirrorNames[cfg.Models.DefaultMirror]; !ok {
			errs = append(errs, fmt.Errorf("models.default_mirror %q does not name a configured mirror", cfg.Models.DefaultMirror))
		}
	}
	if len(cfg.Models.Mirrors) == 1 {
		slog.Warn("only one model mirror configured; downloads will have no fallback", "mirror", cfg.Models.Mirrors[0].Name)
	}

	if cfg.Inject.Mode != "" && !cfg.Inject.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("inject.mode %q is invalid; valid values: clipboard, direct, type", cfg.Inject.Mode))
	}
	if cfg.Inject.RestoreDelay < 0 || cfg.Inject.KeyDelay < 0 {
		errs = append(errs, errors.New("inject.restore_delay and inject.key_delay must not be negative"))
	}
	if cfg.Inject.Mode == InjectClipboard && cfg.Inject.RestoreDelay > 0 && cfg.Inject.RestoreDelay < 20*time.Millisecond {
		slog.Warn("inject.restore_delay is very short; the paste may read the restored clipboard", "restore_delay", cfg.Inject.RestoreDelay)
	}

	return errors.Join(errs...)
}

// parseBytes is used by the watcher so a file is read only once per check.
func parseBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}
