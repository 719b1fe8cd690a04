// Package config defines the typeless configuration schema and the helpers
// that load, validate and hot-reload it.
package config

import "time"

// LogLevel controls log verbosity for the typeless daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// InjectMode selects how recognised text reaches the focused application.
type InjectMode string

const (
	// InjectClipboard pastes through the clipboard and restores the previous
	// clipboard text afterwards.
	InjectClipboard InjectMode = "clipboard"

	// InjectDirect pastes through the clipboard without restoring it.
	InjectDirect InjectMode = "direct"

	// InjectType synthesizes one keystroke per character.
	InjectType InjectMode = "type"
)

// IsValid reports whether m is a recognised injection mode.
func (m InjectMode) IsValid() bool {
	switch m {
	case InjectClipboard, InjectDirect, InjectType:
		return true
	}
	return false
}

// Config is the root configuration structure for typeless.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Server  ServerConfig  `yaml:"server"`
	Hotkey  HotkeyConfig  `yaml:"hotkey"`
	Audio   AudioConfig   `yaml:"audio"`
	Speech  SpeechConfig  `yaml:"speech"`
	Models  ModelsConfig  `yaml:"models"`
	Inject  InjectConfig  `yaml:"inject"`
	Overlay OverlayConfig `yaml:"overlay"`
}

// LogConfig controls logging output.
type LogConfig struct {
	// Level controls verbosity.
	Level LogLevel `yaml:"level"`

	// File, when set, receives a copy of all log output. The file is rotated
	// once it grows past MaxSizeMB.
	File string `yaml:"file"`

	// MaxSizeMB is the rotation threshold for File. Defaults to 10.
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files kept next to File. Defaults to 3.
	MaxBackups int `yaml:"max_backups"`
}

// ServerConfig holds the optional local observability endpoint.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /healthz, /readyz and /metrics
	// (e.g., "127.0.0.1:9464"). Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`
}

// HotkeyConfig configures the push-to-talk trigger.
type HotkeyConfig struct {
	// Trigger names the modifier key that must be held while dictating,
	// e.g. "alt_r", "ctrl", "meta_r". See hotkey.ParseModifier.
	Trigger string `yaml:"trigger"`

	// PermissionPollInterval is how often the accessibility permission is
	// re-checked while it has not been granted. Defaults to 1s.
	PermissionPollInterval time.Duration `yaml:"permission_poll_interval"`

	// EdgeBuffer is the capacity of the edge channel between the keyboard
	// listener and the session controller. Defaults to 16.
	EdgeBuffer int `yaml:"edge_buffer"`
}

// AudioConfig describes where and how recordings are captured.
type AudioConfig struct {
	// TempDir receives the temporary WAV files. Defaults to os.TempDir().
	TempDir string `yaml:"temp_dir"`

	// SampleRate in Hz. Defaults to 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels defaults to 1.
	Channels int `yaml:"channels"`

	// BitDepth defaults to 16.
	BitDepth int `yaml:"bit_depth"`
}

// SpeechConfig selects the recognition model and tunes inference.
type SpeechConfig struct {
	// Model is the catalog id of the model to load, e.g. "sensevoice-small".
	Model string `yaml:"model"`

	// Language is passed to engines that support it. "auto" lets the engine
	// detect the language.
	Language string `yaml:"language"`

	// Threads is the number of inference threads. Zero lets the engine decide.
	Threads int `yaml:"threads"`

	// WarmupDuration is the length of the silent clip decoded once after the
	// model loads. Defaults to 500ms.
	WarmupDuration time.Duration `yaml:"warmup_duration"`

	// DecodeRetries is the number of additional decoding passes attempted with
	// a raised temperature before a transcription is reported as failed.
	// Defaults to 3.
	DecodeRetries *int `yaml:"decode_retries"`
}

// MirrorConfig is one download location for model archives.
type MirrorConfig struct {
	// Name identifies the mirror in logs and in DefaultMirror.
	Name string `yaml:"name"`

	// Template builds the download URL. "{url}" expands to the canonical
	// archive URL and "{path}" to its path component.
	Template string `yaml:"template"`
}

// ModelsConfig configures local model storage and acquisition.
type ModelsConfig struct {
	// Root is the directory holding one sub-folder per model.
	// Defaults to <user config dir>/typeless/models.
	Root string `yaml:"root"`

	// Mirrors are probed concurrently before each download.
	Mirrors []MirrorConfig `yaml:"mirrors"`

	// DefaultMirror names the mirror used when no probe succeeds.
	DefaultMirror string `yaml:"default_mirror"`

	// ProbeTimeout bounds each mirror probe. Defaults to 5s.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// AutoDownload fetches the configured model at startup when it is missing.
	AutoDownload bool `yaml:"auto_download"`
}

// InjectConfig controls text delivery.
type InjectConfig struct {
	// Mode is one of clipboard, direct or type. Defaults to clipboard.
	Mode InjectMode `yaml:"mode"`

	// RestoreDelay is how long the pasted text stays on the clipboard before
	// the previous content is restored. Defaults to 100ms.
	RestoreDelay time.Duration `yaml:"restore_delay"`

	// KeyDelay separates synthesized backspaces. Defaults to 5ms.
	KeyDelay time.Duration `yaml:"key_delay"`
}

// OverlayConfig selects the user-facing status indicators.
type OverlayConfig struct {
	// Tray shows the recording state in the system tray.
	Tray bool `yaml:"tray"`

	// Notifications shows a desktop notification with each transcript.
	Notifications bool `yaml:"notifications"`
}
