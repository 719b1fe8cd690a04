package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// InjectChanged is set when any inject setting changed. These are applied
	// to the running inserter without a restart.
	InjectChanged bool
	NewInject     InjectConfig

	// RestartRequired lists the top-level sections whose changes only take
	// effect after the daemon is restarted.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Log.Level != new.Log.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Log.Level
	}

	if old.Inject != new.Inject {
		d.InjectChanged = true
		d.NewInject = new.Inject
	}

	if old.Log.File != new.Log.File || old.Log.MaxSizeMB != new.Log.MaxSizeMB || old.Log.MaxBackups != new.Log.MaxBackups {
		d.RestartRequired = append(d.RestartRequired, "log")
	}
	if old.Server != new.Server {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Hotkey != new.Hotkey {
		d.RestartRequired = append(d.RestartRequired, "hotkey")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !speechEqual(old.Speech, new.Speech) {
		d.RestartRequired = append(d.RestartRequired, "speech")
	}
	if !modelsEqual(old.Models, new.Models) {
		d.RestartRequired = append(d.RestartRequired, "models")
	}
	if old.Overlay != new.Overlay {
		d.RestartRequired = append(d.RestartRequired, "overlay")
	}

	return d
}

func speechEqual(a, b SpeechConfig) bool {
	if a.Model != b.Model || a.Language != b.Language || a.Threads != b.Threads || a.WarmupDuration != b.WarmupDuration {
		return false
	}
	switch {
	case a.DecodeRetries == nil && b.DecodeRetries == nil:
		return true
	case a.DecodeRetries == nil || b.DecodeRetries == nil:
		return false
	}
	return *a.DecodeRetries == *b.DecodeRetries
}

func modelsEqual(a, b ModelsConfig) bool {
	if a.Root != b.Root || a.DefaultMirror != b.DefaultMirror || a.ProbeTimeout != b.ProbeTimeout || a.AutoDownload != b.AutoDownload {
		return false
	}
	if len(a.Mirrors) != len(b.Mirrors) {
		return false
	}
	for i := range a.Mirrors {
		if a.Mirrors[i] != b.Mirrors[i] {
			return false
		}
	}
	return true
}
