package models

import "fmt"

// Progress is reported for every chunk written during a download.
type Progress struct {
	ModelID string
	Mirror  string

	// Written is the number of bytes received so far.
	Written int64

	// Total is the expected size, or -1 when the server did not announce it.
	Total int64

	// Message is a human-readable status line, e.g.
	// "Downloading Whisper Tiny... 42% (1.2MB / 3.0MB)".
	Message string
}

// ProgressFunc receives download progress. It is called on the download
// goroutine and must not block.
type ProgressFunc func(Progress)

func progressMessage(name string, written, total int64) string {
	if total > 0 {
		pct := int(float64(written) / float64(total) * 100)
		return fmt.Sprintf("Downloading %s... %d%% (%s / %s)", name, pct, formatBytes(written), formatBytes(total))
	}
	return fmt.Sprintf("Downloading %s... %s", name, formatBytes(written))
}

// formatBytes renders n as megabytes with one decimal, or as whole kilobytes
// below one megabyte.
func formatBytes(n int64) string {
	kb := float64(n) / 1024
	mb := kb / 1024
	if mb >= 1 {
		return fmt.Sprintf("%.1fMB", mb)
	}
	return fmt.Sprintf("%.0fKB", kb)
}
