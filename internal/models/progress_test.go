package models

import "testing"

func TestFormatBytes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0KB"},
		{2048, "2KB"},
		{1023 * 1024, "1023KB"},
		{1 << 20, "1.0MB"},
		{1258291, "1.2MB"},
		{3 << 20, "3.0MB"},
		{466 << 20, "466.0MB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProgressMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name           string
		written, total int64
		want           string
	}{
		{"known size", 1572864, 3 << 20, "Downloading Whisper Tiny... 50% (1.5MB / 3.0MB)"},
		{"unknown size", 1572864, -1, "Downloading Whisper Tiny... 1.5MB"},
		{"complete", 4096, 4096, "Downloading Whisper Tiny... 100% (4KB / 4KB)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := progressMessage("Whisper Tiny", tt.written, tt.total); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMirrorResolve(t *testing.T) {
	t.Parallel()
	const canonical = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.bin"
	tests := []struct {
		template string
		want     string
	}{
		{"{url}", canonical},
		{"https://ghfast.top/{url}", "https://ghfast.top/" + canonical},
		{"https://hf-mirror.com{path}", "https://hf-mirror.com/ggerganov/whisper.cpp/resolve/main/ggml-tiny.bin"},
	}
	for _, tt := range tests {
		got, err := Mirror{Name: "m", Template: tt.template}.Resolve(canonical)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tt.template, err)
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.template, got, tt.want)
		}
	}
}
