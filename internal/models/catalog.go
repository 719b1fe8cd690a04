// Package models knows which recognition models exist, where they live on
// disk, and how to fetch them from a set of download mirrors.
package models

import (
	"path"
	"path/filepath"

	"github.com/MrWong99/typeless/pkg/provider/asr"
)

// ArchiveKind is the container format of a model download.
type ArchiveKind string

const (
	ArchiveTarBz2 ArchiveKind = "tar.bz2"
	ArchiveTarGz  ArchiveKind = "tar.gz"
	ArchiveZip    ArchiveKind = "zip"

	// ArchiveFile is a single weights file downloaded as-is.
	ArchiveFile ArchiveKind = "file"
)

// Model describes one downloadable recognition model.
type Model struct {
	ID     string
	Name   string
	Engine asr.Kind

	// URL is the canonical download location. Mirrors rewrite it.
	URL     string
	Archive ArchiveKind

	// Folder is the directory under the model root holding the files. For
	// archives it is the top-level directory inside the archive.
	Folder      string
	WeightsFile string

	// TokensFile is empty for engines whose vocabulary is embedded in the
	// weights.
	TokensFile string
	SizeLabel  string
}

// Files returns the engine inputs for a copy of m stored in dir.
func (m Model) Files(dir string) asr.ModelFiles {
	files := asr.ModelFiles{
		Dir:     dir,
		Weights: filepath.Join(dir, m.WeightsFile),
	}
	if m.TokensFile != "" {
		files.Tokens = filepath.Join(dir, m.TokensFile)
	}
	return files
}

// archiveName is the file name of the download.
func (m Model) archiveName() string {
	return path.Base(m.URL)
}

const (
	sherpaReleases = "https://github.com/k2-fsa/sherpa-onnx/releases/download/asr-models/"
	whisperFiles   = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"
)

var defaultModels = []Model{
	{
		ID:          "paraformer-zh",
		Name:        "Paraformer (Chinese)",
		Engine:      asr.KindParaformer,
		URL:         sherpaReleases + "sherpa-onnx-paraformer-zh-2024-03-09.tar.bz2",
		Archive:     ArchiveTarBz2,
		Folder:      "sherpa-onnx-paraformer-zh-2024-03-09",
		WeightsFile: "model.int8.onnx",
		TokensFile:  "tokens.txt",
		SizeLabel:   "~220 MB",
	},
	{
		ID:          "sensevoice-small",
		Name:        "SenseVoice Small (zh/en/ja/ko/yue)",
		Engine:      asr.KindSenseVoice,
		URL:         sherpaReleases + "sherpa-onnx-sense-voice-zh-en-ja-ko-yue-2024-07-17.tar.bz2",
		Archive:     ArchiveTarBz2,
		Folder:      "sherpa-onnx-sense-voice-zh-en-ja-ko-yue-2024-07-17",
		WeightsFile: "model.int8.onnx",
		TokensFile:  "tokens.txt",
		SizeLabel:   "~230 MB",
	},
	{
		ID:          "whisper-tiny",
		Name:        "Whisper Tiny (multilingual)",
		Engine:      asr.KindWhisper,
		URL:         whisperFiles + "ggml-tiny.bin",
		Archive:     ArchiveFile,
		Folder:      "whisper-tiny",
		WeightsFile: "ggml-tiny.bin",
		SizeLabel:   "~75 MB",
	},
	{
		ID:          "whisper-base",
		Name:        "Whisper Base (multilingual)",
		Engine:      asr.KindWhisper,
		URL:         whisperFiles + "ggml-base.bin",
		Archive:     ArchiveFile,
		Folder:      "whisper-base",
		WeightsFile: "ggml-base.bin",
		SizeLabel:   "~142 MB",
	},
	{
		ID:          "whisper-small",
		Name:        "Whisper Small (multilingual)",
		Engine:      asr.KindWhisper,
		URL:         whisperFiles + "ggml-small.bin",
		Archive:     ArchiveFile,
		Folder:      "whisper-small",
		WeightsFile: "ggml-small.bin",
		SizeLabel:   "~466 MB",
	},
}

// Catalog is an ordered, read-only list of models.
type Catalog struct {
	models []Model
}

// NewCatalog returns a catalog of the given models in order.
func NewCatalog(models ...Model) *Catalog {
	return &Catalog{models: append([]Model(nil), models...)}
}

// DefaultCatalog returns the built-in model list.
func DefaultCatalog() *Catalog {
	return NewCatalog(defaultModels...)
}

// Lookup returns the model with the given id.
func (c *Catalog) Lookup(id string) (Model, bool) {
	for _, m := range c.models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// Models returns a copy of the catalog entries.
func (c *Catalog) Models() []Model {
	return append([]Model(nil), c.models...)
}
