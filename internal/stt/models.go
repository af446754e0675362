package stt

import (
	"os"
	"path/filepath"
)

// WhisperModel is a downloadable whisper.cpp model.
type WhisperModel struct {
	Name  string // file name, e.g. "ggml-base.bin"
	Label string
	Size  string
	URL   string
}

const modelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// WhisperModels lists the multilingual models; the .en variants cannot
// transcribe Spanish voice notes.
var WhisperModels = []WhisperModel{
	{Name: "ggml-tiny.bin", Label: "Tiny", Size: "39 MB", URL: modelBaseURL + "ggml-tiny.bin"},
	{Name: "ggml-base.bin", Label: "Base", Size: "142 MB", URL: modelBaseURL + "ggml-base.bin"},
	{Name: "ggml-small.bin", Label: "Small", Size: "466 MB", URL: modelBaseURL + "ggml-small.bin"},
	{Name: "ggml-medium.bin", Label: "Medium", Size: "1.5 GB", URL: modelBaseURL + "ggml-medium.bin"},
	{Name: "ggml-large-v3-turbo.bin", Label: "Large v3 Turbo", Size: "1.6 GB", URL: modelBaseURL + "ggml-large-v3-turbo.bin"},
}

// ModelURL returns the download URL for a model name, or "" if unknown.
func ModelURL(name string) string {
	for _, m := range WhisperModels {
		if m.Name == name {
			return m.URL
		}
	}
	return ""
}

// IsModelDownloaded reports whether the model file exists and is non-empty.
func IsModelDownloaded(modelsDir, name string) bool {
	info, err := os.Stat(filepath.Join(modelsDir, name))
	return err == nil && !info.IsDir() && info.Size() > 0
}
