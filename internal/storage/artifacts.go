package storage

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ArtifactWriter saves run outputs to <dir>/<date>/<tab>/<kind>/<name>.
type ArtifactWriter struct {
	baseDir string
	now     func() time.Time
}

func NewArtifactWriter(baseDir string) *ArtifactWriter {
	return &ArtifactWriter{baseDir: baseDir, now: time.Now}
}

// Write stores data and returns the file path.
func (w *ArtifactWriter) Write(tabID, kind, name string, data []byte) (string, error) {
	date := w.now().UTC().Format("2006-01-02")
	dir := filepath.Join(w.baseDir, date, SafeSegment(tabID), SafeSegment(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, SafeSegment(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	slog.Debug("artifact written", "path", path, "size", len(data))
	return path, nil
}

// WritePlot decodes a base64 PNG and stores it under "plots".
func (w *ArtifactWriter) WritePlot(tabID, runID, b64 string) (string, error) {
	png, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode plot: %w", err)
	}
	return w.Write(tabID, "plots", runID+".png", png)
}

// WriteCSV stores CSV text under "csv".
func (w *ArtifactWriter) WriteCSV(tabID, name, csv string) (string, error) {
	return w.Write(tabID, "csv", name, []byte(csv))
}

// SafeSegment turns an id or URL into a single filesystem-safe path element.
func SafeSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "none"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "none"
	}
	return out
}
