package extract

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/rasnes/covid-duckdb-etl/config"
	"github.com/spf13/afero"
)

// SnapshotWriter keeps the last raw response per country on disk for
// auditing. Nothing downstream reads the files.
type SnapshotWriter struct {
	Fs     afero.Fs
	Dir    string
	Logger *slog.Logger
}

func NewSnapshotWriter(cfg config.SnapshotConfig, logger *slog.Logger) *SnapshotWriter {
	return &SnapshotWriter{
		Fs:     afero.NewOsFs(),
		Dir:    cfg.Dir,
		Logger: logger,
	}
}

// Write stores body verbatim under the country's snapshot file name,
// replacing any earlier snapshot.
func (w *SnapshotWriter) Write(country config.CountryConfig, body []byte) (string, error) {
	if err := w.Fs.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory %s: %w", w.Dir, err)
	}

	path := filepath.Join(w.Dir, country.Snapshot)
	if err := afero.WriteFile(w.Fs, path, body, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot %s: %w", path, err)
	}

	w.Logger.Debug("Wrote raw snapshot", "country", country.Code, "path", path, "bytes", len(body))
	return path, nil
}
