package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// InitLogging points the standard logger at stdout and, when path is set,
// an append-only log file. The returned closer must be called on shutdown.
func InitLogging(path string) (io.Writer, func() error, error) {
	if path == "" {
		log.SetOutput(os.Stdout)
		return os.Stdout, func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("config: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("config: open log file: %w", err)
	}

	w := io.MultiWriter(os.Stdout, f)
	log.SetOutput(w)
	return w, f.Close, nil
}
