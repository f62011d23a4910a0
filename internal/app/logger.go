package app

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the application logger. Output goes to a log file under
// the storage root rather than stderr, because the terminal is owned by the
// chat UI while the app runs.
func NewLogger(root string, debug bool) (*zap.Logger, error) {
	if root == "" {
		root = DefaultStorageRoot()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}

	config := zap.NewProductionConfig()
	config.OutputPaths = []string{filepath.Join(root, "aio.log")}
	config.ErrorOutputPaths = []string{filepath.Join(root, "aio.log")}
	if debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}
