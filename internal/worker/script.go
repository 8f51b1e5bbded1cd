package worker

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/loqalabs/loqa-speak/internal/config"
)

//go:embed worker.py
var entrypoint []byte

// WriteScript materializes the embedded worker entry point into the
// state directory. It is rewritten on every start so upgrades never
// leave an old script behind.
func WriteScript(paths config.Paths) error {
	if err := os.MkdirAll(paths.StateDir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(paths.Script, entrypoint, 0o644); err != nil {
		return fmt.Errorf("write worker script: %w", err)
	}
	return nil
}
