package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the crate home directory.
	DefaultDirName = ".crate"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// RegistryFileName is the durable batch job registry file name.
	RegistryFileName = "batch_state.json"

	// UsageLogFileName is the append-only usage report log.
	UsageLogFileName = "usage.jsonl"

	// ResultsDirName is the subdirectory for recovered batch results.
	ResultsDirName = "results"
)

// Dir represents the crate home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.crate).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// RegistryPath returns the path to the batch job registry file.
func (d *Dir) RegistryPath() string {
	return filepath.Join(d.path, RegistryFileName)
}

// UsageLogPath returns the path to the usage report log.
func (d *Dir) UsageLogPath() string {
	return filepath.Join(d.path, UsageLogFileName)
}

// ResultsDir returns the directory for recovered batch results.
func (d *Dir) ResultsDir() string {
	return filepath.Join(d.path, ResultsDirName)
}

// ResultsPath returns the path for a recovered result file for a job.
func (d *Dir) ResultsPath(jobID string) string {
	return filepath.Join(d.ResultsDir(), fmt.Sprintf("%s.jsonl", jobID))
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.ResultsDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
