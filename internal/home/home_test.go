package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-crate")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-crate" {
			t.Errorf("expected path /tmp/test-crate, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-crate")

	t.Run("ConfigPath", func(t *testing.T) {
		expected := "/tmp/test-crate/config.yaml"
		if dir.ConfigPath() != expected {
			t.Errorf("expected %s, got %s", expected, dir.ConfigPath())
		}
	})

	t.Run("RegistryPath", func(t *testing.T) {
		expected := "/tmp/test-crate/batch_state.json"
		if dir.RegistryPath() != expected {
			t.Errorf("expected %s, got %s", expected, dir.RegistryPath())
		}
	})

	t.Run("UsageLogPath", func(t *testing.T) {
		expected := "/tmp/test-crate/usage.jsonl"
		if dir.UsageLogPath() != expected {
			t.Errorf("expected %s, got %s", expected, dir.UsageLogPath())
		}
	})

	t.Run("ResultsPath", func(t *testing.T) {
		expected := "/tmp/test-crate/results/batch_abc.jsonl"
		if dir.ResultsPath("batch_abc") != expected {
			t.Errorf("expected %s, got %s", expected, dir.ResultsPath("batch_abc"))
		}
	})
}

func TestDir_EnsureExists(t *testing.T) {
	// Use a temp directory
	tmpDir := t.TempDir()
	crateDir := filepath.Join(tmpDir, "crate-test")

	dir, err := New(crateDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Directory shouldn't exist yet
	if dir.Exists() {
		t.Error("directory should not exist before EnsureExists")
	}

	// Create it
	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists failed: %v", err)
	}

	// Now it should exist
	if !dir.Exists() {
		t.Error("directory should exist after EnsureExists")
	}

	// Results directory should also exist
	if _, err := os.Stat(dir.ResultsDir()); os.IsNotExist(err) {
		t.Error("results directory should exist after EnsureExists")
	}
}

func TestDir_ConfigExists(t *testing.T) {
	tmpDir := t.TempDir()
	dir, _ := New(tmpDir)

	// Config doesn't exist
	if dir.ConfigExists() {
		t.Error("config should not exist initially")
	}

	// Create a config file
	configPath := dir.ConfigPath()
	if err := os.WriteFile(configPath, []byte("test: true\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	// Now it should exist
	if !dir.ConfigExists() {
		t.Error("config should exist after creation")
	}
}
