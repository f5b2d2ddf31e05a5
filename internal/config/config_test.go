package config

import (
	"path/filepath"
	"testing"
)

func TestReadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Project = "demo"
	cfg.Ports.Base = 51000
	cfg.Relay.BackoffBaseMs = 250

	if err := WriteConfig(dir, cfg); err != nil {
		t.Fatalf("WriteConfig failed: %v", err)
	}

	got, err := ReadConfig(dir)
	if err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}
	if got.Project != "demo" {
		t.Errorf("Project = %q, want demo", got.Project)
	}
	if got.Ports.Base != 51000 {
		t.Errorf("Ports.Base = %d, want 51000", got.Ports.Base)
	}
	if got.Relay.BackoffBaseMs != 250 {
		t.Errorf("Relay.BackoffBaseMs = %d, want 250", got.Relay.BackoffBaseMs)
	}
}

func TestReadConfigMissingFile(t *testing.T) {
	_, err := ReadConfig(t.TempDir())
	if err == nil {
		t.Fatal("ReadConfig succeeded with no config file")
	}
}

func TestDefaultsApplied(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Ports.Base != 50000 {
		t.Errorf("Ports.Base = %d, want 50000", cfg.Ports.Base)
	}
	if cfg.Relay.BackoffFactor != 2 {
		t.Errorf("BackoffFactor = %v, want 2", cfg.Relay.BackoffFactor)
	}
	if cfg.Relay.BackoffMaxMs != 30000 {
		t.Errorf("BackoffMaxMs = %d, want 30000", cfg.Relay.BackoffMaxMs)
	}
}

func TestCellDirLayout(t *testing.T) {
	got := CellDir("/proj", "cell-1")
	want := filepath.Join("/proj", ".construct", "cells", "cell-1")
	if got != want {
		t.Errorf("CellDir = %q, want %q", got, want)
	}
}
