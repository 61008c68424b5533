package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("output: plain\nretries: 1\nfee:\n  overhead: 2.0\nwait:\n  max_polls: 7\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SNCAST_OUTPUT", "json")
	t.Setenv("SNCAST_FEE_OVERHEAD", "1.8")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, Retries: 5}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
	if settings.FeeOverhead != 1.8 {
		t.Fatalf("expected env overhead, got %v", settings.FeeOverhead)
	}
	if settings.WaitPolicy.MaxPolls != 7 {
		t.Fatalf("expected max polls from file, got %d", settings.WaitPolicy.MaxPolls)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	settings, err := Load(GlobalFlags{Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.FeeOverhead != 1.5 {
		t.Fatalf("unexpected default overhead %v", settings.FeeOverhead)
	}
	if settings.WaitPolicy.PollInterval != 5*time.Second || settings.WaitPolicy.MaxPolls != 60 || settings.WaitPolicy.MaxPollErrors != 3 {
		t.Fatalf("unexpected wait policy %+v", settings.WaitPolicy)
	}
	if settings.ValueFormat != ValueFormatHex {
		t.Fatalf("expected hex by default, got %s", settings.ValueFormat)
	}
	if settings.Retries != 2 {
		t.Fatalf("expected default retries, got %d", settings.Retries)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	_, err := Load(GlobalFlags{JSON: true, Plain: true})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
	_, err = Load(GlobalFlags{HexFormat: true, IntFormat: true})
	if err == nil {
		t.Fatal("expected error with --hex-format and --int-format")
	}
}

func TestLoadRejectsOverheadBelowOne(t *testing.T) {
	_, err := Load(GlobalFlags{FeeOverhead: 0.5})
	if err == nil {
		t.Fatal("expected error for overhead below 1")
	}
}
