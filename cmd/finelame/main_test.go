package main

import (
	"testing"
	"time"

	"github.com/finelame/finelame/internal/config"
)

func testMainConfig() *config.Config {
	return &config.Config{
		Applications: []config.ApplicationConfig{
			{ExecPath: "/usr/bin/myapp", RIDType: "u64"},
		},
	}
}

func TestParseArgs_Minimal(t *testing.T) {
	a, err := parseArgs([]string{"fl_cfg.yml", "run1"})
	if err != nil {
		t.Fatal(err)
	}
	if a.configPath != "fl_cfg.yml" || a.runLabel != "run1" {
		t.Errorf("unexpected positional args: %+v", a)
	}
	if a.outDir != "." {
		t.Errorf("expected default out dir \".\", got %q", a.outDir)
	}
	if a.trainTime != 0 || a.debug || a.anoDetect {
		t.Errorf("expected zero-value flags, got %+v", a)
	}
}

func TestParseArgs_AllFlags(t *testing.T) {
	a, err := parseArgs([]string{"fl_cfg.yml", "run1", "--out", "/tmp/out", "--train-time", "120", "--debug", "--ano-detect"})
	if err != nil {
		t.Fatal(err)
	}
	if a.outDir != "/tmp/out" {
		t.Errorf("outDir = %q, want /tmp/out", a.outDir)
	}
	if a.trainTime != 120*time.Second {
		t.Errorf("trainTime = %v, want 120s", a.trainTime)
	}
	if !a.debug || !a.anoDetect {
		t.Errorf("expected debug and anoDetect set, got %+v", a)
	}
}

func TestParseArgs_EqualsForm(t *testing.T) {
	a, err := parseArgs([]string{"fl_cfg.yml", "run1", "--out=/x", "--train-time=30"})
	if err != nil {
		t.Fatal(err)
	}
	if a.outDir != "/x" || a.trainTime != 30*time.Second {
		t.Errorf("unexpected: %+v", a)
	}
}

func TestParseArgs_MissingPositional(t *testing.T) {
	if _, err := parseArgs([]string{"fl_cfg.yml"}); err == nil {
		t.Fatal("expected error for missing run_label")
	}
	if _, err := parseArgs(nil); err == nil {
		t.Fatal("expected error for no arguments")
	}
}

func TestParseArgs_UnknownFlag(t *testing.T) {
	if _, err := parseArgs([]string{"fl_cfg.yml", "run1", "--bogus"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestParseArgs_MissingFlagValue(t *testing.T) {
	if _, err := parseArgs([]string{"fl_cfg.yml", "run1", "--out"}); err == nil {
		t.Fatal("expected error for --out with no value")
	}
	if _, err := parseArgs([]string{"fl_cfg.yml", "run1", "--train-time"}); err == nil {
		t.Fatal("expected error for --train-time with no value")
	}
}

func TestParseArgs_InvalidTrainTime(t *testing.T) {
	if _, err := parseArgs([]string{"fl_cfg.yml", "run1", "--train-time", "not-a-number"}); err == nil {
		t.Fatal("expected error for non-numeric --train-time")
	}
}

func TestRidType(t *testing.T) {
	cfgNoApps := testMainConfig()
	cfgNoApps.Applications = nil
	if got := ridType(cfgNoApps); got != "u32" {
		t.Errorf("ridType(no apps) = %q, want u32", got)
	}
	if got := ridType(testMainConfig()); got != "u64" {
		t.Errorf("ridType(apps[0]=u64) = %q, want u64", got)
	}
}

func TestApplicationMonitors(t *testing.T) {
	cfg := testMainConfig()
	cfg.Applications[0].Monitors = []config.MonitorConfig{
		{Event: "handle_request", InFnName: "on_enter", RetFnName: "on_return", RIDPosition: 2},
	}
	got := applicationMonitors(cfg)
	if len(got) != 2 {
		t.Fatalf("expected 2 application monitors (entry+return), got %d", len(got))
	}
	if got[0].InFnName != "on_enter" || got[0].RIDPosition != 2 {
		t.Errorf("entry monitor = %+v", got[0])
	}
	if got[1].InFnName != "on_return" || got[1].RIDPosition != 2 {
		t.Errorf("return monitor = %+v", got[1])
	}
}
