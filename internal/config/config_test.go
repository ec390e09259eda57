package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fl_cfg.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalValidConfig = `
ebpf_prog: ./prog.bpf.c
applications:
  - exec_path: /usr/bin/myapp
    monitors:
      - event: handle_request
        in_fn_name: on_enter
        ret_fn_name: on_return
request_stats:
  - feature: cputime
    datapoint: 0
  - feature: allocs
    datapoint: 1
model_params:
  k: 2
  features: [cputime, allocs]
`

func TestLoad_Minimal(t *testing.T) {
	path := writeTempConfig(t, minimalValidConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Applications[0].RIDType != "u32" {
		t.Errorf("expected default rid_type u32, got %q", cfg.Applications[0].RIDType)
	}
	if cfg.Applications[0].Monitors[0].RIDPosition != 1 {
		t.Errorf("expected default rid_position 1, got %d", cfg.Applications[0].Monitors[0].RIDPosition)
	}
	if cfg.ModelParams.MScale != 10 || cfg.ModelParams.SScale != 6 {
		t.Errorf("expected default scales 10/6, got %d/%d", cfg.ModelParams.MScale, cfg.ModelParams.SScale)
	}
	if cfg.Observability.LogLevel != "info" || cfg.Observability.LogFormat != "json" {
		t.Errorf("expected default observability settings, got %+v", cfg.Observability)
	}
	if cfg.OperatorSocket == "" {
		t.Error("expected default operator_socket to be set")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/fl_cfg.yml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate_RejectsEmptyEBPFProg(t *testing.T) {
	cfg := Defaults()
	cfg.Applications = []ApplicationConfig{{ExecPath: "/bin/x", Monitors: []MonitorConfig{{Event: "e", InFnName: "f"}}}}
	cfg.RequestStats = []RequestStat{{Feature: "a"}}
	cfg.ModelParams.K = 1
	cfg.ModelParams.Features = []string{"a"}
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for missing ebpf_prog")
	}
}

func TestValidate_RejectsUnknownRIDType(t *testing.T) {
	cfg := Defaults()
	cfg.EBPFProg = "./p.c"
	cfg.Applications = []ApplicationConfig{{ExecPath: "/bin/x", RIDType: "u16", Monitors: []MonitorConfig{{Event: "e", InFnName: "f"}}}}
	cfg.RequestStats = []RequestStat{{Feature: "a"}}
	cfg.ModelParams.K = 1
	cfg.ModelParams.Features = []string{"a"}
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for rid_type=u16")
	}
}

func TestValidate_RejectsRetProbeOnTracepoint(t *testing.T) {
	cfg := Defaults()
	cfg.EBPFProg = "./p.c"
	cfg.ResourceMonitors = []ResourceMonitorConfig{{Event: "syscalls/sys_enter_read", FnName: "fn", Side: "k", Type: "t", IsRet: true}}
	cfg.RequestStats = []RequestStat{{Feature: "a"}}
	cfg.ModelParams.K = 1
	cfg.ModelParams.Features = []string{"a"}
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for ret probe on tracepoint")
	}
}

func TestValidate_RejectsUnknownModelFeature(t *testing.T) {
	cfg := Defaults()
	cfg.EBPFProg = "./p.c"
	cfg.ResourceMonitors = []ResourceMonitorConfig{{Event: "e", FnName: "fn", Side: "k", Type: "p"}}
	cfg.RequestStats = []RequestStat{{Feature: "a"}}
	cfg.ModelParams.K = 1
	cfg.ModelParams.Features = []string{"nonexistent"}
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for model feature referencing unknown request_stats entry")
	}
}

func TestValidate_RequiresAtLeastOneMonitorSource(t *testing.T) {
	cfg := Defaults()
	cfg.EBPFProg = "./p.c"
	cfg.RequestStats = []RequestStat{{Feature: "a"}}
	cfg.ModelParams.K = 1
	cfg.ModelParams.Features = []string{"a"}
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error when no applications/resource_monitors/hardware_monitors configured")
	}
}
