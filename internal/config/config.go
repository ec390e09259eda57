// Package config provides configuration loading and validation for finelame.
//
// Configuration file: passed as the first CLI argument, no default path.
// Schema: the Config type below is the authoritative field list.
//
// There is no hot-reload here — a finelame run's probes, feature list, and
// model shape are fixed at process start (spec §5 "Cancellation": a run
// only ever moves forward through training/detection to stopped).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/finelame/finelame/internal/storage"
)

// Version, GitCommit, BuildTime can be overridden at build time via
// -ldflags "-X ..."; otherwise they keep the values below.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for finelame.
type Config struct {
	// EBPFProg is the path to the instrumentation source template
	// containing the $-prefixed placeholders the rewriter substitutes.
	EBPFProg string `yaml:"ebpf_prog"`

	// Applications lists the user-space targets to instrument.
	Applications []ApplicationConfig `yaml:"applications"`

	// ResourceMonitors lists kernel/user probes that accumulate per-request
	// resource counters but do not themselves carry a RID argument.
	ResourceMonitors []ResourceMonitorConfig `yaml:"resource_monitors"`

	// HardwareMonitors lists hardware perf counters to sample.
	HardwareMonitors []HardwareMonitorConfig `yaml:"hardware_monitors"`

	// RequestStats is the ordered feature-name -> datapoint mapping. Order
	// here fixes feature order F for the lifetime of the run.
	RequestStats []RequestStat `yaml:"request_stats"`

	// ModelParams configures the detector.
	ModelParams ModelParamsConfig `yaml:"model_params"`

	// TrainTime is the training window duration. CLI --train-time
	// overrides this value with a warning (spec §6).
	TrainTime time.Duration `yaml:"train_time"`

	// Observability configures the logger and metrics server (ambient
	// stack, not part of spec.md's core but carried the way the teacher
	// carries it regardless of what the core spec scopes out).
	Observability ObservabilityConfig `yaml:"observability"`

	// Storage configures the model-cache / run-ledger BoltDB file.
	Storage StorageConfig `yaml:"storage"`

	// OperatorSocket is the path of the read-only introspection socket.
	OperatorSocket string `yaml:"operator_socket"`
}

// ObservabilityConfig configures logging and the Prometheus metrics server.
type ObservabilityConfig struct {
	// LogLevel is a zapcore level name: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFormat is "json" (production) or "console" (debug-friendly).
	LogFormat string `yaml:"log_format"`
	// MetricsAddr is the loopback address the /metrics and /healthz
	// endpoints bind to.
	MetricsAddr string `yaml:"metrics_addr"`
}

// StorageConfig configures the BoltDB-backed model cache and run ledger.
type StorageConfig struct {
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// ApplicationConfig describes one instrumented user-space application.
type ApplicationConfig struct {
	ExecPath string `yaml:"exec_path"`

	// RIDType is one of u32, u64, int. Default u32.
	RIDType string `yaml:"rid_type"`

	Monitors []MonitorConfig `yaml:"monitors"`
}

// MonitorConfig describes one probe pair attached to an application.
type MonitorConfig struct {
	Event string `yaml:"event"`

	// InFnName is the instrumentation function invoked on entry; RetFnName
	// on return. Either may be empty if the monitor only needs one side.
	InFnName  string `yaml:"in_fn_name"`
	RetFnName string `yaml:"ret_fn_name"`

	// RIDPosition is the 1-based probe argument index carrying the RID.
	// Default 1.
	RIDPosition int `yaml:"rid_position"`
}

// ResourceMonitorConfig describes a probe that is not tied to a specific
// application binary (spec §6: same shape as monitors, plus side/type).
type ResourceMonitorConfig struct {
	Event  string `yaml:"event"`
	FnName string `yaml:"fn_name"`
	IsRet  bool   `yaml:"is_ret"`

	// Side is "k" (kernel) or "u" (user).
	Side string `yaml:"side"`
	// Type is "p" (probe) or "t" (tracepoint).
	Type string `yaml:"type"`

	ExecPath string `yaml:"exec_path"`
}

// HardwareMonitorConfig describes one hardware perf counter sampler.
type HardwareMonitorConfig struct {
	Event        string `yaml:"event"`
	FnName       string `yaml:"fn_name"`
	SamplePeriod int    `yaml:"sample_period"`

	// CPUs lists the CPUs this sampler binds to. Empty means "all online
	// CPUs" (spec §9 open question decision: configurable, defaulting away
	// from the teacher's hardcoded single CPU).
	CPUs []int `yaml:"cpus"`
}

// RequestStat maps one feature name to the fingerprint counter it reads.
type RequestStat struct {
	Feature   string `yaml:"feature"`
	Datapoint int    `yaml:"datapoint"`
}

// ModelParamsConfig configures the detector's fit.
type ModelParamsConfig struct {
	K        int      `yaml:"k"`
	Features []string `yaml:"features"`

	// ScaleMethod is "exponent" or "bitshift". Default "exponent".
	ScaleMethod string `yaml:"scale_method"`
	MScale      int    `yaml:"m_scale"`
	SScale      int    `yaml:"s_scale"`
}

// Defaults returns a Config populated with all default values (spec §4.A,
// §6): m_scale=10, s_scale=6, scale_method=exponent, rid_type=u32,
// rid_position=1 (the latter two applied per-entry in Load, since they
// depend on slices that don't exist until the file is parsed).
func Defaults() Config {
	return Config{
		ModelParams: ModelParamsConfig{
			ScaleMethod: "exponent",
			MScale:      10,
			SScale:      6,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsAddr: "127.0.0.1:9091",
		},
		Storage: StorageConfig{
			DBPath:        storage.DefaultDBPath,
			RetentionDays: storage.DefaultRetentionDays,
		},
		OperatorSocket: "/run/finelame/operator.sock",
	}
}

// Load reads and validates a config file from the given path, applying
// defaults for unset fields first.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	applyPerEntryDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

func applyPerEntryDefaults(cfg *Config) {
	for i := range cfg.Applications {
		if cfg.Applications[i].RIDType == "" {
			cfg.Applications[i].RIDType = "u32"
		}
		for j := range cfg.Applications[i].Monitors {
			if cfg.Applications[i].Monitors[j].RIDPosition == 0 {
				cfg.Applications[i].Monitors[j].RIDPosition = 1
			}
		}
	}
}

var validRIDTypes = map[string]bool{"u32": true, "u64": true, "int": true}

// Validate checks all config fields for correctness. Returns a descriptive
// error listing every violation found (spec §7: "Configuration invalid"
// fails fast with a one-line diagnostic — strings.Join folds the list into
// that single line, separated by "; ").
func Validate(cfg *Config) error {
	var errs []string

	if cfg.EBPFProg == "" {
		errs = append(errs, "ebpf_prog must not be empty")
	}

	if len(cfg.Applications) == 0 && len(cfg.ResourceMonitors) == 0 && len(cfg.HardwareMonitors) == 0 {
		errs = append(errs, "at least one of applications, resource_monitors, or hardware_monitors must be configured")
	}

	for i, app := range cfg.Applications {
		if app.ExecPath == "" {
			errs = append(errs, fmt.Sprintf("applications[%d].exec_path must not be empty", i))
		}
		if !validRIDTypes[app.RIDType] {
			errs = append(errs, fmt.Sprintf("applications[%d].rid_type must be one of u32, u64, int, got %q", i, app.RIDType))
		}
		if len(app.Monitors) == 0 {
			errs = append(errs, fmt.Sprintf("applications[%d] must declare at least one monitor", i))
		}
		for j, mon := range app.Monitors {
			if mon.Event == "" {
				errs = append(errs, fmt.Sprintf("applications[%d].monitors[%d].event must not be empty", i, j))
			}
			if mon.InFnName == "" && mon.RetFnName == "" {
				errs = append(errs, fmt.Sprintf("applications[%d].monitors[%d] must set in_fn_name or ret_fn_name", i, j))
			}
		}
	}

	for i, rm := range cfg.ResourceMonitors {
		if rm.Event == "" {
			errs = append(errs, fmt.Sprintf("resource_monitors[%d].event must not be empty", i))
		}
		if rm.Side != "k" && rm.Side != "u" {
			errs = append(errs, fmt.Sprintf("resource_monitors[%d].side must be \"k\" or \"u\", got %q", i, rm.Side))
		}
		if rm.Type != "p" && rm.Type != "t" {
			errs = append(errs, fmt.Sprintf("resource_monitors[%d].type must be \"p\" or \"t\", got %q", i, rm.Type))
		}
		if rm.Side == "u" {
			if rm.Type != "p" {
				errs = append(errs, fmt.Sprintf("resource_monitors[%d]: user-side probes must be type \"p\"", i))
			}
			if rm.ExecPath == "" {
				errs = append(errs, fmt.Sprintf("resource_monitors[%d]: user-side probes require exec_path", i))
			}
		}
		if rm.IsRet && (rm.Side == "k" || rm.Type == "t") {
			errs = append(errs, fmt.Sprintf("resource_monitors[%d]: return probes are not valid on the kernel side or on tracepoints", i))
		}
	}

	for i, hw := range cfg.HardwareMonitors {
		if hw.Event == "" {
			errs = append(errs, fmt.Sprintf("hardware_monitors[%d].event must not be empty", i))
		}
		if hw.FnName == "" {
			errs = append(errs, fmt.Sprintf("hardware_monitors[%d].fn_name must not be empty", i))
		}
	}

	if len(cfg.RequestStats) == 0 {
		errs = append(errs, "request_stats must declare at least one feature")
	}
	seen := make(map[string]bool, len(cfg.RequestStats))
	for i, rs := range cfg.RequestStats {
		if rs.Feature == "" {
			errs = append(errs, fmt.Sprintf("request_stats[%d].feature must not be empty", i))
		}
		if seen[rs.Feature] {
			errs = append(errs, fmt.Sprintf("request_stats[%d]: duplicate feature %q", i, rs.Feature))
		}
		seen[rs.Feature] = true
	}

	if cfg.ModelParams.K <= 0 {
		errs = append(errs, fmt.Sprintf("model_params.k must be > 0, got %d", cfg.ModelParams.K))
	}
	if len(cfg.ModelParams.Features) == 0 {
		errs = append(errs, "model_params.features must not be empty")
	}
	for _, f := range cfg.ModelParams.Features {
		if !seen[f] {
			errs = append(errs, fmt.Sprintf("model_params.features references unknown feature %q", f))
		}
	}
	if cfg.ModelParams.ScaleMethod != "exponent" && cfg.ModelParams.ScaleMethod != "bitshift" {
		errs = append(errs, fmt.Sprintf("model_params.scale_method must be \"exponent\" or \"bitshift\", got %q", cfg.ModelParams.ScaleMethod))
	}
	if cfg.ModelParams.MScale <= 0 {
		errs = append(errs, fmt.Sprintf("model_params.m_scale must be > 0, got %d", cfg.ModelParams.MScale))
	}
	if cfg.ModelParams.SScale <= 0 {
		errs = append(errs, fmt.Sprintf("model_params.s_scale must be > 0, got %d", cfg.ModelParams.SScale))
	}

	switch cfg.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_level must be one of debug, info, warn, error, got %q", cfg.Observability.LogLevel))
	}
	if cfg.Observability.LogFormat != "json" && cfg.Observability.LogFormat != "console" {
		errs = append(errs, fmt.Sprintf("observability.log_format must be \"json\" or \"console\", got %q", cfg.Observability.LogFormat))
	}
	if cfg.Observability.MetricsAddr == "" {
		errs = append(errs, "observability.metrics_addr must not be empty")
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path must not be empty")
	}
	if cfg.Storage.RetentionDays <= 0 {
		errs = append(errs, fmt.Sprintf("storage.retention_days must be > 0, got %d", cfg.Storage.RetentionDays))
	}
	if cfg.OperatorSocket == "" {
		errs = append(errs, "operator_socket must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
