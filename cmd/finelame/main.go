// Package main — cmd/finelame/main.go
//
// finelame entrypoint.
//
// Usage:
//
//	finelame <config_file> <run_label> [--out DIR] [--train-time SECONDS] [--debug] [--ano-detect]
//
// Startup sequence (spec §5, §6):
//  1. Parse CLI arguments.
//  2. Load and validate config.
//  3. Initialise structured logger (zap).
//  4. Open BoltDB storage, prune stale run-ledger entries.
//  5. Rewrite the instrumentation-program template against detector params.
//  6. Load the rewritten instrumentation program, exposing its maps.
//  7. Start the Prometheus metrics server.
//  8. Attach probes in order: resource monitors, hardware monitors,
//     application monitors (spec §5 "Attach/detach ordering").
//  9. Start the notification channel reader.
// 10. Construct the pipeline controller.
// 11. Start the operator introspection socket, then run the controller
//     until SIGINT/SIGTERM.
//
// Shutdown sequence (on SIGINT/SIGTERM, spec §7):
//  1. Cancel the root context.
//  2. Controller.Run detaches all probes and dumps run artifacts.
//  3. Append the run-ledger entry and close BoltDB.
//  4. Flush the logger.
//  5. Exit 0.
//
// On config validation, instrumentation load, or probe attach failure: exit
// non-zero immediately (no partial state).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/finelame/finelame/internal/config"
	"github.com/finelame/finelame/internal/controller"
	"github.com/finelame/finelame/internal/dataplane"
	"github.com/finelame/finelame/internal/fixedpoint"
	"github.com/finelame/finelame/internal/notify"
	"github.com/finelame/finelame/internal/observability"
	"github.com/finelame/finelame/internal/operator"
	"github.com/finelame/finelame/internal/probe"
	"github.com/finelame/finelame/internal/storage"
	"github.com/finelame/finelame/internal/template"
)

// cliArgs holds the parsed command line: two required positional arguments
// followed by optional flags. The standard library flag package stops
// parsing at the first non-flag token, which is incompatible with
// "finelame <config_file> <run_label> --debug", so arguments are scanned
// by hand instead.
type cliArgs struct {
	configPath string
	runLabel   string
	outDir     string
	trainTime  time.Duration
	debug      bool
	anoDetect  bool
}

const usage = "usage: finelame <config_file> <run_label> [--out DIR] [--train-time SECONDS] [--debug] [--ano-detect]"

func parseArgs(args []string) (cliArgs, error) {
	a := cliArgs{outDir: "."}
	var positional []string

	for i := 0; i < len(args); i++ {
		tok := args[i]
		switch {
		case tok == "--out":
			i++
			if i >= len(args) {
				return a, fmt.Errorf("--out requires a directory argument")
			}
			a.outDir = args[i]
		case strings.HasPrefix(tok, "--out="):
			a.outDir = strings.TrimPrefix(tok, "--out=")
		case tok == "--train-time":
			i++
			if i >= len(args) {
				return a, fmt.Errorf("--train-time requires a seconds argument")
			}
			secs, err := strconv.Atoi(args[i])
			if err != nil {
				return a, fmt.Errorf("--train-time: %w", err)
			}
			a.trainTime = time.Duration(secs) * time.Second
		case strings.HasPrefix(tok, "--train-time="):
			secs, err := strconv.Atoi(strings.TrimPrefix(tok, "--train-time="))
			if err != nil {
				return a, fmt.Errorf("--train-time: %w", err)
			}
			a.trainTime = time.Duration(secs) * time.Second
		case tok == "--debug":
			a.debug = true
		case tok == "--ano-detect":
			a.anoDetect = true
		case strings.HasPrefix(tok, "--"):
			return a, fmt.Errorf("unknown flag %q\n%s", tok, usage)
		default:
			positional = append(positional, tok)
		}
	}

	if len(positional) < 2 {
		return a, fmt.Errorf("%s", usage)
	}
	a.configPath = positional[0]
	a.runLabel = positional[1]
	return a, nil
}

func main() {
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "FATAL:", err)
		os.Exit(1)
	}

	// ── Step 2: Load config ──────────────────────────────────────────────
	cfg, err := config.Load(args.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}
	rawCfg, err := os.ReadFile(args.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: re-reading config for artifact copy: %v\n", err)
		os.Exit(1)
	}

	trainTime := cfg.TrainTime
	trainTimeOverridden := args.trainTime > 0 && args.trainTime != cfg.TrainTime
	if args.trainTime > 0 {
		trainTime = args.trainTime
	}
	if trainTime <= 0 {
		trainTime = 5 * time.Minute
	}

	logLevel, logFormat := cfg.Observability.LogLevel, cfg.Observability.LogFormat
	if args.debug {
		logLevel, logFormat = "debug", "console"
	}

	// ── Step 3: Initialise logger ────────────────────────────────────────
	log, err := buildLogger(logLevel, logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if trainTimeOverridden {
		log.Warn("ignoring config train_time in favor of --train-time argument",
			zap.Duration("config_train_time", cfg.TrainTime),
			zap.Duration("arg_train_time", args.trainTime),
		)
	}

	log.Info("finelame starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("config", args.configPath),
		zap.String("run_label", args.runLabel),
		zap.Duration("train_time", trainTime),
		zap.Bool("ano_detect", args.anoDetect),
	)

	if err := os.MkdirAll(args.outDir, 0o755); err != nil {
		log.Fatal("creating output directory failed", zap.String("dir", args.outDir), zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── Step 4: Open BoltDB, prune ───────────────────────────────────────
	db, err := storage.Open(cfg.Storage.DBPath, cfg.Storage.RetentionDays)
	if err != nil {
		log.Fatal("BoltDB open failed", zap.String("path", cfg.Storage.DBPath), zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	if pruned, err := db.PruneOldRuns(); err != nil {
		log.Warn("run-ledger pruning failed", zap.Error(err))
	} else {
		log.Info("run ledger pruned", zap.Int("deleted", pruned))
	}

	// ── Step 5: Rewrite instrumentation-program template ─────────────────
	mscale, err := fixedpoint.NewScale(fixedpoint.Method(cfg.ModelParams.ScaleMethod), cfg.ModelParams.MScale)
	if err != nil {
		log.Fatal("invalid m_scale", zap.Error(err))
	}
	rewritten, err := template.Rewrite(cfg.EBPFProg, template.Params{
		Debug:        args.debug,
		K:            cfg.ModelParams.K,
		MScale:       mscale,
		RIDType:      ridType(cfg),
		Applications: applicationMonitors(cfg),
	})
	if err != nil {
		log.Fatal("instrumentation template rewrite failed", zap.Error(err))
	}
	log.Info("instrumentation template rewritten", zap.String("path", rewritten))

	// ── Step 6: Load instrumentation program ──────────────────────────────
	objs, err := dataplane.Load(rewritten)
	if err != nil {
		log.Fatal("instrumentation load failed — aborting (no partial state)", zap.Error(err))
	}
	defer objs.Close()
	log.Info("instrumentation program loaded")

	// ── Step 7: Prometheus metrics ────────────────────────────────────────
	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Step 8: Attach probes ──────────────────────────────────────────────
	sup := probe.NewSupervisor(log, objs.Collection())
	attachProbes(log, sup, metrics, cfg)
	log.Info("probes attached", zap.Int("count", sup.Attached()))

	// ── Step 9: Notification channel ──────────────────────────────────────
	notifyCh := notify.NewChannel(log, 256, metrics.NotificationsDroppedTotal.Inc)
	notifications, err := notifyCh.Run(ctx, objs.NotificationEvt)
	if err != nil {
		log.Fatal("notification channel failed to start", zap.Error(err))
	}
	go func() {
		for n := range notifications {
			metrics.NotificationsReceivedTotal.Inc()
			log.Debug("notification", zap.String("event", n.String()))
		}
	}()

	// ── Step 10: Pipeline controller ──────────────────────────────────────
	ctrl, err := controller.New(log, cfg, rawCfg, objs, sup, metrics, args.outDir, args.runLabel, trainTime, args.anoDetect)
	if err != nil {
		log.Fatal("controller construction failed", zap.Error(err))
	}

	// ── Step 11: Operator introspection socket ────────────────────────────
	opSrv := operator.NewServer(cfg.OperatorSocket, ctrl, log)
	go func() {
		if err := opSrv.ListenAndServe(ctx); err != nil {
			log.Error("operator socket server error", zap.Error(err))
		}
	}()

	startedAt := time.Now().UTC()
	if err := ctrl.Run(ctx); err != nil {
		log.Error("controller run ended with error", zap.Error(err))
	}

	mode, trainingRows, testRows, outliers := ctrl.RunSummary()
	if err := db.AppendRun(storage.RunEntry{
		RunLabel:     args.runLabel,
		StartedAt:    startedAt,
		StoppedAt:    time.Now().UTC(),
		FinalMode:    mode,
		TrainingRows: trainingRows,
		TestRows:     testRows,
		Outliers:     outliers,
	}); err != nil {
		log.Error("run ledger append failed", zap.Error(err))
	}

	log.Info("finelame shutdown complete")
}

// ridType returns the RID C type shared by every application's uprobes. The
// template substitutes a single $RID_TYPE for the whole instrumentation
// program, so every configured application must agree; Validate does not
// enforce this today (spec §9 open question left to operators), so the
// first application's setting wins and u32 is used when there are none.
func ridType(cfg *config.Config) string {
	if len(cfg.Applications) == 0 {
		return "u32"
	}
	return cfg.Applications[0].RIDType
}

func applicationMonitors(cfg *config.Config) []template.ApplicationMonitor {
	var out []template.ApplicationMonitor
	for _, app := range cfg.Applications {
		for _, mon := range app.Monitors {
			if mon.InFnName != "" {
				out = append(out, template.ApplicationMonitor{InFnName: mon.InFnName, RIDPosition: mon.RIDPosition})
			}
			if mon.RetFnName != "" {
				out = append(out, template.ApplicationMonitor{InFnName: mon.RetFnName, RIDPosition: mon.RIDPosition})
			}
		}
	}
	return out
}

// attachProbes attaches resource monitors, then hardware monitors, then
// application monitors, in that order (spec §5 "Attach/detach ordering").
// Software monitor attach failures are fatal; hardware attach failures are
// logged, counted, and skipped (observability.Metrics.ProbeAttachFailuresTotal).
func attachProbes(log *zap.Logger, sup *probe.Supervisor, metrics *observability.Metrics, cfg *config.Config) {
	for _, rm := range cfg.ResourceMonitors {
		d := probe.Descriptor{
			Event:    rm.Event,
			FnName:   rm.FnName,
			IsRet:    rm.IsRet,
			Side:     sideOf(rm.Side),
			Type:     typeOf(rm.Type),
			ExecPath: rm.ExecPath,
		}
		if err := sup.AttachSoftware(d); err != nil {
			log.Fatal("resource monitor attach failed", zap.String("event", rm.Event), zap.Error(err))
		}
	}

	for _, hw := range cfg.HardwareMonitors {
		d := probe.HardwareDescriptor{
			Event:        hw.Event,
			FnName:       hw.FnName,
			SamplePeriod: hw.SamplePeriod,
			CPUs:         hw.CPUs,
		}
		if err := sup.AttachHardware(d); err != nil {
			metrics.ProbeAttachFailuresTotal.WithLabelValues(hw.Event).Inc()
			log.Error("hardware monitor attach failed, skipping", zap.String("event", hw.Event), zap.Error(err))
		}
	}

	for _, app := range cfg.Applications {
		for _, mon := range app.Monitors {
			if mon.InFnName != "" {
				d := probe.Descriptor{Event: mon.Event, FnName: mon.InFnName, Side: probe.SideUser, Type: probe.TypeProbe, ExecPath: app.ExecPath}
				if err := sup.AttachSoftware(d); err != nil {
					log.Fatal("application monitor attach failed", zap.String("exec_path", app.ExecPath), zap.String("event", mon.Event), zap.Error(err))
				}
			}
			if mon.RetFnName != "" {
				d := probe.Descriptor{Event: mon.Event, FnName: mon.RetFnName, IsRet: true, Side: probe.SideUser, Type: probe.TypeProbe, ExecPath: app.ExecPath}
				if err := sup.AttachSoftware(d); err != nil {
					log.Fatal("application monitor attach failed", zap.String("exec_path", app.ExecPath), zap.String("event", mon.Event), zap.Error(err))
				}
			}
		}
	}
}

func sideOf(s string) probe.Side {
	if s == "u" {
		return probe.SideUser
	}
	return probe.SideKernel
}

func typeOf(t string) probe.Type {
	if t == "t" {
		return probe.TypeTracepoint
	}
	return probe.TypeProbe
}

// buildLogger constructs a zap.Logger with the given level and format,
// grounded on the teacher's octoreflex entrypoint.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
