package probe

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// hwEvents maps the spec's hardware event names to PERF_TYPE_HARDWARE
// configs. Only counters that are broadly available across the x86-64 and
// arm64 PMUs the data plane targets are listed.
var hwEvents = map[string]uint64{
	"cpu-cycles":    unix.PERF_COUNT_HW_CPU_CYCLES,
	"instructions":  unix.PERF_COUNT_HW_INSTRUCTIONS,
	"cache-misses":  unix.PERF_COUNT_HW_CACHE_MISSES,
	"cache-refs":    unix.PERF_COUNT_HW_CACHE_REFERENCES,
	"branch-misses": unix.PERF_COUNT_HW_BRANCH_MISSES,
}

// Supervisor attaches and detaches probes against a loaded instrumentation
// program and tears them down in strict LIFO order on shutdown (spec §4.C
// "Attach/detach ordering").
type Supervisor struct {
	log   *zap.Logger
	coll  *ebpf.Collection
	stack []closer
}

type closer struct {
	label string
	close func() error
}

// NewSupervisor returns a Supervisor bound to coll. coll outlives the
// Supervisor; callers close it separately (dataplane.Objects.Close).
func NewSupervisor(log *zap.Logger, coll *ebpf.Collection) *Supervisor {
	return &Supervisor{log: log, coll: coll}
}

// AttachSoftware attaches one kprobe, kretprobe, tracepoint, uprobe, or
// uretprobe descriptor. Attach failures here are fatal to startup (spec
// §4.C: "a resource or application monitor that fails to attach aborts
// the run"), so the caller should treat a non-nil error as unrecoverable.
func (s *Supervisor) AttachSoftware(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	prog := s.coll.Programs[d.FnName]
	if prog == nil {
		return fmt.Errorf("probe %q: program %q not found in collection", d.Event, d.FnName)
	}

	var (
		l   link.Link
		err error
	)

	switch {
	case d.Side == SideKernel && d.Type == TypeTracepoint:
		category, name, splitErr := splitTracepoint(d.Event)
		if splitErr != nil {
			return fmt.Errorf("probe %q: %w", d.Event, splitErr)
		}
		l, err = link.Tracepoint(category, name, prog, nil)

	case d.Side == SideKernel && d.Type == TypeProbe:
		l, err = link.Kprobe(d.Event, prog, nil)

	case d.Side == SideUser && !d.IsRet:
		var ex *link.Executable
		ex, err = link.OpenExecutable(d.ExecPath)
		if err == nil {
			l, err = ex.Uprobe(d.Event, prog, nil)
		}

	case d.Side == SideUser && d.IsRet:
		var ex *link.Executable
		ex, err = link.OpenExecutable(d.ExecPath)
		if err == nil {
			l, err = ex.Uretprobe(d.Event, prog, nil)
		}

	default:
		err = fmt.Errorf("unreachable descriptor combination")
	}

	if err != nil {
		return fmt.Errorf("attach probe %q (side=%s type=%s ret=%v): %w", d.Event, d.Side, d.Type, d.IsRet, err)
	}

	s.push(fmt.Sprintf("probe:%s", d.Event), l.Close)
	return nil
}

// AttachHardware opens a perf_event for each CPU in h.CPUs (all online CPUs
// if empty) and attaches the instrumentation program as its overflow
// handler. It calls Validate itself: a SamplePeriod of zero is resolved to
// DefaultSamplePeriod and a warning is logged.
func (s *Supervisor) AttachHardware(h HardwareDescriptor) error {
	if usedDefault, err := h.Validate(); err != nil {
		return err
	} else if usedDefault {
		s.log.Warn("hardware monitor sample_period unset, using default",
			zap.String("event", h.Event), zap.Int("sample_period", DefaultSamplePeriod))
	}

	config, ok := hwEvents[h.Event]
	if !ok {
		return fmt.Errorf("hardware monitor %q: unknown hardware event", h.Event)
	}

	prog := s.coll.Programs[h.FnName]
	if prog == nil {
		return fmt.Errorf("hardware monitor %q: program %q not found in collection", h.Event, h.FnName)
	}

	cpus := h.CPUs
	if len(cpus) == 0 {
		n := runtime.NumCPU()
		cpus = make([]int, n)
		for i := range cpus {
			cpus[i] = i
		}
	}

	for _, cpu := range cpus {
		attr := &unix.PerfEventAttr{
			Type:   unix.PERF_TYPE_HARDWARE,
			Config: config,
			Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
			Sample: uint64(h.SamplePeriod),
			Bits:   unix.PerfBitDisabled,
		}

		fd, err := unix.PerfEventOpen(attr, -1, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
		if err != nil {
			return fmt.Errorf("hardware monitor %q: perf_event_open cpu=%d: %w", h.Event, cpu, err)
		}

		if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_SET_BPF, prog.FD()); err != nil {
			_ = unix.Close(fd)
			return fmt.Errorf("hardware monitor %q: attach bpf program cpu=%d: %w", h.Event, cpu, err)
		}
		if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
			_ = unix.Close(fd)
			return fmt.Errorf("hardware monitor %q: enable perf event cpu=%d: %w", h.Event, cpu, err)
		}

		label := fmt.Sprintf("hw:%s/cpu%d", h.Event, cpu)
		s.push(label, func() error {
			_ = unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_DISABLE, 0)
			return unix.Close(fd)
		})
	}
	return nil
}

// push records a closer on the attach stack. Attach order is always
// resource monitors, then hardware monitors, then application monitors
// (enforced by the caller), so reverse-stack order detaches application
// monitors first.
func (s *Supervisor) push(label string, close func() error) {
	s.stack = append(s.stack, closer{label: label, close: close})
}

// DetachAll tears down every attached probe in LIFO order. Detach failures
// are logged, not fatal — a probe that refuses to detach does not prevent
// the rest of the run from shutting down cleanly (spec §4.C).
func (s *Supervisor) DetachAll() {
	for i := len(s.stack) - 1; i >= 0; i-- {
		c := s.stack[i]
		if err := c.close(); err != nil {
			s.log.Warn("probe detach failed", zap.String("probe", c.label), zap.Error(err))
		}
	}
	s.stack = nil
}

// Attached returns the number of probes currently attached, used by the
// observability layer to report probes_attached.
func (s *Supervisor) Attached() int {
	return len(s.stack)
}

func splitTracepoint(event string) (category, name string, err error) {
	for i := 0; i < len(event); i++ {
		if event[i] == '/' {
			return event[:i], event[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("tracepoint event %q must be \"category/name\"", event)
}
