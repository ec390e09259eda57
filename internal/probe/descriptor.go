// Package probe validates, attaches, and detaches kernel/tracepoint/user/
// perf probes against the loaded instrumentation program (spec §4.C).
package probe

import "fmt"

// Side identifies whether a probe attaches in kernel space or against a
// specific user-space executable.
type Side string

const (
	SideKernel Side = "kernel"
	SideUser   Side = "user"
)

// Type identifies the probe kind.
type Type string

const (
	TypeProbe      Type = "probe"
	TypeTracepoint Type = "tracepoint"
)

// Descriptor specifies one probe to attach, per spec §4.C.
type Descriptor struct {
	// Event is the kernel symbol, tracepoint "category/name", or
	// user-space symbol to attach to.
	Event string

	// FnName is the instrumentation-program function to run.
	FnName string

	// IsRet requests a return probe (kretprobe / uretprobe).
	IsRet bool

	Side Side
	Type Type

	// ExecPath is required when Side == SideUser.
	ExecPath string

	// SamplePeriod is used only by hardware perf descriptors (see
	// HardwareDescriptor); zero here.
	SamplePeriod int
}

// Validate checks a software probe descriptor against spec §4.C's rules:
//
//	(i)  user-side descriptors must be TypeProbe and must carry ExecPath.
//	(ii) return probes are forbidden on the kernel side and on tracepoints —
//	     the only return variant is the user return probe.
func (d Descriptor) Validate() error {
	if d.Event == "" {
		return fmt.Errorf("probe descriptor: event must not be empty")
	}
	if d.FnName == "" {
		return fmt.Errorf("probe descriptor %q: fn_name must not be empty", d.Event)
	}
	switch d.Side {
	case SideKernel, SideUser:
	default:
		return fmt.Errorf("probe descriptor %q: side must be %q or %q, got %q", d.Event, SideKernel, SideUser, d.Side)
	}
	switch d.Type {
	case TypeProbe, TypeTracepoint:
	default:
		return fmt.Errorf("probe descriptor %q: type must be %q or %q, got %q", d.Event, TypeProbe, TypeTracepoint, d.Type)
	}

	if d.Side == SideUser {
		if d.Type != TypeProbe {
			return fmt.Errorf("probe descriptor %q: user-side probes must be type=probe, got %q", d.Event, d.Type)
		}
		if d.ExecPath == "" {
			return fmt.Errorf("probe descriptor %q: user-side probes require exec_path", d.Event)
		}
	}

	if d.IsRet && d.Type == TypeTracepoint {
		return fmt.Errorf("probe descriptor %q: return probes are not valid on tracepoints", d.Event)
	}
	if d.IsRet && d.Side == SideKernel {
		return fmt.Errorf("probe descriptor %q: return probes are not valid on the kernel side; the only return variant is the user return probe", d.Event)
	}
	return nil
}

// DefaultSamplePeriod is applied to a HardwareDescriptor whose SamplePeriod
// is unset (spec §4.C rule iii).
const DefaultSamplePeriod = 100

// HardwareDescriptor specifies a hardware perf-counter sampler.
type HardwareDescriptor struct {
	// Event is the hardware perf counter name (e.g. "cpu-cycles", "cache-misses").
	Event string

	// FnName is the instrumentation-program function invoked on overflow.
	FnName string

	// SamplePeriod is the sampling period. If zero, DefaultSamplePeriod is
	// used and the caller should log a warning (spec §4.C rule iii).
	SamplePeriod int

	// CPUs lists the CPUs this sampler is bound to. Empty means "all online
	// CPUs" (spec §9 open question: CPU pinning made configurable, default
	// changed from the teacher's hardcoded single CPU to all CPUs).
	CPUs []int
}

// Validate checks a hardware descriptor and reports whether the default
// sample period was applied (so the caller can emit the spec-mandated
// warning).
func (h *HardwareDescriptor) Validate() (usedDefault bool, err error) {
	if h.Event == "" {
		return false, fmt.Errorf("hardware descriptor: event must not be empty")
	}
	if h.FnName == "" {
		return false, fmt.Errorf("hardware descriptor %q: fn_name must not be empty", h.Event)
	}
	if h.SamplePeriod <= 0 {
		h.SamplePeriod = DefaultSamplePeriod
		return true, nil
	}
	return false, nil
}
