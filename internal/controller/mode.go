package controller

import "fmt"

// Mode is one state of the pipeline controller's state machine (spec
// §4.F). Transitions only ever move forward: training → detection →
// stopped, or monitoring → stopped (spec §8 "Mode monotonicity").
type Mode uint8

const (
	ModeTraining Mode = iota
	ModeMonitoring
	ModeDetection
	ModeStopped
)

func (m Mode) String() string {
	switch m {
	case ModeTraining:
		return "training"
	case ModeMonitoring:
		return "monitoring"
	case ModeDetection:
		return "detection"
	case ModeStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}
