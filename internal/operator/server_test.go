package operator

import (
	"testing"

	"go.uber.org/zap"
)

type fakeSnapshot struct {
	status   Status
	clusters []ClusterStatus
}

func (f fakeSnapshot) Status() Status                     { return f.status }
func (f fakeSnapshot) ClusterThresholds() []ClusterStatus { return f.clusters }

func TestDispatch_Status(t *testing.T) {
	s := NewServer("/tmp/unused.sock", fakeSnapshot{status: Status{Mode: "detection", RunLabel: "run1"}}, zap.NewNop())
	resp := s.dispatch(Request{Cmd: "status"})
	if !resp.OK || resp.Status == nil || resp.Status.Mode != "detection" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestDispatch_List(t *testing.T) {
	s := NewServer("/tmp/unused.sock", fakeSnapshot{clusters: []ClusterStatus{{Index: 0, Threshold: 42}}}, zap.NewNop())
	resp := s.dispatch(Request{Cmd: "list"})
	if !resp.OK || len(resp.Clusters) != 1 || resp.Clusters[0].Threshold != 42 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestDispatch_UnknownCommand(t *testing.T) {
	s := NewServer("/tmp/unused.sock", fakeSnapshot{}, zap.NewNop())
	resp := s.dispatch(Request{Cmd: "reset"})
	if resp.OK {
		t.Fatal("expected error for unknown command")
	}
}
