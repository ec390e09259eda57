// Package operator — server.go
//
// Unix domain socket server exposing read-only introspection into a
// running finelame process. Unlike the containment-era predecessor this
// is adapted from, there is nothing here to mutate: a finelame run has no
// per-process state an operator could reset or pin, only a pipeline mode
// and a set of published model parameters, so the protocol is pared down
// to "status" and "list".
//
// Protocol: newline-delimited JSON over a Unix domain socket.
// Socket path: configurable, default /run/finelame/operator.sock.
// Permissions: 0600, owned by root.
//
// Commands (JSON request -> JSON response):
//
//	{"cmd":"status"}
//	  -> Current pipeline mode, run label, and probe/fingerprint counts.
//	  -> Response: {"ok":true,"status":{"mode":"detection","run_label":"run1","probes_attached":12,"fingerprints_live":3}}
//
//	{"cmd":"list"}
//	  -> Per-cluster threshold snapshot, once a model has been published.
//	  -> Response: {"ok":true,"clusters":[{"index":0,"threshold":1234},...]}
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	maxConcurrentConns = 4
	maxRequestBytes    = 4096
	connTimeout        = 10 * time.Second
)

// StatusSnapshot is the read-only view the operator server reports. The
// controller updates it in place as the pipeline moves through its modes.
type StatusSnapshot interface {
	// Status returns the current pipeline mode, run label, and live
	// counters.
	Status() Status

	// ClusterThresholds returns the published per-cluster thresholds, or
	// nil if no model has been published yet.
	ClusterThresholds() []ClusterStatus
}

// Status is a snapshot of the controller's current state.
type Status struct {
	Mode             string `json:"mode"`
	RunLabel         string `json:"run_label"`
	ProbesAttached   int    `json:"probes_attached"`
	FingerprintsLive int    `json:"fingerprints_live"`
}

// ClusterStatus is one cluster's published threshold.
type ClusterStatus struct {
	Index     int    `json:"index"`
	Threshold uint64 `json:"threshold"`
}

// Request is the JSON structure for operator commands.
type Request struct {
	Cmd string `json:"cmd"` // status | list
}

// Response is the JSON structure for operator command responses.
type Response struct {
	OK       bool             `json:"ok"`
	Error    string           `json:"error,omitempty"`
	Status   *Status          `json:"status,omitempty"`
	Clusters []ClusterStatus  `json:"clusters,omitempty"`
}

// Server is the read-only operator Unix domain socket server.
type Server struct {
	socketPath string
	snapshot   StatusSnapshot
	log        *zap.Logger
	sem        chan struct{}
}

// NewServer creates an operator Server.
func NewServer(socketPath string, snapshot StatusSnapshot, log *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		snapshot:   snapshot,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe starts the operator socket server, removing any stale
// socket file before binding. Blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("operator: remove stale socket %q: %w", s.socketPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("operator: mkdir %q: %w", filepath.Dir(s.socketPath), err)
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("operator: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("operator: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("operator socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("operator: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("operator: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("operator: read error", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	s.writeResponse(conn, s.dispatch(req))
}

func (s *Server) dispatch(req Request) Response {
	switch req.Cmd {
	case "status":
		status := s.snapshot.Status()
		return Response{OK: true, Status: &status}
	case "list":
		return Response{OK: true, Clusters: s.snapshot.ClusterThresholds()}
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q (valid: status, list)", req.Cmd)}
	}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
