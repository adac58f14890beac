// Package operator — server.go
//
// Unix domain socket console for the control core (spec §5).
//
// Protocol: newline-delimited JSON over a Unix domain socket.
// Socket path: /run/mxrc/operator.sock (configurable).
// Permissions: 0600, owned by root. Only root can connect.
//
// Commands (JSON request → JSON response):
//
//	{"cmd":"pause"}
//	  → Pauses the arbiter (no new task selection until resumed).
//	  → Response: {"ok":true}
//
//	{"cmd":"resume"}
//	  → Resumes arbiter task selection.
//	  → Response: {"ok":true}
//
//	{"cmd":"cancel","task_id":"pick-42"}
//	  → Cancels the given task if it is current or suspended.
//	  → Response: {"ok":true,"task_id":"pick-42"}
//
//	{"cmd":"mode"}
//	  → Returns the arbiter's current control mode and running task id.
//	  → Response: {"ok":true,"mode":"AUTO","task_id":"pick-42"}
//
//	{"cmd":"ack_alarm","alarm_id":"a1","by":"operator1"}
//	  → Acknowledges an active alarm.
//	  → Response: {"ok":true,"alarm_id":"a1"}
//
//	{"cmd":"resolve_alarm","alarm_id":"a1"}
//	  → Resolves an active or acknowledged alarm.
//	  → Response: {"ok":true,"alarm_id":"a1"}
//
//	{"cmd":"reset_all_alarms"}
//	  → Resolves every active alarm.
//	  → Response: {"ok":true,"count":3}
//
// Security:
//   - Socket is created with 0600 permissions; only root can connect.
//   - Each connection is handled in a separate goroutine.
//   - Max concurrent connections: 4 (operator use only, not high-throughput).
//   - Max request size: 4096 bytes (prevents memory exhaustion).
//   - Connection timeout: 10s read, 10s write.
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

	"github.com/mxrc/control-core/internal/mode"
)

const (
	maxConcurrentConns = 4
	maxRequestBytes    = 4096
	connTimeout        = 10 * time.Second
)

// ArbiterController is the subset of arbiter.Arbiter the operator console
// drives.
type ArbiterController interface {
	Pause()
	Resume()
	CancelBehavior(id string) bool
	GetCurrentMode() mode.Mode
	GetCurrentTaskID() (string, bool)
}

// AlarmAdmin is the subset of alarm.Engine the operator console drives.
type AlarmAdmin interface {
	AcknowledgeAlarm(id, by string) error
	ResolveAlarm(id string) error
	ResetAllAlarms() int
}

// Request is the JSON structure for operator commands.
type Request struct {
	Cmd     string `json:"cmd"`
	TaskID  string `json:"task_id,omitempty"`
	AlarmID string `json:"alarm_id,omitempty"`
	By      string `json:"by,omitempty"`
}

// Response is the JSON structure for operator command responses.
type Response struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Mode    string `json:"mode,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
	AlarmID string `json:"alarm_id,omitempty"`
	Count   int    `json:"count,omitempty"`
}

// Server is the operator Unix domain socket console.
type Server struct {
	socketPath string
	arbiter    ArbiterController
	alarms     AlarmAdmin
	log        *zap.Logger
	sem        chan struct{} // Semaphore: max concurrent connections.
}

// NewServer creates an operator Server.
func NewServer(socketPath string, arbiter ArbiterController, alarms AlarmAdmin, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		socketPath: socketPath,
		arbiter:    arbiter,
		alarms:     alarms,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe starts the operator socket server.
// Removes any stale socket file before binding. Blocks until ctx is
// cancelled.
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

// handleConn handles a single operator connection: reads one JSON
// request, executes the command, writes one JSON response.
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

	resp := s.dispatch(req)
	s.writeResponse(conn, resp)
}

// dispatch routes a request to the appropriate handler.
func (s *Server) dispatch(req Request) Response {
	switch req.Cmd {
	case "pause":
		return s.cmdPause()
	case "resume":
		return s.cmdResume()
	case "cancel":
		return s.cmdCancel(req)
	case "mode":
		return s.cmdMode()
	case "ack_alarm":
		return s.cmdAckAlarm(req)
	case "resolve_alarm":
		return s.cmdResolveAlarm(req)
	case "reset_all_alarms":
		return s.cmdResetAllAlarms()
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) cmdPause() Response {
	s.arbiter.Pause()
	s.log.Info("operator: arbiter paused")
	return Response{OK: true}
}

func (s *Server) cmdResume() Response {
	s.arbiter.Resume()
	s.log.Info("operator: arbiter resumed")
	return Response{OK: true}
}

func (s *Server) cmdCancel(req Request) Response {
	if req.TaskID == "" {
		return Response{OK: false, Error: "task_id required for cancel"}
	}
	if !s.arbiter.CancelBehavior(req.TaskID) {
		return Response{OK: false, Error: fmt.Sprintf("task %q not current or suspended", req.TaskID)}
	}
	s.log.Info("operator: task cancelled", zap.String("task_id", req.TaskID))
	return Response{OK: true, TaskID: req.TaskID}
}

func (s *Server) cmdMode() Response {
	resp := Response{OK: true, Mode: s.arbiter.GetCurrentMode().String()}
	if id, ok := s.arbiter.GetCurrentTaskID(); ok {
		resp.TaskID = id
	}
	return resp
}

func (s *Server) cmdAckAlarm(req Request) Response {
	if req.AlarmID == "" {
		return Response{OK: false, Error: "alarm_id required for ack_alarm"}
	}
	if err := s.alarms.AcknowledgeAlarm(req.AlarmID, req.By); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	s.log.Info("operator: alarm acknowledged", zap.String("alarm_id", req.AlarmID), zap.String("by", req.By))
	return Response{OK: true, AlarmID: req.AlarmID}
}

func (s *Server) cmdResolveAlarm(req Request) Response {
	if req.AlarmID == "" {
		return Response{OK: false, Error: "alarm_id required for resolve_alarm"}
	}
	if err := s.alarms.ResolveAlarm(req.AlarmID); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	s.log.Info("operator: alarm resolved", zap.String("alarm_id", req.AlarmID))
	return Response{OK: true, AlarmID: req.AlarmID}
}

func (s *Server) cmdResetAllAlarms() Response {
	n := s.alarms.ResetAllAlarms()
	s.log.Info("operator: all alarms reset", zap.Int("count", n))
	return Response{OK: true, Count: n}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
