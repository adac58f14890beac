package operator

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/mxrc/control-core/internal/mode"
)

type fakeArbiter struct {
	paused    bool
	resumed   bool
	cancelled string
	cancelOK  bool
	curMode   mode.Mode
	taskID    string
	hasTask   bool
}

func (f *fakeArbiter) Pause()  { f.paused = true }
func (f *fakeArbiter) Resume() { f.resumed = true }
func (f *fakeArbiter) CancelBehavior(id string) bool {
	f.cancelled = id
	return f.cancelOK
}
func (f *fakeArbiter) GetCurrentMode() mode.Mode         { return f.curMode }
func (f *fakeArbiter) GetCurrentTaskID() (string, bool) { return f.taskID, f.hasTask }

type fakeAlarms struct {
	ackErr     error
	resolveErr error
	resetCount int
	ackedID    string
	resolvedID string
}

func (f *fakeAlarms) AcknowledgeAlarm(id, by string) error {
	f.ackedID = id
	return f.ackErr
}
func (f *fakeAlarms) ResolveAlarm(id string) error {
	f.resolvedID = id
	return f.resolveErr
}
func (f *fakeAlarms) ResetAllAlarms() int { return f.resetCount }

func startTestServer(t *testing.T, arb *fakeArbiter, alarms *fakeAlarms) (string, func()) {
	t.Helper()
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "operator.sock")
	srv := NewServer(sockPath, arb, alarms, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.ListenAndServe(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := net.Dial("unix", sockPath); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	return sockPath, func() {
		cancel()
		<-done
	}
}

func sendRequest(t *testing.T, sockPath string, req Request) Response {
	t.Helper()
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := conn.Write(body); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, maxRequestBytes)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		t.Fatalf("Unmarshal response: %v", err)
	}
	return resp
}

func TestOperatorPauseResume(t *testing.T) {
	arb := &fakeArbiter{}
	sockPath, stop := startTestServer(t, arb, &fakeAlarms{})
	defer stop()

	resp := sendRequest(t, sockPath, Request{Cmd: "pause"})
	if !resp.OK || !arb.paused {
		t.Fatalf("pause failed: %+v", resp)
	}
	resp = sendRequest(t, sockPath, Request{Cmd: "resume"})
	if !resp.OK || !arb.resumed {
		t.Fatalf("resume failed: %+v", resp)
	}
}

func TestOperatorCancelRequiresTaskID(t *testing.T) {
	arb := &fakeArbiter{}
	sockPath, stop := startTestServer(t, arb, &fakeAlarms{})
	defer stop()

	resp := sendRequest(t, sockPath, Request{Cmd: "cancel"})
	if resp.OK {
		t.Fatalf("expected failure without task_id, got %+v", resp)
	}
}

func TestOperatorCancelSuccess(t *testing.T) {
	arb := &fakeArbiter{cancelOK: true}
	sockPath, stop := startTestServer(t, arb, &fakeAlarms{})
	defer stop()

	resp := sendRequest(t, sockPath, Request{Cmd: "cancel", TaskID: "pick-1"})
	if !resp.OK || resp.TaskID != "pick-1" || arb.cancelled != "pick-1" {
		t.Fatalf("cancel failed: %+v", resp)
	}
}

func TestOperatorMode(t *testing.T) {
	arb := &fakeArbiter{curMode: mode.Auto, taskID: "pick-2", hasTask: true}
	sockPath, stop := startTestServer(t, arb, &fakeAlarms{})
	defer stop()

	resp := sendRequest(t, sockPath, Request{Cmd: "mode"})
	if !resp.OK || resp.Mode != "AUTO" || resp.TaskID != "pick-2" {
		t.Fatalf("mode query failed: %+v", resp)
	}
}

func TestOperatorAckAndResolveAlarm(t *testing.T) {
	alarms := &fakeAlarms{}
	sockPath, stop := startTestServer(t, &fakeArbiter{}, alarms)
	defer stop()

	resp := sendRequest(t, sockPath, Request{Cmd: "ack_alarm", AlarmID: "a1", By: "op1"})
	if !resp.OK || alarms.ackedID != "a1" {
		t.Fatalf("ack_alarm failed: %+v", resp)
	}

	resp = sendRequest(t, sockPath, Request{Cmd: "resolve_alarm", AlarmID: "a1"})
	if !resp.OK || alarms.resolvedID != "a1" {
		t.Fatalf("resolve_alarm failed: %+v", resp)
	}
}

func TestOperatorAckAlarmPropagatesError(t *testing.T) {
	alarms := &fakeAlarms{ackErr: errors.New("not active")}
	sockPath, stop := startTestServer(t, &fakeArbiter{}, alarms)
	defer stop()

	resp := sendRequest(t, sockPath, Request{Cmd: "ack_alarm", AlarmID: "a1"})
	if resp.OK {
		t.Fatalf("expected failure propagated from AcknowledgeAlarm")
	}
}

func TestOperatorResetAllAlarms(t *testing.T) {
	alarms := &fakeAlarms{resetCount: 3}
	sockPath, stop := startTestServer(t, &fakeArbiter{}, alarms)
	defer stop()

	resp := sendRequest(t, sockPath, Request{Cmd: "reset_all_alarms"})
	if !resp.OK || resp.Count != 3 {
		t.Fatalf("reset_all_alarms failed: %+v", resp)
	}
}

func TestOperatorUnknownCommand(t *testing.T) {
	sockPath, stop := startTestServer(t, &fakeArbiter{}, &fakeAlarms{})
	defer stop()

	resp := sendRequest(t, sockPath, Request{Cmd: "bogus"})
	if resp.OK {
		t.Fatalf("expected failure for unknown command")
	}
}
