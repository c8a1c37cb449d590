package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	writlet "github.com/Paranoid-AF/writlet"
	"github.com/Paranoid-AF/writlet/calllog"
	"github.com/Paranoid-AF/writlet/draft"
)

// stubCommander scripts operation outcomes for testing the wire layer.
type stubCommander struct {
	out          string // text written into the document on edits
	err          error
	unconfigured bool // make edits request the settings form
	noop         bool // make edits return without touching the document

	entries []calllog.Entry
	logsErr error

	settings []writlet.Setting
	applied  []writlet.Setting
	applyErr error

	gotLimit       int32
	gotInstruction atomic.Pointer[string]
	gotKeep        atomic.Bool
}

func (c *stubCommander) Complete(_ context.Context, doc draft.Document, ui draft.Prompter) error {
	if c.err != nil {
		return c.err
	}
	if c.unconfigured {
		ui.EditSettings(nil)
		return nil
	}
	if c.noop {
		return nil
	}
	return doc.ReplaceSelection(c.out)
}

func (c *stubCommander) Transform(_ context.Context, doc draft.Document, ui draft.Prompter) error {
	if c.err != nil {
		return c.err
	}
	if c.unconfigured {
		ui.EditSettings(nil)
		return nil
	}
	text, keep, ok := ui.Instruction(true)
	if !ok {
		return nil
	}
	c.gotInstruction.Store(&text)
	c.gotKeep.Store(keep)
	if doc.Selection() == "" {
		return nil
	}
	return doc.ReplaceSelection(c.out)
}

func (c *stubCommander) RecentLogs(limit int) ([]calllog.Entry, error) {
	atomic.StoreInt32(&c.gotLimit, int32(limit))
	if c.logsErr != nil {
		return nil, c.logsErr
	}
	return c.entries, nil
}

func (c *stubCommander) Settings() ([]writlet.Setting, error) {
	return c.settings, nil
}

func (c *stubCommander) ApplySettings(fields []writlet.Setting) error {
	if c.applyErr != nil {
		return c.applyErr
	}
	c.applied = fields
	return nil
}

func (c *stubCommander) Close() error { return nil }

var testSocketCounter atomic.Int64

func newTestServer(t *testing.T, engine Commander) *Server {
	t.Helper()
	// Use /tmp directly to avoid macOS 104-char Unix socket path limit
	n := testSocketCounter.Add(1)
	sockPath := fmt.Sprintf("/tmp/writlet-t%d.sock", n)
	srv, err := NewServerWithCommander(sockPath, engine)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })
	go srv.Serve()
	return srv
}

// sendLine writes one request line and returns the raw response line.
func sendLine(t *testing.T, sockPath string, req any) string {
	t.Helper()
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	conn.Write(append(data, '\n'))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		t.Fatal("no response from server")
	}
	return scanner.Text()
}

func sendEdit(t *testing.T, sockPath string, req *writlet.EditRequest) *writlet.EditResponse {
	t.Helper()
	var resp writlet.EditResponse
	if err := json.Unmarshal([]byte(sendLine(t, sockPath, req)), &resp); err != nil {
		t.Fatal(err)
	}
	return &resp
}

func sendLogs(t *testing.T, sockPath string, req *writlet.LogsRequest) *writlet.LogsResponse {
	t.Helper()
	var resp writlet.LogsResponse
	if err := json.Unmarshal([]byte(sendLine(t, sockPath, req)), &resp); err != nil {
		t.Fatal(err)
	}
	return &resp
}

func sendConfig(t *testing.T, sockPath string, req *writlet.ConfigRequest) *writlet.ConfigResponse {
	t.Helper()
	var resp writlet.ConfigResponse
	if err := json.Unmarshal([]byte(sendLine(t, sockPath, req)), &resp); err != nil {
		t.Fatal(err)
	}
	return &resp
}

func TestCompleteEchoesRequestID(t *testing.T) {
	srv := newTestServer(t, &stubCommander{out: " blue today."})

	resp := sendEdit(t, srv.sockPath, &writlet.EditRequest{
		Op:        writlet.OpComplete,
		RequestID: 17,
		Before:    "The sky is",
	})

	if resp.RequestID != 17 {
		t.Errorf("expected request_id 17, got %d", resp.RequestID)
	}
	if resp.Text != " blue today." {
		t.Errorf("expected completion text, got %q", resp.Text)
	}
	if resp.Error != nil {
		t.Errorf("unexpected error %+v", resp.Error)
	}
}

func TestCompleteNoChange(t *testing.T) {
	srv := newTestServer(t, &stubCommander{noop: true})

	raw := sendLine(t, srv.sockPath, &writlet.EditRequest{
		Op:        writlet.OpComplete,
		RequestID: 1,
		Before:    "x",
	})
	if !strings.Contains(raw, `"no_change":true`) {
		t.Errorf("expected no_change:true in raw JSON, got %s", raw)
	}
}

func TestCompleteUnconfigured(t *testing.T) {
	srv := newTestServer(t, &stubCommander{unconfigured: true})

	resp := sendEdit(t, srv.sockPath, &writlet.EditRequest{
		Op:        writlet.OpComplete,
		RequestID: 2,
	})
	if resp.Error == nil || resp.Error.Code != "not_configured" {
		t.Fatalf("expected not_configured error, got %+v", resp.Error)
	}
}

func TestCompleteSettingErrorCode(t *testing.T) {
	srv := newTestServer(t, &stubCommander{
		err: &draft.SettingError{Key: writlet.KeyMaxWords, Value: "ten", Want: "an integer"},
	})

	resp := sendEdit(t, srv.sockPath, &writlet.EditRequest{Op: writlet.OpComplete, RequestID: 3})
	if resp.Error == nil || resp.Error.Code != "config_error" {
		t.Fatalf("expected config_error, got %+v", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, writlet.KeyMaxWords) {
		t.Errorf("expected offending key in message, got %q", resp.Error.Message)
	}
}

func TestCompleteAPIErrorCode(t *testing.T) {
	srv := newTestServer(t, &stubCommander{err: errors.New("API error (status 500): boom")})

	resp := sendEdit(t, srv.sockPath, &writlet.EditRequest{Op: writlet.OpComplete, RequestID: 4})
	if resp.Error == nil || resp.Error.Code != "api_error" {
		t.Fatalf("expected api_error, got %+v", resp.Error)
	}
}

func TestTransformPassesInstruction(t *testing.T) {
	stub := &stubCommander{out: "↦bonjour↤"}
	srv := newTestServer(t, stub)

	instruction := "Translate to French"
	resp := sendEdit(t, srv.sockPath, &writlet.EditRequest{
		Op:           writlet.OpTransform,
		RequestID:    5,
		Selection:    "hello",
		Instruction:  &instruction,
		KeepOriginal: true,
	})

	if resp.Text != "↦bonjour↤" {
		t.Errorf("expected transformed text, got %q", resp.Text)
	}
	got := stub.gotInstruction.Load()
	if got == nil || *got != instruction {
		t.Errorf("expected instruction passed through, got %v", got)
	}
	if !stub.gotKeep.Load() {
		t.Error("expected keep_original passed through")
	}
}

func TestTransformNilInstructionCancels(t *testing.T) {
	stub := &stubCommander{out: "never"}
	srv := newTestServer(t, stub)

	resp := sendEdit(t, srv.sockPath, &writlet.EditRequest{
		Op:        writlet.OpTransform,
		RequestID: 6,
		Selection: "hello",
	})

	if !resp.NoChange {
		t.Errorf("expected no_change for cancelled instruction, got %+v", resp)
	}
	if stub.gotInstruction.Load() != nil {
		t.Error("expected the operation to stop at the cancelled prompt")
	}
}

func TestUnknownOp(t *testing.T) {
	srv := newTestServer(t, &stubCommander{})

	resp := sendEdit(t, srv.sockPath, &writlet.EditRequest{Op: "banana", RequestID: 9})
	if resp.Error == nil || resp.Error.Code != "unknown_op" {
		t.Fatalf("expected unknown_op error, got %+v", resp.Error)
	}
	if resp.RequestID != 9 {
		t.Errorf("expected request_id echoed, got %d", resp.RequestID)
	}
}

func TestLogsOp(t *testing.T) {
	now := time.Now()
	srv := newTestServer(t, &stubCommander{entries: []calllog.Entry{
		{ID: 2, CreatedAt: now, Endpoint: "e2", Status: 500, Request: "r2", Response: "x2"},
		{ID: 1, CreatedAt: now, Endpoint: "e1", Status: 200, Request: "r1", Response: "x1"},
	}})

	resp := sendLogs(t, srv.sockPath, &writlet.LogsRequest{Op: writlet.OpLogs, RequestID: 10})
	if resp.Error != nil {
		t.Fatalf("unexpected error %+v", resp.Error)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(resp.Entries))
	}
	if resp.Entries[0].Endpoint != "e2" || resp.Entries[0].Status != 500 {
		t.Errorf("unexpected first entry %+v", resp.Entries[0])
	}
	if !strings.Contains(resp.Text, "Endpoint: e2 Status Code: 500") {
		t.Errorf("expected formatted text block, got %q", resp.Text)
	}
}

func TestLogsOpEmpty(t *testing.T) {
	srv := newTestServer(t, &stubCommander{})

	raw := sendLine(t, srv.sockPath, &writlet.LogsRequest{Op: writlet.OpLogs, RequestID: 11})
	if !strings.Contains(raw, `"entries":[]`) {
		t.Errorf("expected entries:[] in raw JSON, got %s", raw)
	}

	var resp writlet.LogsResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Text != "No API logs found" {
		t.Errorf("expected empty-log message, got %q", resp.Text)
	}
}

func TestLogsOpError(t *testing.T) {
	srv := newTestServer(t, &stubCommander{logsErr: errors.New("database locked")})

	resp := sendLogs(t, srv.sockPath, &writlet.LogsRequest{Op: writlet.OpLogs, RequestID: 12})
	if resp.Error == nil || resp.Error.Code != "log_error" {
		t.Fatalf("expected log_error, got %+v", resp.Error)
	}
}

func TestLogsOpPassesLimit(t *testing.T) {
	stub := &stubCommander{}
	srv := newTestServer(t, stub)

	sendLogs(t, srv.sockPath, &writlet.LogsRequest{Op: writlet.OpLogs, RequestID: 13, Limit: 5})
	if got := atomic.LoadInt32(&stub.gotLimit); got != 5 {
		t.Errorf("expected limit 5 passed through, got %d", got)
	}
}

func TestConfigGet(t *testing.T) {
	srv := newTestServer(t, &stubCommander{settings: []writlet.Setting{
		{Key: writlet.KeyEndpoint, Value: "ftp://bad"},
		{Key: writlet.KeyModel, Value: "gpt-4o"},
	}})

	resp := sendConfig(t, srv.sockPath, &writlet.ConfigRequest{
		Op: writlet.OpConfig, RequestID: 20, Action: "get",
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error %+v", resp.Error)
	}
	if len(resp.Settings) != 2 {
		t.Fatalf("expected 2 settings, got %d", len(resp.Settings))
	}
	if len(resp.Warnings) != 1 {
		t.Errorf("expected a warning for the ftp endpoint, got %v", resp.Warnings)
	}
}

func TestConfigSet(t *testing.T) {
	stub := &stubCommander{settings: []writlet.Setting{{Key: writlet.KeyModel, Value: "updated"}}}
	srv := newTestServer(t, stub)

	resp := sendConfig(t, srv.sockPath, &writlet.ConfigRequest{
		Op: writlet.OpConfig, RequestID: 21, Action: "set",
		Settings: []writlet.Setting{{Key: writlet.KeyModel, Value: "updated"}},
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error %+v", resp.Error)
	}
	if len(stub.applied) != 1 || stub.applied[0].Value != "updated" {
		t.Errorf("expected settings applied, got %v", stub.applied)
	}
	if len(resp.Settings) != 1 {
		t.Errorf("expected the stored settings echoed back, got %v", resp.Settings)
	}
}

func TestConfigSetError(t *testing.T) {
	srv := newTestServer(t, &stubCommander{applyErr: errors.New("disk full")})

	resp := sendConfig(t, srv.sockPath, &writlet.ConfigRequest{
		Op: writlet.OpConfig, RequestID: 22, Action: "set",
	})
	if resp.Error == nil || resp.Error.Code != "config_error" {
		t.Fatalf("expected config_error, got %+v", resp.Error)
	}
}

func TestConfigDefaults(t *testing.T) {
	srv := newTestServer(t, &stubCommander{})

	resp := sendConfig(t, srv.sockPath, &writlet.ConfigRequest{
		Op: writlet.OpConfig, RequestID: 23, Action: "defaults",
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error %+v", resp.Error)
	}

	byKey := map[string]string{}
	for _, f := range resp.Settings {
		byKey[f.Key] = f.Value
	}
	if byKey[writlet.KeyModel] != "gpt-4o" {
		t.Errorf("expected default model, got %q", byKey[writlet.KeyModel])
	}
	if byKey[writlet.KeyEndpoint] == "" {
		t.Error("expected a default endpoint")
	}
}

func TestConfigUnknownAction(t *testing.T) {
	srv := newTestServer(t, &stubCommander{})

	resp := sendConfig(t, srv.sockPath, &writlet.ConfigRequest{
		Op: writlet.OpConfig, RequestID: 24, Action: "explode",
	})
	if resp.Error == nil || resp.Error.Code != "unknown_action" {
		t.Fatalf("expected unknown_action, got %+v", resp.Error)
	}
}
