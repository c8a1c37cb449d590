package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"time"

	writlet "github.com/Paranoid-AF/writlet"
	"github.com/Paranoid-AF/writlet/calllog"
	"github.com/Paranoid-AF/writlet/draft"
)

// Commander runs writlet operations on behalf of socket clients.
type Commander interface {
	Complete(ctx context.Context, doc draft.Document, ui draft.Prompter) error
	Transform(ctx context.Context, doc draft.Document, ui draft.Prompter) error
	RecentLogs(limit int) ([]calllog.Entry, error)
	Settings() ([]writlet.Setting, error)
	ApplySettings(fields []writlet.Setting) error
	Close() error
}

// Server listens on a Unix domain socket for writlet requests.
type Server struct {
	listener net.Listener
	sockPath string
	engine   Commander
}

// NewServer creates a new IPC server bound to the given socket path.
func NewServer(sockPath string) (*Server, error) {
	engine, err := draft.NewEngine()
	if err != nil {
		return nil, err
	}
	return NewServerWithCommander(sockPath, engine)
}

// NewServerWithCommander creates a new IPC server with a custom Commander.
func NewServerWithCommander(sockPath string, engine Commander) (*Server, error) {
	// Remove stale socket file if it exists
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}

	return &Server{
		listener: listener,
		sockPath: sockPath,
		engine:   engine,
	}, nil
}

// Serve accepts connections and handles requests.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close shuts down the server, the engine, and removes the socket file.
func (s *Server) Close() {
	if err := s.engine.Close(); err != nil {
		slog.Warn("failed to close engine", "error", err)
	}
	s.listener.Close()
	os.Remove(s.sockPath)
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}

	raw := scanner.Bytes()
	slog.Debug("request", "data", string(raw))

	var probe struct {
		Op        string `json:"op"`
		RequestID int    `json:"request_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		slog.Warn("invalid request", "error", err)
		return
	}

	switch probe.Op {
	case writlet.OpComplete, writlet.OpTransform:
		var req writlet.EditRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			slog.Warn("invalid edit request", "error", err)
			return
		}
		s.handleEdit(conn, &req)

	case writlet.OpLogs:
		var req writlet.LogsRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			slog.Warn("invalid logs request", "error", err)
			return
		}
		s.handleLogs(conn, &req)

	case writlet.OpConfig:
		var req writlet.ConfigRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			slog.Warn("invalid config request", "error", err)
			return
		}
		s.handleConfig(conn, &req)

	default:
		writeJSON(conn, &writlet.EditResponse{
			RequestID: probe.RequestID,
			Error: &writlet.Error{
				Code:    "unknown_op",
				Message: "unknown op: " + probe.Op,
			},
		})
	}
}

// wireDocument is a Document over the snapshot carried by an EditRequest.
// The real document lives on the client side, so a replacement is recorded
// here and shipped back in the response.
type wireDocument struct {
	req      *writlet.EditRequest
	text     string
	replaced bool
}

func (d *wireDocument) Selection() string {
	return d.req.Selection
}

// Context returns the windows the client extracted. The engine clips them
// to the configured sizes.
func (d *wireDocument) Context(before, after int) (string, string) {
	return d.req.Before, d.req.After
}

func (d *wireDocument) ReplaceSelection(text string) error {
	d.text = text
	d.replaced = true
	return nil
}

// wirePrompter resolves prompts from the request itself: dialogs are owned
// by the client, which collects the instruction before sending. A request
// for the configuration form is recorded and surfaced as not_configured so
// the client opens its own dialog.
type wirePrompter struct {
	req           *writlet.EditRequest
	settingsAsked bool
}

func (p *wirePrompter) Message(text string) {}

func (p *wirePrompter) Instruction(defaultKeep bool) (string, bool, bool) {
	if p.req.Instruction == nil {
		return "", defaultKeep, false
	}
	return *p.req.Instruction, p.req.KeepOriginal, true
}

func (p *wirePrompter) EditSettings(fields []writlet.Setting) ([]writlet.Setting, bool) {
	p.settingsAsked = true
	return nil, false
}

func (s *Server) handleEdit(conn net.Conn, req *writlet.EditRequest) {
	doc := &wireDocument{req: req}
	ui := &wirePrompter{req: req}

	var err error
	if req.Op == writlet.OpComplete {
		err = s.engine.Complete(context.Background(), doc, ui)
	} else {
		err = s.engine.Transform(context.Background(), doc, ui)
	}

	resp := writlet.EditResponse{RequestID: req.RequestID}
	switch {
	case err != nil:
		resp.Error = wireError(err)
	case ui.settingsAsked:
		resp.Error = &writlet.Error{
			Code:    "not_configured",
			Message: "API key not configured; set WRITLET_API_KEY or edit the configuration",
		}
	case doc.replaced:
		resp.Text = doc.text
	default:
		resp.NoChange = true
	}

	writeJSON(conn, &resp)
}

func (s *Server) handleLogs(conn net.Conn, req *writlet.LogsRequest) {
	resp := writlet.LogsResponse{
		RequestID: req.RequestID,
		Entries:   []writlet.LogEntry{},
	}

	entries, err := s.engine.RecentLogs(req.Limit)
	if err != nil {
		resp.Error = &writlet.Error{Code: "log_error", Message: err.Error()}
		writeJSON(conn, &resp)
		return
	}

	for _, en := range entries {
		resp.Entries = append(resp.Entries, writlet.LogEntry{
			ID:       en.ID,
			Time:     en.CreatedAt.Format(time.RFC3339),
			Endpoint: en.Endpoint,
			Status:   en.Status,
			Request:  en.Request,
			Response: en.Response,
		})
	}
	if len(entries) == 0 {
		resp.Text = "No API logs found"
	} else {
		resp.Text = draft.FormatEntries(entries)
	}

	writeJSON(conn, &resp)
}

func (s *Server) handleConfig(conn net.Conn, req *writlet.ConfigRequest) {
	resp := writlet.ConfigResponse{RequestID: req.RequestID}

	switch req.Action {
	case "get":
		fields, err := s.engine.Settings()
		if err != nil {
			resp.Error = &writlet.Error{Code: "config_error", Message: err.Error()}
		} else {
			resp.Settings = fields
			resp.Warnings = writlet.ValidateSettings(fields)
		}

	case "set":
		if err := s.engine.ApplySettings(req.Settings); err != nil {
			resp.Error = &writlet.Error{Code: "config_error", Message: err.Error()}
		} else if fields, err := s.engine.Settings(); err == nil {
			resp.Settings = fields
		}

	case "defaults":
		resp.Settings = writlet.DefaultSettingsList()

	default:
		resp.Error = &writlet.Error{
			Code:    "unknown_action",
			Message: "unknown config action: " + req.Action,
		}
	}

	writeJSON(conn, &resp)
}

// wireError maps an engine failure to a wire error code.
func wireError(err error) *writlet.Error {
	var settingErr *draft.SettingError
	if errors.As(err, &settingErr) {
		return &writlet.Error{Code: "config_error", Message: err.Error()}
	}
	return &writlet.Error{Code: "api_error", Message: err.Error()}
}

func writeJSON(conn net.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}
	slog.Debug("response", "data", string(data))
	conn.Write(append(data, '\n'))
}
