// Package writlet defines the request/response types for writlet IPC.
// Messages are JSON-encoded and sent over a Unix domain socket, one per line.
package writlet

// Operation names carried in the "op" field of every request.
const (
	OpComplete  = "complete"
	OpTransform = "transform"
	OpLogs      = "logs"
	OpConfig    = "config"
)

// EditRequest is sent from the editor client for the "complete" and
// "transform" operations. The document lives on the client side of the
// socket, so the request carries a snapshot of the text around the
// cursor/selection. Dialogs are client-owned too: for "transform" the
// instruction is collected before the request is sent.
type EditRequest struct {
	// Op is "complete" or "transform".
	Op string `json:"op"`
	// RequestID is a per-connection incrementing identifier assigned by the
	// client. The daemon echoes it back in the response for ordering.
	RequestID int `json:"request_id"`
	// Before is the document text immediately preceding the cursor/selection.
	Before string `json:"before"`
	// Selection is the currently selected text, empty for a bare cursor.
	Selection string `json:"selection,omitempty"`
	// After is the document text immediately following the cursor/selection.
	After string `json:"after"`
	// Instruction is the transform instruction entered by the user.
	// nil means the prompt was cancelled.
	Instruction *string `json:"instruction,omitempty"`
	// KeepOriginal keeps the selected text ahead of the transformed text.
	KeepOriginal bool `json:"keep_original,omitempty"`
}

// EditResponse is sent from the daemon back to the editor client.
type EditResponse struct {
	// RequestID is echoed from the request for ordering on the client side.
	RequestID int `json:"request_id"`
	// Text is the replacement for the cursor/selection range.
	Text string `json:"text"`
	// NoChange is true when the operation left the document untouched
	// (empty selection, cancelled instruction prompt).
	NoChange bool `json:"no_change,omitempty"`
	// Error is set when the daemon cannot fulfill the request.
	Error *Error `json:"error,omitempty"`
}

// LogsRequest asks the daemon for recent API call log entries.
type LogsRequest struct {
	// Op is always "logs".
	Op        string `json:"op"`
	RequestID int    `json:"request_id"`
	// Limit caps the number of entries returned. 0 means the default.
	Limit int `json:"limit,omitempty"`
}

// LogEntry is the wire form of one logged API call.
type LogEntry struct {
	ID       uint   `json:"id"`
	Time     string `json:"time"`
	Endpoint string `json:"endpoint"`
	Status   int    `json:"status"`
	Request  string `json:"request"`
	Response string `json:"response"`
}

// LogsResponse carries recent log entries, newest first.
type LogsResponse struct {
	RequestID int        `json:"request_id"`
	Entries   []LogEntry `json:"entries"`
	// Text is the entries rendered as a single display block.
	Text  string `json:"text,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// ConfigRequest is sent from the editor client for configuration operations.
type ConfigRequest struct {
	// Op is always "config".
	Op        string `json:"op"`
	RequestID int    `json:"request_id"`
	// Action is the config operation: "get", "set", or "defaults".
	Action string `json:"action"`
	// Settings carries the full field list for the "set" action.
	Settings []Setting `json:"settings,omitempty"`
}

// Setting is one configuration field.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	// Multiline hints that the field should be rendered as a multi-line box.
	Multiline bool `json:"multiline,omitempty"`
}

// ConfigResponse is sent from the daemon in response to a ConfigRequest.
type ConfigResponse struct {
	RequestID int `json:"request_id"`
	// Settings is the current field list (for "get", "set", and "defaults")
	// in display order.
	Settings []Setting `json:"settings,omitempty"`
	// Warnings contains non-fatal configuration problems (for "get").
	Warnings []string `json:"warnings,omitempty"`
	Error    *Error   `json:"error,omitempty"`
}

// Error describes a daemon-side error returned to the editor client.
type Error struct {
	// Code is a machine-readable error identifier (e.g. "not_configured",
	// "api_error").
	Code string `json:"code"`
	// Message is a human-readable error description.
	Message string `json:"message"`
}
