package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	writlet "github.com/Paranoid-AF/writlet"
	"github.com/Paranoid-AF/writlet/draft"
	"golang.org/x/term"
)

// transcript is the parsed form of a repl transcript. Every operation the
// repl runs appends one [[entry]] table to the output stream, so a captured
// transcript is a valid TOML document and can be fed back through :replay.
type transcript struct {
	Entry []transcriptEntry `toml:"entry"`
}

// transcriptEntry records one operation: the document as the engine saw it,
// the inputs the user supplied, and the outcome.
type transcriptEntry struct {
	Timestamp    time.Time         `toml:"timestamp"`
	Op           string            `toml:"op"`
	Before       string            `toml:"before"`
	Selection    string            `toml:"selection"`
	After        string            `toml:"after"`
	Instruction  string            `toml:"instruction"`
	KeepOriginal bool              `toml:"keep_original"`
	Result       *transcriptResult `toml:"result"`
	Error        *transcriptError  `toml:"error"`
}

type transcriptResult struct {
	Text string `toml:"text"`
}

type transcriptError struct {
	Code    string `toml:"code"`
	Message string `toml:"message"`
}

// readTranscript parses a transcript file written by writeEntry.
func readTranscript(path string) (*transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	var tr transcript
	if _, err := toml.Decode(string(data), &tr); err != nil {
		return nil, fmt.Errorf("parse transcript %s: %w", path, err)
	}
	return &tr, nil
}

// termWriter wraps a file and converts \n to \r\n when the file is a terminal
// (needed because raw mode disables the kernel's NL→CRNL translation).
// When the file is redirected, \n passes through unchanged.
func termWriter(f *os.File) io.Writer {
	if term.IsTerminal(int(f.Fd())) {
		return &crlfWriter{w: f}
	}
	return f
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	replaced := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	_, err := c.w.Write(replaced)
	return len(p), err // report original length to caller
}

// writeEntry writes a single TOML-formatted entry to w.
func writeEntry(w io.Writer, en transcriptEntry) {
	fmt.Fprintf(w, "# %s\n\n", strings.Repeat("═", 60))

	fmt.Fprintln(w, "[[entry]]")
	fmt.Fprintf(w, "timestamp = %s\n", en.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "op = %s\n", tomlQuote(en.Op))
	fmt.Fprintf(w, "before = %s\n", tomlQuote(en.Before))
	fmt.Fprintf(w, "selection = %s\n", tomlQuote(en.Selection))
	fmt.Fprintf(w, "after = %s\n", tomlQuote(en.After))
	if en.Op == writlet.OpTransform {
		fmt.Fprintf(w, "instruction = %s\n", tomlQuote(en.Instruction))
		fmt.Fprintf(w, "keep_original = %t\n", en.KeepOriginal)
	}
	fmt.Fprintln(w)

	if en.Error != nil {
		fmt.Fprintln(w, "[entry.error]")
		fmt.Fprintf(w, "code = %s\n", tomlQuote(en.Error.Code))
		fmt.Fprintf(w, "message = %s\n", tomlQuote(en.Error.Message))
		fmt.Fprintln(w)
		return
	}
	if en.Result != nil {
		fmt.Fprintln(w, "[entry.result]")
		fmt.Fprintf(w, "text = %s\n", tomlQuote(en.Result.Text))
		fmt.Fprintln(w)
	}
}

// newTranscriptError wraps an operation error with the same code the daemon
// reports on the wire.
func newTranscriptError(err error) *transcriptError {
	var se *draft.SettingError
	code := "api_error"
	if errors.As(err, &se) {
		code = "config_error"
	}
	return &transcriptError{Code: code, Message: err.Error()}
}

// tomlQuote returns a TOML basic-string quoted value.
func tomlQuote(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\t", "\\t")
	s = strings.ReplaceAll(s, "\r", "\\r")
	return "\"" + s + "\""
}
