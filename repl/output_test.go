package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	writlet "github.com/Paranoid-AF/writlet"
	"github.com/Paranoid-AF/writlet/draft"
)

func TestTranscriptRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)

	entries := []transcriptEntry{
		{
			Timestamp: now,
			Op:        writlet.OpComplete,
			Before:    "The sky is",
			After:     "and the grass\nis green.",
			Result:    &transcriptResult{Text: " blue today."},
		},
		{
			Timestamp:    now,
			Op:           writlet.OpTransform,
			Before:       "Greeting: ",
			Selection:    "hello",
			After:        " world",
			Instruction:  `say it "en français"`,
			KeepOriginal: true,
			Result:       &transcriptResult{Text: "hello\n\n↦bonjour↤"},
		},
		{
			Timestamp: now,
			Op:        writlet.OpTransform,
			Selection: "x",
			Error:     &transcriptError{Code: "api_error", Message: "API error (status 500): boom"},
		},
	}

	var buf bytes.Buffer
	for _, en := range entries {
		writeEntry(&buf, en)
	}

	path := filepath.Join(t.TempDir(), "session.toml")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}

	tr, err := readTranscript(path)
	if err != nil {
		t.Fatalf("transcript does not parse back: %v", err)
	}
	if len(tr.Entry) != len(entries) {
		t.Fatalf("expected %d entries, got %d", len(entries), len(tr.Entry))
	}

	for i, want := range entries {
		got := tr.Entry[i]
		if !got.Timestamp.Equal(want.Timestamp) {
			t.Errorf("entry %d: timestamp %v, want %v", i, got.Timestamp, want.Timestamp)
		}
		if got.Op != want.Op || got.Before != want.Before || got.Selection != want.Selection || got.After != want.After {
			t.Errorf("entry %d: document snapshot mismatch: %+v", i, got)
		}
		if want.Op == writlet.OpTransform {
			if got.Instruction != want.Instruction || got.KeepOriginal != want.KeepOriginal {
				t.Errorf("entry %d: instruction mismatch: %+v", i, got)
			}
		}
		if (got.Result == nil) != (want.Result == nil) {
			t.Fatalf("entry %d: result presence mismatch", i)
		}
		if want.Result != nil && got.Result.Text != want.Result.Text {
			t.Errorf("entry %d: result %q, want %q", i, got.Result.Text, want.Result.Text)
		}
		if want.Error != nil {
			if got.Error == nil || got.Error.Code != want.Error.Code || got.Error.Message != want.Error.Message {
				t.Errorf("entry %d: error mismatch: %+v", i, got.Error)
			}
		}
	}
}

func TestTomlQuoteEscapes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`plain`, `"plain"`},
		{"tab\there", `"tab\there"`},
		{"line\nbreak", `"line\nbreak"`},
		{`quote " and \ slash`, `"quote \" and \\ slash"`},
		{"↦marked↤", `"↦marked↤"`},
	}
	for _, tt := range tests {
		if got := tomlQuote(tt.in); got != tt.want {
			t.Errorf("tomlQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNewTranscriptErrorCodes(t *testing.T) {
	se := &draft.SettingError{Key: "TEMPERATURE", Value: "hot", Want: "a number"}
	if got := newTranscriptError(se); got.Code != "config_error" {
		t.Errorf("expected config_error for setting errors, got %s", got.Code)
	}
	if got := newTranscriptError(errors.New("boom")); got.Code != "api_error" {
		t.Errorf("expected api_error for other errors, got %s", got.Code)
	}
}

func TestCrlfWriterReportsOriginalLength(t *testing.T) {
	var buf bytes.Buffer
	w := &crlfWriter{w: &buf}

	n, err := w.Write([]byte("a\nb\n"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("expected reported length 4, got %d", n)
	}
	if buf.String() != "a\r\nb\r\n" {
		t.Errorf("expected CRLF conversion, got %q", buf.String())
	}
}
