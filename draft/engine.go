// Package draft orchestrates LLM calls to draft and rework document text.
package draft

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	writlet "github.com/Paranoid-AF/writlet"
	"github.com/Paranoid-AF/writlet/calllog"
)

// cursorMark marks the insertion point inside the autocomplete user message.
const cursorMark = "[COMPLETE HERE]"

// Transformed text is wrapped in these markers so it stands out from the
// original when both are kept.
const (
	markBegin = "↦"
	markEnd   = "↤"
)

// fallbackInstruction is used when the user confirms an empty instruction.
const fallbackInstruction = "Perform the task present after the 'Original Text:'"

// DefaultLogLimit is how many entries ShowLogs displays.
const DefaultLogLimit = 10

// SettingError reports a setting whose stored value cannot be parsed.
type SettingError struct {
	Key   string
	Value string
	Want  string
}

func (e *SettingError) Error() string {
	return fmt.Sprintf("setting %s is not %s: %q", e.Key, e.Want, e.Value)
}

// Engine runs the four writlet operations against a host document and
// prompter. It is host-agnostic: the daemon and the REPL drive the same
// engine through the Document and Prompter interfaces.
type Engine struct {
	settings *writlet.Store
	log      *calllog.Log
	gen      Generator
}

// NewEngine creates an engine with the default store and call log locations.
func NewEngine() (*Engine, error) {
	settings := writlet.NewStore(writlet.SettingsPath())
	log, err := calllog.Open(writlet.CallLogPath())
	if err != nil {
		settings.Close()
		return nil, err
	}
	return &Engine{
		settings: settings,
		log:      log,
		gen:      NewClient(settings, log),
	}, nil
}

// NewEngineWith creates an engine from existing parts. Tests use it to
// substitute a stub generator.
func NewEngineWith(settings *writlet.Store, log *calllog.Log, gen Generator) *Engine {
	return &Engine{settings: settings, log: log, gen: gen}
}

// Close releases the engine's store and call log.
func (e *Engine) Close() error {
	e.settings.Close()
	return e.log.Close()
}

// Complete generates text at the cursor position and writes it into the
// document. With no API key configured it runs the configuration flow
// instead and performs no HTTP call.
func (e *Engine) Complete(ctx context.Context, doc Document, ui Prompter) error {
	if writlet.ResolveAPIKey(e.settings) == "" {
		return e.EditSettings(ui)
	}

	before, after, err := e.contextWindow(doc)
	if err != nil {
		return err
	}

	words, err := e.intSetting(writlet.KeyMaxWords)
	if err != nil {
		return err
	}

	system, _ := e.settings.Get(writlet.KeyInstructions)
	user := before + cursorMark + after

	slog.Debug("prompt", "system", system, "user", user)

	out, err := e.gen.Generate(ctx, Request{
		System:    system,
		User:      user,
		MaxTokens: words * 4,
	})
	if err != nil {
		return err
	}

	return doc.ReplaceSelection(out)
}

// Transform rewrites the selected text per a user-supplied instruction.
// It no-ops when nothing is selected or the user cancels the instruction
// prompt. With no API key configured it runs the configuration flow instead.
func (e *Engine) Transform(ctx context.Context, doc Document, ui Prompter) error {
	if writlet.ResolveAPIKey(e.settings) == "" {
		return e.EditSettings(ui)
	}

	selected := doc.Selection()
	if selected == "" {
		return nil
	}

	instruction, keep, ok := ui.Instruction(true)
	if !ok {
		return nil
	}
	if instruction == "" {
		instruction = fallbackInstruction
	}

	before, after, err := e.contextWindow(doc)
	if err != nil {
		return err
	}

	user := fmt.Sprintf("Previous context: %s\nOriginal text: %s\nNext context: %s\n\nTransformed text:",
		before, selected, after)

	slog.Debug("prompt", "system", instruction, "user", user)

	out, err := e.gen.Generate(ctx, Request{System: instruction, User: user})
	if err != nil {
		return err
	}

	replacement := markBegin + out + markEnd
	if keep {
		replacement = selected + "\n\n" + replacement
	}
	return doc.ReplaceSelection(replacement)
}

// ShowLogs presents the most recent call log entries through the prompter.
func (e *Engine) ShowLogs(ui Prompter) error {
	entries, err := e.log.Recent(DefaultLogLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		ui.Message("No API logs found")
		return nil
	}
	ui.Message("API Logs:\n\n" + FormatEntries(entries))
	return nil
}

// EditSettings runs the configuration flow: every field is editable, a
// confirm persists all of them in one atomic write, a cancel discards the
// edits.
func (e *Engine) EditSettings(ui Prompter) error {
	fields, err := e.settings.All()
	if err != nil {
		return err
	}
	edited, ok := ui.EditSettings(fields)
	if !ok {
		return nil
	}
	if err := e.settings.SetAll(edited); err != nil {
		return err
	}
	ui.Message("Configuration updated successfully!")
	return nil
}

// RecentLogs returns up to limit entries, newest first. A non-positive
// limit uses the default.
func (e *Engine) RecentLogs(limit int) ([]calllog.Entry, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	return e.log.Recent(limit)
}

// Settings returns the current field list in display order.
func (e *Engine) Settings() ([]writlet.Setting, error) {
	return e.settings.All()
}

// ApplySettings persists every given field in one atomic write.
func (e *Engine) ApplySettings(fields []writlet.Setting) error {
	return e.settings.SetAll(fields)
}

// FormatEntries renders log entries as a single display block.
func FormatEntries(entries []calllog.Entry) string {
	var sb strings.Builder
	for _, en := range entries {
		fmt.Fprintf(&sb, "Timestamp: %s\n", en.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "Endpoint: %s Status Code: %d\n", en.Endpoint, en.Status)
		fmt.Fprintf(&sb, "Request: %s\n", en.Request)
		fmt.Fprintf(&sb, "Response: %s\n", en.Response)
		sb.WriteString(strings.Repeat("-", 40))
		sb.WriteString("\n")
	}
	return sb.String()
}

// contextWindow reads the configured window sizes and extracts the clipped
// context around the cursor/selection. The document's own clipping is not
// trusted past the configured counts.
func (e *Engine) contextWindow(doc Document) (string, string, error) {
	prevN, err := e.intSetting(writlet.KeyPreviousChars)
	if err != nil {
		return "", "", err
	}
	nextN, err := e.intSetting(writlet.KeyNextChars)
	if err != nil {
		return "", "", err
	}
	before, after := doc.Context(prevN, nextN)
	return lastRunes(before, prevN), firstRunes(after, nextN), nil
}

func (e *Engine) intSetting(key string) (int, error) {
	v, _ := e.settings.Get(key)
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, &SettingError{Key: key, Value: v, Want: "an integer"}
	}
	return n, nil
}
