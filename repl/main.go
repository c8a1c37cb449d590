// Command writlet-repl is an interactive terminal host for writlet.
// It keeps a small working document in memory, runs writing operations
// against it with raw-mode cursor tracking, and writes a structured TOML
// transcript of every operation to stdout.
//
// Usage:
//
//	./writlet-repl             # interactive, TOML on screen
//	./writlet-repl > log.toml  # prompt on screen, TOML to file
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	writlet "github.com/Paranoid-AF/writlet"
	"github.com/Paranoid-AF/writlet/draft"
)

const prompt = "> "

func main() {
	verbose := flag.Bool("verbose", false, "log assembled prompts to stderr")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	editor, err := NewEditor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer editor.Close()

	tty := editor.Tty()

	engine, err := draft.NewEngine()
	if err != nil {
		fmt.Fprintf(tty, "error: %v\r\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	sess := &session{editor: editor, tty: tty}

	fmt.Fprintf(tty, "\033[2J\033[H") // clear screen
	fmt.Fprintf(tty, "writlet repl\r\n")
	fmt.Fprintf(tty, "settings: %s\r\n", writlet.SettingsPath())
	fmt.Fprintf(tty, "\r\ntyped text replaces the selection (or inserts at the cursor)\r\n")
	fmt.Fprintf(tty, "\r\ncommands:\r\n")
	fmt.Fprintf(tty, "  :show               print the document with cursor/selection\r\n")
	fmt.Fprintf(tty, "  :cursor <n>         move the cursor to rune offset n\r\n")
	fmt.Fprintf(tty, "  :select <a> <b>     select the rune range [a, b)\r\n")
	fmt.Fprintf(tty, "  :complete           autocomplete at the cursor\r\n")
	fmt.Fprintf(tty, "  :transform          rework the selection per an instruction\r\n")
	fmt.Fprintf(tty, "  :logs               show recent API calls\r\n")
	fmt.Fprintf(tty, "  :config             edit settings\r\n")
	fmt.Fprintf(tty, "  :replay <file>      re-run the operations in a transcript\r\n")
	fmt.Fprintf(tty, "  :quit               exit\r\n\r\n")

	// stdout writer: converts \n → \r\n when stdout is a terminal (raw mode),
	// passes \n through unchanged when redirected to a file.
	out := termWriter(os.Stdout)

	for {
		text, cursorPos, err := editor.ReadLine(prompt)
		if err == io.EOF || err == ErrInterrupt {
			break
		}
		if err != nil {
			fmt.Fprintf(tty, "read error: %v\r\n", err)
			break
		}

		if text == "" {
			continue
		}

		switch {
		case text == ":quit" || text == ":q":
			return

		case text == ":show":
			sess.show()

		case strings.HasPrefix(text, ":cursor "):
			var n int
			if _, err := fmt.Sscanf(text, ":cursor %d", &n); err != nil {
				fmt.Fprintf(tty, "usage: :cursor <rune offset>\r\n")
				continue
			}
			if err := sess.setCursor(n); err != nil {
				fmt.Fprintf(tty, "error: %v\r\n", err)
			}

		case strings.HasPrefix(text, ":select "):
			var a, b int
			if _, err := fmt.Sscanf(text, ":select %d %d", &a, &b); err != nil {
				fmt.Fprintf(tty, "usage: :select <start> <end>\r\n")
				continue
			}
			if err := sess.setSelection(a, b); err != nil {
				fmt.Fprintf(tty, "error: %v\r\n", err)
			}

		case text == ":complete":
			runOp(writlet.OpComplete, engine, sess, out)

		case text == ":transform":
			runOp(writlet.OpTransform, engine, sess, out)

		case text == ":logs":
			if err := engine.ShowLogs(sess); err != nil {
				fmt.Fprintf(tty, "error: %v\r\n", err)
			}

		case text == ":config":
			if err := engine.EditSettings(sess); err != nil {
				fmt.Fprintf(tty, "error: %v\r\n", err)
			}

		case strings.HasPrefix(text, ":replay "):
			path := strings.TrimSpace(strings.TrimPrefix(text, ":replay "))
			replay(path, engine, sess, out)

		case strings.HasPrefix(text, ":"):
			fmt.Fprintf(tty, "unknown command: %s\r\n", text)

		default:
			sess.insert(text, cursorPos)
			sess.show()
		}
	}
}

// runOp executes one engine operation against the live session and appends
// a transcript entry when the operation actually ran.
func runOp(op string, engine *draft.Engine, sess *session, out io.Writer) {
	en := transcriptEntry{
		Timestamp: time.Now(),
		Op:        op,
		Before:    sess.beforeSelection(),
		Selection: sess.Selection(),
		After:     sess.afterSelection(),
	}

	sess.resetCallbacks()

	var err error
	if op == writlet.OpComplete {
		err = engine.Complete(context.Background(), sess, sess)
	} else {
		err = engine.Transform(context.Background(), sess, sess)
	}

	en.Instruction = sess.lastInstruction
	en.KeepOriginal = sess.lastKeep

	switch {
	case err != nil:
		en.Error = newTranscriptError(err)
		sess.Message("error: " + err.Error())
	case sess.lastReplacement != nil:
		en.Result = &transcriptResult{Text: *sess.lastReplacement}
		sess.show()
	case sess.settingsAsked:
		// The engine sent us through the settings form instead.
		return
	default:
		sess.Message("(no change)")
		return
	}

	writeEntry(out, en)
}

// replay re-runs the complete/transform entries of a transcript against the
// current configuration and appends the fresh outcomes to the output stream.
func replay(path string, engine *draft.Engine, sess *session, out io.Writer) {
	tr, err := readTranscript(path)
	if err != nil {
		sess.Message("error: " + err.Error())
		return
	}

	ran := 0
	for i, old := range tr.Entry {
		if old.Op != writlet.OpComplete && old.Op != writlet.OpTransform {
			continue
		}

		doc := &replayDocument{before: old.Before, selection: old.Selection, after: old.After}
		ui := &replayPrompter{instruction: old.Instruction, keep: old.KeepOriginal}

		en := old
		en.Timestamp = time.Now()
		en.Result = nil
		en.Error = nil

		var opErr error
		if old.Op == writlet.OpComplete {
			opErr = engine.Complete(context.Background(), doc, ui)
		} else {
			opErr = engine.Transform(context.Background(), doc, ui)
		}

		switch {
		case opErr != nil:
			en.Error = newTranscriptError(opErr)
			sess.Message(fmt.Sprintf("%d. %s: error: %v", i+1, old.Op, opErr))
		case ui.settingsAsked:
			sess.Message(fmt.Sprintf("%d. %s: not configured", i+1, old.Op))
			continue
		case doc.replaced != nil:
			en.Result = &transcriptResult{Text: *doc.replaced}
			sess.Message(fmt.Sprintf("%d. %s: %s", i+1, old.Op, *doc.replaced))
		default:
			sess.Message(fmt.Sprintf("%d. %s: no change", i+1, old.Op))
			continue
		}

		writeEntry(out, en)
		ran++
	}
	sess.Message(fmt.Sprintf("replayed %d operation(s)", ran))
}

// replayDocument feeds a recorded document snapshot through the engine.
type replayDocument struct {
	before    string
	selection string
	after     string
	replaced  *string
}

func (d *replayDocument) Selection() string {
	return d.selection
}

func (d *replayDocument) Context(before, after int) (string, string) {
	// The engine clips these to the configured window itself.
	return d.before, d.after
}

func (d *replayDocument) ReplaceSelection(text string) error {
	d.replaced = &text
	return nil
}

// replayPrompter answers the engine's prompts from a recorded entry.
type replayPrompter struct {
	instruction   string
	keep          bool
	settingsAsked bool
}

func (p *replayPrompter) Message(string) {}

func (p *replayPrompter) Instruction(bool) (string, bool, bool) {
	return p.instruction, p.keep, true
}

func (p *replayPrompter) EditSettings([]writlet.Setting) ([]writlet.Setting, bool) {
	p.settingsAsked = true
	return nil, false
}
