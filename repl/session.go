package main

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	writlet "github.com/Paranoid-AF/writlet"
	"github.com/Paranoid-AF/writlet/draft"
)

// session holds the working document and implements the engine's host
// interfaces over the terminal. Offsets into the document are kept in
// bytes; user-facing commands and the status line count runes.
type session struct {
	editor *Editor
	tty    *os.File

	doc      string
	selStart int // byte offsets; equal when the selection is collapsed
	selEnd   int

	// Per-operation callback records, cleared by resetCallbacks.
	lastReplacement *string
	lastInstruction string
	lastKeep        bool
	settingsAsked   bool
}

// resetCallbacks clears the records left behind by the previous operation.
func (s *session) resetCallbacks() {
	s.lastReplacement = nil
	s.lastInstruction = ""
	s.lastKeep = false
	s.settingsAsked = false
}

func (s *session) Selection() string {
	return s.doc[s.selStart:s.selEnd]
}

func (s *session) Context(before, after int) (string, string) {
	return draft.Window(s.doc, s.selStart, s.selEnd, before, after)
}

func (s *session) ReplaceSelection(text string) error {
	s.doc = s.doc[:s.selStart] + text + s.doc[s.selEnd:]
	s.selStart += len(text)
	s.selEnd = s.selStart
	s.lastReplacement = &text
	return nil
}

func (s *session) beforeSelection() string {
	return s.doc[:s.selStart]
}

func (s *session) afterSelection() string {
	return s.doc[s.selEnd:]
}

// insert replaces the current selection with text. pos is the cursor offset
// within text (as returned by the line editor) where the document cursor
// lands afterwards.
func (s *session) insert(text string, pos int) {
	start := s.selStart
	s.doc = s.doc[:start] + text + s.doc[s.selEnd:]
	s.selStart = start + pos
	s.selEnd = s.selStart
}

// setCursor collapses the selection at the given rune offset.
func (s *session) setCursor(runeOff int) error {
	off, err := byteOffset(s.doc, runeOff)
	if err != nil {
		return err
	}
	s.selStart, s.selEnd = off, off
	return nil
}

// setSelection selects the rune range [start, end).
func (s *session) setSelection(start, end int) error {
	if end < start {
		return fmt.Errorf("selection end %d before start %d", end, start)
	}
	so, err := byteOffset(s.doc, start)
	if err != nil {
		return err
	}
	eo, err := byteOffset(s.doc, end)
	if err != nil {
		return err
	}
	s.selStart, s.selEnd = so, eo
	return nil
}

// show renders the document with the cursor or selection highlighted.
func (s *session) show() {
	var sb strings.Builder
	if s.selStart == s.selEnd {
		sb.WriteString(s.doc[:s.selStart])
		sb.WriteString("█")
		sb.WriteString(s.doc[s.selEnd:])
	} else {
		sb.WriteString(s.doc[:s.selStart])
		sb.WriteString("\x1b[7m")
		sb.WriteString(s.doc[s.selStart:s.selEnd])
		sb.WriteString("\x1b[27m")
		sb.WriteString(s.doc[s.selEnd:])
	}
	s.Message(sb.String())

	total := utf8.RuneCountInString(s.doc)
	if s.selStart == s.selEnd {
		s.Message(fmt.Sprintf("-- %d runes, cursor at %d", total, utf8.RuneCountInString(s.doc[:s.selStart])))
	} else {
		s.Message(fmt.Sprintf("-- %d runes, selected %d..%d", total,
			utf8.RuneCountInString(s.doc[:s.selStart]), utf8.RuneCountInString(s.doc[:s.selEnd])))
	}
}

// Message prints text on the user's terminal.
func (s *session) Message(text string) {
	fmt.Fprintf(s.tty, "%s\r\n", strings.ReplaceAll(text, "\n", "\r\n"))
}

// Instruction prompts for a transform instruction and the keep-original
// choice. Ctrl-C at either prompt cancels the operation.
func (s *session) Instruction(defaultKeep bool) (string, bool, bool) {
	text, _, err := s.editor.ReadLine("instruction> ")
	if err != nil {
		return "", defaultKeep, false
	}

	hint := "y/N"
	if defaultKeep {
		hint = "Y/n"
	}
	ans, _, err := s.editor.ReadLine(fmt.Sprintf("keep original? [%s] ", hint))
	if err != nil {
		return "", defaultKeep, false
	}

	keep := defaultKeep
	switch strings.ToLower(strings.TrimSpace(ans)) {
	case "y", "yes":
		keep = true
	case "n", "no":
		keep = false
	}
	s.lastInstruction = text
	s.lastKeep = keep
	return text, keep, true
}

// EditSettings walks the fields one at a time with the current value
// prefilled in the line editor. Ctrl-C cancels the whole form.
func (s *session) EditSettings(fields []writlet.Setting) ([]writlet.Setting, bool) {
	s.settingsAsked = true
	s.Message("configuration (Enter keeps the shown value, Ctrl-C cancels)")
	edited := make([]writlet.Setting, 0, len(fields))
	for _, f := range fields {
		shown := f.Value
		if f.Multiline {
			shown = escapeNewlines(shown)
		}
		text, _, err := s.editor.EditLine(f.Key+" = ", shown, len(shown))
		if err != nil {
			return nil, false
		}
		if f.Multiline {
			text = unescapeNewlines(text)
		}
		edited = append(edited, writlet.Setting{Key: f.Key, Value: text, Multiline: f.Multiline})
	}
	return edited, true
}

// escapeNewlines flattens a multi-line value for single-line editing.
func escapeNewlines(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "\n", `\n`)
}

// unescapeNewlines reverses escapeNewlines.
func unescapeNewlines(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				sb.WriteByte('\n')
				i++
				continue
			case '\\':
				sb.WriteByte('\\')
				i++
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// byteOffset converts a rune offset into a byte offset within s.
func byteOffset(s string, runes int) (int, error) {
	if runes < 0 {
		return 0, fmt.Errorf("offset %d out of range", runes)
	}
	off := 0
	for i := 0; i < runes; i++ {
		if off >= len(s) {
			return 0, fmt.Errorf("offset %d past end of document (%d runes)", runes, utf8.RuneCountInString(s))
		}
		_, size := utf8.DecodeRuneInString(s[off:])
		off += size
	}
	return off, nil
}
