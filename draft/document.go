package draft

import (
	"unicode/utf8"

	writlet "github.com/Paranoid-AF/writlet"
)

// Document is the host's view of the text being edited. The read methods
// must not mutate the document or the selection.
type Document interface {
	// Selection returns the currently selected text, empty for a bare cursor.
	Selection() string
	// Context returns up to before runes immediately preceding and up to
	// after runes immediately following the cursor/selection, clipped at the
	// document bounds.
	Context(before, after int) (string, string)
	// ReplaceSelection replaces the cursor/selection range with text.
	ReplaceSelection(text string) error
}

// Prompter is the host's dialog surface.
type Prompter interface {
	// Message shows a modal informational message.
	Message(text string)
	// Instruction asks the user for a transform instruction and a
	// keep-original choice. ok is false when the user cancelled.
	Instruction(defaultKeep bool) (text string, keep bool, ok bool)
	// EditSettings presents every field for editing and returns the edited
	// list. ok is false when the user cancelled.
	EditSettings(fields []writlet.Setting) (edited []writlet.Setting, ok bool)
}

// Window returns the text immediately before and after the selection
// [start, end) in text, capped at before/after runes and clipped at the
// document bounds. Offsets are byte offsets; counts are runes.
func Window(text string, start, end, before, after int) (string, string) {
	if start < 0 {
		start = 0
	}
	if start > len(text) {
		start = len(text)
	}
	if end < start {
		end = start
	}
	if end > len(text) {
		end = len(text)
	}
	return lastRunes(text[:start], before), firstRunes(text[end:], after)
}

// lastRunes returns at most n trailing runes of s.
func lastRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := len(s)
	for ; n > 0 && i > 0; n-- {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
	}
	return s[i:]
}

// firstRunes returns at most n leading runes of s.
func firstRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for ; n > 0 && i < len(s); n-- {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i]
}
