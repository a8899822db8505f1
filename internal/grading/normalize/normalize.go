// Package normalize bounds program output for storage and for display.
package normalize

import (
	"strings"
	"unicode/utf8"

	"github.com/cosc121od/pycode/internal/grading/model"
)

const (
	// SnipMarker is appended to output truncated for storage.
	SnipMarker = "\n...[snip]...\n"
	// DisplaySnipMarker follows the last displayed line of a long text.
	DisplaySnipMarker = "[... snip ...]\n"

	ellipsis = "..."
)

// Normalizer applies the configured output limits.
type Normalizer struct {
	maxBytes   int
	lineLength int
	maxLines   int
}

// New creates a normalizer; zero config fields take the standard limits.
func New(cfg model.Config) *Normalizer {
	cfg = cfg.WithDefaults()
	return &Normalizer{
		maxBytes:   cfg.MaxPersistedBytes,
		lineLength: cfg.MaxDisplayLineLength,
		maxLines:   cfg.MaxDisplayLines,
	}
}

// TruncateForStorage bounds s to the persisted size. A longer string keeps its
// leading bytes, cut back to a rune boundary, followed by SnipMarker.
func (n *Normalizer) TruncateForStorage(s string) string {
	if len(s) <= n.maxBytes {
		return s
	}
	keep := n.maxBytes - len(SnipMarker)
	if keep < 0 {
		keep = 0
	}
	for keep > 0 && !utf8.RuneStart(s[keep]) {
		keep--
	}
	return s[:keep] + SnipMarker
}

// RestrictForDisplay limits line length and line count. A line longer than the
// limit keeps its first limit-3 characters followed by "..."; after the
// maximum number of lines DisplaySnipMarker is appended and the rest dropped.
// Applying it to its own output returns the same text.
func (n *Normalizer) RestrictForDisplay(s string) string {
	var b strings.Builder
	b.Grow(min(len(s), n.lineLength*n.maxLines+len(DisplaySnipMarker)))

	lines := 0
	for len(s) > 0 {
		idx := strings.IndexByte(s, '\n')
		if idx < 0 {
			b.WriteString(n.restrictLine(s))
			break
		}
		b.WriteString(n.restrictLine(s[:idx]))
		b.WriteByte('\n')
		s = s[idx+1:]
		lines++
		if lines == n.maxLines {
			b.WriteString(DisplaySnipMarker)
			break
		}
	}
	return b.String()
}

func (n *Normalizer) restrictLine(line string) string {
	if utf8.RuneCountInString(line) <= n.lineLength {
		return line
	}
	keep := n.lineLength - len(ellipsis)
	if keep < 0 {
		keep = 0
	}
	count := 0
	for i := range line {
		if count == keep {
			return line[:i] + ellipsis
		}
		count++
	}
	return line + ellipsis
}
