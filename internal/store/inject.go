package store

import (
	"fmt"
	"strings"
	"time"
)

// blockBuilder assembles a markdown injection block: a level-2 heading
// followed by entry lines, under a per-store character budget. An entry
// that would overflow the budget is dropped whole, along with everything
// after it, so a block never ends mid-entry.
type blockBuilder struct {
	sb    strings.Builder
	size  int
	limit int
	lines int
	full  bool
}

func newBlockBuilder(heading string, limit int) *blockBuilder {
	b := &blockBuilder{limit: limit}
	b.sb.WriteString(heading)
	b.sb.WriteString("\n")
	b.size = len(heading) + 1
	return b
}

// add appends one line to the block. Returns false once the budget is
// exhausted; later calls keep returning false.
func (b *blockBuilder) add(line string) bool {
	if b.full {
		return false
	}
	if b.size+len(line)+1 > b.limit {
		b.full = true
		return false
	}
	b.sb.WriteString(line)
	b.sb.WriteString("\n")
	b.size += len(line) + 1
	b.lines++
	return true
}

func (b *blockBuilder) addf(format string, args ...any) bool {
	return b.add(fmt.Sprintf(format, args...))
}

// fits reports whether n more characters (newlines included) would stay
// within the budget.
func (b *blockBuilder) fits(n int) bool {
	return !b.full && b.size+n <= b.limit
}

// String returns the finished block, or "" when no entries were added.
func (b *blockBuilder) String() string {
	if b.lines == 0 {
		return ""
	}
	return strings.TrimRight(b.sb.String(), "\n")
}

// ageString renders a coarse human-readable age for injection lines.
func ageString(now, t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
