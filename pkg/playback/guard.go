package playback

import (
	"strings"
	"sync"
)

// Guard is the allowlist standing between text sources and the
// caller's ear. Only pre-approved lines are ever synthesized; anything
// else is replaced by the fallback line. Model output therefore cannot
// reach the caller verbatim even if a caller upstream misroutes it.
type Guard struct {
	mu       sync.RWMutex
	approved map[string]string
	fallback string
}

// NewGuard builds a guard from the approved lines. The first line
// doubles as the fallback unless SetFallback overrides it.
func NewGuard(lines []string) *Guard {
	g := &Guard{approved: make(map[string]string, len(lines))}
	for _, l := range lines {
		g.approve(l)
	}
	if len(lines) > 0 {
		g.fallback = lines[0]
	}
	return g
}

// SetFallback sets the line substituted for unapproved text. The
// fallback is approved implicitly.
func (g *Guard) SetFallback(line string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.approved[normalize(line)] = line
	g.fallback = line
}

// Approve adds a line to the allowlist.
func (g *Guard) Approve(line string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.approve(line)
}

func (g *Guard) approve(line string) {
	if line == "" {
		return
	}
	g.approved[normalize(line)] = line
}

// Resolve returns the canonical approved form of text and whether it
// was approved. Unapproved text resolves to the fallback line.
func (g *Guard) Resolve(text string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if canonical, ok := g.approved[normalize(text)]; ok {
		return canonical, true
	}
	return g.fallback, false
}

// normalize makes the comparison robust against whitespace and case
// differences without weakening the exact-wording guarantee.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
