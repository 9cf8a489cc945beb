// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package capture

import "sync"

// LineRing keeps the last n lines of process output for failure diagnostics.
type LineRing struct {
	mu    sync.Mutex
	lines []string
	max   int
}

// NewLineRing creates a ring holding at most max lines.
func NewLineRing(max int) *LineRing {
	if max <= 0 {
		max = 256
	}
	return &LineRing{max: max}
}

// Append adds one line, evicting the oldest when full.
func (r *LineRing) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.max {
		r.lines = r.lines[len(r.lines)-r.max:]
	}
}

// LastN returns up to n most recent lines.
func (r *LineRing) LastN(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || len(r.lines) == 0 {
		return nil
	}
	if n > len(r.lines) {
		n = len(r.lines)
	}
	out := make([]string, n)
	copy(out, r.lines[len(r.lines)-n:])
	return out
}
