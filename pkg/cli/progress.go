package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
)

// Tally is a one-line running count of transaction verdicts, redrawn in
// place as each fixture is evaluated.
type Tally struct {
	mu      sync.Mutex
	w       io.Writer
	total   int
	width   int
	blocked int
	passed  int
}

// NewTally starts a tally over total fixtures written to w, or os.Stderr
// when w is nil. Nothing is drawn when total is zero.
func NewTally(w io.Writer, total int) *Tally {
	if w == nil {
		w = os.Stderr
	}
	t := &Tally{w: w, total: total, width: len(strconv.Itoa(total))}
	t.mu.Lock()
	t.draw()
	t.mu.Unlock()
	return t
}

// Record counts one verdict.
func (t *Tally) Record(blocked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if blocked {
		t.blocked++
	} else {
		t.passed++
	}
	t.draw()
}

// Abort ends the line with the fixture that stopped the run.
func (t *Tally) Abort(fixture string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.total > 0 {
		fmt.Fprintln(t.w)
	}
	fmt.Fprintf(t.w, "stopped at %s: %v\n", fixture, err)
}

// Done ends the line and returns the counts.
func (t *Tally) Done() (blocked, passed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.total > 0 {
		fmt.Fprintln(t.w)
	}
	return t.blocked, t.passed
}

func (t *Tally) draw() {
	if t.total == 0 {
		return
	}
	fmt.Fprintf(t.w, "\r%*d/%d evaluated, %d blocked, %d passed",
		t.width, t.blocked+t.passed, t.total, t.blocked, t.passed)
}
