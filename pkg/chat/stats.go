package chat

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const statisticsHeader = "Statistics for commands run in chat program:"

// Statistics counts invocations per command name for the life of the process
type Statistics struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewStatistics creates an empty counter set
func NewStatistics() *Statistics {
	return &Statistics{
		counts: make(map[string]int),
	}
}

// Increment adds one to name's count
func (st *Statistics) Increment(name string) {
	st.mu.Lock()
	st.counts[name]++
	st.mu.Unlock()
}

// Snapshot returns a copy of all counts
func (st *Statistics) Snapshot() map[string]int {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make(map[string]int, len(st.counts))
	for name, n := range st.counts {
		out[name] = n
	}
	return out
}

// ReportLines renders the report as lines: a header, a blank line, then
// "name: count/total --- pct%" per command sorted by name. Percentages are
// computed from a single snapshot.
func (st *Statistics) ReportLines() []string {
	counts := st.Snapshot()

	names := make([]string, 0, len(counts))
	total := 0
	for name, n := range counts {
		names = append(names, name)
		total += n
	}
	sort.Strings(names)

	lines := []string{statisticsHeader, ""}
	for _, name := range names {
		n := counts[name]
		pct := 100 * float64(n) / float64(total)
		lines = append(lines, fmt.Sprintf("%s: %d/%d --- %.2f%%", name, n, total, pct))
	}
	return lines
}

// Report renders ReportLines as a single string
func (st *Statistics) Report() string {
	return strings.Join(st.ReportLines(), "\n")
}
