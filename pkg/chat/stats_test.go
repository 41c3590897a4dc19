package chat

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestStatisticsReport(t *testing.T) {
	st := NewStatistics()
	st.Increment("whoelse")
	st.Increment("whoelse")
	st.Increment("broadcast")
	st.Increment("Unknown command")

	want := strings.Join([]string{
		"Statistics for commands run in chat program:",
		"",
		"Unknown command: 1/4 --- 25.00%",
		"broadcast: 1/4 --- 25.00%",
		"whoelse: 2/4 --- 50.00%",
	}, "\n")
	assert.Equal(t, want, st.Report())
	assert.Equal(t, map[string]int{"whoelse": 2, "broadcast": 1, "Unknown command": 1}, st.Snapshot())
}

func TestStatisticsReportEmpty(t *testing.T) {
	st := NewStatistics()
	assert.Equal(t, []string{statisticsHeader, ""}, st.ReportLines())
}

// TestStatisticsPercentagesSum checks the report's percentages add up to
// 100 within rounding.
func TestStatisticsPercentagesSum(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		st := NewStatistics()
		names := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,8}`), 1, 10, rapid.ID[string]).Draw(t, "names")
		for _, name := range names {
			n := rapid.IntRange(1, 100).Draw(t, "count")
			for i := 0; i < n; i++ {
				st.Increment(name)
			}
		}

		lines := st.ReportLines()[2:]
		if len(lines) != len(names) {
			t.Fatalf("got %d lines, want %d", len(lines), len(names))
		}
		sum := 0.0
		for _, line := range lines {
			idx := strings.LastIndex(line, " --- ")
			pct, err := strconv.ParseFloat(strings.TrimSuffix(line[idx+5:], "%"), 64)
			if err != nil {
				t.Fatalf("parse %q: %v", line, err)
			}
			sum += pct
		}
		tolerance := 0.005 * float64(len(lines))
		if sum < 100-tolerance || sum > 100+tolerance {
			t.Fatalf("percentages sum to %.2f", sum)
		}
	})
}

func TestStatisticsConcurrentIncrement(t *testing.T) {
	st := NewStatistics()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			for j := 0; j < 100; j++ {
				st.Increment(fmt.Sprintf("cmd%d", i%2))
			}
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	snap := st.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, 400, snap["cmd0"])
	assert.Equal(t, 400, snap["cmd1"])
}
