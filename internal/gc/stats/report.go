package stats

import (
	"fmt"
	"io"
	"strings"
	"time"

	mstats "github.com/aclements/go-moremath/stats"
)

// WriteTrace writes rec as one gctrace-style line:
//
//	gc #5 @1.204s: pause 0.31ms, cycle 1.80ms, roots 12 (tls 2 stack 5 global 4 stable 1), heap 100->40 objects 3200->1280 B
//
// Fields that were not set are left out. Unset records write nothing.
//
//nolint:errcheck // Error handling omitted for trace output formatting
func WriteTrace(w io.Writer, rec CycleRecord) {
	if !rec.IsSet() {
		return
	}
	fmt.Fprintf(w, "gc %s @%.3fs:", rec.Epoch, time.Duration(rec.StartTime).Seconds())
	sep := " "
	if d, ok := rec.PauseDuration(); ok {
		fmt.Fprintf(w, "%spause %s", sep, fmtMillis(d))
		sep = ", "
	}
	if d, ok := rec.Duration(); ok {
		fmt.Fprintf(w, "%scycle %s", sep, fmtMillis(d))
		sep = ", "
	}
	if rs, ok := rec.RootSet.Get(); ok {
		fmt.Fprintf(w, "%sroots %d (tls %d stack %d global %d stable %d)", sep,
			rs.Total(), rs.ThreadLocalReferences, rs.StackReferences,
			rs.GlobalReferences, rs.StableReferences)
		sep = ", "
	}
	before, after := rec.MemoryUsageBefore.Heap, rec.MemoryUsageAfter.Heap
	if before.Valid && after.Valid {
		fmt.Fprintf(w, "%s%s %d->%d objects %d->%d B", sep, HeapName,
			before.Value.ObjectsCount, after.Value.ObjectsCount,
			before.Value.TotalObjectsSize, after.Value.TotalObjectsSize)
	}
	if t, ok := rec.FinalizersDoneTime.Get(); ok {
		fmt.Fprintf(w, "%sfinalized @%.3fs", sep, time.Duration(t).Seconds())
	}
	fmt.Fprintln(w)
}

// TraceString returns the WriteTrace line for rec without the newline.
func TraceString(rec CycleRecord) string {
	var buf strings.Builder
	WriteTrace(&buf, rec)
	return strings.TrimSuffix(buf.String(), "\n")
}

func fmtMillis(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
}

// Summary aggregates the finished cycles kept in history.
type Summary struct {
	Cycles int

	// Pause statistics over cycles with both pause boundaries stamped.
	PauseMean time.Duration
	PauseP50  time.Duration
	PauseP99  time.Duration
	PauseMax  time.Duration

	// CycleMean is the mean start-to-end duration.
	CycleMean time.Duration

	// Reclaimed totals over cycles with both usage snapshots.
	ReclaimedObjects int64
	ReclaimedBytes   int64
}

// Summary summarizes the history. The history is copied under the lock and
// summarized outside it.
func (a *Aggregator) Summary() Summary {
	return Summarize(a.History())
}

// Summarize computes a Summary over recs.
func Summarize(recs []CycleRecord) Summary {
	s := Summary{Cycles: len(recs)}
	var pauses, cycles []float64
	for _, rec := range recs {
		if d, ok := rec.PauseDuration(); ok {
			pauses = append(pauses, float64(d))
		}
		if d, ok := rec.Duration(); ok {
			cycles = append(cycles, float64(d))
		}
		if u, ok := rec.Reclaimed(); ok {
			s.ReclaimedObjects += u.ObjectsCount
			s.ReclaimedBytes += u.TotalObjectsSize
		}
	}
	if len(pauses) > 0 {
		sample := (&mstats.Sample{Xs: pauses}).Sort()
		s.PauseMean = time.Duration(sample.Mean())
		s.PauseP50 = time.Duration(sample.Quantile(0.5))
		s.PauseP99 = time.Duration(sample.Quantile(0.99))
		_, hi := sample.Bounds()
		s.PauseMax = time.Duration(hi)
	}
	if len(cycles) > 0 {
		s.CycleMean = time.Duration(mstats.Mean(cycles))
	}
	return s
}

// String renders the summary on one line.
func (s Summary) String() string {
	return fmt.Sprintf("%d cycles, pause mean %s p50 %s p99 %s max %s, cycle mean %s, reclaimed %d objects %d B",
		s.Cycles, fmtMillis(s.PauseMean), fmtMillis(s.PauseP50), fmtMillis(s.PauseP99),
		fmtMillis(s.PauseMax), fmtMillis(s.CycleMean), s.ReclaimedObjects, s.ReclaimedBytes)
}
