package api

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/kolkov/tracegc/internal/gc/config"
	"github.com/kolkov/tracegc/internal/gc/stats"
)

type recordingBuilder struct {
	calls []string
}

func (b *recordingBuilder) SetEpoch(int64) { b.calls = append(b.calls, "epoch") }
func (b *recordingBuilder) SetStartTime(int64) { b.calls = append(b.calls, "start") }
func (b *recordingBuilder) SetEndTime(int64) { b.calls = append(b.calls, "end") }
func (b *recordingBuilder) SetPauseStartTime(int64) { b.calls = append(b.calls, "pauseStart") }
func (b *recordingBuilder) SetPauseEndTime(int64) { b.calls = append(b.calls, "pauseEnd") }
func (b *recordingBuilder) SetFinalizersDoneTime(int64) { b.calls = append(b.calls, "finalizers") }
func (b *recordingBuilder) SetRootSet(_, _, _, _ int64) { b.calls = append(b.calls, "roots") }
func (b *recordingBuilder) SetMemoryUsageBefore(string, int64, int64) {
	b.calls = append(b.calls, "before")
}
func (b *recordingBuilder) SetMemoryUsageAfter(string, int64, int64) {
	b.calls = append(b.calls, "after")
}

func TestInitReplacesRuntime(t *testing.T) {
	t.Setenv(config.EnvVar, "worklist=incremental,markbudget=2")
	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Reset()

	r := Current()
	if r.Config.Worklist != config.Incremental || r.Config.MarkBudget != 2 {
		t.Errorf("config = %s", r.Config)
	}

	t.Setenv(config.EnvVar, "worklist=bogus")
	if err := Init(); err == nil {
		t.Fatal("Init() accepted a bad GCDEBUG")
	}
	if Current() != r {
		t.Error("failed Init replaced the runtime")
	}
}

func TestCollectAndFill(t *testing.T) {
	InitWith(config.Default())
	defer Fini()

	r := Current()
	ctx := r.Threads.Attach(r.Store)
	ctx.Push(ctx.Allocate("Live", 8, 0))
	ctx.Allocate("Dead", 8, 0)

	res, err := Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if res.Mark.AliveHeapSet != 1 || res.Sweep.Erased != 1 {
		t.Errorf("result = %+v", res)
	}

	rec, ok := Snapshot(stats.Last)
	if !ok || rec.Epoch != res.Epoch {
		t.Fatalf("Snapshot(Last) = %v, %t", rec.Epoch, ok)
	}
	var b recordingBuilder
	Fill(&b, int(stats.Last))
	if len(b.calls) == 0 || b.calls[0] != "epoch" {
		t.Errorf("Fill calls = %v", b.calls)
	}
	var none recordingBuilder
	Fill(&none, int(stats.Current))
	if len(none.calls) != 0 {
		t.Errorf("Fill(current) between cycles reported %v", none.calls)
	}
	if Summary().Cycles != 1 {
		t.Errorf("Summary().Cycles = %d, want 1", Summary().Cycles)
	}
}

func TestWriteSummary(t *testing.T) {
	InitWith(config.Default())
	defer Reset()
	if _, err := Collect(context.Background()); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	WriteSummary(&buf)
	if !strings.HasPrefix(buf.String(), "gc summary: 1 cycles") {
		t.Errorf("summary = %q", buf.String())
	}
}
