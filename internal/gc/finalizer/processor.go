package finalizer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kolkov/tracegc/internal/gc/epoch"
	"github.com/kolkov/tracegc/internal/gc/gclog"
	"github.com/kolkov/tracegc/internal/gc/object"
)

// DeletionScheduler takes extra data records whose owner was finalized.
type DeletionScheduler interface {
	ScheduleDeletion(ed *object.ExtraData)
}

// DoneRecorder is told when all finalizers of a cycle have run.
type DoneRecorder interface {
	FinalizersDone(e epoch.Epoch)
}

// ReleaseFunc releases a foreign object detached from a dead owner.
type ReleaseFunc func(associated any)

type batch struct {
	epoch epoch.Epoch
	objs  []*object.Object
}

// Processor runs finalizers for queues produced by the sweeper.
//
// For every queued object, in sweep order:
//  1. the declared finalizer runs, if any
//  2. a foreign object detached by the extra-data sweep is released
//  3. the owner's extra data is scheduled for deletion; the next extra-data
//     sweep reclaims it
//
// Once a whole batch is done FinalizersDone is recorded for its epoch.
//
// Thread Safety: Schedule, Start and Stop are safe for concurrent calls.
// Schedule never blocks on a running processor, so finalizers may trigger
// collections themselves. RunSync runs on the caller's goroutine and must
// not race with a started processor for the same objects.
type Processor struct {
	extra   DeletionScheduler
	done    DoneRecorder
	release ReleaseFunc

	mu      sync.Mutex
	wake    *sync.Cond // queue grew or stop requested
	queue   []batch
	running bool
	stop    bool
	wg      sync.WaitGroup
}

// NewProcessor creates a stopped processor. Any argument may be nil.
func NewProcessor(extra DeletionScheduler, done DoneRecorder, release ReleaseFunc) *Processor {
	p := &Processor{extra: extra, done: done, release: release}
	p.wake = sync.NewCond(&p.mu)
	return p
}

// Start launches the background goroutine. Calling Start on a running
// processor is a no-op.
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stop = false
	p.wg.Add(1)
	go p.loop()
}

func (p *Processor) loop() {
	defer p.wg.Done()
	p.mu.Lock()
	for {
		for len(p.queue) == 0 && !p.stop {
			p.wake.Wait()
		}
		if len(p.queue) == 0 {
			p.running = false
			p.mu.Unlock()
			return
		}
		b := p.queue[0]
		p.queue[0] = batch{}
		p.queue = p.queue[1:]
		p.mu.Unlock()
		p.run(b)
		p.mu.Lock()
	}
}

// Stop finishes every scheduled batch and stops the goroutine. It must not
// be called from a finalizer.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.stop = true
	p.wake.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

// Schedule hands q over to the processor. q is drained immediately. When
// the processor is not running the batch is processed synchronously.
func (p *Processor) Schedule(e epoch.Epoch, q *Queue) {
	b := batch{epoch: e, objs: q.Drain()}
	p.mu.Lock()
	if p.running {
		p.queue = append(p.queue, b)
		p.wake.Signal()
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.run(b)
}

// RunSync finalizes q on the calling goroutine and returns the number of
// objects processed.
func (p *Processor) RunSync(e epoch.Epoch, q *Queue) int {
	b := batch{epoch: e, objs: q.Drain()}
	p.run(b)
	return len(b.objs)
}

func (p *Processor) run(b batch) {
	for _, obj := range b.objs {
		if fn := obj.Finalizer(); fn != nil {
			fn(obj)
		}
		ed := obj.ExtraData()
		if ed == nil || !ed.Flag(object.FlagInFinalizerQueue) {
			continue
		}
		if v := ed.TakeDetached(); v != nil && p.release != nil {
			p.release(v)
		}
		if p.extra != nil {
			p.extra.ScheduleDeletion(ed)
		}
	}
	gclog.Logger().LogAttrs(context.Background(), slog.LevelDebug, "finalizers done",
		slog.String("epoch", b.epoch.String()),
		slog.Int("objects", len(b.objs)))
	if p.done != nil {
		p.done.FinalizersDone(b.epoch)
	}
}
