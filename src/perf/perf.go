// Package perf records where the time goes inside one operation (a publish, a
// validation decision, an edit). Blocks are opened from anywhere that has the
// context, including the database tracer.
package perf

import (
	"context"
	"sort"
	"sync"
	"time"
)

type OpPerf struct {
	Name  string
	Start time.Time
	End   time.Time

	mu     sync.Mutex
	Blocks []PerfBlock
}

type PerfBlock struct {
	Start       time.Time
	End         time.Time
	Category    string
	Description string
}

func (pb *PerfBlock) Duration() time.Duration {
	return pb.End.Sub(pb.Start)
}

func (pb *PerfBlock) DurationMs() float64 {
	return float64(pb.Duration().Nanoseconds()) / 1000 / 1000
}

func MakeNewOpPerf(name string) *OpPerf {
	return &OpPerf{Name: name, Start: time.Now()}
}

type BlockHandle struct {
	op  *OpPerf
	idx int
}

// StartBlock is safe to call on a nil OpPerf, in which case nothing is
// recorded.
func (op *OpPerf) StartBlock(category, description string) *BlockHandle {
	if op == nil {
		return &BlockHandle{}
	}
	op.mu.Lock()
	defer op.mu.Unlock()
	op.Blocks = append(op.Blocks, PerfBlock{
		Start:       time.Now(),
		Category:    category,
		Description: description,
	})
	return &BlockHandle{op: op, idx: len(op.Blocks) - 1}
}

func (h *BlockHandle) End() {
	if h == nil || h.op == nil {
		return
	}
	h.op.mu.Lock()
	defer h.op.mu.Unlock()
	if h.op.Blocks[h.idx].End.IsZero() {
		h.op.Blocks[h.idx].End = time.Now()
	}
}

func (op *OpPerf) EndOp() {
	op.mu.Lock()
	defer op.mu.Unlock()
	now := time.Now()
	for i := range op.Blocks {
		if op.Blocks[i].End.IsZero() {
			op.Blocks[i].End = now
		}
	}
	op.End = now
}

func (op *OpPerf) Duration() time.Duration {
	return op.End.Sub(op.Start)
}

// Total time spent in blocks of each category.
func (op *OpPerf) ByCategory() map[string]time.Duration {
	op.mu.Lock()
	defer op.mu.Unlock()
	res := make(map[string]time.Duration)
	for i := range op.Blocks {
		res[op.Blocks[i].Category] += op.Blocks[i].Duration()
	}
	return res
}

type perfContextKey struct{}

func AttachPerf(ctx context.Context, op *OpPerf) context.Context {
	return context.WithValue(ctx, perfContextKey{}, op)
}

// Returns nil if the context has no perf attached; the result can still be
// used to start blocks.
func ExtractPerf(ctx context.Context) *OpPerf {
	op, _ := ctx.Value(perfContextKey{}).(*OpPerf)
	return op
}

type PerfStorage struct {
	AllOps []*OpPerf
}

// Slowest returns up to n finished operations, slowest first.
func (ps *PerfStorage) Slowest(n int) []*OpPerf {
	ops := append([]*OpPerf(nil), ps.AllOps...)
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].Duration() > ops[j].Duration()
	})
	if len(ops) > n {
		ops = ops[:n]
	}
	return ops
}

type PerfCollector struct {
	In          chan<- *OpPerf
	Done        <-chan struct{}
	RequestCopy chan<- (chan<- PerfStorage)
}

const maxStoredOps = 1000

func RunPerfCollector(ctx context.Context) *PerfCollector {
	in := make(chan *OpPerf)
	done := make(chan struct{})
	requestCopy := make(chan (chan<- PerfStorage))

	var storage PerfStorage

	go func() {
		defer close(done)

		for {
			select {
			case op := <-in:
				storage.AllOps = append(storage.AllOps, op)
				if len(storage.AllOps) > maxStoredOps {
					storage.AllOps = storage.AllOps[len(storage.AllOps)-maxStoredOps:]
				}
			case resultChan := <-requestCopy:
				resultChan <- PerfStorage{AllOps: append([]*OpPerf(nil), storage.AllOps...)}
			case <-ctx.Done():
				return
			}
		}
	}()

	return &PerfCollector{
		In:          in,
		Done:        done,
		RequestCopy: requestCopy,
	}
}

// SubmitOp is a no-op on a nil collector or after the collector has stopped.
func (pc *PerfCollector) SubmitOp(op *OpPerf) {
	if pc == nil {
		return
	}
	select {
	case pc.In <- op:
	case <-pc.Done:
	}
}

func (pc *PerfCollector) GetPerfCopy() *PerfStorage {
	resultChan := make(chan PerfStorage)
	select {
	case pc.RequestCopy <- resultChan:
	case <-pc.Done:
		return &PerfStorage{}
	}
	storageCopy := <-resultChan
	return &storageCopy
}
