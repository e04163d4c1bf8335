// Package queue implements a bounded, priority-ordered speech queue with a
// single consumer worker that synthesizes and plays each item in turn,
// preempting in-flight playback when a higher-priority item arrives.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Synthesizer turns text into PCM samples for a resolved voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (samples []float32, rate int, err error)
}

// AudioSink plays PCM samples, aborting early if cancel is set.
type AudioSink interface {
	Play(ctx context.Context, samples []float32, rate int, cancel *atomic.Bool) error
}

// item is one queued speech request.
type item struct {
	id         string
	text       string
	voiceID    string
	priority   int
	enqueueSeq uint64
}

// itemHeap orders items by priority ascending, then enqueueSeq ascending.
type itemHeap []item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].enqueueSeq < h[j].enqueueSeq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	last := old[n-1]
	*h = old[:n-1]
	return last
}

// playing describes the item currently being synthesized or played.
type playing struct {
	item       item
	cancelFlag *atomic.Bool
	priority   int
}

// Queue is the C4 priority speech queue.
type Queue struct {
	maxDepth        int
	interruptOnHigh bool
	synth           Synthesizer
	sink            AudioSink
	log             *slog.Logger

	mu      sync.Mutex
	heap    itemHeap
	current *playing
	seq     uint64

	wake chan struct{}
	stop context.CancelFunc
	done chan struct{}
}

// Config parameterizes queue behavior.
type Config struct {
	MaxQueueDepth             int
	InterruptOnHigherPriority bool
}

// New starts the worker goroutine and returns a ready Queue.
func New(cfg Config, synth Synthesizer, sink AudioSink, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	maxDepth := cfg.MaxQueueDepth
	if maxDepth < 1 {
		maxDepth = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		maxDepth:        maxDepth,
		interruptOnHigh: cfg.InterruptOnHigherPriority,
		synth:           synth,
		sink:            sink,
		log:             log,
		wake:            make(chan struct{}, 1),
		stop:            cancel,
		done:            make(chan struct{}),
	}
	heap.Init(&q.heap)

	go q.run(ctx)
	return q
}

// Enqueue admits a request into the queue. It never blocks on capacity:
// when the queue is already at max_depth, the lowest-priority (largest
// priority value), oldest queued item is evicted to make room. The item
// currently playing is never evicted by overflow.
func (q *Queue) Enqueue(requestID, text, voiceID string, priority int) {
	q.mu.Lock()

	q.seq++
	it := item{id: requestID, text: text, voiceID: voiceID, priority: priority, enqueueSeq: q.seq}

	currentCount := 0
	if q.current != nil {
		currentCount = 1
	}
	if q.heap.Len()+currentCount >= q.maxDepth && q.heap.Len() > 0 {
		q.evictOne()
	}

	heap.Push(&q.heap, it)

	if q.interruptOnHigh && q.current != nil && priority < q.current.priority {
		q.current.cancelFlag.Store(true)
	}

	q.mu.Unlock()
	q.signalWake()
}

// evictOne drops the queued (not in-flight) item with the largest priority
// value, breaking ties toward the oldest enqueue_seq. Caller holds q.mu.
func (q *Queue) evictOne() {
	worst := 0
	for i := 1; i < q.heap.Len(); i++ {
		if q.heap[i].priority > q.heap[worst].priority ||
			(q.heap[i].priority == q.heap[worst].priority && q.heap[i].enqueueSeq < q.heap[worst].enqueueSeq) {
			worst = i
		}
	}
	heap.Remove(&q.heap, worst)
}

func (q *Queue) signalWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// StopAndClear cancels any in-flight playback and drops all queued items.
// It returns once both effects are initiated; it does not wait for the
// audio sink to finish tearing down.
func (q *Queue) StopAndClear() {
	q.mu.Lock()
	q.heap = q.heap[:0]
	if q.current != nil {
		q.current.cancelFlag.Store(true)
	}
	q.mu.Unlock()
	q.signalWake()
}

// Depth returns the number of items currently queued, excluding the
// in-flight item.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Shutdown stops the worker goroutine. It does not wait for an in-flight
// playback to finish.
func (q *Queue) Shutdown() {
	q.stop()
	<-q.done
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}

		for {
			it, ok := q.dequeue(ctx)
			if !ok {
				break
			}
			q.process(ctx, it)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// dequeue pops the highest-priority item and publishes it as current. It
// returns ok = false when the queue is empty or the context is done.
func (q *Queue) dequeue(ctx context.Context) (item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ctx.Err() != nil || q.heap.Len() == 0 {
		return item{}, false
	}

	it := heap.Pop(&q.heap).(item)
	q.current = &playing{item: it, cancelFlag: &atomic.Bool{}, priority: it.priority}
	return it, true
}

func (q *Queue) process(ctx context.Context, it item) {
	q.mu.Lock()
	cancelFlag := q.current.cancelFlag
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.current = nil
		q.mu.Unlock()
	}()

	samples, rate, err := q.synth.Synthesize(ctx, it.text, it.voiceID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			q.log.Info("queue: synthesis cancelled", "id", it.id)
			return
		}
		q.log.Error("queue: synthesis failed", "id", it.id, "err", err)
		return
	}

	if cancelFlag.Load() {
		q.log.Info("queue: item cancelled before playback began", "id", it.id)
		return
	}

	if err := q.sink.Play(ctx, samples, rate, cancelFlag); err != nil {
		if errors.Is(err, context.Canceled) {
			q.log.Info("queue: playback cancelled", "id", it.id)
			return
		}
		q.log.Error("queue: playback failed", "id", it.id, "err", err)
	}
}
