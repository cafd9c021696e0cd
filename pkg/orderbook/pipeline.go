package orderbook

import (
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
	"go.uber.org/zap"
)

type submitKind int

const (
	submitLimit submitKind = iota
	submitMarket
	submitStop
	submitStopLimit
	submitPull
	submitReplace
	submitExit
)

// submission is one record of the order pipeline. For inserts, id != 0 means
// the caller supplies the OrderID (stop re-injection); for pull/replace it is
// the target. promise is nil for non-blocking submissions.
type submission struct {
	kind submitKind
	buy  bool
	tick Tick // limit tick
	stop Tick // stop tick
	size uint64

	exec  ExecCallback
	admin AdminCallback

	id                OrderID
	searchLimitsFirst bool
	with              *submission // replacement insert for submitReplace

	promise chan subResult
}

type subResult struct {
	id     OrderID
	pulled bool
	err    error
}

// pipeline serializes externally submitted orders onto a single dispatcher
// goroutine, the sole mutator of engine state. Producers block on their
// promise; the dispatcher blocks on the work condition.
type pipeline struct {
	ob *OrderBook

	mu          sync.Mutex
	work        *sync.Cond
	idle        *sync.Cond
	q           deque.Deque[*submission]
	outstanding int

	running atomic.Bool
	done    chan struct{}
}

func newPipeline(ob *OrderBook) *pipeline {
	p := &pipeline{ob: ob, done: make(chan struct{})}
	p.work = sync.NewCond(&p.mu)
	p.idle = sync.NewCond(&p.mu)
	p.running.Store(true)
	return p
}

// submit enqueues a record and blocks until it is processed, the pipeline is
// idle, and the deferred callbacks are drained. Callbacks for this order run
// on the caller's goroutine before submit returns.
func (p *pipeline) submit(sub *submission) subResult {
	if !p.running.Load() {
		return subResult{err: ErrShutdown}
	}
	sub.promise = make(chan subResult, 1)
	p.enqueue(sub)

	res := <-sub.promise

	p.mu.Lock()
	for p.outstanding != 0 {
		p.idle.Wait()
	}
	p.mu.Unlock()

	p.ob.deferred.drain()
	return res
}

// submitAsync enqueues a record and returns immediately. Used for stop
// re-injection; the record waits behind the current completion and its
// callbacks are drained by the waker or a later blocking submission.
func (p *pipeline) submitAsync(sub *submission) {
	if !p.running.Load() {
		return
	}
	p.enqueue(sub)
}

func (p *pipeline) enqueue(sub *submission) {
	p.mu.Lock()
	// re-check under the lock: shutdown's final sweep holds it, so a record
	// landing after the sweep must be broken here rather than queued forever
	if !p.running.Load() {
		p.mu.Unlock()
		if sub.promise != nil {
			sub.promise <- subResult{err: ErrShutdown}
		}
		return
	}
	p.q.PushBack(sub)
	p.outstanding++
	p.work.Signal()
	p.mu.Unlock()
}

func (p *pipeline) dispatch() {
	defer close(p.done)
	for {
		p.mu.Lock()
		for p.q.Len() == 0 {
			p.work.Wait()
		}
		sub := p.q.PopFront()
		p.mu.Unlock()

		if sub.kind == submitExit {
			return
		}

		res := p.ob.process(sub)

		// admission notification with the final ID, even if the order
		// filled or errored after admission
		admin := sub.admin
		if sub.kind == submitReplace && sub.with != nil {
			admin = sub.with.admin
		}
		if admin != nil && res.id != 0 {
			admin(res.id)
		}

		if sub.promise != nil {
			sub.promise <- res
		} else if res.err != nil {
			zap.S().Warnw("async order failed", "id", res.id, "err", res.err)
		}

		p.mu.Lock()
		p.outstanding--
		if p.outstanding < 0 {
			p.mu.Unlock()
			panic(ErrLogic)
		}
		if p.outstanding == 0 {
			p.idle.Broadcast()
		}
		p.mu.Unlock()
	}
}

// shutdown stops accepting submissions, wakes the dispatcher with a sentinel
// record, and breaks the promises of anything still queued.
func (p *pipeline) shutdown() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.mu.Lock()
	p.q.PushBack(&submission{kind: submitExit})
	p.work.Signal()
	p.mu.Unlock()

	<-p.done

	p.mu.Lock()
	for p.q.Len() > 0 {
		sub := p.q.PopFront()
		if sub.promise != nil {
			sub.promise <- subResult{err: ErrShutdown}
		}
	}
	p.outstanding = 0
	p.idle.Broadcast()
	p.mu.Unlock()
}
