package orderbook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
)

// deferredCallback is an execution notification recorded inside the critical
// section for dispatch after the master lock is released. User callbacks may
// submit further orders without deadlocking on the lock.
type deferredCallback struct {
	msg  CallbackMsg
	cb   ExecCallback
	id   OrderID
	tick Tick
	size uint64
}

// callbackQueue is appended to only while the master lock is held and drained
// only outside it. A single atomic flag coalesces nested drain attempts: the
// first drainer processes until empty, concurrent drainers return at once and
// trust the in-progress one to pick up their records.
type callbackQueue struct {
	ob       *OrderBook
	q        deque.Deque[deferredCallback]
	draining atomic.Bool
}

// push enqueues a record. Caller must hold the master lock.
func (cq *callbackQueue) push(msg CallbackMsg, cb ExecCallback, id OrderID, tick Tick, size uint64) {
	if cb == nil {
		return
	}
	cq.q.PushBack(deferredCallback{msg: msg, cb: cb, id: id, tick: tick, size: size})
}

// drain dispatches queued records on the calling goroutine. Records enqueued
// by callbacks running here are picked up by the re-read until the queue
// stays empty.
func (cq *callbackQueue) drain() {
	if !cq.draining.CompareAndSwap(false, true) {
		return
	}
	defer cq.draining.Store(false)

	var local deque.Deque[deferredCallback]
	for {
		cq.ob.mu.Lock()
		if cq.q.Len() == 0 {
			cq.ob.mu.Unlock()
			return
		}
		local, cq.q = cq.q, deque.Deque[deferredCallback]{}
		ladder := cq.ob.grid.ladder
		cq.ob.mu.Unlock()

		for local.Len() > 0 {
			d := local.PopFront()
			d.cb(d.msg, d.id, ladder.priceOf(d.tick), d.size)
		}
	}
}

// waker periodically pings registered subscribers with a wake callback
// carrying the current last-trade tick. Heartbeat for market-maker agents.
type waker struct {
	ob       *OrderBook
	interval time.Duration

	mu   sync.Mutex
	subs []ExecCallback

	stopCh chan struct{}
	done   chan struct{}
}

func newWaker(ob *OrderBook, interval time.Duration) *waker {
	return &waker{
		ob:       ob,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *waker) register(cb ExecCallback) {
	if cb == nil {
		return
	}
	w.mu.Lock()
	w.subs = append(w.subs, cb)
	w.mu.Unlock()
}

func (w *waker) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.ping()
		}
	}
}

// ping snapshots the subscriber list, then enqueues under the master lock.
// The two locks are never held together, so subscribers may register further
// callbacks from inside a wake without deadlocking.
func (w *waker) ping() {
	w.mu.Lock()
	subs := make([]ExecCallback, len(w.subs))
	copy(subs, w.subs)
	w.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	w.ob.mu.Lock()
	last := w.ob.last
	for _, cb := range subs {
		w.ob.deferred.push(MsgWake, cb, 0, last, 0)
	}
	w.ob.mu.Unlock()

	w.ob.deferred.drain()
}

func (w *waker) stop() {
	close(w.stopCh)
	<-w.done
}
