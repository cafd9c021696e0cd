package orderbook

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func testConfig() Config {
	return Config{
		Reference: decimal.RequireFromString("50.00"),
		Min:       decimal.RequireFromString("0.01"),
		Max:       decimal.RequireFromString("100.00"),
		TickNum:   1,
		TickDen:   100,
	}
}

func newTestBook(t *testing.T) *OrderBook {
	t.Helper()
	ob, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(ob.Close)
	return ob
}

func px(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type event struct {
	msg   CallbackMsg
	id    OrderID
	price string
	size  uint64
}

// recorder collects callback events; callbacks may fire on any submitter
// goroutine so access is locked.
type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) cb() ExecCallback {
	return func(msg CallbackMsg, id OrderID, price decimal.Decimal, size uint64) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, event{msg: msg, id: id, price: price.StringFixed(2), size: size})
	}
}

func (r *recorder) byMsg(msg CallbackMsg) []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event
	for _, e := range r.events {
		if e.msg == msg {
			out = append(out, e)
		}
	}
	return out
}

func TestCrossAtInsert(t *testing.T) {
	ob := newTestBook(t)
	var maker, taker recorder

	sellID, err := ob.InsertLimit(false, px("50.10"), 10, maker.cb(), nil)
	if err != nil {
		t.Fatalf("seed sell: %v", err)
	}
	if _, err := ob.InsertLimit(true, px("50.10"), 7, taker.cb(), nil); err != nil {
		t.Fatalf("buy limit: %v", err)
	}

	fills := taker.byMsg(MsgFill)
	if len(fills) != 1 || fills[0].price != "50.10" || fills[0].size != 7 {
		t.Fatalf("expected taker fill 7 @ 50.10, got %+v", fills)
	}
	mf := maker.byMsg(MsgFill)
	if len(mf) != 1 || mf[0].id != sellID || mf[0].size != 7 {
		t.Fatalf("expected maker fill 7 for %d, got %+v", sellID, mf)
	}

	askPx, askSize := ob.BestAsk()
	if !askPx.Equal(px("50.10")) || askSize != 3 {
		t.Fatalf("expected ask 3 @ 50.10, got %d @ %s", askSize, askPx)
	}
}

func TestMarketExhaustion(t *testing.T) {
	ob := newTestBook(t)
	var r recorder

	_, err := ob.InsertMarket(true, 5, r.cb(), nil)
	if !errors.Is(err, ErrLiquidity) {
		t.Fatalf("expected liquidity error, got %v", err)
	}
	var le *LiquidityError
	if !errors.As(err, &le) || le.Filled != 0 || le.Requested != 5 {
		t.Fatalf("expected filled 0 of 5, got %v", err)
	}
	if len(r.byMsg(MsgFill)) != 0 {
		t.Fatalf("expected no fill callbacks, got %+v", r.events)
	}
}

func TestPartialFillBeforeLiquidityError(t *testing.T) {
	ob := newTestBook(t)
	var taker recorder

	if _, err := ob.InsertLimit(false, px("50.10"), 3, nil, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := ob.InsertMarket(true, 5, taker.cb(), nil)
	var le *LiquidityError
	if !errors.As(err, &le) || le.Filled != 3 || le.Requested != 5 {
		t.Fatalf("expected filled 3 of 5, got %v", err)
	}
	fills := taker.byMsg(MsgFill)
	if len(fills) != 1 || fills[0].size != 3 {
		t.Fatalf("partial fills must precede the error, got %+v", fills)
	}
}

func TestStopLimitChain(t *testing.T) {
	ob := newTestBook(t)
	var owner recorder

	stopID, err := ob.InsertStopLimit(true, px("50.20"), px("50.30"), 4, owner.cb(), nil)
	if err != nil {
		t.Fatalf("stop limit: %v", err)
	}

	// move last to 50.15: below the stop, no trigger
	if _, err := ob.InsertLimit(false, px("50.15"), 4, nil, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := ob.InsertMarket(true, 4, nil, nil); err != nil {
		t.Fatalf("market: %v", err)
	}
	if got := ob.GetOrderInfo(stopID, false); got.Kind != OrderStopLimit {
		t.Fatalf("stop should still rest, got %+v", got)
	}

	// move last to 50.25: at/above the stop, triggers
	if _, err := ob.InsertLimit(false, px("50.25"), 4, nil, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := ob.InsertMarket(true, 4, nil, nil); err != nil {
		t.Fatalf("market: %v", err)
	}

	stl := owner.byMsg(MsgStopToLimit)
	if len(stl) != 1 || stl[0].id != stopID || stl[0].price != "50.30" || stl[0].size != 4 {
		t.Fatalf("expected stop_to_limit 4 @ 50.30 for %d, got %+v", stopID, stl)
	}

	info := ob.GetOrderInfo(stopID, true)
	if info.Kind != OrderLimit || !info.Buy || info.Size != 4 || !info.Price.Equal(px("50.30")) {
		t.Fatalf("expected resting buy limit 4 @ 50.30 under original ID, got %+v", info)
	}
	bidPx, bidSize := ob.BestBid()
	if !bidPx.Equal(px("50.30")) || bidSize != 4 {
		t.Fatalf("expected bid 4 @ 50.30, got %d @ %s", bidSize, bidPx)
	}
}

func TestFIFOWithinChain(t *testing.T) {
	ob := newTestBook(t)
	var a, b, c recorder

	idA, _ := ob.InsertLimit(false, px("50.50"), 2, a.cb(), nil)
	idB, _ := ob.InsertLimit(false, px("50.50"), 3, b.cb(), nil)
	if _, err := ob.InsertLimit(false, px("50.50"), 5, c.cb(), nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := ob.InsertMarket(true, 4, nil, nil); err != nil {
		t.Fatalf("market: %v", err)
	}

	if fills := a.byMsg(MsgFill); len(fills) != 1 || fills[0].size != 2 || fills[0].id != idA {
		t.Fatalf("A should fill 2, got %+v", fills)
	}
	if fills := b.byMsg(MsgFill); len(fills) != 1 || fills[0].size != 2 {
		t.Fatalf("B should fill 2 of 3, got %+v", fills)
	}
	if fills := c.byMsg(MsgFill); len(fills) != 0 {
		t.Fatalf("C should be untouched, got %+v", fills)
	}

	if info := ob.GetOrderInfo(idB, true); info.Kind != OrderLimit || info.Size != 1 {
		t.Fatalf("B should rest with size 1, got %+v", info)
	}
	_, askSize := ob.BestAsk()
	if askSize != 6 {
		t.Fatalf("expected ask size 6, got %d", askSize)
	}
}

func TestPullCollapsesBid(t *testing.T) {
	ob := newTestBook(t)
	var r recorder

	id, err := ob.InsertLimit(true, px("49.90"), 10, r.cb(), nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !ob.PullOrder(id, true) {
		t.Fatalf("pull should find the order")
	}
	if cancels := r.byMsg(MsgCancel); len(cancels) != 1 || cancels[0].size != 10 {
		t.Fatalf("expected cancel callback, got %+v", r.events)
	}

	if _, size := ob.BestBid(); size != 0 {
		t.Fatalf("expected empty bid, got size %d", size)
	}
	if _, err := ob.InsertMarket(false, 1, nil, nil); !errors.Is(err, ErrLiquidity) {
		t.Fatalf("expected liquidity error after collapse, got %v", err)
	}
}

func TestStopCascade(t *testing.T) {
	ob := newTestBook(t)
	var s1, s2, s3 recorder

	id1, _ := ob.InsertStop(true, px("50.10"), 1, s1.cb(), nil)
	id2, _ := ob.InsertStop(true, px("50.20"), 1, s2.cb(), nil)
	id3, _ := ob.InsertStop(true, px("50.30"), 1, s3.cb(), nil)

	// liquidity for the driving market order and the three re-injections
	for _, lvl := range []struct {
		price string
		size  uint64
	}{
		{"50.05", 1}, {"50.10", 1}, {"50.20", 1}, {"50.30", 1},
		{"50.40", 1}, {"50.50", 1}, {"50.60", 1},
	} {
		if _, err := ob.InsertLimit(false, px(lvl.price), lvl.size, nil, nil); err != nil {
			t.Fatalf("seed %s: %v", lvl.price, err)
		}
	}

	// one large market order walks last up to 50.30 and fires all three
	if _, err := ob.InsertMarket(true, 4, nil, nil); err != nil {
		t.Fatalf("driving market: %v", err)
	}

	f1, f2, f3 := s1.byMsg(MsgFill), s2.byMsg(MsgFill), s3.byMsg(MsgFill)
	if len(f1) != 1 || len(f2) != 1 || len(f3) != 1 {
		t.Fatalf("all three stops should fill, got %d/%d/%d", len(f1), len(f2), len(f3))
	}
	// original IDs preserved across re-injection
	if f1[0].id != id1 || f2[0].id != id2 || f3[0].id != id3 {
		t.Fatalf("IDs not preserved: %+v %+v %+v", f1, f2, f3)
	}
	// tick-ascending trigger order: lowest stop consumes the cheapest remaining ask
	if f1[0].price != "50.40" || f2[0].price != "50.50" || f3[0].price != "50.60" {
		t.Fatalf("expected ascending fills 50.40/50.50/50.60, got %s %s %s",
			f1[0].price, f2[0].price, f3[0].price)
	}

	if stops := ob.DumpBuyStops(); len(stops) != 0 {
		t.Fatalf("stop book should be empty, got %+v", stops)
	}
}

func TestFillPairing(t *testing.T) {
	ob := newTestBook(t)
	var makers, takers recorder

	ids := make(map[OrderID]bool)
	for i := 0; i < 10; i++ {
		id, err := ob.InsertLimit(false, px("50.10"), 2, makers.cb(), nil)
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		ids[id] = true
	}
	if _, err := ob.InsertMarket(true, 20, takers.cb(), nil); err != nil {
		t.Fatalf("market: %v", err)
	}

	mf, tf := makers.byMsg(MsgFill), takers.byMsg(MsgFill)
	if len(mf) != 10 || len(tf) != 10 {
		t.Fatalf("expected 10 fill pairs, got %d maker / %d taker", len(mf), len(tf))
	}
	for i := range mf {
		if mf[i].price != tf[i].price || mf[i].size != tf[i].size {
			t.Fatalf("pair %d mismatched: maker %+v taker %+v", i, mf[i], tf[i])
		}
		if !ids[mf[i].id] {
			t.Fatalf("maker fill for unknown id %d", mf[i].id)
		}
		delete(ids, mf[i].id) // each maker fills exactly once here
	}
}

func TestVolumeMatchesTape(t *testing.T) {
	ob := newTestBook(t)

	sizes := []uint64{3, 7, 2, 9}
	for _, sz := range sizes {
		if _, err := ob.InsertLimit(false, px("50.00"), sz, nil, nil); err != nil {
			t.Fatalf("seed: %v", err)
		}
		if _, err := ob.InsertMarket(true, sz, nil, nil); err != nil {
			t.Fatalf("market: %v", err)
		}
	}

	var total uint64
	for _, p := range ob.TimeAndSales() {
		total += p.Size
	}
	if ob.TotalVolume() != total {
		t.Fatalf("volume %d != tape sum %d", ob.TotalVolume(), total)
	}
	if total != 21 {
		t.Fatalf("expected total 21, got %d", total)
	}
	lastPx, lastSize, _ := ob.LastTrade()
	if !lastPx.Equal(px("50.00")) || lastSize != 9 {
		t.Fatalf("expected last 9 @ 50.00, got %d @ %s", lastSize, lastPx)
	}
}

func TestTapeOverflow(t *testing.T) {
	cfg := testConfig()
	cfg.TapeCapacity = 4
	ob, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ob.Close()

	for i := 0; i < 6; i++ {
		if _, err := ob.InsertLimit(false, px("50.00"), uint64(i+1), nil, nil); err != nil {
			t.Fatalf("seed: %v", err)
		}
		if _, err := ob.InsertMarket(true, uint64(i+1), nil, nil); err != nil {
			t.Fatalf("market: %v", err)
		}
	}
	prints := ob.TimeAndSales()
	if len(prints) != 4 {
		t.Fatalf("expected ring capped at 4, got %d", len(prints))
	}
	// oldest dropped: sizes 3,4,5,6 remain in order
	for i, want := range []uint64{3, 4, 5, 6} {
		if prints[i].Size != want {
			t.Fatalf("print %d: expected size %d, got %d", i, want, prints[i].Size)
		}
	}
}

func TestPullIdempotent(t *testing.T) {
	ob := newTestBook(t)

	id, _ := ob.InsertLimit(true, px("49.50"), 5, nil, nil)
	if !ob.PullOrder(id, true) {
		t.Fatalf("first pull should succeed")
	}
	if ob.PullOrder(id, true) {
		t.Fatalf("second pull should return false")
	}
	if ob.PullOrder(id, false) {
		t.Fatalf("pull with stops-first should also return false")
	}
}

func TestPullReinsertRestoresDepth(t *testing.T) {
	ob := newTestBook(t)

	ob.InsertLimit(true, px("49.90"), 4, nil, nil)
	id, _ := ob.InsertLimit(true, px("49.80"), 6, nil, nil)
	ob.InsertLimit(true, px("49.70"), 2, nil, nil)

	before := ob.DumpBuyLimits()

	if !ob.PullOrder(id, true) {
		t.Fatalf("pull failed")
	}
	if _, err := ob.InsertLimit(true, px("49.80"), 6, nil, nil); err != nil {
		t.Fatalf("reinsert: %v", err)
	}

	after := ob.DumpBuyLimits()
	if len(before) != len(after) {
		t.Fatalf("level count changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i].Tick != after[i].Tick || before[i].Size != after[i].Size {
			t.Fatalf("level %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestMarketDepthLevels(t *testing.T) {
	ob := newTestBook(t)

	ob.InsertLimit(false, px("50.10"), 1, nil, nil)
	ob.InsertLimit(false, px("50.20"), 2, nil, nil)
	ob.InsertLimit(false, px("50.30"), 3, nil, nil)

	depth := ob.MarketDepth(false, 2)
	if len(depth) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(depth))
	}
	if !depth[0].Price.Equal(px("50.10")) || depth[0].Size != 1 {
		t.Fatalf("inside level wrong: %+v", depth[0])
	}
	if !depth[1].Price.Equal(px("50.20")) || depth[1].Size != 2 {
		t.Fatalf("second level wrong: %+v", depth[1])
	}
}

func TestBidNeverCrossesAsk(t *testing.T) {
	ob := newTestBook(t)

	ob.InsertLimit(true, px("49.90"), 5, nil, nil)
	ob.InsertLimit(false, px("50.10"), 5, nil, nil)
	// crossing insert trades instead of resting crossed
	ob.InsertLimit(true, px("50.20"), 5, nil, nil)

	bidPx, bidSize := ob.BestBid()
	askPx, askSize := ob.BestAsk()
	if bidSize != 0 && askSize != 0 && !bidPx.LessThan(askPx) {
		t.Fatalf("book crossed: bid %s ask %s", bidPx, askPx)
	}
}

func TestInvalidOrders(t *testing.T) {
	ob := newTestBook(t)

	if _, err := ob.InsertLimit(true, px("50.00"), 0, nil, nil); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("zero size should be rejected, got %v", err)
	}
	if _, err := ob.InsertLimit(true, px("200.00"), 1, nil, nil); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("out-of-range price should be rejected, got %v", err)
	}
	if _, err := ob.InsertStop(true, px("0.00"), 1, nil, nil); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("out-of-range stop should be rejected, got %v", err)
	}
}

func TestAdminCallbackReceivesFinalID(t *testing.T) {
	ob := newTestBook(t)

	ob.InsertLimit(false, px("50.00"), 5, nil, nil)

	var adminID OrderID
	// fills immediately and fully; the admission callback still fires
	id, err := ob.InsertLimit(true, px("50.00"), 5, nil, func(got OrderID) { adminID = got })
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if adminID != id {
		t.Fatalf("admin callback got %d, want %d", adminID, id)
	}
}

func TestReplaceWithLimit(t *testing.T) {
	ob := newTestBook(t)

	id, _ := ob.InsertLimit(true, px("49.90"), 5, nil, nil)
	newID, err := ob.ReplaceWithLimit(id, true, px("49.95"), 7, nil, nil)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if newID == 0 || newID == id {
		t.Fatalf("expected fresh id, got %d", newID)
	}
	if info := ob.GetOrderInfo(id, true); info.Kind != OrderNone {
		t.Fatalf("old order should be gone, got %+v", info)
	}
	info := ob.GetOrderInfo(newID, true)
	if info.Kind != OrderLimit || info.Size != 7 || !info.Price.Equal(px("49.95")) {
		t.Fatalf("replacement wrong: %+v", info)
	}
}

func TestReplaceMissingReturnsZero(t *testing.T) {
	ob := newTestBook(t)
	newID, err := ob.ReplaceWithLimit(12345, true, px("49.95"), 7, nil, nil)
	if err != nil || newID != 0 {
		t.Fatalf("expected id 0 with no error, got %d, %v", newID, err)
	}
}

func TestReplaceWithStop(t *testing.T) {
	ob := newTestBook(t)

	id, _ := ob.InsertLimit(true, px("49.90"), 5, nil, nil)
	newID, err := ob.ReplaceWithStop(id, true, px("50.50"), 5, nil, nil)
	if err != nil || newID == 0 {
		t.Fatalf("replace: id %d err %v", newID, err)
	}
	info := ob.GetOrderInfo(newID, false)
	if info.Kind != OrderStop || !info.StopPrice.Equal(px("50.50")) {
		t.Fatalf("expected resting stop @ 50.50, got %+v", info)
	}
}

func TestGetOrderInfoKinds(t *testing.T) {
	ob := newTestBook(t)

	lim, _ := ob.InsertLimit(false, px("50.40"), 3, nil, nil)
	stp, _ := ob.InsertStop(false, px("49.50"), 2, nil, nil)
	stl, _ := ob.InsertStopLimit(true, px("50.60"), px("50.70"), 4, nil, nil)

	if info := ob.GetOrderInfo(lim, true); info.Kind != OrderLimit || info.Buy {
		t.Fatalf("limit info wrong: %+v", info)
	}
	if info := ob.GetOrderInfo(stp, false); info.Kind != OrderStop || info.Buy {
		t.Fatalf("stop info wrong: %+v", info)
	}
	info := ob.GetOrderInfo(stl, false)
	if info.Kind != OrderStopLimit || !info.Buy || !info.Price.Equal(px("50.70")) || !info.StopPrice.Equal(px("50.60")) {
		t.Fatalf("stop-limit info wrong: %+v", info)
	}
	if info := ob.GetOrderInfo(99999, true); info.Kind != OrderNone {
		t.Fatalf("missing id should be OrderNone, got %+v", info)
	}
}

func TestLowBuyLimitBoundsBook(t *testing.T) {
	ob := newTestBook(t)

	ob.InsertLimit(true, px("49.50"), 1, nil, nil)
	ob.InsertLimit(true, px("49.70"), 1, nil, nil)
	ob.InsertLimit(true, px("49.90"), 1, nil, nil)
	ob.PullOrder(2, true) // middle level

	ob.mu.Lock()
	low := ob.x.lowBuyLimit
	levels := ob.depthLocked(true, 0)
	ob.mu.Unlock()

	lowest := levels[len(levels)-1].Tick
	if low > lowest {
		t.Fatalf("low_buy_limit %d above lowest populated tick %d", low, lowest)
	}
}

func TestCallbackMaySubmitOrders(t *testing.T) {
	ob := newTestBook(t)

	var nested OrderID
	cb := func(msg CallbackMsg, id OrderID, price decimal.Decimal, size uint64) {
		if msg != MsgFill || nested != 0 {
			return
		}
		// resubmission from inside a drain must not deadlock
		nested, _ = ob.InsertLimit(true, px("49.00"), 1, nil, nil)
	}

	ob.InsertLimit(false, px("50.00"), 2, cb, nil)
	if _, err := ob.InsertMarket(true, 2, nil, nil); err != nil {
		t.Fatalf("market: %v", err)
	}

	if nested == 0 {
		t.Fatalf("nested insert did not run")
	}
	if info := ob.GetOrderInfo(nested, true); info.Kind != OrderLimit {
		t.Fatalf("nested order should rest, got %+v", info)
	}
}

func TestCloseBreaksSubmissions(t *testing.T) {
	ob, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ob.Close()
	if _, err := ob.InsertLimit(true, px("50.00"), 1, nil, nil); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected shutdown error, got %v", err)
	}
	if ob.PullOrder(1, true) {
		t.Fatalf("pull after close should return false")
	}
}
