package fixgate

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joripage/matchbook/pkg/orderbook"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/executionreport"
	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// orderState tracks one FIX order through its fills so execution reports can
// carry cumulative and leaves quantities.
type orderState struct {
	clOrdID   string
	symbol    string
	side      enum.Side
	qty       decimal.Decimal
	sessionID quickfix.SessionID

	mu       sync.Mutex
	id       orderbook.OrderID
	cum      decimal.Decimal
	notional decimal.Decimal
}

func (st *orderState) setID(id orderbook.OrderID) {
	st.mu.Lock()
	st.id = id
	st.mu.Unlock()
}

// execCallback bridges engine notifications into execution reports.
func (st *orderState) execCallback() orderbook.ExecCallback {
	return func(msg orderbook.CallbackMsg, id orderbook.OrderID, price decimal.Decimal, size uint64) {
		switch msg {
		case orderbook.MsgFill:
			st.onFill(price, size)
		case orderbook.MsgCancel:
			st.sendReport(enum.ExecType_CANCELED, enum.OrdStatus_CANCELED, decimal.Zero, decimal.Zero)
		case orderbook.MsgStopToLimit:
			st.sendReport(enum.ExecType_RESTATED, enum.OrdStatus_NEW, decimal.Zero, decimal.Zero)
		}
	}
}

func (st *orderState) onFill(price decimal.Decimal, size uint64) {
	q := decimal.NewFromInt(int64(size))
	st.mu.Lock()
	st.cum = st.cum.Add(q)
	st.notional = st.notional.Add(price.Mul(q))
	filled := st.cum.GreaterThanOrEqual(st.qty)
	st.mu.Unlock()

	execType := enum.ExecType_TRADE
	status := enum.OrdStatus_PARTIALLY_FILLED
	if filled {
		status = enum.OrdStatus_FILLED
	}
	st.sendReport(execType, status, price, q)
}

func (st *orderState) sendReport(execType enum.ExecType, status enum.OrdStatus, lastPx, lastQty decimal.Decimal) {
	st.mu.Lock()
	orderID := st.id
	cum := st.cum
	leaves := st.qty.Sub(cum)
	avg := decimal.Zero
	if cum.IsPositive() {
		avg = st.notional.DivRound(cum, 4)
	}
	st.mu.Unlock()
	if status == enum.OrdStatus_CANCELED {
		leaves = decimal.Zero
	}

	m := executionreport.New(
		field.NewOrderID(strconv.FormatUint(uint64(orderID), 10)),
		field.NewExecID(uuid.NewString()),
		field.NewExecType(execType),
		field.NewOrdStatus(status),
		field.NewSide(st.side),
		field.NewLeavesQty(leaves, 0),
		field.NewCumQty(cum, 0),
		field.NewAvgPx(avg, 4),
	)
	m.SetClOrdID(st.clOrdID)
	m.SetSymbol(st.symbol)
	m.SetOrderQty(st.qty, 0)
	m.SetTransactTime(time.Now())
	if lastQty.IsPositive() {
		m.SetLastQty(lastQty, 0)
		m.SetLastPx(lastPx, 4)
	}

	if err := quickfix.SendToTarget(m, st.sessionID); err != nil {
		zap.S().Warnw("send execution report", "clOrdID", st.clOrdID, "err", err)
	}
}

func (a *application) sendStatus(st *orderState, execType enum.ExecType, status enum.OrdStatus) {
	st.sendReport(execType, status, decimal.Zero, decimal.Zero)
}

func (a *application) sendReject(sessionID quickfix.SessionID, clOrdID, symbol string, side enum.Side, qty decimal.Decimal, reason string) {
	st := &orderState{
		clOrdID:   clOrdID,
		symbol:    symbol,
		side:      side,
		qty:       qty,
		sessionID: sessionID,
	}
	m := executionreport.New(
		field.NewOrderID("0"),
		field.NewExecID(uuid.NewString()),
		field.NewExecType(enum.ExecType_REJECTED),
		field.NewOrdStatus(enum.OrdStatus_REJECTED),
		field.NewSide(st.side),
		field.NewLeavesQty(decimal.Zero, 0),
		field.NewCumQty(decimal.Zero, 0),
		field.NewAvgPx(decimal.Zero, 4),
	)
	m.SetClOrdID(clOrdID)
	m.SetSymbol(symbol)
	m.SetOrderQty(qty, 0)
	m.SetTransactTime(time.Now())
	m.SetText(reason)

	if err := quickfix.SendToTarget(m, sessionID); err != nil {
		zap.S().Warnw("send reject report", "clOrdID", clOrdID, "err", err)
	}
}
