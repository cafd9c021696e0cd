package fixgate

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/joripage/matchbook/pkg/orderbook"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/fix44/ordercancelreplacerequest"
	"github.com/quickfixgo/fix44/ordercancelrequest"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/quickfix/log/file"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Gateway is a FIX 4.4 acceptor translating order-entry messages into engine
// submissions and engine callbacks into execution reports.
type Gateway struct {
	app      *application
	acceptor *quickfix.Acceptor
}

func NewGateway(book *orderbook.OrderBook) *Gateway {
	return &Gateway{app: newApplication(book)}
}

// Start parses the quickfix settings file and brings the acceptor up.
func (g *Gateway) Start(configPath string) error {
	f, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("open fix config %v: %w", configPath, err)
	}
	defer f.Close() // nolint

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read fix config: %w", err)
	}
	settings, err := quickfix.ParseSettings(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse fix config: %w", err)
	}

	logFactory, _ := file.NewLogFactory(settings)
	g.acceptor, err = quickfix.NewAcceptor(g.app, quickfix.NewMemoryStoreFactory(), settings, logFactory)
	if err != nil {
		return fmt.Errorf("unable to create acceptor: %w", err)
	}
	if err := g.acceptor.Start(); err != nil {
		return fmt.Errorf("unable to start FIX acceptor: %w", err)
	}
	return nil
}

func (g *Gateway) Stop() {
	if g.acceptor != nil {
		g.acceptor.Stop()
	}
}

// application implements the quickfix.Application interface
type application struct {
	*quickfix.MessageRouter
	book *orderbook.OrderBook

	clOrdIDs sync.Map // ClOrdID -> orderbook.OrderID
	states   sync.Map // orderbook.OrderID -> *orderState
}

func newApplication(book *orderbook.OrderBook) *application {
	app := &application{
		MessageRouter: quickfix.NewMessageRouter(),
		book:          book,
	}
	app.AddRoute(newordersingle.Route(app.onNewOrderSingle))
	app.AddRoute(ordercancelrequest.Route(app.onOrderCancelRequest))
	app.AddRoute(ordercancelreplacerequest.Route(app.onOrderCancelReplaceRequest))
	return app
}

// OnCreate implemented as part of Application interface
func (a *application) OnCreate(sessionID quickfix.SessionID) {}

// OnLogon implemented as part of Application interface
func (a *application) OnLogon(sessionID quickfix.SessionID) {}

// OnLogout implemented as part of Application interface
func (a *application) OnLogout(sessionID quickfix.SessionID) {}

// ToAdmin implemented as part of Application interface
func (a *application) ToAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) {}

// ToApp implemented as part of Application interface
func (a *application) ToApp(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	return nil
}

// FromAdmin implemented as part of Application interface
func (a *application) FromAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return nil
}

// FromApp implemented as part of Application interface, uses Router on incoming application messages
func (a *application) FromApp(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return a.Route(msg, sessionID)
}

func (a *application) onNewOrderSingle(msg newordersingle.NewOrderSingle, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	clOrdID, _ := msg.GetClOrdID()
	symbol, _ := msg.GetSymbol()
	side, _ := msg.GetSide()
	ordType, _ := msg.GetOrdType()
	price, _ := msg.GetPrice()
	stopPx, _ := msg.GetStopPx()
	orderQty, _ := msg.GetOrderQty()

	buy := side == enum.Side_BUY
	qty := orderQty.IntPart()
	if qty <= 0 {
		a.sendReject(sessionID, clOrdID, symbol, side, orderQty, "non-positive quantity")
		return nil
	}

	st := &orderState{
		clOrdID:   clOrdID,
		symbol:    symbol,
		side:      side,
		qty:       orderQty,
		sessionID: sessionID,
	}
	// admission runs on the dispatcher before this submission drains its
	// fills, so NEW precedes the trade reports delivered by that drain
	admin := func(id orderbook.OrderID) {
		st.setID(id)
		a.clOrdIDs.Store(clOrdID, id)
		a.states.Store(id, st)
		a.sendStatus(st, enum.ExecType_NEW, enum.OrdStatus_NEW)
	}

	id, err := a.submit(ordType, buy, price, stopPx, uint64(qty), st.execCallback(), admin)
	if err != nil && id == 0 {
		// rejected before admission. An admitted order that errors (e.g. a
		// market order that runs out of liquidity) gets no reject and no
		// other report for the error; only its NEW and fill reports are sent
		zap.S().Infow("order rejected", "clOrdID", clOrdID, "err", err)
		a.sendReject(sessionID, clOrdID, symbol, side, orderQty, err.Error())
	}
	return nil
}

func (a *application) submit(ordType enum.OrdType, buy bool, price, stopPx decimal.Decimal, qty uint64, cb orderbook.ExecCallback, admin orderbook.AdminCallback) (orderbook.OrderID, error) {
	switch ordType {
	case enum.OrdType_MARKET:
		return a.book.InsertMarket(buy, qty, cb, admin)
	case enum.OrdType_LIMIT:
		return a.book.InsertLimit(buy, price, qty, cb, admin)
	case enum.OrdType_STOP:
		return a.book.InsertStop(buy, stopPx, qty, cb, admin)
	case enum.OrdType_STOP_LIMIT:
		return a.book.InsertStopLimit(buy, stopPx, price, qty, cb, admin)
	}
	return 0, fmt.Errorf("%w: unsupported OrdType %v", orderbook.ErrInvalidOrder, ordType)
}

func (a *application) onOrderCancelRequest(msg ordercancelrequest.OrderCancelRequest, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	origClOrdID, _ := msg.GetOrigClOrdID()
	clOrdID, _ := msg.GetClOrdID()

	v, ok := a.clOrdIDs.Load(origClOrdID)
	if !ok {
		zap.S().Infow("cancel for unknown order", "origClOrdID", origClOrdID)
		return nil
	}
	id := v.(orderbook.OrderID)
	// the engine's cancel callback emits the CANCELED report
	if !a.book.PullOrder(id, true) {
		zap.S().Infow("cancel found nothing to pull", "clOrdID", clOrdID, "id", id)
	}
	return nil
}

func (a *application) onOrderCancelReplaceRequest(msg ordercancelreplacerequest.OrderCancelReplaceRequest, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	origClOrdID, _ := msg.GetOrigClOrdID()
	clOrdID, _ := msg.GetClOrdID()
	symbol, _ := msg.GetSymbol()
	side, _ := msg.GetSide()
	price, _ := msg.GetPrice()
	orderQty, _ := msg.GetOrderQty()

	v, ok := a.clOrdIDs.Load(origClOrdID)
	if !ok {
		zap.S().Infow("replace for unknown order", "origClOrdID", origClOrdID)
		return nil
	}
	oldID := v.(orderbook.OrderID)
	qty := orderQty.IntPart()
	if qty <= 0 {
		a.sendReject(sessionID, clOrdID, symbol, side, orderQty, "non-positive quantity")
		return nil
	}

	st := &orderState{
		clOrdID:   clOrdID,
		symbol:    symbol,
		side:      side,
		qty:       orderQty,
		sessionID: sessionID,
	}
	buy := side == enum.Side_BUY
	newID, err := a.book.ReplaceWithLimit(oldID, buy, price, uint64(qty), st.execCallback(), nil)
	if err != nil {
		a.sendReject(sessionID, clOrdID, symbol, side, orderQty, err.Error())
		return nil
	}
	if newID == 0 {
		zap.S().Infow("replace found nothing to pull", "origClOrdID", origClOrdID)
		return nil
	}

	st.setID(newID)
	a.clOrdIDs.Store(clOrdID, newID)
	a.states.Store(newID, st)
	a.sendStatus(st, enum.ExecType_REPLACED, enum.OrdStatus_REPLACED)
	return nil
}
