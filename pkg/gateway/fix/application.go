package fixgateway

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/tag"
	"go.uber.org/zap"
)

// Application implements the quickfix.Application interface. Incoming
// application messages are queued and routed from one dispatcher
// goroutine, so session goroutines never wait on the engine.
type Application struct {
	*quickfix.MessageRouter
	gateway    *FixGateway
	dispatcher chan *inboundMsg
	closeOnce  sync.Once
	logger     *zap.Logger
}

type inboundMsg struct {
	msg       *quickfix.Message
	sessionID quickfix.SessionID
}

const dispatchQueueSize = 65536

func newApplication(gateway *FixGateway) *Application {
	app := &Application{
		MessageRouter: quickfix.NewMessageRouter(),
		gateway:       gateway,
		dispatcher:    make(chan *inboundMsg, dispatchQueueSize),
		logger:        gateway.logger,
	}

	app.AddRoute(newordersingle.Route(app.onNewOrderSingle))
	go app.runDispatcher()

	return app
}

func startApp(configFilepath string, gateway *FixGateway) (*Application, *quickfix.Acceptor, error) {
	raw, err := os.ReadFile(configFilepath)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading %v: %w", configFilepath, err)
	}

	appSettings, err := quickfix.ParseSettings(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("error parsing %v: %w", configFilepath, err)
	}

	logFactory, err := quickfix.NewFileLogFactory(appSettings)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create fix log factory: %w", err)
	}

	app := newApplication(gateway)
	acceptor, err := quickfix.NewAcceptor(app, quickfix.NewMemoryStoreFactory(), appSettings, logFactory)
	if err != nil {
		app.close()
		return nil, nil, fmt.Errorf("unable to create acceptor: %w", err)
	}

	if err := acceptor.Start(); err != nil {
		app.close()
		return nil, nil, fmt.Errorf("unable to start FIX acceptor: %w", err)
	}

	return app, acceptor, nil
}

func (a *Application) close() {
	a.closeOnce.Do(func() {
		close(a.dispatcher)
	})
}

// OnCreate implemented as part of Application interface
func (a *Application) OnCreate(sessionID quickfix.SessionID) {}

// OnLogon implemented as part of Application interface
func (a *Application) OnLogon(sessionID quickfix.SessionID) {
	a.logger.Info("fix logon", zap.String("session", sessionID.String()))
}

// OnLogout implemented as part of Application interface
func (a *Application) OnLogout(sessionID quickfix.SessionID) {
	a.logger.Info("fix logout", zap.String("session", sessionID.String()))
}

// ToAdmin implemented as part of Application interface
func (a *Application) ToAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) {}

// ToApp implemented as part of Application interface
func (a *Application) ToApp(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	return nil
}

// FromAdmin implemented as part of Application interface
func (a *Application) FromAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return nil
}

// FromApp implemented as part of Application interface
func (a *Application) FromApp(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	a.dispatcher <- &inboundMsg{msg, sessionID}
	return nil
}

func (a *Application) runDispatcher() {
	for in := range a.dispatcher {
		if err := a.Route(in.msg, in.sessionID); err != nil {
			msgType, _ := in.msg.Header.GetString(tag.MsgType)
			a.logger.Warn("route failed",
				zap.String("msg_type", msgType),
				zap.String("session", in.sessionID.String()),
				zap.Error(err))
		}
	}
}

func (a *Application) onNewOrderSingle(msg newordersingle.NewOrderSingle, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	clOrdID, err := msg.GetClOrdID()
	if err != nil {
		return err
	}
	side, err := msg.GetSide()
	if err != nil {
		return err
	}
	ordType, err := msg.GetOrdType()
	if err != nil {
		return err
	}
	orderQty, err := msg.GetOrderQty()
	if err != nil {
		return err
	}
	symbol, _ := msg.GetSymbol()
	price, _ := msg.GetPrice()
	account, _ := msg.GetAccount()
	transactTime, _ := msg.GetTransactTime()

	a.gateway.AddOrder(context.Background(), &NewOrderSingle{
		SessionID:    sessionID,
		Account:      account,
		ClOrdID:      clOrdID,
		Symbol:       symbol,
		OrdType:      ordType,
		Price:        price,
		Side:         side,
		TransactTime: transactTime,
		OrderQty:     orderQty,
	})
	return nil
}
