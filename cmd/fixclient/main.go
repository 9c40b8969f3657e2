package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/executionreport"
	fix44nos "github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"
)

type InitiatorApp struct {
	*quickfix.MessageRouter
	symbol string
}

func newInitiatorApp(symbol string) *InitiatorApp {
	app := &InitiatorApp{MessageRouter: quickfix.NewMessageRouter(), symbol: symbol}
	app.AddRoute(executionreport.Route(app.onExecutionReport))
	return app
}

func (a *InitiatorApp) OnCreate(sessionID quickfix.SessionID) {}

func (a *InitiatorApp) OnLogon(sessionID quickfix.SessionID) {
	log.Println("Logon success", sessionID)
	a.sendCrossingOrders(sessionID)
}

func (a *InitiatorApp) OnLogout(sessionID quickfix.SessionID)                       {}
func (a *InitiatorApp) ToAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) {}
func (a *InitiatorApp) ToApp(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	return nil
}
func (a *InitiatorApp) FromAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return nil
}
func (a *InitiatorApp) FromApp(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return a.Route(msg, sessionID)
}

func (a *InitiatorApp) onExecutionReport(msg executionreport.ExecutionReport, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	clOrdID, _ := msg.GetClOrdID()
	orderID, _ := msg.GetOrderID()
	execType, _ := msg.GetExecType()
	status, _ := msg.GetOrdStatus()
	cum, _ := msg.GetCumQty()
	leaves, _ := msg.GetLeavesQty()
	text, _ := msg.GetText()

	line := []any{"ExecReport", "clOrdID=" + clOrdID, "orderID=" + orderID,
		"execType=" + string(execType), "status=" + string(status),
		"cum=" + cum.String(), "leaves=" + leaves.String()}
	if execType == enum.ExecType_TRADE {
		lastQty, _ := msg.GetLastQty()
		lastPx, _ := msg.GetLastPx()
		line = append(line, "last="+lastQty.String()+"@"+lastPx.String())
	}
	if text != "" {
		line = append(line, "text="+text)
	}
	log.Println(line...)
	return nil
}

func (a *InitiatorApp) newOrder(sessionID quickfix.SessionID, side enum.Side, ordType enum.OrdType, price decimal.Decimal, qty int64) fix44nos.NewOrderSingle {
	order := fix44nos.New(
		field.NewClOrdID(uuid.NewString()),
		field.NewSide(side),
		field.NewTransactTime(time.Now()),
		field.NewOrdType(ordType))
	order.SetSymbol(a.symbol)
	if ordType == enum.OrdType_LIMIT {
		order.SetPrice(price, 2)
	}
	order.SetOrderQty(decimal.NewFromInt(qty), 0)
	order.SetSenderCompID(sessionID.SenderCompID)
	order.SetTargetCompID(sessionID.TargetCompID)
	return order
}

// sendCrossingOrders rests a sell, crosses part of it with a limit buy and
// sweeps the rest with a market buy larger than the book.
func (a *InitiatorApp) sendCrossingOrders(sessionID quickfix.SessionID) {
	orders := []fix44nos.NewOrderSingle{
		a.newOrder(sessionID, enum.Side_SELL, enum.OrdType_LIMIT, decimal.RequireFromString("100.50"), 10),
		a.newOrder(sessionID, enum.Side_BUY, enum.OrdType_LIMIT, decimal.RequireFromString("101.00"), 4),
		a.newOrder(sessionID, enum.Side_BUY, enum.OrdType_MARKET, decimal.Zero, 15),
	}
	for _, o := range orders {
		if err := quickfix.Send(o); err != nil {
			log.Println("send failed:", err)
		}
	}
}

func main() {
	cfgPath := flag.String("config", "config/fix_initiator.cfg", "quickfix initiator settings")
	symbol := flag.String("symbol", "DEFAULT", "instrument symbol")
	flag.Parse()
	log.Println("cfgPath:", *cfgPath)

	cfg, err := os.Open(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	defer cfg.Close() // nolint

	settings, err := quickfix.ParseSettings(cfg)
	if err != nil {
		log.Fatal(err)
	}

	logFactory, err := quickfix.NewFileLogFactory(settings)
	if err != nil {
		log.Fatal(err)
	}
	initiator, err := quickfix.NewInitiator(newInitiatorApp(*symbol), quickfix.NewMemoryStoreFactory(), settings, logFactory)
	if err != nil {
		log.Fatal(err)
	}
	if err := initiator.Start(); err != nil {
		log.Fatal(err)
	}
	log.Println("Initiator started...")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	initiator.Stop()
}
