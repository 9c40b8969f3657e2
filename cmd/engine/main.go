package main

import (
	"context"
	"flag"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joripage/matching-engine/config"
	"github.com/joripage/matching-engine/pkg/api"
	"github.com/joripage/matching-engine/pkg/engine"
	"github.com/joripage/matching-engine/pkg/fanout"
	fixgateway "github.com/joripage/matching-engine/pkg/gateway/fix"
	"github.com/joripage/matching-engine/pkg/gateway/textproto"
	"github.com/joripage/matching-engine/pkg/generator"
	postgres_wrapper "github.com/joripage/matching-engine/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/matching-engine/pkg/infra/redis"
	kafkawrapper "github.com/joripage/matching-engine/pkg/kafka_wrapper"
	"github.com/joripage/matching-engine/pkg/logging"
	"github.com/joripage/matching-engine/pkg/marketdata"
	"github.com/joripage/matching-engine/pkg/tradestore"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const redisConnectWait = 30 * time.Second

type stopper interface {
	Stop()
}

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	logger, err := logging.NewZapLogger(level, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng := engine.New(cfg.Engine, engine.WithLogger(logger))

	// sinks subscribe before the engine starts so they see every event
	var sinks sync.WaitGroup
	var closers []func()
	if cfg.Kafka.Enabled {
		producer := kafkawrapper.NewProducer(kafkawrapper.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			RequiredAcks: kafka.RequireOne,
		})
		closers = append(closers, func() { _ = producer.Close(context.Background()) })

		sink := marketdata.NewKafkaSink(producer, marketdata.KafkaSinkConfig{
			Instrument: cfg.Instrument,
			TradeTopic: cfg.Kafka.TradeTopic,
			TopTopic:   cfg.Kafka.TopTopic,
		})
		startSink(&sinks, eng.Subscribe(sink.Types()...), sink, logger)
	}
	if cfg.Redis.Enabled {
		client, err := redis_wrapper.InitRedisWithBackoff(ctx, &cfg.Redis.RedisConfig, redisConnectWait)
		if err != nil {
			logger.Fatal("connect redis", zap.Error(err))
		}
		closers = append(closers, func() { _ = client.Close() })

		sink := marketdata.NewRedisSink(client, marketdata.RedisSinkConfig{
			KeyPrefix:  cfg.Redis.KeyPrefix,
			Instrument: cfg.Instrument,
			TapeLength: cfg.Redis.TapeLength,
		})
		startSink(&sinks, eng.Subscribe(sink.Types()...), sink, logger)
	}

	eng.Start(ctx)

	var gateways []stopper
	if cfg.TextGateway.Enabled {
		srv := textproto.NewServer(cfg.TextGateway.Addr, eng, logger)
		if err := srv.Start(ctx); err != nil {
			logger.Fatal("start text gateway", zap.Error(err))
		}
		gateways = append(gateways, srv)
	}
	if cfg.FIX.Enabled {
		gw := fixgateway.NewFixGateway(&fixgateway.FixGatewayConfig{
			ConfigFilepath: cfg.FIX.SettingsFile,
			Instrument:     cfg.Instrument,
		}, eng, logger)
		if err := gw.Start(ctx); err != nil {
			logger.Fatal("start fix gateway", zap.Error(err))
		}
		gateways = append(gateways, gw)
	}
	if cfg.HTTP.Enabled {
		var opts []api.Option
		if cfg.TradeDB != nil && cfg.TradeDB.DataSource != "" {
			db, err := postgres_wrapper.InitPostgresWithBackoff(ctx, cfg.TradeDB)
			if err != nil {
				logger.Fatal("connect trade db", zap.Error(err))
			}
			opts = append(opts, api.WithTradeHistory(tradestore.NewTradeSQLRepo(db)))
		}
		srv := api.NewServer(api.Config{
			Addr:           cfg.HTTP.Addr,
			Instrument:     cfg.Instrument,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
		}, eng, logger, opts...)
		if err := srv.Start(); err != nil {
			logger.Fatal("start http api", zap.Error(err))
		}
		gateways = append(gateways, srv)
	}
	if cfg.Generator.Enabled {
		go generator.New(eng, cfg.Generator.Interval, cfg.Generator.Seed, logger).Run(ctx)
	}

	logger.Info("matching engine running", zap.String("instrument", cfg.Instrument))
	<-ctx.Done()
	logger.Info("shutting down")

	for i := len(gateways) - 1; i >= 0; i-- {
		gateways[i].Stop()
	}
	eng.Stop()
	sinks.Wait()
	for _, c := range closers {
		c()
	}

	st := eng.Stats()
	logger.Info("exited cleanly",
		zap.Uint64("last_seq", eng.LastSequence()),
		zap.Uint64("trades", st.Trades),
		zap.Int64("volume", st.Volume))
}

// startSink drains sub into sink until the engine closes the subscription.
// Sinks get their own context so they can flush after a shutdown signal.
func startSink(wg *sync.WaitGroup, sub *fanout.Subscription, sink fanout.Sink, logger *zap.Logger) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fanout.Pump(context.Background(), sub, sink, logger)
	}()
}
