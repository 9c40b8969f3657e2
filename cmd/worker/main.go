package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"

	"github.com/joripage/matching-engine/config"
	postgres_wrapper "github.com/joripage/matching-engine/pkg/infra/postgres"
	kafkawrapper "github.com/joripage/matching-engine/pkg/kafka_wrapper"
	"github.com/joripage/matching-engine/pkg/logging"
	"github.com/joripage/matching-engine/pkg/tradestore"
	"github.com/joripage/matching-engine/pkg/worker"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}
	if cfg.TradeDB == nil {
		panic("trade_db is not configured")
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	logger, err := logging.NewZapLogger(level, cfg.ServiceName+"-worker")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := postgres_wrapper.InitPostgresWithBackoff(ctx, cfg.TradeDB)
	if err != nil {
		zap.S().Errorf("init db fail with err: %v", err)
		panic(err)
	}

	cg, err := kafkawrapper.NewConsumerGroup(kafkawrapper.ConsumerConfig{
		Brokers:     cfg.Kafka.Brokers,
		GroupID:     cfg.Kafka.GroupID,
		Topic:       cfg.Kafka.TradeTopic,
		WorkerCount: cfg.Kafka.WorkerCount,
		MaxRetries:  cfg.Kafka.MaxRetries,
		DLQTopic:    cfg.Kafka.DLQTopic,
		BatchSize:   cfg.Kafka.BatchSize,
	}, logger)
	if err != nil {
		zap.S().Errorf("init kafka consumer error: %v", err)
		panic(err)
	}
	defer cg.Close()

	w := worker.NewWorker(tradestore.NewTradeSQLRepo(db), logger)
	logger.Info("trade journal worker started", zap.String("topic", cfg.Kafka.TradeTopic))
	if err := w.Run(ctx, cg); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", zap.Error(err))
	}
}
