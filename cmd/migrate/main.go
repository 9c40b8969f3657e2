package main

import (
	"encoding/json"
	"flag"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joripage/matching-engine/config"
	"github.com/joripage/matching-engine/pkg/infra"
	"go.uber.org/zap"
)

func main() {
	var configFile string
	var source string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.StringVar(&source, "source", "file://migration/sql", "Migration source URL")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}
	if cfg.TradeDB == nil || cfg.TradeDB.MigrationConnURL == "" {
		zap.S().Fatal("trade_db.migration_conn_url is not configured")
	}

	configBytes, err := json.MarshalIndent(cfg, "", "   ")
	if err != nil {
		zap.S().Warnf("could not convert config to JSON: %v", err)
	} else {
		zap.S().Debugf("load config %s", string(configBytes))
	}

	mgTool := infra.GetMigrateTool()
	if err := mgTool.Migrate(source, cfg.TradeDB.MigrationConnURL); err != nil {
		zap.S().Fatalf("migrate failed: %v", err)
	}

	version, dirty, err := mgTool.Version(source, cfg.TradeDB.MigrationConnURL)
	if err != nil {
		zap.S().Fatalf("read version failed: %v", err)
	}
	zap.S().Infow("schema up to date", "version", version, "dirty", dirty)
}
