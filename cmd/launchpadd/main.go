// cmd/launchpadd/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ursuslabs/agent-launchpad/internal/config"
	"github.com/ursuslabs/agent-launchpad/internal/launchpad"
	"github.com/ursuslabs/agent-launchpad/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig()
	if cfg.LogFile != "" {
		logCfg.LogFile = cfg.LogFile
	}
	logCfg.Development = cfg.DebugLogging

	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting agent launchpad", zap.String("config", *configPath))

	ctx := context.Background()
	runner := launchpad.NewRunner(cfg, log)

	if err := runner.Initialize(ctx); err != nil {
		log.Error("Initialization failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}

	if err := runner.Run(ctx); err != nil {
		log.Error("Launchpad terminated", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}
