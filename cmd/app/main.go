package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"PatternEngine/internal/di"
	"PatternEngine/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	checkOnly := flag.Bool("check", false, "validate the config and exit")
	flag.Parse()

	if err := run(*configPath, *checkOnly); err != nil {
		log.Printf("pattern engine: %v", err)
		os.Exit(1)
	}
}

func run(path string, checkOnly bool) error {
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if checkOnly {
		log.Printf("config ok: env=%s store=%s ingest=%t", cfg.Environment, cfg.Store.Type, cfg.Ingest.Enabled)
		return nil
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	// blocks until SIGINT or SIGTERM
	return app.Run()
}
