package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"scalp_guard_go/config"
	"scalp_guard_go/logs"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to the config.yaml file")
	flag.Parse()

	// Credentials come from .env when present, otherwise from the environment.
	if err := godotenv.Load(); err != nil {
		fmt.Println("Note: .env file not found, using process environment for credentials.")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Fatal error: Unable to load config file '%s': %v\n", *configPath, err)
		os.Exit(1)
	}

	envCfg := config.LoadEnvConfig()

	symbolUpper := strings.ToUpper(cfg.Symbol)
	logFilename := filepath.Join(cfg.Normal.LogDirectory, fmt.Sprintf("%s_bot.log", symbolUpper))

	if err := logs.Init(cfg.Logs, logFilename, symbolUpper); err != nil {
		fmt.Printf("Fatal error: Failed to initialize logging system: %v\n", err)
		os.Exit(1)
	}
	defer logs.Close()

	mode := "live"
	if cfg.UseSimulation {
		mode = "paper"
	}
	logs.Infof("[Main] %s scalper starting in %s mode, tag %q, poll every %ds",
		symbolUpper, mode, cfg.OrderTag, cfg.Normal.PollIntervalSeconds)

	orchestrator, err := NewOrchestrator(cfg, envCfg, cfg.Normal.JournalDirectory)
	if err != nil {
		logs.Errorf("[Main] Startup failed: %v", err)
		return
	}
	orchestrator.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logs.Infof("[Main] Received %s, shutting down", sig)

	orchestrator.Stop()
}
