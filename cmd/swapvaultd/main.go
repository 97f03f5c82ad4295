package main

import (
	"flag"
	"log/slog"
	"os"
	"strings"

	"swapvault/config"
	"swapvault/core"
	"swapvault/observability/logging"
	"swapvault/rpc"
	"swapvault/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	rpcAddr := flag.String("rpc", "", "JSON-RPC listen address (overrides config)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SWAPVAULT_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		logging.Setup("swapvaultd", env, "")
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.Setup("swapvaultd", env, cfg.LogFile)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	node := core.NewNode(db, logger)
	if err := node.Bootstrap(cfg); err != nil {
		logger.Error("failed to apply bootstrap state", slog.Any("error", err))
		os.Exit(1)
	}

	addr := cfg.RPCAddress
	if strings.TrimSpace(*rpcAddr) != "" {
		addr = *rpcAddr
	}

	logger.Info("node ready", "network", cfg.NetworkName, "data_dir", cfg.DataDir)
	server := rpc.NewServer(node, cfg.RPCToken, logger)
	if err := server.Start(addr); err != nil {
		logger.Error("rpc server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
