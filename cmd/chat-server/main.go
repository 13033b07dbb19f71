package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"community-chat/server/internal/api"
	"community-chat/server/internal/config"
	"community-chat/server/internal/handlers"
	"community-chat/server/internal/metrics"
	"community-chat/server/internal/platform/privacylog"
	"community-chat/server/internal/rpc"
	"community-chat/server/internal/storage"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	addr := flag.String("addr", "", "listen address (overrides config)")
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	dbPath := flag.String("db", "", "database path (overrides config)")
	rpcToken := flag.String("rpc-token", "", "RPC token for Authorization/X-Chat-RPC-Token (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("chat-server version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	log := slog.New(privacylog.WrapHandler(slog.NewTextHandler(os.Stderr, nil)))
	if err := run(*configPath, *addr, *dbPath, *rpcToken, log); err != nil {
		log.Error("chat-server failed", "err", err)
		os.Exit(1)
	}
	log.Info("chat-server stopped")
}

func run(configPath, addr, dbPath, rpcToken string, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if rpcToken != "" {
		cfg.RPCToken = rpcToken
	}

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, key := range cfg.Moderators {
		if err := store.AddModerator(ctx, key); err != nil {
			return err
		}
	}

	dispatcher := rpc.NewDispatcher(handlers.New(store, cfg.ActivityWindow()), log)
	server := api.NewServer(cfg, dispatcher, metrics.New(), log)

	log.Info("chat-server starting", "addr", cfg.ListenAddr, "db", cfg.DatabasePath)
	return server.Run(ctx)
}
