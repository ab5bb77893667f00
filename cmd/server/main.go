package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/HMasataka/chathub/internal/cache"
	"github.com/HMasataka/chathub/internal/config"
	"github.com/HMasataka/chathub/internal/eventbus"
	"github.com/HMasataka/chathub/internal/logging"
	"github.com/HMasataka/chathub/internal/server"
	"github.com/HMasataka/chathub/internal/store"
	"github.com/HMasataka/chathub/pkg/domain"
	"github.com/HMasataka/chathub/pkg/hub"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	seedPath := flag.String("seed", "", "YAML seed file applied at startup (overrides store.seed_path)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(config.LoadOptions{Path: *configPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if *printConfig {
		if err := cfg.Dump(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "dump config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *seedPath != "" {
		cfg.Store.SeedPath = *seedPath
	}

	logger := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	st, err := store.Open(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.Store.SeedPath != "" {
		seed, err := store.LoadSeed(cfg.Store.SeedPath)
		if err != nil {
			return err
		}
		if err := st.Apply(ctx, seed); err != nil {
			return err
		}
	}

	var users domain.UserStore = st
	if cfg.Cache.RedisAddr != "" {
		client, err := cache.NewClient(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		defer client.Close()

		users = cache.NewUserCache(st, client, cfg.Cache.TTL, logger)
		logger.Info("user cache enabled", "redis_addr", cfg.Cache.RedisAddr)
	}

	bus := eventbus.NewInMemoryBus(1024)
	bus.Start(ctx)
	defer bus.Stop()

	h := hub.NewHub(hub.Config{
		TypingTimeout: cfg.Hub.TypingTimeout,
		DedupeWindow:  cfg.Hub.DedupeWindow,
		HistoryLimit:  cfg.Hub.HistoryLimit,
		RateLimit: hub.RateLimit{
			Burst:          cfg.Hub.RateLimit.Burst,
			RefillInterval: cfg.Hub.RateLimit.RefillInterval,
		},
		TypingLimit: hub.RateLimit{
			Burst:          cfg.Hub.TypingLimit.Burst,
			RefillInterval: cfg.Hub.TypingLimit.RefillInterval,
		},
	}, hub.Stores{
		Users:    users,
		Messages: st,
		Channels: st,
		Friends:  st,
		Guilds:   st,
	}, bus, logger)

	if err := h.Start(ctx); err != nil {
		return err
	}
	defer h.Stop()

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret is empty: websocket identities are not verified")
	}

	return server.New(cfg, h, st, bus, logger).Run(ctx)
}
