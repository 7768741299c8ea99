package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"comclear/config"
	"comclear/core"
	"comclear/gateway"
	"comclear/gateway/middleware"
	"comclear/native/oracle"
	"comclear/observability/logging"
	"comclear/rpc"
	"comclear/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("COMCLEAR_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("comclear", env, logging.ParseLevel(cfg.LogLevel))

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "dir", cfg.DataDir, "err", err)
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("failed to open state database", "err", err)
		os.Exit(1)
	}

	treasury, err := parseTreasury(cfg.Settlement.Treasury)
	if err != nil {
		logger.Error("invalid treasury address", "err", err)
		os.Exit(1)
	}

	node := core.NewNode(db, core.NodeConfig{
		Treasury:              treasury,
		RegistrationFee:       cfg.RegistrationFee(),
		InitialReputation:     cfg.Settlement.InitialReputation,
		MaxReputation:         cfg.Settlement.MaxReputation,
		GracePeriodSeconds:    cfg.Settlement.GracePeriodSeconds,
		MaxOracleDelaySeconds: cfg.Settlement.MaxOracleDelaySeconds,
	})
	defer func() {
		if err := node.Close(); err != nil {
			logger.Warn("failed to close node", "err", err)
		}
	}()

	if path := strings.TrimSpace(cfg.FeedManifest); path != "" {
		manifest, err := oracle.LoadManifest(path)
		if err != nil {
			logger.Error("failed to load feed manifest", "path", path, "err", err)
			os.Exit(1)
		}
		if err := manifest.Apply(node.ManualFeed()); err != nil {
			logger.Error("failed to seed price feeds", "err", err)
			os.Exit(1)
		}
		logger.Info("seeded price feeds", "count", len(manifest.Feeds))
	}

	rpcServer := rpc.NewServer(node)
	rpcServer.SetLogger(logger.With("component", "rpc"))

	go func() {
		if err := rpcServer.Start(cfg.RPCAddress); err != nil {
			logger.Error("rpc server exited", "err", err)
			os.Exit(1)
		}
	}()

	idemStore, err := gateway.NewIdempotencyStore(cfg.Gateway.IdempotencyStore, time.Hour)
	if err != nil {
		logger.Error("failed to open idempotency store", "err", err)
		os.Exit(1)
	}
	defer func() {
		_ = idemStore.Close()
	}()

	router := gateway.NewRouter(gateway.Config{
		Auth: middleware.AuthConfig{
			Enabled:    strings.TrimSpace(cfg.Gateway.JWTSecret) != "",
			HMACSecret: cfg.Gateway.JWTSecret,
		},
		RateLimitPerSec: cfg.Gateway.RateLimitPerSec,
		RateLimitBurst:  cfg.Gateway.RateLimitBurst,
	}, rpcServer.Handler(), idemStore, logger.With("component", "gateway"))

	logger.Info("starting gateway", "addr", cfg.Gateway.ListenAddress)
	if err := http.ListenAndServe(cfg.Gateway.ListenAddress, router); err != nil {
		logger.Error("gateway exited", "err", err)
		os.Exit(1)
	}
}

func parseTreasury(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return addr, nil
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, err
	}
	if len(decoded) != len(addr) {
		return addr, errors.New("treasury address must be 20 hex-encoded bytes")
	}
	copy(addr[:], decoded)
	return addr, nil
}
