package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sourprotocol/config"
	"sourprotocol/core/events"
	coretypes "sourprotocol/core/types"
	"sourprotocol/native/handshake"
	"sourprotocol/native/treasury"
	"sourprotocol/observability/logging"
	"sourprotocol/rpc"
	"sourprotocol/state"
	"sourprotocol/storage"
)

// logEmitter forwards engine events to the structured log so operators can
// follow protocol activity without an indexer.
type logEmitter struct {
	log *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	attrs := []any{}
	if carrier, ok := evt.(interface{ Event() *coretypes.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			for key, value := range payload.Attributes {
				attrs = append(attrs, slog.String(key, value))
			}
		}
	}
	l.log.Info(evt.EventType(), attrs...)
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	memDB := flag.Bool("memdb", false, "DEV ONLY: use an in-memory database instead of LevelDB")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SOURD_ENV"))
	logger := logging.Setup("sourd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	var db storage.Database
	if *memDB {
		db = storage.NewMemDB()
	} else {
		leveldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			logger.Error("Failed to open database", slog.String("path", cfg.DataDir), slog.Any("error", err))
			os.Exit(1)
		}
		defer leveldb.Close()
		db = leveldb
	}

	manager := state.NewManager(db)
	emitter := logEmitter{log: logger}

	treasuryEngine := treasury.NewEngine()
	treasuryEngine.SetState(manager)
	treasuryEngine.SetEmitter(emitter)

	handshakeEngine := handshake.NewEngine()
	handshakeEngine.SetState(manager)
	handshakeEngine.SetTreasury(treasuryEngine)
	handshakeEngine.SetEmitter(emitter)

	if err := initProtocolConfig(handshakeEngine, cfg, logger); err != nil {
		logger.Error("Failed to initialise protocol config", slog.Any("error", err))
		os.Exit(1)
	}
	if err := initTreasuryConfig(treasuryEngine, cfg, logger); err != nil {
		logger.Error("Failed to initialise treasury config", slog.Any("error", err))
		os.Exit(1)
	}

	if strings.TrimSpace(cfg.MetricsAddress) != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("Metrics listener starting", slog.String("address", cfg.MetricsAddress))
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				logger.Error("Metrics listener stopped", slog.Any("error", err))
			}
		}()
	}

	server := rpc.NewServer(handshakeEngine, treasuryEngine, manager, logger)
	logger.Info("RPC listener starting",
		slog.String("address", cfg.RPCAddress),
		slog.String("network", cfg.NetworkName))
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC listener stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// initProtocolConfig seeds the handshake config singleton from the TOML
// [protocol] section on first boot. An already initialised config wins over
// the file so restarts never rewrite fee parameters.
func initProtocolConfig(engine *handshake.Engine, cfg *config.Config, logger *slog.Logger) error {
	if _, err := engine.Config(); err == nil {
		return nil
	} else if !errors.Is(err, handshake.ErrNotInitialized) {
		return err
	}
	section := cfg.Protocol
	if strings.TrimSpace(section.Authority) == "" {
		logger.Warn("Protocol config not initialised and no [protocol] Authority configured; waiting for handshake_initConfig")
		return nil
	}
	addrs := make([][20]byte, 4)
	for i, entry := range []struct {
		name string
		raw  string
	}{
		{"Authority", section.Authority},
		{"Treasury", section.Treasury},
		{"KeepersPool", section.KeepersPool},
		{"Commons", section.Commons},
	} {
		addr, err := coretypes.ParseAddress(entry.raw)
		if err != nil {
			return fmt.Errorf("protocol.%s: %w", entry.name, err)
		}
		addrs[i] = addr
	}
	_, err := engine.InitializeConfig(addrs[0], addrs[1], addrs[2], addrs[3],
		section.PinchBps, section.TreasuryShareBps, section.KeepersShareBps, section.CommonsShareBps)
	if err != nil {
		return err
	}
	logger.Info("Protocol config initialised from file",
		slog.String("authority", section.Authority),
		slog.Uint64("pinchBps", uint64(section.PinchBps)))
	return nil
}

// initTreasuryConfig mirrors initProtocolConfig for the [treasury] section.
func initTreasuryConfig(engine *treasury.Engine, cfg *config.Config, logger *slog.Logger) error {
	if _, err := engine.Config(); err == nil {
		return nil
	} else if !errors.Is(err, treasury.ErrNotInitialized) {
		return err
	}
	section := cfg.Treasury
	if strings.TrimSpace(section.Authority) == "" {
		logger.Warn("Treasury config not initialised and no [treasury] Authority configured; waiting for treasury_initConfig")
		return nil
	}
	authority, err := coretypes.ParseAddress(section.Authority)
	if err != nil {
		return fmt.Errorf("treasury.Authority: %w", err)
	}
	threshold, err := cfg.BatchThreshold()
	if err != nil {
		return err
	}
	if _, err := engine.InitializeConfig(authority, threshold, section.KeeperRewardBps); err != nil {
		return err
	}
	logger.Info("Treasury config initialised from file",
		slog.String("authority", section.Authority),
		slog.Uint64("keeperRewardBps", uint64(section.KeeperRewardBps)))
	return nil
}
