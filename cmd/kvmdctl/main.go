package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/hfi/kvmd-client/internal/audit"
	"github.com/hfi/kvmd-client/internal/config"
	"github.com/hfi/kvmd-client/internal/kvmd"
	"github.com/hfi/kvmd-client/internal/logging"
	"github.com/hfi/kvmd-client/internal/server"
	"github.com/hfi/kvmd-client/internal/session"
	"github.com/hfi/kvmd-client/internal/totp"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: kvmdctl [flags] <command> [args]

Commands:
  version                 print version information
  info                    fetch device information
  atx                     fetch power-control state
  power <action>          change power state (on, off, off_hard, reset_hard)
  click <button>          press a front-panel button (power, power_long, reset)
  msd                     fetch mass-storage state
  gpio                    fetch GPIO state
  snapshot <file>         save a screen snapshot
  log                     fetch device logs

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("kvmdctl %s\n", Version)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		fmt.Printf("Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	host := flag.String("host", "", "device hostname (default: first configured device)")
	wait := flag.Bool("wait", true, "wait for power and button operations to complete")
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config(cfg.Logging))

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	if err := run(cfg, logger, *host, *wait, flag.Args()); err != nil {
		logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger zerolog.Logger, host string, wait bool, args []string) error {
	device, err := pickDevice(cfg, host)
	if err != nil {
		return err
	}

	store, err := newCodeStore(cfg)
	if err != nil {
		return err
	}
	codes := totp.NewCache(totp.NewEngine(), store)
	defer codes.Close()

	trail := audit.New(audit.Config(cfg.Audit), logger)

	registry := session.NewRegistry(session.Config{
		Codes:          codes,
		RequestTimeout: cfg.Session.RequestTimeout,
		Logger:         logger,
		Audit:          trail,
	})

	ctx := context.Background()
	defer registry.CloseAll(ctx)

	if cfg.Metrics.Enabled {
		mgmt := server.New(cfg.Metrics.Addr, Version)
		mgmt.RegisterHealthCheck("pool", func() (bool, string) {
			return true, fmt.Sprintf("%d pooled connections", registry.Len())
		})
		go func() {
			if err := mgmt.Start(); err != nil {
				logger.Warn().Err(err).Msg("management server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			mgmt.Stop(shutdownCtx)
		}()
	}

	conn, err := registry.GetConnection(ctx, session.Options{
		Hostname:  device.Hostname,
		Username:  device.Username,
		Password:  device.Password,
		Secret:    device.Secret,
		Scheme:    device.Scheme,
		VerifyTLS: device.VerifyTLS,
	})
	if err != nil {
		return err
	}

	budget := cfg.Session.RetryBudget
	return session.WithSecondFactorRetry(conn, trail, budget, func() error {
		return dispatch(ctx, conn, wait, args)
	})
}

func dispatch(ctx context.Context, conn *kvmd.Client, wait bool, args []string) error {
	switch cmd := args[0]; cmd {
	case "info":
		info, err := conn.SystemInfo(ctx, args[1:]...)
		if err != nil {
			return err
		}
		return printJSON(info)

	case "atx":
		state, err := conn.ATXState(ctx)
		if err != nil {
			return err
		}
		return printJSON(state)

	case "power":
		if len(args) < 2 {
			return fmt.Errorf("power requires an action")
		}
		return conn.SetATXPower(ctx, args[1], wait)

	case "click":
		if len(args) < 2 {
			return fmt.Errorf("click requires a button")
		}
		return conn.ClickATXButton(ctx, args[1], wait)

	case "msd":
		state, err := conn.MSDState(ctx)
		if err != nil {
			return err
		}
		return printJSON(state)

	case "gpio":
		state, err := conn.GPIOState(ctx)
		if err != nil {
			return err
		}
		return printJSON(state)

	case "snapshot":
		if len(args) < 2 {
			return fmt.Errorf("snapshot requires an output file")
		}
		data, err := conn.StreamerSnapshot(ctx, false)
		if err != nil {
			return err
		}
		return os.WriteFile(args[1], data, 0600)

	case "log":
		text, err := conn.SystemLog(ctx, 0)
		if err != nil {
			return err
		}
		fmt.Print(text)
		return nil

	default:
		return fmt.Errorf("unknown command: %q", cmd)
	}
}

func pickDevice(cfg *config.Config, host string) (config.DeviceConfig, error) {
	if host == "" {
		if len(cfg.Devices) == 0 {
			return config.DeviceConfig{}, fmt.Errorf("no devices configured")
		}
		return cfg.Devices[0], nil
	}

	device, ok := cfg.Device(host)
	if !ok {
		return config.DeviceConfig{}, fmt.Errorf("device %q not configured", host)
	}
	return device, nil
}

func newCodeStore(cfg *config.Config) (totp.CodeStore, error) {
	if cfg.TOTP.Cache == "redis" {
		return totp.NewRedisStore(cfg.TOTP.Redis.Address, cfg.TOTP.Redis.Password, cfg.TOTP.Redis.DB)
	}
	return totp.NewMemoryStore(), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
