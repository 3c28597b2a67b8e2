// Command bcproxy sits between a MUD client and the BatMUD server. It turns
// the server's bc protocol back into plain terminal output, relays room data
// to mapper clients and optionally records rooms and kills.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberinferno/bcproxy/config"
	"github.com/cyberinferno/bcproxy/logger"
	"github.com/cyberinferno/bcproxy/persist"
	"github.com/cyberinferno/bcproxy/proxy"
	"github.com/cyberinferno/bcproxy/upstream"
	"github.com/spf13/pflag"
)

const serviceName = "bcproxy"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(serviceName, args, os.Stderr)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	monsters, err := cfg.MonsterRegexp()
	if err != nil {
		return err
	}

	gw, err := openGateway(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := gw.Close(); err != nil {
			log.Error("failed to close persistence", logger.Err(err))
		}
	}()

	dialCfg := upstream.DefaultConfig(cfg.Server)
	dialCfg.ConnectionTimeout = cfg.ConnectTimeout

	srv := proxy.NewServer(cfg.Listen, proxy.Options{
		Dialer:             upstream.NewDialer(dialCfg),
		MapperAddr:         cfg.Mapper,
		MapperWriteTimeout: cfg.MapperWriteTimeout,
		Monsters:           monsters,
		Gateway:            gw,
		Logger:             log,
	})
	if err := srv.Start(); err != nil {
		return err
	}

	log.Info("proxying",
		logger.Field{Key: "listen", Value: srv.Addr().String()},
		logger.Field{Key: "server", Value: cfg.Server},
		logger.Field{Key: "monster", Value: cfg.Monster})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	srv.Stop()

	return nil
}

func newLogger(cfg config.Config) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if cfg.LogDir == "" {
		return logger.NewConsoleLogger(serviceName, level), nil
	}
	return logger.NewZerologFileLogger(serviceName, cfg.LogDir, level)
}

// openGateway builds the persistence chain: deduplicated rooms, written off
// the proxy path by one worker.
func openGateway(cfg config.Config, log logger.Logger) (persist.Gateway, error) {
	if cfg.DB == "" {
		log.Warn("no persistence configured; room data will NOT be saved")
		return persist.Nop{}, nil
	}

	backend, err := persist.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	log.Info("persistence enabled", logger.Field{Key: "backend", Value: fmt.Sprintf("%T", backend)})

	gw := persist.Dedupe(backend, cfg.DedupeTTL)
	return persist.Async(gw, log.With(logger.Field{Key: "component", Value: "persist"}), persist.DefaultQueueSize, persist.DefaultRecordTimeout), nil
}
