package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"PBoard/global"
	"PBoard/global/config"
	"PBoard/logger"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

var version = "dev"

const usage = `Usage: board [flags] <command>

Commands:
  serve     run the REST API and the realtime socket
  check     load and validate the configuration, then exit
  version   print the version

Flags:
`

func main() {
	fs := flag.NewFlagSet("board", flag.ContinueOnError)
	cfgPath := fs.StringP("config", "c", "", "config file (default: search /etc/pboard/board.yaml, ./board.yaml, $BOARD_CONFIG)")
	port := fs.IntP("port", "p", 0, "override server.port")
	level := fs.String("log-level", "", "override server.log_level")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	cmd := "serve"
	if fs.NArg() > 0 {
		cmd = fs.Arg(0)
	}

	switch cmd {
	case "version":
		fmt.Println(version)
		return
	case "serve", "check":
	default:
		fs.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *level != "" {
		cfg.Server.LogLevel = *level
	}

	if cmd == "check" {
		fmt.Printf("config ok: %s database on %s:%d\n", cfg.Database.Driver, cfg.Server.Host, cfg.Server.Port)
		return
	}

	if err := serve(cfg); err != nil {
		logger.Error("board stopped", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.AppConfig, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func serve(cfg *config.AppConfig) error {
	logger.Init(cfg.Server.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := global.Build(ctx, cfg, logger.Named("board"))
	if err != nil {
		return err
	}
	defer app.Close()

	logger.Info("board starting",
		zap.String("version", version),
		zap.String("database", cfg.Database.Driver),
		zap.Bool("presence", cfg.Presence.Enabled),
		zap.Bool("nats", cfg.Ingress.Nats.Enabled),
		zap.Bool("kafka", cfg.Ingress.Kafka.Enabled))

	err = app.Run(ctx)
	logger.Info("board stopped")
	return err
}
