package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/commands"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/config"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/logging"
)

func usage() {
	fmt.Println("control-panel <command>")
	fmt.Println("  migrate   apply database migrations")
	fmt.Println("  connect   authorize a QuickBooks company in the browser")
	fmt.Println("  check     call CompanyInfo with the saved credential")
}

type cmdHandler func(ctx context.Context, cfg *config.Config, log *logrus.Entry) error

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	handlers := map[string]cmdHandler{
		"migrate": commands.RunMigrationsUp,
		"connect": commands.Connect,
		"check":   commands.Check,
	}

	cmd := os.Args[1]
	handler, ok := handlers[cmd]
	if !ok {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", cmd, err)
		os.Exit(1)
	}
	logger, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", cmd, err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := handler(ctx, cfg, logrus.NewEntry(logger).WithField("command", cmd)); err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", cmd, err)
		stop()
		os.Exit(1)
	}
}
