package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/commands"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/config"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/importer"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/logging"
)

func main() {
	app := &cli.App{
		Name:  "importer",
		Usage: "import QuickBooks invoices and purchase orders into Postgres",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "from", Usage: "first transaction date (YYYY-MM-DD), overrides IMPORT_FROM"},
			&cli.StringFlag{Name: "to", Usage: "last transaction date (YYYY-MM-DD), overrides IMPORT_TO"},
			&cli.IntFlag{Name: "limit", Usage: "max documents scanned per type, 0 for no limit (overrides IMPORT_LIMIT)"},
			&cli.StringFlag{Name: "env-file", Usage: "env file to load", EnvVars: []string{"ENV_FILE"}, Value: config.DefaultEnvFile},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(commands.ExitFatal)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return cli.Exit(err.Error(), commands.ExitFatal)
	}
	params, err := paramsFrom(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), commands.ExitFatal)
	}

	logger, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return cli.Exit(err.Error(), commands.ExitFatal)
	}
	defer closer.Close()
	log := logrus.NewEntry(logger).WithField("realm_id", cfg.RealmID)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, runErr := commands.Import(ctx, cfg, log, params)
	if runErr != nil {
		logging.LogError(log, "main", "run", runErr, nil)
	}
	if sum.RunID != "" {
		printSummary(sum)
	}

	if code := commands.ExitCode(sum, runErr); code != commands.ExitOK {
		return cli.Exit("", code)
	}
	return nil
}

func paramsFrom(c *cli.Context, cfg *config.Config) (commands.ImportParams, error) {
	p := commands.ImportParams{From: cfg.ImportFrom, To: cfg.ImportTo, Limit: cfg.ImportLimit}
	var err error
	if v := c.String("from"); v != "" {
		if p.From, err = time.Parse(time.DateOnly, v); err != nil {
			return p, fmt.Errorf("--from: %w", err)
		}
	}
	if v := c.String("to"); v != "" {
		if p.To, err = time.Parse(time.DateOnly, v); err != nil {
			return p, fmt.Errorf("--to: %w", err)
		}
	}
	if c.IsSet("limit") {
		if p.Limit = c.Int("limit"); p.Limit < 0 {
			return p, fmt.Errorf("--limit must not be negative")
		}
	}
	return p, nil
}

func printSummary(sum importer.Summary) {
	out := sum.Fields()
	out["from"] = sum.From.Format(time.DateOnly)
	out["to"] = sum.To.Format(time.DateOnly)
	out["duration"] = sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond).String()
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}

