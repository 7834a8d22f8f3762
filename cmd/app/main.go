package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/atvirokodosprendimai/keyledger/internal/app"
	"github.com/atvirokodosprendimai/keyledger/internal/logs"
)

// flagKeys maps command line flags onto config keys. A flag only overrides
// the config file and environment when it was given explicitly.
var flagKeys = map[string]string{
	"addr":                  "addr",
	"db-path":               "db_path",
	"key-code-pattern":      "key_code_pattern",
	"key-card-code-pattern": "key_card_code_pattern",
	"require-give-evidence": "require_give_evidence",
	"log-level":             "log.level",
	"log-format":            "log.format",
	"log-file":              "log.file",
	"webhook-url":           "webhook.url",
	"webhook-secret":        "webhook.secret",
	"kafka-brokers":         "kafka.brokers",
}

func main() {
	cmd := &cli.Command{
		Name:  "keyledger",
		Usage: "Key and key card registry with a custody ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Config file (yaml, toml or json)"},
			&cli.StringFlag{Name: "addr", Usage: "HTTP listen address"},
			&cli.StringFlag{Name: "db-path", Usage: "SQLite file path"},
			&cli.StringFlag{Name: "key-code-pattern", Usage: "Regular expression every key code must match"},
			&cli.StringFlag{Name: "key-card-code-pattern", Usage: "Regular expression every key card code must match"},
			&cli.BoolFlag{Name: "require-give-evidence", Usage: "Reject gives without a signature file"},
			&cli.StringFlag{Name: "log-level", Usage: "trace|debug|info|warning|error"},
			&cli.StringFlag{Name: "log-format", Usage: "text|json"},
			&cli.StringFlag{Name: "log-file", Usage: "Also write logs to this file"},
			&cli.StringFlag{Name: "webhook-url", Usage: "Outbox event webhook target URL"},
			&cli.StringFlag{Name: "webhook-secret", Usage: "HMAC-SHA256 signing secret for outbound webhook requests"},
			&cli.StringSliceFlag{Name: "kafka-brokers", Usage: "Kafka seed brokers for outbox delivery"},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and the outbox dispatcher",
				Action: serve,
			},
			{
				Name:  "export",
				Usage: "Write an organization's events as JSON lines",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "organization", Required: true, Usage: "Organization to export"},
					&cli.StringFlag{Name: "aggregate-type", Usage: "Only key or keycard events"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output file, stdout when empty"},
				},
				Action: export,
			},
		},
		DefaultCommand: "serve",
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		logrus.WithError(err).Fatal("keyledger")
	}
}

func serve(ctx context.Context, c *cli.Command) error {
	a, log, closeLog, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer closeLog()
	defer func() {
		if err := a.Close(); err != nil {
			log.WithError(err).Error("close resources")
		}
	}()

	return a.Run(ctx)
}

func export(ctx context.Context, c *cli.Command) error {
	a, log, closeLog, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer closeLog()
	defer func() {
		if err := a.Close(); err != nil {
			log.WithError(err).Error("close resources")
		}
	}()

	var out io.Writer = os.Stdout
	if path := c.String("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	n, err := a.Export(ctx, c.String("organization"), c.String("aggregate-type"), out)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	log.WithFields(logrus.Fields{"organization": c.String("organization"), "events": n}).Info("export finished")
	return nil
}

func setup(ctx context.Context, c *cli.Command) (*app.App, *logrus.Logger, func(), error) {
	overrides := make(map[string]any)
	for flag, key := range flagKeys {
		if !c.IsSet(flag) {
			continue
		}
		switch flag {
		case "require-give-evidence":
			overrides[key] = c.Bool(flag)
		case "kafka-brokers":
			overrides[key] = c.StringSlice(flag)
		default:
			overrides[key] = c.String(flag)
		}
	}

	cfg, err := app.LoadConfig(c.String("config"), overrides)
	if err != nil {
		return nil, nil, nil, err
	}

	log, logCloser, err := logs.New(logs.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return nil, nil, nil, err
	}
	closeLog := func() { _ = logCloser.Close() }

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		closeLog()
		return nil, nil, nil, fmt.Errorf("create app: %w", err)
	}
	return a, log, closeLog, nil
}
