package main

import (
	"fmt"
	"io"
	"os"

	"pot-ledger/pkg/config"
	"pot-ledger/pkg/logging"
	"pot-ledger/pkg/metrics"
	"pot-ledger/pkg/store"

	"github.com/urfave/cli"
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "zero"

type metadata struct {
	config  config.Config
	logger  *logging.Logger
	ledger  *store.Ledger
	verbose bool
	e       io.Writer
	w       io.Writer
}

// open returns the ledger, opening it on first use.
func (m *metadata) open(collector metrics.MetricsCollector) (*store.Ledger, error) {
	if m.ledger != nil {
		return m.ledger, nil
	}
	l, err := store.Open(m.config, collector, m.logger)
	if err != nil {
		return nil, err
	}
	m.ledger = l
	return l, nil
}

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(app.ErrWriter, "terminated with error: %s\n", err)
		os.Exit(1)
	}
}

func newApp(w, e io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "potledger"
	app.Usage = "keep the books of a bowling split pot"
	app.Version = version
	app.HideVersion = true

	app.Writer = w
	app.ErrWriter = e

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: " log at info level",
		},
		cli.StringFlag{
			Name:  "env-file, f",
			Value: ".env",
			Usage: " read settings from `FILE` before the environment",
		},
		cli.StringFlag{
			Name:  "backend, b",
			Usage: " storage backend `NAME` [memory|kv|rows]",
		},
		cli.StringFlag{
			Name:  "ledger, l",
			Usage: " ledger `ID`",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:  "serve",
			Usage: "run the HTTP API",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "address, a",
					Usage: " listen on `HOST:PORT` instead of POT_API_ADDR",
				},
			},
			Action: runServe,
		},
		{
			Name:   "names",
			Usage:  "list the players, Pot included",
			Action: runNames,
		},
		{
			Name:   "balances",
			Usage:  "show every balance",
			Action: runBalances,
		},
		{
			Name:  "transactions",
			Usage: "show the newest transactions first",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "count, c",
					Value: 10,
					Usage: " number of transactions `COUNT`",
				},
			},
			Action: runTransactions,
		},
		{
			Name:      "split",
			Usage:     "record a split: the player pays into the pot",
			ArgsUsage: "NAME SPLIT",
			Action:    runSplit,
		},
		{
			Name:      "convert",
			Usage:     "record a converted split: the player takes a share of the pot",
			ArgsUsage: "NAME SPLIT",
			Action:    runConvert,
		},
		{
			Name:   "undo",
			Usage:  "remove the newest transaction",
			Action: runUndo,
		},
		{
			Name:   "reconcile",
			Usage:  "rebuild the balances from the transaction log",
			Action: runReconcile,
		},
		{
			Name:   "splits",
			Usage:  "list the valid split identifiers",
			Action: runSplits,
		},
		{
			Name:      "provision",
			Usage:     "create the ledger with a roster",
			ArgsUsage: "[NAME...]",
			Action:    runProvision,
		},
		{
			Name:  "version",
			Usage: "display potledger version",
			Action: func(c *cli.Context) error {
				fmt.Fprintf(c.App.Writer, "%s\n", version)
				return nil
			},
		},
	}

	app.Before = func(c *cli.Context) error {
		command := c.Args().Get(0)
		if command == "version" || command == "help" || command == "" {
			return nil
		}

		cfg, err := config.Load(c.GlobalString("env-file"))
		if err != nil {
			return err
		}
		if b := c.GlobalString("backend"); b != "" {
			cfg.Backend = b
		}
		if l := c.GlobalString("ledger"); l != "" {
			cfg.LedgerID = l
		}

		verbose := c.GlobalBool("verbose")
		cfg.Logging.Output = c.App.ErrWriter
		if command != "serve" && !verbose && cfg.Logging.Level != "debug" {
			cfg.Logging.Level = "warn"
		}
		logger, err := logging.NewLogger(cfg.Logging)
		if err != nil {
			return err
		}
		logging.SetGlobal(logger)

		c.App.Metadata["config"] = &metadata{
			config:  cfg,
			logger:  logger,
			verbose: verbose,
			e:       c.App.ErrWriter,
			w:       c.App.Writer,
		}
		return nil
	}

	app.After = func(c *cli.Context) error {
		m, ok := c.App.Metadata["config"].(*metadata)
		if !ok {
			return nil
		}
		defer m.logger.Sync()
		if m.ledger == nil {
			return nil
		}
		err := m.ledger.Close()
		m.ledger = nil
		return err
	}

	return app
}
