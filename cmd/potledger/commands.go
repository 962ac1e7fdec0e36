package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"pot-ledger/pkg/awards"
	"pot-ledger/pkg/ledger"
	"pot-ledger/pkg/metrics"
	"pot-ledger/pkg/store"

	"github.com/urfave/cli"
)

// flushTimeout bounds the wait for queued activity before the process exits.
const flushTimeout = 2 * time.Second

func printJSON(handle io.Writer, message interface{}) error {
	b, err := json.MarshalIndent(message, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(handle, "%s\n", b)
	return nil
}

// withLedger opens the configured ledger and runs fn against it.
func withLedger(c *cli.Context, fn func(ctx context.Context, l *store.Ledger, m *metadata) error) error {
	m := c.App.Metadata["config"].(*metadata)
	l, err := m.open(metrics.NoOpCollector{})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout+time.Second)
	defer cancel()
	return fn(ctx, l, m)
}

// nameAndSplit reads the NAME SPLIT positional arguments.
func nameAndSplit(c *cli.Context) (string, string, error) {
	if c.NArg() != 2 {
		return "", "", fmt.Errorf("%s: expected NAME SPLIT, got %d arguments", c.Command.Name, c.NArg())
	}
	return c.Args().Get(0), c.Args().Get(1), nil
}

func runNames(c *cli.Context) error {
	return withLedger(c, func(ctx context.Context, l *store.Ledger, m *metadata) error {
		names, err := l.GetNames(ctx)
		if err != nil {
			return err
		}
		return printJSON(m.w, names)
	})
}

func runBalances(c *cli.Context) error {
	return withLedger(c, func(ctx context.Context, l *store.Ledger, m *metadata) error {
		balances, err := l.GetBalances(ctx)
		if err != nil {
			return err
		}
		return printJSON(m.w, balances)
	})
}

func runTransactions(c *cli.Context) error {
	count := c.Int("count")
	if count <= 0 {
		return fmt.Errorf("invalid count: %d", count)
	}
	return withLedger(c, func(ctx context.Context, l *store.Ledger, m *metadata) error {
		txns, err := l.GetLastNTransactions(ctx, count)
		if err != nil {
			return err
		}
		newestFirst := make([]ledger.Transaction, 0, len(txns))
		for i := len(txns) - 1; i >= 0; i-- {
			newestFirst = append(newestFirst, txns[i])
		}
		return printJSON(m.w, newestFirst)
	})
}

func runSplit(c *cli.Context) error {
	name, split, err := nameAndSplit(c)
	if err != nil {
		return err
	}
	return withLedger(c, func(ctx context.Context, l *store.Ledger, m *metadata) error {
		return printMutation(m, l)(l.AddSplit(ctx, name, split))
	})
}

func runConvert(c *cli.Context) error {
	name, split, err := nameAndSplit(c)
	if err != nil {
		return err
	}
	return withLedger(c, func(ctx context.Context, l *store.Ledger, m *metadata) error {
		return printMutation(m, l)(l.AddConversion(ctx, name, split))
	})
}

func runUndo(c *cli.Context) error {
	return withLedger(c, func(ctx context.Context, l *store.Ledger, m *metadata) error {
		tx, err := l.RemoveLastTransaction(ctx)
		if ledger.IsNotFound(err) {
			return fmt.Errorf("nothing to undo: %w", err)
		}
		return printMutation(m, l)(tx, err)
	})
}

// printMutation prints the transaction a mutation produced. A partial update
// still appended it, so it is printed before the error is returned.
func printMutation(m *metadata, l *store.Ledger) func(ledger.Transaction, error) error {
	return func(tx ledger.Transaction, err error) error {
		if err != nil && !ledger.IsPartialUpdate(err) {
			return err
		}
		if perr := printJSON(m.w, tx); perr != nil {
			return perr
		}
		if ferr := l.Flush(flushTimeout); ferr != nil {
			fmt.Fprintf(m.e, "activity not flushed: %s\n", ferr)
		}
		if err != nil {
			return fmt.Errorf("%w (run reconcile to repair the balances)", err)
		}
		return nil
	}
}

func runReconcile(c *cli.Context) error {
	return withLedger(c, func(ctx context.Context, l *store.Ledger, m *metadata) error {
		report, err := l.Reconcile(ctx)
		if err != nil {
			return err
		}
		if m.verbose && report.Drift {
			fmt.Fprintf(m.e, "drift repaired over %d transactions\n", report.Transactions)
		}
		return printJSON(m.w, report)
	})
}

func runSplits(c *cli.Context) error {
	return withLedger(c, func(ctx context.Context, l *store.Ledger, m *metadata) error {
		table, err := l.GetSplitAwards(ctx)
		if err != nil {
			return err
		}
		t, err := awards.New(l.Name(), table)
		if err != nil {
			return err
		}
		return printJSON(m.w, t.Splits())
	})
}

// runProvision creates the ledger with the named players, or the configured
// roster when none are named.
func runProvision(c *cli.Context) error {
	return withLedger(c, func(ctx context.Context, l *store.Ledger, m *metadata) error {
		players := m.config.Players
		if c.NArg() > 0 {
			players = c.Args()
		}
		if err := l.Provision(ctx, players); err != nil {
			return err
		}
		names, err := l.GetNames(ctx)
		if err != nil {
			return err
		}
		return printJSON(m.w, names)
	})
}
