package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"schoolbudget/internal/backend"
	"schoolbudget/internal/cli"
	"schoolbudget/internal/core"
	"schoolbudget/internal/log"
	"schoolbudget/internal/services"
)

const usage = `usage: ledger <command> [arguments]

commands:
  years                     list fiscal years
  reconcile [fiscal-year]   recompute stored aggregates, all years when none given
  verify [fiscal-year]      report drifted aggregates without writing
  snapshot <fiscal-year>    print the aggregate snapshot of a fiscal year
  stats                     print statistics across every fiscal year
  spend <project> <amount> <title>
                            record a transaction; amounts use 1,500.50 notation
                            (-date YYYY-MM-DD, default today; -note text)
`

// errInconsistent makes verify exit non-zero after printing its report.
var errInconsistent = errors.New("ledger is inconsistent")

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger("info", "text", log.ComponentCLI)
	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, log.ComponentCLI)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err)
		os.Exit(1)
	}

	err = run(ctx, os.Stdout, result, os.Args[1:])
	if cerr := result.Cleanup(); cerr != nil {
		logger.Error("Cleanup failed", log.FieldError, cerr)
	}
	switch {
	case errors.Is(err, flag.ErrHelp):
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	case errors.Is(err, errInconsistent):
		os.Exit(1)
	case err != nil:
		logger.Error("Command failed", log.FieldError, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, b *backend.BackendResult, args []string) error {
	if len(args) == 0 {
		return flag.ErrHelp
	}
	cmd, rest := args[0], args[1:]

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	compact := fs.Bool("compact", false, "print JSON on a single line")
	date := fs.String("date", "", "transaction date, YYYY-MM-DD")
	note := fs.String("note", "", "transaction note")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	if !*compact {
		enc.SetIndent("", "  ")
	}

	switch cmd {
	case "years":
		years, err := b.Store.ListFiscalYears(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(years)

	case "reconcile":
		if id := fs.Arg(0); id != "" {
			report, err := b.Reconciler.ReconcileFiscalYear(ctx, id)
			if err != nil {
				return err
			}
			return enc.Encode(report)
		}
		reports, err := b.Reconciler.ReconcileAll(ctx)
		if encErr := enc.Encode(reports); encErr != nil {
			return encErr
		}
		return err

	case "verify":
		var err error
		if id := fs.Arg(0); id != "" {
			err = b.Reconciler.Verify(ctx, id)
		} else {
			err = b.Reconciler.VerifyAll(ctx)
		}
		return reportVerify(enc, err)

	case "snapshot":
		if fs.NArg() != 1 {
			return fmt.Errorf("snapshot: %w", flag.ErrHelp)
		}
		snap, err := b.Snapshots.GetAggregateSnapshot(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		return enc.Encode(snap)

	case "stats":
		stats, err := b.Snapshots.Statistics(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(stats)

	case "spend":
		if fs.NArg() != 3 {
			return fmt.Errorf("spend: %w", flag.ErrHelp)
		}
		amount, err := core.ParseAmount(fs.Arg(1))
		if err != nil {
			return fmt.Errorf("spend: %w", err)
		}
		when := core.Date{Time: time.Now().UTC().Truncate(24 * time.Hour)}
		if *date != "" {
			if when, err = core.ParseDate(*date); err != nil {
				return fmt.Errorf("spend: %w", err)
			}
		}
		t, err := b.Coordinator.CreateTransaction(ctx, services.NewTransaction{
			ProjectID: fs.Arg(0),
			Amount:    amount,
			Title:     fs.Arg(2),
			Date:      when,
			Note:      *note,
		})
		if err != nil {
			return err
		}
		return enc.Encode(t)

	default:
		return fmt.Errorf("unknown command %q: %w", cmd, flag.ErrHelp)
	}
}

// reportVerify prints every consistency error as JSON. Other errors are returned as is.
func reportVerify(enc *json.Encoder, err error) error {
	if err == nil {
		return enc.Encode(map[string]bool{"consistent": true})
	}

	var found []*core.ConsistencyError
	var other []error
	for _, e := range unjoin(err) {
		var ce *core.ConsistencyError
		if errors.As(e, &ce) {
			found = append(found, ce)
		} else {
			other = append(other, e)
		}
	}
	if len(other) > 0 {
		return errors.Join(other...)
	}
	if encErr := enc.Encode(found); encErr != nil {
		return encErr
	}
	return errInconsistent
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
