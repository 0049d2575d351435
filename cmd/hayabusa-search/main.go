// Package main implements hayabusa-search, the native shard query tool. It
// runs one read-only SQL statement over every shard file matched by its
// arguments and prints the rows in shard order, or their total with --sum.
// The exit status is the number of shards that failed, capped at 101.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/hayabusa-search/hayabusa/internal/logging"
	"github.com/hayabusa-search/hayabusa/internal/shardsearch"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		opts     shardsearch.Options
		maxOpen  int
		logLevel string
	)

	flagSet := pflag.NewFlagSet("hayabusa-search", pflag.ContinueOnError)
	flagSet.StringVar(&opts.SQL, "sql", "", "statement to run on every shard (required)")
	flagSet.BoolVar(&opts.Sum, "sum", false, "print the total of the leading integer of each row")
	flagSet.IntVar(&opts.Concurrency, "concurrency", 8, "number of shards queried at once")
	flagSet.IntVar(&maxOpen, "max-open", 64, "maximum number of open shard databases")
	flagSet.StringVar(&logLevel, "log-level", "error", "log level: debug, info, warn, error")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hayabusa-search --sql <statement> [--sum] <shard pattern>...\n\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 2
	}
	if opts.SQL == "" || flagSet.NArg() == 0 {
		flagSet.Usage()
		return 2
	}

	logger := logging.New(os.Stderr, logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pool := shardsearch.NewPool(maxOpen)
	defer pool.Close()

	status, err := shardsearch.NewSearcher(pool).Search(ctx, flagSet.Args(), opts, os.Stdout, os.Stderr)
	if err != nil {
		logger.Error("search failed", "error", err)
		return 2
	}
	logger.Debug("search finished", "patterns", flagSet.NArg(), "failed", status)
	return status
}
