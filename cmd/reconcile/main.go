// Command reconcile repairs ticket state from the webhook delivery archive.
//
// It replays archived deliveries through the same reconciler the API uses,
// either for one checkout session or for every session whose verified
// completion never produced an approved ticket, and can resend confirmation
// emails.
//
// Usage:
//
//	reconcile -session cs_live_123
//	reconcile -since 72h -concurrency 8
//	reconcile -resend 42,43
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ticketing/internal/bootstrap"
	"ticketing/internal/config"
	"ticketing/internal/db"
	"ticketing/internal/reconciler"
)

type options struct {
	session           string
	since             time.Duration
	concurrency       int
	resend            []int64
	includeUnverified bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		opts   options
		resend string
	)
	fs.StringVar(&opts.session, "session", "", "Replay archived deliveries of one checkout session")
	fs.DurationVar(&opts.since, "since", 0, "Replay sessions with a verified completion received within this window")
	fs.IntVar(&opts.concurrency, "concurrency", 4, "Sessions replayed in parallel by -since")
	fs.StringVar(&resend, "resend", "", "Comma-separated ticket ids whose confirmation email is sent again")
	fs.BoolVar(&opts.includeUnverified, "include-unverified", false, "Also replay deliveries whose signature did not verify")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: reconcile [-session ID | -since DURATION | -resend IDS] [options]\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	for _, part := range strings.Split(resend, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid ticket id %q", part)
		}
		opts.resend = append(opts.resend, id)
	}

	modes := 0
	for _, set := range []bool{opts.session != "", opts.since > 0, len(opts.resend) > 0} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		fs.Usage()
		return nil, fmt.Errorf("exactly one of -session, -since or -resend is required")
	}
	return &opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	cfg, err := config.LoadConfig(bootstrap.SecretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := bootstrap.NewLogger(cfg.LogLevel)

	pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask(), bootstrap.PoolOptions(cfg.Database))
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	archive, err := db.NewDeliveryRepo(pool, logger)
	if err != nil {
		return err
	}
	defer archive.Close()

	awsCfg, err := bootstrap.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return err
	}
	notifier, err := bootstrap.NewNotifier(cfg, awsCfg, logger)
	if err != nil {
		return err
	}
	recon, err := bootstrap.NewReconciliation(cfg, db.NewTicketRepo(pool, logger), notifier, logger)
	if err != nil {
		return err
	}

	replayer := NewReplayer(archive, recon.Reconciler, !opts.includeUnverified, opts.concurrency, logger)
	sum := newSummary()

	switch {
	case opts.session != "":
		err = replayer.ReplaySession(ctx, opts.session, sum)
	case opts.since > 0:
		err = replayer.Sweep(ctx, time.Now().Add(-opts.since), sum)
	default:
		return replayer.Resend(ctx, opts.resend)
	}

	printSummary(os.Stdout, sum)
	return err
}

func printSummary(w io.Writer, sum *Summary) {
	outcomes := make([]string, 0, len(sum.Outcomes))
	for o := range sum.Outcomes {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)

	fmt.Fprintln(w, "Replay summary")
	for _, o := range outcomes {
		fmt.Fprintf(w, "  %-20s %d\n", o, sum.Outcomes[reconciler.Outcome(o)])
	}
	fmt.Fprintf(w, "  %-20s %d\n", "skipped", sum.Skipped)
	fmt.Fprintf(w, "  %-20s %d\n", "failed", sum.Failed)
}
