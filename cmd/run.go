package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/resale-repricer/internal/domain/bid"
	"github.com/example/resale-repricer/internal/failurelog"
	"github.com/example/resale-repricer/internal/items"
	"github.com/example/resale-repricer/internal/notify"
	"github.com/example/resale-repricer/internal/pricing"
	"github.com/example/resale-repricer/internal/scheduler"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		input    string
		fromDB   bool
		workers  int
		strategy string
		results  string
		every    time.Duration
		rounds   int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reprice a batch of items",
		Long: `Reprice every item of a batch. Items come from an .xlsx workbook (--input),
from Postgres (--from-db), or both: with --input and --from-db the workbook
is imported first and every unfinished item in the database is processed.
With --every the batch is repriced again at that interval; each run prints
its summary as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" && !fromDB {
				return errors.New("one of --input or --from-db is required")
			}
			cfg, log, err := g.setup()
			if err != nil {
				return err
			}
			if workers > 0 {
				cfg.Workers = workers
			}
			if strategy != "" {
				cfg.StrategyID = strategy
			}
			if results != "" {
				cfg.ResultsFile = results
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			st, err := openStack(ctx, cfg, log, fromDB)
			if err != nil {
				return err
			}
			defer st.close()

			strat, err := loadStrategy(cfg.StrategyFile, cfg.StrategyID)
			if err != nil {
				return err
			}
			matcher, err := loadMatcher(cfg, log)
			if err != nil {
				return err
			}
			launcher, err := st.launcher()
			if err != nil {
				return err
			}
			defer launcher.Close()
			auth, err := st.authority(launcher.Authenticator())
			if err != nil {
				return err
			}
			var (
				source bid.ItemSource
				repo   *items.Repo
			)
			if input != "" {
				wb, err := items.LoadWorkbook(input)
				if err != nil {
					return err
				}
				source = wb
			}
			if fromDB {
				repo = items.NewRepo(st.db)
				if source != nil {
					n, err := importBatch(ctx, source, repo)
					if err != nil {
						return err
					}
					log.WithField("items", n).Info("workbook imported")
				}
				source = repo
			}

			var notifier bid.Notifier = notify.LogNotifier{Log: log}
			if cfg.NotifyWebhookURL != "" {
				notifier = notify.Multi{notifier, notify.NewWebhookNotifier(cfg.NotifyWebhookURL)}
			}
			locks := st.locker()

			// failure log and results ledger are flushed at the end of every round
			n := 0
			round := func(ctx context.Context) (scheduler.Summary, error) {
				n++
				if repo != nil && n > 1 {
					if err := repo.Requeue(ctx); err != nil {
						return scheduler.Summary{}, err
					}
				}
				failures, err := failurelog.Open(cfg.FailureLog)
				if err != nil {
					return scheduler.Summary{}, err
				}
				closers := []io.Closer{failures}
				var recorder bid.Recorder
				if repo != nil {
					recorder = repo
				}
				if cfg.ResultsFile != "" || repo == nil {
					ledger := items.NewLedger(cfg.ResultsFile)
					closers = append(closers, ledger)
					recorder = teeRecorder{recorder, ledger}
				}

				pool := scheduler.NewPool(scheduler.Config{
					Workers:               cfg.Workers,
					MaxRestarts:           cfg.MaxRestarts,
					AttemptTimeout:        cfg.AttemptTimeout,
					ShutdownGrace:         cfg.ShutdownGrace,
					PriceStep:             cfg.PriceStep,
					AbortOnSessionFailure: cfg.AbortOnSessionFailure,
				}, scheduler.Deps{
					Sessions:    auth,
					NewActuator: launcher.NewActuator,
					Matcher:     matcher,
					Engine:      pricing.Engine{Unit: cfg.PriceUnit},
					Strategy:    strat,
					Retry:       retryPolicy(cfg),
					Locks:       locks,
					Recorder:    recorder,
					Failures:    failures,
					Log:         log,
				})
				o := &scheduler.Orchestrator{
					Source:      source,
					Pool:        pool,
					Sessions:    auth,
					Notifier:    notifier,
					Closers:     closers,
					URLTemplate: cfg.ProductURLTemplate,
					Log:         log,
				}
				return o.Run(ctx)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			r := &scheduler.Repeater{
				Round:     round,
				Interval:  every,
				Rounds:    rounds,
				OnSummary: func(sum scheduler.Summary) { _ = enc.Encode(sum) },
				Log:       log,
			}
			err = r.Run(ctx)
			if every > 0 && errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "input workbook (.xlsx)")
	cmd.Flags().BoolVar(&fromDB, "from-db", false, "process unfinished items stored in Postgres")
	cmd.Flags().IntVar(&workers, "workers", 0, "overrides WORKERS")
	cmd.Flags().StringVar(&strategy, "strategy", "", "overrides STRATEGY_ID")
	cmd.Flags().StringVar(&results, "results", "", "results workbook written after the run (overrides RESULTS_FILE)")
	cmd.Flags().DurationVar(&every, "every", 0, "repeat the run at this interval until interrupted")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "with --every, stop after this many runs")
	return cmd
}

type importer interface {
	Import(ctx context.Context, batch []*bid.Item) (int, error)
}

// importBatch copies every item of src into dst.
func importBatch(ctx context.Context, src bid.ItemSource, dst importer) (int, error) {
	batch, err := src.Items(ctx)
	if err != nil {
		return 0, fmt.Errorf("read input batch: %w", err)
	}
	return dst.Import(ctx, batch)
}

// teeRecorder records to every non-nil recorder and reports the first error.
type teeRecorder []bid.Recorder

func (t teeRecorder) RecordAttempt(ctx context.Context, rec bid.AttemptRecord) error {
	var first error
	for _, r := range t {
		if r == nil {
			continue
		}
		if err := r.RecordAttempt(ctx, rec); err != nil && first == nil {
			first = fmt.Errorf("record attempt: %w", err)
		}
	}
	return first
}

func (t teeRecorder) RecordResult(ctx context.Context, it *bid.Item) error {
	var first error
	for _, r := range t {
		if r == nil {
			continue
		}
		if err := r.RecordResult(ctx, it); err != nil && first == nil {
			first = fmt.Errorf("record result: %w", err)
		}
	}
	return first
}
