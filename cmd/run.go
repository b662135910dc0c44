package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/syscore/internal/cachemanager"
	"github.com/zjrosen/syscore/internal/config"
	"github.com/zjrosen/syscore/internal/eventbus"
	"github.com/zjrosen/syscore/internal/log"
	"github.com/zjrosen/syscore/internal/manifest"
	"github.com/zjrosen/syscore/internal/registry"
	"github.com/zjrosen/syscore/internal/scheduler"
	"github.com/zjrosen/syscore/internal/systems"
	"github.com/zjrosen/syscore/internal/tracing"
	"github.com/zjrosen/syscore/internal/watcher"
)

var (
	runWatch  bool
	runRepeat int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the demo graph or a manifest graph",
	Long: `Run every unit once, starting each unit only after the units it depends
on have finished. One line is printed per unit as it finishes, followed by
the run total.

A unit may request shutdown; no further units start and the command exits
successfully. A unit failure or an invalid graph exits with status 1.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("manifest", "m", "", "graph manifest file (default: built-in demo graph)")
	runCmd.Flags().Duration("max-delay", 0, "upper bound of the demo units' simulated latency")
	runCmd.Flags().Int("workers", 0, "maximum concurrent units (0 = one per unit)")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "re-run whenever the manifest changes")
	runCmd.Flags().IntVarP(&runRepeat, "repeat", "n", 1, "number of consecutive runs")

	_ = viper.BindPFlag("scheduler.manifest", runCmd.Flags().Lookup("manifest"))
	_ = viper.BindPFlag("scheduler.max_delay", runCmd.Flags().Lookup("max-delay"))
	_ = viper.BindPFlag("scheduler.max_workers", runCmd.Flags().Lookup("workers"))
}

func runRun(cmd *cobra.Command, _ []string) error {
	if runRepeat < 1 {
		return fmt.Errorf("--repeat must be >= 1, got %d", runRepeat)
	}
	if runWatch && cfg.Scheduler.Manifest == "" {
		return fmt.Errorf("--watch requires a manifest")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := tracing.NewProvider(tracingConfig(cfg.Tracing))
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.ErrorErr(log.CatTrace, "tracing shutdown failed", err)
		}
	}()

	r := &runner{
		out:      systems.SyncWriter(cmd.OutOrStdout()),
		sched:    cfg.Scheduler,
		provider: provider,
		graphs: cachemanager.NewInMemoryCacheManager[string, *scheduler.Graph](
			"graphs", cfg.Scheduler.GraphCacheTTL, cachemanager.DefaultCleanupInterval),
	}

	if runWatch {
		return r.watch(ctx, cfg.Watch.Debounce)
	}

	reg, err := r.load()
	if err != nil {
		return err
	}
	for i := 0; i < runRepeat; i++ {
		if err := r.once(ctx, reg); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func tracingConfig(tc config.TracingConfig) tracing.Config {
	out := tracing.DefaultConfig()
	out.Enabled = tc.Enabled
	out.Exporter = tc.Exporter
	out.FilePath = tc.FilePath
	if out.FilePath == "" {
		out.FilePath = config.DefaultTracesFilePath()
	}
	out.OTLPEndpoint = tc.OTLPEndpoint
	out.SampleRate = tc.SampleRate
	return out
}

// runner executes graphs for the run command. The compiled-graph cache is
// shared across runs so repeated runs of an unchanged registry skip
// compilation.
type runner struct {
	out      io.Writer
	sched    config.SchedulerConfig
	provider *tracing.Provider
	graphs   cachemanager.CacheManager[string, *scheduler.Graph]
}

func (r *runner) unitOptions() systems.Options {
	return systems.Options{MaxDelay: r.sched.MaxDelay, Out: r.out}
}

// load builds the registry from the manifest, or the demo graph when none
// is configured.
func (r *runner) load() (*registry.Registry, error) {
	if r.sched.Manifest == "" {
		reg := registry.New()
		if err := systems.RegisterDefaults(reg, r.unitOptions()); err != nil {
			return nil, err
		}
		return reg, nil
	}

	m, reg, err := manifest.LoadInto(r.sched.Manifest, r.unitOptions())
	if err != nil {
		return nil, err
	}
	if m.Name != "" {
		fmt.Fprintln(r.out, styleHeader.Render("manifest "+m.Name))
	}
	return reg, nil
}

// once runs reg on a fresh bus. A shutdown requested by a unit is a normal
// end of the run.
func (r *runner) once(ctx context.Context, reg *registry.Registry) error {
	s, err := scheduler.New(
		scheduler.Config{MaxWorkers: r.sched.MaxWorkers, GraphCacheTTL: r.sched.GraphCacheTTL},
		scheduler.WithBus(eventbus.New()),
		scheduler.WithTracer(r.provider.Tracer()),
		scheduler.WithGraphCache(r.graphs),
		scheduler.WithObserver(func(rec scheduler.UnitRecord) {
			fmt.Fprintln(r.out, renderUnit(rec))
		}),
	)
	if err != nil {
		return err
	}

	report, err := s.Run(ctx, reg)
	if report != nil {
		fmt.Fprint(r.out, renderSummary(report))
	}
	if errors.Is(err, scheduler.ErrShutdownRequested) && !errors.Is(err, scheduler.ErrUnitFailed) {
		return nil
	}
	return err
}

// watch runs the manifest now and again after every change until ctx ends.
// Errors from individual runs are reported and watching continues.
func (r *runner) watch(ctx context.Context, debounce time.Duration) error {
	wcfg := watcher.DefaultConfig(r.sched.Manifest)
	if debounce > 0 {
		wcfg.DebounceDur = debounce
	}
	w, err := watcher.New(wcfg)
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	changes, err := w.Start()
	if err != nil {
		return err
	}

	r.reload(ctx)
	fmt.Fprintln(r.out, styleMuted.Render("watching "+r.sched.Manifest+" for changes (ctrl+c to stop)"))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			log.Info(log.CatWatcher, "manifest changed, re-running", "path", r.sched.Manifest)
			r.reload(ctx)
		}
	}
}

func (r *runner) reload(ctx context.Context) {
	reg, err := r.load()
	if err == nil {
		err = r.once(ctx, reg)
	}
	if err != nil && ctx.Err() == nil {
		fmt.Fprintln(r.out, styleFailed.Render("error: "+err.Error()))
	}
}
