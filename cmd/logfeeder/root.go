package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/felixnotka/logfeeder/pkg/checkpoint"
	"github.com/felixnotka/logfeeder/pkg/config"
	"github.com/felixnotka/logfeeder/pkg/feed"
	"github.com/felixnotka/logfeeder/pkg/metrics"
	"github.com/felixnotka/logfeeder/pkg/ratelimit"
	"github.com/felixnotka/logfeeder/pkg/runlock"
	"github.com/felixnotka/logfeeder/pkg/runner"
)

type options struct {
	configPath   string
	instanceName string
	hiddenTag    string
	stateless    bool
	noOutput     bool
	verbosity    int
	window       runner.WindowOptions
}

// execute builds the command tree (one subcommand per linked-in feeder
// module) and runs it. The returned code is the process exit status.
func execute(ctx context.Context) (int, error) {
	opts := &options{}
	exitCode := 0

	root := &cobra.Command{
		Use:           "logfeeder <feeder>",
		Short:         "Incrementally ship security logs from vendor APIs to queues and search indices",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "configs/logfeeder_config.yaml", "path to the main configuration file")
	pf.StringVarP(&opts.instanceName, "instance-name", "i", "", "instance name stamped into records; defaults to the configured domain")
	pf.StringVarP(&opts.window.StartTime, "start-time", "s", "", "ingest events at or after this RFC 3339 time (UTC)")
	pf.StringVarP(&opts.window.EndTime, "end-time", "e", "", "ingest events at or before this RFC 3339 time (UTC)")
	pf.IntVarP(&opts.window.RelativeStartMin, "relative-start", "S", 0, "ingest events from this many minutes before now")
	pf.IntVarP(&opts.window.RelativeEndMin, "relative-end", "E", 0, "ingest events up to this many minutes before now")
	pf.StringVarP(&opts.hiddenTag, "hidden-tag", "H", "", "tag appended to checkpoint and lock file names so parallel instances do not collide")
	pf.BoolVar(&opts.stateless, "stateless", false, "run without the lock file and without reading or writing checkpoints")
	pf.BoolVar(&opts.noOutput, "no-output", false, "write records to stdout instead of the configured sinks")
	pf.IntVarP(&opts.verbosity, "verbosity", "v", 0, "log verbosity; higher prints more")

	for _, name := range feed.SourceNames() {
		name := name
		root.AddCommand(&cobra.Command{
			Use:   name,
			Short: "Run the " + name + " feeder",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				outcome, err := runFeeder(cmd.Context(), name, opts)
				exitCode = outcome.ExitCode()
				return err
			},
		})
	}

	if err := root.ExecuteContext(ctx); err != nil {
		return 1, err
	}
	return exitCode, nil
}

// runFeeder runs one cycle per enabled sub-API and aggregates their
// outcomes into the process result.
func runFeeder(ctx context.Context, feederName string, opts *options) (runner.Outcome, error) {
	log, flush, err := newLogger(opts.verbosity)
	if err != nil {
		return runner.Fatal, err
	}
	defer flush()
	log = log.WithName("logfeeder")

	mainCfg, feederFiles, err := config.LoadMain(opts.configPath)
	if err != nil {
		return runner.Fatal, err
	}
	feederFile, ok := feederFiles[feederName]
	if !ok {
		return runner.Fatal, fmt.Errorf("feeder %s has no section in %s", feederName, opts.configPath)
	}
	feederCfg, err := config.LoadFeeder(feederFile)
	if err != nil {
		return runner.Fatal, err
	}

	window, err := opts.window.Resolve(time.Now().UTC())
	if err != nil {
		return runner.Fatal, err
	}

	instance := opts.instanceName
	if instance == "" {
		instance = mainCfg.Domain
	}

	limiter := ratelimit.New(
		feederCfg.RateLimiterNumCallsPerTimeunit,
		time.Duration(feederCfg.RateLimiterNumSecondsPerTimeunit)*time.Second,
	)
	checkpoints := &checkpoint.Store{Dir: mainCfg.LastTimestampDir}
	locks := &runlock.Store{Dir: mainCfg.LocksDir}

	var firstErr error
	worst := runner.Success
	for _, subAPI := range feederCfg.EnabledSubAPIs(feederName) {
		id := feed.Identity{
			Feeder:  feederName,
			SubAPI:  subAPI,
			Account: mainCfg.Domain,
			Tag:     opts.hiddenTag,
		}
		env := &feed.Env{
			Main:     mainCfg,
			Feeder:   feederCfg,
			Identity: id,
			Log:      log,
		}

		outcome, err := runOne(ctx, env, subAPI, instance, window, limiter, checkpoints, locks, opts)
		worst = runner.Worst(worst, outcome)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if err != nil {
			log.Error(err, "sub-API run failed", "subApi", subAPI)
		}
	}

	if mainCfg.PushgatewayURL != "" {
		if err := metrics.Push(mainCfg.PushgatewayURL, "logfeeder", feederName+"_"+instance); err != nil {
			log.Error(err, "failed to push run metrics")
		}
	}

	if worst == runner.Fatal {
		return worst, firstErr
	}
	return worst, nil
}

func runOne(
	ctx context.Context,
	env *feed.Env,
	subAPI, instance string,
	window runner.Window,
	limiter *ratelimit.Limiter,
	checkpoints *checkpoint.Store,
	locks *runlock.Store,
	opts *options,
) (runner.Outcome, error) {
	source, err := feed.BuildSource(ctx, env.Identity.Feeder, env, subAPI)
	if err != nil {
		return runner.Fatal, err
	}

	var sinks []feed.Sink
	if !opts.noOutput {
		names := env.Feeder.Sinks
		if len(names) == 0 {
			names = []string{"sqs"}
		}
		for _, name := range names {
			sink, err := feed.BuildSink(ctx, name, env)
			if err != nil {
				return runner.Fatal, err
			}
			sinks = append(sinks, sink)
		}
	}

	cycle := &runner.Cycle{
		Identity:    env.Identity,
		Instance:    instance,
		Source:      source,
		Sinks:       sinks,
		Checkpoints: checkpoints,
		Locks:       locks,
		Limiter:     limiter,
		Window:      window,
		Lookback:    time.Duration(env.Feeder.DefaultLookbackMinutes) * time.Minute,
		Stateless:   opts.stateless,
		NoOutput:    opts.noOutput,
		Out:         os.Stdout,
		Log:         env.Log,
	}
	return cycle.Run(ctx)
}

func newLogger(verbosity int) (logr.Logger, func(), error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity))
	zl, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, nil, fmt.Errorf("building logger: %w", err)
	}
	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}
