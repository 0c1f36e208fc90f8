package main

import (
	"context"
	"errors"
	"time"

	"jan-server/tools/model-updater/internal/domain/bulkupdate"
	"jan-server/tools/model-updater/internal/domain/model"
	"jan-server/tools/model-updater/internal/infrastructure/metrics"
	"jan-server/tools/model-updater/internal/infrastructure/observability"
	"jan-server/tools/model-updater/internal/interfaces/report"
	"jan-server/tools/model-updater/internal/utils/platformerrors"

	"github.com/spf13/cobra"
)

type updateFlags struct {
	from           string
	to             string
	all            bool
	concurrency    int
	sequential     bool
	dryRun         bool
	summaryFormat  string
	updateMethod   string
	noFillRequired bool
	pushgatewayURL string
}

func newUpdateCmd(a *app) *cobra.Command {
	f := &updateFlags{}
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Point derived models at a new base model",
		Long: `Lists every model, selects those whose base_model_id equals --from (or all
derived models with --all) and rewrites base_model_id to --to.

Exit status is 0 when every write succeeded, 2 when some writes failed and 1
when the run could not start or was aborted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.apply(cmd, a)
			return a.runUpdate(cmd)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.from, "from", "", "Deprecated base model ID")
	flags.StringVar(&f.to, "to", "", "Replacement base model ID")
	flags.BoolVar(&f.all, "all", false, "Update every derived model regardless of its current base model")
	flags.IntVarP(&f.concurrency, "concurrency", "c", bulkupdate.DefaultConcurrency, "Maximum concurrent writes")
	flags.IntVar(&f.concurrency, "workers", bulkupdate.DefaultConcurrency, "Alias for --concurrency")
	flags.BoolVar(&f.sequential, "sequential", false, "Write one model at a time in listing order")
	flags.BoolVar(&f.sequential, "no-batch", false, "Alias for --sequential")
	flags.BoolVar(&f.dryRun, "dry-run", false, "Print intended changes without writing")
	flags.StringVar(&f.summaryFormat, "summary-format", "text", "Summary format: text, json, yaml")
	flags.StringVar(&f.updateMethod, "update-method", "POST", "HTTP method for updates: POST, PUT, PATCH")
	flags.BoolVar(&f.noFillRequired, "no-fill-required", false, "Send records as listed without filling name, meta and params")
	flags.StringVar(&f.pushgatewayURL, "pushgateway", "", "Prometheus Pushgateway URL for run metrics")
	_ = flags.MarkHidden("no-batch")
	_ = flags.MarkHidden("workers")
	return cmd
}

// apply copies explicitly set flags over the loaded configuration.
func (f *updateFlags) apply(cmd *cobra.Command, a *app) {
	cfg := a.cfg
	flags := cmd.Flags()
	if flags.Changed("from") {
		cfg.SourceModel = f.from
	}
	if flags.Changed("to") {
		cfg.TargetModel = f.to
	}
	if flags.Changed("all") {
		cfg.MatchAll = f.all
	}
	if flags.Changed("concurrency") || flags.Changed("workers") {
		cfg.Concurrency = f.concurrency
	}
	if flags.Changed("sequential") || flags.Changed("no-batch") {
		cfg.Sequential = f.sequential
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = f.dryRun
	}
	if flags.Changed("summary-format") {
		cfg.SummaryFormat = f.summaryFormat
	}
	if flags.Changed("update-method") {
		cfg.UpdateMethod = f.updateMethod
	}
	if flags.Changed("no-fill-required") {
		cfg.FillRequired = !f.noFillRequired
	}
	if flags.Changed("pushgateway") {
		cfg.PushgatewayURL = f.pushgatewayURL
	}
}

func (a *app) runUpdate(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg := a.cfg
	if err := cfg.ValidateUpdate(); err != nil {
		return configError(ctx, err)
	}

	rule, err := model.NewRule(cfg.SourceModel, cfg.TargetModel, cfg.MatchAll, cfg.FillRequired)
	if err != nil {
		return configError(ctx, err)
	}

	client, err := a.newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	shutdown, err := observability.Setup(ctx, observability.Config{
		ServiceName:  "model-updater",
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPHeaders:  cfg.OTLPHeaders,
	}, a.log)
	if err != nil {
		return configError(ctx, err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			a.log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	mode := bulkupdate.ModeParallel
	if cfg.Sequential {
		mode = bulkupdate.ModeSequential
	}
	recorder := metrics.NewRecorder()
	dispatcher := bulkupdate.NewDispatcher(observability.NewTracedService(client), rule, bulkupdate.Options{
		Mode:        mode,
		Concurrency: cfg.Concurrency,
		DryRun:      cfg.DryRun,
		PlanOutput:  a.stdout,
		Observer:    recorder,
	}, a.log)

	runCtx, span := observability.StartSpan(ctx, "model_updater.run")
	summary, runErr := dispatcher.Run(runCtx)
	observability.RecordError(runCtx, runErr)
	span.End()
	recorder.Finish(time.Now())

	if summary != nil {
		if err := recorder.Push(ctx, cfg.PushgatewayURL, summary.RunID); err != nil {
			a.log.Warn().Err(err).Str("pushgateway", cfg.PushgatewayURL).Msg("Failed to push run metrics")
		}
		if err := report.WriteSummary(a.stdout, summary, report.Format(cfg.SummaryFormat)); err != nil {
			return err
		}
	}

	if runErr != nil {
		var platformErr *platformerrors.PlatformError
		if errors.As(runErr, &platformErr) {
			platformerrors.LogError(a.log, platformErr)
		}
		return runErr
	}
	if summary.HasFailures() {
		return errPartialFailure
	}
	return nil
}
