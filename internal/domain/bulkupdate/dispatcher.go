package bulkupdate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"jan-server/tools/model-updater/internal/domain/model"
	"jan-server/tools/model-updater/internal/utils/platformerrors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Mode selects how plans are submitted.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"

	DefaultConcurrency = 5
)

// ModelService is the remote side of a run.
type ModelService interface {
	ListModels(ctx context.Context) ([]model.Record, error)
	UpdateModel(ctx context.Context, id string, payload map[string]any) error
}

// Observer receives run events, e.g. to feed metrics.
type Observer interface {
	RecordDecision(decision string)
	RecordWrite(err error, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) RecordDecision(string)            {}
func (nopObserver) RecordWrite(error, time.Duration) {}

// Options tunes a Dispatcher.
type Options struct {
	Mode        Mode
	Concurrency int
	DryRun      bool
	// PlanOutput receives one line per intended change in dry-run mode.
	PlanOutput io.Writer
	Observer   Observer
}

// Dispatcher lists records, applies the rule and writes the resulting plans back.
type Dispatcher struct {
	service ModelService
	rule    model.Rule
	opts    Options
	log     zerolog.Logger
}

// NewDispatcher fills option defaults. Concurrency below 1 falls back to DefaultConcurrency.
func NewDispatcher(service ModelService, rule model.Rule, opts Options, log zerolog.Logger) *Dispatcher {
	if opts.Mode == "" {
		opts.Mode = ModeParallel
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.PlanOutput == nil {
		opts.PlanOutput = io.Discard
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Dispatcher{
		service: service,
		rule:    rule,
		opts:    opts,
		log:     log.With().Str("component", "bulk-dispatcher").Logger(),
	}
}

// Run executes one bulk update. A listing failure returns a nil summary. An
// auth failure during writes stops dispatching and returns the partial
// summary marked as aborted together with the error. Per-item failures are
// only reported in the summary.
func (d *Dispatcher) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()
	runID := uuid.NewString()
	ctx = context.WithValue(ctx, platformerrors.RunIDKey{}, runID)
	log := d.log.With().Str("run_id", runID).Logger()

	log.Info().
		Str("from", d.rule.From).
		Str("to", d.rule.To).
		Bool("match_all", d.rule.MatchAll).
		Str("mode", string(d.opts.Mode)).
		Bool("dry_run", d.opts.DryRun).
		Msg("Starting model update run")

	records, err := d.service.ListModels(ctx)
	if err != nil {
		var platformErr *platformerrors.PlatformError
		if errors.As(err, &platformErr) {
			return nil, err
		}
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "list models")
	}
	if len(records) == 0 {
		log.Warn().Msg("No models found in the API response")
	}

	summary := &Summary{
		RunID:      runID,
		DryRun:     d.opts.DryRun,
		Mode:       d.opts.Mode,
		Considered: len(records),
		Succeeded:  []string{},
		Failed:     []Failure{},
	}

	plans := d.plan(records, summary, log)
	log.Info().
		Int("considered", summary.Considered).
		Int("planned", len(plans)).
		Int("skipped", summary.Skipped).
		Msg("Evaluated update rule")

	var runErr error
	switch {
	case d.opts.DryRun:
		d.printPlans(plans)
		summary.Planned = plans
	case d.opts.Mode == ModeSequential:
		runErr = d.runSequential(ctx, plans, summary, log)
	default:
		runErr = d.runParallel(ctx, plans, summary, log)
	}

	summary.Duration = time.Since(started)
	if runErr != nil {
		summary.Aborted = true
		log.Error().Err(runErr).Int("attempted", summary.Attempted()).Int("planned", len(plans)).Msg("Run aborted")
		return summary, runErr
	}

	log.Info().
		Int("succeeded", len(summary.Succeeded)).
		Int("failed", len(summary.Failed)).
		Dur("duration", summary.Duration).
		Msg("Model update run completed")
	return summary, nil
}

// plan applies the rule in listing order. Records without an id and repeated
// ids are skipped so that every id is written at most once.
func (d *Dispatcher) plan(records []model.Record, summary *Summary, log zerolog.Logger) []model.UpdatePlan {
	seen := make(map[string]struct{}, len(records))
	plans := make([]model.UpdatePlan, 0, len(records))

	for _, rec := range records {
		if rec.ID == "" {
			log.Warn().Str("name", rec.Name).Msg("Skipping model with missing ID")
			d.skip(summary)
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			log.Warn().Str("model_id", rec.ID).Msg("Skipping duplicate model ID in listing")
			d.skip(summary)
			continue
		}
		seen[rec.ID] = struct{}{}

		plan, ok := d.rule.Decide(rec)
		if !ok {
			ref, _ := rec.BaseModelID()
			log.Debug().Str("model_id", rec.ID).Str("base_model_id", ref).Msg("Model does not match rule")
			d.skip(summary)
			continue
		}
		d.opts.Observer.RecordDecision("planned")
		plans = append(plans, *plan)
	}
	return plans
}

func (d *Dispatcher) skip(summary *Summary) {
	summary.Skipped++
	d.opts.Observer.RecordDecision("skipped")
}

func (d *Dispatcher) printPlans(plans []model.UpdatePlan) {
	for _, p := range plans {
		fmt.Fprintf(d.opts.PlanOutput, "would update %s\n", p)
	}
}

func (d *Dispatcher) runSequential(ctx context.Context, plans []model.UpdatePlan, summary *Summary, log zerolog.Logger) error {
	outcomes := make([]Outcome, 0, len(plans))
	defer func() { summary.apply(outcomes) }()

	for i, p := range plans {
		o := d.write(ctx, i, p, log)
		outcomes = append(outcomes, o)
		if platformerrors.IsFatal(o.Err) {
			return o.Err
		}
	}
	return nil
}

func (d *Dispatcher) runParallel(ctx context.Context, plans []model.UpdatePlan, summary *Summary, log zerolog.Logger) error {
	log.Info().Int("workers", d.opts.Concurrency).Msg("Using parallel processing")

	sink := &outcomeSink{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)

	for i, p := range plans {
		// A fatal error in any worker cancels gctx; stop handing out work
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// Go may have blocked on a full pool while another worker failed
			if gctx.Err() != nil {
				return nil
			}
			// Writes use the parent ctx so an abort lets in-flight requests finish
			o := d.write(ctx, i, p, log)
			sink.add(o)
			if platformerrors.IsFatal(o.Err) {
				return o.Err
			}
			return nil
		})
	}

	err := g.Wait()
	summary.apply(sink.drain())
	return err
}

func (d *Dispatcher) write(ctx context.Context, index int, p model.UpdatePlan, log zerolog.Logger) Outcome {
	start := time.Now()
	err := d.service.UpdateModel(ctx, p.ID, p.Payload)
	elapsed := time.Since(start)
	d.opts.Observer.RecordWrite(err, elapsed)

	if err != nil {
		log.Error().
			Str("model_id", p.ID).
			Str("name", p.Name).
			Str("error_type", platformerrors.Kind(err)).
			Err(err).
			Dur("latency", elapsed).
			Msg("Failed to update model")
		return Outcome{Index: index, ID: p.ID, Err: err}
	}

	log.Info().
		Str("model_id", p.ID).
		Str("name", p.Name).
		Str("from", p.From).
		Str("to", p.To).
		Dur("latency", elapsed).
		Msg("Updated model")
	return Outcome{Index: index, ID: p.ID}
}
