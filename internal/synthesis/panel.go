package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "synthpanel/synthesis"

// Recorder receives per-group outcomes, typically for metrics
type Recorder interface {
	ObserveGroup(source TargetSource, result ProportionResult, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveGroup(TargetSource, ProportionResult, time.Duration) {}

// BuildOptions configures a panel build
type BuildOptions struct {
	NPerGroup      int
	Tolerance      ToleranceConfig
	Seed           uint64
	Workers        int
	SkipUnresolved bool
}

// Validate checks the build options
func (o BuildOptions) Validate() error {
	if o.NPerGroup <= 0 {
		return &ValidationError{Field: "n_per_group", Message: "records per group must be positive", Value: o.NPerGroup, cause: ErrInvalidTarget}
	}
	return o.Tolerance.Validate()
}

// Panel is the concatenation of all synthesized groups
type Panel struct {
	Groups  []GroupResult
	Skipped []GroupKey
}

// Records flattens the panel in group order
func (p *Panel) Records() []Record {
	var total int
	for _, g := range p.Groups {
		total += len(g.Records)
	}
	out := make([]Record, 0, total)
	for _, g := range p.Groups {
		out = append(out, g.Records...)
	}
	return out
}

// Targets returns the resolved target of every synthesized group
func (p *Panel) Targets() map[GroupKey]TargetSpec {
	out := make(map[GroupKey]TargetSpec, len(p.Groups))
	for _, g := range p.Groups {
		out[g.Key] = g.Target
	}
	return out
}

// ByPeriod splits the records into one slice per period, each sorted by region
func (p *Panel) ByPeriod() map[int][]Record {
	out := make(map[int][]Record)
	for _, g := range p.Groups {
		out[g.Key.Period] = append(out[g.Key.Period], g.Records...)
	}
	for period := range out {
		recs := out[period]
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].Key.Region < recs[j].Key.Region })
	}
	return out
}

// Periods returns the sorted periods present in the panel
func (p *Panel) Periods() []int {
	seen := make(map[int]struct{})
	var periods []int
	for _, g := range p.Groups {
		if _, ok := seen[g.Key.Period]; !ok {
			seen[g.Key.Period] = struct{}{}
			periods = append(periods, g.Key.Period)
		}
	}
	sort.Ints(periods)
	return periods
}

// Builder resolves, synthesizes and verifies a whole panel
type Builder struct {
	synth    *Synthesizer
	logger   *slog.Logger
	recorder Recorder
	tracer   trace.Tracer
}

// BuilderOption customizes a Builder
type BuilderOption func(*Builder)

// WithRecorder attaches a metrics recorder
func WithRecorder(r Recorder) BuilderOption {
	return func(b *Builder) {
		if r != nil {
			b.recorder = r
		}
	}
}

// NewBuilder creates a panel builder
func NewBuilder(synth *Synthesizer, logger *slog.Logger, opts ...BuilderOption) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Builder{
		synth:    synth,
		logger:   logger.With(slog.String("component", "panel_builder")),
		recorder: nopRecorder{},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build resolves every key, synthesizes each group on its own stream and
// runs the verification pass over the flattened panel. Groups are returned
// in keys order whatever the worker count.
func (b *Builder) Build(ctx context.Context, keys []GroupKey, resolver TargetResolver, opts BuildOptions) (*Panel, *VerificationReport, error) {
	if err := opts.Validate(); err != nil {
		return nil, nil, fmt.Errorf("build options: %w", err)
	}
	keys = uniqueKeys(keys)

	ctx, span := b.tracer.Start(ctx, "panel.build", trace.WithAttributes(
		attribute.Int("groups", len(keys)),
		attribute.Int("n_per_group", opts.NPerGroup),
		attribute.Int64("seed", int64(opts.Seed)),
	))
	defer span.End()

	start := time.Now()
	b.logger.InfoContext(ctx, "building panel",
		slog.Int("groups", len(keys)),
		slog.Int("n_per_group", opts.NPerGroup),
		slog.Uint64("seed", opts.Seed))

	// Resolve everything up front so an unresolved group fails the build
	// before any synthesis work starts.
	type job struct {
		key    GroupKey
		target TargetSpec
	}
	panel := &Panel{}
	jobs := make([]job, 0, len(keys))
	for _, key := range keys {
		target, err := resolver.Resolve(key)
		if err != nil {
			if opts.SkipUnresolved && errors.Is(err, ErrUnresolvedGroup) {
				b.logger.WarnContext(ctx, "skipping unresolved group", slog.String("group", key.String()))
				panel.Skipped = append(panel.Skipped, key)
				continue
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "resolve failed")
			return nil, nil, fmt.Errorf("resolve %s: %w", key, err)
		}
		jobs = append(jobs, job{key: key, target: target})
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]GroupResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, j := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := b.synthesizeGroup(gctx, j.key, j.target, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	panel.Groups = results

	converged := make(map[GroupKey]bool, len(results))
	for _, r := range results {
		converged[r.Key] = r.Proportion.Converged
	}
	report := Verify(panel.Records(), panel.Targets(), converged, StrictVerifyOptions(opts.Tolerance))
	summary := report.Summary()

	span.SetAttributes(
		attribute.Bool("exact", summary.Exact),
		attribute.Int("nonconverged", summary.Nonconverged),
	)

	level := slog.LevelInfo
	if !summary.Exact {
		level = slog.LevelError
	}
	b.logger.Log(ctx, level, "panel built",
		slog.Int("groups", len(results)),
		slog.Int("skipped", len(panel.Skipped)),
		slog.Bool("exact", summary.Exact),
		slog.Int("nonconverged", summary.Nonconverged),
		slog.Int("low_confidence", summary.LowConfidence),
		slog.Duration("duration", time.Since(start)))

	return panel, report, nil
}

func (b *Builder) synthesizeGroup(ctx context.Context, key GroupKey, target TargetSpec, opts BuildOptions) (GroupResult, error) {
	ctx, span := b.tracer.Start(ctx, "panel.group", trace.WithAttributes(
		attribute.Int("region", key.Region),
		attribute.Int("period", key.Period),
		attribute.String("source", string(target.Source)),
	))
	defer span.End()

	start := time.Now()
	stream := NewStream(opts.Seed, key)
	res, err := b.synth.Synthesize(ctx, key, target, opts.NPerGroup, opts.Tolerance, stream)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	span.SetAttributes(
		attribute.Bool("converged", res.Proportion.Converged),
		attribute.Float64("residual", res.Proportion.Residual),
	)
	b.recorder.ObserveGroup(target.Source, res.Proportion, time.Since(start))
	return res, nil
}

// uniqueKeys drops repeated keys, keeping the first occurrence of each
func uniqueKeys(keys []GroupKey) []GroupKey {
	seen := make(map[GroupKey]struct{}, len(keys))
	out := make([]GroupKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
