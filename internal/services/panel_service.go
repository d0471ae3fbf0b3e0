package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"synthpanel/internal/config"
	apperrors "synthpanel/internal/errors"
	"synthpanel/internal/infrastructure"
	"synthpanel/internal/store"
	"synthpanel/internal/synthesis"
)

// GenerateRequest selects the groups of a panel build. Zero values fall
// back to the configured synthesis settings.
type GenerateRequest struct {
	Regions         []int
	Periods         []int
	RecordsPerGroup int
	Seed            *uint64
	Workers         int
	Persist         bool
	DirtyValues     *bool
}

// GenerateResult describes a finished build
type GenerateResult struct {
	RunID        string                        `json:"run_id"`
	Seed         uint64                        `json:"seed"`
	Groups       int                           `json:"groups"`
	Records      int                           `json:"records"`
	Skipped      []synthesis.GroupKey          `json:"skipped,omitempty"`
	Nonconverged []synthesis.GroupKey          `json:"nonconverged,omitempty"`
	Summary      synthesis.VerificationSummary `json:"summary"`
	Persisted    []int                         `json:"persisted_periods,omitempty"`
	Duration     time.Duration                 `json:"duration_ns"`
}

// PanelService resolves, builds, persists and verifies panels
type PanelService struct {
	cfg      *config.Config
	store    store.TableStore
	storeDir string
	builder  *synthesis.Builder
	metrics  *infrastructure.Metrics
	logger   *slog.Logger

	mu       sync.RWMutex
	targets  synthesis.TargetTable
	resolver *synthesis.Resolver
}

// NewPanelService wires the synthesis pipeline to a store. storeDir is
// where transient stores (per-request formatting) are opened.
func NewPanelService(cfg *config.Config, st store.TableStore, storeDir string, metrics *infrastructure.Metrics, logger *slog.Logger) *PanelService {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("service", "panel"))

	var recorderOpts []synthesis.BuilderOption
	if metrics != nil {
		recorderOpts = append(recorderOpts, synthesis.WithRecorder(metrics))
	}
	synth := synthesis.NewSynthesizer(cfg.Synthesis.Draw, logger)

	return &PanelService{
		cfg:      cfg,
		store:    st,
		storeDir: storeDir,
		builder:  synthesis.NewBuilder(synth, logger, recorderOpts...),
		metrics:  metrics,
		logger:   logger,
	}
}

// LoadTargets (re)reads the target table from the store and rebuilds the
// resolver chain
func (s *PanelService) LoadTargets(ctx context.Context) error {
	table, err := s.store.LoadTargets(ctx)
	if err != nil {
		return fmt.Errorf("load targets: %w", err)
	}
	s.SetTargets(table)
	return nil
}

// SetTargets installs table as the reference targets
func (s *PanelService) SetTargets(table synthesis.TargetTable) {
	resolver := synthesis.NewStandardResolver(table, s.cfg.Resolver.Options())

	s.mu.Lock()
	s.targets = table
	s.resolver = resolver
	s.mu.Unlock()

	s.logger.Info("targets installed",
		slog.Int("groups", len(table)),
		slog.Int("rules", len(resolver.Rules())))
}

// ImportTargets persists table to the store and installs it
func (s *PanelService) ImportTargets(ctx context.Context, table synthesis.TargetTable) error {
	if err := s.store.SaveTargets(ctx, table); err != nil {
		return fmt.Errorf("save targets: %w", err)
	}
	s.SetTargets(table)
	return nil
}

// TargetCount returns the number of reference targets loaded
func (s *PanelService) TargetCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.targets)
}

func (s *PanelService) currentResolver() (*synthesis.Resolver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.resolver == nil {
		return nil, ErrTargetsNotLoaded
	}
	return s.resolver, nil
}

// ResolveTarget returns the target the resolver chain yields for key
func (s *PanelService) ResolveTarget(ctx context.Context, key synthesis.GroupKey) (synthesis.TargetSpec, error) {
	resolver, err := s.currentResolver()
	if err != nil {
		return synthesis.TargetSpec{}, err
	}
	spec, err := resolver.Resolve(key)
	if err != nil {
		return synthesis.TargetSpec{}, err
	}
	s.logger.DebugContext(ctx, "target resolved",
		slog.String("group", key.String()),
		slog.String("source", string(spec.Source)))
	return spec, nil
}

// Keys expands regions x periods ordered by period, then region
func Keys(regions, periods []int) []synthesis.GroupKey {
	keys := make([]synthesis.GroupKey, 0, len(regions)*len(periods))
	for _, p := range dedupe(periods) {
		for _, r := range dedupe(regions) {
			keys = append(keys, synthesis.GroupKey{Region: r, Period: p})
		}
	}
	return keys
}

func dedupe(values []int) []int {
	out := append([]int(nil), values...)
	sort.Ints(out)
	n := 0
	for i, v := range out {
		if i == 0 || v != out[n-1] {
			out[n] = v
			n++
		}
	}
	return out[:n]
}

// Generate builds the panel for the requested groups and, when asked,
// writes every period to the store
func (s *PanelService) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, *synthesis.Panel, error) {
	if len(req.Regions) == 0 || len(req.Periods) == 0 {
		return nil, nil, ErrEmptySelection
	}
	resolver, err := s.currentResolver()
	if err != nil {
		return nil, nil, err
	}

	runID := infrastructure.GenerateRunID()
	ctx = infrastructure.WithRunID(ctx, runID)
	start := time.Now()

	opts := s.buildOptions(req)
	keys := Keys(req.Regions, req.Periods)

	panel, report, err := s.builder.Build(ctx, keys, resolver, opts)
	if err != nil {
		s.observePanel("failed")
		return nil, nil, err
	}

	summary := report.Summary()
	result := &GenerateResult{
		RunID:        runID,
		Seed:         opts.Seed,
		Groups:       len(panel.Groups),
		Records:      len(panel.Records()),
		Skipped:      panel.Skipped,
		Nonconverged: report.Nonconverged(),
		Summary:      summary,
	}

	if !summary.Exact {
		s.observePanel("inexact")
		return result, panel, apperrors.NewCalibrationError("panel failed exact verification", nil).
			WithContext("failed_groups", report.Failed())
	}

	if req.Persist {
		persisted, err := s.persist(ctx, panel, req.DirtyValues)
		if err != nil {
			s.observePanel("failed")
			return result, panel, err
		}
		result.Persisted = persisted
	}

	outcome := "exact"
	if summary.Nonconverged > 0 {
		outcome = "approximate"
	}
	s.observePanel(outcome)
	result.Duration = time.Since(start)

	s.logger.InfoContext(ctx, "panel generated",
		slog.Int("groups", result.Groups),
		slog.Int("records", result.Records),
		slog.Int("persisted_periods", len(result.Persisted)),
		slog.Duration("duration", result.Duration))
	return result, panel, nil
}

func (s *PanelService) buildOptions(req GenerateRequest) synthesis.BuildOptions {
	sc := s.cfg.Synthesis
	opts := synthesis.BuildOptions{
		NPerGroup:      sc.RecordsPerGroup,
		Tolerance:      sc.Tolerance(),
		Seed:           sc.Seed,
		Workers:        sc.Workers,
		SkipUnresolved: sc.SkipUnresolved,
	}
	if req.RecordsPerGroup != 0 {
		opts.NPerGroup = req.RecordsPerGroup
	}
	if req.Seed != nil {
		opts.Seed = *req.Seed
	}
	if req.Workers > 0 {
		opts.Workers = req.Workers
	}
	return opts
}

func (s *PanelService) persist(ctx context.Context, panel *synthesis.Panel, dirty *bool) ([]int, error) {
	target := s.store
	if dirty != nil && *dirty != s.cfg.Store.DirtyValues {
		cfg := s.cfg.Store
		cfg.DirtyValues = *dirty
		transient, err := store.Open(cfg, s.storeDir, s.logger)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		defer transient.Close()
		target = transient
	}

	byPeriod := panel.ByPeriod()
	periods := panel.Periods()
	for _, period := range periods {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records := byPeriod[period]
		if err := target.SavePeriod(ctx, period, records); err != nil {
			return nil, fmt.Errorf("save period %d: %w", period, err)
		}
		if s.metrics != nil {
			s.metrics.ObserveRecordsWritten(len(records))
		}
	}
	return periods, nil
}

// VerifyStored reloads persisted periods and checks them against the
// resolved targets with the persisted-data tolerances. An empty region
// list checks every region found in the stored periods; an empty period
// list checks every stored period.
func (s *PanelService) VerifyStored(ctx context.Context, regions, periods []int) (*synthesis.VerificationReport, error) {
	resolver, err := s.currentResolver()
	if err != nil {
		return nil, err
	}
	if len(periods) == 0 {
		if periods, err = s.store.Periods(ctx); err != nil {
			return nil, fmt.Errorf("list stored periods: %w", err)
		}
		if len(periods) == 0 {
			return nil, apperrors.NewNotFoundError("stored periods")
		}
	}

	wanted := make(map[int]bool, len(regions))
	for _, r := range regions {
		wanted[r] = true
	}

	var records []synthesis.Record
	targets := make(map[synthesis.GroupKey]synthesis.TargetSpec)
	for _, period := range dedupe(periods) {
		loaded, err := s.store.LoadPeriod(ctx, period)
		if err != nil {
			return nil, fmt.Errorf("load period %d: %w", period, err)
		}
		for _, rec := range loaded {
			if len(wanted) > 0 && !wanted[rec.Key.Region] {
				continue
			}
			records = append(records, rec)
			if err := resolveInto(targets, resolver, rec.Key); err != nil {
				return nil, err
			}
		}
		// requested regions without stored rows surface as missing groups
		for r := range wanted {
			if err := resolveInto(targets, resolver, synthesis.GroupKey{Region: r, Period: period}); err != nil {
				return nil, err
			}
		}
	}

	report := synthesis.Verify(records, targets, nil, synthesis.StoredVerifyOptions())
	summary := report.Summary()
	level := slog.LevelInfo
	if !summary.Exact || summary.Missing > 0 {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "stored panel verified",
		slog.Int("groups", summary.Groups),
		slog.Bool("exact", summary.Exact),
		slog.Int("missing", summary.Missing),
		slog.Int("nonconverged", summary.Nonconverged))
	return report, nil
}

func resolveInto(targets map[synthesis.GroupKey]synthesis.TargetSpec, resolver synthesis.TargetResolver, key synthesis.GroupKey) error {
	if _, ok := targets[key]; ok {
		return nil
	}
	spec, err := resolver.Resolve(key)
	if err != nil {
		return err
	}
	targets[key] = spec
	return nil
}

func (s *PanelService) observePanel(outcome string) {
	if s.metrics != nil {
		s.metrics.ObservePanel(outcome)
	}
}
