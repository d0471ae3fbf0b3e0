package synthesis

import (
	"fmt"
	"math"
	"sort"
)

// TargetTable holds the reference targets known for (region, period) keys
type TargetTable map[GroupKey]TargetSpec

// Lookup returns the target for key if present
func (tt TargetTable) Lookup(key GroupKey) (TargetSpec, bool) {
	spec, ok := tt[key]
	return spec, ok
}

// Periods returns the sorted periods known for region
func (tt TargetTable) Periods(region int) []int {
	var periods []int
	for k := range tt {
		if k.Region == region {
			periods = append(periods, k.Period)
		}
	}
	sort.Ints(periods)
	return periods
}

// Keys returns all keys ordered by period, then region
func (tt TargetTable) Keys() []GroupKey {
	keys := make([]GroupKey, 0, len(tt))
	for k := range tt {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// TargetResolver resolves the target aggregates for a group
type TargetResolver interface {
	Resolve(key GroupKey) (TargetSpec, error)
}

// Rule is one step of the resolver fallback chain
type Rule interface {
	Name() string
	Resolve(key GroupKey) (TargetSpec, bool)
}

// Resolver walks an ordered chain of rules; the first rule that matches wins.
// Resolution is pure, so resolving the same key twice yields the same spec.
type Resolver struct {
	rules []Rule
}

// NewResolver creates a resolver over the given rules, in priority order
func NewResolver(rules ...Rule) *Resolver {
	return &Resolver{rules: rules}
}

// ResolverOptions configures the standard rule chain
type ResolverOptions struct {
	Overrides      []Override
	Extrapolation  ExtrapolationConfig
	Default        TargetSpec
	DisableDefault bool
}

// DefaultResolverOptions returns the chain used by the survey generator
func DefaultResolverOptions() ResolverOptions {
	return ResolverOptions{
		Overrides:     DefaultOverrides(),
		Extrapolation: DefaultExtrapolationConfig(),
		Default:       DefaultTarget(),
	}
}

// NewStandardResolver builds the exact → override → extrapolation → default
// chain over table.
func NewStandardResolver(table TargetTable, opts ResolverOptions) *Resolver {
	rules := []Rule{
		ExactRule{Table: table},
		NewOverrideRule(opts.Overrides...),
		ExtrapolationRule{Table: table, Config: opts.Extrapolation},
	}
	if !opts.DisableDefault {
		rules = append(rules, DefaultRule{Target: opts.Default})
	}
	return NewResolver(rules...)
}

// Resolve returns the first match in the chain or ErrUnresolvedGroup
func (r *Resolver) Resolve(key GroupKey) (TargetSpec, error) {
	for _, rule := range r.rules {
		if spec, ok := rule.Resolve(key); ok {
			return spec, nil
		}
	}
	return TargetSpec{}, fmt.Errorf("%s: %w", key, ErrUnresolvedGroup)
}

// Rules returns the names of the configured rules in order
func (r *Resolver) Rules() []string {
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.Name()
	}
	return names
}

// ExactRule returns reference targets verbatim
type ExactRule struct {
	Table TargetTable
}

func (ExactRule) Name() string { return string(SourceExact) }

func (r ExactRule) Resolve(key GroupKey) (TargetSpec, bool) {
	spec, ok := r.Table.Lookup(key)
	if !ok {
		return TargetSpec{}, false
	}
	spec.Source = SourceExact
	return spec, true
}

// Trend is a floored linear function of the period offset
type Trend struct {
	Base  float64 `json:"base" yaml:"base"`
	Drift float64 `json:"drift" yaml:"drift"`
	Floor float64 `json:"floor" yaml:"floor"`
}

// At evaluates the trend at offset periods from its base
func (t Trend) At(offset int) float64 {
	return math.Max(t.Floor, t.Base+float64(offset)*t.Drift)
}

// Override replaces the targets of a region with a closed-form formula
type Override struct {
	Region     int     `json:"region" yaml:"region"`
	BasePeriod int     `json:"base_period" yaml:"base_period"`
	Population Trend   `json:"population" yaml:"population"`
	Mean       Trend   `json:"mean" yaml:"mean"`
	Proportion float64 `json:"proportion" yaml:"proportion"`
}

// Target evaluates the override at period
func (o Override) Target(period int) TargetSpec {
	offset := period - o.BasePeriod
	return TargetSpec{
		Population: o.Population.At(offset),
		MeanValue:  o.Mean.At(offset),
		Proportion: o.Proportion,
		Source:     SourceOverride,
	}
}

// DefaultOverrides returns the override table of the survey generator:
// region 51 is a small, fully urban district whose reference figures are
// replaced by a linear trend.
func DefaultOverrides() []Override {
	return []Override{
		{
			Region:     51,
			BasePeriod: 2000,
			Population: Trend{Base: 580000, Drift: 5000, Floor: 550000},
			Mean:       Trend{Base: 52000, Drift: 800, Floor: 48000},
			Proportion: 0.98,
		},
	}
}

// OverrideRule applies per-region overrides
type OverrideRule struct {
	byRegion map[int]Override
}

// NewOverrideRule indexes overrides by region; later entries win
func NewOverrideRule(overrides ...Override) OverrideRule {
	byRegion := make(map[int]Override, len(overrides))
	for _, o := range overrides {
		byRegion[o.Region] = o
	}
	return OverrideRule{byRegion: byRegion}
}

func (OverrideRule) Name() string { return string(SourceOverride) }

func (r OverrideRule) Resolve(key GroupKey) (TargetSpec, bool) {
	o, ok := r.byRegion[key.Region]
	if !ok {
		return TargetSpec{}, false
	}
	return o.Target(key.Period), true
}

// ExtrapolationConfig controls backward extrapolation from an anchor period
type ExtrapolationConfig struct {
	// AnchorPeriod is t0. Zero means the earliest known period of the region.
	AnchorPeriod    int     `json:"anchor_period" yaml:"anchor_period"`
	GrowthSpan      int     `json:"growth_span" yaml:"growth_span"`
	ProportionStep  float64 `json:"proportion_step" yaml:"proportion_step"`
	ProportionLower float64 `json:"proportion_lower" yaml:"proportion_lower"`
	ProportionUpper float64 `json:"proportion_upper" yaml:"proportion_upper"`
}

// DefaultExtrapolationConfig anchors at 2000 with growth measured to 2002
func DefaultExtrapolationConfig() ExtrapolationConfig {
	return ExtrapolationConfig{
		AnchorPeriod:    2000,
		GrowthSpan:      2,
		ProportionStep:  0.003,
		ProportionLower: 0.1,
		ProportionUpper: 0.95,
	}
}

// ExtrapolationRule fills periods before the anchor by running the observed
// geometric growth backward. Population and mean are extrapolated
// independently; the proportion moves linearly and is clamped.
type ExtrapolationRule struct {
	Table  TargetTable
	Config ExtrapolationConfig
}

func (ExtrapolationRule) Name() string { return string(SourceExtrapolated) }

func (r ExtrapolationRule) Resolve(key GroupKey) (TargetSpec, bool) {
	t0 := r.Config.AnchorPeriod
	if t0 == 0 {
		periods := r.Table.Periods(key.Region)
		if len(periods) == 0 {
			return TargetSpec{}, false
		}
		t0 = periods[0]
	}
	if key.Period >= t0 {
		return TargetSpec{}, false
	}

	anchor, ok := r.Table.Lookup(GroupKey{Region: key.Region, Period: t0})
	if !ok {
		return TargetSpec{}, false
	}

	span := r.Config.GrowthSpan
	if span <= 0 {
		span = 1
	}
	gPop, gMean := 1.0, 1.0
	if later, ok := r.Table.Lookup(GroupKey{Region: key.Region, Period: t0 + span}); ok {
		gPop = growthRate(anchor.Population, later.Population, span)
		gMean = growthRate(anchor.MeanValue, later.MeanValue, span)
	}

	distance := t0 - key.Period
	p := anchor.Proportion - float64(distance)*r.Config.ProportionStep
	p = math.Min(r.Config.ProportionUpper, math.Max(r.Config.ProportionLower, p))

	return TargetSpec{
		Population: anchor.Population / math.Pow(gPop, float64(distance)),
		MeanValue:  anchor.MeanValue / math.Pow(gMean, float64(distance)),
		Proportion: p,
		Source:     SourceExtrapolated,
	}, true
}

// growthRate returns the per-period geometric growth from a to b over span
// periods, or 1 when it is undefined.
func growthRate(a, b float64, span int) float64 {
	if a <= 0 || b <= 0 || !isFinite(a) || !isFinite(b) {
		return 1
	}
	return math.Pow(b/a, 1/float64(span))
}

// DefaultTarget returns the constant fallback target
func DefaultTarget() TargetSpec {
	return TargetSpec{
		Population: 2000000,
		MeanValue:  40000,
		Proportion: 0.5,
		Source:     SourceDefault,
	}
}

// DefaultRule matches every key with a constant, low-confidence target
type DefaultRule struct {
	Target TargetSpec
}

func (DefaultRule) Name() string { return string(SourceDefault) }

func (r DefaultRule) Resolve(GroupKey) (TargetSpec, bool) {
	spec := r.Target
	spec.Source = SourceDefault
	return spec, true
}
