package synthesis

import (
	"math"
	"sort"
)

// Aggregate is the weighted re-aggregation of one group's records
type Aggregate struct {
	Records    int     `json:"records"`
	Population float64 `json:"population"`
	MeanValue  float64 `json:"mean_value"`
	Proportion float64 `json:"proportion"`
}

// AggregateRecords groups records by key and computes Σw, the weighted mean
// of value and the weighted mean of flag per group.
func AggregateRecords(records []Record) map[GroupKey]Aggregate {
	type acc struct {
		n         int
		w, wv, wf float64
	}
	sums := make(map[GroupKey]*acc)
	for _, r := range records {
		a, ok := sums[r.Key]
		if !ok {
			a = &acc{}
			sums[r.Key] = a
		}
		a.n++
		a.w += r.Weight
		a.wv += r.Weight * r.Value
		a.wf += r.Weight * float64(r.Flag)
	}

	out := make(map[GroupKey]Aggregate, len(sums))
	for k, a := range sums {
		agg := Aggregate{Records: a.n, Population: a.w}
		if a.w != 0 {
			agg.MeanValue = a.wv / a.w
			agg.Proportion = a.wf / a.w
		}
		out[k] = agg
	}
	return out
}

// VerifyOptions sets the tolerances of the verification pass
type VerifyOptions struct {
	PopulationRelTol float64 `json:"population_rel_tol" yaml:"population_rel_tol"`
	MeanRelTol       float64 `json:"mean_rel_tol" yaml:"mean_rel_tol"`
	ProportionAbsTol float64 `json:"proportion_abs_tol" yaml:"proportion_abs_tol"`
}

// StrictVerifyOptions checks freshly synthesized, unrounded records
func StrictVerifyOptions(tol ToleranceConfig) VerifyOptions {
	return VerifyOptions{
		PopulationRelTol: 1e-9,
		MeanRelTol:       1e-9,
		ProportionAbsTol: tol.ProportionTolerance,
	}
}

// StoredVerifyOptions checks records read back from a store, which may have
// been rounded on the way out.
func StoredVerifyOptions() VerifyOptions {
	return VerifyOptions{
		PopulationRelTol: 1e-4,
		MeanRelTol:       1e-3,
		ProportionAbsTol: 0.01,
	}
}

// GroupCheck is the verification outcome of a single group
type GroupCheck struct {
	Key          GroupKey     `json:"key"`
	Source       TargetSource `json:"source"`
	Target       TargetSpec   `json:"target"`
	Actual       Aggregate    `json:"actual"`
	PopulationOK bool         `json:"population_ok"`
	MeanOK       bool         `json:"mean_ok"`
	ProportionOK bool         `json:"proportion_ok"`
	Converged    bool         `json:"converged"`
	Missing      bool         `json:"missing,omitempty"`
}

// VerificationReport collects per-group checks in key order
type VerificationReport struct {
	Groups []GroupCheck `json:"groups"`
}

// Exact reports whether every population and mean check passed
func (vr *VerificationReport) Exact() bool {
	for _, g := range vr.Groups {
		if !g.PopulationOK || !g.MeanOK {
			return false
		}
	}
	return true
}

// Nonconverged lists groups whose proportion missed its tolerance
func (vr *VerificationReport) Nonconverged() []GroupKey {
	var keys []GroupKey
	for _, g := range vr.Groups {
		if !g.ProportionOK || !g.Converged {
			keys = append(keys, g.Key)
		}
	}
	return keys
}

// Failed lists groups with a failed exact check or no records
func (vr *VerificationReport) Failed() []GroupKey {
	var keys []GroupKey
	for _, g := range vr.Groups {
		if g.Missing || !g.PopulationOK || !g.MeanOK {
			keys = append(keys, g.Key)
		}
	}
	return keys
}

// Summary condenses the report into counts
func (vr *VerificationReport) Summary() VerificationSummary {
	s := VerificationSummary{Groups: len(vr.Groups), Exact: vr.Exact()}
	for _, g := range vr.Groups {
		if g.Missing {
			s.Missing++
		}
		if !g.PopulationOK || !g.MeanOK {
			s.ExactFailures++
		}
		if !g.ProportionOK || !g.Converged {
			s.Nonconverged++
		}
		if g.Source == SourceDefault {
			s.LowConfidence++
		}
	}
	return s
}

// VerificationSummary is the compact form of a report
type VerificationSummary struct {
	Groups        int  `json:"groups"`
	Exact         bool `json:"exact"`
	ExactFailures int  `json:"exact_failures"`
	Nonconverged  int  `json:"nonconverged"`
	Missing       int  `json:"missing"`
	LowConfidence int  `json:"low_confidence"`
}

// Verify re-aggregates records and compares each group against its target.
// converged, when non-nil, carries the calibrator's convergence flag per
// group; groups absent from it are judged on the proportion check alone.
func Verify(records []Record, targets map[GroupKey]TargetSpec, converged map[GroupKey]bool, opts VerifyOptions) *VerificationReport {
	actual := AggregateRecords(records)

	keys := make([]GroupKey, 0, len(targets))
	for k := range targets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	report := &VerificationReport{Groups: make([]GroupCheck, 0, len(keys))}
	for _, k := range keys {
		target := targets[k]
		check := GroupCheck{Key: k, Source: target.Source, Target: target}

		agg, ok := actual[k]
		if !ok {
			check.Missing = true
			report.Groups = append(report.Groups, check)
			continue
		}
		check.Actual = agg
		check.PopulationOK = withinRel(agg.Population, target.Population, opts.PopulationRelTol)
		check.MeanOK = withinRel(agg.MeanValue, target.MeanValue, opts.MeanRelTol)
		check.ProportionOK = math.Abs(agg.Proportion-target.Proportion) <= opts.ProportionAbsTol
		check.Converged = check.ProportionOK
		if c, ok := converged[k]; ok {
			check.Converged = c
		}
		report.Groups = append(report.Groups, check)
	}
	return report
}

func withinRel(actual, want, rel float64) bool {
	if want == 0 {
		return actual == 0
	}
	return math.Abs(actual-want) <= rel*math.Abs(want)
}
