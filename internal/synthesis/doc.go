// Package synthesis generates weighted synthetic microdata that reproduces
// externally given aggregates for every group of a region-by-period panel.
//
// Each group is described by a TargetSpec: a population total (the sum of
// unit weights), a weighted mean of a continuous value, and a weighted
// proportion of a binary flag. The records produced for a group match the
// first two exactly and the third to within a configurable tolerance.
//
// # Components
//
//   - resolver.go: TargetResolver and the rule chain (exact, override,
//     backward extrapolation, default) that turns a GroupKey into targets
//   - calibrate.go: exact sum and weighted-mean rescaling, iterative
//     proportion calibration by random single-unit flips
//   - synthesizer.go: parametric draws for one group, calibrated field by field
//   - panel.go: Builder, which resolves, synthesizes groups concurrently and
//     verifies the concatenated panel
//   - verify.go: re-aggregation and per-group checks against the targets
//   - rng.go: per-group deterministic random streams
//   - format.go: currency rendering used by stores that write "dirty" values
//
// # Determinism
//
// Every group draws from its own Stream, derived from the run seed and the
// group key. A panel is therefore identical for the same keys, targets,
// records-per-group and seed, whatever the worker count.
//
// # Usage
//
//	resolver := synthesis.NewStandardResolver(table, synthesis.DefaultResolverOptions())
//	builder := synthesis.NewBuilder(synthesis.NewSynthesizer(synthesis.DefaultDrawParams(), logger), logger)
//
//	panel, report, err := builder.Build(ctx, keys, resolver, synthesis.BuildOptions{
//	    NPerGroup: 200,
//	    Tolerance: synthesis.DefaultTolerance(),
//	    Seed:      14033,
//	})
//	if err != nil {
//	    return err
//	}
//	if !report.Exact() {
//	    return fmt.Errorf("panel failed verification: %v", report.Failed())
//	}
//
// # Proportion calibration
//
// Matching a weighted proportion exactly is a subset-sum problem, so the
// flip calibrator is approximate by contract. When it cannot reach the
// tolerance within MaxIterations (or no eligible unit remains) it keeps the
// best assignment seen and reports Converged=false with the residual. This
// is never an error; callers decide whether to accept it.
package synthesis
