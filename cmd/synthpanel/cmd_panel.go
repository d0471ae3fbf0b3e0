package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"synthpanel/internal/app"
	"synthpanel/internal/services"
	"synthpanel/internal/synthesis"
)

// errVerificationFailed makes the process exit non-zero after the report
// has been printed
var errVerificationFailed = errors.New("verification failed")

type generateFlags struct {
	regions string
	periods string
	n       int
	seed    uint64
	workers int
	dirty   bool
	dryRun  bool
}

func (c *cli) newGenerateCmd() *cobra.Command {
	var f generateFlags
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Resolve, synthesize, verify and persist a panel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			regions, err := parseRanges(f.regions)
			if err != nil {
				return fmt.Errorf("--regions: %w", err)
			}
			periods, err := parseRanges(f.periods)
			if err != nil {
				return fmt.Errorf("--periods: %w", err)
			}

			req := services.GenerateRequest{
				Regions:         regions,
				Periods:         periods,
				RecordsPerGroup: f.n,
				Workers:         f.workers,
				Persist:         !f.dryRun,
			}
			if cmd.Flags().Changed("seed") {
				req.Seed = &f.seed
			}
			if cmd.Flags().Changed("dirty") {
				req.DirtyValues = &f.dirty
			}

			return c.withApp(func(a *app.Application) error {
				result, _, err := a.PanelService.Generate(cmd.Context(), req)
				if result != nil {
					printGenerateResult(cmd.OutOrStdout(), result)
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&f.regions, "regions", "1-51", "regions to synthesize, e.g. 1-51,53")
	cmd.Flags().StringVar(&f.periods, "periods", "1995-2015", "periods to synthesize, e.g. 1995-2015")
	cmd.Flags().IntVar(&f.n, "n", 0, "records per group (default from config)")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "run seed (default from config)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "concurrent group builds (default GOMAXPROCS)")
	cmd.Flags().BoolVar(&f.dirty, "dirty", false, "write values as currency strings such as \"$45,230\"")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "build and verify without writing to the store")
	return cmd
}

func printGenerateResult(w io.Writer, r *services.GenerateResult) {
	fmt.Fprintf(w, "run %s (seed %d)\n", r.RunID, r.Seed)
	fmt.Fprintf(w, "groups: %d  records: %d\n", r.Groups, r.Records)
	printSummary(w, r.Summary)
	for _, k := range r.Skipped {
		fmt.Fprintf(w, "skipped: %s\n", k)
	}
	for _, k := range r.Nonconverged {
		fmt.Fprintf(w, "proportion not converged: %s\n", k)
	}
	if len(r.Persisted) > 0 {
		fmt.Fprintf(w, "persisted periods: %d (%d-%d)\n", len(r.Persisted), r.Persisted[0], r.Persisted[len(r.Persisted)-1])
	}
}

func printSummary(w io.Writer, s synthesis.VerificationSummary) {
	fmt.Fprintf(w, "exact: %t  exact failures: %d  nonconverged: %d  missing: %d  low confidence: %d\n",
		s.Exact, s.ExactFailures, s.Nonconverged, s.Missing, s.LowConfidence)
}

func (c *cli) newVerifyCmd() *cobra.Command {
	var regionSpec, periodSpec string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Reload persisted periods and verify them against the targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var regions, periods []int
			var err error
			if regionSpec != "" {
				if regions, err = parseRanges(regionSpec); err != nil {
					return fmt.Errorf("--regions: %w", err)
				}
			}
			if periodSpec != "" {
				if periods, err = parseRanges(periodSpec); err != nil {
					return fmt.Errorf("--periods: %w", err)
				}
			}

			return c.withApp(func(a *app.Application) error {
				report, err := a.PanelService.VerifyStored(cmd.Context(), regions, periods)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				for _, g := range report.Groups {
					switch {
					case g.Missing:
						fmt.Fprintf(out, "%s: missing\n", g.Key)
					case !g.PopulationOK || !g.MeanOK || !g.ProportionOK:
						fmt.Fprintf(out, "%s: population %.1f/%.1f mean %.2f/%.2f proportion %.4f/%.4f\n",
							g.Key,
							g.Actual.Population, g.Target.Population,
							g.Actual.MeanValue, g.Target.MeanValue,
							g.Actual.Proportion, g.Target.Proportion)
					}
				}
				summary := report.Summary()
				printSummary(out, summary)
				if !summary.Exact || summary.Missing > 0 {
					return errVerificationFailed
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&regionSpec, "regions", "", "regions to check (default every stored region)")
	cmd.Flags().StringVar(&periodSpec, "periods", "", "periods to check (default every stored period)")
	return cmd
}

func (c *cli) newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve REGION PERIOD",
		Short: "Print the target resolved for one group and the rule that produced it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			region, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid region %q", args[0])
			}
			period, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid period %q", args[1])
			}

			return c.withApp(func(a *app.Application) error {
				key := synthesis.GroupKey{Region: region, Period: period}
				spec, err := a.PanelService.ResolveTarget(cmd.Context(), key)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "group:      %s\n", key)
				fmt.Fprintf(out, "rule:       %s\n", spec.Source)
				fmt.Fprintf(out, "population: %.0f\n", spec.Population)
				fmt.Fprintf(out, "mean value: %s\n", synthesis.FormatCurrency(spec.MeanValue))
				fmt.Fprintf(out, "proportion: %.4f\n", spec.Proportion)
				if spec.LowConfidence() {
					fmt.Fprintln(out, "warning:    low confidence (default target)")
				}
				return nil
			})
		},
	}
}
