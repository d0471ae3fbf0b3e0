// Package services implements the use cases shared by the HTTP API and
// the CLI.
//
// PanelService owns the resolver chain built from the stored target table
// and drives the synthesis pipeline:
//
//	svc := services.NewPanelService(cfg, st, dir, metrics, logger)
//	if err := svc.LoadTargets(ctx); err != nil {
//	    return err
//	}
//	result, panel, err := svc.Generate(ctx, services.GenerateRequest{
//	    Regions: []int{1, 2, 6},
//	    Periods: []int{1999, 2000},
//	    Persist: true,
//	})
//
// Every build gets a run ID that is attached to the context, so all log
// records of one run can be correlated. VerifyStored re-reads persisted
// periods and checks them with the looser tolerances that survive dirty
// formatting and weight rounding.
//
// HealthService backs the liveness and readiness endpoints.
package services
