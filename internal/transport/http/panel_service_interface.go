package http

import (
	"context"

	"synthpanel/internal/services"
	"synthpanel/internal/synthesis"
)

// PanelServiceInterface defines the panel operations exposed over HTTP
type PanelServiceInterface interface {
	ResolveTarget(ctx context.Context, key synthesis.GroupKey) (synthesis.TargetSpec, error)
	Generate(ctx context.Context, req services.GenerateRequest) (*services.GenerateResult, *synthesis.Panel, error)
	VerifyStored(ctx context.Context, regions, periods []int) (*synthesis.VerificationReport, error)
}
