package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "synthpanel/internal/errors"
	"synthpanel/internal/services"
	"synthpanel/internal/shared/testutil"
	"synthpanel/internal/synthesis"
)

// MockPanelService is a mock implementation of PanelServiceInterface
type MockPanelService struct {
	mock.Mock
}

func (m *MockPanelService) ResolveTarget(ctx context.Context, key synthesis.GroupKey) (synthesis.TargetSpec, error) {
	args := m.Called(key)
	return args.Get(0).(synthesis.TargetSpec), args.Error(1)
}

func (m *MockPanelService) Generate(ctx context.Context, req services.GenerateRequest) (*services.GenerateResult, *synthesis.Panel, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*services.GenerateResult), args.Get(1).(*synthesis.Panel), args.Error(2)
}

func (m *MockPanelService) VerifyStored(ctx context.Context, regions, periods []int) (*synthesis.VerificationReport, error) {
	args := m.Called(regions, periods)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*synthesis.VerificationReport), args.Error(1)
}

func newTestHandler(t *testing.T, svc *MockPanelService, limits PanelLimits) http.Handler {
	logger, _ := testutil.NewTestLogger(t)
	h := NewPanelHandler(svc, limits, logger, apperrors.NewErrorHandler(logger, false))
	return h.Routes()
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestPanelHandler_GetTarget(t *testing.T) {
	key := synthesis.GroupKey{Region: 6, Period: 1999}
	spec := synthesis.TargetSpec{Population: 909090.9, MeanValue: 47619, Proportion: 0.5, Source: synthesis.SourceExtrapolated}

	tests := []struct {
		name           string
		path           string
		setupMock      func(*MockPanelService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "resolved",
			path: "/targets/6/1999",
			setupMock: func(m *MockPanelService) {
				m.On("ResolveTarget", key).Return(spec, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"source":"extrapolated"`,
		},
		{
			name: "unresolved",
			path: "/targets/6/1999",
			setupMock: func(m *MockPanelService) {
				m.On("ResolveTarget", key).Return(synthesis.TargetSpec{}, fmt.Errorf("%w: %s", synthesis.ErrUnresolvedGroup, key))
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   apperrors.TypeUnresolvedGroup,
		},
		{
			name:           "bad region",
			path:           "/targets/abc/1999",
			setupMock:      func(m *MockPanelService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"region"`,
		},
		{
			name:           "bad period",
			path:           "/targets/6/x",
			setupMock:      func(m *MockPanelService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"period"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockPanelService)
			tt.setupMock(svc)

			rec := doRequest(newTestHandler(t, svc, PanelLimits{}), http.MethodGet, tt.path, "")
			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expectedBody)
			svc.AssertExpectations(t)
		})
	}
}

func TestPanelHandler_GeneratePanel(t *testing.T) {
	seed := uint64(42)
	dirty := true
	wantReq := services.GenerateRequest{
		Regions:         []int{1, 2},
		Periods:         []int{2000},
		RecordsPerGroup: 50,
		Seed:            &seed,
		Persist:         true,
		DirtyValues:     &dirty,
	}
	result := &services.GenerateResult{
		RunID:   "run-1",
		Seed:    seed,
		Groups:  2,
		Records: 100,
		Summary: synthesis.VerificationSummary{Groups: 2, Exact: true},
	}

	tests := []struct {
		name           string
		body           string
		limits         PanelLimits
		setupMock      func(*MockPanelService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "created",
			body:   `{"regions":[1,2],"periods":[2000],"n":50,"seed":42,"persist":true,"dirty_values":true}`,
			limits: PanelLimits{MaxGroups: 10, MaxRecordsPerGroup: 50},
			setupMock: func(m *MockPanelService) {
				m.On("Generate", wantReq).Return(result, &synthesis.Panel{}, nil)
			},
			expectedStatus: http.StatusCreated,
			expectedBody:   `"run_id":"run-1"`,
		},
		{
			name:           "missing periods",
			body:           `{"regions":[1]}`,
			setupMock:      func(m *MockPanelService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   apperrors.TypeValidation,
		},
		{
			name:           "negative n",
			body:           `{"regions":[1],"periods":[2000],"n":-1}`,
			setupMock:      func(m *MockPanelService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"N"`,
		},
		{
			name:           "malformed json",
			body:           `{"regions":[1`,
			setupMock:      func(m *MockPanelService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "INVALID_REQUEST",
		},
		{
			name:           "too many groups",
			body:           `{"regions":[1,2,3],"periods":[2000,2001]}`,
			limits:         PanelLimits{MaxGroups: 5},
			setupMock:      func(m *MockPanelService) {},
			expectedStatus: http.StatusRequestEntityTooLarge,
			expectedBody:   `"max_groups":5`,
		},
		{
			name:           "too many records per group",
			body:           `{"regions":[1],"periods":[2000],"n":2000000000}`,
			limits:         PanelLimits{MaxGroups: 10, MaxRecordsPerGroup: 100000},
			setupMock:      func(m *MockPanelService) {},
			expectedStatus: http.StatusRequestEntityTooLarge,
			expectedBody:   `"max_records_per_group":100000`,
		},
		{
			name: "invalid resolved target",
			body: `{"regions":[1],"periods":[2000]}`,
			setupMock: func(m *MockPanelService) {
				err := synthesis.TargetSpec{Population: 1, MeanValue: -1, Proportion: 0.5}.Validate()
				m.On("Generate", mock.Anything).Return(nil, nil, fmt.Errorf("resolve: %w", err))
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `"field":"mean_value"`,
		},
		{
			name: "storage failure",
			body: `{"regions":[1],"periods":[2000],"persist":true}`,
			setupMock: func(m *MockPanelService) {
				m.On("Generate", mock.Anything).Return(nil, nil, apperrors.NewStorageError("failed to create file", fmt.Errorf("read-only")))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   apperrors.TypeStorage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockPanelService)
			tt.setupMock(svc)

			rec := doRequest(newTestHandler(t, svc, tt.limits), http.MethodPost, "/panels", tt.body)
			assert.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), tt.expectedBody)
			svc.AssertExpectations(t)
		})
	}
}

func TestPanelHandler_VerifyPanel(t *testing.T) {
	key := synthesis.GroupKey{Region: 1, Period: 2000}
	report := &synthesis.VerificationReport{Groups: []synthesis.GroupCheck{
		{Key: key, PopulationOK: true, MeanOK: true, ProportionOK: true, Converged: true},
	}}

	svc := new(MockPanelService)
	svc.On("VerifyStored", []int{1}, []int{2000}).Return(report, nil)
	h := newTestHandler(t, svc, PanelLimits{})

	rec := doRequest(h, http.MethodPost, "/panels/verify", `{"regions":[1],"periods":[2000]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	summary := body["summary"].(map[string]interface{})
	assert.Equal(t, true, summary["exact"])
	assert.Equal(t, float64(1), summary["groups"])

	rec = doRequest(h, http.MethodPost, "/panels/verify", `{"regions":[1]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertExpectations(t)
}

func TestPanelHandler_VerifyMissingPeriod(t *testing.T) {
	svc := new(MockPanelService)
	svc.On("VerifyStored", []int(nil), []int{1990}).
		Return(nil, apperrors.NewNotFoundError("survey_1990.csv"))

	rec := doRequest(newTestHandler(t, svc, PanelLimits{}), http.MethodPost, "/panels/verify", `{"periods":[1990]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}
