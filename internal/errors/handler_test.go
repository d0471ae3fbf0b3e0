package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthpanel/internal/shared/testutil"
	"synthpanel/internal/synthesis"
)

func TestErrorToProblem(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, false)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/panels", nil)

	type payload struct {
		Count int `validate:"min=1"`
	}
	fieldErr := validator.New().Struct(payload{})
	require.Error(t, fieldErr)

	key := synthesis.GroupKey{Region: 2, Period: 1999}
	badTarget := synthesis.TargetSpec{Population: -1, MeanValue: 1, Proportion: 0.5}.Validate()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"deadline", fmt.Errorf("build: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, TypeTimeout},
		{"canceled", context.Canceled, http.StatusGatewayTimeout, TypeTimeout},
		{"api error", ErrTooManyGroups, http.StatusRequestEntityTooLarge, TypePayloadTooLarge},
		{"validator", fieldErr, http.StatusBadRequest, TypeValidation},
		{"invalid target", fmt.Errorf("group %s: %w", key, badTarget), http.StatusUnprocessableEntity, TypeInvalidTarget},
		{"unresolved", fmt.Errorf("%w: %s", synthesis.ErrUnresolvedGroup, key), http.StatusNotFound, TypeUnresolvedGroup},
		{"degenerate", fmt.Errorf("rescale: %w", synthesis.ErrDegenerateInput), http.StatusUnprocessableEntity, TypeDegenerateInput},
		{"tolerance", synthesis.ToleranceConfig{}.Validate(), http.StatusBadRequest, TypeValidation},
		{"store not found", NewNotFoundError("period 2001"), http.StatusNotFound, TypeDataNotFound},
		{"store failure", NewStorageError("write failed", fmt.Errorf("disk full")), http.StatusInternalServerError, TypeStorage},
		{"parse failure", NewParsingError("bad row", nil), http.StatusUnprocessableEntity, TypeDataCorrupted},
		{"calibration", NewCalibrationError("panel not exact", nil), http.StatusUnprocessableEntity, TypeCalibration},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problem := h.ErrorToProblem(tt.err, req)
			assert.Equal(t, tt.wantStatus, problem.Status)
			assert.Equal(t, tt.wantType, problem.Type)
			assert.Equal(t, "/api/v1/panels", problem.Instance)
		})
	}
}

func TestErrorToProblemInvalidTargetField(t *testing.T) {
	h := NewErrorHandler(nil, false)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/targets/1/2000", nil)

	err := synthesis.TargetSpec{Population: 1, MeanValue: 1, Proportion: 2}.Validate()
	problem := h.ErrorToProblem(err, req)
	assert.Equal(t, "proportion", problem.Extensions["field"])
}

func TestHandleError(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/targets/9/1990", nil)
	rec := httptest.NewRecorder()
	h.HandleError(rec, req, fmt.Errorf("%w: region=9/period=1990", synthesis.ErrUnresolvedGroup))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, TypeUnresolvedGroup, body["type"])
	assert.Equal(t, float64(http.StatusNotFound), body["status"])
	assert.Contains(t, body, "trace_id")

	testutil.AssertLogContains(t, logs, slog.LevelWarn, "request failed")
	testutil.AssertLogAttr(t, logs, "status", int64(http.StatusNotFound))
}

func TestHandleErrorNil(t *testing.T) {
	h := NewErrorHandler(nil, false)
	rec := httptest.NewRecorder()
	h.HandleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	assert.Equal(t, 0, rec.Body.Len())
}

func TestMiddlewareRecoversPanic(t *testing.T) {
	h := NewErrorHandler(nil, true)
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})

	rec := httptest.NewRecorder()
	h.Middleware(panicking).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "kaboom", body["panic"])
	assert.Contains(t, body, "stack")
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	h := NewErrorHandler(nil, false)

	rec := httptest.NewRecorder()
	h.NotFound(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.MethodNotAllowed(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/panels", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), "DELETE")
}
