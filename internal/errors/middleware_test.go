package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareWithStructuredError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	HTTPErrorsTotal.Reset()

	handler := Middleware()(func(c echo.Context) error {
		return ValidationError("invalid input")
	})

	err := handler(c)
	require.NoError(t, err) // Middleware handles the error, doesn't return it

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid input", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)

	assert.Equal(t, 1.0, testutil.ToFloat64(HTTPErrorsTotal.WithLabelValues("validation")))
}

func TestMiddlewareWithStandardError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	HTTPErrorsTotal.Reset()

	handler := Middleware()(func(c echo.Context) error {
		return fmt.Errorf("standard error")
	})

	err := handler(c)
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "internal server error", resp.Error)
	assert.Equal(t, TypeInternal, resp.Type)

	assert.Equal(t, 1.0, testutil.ToFloat64(HTTPErrorsTotal.WithLabelValues("internal")))
}

func TestMiddlewareWithNoError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	HTTPErrorsTotal.Reset()

	handler := Middleware()(func(c echo.Context) error {
		return c.String(http.StatusOK, "success")
	})

	err := handler(c)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", rec.Body.String())
}

func TestMiddlewarePassesThroughEchoHTTPError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	HTTPErrorsTotal.Reset()

	handler := Middleware()(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "no such route")
	})

	err := handler(c)
	require.Error(t, err)

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(HTTPErrorsTotal.WithLabelValues("not_found")))
}

func TestMiddlewareAllErrorTypes(t *testing.T) {
	tests := []struct {
		name       string
		err        *Error
		wantStatus int
		wantType   ErrorType
	}{
		{
			name:       "validation",
			err:        ValidationError("invalid"),
			wantStatus: http.StatusBadRequest,
			wantType:   TypeValidation,
		},
		{
			name:       "unauthorized",
			err:        UnauthorizedError("no credentials"),
			wantStatus: http.StatusUnauthorized,
			wantType:   TypeUnauthorized,
		},
		{
			name:       "not_found",
			err:        NotFoundError("missing"),
			wantStatus: http.StatusNotFound,
			wantType:   TypeNotFound,
		},
		{
			name:       "rate_limited",
			err:        RateLimitedError("too many"),
			wantStatus: http.StatusTooManyRequests,
			wantType:   TypeRateLimited,
		},
		{
			name:       "internal",
			err:        InternalError("failed", fmt.Errorf("cause")),
			wantStatus: http.StatusInternalServerError,
			wantType:   TypeInternal,
		},
		{
			name:       "external",
			err:        ExternalError("redis failed", fmt.Errorf("timeout")),
			wantStatus: http.StatusBadGateway,
			wantType:   TypeExternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			HTTPErrorsTotal.Reset()

			handler := Middleware()(func(c echo.Context) error {
				return tt.err
			})

			err := handler(c)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantType, resp.Type)

			assert.Equal(t, 1.0, testutil.ToFloat64(HTTPErrorsTotal.WithLabelValues(string(tt.wantType))))
		})
	}
}

func TestWrapHTTPError(t *testing.T) {
	tests := []struct {
		name     string
		httpErr  *echo.HTTPError
		wantType ErrorType
	}{
		{"bad_request", echo.NewHTTPError(http.StatusBadRequest, "bad request"), TypeValidation},
		{"unauthorized", echo.NewHTTPError(http.StatusUnauthorized, "unauthorized"), TypeUnauthorized},
		{"forbidden", echo.NewHTTPError(http.StatusForbidden, "forbidden"), TypeUnauthorized},
		{"not_found", echo.NewHTTPError(http.StatusNotFound, "not found"), TypeNotFound},
		{"too_many_requests", echo.NewHTTPError(http.StatusTooManyRequests, "slow down"), TypeRateLimited},
		{"bad_gateway", echo.NewHTTPError(http.StatusBadGateway, "bad gateway"), TypeExternal},
		{"service_unavailable", echo.NewHTTPError(http.StatusServiceUnavailable, "unavailable"), TypeExternal},
		{"internal_server_error", echo.NewHTTPError(http.StatusInternalServerError, "internal error"), TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapHTTPError(tt.httpErr)
			assert.Equal(t, tt.wantType, err.Type)
		})
	}
}

func TestWrapHTTPErrorWithInternalCause(t *testing.T) {
	cause := fmt.Errorf("underlying cause")
	httpErr := echo.NewHTTPError(http.StatusInternalServerError, "wrapped")
	httpErr.Internal = cause

	err := WrapHTTPError(httpErr)

	assert.Equal(t, TypeInternal, err.Type)
	assert.Equal(t, cause, err.Cause)
}

func TestWrapHTTPErrorWithNonStringMessage(t *testing.T) {
	httpErr := echo.NewHTTPError(http.StatusBadRequest, 12345)

	err := WrapHTTPError(httpErr)

	assert.Equal(t, "internal server error", err.Message) // Fallback message
	assert.Equal(t, TypeValidation, err.Type)
}
