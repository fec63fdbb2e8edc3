package common

import (
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteErrorAppError(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, NotFound("markup not found"))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.JSONEq(t, `{"error":{"code":"NOT_FOUND","message":"markup not found"}}`, rr.Body.String())
}

func TestWriteErrorHidesInternalMessage(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, errors.New("pq: connection refused"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "connection refused")
}

func TestParseLimitOffset(t *testing.T) {
	cases := []struct {
		query         string
		limit, offset int
	}{
		{"", 50, 0},
		{"limit=25&offset=10", 25, 10},
		{"limit=0&offset=-3", 50, 0},
		{"limit=999", 50, 0},
		{"limit=abc", 50, 0},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/?"+tc.query, nil)
		limit, offset := ParseLimitOffset(req, 50, 200)
		require.Equal(t, tc.limit, limit, tc.query)
		require.Equal(t, tc.offset, offset, tc.query)
	}
}

func TestDecodeJSON(t *testing.T) {
	var body struct {
		BaseAmount *float64 `json:"baseAmount"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"baseAmount": 12.5}`))
	require.NoError(t, DecodeJSON(req, &body))
	require.NotNil(t, body.BaseAmount)
	require.Equal(t, 12.5, *body.BaseAmount)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"baseAmount": "12"}`))
	require.Error(t, DecodeJSON(req, &body))
}

func TestJSONUnencodableValue(t *testing.T) {
	rr := httptest.NewRecorder()
	JSON(rr, http.StatusOK, map[string]float64{"finalAmount": math.Inf(1)})
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.JSONEq(t, `{"error":{"code":"INTERNAL","message":"response could not be encoded"}}`, rr.Body.String())
}
