package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeErrorBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	body, ok := payload["error"]
	require.True(t, ok, "response must wrap the error object")
	return body
}

func TestWriteErrorMapsAppError(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, NewInsufficientStock([]string{"p1", "p2"}))

	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	body := decodeErrorBody(t, rr)
	require.Equal(t, CodeInsufficientStock, body["code"])
	details := body["details"].(map[string]any)
	require.ElementsMatch(t, []any{"p1", "p2"}, details["productIds"])
}

func TestWriteErrorFallsBackToInternal(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, errors.New("boom"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decodeErrorBody(t, rr)
	require.Equal(t, "INTERNAL", body["code"])
	require.Equal(t, "boom", body["message"])
}

func TestWriteErrorUnwrapsWrappedAppError(t *testing.T) {
	rr := httptest.NewRecorder()
	wrapped := NewConcurrencyTimeout(errors.New("lock timeout"))
	WriteError(rr, wrapped)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, CodeConcurrencyTimeout, decodeErrorBody(t, rr)["code"])
}

func TestParsePagination(t *testing.T) {
	cases := []struct {
		name        string
		query       string
		wantPage    int
		wantPerPage int
	}{
		{"defaults", "", 1, 20},
		{"explicit", "page=3&limit=50", 3, 50},
		{"clamped", "page=2&limit=500", 2, 100},
		{"garbage", "page=abc&limit=-4", 1, 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/sales?"+tc.query, nil)
			page, perPage := ParsePagination(r, 20, 100)
			require.Equal(t, tc.wantPage, page)
			require.Equal(t, tc.wantPerPage, perPage)
		})
	}
}
