package servicetagsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecuteJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v0/jobs/execute", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "dell_asset_sync", body["name"])
		w.Write([]byte(`{"success":true,"updatedAssets":3,"totalAssets":5}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	res, err := c.ExecuteJob(context.Background(), "dell_asset_sync")
	require.NoError(t, err)
	require.Equal(t, JobResult{Success: true, UpdatedAssets: 3, TotalAssets: 5}, res)
}

func TestAPIErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"already_running","message":"sync already running"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).ExecuteJob(context.Background(), "dell_asset_sync")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, "already_running", apiErr.Code)
}

func TestActivityAndClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/activity":
			require.Equal(t, "2", r.URL.Query().Get("limit"))
			w.Write([]byte(`{"items":[{"timestamp":"2024-01-01T00:00:00Z","message":"Dell Asset Sync: 1/2 assets updated"}]}`))
		case "/v0/serials/ABC1234":
			w.Write([]byte(`{"input":"ABC1234","normalized":"ABC1234","vendor_format":true,"express_code":false}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	items, err := c.Activity(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Dell Asset Sync: 1/2 assets updated", items[0].Message)

	cls, err := c.Classify(context.Background(), "ABC1234")
	require.NoError(t, err)
	require.True(t, cls.Match)
}
