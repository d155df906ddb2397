package freshservice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListAssetsQueryAndAuth(t *testing.T) {
	var gotQuery map[string]string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/assets", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotQuery = map[string]string{
			"per_page": r.URL.Query().Get("per_page"),
			"page":     r.URL.Query().Get("page"),
			"filter":   r.URL.Query().Get("filter"),
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"assets": []map[string]any{
			{"id": 7, "name": "Latitude", "asset_tag": "OLD", "serial_number": "ABC1234", "asset_type_id": 12, "description": nil},
		}})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	assets, err := c.ListAssets(context.Background(), ListOptions{Page: 2, Filter: "asset_type_id:12"})
	require.NoError(t, err)
	require.Len(t, assets, 1)
	require.Equal(t, int64(7), assets[0].ID)
	require.Equal(t, "ABC1234", assets[0].SerialNumber)
	require.Equal(t, int64(12), assets[0].CategoryID)
	require.Equal(t, "", assets[0].Description)

	require.Equal(t, "100", gotQuery["per_page"])
	require.Equal(t, "2", gotQuery["page"])
	require.Equal(t, `"asset_type_id:12"`, gotQuery["filter"])
	require.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("secret:X")), gotAuth)
}

func TestListAssetsStatusIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "k").ListAssets(context.Background(), ListOptions{Page: 1})
	var te *TransportError
	require.True(t, errors.As(err, &te))
	require.Equal(t, http.StatusTooManyRequests, te.StatusCode)
	require.Equal(t, "/api/v2/assets", te.Path)
}

func TestListAssetsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, "k")
	c.Timeout = 20 * time.Millisecond
	_, err := c.ListAssets(context.Background(), ListOptions{Page: 1})
	var te *TransportError
	require.True(t, errors.As(err, &te))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUpdateAsset(t *testing.T) {
	var got AssetUpdate
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/api/v2/assets/42", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"asset":{"id":42}}`))
	}))
	defer srv.Close()

	err := New(srv.URL, "k").UpdateAsset(context.Background(), 42, AssetUpdate{AssetTag: "ABC1234", Description: "Service Tag: ABC1234"})
	require.NoError(t, err)
	require.Equal(t, "ABC1234", got.AssetTag)
	require.Equal(t, "Service Tag: ABC1234", got.Description)
}

func TestUpdateAssetRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"description":"Validation failed","errors":[{"field":"asset_tag"}]}`))
	}))
	defer srv.Close()

	err := New(srv.URL, "k").UpdateAsset(context.Background(), 9, AssetUpdate{AssetTag: "X"})
	var ue *UpdateError
	require.True(t, errors.As(err, &ue))
	require.Equal(t, int64(9), ue.AssetID)
	require.Equal(t, "Validation failed", ue.Error())
}

func TestUpdateAssetNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := New(url, "k").UpdateAsset(context.Background(), 1, AssetUpdate{AssetTag: "X"})
	var te *TransportError
	require.True(t, errors.As(err, &te))
	var ue *UpdateError
	require.False(t, errors.As(err, &ue))
}
