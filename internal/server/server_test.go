package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"servicetag/internal/app"
	"servicetag/internal/config"
	"servicetag/internal/domain"
	"servicetag/internal/fetch"
	"servicetag/internal/serial"
	"servicetag/internal/trigger"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func fakeFreshservice() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v2/assets":
			json.NewEncoder(w).Encode(map[string]any{"assets": []map[string]any{
				{"id": 10, "name": "Latitude 5420", "asset_tag": "IT-0001", "serial_number": "ABC1234"},
				{"id": 11, "name": "ThinkPad", "asset_tag": "IT-0002", "serial_number": "PF2ABCDE"},
			}})
		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/api/v2/assets/"):
			w.Write([]byte(`{"asset":{}}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	fs := fakeFreshservice()
	cfg := config.Default()
	cfg.Freshservice.BaseURL = fs.URL
	cfg.Freshservice.APIKey = "test-key"
	svc, err := app.Open(context.Background(), t.TempDir(), cfg, nil)
	if err != nil {
		t.Fatalf("open service: %v", err)
	}
	handler, err := New(Config{
		Trigger:  svc.Trigger,
		Fetcher:  svc.Fetcher,
		Repo:     svc.Repo,
		Sync:     cfg.SyncConfiguration(),
		BasePath: "/v0",
		Auth:     auth,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			svc.Close()
			fs.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestExecuteJobAndDashboard(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/execute", map[string]any{"name": "dell_asset_sync"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("execute status %d: %s", res.StatusCode, string(data))
	}
	var result trigger.JobResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.Success || result.TotalAssets != 1 || result.UpdatedAssets != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/status", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var st StatusResponse
	_ = json.Unmarshal(data, &st)
	if st.State != trigger.StateCompleted || st.LastSyncTime == "" || st.Strategy != fetch.StrategyAutoDetect || st.ScheduleHours != 24 {
		t.Fatalf("unexpected status %+v", st)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/activity?limit=5", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activity %d: %s", res.StatusCode, string(data))
	}
	var act ActivityResponse
	_ = json.Unmarshal(data, &act)
	if len(act.Items) != 1 || act.Items[0].Message != "Dell Asset Sync: 1/1 assets updated" {
		t.Fatalf("unexpected activity %+v", act)
	}
	runID := act.Items[0].Details.ID

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/runs/"+runID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get run %d: %s", res.StatusCode, string(data))
	}
	var run domain.RunSummary
	_ = json.Unmarshal(data, &run)
	if len(run.Results) != 1 || run.Results[0].NewTag != "ABC1234" {
		t.Fatalf("unexpected run %+v", run)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=asset.updated", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events %d: %s", res.StatusCode, string(data))
	}
	var evts EventsResponse
	_ = json.Unmarshal(data, &evts)
	if len(evts.Items) != 1 || evts.Items[0].EntityID != "10" || evts.Items[0].Payload["asset_tag"] != "ABC1234" {
		t.Fatalf("unexpected events %+v", evts)
	}
}

func TestExecuteUnknownJob(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/jobs/execute", map[string]any{"name": "reindex"}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
	var envelope apiError
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Body.Code != "unknown_job" || envelope.Body.Message != "Unknown job name" {
		t.Fatalf("unexpected error body %s", string(data))
	}
}

func TestRunNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/runs/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
}

func TestEstimateAndClassify(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/assets/estimate", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("estimate %d: %s", res.StatusCode, string(data))
	}
	var est fetch.Estimate
	_ = json.Unmarshal(data, &est)
	if est.Sampled != 2 || est.Count != 1 {
		t.Fatalf("unexpected estimate %+v", est)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/serials/abc1234", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("classify %d: %s", res.StatusCode, string(data))
	}
	var cls serial.Result
	_ = json.Unmarshal(data, &cls)
	if !cls.Match || cls.Normalized != "ABC1234" {
		t.Fatalf("unexpected classification %+v", cls)
	}
}

func TestBearerAuth(t *testing.T) {
	auth := AuthConfig{JWTSecret: "s3cret"}
	srv, cleanup := newTestServer(t, auth)
	defer cleanup()
	client := srv.Client()

	if res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("health must stay open: %d %s", res.StatusCode, string(data))
	}
	if res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/status", nil, nil); res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.StatusCode)
	}
	bad, _ := IssueToken("other", "ops")
	if res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/status", nil, map[string]string{"Authorization": "Bearer " + bad}); res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with foreign token, got %d", res.StatusCode)
	}
	token, err := IssueToken(auth.JWTSecret, "ops")
	if err != nil {
		t.Fatal(err)
	}
	if res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/status", nil, map[string]string{"Authorization": "Bearer " + token}); res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d %s", res.StatusCode, string(data))
	}
}
