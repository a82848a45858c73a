package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/pierrot-lc/snake-search/api"
	"github.com/pierrot-lc/snake-search/tracker"
	"github.com/pierrot-lc/snake-search/version"
)

func setupServer(t *testing.T) (*httptest.Server, *tracker.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := tracker.Open(filepath.Join(t.TempDir(), "runs"))
	if err != nil {
		t.Fatalf("tracker.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(NewServer(store).GenerateRoutes())
	t.Cleanup(srv.Close)
	return srv, store
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestVersionHandler(t *testing.T) {
	srv, _ := setupServer(t)

	var resp api.VersionResponse
	if code := getJSON(t, srv.URL+"/api/version", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Version != version.Version {
		t.Errorf("version = %q, want %q", resp.Version, version.Version)
	}
}

func TestListRunsEmpty(t *testing.T) {
	srv, _ := setupServer(t)

	var resp api.RunsResponse
	if code := getJSON(t, srv.URL+"/api/runs", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Runs) != 0 {
		t.Errorf("runs = %v, want empty", resp.Runs)
	}
}

func TestRunLifecycle(t *testing.T) {
	srv, store := setupServer(t)

	run, err := store.NewRun("sweep", "env:\n  patch_size: 16\n")
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	if err := run.Log("loss", 1, 0.5); err != nil {
		t.Fatalf("Log: %v", err)
	}

	var runs api.RunsResponse
	getJSON(t, srv.URL+"/api/runs", &runs)
	if len(runs.Runs) != 1 || runs.Runs[0].ID != run.ID {
		t.Fatalf("runs = %+v", runs.Runs)
	}

	var detail api.RunDetailResponse
	if code := getJSON(t, srv.URL+"/api/runs/"+run.ID, &detail); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if detail.Group != "sweep" {
		t.Errorf("group = %q", detail.Group)
	}
	if detail.Config == "" {
		t.Error("config missing from detail response")
	}

	var metrics api.MetricsResponse
	getJSON(t, srv.URL+"/api/runs/"+run.ID+"/metrics", &metrics)
	points, ok := metrics.Metrics["loss"]
	if !ok || len(points) != 1 || points[0].Value != 0.5 {
		t.Errorf("metrics = %+v", metrics.Metrics)
	}
}

func TestRunNotFound(t *testing.T) {
	srv, _ := setupServer(t)

	if code := getJSON(t, srv.URL+"/api/runs/no-such-run", nil); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func TestPlotNameValidation(t *testing.T) {
	srv, store := setupServer(t)

	run, err := store.NewRun("", "")
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}

	code := getJSON(t, srv.URL+"/api/runs/"+run.ID+"/plots/.hidden", nil)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}
