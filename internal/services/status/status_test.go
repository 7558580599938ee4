package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"agpm/internal/platform/logger"
	"agpm/internal/platform/ratelimit"
	"agpm/internal/platform/workpool"
	histdom "agpm/internal/services/history/domain"
)

type memHistory struct {
	recs []histdom.Record
}

func (m *memHistory) Insert(_ context.Context, number int, title string, merged bool) error {
	m.recs = append(m.recs, histdom.Record{Number: number, Title: title, Merged: merged})
	return nil
}

func (m *memHistory) MarkMerged(context.Context, int) error { return nil }

func (m *memHistory) List(context.Context) ([]histdom.Record, error) {
	return m.recs, nil
}

func get(t *testing.T, srv *httptest.Server, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp.StatusCode, doc
}

func TestStatusEndpoints(t *testing.T) {
	pool := workpool.New(workpool.Options{Workers: 1})
	defer pool.Stop()
	hist := &memHistory{}
	_ = hist.Insert(context.Background(), 1, "t", true)

	srv := httptest.NewServer(NewRouter(Deps{
		Governor: ratelimit.New(ratelimit.Options{}),
		Pool:     pool,
		History:  hist,
		Log:      *logger.Named("status-test"),
	}))
	defer srv.Close()

	code, doc := get(t, srv, "/v1/status/budget")
	if code != http.StatusOK {
		t.Fatalf("budget status = %d", code)
	}
	if _, ok := doc["data"].(map[string]any)["source"]; !ok {
		t.Fatalf("budget payload missing source: %v", doc)
	}

	code, doc = get(t, srv, "/v1/status/requests")
	if code != http.StatusOK {
		t.Fatalf("requests status = %d", code)
	}
	data := doc["data"].(map[string]any)
	for _, k := range []string{"pending", "running", "completed", "rpm"} {
		if _, ok := data[k]; !ok {
			t.Fatalf("requests payload missing %s: %v", data, doc)
		}
	}

	code, doc = get(t, srv, "/v1/status/history")
	if code != http.StatusOK {
		t.Fatalf("history status = %d", code)
	}
	recs := doc["data"].([]any)
	if len(recs) != 1 || recs[0].(map[string]any)["number"].(float64) != 1 {
		t.Fatalf("history payload = %v", doc)
	}

	code, doc = get(t, srv, "/v1/status/version")
	if code != http.StatusOK {
		t.Fatalf("version status = %d", code)
	}
	if _, ok := doc["data"].(map[string]any)["service"]; !ok {
		t.Fatalf("version payload missing service: %v", doc)
	}
}

func TestStatusUnconfiguredBackendsAre503(t *testing.T) {
	srv := httptest.NewServer(NewRouter(Deps{Log: *logger.Named("status-test")}))
	defer srv.Close()

	for _, path := range []string{"/v1/status/budget", "/v1/status/requests", "/v1/status/history"} {
		code, _ := get(t, srv, path)
		if code != http.StatusServiceUnavailable {
			t.Fatalf("%s status = %d, want 503", path, code)
		}
	}
}
