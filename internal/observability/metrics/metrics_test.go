package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMiddlewareNormalizesDocumentPaths(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	h := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/documents/abc", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/documents/def", nil))

	out := scrape(t, m.Handler())
	want := `docintel_http_requests_total{method="GET",path="/v1/documents/{id}",service="api",status="404"} 2`
	if !strings.Contains(out, want) {
		t.Fatalf("missing %s in:\n%s", want, out)
	}
}

func TestChatTurnRecordsRetrievedOnlyOnSuccess(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	m.RecordChatTurn("api", "ok", 3, time.Second)
	m.RecordChatTurn("api", "DocumentNotReady", 0, time.Millisecond)

	out := scrape(t, m.Handler())
	if !strings.Contains(out, `docintel_chat_retrieved_chunks_count{service="api"} 1`) {
		t.Fatalf("expected one retrieval observation:\n%s", out)
	}
	if !strings.Contains(out, `docintel_chat_turns_total{outcome="DocumentNotReady",service="api"} 1`) {
		t.Fatalf("expected failed turn counted:\n%s", out)
	}
}

func TestWorkerMetricsShareRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	w := NewWorkerMetricsWith(registry, "api")
	w.StartJob()
	w.FinishJob("api", "extract", "dead-lettered", time.Second)

	out := scrape(t, w.Handler())
	if !strings.Contains(out, `docintel_worker_dead_letters_total{kind="extract",service="api"} 1`) {
		t.Fatalf("expected dead letter counted:\n%s", out)
	}
	if !strings.Contains(out, `docintel_worker_jobs_in_flight{service="api"} 0`) {
		t.Fatalf("expected in-flight back to zero:\n%s", out)
	}
}
