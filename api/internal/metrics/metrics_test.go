package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"medist/api/internal/analysis"
)

func TestObserveAnalysis(t *testing.T) {
	c := NewCollector("medist", func() int { return 3 })
	c.ObserveAnalysis("gemini", "", 2*time.Second)
	c.ObserveAnalysis("gemini", analysis.KindTransportFailure, time.Second)
	c.ObserveAnalysis("gpt", analysis.KindTransportFailure, time.Second)

	if got := testutil.ToFloat64(c.AnalysesTotal.WithLabelValues("gemini", "ok")); got != 1 {
		t.Fatalf("gemini ok = %v", got)
	}
	if got := testutil.ToFloat64(c.AnalysesTotal.WithLabelValues("gpt", "transport_failure")); got != 1 {
		t.Fatalf("gpt transport = %v", got)
	}
	if got := testutil.ToFloat64(c.ActiveSessions); got != 3 {
		t.Fatalf("sessions = %v", got)
	}
}

func TestHandlerExposesSeries(t *testing.T) {
	c := NewCollector("medist", nil)
	c.ObserveRequest("GET", "/v1/patient", 200, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `medist_http_requests_total{method="GET",route="/v1/patient",status="200"} 1`) {
		t.Fatalf("metrics output missing request series:\n%s", body)
	}
}
