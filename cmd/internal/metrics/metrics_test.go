package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountersAndExposition(t *testing.T) {
	t.Parallel()

	m := MustNewMetrics(prometheus.NewRegistry())
	m.Upload("accepted")
	m.Upload("accepted")
	m.Upload("duplicate")
	m.InviteIssued("ok")
	m.SetAlbumPending(2)

	if got := testutil.ToFloat64(m.uploads.WithLabelValues("accepted")); got != 2 {
		t.Fatalf("accepted uploads: got %v want 2", got)
	}
	if got := testutil.ToFloat64(m.albumPending); got != 2 {
		t.Fatalf("album pending: got %v want 2", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `bouncer_uploads_total{outcome="duplicate"} 1`) {
		t.Fatalf("exposition missing duplicate counter:\n%s", body)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Upload("accepted")
	m.Decision("below_quota")
	m.TaskStarted()
	m.FeedClients(1)
	if m.Registry() != nil {
		t.Fatalf("nil metrics should have nil registry")
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("nil metrics handler: got %d want 404", rec.Code)
	}
}
