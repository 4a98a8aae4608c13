package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounter(t *testing.T) {
	r := New()
	c := r.Counter("archive_saves_total", "Posts archived")
	c.Inc()
	c.Inc()
	c.Add(3)
	if c.Value() != 5 {
		t.Errorf("value = %d, want 5", c.Value())
	}
	if r.Counter("archive_saves_total", "") != c {
		t.Error("re-registering a name must return the same counter")
	}
}

func TestHistogramBuckets(t *testing.T) {
	r := New()
	h := r.Histogram("op_seconds", "", []float64{0.1, 0.5, 1})
	for _, v := range []float64{0.05, 0.3, 0.8, 2} {
		h.Observe(v)
	}

	out := r.Render()
	for _, line := range []string{
		`op_seconds_bucket{le="0.1"} 1`,
		`op_seconds_bucket{le="0.5"} 2`,
		`op_seconds_bucket{le="1"} 3`,
		`op_seconds_bucket{le="+Inf"} 4`,
		"op_seconds_count 4",
	} {
		if !strings.Contains(out, line) {
			t.Errorf("render missing %q:\n%s", line, out)
		}
	}
}

func TestRenderOrderAndHelp(t *testing.T) {
	r := New()
	r.Counter("b_total", "second metric")
	r.Counter("a_total", "first metric")

	out := r.Render()
	if strings.Index(out, "b_total") > strings.Index(out, "a_total") {
		t.Error("metrics should render in registration order")
	}
	if !strings.Contains(out, "# HELP b_total second metric") {
		t.Errorf("missing help line:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE a_total counter") {
		t.Errorf("missing type line:\n%s", out)
	}
}

func TestHandler(t *testing.T) {
	r := New()
	r.Counter("requests_total", "").Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "requests_total 1") {
		t.Errorf("body = %q", rec.Body.String())
	}
}
