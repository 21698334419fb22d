package obs

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/example/neighborhood-portal/internal/approval"
)

func TestCanonicalPath(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                                      "/",
		"/metrics":                              "/metrics",
		"/surat-pengantar/01HX/rt-approval":     "/surat-pengantar/:id/rt-approval",
		"/surat-pengantar/01HX":                 "/surat-pengantar/:id",
		"/surat-pengantar/rt/pending":           "/surat-pengantar/rt/pending",
		"/surat-pengantar/my-requests?page=2":   "/surat-pengantar/my-requests",
		"/surat-pengantar/01HX/rt-approval/xyz": "/surat-pengantar/01HX/rt-approval/xyz",
		"/auth/login":                           "/auth/login",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentLabelsByRoutePattern(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/surat-pengantar/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for i := 0; i < 2; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/surat-pengantar/abc", nil))
	}

	got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues(http.MethodGet, "/surat-pengantar/{id}", "404"))
	if got != 2 {
		t.Fatalf("expected 2 requests counted, got %v", got)
	}
	if inFlight := testutil.ToFloat64(m.httpInFlight); inFlight != 0 {
		t.Fatalf("expected no in-flight requests, got %v", inFlight)
	}
}

func TestDomainCounters(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.ObserveDecision(approval.TierRT, approval.ActionApprove, "applied")
	m.ObserveDecision(approval.TierRT, approval.ActionApprove, "applied")
	m.ObserveDecision(approval.TierRW, approval.ActionReject, "invalid_transition")
	m.ObserveAuth("login", "invalid_credentials")
	m.ObserveTermination("logout_all")
	m.ObserveRateLimited("/auth/login")
	m.SetBuildInfo("dev", "none")

	if got := testutil.ToFloat64(m.decisions.WithLabelValues("RT", "approve", "applied")); got != 2 {
		t.Fatalf("expected 2 applied RT approvals, got %v", got)
	}
	if got := testutil.ToFloat64(m.decisions.WithLabelValues("RW", "reject", "invalid_transition")); got != 1 {
		t.Fatalf("expected 1 rejected RW transition, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"portal_approval_decisions_total",
		`portal_auth_attempts_total{operation="login",outcome="invalid_credentials"} 1`,
		`portal_session_terminations_total{reason="logout_all"} 1`,
		`portal_rate_limited_requests_total{path="/auth/login"} 1`,
		`portal_build_info{commit="none",version="dev"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected exposition to contain %q", want)
		}
	}
}
