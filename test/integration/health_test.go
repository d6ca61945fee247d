package integration

import (
	"net/http"
	"strings"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	resp := getURL(t, "/healthz", "")
	expectStatus(t, resp, http.StatusOK)

	body := readBody(t, resp)
	if !strings.Contains(body, "ok") {
		t.Errorf("body = %q, want to contain 'ok'", body)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	waitReady(t)
}

func TestHealthEndpointIgnoresInvalidCredentials(t *testing.T) {
	resp := do(t, request{method: http.MethodGet, path: "/healthz", token: "not-a-session"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with a bogus token, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	getURL(t, "/healthz", "").Body.Close()

	resp := getURL(t, "/metrics", "")
	expectStatus(t, resp, http.StatusOK)

	body := readBody(t, resp)
	for _, name := range []string{"authcore_requests_total", `route="GET /healthz"`} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics missing %s", name)
		}
	}
}
