package integration

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/rhuss/authcore/pkg/api"
)

func TestInvalidJSON(t *testing.T) {
	resp, err := http.Post(
		testEnv.BaseURL()+"/v1/auth/login",
		"application/json",
		bytes.NewReader([]byte(`{invalid json`)),
	)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	env := expectError(t, resp, http.StatusBadRequest, "")
	if env.Type != string(api.ErrorTypeInvalidRequest) {
		t.Errorf("type = %q, want %q", env.Type, api.ErrorTypeInvalidRequest)
	}
}

func TestUnauthenticatedEnvelope(t *testing.T) {
	env := expectError(t, getURL(t, "/v1/auth/me", ""), http.StatusUnauthorized, "")
	if env.Type != string(api.ErrorTypeUnauthenticated) {
		t.Errorf("type = %q, want %q", env.Type, api.ErrorTypeUnauthenticated)
	}
}

func TestInvalidTokenDoesNotEchoCredential(t *testing.T) {
	const token = "secret-looking-token-value"
	resp := getURL(t, "/v1/auth/me", token)
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if strings.Contains(body, token) {
		t.Errorf("response echoes the credential: %s", body)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, testEnv.BaseURL()+"/healthz", nil)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("X-Request-ID", "integration-trace-1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("X-Request-ID"); got != "integration-trace-1" {
		t.Errorf("X-Request-ID = %q, want integration-trace-1", got)
	}
}
