package integration

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/device"
	"github.com/rhuss/authcore/pkg/rbac"
)

func TestSessionLifecycle(t *testing.T) {
	email := uniqueEmail(t)
	first := register(t, email)

	var me struct {
		User api.UserView `json:"user"`
	}
	resp := getURL(t, "/v1/auth/me", first.SessionToken)
	expectStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &me)
	if me.User.Email != email || me.User.Role != rbac.RoleUser {
		t.Errorf("me = %+v", me.User)
	}

	// A second device signs in.
	resp = postJSON(t, "/v1/auth/login", api.LoginRequest{Email: email, Password: testPassword})
	expectStatus(t, resp, http.StatusOK)
	var second api.SessionIssued
	decodeJSON(t, resp, &second)

	var sessions api.ListResponse[api.SessionView]
	resp = getURL(t, "/v1/auth/sessions", second.SessionToken)
	expectStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &sessions)
	if len(sessions.Data) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions.Data))
	}
	for _, s := range sessions.Data {
		if s.DeviceType != device.TypeIOS {
			t.Errorf("device type = %q, want ios", s.DeviceType)
		}
	}

	// Refresh the first session; the old token dies immediately.
	resp = postJSON(t, "/v1/auth/refresh", api.RefreshRequest{SessionToken: first.SessionToken})
	expectStatus(t, resp, http.StatusOK)
	var rotated api.SessionIssued
	decodeJSON(t, resp, &rotated)

	expectError(t, getURL(t, "/v1/auth/me", first.SessionToken), http.StatusUnauthorized, "")
	expectStatus(t, getURL(t, "/v1/auth/me", rotated.SessionToken), http.StatusOK)

	// Sign out everywhere.
	resp = do(t, request{method: http.MethodPost, path: "/v1/auth/logout-all", token: rotated.SessionToken})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	for _, token := range []string{rotated.SessionToken, second.SessionToken} {
		expectError(t, getURL(t, "/v1/auth/me", token), http.StatusUnauthorized, "")
	}
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	issued := register(t, uniqueEmail(t))

	const racers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	body := `{"sessionToken":"` + issued.SessionToken + `"}`
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := 0
			resp, err := http.Post(testEnv.BaseURL()+"/v1/auth/refresh", "application/json", strings.NewReader(body))
			if err == nil {
				resp.Body.Close()
				status = resp.StatusCode
			}
			mu.Lock()
			statuses[status]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if statuses[http.StatusOK] != 1 {
		t.Errorf("statuses = %v, want exactly one 200", statuses)
	}
	if statuses[http.StatusUnauthorized] != racers-1 {
		t.Errorf("statuses = %v, want %d 401s", statuses, racers-1)
	}
}

func TestAdminDeactivation(t *testing.T) {
	admin := register(t, uniqueEmail(t))
	target := register(t, "target-"+uniqueEmail(t))

	if _, err := testEnv.Manager.SetRole(context.Background(), admin.User.ID, rbac.RoleAdmin); err != nil {
		t.Fatalf("SetRole: %v", err)
	}

	// The target cannot reach admin routes.
	expectError(t, getURL(t, "/v1/admin/users", target.SessionToken), http.StatusForbidden, "permission_denied")

	resp := do(t, request{method: http.MethodPost, path: "/v1/admin/users/" + target.User.ID + "/deactivate", token: admin.SessionToken})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	expectError(t, getURL(t, "/v1/auth/me", target.SessionToken), http.StatusUnauthorized, "")
	expectError(t, postJSON(t, "/v1/auth/login", api.LoginRequest{Email: target.User.Email, Password: testPassword}),
		http.StatusUnauthorized, "")
}
