package api

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/authcore/pkg/device"
	"github.com/rhuss/authcore/pkg/rbac"
)

func TestUserJSON_OmitsPasswordHash(t *testing.T) {
	u := &User{ID: "u1", Email: "a@x.com", Role: rbac.RoleUser, PasswordHash: "$2a$10$secret"}
	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), "secret") {
		t.Errorf("password hash leaked into JSON: %s", data)
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{CreatedAt: now.Add(-time.Hour), ExpiresAt: now}

	if !s.Expired(now) {
		t.Error("session with now == expiry should be expired")
	}
	if s.Expired(now.Add(-time.Nanosecond)) {
		t.Error("session before expiry should be valid")
	}
}

func TestSessionView(t *testing.T) {
	s := &Session{
		ID:         "s1",
		TokenHash:  "deadbeef",
		TokenHint:  "...beef",
		DeviceType: device.TypeIOS,
		DeviceName: "iPhone",
	}

	v := s.View("s1")
	if !v.IsCurrent {
		t.Error("IsCurrent = false for matching id")
	}
	if s.View("other").IsCurrent {
		t.Error("IsCurrent = true for other id")
	}
	if s.View("").IsCurrent {
		t.Error("IsCurrent = true for empty current id")
	}

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), "deadbeef") {
		t.Errorf("token hash leaked into session view: %s", data)
	}
	for _, key := range []string{"id", "deviceType", "deviceName", "userAgent", "ipAddress", "createdAt", "expires", "isCurrent"} {
		if !strings.Contains(string(data), `"`+key+`"`) {
			t.Errorf("session view missing %q: %s", key, data)
		}
	}
}

func TestSessionIssuedJSON(t *testing.T) {
	issued := SessionIssued{
		SessionToken: "tok",
		ExpiresAt:    time.Unix(0, 0).UTC(),
		User:         UserView{ID: "u1", Email: "a@x.com", Name: "A", Role: rbac.RoleAdmin},
	}
	data, err := json.Marshal(issued)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if m["sessionToken"] != "tok" {
		t.Errorf("sessionToken = %v", m["sessionToken"])
	}
	user, ok := m["user"].(map[string]any)
	if !ok {
		t.Fatalf("user = %T, want object", m["user"])
	}
	if user["role"] != "ADMIN" {
		t.Errorf("user.role = %v", user["role"])
	}
}
