package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/rbac"
)

// mockAuthn is a test authenticator with configurable behavior.
type mockAuthn struct {
	result AuthResult
	calls  int
}

func (m *mockAuthn) Authenticate(_ context.Context, _ *http.Request) AuthResult {
	m.calls++
	return m.result
}

func testUser(id string, role rbac.Role) *api.User {
	return &api.User{ID: id, Email: id + "@example.com", Name: id, Role: role, Active: true}
}

func TestAuthChain_FirstYesStops(t *testing.T) {
	second := &mockAuthn{result: Reject(SourceBrowser, ErrUnauthenticated)}
	chain := NewChain(
		&mockAuthn{result: Accept(SourceBearer, testUser("alice", rbac.RoleUser), "s1")},
		second,
	)

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(context.Background(), r)

	if result.Decision != Yes {
		t.Fatalf("Decision = %s, want yes", result.Decision)
	}
	if result.Principal.User.ID != "alice" {
		t.Errorf("User.ID = %q, want %q", result.Principal.User.ID, "alice")
	}
	if result.Principal.SessionID != "s1" {
		t.Errorf("SessionID = %q, want %q", result.Principal.SessionID, "s1")
	}
	if second.calls != 0 {
		t.Errorf("second authenticator called %d times after Yes", second.calls)
	}
}

func TestAuthChain_FirstNoStops(t *testing.T) {
	chain := NewChain(
		&mockAuthn{result: Reject(SourceBearer, ErrUnauthenticated)},
		&mockAuthn{result: Accept(SourceBrowser, testUser("bob", rbac.RoleUser), "")},
	)

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(context.Background(), r)

	if result.Decision != No {
		t.Errorf("Decision = %s, want no", result.Decision)
	}
	if result.Source != SourceBearer {
		t.Errorf("Source = %q, want bearer", result.Source)
	}
}

func TestAuthChain_AllAbstain(t *testing.T) {
	chain := NewChain(
		&mockAuthn{result: AuthResult{Decision: Abstain}},
		&mockAuthn{result: AuthResult{Decision: Abstain}},
	)

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(context.Background(), r)

	if result.Decision != No {
		t.Errorf("Decision = %s, want no", result.Decision)
	}
	if !errors.Is(result.Err, ErrUnauthenticated) {
		t.Errorf("Err = %v, want ErrUnauthenticated", result.Err)
	}
	if result.Source != SourceNone {
		t.Errorf("Source = %q, want none", result.Source)
	}
}

func TestAuthChain_Empty(t *testing.T) {
	chain := NewChain()

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(context.Background(), r)

	if result.Decision != No {
		t.Errorf("Decision = %s, want no (empty chain)", result.Decision)
	}
}

func TestAuthChain_AbstainThenYes(t *testing.T) {
	chain := NewChain(
		&mockAuthn{result: AuthResult{Decision: Abstain}},
		&mockAuthn{result: Accept(SourceBrowser, testUser("cookie-user", rbac.RoleUser), "")},
	)

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(context.Background(), r)

	if result.Decision != Yes {
		t.Fatalf("Decision = %s, want yes", result.Decision)
	}
	if result.Principal.Source != SourceBrowser {
		t.Errorf("Source = %q, want browser", result.Principal.Source)
	}
}

func TestAccept_CopiesUser(t *testing.T) {
	u := testUser("carol", rbac.RoleUser)
	result := Accept(SourceBearer, u, "")
	u.Role = rbac.RoleAdmin

	if result.Principal.User.Role != rbac.RoleUser {
		t.Errorf("principal role changed with caller's user: %q", result.Principal.User.Role)
	}
}

func TestPrincipalFromContext(t *testing.T) {
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Error("empty context reported a principal")
	}

	p := Principal{User: *testUser("dave", rbac.RoleUser), Source: SourceBearer, SessionID: "s9"}
	ctx := SetPrincipal(context.Background(), p)
	p.User.ID = "changed"

	got, ok := PrincipalFromContext(ctx)
	if !ok {
		t.Fatal("principal missing from context")
	}
	if got.User.ID != "dave" || got.SessionID != "s9" {
		t.Errorf("principal = %+v", got)
	}
}
