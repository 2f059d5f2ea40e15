package app

import (
	"net/http"
	"testing"
)

func TestAdminRoutesForbiddenForRegularUsers(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	user := registerUser(t, svc, "taoist")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "list users", method: http.MethodGet, path: "/api/admin/users"},
		{name: "change role", method: http.MethodPut, path: "/api/admin/users/" + user.UserID + "/role", body: `{"role":"admin"}`},
		{name: "change status", method: http.MethodPut, path: "/api/admin/users/" + user.UserID + "/status", body: `{"status":"disabled"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, server, tc.method, tc.path, user.Token, tc.body)
			if rr.Code != http.StatusForbidden {
				t.Fatalf("expected 403, got %d body=%s", rr.Code, rr.Body.String())
			}
			if payload := decodePayload(t, rr); payload["code"] != "FORBIDDEN" {
				t.Fatalf("expected code FORBIDDEN, got %v", payload["code"])
			}
		})
	}
}

func TestAdminListUsersOverHTTP(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	registerUser(t, svc, "alpha")
	registerUser(t, svc, "beta")
	registerUser(t, svc, "gamma")
	admin := adminSession(t, fs, svc)

	rr := doRequest(t, server, http.MethodGet, "/api/admin/users?perPage=2", admin.Token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodePayload(t, rr)
	users, _ := payload["users"].([]any)
	if len(users) != 2 {
		t.Fatalf("expected a page of 2, got %d", len(users))
	}
	if payload["total"] != float64(4) {
		t.Errorf("expected total 4 including the admin, got %v", payload["total"])
	}

	rr = doRequest(t, server, http.MethodGet, "/api/admin/users?query=beta", admin.Token, "")
	payload = decodePayload(t, rr)
	users, _ = payload["users"].([]any)
	if len(users) != 1 {
		t.Fatalf("expected one match for beta, got %d", len(users))
	}
	hit, _ := users[0].(map[string]any)
	if hit["name"] != "beta" || hit["status"] != "active" {
		t.Errorf("unexpected user %v", hit)
	}
}

func TestAdminPromoteAndDisableOverHTTP(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	member := registerUser(t, svc, "member")
	admin := adminSession(t, fs, svc)

	rr := doRequest(t, server, http.MethodPut, "/api/admin/users/"+member.UserID+"/role", admin.Token, `{"role":"owner"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bogus role: expected 422, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, server, http.MethodPut, "/api/admin/users/"+member.UserID+"/role", admin.Token, `{"role":"admin"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("promote: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := decodePayload(t, rr); payload["role"] != "admin" {
		t.Fatalf("expected promoted role, got %v", payload["role"])
	}

	// The sessions already issued pick the new role up on the next request.
	rr = doRequest(t, server, http.MethodGet, "/api/admin/users", member.Token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("promoted member list: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, server, http.MethodPut, "/api/admin/users/"+member.UserID+"/status", admin.Token, `{"status":"disabled"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("disable: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := decodePayload(t, rr); payload["status"] != "disabled" {
		t.Fatalf("expected disabled status, got %v", payload["status"])
	}

	// A disabled account is cut off even with an unexpired token.
	rr = doRequest(t, server, http.MethodGet, "/api/me", member.Token, "")
	assertUnauthorizedCode(t, rr)

	rr = doRequest(t, server, http.MethodPost, "/api/auth/login", "", `{"name":"member","password":"password123"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("disabled login: expected 403, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := decodePayload(t, rr); payload["code"] != "ACCOUNT_DISABLED" {
		t.Fatalf("expected ACCOUNT_DISABLED, got %v", payload["code"])
	}
}

func TestAdminCannotChangeOwnAccountOverHTTP(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	admin := adminSession(t, fs, svc)

	rr := doRequest(t, server, http.MethodPut, "/api/admin/users/"+admin.UserID+"/status", admin.Token, `{"status":"disabled"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := decodePayload(t, rr); payload["code"] != "OWN_ACCOUNT" {
		t.Fatalf("expected OWN_ACCOUNT, got %v", payload["code"])
	}

	rr = doRequest(t, server, http.MethodPut, "/api/admin/users/"+admin.UserID+"/role", admin.Token, `{"role":"user"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
}
