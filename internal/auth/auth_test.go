package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTokenService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Mode: ModeToken,
		Tokens: []Token{
			{Name: "reader", Secret: "read-secret", Permissions: []string{PermissionOperationsRead}},
			{Name: "admin", Secret: "admin-secret", Permissions: []string{"*"}},
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestNewServiceValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown mode", cfg: Config{Mode: "oauth"}},
		{name: "no tokens", cfg: Config{Mode: ModeToken}},
		{name: "empty secret", cfg: Config{Mode: ModeToken, Tokens: []Token{{Name: "a"}}}},
		{name: "duplicate secret", cfg: Config{Mode: ModeToken, Tokens: []Token{{Name: "a", Secret: "s"}, {Name: "b", Secret: "s"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewService(tc.cfg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestRequire(t *testing.T) {
	svc := newTokenService(t)
	var seen *Subject
	handler := svc.Require(PermissionOperationsWrite)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic admin-secret", status: http.StatusUnauthorized},
		{name: "unknown token", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "insufficient permission", header: "Bearer read-secret", status: http.StatusForbidden},
		{name: "wildcard", header: "bearer admin-secret", status: http.StatusAccepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/operations", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("status: got %d want %d", rec.Code, tc.status)
			}
		})
	}
	if seen == nil || seen.Name != "admin" {
		t.Fatalf("subject not propagated: %+v", seen)
	}
}

func TestDisabledModePassesThrough(t *testing.T) {
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.Mode() != ModeDisabled {
		t.Fatalf("unexpected mode %s", svc.Mode())
	}
	handler := svc.Require(PermissionOperationsWrite)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status: got %d", rec.Code)
	}
}

func TestParseMode(t *testing.T) {
	if mode, err := ParseMode(" Token "); err != nil || mode != ModeToken {
		t.Fatalf("parse token: %v %v", mode, err)
	}
	if mode, err := ParseMode(""); err != nil || mode != ModeDisabled {
		t.Fatalf("parse empty: %v %v", mode, err)
	}
	if _, err := ParseMode("jwt"); err == nil {
		t.Fatalf("expected error for jwt")
	}
}
