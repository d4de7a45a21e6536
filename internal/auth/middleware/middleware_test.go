package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	auth "github.com/mind-engage/answer-eval/internal/auth/middleware"
	"github.com/mind-engage/answer-eval/internal/db/dbtest"
	"github.com/mind-engage/answer-eval/internal/rbac"
	"github.com/mind-engage/answer-eval/internal/user"
)

func seededUsers(t *testing.T) *user.Store {
	t.Helper()
	s := user.NewStore(dbtest.Open(t))
	ctx := context.Background()
	if _, err := s.Upsert(ctx, user.User{ID: "u-teacher", Username: "teacher001", Role: user.RoleTeacher}, "pw-teacher"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Upsert(ctx, user.User{ID: "u-student", Username: "student001", Role: user.RoleStudent}, "pw-student"); err != nil {
		t.Fatal(err)
	}
	return s
}

// echo reports what the middleware put in the context.
var echo = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]string{
		"sub":  auth.SubjectFromContext(r.Context()),
		"role": rbac.RoleFromContext(r.Context()),
	})
})

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var m map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

/* ---------------- tokens ---------------- */

func TestIssueAndParse(t *testing.T) {
	a := auth.NewAuthService("k1")
	tok, err := a.IssueJWT("u-1", "teacher")
	if err != nil {
		t.Fatal(err)
	}
	c, err := a.Parse(tok)
	if err != nil {
		t.Fatal(err)
	}
	if c.Sub != "u-1" || c.Role != "teacher" {
		t.Fatalf("claims = %+v", c)
	}
	if _, err := auth.NewAuthService("other").Parse(tok); err == nil {
		t.Fatal("token signed with another key accepted")
	}
}

func TestParse_RejectsNoneAlg(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, &auth.Claims{Sub: "x", Role: "admin"})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := auth.NewAuthService("k").Parse(s); err == nil {
		t.Fatal("unsigned token accepted")
	}
}

/* ---------------- login ---------------- */

func TestLoginHandler(t *testing.T) {
	a := auth.NewAuthService("k")
	h := auth.LoginHandler(a, seededUsers(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"username":"teacher001","password":"pw-teacher"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	body := decode(t, rec)
	c, err := a.Parse(body["access_token"])
	if err != nil {
		t.Fatal(err)
	}
	if c.Sub != "u-teacher" || c.Role != user.RoleTeacher || body["role"] != user.RoleTeacher {
		t.Fatalf("claims = %+v body = %v", c, body)
	}

	for _, in := range []string{`{"username":"teacher001","password":"nope"}`, `{"username":"ghost","password":"x"}`} {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(in)))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status %d", in, rec.Code)
		}
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: status %d", rec.Code)
	}
}

/* ---------------- Authenticate ---------------- */

func TestAuthenticate(t *testing.T) {
	a := auth.NewAuthService("k")
	users := seededUsers(t)
	tok, _ := a.IssueJWT("u-teacher", user.RoleTeacher)

	cases := []struct {
		name       string
		headers    map[string]string
		allowToken bool
		status     int
		sub, role  string
	}{
		{"bearer", map[string]string{"Authorization": "Bearer " + tok}, false, 200, "u-teacher", "teacher"},
		{"bad bearer", map[string]string{"Authorization": "Bearer garbage"}, true, 401, "", ""},
		{"token header by id", map[string]string{"X-User-Token": "u-student"}, true, 200, "u-student", "student"},
		{"token header by username", map[string]string{"X-User-Token": "student001"}, true, 200, "u-student", "student"},
		{"token header disabled", map[string]string{"X-User-Token": "u-student"}, false, 401, "", ""},
		{"unknown token header", map[string]string{"X-User-Token": "nobody"}, true, 401, "", ""},
		{"anonymous", nil, true, 401, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := auth.Authenticate(a, users, tc.allowToken)(echo)
			req := httptest.NewRequest(http.MethodGet, "/questions", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("status %d, want %d", rec.Code, tc.status)
			}
			got := decode(t, rec)
			if tc.status == 401 {
				if got["detail"] != "Login required" {
					t.Fatalf("detail = %q", got["detail"])
				}
				return
			}
			if got["sub"] != tc.sub || got["role"] != tc.role {
				t.Fatalf("ctx = %v", got)
			}
		})
	}
}

/* ---------------- AttachRoleFromStore ---------------- */

func TestAttachRoleFromStore(t *testing.T) {
	users := seededUsers(t)

	run := func(sub, claimRole string, fallback bool) *httptest.ResponseRecorder {
		h := auth.AttachRoleFromStore(users, fallback)(echo)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(rbac.WithRole(auth.WithSubject(req.Context(), sub), claimRole))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	// stale claim: the store wins
	rec := run("u-student", user.RoleTeacher, false)
	if got := decode(t, rec); rec.Code != 200 || got["role"] != user.RoleStudent {
		t.Fatalf("status %d ctx %v", rec.Code, got)
	}
	// unknown subject: claim kept only with fallback
	if rec := run("ghost", user.RoleTeacher, true); rec.Code != 200 {
		t.Fatalf("fallback: status %d", rec.Code)
	}
	if rec := run("ghost", user.RoleTeacher, false); rec.Code != http.StatusForbidden {
		t.Fatalf("no fallback: status %d", rec.Code)
	}
	// a signed admin claim alone is not enough for an unknown subject
	if rec := run("ghost", user.RoleAdmin, false); rec.Code != http.StatusForbidden {
		t.Fatalf("admin claim: status %d", rec.Code)
	}
}
