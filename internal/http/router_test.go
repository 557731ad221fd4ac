package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"parkangel/internal/infra"
)

type roleVerifier struct{ role string }

func (v roleVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return &infra.FirebaseToken{UID: "u-1", Role: v.role}, nil
}

func TestRouterRoleGates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name   string
		role   string
		method string
		path   string
		auth   bool
		want   int
	}{
		{"health is public", "", http.MethodGet, "/health", false, http.StatusOK},
		{"api needs token", "", http.MethodPost, "/api/charges", false, http.StatusUnauthorized},
		{"user cannot compute charges", "", http.MethodPost, "/api/charges", true, http.StatusForbidden},
		{"operator cannot create nodes", infra.RoleOperator, http.MethodPost, "/api/nodes", true, http.StatusForbidden},
		{"operator cannot release", infra.RoleOperator, http.MethodPost, "/api/remittances/rem-1/release", true, http.StatusForbidden},
		{"system cannot write revenue configs", infra.RoleSystem, http.MethodPut, "/api/revenue-configs", true, http.StatusForbidden},
		{"system cannot set payout accounts", infra.RoleSystem, http.MethodPut, "/api/payout-accounts/op-1", true, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRouter(ServerDeps{Verifier: roleVerifier{role: tc.role}})
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.auth {
				req.Header.Set("Authorization", "Bearer t")
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}
