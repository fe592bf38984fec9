package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func requestWithRoles(roles ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), RolesKey, roles)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestRequireRole_Allowed(t *testing.T) {
	c, rec := requestWithRoles(RoleStaff)
	if err := RequireRole(RoleStaff)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_AnyOf(t *testing.T) {
	c, _ := requestWithRoles(RolePatient)
	if err := RequireRole(RoleStaff, RolePatient)(okHandler)(c); err != nil {
		t.Fatalf("expected any-of match, got %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	c, _ := requestWithRoles(RolePatient)
	err := RequireRole(RoleStaff)(okHandler)(c)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_NoRoles(t *testing.T) {
	c, _ := requestWithRoles()
	expectStatus(t, RequireRole(RoleAdmin)(okHandler)(c), http.StatusForbidden)
}

func TestRequireRole_AdminBypass(t *testing.T) {
	c, _ := requestWithRoles(RoleAdmin)
	if err := RequireRole(RoleStaff)(okHandler)(c); err != nil {
		t.Fatalf("admin should pass every role check, got %v", err)
	}
}

func TestActorFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), ActorKey, "user-123")
	if got := ActorFromContext(ctx); got != "user-123" {
		t.Errorf("expected user-123, got %q", got)
	}
	if got := ActorFromContext(context.Background()); got != "" {
		t.Errorf("expected empty actor, got %q", got)
	}
}
