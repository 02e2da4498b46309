package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/homebid/internal/account"
	"github.com/sudo-init-do/homebid/internal/middleware"
	"github.com/sudo-init-do/homebid/internal/testutil"
)

const jwtSecret = "test-secret"

func newServer(t *testing.T) (*echo.Echo, *account.Service) {
	t.Helper()
	accounts := account.NewService(testutil.OpenDB(t), 0)
	h := NewHandler(accounts, jwtSecret, "let-me-in")

	e := echo.New()
	e.POST("/auth/signup", h.Signup)
	e.POST("/auth/login", h.Login)
	e.POST("/auth/bootstrap-admin", h.BootstrapAdmin)
	e.GET("/auth/me", h.Me, middleware.JWT([]byte(jwtSecret), accounts))
	return e, accounts
}

func do(e *echo.Echo, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestSignupLoginMe(t *testing.T) {
	e, _ := newServer(t)

	rec := do(e, http.MethodPost, "/auth/signup", `{"name":"Ada","email":"Ada@Example.com","password":"hunter22","role":"agent"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup = %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodPost, "/auth/login", `{"email":"ada@example.com","password":"hunter22"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rec.Code, rec.Body.String())
	}
	var tok TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tok); err != nil || tok.Token == "" {
		t.Fatalf("token response = %s (%v)", rec.Body.String(), err)
	}

	rec = do(e, http.MethodGet, "/auth/me", "", tok.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("me = %d: %s", rec.Code, rec.Body.String())
	}
	var me account.Account
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Email != "ada@example.com" || me.Role != account.RoleAgent {
		t.Errorf("me = %+v", me)
	}
}

func TestSignupRejects(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"short password", `{"email":"a@b.co","password":"123"}`, http.StatusBadRequest},
		{"admin role", `{"email":"a@b.co","password":"secret1","role":"admin"}`, http.StatusBadRequest},
		{"bad email", `{"email":"nope","password":"secret1"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newServer(t)
			if rec := do(e, http.MethodPost, "/auth/signup", tt.body, ""); rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}

	e, _ := newServer(t)
	body := `{"email":"dup@b.co","password":"secret1"}`
	do(e, http.MethodPost, "/auth/signup", body, "")
	if rec := do(e, http.MethodPost, "/auth/signup", body, ""); rec.Code != http.StatusConflict {
		t.Errorf("duplicate signup = %d, want 409", rec.Code)
	}
}

func TestLoginFailures(t *testing.T) {
	e, accounts := newServer(t)
	rec := do(e, http.MethodPost, "/auth/signup", `{"email":"x@b.co","password":"secret1"}`, "")
	var created TokenResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	if rec := do(e, http.MethodPost, "/auth/login", `{"email":"x@b.co","password":"wrong!"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d, want 401", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/auth/login", `{"email":"nobody@b.co","password":"secret1"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown email = %d, want 401", rec.Code)
	}

	if err := accounts.Disable(t.Context(), created.Account.ID); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if rec := do(e, http.MethodPost, "/auth/login", `{"email":"x@b.co","password":"secret1"}`, ""); rec.Code != http.StatusForbidden {
		t.Errorf("disabled login = %d, want 403", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/auth/me", "", created.Token); rec.Code != http.StatusForbidden {
		t.Errorf("disabled token = %d, want 403", rec.Code)
	}
}

func TestBootstrapAdmin(t *testing.T) {
	e, accounts := newServer(t)
	rec := do(e, http.MethodPost, "/auth/signup", `{"email":"boss@b.co","password":"secret1"}`, "")
	var created TokenResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	if rec := do(e, http.MethodPost, "/auth/bootstrap-admin", `{"email":"boss@b.co","secret":"guess"}`, ""); rec.Code != http.StatusForbidden {
		t.Errorf("wrong secret = %d, want 403", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/auth/bootstrap-admin", `{"email":"boss@b.co","secret":"let-me-in"}`, ""); rec.Code != http.StatusOK {
		t.Fatalf("bootstrap = %d: %s", rec.Code, rec.Body.String())
	}
	acct, err := accounts.Get(t.Context(), created.Account.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.Role != account.RoleAdmin {
		t.Errorf("role = %s, want admin", acct.Role)
	}
}
