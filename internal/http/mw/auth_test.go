package mw

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jmylchreest/genstudio-api/internal/auth"
)

// stubVerifier accepts tokens of the form "valid:<subject>".
type stubVerifier struct{}

func (stubVerifier) VerifyToken(_ context.Context, token string) (*auth.Claims, error) {
	if len(token) > 6 && token[:6] == "valid:" {
		return &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: token[6:]}}, nil
	}
	return nil, auth.ErrInvalidToken
}

type whoamiOutput struct {
	Body struct {
		UserID string `json:"user_id"`
	}
}

func whoami(ctx context.Context, _ *struct{}) (*whoamiOutput, error) {
	out := &whoamiOutput{}
	out.Body.UserID = GetUserID(ctx)
	return out, nil
}

func newTestRouter(cfg IdentityConfig) http.Handler {
	router := chi.NewRouter()
	router.Use(Identity(cfg))
	api := humachi.New(router, huma.DefaultConfig("Test API", "1.0.0"))
	api.UseMiddleware(HumaAuth(api, HumaAuthConfig{
		IsSuperadmin: func(id string) bool { return id == "admin_1" },
	}))

	PublicGet(api, "/public", whoami)
	ProtectedGet(api, "/protected", whoami)
	ProtectedPost(api, "/optional", whoami, WithOptionalAuth())
	ProtectedGet(api, "/admin", whoami, WithSuperadmin())
	return router
}

// ========================================
// Identity Tests
// ========================================

func TestIdentity_ResolvesClaims(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		anonymous string
		wantID    string
		wantErr   bool
	}{
		{"bearer token", "Bearer valid:user_1", "", "user_1", false},
		{"raw token", "valid:user_2", "", "user_2", false},
		{"no token", "", "", "", false},
		{"no token with anonymous fallback", "", "guest", "guest", false},
		{"rejected token skips fallback", "Bearer forged", "guest", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotID string
			var gotErr error
			handler := Identity(IdentityConfig{Verifier: stubVerifier{}, AnonymousIdentity: tt.anonymous})(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					gotID = GetUserID(r.Context())
					gotErr = TokenError(r.Context())
				}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if gotID != tt.wantID {
				t.Errorf("identity = %q, want %q", gotID, tt.wantID)
			}
			if (gotErr != nil) != tt.wantErr {
				t.Errorf("TokenError() = %v, wantErr %v", gotErr, tt.wantErr)
			}
		})
	}
}

func TestIdentity_NoVerifier(t *testing.T) {
	var gotErr error
	handler := Identity(IdentityConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotErr = TokenError(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer anything")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !errors.Is(gotErr, auth.ErrNotConfigured) {
		t.Errorf("TokenError() = %v, want ErrNotConfigured", gotErr)
	}
}

// ========================================
// HumaAuth Tests
// ========================================

func TestHumaAuth(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		header     string
		anonymous  string
		wantStatus int
	}{
		{"public without token", http.MethodGet, "/public", "", "", http.StatusOK},
		{"protected without token", http.MethodGet, "/protected", "", "", http.StatusUnauthorized},
		{"protected with bad token", http.MethodGet, "/protected", "Bearer forged", "", http.StatusUnauthorized},
		{"protected with token", http.MethodGet, "/protected", "Bearer valid:user_1", "", http.StatusOK},
		{"protected with anonymous fallback", http.MethodGet, "/protected", "", "guest", http.StatusOK},
		{"optional without token", http.MethodPost, "/optional", "", "", http.StatusOK},
		{"optional with bad token", http.MethodPost, "/optional", "Bearer forged", "", http.StatusOK},
		{"admin as user", http.MethodGet, "/admin", "Bearer valid:user_1", "", http.StatusForbidden},
		{"admin as anonymous", http.MethodGet, "/admin", "", "admin_1", http.StatusForbidden},
		{"admin as superadmin", http.MethodGet, "/admin", "Bearer valid:admin_1", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(IdentityConfig{Verifier: stubVerifier{}, AnonymousIdentity: tt.anonymous})

			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestWithOptions(t *testing.T) {
	op := &huma.Operation{}
	for _, opt := range []OperationOption{
		WithOptionalAuth(),
		WithSuperadmin(),
		WithTags("Admin"),
		WithSummary("s"),
		WithOperationID("id"),
		WithErrors(http.StatusNotFound),
		WithHidden(),
	} {
		opt(op)
	}

	if !metaFlag(op, MetaKeyOptionalAuth) || !metaFlag(op, MetaKeyRequireSuperadmin) {
		t.Errorf("Metadata = %v, want both flags", op.Metadata)
	}
	if len(op.Tags) != 1 || op.Summary != "s" || op.OperationID != "id" || !op.Hidden || len(op.Errors) != 1 {
		t.Errorf("operation = %+v", op)
	}
}
