package mockjudge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appErr "practiceoj/pkg/errors"
	"practiceoj/pkg/utils/response"
)

func TestTokenIssuer(t *testing.T) {
	issuer := NewTokenIssuer("secret", "test", time.Hour)
	token, expiresAt, err := issuer.Issue("u1")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("token already expired: %v", expiresAt)
	}
	user, err := issuer.Verify(token)
	if err != nil || user != "u1" {
		t.Fatalf("verify failed: %q %v", user, err)
	}

	other := NewTokenIssuer("other", "test", time.Hour)
	if _, err := other.Verify(token); !appErr.Is(err, appErr.TokenInvalid) {
		t.Fatalf("expected TokenInvalid, got %v", err)
	}

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := issuer.Verify(token); !appErr.Is(err, appErr.TokenExpired) {
		t.Fatalf("expected TokenExpired, got %v", err)
	}
	if _, _, err := issuer.Issue(""); !appErr.Is(err, appErr.TokenInvalid) {
		t.Fatalf("expected TokenInvalid for empty user, got %v", err)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := NewServer(Config{})
	defer srv.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/problems/1/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}

	token, _, _ := srv.Tokens().Issue("u1")
	req = httptest.NewRequest(http.MethodGet, "/api/v1/problems/1/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAuthRejectionCodes(t *testing.T) {
	srv := NewServer(Config{})
	defer srv.Close()

	tests := []struct {
		name   string
		header string
		want   appErr.ErrorCode
	}{
		{name: "missing header", header: "", want: appErr.Unauthorized},
		{name: "not bearer", header: "Basic abc", want: appErr.Unauthorized},
		{name: "malformed token", header: "Bearer not-a-jwt", want: appErr.TokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/problems/1/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
			var resp response.Response
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode body failed: %v", err)
			}
			if resp.Code != tt.want {
				t.Fatalf("expected code %d, got %d", tt.want, resp.Code)
			}
		})
	}
}
