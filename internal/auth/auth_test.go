package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVerify(t *testing.T) {
	g := NewGate("s3cret")
	tests := []struct {
		name   string
		header string
		ok     bool
	}{
		{"valid", "Bearer s3cret", true},
		{"lowercase scheme", "bearer s3cret", true},
		{"wrong token", "Bearer invalid_token", false},
		{"missing", "", false},
		{"wrong scheme", "NotBearer s3cret", false},
		{"basic scheme", "Basic czNjcmV0", false},
		{"no credential", "Bearer ", false},
		{"scheme only", "Bearer", false},
		{"prefix of secret", "Bearer s3c", false},
		{"secret with suffix", "Bearer s3cret!", false},
		{"double space", "Bearer  s3cret", false},
		{"trailing spaces", "Bearer s3cret  ", false},
		{"leading space", " Bearer s3cret", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := g.Verify(tt.header)
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if token != "s3cret" {
					t.Errorf("got token %q, want s3cret", token)
				}
				return
			}
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("got %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	g := NewGate("s3cret")
	var called bool
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/embed-text", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !called {
		t.Error("expected next handler to run")
	}
	called = false

	req = httptest.NewRequest(http.MethodPost, "/embed-text", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if called {
		t.Error("next handler ran for a rejected token")
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["detail"] != "Invalid authentication credentials" {
		t.Errorf("got detail %q", body["detail"])
	}
}
