package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractKey(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "http://example.com/api/pipeline", nil)
	req.Header.Set("Authorization", "Key test-token")

	token, err := ExtractKey(req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if token != "test-token" {
		t.Fatalf("unexpected token: %s", token)
	}

	req.Header.Set(FunctionKeyHeader, "header-token")
	if token, _ := ExtractKey(req); token != "header-token" {
		t.Fatalf("expected x-functions-key to win, got %s", token)
	}

	req, _ = http.NewRequest(http.MethodPost, "http://example.com/api/pipeline?code=query-token", nil)
	if token, _ := ExtractKey(req); token != "query-token" {
		t.Fatalf("expected query token, got %s", token)
	}
}

func TestExtractKeyErrors(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)

	if _, err := ExtractKey(req); err != ErrMissingKey {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}

	req.Header.Set("Authorization", "Bearer abc")
	if _, err := ExtractKey(req); err != ErrInvalidPrefix {
		t.Fatalf("expected ErrInvalidPrefix, got %v", err)
	}

	req.Header.Set("Authorization", "Key ")
	if _, err := ExtractKey(req); err != ErrMissingKey {
		t.Fatalf("expected ErrMissingKey for empty token, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Middleware(StaticKey("secret"))(ok)

	cases := []struct {
		header string
		want   int
	}{
		{"Key secret", http.StatusNoContent},
		{"Key wrong", http.StatusUnauthorized},
		{"", http.StatusUnauthorized},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/pipeline", nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != c.want {
			t.Fatalf("header %q: expected %d, got %d", c.header, c.want, rec.Code)
		}
	}

	open := Middleware(StaticKey(""))(ok)
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/pipeline", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected open access without a key, got %d", rec.Code)
	}

	broken := Middleware(func(context.Context) (string, error) { return "", errors.New("vault down") })(ok)
	rec = httptest.NewRecorder()
	broken.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/pipeline", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the key cannot be read, got %d", rec.Code)
	}
}
