package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrMissingKey indicates that no function key was provided.
	ErrMissingKey = errors.New("missing function key")
	// ErrInvalidPrefix indicates the Authorization header did not use the Key prefix.
	ErrInvalidPrefix = errors.New("invalid authorization prefix")
	// ErrInvalidKey indicates the key did not match.
	ErrInvalidKey = errors.New("invalid function key")
)

// FunctionKeyHeader is the header accepted in place of Authorization.
const FunctionKeyHeader = "x-functions-key"

// ExtractKey returns the function key of r, read from the x-functions-key header,
// an "Authorization: Key <k>" header, or the code query parameter, in that order.
func ExtractKey(r *http.Request) (string, error) {
	if key := strings.TrimSpace(r.Header.Get(FunctionKeyHeader)); key != "" {
		return key, nil
	}

	if header := r.Header.Get("Authorization"); header != "" {
		if !strings.HasPrefix(header, "Key ") {
			return "", ErrInvalidPrefix
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Key "))
		if token == "" {
			return "", ErrMissingKey
		}
		return token, nil
	}

	if code := r.URL.Query().Get("code"); code != "" {
		return code, nil
	}
	return "", ErrMissingKey
}

// KeyFunc returns the expected function key. An empty key disables the check.
type KeyFunc func(ctx context.Context) (string, error)

// Middleware rejects requests whose function key does not equal the key returned by key.
func Middleware(key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			want, err := key(r.Context())
			if err != nil {
				http.Error(w, "function key unavailable", http.StatusServiceUnavailable)
				return
			}
			if want == "" {
				next.ServeHTTP(w, r)
				return
			}
			got, err := ExtractKey(r)
			if err == nil && subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				err = ErrInvalidKey
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// StaticKey returns a KeyFunc for a fixed key.
func StaticKey(key string) KeyFunc {
	return func(context.Context) (string, error) { return key, nil }
}
