package fserrors

import (
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestClassifyJWTError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"expired", jwt.ErrTokenExpired, CodeTokenExpired},
		{"wrapped_expired", errors.Join(errors.New("context"), jwt.ErrTokenExpired), CodeTokenExpired},
		{"fallback", errors.New("malformed"), CodeInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyJWTError(tc.err); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
