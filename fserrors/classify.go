package fserrors

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// ClassifyJWTError maps a golang-jwt parse/verify error onto a stable
// wire Code, distinguishing expiry from every other validation
// failure as required by §4.4.
func ClassifyJWTError(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, jwt.ErrTokenExpired):
		return CodeTokenExpired
	default:
		return CodeInvalidToken
	}
}
