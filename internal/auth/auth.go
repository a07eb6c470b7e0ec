package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Rejection reasons surfaced to clients on the connection-error path. The
// exact strings are part of the client contract.
const (
	ReasonTokenRequired = "Authentication token required"
	ReasonInvalidToken  = "Invalid token"
	ReasonTokenExpired  = "Token expired"
)

var (
	ErrTokenRequired = errors.New(ReasonTokenRequired)
	ErrInvalidToken  = errors.New(ReasonInvalidToken)
	ErrTokenExpired  = errors.New(ReasonTokenExpired)
)

// Validator is the external auth collaborator: it checks a token supplied at
// connection time and yields the authenticated user id.
type Validator interface {
	Validate(token string) (userID string, err error)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId,omitempty"`
}

// JWTValidator validates HMAC-signed JWT tokens.
type JWTValidator struct {
	secret []byte
}

func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

// Validate parses and verifies the token, mapping library errors onto the
// fixed rejection reasons. The user id is read from the userId claim and
// falls back to the subject.
func (v *JWTValidator) Validate(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrTokenRequired
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwtClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwtClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}
