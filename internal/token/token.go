package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("token is not valid")

type Claims struct {
	jwt.RegisteredClaims
	UserCode string `json:"user_code"`
}

// BuildJWTString создаёт токен и возвращает его в виде строки.
func BuildJWTString(userCode string, secret string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		UserCode: userCode,
	})
	return token.SignedString([]byte(secret))
}

func GetUserCode(tokenString string, secret string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.UserCode == "" {
		return "", ErrInvalidToken
	}
	return claims.UserCode, nil
}
