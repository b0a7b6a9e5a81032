package utils

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// ValidateToken parses and validates a token issued by the BCA cloud.
// The field node never issues tokens itself; assessors sign in against
// the cloud while online and the node only verifies the result.
func ValidateToken(tokenString string, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
