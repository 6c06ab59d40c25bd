package auth

import (
	"errors"
	"fmt"
	"time"

	"rpcguard/internal/support"

	"github.com/golang-jwt/jwt/v5"
)

const adminTokenLifetime = 12 * time.Hour

func jwtSecret() []byte {
	return []byte(support.GetEnv("JWT_SECRET", "rpcguard-dev-secret"))
}

// GenerateAdminToken issues the dashboard session token after the admin
// wallet check passed.
func GenerateAdminToken(wallet string) (string, error) {
	claims := jwt.MapClaims{
		"wallet": wallet,
		"role":   "admin",
		"exp":    time.Now().Add(adminTokenLifetime).Unix(),
		"iat":    time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret())
}

// ValidateJWT parses and verifies a session token, returning its claims.
func ValidateJWT(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
