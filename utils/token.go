package utils

import (
	"errors"
	"fmt"

	"gig-messenger/config"

	"github.com/golang-jwt/jwt/v5"
)

// TokenMetadata struct to describe metadata in JWT.
type TokenMetadata struct {
	Id  string
	Otp bool
	Exp int64
}

var ErrInvalidClaims = errors.New("invalid token claims")

// CheckAndExtractTokenMetadata verifies an HS512 token signed with the key held in
// the keyEnvName variable and returns its claims.
func CheckAndExtractTokenMetadata(token string, keyEnvName string) (*TokenMetadata, error) {
	t, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		return []byte(config.Config(keyEnvName)), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return nil, ErrInvalidClaims
	}
	return ClaimsMetadata(claims)
}

// ClaimsMetadata reads the id, otp and exp claims. id may be a string or a number.
func ClaimsMetadata(claims jwt.MapClaims) (*TokenMetadata, error) {
	var id string
	switch v := claims["id"].(type) {
	case string:
		id = v
	case float64:
		id = fmt.Sprintf("%.0f", v)
	}
	if id == "" {
		return nil, ErrInvalidClaims
	}

	otp, _ := claims["otp"].(bool)
	exp, _ := claims["exp"].(float64)

	return &TokenMetadata{
		Id:  id,
		Otp: otp,
		Exp: int64(exp),
	}, nil
}
