package upbit

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Authenticator signs requests the way Upbit expects: a short-lived HS256
// JWT carrying the access key, a nonce, and a SHA512 hash of the query
// string or request body.
type Authenticator struct {
	accessKey string
	secretKey []byte
}

func NewAuthenticator(accessKey, secretKey string) *Authenticator {
	return &Authenticator{
		accessKey: accessKey,
		secretKey: []byte(secretKey),
	}
}

func (a *Authenticator) AddAuthHeaders(req *http.Request, query string) error {
	token, err := a.generateJWT(query)
	if err != nil {
		return fmt.Errorf("failed to generate JWT: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (a *Authenticator) generateJWT(query string) (string, error) {
	claims := jwt.MapClaims{
		"access_key": a.accessKey,
		"nonce":      uuid.NewString(),
	}

	if query != "" {
		hash := sha512.Sum512([]byte(query))
		claims["query_hash"] = hex.EncodeToString(hash[:])
		claims["query_hash_alg"] = "SHA512"
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(a.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}
