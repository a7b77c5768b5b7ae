package upbit

import (
	"crypto/sha512"
	"encoding/hex"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Signer builds Upbit JWT authorization headers.
type Signer struct {
	accessKey string
	secretKey string
}

// NewSigner creates a new Signer instance
func NewSigner(accessKey, secretKey string) *Signer {
	return &Signer{
		accessKey: accessKey,
		secretKey: secretKey,
	}
}

// Authorization returns the "Bearer <jwt>" header value.
// query is the unescaped query string of the request parameters, empty if none.
func (s *Signer) Authorization(query string) (string, error) {
	claims := jwt.MapClaims{
		"access_key": s.accessKey,
		"nonce":      uuid.NewString(),
	}
	if query != "" {
		claims["query_hash"] = queryHash(query)
		claims["query_hash_alg"] = "SHA512"
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.secretKey))
	if err != nil {
		return "", err
	}
	return "Bearer " + signed, nil
}

func queryHash(query string) string {
	sum := sha512.Sum512([]byte(query))
	return hex.EncodeToString(sum[:])
}
