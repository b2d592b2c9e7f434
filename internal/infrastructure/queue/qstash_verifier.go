package queue

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignatureHeader carries the JWT QStash signs every delivery with
const SignatureHeader = "Upstash-Signature"

// ErrInvalidSignature is returned for a delivery that was not signed by QStash
var ErrInvalidSignature = errors.New("invalid qstash signature")

const (
	qstashIssuer = "Upstash"
	clockSkew    = 5 * time.Second
)

// qstashClaims is the token QStash attaches; Body is the base64url sha256 of the request body
type qstashClaims struct {
	jwt.RegisteredClaims
	Body string `json:"body"`
}

// QStashVerifier checks the HS256 JWT in the Upstash-Signature header
type QStashVerifier struct {
	currentKey string
	nextKey    string
	now        func() time.Time
}

// NewQStashVerifier creates a verifier; nextKey may be empty
func NewQStashVerifier(currentKey, nextKey string) *QStashVerifier {
	return &QStashVerifier{
		currentKey: currentKey,
		nextKey:    nextKey,
		now:        time.Now,
	}
}

// Verify returns nil when signature is a valid QStash token for body.
// The next key is tried when the current one fails so key rotation does not drop deliveries.
func (v *QStashVerifier) Verify(signature string, body []byte) error {
	err := v.verifyWithKey(v.currentKey, signature, body)
	if err == nil || v.nextKey == "" {
		return err
	}
	return v.verifyWithKey(v.nextKey, signature, body)
}

func (v *QStashVerifier) verifyWithKey(key, signature string, body []byte) error {
	if key == "" {
		return fmt.Errorf("%w: no signing key", ErrInvalidSignature)
	}

	var claims qstashClaims
	_, err := jwt.ParseWithClaims(signature, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(key), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(qstashIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	sum := sha256.Sum256(body)
	if strings.TrimRight(claims.Body, "=") != base64.RawURLEncoding.EncodeToString(sum[:]) {
		return fmt.Errorf("%w: body hash mismatch", ErrInvalidSignature)
	}
	return nil
}
