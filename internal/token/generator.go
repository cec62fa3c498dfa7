// Package token produces the opaque random strings used for authorization
// codes, access tokens and refresh tokens.
package token

import (
	"crypto/rand"
	"encoding/base64"
)

const tokenBytes = 32

// Generator produces opaque credential strings.
type Generator interface {
	NewToken() (string, error)
}

type randomGenerator struct{}

// NewGenerator returns a Generator backed by crypto/rand.
func NewGenerator() Generator {
	return randomGenerator{}
}

func (randomGenerator) NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
