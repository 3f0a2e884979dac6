package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/hkdf"
)

const codecName = "repricer-credential"

// Codec turns a Credential into an authenticated, encrypted blob.
type Codec struct {
	sc *securecookie.SecureCookie
}

func NewCodec(hashKey, blockKey []byte) *Codec {
	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	// browser state outgrows a cookie; expiry is carried by the credential
	sc.MaxLength(0)
	sc.MaxAge(0)
	return &Codec{sc: sc}
}

// NewCodecFromSecret derives both keys from one secret.
func NewCodecFromSecret(secret []byte) (*Codec, error) {
	hashKey, blockKey, err := DeriveKeys(secret)
	if err != nil {
		return nil, err
	}
	return NewCodec(hashKey, blockKey), nil
}

func (c *Codec) Encode(cred Credential) ([]byte, error) {
	s, err := c.sc.Encode(codecName, cred)
	if err != nil {
		return nil, fmt.Errorf("encode credential: %w", err)
	}
	return []byte(s), nil
}

func (c *Codec) Decode(blob []byte) (Credential, error) {
	var cred Credential
	if err := c.sc.Decode(codecName, string(blob), &cred); err != nil {
		return Credential{}, fmt.Errorf("decode credential: %w", err)
	}
	return cred, nil
}

// DeriveKeys expands secret into a 64-byte HMAC key and a 32-byte AES key.
func DeriveKeys(secret []byte) (hashKey, blockKey []byte, err error) {
	if len(secret) < 16 {
		return nil, nil, errors.New("session secret must be at least 16 bytes")
	}
	hashKey = make([]byte, 64)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte("repricer session hash")), hashKey); err != nil {
		return nil, nil, fmt.Errorf("derive hash key: %w", err)
	}
	blockKey = make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte("repricer session block")), blockKey); err != nil {
		return nil, nil, fmt.Errorf("derive block key: %w", err)
	}
	return hashKey, blockKey, nil
}
