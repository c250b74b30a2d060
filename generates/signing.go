package generates

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"hash"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
)

// ParseSigningKey resolves the tenant signing key into a jwt signing method
// and the key material jwt expects for it.
func ParseSigningKey(k models.SigningKey) (jwt.SigningMethod, interface{}, error) {
	method := jwt.GetSigningMethod(k.Algorithm)
	if method == nil || k.Algorithm == "none" {
		return nil, nil, errors.New("unsupported sign method")
	}
	alg := method.Alg()
	switch {
	case strings.HasPrefix(alg, "ES"):
		v, err := jwt.ParseECPrivateKeyFromPEM([]byte(k.PrivateKey))
		return method, v, err
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		v, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(k.PrivateKey))
		return method, v, err
	case strings.HasPrefix(alg, "HS"):
		return method, []byte(k.PrivateKey), nil
	case strings.HasPrefix(alg, "Ed"):
		v, err := jwt.ParseEdPrivateKeyFromPEM([]byte(k.PrivateKey))
		return method, v, err
	}
	return nil, nil, errors.New("unsupported sign method")
}

// PublicSigningKey returns the public half of an asymmetric tenant key.
func PublicSigningKey(k models.SigningKey) (crypto.PublicKey, error) {
	_, key, err := ParseSigningKey(k)
	if err != nil {
		return nil, err
	}
	switch v := key.(type) {
	case *ecdsa.PrivateKey:
		return &v.PublicKey, nil
	case *rsa.PrivateKey:
		return &v.PublicKey, nil
	case ed25519.PrivateKey:
		return v.Public(), nil
	case crypto.Signer:
		return v.Public(), nil
	}
	return nil, errors.New("symmetric keys have no public form")
}

func sign(k models.SigningKey, claims jwt.Claims) (string, error) {
	method, key, err := ParseSigningKey(k)
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(method, claims)
	if k.KeyID != "" {
		token.Header["kid"] = k.KeyID
	}
	return token.SignedString(key)
}

// leftHalfHash computes at_hash / c_hash for the given JWS algorithm.
func leftHalfHash(alg, value string) string {
	var h hash.Hash
	switch {
	case strings.HasSuffix(alg, "384"):
		h = sha512.New384()
	case strings.HasSuffix(alg, "512"), alg == "EdDSA":
		h = sha512.New()
	default:
		h = sha256.New()
	}
	h.Write([]byte(value))
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}
