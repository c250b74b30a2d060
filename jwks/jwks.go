// Package jwks reads client JWK sets and publishes tenant signing keys.
package jwks

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

var (
	// ErrInvalidJWKS is returned for a registered JWK set that cannot be parsed.
	ErrInvalidJWKS = errors.New("invalid jwks")
	// ErrKeyNotFound is returned when no key matches the requested kid.
	ErrKeyNotFound = errors.New("no matching key in jwks")
	// ErrAmbiguousKey is returned when no kid was given and several keys could match.
	ErrAmbiguousKey = errors.New("jwks holds several candidate keys and no kid was given")
)

// Parse decodes a JWK set document.
func Parse(raw string) (*jose.JSONWebKeySet, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidJWKS)
	}
	var set jose.JSONWebKeySet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJWKS, err)
	}
	return &set, nil
}

// WithX5C returns the keys that carry a certificate chain.
func WithX5C(set *jose.JSONWebKeySet) []jose.JSONWebKey {
	var out []jose.JSONWebKey
	for _, k := range set.Keys {
		if len(k.Certificates) > 0 {
			out = append(out, k)
		}
	}
	return out
}

// LeafX5C is the base64 DER of the first certificate in the key's x5c.
func LeafX5C(key jose.JSONWebKey) string {
	if len(key.Certificates) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(key.Certificates[0].Raw)
}

// VerificationKey selects the signature verification key for kid. Without a
// kid the set must hold exactly one signing key.
func VerificationKey(set *jose.JSONWebKeySet, kid string) (*jose.JSONWebKey, error) {
	if kid != "" {
		keys := set.Key(kid)
		for i := range keys {
			if keys[i].Use == "" || keys[i].Use == "sig" {
				return &keys[i], nil
			}
		}
		return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
	}
	var found *jose.JSONWebKey
	for i := range set.Keys {
		k := set.Keys[i]
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if found != nil {
			return nil, ErrAmbiguousKey
		}
		found = &k
	}
	if found == nil {
		return nil, ErrKeyNotFound
	}
	return found, nil
}

// PublicKey returns the public half of a JWK as a crypto.PublicKey.
func PublicKey(key *jose.JSONWebKey) crypto.PublicKey {
	if key.IsPublic() {
		return key.Key
	}
	return key.Public().Key
}

// Public builds the published JWK set for a tenant signing key.
func Public(kid, alg string, pub crypto.PublicKey) jose.JSONWebKeySet {
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       pub,
			KeyID:     kid,
			Algorithm: alg,
			Use:       "sig",
		}},
	}
}
