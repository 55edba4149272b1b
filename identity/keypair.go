// mrtchat - peer-to-peer chat substrate
// Copyright (C) 2025 sage-x-project
//
// This file is part of mrtchat.
//
// mrtchat is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// mrtchat is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with mrtchat. If not, see <https://www.gnu.org/licenses/>.

// Package identity implements the Identity Store: the own RSA-PSS
// key pair, its JWK wire encoding, and the persisted name -> public key
// map with an in-memory reverse index.
package identity

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"

	"github.com/sage-x-project/mrtchat/errs"
)

// KeyBits is the RSA modulus size for identity keys.
const KeyBits = 2048

// SaltLength is the RSA-PSS salt length used on the wire.
const SaltLength = 32

// KeyPair wraps an RSA-PSS key pair, matching the shape of the pack's
// per-curve key pair wrappers (e.g. keys.p256KeyPair): a thin struct
// around the stdlib key plus Sign/Verify/ID.
type KeyPair struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// GenerateKeyPair creates a new RSA-PSS-2048-SHA256 key pair, public
// exponent 0x010001 (the stdlib default for crypto/rsa.GenerateKey).
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, err
	}
	return &KeyPair{private: priv, public: &priv.PublicKey}, nil
}

// FromPrivateKey wraps an existing RSA private key, e.g. one decoded
// from a persisted JWK.
func FromPrivateKey(priv *rsa.PrivateKey) *KeyPair {
	return &KeyPair{private: priv, public: &priv.PublicKey}
}

// PublicKey returns the public key.
func (kp *KeyPair) PublicKey() *rsa.PublicKey { return kp.public }

// PrivateKey returns the private key.
func (kp *KeyPair) PrivateKey() *rsa.PrivateKey { return kp.private }

// Sign produces an RSA-PSS signature over SHA-256(message).
func (kp *KeyPair) Sign(message []byte) ([]byte, error) {
	hash := sha256.Sum256(message)
	return rsa.SignPSS(rand.Reader, kp.private, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: SaltLength,
		Hash:       crypto.SHA256,
	})
}

// Verify checks an RSA-PSS signature over SHA-256(message) against pub.
func Verify(pub *rsa.PublicKey, message, signature []byte) error {
	hash := sha256.Sum256(message)
	if err := rsa.VerifyPSS(pub, crypto.SHA256, hash[:], signature, &rsa.PSSOptions{
		SaltLength: SaltLength,
		Hash:       crypto.SHA256,
	}); err != nil {
		return errs.Wrap(errs.SignatureInvalid, "RSA-PSS verification failed", err)
	}
	return nil
}

// Verify checks a signature against this key pair's own public key.
func (kp *KeyPair) Verify(message, signature []byte) error {
	return Verify(kp.public, message, signature)
}

// RandomChallenge returns the 32 random bytes used as a signing challenge.
func RandomChallenge() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// LegacyString renders bytes character-by-character as a string, the
// legacy string-of-bytes wire form used for challenges and signatures.
func LegacyString(b []byte) string {
	rs := make([]rune, len(b))
	for i, c := range b {
		rs[i] = rune(c)
	}
	return string(rs)
}

// LegacyBytes inverts LegacyString.
func LegacyBytes(s string) []byte {
	rs := []rune(s)
	b := make([]byte, len(rs))
	for i, r := range rs {
		b[i] = byte(r)
	}
	return b
}
