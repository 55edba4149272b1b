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

package identity

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
)

// JWK mirrors the pack's crypto/formats key struct shape (kty, crv/n/e,
// x/y, d, kid, use, alg), specialized here to kty="RSA", alg="PS256".
type JWK struct {
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
	D   string `json:"d,omitempty"`
	Kid string `json:"kid,omitempty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
}

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func unb64(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }

// ExportJWK serializes the key pair (private + public parts) as a JWK,
// suitable for persistence under privateKeyString/publicKeyString.
func (kp *KeyPair) ExportJWK() *JWK {
	return &JWK{
		Kty: "RSA",
		N:   b64(kp.public.N.Bytes()),
		E:   b64(big.NewInt(int64(kp.public.E)).Bytes()),
		D:   b64(kp.private.D.Bytes()),
		Use: "sig",
		Alg: "PS256",
	}
}

// ExportPublicJWK serializes only the public half of the key pair.
func (kp *KeyPair) ExportPublicJWK() *JWK {
	j := kp.ExportJWK()
	j.D = ""
	return j
}

// MarshalJWK renders a JWK as a compact JSON string, the form persisted
// under the privateKeyString/publicKeyString kv keys.
func MarshalJWK(j *JWK) (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ImportPublicKey parses a JWK-encoded public key string into an
// *rsa.PublicKey, the form used to verify a peer's challenge signature.
func ImportPublicKey(jwkString string) (*rsa.PublicKey, error) {
	var j JWK
	if err := json.Unmarshal([]byte(jwkString), &j); err != nil {
		return nil, fmt.Errorf("parse JWK: %w", err)
	}
	if j.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported JWK kty %q", j.Kty)
	}
	nBytes, err := unb64(j.N)
	if err != nil {
		return nil, fmt.Errorf("decode JWK n: %w", err)
	}
	eBytes, err := unb64(j.E)
	if err != nil {
		return nil, fmt.Errorf("decode JWK e: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

// ImportKeyPair parses a JWK-encoded key pair (including the private
// exponent d) back into a *KeyPair.
func ImportKeyPair(jwkString string) (*KeyPair, error) {
	var j JWK
	if err := json.Unmarshal([]byte(jwkString), &j); err != nil {
		return nil, fmt.Errorf("parse JWK: %w", err)
	}
	if j.Kty != "RSA" || j.D == "" {
		return nil, fmt.Errorf("JWK does not contain an RSA private key")
	}
	pub, err := ImportPublicKey(jwkString)
	if err != nil {
		return nil, err
	}
	dBytes, err := unb64(j.D)
	if err != nil {
		return nil, fmt.Errorf("decode JWK d: %w", err)
	}
	priv := &rsa.PrivateKey{
		PublicKey: *pub,
		D:         new(big.Int).SetBytes(dBytes),
	}
	// Precompute is optional for PSS sign/verify since we don't fill
	// Primes/CRT values from a bare (n, e, d) JWK; Sign falls back to
	// the non-CRT path automatically when Precomputed is zero and
	// Primes is empty only if we avoid calling Precompute at all.
	return &KeyPair{private: priv, public: pub}, nil
}
