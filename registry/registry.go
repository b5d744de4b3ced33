// Package registry verifies that a person is entitled to register as a
// voter and derives the opaque handle stored in their place.
package registry

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// CredentialVerifier is the identity proofing oracle.
type CredentialVerifier interface {
	VerifyCredential(id, code string) bool
}

// OTPIssuer sends a one-time code to the holder of an identity.
type OTPIssuer interface {
	GenerateOTP(id string) (string, error)
}

// Oracle issues one-time codes and later checks them.
type Oracle interface {
	CredentialVerifier
	OTPIssuer
}

// DeriveHandle maps an identity number to the handle kept in voter
// records, so the raw number is never persisted.
func DeriveHandle(id, salt string) string {
	return hexutil.Encode(crypto.Keccak256([]byte("voting-core/handle/v1"), []byte(salt), []byte(id)))
}
