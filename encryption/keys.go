package encryption

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

const (
	// PrivateKeySize is the width of a serialized private scalar.
	PrivateKeySize = 32
	// PublicKeySize is the width of a compressed SEC1 public key.
	PublicKeySize = 33

	maxKeyAttempts = 16
)

// PrivateKey is a secp256k1 scalar owned by the voter-side process.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// PublicKey is a secp256k1 point.
type PublicKey struct {
	key *secp256k1.PublicKey
}

// KeyManager generates voter keypairs on the group shared with the
// signature engine.
type KeyManager struct {
	rand io.Reader
}

func NewKeyManager() *KeyManager {
	return &KeyManager{rand: rand.Reader}
}

// NewKeyManagerWithRand uses r as the randomness source.
func NewKeyManagerWithRand(r io.Reader) *KeyManager {
	return &KeyManager{rand: r}
}

// GenerateKeyPair generates a new secp256k1 key pair
func (km *KeyManager) GenerateKeyPair() (*PublicKey, *PrivateKey, error) {
	s, err := randomScalar(km.rand)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	priv := &PrivateKey{key: secp256k1.NewPrivateKey(s)}
	return priv.Public(), priv, nil
}

// randomScalar draws a uniformly random non-zero scalar mod n.
func randomScalar(r io.Reader) (*secp256k1.ModNScalar, error) {
	var buf [32]byte
	defer zeroBytes(buf[:])

	for i := 0; i < maxKeyAttempts; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, fmt.Errorf("read randomness: %w", err)
		}

		var s secp256k1.ModNScalar
		if overflow := s.SetBytes(&buf); overflow != 0 || s.IsZero() {
			continue
		}
		return &s, nil
	}

	return nil, fmt.Errorf("no valid scalar after %d draws", maxKeyAttempts)
}

// Bytes returns the fixed-width big-endian scalar.
func (k *PrivateKey) Bytes() []byte {
	return k.key.Serialize()
}

func (k *PrivateKey) Public() *PublicKey {
	return &PublicKey{key: k.key.PubKey()}
}

// ECDSA converts the key for use with go-ethereum signing APIs.
func (k *PrivateKey) ECDSA() (*ecdsa.PrivateKey, error) {
	return crypto.ToECDSA(k.Bytes())
}

// Zero wipes the scalar. The key must not be used afterwards.
func (k *PrivateKey) Zero() {
	k.key.Zero()
}

func (k *PrivateKey) scalar() *secp256k1.ModNScalar {
	return &k.key.Key
}

// Bytes returns the 33-byte compressed encoding.
func (p *PublicKey) Bytes() []byte {
	return p.key.SerializeCompressed()
}

func (p *PublicKey) Hex() string {
	return hexutil.Encode(p.Bytes())
}

func (p *PublicKey) Equal(other *PublicKey) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.key.IsEqual(other.key)
}

func (p *PublicKey) compare(other *PublicKey) int {
	return bytes.Compare(p.Bytes(), other.Bytes())
}

func (p *PublicKey) jacobian(result *secp256k1.JacobianPoint) {
	p.key.AsJacobian(result)
}

// ParsePrivateKey decodes a 32-byte scalar. Zero and out-of-range scalars
// are rejected.
func ParsePrivateKey(b []byte) (*PrivateKey, error) {
	if len(b) != PrivateKeySize {
		return nil, fmt.Errorf("%w: private key must be %d bytes, got %d", ErrInvalidKey, PrivateKeySize, len(b))
	}
	if _, err := crypto.ToECDSA(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &PrivateKey{key: secp256k1.PrivKeyFromBytes(b)}, nil
}

// ParsePublicKey decodes a 33-byte compressed point.
func ParsePublicKey(b []byte) (*PublicKey, error) {
	if len(b) != PublicKeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrInvalidKey, PublicKeySize, len(b))
	}
	if _, err := crypto.DecompressPubkey(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	key, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &PublicKey{key: key}, nil
}

// ParsePrivateKeyHex accepts the hex scalar with or without a 0x prefix.
func ParsePrivateKeyHex(s string) (*PrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: decode private key hex: %v", ErrInvalidKey, err)
	}
	defer zeroBytes(b)
	return ParsePrivateKey(b)
}

func ParsePublicKeyHex(s string) (*PublicKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: decode public key hex: %v", ErrInvalidKey, err)
	}
	return ParsePublicKey(b)
}

// Keccak256 computes Keccak-256 hash
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
