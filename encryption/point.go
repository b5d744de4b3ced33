package encryption

import (
	"encoding/binary"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/sha3"
)

const (
	hashToPointDomain   = "voting-core/lsag/hash-to-point/v1"
	challengeDomain     = "voting-core/lsag/challenge/v1"
	ringDigestDomain    = "voting-core/lsag/ring/v1"
	maxHashToPointTries = 256
)

var errNoCurvePoint = errors.New("hash to point: no candidate on curve")

// hashToPoint maps a context onto the curve by try-and-increment. Nobody
// knows the discrete log of the result relative to G.
func hashToPoint(context []byte) (*secp256k1.JacobianPoint, error) {
	candidate := make([]byte, PublicKeySize)
	candidate[0] = secp256k1.PubKeyFormatCompressedEven

	for i := 0; i < maxHashToPointTries; i++ {
		copy(candidate[1:], Keccak256([]byte(hashToPointDomain), context, []byte{byte(i)}))

		pk, err := secp256k1.ParsePubKey(candidate)
		if err != nil {
			continue
		}

		var p secp256k1.JacobianPoint
		pk.AsJacobian(&p)
		return &p, nil
	}

	return nil, errNoCurvePoint
}

// hashToScalar hashes length-prefixed parts under a domain and reduces mod n.
func hashToScalar(domain string, parts ...[]byte) *secp256k1.ModNScalar {
	d := sha3.NewLegacyKeccak256()
	writeFramed(d, []byte(domain))
	for _, p := range parts {
		writeFramed(d, p)
	}

	var s secp256k1.ModNScalar
	s.SetByteSlice(d.Sum(nil))
	return &s
}

func writeFramed(w interface{ Write([]byte) (int, error) }, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	w.Write(n[:])
	w.Write(b)
}

// encodePoint returns the compressed encoding, or 33 zero bytes for the
// point at infinity. p is not modified.
func encodePoint(p *secp256k1.JacobianPoint) []byte {
	var affine secp256k1.JacobianPoint
	affine.Set(p)

	if affine.Z.IsZero() {
		return make([]byte, PublicKeySize)
	}
	affine.ToAffine()
	if affine.X.IsZero() && affine.Y.IsZero() {
		return make([]byte, PublicKeySize)
	}

	return secp256k1.NewPublicKey(&affine.X, &affine.Y).SerializeCompressed()
}

// combine computes s·A + c·B.
func combine(s *secp256k1.ModNScalar, a *secp256k1.JacobianPoint, c *secp256k1.ModNScalar, b *secp256k1.JacobianPoint) *secp256k1.JacobianPoint {
	var sa, cb, result secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(s, a, &sa)
	secp256k1.ScalarMultNonConst(c, b, &cb)
	secp256k1.AddNonConst(&sa, &cb, &result)
	return &result
}

// combineBase computes s·G + c·B.
func combineBase(s *secp256k1.ModNScalar, c *secp256k1.ModNScalar, b *secp256k1.JacobianPoint) *secp256k1.JacobianPoint {
	var sg, cb, result secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(s, &sg)
	secp256k1.ScalarMultNonConst(c, b, &cb)
	secp256k1.AddNonConst(&sg, &cb, &result)
	return &result
}
