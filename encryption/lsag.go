package encryption

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"sort"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Engine implements a linkable spontaneous anonymous group signature (LSAG)
// over secp256k1 with event-bound linkability: the tag x·Hp(context)
// depends only on the signing key and the context, never on the message or
// the ring. Two signatures by one key under one context therefore share a
// tag, while tags under different contexts cannot be correlated.
//
// An Engine holds no secrets and is safe for concurrent use.
type Engine struct {
	rand io.Reader
}

func NewEngine() *Engine {
	return &Engine{rand: rand.Reader}
}

// DeriveLinkabilityTag returns x·Hp(context).
func (e *Engine) DeriveLinkabilityTag(priv *PrivateKey, context []byte) (Tag, error) {
	if priv == nil {
		return Tag{}, fmt.Errorf("%w: nil private key", ErrSignature)
	}
	if err := checkContext(context); err != nil {
		return Tag{}, err
	}

	hp, err := hashToPoint(context)
	if err != nil {
		return Tag{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	var image secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(priv.scalar(), hp, &image)

	var tag Tag
	copy(tag[:], encodePoint(&image))
	return tag, nil
}

// Sign signs message under context with a ring containing only the
// signer's own key.
func (e *Engine) Sign(message []byte, priv *PrivateKey, context []byte) (*Signature, Tag, error) {
	if priv == nil {
		return nil, Tag{}, fmt.Errorf("%w: nil private key", ErrSignature)
	}
	return e.SignRing(message, priv, context, []*PublicKey{priv.Public()})
}

// SignRing signs message under context, hiding the signer among ring. The
// signer's public key must be a member of ring.
func (e *Engine) SignRing(message []byte, priv *PrivateKey, context []byte, ring []*PublicKey) (*Signature, Tag, error) {
	if priv == nil {
		return nil, Tag{}, fmt.Errorf("%w: nil private key", ErrSignature)
	}
	if len(message) == 0 {
		return nil, Tag{}, fmt.Errorf("%w: empty message", ErrSignature)
	}

	ring, err := canonicalRing(ring)
	if err != nil {
		return nil, Tag{}, err
	}

	pub := priv.Public()
	signer := -1
	for i, pk := range ring {
		if pk.Equal(pub) {
			signer = i
			break
		}
	}
	if signer < 0 {
		return nil, Tag{}, fmt.Errorf("%w: signer key not in ring", ErrSignature)
	}

	tag, err := e.DeriveLinkabilityTag(priv, context)
	if err != nil {
		return nil, Tag{}, err
	}

	hp, err := hashToPoint(context)
	if err != nil {
		return nil, Tag{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	image, err := tagPoint(tag)
	if err != nil {
		return nil, Tag{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	n := len(ring)
	points := ringPoints(ring)
	digest := ringDigest(ring)

	alpha, err := randomScalar(e.rand)
	if err != nil {
		return nil, Tag{}, fmt.Errorf("%w: nonce: %v", ErrSignature, err)
	}
	defer alpha.Zero()

	c := make([]secp256k1.ModNScalar, n)
	s := make([]secp256k1.ModNScalar, n)

	var l, r secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(alpha, &l)
	secp256k1.ScalarMultNonConst(alpha, hp, &r)
	c[(signer+1)%n].Set(challenge(context, digest, tag, message, &l, &r))

	for k := 1; k < n; k++ {
		i := (signer + k) % n

		si, err := randomScalar(e.rand)
		if err != nil {
			return nil, Tag{}, fmt.Errorf("%w: nonce: %v", ErrSignature, err)
		}
		s[i].Set(si)

		li := combineBase(&s[i], &c[i], &points[i])
		ri := combine(&s[i], hp, &c[i], image)
		c[(i+1)%n].Set(challenge(context, digest, tag, message, li, ri))
	}

	// s_π = α - c_π·x
	var cx secp256k1.ModNScalar
	cx.Mul2(&c[signer], priv.scalar()).Negate()
	s[signer].Add2(alpha, &cx)

	sig := &Signature{
		Context: append([]byte(nil), context...),
		Ring:    ring,
		Tag:     tag,
		s:       s,
	}
	sig.c0.Set(&c[0])

	return sig, tag, nil
}

// Verify reports whether sig is a valid encoded signature over message and
// pub is a member of its ring. Any malformed input yields false.
func (e *Engine) Verify(message, sig []byte, pub *PublicKey) bool {
	if pub == nil {
		return false
	}

	parsed, err := ParseSignature(sig)
	if err != nil {
		return false
	}

	member := false
	for _, pk := range parsed.Ring {
		if pk.Equal(pub) {
			member = true
			break
		}
	}

	return member && e.VerifySignature(message, parsed)
}

// VerifyRing reports whether sig is valid over message and was produced
// with exactly the given ring (in any order).
func (e *Engine) VerifyRing(message, sig []byte, ring []*PublicKey) bool {
	parsed, err := ParseSignature(sig)
	if err != nil {
		return false
	}

	want, err := canonicalRing(ring)
	if err != nil || len(want) != len(parsed.Ring) {
		return false
	}
	for i := range want {
		if !want[i].Equal(parsed.Ring[i]) {
			return false
		}
	}

	return e.VerifySignature(message, parsed)
}

// VerifySignature checks the ring equations of an already parsed
// signature.
func (e *Engine) VerifySignature(message []byte, sig *Signature) bool {
	if sig == nil || len(message) == 0 || len(sig.Ring) == 0 || len(sig.s) != len(sig.Ring) {
		return false
	}
	if checkContext(sig.Context) != nil {
		return false
	}

	hp, err := hashToPoint(sig.Context)
	if err != nil {
		return false
	}
	image, err := tagPoint(sig.Tag)
	if err != nil {
		return false
	}

	points := ringPoints(sig.Ring)
	digest := ringDigest(sig.Ring)

	var c secp256k1.ModNScalar
	c.Set(&sig.c0)
	for i := range sig.Ring {
		li := combineBase(&sig.s[i], &c, &points[i])
		ri := combine(&sig.s[i], hp, &c, image)
		c.Set(challenge(sig.Context, digest, sig.Tag, message, li, ri))
	}

	return c.Equals(&sig.c0)
}

func challenge(context, digest []byte, tag Tag, message []byte, l, r *secp256k1.JacobianPoint) *secp256k1.ModNScalar {
	return hashToScalar(challengeDomain, context, digest, tag[:], message, encodePoint(l), encodePoint(r))
}

func checkContext(context []byte) error {
	if len(context) == 0 {
		return fmt.Errorf("%w: empty context", ErrSignature)
	}
	if len(context) > MaxContextSize {
		return fmt.Errorf("%w: context longer than %d bytes", ErrSignature, MaxContextSize)
	}
	return nil
}

// canonicalRing sorts a copy of ring by encoding and rejects duplicates.
func canonicalRing(ring []*PublicKey) ([]*PublicKey, error) {
	if len(ring) == 0 {
		return nil, fmt.Errorf("%w: empty ring", ErrSignature)
	}
	if len(ring) > MaxRingSize {
		return nil, fmt.Errorf("%w: ring larger than %d", ErrSignature, MaxRingSize)
	}

	sorted := make([]*PublicKey, len(ring))
	for i, pk := range ring {
		if pk == nil {
			return nil, fmt.Errorf("%w: nil ring member", ErrSignature)
		}
		sorted[i] = pk
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].compare(sorted[j]) < 0
	})

	for i := 1; i < len(sorted); i++ {
		if bytes.Equal(sorted[i-1].Bytes(), sorted[i].Bytes()) {
			return nil, fmt.Errorf("%w: duplicate ring member", ErrSignature)
		}
	}
	return sorted, nil
}

func ringPoints(ring []*PublicKey) []secp256k1.JacobianPoint {
	points := make([]secp256k1.JacobianPoint, len(ring))
	for i, pk := range ring {
		pk.jacobian(&points[i])
	}
	return points
}

func ringDigest(ring []*PublicKey) []byte {
	parts := make([][]byte, 0, len(ring)+1)
	parts = append(parts, []byte(ringDigestDomain))
	for _, pk := range ring {
		parts = append(parts, pk.Bytes())
	}
	return Keccak256(parts...)
}

func tagPoint(tag Tag) (*secp256k1.JacobianPoint, error) {
	pk, err := secp256k1.ParsePubKey(tag[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTag, err)
	}
	var p secp256k1.JacobianPoint
	pk.AsJacobian(&p)
	return &p, nil
}
