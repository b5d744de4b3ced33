package encryption

import (
	"encoding/binary"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	signatureVersion byte = 1
	curveSecp256k1   byte = 1

	// MaxRingSize bounds the anonymity set carried by one signature.
	MaxRingSize = 1024
	// MaxContextSize bounds the linkability context (the election id).
	MaxContextSize = 256

	scalarSize = 32
	headerSize = 1 + 1 + 2 + 2 // version, curve, context length, ring length
)

// Tag is a linkability tag: the compressed point x·Hp(context).
type Tag [PublicKeySize]byte

func (t Tag) Bytes() []byte {
	return t[:]
}

func (t Tag) Hex() string {
	return hexutil.Encode(t[:])
}

func (t Tag) IsZero() bool {
	return t == Tag{}
}

// ParseTag checks that b is a valid point encoding.
func ParseTag(b []byte) (Tag, error) {
	var t Tag
	if len(b) != PublicKeySize {
		return t, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidTag, PublicKeySize, len(b))
	}
	if _, err := secp256k1.ParsePubKey(b); err != nil {
		return t, fmt.Errorf("%w: %v", ErrInvalidTag, err)
	}
	copy(t[:], b)
	return t, nil
}

// Signature is a linkable ring signature. Ring keys are kept in canonical
// (byte-sorted) order so the signer position carries no information.
type Signature struct {
	Context []byte
	Ring    []*PublicKey
	Tag     Tag

	c0 secp256k1.ModNScalar
	s  []secp256k1.ModNScalar
}

// Bytes serializes the signature:
//
//	version | curve | len(context) u16 | context | len(ring) u16 |
//	ring keys (33 each) | tag (33) | c0 (32) | s[i] (32 each)
func (sig *Signature) Bytes() []byte {
	n := len(sig.Ring)
	out := make([]byte, 0, headerSize+len(sig.Context)+n*PublicKeySize+PublicKeySize+scalarSize*(n+1))

	out = append(out, signatureVersion, curveSecp256k1)
	out = binary.BigEndian.AppendUint16(out, uint16(len(sig.Context)))
	out = append(out, sig.Context...)
	out = binary.BigEndian.AppendUint16(out, uint16(n))
	for _, pk := range sig.Ring {
		out = append(out, pk.Bytes()...)
	}
	out = append(out, sig.Tag[:]...)

	c0 := sig.c0.Bytes()
	out = append(out, c0[:]...)
	for i := range sig.s {
		b := sig.s[i].Bytes()
		out = append(out, b[:]...)
	}
	return out
}

// ParseSignature decodes and structurally validates a signature. It never
// panics on truncated or oversized input.
func ParseSignature(b []byte) (*Signature, error) {
	r := reader{buf: b}

	version, ok := r.readByte()
	if !ok {
		return nil, fmt.Errorf("%w: truncated header", ErrMalformedSignature)
	}
	if version != signatureVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedSignature, version)
	}

	curve, ok := r.readByte()
	if !ok {
		return nil, fmt.Errorf("%w: truncated header", ErrMalformedSignature)
	}
	if curve != curveSecp256k1 {
		return nil, fmt.Errorf("%w: unexpected curve id %d", ErrMalformedSignature, curve)
	}

	ctxLen, ok := r.readUint16()
	if !ok || ctxLen == 0 || int(ctxLen) > MaxContextSize {
		return nil, fmt.Errorf("%w: bad context length", ErrMalformedSignature)
	}
	context, ok := r.next(int(ctxLen))
	if !ok {
		return nil, fmt.Errorf("%w: truncated context", ErrMalformedSignature)
	}

	ringLen, ok := r.readUint16()
	if !ok || ringLen == 0 || int(ringLen) > MaxRingSize {
		return nil, fmt.Errorf("%w: bad ring size", ErrMalformedSignature)
	}
	n := int(ringLen)

	// Everything after the ring length has a fixed width.
	if want := n*PublicKeySize + PublicKeySize + (n+1)*scalarSize; r.remaining() != want {
		return nil, fmt.Errorf("%w: want %d trailing bytes, got %d", ErrMalformedSignature, want, r.remaining())
	}

	sig := &Signature{
		Context: append([]byte(nil), context...),
		Ring:    make([]*PublicKey, n),
		s:       make([]secp256k1.ModNScalar, n),
	}

	for i := 0; i < n; i++ {
		raw, _ := r.next(PublicKeySize)
		pk, err := ParsePublicKey(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: ring member %d: %v", ErrMalformedSignature, i, err)
		}
		if i > 0 && sig.Ring[i-1].compare(pk) >= 0 {
			return nil, fmt.Errorf("%w: ring not in canonical order", ErrMalformedSignature)
		}
		sig.Ring[i] = pk
	}

	rawTag, _ := r.next(PublicKeySize)
	tag, err := ParseTag(rawTag)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	sig.Tag = tag

	rawC0, _ := r.next(scalarSize)
	if overflow := sig.c0.SetByteSlice(rawC0); overflow {
		return nil, fmt.Errorf("%w: challenge out of range", ErrMalformedSignature)
	}
	for i := 0; i < n; i++ {
		raw, _ := r.next(scalarSize)
		if overflow := sig.s[i].SetByteSlice(raw); overflow {
			return nil, fmt.Errorf("%w: response %d out of range", ErrMalformedSignature, i)
		}
	}

	return sig, nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) next(n int) ([]byte, bool) {
	if n < 0 || r.remaining() < n {
		return nil, false
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, true
}

func (r *reader) readByte() (byte, bool) {
	b, ok := r.next(1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

func (r *reader) readUint16() (uint16, bool) {
	b, ok := r.next(2)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint16(b), true
}
