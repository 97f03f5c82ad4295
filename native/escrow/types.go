package escrow

import (
	"encoding/binary"
	"fmt"
)

// recordTypeTag is the leading byte of every persisted escrow record.
const recordTypeTag byte = 0x01

// EncodedSize is the exact persisted size of a record: type tag, nonce,
// maker, offered asset, requested asset, requested amount, derivation proof.
const EncodedSize = 1 + 8 + 32 + 32 + 32 + 8 + 1

// Escrow captures the immutable terms of a single open trade. The record
// lives at an address derived from (maker, nonce) and owns the custody
// account holding the offered asset. It is destroyed, together with the
// custody account, by exactly one of Fulfill or Cancel.
type Escrow struct {
	Nonce   uint64
	Maker   [32]byte
	MintA   [32]byte
	MintB   [32]byte
	Receive uint64
	Proof   uint8
}

// Clone returns a copy the caller can mutate without affecting the stored
// instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// Address re-derives this record's own address from its stored fields.
func (e *Escrow) Address() [32]byte {
	return deriveCandidate(recordTag, [][]byte{e.Maker[:], nonceBytes(e.Nonce)}, e.Proof)
}

// Witness builds the derivation witness that authorizes actions as this
// record's address.
func (e *Escrow) Witness() *Witness {
	return RecordWitness(e.Maker, e.Nonce, e.Proof)
}

// SanitizeEscrow validates an escrow definition, returning a clone. The
// requested amount must be strictly positive and the stored proof must
// re-derive a non-zero record address.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("escrow: nil escrow")
	}
	if e.Receive == 0 {
		return nil, ErrInvalidAmount
	}
	if e.Address() == ([32]byte{}) {
		return nil, ErrDerivation
	}
	return e.Clone(), nil
}

// MarshalBinary encodes the record into its fixed on-disk layout.
func (e *Escrow) MarshalBinary() ([]byte, error) {
	buf := make([]byte, EncodedSize)
	buf[0] = recordTypeTag
	binary.BigEndian.PutUint64(buf[1:9], e.Nonce)
	copy(buf[9:41], e.Maker[:])
	copy(buf[41:73], e.MintA[:])
	copy(buf[73:105], e.MintB[:])
	binary.BigEndian.PutUint64(buf[105:113], e.Receive)
	buf[113] = e.Proof
	return buf, nil
}

// UnmarshalBinary decodes a record from its fixed on-disk layout.
func (e *Escrow) UnmarshalBinary(data []byte) error {
	if len(data) != EncodedSize {
		return fmt.Errorf("escrow: record must be %d bytes, got %d", EncodedSize, len(data))
	}
	if data[0] != recordTypeTag {
		return fmt.Errorf("escrow: unexpected record tag 0x%02x", data[0])
	}
	e.Nonce = binary.BigEndian.Uint64(data[1:9])
	copy(e.Maker[:], data[9:41])
	copy(e.MintA[:], data[41:73])
	copy(e.MintB[:], data[73:105])
	e.Receive = binary.BigEndian.Uint64(data[105:113])
	e.Proof = data[113]
	return nil
}
