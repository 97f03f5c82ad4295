package escrow

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Derivation tags keep record and custody addresses in disjoint spaces even
// when their seeds collide.
const (
	recordTag = "escrow/record"
	vaultTag  = "escrow/vault"
)

// deriveCandidate hashes tag, seeds, and the proof byte into a candidate
// address. Seeds are fixed-width per tag, so the concatenation is unambiguous.
func deriveCandidate(tag string, seeds [][]byte, proof uint8) [32]byte {
	buf := append([]byte(nil), tag...)
	for _, seed := range seeds {
		buf = append(buf, seed...)
	}
	buf = append(buf, proof)
	var addr [32]byte
	copy(addr[:], ethcrypto.Keccak256(buf))
	return addr
}

// deriveAddress finds the first proof byte, searching from 0xff downward,
// whose candidate is a usable address. The zero address is reserved; a proof
// deriving it is skipped so no record or custody account can ever occupy it.
func deriveAddress(tag string, seeds ...[]byte) ([32]byte, uint8, error) {
	for proof := 0xff; proof >= 0; proof-- {
		addr := deriveCandidate(tag, seeds, uint8(proof))
		if addr != ([32]byte{}) {
			return addr, uint8(proof), nil
		}
	}
	return [32]byte{}, 0, ErrDerivation
}

func nonceBytes(nonce uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, nonce)
	return buf
}

// DeriveRecord computes the address of the escrow record for (maker, nonce)
// and the proof byte that produced it.
func DeriveRecord(maker [32]byte, nonce uint64) ([32]byte, uint8, error) {
	return deriveAddress(recordTag, maker[:], nonceBytes(nonce))
}

// VerifyRecord reports whether addr is the record address derived from
// (maker, nonce) under the given proof.
func VerifyRecord(addr, maker [32]byte, nonce uint64, proof uint8) bool {
	if addr == ([32]byte{}) {
		return false
	}
	return deriveCandidate(recordTag, [][]byte{maker[:], nonceBytes(nonce)}, proof) == addr
}

// DeriveVault computes the address of the custody account owned by the record
// for the given asset, and the proof byte that produced it.
func DeriveVault(record, mint [32]byte) ([32]byte, uint8, error) {
	return deriveAddress(vaultTag, record[:], mint[:])
}

// VerifyVault reports whether addr is the custody address derived from
// (record, mint) under the given proof.
func VerifyVault(addr, record, mint [32]byte, proof uint8) bool {
	if addr == ([32]byte{}) {
		return false
	}
	return deriveCandidate(vaultTag, [][]byte{record[:], mint[:]}, proof) == addr
}

// Witness carries the inputs that re-derive an address. The ledger honours a
// transfer or closure against a derived-authority account only when the
// witness re-derives exactly that authority, so holding a witness is holding
// the right to act as the derived address.
type Witness struct {
	Tag   string
	Seeds [][]byte
	Proof uint8
}

// Address re-derives the address this witness stands for. A nil witness has
// no address.
func (w *Witness) Address() [32]byte {
	if w == nil {
		return [32]byte{}
	}
	return deriveCandidate(w.Tag, w.Seeds, w.Proof)
}

// RecordWitness builds the witness for the record derived from (maker, nonce)
// with the given proof.
func RecordWitness(maker [32]byte, nonce uint64, proof uint8) *Witness {
	return &Witness{
		Tag:   recordTag,
		Seeds: [][]byte{append([]byte(nil), maker[:]...), nonceBytes(nonce)},
		Proof: proof,
	}
}
