package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// IdentityPrefix is the human-readable part used when rendering identities.
const IdentityPrefix = "svt"

// RecordPrefix is the human-readable part used when rendering derived escrow
// record addresses.
const RecordPrefix = "svr"

// PrivateKey wraps a secp256k1 private key.
type PrivateKey struct {
	pk *ecdsa.PrivateKey
}

// GeneratePrivateKey creates a fresh secp256k1 keypair.
func GeneratePrivateKey() (*PrivateKey, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{pk: pk}, nil
}

// PrivateKeyFromBytes restores a private key from its 32-byte representation.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	pk, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{pk: pk}, nil
}

// Bytes returns the 32-byte private key material.
func (p *PrivateKey) Bytes() []byte {
	return ethcrypto.FromECDSA(p.pk)
}

// PubKey returns the public half of the keypair.
func (p *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{pub: &p.pk.PublicKey}
}

// Sign produces a 65-byte recoverable signature over a 32-byte digest.
func (p *PrivateKey) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("crypto: digest must be 32 bytes, got %d", len(digest))
	}
	return ethcrypto.Sign(digest, p.pk)
}

// PublicKey wraps a secp256k1 public key.
type PublicKey struct {
	pub *ecdsa.PublicKey
}

// Identity derives the caller identity for this key: the full keccak256 hash
// of the uncompressed public key. Unlike a truncated address, the 32-byte form
// lives in the same space as derived record and custody addresses, so a single
// authority field can hold either.
func (p *PublicKey) Identity() [32]byte {
	raw := ethcrypto.FromECDSAPub(p.pub)
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(raw[1:]))
	return id
}

// RecoverIdentity returns the identity of the key that produced the signature
// over the given digest.
func RecoverIdentity(digest, sig []byte) ([32]byte, error) {
	if len(digest) != 32 {
		return [32]byte{}, fmt.Errorf("crypto: digest must be 32 bytes, got %d", len(digest))
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return [32]byte{}, err
	}
	return (&PublicKey{pub: pub}).Identity(), nil
}

// OperationDigest computes the canonical digest signed by callers submitting
// an operation. Each part is length-prefixed so that no two distinct part
// sequences can collide.
func OperationDigest(method string, parts ...[]byte) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, []byte(method)...)
	for _, part := range parts {
		var size [4]byte
		binary.BigEndian.PutUint32(size[:], uint32(len(part)))
		buf = append(buf, size[:]...)
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

// EncodeBech32 renders a 32-byte value with the given human-readable prefix.
func EncodeBech32(prefix string, data [32]byte) (string, error) {
	conv, err := bech32.ConvertBits(data[:], 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(prefix, conv)
}

// DecodeBech32 parses a bech32 string back into its prefix and 32-byte value.
func DecodeBech32(encoded string) (string, [32]byte, error) {
	prefix, conv, err := bech32.Decode(encoded)
	if err != nil {
		return "", [32]byte{}, err
	}
	raw, err := bech32.ConvertBits(conv, 5, 8, false)
	if err != nil {
		return "", [32]byte{}, err
	}
	if len(raw) != 32 {
		return "", [32]byte{}, fmt.Errorf("crypto: expected 32-byte payload, got %d", len(raw))
	}
	var out [32]byte
	copy(out[:], raw)
	return prefix, out, nil
}

// EncodeRecord renders an escrow record address with the canonical prefix.
func EncodeRecord(addr [32]byte) (string, error) {
	return EncodeBech32(RecordPrefix, addr)
}

// DecodeRecord parses a record address string, enforcing the canonical prefix.
func DecodeRecord(encoded string) ([32]byte, error) {
	prefix, addr, err := DecodeBech32(encoded)
	if err != nil {
		return [32]byte{}, err
	}
	if prefix != RecordPrefix {
		return [32]byte{}, fmt.Errorf("crypto: unexpected record prefix %q", prefix)
	}
	return addr, nil
}

// EncodeIdentity renders an identity with the canonical prefix.
func EncodeIdentity(id [32]byte) (string, error) {
	return EncodeBech32(IdentityPrefix, id)
}

// DecodeIdentity parses an identity string, enforcing the canonical prefix.
func DecodeIdentity(encoded string) ([32]byte, error) {
	prefix, id, err := DecodeBech32(encoded)
	if err != nil {
		return [32]byte{}, err
	}
	if prefix != IdentityPrefix {
		return [32]byte{}, fmt.Errorf("crypto: unexpected identity prefix %q", prefix)
	}
	return id, nil
}
