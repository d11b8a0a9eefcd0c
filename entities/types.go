package entities

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	AccountIdLength = 20
	PublicKeyLength = 33
	HashLength      = 32
	Uint256Length   = 32
)

// AccountId is the on-chain address of a party.
type AccountId [AccountIdLength]byte

// PublicKey is a compressed secp256k1 public key.
type PublicKey [PublicKeyLength]byte

type Hash [HashLength]byte

func (a AccountId) Address() common.Address {
	return common.Address(a)
}

func (a AccountId) Hex() string {
	return common.Address(a).Hex()
}

func (a AccountId) String() string {
	return a.Hex()
}

func (a AccountId) Compare(other AccountId) int {
	return bytes.Compare(a[:], other[:])
}

func AccountIdFromAddress(address common.Address) AccountId {
	return AccountId(address)
}

func AccountIdFromHex(s string) (AccountId, error) {
	if !common.IsHexAddress(s) {
		return AccountId{}, fmt.Errorf("invalid account id %q", s)
	}
	return AccountId(common.HexToAddress(s)), nil
}

func (h Hash) Hex() string {
	return common.Hash(h).Hex()
}

func (h Hash) String() string {
	return h.Hex()
}

func (h Hash) Big() *big.Int {
	return new(big.Int).SetBytes(h[:])
}

func HashFromBytes(b []byte) (Hash, error) {
	if len(b) != HashLength {
		return Hash{}, fmt.Errorf("decoding hash of %d bytes: %w", len(b), ErrInvalidLength)
	}
	return Hash(b), nil
}

// Keccak256 hashes the concatenation of the given byte slices.
func Keccak256(data ...[]byte) Hash {
	return Hash(crypto.Keccak256Hash(data...))
}

func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != PublicKeyLength {
		return PublicKey{}, fmt.Errorf("decoding public key of %d bytes: %w", len(b), ErrInvalidLength)
	}
	if _, err := crypto.DecompressPubkey(b); err != nil {
		return PublicKey{}, fmt.Errorf("decompressing public key: %v", err)
	}
	return PublicKey(b), nil
}

func (pk PublicKey) AccountId() (AccountId, error) {
	pub, err := crypto.DecompressPubkey(pk[:])
	if err != nil {
		return AccountId{}, fmt.Errorf("decompressing public key: %v", err)
	}
	return AccountId(crypto.PubkeyToAddress(*pub)), nil
}

func (pk PublicKey) Hex() string {
	return common.Bytes2Hex(pk[:])
}

// EncodeUint256 writes v as a 32 byte big-endian unsigned integer.
func EncodeUint256(v *big.Int) ([Uint256Length]byte, error) {
	var out [Uint256Length]byte
	if v == nil {
		return out, nil
	}
	if v.Sign() < 0 || v.BitLen() > 256 {
		return out, fmt.Errorf("encoding %s as uint256: %w", v.String(), ErrInvalidValue)
	}
	copy(out[:], math.PaddedBigBytes(v, Uint256Length))
	return out, nil
}

func DecodeUint256(b []byte) (*big.Int, error) {
	if len(b) != Uint256Length {
		return nil, fmt.Errorf("decoding uint256 of %d bytes: %w", len(b), ErrInvalidLength)
	}
	return new(big.Int).SetBytes(b), nil
}
