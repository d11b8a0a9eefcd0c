package entities

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	SignatureDataLength = 64
	SignatureLength     = SignatureDataLength + 1
)

// Signature is a recoverable secp256k1 signature: r ‖ s and a recovery id in {0, 1}.
type Signature struct {
	Data     [SignatureDataLength]byte
	Recovery byte
}

func (s Signature) Bytes() []byte {
	b := make([]byte, 0, SignatureLength)
	b = append(b, s.Data[:]...)
	return append(b, s.Recovery)
}

func SignatureFromBytes(b []byte) (Signature, error) {
	if len(b) != SignatureLength {
		return Signature{}, fmt.Errorf("decoding signature of %d bytes: %w", len(b), ErrInvalidLength)
	}
	var sig Signature
	copy(sig.Data[:], b[:SignatureDataLength])
	sig.Recovery = b[SignatureDataLength]
	return sig, nil
}

// RSV splits the signature into the components the contract expects, with v
// shifted into the 27/28 range.
func (s Signature) RSV() (r [32]byte, sv [32]byte, v uint8) {
	copy(r[:], s.Data[:32])
	copy(sv[:], s.Data[32:])
	return r, sv, s.Recovery + 27
}

// RecoverPublicKey recovers the compressed key that signed digest.
func (s Signature) RecoverPublicKey(digest Hash) (PublicKey, error) {
	pub, err := crypto.SigToPub(digest[:], s.Bytes())
	if err != nil {
		return PublicKey{}, fmt.Errorf("recovering public key: %v", err)
	}
	return PublicKey(crypto.CompressPubkey(pub)), nil
}
