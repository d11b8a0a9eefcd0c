package keys

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/relaynet/channel-bridge/entities"
)

// PrivateKeySigner signs digests with a local secp256k1 key.
type PrivateKeySigner struct {
	key       *ecdsa.PrivateKey
	publicKey entities.PublicKey
	accountId entities.AccountId
}

func NewPrivateKeySigner(key *ecdsa.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{
		key:       key,
		publicKey: entities.PublicKey(crypto.CompressPubkey(&key.PublicKey)),
		accountId: entities.AccountId(crypto.PubkeyToAddress(key.PublicKey)),
	}
}

func FromHex(hexKey string) (*PrivateKeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %v", err)
	}
	return NewPrivateKeySigner(key), nil
}

// FromFile loads a hex encoded key.
func FromFile(path string) (*PrivateKeySigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %v", err)
	}
	return FromHex(string(data))
}

func (s *PrivateKeySigner) Sign(digest entities.Hash) (entities.Signature, error) {
	raw, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return entities.Signature{}, fmt.Errorf("signing digest: %v", err)
	}
	return entities.SignatureFromBytes(raw)
}

func (s *PrivateKeySigner) PublicKey() entities.PublicKey {
	return s.publicKey
}

func (s *PrivateKeySigner) AccountId() entities.AccountId {
	return s.accountId
}

// PrivateKey exposes the key to the transaction signer of the chain client.
func (s *PrivateKeySigner) PrivateKey() *ecdsa.PrivateKey {
	return s.key
}
