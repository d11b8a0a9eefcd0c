package pebbledb

import (
	"encoding/binary"
	"fmt"

	"github.com/relaynet/channel-bridge/entities"
)

const onChainSecretLength = entities.HashLength + 4

func (s *Store) GetOnChainSecret() (entities.OnChainSecret, error) {
	value, err := s.Get(onChainSecretKey())
	if err != nil {
		return entities.OnChainSecret{}, err
	}
	if len(value) != onChainSecretLength {
		return entities.OnChainSecret{}, fmt.Errorf("decoding on-chain secret of %d bytes: %w", len(value), entities.ErrInvalidLength)
	}
	return entities.OnChainSecret{
		Origin: entities.Hash(value[:entities.HashLength]),
		Index:  binary.BigEndian.Uint32(value[entities.HashLength:]),
	}, nil
}

func (s *Store) SetOnChainSecret(secret entities.OnChainSecret) error {
	value := make([]byte, 0, onChainSecretLength)
	value = append(value, secret.Origin[:]...)
	value = binary.BigEndian.AppendUint32(value, secret.Index)

	if err := s.Put(onChainSecretKey(), value); err != nil {
		return fmt.Errorf("setting on-chain secret: %w", err)
	}
	return nil
}
