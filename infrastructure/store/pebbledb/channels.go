package pebbledb

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/relaynet/channel-bridge/entities"
)

// GetLatestConfirmedBlockNumber returns 0 when nothing was confirmed yet.
func (s *Store) GetLatestConfirmedBlockNumber() (uint64, error) {
	value, err := s.Get(confirmedBlockNumberKey())
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("getting latest confirmed block number: %w", err)
	}
	if len(value) != 8 {
		return 0, fmt.Errorf("decoding latest confirmed block number: %w", entities.ErrInvalidLength)
	}
	return binary.BigEndian.Uint64(value), nil
}

func (s *Store) HasChannel(partyA, partyB entities.AccountId) (bool, error) {
	return s.Has(channelEntryKey(partyA, partyB))
}

func (s *Store) GetChannel(partyA, partyB entities.AccountId) (entities.ChannelEntry, error) {
	value, err := s.Get(channelEntryKey(partyA, partyB))
	if err != nil {
		return entities.ChannelEntry{}, err
	}

	var entry entities.ChannelEntry
	if err := entry.UnmarshalBinary(value); err != nil {
		return entities.ChannelEntry{}, err
	}
	return entry, nil
}

// GetChannels scans every stored channel. When party is set only channels with
// party on either side are returned.
func (s *Store) GetChannels(party *entities.AccountId) ([]entities.ChannelInfo, error) {
	lower, upper := channelEntryBounds()

	var channels []entities.ChannelInfo
	err := s.Scan(lower, upper, true, func(key, value []byte) (bool, error) {
		partyA, partyB, ok := parseChannelEntryKey(key)
		if !ok {
			return true, nil
		}
		if party != nil && partyA != *party && partyB != *party {
			return true, nil
		}

		var entry entities.ChannelEntry
		if err := entry.UnmarshalBinary(value); err != nil {
			return false, fmt.Errorf("decoding channel %s-%s: %w", partyA, partyB, err)
		}
		channels = append(channels, entities.ChannelInfo{PartyA: partyA, PartyB: partyB, Entry: entry})
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning channels: %w", err)
	}

	return channels, nil
}

// StoreChannel writes the entry and advances the confirmed block marker in one batch.
func (s *Store) StoreChannel(partyA, partyB entities.AccountId, entry entities.ChannelEntry) error {
	value, err := entry.MarshalBinary()
	if err != nil {
		return err
	}

	ops := []Op{PutOp(channelEntryKey(partyA, partyB), value)}
	ops, err = s.appendConfirmedBlockOp(ops, entry.BlockNumber)
	if err != nil {
		return err
	}

	if err := s.Batch(ops...); err != nil {
		return fmt.Errorf("storing channel: %w", err)
	}
	return nil
}

// DeleteChannel removes the entry and advances the confirmed block marker in one batch.
func (s *Store) DeleteChannel(partyA, partyB entities.AccountId, blockNumber uint64) error {
	ops := []Op{DeleteOp(channelEntryKey(partyA, partyB))}
	ops, err := s.appendConfirmedBlockOp(ops, blockNumber)
	if err != nil {
		return err
	}

	if err := s.Batch(ops...); err != nil {
		return fmt.Errorf("deleting channel: %w", err)
	}
	return nil
}

func (s *Store) appendConfirmedBlockOp(ops []Op, blockNumber uint64) ([]Op, error) {
	current, err := s.GetLatestConfirmedBlockNumber()
	if err != nil {
		return nil, err
	}
	if blockNumber <= current {
		return ops, nil
	}
	return append(ops, PutOp(confirmedBlockNumberKey(), binary.BigEndian.AppendUint64(nil, blockNumber))), nil
}
