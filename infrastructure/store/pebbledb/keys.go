package pebbledb

import (
	"bytes"

	"github.com/relaynet/channel-bridge/entities"
)

const (
	channelEntryKeyPrefix         = 0x01
	ticketKeyPrefix               = 0x02
	nonceKeyPrefix                = 0x03
	confirmedBlockNumberKeyPrefix = 0x04
	onChainSecretKeyPrefix        = 0x05
)

func channelEntryKey(partyA, partyB entities.AccountId) []byte {
	key := make([]byte, 0, 1+2*entities.AccountIdLength)
	key = append(key, channelEntryKeyPrefix)
	key = append(key, partyA[:]...)
	return append(key, partyB[:]...)
}

func parseChannelEntryKey(key []byte) (entities.AccountId, entities.AccountId, bool) {
	if len(key) != 1+2*entities.AccountIdLength || key[0] != channelEntryKeyPrefix {
		return entities.AccountId{}, entities.AccountId{}, false
	}
	partyA := entities.AccountId(key[1 : 1+entities.AccountIdLength])
	partyB := entities.AccountId(key[1+entities.AccountIdLength:])
	return partyA, partyB, true
}

func channelEntryBounds() ([]byte, []byte) {
	lowest := entities.AccountId{}
	highest := entities.AccountId(bytes.Repeat([]byte{0xff}, entities.AccountIdLength))
	return channelEntryKey(lowest, lowest), channelEntryKey(highest, highest)
}

func ticketKey(channelID, challenge entities.Hash) []byte {
	key := make([]byte, 0, 1+2*entities.HashLength)
	key = append(key, ticketKeyPrefix)
	key = append(key, channelID[:]...)
	return append(key, challenge[:]...)
}

func ticketPrefix(channelID entities.Hash) []byte {
	return append([]byte{ticketKeyPrefix}, channelID[:]...)
}

func nonceKey(channelID entities.Hash, nonce []byte) []byte {
	digest := entities.Keccak256(nonce)
	key := make([]byte, 0, 1+2*entities.HashLength)
	key = append(key, nonceKeyPrefix)
	key = append(key, channelID[:]...)
	return append(key, digest[:]...)
}

func confirmedBlockNumberKey() []byte {
	return []byte{confirmedBlockNumberKeyPrefix}
}

func onChainSecretKey() []byte {
	return []byte{onChainSecretKeyPrefix}
}

// prefixUpperBound returns the smallest key greater than every key with prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
