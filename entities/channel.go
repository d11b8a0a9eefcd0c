package entities

import (
	"encoding/binary"
	"fmt"
)

const ChannelEntryLength = 24

// ChannelEntry is the chain position of the event that opened a channel.
type ChannelEntry struct {
	BlockNumber      uint64 `json:"blockNumber"`
	TransactionIndex uint64 `json:"transactionIndex"`
	LogIndex         uint64 `json:"logIndex"`
}

// ChannelInfo is a stored channel entry together with its canonical parties.
type ChannelInfo struct {
	PartyA AccountId    `json:"partyA"`
	PartyB AccountId    `json:"partyB"`
	Entry  ChannelEntry `json:"entry"`
}

// ChannelQuery selects channels by party. A nil field matches any party.
type ChannelQuery struct {
	PartyA *AccountId
	PartyB *AccountId
}

// OrderParties returns the pair in canonical order, smaller raw bytes first.
func OrderParties(a, b AccountId) (AccountId, AccountId) {
	if a.Compare(b) <= 0 {
		return a, b
	}
	return b, a
}

// ChannelID is keccak256(partyA ‖ partyB) over the canonically ordered pair.
func ChannelID(a, b AccountId) Hash {
	partyA, partyB := OrderParties(a, b)
	return Keccak256(partyA[:], partyB[:])
}

func (ci ChannelInfo) ID() Hash {
	return ChannelID(ci.PartyA, ci.PartyB)
}

// Counterparty returns the other side of the channel relative to self.
func (ci ChannelInfo) Counterparty(self AccountId) AccountId {
	if ci.PartyA == self {
		return ci.PartyB
	}
	return ci.PartyA
}

func (ci ChannelInfo) Involves(party AccountId) bool {
	return ci.PartyA == party || ci.PartyB == party
}

// IsMoreRecent reports whether entry n supersedes entry o. Only the log index
// comparison is strict.
func IsMoreRecent(o, n ChannelEntry) bool {
	return o.BlockNumber <= n.BlockNumber &&
		o.TransactionIndex <= n.TransactionIndex &&
		o.LogIndex < n.LogIndex
}

func (e ChannelEntry) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, ChannelEntryLength)
	b = binary.BigEndian.AppendUint64(b, e.BlockNumber)
	b = binary.BigEndian.AppendUint64(b, e.TransactionIndex)
	b = binary.BigEndian.AppendUint64(b, e.LogIndex)
	return b, nil
}

func (e *ChannelEntry) UnmarshalBinary(b []byte) error {
	if len(b) != ChannelEntryLength {
		return fmt.Errorf("decoding channel entry of %d bytes: %w", len(b), ErrInvalidLength)
	}
	e.BlockNumber = binary.BigEndian.Uint64(b[0:8])
	e.TransactionIndex = binary.BigEndian.Uint64(b[8:16])
	e.LogIndex = binary.BigEndian.Uint64(b[16:24])
	return nil
}
