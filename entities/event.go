package entities

import (
	"fmt"
	"math/big"
)

type EventKind uint8

const (
	OpenedChannelEvent EventKind = iota + 1
	ClosedChannelEvent
)

func (k EventKind) String() string {
	switch k {
	case OpenedChannelEvent:
		return "OpenedChannel"
	case ClosedChannelEvent:
		return "ClosedChannel"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// ChainEvent is a channel event as delivered by the chain, before confirmation.
// Removed is set when the log was dropped by a reorg.
type ChainEvent struct {
	Kind             EventKind
	BlockNumber      uint64
	TransactionIndex uint64
	LogIndex         uint64
	TransactionHash  Hash
	Removed          bool
	Party            AccountId
	CounterParty     AccountId
}

// ID identifies an event across redeliveries.
func (e ChainEvent) ID() string {
	return fmt.Sprintf("%s-%s-%d-%d", e.Kind, e.TransactionHash.Hex(), e.TransactionIndex, e.LogIndex)
}

func (e ChainEvent) Entry() ChannelEntry {
	return ChannelEntry{
		BlockNumber:      e.BlockNumber,
		TransactionIndex: e.TransactionIndex,
		LogIndex:         e.LogIndex,
	}
}

// AccountState is the on-chain record of an account.
type AccountState struct {
	HashedSecret Hash
	Counter      *big.Int
}

// OnChainChannel is the on-chain record of a channel.
type OnChainChannel struct {
	Deposit       *big.Int
	PartyABalance *big.Int
	ClosureTime   *big.Int
	StateCounter  *big.Int
}

// BalanceOf returns the share of party in the channel formed with counterparty.
func (c OnChainChannel) BalanceOf(party, counterparty AccountId) *big.Int {
	deposit := orZero(c.Deposit)
	balanceA := orZero(c.PartyABalance)
	partyA, _ := OrderParties(party, counterparty)
	if partyA == party {
		return new(big.Int).Set(balanceA)
	}
	return new(big.Int).Sub(deposit, balanceA)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// SecretHashSetEvent is emitted when an account commits a new on-chain secret.
type SecretHashSetEvent struct {
	Account    AccountId
	SecretHash Hash
	Counter    *big.Int
}

// OnChainSecret is the local side of the hash chain: the origin and how many
// times it is hashed to obtain the currently committed value.
type OnChainSecret struct {
	Origin Hash
	Index  uint32
}

// PreImage is a hash chain element and its position, where position i hashes
// to position i+1.
type PreImage struct {
	Hash  Hash
	Index uint32
}
