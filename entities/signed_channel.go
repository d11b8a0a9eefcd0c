package entities

import (
	"fmt"
	"math/big"
)

// ChannelStatus is the lifecycle state of a payment channel.
type ChannelStatus uint8

const (
	ChannelUninitialized ChannelStatus = iota
	ChannelOpening
	ChannelOpen
	ChannelPendingClosure
	ChannelClosed
)

func (s ChannelStatus) String() string {
	switch s {
	case ChannelUninitialized:
		return "UNINITIALIZED"
	case ChannelOpening:
		return "OPENING"
	case ChannelOpen:
		return "OPEN"
	case ChannelPendingClosure:
		return "PENDING_CLOSURE"
	case ChannelClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

const (
	channelStateBalanceOffset  = 0
	channelStateBalanceAOffset = channelStateBalanceOffset + Uint256Length
	channelStateStatusOffset   = channelStateBalanceAOffset + Uint256Length

	ChannelStateLength  = channelStateStatusOffset + 1
	SignedChannelLength = SignatureLength + ChannelStateLength
)

// ChannelState is the payload of an off-chain channel proposal: total deposit,
// the share of partyA and the proposed status.
type ChannelState struct {
	Balance  *big.Int
	BalanceA *big.Int
	Status   ChannelStatus
}

func (cs ChannelState) MarshalBinary() ([]byte, error) {
	balance, err := EncodeUint256(cs.Balance)
	if err != nil {
		return nil, fmt.Errorf("encoding channel balance: %w", err)
	}
	balanceA, err := EncodeUint256(cs.BalanceA)
	if err != nil {
		return nil, fmt.Errorf("encoding channel balance of partyA: %w", err)
	}
	b := make([]byte, ChannelStateLength)
	copy(b[channelStateBalanceOffset:], balance[:])
	copy(b[channelStateBalanceAOffset:], balanceA[:])
	b[channelStateStatusOffset] = byte(cs.Status)
	return b, nil
}

func (cs *ChannelState) UnmarshalBinary(b []byte) error {
	if len(b) != ChannelStateLength {
		return fmt.Errorf("decoding channel state of %d bytes: %w", len(b), ErrInvalidLength)
	}
	status := ChannelStatus(b[channelStateStatusOffset])
	if status > ChannelClosed {
		return fmt.Errorf("decoding channel status %d: %w", status, ErrInvalidValue)
	}
	cs.Balance = new(big.Int).SetBytes(b[channelStateBalanceOffset:channelStateBalanceAOffset])
	cs.BalanceA = new(big.Int).SetBytes(b[channelStateBalanceAOffset:channelStateStatusOffset])
	cs.Status = status
	return nil
}

func (cs ChannelState) Hash() (Hash, error) {
	b, err := cs.MarshalBinary()
	if err != nil {
		return Hash{}, err
	}
	return Keccak256(b), nil
}

type SignedChannel struct {
	Signature Signature
	State     ChannelState
}

func (sc SignedChannel) MarshalBinary() ([]byte, error) {
	state, err := sc.State.MarshalBinary()
	if err != nil {
		return nil, err
	}
	b := make([]byte, 0, SignedChannelLength)
	b = append(b, sc.Signature.Bytes()...)
	return append(b, state...), nil
}

func (sc *SignedChannel) UnmarshalBinary(b []byte) error {
	if len(b) != SignedChannelLength {
		return fmt.Errorf("decoding signed channel of %d bytes: %w", len(b), ErrInvalidLength)
	}
	sig, err := SignatureFromBytes(b[:SignatureLength])
	if err != nil {
		return err
	}
	var state ChannelState
	if err := state.UnmarshalBinary(b[SignatureLength:]); err != nil {
		return err
	}
	sc.Signature = sig
	sc.State = state
	return nil
}

// Signer recovers the public key of the proposer.
func (sc SignedChannel) Signer() (PublicKey, error) {
	hash, err := sc.State.Hash()
	if err != nil {
		return PublicKey{}, err
	}
	return sc.Signature.RecoverPublicKey(hash)
}
