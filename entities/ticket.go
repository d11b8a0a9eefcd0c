package entities

import (
	"fmt"
	"math/big"
)

const (
	ticketChannelIDOffset     = 0
	ticketChallengeOffset     = ticketChannelIDOffset + HashLength
	ticketEpochOffset         = ticketChallengeOffset + HashLength
	ticketAmountOffset        = ticketEpochOffset + Uint256Length
	ticketWinProbOffset       = ticketAmountOffset + Uint256Length
	ticketOnChainSecretOffset = ticketWinProbOffset + HashLength

	TicketLength       = ticketOnChainSecretOffset + HashLength
	SignedTicketLength = SignatureLength + TicketLength
)

// Ticket is a probabilistic payment bound to a channel.
type Ticket struct {
	ChannelID     Hash
	Challenge     Hash
	Epoch         *big.Int
	Amount        *big.Int
	WinProb       Hash
	OnChainSecret Hash
}

func (t Ticket) MarshalBinary() ([]byte, error) {
	epoch, err := EncodeUint256(t.Epoch)
	if err != nil {
		return nil, fmt.Errorf("encoding ticket epoch: %w", err)
	}
	amount, err := EncodeUint256(t.Amount)
	if err != nil {
		return nil, fmt.Errorf("encoding ticket amount: %w", err)
	}

	b := make([]byte, TicketLength)
	copy(b[ticketChannelIDOffset:], t.ChannelID[:])
	copy(b[ticketChallengeOffset:], t.Challenge[:])
	copy(b[ticketEpochOffset:], epoch[:])
	copy(b[ticketAmountOffset:], amount[:])
	copy(b[ticketWinProbOffset:], t.WinProb[:])
	copy(b[ticketOnChainSecretOffset:], t.OnChainSecret[:])
	return b, nil
}

func (t *Ticket) UnmarshalBinary(b []byte) error {
	if len(b) != TicketLength {
		return fmt.Errorf("decoding ticket of %d bytes: %w", len(b), ErrInvalidLength)
	}
	copy(t.ChannelID[:], b[ticketChannelIDOffset:ticketChallengeOffset])
	copy(t.Challenge[:], b[ticketChallengeOffset:ticketEpochOffset])
	t.Epoch = new(big.Int).SetBytes(b[ticketEpochOffset:ticketAmountOffset])
	t.Amount = new(big.Int).SetBytes(b[ticketAmountOffset:ticketWinProbOffset])
	copy(t.WinProb[:], b[ticketWinProbOffset:ticketOnChainSecretOffset])
	copy(t.OnChainSecret[:], b[ticketOnChainSecretOffset:TicketLength])
	return nil
}

// Hash is keccak256(challenge ‖ onChainSecret ‖ epoch ‖ amount ‖ winProb), the
// digest the issuer signs and the contract recomputes on redemption.
func (t Ticket) Hash() (Hash, error) {
	epoch, err := EncodeUint256(t.Epoch)
	if err != nil {
		return Hash{}, fmt.Errorf("encoding ticket epoch: %w", err)
	}
	amount, err := EncodeUint256(t.Amount)
	if err != nil {
		return Hash{}, fmt.Errorf("encoding ticket amount: %w", err)
	}
	return Keccak256(t.Challenge[:], t.OnChainSecret[:], epoch[:], amount[:], t.WinProb[:]), nil
}

type SignedTicket struct {
	Signature Signature
	Ticket    Ticket
}

func (st SignedTicket) MarshalBinary() ([]byte, error) {
	ticket, err := st.Ticket.MarshalBinary()
	if err != nil {
		return nil, err
	}
	b := make([]byte, 0, SignedTicketLength)
	b = append(b, st.Signature.Bytes()...)
	return append(b, ticket...), nil
}

func (st *SignedTicket) UnmarshalBinary(b []byte) error {
	if len(b) != SignedTicketLength {
		return fmt.Errorf("decoding signed ticket of %d bytes: %w", len(b), ErrInvalidLength)
	}
	sig, err := SignatureFromBytes(b[:SignatureLength])
	if err != nil {
		return err
	}
	var ticket Ticket
	if err := ticket.UnmarshalBinary(b[SignatureLength:]); err != nil {
		return err
	}
	st.Signature = sig
	st.Ticket = ticket
	return nil
}

// Signer recovers the public key of the ticket issuer.
func (st SignedTicket) Signer() (PublicKey, error) {
	hash, err := st.Ticket.Hash()
	if err != nil {
		return PublicKey{}, err
	}
	return st.Signature.RecoverPublicKey(hash)
}

// RedeemTicketParams are the arguments of the contract's redeemTicket call.
type RedeemTicketParams struct {
	PreImage Hash
	SecretA  Hash
	SecretB  Hash
	Amount   *big.Int
	WinProb  Hash
	R        [32]byte
	S        [32]byte
	V        uint8
}
