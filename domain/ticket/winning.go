package ticket

import (
	"fmt"
	"math"
	"math/big"

	"github.com/relaynet/channel-bridge/entities"
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ComputeWinningProbability converts p in (0, 1] into the 32 byte threshold
// floor(2^256-1 * p).
func ComputeWinningProbability(p float64) (entities.Hash, error) {
	if math.IsNaN(p) || p <= 0 || p > 1 {
		return entities.Hash{}, fmt.Errorf("winning probability %v: %w", p, entities.ErrInvalidValue)
	}

	threshold := new(big.Rat).SetFloat64(p)
	threshold.Mul(threshold, new(big.Rat).SetInt(maxUint256))
	floor := new(big.Int).Quo(threshold.Num(), threshold.Denom())

	encoded, err := entities.EncodeUint256(floor)
	if err != nil {
		return entities.Hash{}, err
	}
	return entities.Hash(encoded), nil
}

// Response combines both half secrets.
func Response(secretA, secretB entities.Hash) entities.Hash {
	var out entities.Hash
	for i := range out {
		out[i] = secretA[i] ^ secretB[i]
	}
	return out
}

func Challenge(response entities.Hash) entities.Hash {
	return entities.Keccak256(response[:])
}

func CheckChallenge(challenge, response entities.Hash) bool {
	return Challenge(response) == challenge
}

// IsWinningTicket reports whether keccak256(ticketHash ‖ response ‖ preImage)
// is at most winProb.
func IsWinningTicket(ticketHash, response, preImage, winProb entities.Hash) bool {
	luck := entities.Keccak256(ticketHash[:], response[:], preImage[:])
	return luck.Big().Cmp(winProb.Big()) <= 0
}

// GetEmbeddedFunds is the expected value of the ticket, amount * winProb / (2^256-1).
func GetEmbeddedFunds(t entities.Ticket) *big.Int {
	if t.Amount == nil {
		return new(big.Int)
	}
	funds := new(big.Int).Mul(t.Amount, t.WinProb.Big())
	return funds.Quo(funds, maxUint256)
}
