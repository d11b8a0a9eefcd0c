package entities

import "errors"

var ErrStoreEntityNotFound = errors.New("store resource not found")
var ErrInvalidLength = errors.New("invalid byte length")
var ErrInvalidValue = errors.New("value out of range")

var ErrNonceAlreadyUsed = errors.New("nonce already used for channel")
var ErrInvalidTransition = errors.New("invalid status transition")
var ErrStartInProgress = errors.New("start in progress")
var ErrStopInProgress = errors.New("stop in progress")

var ErrInsufficientFunds = errors.New("insufficient token balance")
var ErrInsufficientNativeFunds = errors.New("insufficient native balance for gas")

var ErrSecretNotInDatabase = errors.New("key is present on-chain but not in our database")
var ErrPreImageNotFound = errors.New("preimage not found in hash chain")
var ErrTicketNotWinning = errors.New("ticket is not a winning ticket")
var ErrChallengeMismatch = errors.New("secret does not satisfy ticket challenge")
var ErrClosureDelayNotElapsed = errors.New("closure delay has not elapsed")
