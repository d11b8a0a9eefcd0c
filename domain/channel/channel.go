package channel

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/relaynet/channel-bridge/entities"
	"go.uber.org/zap"
)

type Chain interface {
	Channels(ctx context.Context, channelID entities.Hash) (entities.OnChainChannel, error)
}

type NonceStore interface {
	HasNonce(channelID entities.Hash, nonce []byte) (bool, error)
	PutNonce(channelID entities.Hash, nonce []byte) error
}

// Channel is the local view of the payment channel between this node and one
// counterparty.
type Channel struct {
	self         entities.AccountId
	counterparty entities.AccountId
	chain        Chain
	nonces       NonceStore
	closureDelay time.Duration
	now          func() time.Time
	logger       *zap.SugaredLogger

	idOnce sync.Once
	id     entities.Hash

	lock            sync.Mutex
	counterpartyKey *entities.PublicKey
	status          entities.ChannelStatus
	entry           *entities.ChannelEntry
	closureDeadline time.Time

	nonceLock sync.Mutex
}

func (c *Channel) ID() entities.Hash {
	c.idOnce.Do(func() {
		c.id = entities.ChannelID(c.self, c.counterparty)
	})
	return c.id
}

func (c *Channel) Self() entities.AccountId {
	return c.self
}

func (c *Channel) Counterparty() entities.AccountId {
	return c.counterparty
}

// CounterpartyKey returns the public key of the counterparty if it is known.
func (c *Channel) CounterpartyKey() (entities.PublicKey, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.counterpartyKey == nil {
		return entities.PublicKey{}, false
	}
	return *c.counterpartyKey, true
}

func (c *Channel) setCounterpartyKey(key entities.PublicKey) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.counterpartyKey = &key
}

func (c *Channel) Status() entities.ChannelStatus {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.status
}

func (c *Channel) IsOpen() bool {
	return c.Status() == entities.ChannelOpen
}

// Entry returns the chain position of the latest event applied to the channel.
func (c *Channel) Entry() (entities.ChannelEntry, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.entry == nil {
		return entities.ChannelEntry{}, false
	}
	return *c.entry, true
}

func (c *Channel) ClosureDeadline() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.closureDeadline
}

func (c *Channel) MarkOpening() error {
	return c.transition(entities.ChannelOpening)
}

func (c *Channel) transition(to entities.ChannelStatus) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.transitionLocked(to)
}

func (c *Channel) transitionLocked(to entities.ChannelStatus) error {
	if !canTransition(c.status, to) {
		return transitionError(c.status, to)
	}
	c.logger.Infow("Channel status changed", "channel", c.ID().Hex(), "from", c.status.String(), "to", to.String())
	c.status = to
	return nil
}

// isStale reports whether entry is not more recent than the last applied one.
func (c *Channel) isStale(entry entities.ChannelEntry) bool {
	return c.entry != nil && !entities.IsMoreRecent(*c.entry, entry)
}

// OnOpened applies a confirmed opened event. Stale events and events for a
// closed channel are ignored.
func (c *Channel) OnOpened(entry entities.ChannelEntry) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.isStale(entry) {
		return nil
	}

	switch c.status {
	case entities.ChannelUninitialized, entities.ChannelOpening:
		if err := c.transitionLocked(entities.ChannelOpen); err != nil {
			return err
		}
	case entities.ChannelClosed:
		return nil
	}

	c.entry = &entry
	return nil
}

// InitiateClosure starts the closure delay of an open channel.
func (c *Channel) InitiateClosure() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if err := c.transitionLocked(entities.ChannelPendingClosure); err != nil {
		return err
	}
	c.closureDeadline = c.now().Add(c.closureDelay)
	return nil
}

// OnClosed applies a confirmed closed event. A channel this node put into
// closure only closes once the delay elapsed; an open channel closed by the
// counterparty closes right away.
func (c *Channel) OnClosed(entry entities.ChannelEntry) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.isStale(entry) {
		return nil
	}

	if c.status == entities.ChannelPendingClosure && c.now().Before(c.closureDeadline) {
		return entities.ErrClosureDelayNotElapsed
	}
	if err := c.transitionLocked(entities.ChannelClosed); err != nil {
		return err
	}
	c.entry = &entry
	return nil
}

// ConfirmClosed applies a closed event the chain already accepted. The chain
// enforces its own closure window, so a pending closure closes even if the local
// deadline has not passed yet. Stale entries are ignored.
func (c *Channel) ConfirmClosed(entry entities.ChannelEntry) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.isStale(entry) {
		return nil
	}
	if c.status == entities.ChannelPendingClosure && c.now().Before(c.closureDeadline) {
		c.logger.Warnw("Channel closed on chain before local closure deadline",
			"channel", c.ID().Hex(), "deadline", c.closureDeadline)
	}
	if err := c.transitionLocked(entities.ChannelClosed); err != nil {
		return err
	}
	c.entry = &entry
	return nil
}

// TestAndSetNonce registers nonce against the channel and fails with
// entities.ErrNonceAlreadyUsed if it was registered before.
func (c *Channel) TestAndSetNonce(_ context.Context, nonce []byte) error {
	c.nonceLock.Lock()
	defer c.nonceLock.Unlock()

	used, err := c.nonces.HasNonce(c.ID(), nonce)
	if err != nil {
		return errors.Wrap(err, "checking nonce")
	}
	if used {
		return entities.ErrNonceAlreadyUsed
	}
	if err := c.nonces.PutNonce(c.ID(), nonce); err != nil {
		return errors.Wrap(err, "storing nonce")
	}
	return nil
}

func (c *Channel) onChain(ctx context.Context) (entities.OnChainChannel, error) {
	state, err := c.chain.Channels(ctx, c.ID())
	if err != nil {
		return entities.OnChainChannel{}, errors.Wrap(err, "getting on-chain channel")
	}
	return state, nil
}

// Balance is the total deposit of the channel.
func (c *Channel) Balance(ctx context.Context) (*big.Int, error) {
	state, err := c.onChain(ctx)
	if err != nil {
		return nil, err
	}
	if state.Deposit == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(state.Deposit), nil
}

func (c *Channel) SelfBalance(ctx context.Context) (*big.Int, error) {
	state, err := c.onChain(ctx)
	if err != nil {
		return nil, err
	}
	return state.BalanceOf(c.self, c.counterparty), nil
}

func (c *Channel) BalanceOfCounterparty(ctx context.Context) (*big.Int, error) {
	state, err := c.onChain(ctx)
	if err != nil {
		return nil, err
	}
	return state.BalanceOf(c.counterparty, c.self), nil
}
