package account

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	"github.com/relaynet/channel-bridge/entities"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Chain interface {
	Accounts(ctx context.Context, account entities.AccountId) (entities.AccountState, error)
	SubscribeSecretHashSet(ctx context.Context, account entities.AccountId, sink chan<- entities.SecretHashSetEvent) (event.Subscription, error)
}

// Account reads on-chain account state. Ticket epochs are cached and kept
// fresh by SecretHashSet watchers; a failing watcher drops its cached value.
type Account struct {
	chain    Chain
	epochs   *ttlcache.Cache[entities.AccountId, *big.Int]
	fetches  singleflight.Group
	logger   *zap.SugaredLogger
	lock     sync.Mutex
	watchers map[entities.AccountId]event.Subscription
	stopOnce sync.Once
}

func NewAccount(chain Chain, epochTTL time.Duration, logger *zap.SugaredLogger) *Account {
	cache := ttlcache.New[entities.AccountId, *big.Int](
		ttlcache.WithTTL[entities.AccountId, *big.Int](epochTTL),
		ttlcache.WithDisableTouchOnHit[entities.AccountId, *big.Int](),
	)
	go cache.Start()

	return &Account{
		chain:    chain,
		epochs:   cache,
		logger:   logger,
		watchers: make(map[entities.AccountId]event.Subscription),
	}
}

// TicketEpoch returns the counter of the account's current on-chain secret.
func (a *Account) TicketEpoch(ctx context.Context, account entities.AccountId) (*big.Int, error) {
	if item := a.epochs.Get(account); item != nil {
		return new(big.Int).Set(item.Value()), nil
	}

	value, err, _ := a.fetches.Do(account.Hex(), func() (interface{}, error) {
		state, err := a.chain.Accounts(ctx, account)
		if err != nil {
			return nil, errors.Wrap(err, "getting account state")
		}
		counter := state.Counter
		if counter == nil {
			counter = new(big.Int)
		}
		a.epochs.Set(account, counter, ttlcache.DefaultTTL)
		return counter, nil
	})
	if err != nil {
		return nil, err
	}

	return new(big.Int).Set(value.(*big.Int)), nil
}

// TicketState reads the account's epoch and committed secret in one call, so a
// ticket never pairs a cached epoch with a newer secret. The cached epoch is
// refreshed with the value read.
func (a *Account) TicketState(ctx context.Context, account entities.AccountId) (entities.AccountState, error) {
	state, err := a.chain.Accounts(ctx, account)
	if err != nil {
		return entities.AccountState{}, errors.Wrap(err, "getting account state")
	}
	counter := new(big.Int)
	if state.Counter != nil {
		counter.Set(state.Counter)
	}
	a.epochs.Set(account, new(big.Int).Set(counter), ttlcache.DefaultTTL)
	return entities.AccountState{HashedSecret: state.HashedSecret, Counter: counter}, nil
}

func (a *Account) InvalidateTicketEpoch(account entities.AccountId) {
	a.epochs.Delete(account)
}

// OnChainSecret returns the secret hash currently committed by the account. It
// is never cached.
func (a *Account) OnChainSecret(ctx context.Context, account entities.AccountId) (entities.Hash, error) {
	state, err := a.chain.Accounts(ctx, account)
	if err != nil {
		return entities.Hash{}, errors.Wrap(err, "getting account state")
	}
	return state.HashedSecret, nil
}

// WatchTicketEpoch keeps the cached epoch of account in sync with SecretHashSet
// events until the subscription fails or Close is called.
func (a *Account) WatchTicketEpoch(ctx context.Context, account entities.AccountId) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if _, ok := a.watchers[account]; ok {
		return nil
	}

	sink := make(chan entities.SecretHashSetEvent, 16)
	sub, err := a.chain.SubscribeSecretHashSet(ctx, account, sink)
	if err != nil {
		return errors.Wrap(err, "subscribing to secret hash set events")
	}
	a.watchers[account] = sub

	go a.watch(account, sub, sink)
	return nil
}

func (a *Account) watch(account entities.AccountId, sub event.Subscription, sink <-chan entities.SecretHashSetEvent) {
	for {
		select {
		case ev := <-sink:
			if ev.Counter == nil {
				a.InvalidateTicketEpoch(account)
				continue
			}
			a.epochs.Set(account, new(big.Int).Set(ev.Counter), ttlcache.DefaultTTL)
		case err, ok := <-sub.Err():
			if ok && err != nil {
				a.logger.Warnw("Ticket epoch watcher failed, dropping cached value", "account", account.Hex(), "error", err)
			}
			a.InvalidateTicketEpoch(account)
			a.lock.Lock()
			if a.watchers[account] == sub {
				delete(a.watchers, account)
			}
			a.lock.Unlock()
			return
		}
	}
}

func (a *Account) Close() {
	a.lock.Lock()
	watchers := a.watchers
	a.watchers = make(map[entities.AccountId]event.Subscription)
	a.lock.Unlock()

	for _, sub := range watchers {
		sub.Unsubscribe()
	}
	a.stopOnce.Do(a.epochs.Stop)
}
