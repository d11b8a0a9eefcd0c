package channel

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/relaynet/channel-bridge/entities"
	"go.uber.org/zap"
)

// DefaultClosureDelay matches the closure period enforced by the contract.
const DefaultClosureDelay = 72 * time.Hour

type ChannelIndex interface {
	GetSingle(ctx context.Context, partyA, partyB entities.AccountId) (*entities.ChannelInfo, error)
}

type Config struct {
	ClosureDelay time.Duration
}

// Manager holds one Channel per counterparty of this node and keeps them in
// sync with the indexer.
type Manager struct {
	self   entities.AccountId
	chain  Chain
	nonces NonceStore
	index  ChannelIndex
	cfg    Config
	now    func() time.Time
	logger *zap.SugaredLogger

	lock     sync.Mutex
	channels map[entities.AccountId]*Channel
}

func NewManager(self entities.AccountId, chain Chain, nonces NonceStore, index ChannelIndex, cfg Config, logger *zap.SugaredLogger) *Manager {
	if cfg.ClosureDelay == 0 {
		cfg.ClosureDelay = DefaultClosureDelay
	}
	return &Manager{
		self:     self,
		chain:    chain,
		nonces:   nonces,
		index:    index,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
		channels: make(map[entities.AccountId]*Channel),
	}
}

func (m *Manager) newChannel(counterparty entities.AccountId) *Channel {
	return &Channel{
		self:         m.self,
		counterparty: counterparty,
		chain:        m.chain,
		nonces:       m.nonces,
		closureDelay: m.cfg.ClosureDelay,
		now:          m.now,
		logger:       m.logger,
	}
}

func (m *Manager) getOrCreate(counterparty entities.AccountId) (*Channel, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	ch, ok := m.channels[counterparty]
	if ok {
		return ch, false
	}
	ch = m.newChannel(counterparty)
	m.channels[counterparty] = ch
	return ch, true
}

// Get returns the channel with the owner of key, loading its state from the
// indexer the first time it is requested.
func (m *Manager) Get(ctx context.Context, key entities.PublicKey) (*Channel, error) {
	counterparty, err := key.AccountId()
	if err != nil {
		return nil, errors.Wrap(err, "deriving counterparty account")
	}

	ch, created := m.getOrCreate(counterparty)
	ch.setCounterpartyKey(key)
	if !created {
		return ch, nil
	}

	info, err := m.index.GetSingle(ctx, m.self, counterparty)
	if err != nil {
		return nil, errors.Wrap(err, "getting channel from index")
	}
	if info != nil {
		if err := ch.OnOpened(info.Entry); err != nil {
			return nil, err
		}
	}
	return ch, nil
}

// Lookup returns the channel with counterparty if the manager tracks it.
func (m *Manager) Lookup(counterparty entities.AccountId) (*Channel, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	ch, ok := m.channels[counterparty]
	return ch, ok
}

func (m *Manager) Channels() []*Channel {
	m.lock.Lock()
	defer m.lock.Unlock()

	channels := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	return channels
}

func (m *Manager) IsOpen(ctx context.Context, counterparty entities.AccountId) (bool, error) {
	info, err := m.index.GetSingle(ctx, m.self, counterparty)
	if err != nil {
		return false, errors.Wrap(err, "getting channel from index")
	}
	return info != nil, nil
}

// ChannelOpened applies a confirmed opened event involving this node. A closed
// channel is replaced so the pair can be opened again.
func (m *Manager) ChannelOpened(_ context.Context, info entities.ChannelInfo) error {
	if !info.Involves(m.self) {
		return nil
	}
	counterparty := info.Counterparty(m.self)

	m.lock.Lock()
	ch, ok := m.channels[counterparty]
	if !ok || m.reopens(ch, info.Entry) {
		fresh := m.newChannel(counterparty)
		if ok {
			if key, known := ch.CounterpartyKey(); known {
				fresh.setCounterpartyKey(key)
			}
		}
		m.channels[counterparty] = fresh
		ch = fresh
	}
	m.lock.Unlock()

	return ch.OnOpened(info.Entry)
}

func (m *Manager) reopens(ch *Channel, entry entities.ChannelEntry) bool {
	if ch.Status() != entities.ChannelClosed {
		return false
	}
	closedAt, ok := ch.Entry()
	return !ok || entities.IsMoreRecent(closedAt, entry)
}

func (m *Manager) ChannelClosed(_ context.Context, info entities.ChannelInfo) error {
	if !info.Involves(m.self) {
		return nil
	}
	ch, ok := m.Lookup(info.Counterparty(m.self))
	if !ok {
		return nil
	}
	return ch.ConfirmClosed(info.Entry)
}
