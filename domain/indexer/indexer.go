package indexer

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"
	"github.com/relaynet/channel-bridge/entities"
	"github.com/relaynet/channel-bridge/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultConfirmations is the number of blocks after which a channel event is
// considered final.
const DefaultConfirmations = 8

// appliedRetention is how many blocks past confirmation an applied event id is
// remembered to drop redeliveries.
const appliedRetention = 1024

type ChainSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SubscribeNewHeads(ctx context.Context, sink chan<- uint64) (event.Subscription, error)
	SubscribeChannelEvents(ctx context.Context, fromBlock uint64, sink chan<- entities.ChainEvent) (event.Subscription, error)
}

type GraphStore interface {
	GetLatestConfirmedBlockNumber() (uint64, error)
	HasChannel(partyA, partyB entities.AccountId) (bool, error)
	GetChannel(partyA, partyB entities.AccountId) (entities.ChannelEntry, error)
	GetChannels(party *entities.AccountId) ([]entities.ChannelInfo, error)
	StoreChannel(partyA, partyB entities.AccountId, entry entities.ChannelEntry) error
	DeleteChannel(partyA, partyB entities.AccountId, blockNumber uint64) error
}

// ChangeSink is notified after a confirmed change was written to the store.
type ChangeSink interface {
	ChannelOpened(ctx context.Context, info entities.ChannelInfo) error
	ChannelClosed(ctx context.Context, info entities.ChannelInfo) error
}

type Config struct {
	Confirmations uint64
}

// Indexer keeps the store in sync with confirmed channel events. A single run
// goroutine owns the unconfirmed buffer and performs every store write.
type Indexer struct {
	chain   ChainSource
	store   GraphStore
	cfg     Config
	sinks   []ChangeSink
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger

	ops      singleflight.Group
	lock     sync.Mutex
	status   Status
	subs     []event.Subscription
	cancel   context.CancelFunc
	done     chan struct{}
	failures chan error

	height      atomic.Uint64
	unconfirmed atomic.Int64

	// owned by the run goroutine
	buffer  *eventBuffer
	applied map[string]uint64
}

func NewIndexer(chain ChainSource, store GraphStore, cfg Config, metrics *metrics.Metrics, logger *zap.SugaredLogger, sinks ...ChangeSink) *Indexer {
	return &Indexer{
		chain:    chain,
		store:    store,
		cfg:      cfg,
		sinks:    sinks,
		metrics:  metrics,
		logger:   logger,
		failures: make(chan error, 1),
		buffer:   newEventBuffer(),
		applied:  make(map[string]uint64),
	}
}

func (ix *Indexer) Status() Status {
	ix.lock.Lock()
	defer ix.lock.Unlock()
	return ix.status
}

// Failures reports subscription failures after which the indexer stopped
// itself. The owner is expected to run a full stop and start cycle.
func (ix *Indexer) Failures() <-chan error {
	return ix.failures
}

// Height is the latest chain block seen by the indexer.
func (ix *Indexer) Height() uint64 {
	return ix.height.Load()
}

func (ix *Indexer) UnconfirmedCount() int {
	return int(ix.unconfirmed.Load())
}

func (ix *Indexer) setStatus(to Status) error {
	if err := checkTransition(ix.status, to); err != nil {
		return err
	}
	ix.status = to
	return nil
}

// Start subscribes to the chain. Concurrent calls share one start, calling it
// on a started indexer is a no-op and calling it while stopping fails with
// entities.ErrStopInProgress.
func (ix *Indexer) Start(ctx context.Context) error {
	ix.lock.Lock()
	switch ix.status {
	case StatusStarted:
		ix.lock.Unlock()
		return nil
	case StatusStopping:
		ix.lock.Unlock()
		return entities.ErrStopInProgress
	}
	ix.lock.Unlock()

	_, err, _ := ix.ops.Do("start", func() (interface{}, error) {
		return nil, ix.start(ctx)
	})
	return err
}

func (ix *Indexer) start(ctx context.Context) error {
	ix.lock.Lock()
	if ix.status == StatusStarted {
		ix.lock.Unlock()
		return nil
	}
	if err := ix.setStatus(StatusStarting); err != nil {
		ix.lock.Unlock()
		return err
	}
	ix.lock.Unlock()

	err := ix.subscribe(ctx)

	ix.lock.Lock()
	defer ix.lock.Unlock()
	if err != nil {
		_ = ix.setStatus(StatusStopped)
		return err
	}
	return ix.setStatus(StatusStarted)
}

func (ix *Indexer) subscribe(ctx context.Context) error {
	var head, confirmed uint64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		head, err = ix.chain.BlockNumber(gctx)
		return errors.Wrap(err, "getting chain block number")
	})
	g.Go(func() error {
		var err error
		confirmed, err = ix.store.GetLatestConfirmedBlockNumber()
		return errors.Wrap(err, "getting latest confirmed block number")
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// rewind to pick up events that were reorganised while stopped
	fromBlock := confirmed
	if fromBlock > ix.cfg.Confirmations {
		fromBlock -= ix.cfg.Confirmations
	} else {
		fromBlock = 0
	}

	ix.setHeight(head)
	runCtx, cancel := context.WithCancel(context.Background())

	heads := make(chan uint64, 64)
	headSub, err := ix.chain.SubscribeNewHeads(runCtx, heads)
	if err != nil {
		cancel()
		return errors.Wrap(err, "subscribing to new heads")
	}

	events := make(chan entities.ChainEvent, 256)
	eventSub, err := ix.chain.SubscribeChannelEvents(runCtx, fromBlock, events)
	if err != nil {
		headSub.Unsubscribe()
		cancel()
		return errors.Wrap(err, "subscribing to channel events")
	}

	done := make(chan struct{})
	ix.lock.Lock()
	ix.subs = []event.Subscription{headSub, eventSub}
	ix.cancel = cancel
	ix.done = done
	ix.lock.Unlock()

	ix.logger.Infow("Indexer started", "head", head, "confirmed", confirmed, "fromBlock", fromBlock, "confirmations", ix.cfg.Confirmations)
	go ix.run(runCtx, done, headSub, eventSub, heads, events)
	return nil
}

// Stop tears down the subscriptions and drops unconfirmed events. Concurrent
// calls share one stop, calling it on a stopped indexer is a no-op and calling
// it while starting fails with entities.ErrStartInProgress.
func (ix *Indexer) Stop() error {
	ix.lock.Lock()
	switch ix.status {
	case StatusStopped:
		ix.lock.Unlock()
		return nil
	case StatusStarting:
		ix.lock.Unlock()
		return entities.ErrStartInProgress
	}
	ix.lock.Unlock()

	_, err, _ := ix.ops.Do("stop", func() (interface{}, error) {
		return nil, ix.stop()
	})
	return err
}

func (ix *Indexer) stop() error {
	ix.lock.Lock()
	if ix.status == StatusStopped {
		ix.lock.Unlock()
		return nil
	}
	if err := ix.setStatus(StatusStopping); err != nil {
		ix.lock.Unlock()
		return err
	}
	subs, cancel, done := ix.subs, ix.cancel, ix.done
	ix.subs, ix.cancel, ix.done = nil, nil, nil
	ix.lock.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if done != nil {
		<-done
	}

	ix.reset()

	ix.lock.Lock()
	defer ix.lock.Unlock()
	ix.logger.Infow("Indexer stopped")
	return ix.setStatus(StatusStopped)
}

// reset drops the state of the run goroutine. It must only be called from that
// goroutine or once it exited.
func (ix *Indexer) reset() {
	ix.buffer.Clear()
	ix.applied = make(map[string]uint64)
	ix.unconfirmed.Store(0)
	ix.metrics.SetUnconfirmedEvents(0)
}

func (ix *Indexer) run(ctx context.Context, done chan struct{}, headSub, eventSub event.Subscription, heads <-chan uint64, events <-chan entities.ChainEvent) {
	defer close(done)

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case height := <-heads:
			err = ix.onNewBlock(ctx, height)
		case ev := <-events:
			err = ix.onEvent(ctx, ev)
		case err = <-headSub.Err():
			err = errors.Wrap(nilToClosed(err), "new heads subscription")
		case err = <-eventSub.Err():
			err = errors.Wrap(nilToClosed(err), "channel events subscription")
		}

		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		ix.fail(err)
		return
	}
}

var errSubscriptionClosed = errors.New("subscription closed")

func nilToClosed(err error) error {
	if err == nil {
		return errSubscriptionClosed
	}
	return err
}

// fail stops a started indexer from within the run goroutine. The status stays
// started with done set until the run state is cleared, so a concurrent Stop
// waits for this goroutine and a Start cannot overlap it.
func (ix *Indexer) fail(err error) {
	ix.logger.Errorw("Indexer failed, stopping", "error", err)

	ix.lock.Lock()
	if ix.status != StatusStarted {
		ix.lock.Unlock()
		return
	}
	subs, cancel := ix.subs, ix.cancel
	ix.subs, ix.cancel = nil, nil
	ix.lock.Unlock()

	cancel()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	ix.reset()

	ix.lock.Lock()
	// a concurrent Stop owns the final transition
	if ix.status == StatusStarted {
		_ = ix.setStatus(StatusStopped)
		ix.done = nil
	}
	ix.lock.Unlock()
	ix.metrics.IncIndexerRestarts()

	select {
	case ix.failures <- err:
	default:
	}
}

func (ix *Indexer) setHeight(height uint64) {
	ix.height.Store(height)
	ix.metrics.SetChainHead(height)
}

func (ix *Indexer) isConfirmed(blockNumber uint64) bool {
	height := ix.height.Load()
	return height >= blockNumber && height-blockNumber >= ix.cfg.Confirmations
}

func (ix *Indexer) onNewBlock(ctx context.Context, height uint64) error {
	if height > ix.height.Load() {
		ix.setHeight(height)
	}

	confirmed := ix.buffer.PopConfirmed(func(ev entities.ChainEvent) bool {
		return ix.isConfirmed(ev.BlockNumber)
	})
	ix.updateUnconfirmed()

	for _, ev := range confirmed {
		if err := ix.apply(ctx, ev); err != nil {
			return err
		}
	}
	ix.pruneApplied()
	return nil
}

func (ix *Indexer) onEvent(ctx context.Context, ev entities.ChainEvent) error {
	id := ev.ID()
	if ev.Removed {
		ix.buffer.Delete(id)
		ix.updateUnconfirmed()
		return nil
	}
	if _, ok := ix.applied[id]; ok {
		return nil
	}

	if ix.isConfirmed(ev.BlockNumber) {
		return ix.apply(ctx, ev)
	}
	ix.buffer.Set(ev)
	ix.updateUnconfirmed()
	return nil
}

func (ix *Indexer) updateUnconfirmed() {
	ix.unconfirmed.Store(int64(ix.buffer.Len()))
	ix.metrics.SetUnconfirmedEvents(ix.buffer.Len())
}

func (ix *Indexer) pruneApplied() {
	height := ix.height.Load()
	if height < appliedRetention+ix.cfg.Confirmations {
		return
	}
	limit := height - appliedRetention - ix.cfg.Confirmations
	for id, blockNumber := range ix.applied {
		if blockNumber < limit {
			delete(ix.applied, id)
		}
	}
}

func (ix *Indexer) apply(ctx context.Context, ev entities.ChainEvent) error {
	var (
		outcome string
		err     error
	)
	switch ev.Kind {
	case entities.OpenedChannelEvent:
		outcome, err = ix.onOpenedChannel(ctx, ev)
	case entities.ClosedChannelEvent:
		outcome, err = ix.onClosedChannel(ctx, ev)
	default:
		outcome = "unknown"
	}
	if err != nil {
		return errors.Wrapf(err, "applying %s", ev.ID())
	}

	ix.applied[ev.ID()] = ev.BlockNumber
	ix.metrics.IncAppliedEvent(ev.Kind.String(), outcome)
	ix.logger.Debugw("Applied channel event", "event", ev.ID(), "block", ev.BlockNumber, "outcome", outcome)
	return nil
}

func (ix *Indexer) onOpenedChannel(ctx context.Context, ev entities.ChainEvent) (string, error) {
	partyA, partyB := entities.OrderParties(ev.Party, ev.CounterParty)
	entry := ev.Entry()

	existing, found, err := ix.getEntry(partyA, partyB)
	if err != nil {
		return "", err
	}
	if found && !entities.IsMoreRecent(existing, entry) {
		return "stale", nil
	}

	if err := ix.storeChannel(partyA, partyB, entry); err != nil {
		return "", err
	}
	ix.notify(ctx, entities.OpenedChannelEvent, entities.ChannelInfo{PartyA: partyA, PartyB: partyB, Entry: entry})
	return "stored", nil
}

func (ix *Indexer) onClosedChannel(ctx context.Context, ev entities.ChainEvent) (string, error) {
	partyA, partyB := entities.OrderParties(ev.Party, ev.CounterParty)
	entry := ev.Entry()

	existing, found, err := ix.getEntry(partyA, partyB)
	if err != nil {
		return "", err
	}
	if !found {
		return "absent", nil
	}
	if !entities.IsMoreRecent(existing, entry) {
		return "stale", nil
	}

	if err := ix.deleteChannel(partyA, partyB, entry.BlockNumber); err != nil {
		return "", err
	}
	ix.notify(ctx, entities.ClosedChannelEvent, entities.ChannelInfo{PartyA: partyA, PartyB: partyB, Entry: entry})
	return "deleted", nil
}

func (ix *Indexer) getEntry(partyA, partyB entities.AccountId) (entities.ChannelEntry, bool, error) {
	entry, err := ix.store.GetChannel(partyA, partyB)
	if errors.Is(err, entities.ErrStoreEntityNotFound) {
		return entities.ChannelEntry{}, false, nil
	}
	if err != nil {
		return entities.ChannelEntry{}, false, errors.Wrap(err, "getting channel entry")
	}
	return entry, true, nil
}

func (ix *Indexer) storeChannel(partyA, partyB entities.AccountId, entry entities.ChannelEntry) error {
	if err := ix.store.StoreChannel(partyA, partyB, entry); err != nil {
		return errors.Wrap(err, "storing channel entry")
	}
	ix.metrics.SetConfirmedBlock(entry.BlockNumber)
	return nil
}

func (ix *Indexer) deleteChannel(partyA, partyB entities.AccountId, blockNumber uint64) error {
	if err := ix.store.DeleteChannel(partyA, partyB, blockNumber); err != nil {
		return errors.Wrap(err, "deleting channel entry")
	}
	ix.metrics.SetConfirmedBlock(blockNumber)
	return nil
}

// AddSink registers a sink for changes applied from now on.
func (ix *Indexer) AddSink(sink ChangeSink) {
	ix.lock.Lock()
	defer ix.lock.Unlock()
	ix.sinks = append(ix.sinks, sink)
}

func (ix *Indexer) notify(ctx context.Context, kind entities.EventKind, info entities.ChannelInfo) {
	ix.lock.Lock()
	sinks := slices.Clone(ix.sinks)
	ix.lock.Unlock()

	for _, sink := range sinks {
		var err error
		if kind == entities.OpenedChannelEvent {
			err = sink.ChannelOpened(ctx, info)
		} else {
			err = sink.ChannelClosed(ctx, info)
		}
		if err != nil {
			ix.logger.Warnw("Channel change sink failed", "kind", kind.String(), "channel", info.ID().Hex(), "error", err)
		}
	}
}

func (ix *Indexer) GetLatestConfirmedBlockNumber(_ context.Context) (uint64, error) {
	return ix.store.GetLatestConfirmedBlockNumber()
}

func (ix *Indexer) Has(_ context.Context, a, b entities.AccountId) (bool, error) {
	partyA, partyB := entities.OrderParties(a, b)
	return ix.store.HasChannel(partyA, partyB)
}

// GetSingle returns nil when the pair has no open channel.
func (ix *Indexer) GetSingle(_ context.Context, a, b entities.AccountId) (*entities.ChannelInfo, error) {
	partyA, partyB := entities.OrderParties(a, b)
	entry, found, err := ix.getEntry(partyA, partyB)
	if err != nil || !found {
		return nil, err
	}
	return &entities.ChannelInfo{PartyA: partyA, PartyB: partyB, Entry: entry}, nil
}

// GetAll returns every channel, or every channel of party when it is set.
func (ix *Indexer) GetAll(_ context.Context, party *entities.AccountId) ([]entities.ChannelInfo, error) {
	return ix.store.GetChannels(party)
}

// Get resolves a query: no parties returns all channels, one party returns the
// channels of that party and both parties return their channel if it exists.
func (ix *Indexer) Get(ctx context.Context, query *entities.ChannelQuery) ([]entities.ChannelInfo, error) {
	if query == nil || (query.PartyA == nil && query.PartyB == nil) {
		return ix.GetAll(ctx, nil)
	}
	if query.PartyA != nil && query.PartyB != nil {
		info, err := ix.GetSingle(ctx, *query.PartyA, *query.PartyB)
		if err != nil || info == nil {
			return nil, err
		}
		return []entities.ChannelInfo{*info}, nil
	}
	party := query.PartyA
	if party == nil {
		party = query.PartyB
	}
	return ix.GetAll(ctx, party)
}
