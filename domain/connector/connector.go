package connector

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/relaynet/channel-bridge/entities"
	"github.com/relaynet/channel-bridge/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const DefaultRestartDelay = 5 * time.Second

type Indexer interface {
	Start(ctx context.Context) error
	Stop() error
	Failures() <-chan error
}

// Chain is the transport the connector keeps alive. Reconnects delivers an
// error every time the underlying connection was lost.
type Chain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	Reconnects() <-chan error
}

type SecretInitializer interface {
	Initialize(ctx context.Context) error
}

type Config struct {
	RestartDelay time.Duration
}

// Connector drives the lifecycle of the chain-facing components.
type Connector struct {
	self    entities.AccountId
	chain   Chain
	indexer Indexer
	secret  SecretInitializer
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger

	ops       singleflight.Group
	lock      sync.Mutex
	status    Status
	running   bool
	started   chan struct{} // closed when the in-flight start completes
	stopWatch context.CancelFunc
	watchDone chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func NewConnector(self entities.AccountId, chain Chain, indexer Indexer, secret SecretInitializer, cfg Config, metrics *metrics.Metrics, logger *zap.SugaredLogger) *Connector {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	return &Connector{
		self:    self,
		chain:   chain,
		indexer: indexer,
		secret:  secret,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		closed:  make(chan struct{}),
	}
}

func (c *Connector) Status() Status {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.status
}

func (c *Connector) setStatus(to Status) error {
	if err := checkTransition(c.status, to); err != nil {
		return err
	}
	c.logger.Debugw("Connector status changed", "from", c.status.String(), "to", to.String())
	c.status = to
	c.metrics.SetConnectorStatus(int(to))
	return nil
}

// Initialize prepares the on-chain secret and checks that the chain is
// reachable. It is a no-op once initialized.
func (c *Connector) Initialize(ctx context.Context) error {
	_, err, _ := c.ops.Do("initialize", func() (interface{}, error) {
		return nil, c.initialize(ctx)
	})
	return err
}

func (c *Connector) initialize(ctx context.Context) error {
	c.lock.Lock()
	if c.status != StatusUninitialized {
		c.lock.Unlock()
		return nil
	}
	_ = c.setStatus(StatusInitializing)
	c.lock.Unlock()

	err := c.checkChain(ctx)
	if err == nil {
		err = c.secret.Initialize(ctx)
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if err != nil {
		_ = c.setStatus(StatusUninitialized)
		if errors.Is(err, entities.ErrInsufficientFunds) || errors.Is(err, entities.ErrInsufficientNativeFunds) {
			c.logger.Errorw("Account has insufficient funds, fund it and restart", "account", c.self.Hex(), "error", err)
		}
		return errors.Wrap(err, "initializing connector")
	}
	c.logger.Infow("Connector initialized", "account", c.self.Hex())
	return c.setStatus(StatusInitialized)
}

func (c *Connector) checkChain(ctx context.Context) error {
	head, err := c.chain.BlockNumber(ctx)
	if err != nil {
		return errors.Wrap(err, "checking chain liveness")
	}
	c.logger.Debugw("Chain is reachable", "head", head)
	return nil
}

// Start initializes the connector if needed, starts the indexer and begins
// watching for failures. Concurrent calls share one start.
func (c *Connector) Start(ctx context.Context) error {
	c.lock.Lock()
	switch c.status {
	case StatusStarted:
		c.lock.Unlock()
		return nil
	case StatusStopping:
		c.lock.Unlock()
		return entities.ErrStopInProgress
	}
	c.running = true
	c.lock.Unlock()

	return c.startShared(ctx)
}

func (c *Connector) startShared(ctx context.Context) error {
	_, err, _ := c.ops.Do("start", func() (interface{}, error) {
		return nil, c.start(ctx)
	})
	return err
}

func (c *Connector) start(ctx context.Context) error {
	if err := c.Initialize(ctx); err != nil {
		return err
	}

	c.lock.Lock()
	// a stop issued during a restart wins
	if c.status == StatusStarted || !c.running {
		c.lock.Unlock()
		return nil
	}
	if err := c.setStatus(StatusStarting); err != nil {
		c.lock.Unlock()
		return err
	}
	started := make(chan struct{})
	c.started = started
	c.lock.Unlock()
	defer close(started)

	err := c.indexer.Start(ctx)

	c.lock.Lock()
	defer c.lock.Unlock()
	if err != nil {
		_ = c.setStatus(StatusStopped)
		return errors.Wrap(err, "starting indexer")
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	c.stopWatch = cancel
	c.watchDone = make(chan struct{})
	go c.watch(watchCtx, c.watchDone)

	c.logger.Infow("Connector started", "account", c.self.Hex())
	return c.setStatus(StatusStarted)
}

// Stop stops the indexer. A stop issued while starting waits for that start
// to complete first.
func (c *Connector) Stop() error {
	c.lock.Lock()
	c.running = false
	c.lock.Unlock()
	return c.stop()
}

func (c *Connector) stop() error {
	_, err, _ := c.ops.Do("stop", func() (interface{}, error) {
		return nil, c.stopOnce()
	})
	return err
}

func (c *Connector) stopOnce() error {
	c.lock.Lock()
	if c.status == StatusStarting {
		started := c.started
		c.lock.Unlock()
		<-started
		c.lock.Lock()
	}
	if c.status != StatusStarted {
		c.lock.Unlock()
		return nil
	}
	_ = c.setStatus(StatusStopping)
	stopWatch, watchDone := c.stopWatch, c.watchDone
	c.stopWatch, c.watchDone = nil, nil
	c.lock.Unlock()

	stopWatch()
	<-watchDone

	err := c.indexer.Stop()

	c.lock.Lock()
	defer c.lock.Unlock()
	_ = c.setStatus(StatusStopped)
	if err != nil {
		return errors.Wrap(err, "stopping indexer")
	}
	c.logger.Infow("Connector stopped")
	return nil
}

// Close stops the connector and aborts any pending restart.
func (c *Connector) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.Stop()
}

func (c *Connector) watch(ctx context.Context, done chan struct{}) {
	defer close(done)

	var reason error
	select {
	case <-ctx.Done():
		return
	case err := <-c.indexer.Failures():
		reason = errors.Wrap(err, "indexer failed")
	case err := <-c.chain.Reconnects():
		reason = errors.Wrap(err, "chain connection lost")
	}

	c.logger.Warnw("Restarting connector", "reason", reason)
	go c.restart()
}

// restart runs a full stop and start cycle, retrying the start until it
// succeeds or the connector is stopped.
func (c *Connector) restart() {
	if err := c.stop(); err != nil {
		c.logger.Errorw("Stopping connector for restart", "error", err)
	}

	for {
		c.lock.Lock()
		running := c.running
		c.lock.Unlock()
		if !running {
			return
		}

		err := c.startShared(context.Background())
		if err == nil {
			return
		}
		c.logger.Errorw("Restarting connector", "error", err, "retryIn", c.cfg.RestartDelay)

		select {
		case <-time.After(c.cfg.RestartDelay):
		case <-c.closed:
			return
		}
	}
}
