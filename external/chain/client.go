package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"
	"github.com/relaynet/channel-bridge/entities"
	"go.uber.org/zap"
)

// Backend is the subset of an Ethereum JSON-RPC client used by Client.
// *ethclient.Client implements it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// Client talks to the channels contract. Transactions are signed with key,
// which may be nil for a read-only client.
type Client struct {
	backend    Backend
	contract   *bind.BoundContract
	abi        abi.ABI
	address    common.Address
	key        *ecdsa.PrivateKey
	chainID    *big.Int
	closer     func()
	txLock     sync.Mutex
	reconnects chan error
	logger     *zap.SugaredLogger
}

// Dial connects to rpcURL, which must be a websocket or IPC endpoint for
// subscriptions to work.
func Dial(ctx context.Context, rpcURL string, address common.Address, key *ecdsa.PrivateKey, logger *zap.SugaredLogger) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", rpcURL)
	}
	client, err := NewClient(ctx, rpc, address, key, logger)
	if err != nil {
		rpc.Close()
		return nil, err
	}
	client.closer = rpc.Close
	return client, nil
}

func NewClient(ctx context.Context, backend Backend, address common.Address, key *ecdsa.PrivateKey, logger *zap.SugaredLogger) (*Client, error) {
	parsed, err := parseChannelsABI()
	if err != nil {
		return nil, err
	}

	var chainID *big.Int
	if key != nil {
		chainID, err = backend.ChainID(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "getting chain id")
		}
	}

	return &Client{
		backend:    backend,
		contract:   bind.NewBoundContract(address, parsed, backend, backend, backend),
		abi:        parsed,
		address:    address,
		key:        key,
		chainID:    chainID,
		reconnects: make(chan error, 1),
		logger:     logger,
	}, nil
}

func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Reconnects delivers the error of a subscription that was dropped by the
// node.
func (c *Client) Reconnects() <-chan error {
	return c.reconnects
}

func (c *Client) disconnected(err error) {
	c.logger.Warnw("Chain subscription dropped", "error", err)
	select {
	case c.reconnects <- err:
	default:
	}
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "getting block number")
	}
	return head, nil
}

func (c *Client) SubscribeNewHeads(ctx context.Context, sink chan<- uint64) (event.Subscription, error) {
	headers := make(chan *types.Header, 16)
	sub, err := c.backend.SubscribeNewHead(ctx, headers)
	if err != nil {
		return nil, errors.Wrap(err, "subscribing to new heads")
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case header := <-headers:
				select {
				case sink <- header.Number.Uint64():
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				if err != nil {
					c.disconnected(err)
				}
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func (c *Client) channelEventsQuery() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{c.address},
		Topics: [][]common.Hash{{
			c.abi.Events[eventOpenedChannel].ID,
			c.abi.Events[eventClosedChannel].ID,
		}},
	}
}

// SubscribeChannelEvents delivers every channel event from fromBlock on. Past
// logs are replayed before live ones and may overlap with them.
func (c *Client) SubscribeChannelEvents(ctx context.Context, fromBlock uint64, sink chan<- entities.ChainEvent) (event.Subscription, error) {
	query := c.channelEventsQuery()

	// subscribe before the backfill so no log falls in between
	logs := make(chan types.Log, 256)
	sub, err := c.backend.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, errors.Wrap(err, "subscribing to channel events")
	}

	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		sub.Unsubscribe()
		return nil, errors.Wrap(err, "getting block number")
	}

	var backfill []types.Log
	if fromBlock <= head {
		past := query
		past.FromBlock = new(big.Int).SetUint64(fromBlock)
		past.ToBlock = new(big.Int).SetUint64(head)
		backfill, err = c.backend.FilterLogs(ctx, past)
		if err != nil {
			sub.Unsubscribe()
			return nil, errors.Wrapf(err, "filtering channel events from %d to %d", fromBlock, head)
		}
	}
	c.logger.Infow("Subscribed to channel events", "fromBlock", fromBlock, "head", head, "backfill", len(backfill))

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()

		forward := func(log types.Log) (bool, error) {
			ev, err := c.toChainEvent(log)
			if err != nil {
				return false, err
			}
			select {
			case sink <- ev:
				return true, nil
			case <-quit:
				return false, nil
			}
		}

		for _, log := range backfill {
			ok, err := forward(log)
			if !ok {
				return err
			}
		}
		for {
			select {
			case log := <-logs:
				ok, err := forward(log)
				if !ok {
					return err
				}
			case err := <-sub.Err():
				if err != nil {
					c.disconnected(err)
				}
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func (c *Client) toChainEvent(log types.Log) (entities.ChainEvent, error) {
	if len(log.Topics) != 3 {
		return entities.ChainEvent{}, errors.Wrapf(entities.ErrInvalidLength, "log %s:%d has %d topics", log.TxHash.Hex(), log.Index, len(log.Topics))
	}

	var kind entities.EventKind
	switch log.Topics[0] {
	case c.abi.Events[eventOpenedChannel].ID:
		kind = entities.OpenedChannelEvent
	case c.abi.Events[eventClosedChannel].ID:
		kind = entities.ClosedChannelEvent
	default:
		return entities.ChainEvent{}, errors.Wrapf(entities.ErrInvalidValue, "unknown event topic %s", log.Topics[0].Hex())
	}

	return entities.ChainEvent{
		Kind:             kind,
		BlockNumber:      log.BlockNumber,
		TransactionIndex: uint64(log.TxIndex),
		LogIndex:         uint64(log.Index),
		TransactionHash:  entities.Hash(log.TxHash),
		Removed:          log.Removed,
		Party:            entities.AccountIdFromAddress(common.BytesToAddress(log.Topics[1].Bytes())),
		CounterParty:     entities.AccountIdFromAddress(common.BytesToAddress(log.Topics[2].Bytes())),
	}, nil
}

type secretHashSetLog struct {
	Account    common.Address
	SecretHash [32]byte
	Counter    *big.Int
}

func (c *Client) SubscribeSecretHashSet(ctx context.Context, account entities.AccountId, sink chan<- entities.SecretHashSetEvent) (event.Subscription, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.address},
		Topics: [][]common.Hash{
			{c.abi.Events[eventSecretHashSet].ID},
			{common.BytesToHash(account.Address().Bytes())},
		},
	}

	logs := make(chan types.Log, 16)
	sub, err := c.backend.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, errors.Wrapf(err, "subscribing to secret hash updates of %s", account.Hex())
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case log := <-logs:
				var parsed secretHashSetLog
				if err := c.contract.UnpackLog(&parsed, eventSecretHashSet, log); err != nil {
					return errors.Wrap(err, "unpacking secret hash set log")
				}
				ev := entities.SecretHashSetEvent{
					Account:    entities.AccountIdFromAddress(parsed.Account),
					SecretHash: entities.Hash(parsed.SecretHash),
					Counter:    parsed.Counter,
				}
				select {
				case sink <- ev:
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				if err != nil {
					c.disconnected(err)
				}
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func (c *Client) Accounts(ctx context.Context, account entities.AccountId) (entities.AccountState, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodAccounts, account.Address())
	if err != nil {
		return entities.AccountState{}, errors.Wrapf(err, "calling accounts(%s)", account.Hex())
	}

	return entities.AccountState{
		HashedSecret: entities.Hash(*abi.ConvertType(out[0], new([32]byte)).(*[32]byte)),
		Counter:      *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
	}, nil
}

func (c *Client) Channels(ctx context.Context, channelID entities.Hash) (entities.OnChainChannel, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodChannels, [32]byte(channelID))
	if err != nil {
		return entities.OnChainChannel{}, errors.Wrapf(err, "calling channels(%s)", channelID.Hex())
	}

	return entities.OnChainChannel{
		Deposit:       *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		PartyABalance: *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		ClosureTime:   *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
		StateCounter:  *abi.ConvertType(out[3], new(*big.Int)).(**big.Int),
	}, nil
}

func (c *Client) SetHashedSecret(ctx context.Context, hashedSecret entities.Hash) error {
	return c.transact(ctx, methodSetHashedSecret, [32]byte(hashedSecret))
}

func (c *Client) RedeemTicket(ctx context.Context, params entities.RedeemTicketParams) error {
	return c.transact(ctx, methodRedeemTicket,
		[32]byte(params.PreImage),
		[32]byte(params.SecretA),
		[32]byte(params.SecretB),
		params.Amount,
		[32]byte(params.WinProb),
		params.R,
		params.S,
		params.V,
	)
}

func (c *Client) transact(ctx context.Context, method string, params ...interface{}) error {
	if c.key == nil {
		return errors.Errorf("cannot send %s: client has no signing key", method)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return errors.Wrap(err, "creating transactor")
	}
	opts.Context = ctx

	// serialized so concurrent sends pick distinct pending nonces
	c.txLock.Lock()
	tx, err := c.contract.Transact(opts, method, params...)
	c.txLock.Unlock()
	if err != nil {
		return mapTxError(errors.Wrapf(err, "sending %s", method))
	}

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return errors.Wrapf(err, "waiting for %s transaction %s", method, tx.Hash().Hex())
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return errors.Errorf("%s transaction %s reverted", method, tx.Hash().Hex())
	}

	c.logger.Infow("Transaction mined", "method", method, "tx", tx.Hash().Hex(), "block", receipt.BlockNumber.Uint64(), "gasUsed", receipt.GasUsed)
	return nil
}

// mapTxError turns node and contract funding failures into the matching
// entities errors.
func mapTxError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return errors.Wrap(entities.ErrInsufficientNativeFunds, err.Error())
	case strings.Contains(msg, "exceeds balance"), strings.Contains(msg, "insufficient balance"):
		return errors.Wrap(entities.ErrInsufficientFunds, err.Error())
	default:
		return err
	}
}
