package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/relaynet/channel-bridge/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var ErrMock = errors.New("mock error")

// MockBackend implements the calls exercised by the tests. Any other Backend
// method panics on the nil embedded interface.
type MockBackend struct {
	Backend

	lock       sync.Mutex
	head       uint64
	callOutput []byte
	filtered   []types.Log
	queries    []ethereum.FilterQuery
	live       chan<- types.Log
	subErr     chan error
	shouldErr  bool
}

func (mb *MockBackend) BlockNumber(_ context.Context) (uint64, error) {
	return mb.head, nil
}

func (mb *MockBackend) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if mb.shouldErr {
		return nil, ErrMock
	}
	return mb.callOutput, nil
}

func (mb *MockBackend) FilterLogs(_ context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	mb.queries = append(mb.queries, query)
	if mb.shouldErr {
		return nil, ErrMock
	}
	return mb.filtered, nil
}

func (mb *MockBackend) SubscribeFilterLogs(_ context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	mb.queries = append(mb.queries, query)
	mb.live = ch
	subErr := mb.subErr
	return event.NewSubscription(func(quit <-chan struct{}) error {
		select {
		case <-quit:
			return nil
		case err := <-subErr:
			return err
		}
	}), nil
}

func (mb *MockBackend) push(log types.Log) {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	mb.live <- log
}

func newTestClient(t *testing.T, backend *MockBackend) *Client {
	client, err := NewClient(context.Background(), backend, common.HexToAddress("0x66f2Ee2C0CD5C54E4C1f7f4a4dB9b2aE4A4D3d1E"), nil, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return client
}

func channelLog(t *testing.T, client *Client, name string, party, counterparty entities.AccountId, block uint64, txIndex, logIndex uint) types.Log {
	id, ok := client.abi.Events[name]
	require.True(t, ok)
	return types.Log{
		Address: client.address,
		Topics: []common.Hash{
			id.ID,
			common.BytesToHash(party.Address().Bytes()),
			common.BytesToHash(counterparty.Address().Bytes()),
		},
		BlockNumber: block,
		TxHash:      common.BytesToHash([]byte{byte(block), byte(txIndex)}),
		TxIndex:     txIndex,
		Index:       logIndex,
	}
}

var (
	alice = entities.AccountId{0x0a}
	bob   = entities.AccountId{0x0b}
)

func TestClient_ToChainEvent(t *testing.T) {
	client := newTestClient(t, &MockBackend{})

	ev, err := client.toChainEvent(channelLog(t, client, eventOpenedChannel, alice, bob, 12, 3, 7))
	require.NoError(t, err)
	assert.Equal(t, entities.ChainEvent{
		Kind:             entities.OpenedChannelEvent,
		BlockNumber:      12,
		TransactionIndex: 3,
		LogIndex:         7,
		TransactionHash:  entities.Hash(common.BytesToHash([]byte{12, 3})),
		Party:            alice,
		CounterParty:     bob,
	}, ev)

	removed := channelLog(t, client, eventClosedChannel, bob, alice, 13, 0, 1)
	removed.Removed = true
	ev, err = client.toChainEvent(removed)
	require.NoError(t, err)
	assert.Equal(t, entities.ClosedChannelEvent, ev.Kind)
	assert.True(t, ev.Removed)
	assert.Equal(t, bob, ev.Party)

	unknown := channelLog(t, client, eventOpenedChannel, alice, bob, 1, 0, 0)
	unknown.Topics[0] = common.HexToHash("0x01")
	_, err = client.toChainEvent(unknown)
	assert.ErrorIs(t, err, entities.ErrInvalidValue)

	short := channelLog(t, client, eventOpenedChannel, alice, bob, 1, 0, 0)
	short.Topics = short.Topics[:2]
	_, err = client.toChainEvent(short)
	assert.ErrorIs(t, err, entities.ErrInvalidLength)
}

func TestClient_SubscribeChannelEvents(t *testing.T) {
	backend := &MockBackend{head: 20, subErr: make(chan error, 1)}
	client := newTestClient(t, backend)
	backend.filtered = []types.Log{
		channelLog(t, client, eventOpenedChannel, alice, bob, 5, 0, 0),
		channelLog(t, client, eventClosedChannel, alice, bob, 9, 1, 2),
	}

	sink := make(chan entities.ChainEvent, 8)
	sub, err := client.SubscribeChannelEvents(context.Background(), 4, sink)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Len(t, backend.queries, 2)
	past := backend.queries[1]
	assert.Equal(t, big.NewInt(4), past.FromBlock)
	assert.Equal(t, big.NewInt(20), past.ToBlock)
	assert.Equal(t, []common.Address{client.address}, past.Addresses)
	assert.Len(t, past.Topics[0], 2)
	assert.Nil(t, backend.queries[0].FromBlock)

	backend.push(channelLog(t, client, eventOpenedChannel, bob, alice, 21, 0, 0))

	var received []entities.ChainEvent
	for len(received) < 3 {
		select {
		case ev := <-sink:
			received = append(received, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d events, expected 3", len(received))
		}
	}
	assert.Equal(t, []uint64{5, 9, 21}, []uint64{received[0].BlockNumber, received[1].BlockNumber, received[2].BlockNumber})
	assert.Equal(t, entities.ClosedChannelEvent, received[1].Kind)

	backend.subErr <- ErrMock
	select {
	case err := <-sub.Err():
		assert.ErrorIs(t, err, ErrMock)
	case <-time.After(2 * time.Second):
		t.Fatal("expected subscription error")
	}
	select {
	case err := <-client.Reconnects():
		assert.ErrorIs(t, err, ErrMock)
	default:
		t.Fatal("expected a reconnect notification")
	}
}

func TestClient_SubscribeChannelEventsBeyondHead(t *testing.T) {
	backend := &MockBackend{head: 3}
	client := newTestClient(t, backend)

	sub, err := client.SubscribeChannelEvents(context.Background(), 10, make(chan entities.ChainEvent))
	require.NoError(t, err)
	sub.Unsubscribe()

	// only the live subscription, no backfill
	assert.Len(t, backend.queries, 1)
}

func TestClient_SubscribeChannelEventsBackfillError(t *testing.T) {
	backend := &MockBackend{head: 30, shouldErr: true}
	client := newTestClient(t, backend)

	_, err := client.SubscribeChannelEvents(context.Background(), 10, make(chan entities.ChainEvent))
	assert.ErrorIs(t, err, ErrMock)
}

func TestClient_SubscribeSecretHashSet(t *testing.T) {
	backend := &MockBackend{}
	client := newTestClient(t, backend)

	sink := make(chan entities.SecretHashSetEvent, 1)
	sub, err := client.SubscribeSecretHashSet(context.Background(), alice, sink)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	query := backend.queries[0]
	assert.Equal(t, common.BytesToHash(alice.Address().Bytes()), query.Topics[1][0])

	secretHash := entities.Keccak256([]byte("secret"))
	data, err := client.abi.Events[eventSecretHashSet].Inputs.NonIndexed().Pack([32]byte(secretHash), big.NewInt(3))
	require.NoError(t, err)
	backend.push(types.Log{
		Address: client.address,
		Topics: []common.Hash{
			client.abi.Events[eventSecretHashSet].ID,
			common.BytesToHash(alice.Address().Bytes()),
		},
		Data: data,
	})

	select {
	case ev := <-sink:
		assert.Equal(t, alice, ev.Account)
		assert.Equal(t, secretHash, ev.SecretHash)
		assert.Equal(t, int64(3), ev.Counter.Int64())
	case <-time.After(2 * time.Second):
		t.Fatal("expected a secret hash event")
	}
}

func TestClient_Accounts(t *testing.T) {
	backend := &MockBackend{}
	client := newTestClient(t, backend)

	hashed := entities.Keccak256([]byte("head"))
	output, err := client.abi.Methods[methodAccounts].Outputs.Pack([32]byte(hashed), big.NewInt(42))
	require.NoError(t, err)
	backend.callOutput = output

	state, err := client.Accounts(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, hashed, state.HashedSecret)
	assert.Equal(t, int64(42), state.Counter.Int64())

	backend.shouldErr = true
	_, err = client.Accounts(context.Background(), alice)
	assert.ErrorIs(t, err, ErrMock)
}

func TestClient_Channels(t *testing.T) {
	backend := &MockBackend{}
	client := newTestClient(t, backend)

	output, err := client.abi.Methods[methodChannels].Outputs.Pack(big.NewInt(100), big.NewInt(60), big.NewInt(0), big.NewInt(2))
	require.NoError(t, err)
	backend.callOutput = output

	onChain, err := client.Channels(context.Background(), entities.ChannelID(alice, bob))
	require.NoError(t, err)
	assert.Equal(t, int64(100), onChain.Deposit.Int64())
	assert.Equal(t, int64(60), onChain.PartyABalance.Int64())
	assert.Equal(t, int64(0), onChain.ClosureTime.Int64())
	assert.Equal(t, int64(2), onChain.StateCounter.Int64())
	assert.Equal(t, int64(40), onChain.BalanceOf(bob, alice).Int64())
}

func TestClient_TransactWithoutKey(t *testing.T) {
	client := newTestClient(t, &MockBackend{})
	err := client.SetHashedSecret(context.Background(), entities.Hash{0x01})
	assert.ErrorContains(t, err, "no signing key")
}

func TestMapTxError(t *testing.T) {
	testData := []struct {
		name     string
		err      error
		expected error
	}{
		{name: "gas", err: errors.New("insufficient funds for gas * price + value"), expected: entities.ErrInsufficientNativeFunds},
		{name: "token", err: errors.New("execution reverted: ERC777: transfer amount exceeds balance"), expected: entities.ErrInsufficientFunds},
		{name: "other", err: ErrMock, expected: ErrMock},
	}

	for _, testRun := range testData {
		t.Run(testRun.name, func(t *testing.T) {
			err := mapTxError(testRun.err)
			assert.ErrorIs(t, err, testRun.expected)
		})
	}
}
