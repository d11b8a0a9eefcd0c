package pebbledb

import (
	"math/big"
	"os"
	"testing"

	"github.com/relaynet/channel-bridge/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	dbDir, err := os.MkdirTemp("", "pebble_test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dbDir) })

	store, err := NewStore(dbDir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func account(b byte) entities.AccountId {
	var a entities.AccountId
	for i := range a {
		a[i] = b
	}
	return a
}

func TestPebbleStore_GetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	found, err := store.Has([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, found)

	_, err = store.GetChannel(account(1), account(2))
	require.ErrorIs(t, err, entities.ErrStoreEntityNotFound)
}

func TestPebbleStore_ScanBounds(t *testing.T) {
	store := newTestStore(t)
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.Put([]byte(k), []byte(k)))
	}

	collect := func(upperInclusive bool) []string {
		var keys []string
		err := store.Scan([]byte("b"), []byte("d"), upperInclusive, func(key, _ []byte) (bool, error) {
			keys = append(keys, string(key))
			return true, nil
		})
		require.NoError(t, err)
		return keys
	}

	assert.Equal(t, []string{"b", "c"}, collect(false))
	assert.Equal(t, []string{"b", "c", "d"}, collect(true))
}

func TestPebbleStore_Batch(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put([]byte("old"), []byte{1}))

	err := store.Batch(PutOp([]byte("new"), []byte{2}), DeleteOp([]byte("old")))
	require.NoError(t, err)

	value, err := store.Get([]byte("new"))
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, value)

	_, err = store.Get([]byte("old"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPebbleStore_Channels(t *testing.T) {
	store := newTestStore(t)

	block, err := store.GetLatestConfirmedBlockNumber()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), block)

	entry := entities.ChannelEntry{BlockNumber: 10, TransactionIndex: 1, LogIndex: 2}
	require.NoError(t, store.StoreChannel(account(1), account(2), entry))
	require.NoError(t, store.StoreChannel(account(2), account(3), entities.ChannelEntry{BlockNumber: 7}))
	require.NoError(t, store.StoreChannel(account(0xff), account(0xff), entities.ChannelEntry{BlockNumber: 8}))

	block, err = store.GetLatestConfirmedBlockNumber()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), block, "marker must not move backwards")

	got, err := store.GetChannel(account(1), account(2))
	require.NoError(t, err)
	assert.Equal(t, entry, got)

	found, err := store.HasChannel(account(1), account(2))
	require.NoError(t, err)
	assert.True(t, found)

	all, err := store.GetChannels(nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	party := account(2)
	forParty, err := store.GetChannels(&party)
	require.NoError(t, err)
	require.Len(t, forParty, 2)
	assert.Equal(t, account(1), forParty[0].PartyA)
	assert.Equal(t, account(3), forParty[1].PartyB)

	require.NoError(t, store.DeleteChannel(account(1), account(2), 12))
	found, err = store.HasChannel(account(1), account(2))
	require.NoError(t, err)
	assert.False(t, found)

	block, err = store.GetLatestConfirmedBlockNumber()
	require.NoError(t, err)
	assert.Equal(t, uint64(12), block)
}

func TestPebbleStore_TicketsAndNonces(t *testing.T) {
	store := newTestStore(t)

	channelID := entities.ChannelID(account(1), account(2))
	otherChannelID := entities.ChannelID(account(1), account(3))
	newTicket := func(channel entities.Hash, challenge byte) entities.SignedTicket {
		return entities.SignedTicket{
			Signature: entities.Signature{Recovery: 1},
			Ticket: entities.Ticket{
				ChannelID: channel,
				Challenge: entities.Hash{challenge},
				Epoch:     big.NewInt(1),
				Amount:    big.NewInt(5),
			},
		}
	}

	require.NoError(t, store.StoreTicket(newTicket(channelID, 1)))
	require.NoError(t, store.StoreTicket(newTicket(channelID, 2)))
	require.NoError(t, store.StoreTicket(newTicket(otherChannelID, 1)))

	tickets, err := store.GetTickets(channelID)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, entities.Hash{1}, tickets[0].Ticket.Challenge)

	ticket, err := store.GetTicket(channelID, entities.Hash{2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), ticket.Ticket.Amount.Int64())

	require.NoError(t, store.DeleteTicket(channelID, entities.Hash{1}))
	tickets, err = store.GetTickets(channelID)
	require.NoError(t, err)
	assert.Len(t, tickets, 1)

	used, err := store.HasNonce(channelID, []byte("nonce"))
	require.NoError(t, err)
	assert.False(t, used)
	require.NoError(t, store.PutNonce(channelID, []byte("nonce")))
	used, err = store.HasNonce(channelID, []byte("nonce"))
	require.NoError(t, err)
	assert.True(t, used)
	used, err = store.HasNonce(otherChannelID, []byte("nonce"))
	require.NoError(t, err)
	assert.False(t, used)
}

func TestPebbleStore_OnChainSecret(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetOnChainSecret()
	require.ErrorIs(t, err, ErrNotFound)

	secret := entities.OnChainSecret{Origin: entities.Hash{9, 9}, Index: 500}
	require.NoError(t, store.SetOnChainSecret(secret))

	got, err := store.GetOnChainSecret()
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte{0x02}, prefixUpperBound([]byte{0x01}))
	assert.Equal(t, []byte{0x02}, prefixUpperBound([]byte{0x01, 0xff}))
	assert.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}
