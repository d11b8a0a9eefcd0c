package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func account(b byte) AccountId {
	var a AccountId
	for i := range a {
		a[i] = b
	}
	return a
}

func TestOrderParties_IndependentOfArgumentOrder(t *testing.T) {
	testData := []struct {
		name string
		a    AccountId
		b    AccountId
	}{
		{name: "low_high", a: account(0x01), b: account(0xfe)},
		{name: "high_low", a: account(0xfe), b: account(0x01)},
		{name: "differ_in_last_byte", a: AccountId{19: 0x02}, b: AccountId{19: 0x01}},
	}

	for _, testRun := range testData {
		t.Run(testRun.name, func(t *testing.T) {
			a1, b1 := OrderParties(testRun.a, testRun.b)
			a2, b2 := OrderParties(testRun.b, testRun.a)
			assert.Equal(t, a1, a2)
			assert.Equal(t, b1, b2)
			assert.Negative(t, a1.Compare(b1))
			assert.Equal(t, ChannelID(testRun.a, testRun.b), ChannelID(testRun.b, testRun.a))
		})
	}
}

func TestChannelID_IsKeccakOfOrderedPair(t *testing.T) {
	a, b := account(0x22), account(0x11)
	expected := Keccak256(b[:], a[:])
	assert.Equal(t, expected, ChannelID(a, b))
}

func TestIsMoreRecent(t *testing.T) {
	testData := []struct {
		name     string
		old      ChannelEntry
		new      ChannelEntry
		expected bool
	}{
		{name: "older_block", old: ChannelEntry{2, 0, 0}, new: ChannelEntry{1, 5, 5}, expected: false},
		{name: "same_block_older_tx", old: ChannelEntry{1, 2, 0}, new: ChannelEntry{1, 1, 5}, expected: false},
		{name: "same_block_same_tx_same_log", old: ChannelEntry{1, 1, 1}, new: ChannelEntry{1, 1, 1}, expected: false},
		{name: "same_block_same_tx_older_log", old: ChannelEntry{1, 1, 2}, new: ChannelEntry{1, 1, 1}, expected: false},
		{name: "same_block_same_tx_newer_log", old: ChannelEntry{1, 1, 1}, new: ChannelEntry{1, 1, 2}, expected: true},
		{name: "newer_block_newer_log", old: ChannelEntry{1, 0, 0}, new: ChannelEntry{2, 0, 1}, expected: true},
		// a newer block with an equal log index is not considered more recent
		{name: "newer_block_equal_log", old: ChannelEntry{1, 0, 0}, new: ChannelEntry{2, 0, 0}, expected: false},
		{name: "newer_block_lower_tx", old: ChannelEntry{1, 3, 0}, new: ChannelEntry{2, 1, 1}, expected: false},
	}

	for _, testRun := range testData {
		t.Run(testRun.name, func(t *testing.T) {
			assert.Equal(t, testRun.expected, IsMoreRecent(testRun.old, testRun.new))
		})
	}
}

func TestChannelEntry_MarshalAndUnmarshal(t *testing.T) {
	entry := ChannelEntry{BlockNumber: 1<<40 + 7, TransactionIndex: 3, LogIndex: 9}
	b, err := entry.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, ChannelEntryLength)
	assert.Equal(t, []byte{0, 0, 1, 0, 0, 0, 0, 7}, b[:8])

	var decoded ChannelEntry
	require.NoError(t, decoded.UnmarshalBinary(b))
	assert.Equal(t, entry, decoded)

	err = decoded.UnmarshalBinary(b[:23])
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestChannelInfo_Counterparty(t *testing.T) {
	info := ChannelInfo{PartyA: account(1), PartyB: account(2)}
	assert.Equal(t, account(2), info.Counterparty(account(1)))
	assert.Equal(t, account(1), info.Counterparty(account(2)))
	assert.True(t, info.Involves(account(2)))
	assert.False(t, info.Involves(account(3)))
}
