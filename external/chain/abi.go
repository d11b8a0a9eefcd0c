package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/pkg/errors"
)

const channelsABI = `[
	{"type":"event","name":"OpenedChannel","anonymous":false,"inputs":[
		{"name":"opener","type":"address","indexed":true},
		{"name":"counterparty","type":"address","indexed":true}]},
	{"type":"event","name":"ClosedChannel","anonymous":false,"inputs":[
		{"name":"closer","type":"address","indexed":true},
		{"name":"counterparty","type":"address","indexed":true}]},
	{"type":"event","name":"SecretHashSet","anonymous":false,"inputs":[
		{"name":"account","type":"address","indexed":true},
		{"name":"secretHash","type":"bytes32","indexed":false},
		{"name":"counter","type":"uint256","indexed":false}]},
	{"type":"function","name":"accounts","stateMutability":"view",
		"inputs":[{"name":"account","type":"address"}],
		"outputs":[
			{"name":"hashedSecret","type":"bytes32"},
			{"name":"counter","type":"uint256"}]},
	{"type":"function","name":"channels","stateMutability":"view",
		"inputs":[{"name":"channelId","type":"bytes32"}],
		"outputs":[
			{"name":"deposit","type":"uint256"},
			{"name":"partyABalance","type":"uint256"},
			{"name":"closureTime","type":"uint256"},
			{"name":"stateCounter","type":"uint256"}]},
	{"type":"function","name":"setHashedSecret","stateMutability":"nonpayable",
		"inputs":[{"name":"hashedSecret","type":"bytes32"}],
		"outputs":[]},
	{"type":"function","name":"redeemTicket","stateMutability":"nonpayable",
		"inputs":[
			{"name":"preImage","type":"bytes32"},
			{"name":"secretA","type":"bytes32"},
			{"name":"secretB","type":"bytes32"},
			{"name":"amount","type":"uint256"},
			{"name":"winProb","type":"bytes32"},
			{"name":"r","type":"bytes32"},
			{"name":"s","type":"bytes32"},
			{"name":"v","type":"uint8"}],
		"outputs":[]}
]`

const (
	eventOpenedChannel = "OpenedChannel"
	eventClosedChannel = "ClosedChannel"
	eventSecretHashSet = "SecretHashSet"

	methodAccounts        = "accounts"
	methodChannels        = "channels"
	methodSetHashedSecret = "setHashedSecret"
	methodRedeemTicket    = "redeemTicket"
)

func parseChannelsABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(channelsABI))
	if err != nil {
		return abi.ABI{}, errors.Wrap(err, "parsing channels abi")
	}
	return parsed, nil
}
