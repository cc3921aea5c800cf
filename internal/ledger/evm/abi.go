package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const eventABIJSON = `[
  {"type":"function","name":"getEventDetails","stateMutability":"view","inputs":[],"outputs":[
    {"name":"question","type":"string"},
    {"name":"optionA","type":"string"},
    {"name":"optionB","type":"string"},
    {"name":"status","type":"uint8"},
    {"name":"endTime","type":"uint256"},
    {"name":"winningOption","type":"uint8"},
    {"name":"creator","type":"address"},
    {"name":"token","type":"address"},
    {"name":"creatorStake","type":"uint256"},
    {"name":"totalStaked","type":"uint256"},
    {"name":"creatorFeeBps","type":"uint16"},
    {"name":"creatorRewardClaimed","type":"bool"}]},
  {"type":"function","name":"getOptionTotals","stateMutability":"view","inputs":[],"outputs":[
    {"name":"optionA","type":"uint256"},
    {"name":"optionB","type":"uint256"}]},
  {"type":"function","name":"getUserStake","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[
    {"name":"selectedOption","type":"uint8"},
    {"name":"amount","type":"uint256"},
    {"name":"claimed","type":"bool"}]},
  {"type":"function","name":"nullificationReason","stateMutability":"view","inputs":[],"outputs":[
    {"name":"","type":"string"}]},
  {"type":"function","name":"stake","stateMutability":"nonpayable","inputs":[
    {"name":"option","type":"uint8"},
    {"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"claimReward","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"claimNullificationRefund","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"claimCreatorStakeRefund","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

var (
	eventABI = mustParseABI(eventABIJSON)
	erc20ABI = mustParseABI(erc20ABIJSON)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("evm: parse abi: " + err.Error())
	}
	return parsed
}
