package ethledger

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rentstore/rentstore/chain/ledger"
)

const erc20ABI = `[
{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const dealTuple = `{"name":"deal","type":"tuple","components":[
{"name":"token","type":"address"},
{"name":"renter","type":"address"},
{"name":"provider","type":"address"},
{"name":"nonce","type":"uint256"},
{"name":"root","type":"bytes32"},
{"name":"size","type":"uint256"},
{"name":"price","type":"uint256"},
{"name":"penalty","type":"uint256"},
{"name":"duration","type":"uint256"},
{"name":"expiration","type":"uint256"}]}`

const adjudicatorABI = `[
{"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"},{"name":"account","type":"address"}],"outputs":[]},
{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"outputs":[]},
{"type":"function","name":"balance","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"available","type":"uint256"},{"name":"lockedRents","type":"uint256"},{"name":"lockedLets","type":"uint256"}]},
{"type":"function","name":"sealLease","stateMutability":"nonpayable","inputs":[` + dealTuple + `,{"name":"renterSignature","type":"bytes"},{"name":"providerSignature","type":"bytes"}],"outputs":[]},
{"type":"function","name":"claimPenalty","stateMutability":"nonpayable","inputs":[` + dealTuple + `],"outputs":[]},
{"type":"function","name":"releaseFunds","stateMutability":"nonpayable","inputs":[` + dealTuple + `],"outputs":[]}
]`

var (
	erc20       = mustParse(erc20ABI)
	adjudicator = mustParse(adjudicatorABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// onchainDeal is the abi tuple form of ledger.Deal. Field names follow the
// tuple component names.
type onchainDeal struct {
	Token      common.Address
	Renter     common.Address
	Provider   common.Address
	Nonce      *big.Int
	Root       [32]byte
	Size       *big.Int
	Price      *big.Int
	Penalty    *big.Int
	Duration   *big.Int
	Expiration *big.Int
}

func toOnchain(d ledger.Deal) onchainDeal {
	return onchainDeal{
		Token:      d.Token,
		Renter:     d.Renter,
		Provider:   d.Provider,
		Nonce:      new(big.Int).SetUint64(d.Nonce),
		Root:       d.Root,
		Size:       new(big.Int).SetUint64(d.Size),
		Price:      d.Price,
		Penalty:    d.Penalty,
		Duration:   new(big.Int).SetUint64(uint64(d.Duration / time.Second)),
		Expiration: big.NewInt(d.ProposalExpiration.Unix()),
	}
}
