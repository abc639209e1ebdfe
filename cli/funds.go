package cli

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/api"
)

var tokenFlag = &cli.StringFlag{
	Name:  "token",
	Usage: "token address; may be omitted when the node settles in a single token",
}

var fundsCmd = &cli.Command{
	Name:  "funds",
	Usage: "Manage token balances and storage escrow",
	Subcommands: []*cli.Command{
		fundsBalance,
		fundsApprove,
		fundsDeposit,
		fundsWithdraw,
	},
}

var fundsBalance = &cli.Command{
	Name:  "balance",
	Usage: "Print wallet and escrow balances",
	Action: func(cctx *cli.Context) error {
		a, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		bals, err := a.GetBalance(ReqContext(cctx))
		if err != nil {
			return err
		}
		return printBalances(bals)
	},
}

var fundsApprove = &cli.Command{
	Name:      "approve",
	Usage:     "Allow the adjudicator to move tokens from the wallet",
	ArgsUsage: "[amount]",
	Flags:     []cli.Flag{tokenFlag},
	Action:    fundsAction(api.Rentstore.Approve),
}

var fundsDeposit = &cli.Command{
	Name:      "deposit",
	Usage:     "Move approved tokens into storage escrow",
	ArgsUsage: "[amount]",
	Flags:     []cli.Flag{tokenFlag},
	Action:    fundsAction(api.Rentstore.Deposit),
}

var fundsWithdraw = &cli.Command{
	Name:      "withdraw",
	Usage:     "Move available escrow back to the wallet",
	ArgsUsage: "[amount]",
	Flags:     []cli.Flag{tokenFlag},
	Action:    fundsAction(api.Rentstore.Withdraw),
}

type fundsOp func(a api.Rentstore, ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error)

func fundsAction(op fundsOp) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return ShowHelp(cctx, xerrors.New("expected one argument: amount"))
		}
		amount, err := ParseAmount(cctx.Args().First())
		if err != nil {
			return ShowHelp(cctx, err)
		}

		a, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		token, err := pickToken(cctx, a)
		if err != nil {
			return err
		}

		tx, err := op(a, ReqContext(cctx), token, amount)
		if err != nil {
			return err
		}
		fmt.Println(tx.Hex())
		return nil
	}
}

// ParseAmount parses a non-negative decimal amount of base token units.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, xerrors.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func pickToken(cctx *cli.Context, a api.Rentstore) (common.Address, error) {
	if s := cctx.String(tokenFlag.Name); s != "" {
		if !common.IsHexAddress(s) {
			return common.Address{}, xerrors.Errorf("invalid token address %q", s)
		}
		return common.HexToAddress(s), nil
	}

	info, err := a.GetInfo(ReqContext(cctx))
	if err != nil {
		return common.Address{}, err
	}
	if len(info.Tokens) != 1 {
		return common.Address{}, xerrors.Errorf("node settles in %d tokens, pick one with --%s", len(info.Tokens), tokenFlag.Name)
	}
	return info.Tokens[0], nil
}

func printBalances(bals []api.TokenBalance) error {
	tw := tabwriter.NewWriter(os.Stdout, 6, 6, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "Token\tWallet\tAllowance\tAvailable\tLocked (rented)\tLocked (let)")
	for _, b := range bals {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", b.Token, b.Wallet, b.Allowance, b.Available, b.LockedRents, b.LockedLets)
	}
	return tw.Flush()
}
