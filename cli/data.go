package cli

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/api"
	"github.com/rentstore/rentstore/lease"
)

var dataCmd = &cli.Command{
	Name:  "data",
	Usage: "Rent storage from providers",
	Subcommands: []*cli.Command{
		dataStore,
		dataRetrieve,
		dataChallenge,
		dataList,
	},
}

var dataStore = &cli.Command{
	Name:      "store",
	Usage:     "Propose a lease for a file to a provider",
	ArgsUsage: "[providerPeerID] [file]",
	Flags: []cli.Flag{
		tokenFlag,
		&cli.StringFlag{
			Name:     "price",
			Usage:    "total price of the lease in base token units",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "penalty",
			Usage: "penalty the provider forfeits on a failed challenge",
			Value: "0",
		},
		&cli.DurationFlag{
			Name:  "duration",
			Usage: "lease duration",
			Value: 30 * 24 * time.Hour,
		},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 2 {
			return ShowHelp(cctx, xerrors.New("expected two arguments: provider and file"))
		}

		provider, err := peer.Decode(cctx.Args().Get(0))
		if err != nil {
			return ShowHelp(cctx, xerrors.Errorf("parsing provider: %w", err))
		}
		price, err := ParseAmount(cctx.String("price"))
		if err != nil {
			return ShowHelp(cctx, err)
		}
		penalty, err := ParseAmount(cctx.String("penalty"))
		if err != nil {
			return ShowHelp(cctx, err)
		}

		data, err := os.ReadFile(cctx.Args().Get(1))
		if err != nil {
			return err
		}

		a, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()
		ctx := ReqContext(cctx)

		token, err := pickToken(cctx, a)
		if err != nil {
			return err
		}

		fmt.Printf("proposing %s lease of %s to %s\n", cctx.Duration("duration"), humanize.IBytes(uint64(len(data))), provider)
		tx, err := a.Store(ctx, api.StoreParams{
			Provider: provider,
			Token:    token,
			Price:    price,
			Penalty:  penalty,
			Duration: cctx.Duration("duration"),
			Data:     data,
		})
		if err != nil {
			return err
		}

		fmt.Printf("lease sealed in %s\n", tx.Hex())
		return nil
	},
}

func providerAndNonce(cctx *cli.Context) (peer.ID, uint64, error) {
	if cctx.NArg() != 2 {
		return "", 0, ShowHelp(cctx, xerrors.New("expected two arguments: provider and nonce"))
	}
	provider, err := peer.Decode(cctx.Args().Get(0))
	if err != nil {
		return "", 0, ShowHelp(cctx, xerrors.Errorf("parsing provider: %w", err))
	}
	nonce, err := strconv.ParseUint(cctx.Args().Get(1), 10, 64)
	if err != nil {
		return "", 0, ShowHelp(cctx, xerrors.Errorf("parsing nonce: %w", err))
	}
	return provider, nonce, nil
}

var dataRetrieve = &cli.Command{
	Name:      "retrieve",
	Usage:     "Retrieve the data of a lease, ending it",
	ArgsUsage: "[providerPeerID] [nonce]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "output",
			Aliases:  []string{"o"},
			Usage:    "file to write the data to",
			Required: true,
		},
	},
	Action: func(cctx *cli.Context) error {
		provider, nonce, err := providerAndNonce(cctx)
		if err != nil {
			return err
		}

		a, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		data, err := a.Retrieve(ReqContext(cctx), provider, nonce)
		if err != nil {
			return err
		}
		if err := os.WriteFile(cctx.String("output"), data, 0644); err != nil { //nolint:gosec
			return err
		}

		fmt.Printf("retrieved %s\n", humanize.IBytes(uint64(len(data))))
		return nil
	},
}

var dataChallenge = &cli.Command{
	Name:      "challenge",
	Usage:     "Challenge a provider to prove it still holds a lease's data",
	ArgsUsage: "[providerPeerID] [nonce]",
	Flags: []cli.Flag{
		&cli.Uint64Flag{
			Name:  "block",
			Usage: "anchor block; defaults to a few blocks past the chain head",
		},
	},
	Action: func(cctx *cli.Context) error {
		provider, nonce, err := providerAndNonce(cctx)
		if err != nil {
			return err
		}

		a, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		if err := a.Challenge(ReqContext(cctx), provider, nonce, cctx.Uint64("block")); err != nil {
			return err
		}
		fmt.Println("challenge issued")
		return nil
	},
}

var dataList = &cli.Command{
	Name:  "list",
	Usage: "List rented storage",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "all",
			Usage: "include archived leases",
		},
		&cli.BoolFlag{
			Name:  "color",
			Usage: "use color in display output",
			Value: true,
		},
	},
	Action: func(cctx *cli.Context) error {
		if !cctx.Bool("color") {
			color.NoColor = true
		}

		a, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		rented, err := a.ListStorageRented(ReqContext(cctx))
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "Provider\tNonce\tState\tSize\tPrice\tExpires\tSettlement\tMessage")
		for _, r := range rented {
			if r.Archived && !cctx.Bool("all") {
				continue
			}

			expires := "-"
			if !r.ExpiresAt.IsZero() {
				expires = humanize.Time(r.ExpiresAt)
			}
			settled := "-"
			if r.SettlementStatus != "" {
				settled = r.SettlementStatus
			}

			_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.Provider, r.Nonce, stateColor(r.State), humanize.IBytes(r.Size), r.Price, expires, settled, r.Message)
		}
		return tw.Flush()
	},
}

func stateColor(s lease.State) string {
	switch s {
	case lease.StateActive:
		return color.GreenString(string(s))
	case lease.StateChallenged, lease.StateProposed:
		return color.YellowString(string(s))
	case lease.StateBreached, lease.StateRejected:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}
