package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/rentstore/rentstore/build"
)

var versionCmd = &cli.Command{
	Name:  "version",
	Usage: "Print version",
	Action: func(cctx *cli.Context) error {
		api, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		ctx := ReqContext(cctx)
		v, err := api.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Println("Daemon: ", v.Version, "API", v.APIVersion)

		fmt.Print("Local: ")
		cli.VersionPrinter(cctx)
		return nil
	},
}

var infoCmd = &cli.Command{
	Name:  "info",
	Usage: "Print node identity and funds",
	Action: func(cctx *cli.Context) error {
		api, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()
		ctx := ReqContext(cctx)

		info, err := api.GetInfo(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Peer ID: %s\n", info.ID)
		fmt.Printf("Account: %s\n", info.Address)
		fmt.Println("Listening on:")
		for _, a := range info.ListenAddrs {
			fmt.Printf("  %s/p2p/%s\n", a, info.ID)
		}

		bals, err := api.GetBalance(ctx)
		if err != nil {
			return err
		}
		fmt.Println()
		return printBalances(bals)
	},
}

func init() {
	cli.VersionPrinter = func(cctx *cli.Context) {
		fmt.Println(cctx.App.Name, "version", build.UserVersion())
	}
}
