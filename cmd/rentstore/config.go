package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	lcli "github.com/rentstore/rentstore/cli"
	"github.com/rentstore/rentstore/node/config"
	"github.com/rentstore/rentstore/node/repo"
)

var configCmd = &cli.Command{
	Name:  "config",
	Usage: "Manage node config",
	Subcommands: []*cli.Command{
		configDefaultCmd,
		configShowCmd,
	},
}

var configDefaultCmd = &cli.Command{
	Name:  "default",
	Usage: "Print default node config",
	Action: func(cctx *cli.Context) error {
		b, err := config.Encode(config.DefaultNode())
		if err != nil {
			return err
		}
		fmt.Print(string(b))
		return nil
	},
}

var configShowCmd = &cli.Command{
	Name:  "show",
	Usage: "Print the config of the repo",
	Action: func(cctx *cli.Context) error {
		r, err := repo.NewFS(cctx.String(lcli.RepoFlag.Name))
		if err != nil {
			return err
		}

		lr, err := r.Lock()
		if err != nil {
			return err
		}
		defer lr.Close() //nolint:errcheck

		c, err := lr.Config()
		if err != nil {
			return err
		}

		b, err := config.Encode(c)
		if err != nil {
			return err
		}
		fmt.Print(string(b))
		return nil
	},
}
