package main

import (
	"github.com/urfave/cli/v2"

	"github.com/rentstore/rentstore/build"
	lcli "github.com/rentstore/rentstore/cli"
	"github.com/rentstore/rentstore/lib/rslog"
)

func main() {
	rslog.SetupLogLevels()

	local := []*cli.Command{
		initCmd,
		daemonCmd,
		configCmd,
	}

	app := &cli.App{
		Name:                 "rentstore",
		Usage:                "Peer-to-peer storage rental node",
		Version:              build.UserVersion(),
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			lcli.RepoFlag,
		},

		Commands: append(local, lcli.Commands...),
	}
	app.Setup()

	lcli.RunApp(app)
}
