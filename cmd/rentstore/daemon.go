package main

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/stats/view"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/api"
	lcli "github.com/rentstore/rentstore/cli"
	"github.com/rentstore/rentstore/metrics"
	"github.com/rentstore/rentstore/node"
	"github.com/rentstore/rentstore/node/modules/dtypes"
	"github.com/rentstore/rentstore/node/repo"
)

var log = logging.Logger("main")

var daemonCmd = &cli.Command{
	Name:  "daemon",
	Usage: "Start a rentstore daemon process",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "api",
			Usage: "override the API listen address from the config",
		},
		&cli.BoolFlag{
			Name:  "bootstrap",
			Value: true,
			Usage: "dial the configured bootstrap peers on start",
		},
	},
	Subcommands: []*cli.Command{
		daemonStopCmd,
	},
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()

		r, err := repo.NewFS(cctx.String(lcli.RepoFlag.Name))
		if err != nil {
			return xerrors.Errorf("opening fs repo: %w", err)
		}

		exists, err := r.Exists()
		if err != nil {
			return err
		}
		if !exists {
			if err := r.Init(nil); err != nil {
				return xerrors.Errorf("initializing repo: %w", err)
			}
		}

		if err := view.Register(metrics.DefaultViews...); err != nil {
			return xerrors.Errorf("registering metric views: %w", err)
		}

		shutdownChan := make(chan struct{})

		var full api.Rentstore
		stop, err := node.New(ctx,
			node.Online(),
			node.Rentstore(&full),
			node.Repo(r),

			node.Override(new(dtypes.ShutdownChan), shutdownChan),

			node.If(cctx.IsSet("api"),
				node.Override(new(dtypes.APIEndpoint), dtypes.APIEndpoint(cctx.String("api"))),
			),
			node.If(!cctx.Bool("bootstrap"),
				node.Unset(node.BootstrapKey),
			),
		)
		if err != nil {
			return xerrors.Errorf("initializing node: %w", err)
		}

		endpoint, err := r.APIEndpoint()
		if err != nil {
			return xerrors.Errorf("getting api endpoint: %w", err)
		}

		h, err := node.RentstoreHandler(full)
		if err != nil {
			return xerrors.Errorf("failed to instantiate rpc handler: %w", err)
		}

		rpcStopper, addr, err := node.ServeRPC(h, "rentstore-daemon", endpoint)
		if err != nil {
			return xerrors.Errorf("failed to start json-rpc endpoint: %w", err)
		}
		log.Infow("daemon started", "api", addr)

		finishCh := node.MonitorShutdown(shutdownChan, node.DefaultStopTimeout,
			node.ShutdownHandler{Component: "rpc server", StopFunc: rpcStopper},
			node.ShutdownHandler{Component: "node", StopFunc: stop},
		)
		return <-finishCh
	},
}

var daemonStopCmd = &cli.Command{
	Name:  "stop",
	Usage: "Stop a running rentstore daemon",
	Action: func(cctx *cli.Context) error {
		a, closer, err := lcli.GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		return a.Shutdown(lcli.ReqContext(cctx))
	},
}
