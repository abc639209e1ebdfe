package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/filecoin-project/go-jsonrpc"
	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/api"
	"github.com/rentstore/rentstore/api/client"
	"github.com/rentstore/rentstore/node/repo"
)

var log = logging.Logger("cli")

const metadataContext = "context"

// RepoFlag points every command at the node repo.
var RepoFlag = &cli.StringFlag{
	Name:    "repo",
	EnvVars: []string{"RENTSTORE_PATH"},
	Value:   "~/.rentstore",
	Usage:   "path to the node repo",
}

// GetAPI connects to the daemon whose endpoint is recorded in the repo.
func GetAPI(cctx *cli.Context) (api.Rentstore, jsonrpc.ClientCloser, error) {
	r, err := repo.NewFS(cctx.String(RepoFlag.Name))
	if err != nil {
		return nil, nil, err
	}

	addr, err := r.APIEndpoint()
	if err != nil {
		if xerrors.Is(err, repo.ErrNoAPIEndpoint) {
			return nil, nil, xerrors.Errorf("could not get API endpoint, is the daemon running? (%w)", err)
		}
		return nil, nil, xerrors.Errorf("failed to get api endpoint: %w", err)
	}

	return client.NewRentstoreRPC(cctx.Context, "ws://"+addr+"/rpc/v0", nil)
}

// ReqContext returns context for cli execution. Calling it for the first time
// installs SIGTERM handler that will close returned context.
// Not safe for concurrent execution.
func ReqContext(cctx *cli.Context) context.Context {
	if uctx, ok := cctx.App.Metadata[metadataContext]; ok {
		// unchecked cast as if something else is in there
		// it is crash worthy either way
		return uctx.(context.Context)
	}

	ctx, done := context.WithCancel(cctx.Context)
	sigChan := make(chan os.Signal, 2)
	go func() {
		<-sigChan
		done()
	}()
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	if cctx.App.Metadata == nil {
		cctx.App.Metadata = map[string]interface{}{}
	}
	cctx.App.Metadata[metadataContext] = ctx
	return ctx
}

var Commands = []*cli.Command{
	infoCmd,
	versionCmd,
	netCmd,
	fundsCmd,
	dataCmd,
}
