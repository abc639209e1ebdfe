package client

import (
	"context"
	"net/http"

	"github.com/filecoin-project/go-jsonrpc"

	"github.com/rentstore/rentstore/api"
)

// Namespace the daemon registers its handler under.
const Namespace = "Rentstore"

// NewRentstoreRPC creates a new http jsonrpc client.
func NewRentstoreRPC(ctx context.Context, addr string, requestHeader http.Header, opts ...jsonrpc.Option) (api.Rentstore, jsonrpc.ClientCloser, error) {
	var res api.RentstoreStruct
	closer, err := jsonrpc.NewMergeClient(ctx, addr, Namespace,
		[]interface{}{
			&res.Internal,
		},
		requestHeader,
		opts...,
	)

	return &res, closer, err
}
