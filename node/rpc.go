package node

import (
	"context"
	"net"
	"net/http"
	_ "net/http/pprof"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	"github.com/filecoin-project/go-jsonrpc"
	"github.com/gorilla/mux"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/api"
	"github.com/rentstore/rentstore/api/client"
	"github.com/rentstore/rentstore/metrics"
)

// RentstoreHandler returns the handler serving the JSON-RPC API at /rpc/v0
// and node metrics at /debug/metrics.
func RentstoreHandler(a api.Rentstore, opts ...jsonrpc.ServerOption) (http.Handler, error) {
	m := mux.NewRouter()

	rpcServer := jsonrpc.NewServer(opts...)
	rpcServer.Register(client.Namespace, a)
	m.Handle("/rpc/v0", rpcServer)

	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exporter, err := prometheus.NewExporter(prometheus.Options{
		Registry:  registry,
		Namespace: "rentstore",
	})
	if err != nil {
		return nil, xerrors.Errorf("creating prometheus exporter: %w", err)
	}
	m.Handle("/debug/metrics", exporter)
	m.PathPrefix("/").Handler(http.DefaultServeMux) // pprof

	return m, nil
}

// ServeRPC serves h on addr until the returned StopFunc is called. The
// returned address is the one actually bound, which differs from addr when
// addr asks for port 0.
func ServeRPC(h http.Handler, id string, addr string) (StopFunc, net.Addr, error) {
	lst, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, xerrors.Errorf("could not listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 30 * time.Second,
		BaseContext: func(listener net.Listener) context.Context {
			ctx, _ := tag.New(context.Background(), tag.Upsert(metrics.APIInterface, id))
			return ctx
		},
	}

	go func() {
		err := srv.Serve(lst)
		if err != http.ErrServerClosed {
			log.Warnf("rpc server failed: %s", err)
		}
	}()

	return srv.Shutdown, lst.Addr(), nil
}
