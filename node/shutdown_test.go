package node

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/node/modules/dtypes"
)

func TestShutdownStopsRPCThenNode(t *testing.T) {
	rpcStop, addr, err := ServeRPC(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), "rentstore-test", "127.0.0.1:0")
	require.NoError(t, err)

	url := "http://" + addr.String() + "/rpc/v0"
	resp, err := http.Get(url) //nolint:gosec
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var lk sync.Mutex
	var order []string
	record := func(name string, stop StopFunc) StopFunc {
		return func(ctx context.Context) error {
			lk.Lock()
			order = append(order, name)
			lk.Unlock()
			return stop(ctx)
		}
	}

	trigger := make(dtypes.ShutdownChan)
	done := MonitorShutdown(trigger, time.Second,
		ShutdownHandler{Component: "rpc server", StopFunc: record("rpc server", rpcStop)},
		ShutdownHandler{Component: "node", StopFunc: record("node", func(context.Context) error { return nil })},
	)

	select {
	case <-done:
		t.Fatal("stopped before shutdown was requested")
	case <-time.After(20 * time.Millisecond):
	}

	// what the Shutdown api method does
	trigger <- struct{}{}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not finish")
	}

	require.Equal(t, []string{"rpc server", "node"}, order)

	_, err = http.Get(url) //nolint:gosec
	require.Error(t, err, "rpc server still serving after shutdown")
}

func TestShutdownContinuesPastFailures(t *testing.T) {
	trigger := make(chan struct{})
	stopped := make(chan struct{})

	done := MonitorShutdown(trigger, 50*time.Millisecond,
		ShutdownHandler{Component: "rpc server", StopFunc: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		ShutdownHandler{Component: "settlement", StopFunc: func(context.Context) error {
			return xerrors.New("ledger unreachable")
		}},
		ShutdownHandler{Component: "node", StopFunc: func(context.Context) error {
			close(stopped)
			return nil
		}},
	)
	close(trigger)

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not finish")
	}

	<-stopped
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorContains(t, err, "stopping rpc server")
	require.ErrorContains(t, err, "stopping settlement: ledger unreachable")
	require.NotContains(t, err.Error(), "stopping node")

	_, open := <-done
	require.False(t, open)
}
