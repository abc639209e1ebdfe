package dtypes

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// APIEndpoint is the host:port the control plane listens on.
type APIEndpoint string

type BootstrapPeers []peer.AddrInfo

type NodeStartTime time.Time
