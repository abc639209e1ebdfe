package p2pchannel

import (
	"context"
	"crypto/ecdsa"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/lib/sigs"
)

// NewHost starts a libp2p host whose identity is derived from the node's
// ledger key, so the peer ID doubles as the signer address.
func NewHost(key *ecdsa.PrivateKey, listenAddrs []string) (host.Host, error) {
	pk, err := sigs.PeerKey(key)
	if err != nil {
		return nil, err
	}

	h, err := libp2p.New(
		libp2p.Identity(pk),
		libp2p.ListenAddrStrings(listenAddrs...),
	)
	if err != nil {
		return nil, xerrors.Errorf("starting libp2p host: %w", err)
	}
	return h, nil
}

// ParsePeers parses /p2p/ multiaddrs into address infos.
func ParsePeers(addrs []string) ([]peer.AddrInfo, error) {
	maddrs := make([]ma.Multiaddr, 0, len(addrs))
	for _, a := range addrs {
		maddr, err := ma.NewMultiaddr(a)
		if err != nil {
			return nil, xerrors.Errorf("parsing %q: %w", a, err)
		}
		maddrs = append(maddrs, maddr)
	}
	return peer.AddrInfosFromP2pAddrs(maddrs...)
}

// Connect dials each peer, logging failures. It returns the number of peers
// connected.
func Connect(ctx context.Context, h host.Host, peers []peer.AddrInfo) int {
	connected := 0
	for _, pi := range peers {
		h.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.PermanentAddrTTL)
		if err := h.Connect(ctx, pi); err != nil {
			log.Warnw("connecting to peer", "peer", pi.ID, "error", err)
			continue
		}
		connected++
	}
	return connected
}
