// Package mocknet builds fully linked in-process libp2p networks of lease
// channels, for tests.
package mocknet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/libp2p/go-libp2p/core/host"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/lib/sigs"
	"github.com/rentstore/rentstore/protocol/p2pchannel"
)

type Network struct {
	mn       mocknet.Mocknet
	channels []*p2pchannel.Channel
}

type Node struct {
	Key     *ecdsa.PrivateKey
	Host    host.Host
	Channel *p2pchannel.Channel
}

// New creates one linked and connected node per key.
func New(keys ...*ecdsa.PrivateKey) (*Network, []Node, error) {
	n := &Network{mn: mocknet.New()}

	nodes := make([]Node, 0, len(keys))
	for i, key := range keys {
		pk, err := sigs.PeerKey(key)
		if err != nil {
			return nil, nil, err
		}

		addr, err := ma.NewMultiaddr(fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", 4000+i))
		if err != nil {
			return nil, nil, err
		}

		h, err := n.mn.AddPeer(pk, addr)
		if err != nil {
			return nil, nil, xerrors.Errorf("adding peer %d: %w", i, err)
		}

		ch := p2pchannel.New(h, 0)
		n.channels = append(n.channels, ch)
		nodes = append(nodes, Node{Key: key, Host: h, Channel: ch})
	}

	if err := n.mn.LinkAll(); err != nil {
		return nil, nil, xerrors.Errorf("linking peers: %w", err)
	}
	if err := n.mn.ConnectAllButSelf(); err != nil {
		return nil, nil, xerrors.Errorf("connecting peers: %w", err)
	}

	return n, nodes, nil
}

// Disconnect severs the links between two nodes, leaving both running.
func (n *Network) Disconnect(a, b Node) error {
	if err := n.mn.UnlinkPeers(a.Host.ID(), b.Host.ID()); err != nil {
		return err
	}
	return n.mn.DisconnectPeers(a.Host.ID(), b.Host.ID())
}

func (n *Network) Close() error {
	var err error
	for _, ch := range n.channels {
		err = multierr.Append(err, ch.Close())
	}
	return multierr.Append(err, n.mn.Close())
}
