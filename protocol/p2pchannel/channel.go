// Package p2pchannel carries protocol envelopes over libp2p streams. Each
// remote peer gets one long-lived outbound stream; frames are varint length
// prefixed CBOR envelopes.
package p2pchannel

import (
	"context"
	"io"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	libp2pprotocol "github.com/libp2p/go-libp2p/core/protocol"
	msgio "github.com/libp2p/go-msgio"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/lib/cborutil"
	"github.com/rentstore/rentstore/protocol"
)

var log = logging.Logger("p2pchannel")

const (
	DefaultMaxMessageSize = 64 << 20
	sendMessageTimeout    = time.Minute
)

type streamSender struct {
	lk sync.Mutex
	s  network.Stream
	w  msgio.WriteCloser
}

// dial is an outbound stream being opened. Concurrent senders to the same
// peer wait on done instead of dialing again.
type dial struct {
	done chan struct{}
	ss   *streamSender
	err  error
}

type Channel struct {
	host    host.Host
	maxSize int

	lk      sync.Mutex
	streams map[peer.ID]*streamSender
	dials   map[peer.ID]*dial
	handler protocol.Handler

	ctx    context.Context
	cancel context.CancelFunc
}

var _ protocol.Channel = (*Channel)(nil)

func New(h host.Host, maxSize int) *Channel {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		host:    h,
		maxSize: maxSize,
		streams: map[peer.ID]*streamSender{},
		dials:   map[peer.ID]*dial{},
		ctx:     ctx,
		cancel:  cancel,
	}

	h.SetStreamHandler(libp2pprotocol.ID(protocol.ProtocolID), c.handleNewStream)
	return c
}

func (c *Channel) Self() peer.ID {
	return c.host.ID()
}

func (c *Channel) SetHandler(h protocol.Handler) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.handler = h
}

// Send writes env to the stream of peer to, opening it if needed. A broken
// stream is reset and replaced once.
func (c *Channel) Send(ctx context.Context, to peer.ID, env *protocol.Envelope) error {
	b, err := cborutil.Dump(env)
	if err != nil {
		return xerrors.Errorf("encoding envelope: %w", err)
	}
	if len(b) > c.maxSize {
		return xerrors.Errorf("envelope of %d bytes exceeds maximum %d", len(b), c.maxSize)
	}

	for attempt := 0; attempt < 2; attempt++ {
		ss, err := c.sender(ctx, to)
		if err != nil {
			return xerrors.Errorf("opening stream to %s: %w", to, err)
		}

		if err = ss.write(ctx, b); err == nil {
			return nil
		}

		log.Debugw("stream write failed, resetting", "peer", to, "error", err)
		c.dropSender(to, ss)
		if attempt == 1 {
			return xerrors.Errorf("sending to %s: %w", to, err)
		}
	}
	return nil
}

// sender returns the stream to peer to, dialing it if needed. The dial runs
// without holding the channel lock, so a slow peer only delays its own
// senders.
func (c *Channel) sender(ctx context.Context, to peer.ID) (*streamSender, error) {
	c.lk.Lock()
	if ss, ok := c.streams[to]; ok {
		c.lk.Unlock()
		return ss, nil
	}
	if d, ok := c.dials[to]; ok {
		c.lk.Unlock()
		select {
		case <-d.done:
			return d.ss, d.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d := &dial{done: make(chan struct{})}
	c.dials[to] = d
	c.lk.Unlock()

	s, err := c.host.NewStream(ctx, to, libp2pprotocol.ID(protocol.ProtocolID))

	c.lk.Lock()
	delete(c.dials, to)
	switch {
	case err != nil:
		d.err = err
	case c.ctx.Err() != nil:
		_ = s.Reset()
		d.err = xerrors.New("channel closed")
	default:
		d.ss = &streamSender{s: s, w: msgio.NewVarintWriter(s)}
		c.streams[to] = d.ss
	}
	c.lk.Unlock()

	close(d.done)
	return d.ss, d.err
}

func (c *Channel) dropSender(to peer.ID, ss *streamSender) {
	c.lk.Lock()
	if c.streams[to] == ss {
		delete(c.streams, to)
	}
	c.lk.Unlock()

	_ = ss.s.Reset()
}

func (ss *streamSender) write(ctx context.Context, b []byte) error {
	ss.lk.Lock()
	defer ss.lk.Unlock()

	deadline := time.Now().Add(sendMessageTimeout)
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	if err := ss.s.SetWriteDeadline(deadline); err != nil {
		log.Warnf("error setting deadline: %s", err)
	}

	if err := ss.w.WriteMsg(b); err != nil {
		return err
	}

	if err := ss.s.SetWriteDeadline(time.Time{}); err != nil {
		log.Warnf("error resetting deadline: %s", err)
	}
	return nil
}

// handleNewStream reads frames until the remote closes the stream. Frames are
// handled in arrival order.
func (c *Channel) handleNewStream(s network.Stream) {
	defer s.Close() //nolint:errcheck

	from := s.Conn().RemotePeer()
	reader := msgio.NewVarintReaderSize(s, c.maxSize)
	for {
		frame, err := reader.ReadMsg()
		if err != nil {
			if err != io.EOF {
				_ = s.Reset()
				log.Debugw("reading frame", "peer", from, "error", err)
			}
			return
		}

		var env protocol.Envelope
		if err := cborutil.Load(frame, &env); err != nil {
			log.Warnw("dropping undecodable frame", "peer", from, "error", err)
			continue
		}

		c.lk.Lock()
		h := c.handler
		c.lk.Unlock()

		if h == nil {
			log.Warnw("no handler set, dropping envelope", "peer", from)
			continue
		}
		h(c.ctx, from, &env)
	}
}

func (c *Channel) Close() error {
	c.cancel()
	c.host.RemoveStreamHandler(libp2pprotocol.ID(protocol.ProtocolID))

	c.lk.Lock()
	defer c.lk.Unlock()
	for p, ss := range c.streams {
		_ = ss.s.Close()
		delete(c.streams, p)
	}
	return nil
}
