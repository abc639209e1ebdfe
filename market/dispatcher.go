package market

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/lease"
	"github.com/rentstore/rentstore/metrics"
	"github.com/rentstore/rentstore/protocol"
)

type dispatcher struct {
	engine *Engine
}

// handleEnvelope authenticates an inbound envelope against the sender's
// identity and routes it to the lease it names. Handlers that wait on the
// chain or on other leases run on their own goroutine so the peer's stream
// keeps flowing.
func (d *dispatcher) handleEnvelope(ctx context.Context, from peer.ID, env *protocol.Envelope) {
	e := d.engine

	signer, err := e.addrs.Lookup(from)
	if err != nil {
		d.drop(ctx, &lease.ProtocolError{Peer: from, Reason: "unknown signer", Err: err})
		return
	}

	msg, err := protocol.Open(env, signer)
	if err != nil {
		d.drop(ctx, &lease.ProtocolError{Peer: from, Reason: "forged or malformed envelope", Err: err})
		return
	}
	metrics.Count(ctx, metrics.MessageReceived, tag.Upsert(metrics.MsgKind, msg.Kind()))

	if msg.LeaseProposal != nil {
		if err := e.handleProposal(ctx, from, signer, msg.LeaseProposal); err != nil {
			log.Warnw("handling proposal", "peer", from, "nonce", msg.Nonce(), "error", err)
		}
		return
	}

	k := lease.Key{Role: msg.Role(), Peer: from, Nonce: msg.Nonce()}
	if _, err := e.reg.Get(ctx, k); err != nil {
		if !xerrors.Is(err, lease.ErrUnknownLease) {
			log.Errorw("loading lease", "lease", k, "error", err)
			return
		}
		d.unknown(ctx, k, msg)
		return
	}

	switch {
	case msg.LeaseAcceptance != nil:
		err = d.accepted(ctx, k, msg.LeaseAcceptance)
	case msg.LeaseRejection != nil:
		err = d.rejected(ctx, k, msg.LeaseRejection)
	case msg.ChallengeResponse != nil:
		err = e.sched.HandleResponse(ctx, from, msg.ChallengeResponse)
	case msg.RetrieveDelivery != nil:
		if !e.deliver(k, msg.RetrieveDelivery.Data) {
			err = &lease.ProtocolError{Peer: from, Reason: "unsolicited delivery"}
		}
	case msg.ChallengeRequest != nil:
		req := msg.ChallengeRequest
		go func() {
			if err := e.sched.HandleRequest(ctx, from, req); err != nil {
				log.Warnw("answering challenge", "lease", k, "error", err)
			}
		}()
	case msg.RetrieveRequest != nil:
		req := msg.RetrieveRequest
		go func() {
			if err := e.handleRetrieve(ctx, from, req); err != nil {
				log.Warnw("serving retrieval", "lease", k, "error", err)
			}
		}()
	}

	if err != nil {
		log.Warnw("handling message", "lease", k, "kind", msg.Kind(), "error", err)
	}
}

func (d *dispatcher) accepted(ctx context.Context, k lease.Key, a *protocol.LeaseAcceptance) error {
	if len(a.TransactionHash) != common.HashLength {
		return &lease.ProtocolError{Peer: k.Peer, Reason: "malformed transaction hash"}
	}

	m, err := d.engine.reg.Get(ctx, k)
	if err != nil {
		return err
	}
	_, err = m.Send(ctx, lease.Accepted{SealTx: common.BytesToHash(a.TransactionHash), At: d.engine.clock.Now()})
	return err
}

func (d *dispatcher) rejected(ctx context.Context, k lease.Key, r *protocol.LeaseRejection) error {
	m, err := d.engine.reg.Get(ctx, k)
	if err != nil {
		return err
	}
	_, err = m.Send(ctx, lease.Rejected{Reason: r.Reason})
	return err
}

// unknown answers messages about leases this node does not track. A
// rejection is never answered with another rejection.
func (d *dispatcher) unknown(ctx context.Context, k lease.Key, msg *protocol.Message) {
	if msg.LeaseRejection != nil {
		d.drop(ctx, &lease.ProtocolError{Peer: k.Peer, Reason: "rejection for unknown lease", Err: lease.ErrUnknownLease})
		return
	}

	log.Infow("message for unknown lease", "lease", k, "kind", msg.Kind())
	if err := d.engine.out.Send(ctx, k.Peer, &protocol.Message{LeaseRejection: &protocol.LeaseRejection{
		Nonce:  k.Nonce,
		Reason: lease.ReasonUnknownNonce,
	}}); err != nil {
		log.Warnw("answering unknown nonce", "lease", k, "error", err)
	}
}

func (d *dispatcher) drop(ctx context.Context, err *lease.ProtocolError) {
	metrics.Count(ctx, metrics.MessageDropped, tag.Upsert(metrics.Reason, err.Reason))
	log.Warnw("dropping message", "peer", err.Peer, "error", err)
}
