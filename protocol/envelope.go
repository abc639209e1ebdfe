package protocol

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/lib/cborutil"
	"github.com/rentstore/rentstore/lib/sigs"
)

// Envelope is a signed, CBOR-encoded Message. The signature is over
// keccak256(Message).
type Envelope struct {
	Message   []byte
	Signature []byte
}

// Seal encodes and signs msg.
func Seal(key *ecdsa.PrivateKey, msg *Message) (*Envelope, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	b, err := cborutil.Dump(msg)
	if err != nil {
		return nil, xerrors.Errorf("encoding %s: %w", msg.Kind(), err)
	}

	sig, err := sigs.Sign(key, b)
	if err != nil {
		return nil, err
	}

	return &Envelope{Message: b, Signature: sig}, nil
}

// Open checks the envelope signature against signer and decodes the message.
func Open(env *Envelope, signer common.Address) (*Message, error) {
	if err := sigs.Verify(env.Signature, signer, env.Message); err != nil {
		return nil, xerrors.Errorf("envelope signature: %w", err)
	}

	var msg Message
	if err := cborutil.Load(env.Message, &msg); err != nil {
		return nil, xerrors.Errorf("decoding message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	return &msg, nil
}

// Handler receives inbound envelopes. Envelopes from one peer are delivered
// in order, one at a time.
type Handler func(ctx context.Context, from peer.ID, env *Envelope)

// Channel is an ordered, reliable, framed message channel keyed by peer
// identity.
type Channel interface {
	Self() peer.ID
	Send(ctx context.Context, to peer.ID, env *Envelope) error
	SetHandler(h Handler)
}

// Outbox seals messages with the node key and sends them over a Channel.
type Outbox struct {
	key *ecdsa.PrivateKey
	ch  Channel
}

func NewOutbox(key *ecdsa.PrivateKey, ch Channel) *Outbox {
	return &Outbox{key: key, ch: ch}
}

func (o *Outbox) Send(ctx context.Context, to peer.ID, msg *Message) error {
	env, err := Seal(o.key, msg)
	if err != nil {
		return err
	}
	if err := o.ch.Send(ctx, to, env); err != nil {
		return xerrors.Errorf("sending %s to %s: %w", msg.Kind(), to, err)
	}
	return nil
}
