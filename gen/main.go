package main

import (
	"fmt"
	"os"

	gen "github.com/whyrusleeping/cbor-gen"

	"github.com/rentstore/rentstore/protocol"
	"github.com/rentstore/rentstore/protocol/p2pchannel"
)

func main() {
	g := gen.Gen{
		// lease data travels inside a single frame
		MaxByteLength: p2pchannel.DefaultMaxMessageSize,
	}

	err := g.WriteTupleEncodersToFile("./protocol/cbor_gen.go", "protocol",
		protocol.LeaseTerms{},
		protocol.LeaseProposal{},
		protocol.LeaseAcceptance{},
		protocol.LeaseRejection{},
		protocol.ChallengeRequest{},
		protocol.ChallengeResponse{},
		protocol.RetrieveRequest{},
		protocol.RetrieveDelivery{},
		protocol.Message{},
		protocol.Envelope{},
	)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
