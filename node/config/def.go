package config

import (
	"encoding"
	"time"
)

// Node is the config of a rentstore daemon
type Node struct {
	API        API
	Libp2p     Libp2p
	Chain      Chain
	Audit      Audit
	Market     Market
	Settlement Settlement
}

// API contains configs for API endpoint
type API struct {
	ListenAddress string
	Timeout       Duration
}

// Libp2p contains configs for libp2p
type Libp2p struct {
	ListenAddresses []string
	BootstrapPeers  []string
	// MaxMessageSize bounds a single envelope on a peer stream.
	MaxMessageSize int
}

type Chain struct {
	RPCURL  string
	ChainID uint64
	// Deployments maps an ERC20 token address to the adjudicator contract
	// escrowing it.
	Deployments map[string]string
}

type Audit struct {
	// Cadence is the fraction of a lease duration between two challenges.
	// Zero disables scheduled challenges.
	Cadence           float64
	ChallengeTimeout  Duration
	AnchorOffset      uint64
	ChainPollInterval Duration
	TickInterval      Duration
}

type Market struct {
	ProposalTimeout Duration
	ChunkSize       uint64
	// MaxStorageBytes caps the blobs held as provider. Zero means unlimited.
	MaxStorageBytes uint64
	Asks            []Ask
}

// Ask is the provider ask for one token. Amounts are decimal strings in the
// token's base unit.
type Ask struct {
	Token              string
	MinDuration        Duration
	MaxDuration        Duration
	MinSize            uint64
	MaxSize            uint64
	MinPrice           string
	MinPricePerGiBHour string
	MaxPenaltyRate     float64
}

type Settlement struct {
	MaxAttempts         int
	BackoffMin          Duration
	BackoffMax          Duration
	ConfirmPollInterval Duration
	// ConfirmTimeout is how long a settlement transaction may stay pending
	// before it is sent again.
	ConfirmTimeout Duration
}

// DefaultNode returns the default config
func DefaultNode() *Node {
	return &Node{
		API: API{
			ListenAddress: "127.0.0.1:2468",
			Timeout:       Duration(30 * time.Second),
		},
		Libp2p: Libp2p{
			ListenAddresses: []string{
				"/ip4/0.0.0.0/tcp/4747",
				"/ip6/::/tcp/4747",
			},
			MaxMessageSize: 64 << 20,
		},
		Chain: Chain{
			RPCURL:      "http://127.0.0.1:8545",
			ChainID:     1337,
			Deployments: map[string]string{},
		},
		Audit: Audit{
			Cadence:           0.1,
			ChallengeTimeout:  Duration(10 * time.Minute),
			AnchorOffset:      2,
			ChainPollInterval: Duration(5 * time.Second),
			TickInterval:      Duration(10 * time.Second),
		},
		Market: Market{
			ProposalTimeout: Duration(5 * time.Minute),
			ChunkSize:       544,
			MaxStorageBytes: 32 << 30,
		},
		Settlement: Settlement{
			MaxAttempts:         10,
			BackoffMin:          Duration(time.Second),
			BackoffMax:          Duration(5 * time.Minute),
			ConfirmPollInterval: Duration(15 * time.Second),
			ConfirmTimeout:      Duration(30 * time.Minute),
		},
	}
}

var _ encoding.TextMarshaler = (*Duration)(nil)
var _ encoding.TextUnmarshaler = (*Duration)(nil)

// Duration is a wrapper type for time.Duration
// for decoding and encoding from/to TOML
type Duration time.Duration

// UnmarshalText implements interface for TOML decoding
func (dur *Duration) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*dur = Duration(d)
	return err
}

func (dur Duration) MarshalText() ([]byte, error) {
	d := time.Duration(dur)
	return []byte(d.String()), nil
}
