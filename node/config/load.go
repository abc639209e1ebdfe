package config

import (
	"bytes"
	"io"
	"math/big"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/lease"
)

// FromFile loads config from a specified file overriding defaults specified in
// the def parameter. If file does not exist or is empty defaults are assumed.
func FromFile(path string, def *Node) (*Node, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, xerrors.Errorf("expanding config path: %w", err)
	}

	file, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		if def == nil {
			return nil, xerrors.Errorf("couldn't load config: %w", err)
		}
		return def, nil
	case err != nil:
		return nil, err
	}

	defer file.Close() //nolint:errcheck // The file is RO
	return FromReader(file, def)
}

// FromReader loads config from a reader instance.
func FromReader(reader io.Reader, def *Node) (*Node, error) {
	cfg := def
	if cfg == nil {
		cfg = DefaultNode()
	}

	if _, err := toml.NewDecoder(reader).Decode(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Encode renders cfg as TOML.
func Encode(cfg *Node) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := toml.NewEncoder(buf).Encode(cfg); err != nil {
		return nil, xerrors.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile persists cfg at path.
func WriteFile(path string, cfg *Node) error {
	path, err := homedir.Expand(path)
	if err != nil {
		return xerrors.Errorf("expanding config path: %w", err)
	}

	b, err := Encode(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0644); err != nil { //nolint:gosec
		return xerrors.Errorf("persisting config (%s): %w", path, err)
	}
	return nil
}

func (c *Node) Validate() error {
	if c.Audit.Cadence < 0 || c.Audit.Cadence > 1 {
		return xerrors.Errorf("Audit.Cadence must be within [0, 1], got %f", c.Audit.Cadence)
	}
	if c.Audit.Cadence > 0 && c.Audit.ChallengeTimeout <= 0 {
		return xerrors.New("Audit.ChallengeTimeout must be positive")
	}
	if c.Market.ChunkSize == 0 {
		return xerrors.New("Market.ChunkSize must be positive")
	}
	if c.Settlement.MaxAttempts <= 0 {
		return xerrors.New("Settlement.MaxAttempts must be positive")
	}
	if _, err := c.Chain.ParseDeployments(); err != nil {
		return err
	}
	if _, err := c.Market.ParseAsks(); err != nil {
		return err
	}
	return nil
}

// ParseDeployments returns the adjudicator of every configured token.
func (c Chain) ParseDeployments() (map[common.Address]common.Address, error) {
	out := make(map[common.Address]common.Address, len(c.Deployments))
	for token, adj := range c.Deployments {
		if !common.IsHexAddress(token) {
			return nil, xerrors.Errorf("Chain.Deployments: invalid token address %q", token)
		}
		if !common.IsHexAddress(adj) {
			return nil, xerrors.Errorf("Chain.Deployments: invalid adjudicator address %q for token %s", adj, token)
		}
		out[common.HexToAddress(token)] = common.HexToAddress(adj)
	}
	return out, nil
}

// ParseAsks converts the configured asks to the form proposals are evaluated
// against.
func (m Market) ParseAsks() (lease.Asks, error) {
	out := lease.Asks{}
	for i, a := range m.Asks {
		if !common.IsHexAddress(a.Token) {
			return nil, xerrors.Errorf("Market.Asks[%d]: invalid token address %q", i, a.Token)
		}
		token := common.HexToAddress(a.Token)
		if _, dup := out[token]; dup {
			return nil, xerrors.Errorf("Market.Asks[%d]: duplicate ask for token %s", i, token)
		}

		minPrice, err := parseAmount(a.MinPrice)
		if err != nil {
			return nil, xerrors.Errorf("Market.Asks[%d].MinPrice: %w", i, err)
		}
		minRate, err := parseAmount(a.MinPricePerGiBHour)
		if err != nil {
			return nil, xerrors.Errorf("Market.Asks[%d].MinPricePerGiBHour: %w", i, err)
		}

		out[token] = lease.Ask{
			MinDuration:        time.Duration(a.MinDuration),
			MaxDuration:        time.Duration(a.MaxDuration),
			MinSize:            a.MinSize,
			MaxSize:            a.MaxSize,
			MinPrice:           minPrice,
			MinPricePerGiBHour: minRate,
			MaxPenaltyRate:     a.MaxPenaltyRate,
		}
	}
	return out, nil
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, xerrors.Errorf("invalid amount %q", s)
	}
	return v, nil
}
