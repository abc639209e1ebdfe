package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestDecodeNothing(t *testing.T) {
	cfg, err := FromReader(bytes.NewReader(nil), DefaultNode())
	require.NoError(t, err)
	require.Equal(t, DefaultNode(), cfg)

	cfg, err = FromFile(filepath.Join(t.TempDir(), "missing.toml"), DefaultNode())
	require.NoError(t, err)
	require.Equal(t, DefaultNode(), cfg)
}

func TestParitalConfig(t *testing.T) {
	cfgString := `
		[API]
		Timeout = "10s"

		[Audit]
		Cadence = 0.25
		ChallengeTimeout = "2m"

		[Chain]
		[Chain.Deployments]
		"0x00000000000000000000000000000000000000aa" = "0x00000000000000000000000000000000000000dd"

		[[Market.Asks]]
		Token = "0x00000000000000000000000000000000000000aa"
		MinDuration = "1h"
		MinPrice = "1000000000000000000000"
		MaxPenaltyRate = 0.5
		`
	expected := DefaultNode()
	expected.API.Timeout = Duration(10 * time.Second)
	expected.Audit.Cadence = 0.25
	expected.Audit.ChallengeTimeout = Duration(2 * time.Minute)

	cfg, err := FromReader(strings.NewReader(cfgString), DefaultNode())
	require.NoError(t, err)
	require.Equal(t, expected.API, cfg.API)
	require.Equal(t, expected.Audit, cfg.Audit)
	require.Equal(t, expected.Settlement, cfg.Settlement)

	deployments, err := cfg.Chain.ParseDeployments()
	require.NoError(t, err)
	token := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	require.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000dd"), deployments[token])

	asks, err := cfg.Market.ParseAsks()
	require.NoError(t, err)
	require.Len(t, asks, 1)
	ask := asks[token]
	require.Equal(t, time.Hour, ask.MinDuration)
	require.Equal(t, "1000000000000000000000", ask.MinPrice.String())
	require.Nil(t, ask.MinPricePerGiBHour)
	require.Equal(t, 0.5, ask.MaxPenaltyRate)
}

func TestInvalidConfig(t *testing.T) {
	for name, cfgString := range map[string]string{
		"cadence":      "[Audit]\nCadence = 1.5\n",
		"chunk":        "[Market]\nChunkSize = 0\n",
		"attempts":     "[Settlement]\nMaxAttempts = 0\n",
		"deployment":   "[Chain.Deployments]\n\"nope\" = \"0x00000000000000000000000000000000000000dd\"\n",
		"ask token":    "[[Market.Asks]]\nToken = \"nope\"\n",
		"ask amount":   "[[Market.Asks]]\nToken = \"0x00000000000000000000000000000000000000aa\"\nMinPrice = \"-1\"\n",
		"bad duration": "[API]\nTimeout = \"soon\"\n",
	} {
		_, err := FromReader(strings.NewReader(cfgString), DefaultNode())
		require.Error(t, err, name)
	}
}

func TestWriteFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := DefaultNode()
	cfg.Libp2p.BootstrapPeers = []string{"/ip4/10.0.0.1/tcp/4747/p2p/16Uiu2HAm5Vv8xbdLd2k2DyPyAqZ7LLAmuvCWutJUJu3ApKDq4BwX"}
	cfg.Market.Asks = []Ask{{
		Token:          "0x00000000000000000000000000000000000000AA",
		MaxDuration:    Duration(30 * 24 * time.Hour),
		MinPrice:       "10",
		MaxPenaltyRate: 1,
	}}
	require.NoError(t, WriteFile(path, cfg))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), `MaxDuration = "720h0m0s"`)

	loaded, err := FromFile(path, DefaultNode())
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}
