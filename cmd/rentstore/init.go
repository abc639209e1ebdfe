package main

import (
	"crypto/ecdsa"
	"fmt"

	gocrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	lcli "github.com/rentstore/rentstore/cli"
	"github.com/rentstore/rentstore/node/repo"
)

var initCmd = &cli.Command{
	Name:  "init",
	Usage: "Initialize a node repo",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "identity",
			Usage: "hex encoded secp256k1 key file to import as the node identity",
		},
	},
	Action: func(cctx *cli.Context) error {
		r, err := repo.NewFS(cctx.String(lcli.RepoFlag.Name))
		if err != nil {
			return err
		}

		var key *ecdsa.PrivateKey
		if cctx.IsSet("identity") {
			p, err := homedir.Expand(cctx.String("identity"))
			if err != nil {
				return err
			}
			key, err = gocrypto.LoadECDSA(p)
			if err != nil {
				return xerrors.Errorf("loading identity: %w", err)
			}
		}

		if err := r.Init(key); err != nil {
			return err
		}

		lr, err := r.Lock()
		if err != nil {
			return err
		}
		defer lr.Close() //nolint:errcheck

		key, err = lr.Identity()
		if err != nil {
			return err
		}
		fmt.Printf("initialized repo, account %s\n", gocrypto.PubkeyToAddress(key.PublicKey))
		return nil
	},
}
