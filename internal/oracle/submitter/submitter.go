// Package submitter turns an encoded addTimestamp call into a mined transaction, either
// by signing locally or through a relay service.
package submitter

import (
	"crypto/ecdsa"
	"strings"

	"beaconoracle.com/internal/oracle/domain"
	"beaconoracle.com/pkg/hdwallet"
	"beaconoracle.com/pkg/ratelimit"
	"beaconoracle.com/pkg/xerr"
	"github.com/ethereum/go-ethereum/crypto"
)

type Options struct {
	Mode domain.Mode

	// direct mode
	Backend      DirectBackend
	PrivateKey   string
	Mnemonic     string
	AccountIndex uint32
	Direct       DirectConfig

	// relay mode
	Relay    RelayConfig
	Breakers *ratelimit.Manager
}

// New builds the submitter for opts.Mode. The choice is final for the process.
func New(opts Options) (domain.Submitter, error) {
	switch opts.Mode {
	case domain.ModeDirect:
		if opts.Backend == nil {
			return nil, xerr.New(xerr.ConfigInvalid, "direct mode requires an RPC backend")
		}
		key, err := LoadKey(opts.PrivateKey, opts.Mnemonic, opts.AccountIndex)
		if err != nil {
			return nil, err
		}
		return NewDirectSigner(opts.Backend, key, opts.Direct)
	case domain.ModeRelay:
		return NewRelayClient(opts.Relay, opts.Breakers)
	default:
		return nil, xerr.Newf(xerr.ConfigInvalid, "unknown submission mode %q", opts.Mode)
	}
}

// LoadKey parses a hex private key (0x optional) or, when that is empty, derives
// m/44'/60'/0'/0/accountIndex from mnemonic.
func LoadKey(privateKey, mnemonic string, accountIndex uint32) (*ecdsa.PrivateKey, error) {
	privateKey = strings.TrimPrefix(strings.TrimSpace(privateKey), "0x")
	switch {
	case privateKey != "":
		key, err := crypto.HexToECDSA(privateKey)
		if err != nil {
			// never echo the key
			return nil, xerr.New(xerr.ConfigInvalid, "signer.private_key is not a valid secp256k1 key")
		}
		return key, nil
	case mnemonic != "":
		w, err := hdwallet.New(strings.TrimSpace(mnemonic))
		if err != nil {
			return nil, xerr.Wrap(xerr.ConfigInvalid, err, "signer.mnemonic")
		}
		key, err := w.DeriveKey(accountIndex)
		if err != nil {
			return nil, xerr.Wrap(xerr.ConfigInvalid, err, "derive signing key")
		}
		return key, nil
	default:
		return nil, xerr.New(xerr.ConfigInvalid, "direct mode requires signer.private_key or signer.mnemonic")
	}
}
