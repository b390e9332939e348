// Package hdwallet derives the operator's signing key from a BIP-39 mnemonic.
package hdwallet

import (
	"crypto/ecdsa"
	"errors"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// EthCoinType is the SLIP-44 coin type for Ethereum.
const EthCoinType uint32 = 60

var ErrInvalidMnemonic = errors.New("invalid mnemonic")

type HDWallet struct {
	masterKey *hdkeychain.ExtendedKey
}

// New builds the master key. The mnemonic checksum is verified.
func New(mnemonic string) (*HDWallet, error) {
	if mnemonic == "" || !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, err
	}
	// network params only affect the xprv serialization, not derived keys
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	return &HDWallet{masterKey: master}, nil
}

// DeriveKey walks m/44'/60'/0'/0/accountIdx.
func (w *HDWallet) DeriveKey(accountIdx uint32) (*ecdsa.PrivateKey, error) {
	path := []uint32{
		44 + hdkeychain.HardenedKeyStart,
		EthCoinType + hdkeychain.HardenedKeyStart,
		0 + hdkeychain.HardenedKeyStart,
		0,
		accountIdx,
	}
	key := w.masterKey
	var err error
	for _, idx := range path {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, err
		}
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return priv.ToECDSA(), nil
}

func (w *HDWallet) DeriveAddress(accountIdx uint32) (common.Address, error) {
	key, err := w.DeriveKey(accountIdx)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}
