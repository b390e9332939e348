package hdwallet

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// well-known development mnemonic (anvil / hardhat account #0 and #1)
const devMnemonic = "test test test test test test test test test test test junk"

func TestHDWallet_DeriveKey(t *testing.T) {
	wallet, err := New(devMnemonic)
	require.NoError(t, err)

	key, err := wallet.DeriveKey(0)
	require.NoError(t, err)
	assert.Equal(t, "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
		hex.EncodeToString(crypto.FromECDSA(key)))

	addr, err := wallet.DeriveAddress(0)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), addr)

	addr1, err := wallet.DeriveAddress(1)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"), addr1)
}

func TestHDWallet_Deterministic(t *testing.T) {
	w1, err := New(devMnemonic)
	require.NoError(t, err)
	w2, err := New(devMnemonic)
	require.NoError(t, err)

	a1, err := w1.DeriveAddress(1500)
	require.NoError(t, err)
	a2, err := w2.DeriveAddress(1500)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
}

func TestHDWallet_InvalidMnemonic(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrInvalidMnemonic)

	_, err = New("test test test test test test test test test test test notaword")
	assert.ErrorIs(t, err, ErrInvalidMnemonic, "unknown word")
}
