package contract

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackAddTimestamp(t *testing.T) {
	data, err := PackAddTimestamp(1_700_000_000)
	require.NoError(t, err)
	require.Len(t, data, 4+32)

	selector := crypto.Keccak256([]byte("addTimestamp(uint256)"))[:4]
	assert.Equal(t, selector, data[:4])
	assert.Equal(t, common.LeftPadBytes(new(big.Int).SetUint64(1_700_000_000).Bytes(), 32), data[4:])
}

func TestPackTimestampToBlockRoot(t *testing.T) {
	data, err := PackTimestampToBlockRoot(12)
	require.NoError(t, err)

	selector := crypto.Keccak256([]byte("timestampToBlockRoot(uint256)"))[:4]
	assert.Equal(t, selector, data[:4])
	assert.Equal(t, byte(12), data[len(data)-1])
}

func TestUnpackBlockRoot(t *testing.T) {
	raw, _ := hex.DecodeString("4242424242424242424242424242424242424242424242424242424242424242")
	root, err := UnpackBlockRoot(raw)
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), root[0])
	assert.False(t, IsZeroRoot(root))

	zero, err := UnpackBlockRoot(make([]byte, 32))
	require.NoError(t, err)
	assert.True(t, IsZeroRoot(zero))
}

func TestUnpackBlockRoot_Malformed(t *testing.T) {
	_, err := UnpackBlockRoot(nil)
	assert.Error(t, err, "empty eth_call result (e.g. no contract at address)")

	_, err = UnpackBlockRoot(make([]byte, 31))
	assert.Error(t, err)
}
