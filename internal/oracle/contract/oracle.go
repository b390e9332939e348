// Package contract encodes calls to the beacon oracle contract.
package contract

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	MethodAddTimestamp         = "addTimestamp"
	MethodTimestampToBlockRoot = "timestampToBlockRoot"
)

// only the two methods the operator touches
const oracleABI = `[
	{"inputs":[{"internalType":"uint256","name":"_targetTimestamp","type":"uint256"}],"name":"addTimestamp","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"_targetTimestamp","type":"uint256"}],"name":"timestampToBlockRoot","outputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],"stateMutability":"view","type":"function"}
]`

var parsedABI = mustParse(oracleABI)

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("oracle abi: %v", err))
	}
	return parsed
}

// PackAddTimestamp encodes addTimestamp(timestamp).
func PackAddTimestamp(timestamp uint64) ([]byte, error) {
	return parsedABI.Pack(MethodAddTimestamp, new(big.Int).SetUint64(timestamp))
}

// PackTimestampToBlockRoot encodes timestampToBlockRoot(timestamp).
func PackTimestampToBlockRoot(timestamp uint64) ([]byte, error) {
	return parsedABI.Pack(MethodTimestampToBlockRoot, new(big.Int).SetUint64(timestamp))
}

// UnpackBlockRoot decodes the bytes32 returned by timestampToBlockRoot.
func UnpackBlockRoot(raw []byte) ([32]byte, error) {
	var root [32]byte
	if len(raw) != 32 {
		return root, fmt.Errorf("timestampToBlockRoot: want 32 bytes, got %d", len(raw))
	}
	out, err := parsedABI.Unpack(MethodTimestampToBlockRoot, raw)
	if err != nil {
		return root, fmt.Errorf("timestampToBlockRoot: %w", err)
	}
	root = *abi.ConvertType(out[0], new([32]byte)).(*[32]byte)
	return root, nil
}

// IsZeroRoot reports the "not recorded" sentinel.
func IsZeroRoot(root [32]byte) bool {
	return root == [32]byte{}
}
