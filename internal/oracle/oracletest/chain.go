// Package oracletest holds in-memory fakes of the oracle's chain collaborators.
package oracletest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"beaconoracle.com/internal/oracle/domain"
)

// TimestampOf is the block timestamp FakeChain reports when none was set explicitly.
func TimestampOf(height uint64) uint64 { return 1_700_000_000 + height*12 }

// FakeChain is a ChainReader backed by maps. Roots are keyed by timestamp, the way the
// contract stores them. ReadContract understands timestampToBlockRoot calls only.
type FakeChain struct {
	mu sync.Mutex

	Height     uint64
	Timestamps map[uint64]uint64
	Roots      map[uint64][32]byte
	// Missing heights answer "not found", like a replica that has not synced them.
	Missing map[uint64]bool

	HeightErr    error
	TimestampErr error
	ContractErr  error

	HeightCalls    int
	TimestampReads []uint64
	ContractReads  []uint64
}

var _ domain.ChainReader = (*FakeChain)(nil)

func NewFakeChain(height uint64) *FakeChain {
	return &FakeChain{
		Height:     height,
		Timestamps: map[uint64]uint64{},
		Roots:      map[uint64][32]byte{},
		Missing:    map[uint64]bool{},
	}
}

// Anchor stores a non-zero root for the timestamp of block height.
func (f *FakeChain) Anchor(height uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Roots[f.timestampLocked(height)] = [32]byte{0xbe, 0xac, byte(height)}
}

// AnchorTimestamp stores a non-zero root under ts, as a mined addTimestamp would.
func (f *FakeChain) AnchorTimestamp(ts uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Roots[ts] = [32]byte{0x01}
}

func (f *FakeChain) AnchoredAt(height uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Roots[f.timestampLocked(height)]
	return ok
}

func (f *FakeChain) LatestHeight(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.HeightCalls++
	if f.HeightErr != nil {
		return 0, f.HeightErr
	}
	return f.Height, nil
}

func (f *FakeChain) BlockTimestamp(_ context.Context, height uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TimestampReads = append(f.TimestampReads, height)
	if f.TimestampErr != nil {
		return 0, f.TimestampErr
	}
	if height > f.Height || f.Missing[height] {
		return 0, fmt.Errorf("block %d not found", height)
	}
	return f.timestampLocked(height), nil
}

func (f *FakeChain) ReadContract(_ context.Context, call []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ContractErr != nil {
		return nil, f.ContractErr
	}
	ts, err := DecodeTimestampArg(call)
	if err != nil {
		return nil, err
	}
	f.ContractReads = append(f.ContractReads, ts)
	root := f.Roots[ts]
	return root[:], nil
}

func (f *FakeChain) timestampLocked(height uint64) uint64 {
	if ts, ok := f.Timestamps[height]; ok {
		return ts
	}
	return TimestampOf(height)
}

// DecodeTimestampArg pulls the uint256 argument out of a single-argument call. Only
// the low 64 bits are kept.
func DecodeTimestampArg(call []byte) (uint64, error) {
	if len(call) != 4+32 {
		return 0, errors.New("unexpected calldata length")
	}
	return binary.BigEndian.Uint64(call[4+24:]), nil
}
