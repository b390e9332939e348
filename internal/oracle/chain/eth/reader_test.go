package eth

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"beaconoracle.com/pkg/xerr"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	height     uint64
	headers    map[uint64]*types.Header
	callResult []byte
	chainID    *big.Int

	lastCall   ethereum.CallMsg
	chainIDErr []error
	block      bool
	err        error
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	if f.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return f.height, f.err
}

func (f *fakeBackend) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.headers[number.Uint64()], nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.lastCall = msg
	return f.callResult, f.err
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	if len(f.chainIDErr) > 0 {
		err := f.chainIDErr[0]
		f.chainIDErr = f.chainIDErr[1:]
		return nil, err
	}
	return f.chainID, nil
}

var testContract = common.HexToAddress("0x000000000000000000000000000000000000beac")

func TestReader_Reads(t *testing.T) {
	fb := &fakeBackend{
		height:     210,
		headers:    map[uint64]*types.Header{150: {Time: 1_700_000_150}},
		callResult: []byte{0x01},
	}
	r := NewReader(fb, testContract, nil, time.Second)
	ctx := context.Background()

	h, err := r.LatestHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(210), h)

	ts, err := r.BlockTimestamp(ctx, 150)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_700_000_150), ts)

	out, err := r.ReadContract(ctx, []byte{0xaa, 0xbb})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, out)
	require.NotNil(t, fb.lastCall.To)
	assert.Equal(t, testContract, *fb.lastCall.To)
	assert.Equal(t, []byte{0xaa, 0xbb}, fb.lastCall.Data)
}

func TestReader_MissingBlock(t *testing.T) {
	r := NewReader(&fakeBackend{headers: map[uint64]*types.Header{}}, testContract, nil, time.Second)

	_, err := r.BlockTimestamp(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.ChainRead))
	assert.ErrorIs(t, err, ethereum.NotFound)
}

func TestReader_ErrorsAreChainRead(t *testing.T) {
	boom := errors.New("connection refused")
	r := NewReader(&fakeBackend{err: boom}, testContract, nil, time.Second)

	_, err := r.LatestHeight(context.Background())
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.ChainRead))
	assert.ErrorIs(t, err, boom)

	_, err = r.ReadContract(context.Background(), nil)
	assert.True(t, xerr.Is(err, xerr.ChainRead))
}

func TestReader_Timeout(t *testing.T) {
	r := NewReader(&fakeBackend{block: true}, testContract, nil, 20*time.Millisecond)

	start := time.Now()
	_, err := r.LatestHeight(context.Background())
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.ChainRead))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReader_VerifyChainID(t *testing.T) {
	ctx := context.Background()

	r := NewReader(&fakeBackend{chainID: big.NewInt(17000)}, testContract, nil, time.Second)
	require.NoError(t, r.VerifyChainID(ctx, 17000))

	err := r.VerifyChainID(ctx, 1)
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.ConfigInvalid))

	// one transient failure, then the endpoint answers
	fb := &fakeBackend{chainID: big.NewInt(1), chainIDErr: []error{errors.New("eof")}}
	r = NewReader(fb, testContract, nil, time.Second)
	require.NoError(t, r.VerifyChainID(ctx, 1))
}
