package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"beaconoracle.com/internal/oracle/domain"
	"beaconoracle.com/pkg/metrics"
	"beaconoracle.com/pkg/xerr"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// Backend is the subset of ethclient.Client the reader uses.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

type Reader struct {
	backend  Backend
	contract common.Address
	limiter  *rate.Limiter
	timeout  time.Duration
}

var _ domain.ChainReader = (*Reader)(nil)

// Dial connects to an execution RPC endpoint. Over HTTP this does no I/O.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerr.Wrap(xerr.ConfigInvalid, err, "dial "+rpcURL)
	}
	return client, nil
}

// NewReader wraps backend. Every call waits on limiter and is cut off after timeout.
func NewReader(backend Backend, contract common.Address, limiter *rate.Limiter, timeout time.Duration) *Reader {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Reader{
		backend:  backend,
		contract: contract,
		limiter:  limiter,
		timeout:  timeout,
	}
}

func (r *Reader) LatestHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := r.do(ctx, "eth_blockNumber", func(ctx context.Context) (err error) {
		height, err = r.backend.BlockNumber(ctx)
		return err
	})
	return height, err
}

func (r *Reader) BlockTimestamp(ctx context.Context, height uint64) (uint64, error) {
	var ts uint64
	err := r.do(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		header, err := r.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(height))
		if err != nil {
			return err
		}
		if header == nil {
			return fmt.Errorf("block %d: %w", height, ethereum.NotFound)
		}
		ts = header.Time
		return nil
	})
	return ts, err
}

func (r *Reader) ReadContract(ctx context.Context, call []byte) ([]byte, error) {
	var out []byte
	err := r.do(ctx, "eth_call", func(ctx context.Context) (err error) {
		out, err = r.backend.CallContract(ctx, ethereum.CallMsg{To: &r.contract, Data: call}, nil)
		return err
	})
	return out, err
}

// VerifyChainID compares the endpoint's chain id with want. A mismatch is a
// configuration error; an unreachable endpoint is retried a few times first.
func (r *Reader) VerifyChainID(ctx context.Context, want uint64) error {
	b, err := retry.NewExponential(500 * time.Millisecond)
	if err != nil {
		return err
	}
	b = retry.WithMaxRetries(4, b)

	var got *big.Int
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		return retry.RetryableError(r.do(ctx, "eth_chainId", func(ctx context.Context) (err error) {
			got, err = r.backend.ChainID(ctx)
			return err
		}))
	})
	if err != nil {
		return err
	}
	if !got.IsUint64() || got.Uint64() != want {
		return xerr.Newf(xerr.ConfigInvalid, "chain id mismatch: configured %d, endpoint reports %s", want, got)
	}
	return nil
}

// do applies the rate limit and the per-call timeout, and tags failures as ChainRead.
func (r *Reader) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := r.limiter.Wait(ctx); err != nil {
		metrics.ReadErrors.WithLabelValues(op).Inc()
		return xerr.Wrap(xerr.ChainRead, err, op+": rate limit wait")
	}
	if err := fn(ctx); err != nil {
		metrics.ReadErrors.WithLabelValues(op).Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			return xerr.Wrap(xerr.ChainRead, err, op+": timed out")
		}
		return xerr.Wrap(xerr.ChainRead, err, op)
	}
	return nil
}
