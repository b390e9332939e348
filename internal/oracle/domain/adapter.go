package domain

import (
	"context"
)

// ChainReader is read access to the source chain, where the oracle contract lives.
type ChainReader interface {
	// LatestHeight returns the current block number.
	LatestHeight(ctx context.Context) (uint64, error)
	// BlockTimestamp returns the timestamp of block height.
	BlockTimestamp(ctx context.Context, height uint64) (uint64, error)
	// ReadContract runs an eth_call against the oracle contract and returns the raw result.
	ReadContract(ctx context.Context, call []byte) ([]byte, error)
}

// Submitter turns an encoded contract call into a submitted transaction.
type Submitter interface {
	Submit(ctx context.Context, call []byte) SubmissionOutcome
	// Name identifies the strategy in logs and metrics.
	Name() string
}

// AnchorChecker answers whether a timestamp already has a non-zero root stored.
type AnchorChecker interface {
	IsAnchored(ctx context.Context, timestamp uint64) (bool, error)
}

// BoundaryLocator derives the highest anchored boundary from the contract.
type BoundaryLocator interface {
	LastAnchoredBoundary(ctx context.Context, height uint64) (uint64, error)
}

// Publisher receives cycle events for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Leader gates cycles when several operator replicas share one contract.
type Leader interface {
	TryAcquireMaster(ctx context.Context) (bool, error)
}
