// Package checker reads anchoring state back from the oracle contract.
package checker

import (
	"context"
	"fmt"

	"beaconoracle.com/internal/oracle/contract"
	"beaconoracle.com/internal/oracle/domain"
	"beaconoracle.com/internal/oracle/selector"
	"beaconoracle.com/pkg/xerr"
)

// DefaultLookback is how many boundaries LastAnchoredBoundary inspects when the
// configured window is zero.
const DefaultLookback uint64 = 32

type Checker struct {
	reader   domain.ChainReader
	interval uint64
	lookback uint64
}

var (
	_ domain.AnchorChecker   = (*Checker)(nil)
	_ domain.BoundaryLocator = (*Checker)(nil)
)

func New(reader domain.ChainReader, interval, lookback uint64) *Checker {
	if lookback == 0 {
		lookback = DefaultLookback
	}
	return &Checker{reader: reader, interval: interval, lookback: lookback}
}

// IsAnchored reports whether the contract holds a non-zero root for timestamp.
// A failed or malformed read is an error, never an answer.
func (c *Checker) IsAnchored(ctx context.Context, timestamp uint64) (bool, error) {
	call, err := contract.PackTimestampToBlockRoot(timestamp)
	if err != nil {
		return false, xerr.Wrap(xerr.Internal, err, "pack timestampToBlockRoot")
	}
	raw, err := c.reader.ReadContract(ctx, call)
	if err != nil {
		return false, err
	}
	root, err := contract.UnpackBlockRoot(raw)
	if err != nil {
		return false, xerr.Wrap(xerr.ChainRead, err, fmt.Sprintf("decode root for timestamp %d", timestamp))
	}
	return !contract.IsZeroRoot(root), nil
}

// LastAnchoredBoundary walks back from the newest stable boundary (at least two blocks
// below height), one interval at a time, and returns the first one whose timestamp is
// anchored. When none in the lookback window is, it returns the boundary just before
// the newest stable one so the selector targets it. Boundaries within the one-block
// lag are never read.
func (c *Checker) LastAnchoredBoundary(ctx context.Context, height uint64) (uint64, error) {
	if c.interval == 0 {
		return 0, xerr.New(xerr.ConfigInvalid, "block interval is zero")
	}
	if height < 2 {
		return 0, nil
	}
	newest := selector.LatestBoundary(c.interval, height-2)

	b := newest
	for i := uint64(0); i < c.lookback && b > 0; i++ {
		ts, err := c.reader.BlockTimestamp(ctx, b)
		if err != nil {
			return 0, err
		}
		anchored, err := c.IsAnchored(ctx, ts)
		if err != nil {
			return 0, err
		}
		if anchored {
			return b, nil
		}
		b -= c.interval
	}

	if newest < c.interval {
		return 0, nil
	}
	return newest - c.interval, nil
}
