// Package selector picks the next block boundary to anchor. Everything here is pure.
package selector

// SelectBoundary returns the smallest multiple of interval that is strictly greater
// than last and not above height. ok is false when the chain has not reached it yet.
// interval must be > 0; config validation rejects zero before any cycle runs.
func SelectBoundary(last, interval, height uint64) (boundary uint64, ok bool) {
	if interval == 0 {
		return 0, false
	}
	next := (last/interval + 1) * interval
	// overflow of the multiplication wraps to something <= last
	if next <= last || next > height {
		return 0, false
	}
	return next, true
}

// LatestBoundary is the highest multiple of interval not above height.
func LatestBoundary(interval, height uint64) uint64 {
	if interval == 0 {
		return 0
	}
	return height / interval * interval
}

// IsStable is the one-block lag guard: a boundary is only used once the chain is at
// least two blocks past it, so every RPC replica has its data.
func IsStable(boundary, height uint64) bool {
	return height >= 1 && boundary < height-1
}
