// Package readahead implements the per-flat-file ReadAheadPolicy: an integer
// read-ahead factor that grows on cache hits for a group and shrinks on
// cache-expiry misses, governing prefetch batch size and concurrency.
package readahead

import "go.uber.org/atomic"

// Policy holds one flat-file's read-ahead factor. Increase/Decrease are
// saturating compare-and-swap loops in the style of the teacher's casHWM
// helper in pkg/storage/ingest/fetcher.go, so concurrent adjustments from
// multiple prefetch completions never race each other or overshoot the
// configured bounds.
type Policy struct {
	factor *atomic.Int64
	min    int64
}

// NewPolicy returns a Policy starting at min, the floor it saturates down
// to. The ceiling is supplied per call to Factor/Increase as upperBound,
// since it is typically readAheadMessageCountThreshold/maxCount and maxCount
// varies per request.
func NewPolicy(min int) *Policy {
	if min < 1 {
		min = 1
	}
	return &Policy{factor: atomic.NewInt64(int64(min)), min: int64(min)}
}

// Factor returns the current read-ahead factor, capped to upperBound (the
// ceiling may shrink between calls as maxCount changes).
func (p *Policy) Factor(upperBound int) int {
	f := p.factor.Load()
	if ub := int64(upperBound); ub > 0 && f > ub {
		return int(ub)
	}
	return int(f)
}

// Increase grows the factor by one, saturating at upperBound. A factor of 1
// that is increased still respects upperBound; an upperBound below the
// current min effectively pins the factor there.
func (p *Policy) Increase(upperBound int) {
	ub := int64(upperBound)
	for {
		cur := p.factor.Load()
		next := cur + 1
		if ub > 0 && next > ub {
			next = ub
		}
		if next <= cur {
			return
		}
		if p.factor.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Decrease shrinks the factor by one, saturating at the configured minimum.
func (p *Policy) Decrease() {
	for {
		cur := p.factor.Load()
		next := cur - 1
		if next < p.min {
			next = p.min
		}
		if next >= cur {
			return
		}
		if p.factor.CompareAndSwap(cur, next) {
			return
		}
	}
}
