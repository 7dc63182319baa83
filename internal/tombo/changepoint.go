package tombo

import (
	"errors"
	"math"
	"sort"
)

// errInsufficientCpts signals that a signal span cannot host the
// requested number of changepoints under the spacing constraint. The
// indel grouper reacts by expanding the group and retrying.
var errInsufficientCpts = errors.New("fewer changepoints found than requested")

// validCpts returns numCpts sample indices within signal, chosen where
// the absolute difference between the runningStatWidth-sample running
// means immediately left and right of the boundary is largest, while
// keeping every pair of changepoints at least minObsPerBase samples
// apart. Indices are relative to the start of signal and sorted.
//
// Selection is a greedy argmax with a lowest-index tie-break, so the
// result is deterministic for identical inputs.
func validCpts(signal []float64, minObsPerBase, runningStatWidth int, numCpts int) ([]int64, error) {
	if numCpts <= 0 {
		return []int64{}, nil
	}
	n := len(signal)
	if n < 2*runningStatWidth || n < (numCpts+1)*minObsPerBase+2*runningStatWidth {
		return nil, errInsufficientCpts
	}

	// prefix sums so each window mean is O(1)
	cumsum := make([]float64, n+1)
	for i, v := range signal {
		cumsum[i+1] = cumsum[i] + v
	}
	width := float64(runningStatWidth)

	// score every candidate boundary; positions too close to either
	// edge to host both windows (or a minimum length segment) stay zero
	scores := make([]float64, n)
	edge := runningStatWidth
	if minObsPerBase > edge {
		edge = minObsPerBase
	}
	for i := edge; i <= n-edge; i++ {
		left := (cumsum[i] - cumsum[i-runningStatWidth]) / width
		right := (cumsum[i+runningStatWidth] - cumsum[i]) / width
		scores[i] = math.Abs(right - left)
	}

	cpts := make([]int64, 0, numCpts)
	for len(cpts) < numCpts {
		best, bestScore := -1, 0.0
		for i, s := range scores {
			if s > bestScore {
				best, bestScore = i, s
			}
		}
		if best < 0 {
			return nil, errInsufficientCpts
		}
		cpts = append(cpts, int64(best))

		// mask out positions that would violate the spacing constraint
		lo := best - minObsPerBase + 1
		if lo < 0 {
			lo = 0
		}
		hi := best + minObsPerBase
		if hi > n {
			hi = n
		}
		for i := lo; i < hi; i++ {
			scores[i] = 0
		}
	}

	sort.Slice(cpts, func(i, j int) bool { return cpts[i] < cpts[j] })
	return cpts, nil
}
