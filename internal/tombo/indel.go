package tombo

import (
	"regexp"
	"time"
)

var gapPat = regexp.MustCompile(`-+`)

// alignPair is one column of a gapped alignment: the called read base
// and the reference base, either of which ('-') may be a gap but
// never both.
type alignPair struct {
	read   byte
	genome byte
}

// indelStats is one unambiguous indel's span in base coordinates
// (indices into the per-base segment starts) and its signed length:
// positive where the reference carries bases the basecalls skipped,
// negative where the basecalls carry bases absent from the reference.
type indelStats struct {
	start int
	end   int
	diff  int
}

// indelGroupStats is a finalized group of nearby indels along with the
// raw-sample changepoints resolved for its expanded span.
type indelGroupStats struct {
	start  int
	end    int
	cpts   []int64
	indels []indelStats
}

// grouper carries the per-read state threaded through group expansion.
// groups is the arena of finalized groups: a group expanding back into
// its predecessor replaces the arena suffix rather than mutating a
// linked structure.
type grouper struct {
	alignSegs     []int64
	rawSignal     []float64
	minObsPerBase int
	statWidth     int
	cptsLimit     int
	groups        []indelGroupStats
}

// getIndelGroups scans a gapped alignment for indels, resolves
// ambiguous placement, merges nearby indels and expands each group
// until enough raw observations exist to place exact changepoints.
// Groups are returned in left-to-right, non-overlapping order.
func getIndelGroups(
	alignVals []alignPair, alignSegs []int64, rawSignal []float64,
	minObsPerBase, runningStatWidth int, timeout time.Duration,
	cptsLimit int) ([]indelGroupStats, error) {

	allIndels := getAllIndels(alignVals)
	if len(allIndels) == 0 {
		return []indelGroupStats{}, nil
	}

	g := &grouper{
		alignSegs:     alignSegs,
		rawSignal:     rawSignal,
		minObsPerBase: minObsPerBase,
		statWidth:     runningStatWidth,
		cptsLimit:     cptsLimit,
	}

	var timeoutStart time.Time
	if timeout > 0 {
		timeoutStart = time.Now()
	}

	currGroup := []indelStats{allIndels[0]}
	for _, indel := range allIndels[1:] {
		if timeout > 0 && time.Since(timeoutStart) > timeout {
			return nil, newReadError(
				errSegmentation, "Read took too long to re-segment.")
		}

		// check if this indel hits the current group
		if maxEnd(currGroup) >= indel.start {
			currGroup = append(currGroup, indel)
			continue
		}

		currStart, currStop, numCpts, group, err := g.extendAndJoin(currGroup)
		if err != nil {
			return nil, err
		}
		cpts, currStart, currStop, group, err := g.extendForCpts(
			currStart, currStop, numCpts, group)
		if err != nil {
			return nil, err
		}

		// if the expanded group now reaches the next indel, absorb it
		if currStop >= indel.start {
			currGroup = append(group, indel)
		} else {
			g.groups = append(g.groups, indelGroupStats{
				start: currStart, end: currStop, cpts: cpts, indels: group})
			currGroup = []indelStats{indel}
		}
	}

	// handle the last indel group if it is not yet included
	if len(g.groups) == 0 ||
		last(g.groups[len(g.groups)-1].indels) != last(allIndels) {
		currStart, currStop, numCpts, group, err := g.extendAndJoin(currGroup)
		if err != nil {
			return nil, err
		}
		cpts, currStart, currStop, group, err := g.extendForCpts(
			currStart, currStop, numCpts, group)
		if err != nil {
			return nil, err
		}
		g.groups = append(g.groups, indelGroupStats{
			start: currStart, end: currStop, cpts: cpts, indels: group})
	}

	return g.groups, nil
}

// getAllIndels extracts every maximal gap run from both alignment rows
// and resolves ambiguous (tandem repeat) placement by extending each
// indel's span in both directions while the indel sequence cyclically
// matches the flanking sequence.
func getAllIndels(alignVals []alignPair) []indelStats {
	readAlign := make([]byte, len(alignVals))
	genomeAlign := make([]byte, len(alignVals))
	for i, av := range alignVals {
		readAlign[i] = av.read
		genomeAlign[i] = av.genome
	}

	genomeGaps := gapPat.FindAllIndex(genomeAlign, -1)
	readGaps := gapPat.FindAllIndex(readAlign, -1)
	if len(genomeGaps)+len(readGaps) == 0 {
		return nil
	}

	// all indel spans plus zero-length sentinels at both alignment
	// ends, in left-to-right order. gap runs in the two rows never
	// overlap so a plain merge by start suffices.
	allIndelLocs := make([][2]int, 0, len(genomeGaps)+len(readGaps)+2)
	allIndelLocs = append(allIndelLocs, [2]int{0, 0})
	gi, ri := 0, 0
	for gi < len(genomeGaps) || ri < len(readGaps) {
		if ri >= len(readGaps) ||
			(gi < len(genomeGaps) && genomeGaps[gi][0] < readGaps[ri][0]) {
			allIndelLocs = append(allIndelLocs, [2]int{genomeGaps[gi][0], genomeGaps[gi][1]})
			gi++
		} else {
			allIndelLocs = append(allIndelLocs, [2]int{readGaps[ri][0], readGaps[ri][1]})
			ri++
		}
	}
	allIndelLocs = append(allIndelLocs, [2]int{len(alignVals), len(alignVals)})

	// reference sequence between each pair of neighboring indels
	btwnIndelSeqs := make([]string, len(allIndelLocs)-1)
	for i := 0; i+1 < len(allIndelLocs); i++ {
		btwnIndelSeqs[i] = string(genomeAlign[allIndelLocs[i][1]:allIndelLocs[i+1][0]])
	}

	var unambigIndels []indelStats
	currReadLen := len(btwnIndelSeqs[0])
	for k, loc := range allIndelLocs[1 : len(allIndelLocs)-1] {
		start, end := loc[0], loc[1]
		// reference bases absent from the basecalls show up as a gap
		// run in the read row
		isIns := readAlign[start] == '-'
		var indelSeq string
		if isIns {
			indelSeq = string(genomeAlign[start:end])
		} else {
			indelSeq = string(readAlign[start:end])
		}
		beforeSeq, afterSeq := btwnIndelSeqs[k], btwnIndelSeqs[k+1]

		indelLen := len(indelSeq)
		// extend the end by one base so neighboring segment boundaries
		// are rerun through changepoint detection as well. insertions do
		// not advance the read coordinate, so their span stays one wide.
		indelEnd := currReadLen + 1
		indelDiff := indelLen
		if !isIns {
			indelEnd = currReadLen + indelLen + 1
			indelDiff = -indelLen
		}

		// extend ambiguous indels, only up to one position before the
		// flank's far end since a one base pad is added outside the indel
		u, d := -1, 0
		for d < len(afterSeq)-1 && indelSeq[d%indelLen] == afterSeq[d] {
			d++
		}
		for -u <= len(beforeSeq)-1 &&
			indelSeq[pymod(u, indelLen)] == beforeSeq[len(beforeSeq)+u] {
			u--
		}
		unambigIndels = append(unambigIndels, indelStats{
			start: currReadLen + u, end: indelEnd + d, diff: indelDiff})

		if !isIns {
			currReadLen += indelLen
		}
		currReadLen += len(afterSeq)
	}

	return unambigIndels
}

// extendGroup grows a group of indels until the raw-sample span can
// host the required changepoints at the minimum spacing. It fails when
// both ends have reached the read's edges without gaining capacity.
func (g *grouper) extendGroup(indelGroup []indelStats) (start, end, numCpts int, err error) {
	start, end = indelGroup[0].start, indelGroup[0].end
	for _, indel := range indelGroup {
		if indel.start < start {
			start = indel.start
		}
		if indel.end > end {
			end = indel.end
		}
		numCpts += indel.diff
	}
	numCpts += end - start - 1

	prevNumCpts := numCpts
	// an extra set of observations is required so no changepoint is
	// forced into a zero length segment
	for g.alignSegs[end]-g.alignSegs[start] <
		int64((numCpts+1)*g.minObsPerBase+g.statWidth*2) {
		if start > 0 {
			numCpts++
		}
		if end < len(g.alignSegs)-1 {
			numCpts++
		}
		if numCpts == prevNumCpts {
			return 0, 0, 0, newReadError(errSegmentation,
				"Entire read does not contain enough signal to re-squiggle")
		}
		prevNumCpts = numCpts
		if start > 0 {
			start--
		}
		if end < len(g.alignSegs)-1 {
			end++
		}
	}

	return start, end, numCpts, nil
}

// extendAndJoin extends a group and merges it with previously
// finalized groups whenever the extension reaches back across them.
// Merges can cascade.
func (g *grouper) extendAndJoin(indelGroup []indelStats) (
	start, end, numCpts int, group []indelStats, err error) {

	start, end, numCpts, err = g.extendGroup(indelGroup)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	for len(g.groups) > 0 && start <= g.groups[len(g.groups)-1].end {
		indelGroup = append(
			append([]indelStats{}, g.groups[len(g.groups)-1].indels...), indelGroup...)
		g.groups = g.groups[:len(g.groups)-1]
		start, end, numCpts, err = g.extendGroup(indelGroup)
		if err != nil {
			return 0, 0, 0, nil, err
		}
	}
	return start, end, numCpts, indelGroup, nil
}

// getCpts locates numCpts changepoints within the group's raw-sample
// span, or returns nil when the span cannot host that many. Exceeding
// the configured changepoint cap is a hard failure, not retried.
func (g *grouper) getCpts(start, end, numCpts int) ([]int64, error) {
	if g.cptsLimit > 0 && numCpts > g.cptsLimit {
		return nil, newReadError(errSegmentation,
			"Reached maximum number of changepoints for a single indel")
	}
	cpts, err := validCpts(
		g.rawSignal[g.alignSegs[start]:g.alignSegs[end]],
		g.minObsPerBase, g.statWidth, numCpts)
	if err != nil {
		// fewer changepoints found than requested: the caller expands
		// the group and retries
		return nil, nil
	}
	return cpts, nil
}

// extendForCpts repeatedly expands the group (merging backward into
// the arena as needed) until the changepoint locator succeeds, then
// shifts the changepoints into absolute raw-sample coordinates.
func (g *grouper) extendForCpts(
	start, end, numCpts int, indelGroup []indelStats) (
	[]int64, int, int, []indelStats, error) {

	cpts, err := g.getCpts(start, end, numCpts)
	if err != nil {
		return nil, 0, 0, nil, err
	}
	for cpts == nil {
		if start == 0 && end == len(g.alignSegs)-1 {
			return nil, 0, 0, nil, newReadError(errSegmentation,
				"Entire read does not contain enough signal to re-squiggle")
		}
		if start > 0 {
			numCpts++
		}
		if end < len(g.alignSegs)-1 {
			numCpts++
		}
		if start > 0 {
			start--
		}
		if end < len(g.alignSegs)-1 {
			end++
		}
		for len(g.groups) > 0 && start <= g.groups[len(g.groups)-1].end {
			indelGroup = append(
				append([]indelStats{}, g.groups[len(g.groups)-1].indels...), indelGroup...)
			g.groups = g.groups[:len(g.groups)-1]
			start, end, numCpts, err = g.extendGroup(indelGroup)
			if err != nil {
				return nil, 0, 0, nil, err
			}
		}
		if cpts, err = g.getCpts(start, end, numCpts); err != nil {
			return nil, 0, 0, nil, err
		}
	}

	for i := range cpts {
		cpts[i] += g.alignSegs[start]
	}
	return cpts, start, end, indelGroup, nil
}

// maxEnd is the rightmost end over a group's member indels
func maxEnd(group []indelStats) int {
	m := group[0].end
	for _, indel := range group[1:] {
		if indel.end > m {
			m = indel.end
		}
	}
	return m
}

func last[T any](s []T) T { return s[len(s)-1] }

// pymod is a remainder that is always in [0, n), matching modular
// indexing of the repeated indel sequence from the left flank
func pymod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
