package tombo

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// number of leading samples searched during read start correction
const readStartSearchObs = 2000

// segParams are the per-molecule segmentation defaults applied when no
// explicit parameters are configured. DNA and RNA use distinct tables:
// RNA translocates slower so its events carry more observations.
type segParams struct {
	runningStatWidth int
	minObsPerBase    int
}

var segParamsTable = map[bool]segParams{
	false: {runningStatWidth: 5, minObsPerBase: 3},  // DNA
	true:  {runningStatWidth: 12, minObsPerBase: 6}, // RNA
}

// obsFilterRule flags (without removing) reads whose per-base segment
// lengths are implausibly long: a read is filtered when the given
// percentile of its segment lengths exceeds the threshold.
type obsFilterRule struct {
	percentile float64
	threshold  float64
}

// parseObsFilter parses "percentile:threshold" rules from the config
// surface
func parseObsFilter(rules []string) ([]obsFilterRule, error) {
	parsed := make([]obsFilterRule, 0, len(rules))
	for _, rule := range rules {
		parts := strings.SplitN(rule, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid obs filter %q: expected percentile:threshold", rule)
		}
		pctl, err := strconv.ParseFloat(parts[0], 64)
		if err != nil || pctl < 0 || pctl > 100 {
			return nil, fmt.Errorf("invalid obs filter percentile %q", parts[0])
		}
		thresh, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid obs filter threshold %q", parts[1])
		}
		parsed = append(parsed, obsFilterRule{percentile: pctl, threshold: thresh})
	}
	return parsed, nil
}

// resquiggleParams bundles the per-read processing configuration,
// threaded explicitly through every component call
type resquiggleParams struct {
	normMode         string
	outlierThresh    float64
	minObsPerBase    int
	runningStatWidth int
	timeout          time.Duration
	cptsLimit        int
	obsFilter        []obsFilterRule
	poreModel        *poreModel
	basecallGroup    string
	correctedGroup   string
}

// segParamsFor resolves explicit segmentation parameters or the
// per-molecule default
func (p *resquiggleParams) segParamsFor(rna bool) (minObsPerBase, runningStatWidth int) {
	minObsPerBase, runningStatWidth = p.minObsPerBase, p.runningStatWidth
	if minObsPerBase <= 0 {
		minObsPerBase = segParamsTable[rna].minObsPerBase
	}
	if runningStatWidth <= 0 {
		runningStatWidth = segParamsTable[rna].runningStatWidth
	}
	return minObsPerBase, runningStatWidth
}

// findReadStart corrects an imprecise read start offset by locating
// changepoints in the read's first samples and finding the most common
// signed difference between them and the basecaller's boundaries. The
// normalized signal window is shifted by that offset, replicating edge
// samples to fill, so the read file does not have to be queried again.
func findReadStart(
	normSignal []float64, startsRelToRead []int64,
	minObsPerBase, runningStatWidth int,
	readStartRelToRaw, signalLength int64) ([]float64, int64, error) {

	beginReadStarts := startsRelToRead
	if startsRelToRead[len(startsRelToRead)-1] > readStartSearchObs {
		for i, s := range startsRelToRead {
			if s >= readStartSearchObs {
				beginReadStarts = startsRelToRead[:i]
				break
			}
		}
	}
	if len(beginReadStarts) == 0 {
		return normSignal, readStartRelToRaw, nil
	}

	searchLen := readStartSearchObs
	if searchLen > len(normSignal) {
		searchLen = len(normSignal)
	}
	signalCpts, err := validCpts(
		normSignal[:searchLen], minObsPerBase, runningStatWidth, len(beginReadStarts))
	if err != nil {
		return nil, 0, newReadError(errSegmentation,
			"Could not locate changepoints to fix the read start.")
	}

	// count the offset between each basecaller boundary and its nearest
	// located changepoint; the mode is the start correction
	offByCounts := map[int64]int{}
	for _, readCpt := range beginReadStarts {
		nearest := signalCpts[0]
		for _, cpt := range signalCpts[1:] {
			if abs64(cpt-readCpt) < abs64(nearest-readCpt) {
				nearest = cpt
			}
		}
		offByCounts[nearest-readCpt]++
	}
	var bestOff int64
	bestCount := -1
	for off, count := range offByCounts {
		if count > bestCount ||
			(count == bestCount && abs64(off) < abs64(bestOff)) ||
			(count == bestCount && abs64(off) == abs64(bestOff) && off < bestOff) {
			bestOff, bestCount = off, count
		}
	}

	if bestOff > 0 {
		// signal boundaries are ahead of the basecaller's; don't let
		// the offset push the window past the end of the raw signal
		offset := bestOff
		if offset+int64(len(normSignal))+readStartRelToRaw >= signalLength {
			offset = signalLength - readStartRelToRaw - int64(len(normSignal))
		}
		shifted := make([]float64, len(normSignal))
		copy(shifted, normSignal[offset:])
		for i := len(normSignal) - int(offset); i < len(normSignal); i++ {
			shifted[i] = normSignal[len(normSignal)-1]
		}
		normSignal = shifted
		readStartRelToRaw += offset
	} else if bestOff < 0 {
		// signal boundaries are behind; don't push the start below zero
		offset := -bestOff
		if offset > readStartRelToRaw {
			offset = readStartRelToRaw
		}
		shifted := make([]float64, len(normSignal))
		for i := int64(0); i < offset; i++ {
			shifted[i] = normSignal[0]
		}
		copy(shifted[offset:], normSignal[:int64(len(normSignal))-offset])
		normSignal = shifted
		readStartRelToRaw -= offset
	}

	return normSignal, readStartRelToRaw, nil
}

// resquiggleRead runs the full per-read pipeline: normalization,
// optional read start correction, indel grouping, segmentation
// reconstruction and validation. All steps succeed or the read fails
// atomically; nothing is persisted on failure.
func resquiggleRead(
	store ReadStore, readFn string, ad alignData, p resquiggleParams,
	skipIndex bool) (*indexEntry, error) {

	rawSignal, err := store.RawSignal(readFn)
	if err != nil {
		return nil, newReadError(errStore, err.Error())
	}
	rna, err := store.IsRNA(readFn)
	if err != nil {
		return nil, newReadError(errStore, err.Error())
	}
	if rna {
		// RNA is sequenced 3' to 5'
		reversed := make([]int16, len(rawSignal))
		for i, v := range rawSignal {
			reversed[len(rawSignal)-1-i] = v
		}
		rawSignal = reversed
	}

	var eventMeans, modelMeans, modelInvVars []float64
	if p.normMode == normPA {
		if p.poreModel == nil {
			return nil, newReadError(errStore,
				"Model fitted normalization requires a pore model file.")
		}
		events, _, _, err := store.Events(readFn, p.basecallGroup, ad.info.Subgroup)
		if err != nil {
			return nil, newReadError(errStore, err.Error())
		}
		eventMeans = make([]float64, len(events))
		kmers := make([]string, len(events))
		for i, ev := range events {
			eventMeans[i] = ev.Mean
			kmers[i] = strings.ToUpper(ev.ModelState)
		}
		if modelMeans, modelInvVars, err = p.poreModel.statsFor(kmers); err != nil {
			return nil, newReadError(errSegmentation, err.Error())
		}
	}

	minObsPerBase, runningStatWidth := p.segParamsFor(rna)

	startsRelToRead := ad.startsRelToRead
	readStartRelToRaw := ad.readStartRelToRaw
	normSignal, scale, err := normalizeRawSignal(
		rawSignal, readStartRelToRaw, startsRelToRead[len(startsRelToRead)-1],
		p.normMode, p.outlierThresh, eventMeans, modelMeans, modelInvVars)
	if err != nil {
		return nil, newReadError(errSegmentation, err.Error())
	}

	if ad.fixReadStart {
		normSignal, readStartRelToRaw, err = findReadStart(
			normSignal, startsRelToRead, minObsPerBase, runningStatWidth,
			readStartRelToRaw, int64(len(rawSignal)))
		if err != nil {
			return nil, err
		}
	}

	// group indels that are adjacent for re-segmentation
	indelGroups, err := getIndelGroups(
		ad.alignVals, startsRelToRead, normSignal, minObsPerBase,
		runningStatWidth, p.timeout, p.cptsLimit)
	if err != nil {
		return nil, err
	}

	// splice unmodified boundaries with each group's new changepoints,
	// in original left-to-right order
	newSegs := make([]int64, 0, len(startsRelToRead))
	prevStop := 0
	for _, group := range indelGroups {
		newSegs = append(newSegs, startsRelToRead[prevStop:group.start+1]...)
		newSegs = append(newSegs, group.cpts...)
		prevStop = group.end
	}
	newSegs = append(newSegs, startsRelToRead[prevStop:]...)

	for i := 1; i < len(newSegs); i++ {
		if newSegs[i]-newSegs[i-1] < 1 {
			return nil, newReadError(errValidation,
				"New segments include zero length events.")
		}
	}
	if newSegs[0] < 0 {
		return nil, newReadError(errValidation,
			"New segments start with negative index.")
	}
	if newSegs[len(newSegs)-1] > int64(len(normSignal)) {
		return nil, newReadError(errValidation,
			"New segments end past raw signal values.")
	}

	alignSeq := alignedGenomeSeq(ad.alignVals)
	if len(newSegs) != len(alignSeq)+1 {
		return nil, newReadError(errValidation,
			"Aligned sequence does not match number of segments produced.")
	}

	res := &resquiggleResult{
		AlignInfo:         ad.info,
		GenomeLoc:         ad.genomeLoc,
		GenomeSeq:         alignSeq,
		NormSignal:        normSignal,
		ReadStartRelToRaw: readStartRelToRaw,
		Segs:              newSegs,
		Scale:             scale,
	}
	if err := store.WriteResult(readFn, p.correctedGroup, ad.info.Subgroup, res); err != nil {
		return nil, newReadError(errStore, err.Error())
	}

	if skipIndex {
		return nil, nil
	}

	isFiltered := false
	if len(p.obsFilter) > 0 {
		baseLens := make([]float64, len(newSegs)-1)
		for i := 1; i < len(newSegs); i++ {
			baseLens[i-1] = float64(newSegs[i] - newSegs[i-1])
		}
		for _, rule := range p.obsFilter {
			if percentile(baseLens, rule.percentile) > rule.threshold {
				isFiltered = true
				break
			}
		}
	}

	return &indexEntry{
		Chrom:             ad.genomeLoc.Chrom,
		Strand:            ad.genomeLoc.Strand,
		Start:             ad.genomeLoc.Start,
		End:               ad.genomeLoc.Start + int64(len(newSegs)) - 1,
		IsFiltered:        isFiltered,
		ReadStartRelToRaw: readStartRelToRaw,
		CorrectedGroup:    p.correctedGroup,
		Subgroup:          ad.info.Subgroup,
		ReadFn:            readFn,
		RNA:               rna,
	}, nil
}

// percentile computes the linearly interpolated pctl-th percentile
func percentile(vals []float64, pctl float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	sorted := append([]float64{}, vals...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := pctl / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
