package tombo

import (
	"math"
	"strconv"
	"strings"
)

// callerFormat keys the per-version strategies for interpreting
// basecaller event tables. The format is decided once per read.
type callerFormat int

const (
	// callerFormatLegacy (< 1.0): events could be dropped, so start
	// times scaled by the sampling rate are the only reliable source
	callerFormatLegacy callerFormat = iota

	// callerFormatTransitional (1.0 - 2.0): starts are stored as low
	// precision floats, so boundaries come from cumulative rounded
	// event lengths and the read start needs signal-based correction
	callerFormatTransitional

	// callerFormatModern (>= 2.0): starts are exact raw indices
	callerFormatModern
)

// callerParams are the per-read decisions derived from the basecaller
// version: how boundaries are computed, which position of each event's
// k-mer is the dominant (called) base, and whether the read start
// requires correction against located changepoints.
type callerParams struct {
	format       callerFormat
	kmerDomPos   int
	fixReadStart bool
}

// callerStrategies maps each format onto its event interpretation
var callerStrategies = map[callerFormat]callerParams{
	callerFormatLegacy:       {callerFormatLegacy, 2, false},
	callerFormatTransitional: {callerFormatTransitional, 1, true},
	callerFormatModern:       {callerFormatModern, 1, false},
}

// callerParamsFor decides the strategy for one read. Raw RNA
// basecalling moved the dominant k-mer base one minor version after
// DNA did, hence the RNA carve-out on modern versions.
func callerParamsFor(version string, rna bool) callerParams {
	major, minor := parseVersion(version)
	var p callerParams
	switch {
	case major < 1:
		p = callerStrategies[callerFormatLegacy]
	case major < 2:
		p = callerStrategies[callerFormatTransitional]
	default:
		p = callerStrategies[callerFormatModern]
		if rna && major == 2 && minor < 1 {
			p.kmerDomPos = 2
		}
	}
	return p
}

// parseVersion reads the leading major.minor of a version string;
// anything unparseable is treated as 0.0 (legacy)
func parseVersion(version string) (major, minor int) {
	parts := strings.Split(strings.TrimSpace(version), ".")
	if len(parts) > 0 {
		major, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	return major, minor
}

// readData is everything one read contributes to alignment: its event
// boundaries relative to the read's own first sample, the called
// bases, and where the read starts within the raw signal. Owned by one
// worker for the duration of processing.
type readData struct {
	readStartRelToRaw int64
	startsRelToRead   []int64
	basecalls         []byte
	channel           channelInfo
	readID            string
	fixReadStart      bool
}

// getReadData extracts and fixes up one basecall group/subgroup's
// data: boundaries per the version strategy, RNA mirroring into
// sequencing order, sanity checks, and stay-state stripping.
func getReadData(store ReadStore, readFn, group, subgroup string) (*readData, error) {
	events, version, startTime, err := store.Events(readFn, group, subgroup)
	if err != nil {
		return nil, newReadError(errStore, err.Error())
	}
	rna, err := store.IsRNA(readFn)
	if err != nil {
		return nil, newReadError(errStore, err.Error())
	}
	channel, err := store.ChannelInfo(readFn)
	if err != nil {
		return nil, newReadError(errStore, err.Error())
	}
	if len(events) <= 1 {
		return nil, newReadError(errStore,
			"One or no segments or signal present in read.")
	}

	params := callerParamsFor(version, rna)

	var readStartRelToRaw int64
	var absEventStart int64
	if params.format == callerFormatModern {
		readStartRelToRaw = int64(events[0].Start)
	} else {
		absEventStart = int64(math.Round(events[0].Start * channel.SamplingRate))
		if absEventStart < startTime {
			// floating point errors can put the apparent read start
			// before the raw array
			readStartRelToRaw = 0
		} else {
			readStartRelToRaw = absEventStart - startTime
		}
	}

	startsRelToRead := make([]int64, 0, len(events)+1)
	switch params.format {
	case callerFormatLegacy:
		for _, ev := range events {
			startsRelToRead = append(startsRelToRead,
				int64(math.Round(ev.Start*channel.SamplingRate))-absEventStart)
		}
		lastEv := events[len(events)-1]
		startsRelToRead = append(startsRelToRead,
			int64(math.Round((lastEv.Start+lastEv.Length)*channel.SamplingRate))-absEventStart)
	case callerFormatTransitional:
		pos := int64(0)
		startsRelToRead = append(startsRelToRead, 0)
		for _, ev := range events {
			pos += int64(math.Round(ev.Length * channel.SamplingRate))
			startsRelToRead = append(startsRelToRead, pos)
		}
	case callerFormatModern:
		for _, ev := range events {
			startsRelToRead = append(startsRelToRead, int64(ev.Start)-readStartRelToRaw)
		}
		lastEv := events[len(events)-1]
		startsRelToRead = append(startsRelToRead,
			int64(lastEv.Start)+int64(lastEv.Length)-readStartRelToRaw)
	}

	basecalls := make([]byte, len(events))
	moves := make([]int, len(events))
	for i, ev := range events {
		if len(ev.ModelState) <= params.kmerDomPos {
			return nil, newReadError(errStore,
				"Model state k-mer too short for basecaller version.")
		}
		basecalls[i] = ev.ModelState[params.kmerDomPos]
		moves[i] = ev.Move
	}

	if rna {
		// RNA is sequenced 3' to 5', so mirror boundaries onto the
		// forward processing orientation
		rawSignal, err := store.RawSignal(readFn)
		if err != nil {
			return nil, newReadError(errStore, err.Error())
		}
		rawLen := int64(len(rawSignal))

		reverseInt64(startsRelToRead)
		for i, s := range startsRelToRead {
			startsRelToRead[i] = -(s + readStartRelToRaw - rawLen)
		}
		readStartRelToRaw = startsRelToRead[0]
		// floating point time values can extend past the raw signal
		if readStartRelToRaw < 0 {
			for i := range startsRelToRead {
				startsRelToRead[i] -= readStartRelToRaw
			}
			readStartRelToRaw = 0
		} else {
			for i := range startsRelToRead {
				startsRelToRead[i] -= readStartRelToRaw
			}
		}
		reverseBytes(basecalls)
	}

	if len(startsRelToRead) <= 1 || len(basecalls) <= 1 {
		return nil, newReadError(errStore,
			"One or no segments or signal present in read.")
	}
	for i := 1; i < len(startsRelToRead); i++ {
		if startsRelToRead[i]-startsRelToRead[i-1] < 1 {
			return nil, newReadError(errStore,
				"Zero length event present in input data.")
		}
	}

	startsRelToRead, basecalls, readStartRelToRaw, err = fixStayStates(
		moves, startsRelToRead, basecalls, readStartRelToRaw, rna)
	if err != nil {
		return nil, err
	}

	return &readData{
		readStartRelToRaw: readStartRelToRaw,
		startsRelToRead:   startsRelToRead,
		basecalls:         basecalls,
		channel:           channel,
		readID:            readFn,
		fixReadStart:      params.fixReadStart,
	}, nil
}

// fixStayStates strips basecaller stay states, which do not correspond
// to distinct signal segments: the leading and trailing runs of stays
// are trimmed outright, internal stays are collapsed into the
// preceding base's segment, and start offsets are rebased onto the
// read's first retained sample.
func fixStayStates(
	moves []int, startsRelToRead []int64, basecalls []byte,
	readStartRelToRaw int64, rna bool) ([]int64, []byte, int64, error) {

	moveStates := append([]int{}, moves...)
	if rna {
		reverseInts(moveStates)
	}

	n := len(moveStates)
	startClip := 0
	for startClip < n && moveStates[startClip] == 0 {
		startClip++
	}
	if startClip >= n {
		return nil, nil, 0, newReadError(errSegmentation,
			"Read is composed entirely of stay model states and cannot be processed")
	}
	endClip := 0
	for moveStates[n-1-endClip] == 0 {
		endClip++
	}

	// retain one boundary per move event plus the final boundary
	newStarts := make([]int64, 0, n-startClip-endClip+1)
	newBasecalls := make([]byte, 0, n-startClip-endClip)
	for i := startClip; i < n-endClip; i++ {
		if moveStates[i] > 0 {
			newStarts = append(newStarts, startsRelToRead[i])
			newBasecalls = append(newBasecalls, basecalls[i])
		}
	}
	newStarts = append(newStarts, startsRelToRead[n-endClip])

	if startClip > 0 {
		startClipObs := newStarts[0]
		for i := range newStarts {
			newStarts[i] -= startClipObs
		}
		readStartRelToRaw += startClipObs
	}

	return newStarts, newBasecalls, readStartRelToRaw, nil
}

func reverseInt64(s []int64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func reverseInts(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func reverseBytes(s []byte) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
