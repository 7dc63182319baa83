package tombo

import (
	"regexp"
	"strconv"
	"strings"
)

var cigarPat = regexp.MustCompile(`(\d+)([MIDNSHP=X])`)

// genomeLocation is a reference coordinate. Internal processing always
// operates in forward-strand orientation; reverse-strand reads are
// reverse complemented at parse time.
type genomeLocation struct {
	Chrom  string `json:"chrom"`
	Strand string `json:"strand"`
	Start  int64  `json:"start"`
}

// alignInfo summarizes one read's alignment for the persisted result
type alignInfo struct {
	ID           string `json:"id"`
	Subgroup     string `json:"subgroup"`
	ClippedStart int    `json:"clipped_bases_start"`
	ClippedEnd   int    `json:"clipped_bases_end"`
	NumIns       int    `json:"num_insertions"`
	NumDel       int    `json:"num_deletions"`
	NumMatch     int    `json:"num_matches"`
	NumMismatch  int    `json:"num_mismatches"`
}

// alignData is one read's parsed, clipped alignment plus the basecall
// data it will be resquiggled against
type alignData struct {
	alignVals         []alignPair
	genomeLoc         genomeLocation
	startsRelToRead   []int64
	readStartRelToRaw int64
	info              alignInfo
	fixReadStart      bool
}

// rawAlignment is a parsed mapper record before clip fixing
type rawAlignment struct {
	alignVals         []alignPair
	genomeLoc         genomeLocation
	startClippedBases int
	endClippedBases   int
}

// m5Fields and samFields index the whitespace-delimited columns of the
// two supported mapper output formats
const (
	m5QName = iota
	m5QLength
	m5QStart
	m5QEnd
	m5QStrand
	m5TName
	m5TLength
	m5TStart
	m5TEnd
	m5TStrand
	m5Score
	m5NumMatch
	m5NumMismatch
	m5NumIns
	m5NumDel
	m5MapQV
	m5QAlignedSeq
	m5MatchPattern
	m5TAlignedSeq
	m5NumFields
)

const (
	samQName = iota
	samFlag
	samRName
	samPos
	samMapq
	samCigar
	samRNext
	samPNext
	samTLen
	samSeq
	samQual
	samNumFields
)

// parseM5Output keeps the best scoring M5 record per read and parses
// each into a clipped gapped alignment. Reads with no record or an
// unparseable record become failures, never aborting the batch.
func parseM5Output(lines []string, batchReads map[string]*readData) (
	[]failedRead, map[string]rawAlignment) {

	best := make(map[string][]string, len(batchReads))
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != m5NumFields {
			continue
		}
		// undo read name space escaping applied before mapper submission
		qName := strings.ReplaceAll(fields[m5QName], fnSpaceFiller, " ")
		if _, wanted := batchReads[qName]; !wanted {
			continue
		}
		prev, ok := best[qName]
		if !ok {
			best[qName] = fields
			continue
		}
		prevScore, _ := strconv.Atoi(prev[m5Score])
		score, _ := strconv.Atoi(fields[m5Score])
		if score > prevScore {
			best[qName] = fields
		}
	}

	var failed []failedRead
	aligned := make(map[string]rawAlignment)
	for readKey := range batchReads {
		fields, ok := best[readKey]
		if !ok {
			failed = append(failed, failedRead{"Alignment not produced.", readKey})
			continue
		}
		ra, err := parseM5Record(fields)
		if err != nil {
			failed = append(failed, failedRead{err.Error(), readKey})
			continue
		}
		aligned[readKey] = ra
	}

	return failed, aligned
}

func parseM5Record(fields []string) (rawAlignment, error) {
	if fields[m5TStrand] != "+" {
		return rawAlignment{}, newReadError(errParse,
			"Mapping indicates negative strand reference mapping.")
	}

	qSeq, tSeq := fields[m5QAlignedSeq], fields[m5TAlignedSeq]
	if fields[m5QStrand] != "+" {
		qSeq, tSeq = revComp(qSeq), revComp(tSeq)
	}
	if len(qSeq) != len(tSeq) {
		return rawAlignment{}, newReadError(errParse,
			"Aligned sequence rows have mismatched lengths.")
	}
	alignVals := make([]alignPair, len(qSeq))
	for i := range qSeq {
		alignVals[i] = alignPair{read: qSeq[i], genome: tSeq[i]}
	}

	tStart, err := strconv.ParseInt(fields[m5TStart], 10, 64)
	if err != nil {
		return rawAlignment{}, newReadError(errParse, "Invalid alignment start position.")
	}

	return clipAlignment(alignVals, tStart, fields[m5QStrand], fields[m5TName])
}

// clipAlignment clips a gapped alignment back to its first and last
// matching (non-gap) columns, shifting the reported genome start for
// whichever end was clipped on the aligned strand.
func clipAlignment(alignVals []alignPair, start int64, strand, chrom string) (rawAlignment, error) {
	startClippedReadBases := 0
	startClippedGenomeBases := 0
	startClippedAlignBases := 0
	for startClippedAlignBases < len(alignVals) {
		av := alignVals[startClippedAlignBases]
		if av.read != '-' && av.genome != '-' {
			break
		}
		if av.read != '-' {
			startClippedReadBases++
		}
		if av.genome != '-' {
			startClippedGenomeBases++
		}
		startClippedAlignBases++
	}

	endClippedReadBases := 0
	endClippedGenomeBases := 0
	endClippedAlignBases := 0
	for endClippedAlignBases < len(alignVals)-startClippedAlignBases {
		av := alignVals[len(alignVals)-1-endClippedAlignBases]
		if av.read != '-' && av.genome != '-' {
			break
		}
		if av.read != '-' {
			endClippedReadBases++
		}
		if av.genome != '-' {
			endClippedGenomeBases++
		}
		endClippedAlignBases++
	}

	alignVals = alignVals[startClippedAlignBases : len(alignVals)-endClippedAlignBases]
	if len(alignVals) == 0 {
		return rawAlignment{}, newReadError(errParse,
			"Alignment contains no matching bases.")
	}

	genomeLoc := genomeLocation{Chrom: chrom, Strand: strand, Start: start}
	if strand == "+" && startClippedGenomeBases > 0 {
		genomeLoc.Start = start + int64(startClippedGenomeBases)
	} else if strand == "-" && endClippedGenomeBases > 0 {
		genomeLoc.Start = start + int64(endClippedGenomeBases)
	}

	return rawAlignment{
		alignVals:         alignVals,
		genomeLoc:         genomeLoc,
		startClippedBases: startClippedReadBases,
		endClippedBases:   endClippedReadBases,
	}, nil
}

// parseSAMOutput keeps the best mapq record per read and expands each
// into a clipped gapped alignment, fetching reference subsequences
// from the genome index.
func parseSAMOutput(lines []string, batchReads map[string]*readData, genomeIndex *fastaIndex) (
	[]failedRead, map[string]rawAlignment) {

	best := make(map[string][]string, len(batchReads))
	for _, line := range lines {
		if strings.HasPrefix(line, "@") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < samNumFields {
			continue
		}
		if fields[samRName] == "*" {
			continue
		}
		// undo read name space escaping applied before mapper submission
		qName := strings.ReplaceAll(fields[samQName], fnSpaceFiller, " ")
		if _, wanted := batchReads[qName]; !wanted {
			continue
		}
		prev, ok := best[qName]
		if !ok {
			best[qName] = fields
			continue
		}
		prevMapq, _ := strconv.Atoi(prev[samMapq])
		mapq, _ := strconv.Atoi(fields[samMapq])
		if mapq > prevMapq {
			best[qName] = fields
		}
	}

	var failed []failedRead
	aligned := make(map[string]rawAlignment)
	for readKey := range batchReads {
		fields, ok := best[readKey]
		if !ok {
			failed = append(failed, failedRead{
				"Alignment not produced (if all reads failed check for index files).",
				readKey})
			continue
		}
		ra, err := parseSAMRecord(fields, genomeIndex)
		if err != nil {
			failed = append(failed, failedRead{err.Error(), readKey})
			continue
		}
		aligned[readKey] = ra
	}

	return failed, aligned
}

type cigarOp struct {
	length int
	op     byte
}

func parseSAMRecord(fields []string, genomeIndex *fastaIndex) (rawAlignment, error) {
	flag, err := strconv.Atoi(fields[samFlag])
	if err != nil {
		return rawAlignment{}, newReadError(errParse, "Invalid SAM flag produced.")
	}
	strand := "+"
	if flag&0x10 != 0 {
		strand = "-"
	}

	cigar, err := parseCigar(fields[samCigar], strand)
	if err != nil {
		return rawAlignment{}, err
	}

	qSeq, startClippedBases, endClippedBases, cigar := clipCigarEnds(
		fields[samSeq], cigar, strand)

	pos, err := strconv.ParseInt(fields[samPos], 10, 64)
	if err != nil {
		return rawAlignment{}, newReadError(errParse, "Invalid SAM position produced.")
	}

	tSeq, qSeq, startClippedBases, endClippedBases, cigar, err := trimToMatches(
		fields[samRName], pos, qSeq, startClippedBases, endClippedBases,
		cigar, strand, genomeIndex)
	if err != nil {
		return rawAlignment{}, err
	}

	alignVals := expandCigar(tSeq, qSeq, cigar)

	return rawAlignment{
		alignVals:         alignVals,
		genomeLoc:         genomeLocation{Chrom: fields[samRName], Strand: strand, Start: pos - 1},
		startClippedBases: startClippedBases,
		endClippedBases:   endClippedBases,
	}, nil
}

// parseCigar expands the cigar string into op codes, reversed for
// reverse strand alignments so they run in read orientation
func parseCigar(cigarStr, strand string) ([]cigarOp, error) {
	matches := cigarPat.FindAllStringSubmatch(cigarStr, -1)
	if len(matches) < 1 {
		return nil, newReadError(errParse, "Invalid cigar string produced.")
	}
	cigar := make([]cigarOp, len(matches))
	for i, m := range matches {
		length, _ := strconv.Atoi(m[1])
		cigar[i] = cigarOp{length: length, op: m[2][0]}
	}
	if strand == "-" {
		for i, j := 0, len(cigar)-1; i < j; i, j = i+1, j-1 {
			cigar[i], cigar[j] = cigar[j], cigar[i]
		}
	}
	return cigar, nil
}

// clipCigarEnds records hard/soft clipped leading and trailing
// operations, removing them from the query sequence and the cigar
func clipCigarEnds(seq string, cigar []cigarOp, strand string) (
	string, int, int, []cigarOp) {

	qSeq := seq
	if strand == "-" {
		qSeq = revComp(seq)
	}
	startClippedBases, endClippedBases := 0, 0

	if len(cigar) > 0 && cigar[0].op == 'H' {
		startClippedBases += cigar[0].length
		cigar = cigar[1:]
	}
	if len(cigar) > 0 && cigar[len(cigar)-1].op == 'H' {
		endClippedBases += cigar[len(cigar)-1].length
		cigar = cigar[:len(cigar)-1]
	}
	if len(cigar) > 0 && cigar[0].op == 'S' {
		startClippedBases += cigar[0].length
		qSeq = qSeq[cigar[0].length:]
		cigar = cigar[1:]
	}
	if len(cigar) > 0 && cigar[len(cigar)-1].op == 'S' {
		endClippedBases += cigar[len(cigar)-1].length
		qSeq = qSeq[:len(qSeq)-cigar[len(cigar)-1].length]
		cigar = cigar[:len(cigar)-1]
	}

	return qSeq, startClippedBases, endClippedBases, cigar
}

// trimToMatches fetches the reference subsequence under the alignment
// and trims both ends of the cigar back to matched bases
func trimToMatches(
	rName string, pos int64, qSeq string, startClippedBases, endClippedBases int,
	cigar []cigarOp, strand string, genomeIndex *fastaIndex) (
	string, string, int, int, []cigarOp, error) {

	tLen := 0
	for _, c := range cigar {
		if strings.ContainsRune("MDN=X", rune(c.op)) {
			tLen += c.length
		}
	}
	tSeq, err := genomeIndex.seq(rName, int(pos)-1, int(pos)-1+tLen)
	if err != nil {
		return "", "", 0, 0, nil, newReadError(errParse, err.Error())
	}
	if strand == "-" {
		tSeq = revComp(tSeq)
	}

	for len(cigar) > 0 && !strings.ContainsRune("M=X", rune(cigar[0].op)) {
		if cigar[0].op == 'N' || cigar[0].op == 'D' {
			tSeq = tSeq[cigar[0].length:]
		} else {
			qSeq = qSeq[cigar[0].length:]
			startClippedBases += cigar[0].length
		}
		cigar = cigar[1:]
	}
	for len(cigar) > 0 && !strings.ContainsRune("M=X", rune(cigar[len(cigar)-1].op)) {
		c := cigar[len(cigar)-1]
		if c.op == 'N' || c.op == 'D' {
			tSeq = tSeq[:len(tSeq)-c.length]
		} else {
			qSeq = qSeq[:len(qSeq)-c.length]
			endClippedBases += c.length
		}
		cigar = cigar[:len(cigar)-1]
	}
	if len(cigar) == 0 {
		return "", "", 0, 0, nil, newReadError(errParse,
			"Alignment contains no matching bases.")
	}

	qLen := 0
	for _, c := range cigar {
		if strings.ContainsRune("MI=X", rune(c.op)) {
			qLen += c.length
		}
	}
	if len(qSeq) != qLen {
		return "", "", 0, 0, nil, newReadError(errParse,
			"Read sequence from mapper and corresponding cigar string do not agree.")
	}

	return tSeq, qSeq, startClippedBases, endClippedBases, cigar, nil
}

// expandCigar converts cigar operations into explicit per-base
// alignment columns
func expandCigar(tSeq, qSeq string, cigar []cigarOp) []alignPair {
	var alignVals []alignPair
	tPos, qPos := 0, 0
	for _, c := range cigar {
		switch {
		case strings.ContainsRune("M=X", rune(c.op)):
			for i := 0; i < c.length; i++ {
				alignVals = append(alignVals, alignPair{qSeq[qPos+i], tSeq[tPos+i]})
			}
			tPos += c.length
			qPos += c.length
		case c.op == 'I' || c.op == 'P':
			for i := 0; i < c.length; i++ {
				alignVals = append(alignVals, alignPair{qSeq[qPos+i], '-'})
			}
			qPos += c.length
		default: // D, N
			for i := 0; i < c.length; i++ {
				alignVals = append(alignVals, alignPair{'-', tSeq[tPos+i]})
			}
			tPos += c.length
		}
	}
	return alignVals
}

// fixRawStartsForClippedBases drops mapper-clipped bases from the
// per-base boundary array, rebasing the boundaries and the read's raw
// start on the first retained base
func fixRawStartsForClippedBases(
	startClippedBases, endClippedBases int, startsRelToRead []int64,
	readStartRelToRaw int64) ([]int64, int64, error) {

	if startClippedBases+endClippedBases >= len(startsRelToRead) {
		return nil, 0, newReadError(errParse,
			"Mapper clipped more bases than the read contains.")
	}
	if startClippedBases > 0 {
		startClippedObs := startsRelToRead[startClippedBases]
		clipped := make([]int64, len(startsRelToRead)-startClippedBases)
		for i := range clipped {
			clipped[i] = startsRelToRead[startClippedBases+i] - startClippedObs
		}
		startsRelToRead = clipped
		readStartRelToRaw += startClippedObs
	}
	if endClippedBases > 0 {
		startsRelToRead = startsRelToRead[:len(startsRelToRead)-endClippedBases]
	}
	return startsRelToRead, readStartRelToRaw, nil
}

// fixAllClippedBases joins each read's parsed alignment with its
// basecall data, reconciling boundaries with clipped bases and
// tallying the alignment summary
func fixAllClippedBases(
	batchAligns map[string]rawAlignment, batchReads map[string]*readData) (
	[]failedRead, map[string][]subgroupAlign) {

	var failed []failedRead
	byFile := make(map[string][]subgroupAlign)
	for readKey, ra := range batchAligns {
		rd := batchReads[readKey]

		startsRelToRead, readStartRelToRaw, err := fixRawStartsForClippedBases(
			ra.startClippedBases, ra.endClippedBases,
			rd.startsRelToRead, rd.readStartRelToRaw)
		if err != nil {
			failed = append(failed, failedRead{err.Error(), readKey})
			continue
		}

		subgroup, readFn := splitReadKey(readKey)
		info := alignInfo{
			ID:           rd.readID,
			Subgroup:     subgroup,
			ClippedStart: ra.startClippedBases,
			ClippedEnd:   ra.endClippedBases,
		}
		for _, av := range ra.alignVals {
			switch {
			case av.read == '-':
				info.NumDel++
			case av.genome == '-':
				info.NumIns++
			case av.read == av.genome:
				info.NumMatch++
			default:
				info.NumMismatch++
			}
		}

		byFile[readFn] = append(byFile[readFn], subgroupAlign{
			subgroup: subgroup,
			data: alignData{
				alignVals:         ra.alignVals,
				genomeLoc:         ra.genomeLoc,
				startsRelToRead:   startsRelToRead,
				readStartRelToRaw: readStartRelToRaw,
				info:              info,
				fixReadStart:      rd.fixReadStart,
			},
		})
	}

	return failed, byFile
}

// subgroupAlign is one basecall subgroup's alignment within a read file
type subgroupAlign struct {
	subgroup string
	data     alignData
}

// read keys joining a basecall subgroup with the read file name
const (
	fastaNameJoiner = ":::"
	fnSpaceFiller   = "|||"
)

func readKeyFor(subgroup, readFn string) string {
	return subgroup + fastaNameJoiner + readFn
}

func splitReadKey(key string) (subgroup, readFn string) {
	parts := strings.SplitN(key, fastaNameJoiner, 2)
	if len(parts) != 2 {
		return "", key
	}
	return parts[0], parts[1]
}

func escapeReadName(name string) string {
	return strings.ReplaceAll(name, " ", fnSpaceFiller)
}

func alignedGenomeSeq(alignVals []alignPair) string {
	var sb strings.Builder
	for _, av := range alignVals {
		if av.genome != '-' {
			sb.WriteByte(av.genome)
		}
	}
	return sb.String()
}
