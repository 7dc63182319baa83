package tombo

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// mapper kinds
const (
	mapperMinimap2 = "minimap2"
	mapperBWAMem   = "bwa_mem"
	mapperGraphmap = "graphmap"
)

// mapperData identifies the external mapper executable and, for
// minimap2, an optional prebuilt index to map against
type mapperData struct {
	exe   string
	kind  string
	index string
}

// aligner produces per-read alignments for a batch of reads. The
// pipeline depends on this contract rather than the mapper process so
// resegmentation can be exercised without an external executable.
type aligner interface {
	alignBatch(batchReads map[string]*readData) ([]failedRead, map[string][]subgroupAlign)
}

// genomeAligner is a small utility object for one external mapper
// invocation per batch, in the spirit of a one-shot exec wrapper: it
// owns the temp input/output files and knows each mapper's options.
type genomeAligner struct {
	// path to the reference genome FASTA
	genomeFn string

	// the external mapper to invoke
	mapper mapperData

	// in-memory genome, used to expand SAM records
	genomeIndex *fastaIndex

	// threads handed to the mapper
	threads int

	// mapper output format: "sam" or "m5"
	outputFormat string
}

func newGenomeAligner(genomeFn string, mapper mapperData, genomeIndex *fastaIndex, threads int) *genomeAligner {
	return &genomeAligner{
		genomeFn:     genomeFn,
		mapper:       mapper,
		genomeIndex:  genomeIndex,
		threads:      threads,
		outputFormat: "sam",
	}
}

// alignBatch writes the batch's basecalls to a temp FASTA, invokes the
// mapper once and parses its output back into per-read alignments. A
// failed invocation fails every read in the batch individually.
func (a *genomeAligner) alignBatch(batchReads map[string]*readData) (
	[]failedRead, map[string][]subgroupAlign) {

	lines, err := a.runMapper(batchReads)
	if err != nil {
		// whole mapping call failed so all reads failed
		failed := make([]failedRead, 0, len(batchReads))
		for readKey := range batchReads {
			failed = append(failed, failedRead{
				"Problem running/parsing genome mapper. Ensure you have a " +
					"compatible version installed.", readKey})
		}
		return failed, nil
	}

	var parseFailed []failedRead
	var batchAligns map[string]rawAlignment
	switch a.outputFormat {
	case "sam":
		parseFailed, batchAligns = parseSAMOutput(lines, batchReads, a.genomeIndex)
	case "m5":
		parseFailed, batchAligns = parseM5Output(lines, batchReads)
	default:
		for readKey := range batchReads {
			parseFailed = append(parseFailed, failedRead{
				"Mapper output type not supported.", readKey})
		}
		return parseFailed, nil
	}

	clipFailed, byFile := fixAllClippedBases(batchAligns, batchReads)
	return append(parseFailed, clipFailed...), byFile
}

// runMapper invokes the external mapper over a temp FASTA of the
// batch's basecalls and returns its output records
func (a *genomeAligner) runMapper(batchReads map[string]*readData) ([]string, error) {
	readFp, err := os.CreateTemp("", "tombo_reads_*.fasta")
	if err != nil {
		return nil, err
	}
	defer os.Remove(readFp.Name())
	defer readFp.Close()

	var fasta strings.Builder
	for readKey, rd := range batchReads {
		// spaces aren't allowed in read names so replace with vertical
		// bars; they are restored during output parsing
		fasta.WriteString(">" + escapeReadName(readKey) + "\n")
		fasta.Write(rd.basecalls)
		fasta.WriteString("\n")
	}
	if _, err := readFp.WriteString(fasta.String()); err != nil {
		return nil, err
	}
	if err := readFp.Close(); err != nil {
		return nil, err
	}

	outFp, err := os.CreateTemp("", "tombo_align_*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(outFp.Name())
	defer outFp.Close()

	var mapperCmd *exec.Cmd
	stdoutToFile := false
	switch a.mapper.kind {
	case mapperGraphmap:
		mapperCmd = exec.Command(
			a.mapper.exe, "align",
			"-r", a.genomeFn,
			"-d", readFp.Name(),
			"-o", outFp.Name(),
			"-L", a.outputFormat,
			"-t", strconv.Itoa(a.threads),
		)
	case mapperBWAMem:
		mapperCmd = exec.Command(
			a.mapper.exe, "mem",
			"-x", "ont2d",
			"-v", "1",
			"-t", strconv.Itoa(a.threads),
			a.genomeFn, readFp.Name(),
		)
		stdoutToFile = true
	case mapperMinimap2:
		mapperGenome := a.genomeFn
		if a.mapper.index != "" {
			mapperGenome = a.mapper.index
		}
		mapperCmd = exec.Command(
			a.mapper.exe,
			"-ax", "map-ont",
			"-t", strconv.Itoa(a.threads),
			mapperGenome, readFp.Name(),
		)
		stdoutToFile = true
	default:
		return nil, fmt.Errorf("mapper %q not supported", a.mapper.kind)
	}

	if stdoutToFile {
		mapperCmd.Stdout = outFp
	}
	if err := mapperCmd.Run(); err != nil {
		return nil, fmt.Errorf("failed executing %s: %w", a.mapper.kind, err)
	}

	out, err := os.ReadFile(outFp.Name())
	if err != nil {
		return nil, err
	}
	return strings.Split(string(out), "\n"), nil
}
