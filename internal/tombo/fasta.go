package tombo

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// fastaIndex is an in-memory genome sequence provider. SAM records only
// carry the query sequence, so the reference subsequence under each
// alignment is fetched from here.
type fastaIndex struct {
	seqs map[string]string
}

// newFastaIndex reads a multi-FASTA file into memory
func newFastaIndex(path string) (*fastaIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open genome FASTA %s: %w", path, err)
	}
	defer f.Close()

	seqs := make(map[string]string)
	var name string
	var seq strings.Builder

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			if name != "" {
				seqs[name] = seq.String()
			}
			// record names are only the first whitespace delimited field
			name = strings.Fields(line[1:])[0]
			seq.Reset()
			continue
		}
		seq.WriteString(strings.ToUpper(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read genome FASTA %s: %w", path, err)
	}
	if name != "" {
		seqs[name] = seq.String()
	}

	return &fastaIndex{seqs: seqs}, nil
}

// seq returns the reference subsequence [start, end) of one chromosome
func (fi *fastaIndex) seq(chrom string, start, end int) (string, error) {
	s, ok := fi.seqs[chrom]
	if !ok {
		return "", fmt.Errorf("chromosome %s not in genome FASTA", chrom)
	}
	if start < 0 || end > len(s) || start > end {
		return "", fmt.Errorf("invalid range [%d, %d) for chromosome %s (length %d)",
			start, end, chrom, len(s))
	}
	return s[start:end], nil
}

var compBases = map[byte]byte{
	'A': 'T', 'T': 'A', 'G': 'C', 'C': 'G',
	'a': 't', 't': 'a', 'g': 'c', 'c': 'g',
	'-': '-',
}

// revComp reverse complements a sequence. Unknown bases map to N.
func revComp(seq string) string {
	rc := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		b, ok := compBases[seq[len(seq)-1-i]]
		if !ok {
			b = 'N'
		}
		rc[i] = b
	}
	return string(rc)
}
