package tombo

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// poreModel is a table of expected per-k-mer current level statistics
// used for model fitted ("pA") normalization.
type poreModel struct {
	means   map[string]float64
	invVars map[string]float64
	kmerLen int
}

// loadPoreModel parses a tab-separated model file with a
// "kmer level_mean level_stdv" header line.
func loadPoreModel(path string) (*poreModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pore model %s: %w", path, err)
	}
	defer f.Close()

	pm := &poreModel{
		means:   make(map[string]float64),
		invVars: make(map[string]float64),
	}

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if lineNum == 1 && fields[0] == "kmer" {
			continue // header
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("pore model %s line %d: expected 3 fields, found %d",
				path, lineNum, len(fields))
		}
		mean, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("pore model %s line %d: bad level_mean: %w", path, lineNum, err)
		}
		stdv, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("pore model %s line %d: bad level_stdv: %w", path, lineNum, err)
		}
		if stdv <= 0 {
			return nil, fmt.Errorf("pore model %s line %d: non-positive level_stdv", path, lineNum)
		}
		kmer := strings.ToUpper(fields[0])
		pm.means[kmer] = mean
		pm.invVars[kmer] = 1 / (stdv * stdv)
		pm.kmerLen = len(kmer)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pore model %s: %w", path, err)
	}
	if len(pm.means) == 0 {
		return nil, fmt.Errorf("pore model %s contains no k-mer levels", path)
	}

	return pm, nil
}

// statsFor maps one read's event k-mers onto model means and inverse
// variances for the normalization fit
func (pm *poreModel) statsFor(kmers []string) (means, invVars []float64, err error) {
	means = make([]float64, len(kmers))
	invVars = make([]float64, len(kmers))
	for i, kmer := range kmers {
		if len(kmer) != pm.kmerLen {
			return nil, nil, fmt.Errorf(
				"event k-mer %s does not match the model's %d-mer table", kmer, pm.kmerLen)
		}
		mean, ok := pm.means[kmer]
		if !ok {
			return nil, nil, fmt.Errorf("k-mer %s missing from pore model", kmer)
		}
		means[i] = mean
		invVars[i] = pm.invVars[kmer]
	}
	return means, invVars, nil
}
